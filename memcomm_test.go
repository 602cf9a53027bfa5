package brcluster

import (
	"errors"
	"testing"
	"time"
)

func TestMemNetworkSendThenRecv(t *testing.T) {
	net := NewMemNetwork(2)
	a, b := net.Endpoint(0), net.Endpoint(1)

	send := a.Isend(1, 7, []int32{1, 2, 3})
	if !send.Test() {
		t.Fatal("send should complete immediately")
	}
	recv := b.Irecv(0, 7)
	data, err := recv.Wait()
	if err != nil {
		t.Fatalf("recv failed: %v", err)
	}
	if len(data) != 3 || data[0] != 1 || data[2] != 3 {
		t.Errorf("received %v, want [1 2 3]", data)
	}
}

func TestMemNetworkRecvThenSend(t *testing.T) {
	net := NewMemNetwork(2)
	a, b := net.Endpoint(0), net.Endpoint(1)

	recv := b.Irecv(0, 3)
	if recv.Test() {
		t.Fatal("recv should be pending before the send")
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		a.Isend(1, 3, []int32{9})
	}()
	data, err := recv.Wait()
	if err != nil {
		t.Fatalf("recv failed: %v", err)
	}
	if len(data) != 1 || data[0] != 9 {
		t.Errorf("received %v, want [9]", data)
	}
}

func TestMemNetworkFIFOPerTag(t *testing.T) {
	net := NewMemNetwork(2)
	a, b := net.Endpoint(0), net.Endpoint(1)

	a.Isend(1, 5, []int32{1})
	a.Isend(1, 5, []int32{2})
	a.Isend(1, 6, []int32{3})

	if d, _ := b.Irecv(0, 6).Wait(); d[0] != 3 {
		t.Errorf("tag 6 delivered %v, want [3]", d)
	}
	if d, _ := b.Irecv(0, 5).Wait(); d[0] != 1 {
		t.Errorf("first tag-5 message %v, want [1]", d)
	}
	if d, _ := b.Irecv(0, 5).Wait(); d[0] != 2 {
		t.Errorf("second tag-5 message %v, want [2]", d)
	}
}

func TestMemNetworkCopiesBuffer(t *testing.T) {
	net := NewMemNetwork(2)
	buf := []int32{1, 2}
	net.Endpoint(0).Isend(1, 0, buf)
	buf[0] = 99
	data, _ := net.Endpoint(1).Irecv(0, 0).Wait()
	if data[0] != 1 {
		t.Errorf("delivered %v, want the value at send time", data)
	}
}

func TestMemNetworkBadRank(t *testing.T) {
	net := NewMemNetwork(2)
	r := net.Endpoint(0).Isend(5, 0, []int32{1})
	if !r.Test() {
		t.Fatal("bad-rank send should complete immediately")
	}
	if !errors.Is(r.Err(), ErrCommunicator) {
		t.Errorf("err = %v, want ErrCommunicator", r.Err())
	}
	r = net.Endpoint(0).Irecv(-1, 0)
	if !errors.Is(r.Err(), ErrCommunicator) {
		t.Errorf("err = %v, want ErrCommunicator", r.Err())
	}
}

func TestRequestCompletion(t *testing.T) {
	r := NewRequest()
	select {
	case <-r.Done():
		t.Fatal("request done before completion")
	default:
	}
	r.Complete([]int32{4}, nil)
	select {
	case <-r.Done():
	default:
		t.Fatal("request not done after completion")
	}
	if !r.Test() || r.Data()[0] != 4 || r.Err() != nil {
		t.Error("completed request lost its payload")
	}
}
