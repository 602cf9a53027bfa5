package brcluster

import (
	"fmt"
	"sync"
)

// MemNetwork is an in-process Communicator substrate: size ranks exchanging
// int32 messages through shared mailboxes. It is the execution vehicle for
// tests and for single-binary embedders that drive each rank on its own
// goroutine (see RunLocal).
//
// Messages between a fixed (source, destination, tag) triple are delivered
// in send order. Sends buffer without bound and complete immediately.
type MemNetwork struct {
	size    int
	mu      sync.Mutex
	queues  map[memKey][][]int32
	waiters map[memKey][]*Request
}

type memKey struct {
	src, dst, tag int
}

// NewMemNetwork creates a network of size ranks.
func NewMemNetwork(size int) *MemNetwork {
	return &MemNetwork{
		size:    size,
		queues:  make(map[memKey][][]int32),
		waiters: make(map[memKey][]*Request),
	}
}

// Size returns the number of ranks in the network.
func (n *MemNetwork) Size() int {
	return n.size
}

// Endpoint returns the Communicator for one rank.
func (n *MemNetwork) Endpoint(rank int) Communicator {
	return &memEndpoint{net: n, rank: rank}
}

type memEndpoint struct {
	net  *MemNetwork
	rank int
}

func (e *memEndpoint) Rank() int { return e.rank }
func (e *memEndpoint) Size() int { return e.net.size }

func (e *memEndpoint) Isend(dest, tag int, buf []int32) *Request {
	if dest < 0 || dest >= e.net.size {
		return CompletedRequest(nil, fmt.Errorf("%w: send to rank %d of %d", ErrCommunicator, dest, e.net.size))
	}
	cp := make([]int32, len(buf))
	copy(cp, buf)
	key := memKey{src: e.rank, dst: dest, tag: tag}

	e.net.mu.Lock()
	var waiter *Request
	if ws := e.net.waiters[key]; len(ws) > 0 {
		waiter = ws[0]
		e.net.waiters[key] = ws[1:]
	} else {
		e.net.queues[key] = append(e.net.queues[key], cp)
	}
	e.net.mu.Unlock()

	if waiter != nil {
		waiter.Complete(cp, nil)
	}
	return CompletedRequest(nil, nil)
}

func (e *memEndpoint) Irecv(source, tag int) *Request {
	if source < 0 || source >= e.net.size {
		return CompletedRequest(nil, fmt.Errorf("%w: receive from rank %d of %d", ErrCommunicator, source, e.net.size))
	}
	key := memKey{src: source, dst: e.rank, tag: tag}

	e.net.mu.Lock()
	if q := e.net.queues[key]; len(q) > 0 {
		msg := q[0]
		e.net.queues[key] = q[1:]
		e.net.mu.Unlock()
		return CompletedRequest(msg, nil)
	}
	r := NewRequest()
	e.net.waiters[key] = append(e.net.waiters[key], r)
	e.net.mu.Unlock()
	return r
}
