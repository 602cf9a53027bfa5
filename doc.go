// Package brcluster implements distributed Berger-Rigoutsos clustering for
// structured adaptive mesh refinement.
//
// Given a tagged cell field spread across a set of ranks, the algorithm
// builds a binary dendrogram of candidate boxes: each box is shrunk to its
// tag bounds, accepted when its tag density meets the efficiency tolerance,
// or cut at a zero swath or Laplacian inflection of its tag histogram and
// recursed. Every dendrogram node runs as a relaunchable state machine over
// non-blocking tree collectives, so many nodes at different depths make
// progress concurrently and each child node involves only the ranks whose
// patches overlap its box (plus rank 0 under SingleOwner).
//
// Basic usage on a single process with simulated ranks:
//
//	cfg := brcluster.DefaultConfig()
//	cfg.EfficiencyTol = 0.8
//	results, err := brcluster.RunLocal(4, patchesByRank, bound, cfg)
//	// results[r].Boxes holds the boxes owned by rank r
//	// results[r].TagToNew maps rank r's tag patches to nearby new boxes
//
// Against a real communicator, each rank calls Cluster directly:
//
//	result, err := brcluster.Cluster(endpoint, localPatches, bound, cfg)
//
// # Progress modes
//
// By default (AdvanceMode: "advance_some"), a rank blocks until at least one
// collective completes and then drains everything ready. Set
// Config.AdvanceMode to trade latency against fairness:
//
//	cfg.AdvanceMode = brcluster.Synchronous // one node at a time, in order
//	cfg.AdvanceMode = brcluster.AdvanceSome // drain completed collectives
//	cfg.AdvanceMode = brcluster.AdvanceAny  // relaunch on any progress
package brcluster
