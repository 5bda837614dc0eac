package hnsw

// This file defines the two heaps used by the best-first search and the
// visited set. Both heaps are built on container/heap and order candidates by
// similarity with ties broken by insertion order (types.Candidate.Better).

import (
	"container/heap"

	"github.com/sanonone/kektorrag/pkg/core/types"
)

// frontierHeap keeps the most promising candidate (highest similarity) on top.
// It holds nodes that are queued but not yet expanded.
type frontierHeap []types.Candidate

func (h frontierHeap) Len() int           { return len(h) }
func (h frontierHeap) Less(i, j int) bool { return h[i].Better(h[j]) }
func (h frontierHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *frontierHeap) Push(x any)        { *h = append(*h, x.(types.Candidate)) }
func (h *frontierHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// resultHeap keeps the worst of the retained results on top, so it can be
// evicted when a better node is found.
type resultHeap []types.Candidate

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[j].Better(h[i]) }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(types.Candidate)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// worst returns the lowest ranked retained result. The heap must not be empty.
func (h resultHeap) worst() types.Candidate { return h[0] }

// keep pushes c and evicts the worst entry while the heap exceeds limit.
func (h *resultHeap) keep(c types.Candidate, limit int) {
	heap.Push(h, c)
	for h.Len() > limit {
		heap.Pop(h)
	}
}

// sorted drains the heap into a best-first slice.
func (h *resultHeap) sorted() []types.Candidate {
	out := make([]types.Candidate, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(types.Candidate)
	}
	return out
}

// visitSet is a growable bitset keyed by internal id.
type visitSet struct {
	buckets []uint64
}

func newVisitSet(capacity uint32) *visitSet {
	return &visitSet{buckets: make([]uint64, (capacity>>6)+1)}
}

// ensure grows the set so that ids up to maxID fit without reallocating.
func (s *visitSet) ensure(maxID uint32) {
	needed := int(maxID>>6) + 1
	if len(s.buckets) < needed {
		grown := make([]uint64, needed)
		copy(grown, s.buckets)
		s.buckets = grown
	}
}

// visit marks id and reports whether it was already marked.
func (s *visitSet) visit(id uint32) bool {
	s.ensure(id)
	bucket, bit := id>>6, uint64(1)<<(id&63)
	seen := s.buckets[bucket]&bit != 0
	s.buckets[bucket] |= bit
	return seen
}

func (s *visitSet) reset() {
	clear(s.buckets)
}
