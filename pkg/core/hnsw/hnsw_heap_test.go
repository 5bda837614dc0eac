package hnsw

import (
	"container/heap"
	"testing"

	"github.com/sanonone/kektorrag/pkg/core/types"
	"github.com/stretchr/testify/assert"
)

func TestFrontierHeapOrder(t *testing.T) {
	h := &frontierHeap{}
	for i, sim := range []float64{0.1, 0.9, 0.5, 0.9} {
		heap.Push(h, types.Candidate{Id: uint32(i), Similarity: sim})
	}
	var got []uint32
	for h.Len() > 0 {
		got = append(got, heap.Pop(h).(types.Candidate).Id)
	}
	// Ties resolve to the lower id.
	assert.Equal(t, []uint32{1, 3, 2, 0}, got)
}

func TestResultHeapKeep(t *testing.T) {
	h := &resultHeap{}
	for i, sim := range []float64{0.2, 0.8, 0.5, 0.1, 0.7} {
		h.keep(types.Candidate{Id: uint32(i), Similarity: sim}, 3)
	}
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, uint32(2), h.worst().Id)

	sorted := h.sorted()
	assert.Equal(t, []uint32{1, 4, 2}, []uint32{sorted[0].Id, sorted[1].Id, sorted[2].Id})
	assert.Zero(t, h.Len())
}

func TestVisitSet(t *testing.T) {
	s := newVisitSet(4)
	assert.False(t, s.visit(3))
	assert.True(t, s.visit(3))
	assert.False(t, s.visit(1000))
	assert.True(t, s.visit(1000))

	s.reset()
	assert.False(t, s.visit(3))
	assert.False(t, s.visit(1000))
}
