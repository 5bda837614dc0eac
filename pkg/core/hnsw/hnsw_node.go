// This file defines the Node struct, the runtime-only projection of a stored
// record inside the graph, and the helpers that keep its adjacency lists sorted.
package hnsw

import (
	"slices"

	"github.com/sanonone/kektorrag/pkg/core/types"
)

// Node represents a single vector within the HNSW graph together with its
// connections at every level it participates in.
type Node struct {
	// Id is the user-facing record identifier.
	Id string
	// InternalID is assigned in insertion order and is used for traversal and
	// for breaking similarity ties.
	InternalID uint32
	// Vector is a private copy of the record embedding. Immutable once published.
	Vector []float32
	// Metadata is a private copy of the record metadata.
	Metadata types.Metadata
	// Level is drawn once at insertion and never changes.
	Level int

	// Connections[l] holds the neighbours at level l, sorted ascending.
	// A neighbour at level l always has Level >= l, and lists this node back.
	Connections [][]uint32
}

func newNode(rec types.Record, internalID uint32, level int) *Node {
	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)
	return &Node{
		Id:          rec.ID,
		InternalID:  internalID,
		Vector:      vec,
		Metadata:    rec.Metadata.Clone(),
		Level:       level,
		Connections: make([][]uint32, level+1),
	}
}

// hasLink reports whether id is a neighbour at level.
func (n *Node) hasLink(level int, id uint32) bool {
	if level >= len(n.Connections) {
		return false
	}
	_, found := slices.BinarySearch(n.Connections[level], id)
	return found
}

// addLink inserts id at level, keeping the list sorted. Returns false if already present.
func (n *Node) addLink(level int, id uint32) bool {
	conns := n.Connections[level]
	pos, found := slices.BinarySearch(conns, id)
	if found {
		return false
	}
	n.Connections[level] = slices.Insert(conns, pos, id)
	return true
}

// removeLink drops id from level. Returns false if it was not present.
func (n *Node) removeLink(level int, id uint32) bool {
	if level >= len(n.Connections) {
		return false
	}
	conns := n.Connections[level]
	pos, found := slices.BinarySearch(conns, id)
	if !found {
		return false
	}
	n.Connections[level] = slices.Delete(conns, pos, pos+1)
	return true
}
