// This file defines the Node struct and the bounded neighbor list that
// forms the graph's per-layer adjacency.
package hnsw

import (
	"sort"

	"github.com/sanonone/hnswdb/pkg/core/distance"
)

// neighborEntry is a single directed edge: the target's internal handle and
// the squared Euclidean distance between the two endpoints' vectors. Both
// directions of an edge carry the same distance.
type neighborEntry struct {
	ID   uint32
	Dist float64
}

// neighborList is a node's adjacency at one layer: entries sorted ascending
// by distance, unique targets, bounded by the layer cap. The zero value is
// an empty list.
type neighborList []neighborEntry

// insert adds an entry in sorted position. If the list would exceed maxLen
// the farthest entries are trimmed off the tail and their handles returned
// so the caller can repair symmetry. Inserting an already-present target is
// a no-op.
func (l *neighborList) insert(id uint32, dist float64, maxLen int) (evicted []uint32) {
	if l.contains(id) {
		return nil
	}
	s := *l
	i := sort.Search(len(s), func(i int) bool { return s[i].Dist > dist })
	s = append(s, neighborEntry{})
	copy(s[i+1:], s[i:])
	s[i] = neighborEntry{ID: id, Dist: dist}

	for len(s) > maxLen {
		evicted = append(evicted, s[len(s)-1].ID)
		s = s[:len(s)-1]
	}
	*l = s
	return evicted
}

// remove deletes the entry for id, reporting whether it was present.
func (l *neighborList) remove(id uint32) bool {
	s := *l
	for i := range s {
		if s[i].ID == id {
			*l = append(s[:i], s[i+1:]...)
			return true
		}
	}
	return false
}

func (l neighborList) contains(id uint32) bool {
	for i := range l {
		if l[i].ID == id {
			return true
		}
	}
	return false
}

// Node is a single element of the graph. A node participates in layers
// 0..Layer and owns one neighbor list per layer. Vectors are immutable once
// the node is created; exactly one of VectorF32/VectorF16 is set, matching
// the index precision.
type Node struct {
	Name       string
	InternalID uint32
	Layer      int

	VectorF32 []float32
	VectorF16 []uint16

	// neighbors[l] is the adjacency at layer l, len(neighbors) == Layer+1.
	neighbors []neighborList
}

func newNode(name string, id uint32, layer int, vector []float32, precision distance.PrecisionType) *Node {
	n := &Node{
		Name:       name,
		InternalID: id,
		Layer:      layer,
		neighbors:  make([]neighborList, layer+1),
	}
	switch precision {
	case distance.Float16:
		n.VectorF16 = distance.EncodeF16(vector)
	default:
		n.VectorF32 = vector
	}
	return n
}

// vector returns the node's vector as float32, decoding when stored as
// float16.
func (n *Node) vector() []float32 {
	if n.VectorF16 != nil {
		return distance.DecodeF16(n.VectorF16)
	}
	return n.VectorF32
}
