// This file defines the candidate heaps used by the search kernel: a
// min-heap for the expansion frontier and a bounded max-heap for the best
// results found so far. Both are container/heap implementations over value
// slices to keep allocations off the hot path.
package hnsw

import "github.com/sanonone/hnswdb/pkg/core/types"

// minHeap orders candidates nearest-first. The search loop always expands
// the most promising frontier node next.
type minHeap []types.Candidate

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].Dist < h[j].Dist }
func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any) { *h = append(*h, x.(types.Candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// maxHeap orders candidates farthest-first, so the root is the worst of the
// current best set and is cheap to evict when a closer neighbor shows up.
type maxHeap []types.Candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].Dist > h[j].Dist }
func (h maxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any) { *h = append(*h, x.(types.Candidate)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// peek returns the farthest element of the best set. Only valid when the
// heap is non-empty.
func (h maxHeap) peek() types.Candidate { return h[0] }
