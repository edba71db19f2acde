// Package types holds the small data structures shared between the HNSW
// core, the engine, and the server layers.
package types

import "github.com/sanonone/hnswdb/pkg/core/distance"

// Candidate is the search kernel's working unit: an internal node handle
// together with its squared Euclidean distance to the query.
type Candidate struct {
	ID   uint32
	Dist float64
}

// SearchResult pairs an external node name with its distance to the query.
// Dist is the squared Euclidean distance, the same value kept in neighbor
// lists (smaller = closer).
type SearchResult struct {
	Name string
	Dist float64
}

// NodeInfo carries a node's externally visible attributes out of the hnsw
// package.
type NodeInfo struct {
	Name   string
	Vector []float32
	Layer  int
	// Neighbors holds, for each layer 0..Layer, the neighbor names ordered
	// ascending by distance.
	Neighbors [][]string
}

// IndexInfo models the public-facing attributes of an index, as reported
// by HNSW.GET and the APIs.
type IndexInfo struct {
	Name           string                 `json:"name"`
	Dim            int                    `json:"dim"`
	M              int                    `json:"m"`
	EfConstruction int                    `json:"ef_construction"`
	MaxLayer       int                    `json:"max_layer"`
	EntryPoint     string                 `json:"entry_point"` // empty when the index is empty
	NodeCount      int                    `json:"node_count"`
	Precision      distance.PrecisionType `json:"precision"`
}
