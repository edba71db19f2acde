// This file implements the Engine's operations: each mutation updates the
// in-memory core and appends the corresponding command to the AOF, so the
// log replays to the same state. Reads go straight to the core.
package engine

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/sanonone/hnswdb/internal/protocol"
	"github.com/sanonone/hnswdb/pkg/core/distance"
	"github.com/sanonone/hnswdb/pkg/core/hnsw"
	"github.com/sanonone/hnswdb/pkg/core/types"
	"github.com/sanonone/hnswdb/pkg/metrics"
	"github.com/sanonone/hnswdb/pkg/persistence"
)

// IndexCreate creates a new vector index and persists the operation.
func (e *Engine) IndexCreate(cfg hnsw.Config) error {
	if err := e.DB.CreateIndex(cfg); err != nil {
		return err
	}

	// Record the fully resolved configuration so replay does not depend on
	// the defaults of a future version.
	idx, _ := e.DB.GetIndex(cfg.Name)
	resolved := idx.Info()
	cmd := persistence.FormatCommand("HNSW.NEW", cfg.Name,
		"DIM", strconv.Itoa(resolved.Dim),
		"M", strconv.Itoa(resolved.M),
		"EFCON", strconv.Itoa(resolved.EfConstruction),
		"PRECISION", string(resolved.Precision),
	)
	if err := e.appendAOF(cmd); err != nil {
		return err
	}

	metrics.TotalVectors.WithLabelValues(cfg.Name).Set(0)
	return nil
}

// IndexDrop removes an index and persists the operation.
func (e *Engine) IndexDrop(name string) error {
	if err := e.DB.DeleteIndex(name); err != nil {
		return err
	}
	if err := e.appendAOF(persistence.FormatCommand("HNSW.DEL", name)); err != nil {
		return err
	}
	metrics.TotalVectors.DeleteLabelValues(name)
	return nil
}

// IndexInfo returns the attributes of one index.
func (e *Engine) IndexInfo(name string) (types.IndexInfo, error) {
	idx, ok := e.DB.GetIndex(name)
	if !ok {
		return types.IndexInfo{}, fmt.Errorf("index '%s' %w", name, hnsw.ErrNotFound)
	}
	return idx.Info(), nil
}

// IndexExists reports whether an index is registered.
func (e *Engine) IndexExists(name string) bool {
	_, ok := e.DB.GetIndex(name)
	return ok
}

// ListIndexes returns the index names in sorted order.
func (e *Engine) ListIndexes() []string {
	return e.DB.IndexNames()
}

// IndexInfos returns the attributes of every index, sorted by name.
func (e *Engine) IndexInfos() []types.IndexInfo {
	return e.DB.IndexInfos()
}

// NodeAdd inserts a named vector into an index and persists the operation.
func (e *Engine) NodeAdd(indexName, nodeName string, vector []float32) error {
	idx, ok := e.DB.GetIndex(indexName)
	if !ok {
		return fmt.Errorf("index '%s' %w", indexName, hnsw.ErrNotFound)
	}
	if err := idx.Add(nodeName, vector); err != nil {
		return err
	}

	cmd := persistence.FormatCommand("HNSW.NODE.ADD", indexName, nodeName,
		"DATA", strconv.Itoa(len(vector)), formatVector(vector))
	if err := e.appendAOF(cmd); err != nil {
		return fmt.Errorf("node added in memory but not persisted: %w", err)
	}

	metrics.TotalVectors.WithLabelValues(indexName).Set(float64(idx.Len()))
	return nil
}

// NodeGet returns a node's attributes.
func (e *Engine) NodeGet(indexName, nodeName string) (types.NodeInfo, error) {
	idx, ok := e.DB.GetIndex(indexName)
	if !ok {
		return types.NodeInfo{}, fmt.Errorf("index '%s' %w", indexName, hnsw.ErrNotFound)
	}
	return idx.Node(nodeName)
}

// NodeDelete removes a node from an index and persists the operation.
func (e *Engine) NodeDelete(indexName, nodeName string) error {
	idx, ok := e.DB.GetIndex(indexName)
	if !ok {
		return fmt.Errorf("index '%s' %w", indexName, hnsw.ErrNotFound)
	}
	if err := idx.Remove(nodeName); err != nil {
		return err
	}

	cmd := persistence.FormatCommand("HNSW.NODE.DEL", indexName, nodeName)
	if err := e.appendAOF(cmd); err != nil {
		return fmt.Errorf("node removed in memory but not persisted: %w", err)
	}

	metrics.TotalVectors.WithLabelValues(indexName).Set(float64(idx.Len()))
	return nil
}

// Search returns the k nearest nodes to query in an index, ascending by
// squared Euclidean distance.
func (e *Engine) Search(indexName string, query []float32, k int) ([]types.SearchResult, error) {
	idx, ok := e.DB.GetIndex(indexName)
	if !ok {
		return nil, fmt.Errorf("index '%s' %w", indexName, hnsw.ErrNotFound)
	}
	return idx.Search(query, k)
}

// appendAOF writes one command record and flushes it to the OS. The flush
// per operation keeps the durability window at the fsync interval.
func (e *Engine) appendAOF(cmd string) error {
	if e.AOF == nil {
		// Replay path: the log is the source, nothing to append.
		return nil
	}
	if err := e.AOF.Write(cmd); err != nil {
		return fmt.Errorf("persistence error (AOF write failed): %w", err)
	}
	if err := e.AOF.Flush(); err != nil {
		return fmt.Errorf("persistence flush failed: %w", err)
	}
	atomic.AddInt64(&e.dirtyCounter, 1)
	return nil
}

// applyCommand replays one AOF record against the in-memory core. It runs
// before the AOF writer exists, so nothing is re-appended.
func (e *Engine) applyCommand(raw string) error {
	cmd, err := protocol.Parse(raw)
	if err != nil {
		return err
	}

	switch cmd.Name {
	case "HNSW.NEW":
		args, err := protocol.ParseNewIndex(cmd.Args)
		if err != nil {
			return err
		}
		return e.DB.CreateIndex(hnsw.Config{
			Name:           args.Name,
			Dim:            args.Dim,
			M:              args.M,
			EfConstruction: args.EfConstruction,
			Precision:      distance.PrecisionType(args.Precision),
		})
	case "HNSW.DEL":
		if len(cmd.Args) != 1 {
			return fmt.Errorf("HNSW.DEL wants 1 argument, got %d", len(cmd.Args))
		}
		return e.DB.DeleteIndex(cmd.Args[0])
	case "HNSW.NODE.ADD":
		args, err := protocol.ParseNodeAdd(cmd.Args)
		if err != nil {
			return err
		}
		idx, ok := e.DB.GetIndex(args.Index)
		if !ok {
			return fmt.Errorf("index '%s' %w", args.Index, hnsw.ErrNotFound)
		}
		return idx.Add(args.Node, args.Vector)
	case "HNSW.NODE.DEL":
		if len(cmd.Args) != 2 {
			return fmt.Errorf("HNSW.NODE.DEL wants 2 arguments, got %d", len(cmd.Args))
		}
		idx, ok := e.DB.GetIndex(cmd.Args[0])
		if !ok {
			return fmt.Errorf("index '%s' %w", cmd.Args[0], hnsw.ErrNotFound)
		}
		return idx.Remove(cmd.Args[1])
	default:
		return fmt.Errorf("unknown AOF command '%s'", cmd.Name)
	}
}

// formatVector renders components so float32 values round-trip exactly.
func formatVector(vector []float32) string {
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return strings.Join(parts, " ")
}
