// Package core provides the in-memory database: the registry mapping index
// names to HNSW index instances, plus whole-database snapshot support.
//
// The registry carries its own guard, independent of the per-index guards.
// Lookups and mutations of the name mapping hold it only for the map
// operation; Snapshot and IndexInfos hold its shared mode while they walk
// every index, so creating or deleting an index waits for them.
package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/sanonone/hnswdb/pkg/core/hnsw"
	"github.com/sanonone/hnswdb/pkg/core/types"
	"github.com/tidwall/btree"
)

// snapshotMagic marks a whole-database snapshot stream.
var snapshotMagic = [8]byte{'H', 'N', 'S', 'W', 'D', 'B', 0, 1}

// DB holds every index of the running server, keyed by name.
type DB struct {
	mu      sync.RWMutex
	indexes btree.Map[string, *hnsw.Index]
}

// NewDB returns an empty database.
func NewDB() *DB {
	return &DB{}
}

// CreateIndex creates a new index under cfg.Name.
func (db *DB) CreateIndex(cfg hnsw.Config) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.indexes.Get(cfg.Name); ok {
		return fmt.Errorf("index '%s' %w", cfg.Name, hnsw.ErrDuplicate)
	}
	idx, err := hnsw.New(cfg)
	if err != nil {
		return err
	}
	db.indexes.Set(cfg.Name, idx)
	return nil
}

// GetIndex resolves an index by name.
func (db *DB) GetIndex(name string) (*hnsw.Index, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.indexes.Get(name)
}

// DeleteIndex removes an index and everything it owns.
func (db *DB) DeleteIndex(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.indexes.Get(name); !ok {
		return fmt.Errorf("index '%s' %w", name, hnsw.ErrNotFound)
	}
	db.indexes.Delete(name)
	return nil
}

// IndexNames returns the registered index names in sorted order.
func (db *DB) IndexNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, db.indexes.Len())
	db.indexes.Scan(func(name string, _ *hnsw.Index) bool {
		names = append(names, name)
		return true
	})
	return names
}

// IndexInfos returns the attributes of every index, sorted by name.
func (db *DB) IndexInfos() []types.IndexInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()

	infos := make([]types.IndexInfo, 0, db.indexes.Len())
	db.indexes.Scan(func(_ string, idx *hnsw.Index) bool {
		infos = append(infos, idx.Info())
		return true
	})
	return infos
}

// Snapshot serializes every index to w. Indices are written in name order,
// each as its own deterministic core stream, so the whole-database snapshot
// is deterministic too.
func (db *DB) Snapshot(w io.Writer) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(db.indexes.Len())); err != nil {
		return err
	}

	var scanErr error
	db.indexes.Scan(func(name string, idx *hnsw.Index) bool {
		var buf bytes.Buffer
		if scanErr = idx.Snapshot(&buf); scanErr != nil {
			return false
		}
		if scanErr = binary.Write(w, binary.LittleEndian, uint32(len(name))); scanErr != nil {
			return false
		}
		if _, scanErr = io.WriteString(w, name); scanErr != nil {
			return false
		}
		if scanErr = binary.Write(w, binary.LittleEndian, uint64(buf.Len())); scanErr != nil {
			return false
		}
		_, scanErr = w.Write(buf.Bytes())
		return scanErr == nil
	})
	return scanErr
}

// LoadFromSnapshot replaces the database contents with the snapshot read
// from r.
func (db *DB) LoadFromSnapshot(r io.Reader) error {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return fmt.Errorf("reading snapshot header: %w", err)
	}
	if magic != snapshotMagic {
		return fmt.Errorf("not an hnswdb snapshot")
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}

	loaded := btree.Map[string, *hnsw.Index]{}
	for i := uint32(0); i < count; i++ {
		var nameLen uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return err
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return err
		}
		var size uint64
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return err
		}
		idx, err := hnsw.Load(io.LimitReader(r, int64(size)))
		if err != nil {
			return fmt.Errorf("loading index '%s': %w", nameBuf, err)
		}
		loaded.Set(string(nameBuf), idx)
	}

	db.mu.Lock()
	db.indexes = loaded
	db.mu.Unlock()
	return nil
}
