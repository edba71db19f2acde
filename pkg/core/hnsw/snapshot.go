// This file implements the index's persistence codec: a deterministic,
// CRC-guarded binary stream that round-trips the whole graph (config,
// vectors, layers, neighbor lists). Determinism comes from iterating nodes
// in name order, so serializing the same state twice yields identical
// bytes.
package hnsw

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/sanonone/hnswdb/pkg/core/distance"
)

// snapshotMagic identifies the stream format; the trailing byte is the
// version.
var snapshotMagic = [8]byte{'H', 'N', 'S', 'W', 'I', 'D', 'X', 1}

const (
	precF32 byte = 0
	precF16 byte = 1
)

// crcWriter tees writes into a running CRC32 so the checksum can be
// appended after the payload.
type crcWriter struct {
	w   io.Writer
	sum uint32
}

func (c *crcWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.sum = crc32.Update(c.sum, crc32.IEEETable, p[:n])
	return n, err
}

// crcReader mirrors crcWriter on the decode side.
type crcReader struct {
	r   io.Reader
	sum uint32
}

func (c *crcReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.sum = crc32.Update(c.sum, crc32.IEEETable, p[:n])
	return n, err
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Snapshot writes the index to w. The stream is deterministic for a given
// index state and self-validating via a trailing CRC32.
func (h *Index) Snapshot(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cw := &crcWriter{w: w}
	le := binary.LittleEndian

	if _, err := cw.Write(snapshotMagic[:]); err != nil {
		return err
	}
	if err := writeString(cw, h.name); err != nil {
		return err
	}
	prec := precF32
	if h.precision == distance.Float16 {
		prec = precF16
	}
	header := []any{
		uint32(h.dim), uint32(h.m), uint32(h.efConstruction), prec,
		int32(h.maxLayer), uint32(h.count), h.nextID, h.entrypoint,
	}
	for _, v := range header {
		if err := binary.Write(cw, le, v); err != nil {
			return err
		}
	}

	var scanErr error
	h.byName.Scan(func(name string, id uint32) bool {
		n := h.nodes[id]
		if scanErr = writeString(cw, name); scanErr != nil {
			return false
		}
		if scanErr = binary.Write(cw, le, id); scanErr != nil {
			return false
		}
		if scanErr = binary.Write(cw, le, uint32(n.Layer)); scanErr != nil {
			return false
		}
		switch h.precision {
		case distance.Float16:
			scanErr = binary.Write(cw, le, n.VectorF16)
		default:
			scanErr = binary.Write(cw, le, n.VectorF32)
		}
		if scanErr != nil {
			return false
		}
		for lc := 0; lc <= n.Layer; lc++ {
			list := n.neighbors[lc]
			if scanErr = binary.Write(cw, le, uint32(len(list))); scanErr != nil {
				return false
			}
			for _, e := range list {
				if scanErr = binary.Write(cw, le, e.ID); scanErr != nil {
					return false
				}
				if scanErr = binary.Write(cw, le, math.Float64bits(e.Dist)); scanErr != nil {
					return false
				}
			}
		}
		return true
	})
	if scanErr != nil {
		return scanErr
	}

	// The checksum itself is written raw, outside the CRC.
	return binary.Write(w, le, cw.sum)
}

// Load reads a snapshot produced by Snapshot and reconstructs the index.
// The level-assignment source is reseeded; the random state is not part of
// the persisted graph.
func Load(r io.Reader) (*Index, error) {
	cr := &crcReader{r: r}
	le := binary.LittleEndian

	var magic [8]byte
	if _, err := io.ReadFull(cr, magic[:]); err != nil {
		return nil, fmt.Errorf("reading snapshot header: %w", err)
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("not an hnsw index snapshot")
	}
	name, err := readString(cr)
	if err != nil {
		return nil, err
	}

	var (
		dim, m, efc            uint32
		prec                   byte
		maxLayer               int32
		count, nextID, entryID uint32
	)
	for _, v := range []any{&dim, &m, &efc, &prec, &maxLayer, &count, &nextID, &entryID} {
		if err := binary.Read(cr, le, v); err != nil {
			return nil, err
		}
	}

	precision := distance.Float32
	if prec == precF16 {
		precision = distance.Float16
	}
	h, err := New(Config{
		Name:           name,
		Dim:            int(dim),
		M:              int(m),
		EfConstruction: int(efc),
		Precision:      precision,
	})
	if err != nil {
		return nil, err
	}

	h.nodes = make([]*Node, nextID)
	h.nextID = nextID
	h.maxLayer = int(maxLayer)
	h.entrypoint = entryID
	h.count = int(count)

	for i := uint32(0); i < count; i++ {
		nodeName, err := readString(cr)
		if err != nil {
			return nil, err
		}
		var id, layer uint32
		if err := binary.Read(cr, le, &id); err != nil {
			return nil, err
		}
		if err := binary.Read(cr, le, &layer); err != nil {
			return nil, err
		}
		if id >= nextID {
			return nil, fmt.Errorf("snapshot corrupt: node handle %d out of range", id)
		}

		n := &Node{
			Name:       nodeName,
			InternalID: id,
			Layer:      int(layer),
			neighbors:  make([]neighborList, layer+1),
		}
		switch precision {
		case distance.Float16:
			n.VectorF16 = make([]uint16, dim)
			err = binary.Read(cr, le, n.VectorF16)
		default:
			n.VectorF32 = make([]float32, dim)
			err = binary.Read(cr, le, n.VectorF32)
		}
		if err != nil {
			return nil, err
		}

		for lc := uint32(0); lc <= layer; lc++ {
			var listLen uint32
			if err := binary.Read(cr, le, &listLen); err != nil {
				return nil, err
			}
			list := make(neighborList, listLen)
			for j := uint32(0); j < listLen; j++ {
				var target uint32
				var bits uint64
				if err := binary.Read(cr, le, &target); err != nil {
					return nil, err
				}
				if err := binary.Read(cr, le, &bits); err != nil {
					return nil, err
				}
				list[j] = neighborEntry{ID: target, Dist: math.Float64frombits(bits)}
			}
			n.neighbors[lc] = list
		}

		h.nodes[id] = n
		h.byName.Set(nodeName, id)
	}

	payloadSum := cr.sum
	var storedSum uint32
	if err := binary.Read(r, le, &storedSum); err != nil {
		return nil, fmt.Errorf("reading snapshot checksum: %w", err)
	}
	if payloadSum != storedSum {
		return nil, fmt.Errorf("snapshot corrupt: crc32 mismatch")
	}

	// Referential sanity: every neighbor entry must resolve to a live node
	// and the entry point must sit on the top layer.
	for _, n := range h.nodes {
		if n == nil {
			continue
		}
		for lc := 0; lc <= n.Layer; lc++ {
			for _, e := range n.neighbors[lc] {
				if e.ID >= nextID || h.nodes[e.ID] == nil {
					return nil, fmt.Errorf("snapshot corrupt: dangling neighbor %d on node '%s'", e.ID, n.Name)
				}
			}
		}
	}
	if h.count > 0 {
		ep := h.nodes[h.entrypoint]
		if ep == nil || ep.Layer != h.maxLayer {
			return nil, fmt.Errorf("snapshot corrupt: invalid entry point")
		}
	}

	return h, nil
}
