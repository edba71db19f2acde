// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest neighbor search under squared Euclidean distance.
//
// The package contains the core Index struct and its operations: insertion
// with heuristic neighbor selection, true deletion with adjacency repair,
// greedy layered search, and a deterministic binary snapshot. Nodes are
// addressed externally by name and internally by dense uint32 handles;
// neighbor lists hold handles, never pointers, so the cyclic graph reduces
// to lookups in the central store.
//
// All distances handled by this package (compared during search, stored
// in neighbor lists, returned to callers) are squared Euclidean.
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/sanonone/hnswdb/pkg/core/distance"
	"github.com/sanonone/hnswdb/pkg/core/types"
	"github.com/tidwall/btree"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultM              = 5
	DefaultEfConstruction = 200
)

// Config carries the parameters of a new index.
type Config struct {
	Name string
	// Dim is the fixed dimensionality of all vectors in the index.
	Dim int
	// M is the target out-degree. Layer caps derive from it: Mmax = M for
	// layers > 0 and Mmax0 = 2*M for layer 0.
	M int
	// EfConstruction is the dynamic candidate list size used during
	// insertion and as the floor for search expansion.
	EfConstruction int
	// Precision selects the vector storage representation.
	Precision distance.PrecisionType
	// Seed seeds the level-assignment source. Zero picks a random seed;
	// tests set it to reproduce insertion layerings.
	Seed int64
}

// Index is a single named HNSW graph. All exported methods are safe for
// concurrent use: mutations take the exclusive guard, reads the shared one.
type Index struct {
	mu sync.RWMutex

	name           string
	dim            int
	m              int
	mMax           int
	mMax0          int
	efConstruction int
	levelMult      float64

	precision distance.PrecisionType
	distF32   distance.FuncF32
	distF16   distance.FuncF16

	// maxLayer is the highest occupied layer, -1 while the index is empty.
	// entrypoint references a node on maxLayer whenever count > 0.
	maxLayer   int
	entrypoint uint32

	// byName maps external names to internal handles in key order, which
	// gives snapshots and listings a deterministic iteration order.
	byName btree.Map[string, uint32]
	// nodes is indexed by internal handle; a nil slot is a deleted node.
	// Handles are never reused, so len(nodes) == nextID at all times.
	nodes  []*Node
	nextID uint32
	count  int

	// rng drives level assignment. It is owned by the index and only
	// touched under the exclusive guard.
	rng *rand.Rand

	visitedPool sync.Pool
}

// New creates an empty index from cfg, applying defaults for zero fields.
func New(cfg Config) (*Index, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("%w: dim must be positive, got %d", ErrBadArgument, cfg.Dim)
	}
	m := cfg.M
	if m == 0 {
		m = DefaultM
	}
	if m < 2 {
		return nil, fmt.Errorf("%w: m must be at least 2, got %d", ErrBadArgument, m)
	}
	efc := cfg.EfConstruction
	if efc == 0 {
		efc = DefaultEfConstruction
	}
	if efc < 1 {
		return nil, fmt.Errorf("%w: ef_construction must be positive, got %d", ErrBadArgument, efc)
	}
	precision := cfg.Precision
	if precision == "" {
		precision = distance.Float32
	}
	if !distance.ValidPrecision(precision) {
		return nil, fmt.Errorf("%w: unknown precision '%s'", ErrBadArgument, precision)
	}

	distF32, err := distance.GetFloat32Func(distance.Euclidean)
	if err != nil {
		return nil, err
	}
	distF16, err := distance.GetFloat16Func(distance.Euclidean)
	if err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	h := &Index{
		name:           cfg.Name,
		dim:            cfg.Dim,
		m:              m,
		mMax:           m,
		mMax0:          m * 2,
		efConstruction: efc,
		levelMult:      1.0 / math.Log(float64(m)),
		precision:      precision,
		distF32:        distF32,
		distF16:        distF16,
		maxLayer:       -1,
		rng:            rand.New(rand.NewSource(seed)),
	}
	h.visitedPool = sync.Pool{
		New: func() any { return newVisitedSet(1024) },
	}
	return h, nil
}

// queryVec is a query in the index's storage representation, so the hot
// loop compares like with like and pays any conversion once.
type queryVec struct {
	f32 []float32
	f16 []uint16
}

func (h *Index) makeQuery(v []float32) queryVec {
	if h.precision == distance.Float16 {
		return queryVec{f16: distance.EncodeF16(v)}
	}
	return queryVec{f32: v}
}

func (h *Index) queryOf(n *Node) queryVec {
	return queryVec{f32: n.VectorF32, f16: n.VectorF16}
}

func (h *Index) distToNode(q queryVec, n *Node) float64 {
	if q.f16 != nil {
		d, _ := h.distF16(q.f16, n.VectorF16)
		return d
	}
	d, _ := h.distF32(q.f32, n.VectorF32)
	return d
}

func (h *Index) distNodes(a, b *Node) float64 {
	if h.precision == distance.Float16 {
		d, _ := h.distF16(a.VectorF16, b.VectorF16)
		return d
	}
	d, _ := h.distF32(a.VectorF32, b.VectorF32)
	return d
}

// capFor returns the neighbor list bound for a layer.
func (h *Index) capFor(layer int) int {
	if layer == 0 {
		return h.mMax0
	}
	return h.mMax
}

// assignLevel draws a layer for a new node: floor(-ln(U) * mL) with U
// uniform in (0,1].
func (h *Index) assignLevel() int {
	u := 1 - h.rng.Float64()
	return int(-math.Log(u) * h.levelMult)
}

// Add inserts a named vector. It fails with ErrDuplicate or
// ErrDimensionMismatch before touching the graph; past validation the
// insertion cannot fail and all invariants hold on return.
func (h *Index) Add(name string, vector []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(vector) != h.dim {
		return fmt.Errorf("%w: vector has %d components, index dim is %d", ErrDimensionMismatch, len(vector), h.dim)
	}
	if _, exists := h.byName.Get(name); exists {
		return fmt.Errorf("node '%s' %w", name, ErrDuplicate)
	}

	h.insert(name, vector)
	return nil
}

func (h *Index) insert(name string, vector []float32) {
	level := h.assignLevel()
	id := h.nextID
	h.nextID++

	node := newNode(name, id, level, vector, h.precision)
	h.nodes = append(h.nodes, node)
	h.byName.Set(name, id)
	h.count++

	if h.count == 1 {
		h.entrypoint = id
		h.maxLayer = level
		return
	}

	q := h.queryOf(node)
	topLayer := h.maxLayer

	eps := []types.Candidate{{
		ID:   h.entrypoint,
		Dist: h.distToNode(q, h.nodes[h.entrypoint]),
	}}

	// Greedy descent through the layers the new node does not occupy.
	for lc := topLayer; lc > level; lc-- {
		w := h.searchLayer(q, eps, 1, lc)
		if len(w) > 0 {
			eps = w[:1]
		}
	}

	// Per-layer candidate gathering, selection, and symmetric linking.
	for lc := min(level, topLayer); lc >= 0; lc-- {
		w := h.searchLayer(q, eps, h.efConstruction, lc)
		chosen := h.selectNeighbors(node, w, h.m, lc, false, true)
		for _, c := range chosen {
			node.neighbors[lc].insert(c.ID, c.Dist, h.capFor(lc))
			h.linkBack(h.nodes[c.ID], node, c.Dist, lc)
		}
		// The result set seeds the next lower layer.
		eps = w
	}

	if level > topLayer {
		h.maxLayer = level
		h.entrypoint = id
	}
}

// linkBack installs the edge n -> other. The entry is pushed into the
// list first, letting it overflow its cap by one; if that happens the
// selection heuristic is rerun over the actual list and the adjacency
// replaced. Re-selecting after the push matters: every dropped entry is
// then a member of n's list, so replaceNeighbors removes its mirror on the
// far side, including other -> n when other itself is the one dropped.
func (h *Index) linkBack(n *Node, other *Node, d float64, lc int) {
	list := &n.neighbors[lc]
	if list.contains(other.InternalID) {
		return
	}
	list.insert(other.InternalID, d, h.capFor(lc)+1)
	if len(*list) <= h.capFor(lc) {
		return
	}

	cands := make([]types.Candidate, 0, len(*list))
	for _, e := range *list {
		cands = append(cands, types.Candidate{ID: e.ID, Dist: e.Dist})
	}
	chosen := h.selectNeighbors(n, cands, h.capFor(lc), lc, false, true)
	h.replaceNeighbors(n, chosen, lc)
}

// replaceNeighbors makes chosen the exact adjacency of n at layer lc,
// removing the mirror of every dropped edge and installing (cap-checked)
// mirrors for every added one.
func (h *Index) replaceNeighbors(n *Node, chosen []types.Candidate, lc int) {
	keep := make(map[uint32]bool, len(chosen))
	for _, c := range chosen {
		keep[c.ID] = true
	}

	old := make(map[uint32]bool, len(n.neighbors[lc]))
	for _, e := range n.neighbors[lc] {
		old[e.ID] = true
		if !keep[e.ID] {
			h.nodes[e.ID].neighbors[lc].remove(n.InternalID)
		}
	}

	nl := make(neighborList, 0, len(chosen))
	for _, c := range chosen {
		nl = append(nl, neighborEntry{ID: c.ID, Dist: c.Dist})
	}
	n.neighbors[lc] = nl

	for _, c := range chosen {
		if !old[c.ID] {
			h.linkBack(h.nodes[c.ID], n, c.Dist, lc)
		}
	}
}

// searchLayer is the bounded best-first search of the paper: expand the
// nearest frontier candidate until the closest unexpanded one is farther
// than the worst of the ef best results. Returns up to ef candidates
// ordered ascending by distance.
func (h *Index) searchLayer(q queryVec, eps []types.Candidate, ef, layer int) []types.Candidate {
	visited := h.visitedPool.Get().(*visitedSet)
	defer h.visitedPool.Put(visited)
	visited.reset(h.nextID)

	candidates := make(minHeap, 0, ef)
	results := make(maxHeap, 0, ef+1)

	for _, ep := range eps {
		if visited.has(ep.ID) {
			continue
		}
		visited.add(ep.ID)
		heap.Push(&candidates, ep)
		heap.Push(&results, ep)
		if results.Len() > ef {
			heap.Pop(&results)
		}
	}

	for candidates.Len() > 0 {
		c := heap.Pop(&candidates).(types.Candidate)
		if results.Len() >= ef && c.Dist > results.peek().Dist {
			break
		}

		cn := h.nodes[c.ID]
		if cn == nil || layer > cn.Layer {
			continue
		}
		for _, nb := range cn.neighbors[layer] {
			if visited.has(nb.ID) {
				continue
			}
			visited.add(nb.ID)

			nn := h.nodes[nb.ID]
			if nn == nil {
				continue
			}
			d := h.distToNode(q, nn)
			if results.Len() < ef || d < results.peek().Dist {
				heap.Push(&candidates, types.Candidate{ID: nb.ID, Dist: d})
				heap.Push(&results, types.Candidate{ID: nb.ID, Dist: d})
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	out := make([]types.Candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&results).(types.Candidate)
	}
	return out
}

// selectNeighbors implements the extended selection heuristic (Algorithm 4
// of the HNSW paper): a candidate is kept only if it is closer to the base
// than to every neighbor already kept, which favors diverse edges over
// redundant short ones. Discarded candidates refill the result when
// keepPruned is set. The candidates slice must be sorted ascending by
// distance to base; the selector reads graph state but never mutates it.
func (h *Index) selectNeighbors(base *Node, candidates []types.Candidate, m, lc int, extendCandidates, keepPruned bool) []types.Candidate {
	work := candidates
	if extendCandidates {
		seen := make(map[uint32]bool, len(candidates))
		for _, c := range candidates {
			seen[c.ID] = true
		}
		work = append([]types.Candidate(nil), candidates...)
		for _, c := range candidates {
			cn := h.nodes[c.ID]
			if cn == nil || lc > cn.Layer {
				continue
			}
			for _, nb := range cn.neighbors[lc] {
				if nb.ID == base.InternalID || seen[nb.ID] {
					continue
				}
				seen[nb.ID] = true
				nn := h.nodes[nb.ID]
				if nn == nil {
					continue
				}
				work = append(work, types.Candidate{ID: nb.ID, Dist: h.distNodes(base, nn)})
			}
		}
		sort.SliceStable(work, func(i, j int) bool { return work[i].Dist < work[j].Dist })
	}

	result := make([]types.Candidate, 0, m)
	var discarded []types.Candidate

	for _, e := range work {
		if len(result) >= m {
			break
		}
		if e.ID == base.InternalID {
			continue
		}
		good := true
		for _, r := range result {
			if h.distNodes(h.nodes[e.ID], h.nodes[r.ID]) <= e.Dist {
				good = false
				break
			}
		}
		if good {
			result = append(result, e)
		} else {
			discarded = append(discarded, e)
		}
	}

	if keepPruned {
		for _, e := range discarded {
			if len(result) >= m {
				break
			}
			result = append(result, e)
		}
		sort.SliceStable(result, func(i, j int) bool { return result[i].Dist < result[j].Dist })
	}

	return result
}

// Remove deletes a node from every layer, repairs its ex-neighbors'
// adjacency over the already-excised graph, and maintains the entry point.
// Fails only with ErrNotFound.
func (h *Index) Remove(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, ok := h.byName.Get(name)
	if !ok {
		return fmt.Errorf("node '%s' %w", name, ErrNotFound)
	}
	node := h.nodes[id]

	// Unlink every incoming mirror edge, collecting the ex-neighbors per
	// layer as repair candidates.
	exNeighbors := make([][]uint32, node.Layer+1)
	for lc := node.Layer; lc >= 0; lc-- {
		for _, e := range node.neighbors[lc] {
			h.nodes[e.ID].neighbors[lc].remove(id)
			exNeighbors[lc] = append(exNeighbors[lc], e.ID)
		}
		node.neighbors[lc] = nil
	}

	// Excise the node from the store before repairing so no search can
	// walk back into it.
	h.byName.Delete(name)
	h.nodes[id] = nil
	h.count--

	if h.count == 0 {
		h.maxLayer = -1
		h.entrypoint = 0
		return nil
	}

	// Repair ex-neighbors whose degree dropped below M, re-seeding the
	// search from their surviving peers.
	for lc := len(exNeighbors) - 1; lc >= 0; lc-- {
		for _, mid := range exNeighbors[lc] {
			mn := h.nodes[mid]
			if mn == nil || len(mn.neighbors[lc]) >= h.m {
				continue
			}

			q := h.queryOf(mn)
			var eps []types.Candidate
			for _, sid := range exNeighbors[lc] {
				if sid == mid {
					continue
				}
				sn := h.nodes[sid]
				if sn == nil {
					continue
				}
				eps = append(eps, types.Candidate{ID: sid, Dist: h.distNodes(mn, sn)})
			}
			if len(eps) == 0 {
				eps = []types.Candidate{{ID: mid, Dist: 0}}
			}

			w := h.searchLayer(q, eps, h.efConstruction, lc)
			filtered := make([]types.Candidate, 0, len(w))
			for _, c := range w {
				if c.ID != mid {
					filtered = append(filtered, c)
				}
			}
			chosen := h.selectNeighbors(mn, filtered, h.capFor(lc), lc, false, true)
			h.replaceNeighbors(mn, chosen, lc)
		}
	}

	if h.entrypoint == id {
		// Promote the surviving node with the highest layer; name order
		// breaks ties so the choice is deterministic.
		best := -1
		var bestID uint32
		h.byName.Scan(func(_ string, nid uint32) bool {
			if nd := h.nodes[nid]; nd != nil && nd.Layer > best {
				best = nd.Layer
				bestID = nid
			}
			return true
		})
		h.maxLayer = best
		h.entrypoint = bestID
	}
	return nil
}

// Search returns the k nearest nodes to query, ascending by squared
// Euclidean distance. An empty index yields an empty result, not an error.
func (h *Index) Search(query []float32, k int) ([]types.SearchResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(query) != h.dim {
		return nil, fmt.Errorf("%w: query has %d components, index dim is %d", ErrDimensionMismatch, len(query), h.dim)
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", ErrBadArgument, k)
	}
	if h.count == 0 {
		return []types.SearchResult{}, nil
	}

	q := h.makeQuery(query)
	eps := []types.Candidate{{
		ID:   h.entrypoint,
		Dist: h.distToNode(q, h.nodes[h.entrypoint]),
	}}
	for lc := h.maxLayer; lc > 0; lc-- {
		w := h.searchLayer(q, eps, 1, lc)
		if len(w) > 0 {
			eps = w[:1]
		}
	}

	ef := h.efConstruction
	if k > ef {
		ef = k
	}
	w := h.searchLayer(q, eps, ef, 0)
	if len(w) > k {
		w = w[:k]
	}

	results := make([]types.SearchResult, len(w))
	for i, c := range w {
		results[i] = types.SearchResult{Name: h.nodes[c.ID].Name, Dist: c.Dist}
	}
	return results, nil
}

// Info returns the index's externally visible attributes.
func (h *Index) Info() types.IndexInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	info := types.IndexInfo{
		Name:           h.name,
		Dim:            h.dim,
		M:              h.m,
		EfConstruction: h.efConstruction,
		MaxLayer:       h.maxLayer,
		NodeCount:      h.count,
		Precision:      h.precision,
	}
	if h.count > 0 {
		info.EntryPoint = h.nodes[h.entrypoint].Name
	}
	return info
}

// Node returns a node's attributes: vector, layer, and per-layer neighbor
// names ordered by distance.
func (h *Index) Node(name string) (types.NodeInfo, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	id, ok := h.byName.Get(name)
	if !ok {
		return types.NodeInfo{}, fmt.Errorf("node '%s' %w", name, ErrNotFound)
	}
	n := h.nodes[id]

	info := types.NodeInfo{
		Name:      n.Name,
		Vector:    append([]float32(nil), n.vector()...),
		Layer:     n.Layer,
		Neighbors: make([][]string, n.Layer+1),
	}
	for lc := 0; lc <= n.Layer; lc++ {
		names := make([]string, 0, len(n.neighbors[lc]))
		for _, e := range n.neighbors[lc] {
			names = append(names, h.nodes[e.ID].Name)
		}
		info.Neighbors[lc] = names
	}
	return info, nil
}

// Len returns the number of live nodes.
func (h *Index) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Name returns the index name.
func (h *Index) Name() string { return h.name }

// Dim returns the vector dimensionality.
func (h *Index) Dim() int { return h.dim }

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
