package hnsw

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/sanonone/hnswdb/pkg/core/distance"
)

func newTestIndex(t *testing.T, dim, m int, seed int64) *Index {
	t.Helper()
	idx, err := New(Config{Name: "test", Dim: dim, M: m, Seed: seed})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return idx
}

// checkInvariants verifies the structural invariants the graph must hold at
// every quiescent point: caps, symmetry with equal distances, sorting,
// uniqueness, no self-loops, no dangling references, and the entry point
// contract.
func checkInvariants(t *testing.T, h *Index) {
	t.Helper()
	h.mu.RLock()
	defer h.mu.RUnlock()

	live := 0
	for id, n := range h.nodes {
		if n == nil {
			continue
		}
		live++
		if n.InternalID != uint32(id) {
			t.Fatalf("node '%s' handle mismatch: slot %d, field %d", n.Name, id, n.InternalID)
		}
		if n.Layer > h.maxLayer {
			t.Fatalf("node '%s' on layer %d above max layer %d", n.Name, n.Layer, h.maxLayer)
		}
		for lc := 0; lc <= n.Layer; lc++ {
			list := n.neighbors[lc]
			if len(list) > h.capFor(lc) {
				t.Fatalf("node '%s' layer %d has %d neighbors, cap is %d", n.Name, lc, len(list), h.capFor(lc))
			}
			seen := make(map[uint32]bool, len(list))
			for i, e := range list {
				if e.ID == n.InternalID {
					t.Fatalf("node '%s' has a self-loop at layer %d", n.Name, lc)
				}
				if seen[e.ID] {
					t.Fatalf("node '%s' layer %d has duplicate neighbor %d", n.Name, lc, e.ID)
				}
				seen[e.ID] = true
				if i > 0 && list[i-1].Dist > e.Dist {
					t.Fatalf("node '%s' layer %d neighbor list not sorted", n.Name, lc)
				}
				if e.ID >= uint32(len(h.nodes)) || h.nodes[e.ID] == nil {
					t.Fatalf("node '%s' layer %d references deleted node %d", n.Name, lc, e.ID)
				}
				peer := h.nodes[e.ID]
				if peer.Layer < lc {
					t.Fatalf("edge %s->%s at layer %d but peer only reaches layer %d", n.Name, peer.Name, lc, peer.Layer)
				}
				var back *neighborEntry
				for j := range peer.neighbors[lc] {
					if peer.neighbors[lc][j].ID == n.InternalID {
						back = &peer.neighbors[lc][j]
						break
					}
				}
				if back == nil {
					t.Fatalf("edge %s->%s at layer %d has no mirror", n.Name, peer.Name, lc)
				}
				if back.Dist != e.Dist {
					t.Fatalf("edge %s<->%s at layer %d has asymmetric distances %v vs %v",
						n.Name, peer.Name, lc, e.Dist, back.Dist)
				}
			}
		}
	}

	if live != h.count {
		t.Fatalf("live nodes %d != count %d", live, h.count)
	}
	if h.count == 0 {
		if h.maxLayer != -1 {
			t.Fatalf("empty index has max layer %d, want -1", h.maxLayer)
		}
		return
	}
	ep := h.nodes[h.entrypoint]
	if ep == nil {
		t.Fatalf("entry point %d is deleted", h.entrypoint)
	}
	if ep.Layer != h.maxLayer {
		t.Fatalf("entry point '%s' on layer %d, max layer is %d", ep.Name, ep.Layer, h.maxLayer)
	}
}

func fillVector(dim int, value float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = value
	}
	return v
}

func TestAddFirstNode(t *testing.T) {
	idx := newTestIndex(t, 4, 5, 1)

	if err := idx.Add("a", []float32{1, 1, 1, 1}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	info, err := idx.Node("a")
	if err != nil {
		t.Fatalf("Node failed: %v", err)
	}
	if want := []float32{1, 1, 1, 1}; len(info.Vector) != 4 {
		t.Fatalf("vector length %d, want %d", len(info.Vector), len(want))
	}
	for i, v := range info.Vector {
		if v != 1 {
			t.Errorf("vector[%d] = %v, want 1", i, v)
		}
	}
	if info.Layer < 0 {
		t.Errorf("layer = %d, want >= 0", info.Layer)
	}
	for lc, names := range info.Neighbors {
		if len(names) != 0 {
			t.Errorf("layer %d has %d neighbors on a singleton index", lc, len(names))
		}
	}

	got := idx.Info()
	if got.NodeCount != 1 {
		t.Errorf("node count %d, want 1", got.NodeCount)
	}
	if got.EntryPoint != "a" {
		t.Errorf("entry point '%s', want 'a'", got.EntryPoint)
	}
	if got.MaxLayer != info.Layer {
		t.Errorf("max layer %d, want %d", got.MaxLayer, info.Layer)
	}
	checkInvariants(t, idx)
}

func TestDuplicateName(t *testing.T) {
	idx := newTestIndex(t, 4, 5, 1)

	if err := idx.Add("a", fillVector(4, 1)); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	err := idx.Add("a", fillVector(4, 2))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Add = %v, want ErrDuplicate", err)
	}
	// The failed insert must not have touched the graph.
	if idx.Len() != 1 {
		t.Errorf("node count %d after rejected add, want 1", idx.Len())
	}
	info, _ := idx.Node("a")
	if info.Vector[0] != 1 {
		t.Errorf("vector mutated by rejected add")
	}
}

func TestDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, 4, 5, 1)

	if err := idx.Add("a", []float32{1, 1, 1}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Add with 3 components = %v, want ErrDimensionMismatch", err)
	}
	if idx.Len() != 0 {
		t.Errorf("node count %d after rejected add, want 0", idx.Len())
	}

	if err := idx.Add("a", fillVector(4, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Search([]float32{1, 2}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Search with 2 components = %v, want ErrDimensionMismatch", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := newTestIndex(t, 4, 5, 1)

	results, err := idx.Search(fillVector(4, 1), 5)
	if err != nil {
		t.Fatalf("Search on empty index = %v, want empty result", err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results from an empty index", len(results))
	}
}

func TestSearchExactMatch(t *testing.T) {
	idx := newTestIndex(t, 4, 5, 42)

	for i := 1; i <= 100; i++ {
		name := fmt.Sprintf("%d", i)
		if err := idx.Add(name, fillVector(4, float32(i))); err != nil {
			t.Fatalf("Add %s failed: %v", name, err)
		}
	}
	checkInvariants(t, idx)

	results, err := idx.Search(fillVector(4, 50), 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	if results[0].Name != "50" {
		t.Errorf("nearest = '%s', want '50'", results[0].Name)
	}
	if results[0].Dist != 0 {
		t.Errorf("nearest distance = %v, want 0", results[0].Dist)
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Dist > results[i].Dist {
			t.Errorf("results not sorted ascending at %d", i)
		}
	}
}

func TestDeleteRepairsGraph(t *testing.T) {
	idx := newTestIndex(t, 4, 5, 42)

	for i := 1; i <= 100; i++ {
		if err := idx.Add(fmt.Sprintf("%d", i), fillVector(4, float32(i))); err != nil {
			t.Fatal(err)
		}
	}

	if err := idx.Remove("1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := idx.Node("1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Node('1') after delete = %v, want ErrNotFound", err)
	}
	if err := idx.Remove("1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Remove = %v, want ErrNotFound", err)
	}

	// No surviving node may still reference the deleted one; the invariant
	// checker covers dangling handles, this checks by name as well.
	for i := 2; i <= 100; i++ {
		info, err := idx.Node(fmt.Sprintf("%d", i))
		if err != nil {
			t.Fatal(err)
		}
		for lc, names := range info.Neighbors {
			for _, name := range names {
				if name == "1" {
					t.Fatalf("node '%d' still references '1' at layer %d", i, lc)
				}
			}
		}
	}
	checkInvariants(t, idx)

	results, err := idx.Search(fillVector(4, 50), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results after delete, want 5", len(results))
	}
}

func TestAddThenDeleteLeavesEmpty(t *testing.T) {
	idx := newTestIndex(t, 4, 5, 7)

	if err := idx.Add("only", fillVector(4, 3)); err != nil {
		t.Fatal(err)
	}
	if err := idx.Remove("only"); err != nil {
		t.Fatal(err)
	}

	info := idx.Info()
	if info.NodeCount != 0 {
		t.Errorf("node count %d, want 0", info.NodeCount)
	}
	if info.MaxLayer != -1 {
		t.Errorf("max layer %d, want -1", info.MaxLayer)
	}
	if info.EntryPoint != "" {
		t.Errorf("entry point '%s', want empty", info.EntryPoint)
	}
	checkInvariants(t, idx)

	results, err := idx.Search(fillVector(4, 3), 3)
	if err != nil || len(results) != 0 {
		t.Errorf("search after emptying: results=%d err=%v", len(results), err)
	}
}

func TestDeleteAllInInsertionOrder(t *testing.T) {
	idx := newTestIndex(t, 4, 5, 99)

	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 100; i++ {
		vec := make([]float32, 4)
		for j := range vec {
			vec[j] = rng.Float32()
		}
		if err := idx.Add(fmt.Sprintf("n%03d", i), vec); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 100; i++ {
		if err := idx.Remove(fmt.Sprintf("n%03d", i)); err != nil {
			t.Fatalf("Remove n%03d failed: %v", i, err)
		}
	}

	info := idx.Info()
	if info.NodeCount != 0 || info.MaxLayer != -1 {
		t.Fatalf("after deleting everything: count=%d maxLayer=%d", info.NodeCount, info.MaxLayer)
	}
	checkInvariants(t, idx)
}

// TestRandomAddDelete runs a randomized workload and verifies the
// structural invariants after every phase.
func TestRandomAddDelete(t *testing.T) {
	idx := newTestIndex(t, 8, 4, 1234)
	rng := rand.New(rand.NewSource(1234))

	alive := make([]string, 0, 256)
	nextName := 0

	randomVec := func() []float32 {
		v := make([]float32, 8)
		for i := range v {
			v[i] = rng.Float32()
		}
		return v
	}

	for round := 0; round < 10; round++ {
		for i := 0; i < 40; i++ {
			name := fmt.Sprintf("v%04d", nextName)
			nextName++
			if err := idx.Add(name, randomVec()); err != nil {
				t.Fatalf("round %d: Add %s failed: %v", round, name, err)
			}
			alive = append(alive, name)
		}
		for i := 0; i < 15 && len(alive) > 0; i++ {
			j := rng.Intn(len(alive))
			name := alive[j]
			alive[j] = alive[len(alive)-1]
			alive = alive[:len(alive)-1]
			if err := idx.Remove(name); err != nil {
				t.Fatalf("round %d: Remove %s failed: %v", round, name, err)
			}
		}
		checkInvariants(t, idx)
		if idx.Len() != len(alive) {
			t.Fatalf("round %d: index has %d nodes, workload thinks %d", round, idx.Len(), len(alive))
		}
	}

	// Searches on the final graph must return live nodes only.
	results, err := idx.Search(randomVec(), 10)
	if err != nil {
		t.Fatal(err)
	}
	liveSet := make(map[string]bool, len(alive))
	for _, name := range alive {
		liveSet[name] = true
	}
	for _, r := range results {
		if !liveSet[r.Name] {
			t.Errorf("search returned deleted node '%s'", r.Name)
		}
	}
}

// TestBackLinkOverflowKeepsSymmetry drives the capacity trap directly: a
// fringe node linking into a saturated dense cluster gets dropped by the
// re-selection on the cluster side, and its forward edge must go with it.
func TestBackLinkOverflowKeepsSymmetry(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		idx := newTestIndex(t, 2, 2, seed)
		rng := rand.New(rand.NewSource(seed))

		// A tight cluster around the origin saturates every layer-0 list
		// (cap is only 4 with M=2).
		for i := 0; i < 30; i++ {
			vec := []float32{rng.Float32() * 0.01, rng.Float32() * 0.01}
			if err := idx.Add(fmt.Sprintf("core%02d", i), vec); err != nil {
				t.Fatal(err)
			}
		}
		// Fringe nodes far out link into the cluster; their back-links are
		// the most dominated candidates and get pruned again.
		for i := 0; i < 10; i++ {
			vec := []float32{100 + rng.Float32(), 100 + rng.Float32()}
			if err := idx.Add(fmt.Sprintf("fringe%02d", i), vec); err != nil {
				t.Fatal(err)
			}
		}
		checkInvariants(t, idx)

		// The same trap exists on the deletion-repair path.
		for i := 0; i < 10; i += 2 {
			if err := idx.Remove(fmt.Sprintf("core%02d", i)); err != nil {
				t.Fatal(err)
			}
		}
		checkInvariants(t, idx)
	}
}

func TestSearchDeterminism(t *testing.T) {
	build := func() *Index {
		idx := newTestIndex(t, 8, 5, 77)
		rng := rand.New(rand.NewSource(55))
		for i := 0; i < 300; i++ {
			vec := make([]float32, 8)
			for j := range vec {
				vec[j] = rng.Float32()
			}
			if err := idx.Add(fmt.Sprintf("v%d", i), vec); err != nil {
				t.Fatal(err)
			}
		}
		return idx
	}

	a, b := build(), build()
	queryRng := rand.New(rand.NewSource(11))
	for q := 0; q < 20; q++ {
		query := make([]float32, 8)
		for j := range query {
			query[j] = queryRng.Float32()
		}
		ra, err := a.Search(query, 10)
		if err != nil {
			t.Fatal(err)
		}
		rb, err := b.Search(query, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(ra) != len(rb) {
			t.Fatalf("query %d: result counts differ (%d vs %d)", q, len(ra), len(rb))
		}
		for i := range ra {
			if ra[i] != rb[i] {
				t.Fatalf("query %d: result %d differs (%v vs %v)", q, i, ra[i], rb[i])
			}
		}
	}
}

// TestRecall checks search quality: on uniform random data the top result
// must agree with brute force at least 90% of the time.
func TestRecall(t *testing.T) {
	if testing.Short() {
		t.Skip("recall test is slow")
	}

	const (
		n       = 1000
		dim     = 16
		queries = 100
	)
	idx, err := New(Config{Name: "recall", Dim: dim, M: 16, EfConstruction: 200, Seed: 31337})
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(31337))
	data := make([][]float32, n)
	for i := range data {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = rng.Float32()
		}
		data[i] = vec
		if err := idx.Add(fmt.Sprintf("v%d", i), vec); err != nil {
			t.Fatal(err)
		}
	}

	bruteNearest := func(q []float32) string {
		best := -1
		bestDist := float32(0)
		for i, vec := range data {
			var d float32
			for j := range q {
				diff := q[j] - vec[j]
				d += diff * diff
			}
			if best == -1 || d < bestDist {
				best, bestDist = i, d
			}
		}
		return fmt.Sprintf("v%d", best)
	}

	hits := make([]float64, queries)
	for qi := 0; qi < queries; qi++ {
		q := make([]float32, dim)
		for j := range q {
			q[j] = rng.Float32()
		}
		results, err := idx.Search(q, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) == 0 {
			t.Fatal("empty result on populated index")
		}
		if results[0].Name == bruteNearest(q) {
			hits[qi] = 1
		}
	}

	recall := stat.Mean(hits, nil)
	t.Logf("top-1 recall: %.3f", recall)
	if recall < 0.9 {
		t.Errorf("top-1 recall %.3f below 0.9", recall)
	}
}

func TestFloat16Precision(t *testing.T) {
	idx, err := New(Config{Name: "f16", Dim: 4, M: 5, Precision: distance.Float16, Seed: 5})
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 50; i++ {
		if err := idx.Add(fmt.Sprintf("%d", i), fillVector(4, float32(i))); err != nil {
			t.Fatal(err)
		}
	}
	checkInvariants(t, idx)

	results, err := idx.Search(fillVector(4, 25), 3)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Name != "25" {
		t.Errorf("nearest = '%s', want '25'", results[0].Name)
	}

	// Small integers are exact in half precision, so the stored vector
	// reads back unchanged.
	info, err := idx.Node("25")
	if err != nil {
		t.Fatal(err)
	}
	if info.Vector[0] != 25 {
		t.Errorf("decoded vector[0] = %v, want 25", info.Vector[0])
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero dim", Config{Dim: 0}},
		{"negative dim", Config{Dim: -3}},
		{"m too small", Config{Dim: 4, M: 1}},
		{"bad precision", Config{Dim: 4, Precision: "int7"}},
	}
	for _, tc := range cases {
		if _, err := New(tc.cfg); !errors.Is(err, ErrBadArgument) {
			t.Errorf("%s: New = %v, want ErrBadArgument", tc.name, err)
		}
	}
}

func TestAssignLevelDistribution(t *testing.T) {
	idx := newTestIndex(t, 4, 5, 123)

	// Levels follow floor(-ln(U)/ln(M)): level 0 dominates and the tail
	// decays geometrically.
	counts := make(map[int]int)
	for i := 0; i < 10000; i++ {
		l := idx.assignLevel()
		if l < 0 {
			t.Fatalf("negative level %d", l)
		}
		counts[l]++
	}
	if counts[0] < 7000 {
		t.Errorf("level 0 drawn %d/10000 times, expected about 4 in 5", counts[0])
	}
	if counts[0] <= counts[1] {
		t.Errorf("level 1 (%d) drawn at least as often as level 0 (%d)", counts[1], counts[0])
	}
}
