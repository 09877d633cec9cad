package memory

import (
	"math"
	"testing"
)

func key(vals ...float64) []float64 { return vals }

func TestSeedBatchOnEmptyStore(t *testing.T) {
	m := New(1.0)
	queries := [][]float64{key(0, 0), key(5, 0), key(0, 5)}
	labels := [][]int64{{1}, {2}, {3}}

	mapping, outcomes := m.ApplyBatch(queries, labels)

	if m.Store.Len() != 3 {
		t.Fatalf("expected 3 clusters, got %d", m.Store.Len())
	}
	if m.CurrentBlock() != 1 {
		t.Fatalf("block counter should advance once per batch, got %d", m.CurrentBlock())
	}
	for i, b := range mapping {
		if b != 0 {
			t.Fatalf("example %d mapped to block %d, want 0", i, b)
		}
		if outcomes[i].Action != ActionSeed {
			t.Fatalf("example %d action %s, want seed", i, outcomes[i].Action)
		}
	}
	for i := 0; i < 3; i++ {
		if got := m.Store.Cluster(i).Radius; got != 1.0 {
			t.Fatalf("cluster %d radius %f, want init radius", i, got)
		}
	}
}

func TestMatchingLabelReinforces(t *testing.T) {
	m := New(1.0)
	m.ApplyBatch([][]float64{key(0, 0)}, [][]int64{{7}})

	mapping, outcomes := m.ApplyBatch([][]float64{key(0.5, 0)}, [][]int64{{7}})

	if m.Store.Len() != 1 {
		t.Fatalf("matching label should not add clusters, got %d", m.Store.Len())
	}
	if outcomes[0].Action != ActionReinforce {
		t.Fatalf("action %s, want reinforce", outcomes[0].Action)
	}
	if mapping[0] != 1 {
		t.Fatalf("second batch should map to block 1, got %d", mapping[0])
	}

	c := m.Store.Cluster(0)
	if math.Abs(c.Center[0]-0.25) > 1e-12 {
		t.Fatalf("center should be the member mean, got %f", c.Center[0])
	}
	if c.Radius != 1.0 {
		t.Fatalf("radius should stay floored at init radius, got %f", c.Radius)
	}
	for _, p := range c.Points {
		if d := dist(p.Key, c.Center); d > c.Radius {
			t.Fatalf("member key at distance %f outside radius %f", d, c.Radius)
		}
	}
}

func TestConflictingLabelSplits(t *testing.T) {
	m := New(1.0)
	m.ApplyBatch([][]float64{key(0, 0)}, [][]int64{{7}})

	_, outcomes := m.ApplyBatch([][]float64{key(0.5, 0)}, [][]int64{{8}})

	if outcomes[0].Action != ActionConflictSplit {
		t.Fatalf("action %s, want conflict-split", outcomes[0].Action)
	}
	if m.Store.Len() != 2 {
		t.Fatalf("conflict should add a cluster, got %d", m.Store.Len())
	}
	old := m.Store.Cluster(0)
	newc := m.Store.Cluster(1)
	if math.Abs(old.Radius-(0.25-1e-5)) > 1e-12 {
		t.Fatalf("old radius %f, want 0.25-1e-5", old.Radius)
	}
	if math.Abs(newc.Radius-(0.25+1e-5)) > 1e-12 {
		t.Fatalf("new radius %f, want 0.25+1e-5", newc.Radius)
	}
	// The halved boundaries partition the conflict distance exactly.
	if math.Abs(old.Radius+newc.Radius-0.5) > 1e-12 {
		t.Fatalf("split radii should sum to the conflict distance, got %f", old.Radius+newc.Radius)
	}
	if m.Store.ConflictNum != 1 {
		t.Fatalf("conflict counter %d, want 1", m.Store.ConflictNum)
	}
	// The seed key sits at the old center so it survives the shrink.
	if len(old.Points) != 1 || old.Points[0].Value == NoEdit {
		t.Fatalf("old cluster should keep its seed point: %+v", old.Points)
	}
}

func TestFarQueryOpensClusterRegardlessOfLabel(t *testing.T) {
	m := New(1.0)
	m.ApplyBatch([][]float64{key(0, 0)}, [][]int64{{7}})

	_, outcomes := m.ApplyBatch([][]float64{key(10, 0)}, [][]int64{{7}})

	if outcomes[0].Action != ActionNew {
		t.Fatalf("action %s, want new-cluster", outcomes[0].Action)
	}
	if m.Store.Len() != 2 {
		t.Fatalf("expected 2 clusters, got %d", m.Store.Len())
	}
	if m.Store.ConflictNum != 0 || m.Store.ForgetNum != 0 {
		t.Fatal("far query should not touch conflict or forget counters")
	}
}

func TestSplitEvictsOutOfRadiusPoints(t *testing.T) {
	s := NewStore(1.0)
	s.AddCluster(key(0, 0), 0, []int64{1})
	s.UpdateCluster(0, key(0.8, 0), 0)
	// Center is now (0.4, 0); the two members sit 0.4 away on either side.
	s.AddCluster(key(1.0, 0), 1, []int64{2})
	s.SplitClusterRadiiInHalf(0, 0.6)

	old := s.Cluster(0)
	// radius = 0.3 - 1e-5 < 0.4: both members evicted, sentinel remains.
	if len(old.Points) != 1 || old.Points[0].Value != NoEdit {
		t.Fatalf("emptied cluster should hold a no-op sentinel: %+v", old.Points)
	}
	if s.ForgetNum != 2 {
		t.Fatalf("forget counter %d, want 2", s.ForgetNum)
	}
	if len(s.ForgetKeys) != 2 {
		t.Fatalf("forget keys %d, want 2", len(s.ForgetKeys))
	}
}

func TestLookupInsideAndOutsideRadius(t *testing.T) {
	m := New(1.0)
	m.ApplyBatch([][]float64{key(0, 0)}, [][]int64{{7}})

	values, err := m.Lookup([][]float64{key(0.5, 0), key(3, 0)})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if values[0] != 0 {
		t.Fatalf("in-radius query should hit block 0, got %d", values[0])
	}
	if values[1] != NoEdit {
		t.Fatalf("out-of-radius query should return NoEdit, got %d", values[1])
	}
}

func TestLookupOnEmptyStore(t *testing.T) {
	m := New(1.0)
	if _, err := m.Lookup([][]float64{key(0, 0)}); err != ErrEmptyStore {
		t.Fatalf("expected ErrEmptyStore, got %v", err)
	}
}

func TestSearchClusterFaultForcesNoEdit(t *testing.T) {
	s := NewStore(1.0)
	s.AddCluster(key(0, 0), 5, []int64{1})

	values := s.SearchCluster([][]float64{key(0, 0), key(0.1, 0)}, []float64{0, 0.1}, []int{9, 0})
	if values[0] != NoEdit {
		t.Fatalf("degenerate lookup should force NoEdit, got %d", values[0])
	}
	if values[1] != 5 {
		t.Fatalf("healthy lookup should be unaffected, got %d", values[1])
	}
	if s.LookupFaults != 1 {
		t.Fatalf("fault counter %d, want 1", s.LookupFaults)
	}
}

func TestLabelMatchIgnoresMaskedPositions(t *testing.T) {
	cases := []struct {
		a, b []int64
		want bool
	}{
		{[]int64{-100, 4, 5}, []int64{-100, 4, 5}, true},
		{[]int64{-100, 4, 5}, []int64{1, 4, 5}, true},
		{[]int64{-100, 4, 5}, []int64{-100, 4, 6}, false},
		{[]int64{1, 2}, []int64{1, 2, 3}, false},
	}
	for i, tc := range cases {
		if got := LabelMatch(tc.a, tc.b); got != tc.want {
			t.Fatalf("case %d: got %v, want %v", i, got, tc.want)
		}
	}
}

func TestBlockAdvancesPerBatchNotPerExample(t *testing.T) {
	m := New(1.0)
	m.ApplyBatch([][]float64{key(0, 0), key(10, 0)}, [][]int64{{1}, {2}})
	if m.CurrentBlock() != 1 {
		t.Fatalf("one batch should advance the counter once, got %d", m.CurrentBlock())
	}
	mapping, _ := m.ApplyBatch([][]float64{key(20, 0), key(30, 0)}, [][]int64{{3}, {4}})
	for i, b := range mapping {
		if b != 1 {
			t.Fatalf("example %d mapped to block %d, want 1", i, b)
		}
	}
	if m.CurrentBlock() != 2 {
		t.Fatalf("two batches should advance the counter twice, got %d", m.CurrentBlock())
	}
}

func dist(a, b []float64) float64 {
	total := 0.0
	for i := range a {
		d := a[i] - b[i]
		total += d * d
	}
	return math.Sqrt(total)
}
