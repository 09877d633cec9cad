package scope

import "testing"

func TestPackSetsExpectedBits(t *testing.T) {
	fp, err := Pack(4, [][]int{{0, 2}, {3}})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	// Layer 0 owns bits 0..3, layer 1 bits 4..7.
	want := uint64(1<<0 | 1<<2 | 1<<7)
	if fp[0] != want {
		t.Fatalf("fingerprint bits %b, want %b", fp[0], want)
	}

	if _, err := Pack(4, [][]int{{4}}); err == nil {
		t.Fatal("expected out-of-range expert error")
	}
}

func TestHamming(t *testing.T) {
	a, _ := Pack(4, [][]int{{0, 1}})
	b, _ := Pack(4, [][]int{{0, 2}})
	if got := Hamming(a, b); got != 2 {
		t.Fatalf("hamming distance %d, want 2", got)
	}
	if got := Hamming(a, a); got != 0 {
		t.Fatalf("self distance %d, want 0", got)
	}
}

func TestNothingInScopeWithoutAnchors(t *testing.T) {
	d, err := New(8)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	fp, _ := Pack(4, [][]int{{0}})
	if d.InScope(fp) {
		t.Fatal("no anchors recorded, nothing should be in scope")
	}
}

func TestEditingOverridesScope(t *testing.T) {
	d, err := New(0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	fp, _ := Pack(4, [][]int{{0}})
	d.SetEditing(true)
	if !d.InScope(fp) {
		t.Fatal("everything is in scope while editing")
	}
	d.SetEditing(false)
	if d.InScope(fp) {
		t.Fatal("scope should revert once editing stops")
	}
}

func TestNearestAnchorDecides(t *testing.T) {
	d, err := New(2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	anchor, _ := Pack(4, [][]int{{0, 1}, {2}})
	d.RecordAnchor("fact-1", anchor)

	near, _ := Pack(4, [][]int{{0, 1}, {3}}) // distance 2... bits differ: layer1 expert2 vs expert3 = 2 bits
	far, _ := Pack(4, [][]int{{2, 3}, {0}})

	if d.InScope(near) {
		t.Fatal("distance equal to threshold should be out of scope")
	}
	d.Threshold = 3
	if !d.InScope(near) {
		t.Fatal("distance below threshold should be in scope")
	}
	if d.InScope(far) {
		t.Fatal("distant fingerprint should stay out of scope")
	}
}

func TestThresholdMonotonicity(t *testing.T) {
	d, err := New(0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	anchor, _ := Pack(8, [][]int{{0, 1, 2}})
	d.RecordAnchor("fact-1", anchor)

	probes := [][][]int{
		{{0, 1, 2}},
		{{0, 1, 3}},
		{{0, 4, 5}},
		{{5, 6, 7}},
	}
	prev := 0
	for threshold := 0; threshold <= 8; threshold++ {
		d.Threshold = threshold
		count := 0
		for _, p := range probes {
			fp, _ := Pack(8, p)
			if d.InScope(fp) {
				count++
			}
		}
		if count < prev {
			t.Fatalf("raising the threshold shrank the in-scope set at %d", threshold)
		}
		prev = count
	}
	if prev != len(probes) {
		t.Fatalf("at threshold 8 every probe should be in scope, got %d", prev)
	}
}

func TestAnchorsAcrossClasses(t *testing.T) {
	d, err := New(3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a1, _ := Pack(4, [][]int{{0}})
	a2, _ := Pack(4, [][]int{{3}})
	d.RecordAnchor("fact-1", a1)
	d.RecordAnchor("fact-2", a2)
	if d.AnchorCount() != 2 {
		t.Fatalf("anchor count %d, want 2", d.AnchorCount())
	}

	probe, _ := Pack(4, [][]int{{3}})
	if !d.InScope(probe) {
		t.Fatal("probe matching the second class's anchor should be in scope")
	}
}
