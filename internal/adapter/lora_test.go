package adapter

import (
	"math"
	"math/rand"
	"testing"

	"mnemosyne/internal/memory"
	"mnemosyne/internal/nn"
	"mnemosyne/internal/router"
)

func TestFreshPairIsNoOp(t *testing.T) {
	p, err := NewPair(4, 3, 2, 8, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new pair: %v", err)
	}
	out := make([]float64, 3)
	p.Apply([]float64{1, 2, 3, 4}, out, 1)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("zero-initialized B should give zero correction, got %f at %d", v, i)
		}
	}
	if p.Scaling != 4 {
		t.Fatalf("scaling alpha/r = 8/2 = 4, got %f", p.Scaling)
	}
}

func TestMergeUnmergeRestoresWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	p, err := NewPair(3, 3, 2, 4, rng)
	if err != nil {
		t.Fatalf("new pair: %v", err)
	}
	for i := range p.B.Data {
		p.B.Data[i] = rng.NormFloat64()
	}

	w := nn.NewMatrix(3, 3)
	for i := range w.Data {
		w.Data[i] = rng.NormFloat64()
	}
	orig := w.Clone()

	changed, err := p.Merge(w)
	if err != nil || !changed {
		t.Fatalf("merge: changed=%v err=%v", changed, err)
	}
	if again, err := p.Merge(w); err != nil || again {
		t.Fatalf("double merge must be a no-op: changed=%v err=%v", again, err)
	}
	diff := 0.0
	for i := range w.Data {
		diff += math.Abs(w.Data[i] - orig.Data[i])
	}
	if diff == 0 {
		t.Fatal("merge should change the weights")
	}

	changed, err = p.Unmerge(w)
	if err != nil || !changed {
		t.Fatalf("unmerge: changed=%v err=%v", changed, err)
	}
	if again, err := p.Unmerge(w); err != nil || again {
		t.Fatalf("double unmerge must be a no-op: changed=%v err=%v", again, err)
	}
	for i := range w.Data {
		if math.Abs(w.Data[i]-orig.Data[i]) > 1e-9 {
			t.Fatalf("unmerge should restore weights, index %d off by %g", i, w.Data[i]-orig.Data[i])
		}
	}
}

func TestRankZeroPairNeverMerges(t *testing.T) {
	p, err := NewPair(3, 3, 0, 4, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("new pair: %v", err)
	}
	w := nn.NewMatrix(3, 3)
	if changed, err := p.Merge(w); err != nil || changed {
		t.Fatalf("rank-zero merge must be a no-op: changed=%v err=%v", changed, err)
	}
}

func TestBlocksConstructorRejectsIndivisibleRank(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	if _, err := NewBlocks(4, 4, 7, 2, 8, rng); err == nil {
		t.Fatal("expected error for rank not divisible by block size")
	}
	if _, err := NewBlocks(4, 4, 8, 0, 8, rng); err == nil {
		t.Fatal("expected error for zero block size")
	}
	bl, err := NewBlocks(4, 4, 8, 2, 8, rng)
	if err != nil {
		t.Fatalf("new blocks: %v", err)
	}
	if bl.NumBlocks != 4 {
		t.Fatalf("8/2 = 4 blocks, got %d", bl.NumBlocks)
	}
	if math.Abs(bl.Rescale-2) > 1e-12 {
		t.Fatalf("rescale should be sqrt(4) = 2, got %f", bl.Rescale)
	}
}

func TestNoEditBlockYieldsZeroCorrection(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	bl, err := NewBlocks(3, 3, 4, 2, 8, rng)
	if err != nil {
		t.Fatalf("new blocks: %v", err)
	}
	for i := range bl.Pair.B.Data {
		bl.Pair.B.Data[i] = rng.NormFloat64()
	}

	x := nn.NewTensor(2, 2, 3)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	out, err := bl.Correction(x, []int{memory.NoEdit, 1})
	if err != nil {
		t.Fatalf("correction: %v", err)
	}
	for s := 0; s < 2; s++ {
		for _, v := range out.Row(0, s) {
			if v != 0 {
				t.Fatalf("no-edit example must get zero correction, got %f", v)
			}
		}
	}
	nonzero := false
	for s := 0; s < 2; s++ {
		for _, v := range out.Row(1, s) {
			if v != 0 {
				nonzero = true
			}
		}
	}
	if !nonzero {
		t.Fatal("assigned example should get a correction")
	}
}

func TestBlockCorrectionMatchesManualSlice(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	bl, err := NewBlocks(2, 2, 4, 2, 4, rng)
	if err != nil {
		t.Fatalf("new blocks: %v", err)
	}
	for i := range bl.Pair.A.Data {
		bl.Pair.A.Data[i] = float64(i+1) * 0.1
	}
	for i := range bl.Pair.B.Data {
		bl.Pair.B.Data[i] = float64(i+1) * 0.01
	}

	x := nn.NewTensor(1, 1, 2)
	copy(x.Data, []float64{1, 2})
	out, err := bl.Correction(x, []int{1})
	if err != nil {
		t.Fatalf("correction: %v", err)
	}

	// Block 1 owns columns 2..3 of A and rows 2..3 of B.
	want := make([]float64, 2)
	hidden := make([]float64, 2)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			hidden[j] += x.Data[i] * bl.Pair.A.At(i, 2+j)
		}
	}
	scale := bl.Pair.Scaling * bl.Rescale
	for j := 0; j < 2; j++ {
		for c := 0; c < 2; c++ {
			want[c] += scale * hidden[j] * bl.Pair.B.At(2+j, c)
		}
	}
	for c := 0; c < 2; c++ {
		if math.Abs(out.Data[c]-want[c]) > 1e-12 {
			t.Fatalf("correction[%d] = %f, want %f", c, out.Data[c], want[c])
		}
	}
}

func TestOutOfRangeBlockIDIsAnError(t *testing.T) {
	bl, err := NewBlocks(2, 2, 4, 2, 4, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("new blocks: %v", err)
	}
	x := nn.NewTensor(1, 1, 2)
	if _, err := bl.Correction(x, []int{2}); err == nil {
		t.Fatal("expected addressable-range error")
	}
}

func TestExpertBankScopeMask(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	bank, err := NewExpertBank(3, 3, 2, 4, 4, rng)
	if err != nil {
		t.Fatalf("new bank: %v", err)
	}
	for _, e := range bank.Experts {
		for i := range e.B.Data {
			e.B.Data[i] = rng.NormFloat64()
		}
	}

	x := nn.NewTensor(2, 1, 3)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	dec := &router.Decision{
		Experts: [][]int{{0, 1}, {2, 3}},
		Weights: [][]float64{{0.7, 0.3}, {0.6, 0.4}},
	}

	out, err := bank.Correction(x, dec, []bool{true, false})
	if err != nil {
		t.Fatalf("correction: %v", err)
	}
	nonzero := false
	for _, v := range out.Row(0, 0) {
		if v != 0 {
			nonzero = true
		}
	}
	if !nonzero {
		t.Fatal("in-scope example should get a correction")
	}
	for _, v := range out.Row(1, 0) {
		if v != 0 {
			t.Fatalf("out-of-scope example must get zero correction, got %f", v)
		}
	}
}

func TestExpertBankWeightsCombineLinearly(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	bank, err := NewExpertBank(2, 2, 2, 2, 2, rng)
	if err != nil {
		t.Fatalf("new bank: %v", err)
	}
	for _, e := range bank.Experts {
		for i := range e.B.Data {
			e.B.Data[i] = rng.NormFloat64()
		}
	}
	x := nn.NewTensor(1, 1, 2)
	copy(x.Data, []float64{1, -1})

	solo := func(expert int) []float64 {
		dec := &router.Decision{Experts: [][]int{{expert}}, Weights: [][]float64{{1}}}
		out, err := bank.Correction(x, dec, nil)
		if err != nil {
			t.Fatalf("correction: %v", err)
		}
		return append([]float64(nil), out.Data...)
	}
	a := solo(0)
	b := solo(1)

	dec := &router.Decision{Experts: [][]int{{0, 1}}, Weights: [][]float64{{0.25, 0.75}}}
	mixed, err := bank.Correction(x, dec, nil)
	if err != nil {
		t.Fatalf("correction: %v", err)
	}
	for i := range mixed.Data {
		want := 0.25*a[i] + 0.75*b[i]
		if math.Abs(mixed.Data[i]-want) > 1e-12 {
			t.Fatalf("mixture[%d] = %f, want %f", i, mixed.Data[i], want)
		}
	}
}
