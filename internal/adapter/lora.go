// Package adapter implements the low-rank correction machinery: rank-R
// pairs, the block-sliced addressing that lets one pair hold many edits,
// and the per-expert bank used under mixture routing.
package adapter

import (
	"fmt"
	"math/rand"

	"mnemosyne/internal/nn"
)

// Pair is one rank-R low-rank correction: down-projection A [In x R] and
// up-projection B [R x Out], applied as scaling * (x A B). B starts at zero
// so a fresh pair is a no-op.
type Pair struct {
	In      int
	Out     int
	R       int
	Alpha   float64
	Scaling float64
	A       *nn.Matrix
	B       *nn.Matrix
	Merged  bool
}

func NewPair(in, out, r int, alpha float64, rng *rand.Rand) (*Pair, error) {
	if r < 0 {
		return nil, fmt.Errorf("rank must be non-negative, got %d", r)
	}
	p := &Pair{In: in, Out: out, R: r, Alpha: alpha}
	if r > 0 {
		p.Scaling = alpha / float64(r)
		p.A = nn.NewMatrix(in, r)
		p.B = nn.NewMatrix(r, out)
		nn.KaimingUniform(rng, p.A, in)
	}
	return p, nil
}

// Delta materializes the full-rank correction scaling * (A B).
func (p *Pair) Delta() (*nn.Matrix, error) {
	if p.R == 0 {
		return nn.NewMatrix(p.In, p.Out), nil
	}
	ab, err := nn.MatMul(p.A, p.B)
	if err != nil {
		return nil, err
	}
	for i := range ab.Data {
		ab.Data[i] *= p.Scaling
	}
	return ab, nil
}

// Apply accumulates the low-rank correction for one input row into out.
func (p *Pair) Apply(in, out []float64, scale float64) {
	if p.R == 0 {
		return
	}
	hidden := make([]float64, p.R)
	for k, v := range in {
		if v == 0 {
			continue
		}
		ar := p.A.Row(k)
		for j, a := range ar {
			hidden[j] += v * a
		}
	}
	s := p.Scaling * scale
	for k, h := range hidden {
		if h == 0 {
			continue
		}
		br := p.B.Row(k)
		for j, b := range br {
			out[j] += s * h * b
		}
	}
}

// Merge folds the correction into the host weight in place. Merging an
// already-merged or rank-zero pair is a no-op, reported by the return value.
func (p *Pair) Merge(w *nn.Matrix) (bool, error) {
	if p.Merged || p.R == 0 {
		return false, nil
	}
	delta, err := p.Delta()
	if err != nil {
		return false, err
	}
	if w.Rows != delta.Rows || w.Cols != delta.Cols {
		return false, fmt.Errorf("merge shape mismatch: weight [%dx%d], delta [%dx%d]", w.Rows, w.Cols, delta.Rows, delta.Cols)
	}
	for i := range w.Data {
		w.Data[i] += delta.Data[i]
	}
	p.Merged = true
	return true, nil
}

// Unmerge subtracts a previously merged correction back out.
func (p *Pair) Unmerge(w *nn.Matrix) (bool, error) {
	if !p.Merged || p.R == 0 {
		return false, nil
	}
	delta, err := p.Delta()
	if err != nil {
		return false, err
	}
	if w.Rows != delta.Rows || w.Cols != delta.Cols {
		return false, fmt.Errorf("unmerge shape mismatch: weight [%dx%d], delta [%dx%d]", w.Rows, w.Cols, delta.Rows, delta.Cols)
	}
	for i := range w.Data {
		w.Data[i] -= delta.Data[i]
	}
	p.Merged = false
	return true, nil
}
