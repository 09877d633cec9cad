package nn

import (
	"fmt"
	"math/rand"
)

// Linear is a plain dense transform y = xW + b with W stored [In x Out].
type Linear struct {
	In     int
	Out    int
	Weight *Matrix
	Bias   []float64
}

func NewLinear(in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: NewMatrix(in, out),
		Bias:   make([]float64, out),
	}
	KaimingUniform(rng, l.Weight, in)
	return l
}

// Forward applies the transform to every (batch, position) vector.
func (l *Linear) Forward(_ *Pass, x *Tensor) (*Tensor, error) {
	if x.Dim != l.In {
		return nil, fmt.Errorf("linear input dim %d, want %d", x.Dim, l.In)
	}
	out := NewTensor(x.Batch, x.Seq, l.Out)
	for b := 0; b < x.Batch; b++ {
		for s := 0; s < x.Seq; s++ {
			l.applyRow(x.Row(b, s), out.Row(b, s))
		}
	}
	return out, nil
}

// ForwardMatrix applies the transform to a [B x In] matrix.
func (l *Linear) ForwardMatrix(x *Matrix) (*Matrix, error) {
	if x.Cols != l.In {
		return nil, fmt.Errorf("linear input dim %d, want %d", x.Cols, l.In)
	}
	out := NewMatrix(x.Rows, l.Out)
	for r := 0; r < x.Rows; r++ {
		l.applyRow(x.Row(r), out.Row(r))
	}
	return out, nil
}

func (l *Linear) applyRow(in, out []float64) {
	copy(out, l.Bias)
	for k, v := range in {
		if v == 0 {
			continue
		}
		wr := l.Weight.Row(k)
		for j, w := range wr {
			out[j] += v * w
		}
	}
}

// Dropout zeroes activations with probability P during training, rescaling
// survivors by 1/(1-P). A nil or zero-probability dropout is the identity.
type Dropout struct {
	P   float64
	rng *rand.Rand
}

func NewDropout(p float64, rng *rand.Rand) *Dropout {
	return &Dropout{P: p, rng: rng}
}

func (d *Dropout) Apply(x *Tensor, training bool) *Tensor {
	if d == nil || d.P <= 0 || !training {
		return x
	}
	out := x.Clone()
	keep := 1 - d.P
	for i := range out.Data {
		if d.rng.Float64() < d.P {
			out.Data[i] = 0
		} else {
			out.Data[i] /= keep
		}
	}
	return out
}
