package nn

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Matrix is a dense row-major [Rows x Cols] matrix.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

func (m *Matrix) At(r, c int) float64 {
	return m.Data[r*m.Cols+c]
}

func (m *Matrix) Set(r, c int, v float64) {
	m.Data[r*m.Cols+c] = v
}

// Row returns a mutable view of row r.
func (m *Matrix) Row(r int) []float64 {
	return m.Data[r*m.Cols : (r+1)*m.Cols]
}

func (m *Matrix) Clone() *Matrix {
	out := NewMatrix(m.Rows, m.Cols)
	copy(out.Data, m.Data)
	return out
}

// MatMul computes a [a.Rows x b.Cols] product.
func MatMul(a, b *Matrix) (*Matrix, error) {
	if a.Cols != b.Rows {
		return nil, fmt.Errorf("matmul shape mismatch: [%dx%d] x [%dx%d]", a.Rows, a.Cols, b.Rows, b.Cols)
	}
	out := NewMatrix(a.Rows, b.Cols)
	for i := 0; i < a.Rows; i++ {
		ar := a.Row(i)
		or := out.Row(i)
		for k, av := range ar {
			if av == 0 {
				continue
			}
			br := b.Row(k)
			for j, bv := range br {
				or[j] += av * bv
			}
		}
	}
	return out, nil
}

// Tensor is a dense row-major [Batch x Seq x Dim] activation block.
type Tensor struct {
	Batch int
	Seq   int
	Dim   int
	Data  []float64
}

func NewTensor(batch, seq, dim int) *Tensor {
	return &Tensor{Batch: batch, Seq: seq, Dim: dim, Data: make([]float64, batch*seq*dim)}
}

// Row returns a mutable view of the activation vector at (b, l).
func (t *Tensor) Row(b, l int) []float64 {
	base := (b*t.Seq + l) * t.Dim
	return t.Data[base : base+t.Dim]
}

func (t *Tensor) Clone() *Tensor {
	out := NewTensor(t.Batch, t.Seq, t.Dim)
	copy(out.Data, t.Data)
	return out
}

// Euclidean returns the L2 distance between two equal-length vectors.
func Euclidean(a, b []float64) float64 {
	total := 0.0
	for i, av := range a {
		d := av - b[i]
		total += d * d
	}
	return math.Sqrt(total)
}

// Softmax replaces values with a numerically stable softmax in place.
func Softmax(values []float64) {
	maxv := math.Inf(-1)
	for _, v := range values {
		if v > maxv {
			maxv = v
		}
	}
	total := 0.0
	for i, v := range values {
		e := math.Exp(v - maxv)
		values[i] = e
		total += e
	}
	if total == 0 {
		return
	}
	for i := range values {
		values[i] /= total
	}
}

// TopK returns the indices and values of the k largest entries, ordered by
// descending value. Ties resolve toward the lower index.
func TopK(values []float64, k int) ([]int, []float64) {
	if k > len(values) {
		k = len(values)
	}
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return values[order[i]] > values[order[j]]
	})
	idx := make([]int, k)
	vals := make([]float64, k)
	for i := 0; i < k; i++ {
		idx[i] = order[i]
		vals[i] = values[order[i]]
	}
	return idx, vals
}

// KaimingUniform fills m with the fan-in uniform initialization used for
// dense weights, bound = sqrt(6 / fanIn) (gain for a = sqrt(5)).
func KaimingUniform(rng *rand.Rand, m *Matrix, fanIn int) {
	if fanIn <= 0 {
		fanIn = 1
	}
	bound := math.Sqrt(6.0 / float64(fanIn))
	for i := range m.Data {
		m.Data[i] = (rng.Float64()*2 - 1) * bound
	}
}
