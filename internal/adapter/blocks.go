package adapter

import (
	"fmt"
	"math"
	"math/rand"

	"mnemosyne/internal/memory"
	"mnemosyne/internal/nn"
)

// Blocks slices a single rank-R pair into R/BlockSize independent blocks so
// one pair can hold many edits: block k owns columns [k*BlockSize,
// (k+1)*BlockSize) of A and the matching rows of B. Each example's
// correction uses only its assigned block, rescaled by sqrt(NumBlocks) to
// keep the correction magnitude independent of how finely the rank is
// sliced.
type Blocks struct {
	Pair      *Pair
	BlockSize int
	NumBlocks int
	Rescale   float64
}

func NewBlocks(in, out, r, blockSize int, alpha float64, rng *rand.Rand) (*Blocks, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	if r <= 0 || r%blockSize != 0 {
		return nil, fmt.Errorf("rank %d is not a positive multiple of block size %d", r, blockSize)
	}
	pair, err := NewPair(in, out, r, alpha, rng)
	if err != nil {
		return nil, err
	}
	n := r / blockSize
	return &Blocks{
		Pair:      pair,
		BlockSize: blockSize,
		NumBlocks: n,
		Rescale:   math.Sqrt(float64(n)),
	}, nil
}

// Correction computes the per-example block-addressed correction for a
// [B x S x In] activation block. blocks assigns one block id per example;
// memory.NoEdit yields an all-zero correction for that example. An assigned
// id outside [0, NumBlocks) is an error: it means more batches were absorbed
// than the rank can address.
func (bl *Blocks) Correction(x *nn.Tensor, blocks []int) (*nn.Tensor, error) {
	if x.Dim != bl.Pair.In {
		return nil, fmt.Errorf("block correction input dim %d, want %d", x.Dim, bl.Pair.In)
	}
	if len(blocks) != x.Batch {
		return nil, fmt.Errorf("block assignment for %d examples, batch is %d", len(blocks), x.Batch)
	}
	out := nn.NewTensor(x.Batch, x.Seq, bl.Pair.Out)
	for b := 0; b < x.Batch; b++ {
		k := blocks[b]
		if k == memory.NoEdit {
			continue
		}
		if k < 0 || k >= bl.NumBlocks {
			return nil, fmt.Errorf("block id %d outside addressable range [0,%d)", k, bl.NumBlocks)
		}
		for s := 0; s < x.Seq; s++ {
			bl.applyBlock(k, x.Row(b, s), out.Row(b, s))
		}
	}
	return out, nil
}

func (bl *Blocks) applyBlock(k int, in, out []float64) {
	lo := k * bl.BlockSize
	hi := lo + bl.BlockSize
	hidden := make([]float64, bl.BlockSize)
	for i, v := range in {
		if v == 0 {
			continue
		}
		ar := bl.Pair.A.Row(i)[lo:hi]
		for j, a := range ar {
			hidden[j] += v * a
		}
	}
	s := bl.Pair.Scaling * bl.Rescale
	for j, h := range hidden {
		if h == 0 {
			continue
		}
		br := bl.Pair.B.Row(lo + j)
		for c, b := range br {
			out[c] += s * h * b
		}
	}
}
