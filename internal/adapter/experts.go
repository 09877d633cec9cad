package adapter

import (
	"fmt"
	"math/rand"

	"mnemosyne/internal/nn"
	"mnemosyne/internal/router"
)

// ExpertBank holds one low-rank pair per expert. Under mixture routing each
// example's correction is the gate-weighted sum of its routed experts'
// corrections, applied only when the example is in scope.
type ExpertBank struct {
	In      int
	Out     int
	Experts []*Pair
}

func NewExpertBank(in, out, r, numExperts int, alpha float64, rng *rand.Rand) (*ExpertBank, error) {
	if numExperts <= 0 {
		return nil, fmt.Errorf("expert bank needs at least one expert, got %d", numExperts)
	}
	bank := &ExpertBank{In: in, Out: out}
	for i := 0; i < numExperts; i++ {
		p, err := NewPair(in, out, r, alpha, rng)
		if err != nil {
			return nil, err
		}
		bank.Experts = append(bank.Experts, p)
	}
	return bank, nil
}

// Correction computes the routed correction for a [B x S x In] activation
// block. inScope masks the blend per example: an out-of-scope example keeps
// a zero correction regardless of routing. A nil inScope applies corrections
// to every example.
func (eb *ExpertBank) Correction(x *nn.Tensor, dec *router.Decision, inScope []bool) (*nn.Tensor, error) {
	if x.Dim != eb.In {
		return nil, fmt.Errorf("expert correction input dim %d, want %d", x.Dim, eb.In)
	}
	if len(dec.Experts) != x.Batch {
		return nil, fmt.Errorf("routing for %d examples, batch is %d", len(dec.Experts), x.Batch)
	}
	if inScope != nil && len(inScope) != x.Batch {
		return nil, fmt.Errorf("scope mask for %d examples, batch is %d", len(inScope), x.Batch)
	}
	out := nn.NewTensor(x.Batch, x.Seq, eb.Out)
	for b := 0; b < x.Batch; b++ {
		if inScope != nil && !inScope[b] {
			continue
		}
		for i, e := range dec.Experts[b] {
			if e < 0 || e >= len(eb.Experts) {
				return nil, fmt.Errorf("routed expert %d outside bank of %d", e, len(eb.Experts))
			}
			w := dec.Weights[b][i]
			if w == 0 {
				continue
			}
			for s := 0; s < x.Seq; s++ {
				eb.Experts[e].Apply(x.Row(b, s), out.Row(b, s), w)
			}
		}
	}
	return out, nil
}
