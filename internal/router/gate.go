// Package router implements the learned gate that assigns examples to
// experts: a dense projection to expert logits, softmax, top-k selection,
// with optional routing presets while a batch of edits is being absorbed.
package router

import (
	"fmt"
	"math"
	"math/rand"

	"mnemosyne/internal/nn"
)

// PresetMode controls how a routing target installed via SetTarget is used.
type PresetMode int

const (
	// PresetNone routes purely by the learned scores.
	PresetNone PresetMode = iota
	// PresetHard replaces the selected expert indices with the target experts
	// while keeping the learned scores for the gathered positions.
	PresetHard
	// PresetSoft keeps the learned selection and only accumulates a guidance
	// loss pulling probability mass toward the target experts.
	PresetSoft
)

// Decision is the routing result for one batch: per example, the chosen
// expert indices and their (softmaxed) weights.
type Decision struct {
	Experts [][]int
	Weights [][]float64
}

// Gate scores a batch of key representations against NumExperts experts and
// selects the TopK highest-scoring ones per example.
type Gate struct {
	NumExperts int
	TopK       int
	Proj       *nn.Linear

	mode    PresetMode
	targets []int

	guidance float64
	hasLoss  bool
	editing  bool
}

func NewGate(dim, numExperts, topK int, rng *rand.Rand) (*Gate, error) {
	if numExperts <= 0 {
		return nil, fmt.Errorf("gate needs at least one expert, got %d", numExperts)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("gate top-k must be positive, got %d", topK)
	}
	if topK > numExperts {
		topK = numExperts
	}
	return &Gate{
		NumExperts: numExperts,
		TopK:       topK,
		Proj:       nn.NewLinear(dim, numExperts, rng),
	}, nil
}

// SetEditing toggles edit-absorption mode. Guidance loss accumulates only
// while editing; outside it, presets and targets are ignored.
func (g *Gate) SetEditing(on bool) {
	g.editing = on
	if !on {
		g.mode = PresetNone
		g.targets = nil
	}
}

// SetTarget installs the routing target for the batch currently being
// absorbed. Targets index experts and must be in range.
func (g *Gate) SetTarget(mode PresetMode, targets []int) error {
	for _, t := range targets {
		if t < 0 || t >= g.NumExperts {
			return fmt.Errorf("routing target %d out of range [0,%d)", t, g.NumExperts)
		}
	}
	g.mode = mode
	g.targets = append([]int(nil), targets...)
	return nil
}

// SuspendPreset temporarily routes by the learned scores alone: preset,
// targets, and guidance accumulation are all off until the returned restore
// function runs. Used to observe the raw routing pattern mid-edit.
func (g *Gate) SuspendPreset() func() {
	mode, targets, editing := g.mode, g.targets, g.editing
	g.mode, g.targets, g.editing = PresetNone, nil, false
	return func() {
		g.mode, g.targets, g.editing = mode, targets, editing
	}
}

// Forward routes a [B x D] batch of keys. The decision has TopK experts per
// example under learned routing; a hard preset with fewer targets yields
// exactly the preset experts.
func (g *Gate) Forward(keys *nn.Matrix) (*Decision, error) {
	logits, err := g.Proj.ForwardMatrix(keys)
	if err != nil {
		return nil, fmt.Errorf("gate projection: %w", err)
	}

	dec := &Decision{
		Experts: make([][]int, keys.Rows),
		Weights: make([][]float64, keys.Rows),
	}
	for b := 0; b < keys.Rows; b++ {
		probs := append([]float64(nil), logits.Row(b)...)
		nn.Softmax(probs)

		idx, vals := nn.TopK(probs, g.TopK)
		if g.editing && g.mode == PresetHard && len(g.targets) > 0 {
			// Replace the routed indices with the preset experts but gather
			// the learned probabilities at those positions, so gradients
			// still flow through the scores actually used.
			idx = append([]int(nil), g.targets...)
			if len(idx) > g.TopK {
				idx = idx[:g.TopK]
			}
			vals = make([]float64, len(idx))
			for i, e := range idx {
				vals[i] = probs[e]
			}
		}
		dec.Experts[b] = idx
		dec.Weights[b] = vals

		if g.editing && len(g.targets) > 0 && g.mode != PresetNone {
			mass := 0.0
			for _, e := range g.targets {
				mass += probs[e]
			}
			if mass < 1e-12 {
				mass = 1e-12
			}
			g.guidance -= math.Log(mass)
			g.hasLoss = true
		}
	}
	return dec, nil
}

// HasLoss reports whether guidance loss has accumulated since the last read.
func (g *Gate) HasLoss() bool {
	return g.hasLoss
}

// TakeLoss returns the accumulated guidance loss normalized by count and
// clears it, so one batch's pull is never double-counted.
func (g *Gate) TakeLoss(batch int) float64 {
	if !g.hasLoss {
		return 0
	}
	loss := g.guidance
	if batch > 0 {
		loss /= float64(batch)
	}
	g.guidance = 0
	g.hasLoss = false
	return loss
}
