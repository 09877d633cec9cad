package editing

import (
	"errors"
	"fmt"
	"math/rand"

	"mnemosyne/internal/adapter"
	"mnemosyne/internal/memory"
	"mnemosyne/internal/nn"
	"mnemosyne/internal/router"
)

// MemoryLinear hosts the cluster memory at one layer of the network. Its
// forward output is the unmodified base transform; its side effect is
// filling the pass with the per-example keys and block assignments every
// downstream correction layer consumes.
type MemoryLinear struct {
	base  *nn.Linear
	mem   *memory.Memory
	keyID int

	enabled       bool
	editing       bool
	pendingLabels [][]int64
	outcomes      []memory.Outcome
}

func newMemoryLinear(base *nn.Linear, mem *memory.Memory, keyID int) *MemoryLinear {
	return &MemoryLinear{base: base, mem: mem, keyID: keyID, enabled: true}
}

func (ml *MemoryLinear) Memory() *memory.Memory { return ml.mem }

// SetLabels installs the edit labels for the batch about to be absorbed.
// The labels are consumed by the next forward pass in editing mode.
func (ml *MemoryLinear) SetLabels(labels [][]int64) {
	ml.pendingLabels = labels
}

// TakeOutcomes returns and clears the store decisions of absorbed batches.
func (ml *MemoryLinear) TakeOutcomes() []memory.Outcome {
	out := ml.outcomes
	ml.outcomes = nil
	return out
}

func (ml *MemoryLinear) Forward(p *nn.Pass, x *nn.Tensor) (*nn.Tensor, error) {
	if ml.keyID >= x.Seq {
		return nil, fmt.Errorf("key position %d outside sequence length %d", ml.keyID, x.Seq)
	}
	keys := nn.NewMatrix(x.Batch, x.Dim)
	queries := make([][]float64, x.Batch)
	for b := 0; b < x.Batch; b++ {
		copy(keys.Row(b), x.Row(b, ml.keyID))
		queries[b] = keys.Row(b)
	}
	p.Keys = keys

	if !ml.enabled {
		blocks := make([]int, x.Batch)
		for i := range blocks {
			blocks[i] = memory.NoEdit
		}
		p.Blocks = blocks
		return ml.base.Forward(p, x)
	}

	if ml.editing && ml.pendingLabels != nil {
		if len(ml.pendingLabels) != x.Batch {
			return nil, fmt.Errorf("labels for %d examples, batch is %d", len(ml.pendingLabels), x.Batch)
		}
		blocks, outcomes := ml.mem.ApplyBatch(queries, ml.pendingLabels)
		ml.outcomes = append(ml.outcomes, outcomes...)
		ml.pendingLabels = nil
		p.Blocks = blocks
	} else {
		blocks, err := ml.mem.Lookup(queries)
		if errors.Is(err, memory.ErrEmptyStore) {
			blocks = make([]int, x.Batch)
			for i := range blocks {
				blocks[i] = memory.NoEdit
			}
		} else if err != nil {
			return nil, fmt.Errorf("memory lookup: %w", err)
		}
		p.Blocks = blocks
	}

	return ml.base.Forward(p, x)
}

// BlockLinear is a dense layer carrying the shared block-sliced correction.
// The cluster memory's block assignment in the pass selects which slice of
// the pair each example uses.
type BlockLinear struct {
	base    *nn.Linear
	blocks  *adapter.Blocks
	dropout *nn.Dropout

	enabled  bool
	training bool
}

func newBlockLinear(base *nn.Linear, cfg *Config, rng *rand.Rand) (*BlockLinear, error) {
	bl, err := adapter.NewBlocks(base.In, base.Out, cfg.Rank, cfg.BlockSize, cfg.Alpha, rng)
	if err != nil {
		return nil, err
	}
	var drop *nn.Dropout
	if cfg.Dropout > 0 {
		drop = nn.NewDropout(cfg.Dropout, rng)
	}
	return &BlockLinear{base: base, blocks: bl, dropout: drop, enabled: true}, nil
}

func (l *BlockLinear) Base() *nn.Linear        { return l.base }
func (l *BlockLinear) Blocks() *adapter.Blocks { return l.blocks }

func (l *BlockLinear) Forward(p *nn.Pass, x *nn.Tensor) (*nn.Tensor, error) {
	out, err := l.base.Forward(p, x)
	if err != nil {
		return nil, err
	}
	if !l.enabled || l.blocks.Pair.Merged || p.Blocks == nil {
		return out, nil
	}
	corr, err := l.blocks.Correction(l.dropout.Apply(x, l.training), p.Blocks)
	if err != nil {
		return nil, err
	}
	for i := range out.Data {
		out.Data[i] += corr.Data[i]
	}
	return out, nil
}

// MixtureLinear is a dense layer carrying a routed expert bank. Routing
// decisions are appended to the pass for scope fingerprinting.
type MixtureLinear struct {
	base    *nn.Linear
	bank    *adapter.ExpertBank
	gate    *router.Gate
	dropout *nn.Dropout

	enabled  bool
	training bool
}

func newMixtureLinear(base *nn.Linear, cfg *Config, rng *rand.Rand) (*MixtureLinear, error) {
	bank, err := adapter.NewExpertBank(base.In, base.Out, cfg.Rank, cfg.NumExperts, cfg.Alpha, rng)
	if err != nil {
		return nil, err
	}
	gate, err := router.NewGate(base.In, cfg.NumExperts, cfg.TopK, rng)
	if err != nil {
		return nil, err
	}
	var drop *nn.Dropout
	if cfg.Dropout > 0 {
		drop = nn.NewDropout(cfg.Dropout, rng)
	}
	return &MixtureLinear{base: base, bank: bank, gate: gate, dropout: drop, enabled: true}, nil
}

func (l *MixtureLinear) Base() *nn.Linear { return l.base }
func (l *MixtureLinear) Gate() *router.Gate { return l.gate }

func (l *MixtureLinear) Forward(p *nn.Pass, x *nn.Tensor) (*nn.Tensor, error) {
	out, err := l.base.Forward(p, x)
	if err != nil {
		return nil, err
	}
	if !l.enabled {
		return out, nil
	}
	if p.Keys == nil {
		return nil, fmt.Errorf("routed layer reached before the memory layer filled the pass")
	}
	dec, err := l.gate.Forward(p.Keys)
	if err != nil {
		return nil, err
	}
	p.Routes = append(p.Routes, dec.Experts)

	corr, err := l.bank.Correction(l.dropout.Apply(x, l.training), dec, p.InScope)
	if err != nil {
		return nil, err
	}
	for i := range out.Data {
		out.Data[i] += corr.Data[i]
	}
	return out, nil
}
