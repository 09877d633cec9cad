package editing

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"mnemosyne/internal/memory"
	"mnemosyne/internal/nn"
	"mnemosyne/internal/router"
	"mnemosyne/internal/scope"
)

var (
	// ErrNoTargets means the target selectors matched nothing in the host.
	ErrNoTargets = errors.New("editing: no modules matched the correction targets")
	// ErrQuantizedHost means merge was attempted on a host whose base
	// weights cannot be mutated in place.
	ErrQuantizedHost = errors.New("editing: cannot merge into a quantized host")
	// ErrUnsupportedArch means merge-and-unload was attempted on a host
	// architecture family with non-standard weight storage.
	ErrUnsupportedArch = errors.New("editing: merge-and-unload unsupported for this architecture")
	// ErrRoutedMerge means a merge was attempted in mixture mode, where the
	// correction depends on the input and cannot be folded into weights.
	ErrRoutedMerge = errors.New("editing: mixture corrections are input-routed and cannot be merged")
)

// Architecture families whose dense layers store weights transposed or
// tied; folding a correction in place would corrupt them.
var unsupportedMergeArch = map[string]bool{
	"gpt2": true,
}

// Editor owns one attachment of the editing core to a host network.
type Editor struct {
	cfg Config
	net *nn.Network
	rng *rand.Rand

	memLayer *MemoryLinear
	blocks   []*BlockLinear
	mixtures []*MixtureLinear
	disc     *scope.Discriminator

	editing bool
}

// Attach validates cfg, replaces the configured host modules in place, and
// returns the editor driving them. The memory module must resolve to
// exactly one dense layer and must not also be a correction target.
func Attach(net *nn.Network, cfg Config) (*Editor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("editing config: %w", err)
	}

	e := &Editor{cfg: cfg, net: net, rng: rand.New(rand.NewSource(cfg.Seed))}
	if cfg.Mode == ModeMixture {
		disc, err := scope.New(cfg.ScopeThreshold)
		if err != nil {
			return nil, err
		}
		e.disc = disc
	}

	var targetRe *regexp.Regexp
	if cfg.TargetPattern != "" {
		re, err := regexp.Compile(cfg.TargetPattern)
		if err != nil {
			return nil, fmt.Errorf("target pattern: %w", err)
		}
		targetRe = re
	}
	layerRe, err := regexp.Compile(cfg.LayersPattern)
	if err != nil {
		return nil, fmt.Errorf("layers pattern: %w", err)
	}

	for _, nm := range net.NamedModules() {
		isMemory := nm.Path == cfg.MemoryModule
		isTarget := matchTarget(nm.Path, cfg.TargetModules, targetRe) &&
			layerAllowed(nm.Path, layerRe, cfg.LayersToTransform)
		if !isMemory && !isTarget {
			continue
		}
		if isMemory && isTarget {
			return nil, fmt.Errorf("module %s is both the memory host and a correction target", nm.Path)
		}
		base, ok := nm.Module.(*nn.Linear)
		if !ok {
			return nil, fmt.Errorf("module %s is not a dense layer (%T)", nm.Path, nm.Module)
		}

		var wrapped nn.Module
		switch {
		case isMemory:
			if e.memLayer != nil {
				return nil, fmt.Errorf("memory module path %s matched more than once", cfg.MemoryModule)
			}
			e.memLayer = newMemoryLinear(base, memory.New(cfg.InitRadius), cfg.KeyID)
			wrapped = e.memLayer
		case cfg.Mode == ModeBlockwise:
			bl, err := newBlockLinear(base, &cfg, e.rng)
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", nm.Path, err)
			}
			e.blocks = append(e.blocks, bl)
			wrapped = bl
		default:
			ml, err := newMixtureLinear(base, &cfg, e.rng)
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", nm.Path, err)
			}
			e.mixtures = append(e.mixtures, ml)
			wrapped = ml
		}
		if err := net.Replace(nm.Path, wrapped); err != nil {
			return nil, err
		}
	}

	if e.memLayer == nil {
		return nil, fmt.Errorf("memory module path %s matched nothing", cfg.MemoryModule)
	}
	if len(e.blocks)+len(e.mixtures) == 0 {
		return nil, ErrNoTargets
	}
	return e, nil
}

func matchTarget(path string, suffixes []string, re *regexp.Regexp) bool {
	if re != nil {
		return re.MatchString(path)
	}
	for _, s := range suffixes {
		if path == s || strings.HasSuffix(path, "."+s) {
			return true
		}
	}
	return false
}

func layerAllowed(path string, re *regexp.Regexp, allowed []int) bool {
	if len(allowed) == 0 {
		return true
	}
	m := re.FindStringSubmatch(path)
	if len(m) < 2 {
		return false
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if a == idx {
			return true
		}
	}
	return false
}

func (e *Editor) Config() Config                 { return e.cfg }
func (e *Editor) Memory() *memory.Memory         { return e.memLayer.Memory() }
func (e *Editor) Scope() *scope.Discriminator    { return e.disc }
func (e *Editor) TakeOutcomes() []memory.Outcome { return e.memLayer.TakeOutcomes() }

// BeginEdit enters edit-absorption mode for one batch: the labels drive the
// cluster store update on the next forward pass, gates accumulate guidance
// loss, and every example is treated as in scope.
func (e *Editor) BeginEdit(labels [][]int64) error {
	if len(labels) == 0 {
		return fmt.Errorf("edit batch needs labels")
	}
	e.editing = true
	e.memLayer.editing = true
	e.memLayer.SetLabels(labels)
	for _, bl := range e.blocks {
		bl.training = true
	}
	for _, ml := range e.mixtures {
		ml.training = true
		ml.gate.SetEditing(true)
	}
	if e.disc != nil {
		e.disc.SetEditing(true)
	}
	if e.cfg.Mode == ModeMixture && e.cfg.Preset != RoutingLearned {
		mode := router.PresetSoft
		if e.cfg.Preset == RoutingHard {
			mode = router.PresetHard
		}
		// Target the experts addressed by the batch's block, wrapped into
		// the expert range so long edit streams reuse capacity.
		target := e.Memory().CurrentBlock() % e.cfg.NumExperts
		for _, ml := range e.mixtures {
			if err := ml.gate.SetTarget(mode, []int{target}); err != nil {
				return err
			}
		}
	}
	return nil
}

// EndEdit leaves edit-absorption mode.
func (e *Editor) EndEdit() {
	e.editing = false
	e.memLayer.editing = false
	e.memLayer.pendingLabels = nil
	for _, bl := range e.blocks {
		bl.training = false
	}
	for _, ml := range e.mixtures {
		ml.training = false
		ml.gate.SetEditing(false)
	}
	if e.disc != nil {
		e.disc.SetEditing(false)
	}
}

// Forward runs the host on x and returns the output with the pass context.
// In mixture mode outside editing, a routing-only prepass fixes each
// example's scope before corrections apply.
func (e *Editor) Forward(x *nn.Tensor) (*nn.Tensor, *nn.Pass, error) {
	p := &nn.Pass{}
	if e.cfg.Mode == ModeMixture {
		inScope, err := e.classifyScope(x)
		if err != nil {
			return nil, nil, err
		}
		p.InScope = inScope
	}
	out, err := e.net.Forward(p, x)
	if err != nil {
		return nil, nil, err
	}
	return out, p, nil
}

// classifyScope runs the host with corrections disabled to observe the raw
// routing fingerprints, then discriminates each example against the
// recorded anchors. While editing everything is in scope and the prepass is
// skipped.
func (e *Editor) classifyScope(x *nn.Tensor) ([]bool, error) {
	inScope := make([]bool, x.Batch)
	if e.editing {
		for i := range inScope {
			inScope[i] = true
		}
		return inScope, nil
	}
	fps, err := e.fingerprints(x)
	if err != nil {
		return nil, err
	}
	for i, fp := range fps {
		inScope[i] = e.disc.InScope(fp)
	}
	return inScope, nil
}

// fingerprints routes x without applying corrections and packs each
// example's per-layer expert selections into a fingerprint. The gates run
// with presets and guidance suspended: anchors recorded mid-edit and the
// fingerprints discriminated at inference must come from the same learned
// routing, or an edited input re-presented later would land out of scope.
func (e *Editor) fingerprints(x *nn.Tensor) ([]scope.Fingerprint, error) {
	for _, ml := range e.mixtures {
		restore := ml.gate.SuspendPreset()
		defer restore()
	}
	p := &nn.Pass{InScope: make([]bool, x.Batch)}
	if _, err := e.net.Forward(p, x); err != nil {
		return nil, fmt.Errorf("routing prepass: %w", err)
	}
	fps := make([]scope.Fingerprint, x.Batch)
	for b := 0; b < x.Batch; b++ {
		perLayer := make([][]int, len(p.Routes))
		for l, route := range p.Routes {
			perLayer[l] = route[b]
		}
		fp, err := scope.Pack(e.cfg.NumExperts, perLayer)
		if err != nil {
			return nil, err
		}
		fps[b] = fp
	}
	return fps, nil
}

// RecordAnchors stores each example's routing fingerprint as a scope anchor
// for class. Called right after a batch of edits is absorbed, so later
// inputs routed the same way land in scope.
func (e *Editor) RecordAnchors(class string, x *nn.Tensor) error {
	if e.disc == nil {
		return fmt.Errorf("scope anchors only exist in mixture mode")
	}
	fps, err := e.fingerprints(x)
	if err != nil {
		return err
	}
	for _, fp := range fps {
		e.disc.RecordAnchor(class, fp)
	}
	return nil
}

// GuidanceLoss drains the accumulated routing guidance loss across all
// gated layers, normalized by batch.
func (e *Editor) GuidanceLoss(batch int) float64 {
	total := 0.0
	for _, ml := range e.mixtures {
		total += ml.gate.TakeLoss(batch)
	}
	return total
}

// SetAdaptersEnabled toggles all corrections at once; disabled, the host
// behaves as if never edited (the memory layer still fills the pass).
func (e *Editor) SetAdaptersEnabled(on bool) {
	for _, bl := range e.blocks {
		bl.enabled = on
	}
	for _, ml := range e.mixtures {
		ml.enabled = on
	}
}

// SetMemoryEnabled toggles the memory layer. Disabled, it acts as a plain
// dense layer: no store lookup, no absorption, every example assigned
// NoEdit. Keys still fill the pass so routed layers stay well-formed.
func (e *Editor) SetMemoryEnabled(on bool) {
	e.memLayer.enabled = on
}

// MergeAdapter folds every blockwise correction into its host weights.
// Merging twice is a no-op. Mixture corrections are refused: which experts
// apply depends on the input.
func (e *Editor) MergeAdapter() error {
	if err := e.mergeable(); err != nil {
		return err
	}
	for _, bl := range e.blocks {
		if _, err := bl.blocks.Pair.Merge(bl.base.Weight); err != nil {
			return err
		}
	}
	return nil
}

// UnmergeAdapter subtracts previously merged corrections back out.
func (e *Editor) UnmergeAdapter() error {
	if err := e.mergeable(); err != nil {
		return err
	}
	for _, bl := range e.blocks {
		if _, err := bl.blocks.Pair.Unmerge(bl.base.Weight); err != nil {
			return err
		}
	}
	return nil
}

func (e *Editor) mergeable() error {
	if e.cfg.Mode == ModeMixture {
		return ErrRoutedMerge
	}
	if e.net.Quantized {
		return ErrQuantizedHost
	}
	return nil
}

// MergeAndUnload merges all corrections and restores plain dense layers in
// the host, leaving no trace of the attachment.
func (e *Editor) MergeAndUnload() (*nn.Network, error) {
	if unsupportedMergeArch[e.net.Arch] {
		return nil, ErrUnsupportedArch
	}
	if err := e.MergeAdapter(); err != nil {
		return nil, err
	}
	for _, nm := range e.net.NamedModules() {
		switch m := nm.Module.(type) {
		case *MemoryLinear:
			if err := e.net.Replace(nm.Path, m.base); err != nil {
				return nil, err
			}
		case *BlockLinear:
			if err := e.net.Replace(nm.Path, m.base); err != nil {
				return nil, err
			}
		}
	}
	return e.net, nil
}

// TrainableParameters lists the parameter groups a training loop should
// update, honoring the bias policy.
func (e *Editor) TrainableParameters() []string {
	var names []string
	for i := range e.blocks {
		names = append(names, fmt.Sprintf("blocks.%d.lora_A", i), fmt.Sprintf("blocks.%d.lora_B", i))
	}
	for i := range e.mixtures {
		names = append(names, fmt.Sprintf("experts.%d.lora", i), fmt.Sprintf("experts.%d.gate", i))
	}
	switch e.cfg.Bias {
	case BiasAll:
		for _, nm := range e.net.NamedModules() {
			names = append(names, nm.Path+".bias")
		}
	case BiasLoraOnly:
		for i := range e.blocks {
			names = append(names, fmt.Sprintf("blocks.%d.bias", i))
		}
		for i := range e.mixtures {
			names = append(names, fmt.Sprintf("experts.%d.bias", i))
		}
	}
	return names
}

// ConfigSnapshot renders the attachment configuration as a flat map, the
// shape persisted alongside session artifacts. With inference set, the
// snapshot marks the attachment frozen.
func (e *Editor) ConfigSnapshot(inference bool) map[string]any {
	snap := map[string]any{
		"mode":            string(e.cfg.Mode),
		"rank":            e.cfg.Rank,
		"alpha":           e.cfg.Alpha,
		"dropout":         e.cfg.Dropout,
		"init_radius":     e.cfg.InitRadius,
		"key_position":    e.cfg.KeyID,
		"memory_module":   e.cfg.MemoryModule,
		"target_modules":  append([]string(nil), e.cfg.TargetModules...),
		"target_pattern":  e.cfg.TargetPattern,
		"bias":            string(e.cfg.Bias),
	}
	switch e.cfg.Mode {
	case ModeBlockwise:
		snap["block_size"] = e.cfg.BlockSize
	case ModeMixture:
		snap["num_experts"] = e.cfg.NumExperts
		snap["top_k"] = e.cfg.TopK
		snap["scope_threshold"] = e.cfg.ScopeThreshold
		snap["routing_preset"] = string(e.cfg.Preset)
	}
	if inference {
		snap["inference_mode"] = true
	}
	return snap
}
