// Package editing wires the cluster memory, routing, and low-rank
// correction layers into a host network and drives the edit lifecycle.
package editing

import (
	"fmt"
)

// Mode selects how corrections are held and addressed.
type Mode string

const (
	// ModeBlockwise holds all edits in one shared pair, sliced into blocks
	// addressed by the cluster memory's block assignment.
	ModeBlockwise Mode = "blockwise"
	// ModeMixture holds one pair per expert and routes examples through a
	// learned gate.
	ModeMixture Mode = "mixture"
)

// BiasMode controls which bias parameters are reported trainable.
type BiasMode string

const (
	BiasNone     BiasMode = "none"
	BiasAll      BiasMode = "all"
	BiasLoraOnly BiasMode = "lora_only"
)

// RoutingPreset names the gate preset used while absorbing edits.
type RoutingPreset string

const (
	RoutingLearned RoutingPreset = "learned"
	RoutingHard    RoutingPreset = "hard"
	RoutingSoft    RoutingPreset = "soft"
)

// Config describes one attachment of the editing core to a host network.
// Zero values fall back to defaults in Validate; invalid combinations are
// rejected there rather than surfacing as shape errors mid-forward.
type Config struct {
	Mode Mode

	// Low-rank correction shape.
	Rank    int
	Alpha   float64
	Dropout float64

	// Blockwise addressing.
	BlockSize int

	// Mixture routing.
	NumExperts int
	TopK       int
	Preset     RoutingPreset

	// Cluster memory.
	InitRadius float64
	// KeyID is the sequence position whose activation vector is the
	// example's key.
	KeyID int

	// Scope discrimination (mixture mode).
	ScopeThreshold int

	// Module selection. MemoryModule is the exact path of the layer that
	// hosts the cluster memory. TargetModules lists dotted-path suffixes to
	// receive corrections; TargetPattern is a regexp alternative. At most
	// one of the two may be set.
	MemoryModule  string
	TargetModules []string
	TargetPattern string

	// Optional layer-index filter: only matched paths whose index (captured
	// by LayersPattern, default `layers\.(\d+)\.`) is listed are transformed.
	LayersToTransform []int
	LayersPattern     string

	Bias BiasMode

	Seed int64
}

// Validate fills defaults and rejects invalid configurations.
func (c *Config) Validate() error {
	if c.Mode == "" {
		c.Mode = ModeBlockwise
	}
	if c.Mode != ModeBlockwise && c.Mode != ModeMixture {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Rank <= 0 {
		return fmt.Errorf("rank must be positive, got %d", c.Rank)
	}
	if c.Alpha == 0 {
		c.Alpha = float64(c.Rank)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0,1), got %f", c.Dropout)
	}
	if c.InitRadius <= 0 {
		return fmt.Errorf("init radius must be positive, got %f", c.InitRadius)
	}
	if c.KeyID < 0 {
		return fmt.Errorf("key position must be non-negative, got %d", c.KeyID)
	}
	if c.MemoryModule == "" {
		return fmt.Errorf("memory module path is required")
	}
	if len(c.TargetModules) > 0 && c.TargetPattern != "" {
		return fmt.Errorf("target modules and target pattern are mutually exclusive")
	}
	if len(c.TargetModules) == 0 && c.TargetPattern == "" {
		return fmt.Errorf("no correction targets configured")
	}
	if c.LayersPattern == "" {
		c.LayersPattern = `layers\.(\d+)\.`
	}

	switch c.Mode {
	case ModeBlockwise:
		if c.BlockSize <= 0 {
			return fmt.Errorf("block size must be positive, got %d", c.BlockSize)
		}
		if c.Rank%c.BlockSize != 0 {
			return fmt.Errorf("rank %d is not a multiple of block size %d", c.Rank, c.BlockSize)
		}
	case ModeMixture:
		if c.NumExperts <= 0 {
			return fmt.Errorf("mixture mode needs experts, got %d", c.NumExperts)
		}
		if c.TopK <= 0 {
			c.TopK = 1
		}
		if c.TopK > c.NumExperts {
			return fmt.Errorf("top-k %d exceeds expert count %d", c.TopK, c.NumExperts)
		}
		if c.ScopeThreshold < 0 {
			return fmt.Errorf("scope threshold must be non-negative, got %d", c.ScopeThreshold)
		}
		if c.Preset == "" {
			c.Preset = RoutingLearned
		}
		switch c.Preset {
		case RoutingLearned, RoutingHard, RoutingSoft:
		default:
			return fmt.Errorf("unknown routing preset %q", c.Preset)
		}
	}

	if c.Bias == "" {
		c.Bias = BiasNone
	}
	switch c.Bias {
	case BiasNone, BiasAll, BiasLoraOnly:
	default:
		return fmt.Errorf("unknown bias mode %q", c.Bias)
	}
	return nil
}
