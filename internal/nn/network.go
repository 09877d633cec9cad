package nn

import (
	"fmt"
)

// Pass carries the per-forward-pass routing signals produced by the memory
// layer and consumed by every downstream adapter layer. One Pass belongs to
// exactly one forward pass; callers construct a fresh one per pass, which
// makes stale reuse across passes structurally impossible.
type Pass struct {
	// Keys holds the per-example key representations [B x D] extracted by
	// the memory layer, used by downstream gates for routing.
	Keys *Matrix
	// Blocks holds the per-example block assignment, memory.NoEdit when the
	// example matched no cluster.
	Blocks []int
	// InScope flags, per example, whether corrections apply at all.
	InScope []bool
	// Routes collects, per gated layer in forward order, the expert indices
	// each example was routed to. Scope fingerprints are built from it.
	Routes [][][]int
}

// Module is the unit of composition in a host network.
type Module interface {
	Forward(p *Pass, x *Tensor) (*Tensor, error)
}

// NamedModule pairs a module with its dotted path inside the host network.
type NamedModule struct {
	Path   string
	Module Module
}

// Network is a minimal host model: an ordered sequence of named modules the
// editor can enumerate and replace in place. It stands in for whatever model
// the editing core is attached to.
type Network struct {
	modules []NamedModule
	// Quantized marks hosts whose base weights cannot be mutated in place;
	// merge operations must refuse them.
	Quantized bool
	// Arch names the host architecture family, used to refuse merge-and-unload
	// on families with tied/transposed storage.
	Arch string
}

func NewNetwork() *Network {
	return &Network{}
}

// Add appends a module under path. Paths must be unique.
func (n *Network) Add(path string, m Module) error {
	for _, nm := range n.modules {
		if nm.Path == path {
			return fmt.Errorf("duplicate module path: %s", path)
		}
	}
	n.modules = append(n.modules, NamedModule{Path: path, Module: m})
	return nil
}

// NamedModules returns the modules in forward order.
func (n *Network) NamedModules() []NamedModule {
	out := make([]NamedModule, len(n.modules))
	copy(out, n.modules)
	return out
}

// Get returns the module at path.
func (n *Network) Get(path string) (Module, bool) {
	for _, nm := range n.modules {
		if nm.Path == path {
			return nm.Module, true
		}
	}
	return nil, false
}

// Replace swaps the module at path in place, preserving forward order.
func (n *Network) Replace(path string, m Module) error {
	for i, nm := range n.modules {
		if nm.Path == path {
			n.modules[i].Module = m
			return nil
		}
	}
	return fmt.Errorf("module not found: %s", path)
}

// Forward runs the modules in order, threading the pass context through.
func (n *Network) Forward(p *Pass, x *Tensor) (*Tensor, error) {
	out := x
	var err error
	for _, nm := range n.modules {
		out, err = nm.Module.Forward(p, out)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", nm.Path, err)
		}
	}
	return out, nil
}
