// Package scope decides whether an incoming example falls inside the edited
// region of behavior. The signal is the routing fingerprint: the
// concatenated k-hot gate decisions of every gated layer, compared by
// Hamming distance against anchors recorded while edits were absorbed.
package scope

import (
	"fmt"
	"math/bits"
)

// Fingerprint is a bit-packed k-hot routing pattern. Bit i is set when
// expert i%experts of layer i/experts was selected.
type Fingerprint []uint64

// Pack concatenates per-layer expert selections into one fingerprint.
// layers[l] lists the selected expert indices of gated layer l.
func Pack(numExperts int, layers [][]int) (Fingerprint, error) {
	total := numExperts * len(layers)
	fp := make(Fingerprint, (total+63)/64)
	for l, selected := range layers {
		for _, e := range selected {
			if e < 0 || e >= numExperts {
				return nil, fmt.Errorf("expert %d outside [0,%d) in layer %d", e, numExperts, l)
			}
			bit := l*numExperts + e
			fp[bit/64] |= 1 << (bit % 64)
		}
	}
	return fp, nil
}

// Hamming counts differing bits between two fingerprints of equal length.
func Hamming(a, b Fingerprint) int {
	total := 0
	for i := range a {
		total += bits.OnesCount64(a[i] ^ b[i])
	}
	return total
}

// Discriminator holds the recorded anchors and the distance threshold.
// While editing, everything is in scope: the batch being absorbed is the
// edit. Outside editing, an example is in scope when its fingerprint sits
// within Threshold of any recorded anchor.
type Discriminator struct {
	Threshold int

	anchors map[string][]Fingerprint
	editing bool
}

func New(threshold int) (*Discriminator, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("scope threshold must be non-negative, got %d", threshold)
	}
	return &Discriminator{Threshold: threshold, anchors: make(map[string][]Fingerprint)}, nil
}

func (d *Discriminator) SetEditing(on bool) {
	d.editing = on
}

// RecordAnchor stores a fingerprint as an anchor for class. Recording the
// same pattern twice is harmless.
func (d *Discriminator) RecordAnchor(class string, fp Fingerprint) {
	d.anchors[class] = append(d.anchors[class], append(Fingerprint(nil), fp...))
}

// AnchorCount returns the number of recorded anchors across all classes.
func (d *Discriminator) AnchorCount() int {
	n := 0
	for _, fps := range d.anchors {
		n += len(fps)
	}
	return n
}

// InScope reports whether fp falls inside the edited region. With no
// recorded anchors nothing is in scope, so an unedited host passes all
// inputs through untouched.
func (d *Discriminator) InScope(fp Fingerprint) bool {
	if d.editing {
		return true
	}
	best, ok := d.Nearest(fp)
	return ok && best < d.Threshold
}

// Nearest returns the minimum Hamming distance from fp to any anchor.
func (d *Discriminator) Nearest(fp Fingerprint) (int, bool) {
	best := -1
	for _, fps := range d.anchors {
		for _, anchor := range fps {
			if len(anchor) != len(fp) {
				continue
			}
			if dist := Hamming(fp, anchor); best == -1 || dist < best {
				best = dist
			}
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}
