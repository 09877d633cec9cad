// Package memory implements the online key-value cluster store behind
// lifelong editing: every accepted edit key lives in exactly one cluster,
// clusters grow to absorb reinforcing keys and split when a conflicting
// label lands inside their radius.
package memory

import (
	"errors"

	"mnemosyne/internal/nn"
)

// NoEdit is the sentinel block assignment for examples outside every cluster.
const NoEdit = -100

// splitEpsilon keeps the two post-split radii strictly disjoint at the
// conflict distance.
const splitEpsilon = 1e-5

// ErrEmptyStore is returned when a search runs against a store with no
// clusters. Callers are expected to check Len first.
var ErrEmptyStore = errors.New("memory: search on empty cluster store")

// Point is one memorized key with its assigned block value.
type Point struct {
	Key   []float64
	Value int
}

// Cluster is one memorized edit region.
type Cluster struct {
	Center []float64
	Radius float64
	Label  []int64
	Points []Point
}

// Store is an append-only collection of clusters. Clusters are never
// deleted; shrinking happens only through conflict splits, which evict
// out-of-radius keys to ForgetKeys.
type Store struct {
	InitRadius float64

	clusters []*Cluster

	ForgetNum    int
	ConflictNum  int
	LookupFaults int
	ForgetKeys   [][]float64
}

func NewStore(initRadius float64) *Store {
	return &Store{InitRadius: initRadius}
}

func (s *Store) Len() int {
	return len(s.clusters)
}

func (s *Store) Cluster(i int) *Cluster {
	return s.clusters[i]
}

// AddCluster appends a new cluster seeded with a single point at key.
func (s *Store) AddCluster(key []float64, value int, label []int64) {
	center := append([]float64(nil), key...)
	s.clusters = append(s.clusters, &Cluster{
		Center: center,
		Radius: s.InitRadius,
		Label:  append([]int64(nil), label...),
		Points: []Point{{Key: append([]float64(nil), key...), Value: value}},
	})
}

// UpdateCluster appends a point to cluster i, recomputes the center as the
// mean of all member keys and the radius as the farthest member distance,
// floored at InitRadius. The radius never shrinks through this path.
func (s *Store) UpdateCluster(i int, key []float64, value int) {
	c := s.clusters[i]
	c.Points = append(c.Points, Point{Key: append([]float64(nil), key...), Value: value})

	center := make([]float64, len(c.Center))
	for _, p := range c.Points {
		for d, v := range p.Key {
			center[d] += v
		}
	}
	for d := range center {
		center[d] /= float64(len(c.Points))
	}
	c.Center = center

	radius := s.InitRadius
	for _, p := range c.Points {
		if dist := nn.Euclidean(p.Key, center); dist > radius {
			radius = dist
		}
	}
	c.Radius = radius
}

// LabelMatch reports whether two label sequences agree on every position
// that neither side marks as ignore (-100). Sequences of different lengths
// never match.
func LabelMatch(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i, av := range a {
		bv := b[i]
		if av == -100 || bv == -100 {
			continue
		}
		if av != bv {
			return false
		}
	}
	return true
}

// SplitClusterRadiiInHalf resolves a label conflict at distance dist between
// cluster i and the most recently appended cluster: the boundary is halved
// so neither cluster can claim the conflicting key. Points of cluster i that
// fall outside the shrunken radius are evicted to ForgetKeys; an emptied
// cluster keeps a sentinel no-op point at its center.
func (s *Store) SplitClusterRadiiInHalf(i int, dist float64) {
	old := s.clusters[i]
	newest := s.clusters[len(s.clusters)-1]
	old.Radius = dist/2 - splitEpsilon
	newest.Radius = dist/2 + splitEpsilon

	kept := old.Points[:0:0]
	for _, p := range old.Points {
		if nn.Euclidean(p.Key, old.Center) <= old.Radius {
			kept = append(kept, p)
		} else {
			s.ForgetKeys = append(s.ForgetKeys, p.Key)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, Point{Key: append([]float64(nil), old.Center...), Value: NoEdit})
	}
	s.ForgetNum += len(old.Points) - len(kept)
	old.Points = kept
	s.ConflictNum++
}

// SearchDatabase returns, per query, the Euclidean distance to the nearest
// cluster center and that cluster's index.
func (s *Store) SearchDatabase(queries [][]float64) ([]float64, []int, error) {
	if len(s.clusters) == 0 {
		return nil, nil, ErrEmptyStore
	}
	minDist := make([]float64, len(queries))
	nearest := make([]int, len(queries))
	for qi, q := range queries {
		best := -1
		bestDist := 0.0
		for ci, c := range s.clusters {
			d := nn.Euclidean(q, c.Center)
			if best == -1 || d < bestDist {
				best = ci
				bestDist = d
			}
		}
		minDist[qi] = bestDist
		nearest[qi] = best
	}
	return minDist, nearest, nil
}

// SearchCluster maps each query to the value of the nearest member point of
// its nearest cluster, or NoEdit when the query falls outside the cluster
// radius. A degenerate lookup (index out of range, cluster with no points)
// forces NoEdit for that example and increments LookupFaults; results are
// never carried over from a previous example.
func (s *Store) SearchCluster(queries [][]float64, minDist []float64, nearest []int) []int {
	values := make([]int, len(queries))
	for qi, q := range queries {
		values[qi] = NoEdit

		ci := nearest[qi]
		if ci < 0 || ci >= len(s.clusters) {
			s.LookupFaults++
			continue
		}
		c := s.clusters[ci]
		if len(c.Points) == 0 {
			s.LookupFaults++
			continue
		}
		if minDist[qi] > c.Radius {
			continue
		}
		best := 0
		bestDist := nn.Euclidean(c.Points[0].Key, q)
		for pi := 1; pi < len(c.Points); pi++ {
			if d := nn.Euclidean(c.Points[pi].Key, q); d < bestDist {
				best = pi
				bestDist = d
			}
		}
		values[qi] = c.Points[best].Value
	}
	return values
}
