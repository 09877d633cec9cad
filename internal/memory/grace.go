package memory

// Action classifies what the store did with one training example.
type Action int

const (
	// ActionSeed: example landed in an empty store and seeded a cluster.
	ActionSeed Action = iota
	// ActionNew: example fell far outside every cluster and opened a new one.
	ActionNew
	// ActionReinforce: example landed inside a cluster with a matching label.
	ActionReinforce
	// ActionConflictSplit: example landed inside a cluster with a different
	// label; a new cluster was opened and the boundary split.
	ActionConflictSplit
	// ActionLookup: inference-time lookup, no store mutation.
	ActionLookup
)

func (a Action) String() string {
	switch a {
	case ActionSeed:
		return "seed"
	case ActionNew:
		return "new-cluster"
	case ActionReinforce:
		return "reinforce"
	case ActionConflictSplit:
		return "conflict-split"
	case ActionLookup:
		return "lookup"
	default:
		return "unknown"
	}
}

// Outcome records one example's fate during a batch update, for telemetry.
type Outcome struct {
	Action   Action
	Cluster  int
	Block    int
	Distance float64
}

// Memory wraps a cluster store with the monotonically increasing edit-block
// counter. One Memory instance backs one edited host network; the counter
// advances once per accepted training batch, so every example in a batch
// shares the same block.
type Memory struct {
	Store   *Store
	blockID int
}

func New(initRadius float64) *Memory {
	return &Memory{Store: NewStore(initRadius)}
}

// CurrentBlock returns the block id the next training batch will be
// assigned, which is also the number of batches absorbed so far.
func (m *Memory) CurrentBlock() int {
	return m.blockID
}

// Lookup maps each query key to its memorized block assignment without
// mutating the store. Queries against an empty store surface ErrEmptyStore;
// callers decide whether that means "no edits yet, pass through" or a bug.
func (m *Memory) Lookup(queries [][]float64) ([]int, error) {
	dists, nearest, err := m.Store.SearchDatabase(queries)
	if err != nil {
		return nil, err
	}
	return m.Store.SearchCluster(queries, dists, nearest), nil
}

// ApplyBatch absorbs one training batch of (key, label) pairs. Every example
// is assigned the current block; the store is grown, reinforced, or split per
// example, then the block counter advances once. The returned mapping is the
// per-example block assignment and the outcomes describe each decision.
func (m *Memory) ApplyBatch(queries [][]float64, labels [][]int64) ([]int, []Outcome) {
	mapping := make([]int, len(queries))
	outcomes := make([]Outcome, len(queries))

	if m.Store.Len() == 0 {
		for i, q := range queries {
			m.Store.AddCluster(q, m.blockID, labels[i])
			mapping[i] = m.blockID
			outcomes[i] = Outcome{Action: ActionSeed, Cluster: m.Store.Len() - 1, Block: m.blockID}
		}
		m.blockID++
		return mapping, outcomes
	}

	dists, nearest, err := m.Store.SearchDatabase(queries)
	if err != nil {
		// Unreachable: the store is non-empty here.
		panic(err)
	}
	for i, q := range queries {
		mapping[i] = m.blockID
		c := m.Store.Cluster(nearest[i])
		switch {
		case dists[i] > c.Radius+m.Store.InitRadius:
			m.Store.AddCluster(q, m.blockID, labels[i])
			outcomes[i] = Outcome{Action: ActionNew, Cluster: m.Store.Len() - 1, Block: m.blockID, Distance: dists[i]}
		case LabelMatch(c.Label, labels[i]):
			m.Store.UpdateCluster(nearest[i], q, m.blockID)
			outcomes[i] = Outcome{Action: ActionReinforce, Cluster: nearest[i], Block: m.blockID, Distance: dists[i]}
		default:
			m.Store.AddCluster(q, m.blockID, labels[i])
			m.Store.SplitClusterRadiiInHalf(nearest[i], dists[i])
			outcomes[i] = Outcome{Action: ActionConflictSplit, Cluster: m.Store.Len() - 1, Block: m.blockID, Distance: dists[i]}
		}
	}
	m.blockID++
	return mapping, outcomes
}
