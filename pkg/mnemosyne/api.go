// Package mnemosyne is the embedding surface for the lifelong editing core:
// build a host network, attach the editor, absorb edit sessions, and query
// the recorded telemetry.
package mnemosyne

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"mnemosyne/internal/editing"
	"mnemosyne/internal/nn"
	"mnemosyne/internal/session"
	"mnemosyne/internal/stats"
	"mnemosyne/internal/storage"
)

const (
	defaultSessionsDir = "sessions"
	defaultExportsDir  = "exports"
	defaultDBPath      = "mnemosyne.db"
)

type Options struct {
	StoreKind   string
	DBPath      string
	SessionsDir string
	ExportsDir  string
}

type Client struct {
	store  storage.Store
	editor *editing.Editor
	runner *session.Runner

	sessionsDir string
	exportsDir  string

	initialized bool
}

// LayerSpec declares one dense layer of the host network, in forward order.
type LayerSpec struct {
	Path string
	In   int
	Out  int
}

// AttachRequest builds a host network and attaches the editing core to it.
type AttachRequest struct {
	Layers []LayerSpec

	Mode      string
	Rank      int
	Alpha     float64
	Dropout   float64
	BlockSize int

	NumExperts int
	TopK       int
	Preset     string

	InitRadius     float64
	KeyPosition    int
	ScopeThreshold int

	MemoryModule  string
	TargetModules []string
	TargetPattern string

	Bias string
	Seed int64
}

// EditExample is one (input, labels) pair; Input is [seq x dim].
type EditExample struct {
	Input  [][]float64
	Labels []int64
}

// SessionRequest absorbs the batches in order under one session id.
type SessionRequest struct {
	SessionID string
	Batches   [][]EditExample
	Class     string
}

type SessionSummary struct {
	SessionID    string
	Mode         string
	Batches      int
	Examples     int
	Clusters     int
	Conflicts    int
	Forgotten    int
	LookupFaults int
	GuidanceLoss float64
}

type SessionsRequest struct {
	Limit int
}

type SessionItem struct {
	SessionID    string
	Mode         string
	Batches      int
	Examples     int
	Clusters     int
	Conflicts    int
	CreatedAtUTC string
}

type HistoryRequest struct {
	SessionID string
	Latest    bool
	Limit     int
}

type HistoryItem struct {
	Seq      int
	Batch    int
	Action   string
	Cluster  int
	Block    int
	Distance float64
}

type ExportRequest struct {
	SessionID string
	Latest    bool
	OutDir    string
}

type ExportSummary struct {
	SessionID string
	Directory string
}

// InferRequest runs edited inference on one batch of inputs.
type InferRequest struct {
	Inputs []EditExample
}

type InferResult struct {
	Outputs [][]float64
	Blocks  []int
	InScope []bool
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	sessionsDir := opts.SessionsDir
	if sessionsDir == "" {
		sessionsDir = defaultSessionsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:       store,
		sessionsDir: sessionsDir,
		exportsDir:  exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Attach builds the host and wires the editing core into it. Attaching
// replaces any previous attachment and its memory.
func (c *Client) Attach(req AttachRequest) error {
	if len(req.Layers) == 0 {
		return errors.New("attach requires at least one layer")
	}

	rng := rand.New(rand.NewSource(req.Seed))
	net := nn.NewNetwork()
	for _, spec := range req.Layers {
		if spec.In <= 0 || spec.Out <= 0 {
			return fmt.Errorf("layer %s has invalid shape %dx%d", spec.Path, spec.In, spec.Out)
		}
		if err := net.Add(spec.Path, nn.NewLinear(spec.In, spec.Out, rng)); err != nil {
			return err
		}
	}

	cfg := editing.Config{
		Mode:           editing.Mode(req.Mode),
		Rank:           req.Rank,
		Alpha:          req.Alpha,
		Dropout:        req.Dropout,
		BlockSize:      req.BlockSize,
		NumExperts:     req.NumExperts,
		TopK:           req.TopK,
		Preset:         editing.RoutingPreset(req.Preset),
		InitRadius:     req.InitRadius,
		KeyID:          req.KeyPosition,
		ScopeThreshold: req.ScopeThreshold,
		MemoryModule:   req.MemoryModule,
		TargetModules:  append([]string(nil), req.TargetModules...),
		TargetPattern:  req.TargetPattern,
		Bias:           editing.BiasMode(req.Bias),
		Seed:           req.Seed,
	}
	editor, err := editing.Attach(net, cfg)
	if err != nil {
		return err
	}
	c.editor = editor
	c.runner = session.NewRunner(editor, c.store, c.sessionsDir)
	return nil
}

// RunSession absorbs the request's batches and persists the telemetry.
func (c *Client) RunSession(ctx context.Context, req SessionRequest) (SessionSummary, error) {
	if c.runner == nil {
		return SessionSummary{}, errors.New("no attachment; call Attach first")
	}
	if err := c.Init(ctx); err != nil {
		return SessionSummary{}, err
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UTC().Unix())
	}

	batches := make([]session.Batch, 0, len(req.Batches))
	for bi, examples := range req.Batches {
		batch, err := toBatch(examples)
		if err != nil {
			return SessionSummary{}, fmt.Errorf("batch %d: %w", bi, err)
		}
		batch.Class = req.Class
		batches = append(batches, batch)
	}

	summary, err := c.runner.Run(ctx, sessionID, batches)
	if err != nil {
		return SessionSummary{}, err
	}
	return SessionSummary{
		SessionID:    summary.ID,
		Mode:         summary.Mode,
		Batches:      summary.Batches,
		Examples:     summary.Examples,
		Clusters:     summary.Clusters,
		Conflicts:    summary.Conflicts,
		Forgotten:    summary.Forgotten,
		LookupFaults: summary.LookupFaults,
		GuidanceLoss: summary.GuidanceLoss,
	}, nil
}

// Infer runs the attached host on a batch and reports, per example, the
// output at the key position plus the routing decisions made for it.
func (c *Client) Infer(_ context.Context, req InferRequest) (InferResult, error) {
	if c.editor == nil {
		return InferResult{}, errors.New("no attachment; call Attach first")
	}
	batch, err := toBatchInputs(req.Inputs)
	if err != nil {
		return InferResult{}, err
	}

	out, pass, err := c.editor.Forward(batch)
	if err != nil {
		return InferResult{}, err
	}

	keyID := c.editor.Config().KeyID
	result := InferResult{
		Outputs: make([][]float64, out.Batch),
		Blocks:  append([]int(nil), pass.Blocks...),
		InScope: append([]bool(nil), pass.InScope...),
	}
	for b := 0; b < out.Batch; b++ {
		result.Outputs[b] = append([]float64(nil), out.Row(b, keyID)...)
	}
	return result, nil
}

// Sessions lists recorded sessions, newest first.
func (c *Client) Sessions(_ context.Context, req SessionsRequest) ([]SessionItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListSessionIndex(c.sessionsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]SessionItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, SessionItem{
			SessionID:    e.SessionID,
			Mode:         e.Mode,
			Batches:      e.Batches,
			Examples:     e.Examples,
			Clusters:     e.Clusters,
			Conflicts:    e.Conflicts,
			CreatedAtUTC: e.CreatedAtUTC,
		})
	}
	return out, nil
}

// History returns a session's per-example audit trail.
func (c *Client) History(ctx context.Context, req HistoryRequest) ([]HistoryItem, error) {
	if req.SessionID != "" && req.Latest {
		return nil, errors.New("use either session id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}

	sessionID, err := c.resolveSessionID(req.SessionID, req.Latest)
	if err != nil {
		return nil, err
	}

	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	records, ok, err := c.store.GetEditRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("history not found for session id: %s", sessionID)
	}
	if req.Limit > 0 && len(records) > req.Limit {
		records = records[:req.Limit]
	}

	out := make([]HistoryItem, 0, len(records))
	for _, rec := range records {
		out = append(out, HistoryItem{
			Seq:      rec.Seq,
			Batch:    rec.Batch,
			Action:   rec.Action,
			Cluster:  rec.Cluster,
			Block:    rec.Block,
			Distance: rec.Distance,
		})
	}
	return out, nil
}

// Export copies one session's artifact directory under OutDir.
func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.SessionID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either session id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	sessionID, err := c.resolveSessionID(req.SessionID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportSessionArtifacts(c.sessionsDir, sessionID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{SessionID: sessionID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveSessionID(sessionID string, latest bool) (string, error) {
	if latest {
		entries, err := stats.ListSessionIndex(c.sessionsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no sessions available")
		}
		return entries[0].SessionID, nil
	}
	if sessionID == "" {
		return "", errors.New("session id or latest is required")
	}
	return sessionID, nil
}

func toBatch(examples []EditExample) (session.Batch, error) {
	inputs, err := toBatchInputs(examples)
	if err != nil {
		return session.Batch{}, err
	}
	labels := make([][]int64, len(examples))
	for i, ex := range examples {
		if len(ex.Labels) == 0 {
			return session.Batch{}, fmt.Errorf("example %d has no labels", i)
		}
		labels[i] = append([]int64(nil), ex.Labels...)
	}
	return session.Batch{Inputs: inputs, Labels: labels}, nil
}

func toBatchInputs(examples []EditExample) (*nn.Tensor, error) {
	if len(examples) == 0 {
		return nil, errors.New("empty batch")
	}
	seq := len(examples[0].Input)
	if seq == 0 {
		return nil, errors.New("example 0 has no input rows")
	}
	dim := len(examples[0].Input[0])

	x := nn.NewTensor(len(examples), seq, dim)
	for i, ex := range examples {
		if len(ex.Input) != seq {
			return nil, fmt.Errorf("example %d sequence length %d, want %d", i, len(ex.Input), seq)
		}
		for s, row := range ex.Input {
			if len(row) != dim {
				return nil, fmt.Errorf("example %d row %d dim %d, want %d", i, s, len(row), dim)
			}
			copy(x.Row(i, s), row)
		}
	}
	return x, nil
}
