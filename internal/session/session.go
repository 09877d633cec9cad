// Package session drives editing sessions end to end: feed edit batches
// through an attached editor, collect the audit trail, and persist the
// telemetry to the configured store and artifact directory.
package session

import (
	"context"
	"fmt"
	"time"

	"mnemosyne/internal/editing"
	"mnemosyne/internal/model"
	"mnemosyne/internal/nn"
	"mnemosyne/internal/stats"
	"mnemosyne/internal/storage"
)

// Batch is one unit of edit absorption: a batch of inputs with the labels
// the host should produce for them. Class names the scope anchor group; it
// defaults to the session id.
type Batch struct {
	Inputs *nn.Tensor
	Labels [][]int64
	Class  string
}

// Runner executes sessions against one editor. Store and artifacts are both
// optional; a nil store with an empty artifacts dir makes Run purely
// in-memory.
type Runner struct {
	editor       *editing.Editor
	store        storage.Store
	artifactsDir string

	now func() time.Time
}

func NewRunner(editor *editing.Editor, store storage.Store, artifactsDir string) *Runner {
	return &Runner{
		editor:       editor,
		store:        store,
		artifactsDir: artifactsDir,
		now:          time.Now,
	}
}

// Run absorbs the batches in order and returns the session summary. The
// context is honored between batches; a cancelled session persists nothing.
func (r *Runner) Run(ctx context.Context, id string, batches []Batch) (model.SessionSummary, error) {
	if id == "" {
		return model.SessionSummary{}, fmt.Errorf("session id is required")
	}
	if len(batches) == 0 {
		return model.SessionSummary{}, fmt.Errorf("session %s has no batches", id)
	}

	started := r.now().UTC()
	cfg := r.editor.Config()

	var records []model.EditRecord
	guidance := 0.0
	examples := 0
	seq := 0
	for bi, batch := range batches {
		if err := ctx.Err(); err != nil {
			return model.SessionSummary{}, err
		}
		if batch.Inputs == nil || batch.Inputs.Batch != len(batch.Labels) {
			return model.SessionSummary{}, fmt.Errorf("batch %d: inputs and labels disagree", bi)
		}

		if err := r.editor.BeginEdit(batch.Labels); err != nil {
			return model.SessionSummary{}, fmt.Errorf("batch %d: %w", bi, err)
		}
		if _, _, err := r.editor.Forward(batch.Inputs); err != nil {
			r.editor.EndEdit()
			return model.SessionSummary{}, fmt.Errorf("batch %d: %w", bi, err)
		}
		guidance += r.editor.GuidanceLoss(len(batch.Labels))
		if cfg.Mode == editing.ModeMixture {
			class := batch.Class
			if class == "" {
				class = id
			}
			if err := r.editor.RecordAnchors(class, batch.Inputs); err != nil {
				r.editor.EndEdit()
				return model.SessionSummary{}, fmt.Errorf("batch %d: %w", bi, err)
			}
		}
		r.editor.EndEdit()

		for _, outcome := range r.editor.TakeOutcomes() {
			records = append(records, model.EditRecord{
				VersionedRecord: model.VersionedRecord{
					SchemaVersion: storage.CurrentSchemaVersion,
					CodecVersion:  storage.CurrentCodecVersion,
				},
				SessionID: id,
				Seq:       seq,
				Batch:     outcome.Block,
				Action:    outcome.Action.String(),
				Cluster:   outcome.Cluster,
				Block:     outcome.Block,
				Distance:  outcome.Distance,
			})
			seq++
		}
		examples += len(batch.Labels)
	}

	mem := r.editor.Memory()
	summary := model.SessionSummary{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:           id,
		StartedAt:    started,
		FinishedAt:   r.now().UTC(),
		Mode:         string(cfg.Mode),
		Batches:      len(batches),
		Examples:     examples,
		Clusters:     mem.Store.Len(),
		Conflicts:    mem.Store.ConflictNum,
		Forgotten:    mem.Store.ForgetNum,
		LookupFaults: mem.Store.LookupFaults,
		GuidanceLoss: guidance,
		Config:       r.editor.ConfigSnapshot(false),
	}

	if err := r.persist(ctx, summary, records); err != nil {
		return model.SessionSummary{}, err
	}
	return summary, nil
}

func (r *Runner) persist(ctx context.Context, summary model.SessionSummary, records []model.EditRecord) error {
	if r.store != nil {
		if err := r.store.SaveEditRecords(ctx, summary.ID, records); err != nil {
			return fmt.Errorf("save edit records: %w", err)
		}
		if err := r.store.SaveSessionSummary(ctx, summary); err != nil {
			return fmt.Errorf("save session summary: %w", err)
		}
	}
	if r.artifactsDir != "" {
		artifacts := stats.SessionArtifacts{
			Summary: summary,
			Records: records,
			Config:  summary.Config,
		}
		if _, err := stats.WriteSessionArtifacts(r.artifactsDir, artifacts); err != nil {
			return fmt.Errorf("write artifacts: %w", err)
		}
		entry := stats.SessionIndexEntry{
			SessionID:    summary.ID,
			Mode:         summary.Mode,
			Batches:      summary.Batches,
			Examples:     summary.Examples,
			Clusters:     summary.Clusters,
			Conflicts:    summary.Conflicts,
			CreatedAtUTC: summary.FinishedAt.Format(time.RFC3339),
		}
		if err := stats.AppendSessionIndex(r.artifactsDir, entry); err != nil {
			return fmt.Errorf("append session index: %w", err)
		}
	}
	return nil
}
