package storage

import (
	"context"

	"mnemosyne/internal/model"
)

// Store defines persistence for editing-session telemetry.
type Store interface {
	Init(ctx context.Context) error
	SaveEditRecords(ctx context.Context, sessionID string, records []model.EditRecord) error
	GetEditRecords(ctx context.Context, sessionID string) ([]model.EditRecord, bool, error)
	SaveSessionSummary(ctx context.Context, summary model.SessionSummary) error
	GetSessionSummary(ctx context.Context, id string) (model.SessionSummary, bool, error)
	ListSessions(ctx context.Context) ([]string, error)
}
