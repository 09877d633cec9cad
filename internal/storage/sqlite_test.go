//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"mnemosyne/internal/model"
)

func TestSQLiteStoreSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "mnemosyne.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	summary := model.SessionSummary{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		ID:              "session-1",
		Mode:            "blockwise",
		Batches:         1,
		Examples:        2,
		Clusters:        2,
	}
	if err := store.SaveSessionSummary(ctx, summary); err != nil {
		t.Fatalf("save summary: %v", err)
	}

	loaded, ok, err := store.GetSessionSummary(ctx, summary.ID)
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if !ok {
		t.Fatalf("expected session %s", summary.ID)
	}
	if loaded.Clusters != summary.Clusters || loaded.Mode != summary.Mode {
		t.Fatalf("unexpected summary loaded: %+v", loaded)
	}

	records := []model.EditRecord{
		{
			VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
			SessionID:       "session-1",
			Seq:             0,
			Action:          "seed",
		},
	}
	if err := store.SaveEditRecords(ctx, "session-1", records); err != nil {
		t.Fatalf("save records: %v", err)
	}
	loadedRecords, ok, err := store.GetEditRecords(ctx, "session-1")
	if err != nil {
		t.Fatalf("get records: %v", err)
	}
	if !ok || len(loadedRecords) != 1 || loadedRecords[0].Action != "seed" {
		t.Fatalf("unexpected records loaded: ok=%t %+v", ok, loadedRecords)
	}

	ids, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(ids) != 1 || ids[0] != "session-1" {
		t.Fatalf("unexpected session list: %+v", ids)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "mnemosyne.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("first init: %v", err)
	}
	summary := model.SessionSummary{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		ID:              "persisted-session",
	}
	if err := first.SaveSessionSummary(ctx, summary); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}

	second := NewSQLiteStore(dbPath)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})

	loaded, ok, err := second.GetSessionSummary(ctx, summary.ID)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if !ok || loaded.ID != summary.ID {
		t.Fatalf("expected persisted session, got ok=%t value=%+v", ok, loaded)
	}
}
