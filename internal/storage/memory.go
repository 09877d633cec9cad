package storage

import (
	"context"
	"sort"
	"sync"

	"mnemosyne/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	records     map[string][]model.EditRecord
	sessions    map[string]model.SessionSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.records = make(map[string][]model.EditRecord)
	s.sessions = make(map[string]model.SessionSummary)
	return nil
}

func (s *MemoryStore) SaveEditRecords(_ context.Context, sessionID string, records []model.EditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.EditRecord, len(records))
	copy(copied, records)
	s.records[sessionID] = copied
	return nil
}

func (s *MemoryStore) GetEditRecords(_ context.Context, sessionID string) ([]model.EditRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.records[sessionID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.EditRecord, len(records))
	copy(copied, records)
	return copied, true, nil
}

func (s *MemoryStore) SaveSessionSummary(_ context.Context, summary model.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[summary.ID] = summary
	return nil
}

func (s *MemoryStore) GetSessionSummary(_ context.Context, id string) (model.SessionSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.sessions[id]
	return summary, ok, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
