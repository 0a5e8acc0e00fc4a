package runs

import (
	"context"
	"sync"
)

// InMemoryStore is the test double for Store.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	// StageHistory records every stage value observed per run, in write
	// order, so tests can assert monotonicity.
	stageHistory map[string][]Stage
}

// NewInMemoryStore creates an empty in-memory run store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:      make(map[string]*Record),
		stageHistory: make(map[string][]Stage),
	}
}

// StageHistory returns the recorded stage write sequence for a run.
func (s *InMemoryStore) StageHistory(runID string) []Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Stage(nil), s.stageHistory[runID]...)
}

// Create implements Store.
func (s *InMemoryStore) Create(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.records[record.RunID] = &clone
	if record.Stage != "" {
		s.stageHistory[record.RunID] = append(s.stageHistory[record.RunID], record.Stage)
	}
	return nil
}

// UpdateStatus implements Store.
func (s *InMemoryStore) UpdateStatus(_ context.Context, runID string, status Status, update Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[runID]
	if !ok {
		record = &Record{RunID: runID}
		s.records[runID] = record
	}
	record.Status = status
	if update.Stage != nil {
		record.Stage = *update.Stage
		s.stageHistory[runID] = append(s.stageHistory[runID], *update.Stage)
	}
	if update.StartedAt != nil {
		at := *update.StartedAt
		record.StartedAt = &at
	}
	if update.FinishedAt != nil {
		at := *update.FinishedAt
		record.FinishedAt = &at
	}
	if update.FailedStage != nil {
		record.FailedStage = *update.FailedStage
	}
	if update.ErrorCode != nil {
		record.ErrorCode = *update.ErrorCode
	}
	if update.ErrorMessage != nil {
		record.ErrorMessage = *update.ErrorMessage
	}
	if update.ErrorsArtifactKey != nil {
		record.ErrorsArtifactKey = *update.ErrorsArtifactKey
	}
	if update.ErrorReportKey != nil {
		record.ErrorReportKey = *update.ErrorReportKey
	}
	if update.Artifacts != nil {
		record.Artifacts = make(map[string]string, len(update.Artifacts))
		for name, key := range update.Artifacts {
			record.Artifacts[name] = key
		}
	}
	for _, field := range update.ClearFields {
		switch field {
		case "failed_stage":
			record.FailedStage = ""
		case "error_code":
			record.ErrorCode = ""
		case "error_message":
			record.ErrorMessage = ""
		case "errors_artifact_key":
			record.ErrorsArtifactKey = ""
		case "error_report_key":
			record.ErrorReportKey = ""
		case "started_at":
			record.StartedAt = nil
		case "finished_at":
			record.FinishedAt = nil
		}
	}
	return nil
}

// Get implements Store, returning a copy.
func (s *InMemoryStore) Get(_ context.Context, runID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[runID]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

// FindRunningByTenant implements Store.
func (s *InMemoryStore) FindRunningByTenant(_ context.Context, tenantID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.records {
		if record.TenantID == tenantID && record.Status == StatusRunning {
			clone := *record
			return &clone, nil
		}
	}
	return nil, nil
}
