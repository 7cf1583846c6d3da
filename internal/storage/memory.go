package storage

import (
	"context"
	"sync"

	"pfsap/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunSummary)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if err := checkIdentity(summary); err != nil {
		return err
	}
	s.runs[summary.Key()] = cloneSummary(summary)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, testID, runHash string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.runs[runKey(testID, runHash)]
	if !ok {
		return model.RunSummary{}, false, nil
	}
	return cloneSummary(summary), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, testID string) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunSummary, 0, len(s.runs))
	for _, summary := range s.runs {
		if testID != "" && summary.TestID != testID {
			continue
		}
		runs = append(runs, cloneSummary(summary))
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, testID, runHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, runKey(testID, runHash))
	return nil
}
