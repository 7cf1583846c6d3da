package storage

import (
	"context"
	"errors"
	"sort"

	"pfsap/internal/model"
)

// ErrNotInitialized is returned by backends used before Init.
var ErrNotInitialized = errors.New("store is not initialized")

// Store persists the run index. Artifact files stay on disk; the store only
// keeps the summary of each written run.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, summary model.RunSummary) error
	GetRun(ctx context.Context, testID, runHash string) (model.RunSummary, bool, error)
	// ListRuns returns runs for testID, or every run when testID is empty,
	// newest first.
	ListRuns(ctx context.Context, testID string) ([]model.RunSummary, error)
	DeleteRun(ctx context.Context, testID, runHash string) error
}

func sortRuns(runs []model.RunSummary) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC == runs[j].CreatedAtUTC {
			return runs[i].Key() < runs[j].Key()
		}
		return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
	})
}

func runKey(testID, runHash string) string {
	return testID + "/" + runHash
}

func cloneSummary(s model.RunSummary) model.RunSummary {
	if s.Scalars != nil {
		scalars := make(map[string]float64, len(s.Scalars))
		for k, v := range s.Scalars {
			scalars[k] = v
		}
		s.Scalars = scalars
	}
	return s
}
