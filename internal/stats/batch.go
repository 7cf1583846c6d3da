package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"pfsap/internal/model"
)

const batchesDir = "batches"

// BatchManifest records one parallel batch of runs.
type BatchManifest struct {
	ID             string             `json:"id"`
	Notes          string             `json:"notes,omitempty"`
	StartedAtUTC   string             `json:"started_at_utc,omitempty"`
	CompletedAtUTC string             `json:"completed_at_utc,omitempty"`
	TotalRuns      int                `json:"total_runs"`
	Runs           []model.RunSummary `json:"runs,omitempty"`
	Failures       []string           `json:"failures,omitempty"`
}

func WriteBatchManifest(root string, m BatchManifest) error {
	if m.ID == "" {
		return fmt.Errorf("batch id is required")
	}
	path := batchManifestPath(root, m.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeJSON(path, m)
}

func ReadBatchManifest(root, id string) (BatchManifest, bool, error) {
	if id == "" {
		return BatchManifest{}, false, fmt.Errorf("batch id is required")
	}
	var m BatchManifest
	ok, err := readJSON(batchManifestPath(root, id), &m)
	return m, ok, err
}

// ListBatchManifests returns every manifest under <root>/batches, most
// recently started first.
func ListBatchManifests(root string) ([]BatchManifest, error) {
	entries, err := os.ReadDir(filepath.Join(root, batchesDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []BatchManifest{}, nil
		}
		return nil, err
	}

	out := make([]BatchManifest, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m, ok, err := ReadBatchManifest(root, entry.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAtUTC == out[j].StartedAtUTC {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAtUTC > out[j].StartedAtUTC
	})
	return out, nil
}

func batchManifestPath(root, id string) string {
	return filepath.Join(root, batchesDir, id, "batch.json")
}
