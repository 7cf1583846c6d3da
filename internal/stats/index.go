package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"pfsap/internal/model"
)

const runIndexFile = "run_index.json"

// AppendRunIndex records a run summary in <root>/run_index.json, replacing
// an existing entry for the same test id and hash.
func AppendRunIndex(root string, entry model.RunSummary) error {
	if entry.TestID == "" || entry.RunHash == "" {
		return fmt.Errorf("test id and run hash are required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(root)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].Key() == entry.Key() {
			index[i] = entry
			return writeJSON(filepath.Join(root, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(root, runIndexFile), index)
}

// ListRunIndex returns the indexed runs, newest first.
func ListRunIndex(root string) ([]model.RunSummary, error) {
	data, err := os.ReadFile(filepath.Join(root, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []model.RunSummary{}, nil
		}
		return nil, err
	}

	var entries []model.RunSummary
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry model.RunSummary
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]model.RunSummary, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}
