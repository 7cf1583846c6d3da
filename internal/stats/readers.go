package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"pfsap/internal/runid"
)

// RunLocation identifies a run directory under an artifact root.
type RunLocation struct {
	TestID  string `json:"test_id"`
	RunHash string `json:"run_hash"`
	Dir     string `json:"dir"`
}

func ReadMeta(runDir string) (Meta, bool, error) {
	var meta Meta
	ok, err := readJSON(filepath.Join(runDir, MetaFile), &meta)
	return meta, ok, err
}

// ReadRunJSON returns run.json as a generic document; unknown scalars and
// series pass through untouched.
func ReadRunJSON(runDir string) (map[string]any, bool, error) {
	var doc map[string]any
	ok, err := readJSON(filepath.Join(runDir, RunFile), &doc)
	return doc, ok, err
}

func ReadConfigJSON(runDir string) (map[string]any, bool, error) {
	var doc map[string]any
	ok, err := readJSON(filepath.Join(runDir, ConfigFile), &doc)
	return doc, ok, err
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// ListRunDirs walks <root>/<test_id>/<run_hash> and returns every directory
// that holds a run.json, sorted by test id then hash.
func ListRunDirs(root string) ([]RunLocation, error) {
	tests, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunLocation{}, nil
		}
		return nil, err
	}

	out := make([]RunLocation, 0, len(tests))
	for _, test := range tests {
		if !test.IsDir() || !runid.ValidTestID(test.Name()) {
			continue
		}
		runs, err := os.ReadDir(filepath.Join(root, test.Name()))
		if err != nil {
			return nil, err
		}
		for _, run := range runs {
			if !run.IsDir() || !runid.ValidHash(run.Name()) {
				continue
			}
			dir := filepath.Join(root, test.Name(), run.Name())
			if _, err := os.Stat(filepath.Join(dir, RunFile)); err != nil {
				continue
			}
			out = append(out, RunLocation{TestID: test.Name(), RunHash: run.Name(), Dir: dir})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TestID == out[j].TestID {
			return out[i].RunHash < out[j].RunHash
		}
		return out[i].TestID < out[j].TestID
	})
	return out, nil
}

// ExportRun copies a run directory to <outDir>/<test_id>/<run_hash>. Optional
// files are copied only when present.
func ExportRun(root, testID, runHash, outDir string) (string, error) {
	if testID == "" || runHash == "" {
		return "", fmt.Errorf("test id and run hash are required")
	}

	src := RunDir(root, testID, runHash)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, testID, runHash)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{MetaFile, ConfigFile, RunFile, MetricsFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{TelemetryFile, FieldFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
