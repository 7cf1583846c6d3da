// Package stats writes and reads the content-addressed run directory:
// <root>/<test_id>/<run_hash>/{meta.json, config.json, run.json, metrics.csv,
// telemetry.jsonl, field.npz}.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"pfsap/internal/model"
	"pfsap/internal/runid"
)

const (
	MetaFile      = "meta.json"
	ConfigFile    = "config.json"
	RunFile       = "run.json"
	MetricsFile   = "metrics.csv"
	TelemetryFile = "telemetry.jsonl"
	FieldFile     = "field.npz"
)

// DefaultRoot is the artifact root used when none is configured.
const DefaultRoot = "artifacts"

// bulkyKeys never reach run.json.
var bulkyKeys = []string{"telemetry_lines", "psi_frames", "field_snaps", "frame_steps"}

type WriteOptions struct {
	EmitTelemetry bool
	EmitField     bool
	// Now stamps meta.json; defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// OptionalResult reports which best-effort outputs were written.
type OptionalResult struct {
	Telemetry bool `json:"telemetry"`
	Field     bool `json:"field"`
}

type WriteResult struct {
	Dir      string         `json:"dir"`
	CoreOK   bool           `json:"core_ok"`
	Optional OptionalResult `json:"optional"`
	Bytes    int64          `json:"bytes"`
}

// Meta is the meta.json document.
type Meta struct {
	TestID       string         `json:"test_id"`
	RunHash      string         `json:"run_hash"`
	Controller   string         `json:"controller"`
	TimestampUTC string         `json:"timestamp_utc"`
	Pillar       string         `json:"pillar,omitempty"`
	PRNG         map[string]any `json:"prng,omitempty"`
}

// RunDir returns <root>/<test_id>/<run_hash>.
func RunDir(root, testID, runHash string) string {
	if root == "" {
		root = DefaultRoot
	}
	return filepath.Join(root, testID, runHash)
}

// WriteRun emits the run directory. Core files (meta, config, run, metrics)
// are authoritative and any failure writing them is returned. telemetry.jsonl
// and field.npz are best effort: their failures are logged and swallowed.
// The record is never mutated.
func WriteRun(root string, rec model.RunRecord, cfg model.Config, opts WriteOptions) (WriteResult, error) {
	if !runid.ValidTestID(rec.TestID) {
		return WriteResult{}, fmt.Errorf("invalid test id %q", rec.TestID)
	}
	if !runid.ValidHash(rec.RunHash) {
		return WriteResult{}, fmt.Errorf("invalid run hash %q", rec.RunHash)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	dir := RunDir(root, rec.TestID, rec.RunHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WriteResult{}, err
	}
	res := WriteResult{Dir: dir}

	meta := Meta{
		TestID:       rec.TestID,
		RunHash:      rec.RunHash,
		Controller:   rec.Controller,
		TimestampUTC: now().UTC().Format(time.RFC3339Nano),
		Pillar:       rec.Pillar,
	}
	if prng, ok := rec.Extra["prng"].(map[string]any); ok {
		meta.PRNG = prng
	}
	if err := writeJSON(filepath.Join(dir, MetaFile), meta); err != nil {
		return res, fmt.Errorf("write %s: %w", MetaFile, err)
	}
	if err := writeJSON(filepath.Join(dir, ConfigFile), sanitize(cfg.Map())); err != nil {
		return res, fmt.Errorf("write %s: %w", ConfigFile, err)
	}
	if err := writeJSON(filepath.Join(dir, RunFile), runDocument(rec)); err != nil {
		return res, fmt.Errorf("write %s: %w", RunFile, err)
	}
	if err := WriteMetricsCSV(filepath.Join(dir, MetricsFile), rec.Series); err != nil {
		return res, fmt.Errorf("write %s: %w", MetricsFile, err)
	}
	res.CoreOK = true

	if opts.EmitTelemetry {
		lines, ok := telemetryLines(rec)
		if ok {
			if err := writeTelemetry(filepath.Join(dir, TelemetryFile), lines); err != nil {
				logger.Debug("telemetry skipped", "dir", dir, "error", err)
			} else {
				res.Optional.Telemetry = true
			}
		}
	}
	if opts.EmitField {
		frames := NormalizeFrames(rec)
		if len(frames) > 0 {
			if err := writeField(filepath.Join(dir, FieldFile), rec, frames); err != nil {
				logger.Debug("field archive skipped", "dir", dir, "error", err)
				_ = os.Remove(filepath.Join(dir, FieldFile))
			} else {
				res.Optional.Field = true
			}
		}
	}

	res.Bytes = dirSize(dir)
	return res, nil
}

// runDocument is the run.json payload: the flattened record with bulky
// entries stripped and non-finite numbers nulled.
func runDocument(rec model.RunRecord) map[string]any {
	doc := rec.Document()
	for _, key := range bulkyKeys {
		delete(doc, key)
	}
	return sanitize(doc)
}

// NormalizeFrames returns the record's frames, falling back to legacy
// field snapshots when no frames were attached.
func NormalizeFrames(rec model.RunRecord) []model.Frame {
	if len(rec.Frames) > 0 {
		return rec.Frames
	}
	return rec.FieldSnaps
}

func sanitize(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return floatValue(x)
	case []float64:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = sanitizeValue(f)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = sanitizeValue(e)
		}
		return out
	case map[string]any:
		return sanitize(x)
	case map[string]float64:
		out := make(map[string]any, len(x))
		for k, f := range x {
			out[k] = sanitizeValue(f)
		}
		return out
	default:
		return v
	}
}

// floatValue keeps integral floats looking like floats ("5.0", not "5")
// so config.json and run.json read back with the same numeric types.
type floatValue float64

func (f floatValue) MarshalJSON() ([]byte, error) {
	return []byte(runid.FormatFloat(float64(f))), nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func dirSize(dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.IsDir() {
			continue
		}
		total += info.Size()
	}
	return total
}
