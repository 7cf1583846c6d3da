package model

import (
	"math"
	"time"
)

// Current versions stamped on persisted run summaries.
const (
	RecordSchemaVersion = 1
	RecordCodecVersion  = 1
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// CurrentVersion is the version pair written by this build.
func CurrentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: RecordSchemaVersion, CodecVersion: RecordCodecVersion}
}

// Summarize builds the index entry for a written run. Non-finite scalars are
// left out so the summary always encodes.
func (r RunRecord) Summarize(dir string, created time.Time) RunSummary {
	scalars := make(map[string]float64, len(r.Scalars))
	for k, v := range r.Scalars {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		scalars[k] = v
	}
	return RunSummary{
		VersionedRecord: CurrentVersion(),
		TestID:          r.TestID,
		RunHash:         r.RunHash,
		Pillar:          r.Pillar,
		Controller:      r.Controller,
		Seed:            r.Seed,
		Steps:           r.SeriesLen(SeriesKappa),
		Dir:             dir,
		Diverged:        r.Diverged,
		Scalars:         scalars,
		CreatedAtUTC:    created.UTC().Format(time.RFC3339Nano),
	}
}
