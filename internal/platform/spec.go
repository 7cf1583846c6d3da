package platform

import (
	"pfsap/internal/config"
	"pfsap/internal/control"
	"pfsap/internal/model"
	"pfsap/internal/stats"
)

// RunSpec names a pillar run and its deviations from the pillar defaults.
type RunSpec struct {
	Pillar           string
	Controller       string
	ControllerParams control.Params
	Seed             *int64
	// Overrides are applied by persisted key before the seed.
	Overrides map[string]float64
	// Frames overrides the lab's field gate for this run.
	Frames      *bool
	FrameStride int
}

func SpecFromFile(rf config.RunFile) RunSpec {
	return RunSpec{
		Pillar:           rf.Pillar,
		Controller:       rf.Controller,
		ControllerParams: control.Params(rf.ControllerParams),
		Seed:             rf.Seed,
		Overrides:        rf.Config,
		Frames:           rf.Frames,
		FrameStride:      rf.FrameStride,
	}
}

type RunResult struct {
	Record  model.RunRecord
	Config  model.Config
	Write   stats.WriteResult
	Summary model.RunSummary
}
