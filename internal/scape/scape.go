// Package scape holds the field simulators. Each pillar evolves a 2D complex
// field for a fixed number of steps, pulling one actuation per step from its
// controller, and hands back a RunRecord for the artifact writer.
package scape

import (
	"context"
	"errors"
	"fmt"
	"math"

	"pfsap/internal/control"
	"pfsap/internal/field"
	"pfsap/internal/model"
	"pfsap/internal/runid"
)

var ErrUnknownScape = errors.New("unknown scape")

// DefaultFrameStride snapshots every second step.
const DefaultFrameStride = 2

// Actuator is the capability every controller shares. Pillars assert the
// richer control.Controller or control.MaskController they need.
type Actuator interface {
	Name() string
	Reset()
}

// Options toggles outputs that are not part of the hashed configuration.
type Options struct {
	EmitFrames    bool
	FrameStride   int
	EmitTelemetry bool
}

func DefaultOptions() Options {
	return Options{EmitFrames: true, FrameStride: DefaultFrameStride, EmitTelemetry: true}
}

type Scape interface {
	Name() string
	TestID() string
	DefaultConfig() model.Config
	Run(ctx context.Context, cfg model.Config, act Actuator, opts Options) (model.RunRecord, error)
}

func scalarController(pillar string, act Actuator) (control.Controller, error) {
	if act == nil {
		return nil, fmt.Errorf("%s: controller is required", pillar)
	}
	ctrl, ok := act.(control.Controller)
	if !ok {
		return nil, fmt.Errorf("controller %s does not implement scalar step", act.Name())
	}
	return ctrl, nil
}

func maskController(pillar string, act Actuator) (control.MaskController, error) {
	if act == nil {
		return nil, fmt.Errorf("%s: controller is required", pillar)
	}
	ctrl, ok := act.(control.MaskController)
	if !ok {
		return nil, fmt.Errorf("controller %s does not implement mask update", act.Name())
	}
	return ctrl, nil
}

func validateCommon(cfg model.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if math.IsNaN(cfg.DT) || math.IsInf(cfg.DT, 0) {
		return model.ConfigError("dt", "must be finite")
	}
	if math.IsNaN(cfg.KappaCap) || math.IsInf(cfg.KappaCap, 0) {
		return model.ConfigError("kappa_cap", "must be finite")
	}
	return nil
}

// recorder accumulates per-step series, telemetry lines and frames in the
// fixed measure, act, evolve, bound, record order.
type recorder struct {
	opts      Options
	series    map[string][]float64
	telemetry []model.TelemetryLine
	frames    []model.Frame
	flagged   []int
	diverged  bool
}

func newRecorder(steps int, opts Options, keys ...string) *recorder {
	if opts.FrameStride <= 0 {
		opts.FrameStride = DefaultFrameStride
	}
	r := &recorder{opts: opts, series: make(map[string][]float64, len(keys))}
	for _, key := range keys {
		r.series[key] = make([]float64, 0, steps)
	}
	return r
}

// actuation clips a controller output to [0, limit]. Non-finite outputs are
// replaced with zero and the step is flagged.
func (r *recorder) actuation(t int, raw, limit float64) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		r.flagged = append(r.flagged, t)
		return 0
	}
	if raw < 0 {
		return 0
	}
	if raw > limit {
		return limit
	}
	return raw
}

func (r *recorder) bound(diverged bool) {
	if diverged {
		r.diverged = true
	}
}

func (r *recorder) append(key string, v float64) {
	r.series[key] = append(r.series[key], v)
}

func (r *recorder) line(t int, kappa float64, m model.Metrics, extra map[string]float64) {
	if !r.opts.EmitTelemetry {
		return
	}
	r.telemetry = append(r.telemetry, model.TelemetryLine{
		T:         t,
		Kappa:     kappa,
		CurlRMS:   m.CurlRMS,
		Curvature: m.Curvature,
		Norm:      m.Norm,
		Extra:     extra,
	})
}

func (r *recorder) snapshot(t int, psi field.Grid) {
	if !r.opts.EmitFrames || t%r.opts.FrameStride != 0 {
		return
	}
	c := psi.Clone()
	r.frames = append(r.frames, model.Frame{Step: t, H: c.H, W: c.W, Data: c.Data})
}

func (r *recorder) finish(rec *model.RunRecord) {
	rec.Series = r.series
	rec.Telemetry = r.telemetry
	rec.Frames = r.frames
	rec.FlaggedSteps = r.flagged
	rec.Diverged = r.diverged
}

// HashFor returns the run hash s assigns to cfg driven by the named
// controller.
func HashFor(s Scape, cfg model.Config, controller string) (string, error) {
	cfg.Pillar = s.Name()
	return runid.Hash(s.TestID(), controller, cfg.Seed, cfg)
}

func newRecord(testID, pillar string, cfg model.Config, controller string) (model.RunRecord, error) {
	cfg.Pillar = pillar
	hash, err := runid.Hash(testID, controller, cfg.Seed, cfg)
	if err != nil {
		return model.RunRecord{}, fmt.Errorf("hash %s run: %w", testID, err)
	}
	return model.RunRecord{
		TestID:     testID,
		RunHash:    hash,
		Controller: controller,
		Seed:       cfg.Seed,
		Pillar:     pillar,
		DT:         cfg.DT,
		Scalars:    make(map[string]float64),
		Extra:      make(map[string]any),
	}, nil
}

func centeredAngles(h, w int) []float64 {
	cy, cx := float64(h)/2, float64(w)/2
	theta := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			theta[y*w+x] = math.Atan2(float64(y)-cy, float64(x)-cx)
		}
	}
	return theta
}
