package scape

import (
	"context"
	"math"
	"math/cmplx"
	"math/rand"

	"pfsap/internal/field"
	"pfsap/internal/model"
)

const ThermoTestID = "TH01"

// ThermoScape is a damped diffusive field under Langevin noise. The
// actuation g drives a phase lock toward the mean-field phase.
type ThermoScape struct{}

func (ThermoScape) Name() string { return model.PillarThermo }

func (ThermoScape) TestID() string { return ThermoTestID }

func (ThermoScape) DefaultConfig() model.Config {
	return model.Config{
		Pillar:      model.PillarThermo,
		H:           64,
		W:           64,
		Steps:       200,
		DT:          0.05,
		Nu:          0.05,
		Damp:        0.01,
		T:           0.2,
		NoiseSigma:  1.0,
		NormCap:     20.0,
		Norm0Target: 10.0,
		KappaCap:    2.5,
		RTarget:     0.99,
		STarget:     0.01,
		Seed:        1337,
	}
}

func (s ThermoScape) Run(ctx context.Context, cfg model.Config, act Actuator, opts Options) (model.RunRecord, error) {
	cfg.Pillar = model.PillarThermo
	if err := validateCommon(cfg); err != nil {
		return model.RunRecord{}, err
	}
	if cfg.NormCap <= 0 {
		return model.RunRecord{}, model.ConfigError("norm_cap", "must be > 0, got %v", cfg.NormCap)
	}
	ctrl, err := scalarController(s.Name(), act)
	if err != nil {
		return model.RunRecord{}, err
	}
	rec, err := newRecord(ThermoTestID, model.PillarThermo, cfg, ctrl.Name())
	if err != nil {
		return model.RunRecord{}, err
	}
	ctrl.Reset()

	rng := rand.New(rand.NewSource(cfg.Seed))
	psi := initThermoField(cfg, rng)
	r := newRecorder(cfg.Steps, opts, append(append([]string(nil), model.CoreSeries...), model.SeriesS, model.SeriesR, model.SeriesG)...)
	sigma := math.Sqrt(math.Max(cfg.T, 0)) * cfg.NoiseSigma

	initial := measureThermo(psi)
	maxNorm := initial.Norm
	for t := 0; t < cfg.Steps; t++ {
		if err := ctx.Err(); err != nil {
			return model.RunRecord{}, err
		}
		m := measureThermo(psi)
		g := r.actuation(t, ctrl.Step(t, m), cfg.KappaCap)

		evolveThermo(psi, g, sigma, cfg, rng)
		r.bound(field.ClampNorm(psi, cfg.NormCap))

		r.append(model.SeriesKappa, g)
		r.append(model.SeriesCurlRMS, m.CurlRMS)
		r.append(model.SeriesCurvature, m.Curvature)
		r.append(model.SeriesNorm, m.Norm)
		r.append(model.SeriesS, m.S)
		r.append(model.SeriesR, m.R)
		r.append(model.SeriesG, g)
		r.line(t, g, m, map[string]float64{"S": m.S, "R": m.R, "g": g})
		r.snapshot(t, psi)
		if m.Norm > maxNorm {
			maxNorm = m.Norm
		}
	}

	final := measureThermo(psi)
	if final.Norm > maxNorm {
		maxNorm = final.Norm
	}
	gMean, gStd := meanStd(r.series[model.SeriesG])
	rec.Scalars["S_initial"] = initial.S
	rec.Scalars["S_final"] = final.S
	rec.Scalars["R_initial"] = initial.R
	rec.Scalars["R_final"] = final.R
	rec.Scalars["delta_R"] = final.R - initial.R
	rec.Scalars["norm_initial"] = initial.Norm
	rec.Scalars["norm_final"] = final.Norm
	rec.Scalars["max_norm"] = maxNorm
	rec.Scalars["g_mean"] = gMean
	rec.Scalars["g_std"] = gStd
	rec.Scalars["R_target_met"] = boolScalar(final.R >= cfg.RTarget)
	rec.Scalars["S_target_met"] = boolScalar(final.S <= cfg.STarget)
	rec.Extra["prng"] = map[string]any{
		"source":     "math/rand",
		"seed":       cfg.Seed,
		"draw_order": "init: H*W uniform phases, H*W normal amplitudes; per step: H*W (re, im) normal pairs, row-major",
	}
	r.finish(&rec)
	return rec, nil
}

// initThermoField draws a random-phase field with slightly perturbed unit
// amplitudes, rescaled to norm0_target and clamped to norm_cap.
func initThermoField(cfg model.Config, rng *rand.Rand) field.Grid {
	n := cfg.H * cfg.W
	phases := make([]float64, n)
	for i := range phases {
		phases[i] = 2*math.Pi*rng.Float64() - math.Pi
	}
	psi := field.NewGrid(cfg.H, cfg.W)
	for i := range psi.Data {
		amp := 1 + 0.1*rng.NormFloat64()
		psi.Data[i] = cmplx.Rect(amp, phases[i])
	}
	if cfg.Norm0Target > 0 {
		if norm := field.L2Norm(psi); norm > 0 {
			psi.Scale(complex(cfg.Norm0Target/norm, 0))
		}
	}
	field.ClampNorm(psi, cfg.NormCap)
	return psi
}

func measureThermo(psi field.Grid) model.Metrics {
	r := field.CoherenceProxy(psi)
	return model.Metrics{
		CurlRMS:   field.CurlRMS(psi),
		Curvature: field.CurvatureProxy(psi),
		Norm:      field.L2Norm(psi),
		S:         field.EntropyProxy(psi),
		R:         r,
		Coherence: r,
	}
}

// evolveThermo applies ψ ← ψ + dt·(ν∇²ψ − damp·ψ), Langevin noise
// dt·σ·(N + iN) and, when g > 0, a phase-lock step. Noise is drawn even when
// σ is zero so the draw sequence does not depend on temperature.
func evolveThermo(psi field.Grid, g, sigma float64, cfg model.Config, rng *rand.Rand) {
	lap := field.Laplacian(psi)
	for i, v := range psi.Data {
		psi.Data[i] = v + complex(cfg.DT, 0)*(complex(cfg.Nu, 0)*lap.Data[i]-complex(cfg.Damp, 0)*v)
	}
	scale := cfg.DT * sigma
	for i := range psi.Data {
		re := rng.NormFloat64()
		im := rng.NormFloat64()
		psi.Data[i] += complex(scale*re, scale*im)
	}
	if g > 0 {
		field.PhaseLockStep(psi, g, cfg.DT)
	}
}

func boolScalar(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
