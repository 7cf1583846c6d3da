package scape

import (
	"context"
	"math"
	"math/cmplx"
	"math/rand"

	"pfsap/internal/field"
	"pfsap/internal/model"
)

const (
	GravityTestID = "BG01"
	gravityNoise  = 1e-4
)

// GravityScape couples curl of the information flux back into amplitude and
// injects a bounded swirl proportional to κ.
type GravityScape struct{}

func (GravityScape) Name() string { return model.PillarGravity }

func (GravityScape) TestID() string { return GravityTestID }

func (GravityScape) DefaultConfig() model.Config {
	return model.Config{
		Pillar:     model.PillarGravity,
		H:          64,
		W:          64,
		Steps:      160,
		DT:         0.05,
		Alpha:      0.18,
		Lambda:     0.06,
		Beta:       0.12,
		Amp0:       1,
		Sigma0:     5,
		Clip:       5,
		CurlTarget: 0.035,
		KappaCap:   0.30,
		Seed:       0,
	}
}

func (s GravityScape) Run(ctx context.Context, cfg model.Config, act Actuator, opts Options) (model.RunRecord, error) {
	cfg.Pillar = model.PillarGravity
	if err := validateCommon(cfg); err != nil {
		return model.RunRecord{}, err
	}
	if cfg.Clip <= 0 {
		return model.RunRecord{}, model.ConfigError("clip", "must be > 0, got %v", cfg.Clip)
	}
	ctrl, err := scalarController(s.Name(), act)
	if err != nil {
		return model.RunRecord{}, err
	}
	rec, err := newRecord(GravityTestID, model.PillarGravity, cfg, ctrl.Name())
	if err != nil {
		return model.RunRecord{}, err
	}
	ctrl.Reset()

	rng := rand.New(rand.NewSource(cfg.Seed))
	psi := initGravityField(cfg)
	theta := centeredAngles(cfg.H, cfg.W)
	r := newRecorder(cfg.Steps, opts, model.CoreSeries...)

	initial := measureGravity(psi)
	maxNorm := initial.Norm
	for t := 0; t < cfg.Steps; t++ {
		if err := ctx.Err(); err != nil {
			return model.RunRecord{}, err
		}
		m := measureGravity(psi)
		kappa := r.actuation(t, ctrl.Step(t, m), cfg.KappaCap)

		evolveGravity(psi, theta, kappa, cfg, rng)
		r.bound(field.ClipAbs(psi, cfg.Clip))

		r.append(model.SeriesKappa, kappa)
		r.append(model.SeriesCurlRMS, m.CurlRMS)
		r.append(model.SeriesCurvature, m.Curvature)
		r.append(model.SeriesNorm, m.Norm)
		r.line(t, kappa, m, nil)
		r.snapshot(t, psi)
		if m.Norm > maxNorm {
			maxNorm = m.Norm
		}
	}

	final := measureGravity(psi)
	if final.Norm > maxNorm {
		maxNorm = final.Norm
	}
	score := ScoreGravity(r.series[model.SeriesKappa], initial.Curvature, final.Curvature, final.CurlRMS, cfg.KappaCap)
	rec.Scalars["curl_rms0"] = initial.CurlRMS
	rec.Scalars["curl_rmsT"] = final.CurlRMS
	rec.Scalars["curv0"] = initial.Curvature
	rec.Scalars["curvT"] = final.Curvature
	rec.Scalars["delta_curv"] = score.DeltaCurv
	rec.Scalars["coupling_coeff"] = score.CouplingCoeff
	rec.Scalars["coupling_score"] = score.CouplingScore
	rec.Scalars["effort"] = score.Effort
	rec.Scalars["idle"] = score.Idle
	rec.Scalars["kappa_mean"] = score.KappaMean
	rec.Scalars["max_norm"] = maxNorm
	rec.Scalars["max_abs"] = maxAbs(psi)
	rec.Extra["prng"] = map[string]any{
		"source":     "math/rand",
		"seed":       cfg.Seed,
		"draw_order": "per step: H*W (re, im) normal pairs, row-major",
	}
	r.finish(&rec)
	return rec, nil
}

// initGravityField seeds a real Gaussian blob amp0·exp(−r²/2σ0²) centred on
// the swirl origin, so all circulation comes from the actuation. It consumes
// no random draws.
func initGravityField(cfg model.Config) field.Grid {
	psi := field.NewGrid(cfg.H, cfg.W)
	cy, cx := float64(cfg.H)/2, float64(cfg.W)/2
	s2 := 2 * cfg.Sigma0 * cfg.Sigma0
	for y := 0; y < cfg.H; y++ {
		for x := 0; x < cfg.W; x++ {
			dy, dx := float64(y)-cy, float64(x)-cx
			amp := cfg.Amp0
			if s2 > 0 {
				amp *= math.Exp(-(dy*dy + dx*dx) / s2)
			}
			psi.Set(y, x, complex(amp, 0))
		}
	}
	field.ClipAbs(psi, cfg.Clip)
	return psi
}

func measureGravity(psi field.Grid) model.Metrics {
	return model.Metrics{
		CurlRMS:   field.CurlRMS(psi),
		Curvature: field.CurvatureProxy(psi),
		Norm:      field.L2Norm(psi),
		Coherence: field.CoherenceProxy(psi),
	}
}

// evolveGravity applies ψ ← ψ + dt·(α∇²ψ − λψ + β·curl·ψ), the swirl
// ψ·exp(iκθ) and complex noise of std 1e-4, in that order.
func evolveGravity(psi field.Grid, theta []float64, kappa float64, cfg model.Config, rng *rand.Rand) {
	lap := field.Laplacian(psi)
	curl := field.CurlZ(field.InfoFlux(psi))
	for i, v := range psi.Data {
		drive := complex(cfg.Alpha, 0)*lap.Data[i] - complex(cfg.Lambda, 0)*v + complex(cfg.Beta*curl.Data[i], 0)*v
		psi.Data[i] = v + complex(cfg.DT, 0)*drive
	}
	if kappa != 0 {
		for i := range psi.Data {
			psi.Data[i] *= cmplx.Rect(1, kappa*theta[i])
		}
	}
	for i := range psi.Data {
		re := rng.NormFloat64()
		im := rng.NormFloat64()
		psi.Data[i] += complex(gravityNoise*re, gravityNoise*im)
	}
}

func maxAbs(psi field.Grid) float64 {
	out := 0.0
	for _, v := range psi.Data {
		if a := cmplx.Abs(v); a > out {
			out = a
		}
	}
	return out
}
