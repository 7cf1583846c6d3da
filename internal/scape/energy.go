package scape

import (
	"context"
	"math"
	"math/cmplx"
	"math/rand"

	"pfsap/internal/control"
	"pfsap/internal/field"
	"pfsap/internal/model"
)

const (
	EnergyTestID = "EN01"
	// coherenceWindow is the box size of the focal-plane local coherence map.
	coherenceWindow = 5
)

// EnergyScape steers a phase mask so that a drifting, jittering beam keeps
// its focal-plane energy inside a circular ROI.
type EnergyScape struct{}

func (EnergyScape) Name() string { return model.PillarEnergy }

func (EnergyScape) TestID() string { return EnergyTestID }

func (EnergyScape) DefaultConfig() model.Config {
	return model.Config{
		Pillar:     model.PillarEnergy,
		H:          64,
		W:          64,
		Steps:      120,
		DT:         0.05,
		Amp0:       1,
		Sigma0:     2,
		Chi:        0.5,
		DriftSigma: 0.02,
		ROIRadius:  3,
		KappaCap:   0.5,
		Seed:       7,
	}
}

type energyState struct {
	n      int
	mask   *control.MaskState
	jitter [2]float64
	limit  float64
}

func (s EnergyScape) Run(ctx context.Context, cfg model.Config, act Actuator, opts Options) (model.RunRecord, error) {
	cfg.Pillar = model.PillarEnergy
	if err := validateCommon(cfg); err != nil {
		return model.RunRecord{}, err
	}
	if cfg.H != cfg.W || cfg.H < 4 {
		return model.RunRecord{}, model.ConfigError("H", "energy pillar needs a square grid of at least 4x4, got %dx%d", cfg.H, cfg.W)
	}
	ctrl, err := maskController(s.Name(), act)
	if err != nil {
		return model.RunRecord{}, err
	}
	rec, err := newRecord(EnergyTestID, model.PillarEnergy, cfg, ctrl.Name())
	if err != nil {
		return model.RunRecord{}, err
	}
	ctrl.Reset()

	rng := rand.New(rand.NewSource(cfg.Seed))
	st := newEnergyState(cfg)
	keys := append(append([]string(nil), model.CoreSeries...), model.SeriesEta, model.SeriesMSE, model.SeriesCoherence, model.SeriesS)
	r := newRecorder(cfg.Steps, opts, keys...)

	_, initial := st.observe()
	for t := 0; t < cfg.Steps; t++ {
		if err := ctx.Err(); err != nil {
			return model.RunRecord{}, err
		}
		st.drift(cfg.DriftSigma, rng)
		st.walk(cfg.Chi, rng)

		prev := append([]float64(nil), st.mask.Phase...)
		raw := ctrl.Update(t, st.mask)
		kappa := st.limitUpdate(t, prev, raw, cfg.KappaCap, r)

		focal, m := st.observe()
		r.bound(!focal.Finite())

		r.append(model.SeriesKappa, kappa)
		r.append(model.SeriesCurlRMS, m.CurlRMS)
		r.append(model.SeriesCurvature, m.Curvature)
		r.append(model.SeriesNorm, m.Norm)
		r.append(model.SeriesEta, m.Efficiency)
		r.append(model.SeriesMSE, m.MSE)
		r.append(model.SeriesCoherence, m.Coherence)
		r.append(model.SeriesS, m.S)
		r.line(t, kappa, m, map[string]float64{"eta": m.Efficiency, "mse": m.MSE, "coherence": m.Coherence, "S": m.S})
		r.snapshot(t, focal)
	}

	_, final := st.observe()
	etaMean, _ := meanStd(r.series[model.SeriesEta])
	kappaMean, kappaStd := meanStd(r.series[model.SeriesKappa])
	rec.Scalars["eta_initial"] = initial.Efficiency
	rec.Scalars["eta_final"] = final.Efficiency
	rec.Scalars["eta_mean"] = etaMean
	rec.Scalars["mse_initial"] = initial.MSE
	rec.Scalars["mse_final"] = final.MSE
	rec.Scalars["coherence_final"] = final.Coherence
	rec.Scalars["S_initial"] = initial.S
	rec.Scalars["S_final"] = final.S
	rec.Scalars["kappa_mean"] = kappaMean
	rec.Scalars["effort"] = kappaStd
	rec.Scalars["jitter_y"] = st.jitter[0]
	rec.Scalars["jitter_x"] = st.jitter[1]
	rec.Extra["prng"] = map[string]any{
		"source":     "math/rand",
		"seed":       cfg.Seed,
		"draw_order": "per step: drift slope y, drift slope x, jitter y, jitter x",
		"jitter":     "run",
	}
	r.finish(&rec)
	return rec, nil
}

func newEnergyState(cfg model.Config) *energyState {
	n := cfg.H
	size := n * n
	c := float64(n / 2)
	pupil := float64(n) / 4
	width := cfg.Sigma0 * float64(n) / 8
	ms := &control.MaskState{
		N:        n,
		Phase:    make([]float64, size),
		Drift:    make([]float64, size),
		Aperture: make([]float64, size),
		Target:   make([]float64, size),
		ROI:      make([]bool, size),
	}
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			i := y*n + x
			r := math.Hypot(float64(y)-c, float64(x)-c)
			if r <= pupil {
				amp := cfg.Amp0
				if width > 0 {
					amp *= math.Exp(-r * r / (2 * width * width))
				}
				ms.Aperture[i] = amp
			}
			if r <= cfg.ROIRadius {
				ms.ROI[i] = true
				ms.Target[i] = 1
			}
		}
	}
	st := &energyState{n: n, mask: ms, limit: pupil}
	ms.Measure = func(phase []float64) float64 {
		return roiEfficiency(propagateIntensity(n, ms.Aperture, phase, ms.Drift), ms.ROI)
	}
	return st
}

// drift adds a linear phase tilt with random per-axis slopes.
func (st *energyState) drift(sigma float64, rng *rand.Rand) {
	sy := sigma * rng.NormFloat64()
	sx := sigma * rng.NormFloat64()
	c := float64(st.n / 2)
	for y := 0; y < st.n; y++ {
		for x := 0; x < st.n; x++ {
			st.mask.Drift[y*st.n+x] += sy*(float64(y)-c) + sx*(float64(x)-c)
		}
	}
}

// walk advances the pointing-jitter random walk, clamped to a quarter grid.
func (st *energyState) walk(chi float64, rng *rand.Rand) {
	dy := chi * rng.NormFloat64()
	dx := chi * rng.NormFloat64()
	st.jitter[0] = math.Max(-st.limit, math.Min(st.limit, st.jitter[0]+dy))
	st.jitter[1] = math.Max(-st.limit, math.Min(st.limit, st.jitter[1]+dx))
}

// limitUpdate bounds the mean absolute mask update by limit. A non-finite
// update is reverted and the step flagged.
func (st *energyState) limitUpdate(t int, prev []float64, raw, limit float64, r *recorder) float64 {
	phase := st.mask.Phase
	delta := make([]float64, len(phase))
	total, count := 0.0, 0
	finite := !math.IsNaN(raw) && !math.IsInf(raw, 0)
	for i := range phase {
		if st.mask.Aperture[i] <= 0 {
			phase[i] = prev[i]
			continue
		}
		delta[i] = field.WrapPhase(phase[i] - prev[i])
		if math.IsNaN(delta[i]) || math.IsInf(delta[i], 0) {
			finite = false
		}
		total += math.Abs(delta[i])
		count++
	}
	if !finite {
		copy(phase, prev)
		r.flagged = append(r.flagged, t)
		return 0
	}
	if count == 0 {
		return 0
	}
	mean := total / float64(count)
	if mean <= limit {
		return mean
	}
	scale := 0.0
	if mean > 0 {
		scale = limit / mean
	}
	for i := range phase {
		if st.mask.Aperture[i] > 0 {
			phase[i] = field.WrapPhase(prev[i] + scale*delta[i])
		}
	}
	return limit
}

// observe forms the focal field for the current mask, drift and jitter, and
// measures it.
func (st *energyState) observe() (field.Grid, model.Metrics) {
	n := st.n
	u := field.NewGrid(n, n)
	for i := range u.Data {
		u.Data[i] = cmplx.Rect(st.mask.Aperture[i], st.mask.Phase[i]+st.mask.Drift[i])
	}
	f := field.Propagate(u)
	total := 0.0
	for _, v := range f.Data {
		total += real(v)*real(v) + imag(v)*imag(v)
	}
	if total > 0 {
		f.Scale(complex(1/math.Sqrt(total+field.Eps), 0))
	}
	f = field.Roll(f, int(math.Round(st.jitter[0])), int(math.Round(st.jitter[1])))

	intensity := f.Intensity()
	targetSum := 0.0
	for _, v := range st.mask.Target {
		targetSum += v * v
	}
	mse := 0.0
	for i, p := range intensity.Data {
		want := 0.0
		if targetSum > 0 {
			want = st.mask.Target[i] * st.mask.Target[i] / targetSum
		}
		d := p - want
		mse += d * d
	}
	mse /= float64(len(intensity.Data))

	coh := field.CoherenceMap(f.Phase(), coherenceWindow)
	cohMean := 0.0
	for _, v := range coh.Data {
		cohMean += v
	}
	cohMean /= float64(len(coh.Data))

	return f, model.Metrics{
		CurlRMS:    field.CurlRMS(f),
		Curvature:  field.CurvatureProxy(f),
		Norm:       field.L2Norm(u),
		S:          field.EntropyProxy(f),
		R:          field.CoherenceProxy(f),
		Efficiency: roiEfficiency(intensity, st.mask.ROI),
		MSE:        mse,
		Coherence:  cohMean,
	}
}

func propagateIntensity(n int, aperture, phase, drift []float64) field.Real {
	u := field.NewGrid(n, n)
	for i := range u.Data {
		u.Data[i] = cmplx.Rect(aperture[i], phase[i]+drift[i])
	}
	return field.Propagate(u).Intensity()
}

// roiEfficiency is the fraction of focal intensity inside the ROI.
func roiEfficiency(intensity field.Real, roi []bool) float64 {
	total, in := 0.0, 0.0
	for i, p := range intensity.Data {
		total += p
		if roi[i] {
			in += p
		}
	}
	return in / (total + field.Eps)
}
