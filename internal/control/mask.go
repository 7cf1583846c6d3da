package control

import (
	"math"
	"math/cmplx"
	"math/rand"

	"pfsap/internal/field"
)

const (
	GerchbergSaxtonROIName = "gs_roi"
	SPGDName               = "spgd"
)

// MaskState is what a phase-mask controller sees each outer step. Phase is
// updated in place; the remaining slices are read-only.
type MaskState struct {
	N        int
	Phase    []float64
	Drift    []float64
	Aperture []float64
	Target   []float64
	ROI      []bool
	// Measure scores a candidate mask (ROI efficiency under the current drift).
	Measure func(phase []float64) float64
}

// MaskController updates the energy pillar's phase mask and returns the mean
// absolute update applied inside the pupil.
type MaskController interface {
	Name() string
	Reset()
	Update(t int, s *MaskState) float64
}

// GerchbergSaxtonROI runs a few GS iterations per step, pulling the focal
// amplitude toward the target inside the ROI only.
type GerchbergSaxtonROI struct {
	N          int
	MaxStep    float64
	InnerIters int
	ROIWeight  float64
}

func (c *GerchbergSaxtonROI) Name() string { return GerchbergSaxtonROIName }

func (c *GerchbergSaxtonROI) Reset() {}

func (c *GerchbergSaxtonROI) Update(_ int, s *MaskState) float64 {
	n := s.N
	u := field.NewGrid(n, n)
	for i := range u.Data {
		u.Data[i] = cmplx.Rect(s.Aperture[i], s.Phase[i]+s.Drift[i])
	}

	targetEnergy := 0.0
	for i, ok := range s.ROI {
		if ok {
			targetEnergy += s.Target[i] * s.Target[i]
		}
	}

	weight := clip(c.ROIWeight, 0, 1)
	for iter := 0; iter < c.InnerIters; iter++ {
		f := field.Propagate(u)
		scale := 0.0
		if targetEnergy > 0 {
			total := 0.0
			for _, v := range f.Data {
				total += real(v)*real(v) + imag(v)*imag(v)
			}
			scale = math.Sqrt(total / targetEnergy)
		}
		for i, ok := range s.ROI {
			if !ok {
				continue
			}
			amp := (1-weight)*cmplx.Abs(f.Data[i]) + weight*s.Target[i]*scale
			f.Data[i] = cmplx.Rect(amp, cmplx.Phase(f.Data[i]))
		}
		u = field.Backpropagate(f)
		for i, v := range u.Data {
			u.Data[i] = cmplx.Rect(s.Aperture[i], cmplx.Phase(v))
		}
	}

	total, count := 0.0, 0
	for i, a := range s.Aperture {
		if a <= 0 {
			continue
		}
		desired := cmplx.Phase(u.Data[i]) - s.Drift[i]
		delta := clip(field.WrapPhase(desired-s.Phase[i]), -c.MaxStep, c.MaxStep)
		s.Phase[i] = field.WrapPhase(s.Phase[i] + delta)
		total += math.Abs(delta)
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// SPGD is the two-sided stochastic parallel gradient descent baseline.
type SPGD struct {
	N     int
	Delta float64
	LR    float64

	seed int64
	rng  *rand.Rand
}

func NewSPGD(n int, delta, lr float64, runSeed int64) *SPGD {
	c := &SPGD{N: n, Delta: delta, LR: lr, seed: SubSeed(runSeed, spgdSeedSalt)}
	c.Reset()
	return c
}

func (c *SPGD) Name() string { return SPGDName }

func (c *SPGD) Reset() {
	c.rng = rand.New(rand.NewSource(c.seed))
}

func (c *SPGD) Update(_ int, s *MaskState) float64 {
	if c.rng == nil {
		c.Reset()
	}
	size := len(s.Phase)
	perturb := make([]float64, size)
	plus := make([]float64, size)
	minus := make([]float64, size)
	for i := 0; i < size; i++ {
		d := c.Delta
		if c.rng.Intn(2) == 0 {
			d = -d
		}
		if s.Aperture[i] <= 0 {
			d = 0
		}
		perturb[i] = d
		plus[i] = s.Phase[i] + d
		minus[i] = s.Phase[i] - d
	}
	jPlus := s.Measure(plus)
	jMinus := s.Measure(minus)
	gain := c.LR * (jPlus - jMinus)

	total, count := 0.0, 0
	for i := 0; i < size; i++ {
		if s.Aperture[i] <= 0 {
			continue
		}
		step := gain * perturb[i]
		s.Phase[i] = field.WrapPhase(s.Phase[i] + step)
		total += math.Abs(step)
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
