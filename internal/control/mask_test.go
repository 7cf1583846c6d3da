package control

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfsap/internal/field"
)

func testMaskState(n int) *MaskState {
	s := &MaskState{
		N:        n,
		Phase:    make([]float64, n*n),
		Drift:    make([]float64, n*n),
		Aperture: make([]float64, n*n),
		Target:   make([]float64, n*n),
		ROI:      make([]bool, n*n),
	}
	c := float64(n) / 2
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			i := y*n + x
			r := math.Hypot(float64(y)-c, float64(x)-c)
			if r <= float64(n)/4 {
				s.Aperture[i] = 1
			}
			// Tilted drift pushes the spot away from the centre.
			s.Drift[i] = 2 * math.Pi * 2 * float64(x) / float64(n)
			if r <= 2 {
				s.ROI[i] = true
				s.Target[i] = 1
			}
		}
	}
	s.Measure = func(phase []float64) float64 {
		u := field.NewGrid(n, n)
		for i := range u.Data {
			u.Data[i] = cmplx.Rect(s.Aperture[i], phase[i]+s.Drift[i])
		}
		f := field.Propagate(u)
		total, in := 0.0, 0.0
		for i, v := range f.Data {
			p := real(v)*real(v) + imag(v)*imag(v)
			total += p
			if s.ROI[i] {
				in += p
			}
		}
		return in / (total + field.Eps)
	}
	return s
}

func TestGerchbergSaxtonImprovesROIEfficiency(t *testing.T) {
	s := testMaskState(32)
	before := s.Measure(s.Phase)

	gs := &GerchbergSaxtonROI{N: 32, MaxStep: math.Pi, InnerIters: 4, ROIWeight: 0.8}
	for i := 0; i < 5; i++ {
		step := gs.Update(i, s)
		assert.GreaterOrEqual(t, step, 0.0)
		assert.LessOrEqual(t, step, math.Pi)
	}
	after := s.Measure(s.Phase)
	assert.Greater(t, after, before)
}

func TestGerchbergSaxtonRespectsMaxStep(t *testing.T) {
	s := testMaskState(16)
	orig := append([]float64(nil), s.Phase...)
	gs := &GerchbergSaxtonROI{N: 16, MaxStep: 0.05, InnerIters: 2, ROIWeight: 0.5}
	gs.Update(0, s)
	for i := range s.Phase {
		assert.LessOrEqual(t, math.Abs(field.WrapPhase(s.Phase[i]-orig[i])), 0.05+1e-12)
		if s.Aperture[i] == 0 {
			assert.Equal(t, orig[i], s.Phase[i])
		}
	}
}

func TestSPGDDeterministicPerSeed(t *testing.T) {
	a, b := testMaskState(16), testMaskState(16)
	ca := NewSPGD(16, 0.2, 50, 7)
	cb := NewSPGD(16, 0.2, 50, 7)
	for i := 0; i < 5; i++ {
		require.Equal(t, ca.Update(i, a), cb.Update(i, b))
	}
	assert.Equal(t, a.Phase, b.Phase)

	for i, amp := range a.Aperture {
		if amp == 0 {
			assert.Equal(t, 0.0, a.Phase[i])
		}
	}
}
