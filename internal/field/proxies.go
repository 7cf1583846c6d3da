package field

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
)

// CurvatureProxy is mean(|∇²|ψ|²|). Non-finite fields score zero.
func CurvatureProxy(psi Grid) float64 {
	if psi.Len() == 0 || !psi.Finite() {
		return 0
	}
	lap := LaplacianReal(psi.Intensity())
	for i, v := range lap.Data {
		lap.Data[i] = math.Abs(v)
	}
	return floats.Sum(lap.Data) / float64(lap.Len())
}

// CoherenceProxy is |mean(ψ)| / mean(|ψ|) clamped to [0, 1].
func CoherenceProxy(psi Grid) float64 {
	if psi.Len() == 0 || !psi.Finite() {
		return 0
	}
	meanAbs := floats.Sum(psi.Abs().Data) / float64(psi.Len())
	r := cmplx.Abs(psi.Mean()) / (meanAbs + Eps)
	return clamp01(r)
}

// EntropyProxy is 1 − CoherenceProxy, clamped to [0, 1].
func EntropyProxy(psi Grid) float64 {
	return clamp01(1 - CoherenceProxy(psi))
}

// L2Norm is sqrt(Σ|ψ|² + ε).
func L2Norm(psi Grid) float64 {
	if !psi.Finite() {
		return 0
	}
	return math.Sqrt(floats.Sum(psi.Intensity().Data) + Eps)
}

// CurlRMS is sqrt(mean(curl_z(J)²)) for J the information flux of ψ.
func CurlRMS(psi Grid) float64 {
	if psi.Len() == 0 {
		return 0
	}
	curl := CurlZ(InfoFlux(psi))
	return math.Sqrt(floats.Dot(curl.Data, curl.Data) / float64(curl.Len()))
}

// PhaseLockStep rotates every element's phase toward the mean-field phase in
// place: ψ ← ψ·exp(−i·gain·dt·(arg ψ − arg mean ψ)), with both angles in
// (−π, π] and the difference left unwrapped. It is a no-op for gain ≤ 0 or
// when the mean field amplitude is below 1e-10.
func PhaseLockStep(psi Grid, gain, dt float64) {
	if gain <= 0 || psi.Len() == 0 {
		return
	}
	mean := psi.Mean()
	amp := cmplx.Abs(mean)
	if !isFinite(amp) || amp < 1e-10 {
		return
	}
	ref := cmplx.Phase(mean)
	k := gain * dt
	for i, v := range psi.Data {
		delta := cmplx.Phase(v) - ref
		psi.Data[i] = v * cmplx.Exp(complex(0, -k*delta))
	}
}

// CoherenceMap returns |box-mean(exp(iφ))| over an odd window with edge
// padding, computed from integral images.
func CoherenceMap(phi Real, win int) Real {
	if !phi.Finite() {
		return phi.Clone()
	}
	if win < 1 {
		win = 1
	}
	if win%2 == 0 {
		win++
	}
	r := win / 2
	ph, pw := phi.H+2*r, phi.W+2*r

	// Integral images carry a leading zero row and column.
	iw := pw + 1
	cosI := make([]float64, (ph+1)*iw)
	sinI := make([]float64, (ph+1)*iw)
	for y := 0; y < ph; y++ {
		sy := clampIndex(y-r, phi.H)
		rowCos, rowSin := 0.0, 0.0
		for x := 0; x < pw; x++ {
			sx := clampIndex(x-r, phi.W)
			v := phi.Data[sy*phi.W+sx]
			rowCos += math.Cos(v)
			rowSin += math.Sin(v)
			cosI[(y+1)*iw+x+1] = cosI[y*iw+x+1] + rowCos
			sinI[(y+1)*iw+x+1] = sinI[y*iw+x+1] + rowSin
		}
	}

	area := float64(win * win)
	out := NewReal(phi.H, phi.W)
	for y := 0; y < phi.H; y++ {
		y0, y1 := y, y+win
		for x := 0; x < phi.W; x++ {
			x0, x1 := x, x+win
			c := cosI[y1*iw+x1] - cosI[y0*iw+x1] - cosI[y1*iw+x0] + cosI[y0*iw+x0]
			s := sinI[y1*iw+x1] - sinI[y0*iw+x1] - sinI[y1*iw+x0] + sinI[y0*iw+x0]
			out.Data[y*phi.W+x] = clamp01(math.Hypot(c, s) / area)
		}
	}
	return out
}

// WrapPhase maps an angle into (−π, π].
func WrapPhase(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// ClipAbs bounds |ψ| by limit in place, zeroing non-finite cells. It reports
// whether any non-finite cell was found.
func ClipAbs(psi Grid, limit float64) bool {
	diverged := false
	for i, v := range psi.Data {
		if !isFinite(real(v)) || !isFinite(imag(v)) {
			psi.Data[i] = 0
			diverged = true
			continue
		}
		if a := cmplx.Abs(v); a > limit {
			psi.Data[i] = v * complex(limit/a, 0)
		}
	}
	return diverged
}

// ClampNorm rescales ψ in place so that ‖ψ‖₂ ≤ limit, zeroing non-finite
// cells first. It reports whether any non-finite cell was found.
func ClampNorm(psi Grid, limit float64) bool {
	diverged := false
	for i, v := range psi.Data {
		if !isFinite(real(v)) || !isFinite(imag(v)) {
			psi.Data[i] = 0
			diverged = true
		}
	}
	n := L2Norm(psi)
	if n > limit {
		// Scale slightly under the cap so the ε inside L2Norm cannot push
		// the measured norm back over it.
		psi.Scale(complex(limit/n*(1-1e-12), 0))
	}
	return diverged
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
