// Package field implements the periodic stencils and scalar proxies shared by
// the field simulators. Grids are row-major; every stencil wraps around both
// axes.
package field

import (
	"math"
	"math/cmplx"
)

// Eps guards divisions and square roots throughout the package.
const Eps = 1e-12

// Grid is an H×W complex field stored row-major.
type Grid struct {
	H    int
	W    int
	Data []complex128
}

// Real is an H×W real field stored row-major.
type Real struct {
	H    int
	W    int
	Data []float64
}

func NewGrid(h, w int) Grid {
	return Grid{H: h, W: w, Data: make([]complex128, h*w)}
}

func NewReal(h, w int) Real {
	return Real{H: h, W: w, Data: make([]float64, h*w)}
}

func (g Grid) Len() int { return len(g.Data) }

func (g Grid) At(y, x int) complex128 { return g.Data[y*g.W+x] }

func (g Grid) Set(y, x int, v complex128) { g.Data[y*g.W+x] = v }

func (g Grid) Clone() Grid {
	return Grid{H: g.H, W: g.W, Data: append([]complex128(nil), g.Data...)}
}

// Finite reports whether every element has finite real and imaginary parts.
func (g Grid) Finite() bool {
	for _, v := range g.Data {
		if !isFinite(real(v)) || !isFinite(imag(v)) {
			return false
		}
	}
	return true
}

// Abs returns |ψ| elementwise.
func (g Grid) Abs() Real {
	out := NewReal(g.H, g.W)
	for i, v := range g.Data {
		out.Data[i] = cmplx.Abs(v)
	}
	return out
}

// Intensity returns |ψ|² elementwise.
func (g Grid) Intensity() Real {
	out := NewReal(g.H, g.W)
	for i, v := range g.Data {
		out.Data[i] = real(v)*real(v) + imag(v)*imag(v)
	}
	return out
}

// Phase returns arg(ψ) elementwise; the phase of zero is zero.
func (g Grid) Phase() Real {
	out := NewReal(g.H, g.W)
	for i, v := range g.Data {
		out.Data[i] = cmplx.Phase(v)
	}
	return out
}

// Mean returns the complex mean of the field.
func (g Grid) Mean() complex128 {
	if len(g.Data) == 0 {
		return 0
	}
	var sum complex128
	for _, v := range g.Data {
		sum += v
	}
	return sum / complex(float64(len(g.Data)), 0)
}

// Scale multiplies the field in place.
func (g Grid) Scale(s complex128) {
	for i := range g.Data {
		g.Data[i] *= s
	}
}

func (r Real) Len() int { return len(r.Data) }

func (r Real) At(y, x int) float64 { return r.Data[y*r.W+x] }

func (r Real) Clone() Real {
	return Real{H: r.H, W: r.W, Data: append([]float64(nil), r.Data...)}
}

func (r Real) Finite() bool {
	for _, v := range r.Data {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}
