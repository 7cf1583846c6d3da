package field

// Roll translates the grid periodically: out[(y+dy) mod H, (x+dx) mod W] = a[y, x].
func Roll(a Grid, dy, dx int) Grid {
	out := NewGrid(a.H, a.W)
	if a.H == 0 || a.W == 0 {
		return out
	}
	for y := 0; y < a.H; y++ {
		ty := wrap(y+dy, a.H)
		for x := 0; x < a.W; x++ {
			out.Data[ty*a.W+wrap(x+dx, a.W)] = a.Data[y*a.W+x]
		}
	}
	return out
}

// RollReal is Roll for real fields.
func RollReal(a Real, dy, dx int) Real {
	out := NewReal(a.H, a.W)
	if a.H == 0 || a.W == 0 {
		return out
	}
	for y := 0; y < a.H; y++ {
		ty := wrap(y+dy, a.H)
		for x := 0; x < a.W; x++ {
			out.Data[ty*a.W+wrap(x+dx, a.W)] = a.Data[y*a.W+x]
		}
	}
	return out
}

// Laplacian is the five-point periodic stencil.
func Laplacian(u Grid) Grid {
	if !u.Finite() {
		return u.Clone()
	}
	out := NewGrid(u.H, u.W)
	for y := 0; y < u.H; y++ {
		up := wrap(y-1, u.H) * u.W
		down := wrap(y+1, u.H) * u.W
		row := y * u.W
		for x := 0; x < u.W; x++ {
			left := wrap(x-1, u.W)
			right := wrap(x+1, u.W)
			out.Data[row+x] = u.Data[up+x] + u.Data[down+x] + u.Data[row+left] + u.Data[row+right] - 4*u.Data[row+x]
		}
	}
	return out
}

// LaplacianReal is Laplacian for real fields.
func LaplacianReal(u Real) Real {
	if !u.Finite() {
		return u.Clone()
	}
	out := NewReal(u.H, u.W)
	for y := 0; y < u.H; y++ {
		up := wrap(y-1, u.H) * u.W
		down := wrap(y+1, u.H) * u.W
		row := y * u.W
		for x := 0; x < u.W; x++ {
			left := wrap(x-1, u.W)
			right := wrap(x+1, u.W)
			out.Data[row+x] = u.Data[up+x] + u.Data[down+x] + u.Data[row+left] + u.Data[row+right] - 4*u.Data[row+x]
		}
	}
	return out
}

// Grad returns central differences along y (axis 0) and x (axis 1).
func Grad(u Real) (gy, gx Real) {
	if !u.Finite() {
		return u.Clone(), u.Clone()
	}
	gy = NewReal(u.H, u.W)
	gx = NewReal(u.H, u.W)
	for y := 0; y < u.H; y++ {
		up := wrap(y-1, u.H) * u.W
		down := wrap(y+1, u.H) * u.W
		row := y * u.W
		for x := 0; x < u.W; x++ {
			gy.Data[row+x] = (u.Data[down+x] - u.Data[up+x]) / 2
			gx.Data[row+x] = (u.Data[row+wrap(x+1, u.W)] - u.Data[row+wrap(x-1, u.W)]) / 2
		}
	}
	return gy, gx
}

// GradComplex is Grad for complex fields.
func GradComplex(u Grid) (gy, gx Grid) {
	if !u.Finite() {
		return u.Clone(), u.Clone()
	}
	gy = NewGrid(u.H, u.W)
	gx = NewGrid(u.H, u.W)
	for y := 0; y < u.H; y++ {
		up := wrap(y-1, u.H) * u.W
		down := wrap(y+1, u.H) * u.W
		row := y * u.W
		for x := 0; x < u.W; x++ {
			gy.Data[row+x] = (u.Data[down+x] - u.Data[up+x]) / 2
			gx.Data[row+x] = (u.Data[row+wrap(x+1, u.W)] - u.Data[row+wrap(x-1, u.W)]) / 2
		}
	}
	return gy, gx
}

// InfoFlux computes J = Im(conj(ψ)·∇ψ).
func InfoFlux(psi Grid) (jx, jy Real) {
	jx = NewReal(psi.H, psi.W)
	jy = NewReal(psi.H, psi.W)
	if !psi.Finite() {
		return jx, jy
	}
	gy, gx := GradComplex(psi)
	for i, v := range psi.Data {
		c := complex(real(v), -imag(v))
		jx.Data[i] = imag(c * gx.Data[i])
		jy.Data[i] = imag(c * gy.Data[i])
	}
	return jx, jy
}

// CurlZ is ∂Jy/∂x − ∂Jx/∂y.
func CurlZ(jx, jy Real) Real {
	if !jx.Finite() || !jy.Finite() {
		return NewReal(jx.H, jx.W)
	}
	_, dJyDx := Grad(jy)
	dJxDy, _ := Grad(jx)
	out := NewReal(jx.H, jx.W)
	for i := range out.Data {
		out.Data[i] = dJyDx.Data[i] - dJxDy.Data[i]
	}
	return out
}

// DivergenceOfInfoFlux returns −k·∇²C.
func DivergenceOfInfoFlux(c Real, k float64) Real {
	if !c.Finite() {
		return c.Clone()
	}
	lap := LaplacianReal(c)
	for i := range lap.Data {
		lap.Data[i] *= -k
	}
	return lap
}
