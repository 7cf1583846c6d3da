package field

import "github.com/mjibson/go-dsp/fft"

// FFT2 is the unnormalized forward 2D transform. The transform is delegated to
// go-dsp; bit-identical replays assume the same vendor and platform.
func FFT2(g Grid) Grid {
	return fromRows(fft.FFT2(toRows(g)), g.H, g.W)
}

// IFFT2 is the inverse 2D transform, normalized by 1/(H·W).
func IFFT2(g Grid) Grid {
	return fromRows(fft.IFFT2(toRows(g)), g.H, g.W)
}

// FFTShift moves the zero-frequency term to the centre.
func FFTShift(g Grid) Grid {
	return Roll(g, g.H/2, g.W/2)
}

// IFFTShift undoes FFTShift, including for odd sizes.
func IFFTShift(g Grid) Grid {
	return Roll(g, -(g.H / 2), -(g.W / 2))
}

// Propagate maps an aperture field to the focal plane:
// fftshift(fft2(ifftshift(u))).
func Propagate(u Grid) Grid {
	return FFTShift(FFT2(IFFTShift(u)))
}

// Backpropagate inverts Propagate.
func Backpropagate(f Grid) Grid {
	return FFTShift(IFFT2(IFFTShift(f)))
}

func toRows(g Grid) [][]complex128 {
	rows := make([][]complex128, g.H)
	for y := 0; y < g.H; y++ {
		rows[y] = append([]complex128(nil), g.Data[y*g.W:(y+1)*g.W]...)
	}
	return rows
}

func fromRows(rows [][]complex128, h, w int) Grid {
	out := NewGrid(h, w)
	for y := 0; y < h && y < len(rows); y++ {
		copy(out.Data[y*w:(y+1)*w], rows[y])
	}
	return out
}
