package stats

import (
	"fmt"

	"pfsap/internal/model"
	"pfsap/internal/npz"
)

// Field archive keys.
const (
	KeyPsiReal    = "psi_real"
	KeyPsiImag    = "psi_imag"
	KeyFrameSteps = "frame_steps"
	KeyDT         = "dt"
)

// archiveSeriesKeys maps the core series onto their archive names.
var archiveSeriesKeys = map[string]string{
	model.SeriesKappa:     "kappa",
	model.SeriesCurlRMS:   "curl_rms",
	model.SeriesCurvature: "curvature",
	model.SeriesNorm:      "norm",
}

func writeField(path string, rec model.RunRecord, frames []model.Frame) error {
	arrays, err := FieldArrays(rec, frames)
	if err != nil {
		return err
	}
	return npz.WriteFile(path, arrays)
}

// FieldArrays lays frames out as float32 (F, H, W) real and imaginary
// planes alongside the core series, the frame steps and dt.
func FieldArrays(rec model.RunRecord, frames []model.Frame) (map[string]npz.Array, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames attached")
	}
	h, w := frames[0].H, frames[0].W
	cells := h * w
	re := make([]float32, 0, len(frames)*cells)
	im := make([]float32, 0, len(frames)*cells)
	steps := make([]int64, 0, len(frames))
	for i, frame := range frames {
		if frame.H != h || frame.W != w || len(frame.Data) != cells {
			return nil, fmt.Errorf("frame %d is %dx%d with %d cells, want %dx%d", i, frame.H, frame.W, len(frame.Data), h, w)
		}
		for _, v := range frame.Data {
			re = append(re, float32(real(v)))
			im = append(im, float32(imag(v)))
		}
		steps = append(steps, int64(frame.Step))
	}

	shape := []int{len(frames), h, w}
	arrays := map[string]npz.Array{
		KeyPsiReal:    npz.Float32(shape, re),
		KeyPsiImag:    npz.Float32(shape, im),
		KeyFrameSteps: npz.Int64([]int{len(steps)}, steps),
		KeyDT:         npz.Float64(nil, []float64{rec.DT}),
	}
	for series, key := range archiveSeriesKeys {
		values := rec.Series[series]
		out := make([]float32, len(values))
		for i, v := range values {
			out[i] = float32(v)
		}
		arrays[key] = npz.Float32([]int{len(out)}, out)
	}
	return arrays, nil
}
