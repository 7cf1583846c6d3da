// Package replay streams persisted field frames back out as per-frame
// pattern files and an append-only feedback log.
package replay

import (
	"errors"
	"fmt"
	"os"

	"pfsap/internal/field"
	"pfsap/internal/npz"
	"pfsap/internal/stats"
)

// ErrInvalidArchive marks a missing or malformed field archive.
var ErrInvalidArchive = errors.New("invalid field archive")

// Archive is a loaded field.npz.
type Archive struct {
	Path   string
	Frames []field.Grid
	// Steps holds the originating step of each frame; it defaults to the
	// frame index when the archive carries no frame_steps.
	Steps  []int
	DT     float64
	Series map[string][]float64
}

// Load reads and validates a whole archive before anything is replayed.
func Load(path string) (*Archive, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, path, err)
	}
	arrays, err := npz.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, path, err)
	}

	re, ok := arrays[stats.KeyPsiReal]
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing %s", ErrInvalidArchive, path, stats.KeyPsiReal)
	}
	im, ok := arrays[stats.KeyPsiImag]
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing %s", ErrInvalidArchive, path, stats.KeyPsiImag)
	}
	if len(re.Shape) != 3 || !sameShape(re.Shape, im.Shape) {
		return nil, fmt.Errorf("%w: %s: psi planes must share a (F, H, W) shape, got %v and %v", ErrInvalidArchive, path, re.Shape, im.Shape)
	}

	count, h, w := re.Shape[0], re.Shape[1], re.Shape[2]
	realPart, imagPart := re.Floats(), im.Floats()
	if n := re.Len(); n < 0 || len(realPart) != n || len(imagPart) != n {
		return nil, fmt.Errorf("%w: %s: psi planes hold %d and %d values for shape %v", ErrInvalidArchive, path, len(realPart), len(imagPart), re.Shape)
	}
	a := &Archive{
		Path:   path,
		Frames: make([]field.Grid, count),
		Steps:  make([]int, count),
		Series: make(map[string][]float64),
	}
	cells := h * w
	for i := 0; i < count; i++ {
		g := field.NewGrid(h, w)
		for j := 0; j < cells; j++ {
			g.Data[j] = complex(realPart[i*cells+j], imagPart[i*cells+j])
		}
		a.Frames[i] = g
		a.Steps[i] = i
	}

	if steps, ok := arrays[stats.KeyFrameSteps]; ok {
		values := steps.Floats()
		if len(values) != count {
			return nil, fmt.Errorf("%w: %s: %d frame steps for %d frames", ErrInvalidArchive, path, len(values), count)
		}
		for i, v := range values {
			a.Steps[i] = int(v)
		}
	}
	if dt, ok := arrays[stats.KeyDT]; ok {
		if values := dt.Floats(); len(values) == 1 {
			a.DT = values[0]
		}
	}
	for _, key := range []string{"kappa", "curl_rms", "curvature", "norm"} {
		if arr, ok := arrays[key]; ok {
			a.Series[key] = arr.Floats()
		}
	}
	return a, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
