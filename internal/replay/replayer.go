package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"pfsap/internal/field"
)

// Summary is the per-frame digest written to pattern files and the
// feedback log.
type Summary struct {
	Frame     int     `json:"frame"`
	Step      int     `json:"step"`
	Phi       float64 `json:"phi"`
	Nu        float64 `json:"nu"`
	Psi       float64 `json:"psi"`
	Stability float64 `json:"stability"`
}

// FeedbackRecord is one line of the feedback log.
type FeedbackRecord struct {
	Timestamp string  `json:"timestamp"`
	Phi       float64 `json:"phi"`
	Nu        float64 `json:"nu"`
	Psi       float64 `json:"psi"`
	Stability float64 `json:"stability"`
	Source    string  `json:"source"`
}

type Options struct {
	// FPS overrides the archive dt when positive.
	FPS float64
	// Speed divides every sleep; non-positive means 1.
	Speed        float64
	PatternDir   string
	NoPatterns   bool
	FeedbackPath string

	Sleep   func(ctx context.Context, d time.Duration) error
	Now     func() time.Time
	Logger  *slog.Logger
	OnFrame func(Summary)
}

type Report struct {
	Frames   int `json:"frames"`
	Patterns int `json:"patterns"`
}

type Replayer struct {
	opts Options
}

func New(opts Options) *Replayer {
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Replayer{opts: opts}
}

// Delay is the pause between frames: 1/fps when fps is set, otherwise the
// archive dt, divided by speed.
func (r *Replayer) Delay(a *Archive) time.Duration {
	seconds := a.DT
	if r.opts.FPS > 0 {
		seconds = 1 / r.opts.FPS
	}
	speed := r.opts.Speed
	if speed <= 0 {
		speed = 1
	}
	seconds /= speed
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// Run replays every frame in order. The archive is never modified; the
// feedback log is only ever appended to.
func (r *Replayer) Run(ctx context.Context, a *Archive) (Report, error) {
	var report Report
	if a == nil {
		return report, fmt.Errorf("%w: nil archive", ErrInvalidArchive)
	}

	var feedback *os.File
	if r.opts.FeedbackPath != "" {
		if err := os.MkdirAll(filepath.Dir(r.opts.FeedbackPath), 0o755); err != nil {
			return report, err
		}
		f, err := os.OpenFile(r.opts.FeedbackPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return report, err
		}
		defer f.Close()
		feedback = f
	}
	patterns := !r.opts.NoPatterns && r.opts.PatternDir != ""
	if patterns {
		if err := os.MkdirAll(r.opts.PatternDir, 0o755); err != nil {
			return report, err
		}
	}

	delay := r.Delay(a)
	for i, frame := range a.Frames {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s := Summarize(frame)
		s.Frame = i
		s.Step = a.Steps[i]

		if patterns {
			if err := writePattern(filepath.Join(r.opts.PatternDir, fmt.Sprintf("frame_%05d.json", i)), s, a.Path); err != nil {
				return report, err
			}
			report.Patterns++
		}
		if feedback != nil {
			if err := appendFeedback(feedback, FeedbackRecord{
				Timestamp: r.opts.Now().UTC().Format(time.RFC3339Nano),
				Phi:       s.Phi,
				Nu:        s.Nu,
				Psi:       s.Psi,
				Stability: s.Stability,
				Source:    a.Path,
			}); err != nil {
				return report, err
			}
		}
		report.Frames++
		if r.opts.OnFrame != nil {
			r.opts.OnFrame(s)
		}
		r.opts.Logger.Debug("frame replayed", "frame", i, "step", s.Step, "phi", s.Phi, "stability", s.Stability)

		if delay > 0 {
			if err := r.opts.Sleep(ctx, delay); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// Summarize derives the coherence (phi), curvature (nu), L2 norm (psi) and
// amplitude stability of one frame. Empty or non-finite frames summarize
// to zeros.
func Summarize(g field.Grid) Summary {
	if g.Len() == 0 || !g.Finite() {
		return Summary{}
	}
	s := Summary{
		Phi: field.CoherenceProxy(g),
		Nu:  field.CurvatureProxy(g),
		Psi: field.L2Norm(g),
	}
	amp := g.Abs().Data
	mean := 0.0
	for _, v := range amp {
		mean += v
	}
	mean /= float64(len(amp))
	if mean <= field.Eps {
		return s
	}
	variance := 0.0
	for _, v := range amp {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(amp)))
	s.Stability = 1 / (1 + std/mean)
	return s
}

func writePattern(path string, s Summary, source string) error {
	doc := struct {
		Summary
		Source string `json:"source"`
	}{Summary: s, Source: source}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func appendFeedback(w io.Writer, rec FeedbackRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
