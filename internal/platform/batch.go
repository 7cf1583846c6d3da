package platform

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pfsap/internal/stats"
)

type BatchOptions struct {
	// Workers bounds concurrent runs; non-positive means GOMAXPROCS.
	Workers int
	Notes   string
}

type BatchResult struct {
	Manifest stats.BatchManifest
	// Results and Errors are aligned with the input specs; exactly one of
	// the two is set per index.
	Results []RunResult
	Errors  []error
}

// Failed counts runs that returned an error.
func (b BatchResult) Failed() int {
	n := 0
	for _, err := range b.Errors {
		if err != nil {
			n++
		}
	}
	return n
}

// RunBatch executes specs on a bounded worker pool. A failing run is
// recorded and does not stop its siblings; only cancellation of ctx aborts
// the batch. The manifest is written under <root>/batches/<id>.
func (l *Lab) RunBatch(ctx context.Context, specs []RunSpec, opts BatchOptions) (BatchResult, error) {
	if !l.Started() {
		return BatchResult{}, ErrNotInitialized
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	result := BatchResult{
		Manifest: stats.BatchManifest{
			ID:           uuid.NewString(),
			Notes:        opts.Notes,
			StartedAtUTC: l.now().UTC().Format(time.RFC3339Nano),
			TotalRuns:    len(specs),
		},
		Results: make([]RunResult, len(specs)),
		Errors:  make([]error, len(specs)),
	}
	l.logger.Info("batch started", "batch_id", result.Manifest.ID, "runs", len(specs), "workers", workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, spec := range specs {
		if gctx.Err() != nil {
			break
		}
		i, spec := i, spec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := l.RunSpec(gctx, spec)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result.Errors[i] = err
				l.logger.Warn("batch run failed", "batch_id", result.Manifest.ID, "index", i, "pillar", spec.Pillar, "error", err)
				return nil
			}
			result.Results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	for i := range specs {
		if result.Errors[i] != nil {
			result.Manifest.Failures = append(result.Manifest.Failures, fmt.Sprintf("%d %s: %v", i, specs[i].Pillar, result.Errors[i]))
			continue
		}
		result.Manifest.Runs = append(result.Manifest.Runs, result.Results[i].Summary)
	}
	result.Manifest.CompletedAtUTC = l.now().UTC().Format(time.RFC3339Nano)
	if err := stats.WriteBatchManifest(l.config.ArtifactRoot, result.Manifest); err != nil {
		return result, fmt.Errorf("write batch manifest: %w", err)
	}
	l.logger.Info("batch complete", "batch_id", result.Manifest.ID, "runs", len(result.Manifest.Runs), "failures", len(result.Manifest.Failures))
	return result, nil
}
