package pfsap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfsap/internal/replay"
	"pfsap/internal/stats"
)

func newTestClient(t *testing.T, root string) *Client {
	t.Helper()
	client, err := New(Options{
		StoreKind:     "memory",
		ArtifactRoot:  root,
		ExportsDir:    filepath.Join(t.TempDir(), "exports"),
		EmitTelemetry: true,
		EmitField:     true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func gravityRequest(seed int64) RunRequest {
	return RunRequest{
		Pillar: "BG01",
		Seed:   &seed,
		Config: map[string]float64{"H": 8, "W": 8, "sigma0": 2, "steps": 12},
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestClientRunShowAndExport(t *testing.T) {
	root := t.TempDir()
	client := newTestClient(t, root)
	ctx := context.Background()

	hash, err := client.Hash(gravityRequest(5))
	require.NoError(t, err)

	run, err := client.Run(ctx, gravityRequest(5))
	require.NoError(t, err)
	assert.Equal(t, hash.RunHash, run.RunHash)
	assert.Equal(t, hash.Dir, run.Dir)
	assert.Equal(t, "BG01", run.TestID)
	assert.Equal(t, "gravity", run.Pillar)
	assert.Equal(t, 12, run.Steps)
	assert.True(t, run.Telemetry)
	assert.True(t, run.Field)
	assert.Positive(t, run.Bytes)
	assert.True(t, ValidRunHash(run.RunHash))

	shown, err := client.Show(ctx, run.TestID, run.RunHash)
	require.NoError(t, err)
	assert.Equal(t, run.RunHash, shown.Meta.RunHash)
	assert.Equal(t, "gravity", shown.Meta.Pillar)
	assert.Equal(t, float64(8), shown.Config["H"])
	assert.Equal(t, run.RunHash, shown.Run["run_hash"])

	_, err = client.Show(ctx, "BG01", "0000000")
	assert.ErrorIs(t, err, ErrNotFound)

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, run.RunHash, exported.RunHash)
	for _, name := range []string{stats.MetaFile, stats.RunFile, stats.MetricsFile, stats.FieldFile} {
		_, err := os.Stat(filepath.Join(exported.Directory, name))
		assert.NoError(t, err, name)
	}

	_, err = client.Export(ctx, ExportRequest{})
	assert.Error(t, err)
	_, err = client.Export(ctx, ExportRequest{RunHash: run.RunHash, Latest: true})
	assert.Error(t, err)
}

func TestClientRunsFallsBackToIndex(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	first := newTestClient(t, root)
	_, err := first.Run(ctx, gravityRequest(1))
	require.NoError(t, err)
	_, err = first.Run(ctx, gravityRequest(2))
	require.NoError(t, err)

	// A fresh memory store knows nothing; the on-disk index still does.
	second := newTestClient(t, root)
	runs, err := second.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	limited, err := second.Runs(ctx, RunsRequest{TestID: "BG01", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := second.Runs(ctx, RunsRequest{TestID: "TH01"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClientRunAndBatchFiles(t *testing.T) {
	client := newTestClient(t, t.TempDir())
	ctx := context.Background()
	dir := t.TempDir()

	runPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(runPath, []byte("pillar: thermo\nseed: 4\nconfig:\n  H: 8\n  W: 8\n  steps: 5\n"), 0o644))
	run, err := client.RunFile(ctx, runPath)
	require.NoError(t, err)
	assert.Equal(t, "TH01", run.TestID)
	assert.Equal(t, int64(4), run.Seed)

	batchPath := filepath.Join(dir, "batch.json")
	require.NoError(t, os.WriteFile(batchPath, []byte(`{
  "notes": "pair",
  "runs": [
    {"pillar": "gravity", "seed": 1, "config": {"H": 8, "W": 8, "sigma0": 2, "steps": 4}},
    {"pillar": "gravity", "seed": 2, "config": {"H": 8, "W": 8, "sigma0": 2, "steps": 4}}
  ]
}`), 0o644))
	batch, err := client.BatchFile(ctx, batchPath, 2)
	require.NoError(t, err)
	assert.NotEmpty(t, batch.ID)
	assert.Len(t, batch.Runs, 2)
	assert.Empty(t, batch.Failures)

	manifest, ok, err := stats.ReadBatchManifest(client.ArtifactRoot(), batch.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pair", manifest.Notes)
}

func TestClientReplayLatestRun(t *testing.T) {
	root := t.TempDir()
	client := newTestClient(t, root)
	ctx := context.Background()

	run, err := client.Run(ctx, gravityRequest(0))
	require.NoError(t, err)

	var frames []replay.Summary
	summary, err := client.Replay(ctx, ReplayRequest{Sleep: noSleep, OnFrame: func(s replay.Summary) {
		frames = append(frames, s)
	}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(run.Dir, stats.FieldFile), summary.File)
	assert.Equal(t, 6, summary.Frames)
	assert.Equal(t, 6, summary.Patterns)
	assert.Len(t, frames, 6)
	assert.Equal(t, filepath.Join(root, "replay", "feedback.jsonl"), summary.Feedback)

	entries, err := os.ReadDir(filepath.Join(root, "replay", "patterns"))
	require.NoError(t, err)
	assert.Len(t, entries, 6)

	quiet, err := client.Replay(ctx, ReplayRequest{File: summary.File, NoPatterns: true, Sleep: noSleep})
	require.NoError(t, err)
	assert.Equal(t, 6, quiet.Frames)
	assert.Zero(t, quiet.Patterns)
}

func TestClientReplayMissingArchiveWritesNothing(t *testing.T) {
	root := t.TempDir()
	client := newTestClient(t, root)
	ctx := context.Background()

	_, err := client.Replay(ctx, ReplayRequest{File: filepath.Join(root, "nope.npz")})
	assert.ErrorIs(t, err, replay.ErrInvalidArchive)

	_, err = client.Replay(ctx, ReplayRequest{})
	assert.ErrorIs(t, err, replay.ErrInvalidArchive)

	_, err = os.Stat(filepath.Join(root, "replay"))
	assert.True(t, os.IsNotExist(err))
}
