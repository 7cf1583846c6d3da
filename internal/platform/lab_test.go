package platform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfsap/internal/control"
	"pfsap/internal/model"
	"pfsap/internal/scape"
	"pfsap/internal/stats"
	"pfsap/internal/storage"
	"pfsap/internal/telemetry"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }

func newTestLab(t *testing.T, cfg Config) *Lab {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.ArtifactRoot == "" {
		cfg.ArtifactRoot = t.TempDir()
	}
	if cfg.Now == nil {
		cfg.Now = fixedNow
	}
	lab := NewLab(cfg)
	require.NoError(t, lab.Init(context.Background()))
	t.Cleanup(func() { _ = lab.Stop(context.Background()) })
	return lab
}

func smallGravity(seed int64) RunSpec {
	return RunSpec{
		Pillar:    "gravity",
		Seed:      &seed,
		Overrides: map[string]float64{"H": 8, "W": 8, "sigma0": 2, "steps": 10},
	}
}

func TestLabRequiresInit(t *testing.T) {
	lab := NewLab(Config{Store: storage.NewMemoryStore()})
	_, err := lab.RunSpec(context.Background(), smallGravity(0))
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.Error(t, NewLab(Config{}).Init(context.Background()))
}

func TestLabRunSpecWritesAndIndexes(t *testing.T) {
	metrics := telemetry.NewMetrics()
	lab := newTestLab(t, Config{EmitTelemetry: true, EmitField: true, Metrics: metrics})
	ctx := context.Background()

	spec := smallGravity(3)
	prepared, err := lab.Prepare(spec)
	require.NoError(t, err)
	wantHash, err := prepared.RunHash()
	require.NoError(t, err)

	res, err := lab.RunSpec(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, wantHash, res.Record.RunHash)
	assert.Equal(t, scape.GravityTestID, res.Record.TestID)
	assert.Equal(t, control.ProportionalCurlName, res.Record.Controller)
	assert.Equal(t, int64(3), res.Record.Seed)
	assert.Equal(t, filepath.Join(lab.ArtifactRoot(), "BG01", wantHash), res.Write.Dir)
	assert.True(t, res.Write.CoreOK)
	assert.True(t, res.Write.Optional.Telemetry)
	assert.True(t, res.Write.Optional.Field)

	for _, name := range []string{stats.MetaFile, stats.ConfigFile, stats.RunFile, stats.MetricsFile, stats.TelemetryFile, stats.FieldFile} {
		_, err := os.Stat(filepath.Join(res.Write.Dir, name))
		assert.NoError(t, err, name)
	}

	stored, err := lab.GetRun(ctx, "BG01", wantHash)
	require.NoError(t, err)
	assert.Equal(t, res.Summary, stored)
	assert.Equal(t, 10, stored.Steps)
	assert.Equal(t, "2024-03-01T09:30:00Z", stored.CreatedAtUTC)

	index, err := stats.ListRunIndex(lab.ArtifactRoot())
	require.NoError(t, err)
	require.Len(t, index, 1)
	assert.Equal(t, stored.Key(), index[0].Key())

	runs, err := lab.Runs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	count, err := testutil.GatherAndCount(metrics.Registry(), "pfsap_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLabRunSpecIsIdempotent(t *testing.T) {
	lab := newTestLab(t, Config{})
	ctx := context.Background()

	first, err := lab.RunSpec(ctx, smallGravity(1))
	require.NoError(t, err)
	metricsBefore, err := os.ReadFile(filepath.Join(first.Write.Dir, stats.MetricsFile))
	require.NoError(t, err)

	second, err := lab.RunSpec(ctx, smallGravity(1))
	require.NoError(t, err)
	assert.Equal(t, first.Record.RunHash, second.Record.RunHash)
	metricsAfter, err := os.ReadFile(filepath.Join(second.Write.Dir, stats.MetricsFile))
	require.NoError(t, err)
	assert.Equal(t, metricsBefore, metricsAfter)

	index, err := stats.ListRunIndex(lab.ArtifactRoot())
	require.NoError(t, err)
	assert.Len(t, index, 1)
}

func TestLabRespectsGatesAndFrameOverride(t *testing.T) {
	lab := newTestLab(t, Config{EmitTelemetry: false, EmitField: true})
	noFrames := false
	spec := smallGravity(0)
	spec.Frames = &noFrames

	res, err := lab.RunSpec(context.Background(), spec)
	require.NoError(t, err)
	assert.False(t, res.Write.Optional.Telemetry)
	assert.False(t, res.Write.Optional.Field)
	assert.Empty(t, res.Record.Frames)
	_, err = os.Stat(filepath.Join(res.Write.Dir, stats.FieldFile))
	assert.True(t, os.IsNotExist(err))
}

func TestLabPrepareErrors(t *testing.T) {
	lab := newTestLab(t, Config{})

	_, err := lab.Prepare(RunSpec{Pillar: "plasma"})
	assert.ErrorIs(t, err, scape.ErrUnknownScape)

	_, err = lab.Prepare(RunSpec{Pillar: "gravity", Controller: "nope"})
	assert.ErrorIs(t, err, control.ErrUnknownController)

	_, err = lab.Prepare(RunSpec{Pillar: "gravity", Controller: control.SPGDName})
	assert.ErrorIs(t, err, control.ErrIncompatible)

	_, err = lab.Prepare(RunSpec{Pillar: "gravity", Overrides: map[string]float64{"warp": 1}})
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestLabRunsEveryPillar(t *testing.T) {
	lab := newTestLab(t, Config{EmitField: true})
	ctx := context.Background()

	thermo, err := lab.RunSpec(ctx, RunSpec{Pillar: "thermo", Overrides: map[string]float64{"H": 8, "W": 8, "steps": 6}})
	require.NoError(t, err)
	assert.Equal(t, scape.ThermoTestID, thermo.Record.TestID)
	assert.Equal(t, control.PhaseLockRecyclerName, thermo.Record.Controller)

	energy, err := lab.RunSpec(ctx, RunSpec{Pillar: "energy", Controller: control.SPGDName, Overrides: map[string]float64{"H": 16, "W": 16, "steps": 4}})
	require.NoError(t, err)
	assert.Equal(t, scape.EnergyTestID, energy.Record.TestID)
	assert.Equal(t, control.SPGDName, energy.Record.Controller)

	runs, err := lab.Runs(ctx, scape.EnergyTestID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestLabGetRunNotFound(t *testing.T) {
	lab := newTestLab(t, Config{})
	_, err := lab.GetRun(context.Background(), "BG01", "0000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLabRunBatch(t *testing.T) {
	lab := newTestLab(t, Config{})
	bad := RunSpec{Pillar: "gravity", Overrides: map[string]float64{"H": 0}}
	specs := []RunSpec{smallGravity(1), bad, smallGravity(2)}

	result, err := lab.RunBatch(context.Background(), specs, BatchOptions{Workers: 2, Notes: "sweep"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed())
	assert.ErrorIs(t, result.Errors[1], model.ErrConfiguration)
	assert.NotEmpty(t, result.Results[0].Record.RunHash)
	assert.NotEmpty(t, result.Results[2].Record.RunHash)
	assert.NotEqual(t, result.Results[0].Record.RunHash, result.Results[2].Record.RunHash)

	manifest := result.Manifest
	assert.Equal(t, 3, manifest.TotalRuns)
	assert.Len(t, manifest.Runs, 2)
	assert.Len(t, manifest.Failures, 1)
	assert.Equal(t, "sweep", manifest.Notes)

	loaded, ok, err := stats.ReadBatchManifest(lab.ArtifactRoot(), manifest.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, manifest.ID, loaded.ID)
	assert.Len(t, loaded.Runs, 2)

	index, err := stats.ListRunIndex(lab.ArtifactRoot())
	require.NoError(t, err)
	assert.Len(t, index, 2)
}

func TestLabRunBatchCancelled(t *testing.T) {
	lab := newTestLab(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := lab.RunBatch(ctx, []RunSpec{smallGravity(1)}, BatchOptions{Workers: 1})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

type recordingModule struct {
	name   string
	events *[]string
	fail   bool
}

func (m recordingModule) Name() string { return m.name }

func (m recordingModule) Start(context.Context) error {
	if m.fail {
		return errors.New("refused")
	}
	*m.events = append(*m.events, "start "+m.name)
	return nil
}

func (m recordingModule) Stop(context.Context) error {
	*m.events = append(*m.events, "stop "+m.name)
	return nil
}

func TestLabSupportModules(t *testing.T) {
	var events []string
	lab := NewLab(Config{
		Store:        storage.NewMemoryStore(),
		ArtifactRoot: t.TempDir(),
		SupportModules: []SupportModule{
			recordingModule{name: "metrics", events: &events},
			recordingModule{name: "watch", events: &events},
		},
	})
	ctx := context.Background()
	require.NoError(t, lab.Init(ctx))
	assert.True(t, lab.Started())
	require.NoError(t, lab.Stop(ctx))
	assert.False(t, lab.Started())
	assert.Equal(t, []string{"start metrics", "start watch", "stop watch", "stop metrics"}, events)

	events = nil
	failing := NewLab(Config{
		Store: storage.NewMemoryStore(),
		SupportModules: []SupportModule{
			recordingModule{name: "metrics", events: &events},
			recordingModule{name: "broken", events: &events, fail: true},
		},
	})
	err := failing.Init(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start support module broken")
	assert.Equal(t, []string{"start metrics", "stop metrics"}, events)

	duplicate := NewLab(Config{
		Store: storage.NewMemoryStore(),
		SupportModules: []SupportModule{
			recordingModule{name: "metrics", events: &events},
			recordingModule{name: "metrics", events: &events},
		},
	})
	assert.Error(t, duplicate.Init(ctx))
}
