package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"pfsap/internal/control"
	"pfsap/internal/logging"
	"pfsap/internal/model"
	"pfsap/internal/scape"
	"pfsap/internal/stats"
	"pfsap/internal/storage"
	"pfsap/internal/telemetry"
)

var (
	ErrNotInitialized = errors.New("lab is not initialized")
	ErrNotFound       = errors.New("run not found")
)

type Config struct {
	Store          storage.Store
	ArtifactRoot   string
	EmitTelemetry  bool
	EmitField      bool
	Logger         *slog.Logger
	Metrics        *telemetry.Metrics
	SupportModules []SupportModule
	// Now stamps meta.json and index entries; defaults to time.Now.
	Now func() time.Time
}

// SupportModule is a long-lived service started and stopped with the lab.
type SupportModule interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Lab struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	started bool
	modules []SupportModule

	// indexMu serializes run_index.json rewrites across concurrent runs.
	indexMu sync.Mutex

	config Config
}

func NewLab(cfg Config) *Lab {
	if cfg.ArtifactRoot == "" {
		cfg.ArtifactRoot = stats.DefaultRoot
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Lab{
		store:   cfg.Store,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     now,
		config:  cfg,
	}
}

func (l *Lab) Init(ctx context.Context) error {
	if l.store == nil {
		return fmt.Errorf("store is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}
	if err := l.store.Init(ctx); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(l.config.SupportModules))
	started := make([]SupportModule, 0, len(l.config.SupportModules))
	for i, module := range l.config.SupportModules {
		if module == nil {
			stopSupportModules(ctx, started)
			return fmt.Errorf("support module is nil at index %d", i)
		}
		name := module.Name()
		if name == "" {
			stopSupportModules(ctx, started)
			return fmt.Errorf("support module name is required at index %d", i)
		}
		if _, exists := seen[name]; exists {
			stopSupportModules(ctx, started)
			return fmt.Errorf("duplicate support module: %s", name)
		}
		if err := module.Start(ctx); err != nil {
			stopSupportModules(ctx, started)
			return fmt.Errorf("start support module %s: %w", name, err)
		}
		seen[name] = struct{}{}
		started = append(started, module)
	}

	l.modules = started
	l.started = true
	return nil
}

func (l *Lab) Started() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.started
}

// Stop halts support modules and closes the store.
func (l *Lab) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return nil
	}
	stopSupportModules(ctx, l.modules)
	l.modules = nil
	l.started = false
	return storage.CloseIfSupported(l.store)
}

func (l *Lab) ArtifactRoot() string {
	return l.config.ArtifactRoot
}

// Prepared is a resolved run: pillar, configuration and a fresh controller.
type Prepared struct {
	Scape      scape.Scape
	Config     model.Config
	Controller scape.Actuator
	Options    scape.Options
}

// RunHash is the hash the prepared run will be written under.
func (p Prepared) RunHash() (string, error) {
	return scape.HashFor(p.Scape, p.Config, p.Controller.Name())
}

// Prepare resolves a spec without running it.
func (l *Lab) Prepare(spec RunSpec) (Prepared, error) {
	sc, err := scape.Lookup(spec.Pillar)
	if err != nil {
		return Prepared{}, err
	}
	cfg := sc.DefaultConfig()
	cfg.Pillar = sc.Name()

	keys := make([]string, 0, len(spec.Overrides))
	for key := range spec.Overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := cfg.Set(key, spec.Overrides[key]); err != nil {
			return Prepared{}, err
		}
	}
	if spec.Seed != nil {
		cfg.Seed = *spec.Seed
	}

	name := spec.Controller
	if name == "" {
		name = DefaultController(sc.Name())
	}
	var act scape.Actuator
	if sc.Name() == model.PillarEnergy {
		act, err = control.NewMask(name, sc.Name(), spec.ControllerParams, cfg.H, cfg.Seed)
	} else {
		act, err = control.New(name, sc.Name(), spec.ControllerParams, cfg.Seed)
	}
	if err != nil {
		return Prepared{}, err
	}

	opts := scape.DefaultOptions()
	opts.EmitTelemetry = l.config.EmitTelemetry
	if spec.Frames != nil {
		opts.EmitFrames = *spec.Frames
	} else {
		opts.EmitFrames = l.config.EmitField
	}
	if spec.FrameStride > 0 {
		opts.FrameStride = spec.FrameStride
	}
	return Prepared{Scape: sc, Config: cfg, Controller: act, Options: opts}, nil
}

// RunSpec simulates one run, writes its directory and indexes it.
func (l *Lab) RunSpec(ctx context.Context, spec RunSpec) (RunResult, error) {
	if !l.Started() {
		return RunResult{}, ErrNotInitialized
	}
	p, err := l.Prepare(spec)
	if err != nil {
		return RunResult{}, err
	}
	pillar := p.Scape.Name()

	ctx, span := telemetry.Tracer().Start(ctx, "scape.run")
	defer span.End()
	span.SetAttributes(telemetry.RunAttributes(p.Scape.TestID(), pillar, p.Controller.Name(), p.Config.Seed)...)

	start := time.Now()
	rec, err := p.Scape.Run(ctx, p.Config, p.Controller, p.Options)
	elapsed := time.Since(start)
	l.metrics.ObserveRun(pillar, p.Config.Steps, elapsed, rec.Diverged, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}
	span.SetAttributes(
		attribute.String("pfsap.run_hash", rec.RunHash),
		attribute.Bool("pfsap.diverged", rec.Diverged),
	)

	res, err := l.write(ctx, rec, p.Config)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}

	summary := rec.Summarize(res.Dir, l.now())
	l.indexMu.Lock()
	err = stats.AppendRunIndex(l.config.ArtifactRoot, summary)
	l.indexMu.Unlock()
	if err != nil {
		return RunResult{}, fmt.Errorf("index run %s: %w", summary.Key(), err)
	}
	if err := l.store.SaveRun(ctx, summary); err != nil {
		return RunResult{}, fmt.Errorf("store run %s: %w", summary.Key(), err)
	}

	l.logger.Info("run complete",
		"test_id", rec.TestID,
		"run_hash", rec.RunHash,
		"controller", rec.Controller,
		"diverged", rec.Diverged,
		"elapsed", elapsed,
	)
	return RunResult{Record: rec, Config: p.Config, Write: res, Summary: summary}, nil
}

func (l *Lab) write(ctx context.Context, rec model.RunRecord, cfg model.Config) (stats.WriteResult, error) {
	_, span := telemetry.Tracer().Start(ctx, "artifacts.write")
	defer span.End()

	res, err := stats.WriteRun(l.config.ArtifactRoot, rec, cfg, stats.WriteOptions{
		EmitTelemetry: l.config.EmitTelemetry,
		EmitField:     l.config.EmitField,
		Now:           l.now,
		Logger:        l.logger,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(
		attribute.String("pfsap.dir", res.Dir),
		attribute.Int64("pfsap.bytes", res.Bytes),
		attribute.Bool("pfsap.telemetry", res.Optional.Telemetry),
		attribute.Bool("pfsap.field", res.Optional.Field),
	)
	l.metrics.AddArtifactBytes(rec.Pillar, res.Bytes)
	l.logger.Debug("artifacts written", "dir", res.Dir, "bytes", res.Bytes, "telemetry", res.Optional.Telemetry, "field", res.Optional.Field)
	return res, nil
}

// Runs lists indexed runs for a test id, or all runs when it is empty.
func (l *Lab) Runs(ctx context.Context, testID string) ([]model.RunSummary, error) {
	if !l.Started() {
		return nil, ErrNotInitialized
	}
	return l.store.ListRuns(ctx, testID)
}

func (l *Lab) GetRun(ctx context.Context, testID, runHash string) (model.RunSummary, error) {
	if !l.Started() {
		return model.RunSummary{}, ErrNotInitialized
	}
	summary, ok, err := l.store.GetRun(ctx, testID, runHash)
	if err != nil {
		return model.RunSummary{}, err
	}
	if !ok {
		return model.RunSummary{}, fmt.Errorf("%w: %s/%s", ErrNotFound, testID, runHash)
	}
	return summary, nil
}

// DefaultController is the controller used when a spec names none.
func DefaultController(pillar string) string {
	switch pillar {
	case model.PillarThermo:
		return control.PhaseLockRecyclerName
	case model.PillarEnergy:
		return control.GerchbergSaxtonROIName
	default:
		return control.ProportionalCurlName
	}
}

func stopSupportModules(ctx context.Context, modules []SupportModule) {
	for i := len(modules) - 1; i >= 0; i-- {
		_ = modules[i].Stop(ctx)
	}
}
