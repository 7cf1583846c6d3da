// Package pfsap is the public entry point for running field simulations,
// browsing their artifacts and replaying persisted frames.
package pfsap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pfsap/internal/config"
	"pfsap/internal/logging"
	"pfsap/internal/model"
	"pfsap/internal/platform"
	"pfsap/internal/replay"
	"pfsap/internal/runid"
	"pfsap/internal/stats"
	"pfsap/internal/storage"
	"pfsap/internal/telemetry"
)

const (
	defaultExportsDir = "exports"
	replayDir         = "replay"
)

var ErrNotFound = platform.ErrNotFound

type Options struct {
	StoreKind     string
	DBPath        string
	ArtifactRoot  string
	ExportsDir    string
	EmitTelemetry bool
	EmitField     bool
	Logger        *slog.Logger
	Metrics       *telemetry.Metrics
	Modules       []platform.SupportModule
}

// OptionsFromEnv fills store, root and emit gates from the environment.
func OptionsFromEnv() Options {
	env := config.FromEnv()
	return Options{
		StoreKind:     env.Store,
		DBPath:        env.DBPath,
		ArtifactRoot:  env.ArtifactRoot,
		EmitTelemetry: env.EmitTelemetry,
		EmitField:     env.EmitField,
	}
}

type Client struct {
	lab     *platform.Lab
	logger  *slog.Logger
	metrics *telemetry.Metrics

	artifactRoot string
	exportsDir   string
}

type RunRequest struct {
	Pillar           string
	Controller       string
	ControllerParams map[string]float64
	Seed             *int64
	Config           map[string]float64
	Frames           *bool
	FrameStride      int
}

type RunSummary struct {
	TestID     string
	RunHash    string
	Pillar     string
	Controller string
	Seed       int64
	Steps      int
	Dir        string
	Diverged   bool
	Flagged    []int
	Scalars    map[string]float64
	Telemetry  bool
	Field      bool
	Bytes      int64
}

type BatchRequest struct {
	Runs    []RunRequest
	Workers int
	Notes   string
}

type BatchSummary struct {
	ID       string
	Runs     []RunSummary
	Failures []string
}

type HashSummary struct {
	TestID     string
	RunHash    string
	Controller string
	Seed       int64
	Dir        string
}

type RunsRequest struct {
	TestID string
	Limit  int
}

type ShowSummary struct {
	Meta   stats.Meta
	Config map[string]any
	Run    map[string]any
	Dir    string
}

type ExportRequest struct {
	TestID  string
	RunHash string
	Latest  bool
	OutDir  string
}

type ExportSummary struct {
	TestID    string
	RunHash   string
	Directory string
}

type ReplayRequest struct {
	// File is a field.npz path; empty means the newest indexed run.
	File         string
	FPS          float64
	Speed        float64
	NoPatterns   bool
	PatternDir   string
	FeedbackPath string
	OnFrame      func(replay.Summary)
	// Sleep replaces the pacing sleep, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

type ReplaySummary struct {
	File     string
	Frames   int
	Patterns int
	Feedback string
}

func New(opts Options) (*Client, error) {
	root := opts.ArtifactRoot
	if root == "" {
		root = stats.DefaultRoot
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	store, err := storage.NewStore(opts.StoreKind, opts.DBPath, logger)
	if err != nil {
		return nil, err
	}
	lab := platform.NewLab(platform.Config{
		Store:          store,
		ArtifactRoot:   root,
		EmitTelemetry:  opts.EmitTelemetry,
		EmitField:      opts.EmitField,
		Logger:         logger,
		Metrics:        opts.Metrics,
		SupportModules: opts.Modules,
	})
	return &Client{
		lab:          lab,
		logger:       logger,
		metrics:      opts.Metrics,
		artifactRoot: root,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Init(ctx context.Context) error {
	return c.lab.Init(ctx)
}

func (c *Client) Close() error {
	return c.lab.Stop(context.Background())
}

func (c *Client) ArtifactRoot() string {
	return c.artifactRoot
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	res, err := c.lab.RunSpec(ctx, req.spec())
	if err != nil {
		return RunSummary{}, err
	}
	return summarize(res), nil
}

// RunFile runs the single run described by a YAML or JSON file.
func (c *Client) RunFile(ctx context.Context, path string) (RunSummary, error) {
	rf, err := config.LoadRunFile(path)
	if err != nil {
		return RunSummary{}, err
	}
	return c.Run(ctx, requestFromFile(rf))
}

func (c *Client) Batch(ctx context.Context, req BatchRequest) (BatchSummary, error) {
	if err := c.Init(ctx); err != nil {
		return BatchSummary{}, err
	}
	specs := make([]platform.RunSpec, len(req.Runs))
	for i, r := range req.Runs {
		specs[i] = r.spec()
	}
	result, err := c.lab.RunBatch(ctx, specs, platform.BatchOptions{Workers: req.Workers, Notes: req.Notes})
	if err != nil {
		return BatchSummary{}, err
	}
	out := BatchSummary{ID: result.Manifest.ID, Failures: result.Manifest.Failures}
	for i, res := range result.Results {
		if result.Errors[i] != nil {
			continue
		}
		out.Runs = append(out.Runs, summarize(res))
	}
	return out, nil
}

// BatchFile runs every entry of a batch file.
func (c *Client) BatchFile(ctx context.Context, path string, workers int) (BatchSummary, error) {
	bf, err := config.LoadBatchFile(path)
	if err != nil {
		return BatchSummary{}, err
	}
	req := BatchRequest{Workers: bf.Workers, Notes: bf.Notes}
	if workers > 0 {
		req.Workers = workers
	}
	for _, rf := range bf.Runs {
		req.Runs = append(req.Runs, requestFromFile(rf))
	}
	return c.Batch(ctx, req)
}

// Hash resolves the run identity without simulating anything.
func (c *Client) Hash(req RunRequest) (HashSummary, error) {
	p, err := c.lab.Prepare(req.spec())
	if err != nil {
		return HashSummary{}, err
	}
	hash, err := p.RunHash()
	if err != nil {
		return HashSummary{}, err
	}
	return HashSummary{
		TestID:     p.Scape.TestID(),
		RunHash:    hash,
		Controller: p.Controller.Name(),
		Seed:       p.Config.Seed,
		Dir:        stats.RunDir(c.artifactRoot, p.Scape.TestID(), hash),
	}, nil
}

// Runs lists indexed runs newest first. The store is consulted first; an
// empty store falls back to the artifact root's run_index.json.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.lab.Runs(ctx, req.TestID)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		index, err := stats.ListRunIndex(c.artifactRoot)
		if err != nil {
			return nil, err
		}
		for _, entry := range index {
			if req.TestID == "" || entry.TestID == req.TestID {
				runs = append(runs, entry)
			}
		}
	}
	if req.Limit > 0 && len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	return runs, nil
}

// Show reads a run directory back from disk.
func (c *Client) Show(_ context.Context, testID, runHash string) (ShowSummary, error) {
	dir := stats.RunDir(c.artifactRoot, testID, runHash)
	meta, ok, err := stats.ReadMeta(dir)
	if err != nil {
		return ShowSummary{}, err
	}
	if !ok {
		return ShowSummary{}, fmt.Errorf("%w: %s/%s", ErrNotFound, testID, runHash)
	}
	cfg, _, err := stats.ReadConfigJSON(dir)
	if err != nil {
		return ShowSummary{}, err
	}
	run, _, err := stats.ReadRunJSON(dir)
	if err != nil {
		return ShowSummary{}, err
	}
	return ShowSummary{Meta: meta, Config: cfg, Run: run, Dir: dir}, nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunHash != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run hash or latest")
	}
	if req.RunHash == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run hash or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	if req.Latest {
		runs, err := c.Runs(ctx, RunsRequest{TestID: req.TestID, Limit: 1})
		if err != nil {
			return ExportSummary{}, err
		}
		if len(runs) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		req.TestID, req.RunHash = runs[0].TestID, runs[0].RunHash
	}
	if req.TestID == "" {
		return ExportSummary{}, errors.New("export requires a test id")
	}

	dir, err := stats.ExportRun(c.artifactRoot, req.TestID, req.RunHash, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{TestID: req.TestID, RunHash: req.RunHash, Directory: filepath.Clean(dir)}, nil
}

// Replay streams one archive. The archive is validated in full before any
// pattern or feedback output is produced.
func (c *Client) Replay(ctx context.Context, req ReplayRequest) (ReplaySummary, error) {
	path := req.File
	if path == "" {
		latest, err := c.latestArchive(ctx)
		if err != nil {
			return ReplaySummary{}, err
		}
		path = latest
	}
	archive, err := replay.Load(path)
	if err != nil {
		return ReplaySummary{}, err
	}

	if req.PatternDir == "" {
		req.PatternDir = filepath.Join(c.artifactRoot, replayDir, "patterns")
	}
	if req.FeedbackPath == "" {
		req.FeedbackPath = filepath.Join(c.artifactRoot, replayDir, "feedback.jsonl")
	}

	ctx, span := telemetry.Tracer().Start(ctx, "replay.run")
	defer span.End()

	report, err := replay.New(replay.Options{
		FPS:          req.FPS,
		Speed:        req.Speed,
		PatternDir:   req.PatternDir,
		NoPatterns:   req.NoPatterns,
		FeedbackPath: req.FeedbackPath,
		Sleep:        req.Sleep,
		Logger:       c.logger,
		OnFrame:      req.OnFrame,
	}).Run(ctx, archive)
	c.metrics.AddReplayedFrames(report.Frames)
	if err != nil {
		span.RecordError(err)
		return ReplaySummary{}, err
	}
	return ReplaySummary{File: path, Frames: report.Frames, Patterns: report.Patterns, Feedback: req.FeedbackPath}, nil
}

// Watch replays every archive written under the artifact root until ctx is
// done. Replay failures are passed to onError and do not stop the watch.
func (c *Client) Watch(ctx context.Context, req ReplayRequest, onReplay func(ReplaySummary), onError func(error)) error {
	return replay.Watch(ctx, c.artifactRoot, replay.WatchOptions{OnError: onError}, func(path string) error {
		next := req
		next.File = path
		summary, err := c.Replay(ctx, next)
		if err != nil {
			return err
		}
		if onReplay != nil {
			onReplay(summary)
		}
		return nil
	})
}

func (c *Client) latestArchive(ctx context.Context) (string, error) {
	runs, err := c.Runs(ctx, RunsRequest{})
	if err != nil {
		return "", err
	}
	for _, run := range runs {
		path := filepath.Join(stats.RunDir(c.artifactRoot, run.TestID, run.RunHash), stats.FieldFile)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no field archive under %s", replay.ErrInvalidArchive, c.artifactRoot)
}

// ValidRunHash reports whether s has the 7-hex run hash shape.
func ValidRunHash(s string) bool {
	return runid.ValidHash(s)
}

func (r RunRequest) spec() platform.RunSpec {
	return platform.RunSpec{
		Pillar:           r.Pillar,
		Controller:       r.Controller,
		ControllerParams: r.ControllerParams,
		Seed:             r.Seed,
		Overrides:        r.Config,
		Frames:           r.Frames,
		FrameStride:      r.FrameStride,
	}
}

func requestFromFile(rf config.RunFile) RunRequest {
	spec := platform.SpecFromFile(rf)
	return RunRequest{
		Pillar:           spec.Pillar,
		Controller:       spec.Controller,
		ControllerParams: spec.ControllerParams,
		Seed:             spec.Seed,
		Config:           spec.Overrides,
		Frames:           spec.Frames,
		FrameStride:      spec.FrameStride,
	}
}

func summarize(res platform.RunResult) RunSummary {
	return RunSummary{
		TestID:     res.Record.TestID,
		RunHash:    res.Record.RunHash,
		Pillar:     res.Record.Pillar,
		Controller: res.Record.Controller,
		Seed:       res.Record.Seed,
		Steps:      res.Summary.Steps,
		Dir:        res.Write.Dir,
		Diverged:   res.Record.Diverged,
		Flagged:    append([]int(nil), res.Record.FlaggedSteps...),
		Scalars:    res.Summary.Scalars,
		Telemetry:  res.Write.Optional.Telemetry,
		Field:      res.Write.Optional.Field,
		Bytes:      res.Write.Bytes,
	}
}
