package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"pfsap/internal/platform"
	"pfsap/internal/replay"
	"pfsap/pkg/pfsap"
)

type replayFlags struct {
	fps        float64
	speed      float64
	noPhotons  bool
	quiet      bool
	patternDir string
	feedback   string
}

func (f *replayFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.Float64Var(&f.fps, "fps", 0, "frames per second (default from the archive dt)")
	fl.Float64Var(&f.speed, "speed", 1, "playback speed multiplier")
	fl.BoolVar(&f.noPhotons, "no-photons", false, "do not write per-frame pattern files")
	fl.BoolVar(&f.quiet, "quiet", false, "do not print per-frame lines")
	fl.StringVar(&f.patternDir, "patterns", "", "pattern directory (default <root>/replay/patterns)")
	fl.StringVar(&f.feedback, "feedback", "", "feedback log (default <root>/replay/feedback.jsonl)")
}

func (a *app) replayRequest(f replayFlags) pfsap.ReplayRequest {
	req := pfsap.ReplayRequest{
		FPS:          f.fps,
		Speed:        f.speed,
		NoPatterns:   f.noPhotons,
		PatternDir:   f.patternDir,
		FeedbackPath: f.feedback,
	}
	if !f.quiet {
		req.OnFrame = func(s replay.Summary) {
			fmt.Fprintf(a.stdout, "frame %05d step %d phi=%.6f nu=%.6f psi=%.6f stability=%.6f\n",
				s.Frame, s.Step, s.Phi, s.Nu, s.Psi, s.Stability)
		}
	}
	return req
}

func (a *app) replayCommand() *cobra.Command {
	var (
		flags replayFlags
		file  string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a persisted field archive as pattern files and a feedback log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()

			req := a.replayRequest(flags)
			req.File = file
			a.progressf("replaying %s\n", displayArchive(file))
			summary, err := client.Replay(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "replayed %d frames from %s (%d patterns, feedback %s)\n",
				summary.Frames, summary.File, summary.Patterns, summary.Feedback)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&file, "file", "", "field.npz to replay (default the newest indexed run)")
	return cmd
}

func displayArchive(file string) string {
	if file == "" {
		return "the newest run"
	}
	return file
}

func (a *app) watchCommand() *cobra.Command {
	var flags replayFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Replay every field archive written under the artifact root until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()

			a.progressf("watching %s\n", client.ArtifactRoot())
			return a.watch(cmd.Context(), client, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) watch(ctx context.Context, client *pfsap.Client, flags replayFlags) error {
	return client.Watch(ctx, a.replayRequest(flags),
		func(s pfsap.ReplaySummary) {
			fmt.Fprintf(a.stdout, "replayed %d frames from %s\n", s.Frames, s.File)
		},
		func(err error) {
			a.logger.Warn("watch replay failed", "error", err)
		})
}

func (a *app) serveMetricsCommand() *cobra.Command {
	var (
		addr    string
		watch   bool
		flags   replayFlags
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics, optionally replaying new archives as they appear",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sup := platform.NewSupervisor(platform.SupervisorPolicy{}, platform.SupervisorHooks{
				OnRestart: func(name string, err error, restarts int) {
					a.logger.Warn("support task restarting", "task", name, "restarts", restarts, "error", err)
				},
				OnGiveUp: func(name string, err error, restarts int) {
					a.logger.Error("support task stopped", "task", name, "restarts", restarts, "error", err)
				},
			})

			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", a.metrics.Handler())
			server := &http.Server{Handler: mux, ReadHeaderTimeout: timeout}

			modules := []platform.SupportModule{
				platform.Supervised(sup, platform.TaskSpec{Name: "metrics", Restart: platform.RestartTemporary}, func(ctx context.Context) error {
					return serveUntilDone(ctx, server, listener, timeout)
				}),
			}
			var client *pfsap.Client
			if watch {
				modules = append(modules, platform.Supervised(sup, platform.TaskSpec{Name: "watch", Restart: platform.RestartTransient}, func(ctx context.Context) error {
					return a.watch(ctx, client, flags)
				}))
			}
			client, err = a.client(modules...)
			if err != nil {
				_ = listener.Close()
				return err
			}
			defer client.Close()
			if err := client.Init(cmd.Context()); err != nil {
				_ = listener.Close()
				return err
			}

			a.logger.Info("serving metrics", "addr", listener.Addr().String(), slog.Bool("watch", watch))
			a.progressf("serving metrics on http://%s/metrics\n", listener.Addr())
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9464", "listen address")
	cmd.Flags().BoolVar(&watch, "watch", false, "also replay new archives under the artifact root")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "header read and shutdown timeout")
	flags.register(cmd)
	return cmd
}

func serveUntilDone(ctx context.Context, server *http.Server, listener net.Listener, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
