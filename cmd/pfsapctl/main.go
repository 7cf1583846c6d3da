package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"pfsap/internal/config"
	"pfsap/internal/logging"
	"pfsap/internal/platform"
	"pfsap/internal/telemetry"
	"pfsap/pkg/pfsap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and maps any failure to exit code 1 with a single
// line on stderr.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr, env: config.FromEnv()}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintf(stderr, "pfsapctl: %s\n", oneLine(err))
		return 1
	}
	return 0
}

type rootFlags struct {
	artifactRoot string
	store        string
	dbPath       string
	logLevel     string
	logFile      string
	trace        bool
}

type app struct {
	stdout io.Writer
	stderr io.Writer
	env    config.Env
	flags  rootFlags

	logger      *logging.Logger
	metrics     *telemetry.Metrics
	stopTracing func(context.Context) error
	interactive bool
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "pfsapctl",
		Short:         "Run field simulations, inspect their artifacts and replay persisted frames",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.artifactRoot, "artifact-root", a.env.ArtifactRoot, "artifact root directory (env ARTIFACT_ROOT)")
	pf.StringVar(&a.flags.store, "store", a.env.Store, "run index backend: memory|badger|sqlite (env PFSAP_STORE)")
	pf.StringVar(&a.flags.dbPath, "db-path", a.env.DBPath, "badger directory or sqlite file (env PFSAP_DB_PATH)")
	pf.StringVar(&a.flags.logLevel, "log-level", a.env.LogLevel, "debug|info|warn|error (env PFSAP_LOG_LEVEL)")
	pf.StringVar(&a.flags.logFile, "log-file", "", "also append JSON logs to this file")
	pf.BoolVar(&a.flags.trace, "trace", false, "export trace spans as JSON to stderr")

	root.AddCommand(
		a.runCommand(),
		a.batchCommand(),
		a.hashCommand(),
		a.runsCommand(),
		a.showCommand(),
		a.exportCommand(),
		a.replayCommand(),
		a.watchCommand(),
		a.serveMetricsCommand(),
	)
	return root
}

func (a *app) setup() error {
	logger, err := logging.New(logging.Options{Writer: a.stderr, Level: a.flags.logLevel, FilePath: a.flags.logFile})
	if err != nil {
		return err
	}
	a.logger = logger
	a.metrics = telemetry.NewMetrics()
	a.interactive = isTerminal(a.stdout)

	traceOpts := telemetry.TraceOptions{}
	if a.flags.trace {
		traceOpts.Writer = a.stderr
	}
	stop, err := telemetry.InitTracing(traceOpts)
	if err != nil {
		return err
	}
	a.stopTracing = stop
	return nil
}

func (a *app) close() {
	if a.stopTracing != nil {
		_ = a.stopTracing(context.Background())
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func (a *app) client(modules ...platform.SupportModule) (*pfsap.Client, error) {
	return pfsap.New(pfsap.Options{
		StoreKind:     a.flags.store,
		DBPath:        a.flags.dbPath,
		ArtifactRoot:  a.flags.artifactRoot,
		EmitTelemetry: a.env.EmitTelemetry,
		EmitField:     a.env.EmitField,
		Logger:        a.logger.Logger,
		Metrics:       a.metrics,
		Modules:       modules,
	})
}

// progressf prints only when stdout is a terminal.
func (a *app) progressf(format string, args ...any) {
	if !a.interactive {
		return
	}
	fmt.Fprintf(a.stdout, format, args...)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func oneLine(err error) string {
	msg := err.Error()
	if errors.Is(err, context.Canceled) {
		msg = "interrupted"
	}
	return strings.Join(strings.Fields(msg), " ")
}
