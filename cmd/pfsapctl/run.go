package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pfsap/pkg/pfsap"
)

// runFlags are shared by run and hash so both resolve the same identity.
type runFlags struct {
	controller  string
	seed        int64
	params      []string
	set         []string
	noFrames    bool
	frameStride int
}

func (f *runFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.controller, "controller", "", "controller name (default depends on the pillar)")
	fl.Int64Var(&f.seed, "seed", 0, "PRNG seed (default from the pillar config)")
	fl.StringArrayVar(&f.params, "param", nil, "controller parameter key=value (repeatable)")
	fl.StringArrayVar(&f.set, "set", nil, "config override key=value (repeatable)")
	fl.BoolVar(&f.noFrames, "no-frames", false, "skip field frame capture")
	fl.IntVar(&f.frameStride, "frame-stride", 0, "capture every n-th step (default from the pillar config)")
}

func (f *runFlags) request(cmd *cobra.Command, pillar string) (pfsap.RunRequest, error) {
	req := pfsap.RunRequest{Pillar: pillar, Controller: f.controller, FrameStride: f.frameStride}
	if cmd.Flags().Changed("seed") {
		seed := f.seed
		req.Seed = &seed
	}
	if f.noFrames {
		frames := false
		req.Frames = &frames
	}
	var err error
	if req.ControllerParams, err = parseAssignments("param", f.params); err != nil {
		return req, err
	}
	if req.Config, err = parseAssignments("set", f.set); err != nil {
		return req, err
	}
	return req, nil
}

func parseAssignments(flag string, values []string) (map[string]float64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(values))
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--%s %q: expected key=value", flag, raw)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("--%s %q: %w", flag, raw, err)
		}
		out[key] = v
	}
	return out, nil
}

func (a *app) runCommand() *cobra.Command {
	var (
		flags   runFlags
		file    string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "run [pillar]",
		Short: "Run one simulation and write its artifacts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (len(args) == 0) {
				return errors.New("run requires exactly one of a pillar argument or --file")
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()

			var summary pfsap.RunSummary
			if file != "" {
				a.progressf("running %s\n", file)
				summary, err = client.RunFile(cmd.Context(), file)
			} else {
				req, reqErr := flags.request(cmd, args[0])
				if reqErr != nil {
					return reqErr
				}
				a.progressf("running %s\n", req.Pillar)
				summary, err = client.Run(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(a, summary)
			}
			a.printRun(summary)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&file, "file", "", "YAML or JSON run file")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the run summary as JSON")
	return cmd
}

func (a *app) printRun(s pfsap.RunSummary) {
	fmt.Fprintf(a.stdout, "%s %s pillar=%s controller=%s seed=%d steps=%d diverged=%t\n",
		s.TestID, s.RunHash, s.Pillar, s.Controller, s.Seed, s.Steps, s.Diverged)
	fmt.Fprintf(a.stdout, "  dir=%s (%s)\n", s.Dir, humanize.Bytes(uint64(max(s.Bytes, 0))))
	if len(s.Flagged) > 0 {
		fmt.Fprintf(a.stdout, "  flagged steps=%v\n", s.Flagged)
	}
	keys := make([]string, 0, len(s.Scalars))
	for k := range s.Scalars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(a.stdout, "  %s=%g\n", k, s.Scalars[k])
	}
}

func (a *app) batchCommand() *cobra.Command {
	var (
		file    string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run every entry of a batch file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return errors.New("batch requires --file")
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()

			a.progressf("running batch %s\n", file)
			summary, err := client.BatchFile(cmd.Context(), file, workers)
			if err != nil {
				return err
			}
			for _, run := range summary.Runs {
				fmt.Fprintf(a.stdout, "%s %s controller=%s diverged=%t\n", run.TestID, run.RunHash, run.Controller, run.Diverged)
			}
			fmt.Fprintf(a.stdout, "batch %s: %d ok, %d failed\n", summary.ID, len(summary.Runs), len(summary.Failures))
			for _, failure := range summary.Failures {
				fmt.Fprintf(a.stdout, "  failed: %s\n", failure)
			}
			if len(summary.Failures) > 0 {
				return fmt.Errorf("batch %s: %d of %d runs failed", summary.ID, len(summary.Failures), len(summary.Failures)+len(summary.Runs))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML or JSON batch file")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel runs (default from the file, else the CPU count)")
	return cmd
}

func (a *app) hashCommand() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "hash <pillar>",
		Short: "Print the run hash a run would get without simulating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd, args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()
			h, err := client.Hash(req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s %s controller=%s seed=%d dir=%s\n", h.TestID, h.RunHash, h.Controller, h.Seed, h.Dir)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func writeJSON(a *app, v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
