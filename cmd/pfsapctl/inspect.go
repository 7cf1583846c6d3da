package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pfsap/pkg/pfsap"
)

func (a *app) runsCommand() *cobra.Command {
	var (
		testID  string
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List indexed runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()
			runs, err := client.Runs(cmd.Context(), pfsap.RunsRequest{TestID: testID, Limit: limit})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(a, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.stdout, "no runs")
				return nil
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TEST\tHASH\tPILLAR\tCONTROLLER\tSEED\tSTEPS\tDIVERGED\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%t\t%s\n", r.TestID, r.RunHash, r.Pillar, r.Controller, r.Seed, r.Steps, r.Diverged, r.CreatedAtUTC)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&testID, "test-id", "", "only list runs of this test id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of runs (0 lists all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the index entries as JSON")
	return cmd
}

func (a *app) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <test_id> <run_hash>",
		Short: "Print the meta, config and scalars of one run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !pfsap.ValidRunHash(args[1]) {
				return fmt.Errorf("invalid run hash %q", args[1])
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()
			summary, err := client.Show(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return writeJSON(a, map[string]any{
				"dir":    summary.Dir,
				"meta":   summary.Meta,
				"config": summary.Config,
				"run":    summary.Run,
			})
		},
	}
}

func (a *app) exportCommand() *cobra.Command {
	var (
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export [test_id] [run_hash]",
		Short: "Copy a run directory into the exports directory",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := pfsap.ExportRequest{Latest: latest, OutDir: outDir}
			switch len(args) {
			case 2:
				req.TestID, req.RunHash = args[0], args[1]
			case 1:
				req.TestID = args[0]
			}
			if req.RunHash == "" && !latest {
				return errors.New("export requires <test_id> <run_hash> or --latest")
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()
			summary, err := client.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "exported %s/%s to %s\n", summary.TestID, summary.RunHash, summary.Directory)
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "export the newest run (optionally of the given test id)")
	cmd.Flags().StringVar(&outDir, "out", "", "destination directory (default exports)")
	return cmd
}
