package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"bqops/internal/bigquery"
	"bqops/internal/tui"

	"github.com/spf13/cobra"
)

// stepReporter receives pipeline progress. *tui.Reporter is one.
type stepReporter interface {
	Start(index int)
	Finish(index int, detail string, err error)
	Progress(p bigquery.LoadProgress)
}

var demoSteps = []string{
	"recreate dataset",
	"drop table",
	"load file",
}

type demoPlan struct {
	dataset bigquery.DatasetRef
	table   string
	path    string
	opts    bigquery.LoadOptions
}

// runDemo recreates the dataset, drops the table and loads the file into it.
func runDemo(ctx context.Context, client *bigquery.Client, loader *bigquery.Loader, plan demoPlan, r stepReporter) (*bigquery.LoadStatistics, error) {
	r.Start(0)
	exists, err := client.DatasetExists(ctx, plan.dataset)
	if err == nil && exists {
		_, err = client.DeleteDataset(ctx, plan.dataset, true)
	}
	if err == nil {
		_, err = client.CreateDataset(ctx, plan.dataset, bigquery.DatasetDefinition{Location: loader.Location})
	}
	r.Finish(0, plan.dataset.String(), err)
	if err != nil {
		return nil, err
	}

	r.Start(1)
	ref := plan.dataset.Table(plan.table)
	exists, err = client.TableExists(ctx, ref)
	detail := "not present"
	if err == nil && exists {
		_, err = client.DeleteTable(ctx, ref)
		detail = "dropped"
	}
	r.Finish(1, detail, err)
	if err != nil {
		return nil, err
	}

	r.Start(2)
	opts := plan.opts
	opts.Progress = r.Progress
	stats, err := loader.LoadFile(ctx, plan.dataset, plan.table, plan.path, opts)
	r.Finish(2, rowsDetail(stats), err)
	return stats, err
}

// textReporter prints each finished step as a line.
type textReporter struct {
	w io.Writer
}

func (t textReporter) Start(int) {}

func (t textReporter) Finish(index int, detail string, err error) {
	if err != nil {
		_, _ = fmt.Fprintf(t.w, "✗ %s: %s\n", demoSteps[index], bigquery.Reason(err))
		return
	}
	_, _ = fmt.Fprintf(t.w, "✓ %s %s\n", demoSteps[index], detail)
}

func (t textReporter) Progress(bigquery.LoadProgress) {}

func newDemoCmd(a *app) *cobra.Command {
	var (
		flags   loadFlags
		dataset string
		table   string
		useTUI  bool
	)

	cmd := &cobra.Command{
		Use:   "demo <file>",
		Short: "Recreate a scratch dataset and load a file into it",
		Long: `Delete and recreate the scratch dataset, drop the scratch table if it
is still there, then load the file into it with schema autodetection and
report the number of rows loaded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ref, err := bigquery.ParseDatasetRef(dataset)
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			client, err := a.bigQuery(ctx)
			if err != nil {
				return err
			}
			loader, err := a.loader(ctx)
			if err != nil {
				return err
			}
			plan := demoPlan{dataset: ref, table: table, path: args[0], opts: opts}

			var stats *bigquery.LoadStatistics
			if useTUI {
				title := "bqops demo: " + filepath.Base(plan.path)
				err = a.runTUI(ctx, title, ref.Table(table).String(), demoSteps, func(ctx context.Context, r *tui.Reporter) error {
					var runErr error
					stats, runErr = runDemo(ctx, client, loader, plan, r)
					return runErr
				})
			} else {
				stats, err = runDemo(ctx, client, loader, plan, textReporter{w: cmd.OutOrStdout()})
			}
			if err != nil {
				return err
			}
			return a.printStats(cmd, stats)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&dataset, "dataset", "temporary_dataset", "Scratch dataset, recreated on every run")
	cmd.Flags().StringVar(&table, "table", "temporary_table", "Table the file is loaded into")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Show progress in an interactive view")
	return cmd
}
