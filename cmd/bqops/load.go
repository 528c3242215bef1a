package main

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"bqops/internal/bigquery"
	"bqops/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// loadFlags are the options shared by load, load-many and demo.
type loadFlags struct {
	format        string
	autodetect    bool
	skipRows      int64
	columns       string
	schemaFile    string
	maxBadRecords int64
}

func (f *loadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.format, "format", "csv", "Source format (csv, json, avro, parquet, orc)")
	cmd.Flags().BoolVar(&f.autodetect, "autodetect", true, "Infer the schema from the data")
	cmd.Flags().Int64Var(&f.skipRows, "skip-leading-rows", 0, "Header rows to skip (CSV only)")
	cmd.Flags().StringVar(&f.columns, "columns", "", "Explicit schema as name:TYPE[,name:TYPE...]")
	cmd.Flags().StringVar(&f.schemaFile, "schema-file", "", "Path to a JSON schema file")
	cmd.Flags().Int64Var(&f.maxBadRecords, "max-bad-records", 0, "Bad records tolerated before the job fails")
	cmd.MarkFlagsMutuallyExclusive("columns", "schema-file")
}

func (f *loadFlags) options() (bigquery.LoadOptions, error) {
	format, err := bigquery.ParseFormat(f.format)
	if err != nil {
		return bigquery.LoadOptions{}, err
	}
	schema, err := schemaFromFlags(f.columns, f.schemaFile)
	if err != nil {
		return bigquery.LoadOptions{}, err
	}
	return bigquery.LoadOptions{
		Format:          format,
		Autodetect:      f.autodetect && schema == nil,
		SkipLeadingRows: f.skipRows,
		Schema:          schema,
		MaxBadRecords:   f.maxBadRecords,
	}, nil
}

func newLoadCmd(a *app) *cobra.Command {
	var (
		flags  loadFlags
		useTUI bool
	)

	cmd := &cobra.Command{
		Use:   "load <dataset.table> <file>",
		Short: "Load a local file into a table",
		Long: `Upload a local file and wait for the load job to finish.
The table is created if it does not exist. The job is never retried.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ref, err := bigquery.ParseTableRef(args[0])
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			loader, err := a.loader(ctx)
			if err != nil {
				return err
			}
			path := args[1]

			if useTUI {
				var stats *bigquery.LoadStatistics
				run := func(ctx context.Context, r *tui.Reporter) error {
					r.Start(0)
					opts.Progress = r.Progress
					var err error
					stats, err = loader.LoadFile(ctx, ref.Dataset(), ref.TableID, path, opts)
					r.Finish(0, rowsDetail(stats), err)
					return err
				}
				if err := a.runTUI(ctx, "bqops load", ref.String(), []string{"load " + filepath.Base(path)}, run); err != nil {
					return err
				}
				return a.printStats(cmd, stats)
			}

			stats, err := loader.LoadFile(ctx, ref.Dataset(), ref.TableID, path, opts)
			if err != nil {
				return err
			}
			return a.printStats(cmd, stats)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Show progress in an interactive view")
	return cmd
}

func newLoadManyCmd(a *app) *cobra.Command {
	var (
		flags       loadFlags
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "load-many <dataset> <file>...",
		Short: "Load several files concurrently, one table per file",
		Long: `Load each file into its own table, named after the file without its
extension. Loads run concurrently; a failed load does not stop the others.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dataset, err := bigquery.ParseDatasetRef(args[0])
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			loader, err := a.loader(ctx)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = a.cfg.Load.Concurrency
			}

			requests := make([]bigquery.LoadRequest, 0, len(args)-1)
			for _, path := range args[1:] {
				requests = append(requests, bigquery.LoadRequest{
					Dataset: dataset,
					Table:   tableNameFor(path),
					Path:    path,
					Options: opts,
				})
			}

			results := loader.LoadAll(ctx, requests, concurrency)

			failed := 0
			rows := make([][]string, 0, len(results))
			for _, res := range results {
				status, detail := "ok", rowsDetail(res.Stats)
				if res.Err != nil {
					failed++
					status, detail = "failed", bigquery.Reason(res.Err)
				}
				rows = append(rows, []string{res.Request.Path, res.Request.Table, status, detail})
			}
			if err := a.emit(cmd, loadResultsJSON(results), []string{"File", "Table", "Status", "Detail"}, rows); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d loads failed", failed, len(results))
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Loads running at once (default from config)")
	return cmd
}

var nonIdentifier = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// tableNameFor derives a table name from a file path: "data/Card-2024.csv"
// becomes "Card_2024".
func tableNameFor(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	name := strings.Trim(nonIdentifier.ReplaceAllString(base, "_"), "_")
	if name == "" {
		return "table"
	}
	return name
}

func rowsDetail(stats *bigquery.LoadStatistics) string {
	if stats == nil {
		return ""
	}
	return fmt.Sprintf("%d rows", stats.OutputRows)
}

type loadResultJSON struct {
	File  string                   `json:"file"`
	Table string                   `json:"table"`
	Stats *bigquery.LoadStatistics `json:"stats,omitempty"`
	Error string                   `json:"error,omitempty"`
}

func loadResultsJSON(results []bigquery.LoadResult) []loadResultJSON {
	out := make([]loadResultJSON, 0, len(results))
	for _, res := range results {
		r := loadResultJSON{File: res.Request.Path, Table: res.Request.Table, Stats: res.Stats}
		if res.Err != nil {
			r.Error = bigquery.Reason(res.Err)
		}
		out = append(out, r)
	}
	return out
}

func (a *app) printStats(cmd *cobra.Command, stats *bigquery.LoadStatistics) error {
	if stats == nil {
		return nil
	}
	if a.output == "json" {
		return printJSON(cmd.OutOrStdout(), stats)
	}
	rows := [][]string{
		{"Job", stats.JobID.String()},
		{"Rows loaded", fmt.Sprint(stats.OutputRows)},
		{"Bytes loaded", fmt.Sprint(stats.OutputBytes)},
		{"Input bytes", fmt.Sprint(stats.InputFileBytes)},
		{"Duration", stats.Duration().String()},
	}
	return renderTable(cmd.OutOrStdout(), []string{"Field", "Value"}, rows)
}

// runTUI shows a pipeline in the terminal until the user quits and returns
// the pipeline's error.
func (a *app) runTUI(ctx context.Context, title, table string, steps []string, run tui.RunFunc) error {
	model := tui.NewModel(ctx, title, table, steps, run)

	final, err := tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if err != nil {
		return fmt.Errorf("error running program: %w", err)
	}

	m, ok := final.(tui.Model)
	if !ok {
		return nil
	}
	if !m.Done() {
		a.log.Info("interrupted before the pipeline finished")
		return context.Canceled
	}
	if m.Err() != nil {
		a.log.Debug("pipeline failed", zap.Error(m.Err()))
	}
	return m.Err()
}
