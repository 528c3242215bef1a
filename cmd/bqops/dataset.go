package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bqops/internal/bigquery"

	"github.com/spf13/cobra"
)

func newDatasetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dataset",
		Aliases: []string{"ds"},
		Short:   "Manage datasets",
	}

	cmd.AddCommand(
		newDatasetExistsCmd(a),
		newDatasetCreateCmd(a),
		newDatasetDeleteCmd(a),
		newDatasetDescribeCmd(a),
		newDatasetListCmd(a),
		newDatasetLabelsCmd(a),
		newDatasetSetLabelsCmd(a),
		newDatasetSetDescriptionCmd(a),
		newDatasetGrantCmd(a),
	)
	return cmd
}

// datasetArg resolves a dataset argument and the client to act on it with.
func (a *app) datasetArg(ctx context.Context, arg string) (*bigquery.Client, bigquery.DatasetRef, error) {
	ref, err := bigquery.ParseDatasetRef(arg)
	if err != nil {
		return nil, ref, err
	}
	client, err := a.bigQuery(ctx)
	return client, ref, err
}

// withDatasetSuggestions adds close dataset names to a NotFound error.
func (a *app) withDatasetSuggestions(ctx context.Context, ref bigquery.DatasetRef, err error) error {
	if !bigquery.NotFound.Has(err) || a.client == nil {
		return err
	}
	names, sErr := a.client.SuggestDatasets(ctx, ref.DatasetID, 3)
	if sErr != nil || len(names) == 0 {
		return err
	}
	return &suggestionError{err: err, names: names}
}

// suggestionError is a NotFound error carrying names close to the missing one.
type suggestionError struct {
	err   error
	names []string
}

func (e *suggestionError) Error() string {
	return fmt.Sprintf("%s (did you mean %s?)", bigquery.Reason(e.err), strings.Join(e.names, ", "))
}

func (e *suggestionError) Unwrap() error {
	return e.err
}

// errorText is what the user sees for err. A failed load keeps its reason
// code and lists every row the service rejected.
func errorText(err error) string {
	var s *suggestionError
	if errors.As(err, &s) {
		return s.Error()
	}

	var jobErr *bigquery.JobError
	if bigquery.LoadFailed.Has(err) && errors.As(err, &jobErr) {
		var b strings.Builder
		b.WriteString(err.Error())
		for _, detail := range jobErr.Details {
			b.WriteString("\n  " + detail)
		}
		return b.String()
	}
	return bigquery.Reason(err)
}

func newDatasetExistsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <dataset>",
		Short: "Report whether a dataset exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ref, err := a.datasetArg(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			exists, err := client.DatasetExists(cmd.Context(), ref)
			if err != nil {
				return err
			}
			if a.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{"dataset": ref.String(), "exists": exists})
			}
			a.printf(cmd, "%t\n", exists)
			return nil
		},
	}
}

func newDatasetCreateCmd(a *app) *cobra.Command {
	var (
		def    bigquery.DatasetDefinition
		labels []string
	)

	cmd := &cobra.Command{
		Use:   "create <dataset>",
		Short: "Create a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ref, err := a.datasetArg(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			patch, err := bigquery.ParseLabelPatch(labels)
			if err != nil {
				return err
			}
			def.Labels = patch.Set
			if def.Location == "" {
				def.Location = a.cfg.Load.Location
			}

			ds, err := client.CreateDataset(cmd.Context(), ref, def)
			if err != nil {
				return err
			}
			return a.printDataset(cmd, ds)
		},
	}

	cmd.Flags().StringVar(&def.Description, "description", "", "Dataset description")
	cmd.Flags().StringVar(&def.Location, "dataset-location", "", "Dataset location (default: the configured load location)")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "Label as key=value (repeatable)")
	cmd.Flags().DurationVar(&def.DefaultTTL, "default-table-expiration", 0, "Default lifetime of new tables")
	return cmd
}

func newDatasetDeleteCmd(a *app) *cobra.Command {
	var cascade bool

	cmd := &cobra.Command{
		Use:   "delete <dataset>",
		Short: "Delete a dataset",
		Long:  "Delete a dataset. Without --cascade a dataset that still holds tables is left alone.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ref, err := a.datasetArg(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			deleted, err := client.DeleteDataset(cmd.Context(), ref, cascade)
			if err != nil {
				return err
			}
			if a.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{"dataset": ref.String(), "deleted": deleted})
			}
			if deleted {
				a.printf(cmd, "Dataset %s deleted\n", ref)
			} else {
				a.printf(cmd, "Dataset %s was not found\n", ref)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cascade, "cascade", false, "Delete the tables in the dataset too")
	return cmd
}

func newDatasetDescribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <dataset>",
		Short: "Show dataset metadata and its tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, ref, err := a.datasetArg(ctx, args[0])
			if err != nil {
				return err
			}
			ds, err := client.DescribeDataset(ctx, ref)
			if err != nil {
				return a.withDatasetSuggestions(ctx, ref, err)
			}
			tables, err := client.ListTables(ctx, ref)
			if err != nil {
				return err
			}

			if a.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{"dataset": ds, "tables": tables})
			}
			if err := a.printDataset(cmd, ds); err != nil {
				return err
			}
			if len(tables) == 0 {
				return nil
			}
			return renderTable(cmd.OutOrStdout(), []string{"Table", "Type", "Rows"}, tableRows(tables))
		},
	}
}

func newDatasetListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List datasets in the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.bigQuery(cmd.Context())
			if err != nil {
				return err
			}
			datasets, err := client.ListDatasets(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(datasets))
			for _, ds := range datasets {
				rows = append(rows, []string{ds.ID, ds.Location, ds.Description})
			}
			return a.emit(cmd, datasets, []string{"Dataset", "Location", "Description"}, rows)
		},
	}
}

func newDatasetLabelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "labels <dataset>",
		Short: "List dataset labels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, ref, err := a.datasetArg(ctx, args[0])
			if err != nil {
				return err
			}
			labels, err := client.DatasetLabels(ctx, ref)
			if err != nil {
				return a.withDatasetSuggestions(ctx, ref, err)
			}
			return a.emit(cmd, labels, []string{"Key", "Value"}, labelRows(labels))
		},
	}
}

func newDatasetSetLabelsCmd(a *app) *cobra.Command {
	var remove []string

	cmd := &cobra.Command{
		Use:   "set-labels <dataset> [key=value...]",
		Short: "Add, change or remove dataset labels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			patch, err := labelPatchArgs(args[1:], remove)
			if err != nil {
				return err
			}
			client, ref, err := a.datasetArg(ctx, args[0])
			if err != nil {
				return err
			}
			ds, err := client.UpdateDatasetLabels(ctx, ref, patch)
			if err != nil {
				return a.withDatasetSuggestions(ctx, ref, err)
			}
			return a.emit(cmd, ds.Labels, []string{"Key", "Value"}, labelRows(ds.Labels))
		},
	}

	cmd.Flags().StringArrayVar(&remove, "remove", nil, "Label key to remove (repeatable)")
	return cmd
}

func newDatasetSetDescriptionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-description <dataset> <description>",
		Short: "Replace the dataset description",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, ref, err := a.datasetArg(ctx, args[0])
			if err != nil {
				return err
			}
			ds, err := client.UpdateDatasetDescription(ctx, ref, args[1])
			if err != nil {
				return a.withDatasetSuggestions(ctx, ref, err)
			}
			return a.printDataset(cmd, ds)
		},
	}
}

func newDatasetGrantCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <dataset> <ROLE:type:entity>",
		Short: "Add an access entry to a dataset",
		Long: `Add an access entry to a dataset. The entry is ROLE:type:entity, e.g.
READER:user:jane@example.com or WRITER:group:data@example.com.
Types are user, group, domain, special and iam.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			entry, err := bigquery.ParseAccessEntry(args[1])
			if err != nil {
				return err
			}
			client, ref, err := a.datasetArg(ctx, args[0])
			if err != nil {
				return err
			}
			ds, err := client.UpdateDatasetAccess(ctx, ref, entry)
			if err != nil {
				return a.withDatasetSuggestions(ctx, ref, err)
			}

			rows := make([][]string, 0, len(ds.Access))
			for _, e := range ds.Access {
				rows = append(rows, []string{e.Role, e.EntityType, e.Entity})
			}
			return a.emit(cmd, ds.Access, []string{"Role", "Type", "Entity"}, rows)
		},
	}
}

func labelPatchArgs(set, remove []string) (bigquery.LabelPatch, error) {
	args := append([]string{}, set...)
	for _, key := range remove {
		args = append(args, "-"+key)
	}
	patch, err := bigquery.ParseLabelPatch(args)
	if err != nil {
		return patch, err
	}
	if patch.Empty() {
		return patch, fmt.Errorf("nothing to change: give key=value pairs or --remove")
	}
	return patch, nil
}

func (a *app) printDataset(cmd *cobra.Command, ds *bigquery.Dataset) error {
	if a.output == "json" {
		return printJSON(cmd.OutOrStdout(), ds)
	}
	rows := [][]string{
		{"Dataset", ds.ProjectID + "." + ds.ID},
		{"Location", ds.Location},
		{"Description", ds.Description},
		{"Created", formatTime(ds.CreatedAt)},
		{"Modified", formatTime(ds.ModifiedAt)},
		{"Labels", formatLabels(ds.Labels)},
	}
	if ds.DefaultTTL > 0 {
		rows = append(rows, []string{"Default table expiration", ds.DefaultTTL.String()})
	}
	return renderTable(cmd.OutOrStdout(), []string{"Field", "Value"}, rows)
}
