package main

import (
	"context"
	"fmt"

	"bqops/internal/bigquery"

	"github.com/spf13/cobra"
	"google.golang.org/api/iterator"
)

func newTableCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "table",
		Aliases: []string{"tbl"},
		Short:   "Manage tables",
	}

	cmd.AddCommand(
		newTableExistsCmd(a),
		newTableCreateCmd(a),
		newTableDeleteCmd(a),
		newTableDescribeCmd(a),
		newTableListCmd(a),
		newTableBrowseCmd(a),
		newTableLabelsCmd(a),
		newTableSetLabelsCmd(a),
		newTableSetDescriptionCmd(a),
	)
	return cmd
}

func (a *app) tableArg(ctx context.Context, arg string) (*bigquery.Client, bigquery.TableRef, error) {
	ref, err := bigquery.ParseTableRef(arg)
	if err != nil {
		return nil, ref, err
	}
	client, err := a.bigQuery(ctx)
	return client, ref, err
}

// withTableSuggestions adds close table names to a NotFound error.
func (a *app) withTableSuggestions(ctx context.Context, ref bigquery.TableRef, err error) error {
	if !bigquery.NotFound.Has(err) || a.client == nil {
		return err
	}
	names, sErr := a.client.SuggestTables(ctx, ref.Dataset(), ref.TableID, 3)
	if sErr != nil || len(names) == 0 {
		return a.withDatasetSuggestions(ctx, ref.Dataset(), err)
	}
	return &suggestionError{err: err, names: names}
}

func newTableExistsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <dataset.table>",
		Short: "Report whether a table exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ref, err := a.tableArg(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			exists, err := client.TableExists(cmd.Context(), ref)
			if err != nil {
				return err
			}
			if a.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{"table": ref.String(), "exists": exists})
			}
			a.printf(cmd, "%t\n", exists)
			return nil
		},
	}
}

func newTableCreateCmd(a *app) *cobra.Command {
	var (
		def        bigquery.TableDefinition
		columns    string
		schemaFile string
		labels     []string
	)

	cmd := &cobra.Command{
		Use:   "create <dataset.table>",
		Short: "Create a table",
		Long: `Create a table. Columns are given either inline as name:TYPE pairs,
e.g. --columns "stringField:STRING,booleanField:BOOLEAN,id:INTEGER!"
(a trailing ! marks the column REQUIRED), or as a JSON schema file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			schema, err := schemaFromFlags(columns, schemaFile)
			if err != nil {
				return err
			}
			patch, err := bigquery.ParseLabelPatch(labels)
			if err != nil {
				return err
			}
			def.Schema = schema
			def.Labels = patch.Set

			client, ref, err := a.tableArg(ctx, args[0])
			if err != nil {
				return err
			}
			table, err := client.CreateTable(ctx, ref, def)
			if err != nil {
				return a.withDatasetSuggestions(ctx, ref.Dataset(), err)
			}
			return a.printTable(cmd, table)
		},
	}

	cmd.Flags().StringVar(&columns, "columns", "", "Inline schema as name:TYPE[,name:TYPE...]")
	cmd.Flags().StringVar(&schemaFile, "schema-file", "", "Path to a JSON schema file")
	cmd.Flags().StringVar(&def.Description, "description", "", "Table description")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "Label as key=value (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("columns", "schema-file")
	return cmd
}

func schemaFromFlags(columns, schemaFile string) (*bigquery.TableSchema, error) {
	switch {
	case columns != "":
		return bigquery.ParseColumns(columns)
	case schemaFile != "":
		return bigquery.ReadSchemaFile(schemaFile)
	}
	return nil, nil
}

func newTableDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <dataset.table>",
		Short: "Delete a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ref, err := a.tableArg(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			deleted, err := client.DeleteTable(cmd.Context(), ref)
			if err != nil {
				return err
			}
			if a.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{"table": ref.String(), "deleted": deleted})
			}
			if deleted {
				a.printf(cmd, "Table %s deleted\n", ref)
			} else {
				a.printf(cmd, "Table %s was not found\n", ref)
			}
			return nil
		},
	}
}

func newTableDescribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <dataset.table>",
		Short: "Show table metadata and schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, ref, err := a.tableArg(ctx, args[0])
			if err != nil {
				return err
			}
			table, err := client.DescribeTable(ctx, ref)
			if err != nil {
				return a.withTableSuggestions(ctx, ref, err)
			}
			if err := a.printTable(cmd, table); err != nil {
				return err
			}
			if a.output == "json" || table.Schema == nil {
				return nil
			}
			return renderTable(cmd.OutOrStdout(), []string{"Column", "Type", "Mode", "Description"}, schemaRows(table.Schema))
		},
	}
}

func newTableListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <dataset>",
		Short: "List tables in a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, ref, err := a.datasetArg(ctx, args[0])
			if err != nil {
				return err
			}
			tables, err := client.ListTables(ctx, ref)
			if err != nil {
				return a.withDatasetSuggestions(ctx, ref, err)
			}
			return a.emit(cmd, tables, []string{"Table", "Type", "Rows"}, tableRows(tables))
		},
	}
}

func newTableBrowseCmd(a *app) *cobra.Command {
	var (
		pageSize int
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "browse <dataset.table>",
		Short: "Print table rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, ref, err := a.tableArg(ctx, args[0])
			if err != nil {
				return err
			}
			it, err := client.BrowseTable(ctx, ref, pageSize)
			if err != nil {
				return a.withTableSuggestions(ctx, ref, err)
			}
			return a.printRows(cmd, it, limit)
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 100, "Rows fetched per request")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many rows (0 for all)")
	return cmd
}

func newTableLabelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "labels <dataset.table>",
		Short: "List table labels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, ref, err := a.tableArg(ctx, args[0])
			if err != nil {
				return err
			}
			labels, err := client.TableLabels(ctx, ref)
			if err != nil {
				return a.withTableSuggestions(ctx, ref, err)
			}
			return a.emit(cmd, labels, []string{"Key", "Value"}, labelRows(labels))
		},
	}
}

func newTableSetLabelsCmd(a *app) *cobra.Command {
	var remove []string

	cmd := &cobra.Command{
		Use:   "set-labels <dataset.table> [key=value...]",
		Short: "Add, change or remove table labels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			patch, err := labelPatchArgs(args[1:], remove)
			if err != nil {
				return err
			}
			client, ref, err := a.tableArg(ctx, args[0])
			if err != nil {
				return err
			}
			table, err := client.UpdateTableLabels(ctx, ref, patch)
			if err != nil {
				return a.withTableSuggestions(ctx, ref, err)
			}
			return a.emit(cmd, table.Labels, []string{"Key", "Value"}, labelRows(table.Labels))
		},
	}

	cmd.Flags().StringArrayVar(&remove, "remove", nil, "Label key to remove (repeatable)")
	return cmd
}

func newTableSetDescriptionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-description <dataset.table> <description>",
		Short: "Replace the table description",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, ref, err := a.tableArg(ctx, args[0])
			if err != nil {
				return err
			}
			table, err := client.UpdateTableDescription(ctx, ref, args[1])
			if err != nil {
				return a.withTableSuggestions(ctx, ref, err)
			}
			return a.printTable(cmd, table)
		},
	}
}

func tableRows(tables []*bigquery.Table) [][]string {
	rows := make([][]string, 0, len(tables))
	for _, t := range tables {
		rows = append(rows, []string{t.ID, t.Type, fmt.Sprint(t.NumRows)})
	}
	return rows
}

func (a *app) printTable(cmd *cobra.Command, t *bigquery.Table) error {
	if a.output == "json" {
		return printJSON(cmd.OutOrStdout(), t)
	}
	rows := [][]string{
		{"Table", t.ProjectID + "." + t.DatasetID + "." + t.ID},
		{"Type", t.Type},
		{"Description", t.Description},
		{"Created", formatTime(t.CreatedAt)},
		{"Rows", fmt.Sprint(t.NumRows)},
		{"Bytes", fmt.Sprint(t.NumBytes)},
		{"Labels", formatLabels(t.Labels)},
	}
	return renderTable(cmd.OutOrStdout(), []string{"Field", "Value"}, rows)
}

// printRows drains it, printing at most limit rows when limit > 0.
func (a *app) printRows(cmd *cobra.Command, it *bigquery.RowIterator, limit int) error {
	var rows [][]string
	for limit <= 0 || len(rows) < limit {
		row, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	columns := it.Columns()
	if a.output == "json" {
		records := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			rec := make(map[string]string, len(columns))
			for i, col := range columns {
				if i < len(row) {
					rec[col] = row[i]
				}
			}
			records = append(records, rec)
		}
		return printJSON(cmd.OutOrStdout(), records)
	}
	return renderTable(cmd.OutOrStdout(), columns, rows)
}
