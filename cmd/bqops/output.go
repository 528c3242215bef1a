package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"bqops/internal/bigquery"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// emit prints v as JSON or hands it to the table renderer.
func (a *app) emit(cmd *cobra.Command, v any, headers []string, rows [][]string) error {
	if a.output == "json" {
		return printJSON(cmd.OutOrStdout(), v)
	}
	return renderTable(cmd.OutOrStdout(), headers, rows)
}

func (a *app) printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

func labelRows(labels map[string]string) [][]string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, labels[k]})
	}
	return rows
}

func formatLabels(labels map[string]string) string {
	parts := make([]string, 0, len(labels))
	for _, row := range labelRows(labels) {
		parts = append(parts, row[0]+"="+row[1])
	}
	return strings.Join(parts, ",")
}

func schemaRows(schema *bigquery.TableSchema) [][]string {
	var rows [][]string
	if schema == nil {
		return rows
	}
	var walk func(prefix string, cols []*bigquery.Column)
	walk = func(prefix string, cols []*bigquery.Column) {
		for _, col := range cols {
			mode := "NULLABLE"
			switch {
			case col.Repeated:
				mode = "REPEATED"
			case col.Required:
				mode = "REQUIRED"
			}
			rows = append(rows, []string{prefix + col.Name, string(col.Type), mode, col.Description})
			walk(prefix+col.Name+".", col.Fields)
		}
	}
	walk("", schema.Fields)
	return rows
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
