package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// RowIterator yields rows lazily, each value rendered as a string. It cannot
// be restarted.
type RowIterator struct {
	it     *bigquery.RowIterator
	schema bigquery.Schema
}

func newRowIterator(it *bigquery.RowIterator, schema bigquery.Schema) *RowIterator {
	return &RowIterator{it: it, schema: schema}
}

// Query runs sql as a standard SQL query and returns an iterator over its
// result rows.
func (c *Client) Query(ctx context.Context, sql string) (*RowIterator, error) {
	q := c.bqClient.Query(sql)
	q.UseStandardSQL = true

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", classify(err))
	}

	return newRowIterator(it, it.Schema), nil
}

// Columns returns the result column names. For query results the schema is
// only known once the first row has been fetched.
func (r *RowIterator) Columns() []string {
	schema := r.schema
	if len(schema) == 0 {
		schema = r.it.Schema
	}
	columns := make([]string, 0, len(schema))
	for _, field := range schema {
		columns = append(columns, field.Name)
	}
	return columns
}

// TotalRows is the total number of rows in the result, known after the first
// page has been fetched.
func (r *RowIterator) TotalRows() uint64 {
	return r.it.TotalRows
}

// Next returns the next row, or iterator.Done when the rows are exhausted.
func (r *RowIterator) Next() ([]string, error) {
	var row []bigquery.Value
	err := r.it.Next(&row)
	if err == iterator.Done {
		return nil, iterator.Done
	}
	if err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", classify(err))
	}

	values := make([]string, len(row))
	for i, val := range row {
		values[i] = formatValue(val)
	}
	return values, nil
}

func formatValue(v bigquery.Value) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("%x", val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case []bigquery.Value:
		out := "["
		for i, item := range val {
			if i > 0 {
				out += ", "
			}
			out += formatValue(item)
		}
		return out + "]"
	default:
		return fmt.Sprintf("%v", val)
	}
}
