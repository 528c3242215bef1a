package bigquery

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

// TableExists reports whether the table is present. Absence is not an error.
func (c *Client) TableExists(ctx context.Context, ref TableRef) (bool, error) {
	_, err := c.table(ref).Metadata(ctx)
	switch {
	case err == nil:
		c.log.Info("table exists", zap.Stringer("table", ref))
		return true, nil
	case isNotFound(err):
		c.log.Info("table not found", zap.Stringer("table", ref))
		return false, nil
	default:
		c.log.Warn("table lookup failed", zap.Stringer("table", ref), zap.String("reason", Reason(err)))
		return false, TransportError.Wrap(err)
	}
}

// CreateTable creates the table and returns its descriptor. It fails with
// AlreadyExists if the table is present.
func (c *Client) CreateTable(ctx context.Context, ref TableRef, def TableDefinition) (*Table, error) {
	t := c.table(ref)
	md := &bigquery.TableMetadata{
		Description: def.Description,
		Labels:      def.Labels,
		Schema:      def.Schema.toBigQuerySchema(),
	}

	if err := t.Create(ctx, md); err != nil {
		c.log.Info("table was not created", zap.Stringer("table", ref), zap.String("reason", Reason(err)))
		return nil, classify(err)
	}
	c.log.Info("table created", zap.Stringer("table", ref))

	created, err := t.Metadata(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return convertTable(t, created), nil
}

// DeleteTable deletes the table, returning false without error when it was
// already absent.
func (c *Client) DeleteTable(ctx context.Context, ref TableRef) (bool, error) {
	err := c.table(ref).Delete(ctx)
	switch {
	case err == nil:
		c.log.Info("table deleted", zap.Stringer("table", ref))
		return true, nil
	case isNotFound(err):
		c.log.Info("table was not found", zap.Stringer("table", ref))
		return false, nil
	default:
		c.log.Info("table was not deleted", zap.Stringer("table", ref), zap.String("reason", Reason(err)))
		return false, classify(err)
	}
}

func (c *Client) DescribeTable(ctx context.Context, ref TableRef) (*Table, error) {
	t := c.table(ref)
	md, err := t.Metadata(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return convertTable(t, md), nil
}

func (c *Client) GetTableSchema(ctx context.Context, ref TableRef) (*TableSchema, error) {
	table, err := c.DescribeTable(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get table metadata: %w", err)
	}
	return table.Schema, nil
}

func (c *Client) TableLabels(ctx context.Context, ref TableRef) (map[string]string, error) {
	table, err := c.DescribeTable(ctx, ref)
	if err != nil {
		return nil, err
	}
	return table.Labels, nil
}

// UpdateTableLabels sends patch as a per-key delta, like UpdateDatasetLabels.
// Last write wins.
func (c *Client) UpdateTableLabels(ctx context.Context, ref TableRef, patch LabelPatch) (*Table, error) {
	var update bigquery.TableMetadataToUpdate
	for k, v := range patch.Set {
		update.SetLabel(k, v)
	}
	for _, k := range patch.Delete {
		update.DeleteLabel(k)
	}
	return c.updateTable(ctx, ref, "labels", update)
}

func (c *Client) UpdateTableDescription(ctx context.Context, ref TableRef, description string) (*Table, error) {
	return c.updateTable(ctx, ref, "description", bigquery.TableMetadataToUpdate{Description: description})
}

func (c *Client) updateTable(ctx context.Context, ref TableRef, what string, update bigquery.TableMetadataToUpdate) (*Table, error) {
	t := c.table(ref)
	if _, err := t.Metadata(ctx); err != nil {
		c.log.Info("table was not updated", zap.Stringer("table", ref), zap.String("field", what), zap.String("reason", Reason(err)))
		return nil, classify(err)
	}

	updated, err := t.Update(ctx, update, "")
	if err != nil {
		c.log.Info("table was not updated", zap.Stringer("table", ref), zap.String("field", what), zap.String("reason", Reason(err)))
		return nil, classify(err)
	}
	c.log.Info("table updated", zap.Stringer("table", ref), zap.String("field", what))

	return convertTable(t, updated), nil
}

func (c *Client) ListTables(ctx context.Context, ref DatasetRef) ([]*Table, error) {
	tables := make([]*Table, 0)
	it := c.dataset(ref).Tables(ctx)

	for {
		table, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate tables: %w", classify(err))
		}

		metadata, err := table.Metadata(ctx)
		if err != nil {
			continue
		}

		tables = append(tables, convertTable(table, metadata))
	}

	sort.Slice(tables, func(i, j int) bool {
		return tables[i].ID < tables[j].ID
	})

	return tables, nil
}

// BrowseTable reads the table's rows directly, without running a query.
// pageSize bounds each underlying page fetch.
func (c *Client) BrowseTable(ctx context.Context, ref TableRef, pageSize int) (*RowIterator, error) {
	t := c.table(ref)
	md, err := t.Metadata(ctx)
	if err != nil {
		return nil, classify(err)
	}

	it := t.Read(ctx)
	if pageSize > 0 {
		it.PageInfo().MaxSize = pageSize
	}

	return newRowIterator(it, md.Schema), nil
}

func convertTable(t *bigquery.Table, md *bigquery.TableMetadata) *Table {
	return &Table{
		ID:          t.TableID,
		DatasetID:   t.DatasetID,
		ProjectID:   t.ProjectID,
		Description: md.Description,
		CreatedAt:   md.CreationTime,
		NumRows:     md.NumRows,
		NumBytes:    md.NumBytes,
		Type:        string(md.Type),
		Labels:      md.Labels,
		Schema:      &TableSchema{Fields: convertBigQuerySchema(md.Schema)},
	}
}
