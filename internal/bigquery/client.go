package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Client performs dataset and table operations and submits load jobs. It is
// safe for concurrent use; the underlying BigQuery client is shared read-only.
type Client struct {
	bqClient  *bigquery.Client
	projectID string
	log       *zap.Logger
}

func NewClient(ctx context.Context, projectID string, log *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	bqClient, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		bqClient:  bqClient,
		projectID: projectID,
		log:       log,
	}, nil
}

func (c *Client) Close() error {
	return c.bqClient.Close()
}

func (c *Client) GetProjectID() string {
	return c.projectID
}

func (c *Client) dataset(ref DatasetRef) *bigquery.Dataset {
	if ref.ProjectID == "" || ref.ProjectID == c.projectID {
		return c.bqClient.Dataset(ref.DatasetID)
	}
	return c.bqClient.DatasetInProject(ref.ProjectID, ref.DatasetID)
}

func (c *Client) table(ref TableRef) *bigquery.Table {
	return c.dataset(ref.Dataset()).Table(ref.TableID)
}
