package bigquery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

// DatasetExists reports whether the dataset is present. Absence is not an
// error; any other failure is returned as TransportError.
func (c *Client) DatasetExists(ctx context.Context, ref DatasetRef) (bool, error) {
	_, err := c.dataset(ref).Metadata(ctx)
	switch {
	case err == nil:
		c.log.Info("dataset exists", zap.Stringer("dataset", ref))
		return true, nil
	case isNotFound(err):
		c.log.Info("dataset not found", zap.Stringer("dataset", ref))
		return false, nil
	default:
		c.log.Warn("dataset lookup failed", zap.Stringer("dataset", ref), zap.String("reason", Reason(err)))
		return false, TransportError.Wrap(err)
	}
}

// CreateDataset creates the dataset and returns its descriptor. It fails with
// AlreadyExists if the dataset is present.
func (c *Client) CreateDataset(ctx context.Context, ref DatasetRef, def DatasetDefinition) (*Dataset, error) {
	md := &bigquery.DatasetMetadata{
		Description:            def.Description,
		Location:               def.Location,
		Labels:                 def.Labels,
		DefaultTableExpiration: def.DefaultTTL,
	}
	for _, entry := range def.Access {
		ae, err := entry.toBigQuery()
		if err != nil {
			return nil, err
		}
		md.Access = append(md.Access, ae)
	}

	ds := c.dataset(ref)
	if err := ds.Create(ctx, md); err != nil {
		c.log.Info("dataset was not created", zap.Stringer("dataset", ref), zap.String("reason", Reason(err)))
		return nil, classify(err)
	}
	c.log.Info("dataset created", zap.Stringer("dataset", ref))

	created, err := ds.Metadata(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return convertDataset(ds, created), nil
}

// DeleteDataset deletes the dataset. It returns false without error when the
// dataset was already absent. With cascade the service removes the dataset's
// tables in the same call; without it a non-empty dataset fails with NotEmpty.
func (c *Client) DeleteDataset(ctx context.Context, ref DatasetRef, cascade bool) (bool, error) {
	ds := c.dataset(ref)

	var err error
	if cascade {
		err = ds.DeleteWithContents(ctx)
	} else {
		err = ds.Delete(ctx)
	}

	switch {
	case err == nil:
		c.log.Info("dataset deleted", zap.Stringer("dataset", ref), zap.Bool("cascade", cascade))
		return true, nil
	case isNotFound(err):
		c.log.Info("dataset was not found", zap.Stringer("dataset", ref))
		return false, nil
	default:
		c.log.Info("dataset was not deleted", zap.Stringer("dataset", ref), zap.String("reason", Reason(err)))
		return false, classify(err)
	}
}

func (c *Client) DescribeDataset(ctx context.Context, ref DatasetRef) (*Dataset, error) {
	ds := c.dataset(ref)
	md, err := ds.Metadata(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return convertDataset(ds, md), nil
}

func (c *Client) DatasetLabels(ctx context.Context, ref DatasetRef) (map[string]string, error) {
	dataset, err := c.DescribeDataset(ctx, ref)
	if err != nil {
		return nil, err
	}
	return dataset.Labels, nil
}

// UpdateDatasetLabels sends patch as a per-key delta: each Set key is
// written and each Delete key removed, other labels are left as they are.
// The update carries no etag, so a concurrent write to the same key may be
// overwritten.
func (c *Client) UpdateDatasetLabels(ctx context.Context, ref DatasetRef, patch LabelPatch) (*Dataset, error) {
	var update bigquery.DatasetMetadataToUpdate
	for k, v := range patch.Set {
		update.SetLabel(k, v)
	}
	for _, k := range patch.Delete {
		update.DeleteLabel(k)
	}
	return c.updateDataset(ctx, ref, "labels", func(*bigquery.DatasetMetadata) (bigquery.DatasetMetadataToUpdate, error) {
		return update, nil
	})
}

func (c *Client) UpdateDatasetDescription(ctx context.Context, ref DatasetRef, description string) (*Dataset, error) {
	return c.updateDataset(ctx, ref, "description", func(*bigquery.DatasetMetadata) (bigquery.DatasetMetadataToUpdate, error) {
		return bigquery.DatasetMetadataToUpdate{Description: description}, nil
	})
}

// UpdateDatasetAccess appends entry to the dataset's current access list and
// submits the whole list back.
func (c *Client) UpdateDatasetAccess(ctx context.Context, ref DatasetRef, entry AccessEntry) (*Dataset, error) {
	ae, err := entry.toBigQuery()
	if err != nil {
		return nil, err
	}
	return c.updateDataset(ctx, ref, "access", func(current *bigquery.DatasetMetadata) (bigquery.DatasetMetadataToUpdate, error) {
		access := append(append([]*bigquery.AccessEntry{}, current.Access...), ae)
		return bigquery.DatasetMetadataToUpdate{Access: access}, nil
	})
}

// updateDataset fetches the current metadata, which also reports NotFound,
// builds an update from it and submits it unconditionally.
func (c *Client) updateDataset(ctx context.Context, ref DatasetRef, what string, build func(*bigquery.DatasetMetadata) (bigquery.DatasetMetadataToUpdate, error)) (*Dataset, error) {
	ds := c.dataset(ref)
	current, err := ds.Metadata(ctx)
	if err != nil {
		c.log.Info("dataset was not updated", zap.Stringer("dataset", ref), zap.String("field", what), zap.String("reason", Reason(err)))
		return nil, classify(err)
	}

	update, err := build(current)
	if err != nil {
		return nil, err
	}

	updated, err := ds.Update(ctx, update, "")
	if err != nil {
		c.log.Info("dataset was not updated", zap.Stringer("dataset", ref), zap.String("field", what), zap.String("reason", Reason(err)))
		return nil, classify(err)
	}
	c.log.Info("dataset updated", zap.Stringer("dataset", ref), zap.String("field", what))

	return convertDataset(ds, updated), nil
}

func (c *Client) ListDatasets(ctx context.Context) ([]*Dataset, error) {
	datasets := make([]*Dataset, 0)
	it := c.bqClient.Datasets(ctx)

	for {
		dataset, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate datasets: %w", classify(err))
		}

		metadata, err := dataset.Metadata(ctx)
		if err != nil {
			continue
		}

		datasets = append(datasets, convertDataset(dataset, metadata))
	}

	sort.Slice(datasets, func(i, j int) bool {
		return datasets[i].ID < datasets[j].ID
	})

	return datasets, nil
}

func convertDataset(ds *bigquery.Dataset, md *bigquery.DatasetMetadata) *Dataset {
	dataset := &Dataset{
		ID:          ds.DatasetID,
		ProjectID:   ds.ProjectID,
		Location:    md.Location,
		Description: md.Description,
		CreatedAt:   md.CreationTime,
		ModifiedAt:  md.LastModifiedTime,
		Labels:      md.Labels,
		DefaultTTL:  md.DefaultTableExpiration,
	}
	for _, ae := range md.Access {
		if ae == nil {
			continue
		}
		dataset.Access = append(dataset.Access, fromBigQueryAccess(ae))
	}
	return dataset
}

var entityTypes = map[string]bigquery.EntityType{
	"user":    bigquery.UserEmailEntity,
	"group":   bigquery.GroupEmailEntity,
	"domain":  bigquery.DomainEntity,
	"special": bigquery.SpecialGroupEntity,
	"iam":     bigquery.IAMMemberEntity,
}

func (e AccessEntry) toBigQuery() (*bigquery.AccessEntry, error) {
	role := bigquery.AccessRole(strings.ToUpper(e.Role))
	switch role {
	case bigquery.OwnerRole, bigquery.WriterRole, bigquery.ReaderRole:
	default:
		return nil, fmt.Errorf("unknown access role %q: want OWNER, WRITER or READER", e.Role)
	}

	entityType, ok := entityTypes[strings.ToLower(e.EntityType)]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q: want user, group, domain, special or iam", e.EntityType)
	}
	if e.Entity == "" {
		return nil, fmt.Errorf("access entry for role %s has no entity", role)
	}

	return &bigquery.AccessEntry{Role: role, EntityType: entityType, Entity: e.Entity}, nil
}

func fromBigQueryAccess(ae *bigquery.AccessEntry) AccessEntry {
	entry := AccessEntry{Role: string(ae.Role), Entity: ae.Entity, EntityType: "other"}
	for name, et := range entityTypes {
		if et == ae.EntityType {
			entry.EntityType = name
			break
		}
	}
	return entry
}

// ParseAccessEntry parses "ROLE:type:entity", e.g. "READER:user:jane@example.com".
func ParseAccessEntry(s string) (AccessEntry, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return AccessEntry{}, fmt.Errorf("invalid access entry %q: want ROLE:type:entity", s)
	}
	entry := AccessEntry{Role: parts[0], EntityType: parts[1], Entity: parts[2]}
	if _, err := entry.toBigQuery(); err != nil {
		return AccessEntry{}, err
	}
	return entry, nil
}
