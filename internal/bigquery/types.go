package bigquery

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
)

// DatasetRef addresses a dataset. An empty ProjectID means the client's project.
type DatasetRef struct {
	ProjectID string
	DatasetID string
}

func (r DatasetRef) Table(tableID string) TableRef {
	return TableRef{ProjectID: r.ProjectID, DatasetID: r.DatasetID, TableID: tableID}
}

func (r DatasetRef) String() string {
	if r.ProjectID == "" {
		return r.DatasetID
	}
	return r.ProjectID + "." + r.DatasetID
}

// TableRef addresses a table. An empty ProjectID means the client's project.
type TableRef struct {
	ProjectID string
	DatasetID string
	TableID   string
}

func (r TableRef) Dataset() DatasetRef {
	return DatasetRef{ProjectID: r.ProjectID, DatasetID: r.DatasetID}
}

func (r TableRef) String() string {
	return r.Dataset().String() + "." + r.TableID
}

// ParseDatasetRef accepts "dataset" or "project.dataset".
func ParseDatasetRef(s string) (DatasetRef, error) {
	parts := strings.Split(strings.Trim(s, "`"), ".")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return DatasetRef{DatasetID: parts[0]}, nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return DatasetRef{ProjectID: parts[0], DatasetID: parts[1]}, nil
	}
	return DatasetRef{}, fmt.Errorf("invalid dataset reference %q: want dataset or project.dataset", s)
}

// ParseTableRef accepts "dataset.table" or "project.dataset.table".
func ParseTableRef(s string) (TableRef, error) {
	parts := strings.Split(strings.Trim(s, "`"), ".")
	for _, p := range parts {
		if p == "" {
			return TableRef{}, fmt.Errorf("invalid table reference %q: empty component", s)
		}
	}
	switch len(parts) {
	case 2:
		return TableRef{DatasetID: parts[0], TableID: parts[1]}, nil
	case 3:
		return TableRef{ProjectID: parts[0], DatasetID: parts[1], TableID: parts[2]}, nil
	}
	return TableRef{}, fmt.Errorf("invalid table reference %q: want dataset.table or project.dataset.table", s)
}

type Dataset struct {
	ID          string
	ProjectID   string
	Location    string
	Description string
	CreatedAt   time.Time
	ModifiedAt  time.Time
	Labels      map[string]string
	Access      []AccessEntry
	DefaultTTL  time.Duration
}

type Table struct {
	ID          string
	DatasetID   string
	ProjectID   string
	Description string
	CreatedAt   time.Time
	NumRows     uint64
	NumBytes    int64
	Type        string
	Labels      map[string]string
	Schema      *TableSchema
}

type Column struct {
	Name        string
	Type        bigquery.FieldType
	Repeated    bool
	Required    bool
	Description string
	Fields      []*Column
}

type TableSchema struct {
	Fields []*Column
}

// AccessEntry is one dataset ACL entry.
type AccessEntry struct {
	Role       string
	EntityType string
	Entity     string
}

// DatasetDefinition describes a dataset to create.
type DatasetDefinition struct {
	Description string
	Location    string
	Labels      map[string]string
	Access      []AccessEntry
	DefaultTTL  time.Duration
}

// TableDefinition describes a table to create. A nil Schema creates a
// table without columns.
type TableDefinition struct {
	Schema      *TableSchema
	Description string
	Labels      map[string]string
}

// LabelPatch sets and removes labels. Labels not mentioned are left alone.
type LabelPatch struct {
	Set    map[string]string
	Delete []string
}

func (p LabelPatch) Empty() bool {
	return len(p.Set) == 0 && len(p.Delete) == 0
}

// ParseLabelPatch reads "key=value" pairs to set and "-key" entries to delete.
func ParseLabelPatch(args []string) (LabelPatch, error) {
	patch := LabelPatch{Set: map[string]string{}}
	for _, arg := range args {
		if key, ok := strings.CutPrefix(arg, "-"); ok {
			if key == "" {
				return LabelPatch{}, fmt.Errorf("invalid label deletion %q", arg)
			}
			patch.Delete = append(patch.Delete, key)
			continue
		}
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return LabelPatch{}, fmt.Errorf("invalid label %q: want key=value or -key", arg)
		}
		patch.Set[key] = value
	}
	return patch, nil
}

// LoadStatistics is the outcome of a successful load job.
type LoadStatistics struct {
	JobID          JobID
	OutputRows     int64
	OutputBytes    int64
	InputFiles     int64
	InputFileBytes int64
	StartedAt      time.Time
	FinishedAt     time.Time
}

func (s *LoadStatistics) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
