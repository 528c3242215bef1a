package bigquery

import (
	"context"

	"github.com/sahilm/fuzzy"
)

// SuggestDatasets returns up to limit dataset IDs that fuzzily match name,
// best match first.
func (c *Client) SuggestDatasets(ctx context.Context, name string, limit int) ([]string, error) {
	datasets, err := c.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(datasets))
	for _, ds := range datasets {
		ids = append(ids, ds.ID)
	}
	return suggest(name, ids, limit), nil
}

// SuggestTables returns up to limit table IDs in dataset that fuzzily match name.
func (c *Client) SuggestTables(ctx context.Context, dataset DatasetRef, name string, limit int) ([]string, error) {
	tables, err := c.ListTables(ctx, dataset)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(tables))
	for _, t := range tables {
		ids = append(ids, t.ID)
	}
	return suggest(name, ids, limit), nil
}

func suggest(pattern string, candidates []string, limit int) []string {
	matches := fuzzy.Find(pattern, candidates)

	var out []string
	for _, match := range matches {
		if match.Str == pattern {
			continue
		}
		out = append(out, match.Str)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
