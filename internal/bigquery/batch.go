package bigquery

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type LoadRequest struct {
	Dataset DatasetRef
	Table   string
	Path    string
	Options LoadOptions
}

type LoadResult struct {
	Request LoadRequest
	Stats   *LoadStatistics
	Err     error
}

// LoadAll runs each request as its own LoadFile call, at most limit at a
// time (no limit if limit <= 0). A failed load does not stop the others.
// Results are in request order.
func (l *Loader) LoadAll(ctx context.Context, requests []LoadRequest, limit int) []LoadResult {
	results := make([]LoadResult, len(requests))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, req := range requests {
		g.Go(func() error {
			stats, err := l.LoadFile(ctx, req.Dataset, req.Table, req.Path, req.Options)
			results[i] = LoadResult{Request: req, Stats: stats, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
