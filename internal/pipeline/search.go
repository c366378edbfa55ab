package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/filters"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/record"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/safety"
	apperrors "github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/errors"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/logger"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/tracing"
)

const archiveLimitKey = "archive"

// Archive is the external document archive. Implementations live outside
// this module.
type Archive interface {
	Search(ctx context.Context, query string, f filters.QueryFilters) ([]*record.Record, error)
}

// ArchiveFunc adapts a function to Archive.
type ArchiveFunc func(ctx context.Context, query string, f filters.QueryFilters) ([]*record.Record, error)

func (fn ArchiveFunc) Search(ctx context.Context, query string, f filters.QueryFilters) ([]*record.Record, error) {
	return fn(ctx, query, f)
}

// Search prepares raw, sends the first FanOut prepared queries to archive
// concurrently and processes the merged records. Records from the queries
// that succeeded are kept when others fail. When every query fails the
// literal query is retried once without filters; only a failure of that
// retry is returned.
func (p *Pipeline) Search(ctx context.Context, archive Archive, raw string, mode safety.Mode, opts Options) (Outcome, error) {
	if logger.RequestID(ctx) == "" {
		ctx = logger.WithRequestID(ctx, logger.NewRequestID())
	}
	log := logger.FromContext(ctx)
	start := time.Now()
	ctx, root := tracing.StartSpan(ctx, "search", "")
	defer root.End()

	prepared := p.PrepareQuery(ctx, raw)
	if len(prepared.Queries) == 0 {
		p.metrics.Query("rejected")
		return Outcome{}, apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitUsage, "query is empty")
	}

	queries := prepared.Queries
	if len(queries) > p.cfg.FanOut {
		queries = queries[:p.cfg.FanOut]
	}
	actx, span := tracing.StartChildSpan(ctx, "archive")
	archiveStart := time.Now()
	records, err := p.fanOut(actx, archive, queries, prepared.Filters)
	fallback := false
	if err != nil {
		log.Warn("archive search failed, retrying literal query", "queries", len(queries), "error", err)
		p.metrics.Archive("error")
		fallback = true
		records, err = p.fanOut(actx, archive, []string{prepared.Raw}, filters.QueryFilters{})
	}
	span.SetAttr("queries", len(queries))
	span.SetAttr("fallback", fallback)
	span.End()
	p.metrics.ObserveStage("archive", time.Since(archiveStart))
	if err != nil {
		p.metrics.Archive("error")
		p.metrics.Query("error")
		return Outcome{}, fmt.Errorf("%w: %w", apperrors.ErrArchive, err)
	}
	if fallback {
		p.metrics.Archive("fallback")
	} else {
		p.metrics.Archive("ok")
	}

	if opts.Filters.IsEmpty() && !fallback {
		opts.Filters = prepared.Filters
	}
	out := p.process(ctx, prepared.Corrected(), records, mode, opts)
	out.Prepared = &prepared
	out.Fallback = fallback
	out.CacheHits += prepared.CacheHits

	root.End()
	root.Log(log)
	out.Timings = root.Timings()
	p.track(p.event(ctx, out, &prepared, time.Since(start), out.Timings))

	log.Info("search completed",
		"query", raw,
		"records", out.Total,
		"returned", len(out.Items),
		"hidden", out.Hidden,
		"fallback", fallback,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// fanOut queries the archive once per query and merges the successful
// results in query order, dropping records already returned by an earlier
// query. A failed query does not cancel the others; the joined errors are
// returned only when every query failed.
func (p *Pipeline) fanOut(ctx context.Context, archive Archive, queries []string, f filters.QueryFilters) ([]*record.Record, error) {
	if p.cfg.ArchiveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ArchiveTimeout)
		defer cancel()
	}
	results := make([][]*record.Record, len(queries))
	errs := make([]error, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			if err := p.limiter.Wait(ctx, archiveLimitKey); err != nil {
				errs[i] = fmt.Errorf("waiting for archive quota: %w", err)
				return nil
			}
			records, err := archive.Search(ctx, q, f)
			if err != nil {
				errs[i] = fmt.Errorf("archive query %q: %w", q, err)
				return nil
			}
			results[i] = records
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(queries) {
		return nil, errors.Join(errs...)
	}
	if failed > 0 {
		logger.FromContext(ctx).Warn("archive queries failed, merging partial results",
			"failed", failed, "queries", len(queries), "error", errors.Join(errs...))
	}
	return merge(results), nil
}

func merge(results [][]*record.Record) []*record.Record {
	seen := make(map[string]struct{})
	out := make([]*record.Record, 0)
	for _, records := range results {
		for _, r := range records {
			if r == nil {
				continue
			}
			id := r.First("identifier")
			if id == "" {
				id = r.Hash()
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
