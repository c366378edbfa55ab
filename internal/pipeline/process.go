package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/analytics"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/cache"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/filters"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/record"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/relevance"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/safety"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/logger"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/tracing"
)

// Options tune one Process or Search call.
type Options struct {
	// Rerank orders results by combined score instead of archive order.
	Rerank bool
	// Filters further restrict visible records. When empty, Search uses the
	// filters lifted from the query.
	Filters filters.QueryFilters
}

// Item is one visible record with its annotations.
type Item struct {
	relevance.Scored
	Safety safety.Classification `json:"safety"`
}

// Outcome is the display-ready result of one query.
type Outcome struct {
	RequestID string           `json:"requestId"`
	Query     string           `json:"query"`
	Mode      safety.Mode      `json:"mode"`
	Items     []Item           `json:"items"`
	Total     int              `json:"total"`
	Hidden    int              `json:"hidden"`
	Filtered  int              `json:"filtered"`
	Severity  map[string]int   `json:"severities"`
	CacheHits int              `json:"cacheHits"`
	Prepared  *Prepared        `json:"prepared,omitempty"`
	Fallback  bool             `json:"archiveFallback"`
	Timings   []tracing.Timing `json:"timings,omitempty"`
}

// Process annotates and scores records against query, then keeps those
// visible under mode and opts.Filters. Hidden counts records the mode
// withheld; only safe and moderate report any.
func (p *Pipeline) Process(ctx context.Context, query string, records []*record.Record, mode safety.Mode, opts Options) Outcome {
	if logger.RequestID(ctx) == "" {
		ctx = logger.WithRequestID(ctx, logger.NewRequestID())
	}
	start := time.Now()
	ctx, root := tracing.StartSpan(ctx, "process-query", "")
	out := p.process(ctx, query, records, mode, opts)
	root.End()
	root.Log(logger.FromContext(ctx))
	out.Timings = root.Timings()
	p.track(p.event(ctx, out, nil, time.Since(start), out.Timings))
	return out
}

func (p *Pipeline) process(ctx context.Context, query string, records []*record.Record, mode safety.Mode, opts Options) Outcome {
	ctx, span := tracing.StartChildSpan(ctx, "process")
	defer span.End()
	start := time.Now()
	defer func() { p.metrics.ObserveStage("process", time.Since(start)) }()

	records = nonNil(records)
	q := relevance.Prepare(query)
	scored := make([]relevance.Scored, len(records))
	var hits atomic.Int64
	var wg sync.WaitGroup
	for i, r := range records {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			scored[i] = p.evaluate(ctx, r, q, &hits)
		}
		if err := p.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	if opts.Rerank {
		relevance.SortByScore(scored)
	}

	out := Outcome{
		RequestID: logger.RequestID(ctx),
		Query:     query,
		Mode:      mode,
		Items:     make([]Item, 0, len(scored)),
		Total:     len(records),
		Severity:  make(map[string]int),
		CacheHits: int(hits.Load()),
	}
	for _, s := range scored {
		cl := safety.ClassificationOf(s.Record)
		out.Severity[string(cl.Severity)]++
		if !safety.MatchesMode(cl, mode) {
			if mode.Hides() {
				out.Hidden++
			}
			continue
		}
		if !opts.Filters.Admits(s.Record, s.Result) {
			out.Filtered++
			continue
		}
		out.Items = append(out.Items, Item{Scored: s, Safety: cl})
	}
	p.metrics.Hidden(string(mode), out.Hidden)
	span.SetAttr("records", len(records))
	span.SetAttr("returned", len(out.Items))
	span.SetAttr("hidden", out.Hidden)
	return out
}

// evaluate annotates r with its cached or computed classification and
// scores the annotated copy.
func (p *Pipeline) evaluate(ctx context.Context, r *record.Record, q relevance.Query, hits *atomic.Int64) relevance.Scored {
	key := cache.SafetyKey(p.Classifier.KeywordSet().Version(), r.Hash())
	cl, hit, err := cache.GetOrCompute(ctx, p.cache, key, func() (safety.Classification, error) {
		return p.Classifier.Resolve(r), nil
	})
	if err != nil {
		cl = p.Classifier.Resolve(r)
	}
	if hit {
		hits.Add(1)
	}
	p.metrics.Classified(string(cl.Severity))

	annotated := safety.Apply(r, cl)
	res := p.Scorer.ScoreQuery(annotated, q)
	p.metrics.Score(res.Breakdown.Combined)
	return relevance.Scored{Record: annotated, Result: res}
}

func (p *Pipeline) event(ctx context.Context, out Outcome, prepared *Prepared, latency time.Duration, timings []tracing.Timing) analytics.QueryEvent {
	event := analytics.QueryEvent{
		Type:            analytics.EventQuery,
		RequestID:       out.RequestID,
		Query:           out.Query,
		Mode:            string(out.Mode),
		Records:         out.Total,
		Returned:        len(out.Items),
		Hidden:          out.Hidden,
		Severities:      out.Severity,
		CacheHits:       out.CacheHits,
		ArchiveFallback: out.Fallback,
		LatencyMs:       latency.Milliseconds(),
		StageMs:         make(map[string]int64),
		Timestamp:       time.Now().UTC(),
	}
	if event.RequestID == "" {
		event.RequestID = logger.RequestID(ctx)
	}
	if len(out.Items) == 0 {
		event.Type = analytics.EventZeroResult
	}
	if prepared != nil {
		event.Query = prepared.Raw
		event.Corrections = len(prepared.SpellCheck.Corrections)
		if prepared.SpellCheck.Changed() {
			event.CorrectedQuery = prepared.SpellCheck.CorrectedQuery
		}
		event.Alternatives = len(prepared.Expansion.AlternativeQueries)
		event.Hybrid = prepared.Expansion.HybridExpression != nil
		event.Interpreted = prepared.Interpreted
		event.Filters = prepared.Filters.Keys()
	}
	for _, t := range timings {
		if t.Depth > 0 {
			event.StageMs[t.Name] += t.Duration.Milliseconds()
		}
	}
	return event
}

func nonNil(records []*record.Record) []*record.Record {
	out := make([]*record.Record, 0, len(records))
	for _, r := range records {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
