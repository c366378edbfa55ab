package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/cache"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/expand"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/filters"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/spell"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/logger"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/tracing"
)

// Prepared is a raw query after interpretation, correction and expansion.
type Prepared struct {
	Raw         string                `json:"raw"`
	Query       string                `json:"query"`
	Interpreted bool                  `json:"interpreted"`
	Filters     filters.QueryFilters  `json:"filters"`
	SpellCheck  spell.SpellCheck      `json:"spellCheck"`
	Expansion   expand.QueryExpansion `json:"expansion"`
	// Queries are sent to the archive in order: the hybrid expression, the
	// corrected query, then the alternatives.
	Queries   []string `json:"queries"`
	CacheHits int      `json:"-"`
}

// Corrected is the free text the archive results are scored against.
func (p Prepared) Corrected() string {
	if p.SpellCheck.CorrectedQuery != "" {
		return p.SpellCheck.CorrectedQuery
	}
	return p.Query
}

// PrepareQuery interprets raw, corrects its free text and expands the
// correction.
func (p *Pipeline) PrepareQuery(ctx context.Context, raw string) Prepared {
	log := logger.FromContext(ctx)
	prepared := Prepared{Raw: raw, Query: strings.TrimSpace(raw)}

	if p.interpreter != nil {
		_, span := tracing.StartChildSpan(ctx, "interpret")
		start := time.Now()
		res := filters.Interpret(ctx, p.interpreter, raw)
		if res.OK() {
			prepared.Interpreted = true
			prepared.Query = strings.TrimSpace(res.QueryOr(raw))
			prepared.Filters = res.Filters
			span.SetAttr("filters", len(res.Filters.Keys()))
		} else if res.Err != nil {
			log.Warn("query interpretation failed, using literal query", "error", res.Err)
			span.SetAttr("error", res.Err.Error())
		}
		span.End()
		p.metrics.ObserveStage("interpret", time.Since(start))
	}

	_, span := tracing.StartChildSpan(ctx, "spell")
	start := time.Now()
	prepared.SpellCheck = p.Corrector.CheckQuery(prepared.Query)
	span.SetAttr("corrections", len(prepared.SpellCheck.Corrections))
	span.End()
	p.metrics.ObserveStage("spell", time.Since(start))
	p.metrics.Corrections(len(prepared.SpellCheck.Corrections))
	stats := p.Corrector.Stats()
	p.metrics.Vocabulary(stats.Size, stats.Evictions)

	_, span = tracing.StartChildSpan(ctx, "expand")
	start = time.Now()
	corrected := prepared.Corrected()
	key := cache.ExpansionKey(p.Expander.Lexicon().Version(), corrected, p.Expander.SynonymsEnabled())
	expansion, hit, err := cache.GetOrCompute(ctx, p.cache, key, func() (expand.QueryExpansion, error) {
		return p.Expander.Expand(corrected), nil
	})
	if err != nil {
		expansion = p.Expander.Expand(corrected)
	}
	if hit {
		prepared.CacheHits++
	}
	prepared.Expansion = expansion
	span.SetAttr("alternatives", len(expansion.AlternativeQueries))
	span.SetAttr("cached", hit)
	span.End()
	p.metrics.ObserveStage("expand", time.Since(start))
	if expansion.HybridExpression != nil {
		p.metrics.Expansion("hybrid", 1)
	}
	p.metrics.Expansion("alternative", len(expansion.AlternativeQueries))

	prepared.Queries = archiveQueries(expansion, corrected)
	log.Debug("query prepared",
		"raw", raw,
		"corrected", corrected,
		"queries", len(prepared.Queries),
		"interpreted", prepared.Interpreted,
	)
	return prepared
}

func archiveQueries(expansion expand.QueryExpansion, corrected string) []string {
	candidates := make([]string, 0, len(expansion.AlternativeQueries)+2)
	if expansion.HybridExpression != nil {
		candidates = append(candidates, *expansion.HybridExpression)
	}
	candidates = append(candidates, corrected)
	candidates = append(candidates, expansion.AlternativeQueries...)

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, q := range candidates {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}
