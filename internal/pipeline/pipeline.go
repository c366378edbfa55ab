// Package pipeline wires spell correction, query expansion, safety
// classification and relevance scoring into one request flow around an
// external archive.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/panjf2000/ants/v2"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/analytics"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/cache"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/expand"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/filters"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/relevance"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/safety"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/spell"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/config"
	apperrors "github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/errors"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/metrics"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/ratelimit"
)

const defaultWorkers = 8

// Components are the four request-path services a Pipeline drives.
type Components struct {
	Corrector  *spell.Corrector
	Expander   *expand.Expander
	Classifier *safety.Classifier
	Scorer     *relevance.Scorer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCache routes expansions and classifications through c. A nil cache
// disables caching.
func WithCache(c *cache.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSink sends one event per processed query to sink.
func WithSink(sink analytics.Sink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithInterpreter lifts filters out of raw queries before correction.
func WithInterpreter(i filters.Interpreter) Option {
	return func(p *Pipeline) { p.interpreter = i }
}

// WithArchiveLimiter paces every archive request through l.
func WithArchiveLimiter(l *ratelimit.Limiter) Option {
	return func(p *Pipeline) { p.limiter = l }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pipeline is safe for concurrent use. Release frees its worker pool.
type Pipeline struct {
	Components
	cfg         config.PipelineConfig
	pool        *ants.Pool
	cache       *cache.Cache
	metrics     *metrics.Metrics
	sink        analytics.Sink
	interpreter filters.Interpreter
	limiter     *ratelimit.Limiter
	logger      *slog.Logger
}

// New builds a Pipeline over c. Every component must be set.
func New(c Components, cfg config.PipelineConfig, opts ...Option) (*Pipeline, error) {
	if c.Corrector == nil || c.Expander == nil || c.Classifier == nil || c.Scorer == nil {
		return nil, apperrors.New(apperrors.ErrInvalidConfig, apperrors.ExitConfig, "pipeline needs a corrector, expander, classifier and scorer")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = 1
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("creating record pool: %w", err)
	}
	p := &Pipeline{
		Components: c,
		cfg:        cfg,
		pool:       pool,
		logger:     slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger.Info("pipeline ready",
		"workers", cfg.Workers,
		"fan_out", cfg.FanOut,
		"rerank", cfg.Rerank,
		"cache", p.cache != nil,
		"interpreter", p.interpreter != nil,
	)
	return p, nil
}

// Build loads every data table named in cfg (embedded defaults for empty
// paths) and constructs the four components.
func Build(cfg *config.Config) (Components, error) {
	model, err := spell.NewModel(cfg.Spell.Capacity)
	if err != nil {
		return Components{}, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitConfig, "frequency model: %v", err)
	}
	corrector := spell.NewCorrector(model,
		spell.WithLearnCorrected(cfg.Spell.LearnCorrected),
		spell.WithMaxWordLength(cfg.Spell.MaxWordLength),
	)
	vocab, err := spell.LoadVocabulary(cfg.Spell.VocabularyPath)
	if err != nil {
		return Components{}, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitConfig, "%v", err)
	}
	vocab.Apply(corrector)

	lexicon, err := expand.LoadLexicon(cfg.Expand.SynonymsPath)
	if err != nil {
		return Components{}, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitConfig, "%v", err)
	}
	expander := expand.New(lexicon,
		expand.WithVocabulary(corrector),
		expand.WithSynonyms(cfg.Expand.EnableSynonyms),
		expand.WithMaxAlternatives(cfg.Expand.MaxAlternatives),
	)

	keywords, err := safety.LoadKeywordSet(cfg.Safety.KeywordsPath)
	if err != nil {
		return Components{}, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitConfig, "%v", err)
	}

	return Components{
		Corrector:  corrector,
		Expander:   expander,
		Classifier: safety.NewClassifier(keywords),
		Scorer:     relevance.NewScorer(cfg.Relevance),
	}, nil
}

// DefaultOptions returns the per-request options implied by the pipeline
// configuration.
func (p *Pipeline) DefaultOptions() Options {
	return Options{Rerank: p.cfg.Rerank}
}

// Release stops the worker pool. The pipeline must not be used afterwards.
func (p *Pipeline) Release() {
	p.pool.Release()
}

func (p *Pipeline) track(event analytics.QueryEvent) {
	p.metrics.Query(string(event.Type))
	if p.sink != nil {
		p.sink.Track(event)
	}
}
