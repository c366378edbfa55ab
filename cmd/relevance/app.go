package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/analytics"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/cache"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/filters"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/pipeline"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/config"
	apperrors "github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/errors"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/kafka"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/logger"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/metrics"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/ratelimit"
	pkgredis "github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/redis"
)

const shutdownTimeout = 5 * time.Second

// app holds the process-wide dependencies of one command invocation.
type app struct {
	cfg        *config.Config
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	redis      *pkgredis.Client
	cache      *cache.Cache
	producer   *kafka.Producer
	collector  *analytics.Collector
	components pipeline.Components
	pipeline   *pipeline.Pipeline
	closers    []func()
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg = config.Default()
	} else if cfg, err = config.Load(configPath); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitConfig, "%v", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logger.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitConfig, "logging: %v", err)
	}
	return cfg, nil
}

// newApp loads configuration and connects the optional dependencies.
// Redis and Kafka are optional: an unreachable one is logged and left out.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if cfg.Metrics.Enabled {
		server, err := metrics.StartServer(fmt.Sprintf(":%d", cfg.Metrics.Port), a.registry)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrUnavailable, apperrors.ExitUnavailable, "%v", err)
		}
		a.onClose(func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = server.Shutdown(sctx)
		})
	}

	if cfg.Redis.Addr != "" {
		client, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			a.redis = client
			a.cache = cache.New(client, cfg.Cache, cache.WithMetrics(a.metrics))
			a.onClose(func() { _ = client.Close() })
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Cache.TTL)
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		a.producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.PipelineEvents)
		a.collector = analytics.NewCollector(a.producer, analytics.CollectorConfig{
			BufferSize:    cfg.Pipeline.EventBuffer,
			BatchSize:     cfg.Kafka.BatchSize,
			FlushInterval: cfg.Kafka.FlushInterval,
			Retry:         cfg.Kafka.PublishRetry,
		}, a.metrics)
		a.collector.Start(ctx)
		producer := a.producer
		a.onClose(func() {
			a.collector.Close()
			_ = producer.Close()
		})
	}

	a.components, err = pipeline.Build(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	opts := []pipeline.Option{
		pipeline.WithCache(a.cache),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithInterpreter(filters.HeuristicInterpreter{}),
	}
	if a.collector != nil {
		opts = append(opts, pipeline.WithSink(a.collector))
	}
	if limiter := ratelimit.New(cfg.Pipeline.ArchiveRate, time.Second); limiter != nil {
		opts = append(opts, pipeline.WithArchiveLimiter(limiter))
		a.onClose(limiter.Close)
	}
	a.pipeline, err = pipeline.New(a.components, cfg.Pipeline, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.onClose(a.pipeline.Release)
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// close runs the registered closers in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
