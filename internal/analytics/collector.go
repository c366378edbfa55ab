package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/kafka"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/metrics"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/resilience"
)

const (
	defaultBufferSize    = 1024
	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second
	finalFlushTimeout    = 5 * time.Second
)

// Publisher is the producer side of the event stream; *kafka.Producer
// satisfies it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// CollectorConfig sizes the collector.
type CollectorConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Retry         resilience.RetryConfig
}

// CollectorStats counts events by fate.
type CollectorStats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// Collector buffers query events and publishes them in batches. Track
// never blocks: a full buffer drops the event.
type Collector struct {
	publisher Publisher
	cfg       CollectorConfig
	eventCh   chan QueryEvent
	logger    *slog.Logger
	metrics   *metrics.Metrics
	done      chan struct{}
	closeOnce sync.Once

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewCollector creates a Collector. m may be nil.
func NewCollector(publisher Publisher, cfg CollectorConfig, m *metrics.Metrics) *Collector {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	return &Collector{
		publisher: publisher,
		cfg:       cfg,
		eventCh:   make(chan QueryEvent, cfg.BufferSize),
		logger:    slog.Default().With("component", "analytics-collector"),
		metrics:   m,
		done:      make(chan struct{}),
	}
}

// Start launches the publish loop. It runs until ctx is cancelled or Close
// is called, then flushes what is buffered.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.FlushInterval)
		defer ticker.Stop()
		batch := make([]kafka.Event, 0, c.cfg.BatchSize)

		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					c.finalFlush(batch)
					return
				}
				batch = append(batch, toKafka(event))
				if len(batch) >= c.cfg.BatchSize {
					c.flush(ctx, batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				c.flush(ctx, batch)
				batch = batch[:0]
			case <-ctx.Done():
				batch = c.drain(batch)
				c.finalFlush(batch)
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.cfg.BatchSize,
		"flush_interval", c.cfg.FlushInterval,
	)
}

// Track implements Sink.
func (c *Collector) Track(event QueryEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.dropped.Add(1)
		c.metrics.Event("dropped", 1)
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Close stops accepting events and waits for the final flush. Track must
// not be called after Close.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.eventCh) })
	<-c.done
}

// Stats returns the collector counters.
func (c *Collector) Stats() CollectorStats {
	return CollectorStats{
		Published: c.published.Load(),
		Dropped:   c.dropped.Load(),
		Failed:    c.failed.Load(),
	}
}

func (c *Collector) drain(batch []kafka.Event) []kafka.Event {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return batch
			}
			batch = append(batch, toKafka(event))
		default:
			return batch
		}
	}
}

func (c *Collector) finalFlush(batch []kafka.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	c.flush(ctx, batch)
}

func (c *Collector) flush(ctx context.Context, batch []kafka.Event) {
	if len(batch) == 0 {
		return
	}
	err := resilience.Retry(ctx, "publish analytics batch", c.cfg.Retry, func() error {
		return c.publisher.PublishBatch(ctx, batch)
	})
	if err != nil {
		c.failed.Add(int64(len(batch)))
		c.metrics.Event("failed", len(batch))
		c.logger.Error("failed to publish analytics batch", "count", len(batch), "error", err)
		return
	}
	c.published.Add(int64(len(batch)))
	c.metrics.Event("published", len(batch))
	c.logger.Debug("analytics batch published", "count", len(batch))
}

func toKafka(event QueryEvent) kafka.Event {
	return kafka.Event{Key: event.RequestID, Type: string(event.Type), Value: event}
}
