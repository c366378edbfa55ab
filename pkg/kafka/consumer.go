package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/config"
)

const fetchBackoff = time.Second

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerStats counts what a Consumer has seen since it was created.
type ConsumerStats struct {
	Received int64 `json:"received"`
	Handled  int64 `json:"handled"`
	Failed   int64 `json:"failed"`
	Skipped  int64 `json:"skipped"`
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	fromBeginning bool
	types         map[string]bool
}

// FromBeginning starts a consumer group with no committed offset at the
// oldest retained message instead of the newest.
func FromBeginning() ConsumerOption {
	return func(o *consumerOptions) { o.fromBeginning = true }
}

// WithEventTypes restricts the handler to messages whose HeaderEventType is
// one of types. Messages with another type, or none, are committed unhandled.
func WithEventTypes(types ...string) ConsumerOption {
	return func(o *consumerOptions) {
		if o.types == nil {
			o.types = make(map[string]bool, len(types))
		}
		for _, t := range types {
			o.types[t] = true
		}
	}
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler. A message whose handler fails is not committed.
type Consumer struct {
	reader  messageReader
	logger  *slog.Logger
	handler MessageHandler
	types   map[string]bool
	backoff time.Duration

	received  atomic.Int64
	handled   atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	var o consumerOptions
	for _, opt := range opts {
		opt(&o)
	}
	start := kafka.LastOffset
	if o.fromBeginning {
		start = kafka.FirstOffset
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: start,
	})
	c := newConsumer(r, topic, handler)
	c.types = o.types
	return c
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
		backoff: fetchBackoff,
	}
}

// Start fetches and dispatches messages until ctx is cancelled. It returns
// nil on cancellation; the reader stays open until Close.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for ctx.Err() == nil {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
			}
			continue
		}
		c.received.Add(1)
		c.dispatch(ctx, msg)
	}
	c.logger.Info("consumer stopping", "reason", ctx.Err(), "handled", c.handled.Load(), "failed", c.failed.Load())
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) {
	if !c.wants(msg) {
		c.skipped.Add(1)
		c.commit(ctx, msg)
		return
	}
	if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
		c.failed.Add(1)
		c.logger.Error("failed to process message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return
	}
	c.handled.Add(1)
	c.commit(ctx, msg)
}

func (c *Consumer) wants(msg kafka.Message) bool {
	if len(c.types) == 0 {
		return true
	}
	for _, h := range msg.Headers {
		if h.Key == HeaderEventType {
			return c.types[string(h.Value)]
		}
	}
	return false
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		c.logger.Error("failed to commit message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
	}
}

// Stats returns the message counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Received: c.received.Load(),
		Handled:  c.handled.Load(),
		Failed:   c.failed.Load(),
		Skipped:  c.skipped.Load(),
	}
}

// Close closes the underlying Kafka reader. Later calls return the first
// call's result.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.reader.Close() })
	return c.closeErr
}

// DecodeJSON unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
