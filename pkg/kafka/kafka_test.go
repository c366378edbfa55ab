package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/resilience"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducerPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "events")

	require.NoError(t, p.Publish(context.Background(), Event{
		Key:   "req-1",
		Type:  "query",
		Value: map[string]any{"query": "moon"},
	}))
	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "req-1", string(msg.Key))
	assert.JSONEq(t, `{"query":"moon"}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, HeaderEventType, msg.Headers[0].Key)
	assert.Equal(t, "query", string(msg.Headers[0].Value))
	assert.Equal(t, "events", p.Topic())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducerPublishBatch(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "events")
	require.NoError(t, p.PublishBatch(context.Background(), nil))
	assert.Empty(t, w.messages)

	require.NoError(t, p.PublishBatch(context.Background(), []Event{{Key: "a", Value: 1}, {Key: "b", Value: 2}}))
	assert.Len(t, w.messages, 2)
	assert.Empty(t, w.messages[0].Headers)
}

func TestProducerErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newProducer(w, "events")
	assert.ErrorContains(t, p.Publish(context.Background(), Event{Value: "x"}), "broker down")

	err := newProducer(&fakeWriter{}, "events").Publish(context.Background(), Event{Value: make(chan int)})
	assert.ErrorContains(t, err, "marshaling")
	assert.True(t, resilience.IsPermanent(err))
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	fetchErrs int
	closed    bool
	drained   chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.fetchErrs > 0 {
		r.fetchErrs--
		r.mu.Unlock()
		return kafka.Message{}, errors.New("transient")
	}
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	close(r.drained)
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestConsumerCommitsHandledMessages(t *testing.T) {
	r := &fakeReader{
		messages: []kafka.Message{
			{Offset: 1, Value: []byte(`{"text":"ok"}`)},
			{Offset: 2, Value: []byte(`bad`)},
			{Offset: 3, Value: []byte(`{"text":"ok"}`)},
		},
		fetchErrs: 1,
		drained:   make(chan struct{}),
	}
	var handled []string
	handler := func(ctx context.Context, key, value []byte) error {
		v, err := DecodeJSON[map[string]string](value)
		if err != nil {
			return err
		}
		handled = append(handled, v["text"])
		return nil
	}
	c := newConsumer(r, "feed", handler)
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	<-r.drained
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"ok", "ok"}, handled)
	assert.Equal(t, []int64{1, 3}, r.committed)
	assert.Equal(t, ConsumerStats{Received: 3, Handled: 2, Failed: 1}, c.Stats())
	assert.False(t, r.closed)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, r.closed)
}

func TestConsumerFiltersEventTypes(t *testing.T) {
	header := func(v string) []kafka.Header { return []kafka.Header{{Key: HeaderEventType, Value: []byte(v)}} }
	r := &fakeReader{
		messages: []kafka.Message{
			{Offset: 1, Headers: header("query"), Value: []byte(`{}`)},
			{Offset: 2, Headers: header("vocabulary"), Value: []byte(`{}`)},
			{Offset: 3, Value: []byte(`{}`)},
			{Offset: 4, Headers: header("zero_result"), Value: []byte(`{}`)},
		},
		drained: make(chan struct{}),
	}
	calls := 0
	c := newConsumer(r, "events", func(ctx context.Context, key, value []byte) error {
		calls++
		return nil
	})
	c.types = map[string]bool{"query": true, "zero_result": true}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	<-r.drained
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, calls)
	assert.Equal(t, []int64{1, 2, 3, 4}, r.committed)
	assert.Equal(t, ConsumerStats{Received: 4, Handled: 2, Skipped: 2}, c.Stats())
}

func TestConsumerOptions(t *testing.T) {
	var o consumerOptions
	for _, opt := range []ConsumerOption{FromBeginning(), WithEventTypes("query"), WithEventTypes("zero_result")} {
		opt(&o)
	}
	assert.True(t, o.fromBeginning)
	assert.Equal(t, map[string]bool{"query": true, "zero_result": true}, o.types)
}

func TestDecodeJSON(t *testing.T) {
	v, err := DecodeJSON[struct{ N int }]([]byte(`{"N":4}`))
	require.NoError(t, err)
	assert.Equal(t, 4, v.N)

	_, err = DecodeJSON[struct{ N int }]([]byte(`{`))
	assert.ErrorContains(t, err, "decoding kafka message")
}

func TestWriterSettings(t *testing.T) {
	assert.Equal(t, kafka.Snappy, compression("Snappy"))
	assert.Equal(t, kafka.Zstd, compression("zstd"))
	assert.Equal(t, kafka.Compression(0), compression("none"))
	assert.Equal(t, kafka.RequireOne, requiredAcks("one"))
	assert.Equal(t, kafka.RequireNone, requiredAcks("none"))
	assert.Equal(t, kafka.RequireAll, requiredAcks(""))
	assert.Equal(t, map[string]int{"query": 2, "": 1}, countTypes([]Event{{Type: "query"}, {Type: "query"}, {}}))
}
