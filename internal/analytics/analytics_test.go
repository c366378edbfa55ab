package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/kafka"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/resilience"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	fails   int
}

func (p *fakePublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails > 0 {
		p.fails--
		return errors.New("broker unavailable")
	}
	p.batches = append(p.batches, append([]kafka.Event(nil), events...))
	return nil
}

func (p *fakePublisher) events() []kafka.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []kafka.Event
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}
}

func TestCollectorFlushesOnClose(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, CollectorConfig{BatchSize: 10, FlushInterval: time.Hour, Retry: fastRetry()}, nil)
	c.Start(context.Background())

	c.Track(QueryEvent{Type: EventQuery, RequestID: "r1", Query: "moon"})
	c.Track(QueryEvent{Type: EventZeroResult, RequestID: "r2", Query: "zzz"})
	c.Close()

	events := pub.events()
	require.Len(t, events, 2)
	assert.Equal(t, "r1", events[0].Key)
	assert.Equal(t, "query", events[0].Type)
	assert.Equal(t, "zero_result", events[1].Type)
	assert.Equal(t, int64(2), c.Stats().Published)
}

func TestCollectorFlushesFullBatch(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, CollectorConfig{BatchSize: 2, FlushInterval: time.Hour, Retry: fastRetry()}, nil)
	c.Start(context.Background())
	for i := 0; i < 5; i++ {
		c.Track(QueryEvent{RequestID: "r", Query: "q"})
	}
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 3)
	assert.Len(t, pub.batches[0], 2)
	assert.Len(t, pub.batches[2], 1)
}

func TestCollectorRetriesThenCountsFailures(t *testing.T) {
	pub := &fakePublisher{fails: 1}
	c := NewCollector(pub, CollectorConfig{BatchSize: 1, FlushInterval: time.Hour, Retry: fastRetry()}, nil)
	c.Start(context.Background())
	c.Track(QueryEvent{Query: "retried"})
	c.Close()
	assert.Equal(t, int64(1), c.Stats().Published)

	pub = &fakePublisher{fails: 10}
	c = NewCollector(pub, CollectorConfig{BatchSize: 1, FlushInterval: time.Hour, Retry: fastRetry()}, nil)
	c.Start(context.Background())
	c.Track(QueryEvent{Query: "lost"})
	c.Close()
	assert.Equal(t, int64(1), c.Stats().Failed)
	assert.Empty(t, pub.events())
}

func TestCollectorDropsWhenFull(t *testing.T) {
	c := NewCollector(&fakePublisher{}, CollectorConfig{BufferSize: 1, Retry: fastRetry()}, nil)
	c.Track(QueryEvent{Query: "a"})
	c.Track(QueryEvent{Query: "b"})
	assert.Equal(t, int64(1), c.Stats().Dropped)
}

func TestCollectorFlushesOnCancel(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, CollectorConfig{BatchSize: 50, FlushInterval: time.Hour, Retry: fastRetry()}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	c.Track(QueryEvent{Query: "a"})
	cancel()
	<-c.done
	assert.Len(t, pub.events(), 1)
}

func TestAggregator(t *testing.T) {
	agg := NewAggregator()
	agg.Track(QueryEvent{Type: EventQuery, Query: "moon", Returned: 3, Records: 4, Hidden: 1, LatencyMs: 10,
		Severities: map[string]int{"none": 3, "mild": 1}})
	agg.Track(QueryEvent{Type: EventQuery, Query: "moon", Returned: 2, Records: 2, LatencyMs: 30, CacheHits: 2})
	agg.Track(QueryEvent{Type: EventZeroResult, Query: "mooon", CorrectedQuery: "moon", Corrections: 1, LatencyMs: 20,
		ArchiveFallback: true})

	st := agg.Stats()
	assert.Equal(t, int64(3), st.TotalQueries)
	assert.Equal(t, int64(1), st.CorrectedQueries)
	assert.Equal(t, int64(1), st.ZeroResultCount)
	assert.Equal(t, int64(1), st.FallbackCount)
	assert.Equal(t, int64(6), st.RecordsSeen)
	assert.Equal(t, int64(1), st.RecordsHidden)
	assert.Equal(t, int64(2), st.CacheHits)
	assert.Equal(t, map[string]int{"none": 3, "mild": 1}, st.Severities)
	assert.InDelta(t, 20.0, st.AvgLatencyMs, 1e-9)
	assert.Equal(t, int64(20), st.P50LatencyMs)
	assert.Equal(t, int64(30), st.P99LatencyMs)
	assert.Equal(t, []QueryCount{{"moon", 2}, {"mooon", 1}}, st.TopQueries)
	assert.Equal(t, []QueryCount{{"mooon", 1}}, st.ZeroResultQueries)
	assert.Equal(t, []QueryCount{{"mooon -> moon", 1}}, st.TopCorrections)
}

func TestAggregatorStatsIsCopy(t *testing.T) {
	agg := NewAggregator()
	agg.Track(QueryEvent{Query: "a", Returned: 1, Severities: map[string]int{"none": 1}})
	st := agg.Stats()
	st.Severities["none"] = 99
	assert.Equal(t, 1, agg.Stats().Severities["none"])
}

func TestHandleEvent(t *testing.T) {
	agg := NewAggregator()
	h := HandleEvent(agg)
	require.NoError(t, h(context.Background(), nil, []byte(`{"type":"query","query":"maps","returned":4}`)))
	require.NoError(t, h(context.Background(), nil, []byte(`not json`)))
	assert.Equal(t, int64(1), agg.Stats().TotalQueries)
}

func TestTopNTieBreak(t *testing.T) {
	got := topN(map[string]int64{"b": 2, "a": 2, "c": 3, "d": 1}, 3)
	assert.Equal(t, []QueryCount{{"c", 3}, {"a", 2}, {"b", 2}}, got)
}

type fakeLearner struct {
	texts []string
	seeds []map[string]uint64
}

func (l *fakeLearner) LearnText(text string)         { l.texts = append(l.texts, text) }
func (l *fakeLearner) Seed(counts map[string]uint64) { l.seeds = append(l.seeds, counts) }

func TestVocabularyHandler(t *testing.T) {
	l := &fakeLearner{}
	h := VocabularyHandler(l)

	require.NoError(t, h(context.Background(), []byte("k"), []byte(`{"text":["apollo moon landing"],"words":{"lunar":5}}`)))
	require.NoError(t, h(context.Background(), nil, []byte(`{broken`)))

	assert.Equal(t, []string{"apollo moon landing"}, l.texts)
	require.Len(t, l.seeds, 1)
	assert.Equal(t, uint64(5), l.seeds[0]["lunar"])
}

func TestMulti(t *testing.T) {
	a, b := NewAggregator(), NewAggregator()
	s := Multi(a, nil, b)
	s.Track(QueryEvent{Query: "x", Returned: 1})
	assert.Equal(t, int64(1), a.Stats().TotalQueries)
	assert.Equal(t, int64(1), b.Stats().TotalQueries)
}
