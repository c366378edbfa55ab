package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/kafka"
)

const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalQueries      int64          `json:"total_queries"`
	CorrectedQueries  int64          `json:"corrected_queries"`
	ZeroResultCount   int64          `json:"zero_result_count"`
	FallbackCount     int64          `json:"archive_fallback_count"`
	RecordsSeen       int64          `json:"records_seen"`
	RecordsHidden     int64          `json:"records_hidden"`
	CacheHits         int64          `json:"cache_hits"`
	Severities        map[string]int `json:"severities"`
	AvgLatencyMs      float64        `json:"avg_latency_ms"`
	P50LatencyMs      int64          `json:"p50_latency_ms"`
	P95LatencyMs      int64          `json:"p95_latency_ms"`
	P99LatencyMs      int64          `json:"p99_latency_ms"`
	TopQueries        []QueryCount   `json:"top_queries"`
	ZeroResultQueries []QueryCount   `json:"zero_result_queries"`
	TopCorrections    []QueryCount   `json:"top_corrections"`
	QueriesPerMinute  float64        `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds query events into running statistics. It is a Sink and
// can also be fed from the event topic through HandleEvent.
type Aggregator struct {
	mu                sync.Mutex
	stats             AggregatedStats
	latencies         []int64
	latencySum        int64
	latencyCount      int64
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	corrections       map[string]int64
	startTime         time.Time
	now               func() time.Time
	logger            *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		stats:             AggregatedStats{Severities: make(map[string]int)},
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		corrections:       make(map[string]int64),
		startTime:         time.Now(),
		now:               time.Now,
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// Track implements Sink.
func (a *Aggregator) Track(event QueryEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalQueries++
	if event.Corrections > 0 {
		a.stats.CorrectedQueries++
		a.corrections[event.Query+" -> "+event.CorrectedQuery]++
	}
	if event.Type == EventZeroResult || event.Returned == 0 {
		a.stats.ZeroResultCount++
		a.zeroResultQueries[event.Query]++
	}
	if event.ArchiveFallback {
		a.stats.FallbackCount++
	}
	a.stats.RecordsSeen += int64(event.Records)
	a.stats.RecordsHidden += int64(event.Hidden)
	a.stats.CacheHits += int64(event.CacheHits)
	for sev, n := range event.Severities {
		a.stats.Severities[sev] += n
	}
	a.queryCounts[event.Query]++

	a.latencySum += event.LatencyMs
	a.latencyCount++
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.latencyCount%maxLatencySamples] = event.LatencyMs
	}
}

// HandleEvent returns a kafka.MessageHandler that feeds agg from the
// pipeline event topic. Undecodable messages are logged and skipped.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[QueryEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		agg.Track(event)
		return nil
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := a.stats
	stats.Severities = make(map[string]int, len(a.stats.Severities))
	for k, v := range a.stats.Severities {
		stats.Severities[k] = v
	}
	if a.latencyCount > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		stats.AvgLatencyMs = float64(a.latencySum) / float64(a.latencyCount)
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	stats.TopCorrections = topN(a.corrections, 10)
	elapsed := a.now().Sub(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalQueries) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count, then query, so ties are stable across calls.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
