package analytics

import "time"

type EventType string

const (
	EventQuery      EventType = "query"
	EventZeroResult EventType = "zero_result"
)

// QueryEvent summarises one processed query.
type QueryEvent struct {
	Type            EventType        `json:"type"`
	RequestID       string           `json:"request_id"`
	Query           string           `json:"query"`
	CorrectedQuery  string           `json:"corrected_query,omitempty"`
	Corrections     int              `json:"corrections"`
	Alternatives    int              `json:"alternatives"`
	Hybrid          bool             `json:"hybrid"`
	Interpreted     bool             `json:"interpreted"`
	Filters         []string         `json:"filters,omitempty"`
	Mode            string           `json:"mode"`
	Records         int              `json:"records"`
	Returned        int              `json:"returned"`
	Hidden          int              `json:"hidden"`
	Severities      map[string]int   `json:"severities,omitempty"`
	CacheHits       int              `json:"cache_hits"`
	ArchiveFallback bool             `json:"archive_fallback"`
	LatencyMs       int64            `json:"latency_ms"`
	StageMs         map[string]int64 `json:"stage_ms,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

// VocabularyEvent feeds text and explicit counts to the spell corrector.
type VocabularyEvent struct {
	Text  []string          `json:"text,omitempty"`
	Words map[string]uint64 `json:"words,omitempty"`
}

// Sink receives query events. Implementations must not block.
type Sink interface {
	Track(event QueryEvent)
}

type multiSink []Sink

func (m multiSink) Track(event QueryEvent) {
	for _, s := range m {
		s.Track(event)
	}
}

// Multi fans events out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
