package spell

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds the number of distinct tokens a Model keeps.
const DefaultCapacity = 50000

// Model is a bounded token frequency table. When full, the least recently
// learned token is evicted. Lookups do not refresh recency, so probing
// candidate spellings never keeps a rare word alive.
type Model struct {
	mu        sync.Mutex
	counts    *lru.Cache[string, uint64]
	capacity  int
	evictions atomic.Int64
}

// Stats is a point-in-time view of a Model.
type Stats struct {
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
	Evictions int64 `json:"evictions"`
}

// NewModel creates an empty Model holding at most capacity tokens. A
// non-positive capacity selects DefaultCapacity.
func NewModel(capacity int) (*Model, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	m := &Model{capacity: capacity}
	counts, err := lru.NewWithEvict[string, uint64](capacity, func(string, uint64) {
		m.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("creating frequency model: %w", err)
	}
	m.counts = counts
	return m, nil
}

// Add increments the count of token by n and marks it most recently used.
func (m *Model) Add(token string, n uint64) {
	if token == "" || n == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, _ := m.counts.Get(token)
	m.counts.Add(token, prev+n)
}

// Frequency returns the count of token, or 0 when it is unknown.
func (m *Model) Frequency(token string) uint64 {
	n, _ := m.counts.Peek(token)
	return n
}

func (m *Model) Contains(token string) bool {
	return m.counts.Contains(token)
}

func (m *Model) Len() int {
	return m.counts.Len()
}

func (m *Model) Stats() Stats {
	return Stats{
		Size:      m.counts.Len(),
		Capacity:  m.capacity,
		Evictions: m.evictions.Load(),
	}
}
