package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/config"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/metrics"
	pkgredis "github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/redis"
)

type memoryStore struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failing bool
	gets    atomic.Int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

var errDown = errors.New("connection refused")

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	s.gets.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return "", errDown
	}
	v, ok := s.data[key]
	if !ok {
		return "", pkgredis.ErrNotFound
	}
	return v, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errDown
	}
	switch v := value.(type) {
	case []byte:
		s.data[key] = string(v)
	default:
		s.data[key] = fmt.Sprint(v)
	}
	s.ttls[key] = ttl
	return nil
}

func (s *memoryStore) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) CountByPattern(ctx context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

type payload struct {
	Severity string   `json:"severity"`
	Matches  []string `json:"matches"`
}

func testConfig() config.CacheConfig {
	return config.CacheConfig{TTL: time.Minute, Timeout: time.Second, FailureThreshold: 2, ResetTimeout: time.Hour}
}

func TestGetOrComputeCachesValue(t *testing.T) {
	store := newMemoryStore()
	c := New(store, testConfig())
	key := SafetyKey("v1", "abc")

	calls := 0
	compute := func() (payload, error) {
		calls++
		return payload{Severity: "explicit", Matches: []string{"xxx"}}, nil
	}

	v, hit, err := GetOrCompute(context.Background(), c, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "explicit", v.Severity)

	v, hit, err = GetOrCompute(context.Background(), c, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"xxx"}, v.Matches)
	assert.Equal(t, 1, calls)
	assert.Equal(t, time.Minute, store.ttls[key.String()])

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, "closed", st.Breaker)
}

func TestVersionSeparatesEntries(t *testing.T) {
	c := New(newMemoryStore(), testConfig())
	ctx := context.Background()

	_, _, err := GetOrCompute(ctx, c, SafetyKey("v1", "abc"), func() (payload, error) {
		return payload{Severity: "mild"}, nil
	})
	require.NoError(t, err)

	v, hit, err := GetOrCompute(ctx, c, SafetyKey("v2", "abc"), func() (payload, error) {
		return payload{Severity: "none"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "none", v.Severity)
}

func TestComputeErrorNotCached(t *testing.T) {
	store := newMemoryStore()
	c := New(store, testConfig())
	boom := errors.New("boom")

	_, _, err := GetOrCompute(context.Background(), c, SafetyKey("v1", "x"), func() (payload, error) {
		return payload{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.data)
}

func TestStoreFailureDegradesAndOpensBreaker(t *testing.T) {
	store := newMemoryStore()
	store.failing = true
	reg := prometheus.NewRegistry()
	c := New(store, testConfig(), WithMetrics(metrics.New(reg)))
	ctx := context.Background()

	calls := 0
	compute := func() (payload, error) {
		calls++
		return payload{Severity: "none"}, nil
	}
	for i := 0; i < 4; i++ {
		v, hit, err := GetOrCompute(ctx, c, SafetyKey("v1", "x"), compute)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, "none", v.Severity)
	}
	assert.Equal(t, 4, calls)
	assert.Equal(t, "open", c.Stats().Breaker)
	assert.Positive(t, c.Stats().Errors)

	// Once open, the store is no longer called.
	before := store.gets.Load()
	_, _, _ = GetOrCompute(ctx, c, SafetyKey("v1", "x"), compute)
	assert.Equal(t, before, store.gets.Load())
	assert.Positive(t, c.Stats().Bypassed)

	_, err := c.Invalidate(ctx, NamespaceSafety)
	require.NoError(t, err)
	assert.Equal(t, "closed", c.Stats().Breaker)
}

func TestCorruptEntryIsMiss(t *testing.T) {
	store := newMemoryStore()
	key := SafetyKey("v1", "x")
	store.data[key.String()] = "{not json"
	c := New(store, testConfig())

	v, hit, err := GetOrCompute(context.Background(), c, key, func() (payload, error) {
		return payload{Severity: "mild"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "mild", v.Severity)
}

func TestSingleflight(t *testing.T) {
	c := New(newMemoryStore(), testConfig())
	key := ExpansionKey("lex1", "moon landing", true)

	var calls atomic.Int64
	release := make(chan struct{})
	compute := func() (payload, error) {
		calls.Add(1)
		<-release
		return payload{Severity: "none"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := GetOrCompute(context.Background(), c, key, compute)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int64(1), calls.Load())
}

func TestNilCache(t *testing.T) {
	var c *Cache
	assert.Nil(t, New(nil, testConfig()))

	v, hit, err := GetOrCompute(context.Background(), c, SafetyKey("v", "k"), func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 7, v)

	n, err := c.Invalidate(context.Background(), NamespaceSafety)
	assert.NoError(t, err)
	assert.Zero(t, n)
	n, err = c.Count(context.Background(), "")
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "disabled", c.Stats().Breaker)
}

func TestInvalidateNamespace(t *testing.T) {
	store := newMemoryStore()
	c := New(store, testConfig())
	ctx := context.Background()
	mk := func(k Key) {
		_, _, err := GetOrCompute(ctx, c, k, func() (int, error) { return 1, nil })
		require.NoError(t, err)
	}
	mk(SafetyKey("v1", "a"))
	mk(SafetyKey("v1", "b"))
	mk(ExpansionKey("l1", "moon", false))

	n, err := c.Count(ctx, NamespaceSafety)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = c.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = c.Invalidate(ctx, NamespaceSafety)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, store.data, 1)

	n, err = c.Invalidate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestExpansionKey(t *testing.T) {
	a := ExpansionKey("l1", "Moon  Landing", true)
	assert.Equal(t, a, ExpansionKey("l1", "moon landing", true))
	assert.NotEqual(t, a, ExpansionKey("l1", "landing moon", true))
	assert.NotEqual(t, a, ExpansionKey("l1", "moon landing", false))
	assert.NotEqual(t, a, ExpansionKey("l2", "moon landing", true))
	assert.True(t, strings.HasPrefix(a.String(), "rp:expand:l1:"))
	assert.Len(t, a.ID, 32)
}
