// Package cache is a versioned result cache in front of query expansion
// and record classification. Keys carry the version of the data table
// that produced the value, so a changed keyword set or lexicon never
// reads results computed under the old one.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/config"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/metrics"
	pkgredis "github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/redis"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/resilience"
)

const keyPrefix = "rp:"

// Namespaces.
const (
	NamespaceSafety = "safety"
	NamespaceExpand = "expand"
)

// Store is the backing key-value store; *redis.Client satisfies it. Get
// reports an absent key with redis.ErrNotFound.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
	CountByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key addresses one cached value.
type Key struct {
	Namespace string
	Version   string
	ID        string
}

func (k Key) String() string {
	return keyPrefix + k.Namespace + ":" + k.Version + ":" + k.ID
}

// SafetyKey addresses the classification of one record under one keyword
// set version.
func SafetyKey(keywordVersion, recordHash string) Key {
	return Key{Namespace: NamespaceSafety, Version: keywordVersion, ID: recordHash}
}

// ExpansionKey addresses the expansion of a query under one lexicon
// version. Word order is significant.
func ExpansionKey(lexiconVersion, query string, synonyms bool) Key {
	raw := fmt.Sprintf("%s|synonyms=%t", strings.Join(strings.Fields(strings.ToLower(query)), " "), synonyms)
	hash := sha256.Sum256([]byte(raw))
	return Key{Namespace: NamespaceExpand, Version: lexiconVersion, ID: fmt.Sprintf("%x", hash[:16])}
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits     int64  `json:"hits"`
	Misses   int64  `json:"misses"`
	Errors   int64  `json:"errors"`
	Bypassed int64  `json:"bypassed"`
	Breaker  string `json:"breaker"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics records lookups and breaker transitions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache is safe for concurrent use. A nil *Cache is a disabled cache:
// every lookup computes.
type Cache struct {
	store   Store
	ttl     time.Duration
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
}

// New wraps store. It returns nil when store is nil.
func New(store Store, cfg config.CacheConfig, opts ...Option) *Cache {
	if store == nil {
		return nil
	}
	c := &Cache{
		store:   store,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		logger:  slog.Default().With("component", "result-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = resilience.NewCircuitBreaker("result-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			c.metrics.BreakerState(name, int(to))
		},
	})
	return c
}

// GetOrCompute returns the cached value for key or computes, stores and
// returns it. Concurrent misses on one key compute once. Store failures
// degrade to computing; only compute errors are returned.
func GetOrCompute[T any](ctx context.Context, c *Cache, key Key, compute func() (T, error)) (T, bool, error) {
	if c == nil {
		v, err := compute()
		return v, false, err
	}
	var cached T
	if c.get(ctx, key, &cached) {
		return cached, true, nil
	}
	val, err, _ := c.group.Do(key.String(), func() (any, error) {
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return val.(T), false, nil
}

func (c *Cache) get(ctx context.Context, key Key, v any) bool {
	var data *string
	err := c.breaker.Execute(func() error {
		d, err := resilience.Timeout(ctx, c.timeout, "cache get", func(ctx context.Context) (*string, error) {
			d, err := c.store.Get(ctx, key.String())
			if pkgredis.IsNilError(err) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return &d, nil
		})
		data = d
		return err
	})
	if err != nil {
		c.fail(key, "get", err)
		return false
	}
	if data == nil {
		c.misses.Add(1)
		c.metrics.Cache(key.Namespace, "miss")
		return false
	}
	if err := json.Unmarshal([]byte(*data), v); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key.String(), "error", err)
		c.misses.Add(1)
		c.metrics.Cache(key.Namespace, "miss")
		return false
	}
	c.hits.Add(1)
	c.metrics.Cache(key.Namespace, "hit")
	c.logger.Debug("cache hit", "key", key.String())
	return true
}

func (c *Cache) set(ctx context.Context, key Key, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key.String(), "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, c.timeout, "cache set", func(ctx context.Context) error {
			return c.store.Set(ctx, key.String(), data, c.ttl)
		})
	})
	if err != nil {
		c.fail(key, "set", err)
	}
}

func (c *Cache) fail(key Key, op string, err error) {
	c.errors.Add(1)
	c.metrics.Cache(key.Namespace, "error")
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Debug("cache bypassed", "op", op, "key", key.String())
		return
	}
	c.logger.Warn("cache "+op+" failed", "key", key.String(), "error", err)
}

// Invalidate deletes every entry of namespace, or of all namespaces when
// namespace is empty. A successful flush proves the store reachable and
// closes the breaker.
func (c *Cache) Invalidate(ctx context.Context, namespace string) (int64, error) {
	if c == nil {
		return 0, nil
	}
	deleted, err := c.store.FlushByPattern(ctx, pattern(namespace))
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.breaker.Reset()
	c.logger.Info("cache invalidate", "namespace", namespace, "keys_deleted", deleted)
	return deleted, nil
}

// Count returns the number of stored entries of namespace, or of all
// namespaces when namespace is empty.
func (c *Cache) Count(ctx context.Context, namespace string) (int64, error) {
	if c == nil {
		return 0, nil
	}
	n, err := c.store.CountByPattern(ctx, pattern(namespace))
	if err != nil {
		return n, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

func pattern(namespace string) string {
	if namespace == "" {
		return keyPrefix + "*"
	}
	return keyPrefix + namespace + ":*"
}

// Stats returns the cache counters.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{Breaker: "disabled"}
	}
	counts := c.breaker.Counts()
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Errors:   c.errors.Load(),
		Bypassed: counts.Rejected,
		Breaker:  counts.State.String(),
	}
}
