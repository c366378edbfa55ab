// Package health runs dependency checks concurrently and folds them into a
// single report. The CLI's doctor command prints it.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	defaultCheckTimeout = 3 * time.Second
	// abandonGrace is how long a check may run past its context deadline.
	abandonGrace = 100 * time.Millisecond
)

// Status represents the health state of a component or the system overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Check is a function that checks a single dependency and returns its status.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth holds the result of a single component check.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the aggregated result of all component checks.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Names returns the component names in sorted order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r.Components))
	for n := range r.Components {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Option configures a Checker.
type Option func(*Checker)

// WithCheckTimeout bounds every check. A check still running shortly after
// its deadline is abandoned and reports down. Zero disables the bound.
func WithCheckTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

// Checker manages registered health checks and runs them concurrently.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker creates an empty Checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		checks:  make(map[string]Check),
		timeout: defaultCheckTimeout,
		logger:  slog.Default().With("component", "health"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a named health check, replacing any check of that name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes all registered checks concurrently and returns an aggregated
// Report. The overall status is the worst status among all components.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			result := c.run(ctx, check)
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	for name, comp := range report.Components {
		if comp.Status.rank() > report.Status.rank() {
			report.Status = comp.Status
		}
		if comp.Status == StatusDown {
			c.logger.Warn("component down", "name", name, "message", comp.Message)
		}
	}
	return report
}

func (c *Checker) run(ctx context.Context, check Check) ComponentHealth {
	start := time.Now()
	if c.timeout <= 0 {
		result := check(ctx)
		result.Latency = time.Since(start).Round(time.Millisecond).String()
		return result
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	done := make(chan ComponentHealth, 1)
	go func() { done <- check(ctx) }()
	abandon := time.NewTimer(c.timeout + abandonGrace)
	defer abandon.Stop()
	var result ComponentHealth
	select {
	case result = <-done:
	case <-abandon.C:
		result = ComponentHealth{Status: StatusDown, Message: fmt.Sprintf("check abandoned after %v", c.timeout)}
	}
	result.Latency = time.Since(start).Round(time.Millisecond).String()
	return result
}

// Ping adapts a ping function to a Check that reports down on error.
func Ping(ping func(ctx context.Context) error) Check {
	return pinger(ping, StatusDown)
}

// Optional adapts a ping function to a Check that reports degraded on
// error, for dependencies the pipeline can run without.
func Optional(ping func(ctx context.Context) error) Check {
	return pinger(ping, StatusDegraded)
}

// Static reports a fixed status, for components that are not configured.
func Static(status Status, message string) Check {
	return func(context.Context) ComponentHealth {
		return ComponentHealth{Status: status, Message: message}
	}
}

// Table reports a loaded data table, down when it has no entries.
func Table(entries int, detail string) Check {
	return func(context.Context) ComponentHealth {
		if entries == 0 {
			return ComponentHealth{Status: StatusDown, Message: "empty table"}
		}
		return ComponentHealth{Status: StatusUp, Message: detail}
	}
}

func pinger(ping func(ctx context.Context) error, onError Status) Check {
	return func(ctx context.Context) ComponentHealth {
		err := ping(ctx)
		switch {
		case err == nil:
			return ComponentHealth{Status: StatusUp}
		case errors.Is(err, context.DeadlineExceeded):
			return ComponentHealth{Status: onError, Message: "timed out: " + err.Error()}
		default:
			return ComponentHealth{Status: onError, Message: err.Error()}
		}
	}
}
