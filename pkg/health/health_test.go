package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }
func fail(context.Context) error { return errors.New("connection refused") }

func TestRunAllUp(t *testing.T) {
	c := NewChecker()
	c.Register("keywords", Ping(ok))
	c.Register("vocabulary", Static(StatusUp, "embedded"))

	r := c.Run(context.Background())
	assert.Equal(t, StatusUp, r.Status)
	assert.Equal(t, []string{"keywords", "vocabulary"}, r.Names())
	assert.Equal(t, "embedded", r.Components["vocabulary"].Message)
	assert.NotEmpty(t, r.Components["keywords"].Latency)
}

func TestRunDegraded(t *testing.T) {
	c := NewChecker()
	c.Register("keywords", Ping(ok))
	c.Register("redis", Optional(fail))

	r := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "connection refused", r.Components["redis"].Message)
}

func TestRunDownWins(t *testing.T) {
	c := NewChecker()
	c.Register("kafka", Optional(fail))
	c.Register("keywords", Ping(fail))
	c.Register("synonyms", Ping(ok))

	r := c.Run(context.Background())
	assert.Equal(t, StatusDown, r.Status)
	require.Len(t, r.Components, 3)
	assert.Equal(t, StatusDegraded, r.Components["kafka"].Status)
	assert.Equal(t, StatusDown, r.Components["keywords"].Status)
}

func TestRunEmpty(t *testing.T) {
	r := NewChecker().Run(context.Background())
	assert.Equal(t, StatusUp, r.Status)
	assert.Empty(t, r.Names())
}

func TestRunCheckTimeout(t *testing.T) {
	c := NewChecker(WithCheckTimeout(20 * time.Millisecond))
	c.Register("kafka", Optional(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	c.Register("stuck", func(ctx context.Context) ComponentHealth {
		time.Sleep(time.Second)
		return ComponentHealth{Status: StatusUp}
	})

	r := c.Run(context.Background())
	assert.Equal(t, StatusDown, r.Status)
	assert.Equal(t, StatusDegraded, r.Components["kafka"].Status)
	assert.Contains(t, r.Components["kafka"].Message, "timed out")
	assert.Equal(t, StatusDown, r.Components["stuck"].Status)
	assert.Contains(t, r.Components["stuck"].Message, "abandoned")
}

func TestTable(t *testing.T) {
	c := NewChecker()
	c.Register("keywords", Table(0, "0 phrases"))
	c.Register("synonyms", Table(12, "12 terms"))

	r := c.Run(context.Background())
	assert.Equal(t, StatusDown, r.Status)
	assert.Equal(t, "empty table", r.Components["keywords"].Message)
	assert.Equal(t, "12 terms", r.Components["synonyms"].Message)
}
