package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrInvalidConfig, ExitConfig, "keywords file %s", "k.yaml")

	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Equal(t, "invalid configuration: keywords file k.yaml", err.Error())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"app error wins", New(ErrUnavailable, ExitUsage, "x"), ExitUsage},
		{"wrapped app error", fmt.Errorf("run: %w", New(ErrInternal, ExitConfig, "y")), ExitConfig},
		{"invalid input", fmt.Errorf("flag: %w", ErrInvalidInput), ExitUsage},
		{"invalid config", ErrInvalidConfig, ExitConfig},
		{"unavailable", fmt.Errorf("redis: %w", ErrUnavailable), ExitUnavailable},
		{"timeout", ErrTimeout, ExitUnavailable},
		{"archive", ErrArchive, ExitUnavailable},
		{"unknown", errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
