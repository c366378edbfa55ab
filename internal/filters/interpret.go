package filters

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/errors"
)

// Interpretation is what an interpreter made of a raw query: the free text
// to search for and the filters it lifted out, still unsanitised.
type Interpretation struct {
	Query   string         `json:"query"`
	Filters map[string]any `json:"filters,omitempty"`
}

// Interpreter turns a raw user query into an Interpretation.
type Interpreter interface {
	Interpret(ctx context.Context, raw string) (*Interpretation, error)
}

// InterpreterFunc adapts a function to Interpreter.
type InterpreterFunc func(ctx context.Context, raw string) (*Interpretation, error)

func (f InterpreterFunc) Interpret(ctx context.Context, raw string) (*Interpretation, error) {
	return f(ctx, raw)
}

// Result is the outcome of Interpret. On failure Interpretation is nil,
// Filters is empty and Err explains why; callers fall back to the literal
// query.
type Result struct {
	Interpretation *Interpretation `json:"interpretation"`
	Filters        QueryFilters    `json:"filters"`
	Err            error           `json:"-"`
}

// OK reports whether interpretation succeeded.
func (r Result) OK() bool {
	return r.Err == nil && r.Interpretation != nil
}

// QueryOr returns the interpreted free text, or fallback when
// interpretation failed or left no text.
func (r Result) QueryOr(fallback string) string {
	if r.OK() && r.Interpretation.Query != "" {
		return r.Interpretation.Query
	}
	return fallback
}

// Interpret runs interp over raw. Errors and panics raised by the
// interpreter are caught here and reported in Result.Err; the filters it
// returns are sanitised before they leave this function.
func Interpret(ctx context.Context, interp Interpreter, raw string) (res Result) {
	logger := slog.Default().With("component", "interpreter")
	defer func() {
		if p := recover(); p != nil {
			logger.Warn("interpreter panicked", "panic", p)
			res = Result{Err: fmt.Errorf("%w: panic: %v", apperrors.ErrInterpretation, p)}
		}
	}()

	if interp == nil {
		return Result{Err: fmt.Errorf("%w: no interpreter configured", apperrors.ErrInterpretation)}
	}
	if err := ctx.Err(); err != nil {
		return Result{Err: fmt.Errorf("%w: %w", apperrors.ErrInterpretation, err)}
	}

	in, err := interp.Interpret(ctx, raw)
	if err != nil {
		logger.Warn("interpreter failed", "error", err)
		return Result{Err: fmt.Errorf("%w: %w", apperrors.ErrInterpretation, err)}
	}
	if in == nil {
		return Result{Err: fmt.Errorf("%w: empty interpretation", apperrors.ErrInterpretation)}
	}
	return Result{Interpretation: in, Filters: SanitizeQueryFilters(in.Filters)}
}
