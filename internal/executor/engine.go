package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/venuesync/backend/internal/actions"
)

var (
	// ErrUnsupported is returned for a (service, actionType) pair with no
	// registered executor.
	ErrUnsupported = errors.New("unsupported action")
	// ErrMissingParameter is returned by adapters when a required parameter
	// is absent at dispatch time.
	ErrMissingParameter = errors.New("missing parameter")
	// ErrNotReversible is returned when rolling back an action that has no
	// inverse.
	ErrNotReversible = errors.New("action cannot be rolled back")
)

// Execution is the outcome of one dispatch.
type Execution struct {
	Result       map[string]any
	RollbackData map[string]any
	ExecutedAt   time.Time
	Duration     time.Duration
}

// ExecutionError is a failed dispatch.
type ExecutionError struct {
	Service    actions.Service
	ActionType string
	Op         string
	Err        error
	Duration   time.Duration
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Service, e.ActionType, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Code classifies the failure for the execution record, e.g.
// "POS_API_ERROR" or "MISSING_PARAMETER".
func (e *ExecutionError) Code() string {
	switch {
	case errors.Is(e.Err, ErrMissingParameter):
		return "MISSING_PARAMETER"
	case errors.Is(e.Err, ErrUnsupported):
		return "UNSUPPORTED_ACTION"
	case errors.Is(e.Err, ErrNotReversible):
		return "NOT_REVERSIBLE"
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "TIMEOUT"
	}
	return strings.ToUpper(string(e.Service)) + "_API_ERROR"
}

// Engine dispatches actions through a registry. It holds no state between
// calls and never retries.
type Engine struct {
	registry *Registry
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock replaces the clock used for execution timestamps and durations.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an engine over reg.
func NewEngine(reg *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: reg,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Execute performs the action's side effect.
func (e *Engine) Execute(ctx context.Context, a *actions.Action) (*Execution, error) {
	exec, ok := e.registry.Lookup(a.Service, a.ActionType)
	if !ok {
		return nil, &ExecutionError{Service: a.Service, ActionType: a.ActionType, Op: "execute", Err: ErrUnsupported}
	}
	return e.run(a, "execute", func() (Outcome, error) { return exec.Execute(ctx, a) })
}

// Rollback performs the inverse of a previous execution using the data it
// captured.
func (e *Engine) Rollback(ctx context.Context, a *actions.Action, rollbackData map[string]any) (*Execution, error) {
	exec, ok := e.registry.Lookup(a.Service, a.ActionType)
	if !ok {
		return nil, &ExecutionError{Service: a.Service, ActionType: a.ActionType, Op: "rollback", Err: ErrUnsupported}
	}
	if len(rollbackData) == 0 {
		return nil, &ExecutionError{Service: a.Service, ActionType: a.ActionType, Op: "rollback", Err: ErrNotReversible}
	}
	return e.run(a, "rollback", func() (Outcome, error) { return exec.Rollback(ctx, a, rollbackData) })
}

func (e *Engine) run(a *actions.Action, op string, fn func() (Outcome, error)) (*Execution, error) {
	start := e.now()
	out, err := fn()
	elapsed := e.now().Sub(start)
	if err != nil {
		return nil, &ExecutionError{Service: a.Service, ActionType: a.ActionType, Op: op, Err: err, Duration: elapsed}
	}
	if out.Result == nil {
		out.Result = map[string]any{}
	}
	return &Execution{
		Result:       out.Result,
		RollbackData: out.RollbackData,
		ExecutedAt:   start,
		Duration:     elapsed,
	}, nil
}
