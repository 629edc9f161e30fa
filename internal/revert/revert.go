// Package revert undoes the completed steps of a multi-step side effect
// when a later step fails.
package revert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// UndoFunc reverses one completed step.
type UndoFunc func(ctx context.Context) error

// Stack holds undo steps for one action, run last-in first-out.
type Stack struct {
	ActionID string
	ops      []step
}

type step struct {
	name string
	undo UndoFunc
}

// NewStack returns an empty stack for actionID.
func NewStack(actionID string) *Stack {
	return &Stack{ActionID: actionID}
}

// Push records the undo for a step that has just succeeded.
func (s *Stack) Push(name string, undo UndoFunc) {
	s.ops = append(s.ops, step{name: name, undo: undo})
}

// Len returns the number of recorded steps.
func (s *Stack) Len() int { return len(s.ops) }

// Compensate runs every undo in reverse order. A failing undo does not stop
// the others; all failures are returned joined.
func (s *Stack) Compensate(ctx context.Context) error {
	if len(s.ops) == 0 {
		return nil
	}
	slog.Warn("compensating partially applied action", "action_id", s.ActionID, "steps", len(s.ops))

	var errs []error
	for i := len(s.ops) - 1; i >= 0; i-- {
		if err := s.ops[i].undo(ctx); err != nil {
			slog.Error("compensation step failed", "action_id", s.ActionID, "step", s.ops[i].name, "error", err)
			errs = append(errs, fmt.Errorf("undo %s: %w", s.ops[i].name, err))
		}
	}
	s.ops = nil
	return errors.Join(errs...)
}
