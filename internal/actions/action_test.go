package actions

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusRejected, true},
		{StatusConfirmed, StatusExecuted, true},
		{StatusConfirmed, StatusFailed, true},
		{StatusExecuted, StatusFailed, true},
		{StatusExecuted, StatusCancelled, true},
		{StatusPending, StatusExecuted, false},
		{StatusRejected, StatusConfirmed, false},
		{StatusCancelled, StatusExecuted, false},
		{StatusFailed, StatusConfirmed, false},
		{StatusConfirmed, StatusPending, false},
		{StatusConfirmed, StatusCancelled, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

// Walk random transition sequences from pending and check that rejected
// and cancelled are never left, and that an action is never executed
// without having been confirmed first.
func TestStatusGraphProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	all := AllStatuses()

	properties.Property("terminal states are absorbing and execution requires confirmation", prop.ForAll(
		func(steps []int) bool {
			current := StatusPending
			confirmed := false
			for _, s := range steps {
				next := all[s%len(all)]
				if !CanTransition(current, next) {
					continue
				}
				if current.Terminal() {
					return false
				}
				if next == StatusConfirmed {
					confirmed = true
				}
				if next == StatusExecuted && !confirmed {
					return false
				}
				current = next
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.Property("no transition re-enters pending", prop.ForAll(
		func(i int) bool {
			return !CanTransition(all[i%len(all)], StatusPending)
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusExecuted.Terminal())
}

func TestErrorMatching(t *testing.T) {
	err := ErrNotConfirmed.With(errors.New("status is pending"))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.True(t, errors.Is(err, ErrNotConfirmed))
	assert.False(t, errors.Is(err, ErrAlreadyResolved))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "Action not confirmed: status is pending", Message(err))

	wrapped := fmt.Errorf("execute: %w", NotFound("Action not found"))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, "Action not found", Message(wrapped))

	down := Downstream("pos call failed", errors.New("boom"))
	assert.True(t, errors.Is(down, ErrDownstream))
}

func TestConfirmationExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &ConfirmationRequest{}
	assert.False(t, c.Expired(now))

	at := now.Add(time.Minute)
	c.ExpiresAt = &at
	assert.False(t, c.Expired(now))
	assert.True(t, c.Expired(now.Add(time.Minute)))
}

func TestHistoryCanRollback(t *testing.T) {
	h := &HistoryEntry{}
	assert.False(t, h.CanRollback())

	h.RollbackData = map[string]any{"itemGuid": "g1"}
	assert.True(t, h.CanRollback())

	now := time.Now()
	h.RolledBackAt = &now
	assert.False(t, h.CanRollback())
}
