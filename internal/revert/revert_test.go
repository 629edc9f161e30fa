package revert

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStack_CompensateRunsInReverse(t *testing.T) {
	s := NewStack("a-1")
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		s.Push(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	require.Equal(t, 3, s.Len())

	require.NoError(t, s.Compensate(context.Background()))
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Equal(t, 0, s.Len())
}

func TestStack_CompensateContinuesPastFailures(t *testing.T) {
	s := NewStack("a-1")
	ran := 0
	s.Push("ok", func(context.Context) error { ran++; return nil })
	s.Push("broken", func(context.Context) error { ran++; return errors.New("tier locked") })

	err := s.Compensate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undo broken: tier locked")
	assert.Equal(t, 2, ran)
}

func TestStack_EmptyCompensate(t *testing.T) {
	assert.NoError(t, NewStack("a-1").Compensate(context.Background()))
}
