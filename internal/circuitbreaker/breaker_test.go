package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)}
	cfg.now = clk.now
	return New(cfg), clk
}

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestBreaker_CountsEachRequestOnce(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "pos", ReadyToTrip: ConsecutiveFailures(10)})
	ctx := context.Background()

	require.NoError(t, cb.Execute(ctx, ok))
	require.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	require.NoError(t, cb.Execute(ctx, ok))

	c := cb.Counts()
	assert.Equal(t, uint32(3), c.Requests)
	assert.Equal(t, uint32(2), c.TotalSuccesses)
	assert.Equal(t, uint32(1), c.TotalFailures)
	assert.InDelta(t, 1.0/3.0, c.FailureRatio(), 0.0001)
}

func TestBreaker_TripsAndRecovers(t *testing.T) {
	var changes []string
	cb, clk := newTestBreaker(Config{
		Name:        "eventbrite",
		Timeout:     10 * time.Second,
		ReadyToTrip: ConsecutiveFailures(3),
		OnStateChange: func(_ string, from, to State) {
			changes = append(changes, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "eventbrite")
	assert.False(t, called)

	clk.advance(10 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, changes)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(Config{Name: "opendate", Timeout: time.Second, ReadyToTrip: ConsecutiveFailures(1)})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.advance(time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb, clk := newTestBreaker(Config{Name: "pos", Timeout: time.Second, ReadyToTrip: ConsecutiveFailures(1)})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.advance(time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		return cb.Execute(ctx, ok)
	})
	assert.ErrorIs(t, err, ErrTooManyRequests)
}

func TestBreaker_IgnoresNonFailures(t *testing.T) {
	errBadRequest := errors.New("bad request")
	cb, _ := newTestBreaker(Config{
		Name:        "pos",
		ReadyToTrip: ConsecutiveFailures(1),
		IsFailure:   func(err error) bool { return !errors.Is(err, errBadRequest) },
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return errBadRequest }), errBadRequest)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().Requests)
}

func TestBreaker_IgnoresCancelledContext(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "pos", ReadyToTrip: ConsecutiveFailures(1)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_PanicCountsAsFailure(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "pos", ReadyToTrip: ConsecutiveFailures(1)})

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func(context.Context) error { panic("kaboom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_IntervalClearsCounts(t *testing.T) {
	cb, clk := newTestBreaker(Config{Name: "pos", Interval: time.Minute, ReadyToTrip: ConsecutiveFailures(2)})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.advance(time.Minute + time.Second)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().ConsecutiveFailures)
}

func TestDo(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "pos"})
	got, err := Do(context.Background(), cb, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestManager(t *testing.T) {
	m := NewManager(Config{ReadyToTrip: ConsecutiveFailures(1), Timeout: time.Hour})
	pos := m.Get("pos")
	assert.Same(t, pos, m.Get("pos"))
	m.Get("eventbrite")
	assert.True(t, m.Healthy())

	_ = pos.Execute(context.Background(), fail)
	assert.False(t, m.Healthy())

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "eventbrite", stats[0].Name)
	assert.Equal(t, "pos", stats[1].Name)
	assert.Equal(t, "open", stats[1].State)
}
