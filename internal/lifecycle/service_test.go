package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuesync/backend/internal/actions"
	"github.com/venuesync/backend/internal/database"
	"github.com/venuesync/backend/internal/events"
	"github.com/venuesync/backend/internal/executor"
	"github.com/venuesync/backend/internal/gate"
	"github.com/venuesync/backend/internal/metrics"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakePOS stands in for the POS connector. Rollback data is captured only
// when the action carries the current price.
type fakePOS struct {
	executions  atomic.Int32
	rollbacks   atomic.Int32
	executeErr  error
	rollbackErr atomic.Pointer[error]
}

func (f *fakePOS) Execute(_ context.Context, a *actions.Action) (executor.Outcome, error) {
	f.executions.Add(1)
	if f.executeErr != nil {
		return executor.Outcome{}, f.executeErr
	}
	out := executor.Outcome{Result: map[string]any{"itemGuid": a.Parameters["itemGuid"], "price": a.Parameters["newPrice"]}}
	if current, ok := a.Float("currentPrice"); ok {
		out.RollbackData = map[string]any{"itemGuid": a.Parameters["itemGuid"], "originalPrice": current}
	}
	return out, nil
}

func (f *fakePOS) Rollback(_ context.Context, _ *actions.Action, data map[string]any) (executor.Outcome, error) {
	f.rollbacks.Add(1)
	if errp := f.rollbackErr.Load(); errp != nil {
		return executor.Outcome{}, *errp
	}
	return executor.Outcome{Result: map[string]any{"restoredPrice": data["originalPrice"]}}, nil
}

const priceSchema = `{
  "type": "object",
  "required": ["itemGuid", "newPrice"],
  "properties": {"newPrice": {"type": "number", "minimum": 0}}
}`

type fixture struct {
	svc     *Service
	store   *database.SQLStore
	gate    *gate.Gate
	pos     *fakePOS
	bus     *events.EventBus
	feed    chan *events.CloudEvent
	clock   *clock
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, gateCfg gate.Config) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx, db))
	store := database.NewSQLStore(db)
	t.Cleanup(func() { _ = store.Close() })

	clk := &clock{t: time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)}
	var confSeq, idSeq atomic.Int64
	g := gate.New(store, nil, gateCfg,
		gate.WithClock(clk.Now),
		gate.WithIDs(func() string { return fmt.Sprintf("c-%d", confSeq.Add(1)) }),
	)

	pos := &fakePOS{}
	reg := executor.NewRegistry()
	require.NoError(t, reg.Register(actions.ServicePOS, "update_item_price", pos, priceSchema))
	require.NoError(t, reg.Register(actions.ServicePOS, "toggle_item_availability", pos, ""))

	bus := events.NewEventBus()
	m := metrics.New(prometheus.NewRegistry())
	svc := New(store, g, executor.NewEngine(reg, executor.WithClock(clk.Now)),
		WithEvents(bus),
		WithMetrics(m),
		WithClock(clk.Now),
		WithIDs(func() string { return fmt.Sprintf("a-%d", idSeq.Add(1)) }),
		WithReconcileGrace(time.Minute),
	)
	return &fixture{svc: svc, store: store, gate: g, pos: pos, bus: bus, feed: bus.Subscribe(), clock: clk, metrics: m}
}

func (f *fixture) eventTypes() []string {
	var out []string
	for {
		select {
		case ev := <-f.feed:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func lowRisk() CreateInput {
	return CreateInput{
		Service:    actions.ServicePOS,
		ActionType: "update_item_price",
		VenueID:    "venue-1",
		Parameters: map[string]any{"itemGuid": "item-1", "currentPrice": 10.0, "newPrice": 10.5},
	}
}

func highRisk() CreateInput {
	in := lowRisk()
	in.Parameters = map[string]any{"itemGuid": "item-1", "currentPrice": 10.0, "newPrice": 20.0}
	return in
}

// confirmed creates an action and confirms it through the service.
func (f *fixture) confirmed(t *testing.T, in CreateInput) *CreateOutcome {
	t.Helper()
	ctx := context.Background()
	out, err := f.svc.CreateAction(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, out.Confirmation.ID, "u1", "")
	require.NoError(t, err)
	return out
}

func (f *fixture) executed(t *testing.T, in CreateInput) *CreateOutcome {
	t.Helper()
	out := f.confirmed(t, in)
	_, err := f.svc.ExecuteAction(context.Background(), ExecuteInput{ActionID: out.Action.ID, ConfirmationID: out.Confirmation.ID})
	require.NoError(t, err)
	return out
}

func (f *fixture) status(t *testing.T, id string) actions.Status {
	t.Helper()
	a, err := f.store.GetAction(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

func (f *fixture) executionCount(t *testing.T, actionID string) int {
	t.Helper()
	var n int
	require.NoError(t, f.store.DB().QueryRow(`SELECT COUNT(*) FROM action_executions WHERE action_id = $1`, actionID).Scan(&n))
	return n
}

// ============================================================================
// CREATE
// ============================================================================

func TestCreateAction_Defaults(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())

	out, err := f.svc.CreateAction(context.Background(), lowRisk())
	require.NoError(t, err)

	a := out.Action
	assert.Equal(t, "a-1", a.ID)
	assert.Equal(t, actions.StatusPending, a.Status)
	assert.Equal(t, actions.PriorityMedium, a.Priority)
	assert.Equal(t, actions.CreatedByUser, a.CreatedBy)
	assert.Equal(t, f.clock.Now(), a.CreatedAt)
	assert.False(t, out.AutoConfirmed)

	stored, err := f.store.GetAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.VenueID, stored.VenueID)

	c, err := f.gate.Get(context.Background(), out.Confirmation.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.ActionID)
	assert.False(t, c.RequiresApproval)
	assert.Equal(t, actions.ConfirmationPending, c.Status)

	assert.Equal(t, []string{events.ActionCreated}, f.eventTypes())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActionsCreated.WithLabelValues("pos", "update_item_price")))
}

func TestCreateAction_Validation(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	confidence := 1.5

	tests := []struct {
		name    string
		mutate  func(*CreateInput)
		wantMsg string
	}{
		{"missing service", func(in *CreateInput) { in.Service = "" }, "Invalid action data"},
		{"missing type", func(in *CreateInput) { in.ActionType = "" }, "Invalid action data"},
		{"missing venue", func(in *CreateInput) { in.VenueID = "" }, "Invalid action data"},
		{"bad priority", func(in *CreateInput) { in.Priority = "urgent" }, "Invalid priority"},
		{"bad confidence", func(in *CreateInput) { in.Confidence = &confidence }, "confidence"},
		{"unsupported", func(in *CreateInput) { in.ActionType = "void_check" }, "unsupported action pos/void_check"},
		{"schema", func(in *CreateInput) { in.Parameters = map[string]any{"itemGuid": "x", "newPrice": -2} }, "/newPrice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := lowRisk()
			tt.mutate(&in)
			_, err := f.svc.CreateAction(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, actions.ErrValidation)
			assert.Contains(t, actions.Message(err), tt.wantMsg)
		})
	}

	all, err := f.store.ListActions(context.Background(), actions.ActionFilter{VenueID: "venue-1"})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateAction_NoParametersSkipsSchema(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	in := lowRisk()
	in.Parameters = nil

	out, err := f.svc.CreateAction(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, actions.StatusPending, out.Action.Status)
}

func TestCreateAction_SkipConfirmation(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()

	in := lowRisk()
	in.SkipConfirmation = true
	out, err := f.svc.CreateAction(ctx, in)
	require.NoError(t, err)
	assert.True(t, out.AutoConfirmed)
	assert.Equal(t, actions.StatusConfirmed, out.Action.Status)
	assert.Equal(t, actions.ConfirmationConfirmed, out.Confirmation.Status)
	assert.Equal(t, actions.CreatedBySystem, out.Confirmation.ConfirmedBy)
	assert.Equal(t, actions.StatusConfirmed, f.status(t, out.Action.ID))
	f.eventTypes()

	risky := highRisk()
	risky.SkipConfirmation = true
	out, err = f.svc.CreateAction(ctx, risky)
	require.NoError(t, err)
	assert.False(t, out.AutoConfirmed)
	assert.True(t, out.Confirmation.RequiresApproval)
	assert.Equal(t, actions.StatusPending, f.status(t, out.Action.ID))

	c, err := f.gate.Get(ctx, out.Confirmation.ID)
	require.NoError(t, err)
	assert.Equal(t, actions.ConfirmationPending, c.Status)
	assert.Equal(t, []string{events.ActionCreated, events.ActionApprovalRequired}, f.eventTypes())
}

func TestCreateAction_FailedConfirmationLeavesNoAction(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()

	// The gate's first request id is c-1; taking it makes the request
	// insert fail after the action row was written in the same call.
	require.NoError(t, f.store.InsertConfirmation(ctx, &actions.ConfirmationRequest{
		ID: "c-1", ActionID: "other", VenueID: "venue-9", Status: actions.ConfirmationPending, CreatedAt: f.clock.Now(),
	}))

	_, err := f.svc.CreateAction(ctx, lowRisk())
	require.Error(t, err)
	assert.ErrorIs(t, err, actions.ErrConflict)

	_, err = f.store.GetAction(ctx, "a-1")
	assert.ErrorIs(t, err, actions.ErrNotFound)
	listed, err := f.store.ListActions(ctx, actions.ActionFilter{VenueID: "venue-1"})
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.Empty(t, f.eventTypes())

	out, err := f.svc.CreateAction(ctx, lowRisk())
	require.NoError(t, err)
	assert.Equal(t, "a-2", out.Action.ID)
	assert.Equal(t, "c-2", out.Confirmation.ID)
}

// failingTransitions fails the next n action status writes.
type failingTransitions struct {
	actions.Store
	remaining atomic.Int32
}

func (s *failingTransitions) TransitionAction(ctx context.Context, id string, from, to actions.Status) error {
	if s.remaining.Add(-1) >= 0 {
		return errors.New("db down")
	}
	return s.Store.TransitionAction(ctx, id, from, to)
}

func TestCreateAction_AutoConfirmSurvivesStatusWriteFailure(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()
	flaky := &failingTransitions{Store: f.store}
	flaky.remaining.Store(1)
	svc := New(flaky, f.gate, f.svc.engine, WithClock(f.clock.Now))

	in := lowRisk()
	in.SkipConfirmation = true
	out, err := svc.CreateAction(ctx, in)
	require.NoError(t, err)
	assert.True(t, out.AutoConfirmed)
	assert.Equal(t, actions.ConfirmationConfirmed, out.Confirmation.Status)
	assert.Equal(t, actions.StatusPending, out.Action.Status)
	assert.Equal(t, actions.StatusPending, f.status(t, out.Action.ID))

	// The confirmed request lets execution finish the transition.
	res, err := svc.ExecuteAction(ctx, ExecuteInput{ActionID: out.Action.ID, ConfirmationID: out.Confirmation.ID})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, actions.StatusExecuted, f.status(t, out.Action.ID))
	assert.Equal(t, int32(1), f.pos.executions.Load())
}

// ============================================================================
// CONFIRM / REJECT
// ============================================================================

func TestConfirm_AdvancesActionOnce(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()
	out, err := f.svc.CreateAction(ctx, highRisk())
	require.NoError(t, err)

	c, err := f.svc.Confirm(ctx, out.Confirmation.ID, "u1", "looks right")
	require.NoError(t, err)
	assert.Equal(t, actions.ConfirmationConfirmed, c.Status)
	assert.Equal(t, "u1", c.ConfirmedBy)
	assert.Equal(t, "looks right", c.Notes)
	assert.Equal(t, actions.StatusConfirmed, f.status(t, out.Action.ID))

	_, err = f.svc.Confirm(ctx, out.Confirmation.ID, "u2", "")
	assert.ErrorIs(t, err, actions.ErrAlreadyResolved)
	_, err = f.svc.Reject(ctx, out.Confirmation.ID, "u2", "changed my mind")
	assert.ErrorIs(t, err, actions.ErrAlreadyResolved)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Conflicts.WithLabelValues("confirm"))+testutil.ToFloat64(f.metrics.Conflicts.WithLabelValues("reject")))
}

func TestReject(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()
	out, err := f.svc.CreateAction(ctx, highRisk())
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, out.Confirmation.ID, "u1", "")
	assert.ErrorIs(t, err, actions.ErrValidation)

	c, err := f.svc.Reject(ctx, out.Confirmation.ID, "u1", "too steep")
	require.NoError(t, err)
	assert.Equal(t, actions.ConfirmationRejected, c.Status)
	assert.Equal(t, "too steep", c.RejectionReason)
	assert.Equal(t, actions.StatusRejected, f.status(t, out.Action.ID))

	_, err = f.svc.Confirm(ctx, "missing", "u1", "")
	assert.ErrorIs(t, err, actions.ErrNotFound)
}

// ============================================================================
// EXECUTE
// ============================================================================

func TestExecuteAction_Success(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()
	out := f.confirmed(t, lowRisk())
	f.eventTypes()

	res, err := f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: out.Action.ID, ConfirmationID: out.Confirmation.ID})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.RollbackAvailable)
	assert.Equal(t, f.clock.Now(), res.ExecutedAt)
	assert.Equal(t, 10.5, res.Result["price"])
	assert.Equal(t, actions.StatusExecuted, f.status(t, out.Action.ID))

	h, err := f.store.GetHistory(ctx, out.Action.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", h.ConfirmedBy)
	assert.Equal(t, 10.0, h.RollbackData["originalPrice"])
	assert.Equal(t, actions.StatusExecuted, h.Action.Status)
	require.NotNil(t, h.ExecutionResult)
	assert.True(t, h.ExecutionResult.Success)

	assert.Equal(t, []string{events.ActionExecuted}, f.eventTypes())

	_, err = f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: out.Action.ID})
	assert.ErrorIs(t, err, actions.ErrAlreadyExecuted)
	assert.Equal(t, int32(1), f.pos.executions.Load())
}

func TestExecuteAction_RefusesUnconfirmed(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()

	pending, err := f.svc.CreateAction(ctx, highRisk())
	require.NoError(t, err)
	_, err = f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: pending.Action.ID, ConfirmationID: pending.Confirmation.ID})
	assert.ErrorIs(t, err, actions.ErrNotConfirmed)
	_, err = f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: pending.Action.ID})
	assert.ErrorIs(t, err, actions.ErrNotConfirmed)

	rejected, err := f.svc.CreateAction(ctx, highRisk())
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, rejected.Confirmation.ID, "u1", "no")
	require.NoError(t, err)
	_, err = f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: rejected.Action.ID, ConfirmationID: rejected.Confirmation.ID})
	assert.ErrorIs(t, err, actions.ErrNotConfirmed)

	assert.Zero(t, f.pos.executions.Load())
	assert.Zero(t, f.executionCount(t, pending.Action.ID))
	assert.Zero(t, f.executionCount(t, rejected.Action.ID))
}

func TestExecuteAction_NotFound(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()

	_, err := f.svc.ExecuteAction(ctx, ExecuteInput{})
	assert.ErrorIs(t, err, actions.ErrValidation)
	_, err = f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: "nope"})
	assert.ErrorIs(t, err, actions.ErrNotFound)

	first := f.confirmed(t, lowRisk())
	second := f.confirmed(t, lowRisk())
	_, err = f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: first.Action.ID, ConfirmationID: second.Confirmation.ID})
	assert.ErrorIs(t, err, actions.ErrNotFound)
	_, err = f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: first.Action.ID, ConfirmationID: "c-404"})
	assert.ErrorIs(t, err, actions.ErrNotFound)
	assert.Zero(t, f.pos.executions.Load())
}

func TestExecuteAction_RepairsActionStatus(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()
	out, err := f.svc.CreateAction(ctx, lowRisk())
	require.NoError(t, err)

	// Confirmed through the gate only: the action is still pending.
	_, err = f.gate.Confirm(ctx, out.Confirmation.ID, "u1", "")
	require.NoError(t, err)
	require.Equal(t, actions.StatusPending, f.status(t, out.Action.ID))

	_, err = f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: out.Action.ID})
	assert.ErrorIs(t, err, actions.ErrNotConfirmed)

	_, err = f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: out.Action.ID, ConfirmationID: out.Confirmation.ID})
	require.NoError(t, err)
	assert.Equal(t, actions.StatusExecuted, f.status(t, out.Action.ID))
}

func TestExecuteAction_EnforcedExpiry(t *testing.T) {
	cfg := gate.DefaultConfig()
	cfg.EnforceExpiry = true
	f := newFixture(t, cfg)
	ctx := context.Background()

	out := f.confirmed(t, highRisk())
	f.clock.Advance(16 * time.Minute)

	_, err := f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: out.Action.ID, ConfirmationID: out.Confirmation.ID})
	assert.ErrorIs(t, err, actions.ErrExpired)
	assert.Zero(t, f.pos.executions.Load())
}

func TestExecuteAction_ConcurrentCallsDispatchOnce(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	out := f.confirmed(t, lowRisk())

	const callers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ExecuteAction(context.Background(), ExecuteInput{ActionID: out.Action.ID, ConfirmationID: out.Confirmation.ID})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, actions.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(callers-1), conflicts.Load())
	assert.Equal(t, int32(1), f.pos.executions.Load())
	assert.Equal(t, 1, f.executionCount(t, out.Action.ID))
}

func TestExecuteAction_FailureMarksFailed(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	f.pos.executeErr = errors.New("pos unavailable")
	ctx := context.Background()
	out := f.confirmed(t, lowRisk())
	f.eventTypes()

	_, err := f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: out.Action.ID, ConfirmationID: out.Confirmation.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, actions.ErrDownstream)
	assert.Contains(t, actions.Message(err), "pos unavailable")
	assert.Equal(t, actions.StatusFailed, f.status(t, out.Action.ID))
	assert.Equal(t, []string{events.ActionFailed}, f.eventTypes())

	var state, code string
	require.NoError(t, f.store.DB().QueryRow(
		`SELECT state, error_code FROM action_executions WHERE action_id = $1`, out.Action.ID).Scan(&state, &code))
	assert.Equal(t, "failed", state)
	assert.Equal(t, "POS_API_ERROR", code)

	_, err = f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: out.Action.ID, ConfirmationID: out.Confirmation.ID})
	assert.ErrorIs(t, err, actions.ErrAlreadyExecuted)
	assert.Equal(t, int32(1), f.pos.executions.Load())

	_, err = f.store.GetHistory(ctx, out.Action.ID)
	assert.ErrorIs(t, err, actions.ErrNotFound)
}

// ============================================================================
// ROLLBACK
// ============================================================================

func TestRollbackAction_Preconditions(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()

	_, err := f.svc.RollbackAction(ctx, RollbackInput{ActionID: "a-1", Reason: "x"})
	assert.ErrorIs(t, err, actions.ErrValidation)

	_, err = f.svc.RollbackAction(ctx, RollbackInput{ActionID: "nope", Reason: "x", UserID: "u1"})
	assert.ErrorIs(t, err, actions.ErrNotFound)
	assert.Equal(t, "Action history not found", actions.Message(err))

	noData := lowRisk()
	noData.Parameters = map[string]any{"itemGuid": "item-1", "newPrice": 10.5}
	out := f.executed(t, noData)
	_, err = f.svc.RollbackAction(ctx, RollbackInput{ActionID: out.Action.ID, Reason: "x", UserID: "u1"})
	assert.ErrorIs(t, err, actions.ErrNoRollbackData)
	assert.Equal(t, "No rollback data available for this action", actions.Message(err))
	assert.Zero(t, f.pos.rollbacks.Load())
}

func TestRollbackAction_Once(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()
	out := f.executed(t, lowRisk())
	f.eventTypes()

	res, err := f.svc.RollbackAction(ctx, RollbackInput{ActionID: out.Action.ID, Reason: "price error", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 10.0, res.Result["restoredPrice"])
	assert.Equal(t, actions.StatusCancelled, f.status(t, out.Action.ID))
	assert.Equal(t, []string{events.ActionRolledBack}, f.eventTypes())

	h, err := f.store.GetHistory(ctx, out.Action.ID)
	require.NoError(t, err)
	require.NotNil(t, h.RolledBackAt)
	assert.Equal(t, "price error", h.RollbackReason)
	assert.Equal(t, "u1", h.RolledBackBy)

	records, err := f.store.ListRollbacks(ctx, out.Action.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "price error", records[0].Reason)

	_, err = f.svc.RollbackAction(ctx, RollbackInput{ActionID: out.Action.ID, Reason: "price error", UserID: "u1"})
	assert.ErrorIs(t, err, actions.ErrAlreadyRolledBack)
	assert.Equal(t, int32(1), f.pos.rollbacks.Load())
}

func TestRollbackAction_ConcurrentCallsDispatchOnce(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	out := f.executed(t, lowRisk())

	const callers = 6
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RollbackAction(context.Background(), RollbackInput{ActionID: out.Action.ID, Reason: "dup", UserID: "u1"})
			if err == nil {
				successes.Add(1)
				return
			}
			assert.ErrorIs(t, err, actions.ErrConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(1), f.pos.rollbacks.Load())
	assert.Equal(t, actions.StatusCancelled, f.status(t, out.Action.ID))
}

func TestRollbackAction_FailureReleasesClaim(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()
	out := f.executed(t, lowRisk())

	down := errors.New("pos timeout")
	f.pos.rollbackErr.Store(&down)
	_, err := f.svc.RollbackAction(ctx, RollbackInput{ActionID: out.Action.ID, Reason: "r", UserID: "u1"})
	assert.ErrorIs(t, err, actions.ErrDownstream)

	h, err := f.store.GetHistory(ctx, out.Action.ID)
	require.NoError(t, err)
	assert.Nil(t, h.RolledBackAt)
	assert.Equal(t, actions.StatusExecuted, f.status(t, out.Action.ID))

	f.pos.rollbackErr.Store(nil)
	_, err = f.svc.RollbackAction(ctx, RollbackInput{ActionID: out.Action.ID, Reason: "r", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.pos.rollbacks.Load())
}

// ============================================================================
// PENDING
// ============================================================================

func TestPending_Overview(t *testing.T) {
	f := newFixture(t, gate.DefaultConfig())
	ctx := context.Background()

	_, err := f.svc.Pending(ctx, "")
	assert.ErrorIs(t, err, actions.ErrValidation)

	empty, err := f.svc.Pending(ctx, "venue-1")
	require.NoError(t, err)
	assert.Empty(t, empty.Pending)
	assert.NotNil(t, empty.RecentExecutions)
	assert.NotNil(t, empty.FailedActions)

	_, err = f.svc.CreateAction(ctx, highRisk())
	require.NoError(t, err)
	_, err = f.svc.CreateAction(ctx, lowRisk())
	require.NoError(t, err)
	f.executed(t, lowRisk())

	f.pos.executeErr = errors.New("boom")
	failed := f.confirmed(t, lowRisk())
	_, err = f.svc.ExecuteAction(ctx, ExecuteInput{ActionID: failed.Action.ID})
	require.Error(t, err)

	other := lowRisk()
	other.VenueID = "venue-2"
	_, err = f.svc.CreateAction(ctx, other)
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	got, err := f.svc.Pending(ctx, "venue-1")
	require.NoError(t, err)
	assert.Equal(t, Summary{PendingCount: 2, RequiresApproval: 1, ExpiringSoon: 1}, got.Summary)
	require.Len(t, got.RecentExecutions, 1)
	require.Len(t, got.FailedActions, 1)
	assert.Equal(t, failed.Action.ID, got.FailedActions[0].ID)
}
