package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuesync/backend/internal/actions"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))
	store := NewSQLStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var testNow = time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)

func testAction(id string, status actions.Status) *actions.Action {
	return &actions.Action{
		ID:         id,
		Service:    actions.ServicePOS,
		ActionType: "update_item_price",
		VenueID:    "venue-1",
		Parameters: map[string]any{"itemGuid": "item-1", "newPrice": 12.5},
		Priority:   actions.PriorityMedium,
		Status:     status,
		CreatedBy:  actions.CreatedByUser,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
}

func TestSQLStore_ActionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testAction("a-1", actions.StatusPending)
	conf := 0.75
	a.Confidence = &conf
	a.Reason = "weekend pricing"
	require.NoError(t, store.InsertAction(ctx, a))

	got, err := store.GetAction(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, actions.ServicePOS, got.Service)
	assert.Equal(t, "update_item_price", got.ActionType)
	assert.Equal(t, 12.5, got.Parameters["newPrice"])
	assert.Equal(t, "weekend pricing", got.Reason)
	require.NotNil(t, got.Confidence)
	assert.Equal(t, 0.75, *got.Confidence)
	assert.True(t, testNow.Equal(got.CreatedAt))

	err = store.InsertAction(ctx, a)
	assert.True(t, errors.Is(err, actions.ErrConflict))

	_, err = store.GetAction(ctx, "missing")
	assert.True(t, errors.Is(err, actions.ErrNotFound))
}

func TestSQLStore_InsertProposal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	proposal := func(actionID, confID string) (*actions.Action, *actions.ConfirmationRequest) {
		a := testAction(actionID, actions.StatusPending)
		return a, &actions.ConfirmationRequest{
			ID: confID, ActionID: actionID, VenueID: a.VenueID, Action: *a,
			Status: actions.ConfirmationPending, CreatedAt: testNow,
		}
	}

	a, c := proposal("a-1", "c-1")
	require.NoError(t, store.InsertProposal(ctx, a, c))
	got, err := store.GetConfirmation(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "a-1", got.ActionID)

	// A request id that is already taken rolls the action insert back.
	a, c = proposal("a-2", "c-1")
	err = store.InsertProposal(ctx, a, c)
	assert.ErrorIs(t, err, actions.ErrConflict)
	_, err = store.GetAction(ctx, "a-2")
	assert.ErrorIs(t, err, actions.ErrNotFound)

	a, c = proposal("a-1", "c-3")
	err = store.InsertProposal(ctx, a, c)
	assert.ErrorIs(t, err, actions.ErrConflict)
	_, err = store.GetConfirmation(ctx, "c-3")
	assert.ErrorIs(t, err, actions.ErrNotFound)
}

func TestSQLStore_TransitionAction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertAction(ctx, testAction("a-1", actions.StatusPending)))

	require.NoError(t, store.TransitionAction(ctx, "a-1", actions.StatusPending, actions.StatusConfirmed))

	err := store.TransitionAction(ctx, "a-1", actions.StatusPending, actions.StatusRejected)
	assert.True(t, errors.Is(err, actions.ErrStatusMismatch))

	err = store.TransitionAction(ctx, "a-1", actions.StatusConfirmed, actions.StatusPending)
	assert.True(t, errors.Is(err, actions.ErrInvalidTransition))

	err = store.TransitionAction(ctx, "missing", actions.StatusPending, actions.StatusConfirmed)
	assert.True(t, errors.Is(err, actions.ErrNotFound))

	got, err := store.GetAction(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, actions.StatusConfirmed, got.Status)
}

func TestSQLStore_ListActions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a-1", "a-2", "a-3"} {
		a := testAction(id, actions.StatusFailed)
		a.UpdatedAt = testNow.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.InsertAction(ctx, a))
	}
	require.NoError(t, store.InsertAction(ctx, testAction("a-4", actions.StatusPending)))

	failed, err := store.ListActions(ctx, actions.ActionFilter{VenueID: "venue-1", Status: actions.StatusFailed, Limit: 2})
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "a-3", failed[0].ID)
	assert.Equal(t, "a-2", failed[1].ID)
}

func TestSQLStore_ResolveConfirmationOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expires := testNow.Add(15 * time.Minute)
	c := &actions.ConfirmationRequest{
		ID:               "c-1",
		ActionID:         "a-1",
		VenueID:          "venue-1",
		Action:           *testAction("a-1", actions.StatusPending),
		RequiresApproval: true,
		ApprovalReasons:  []string{"risk level is high"},
		Status:           actions.ConfirmationPending,
		ExpiresAt:        &expires,
		EstimatedImpact:  actions.Impact{RiskLevel: actions.RiskHigh, AffectedItems: []string{"item-1"}},
		CreatedAt:        testNow,
	}
	require.NoError(t, store.InsertConfirmation(ctx, c))

	err := store.ResolveConfirmation(ctx, "c-1", actions.Resolution{
		Status: actions.ConfirmationConfirmed, Actor: "manager-1", Notes: "ok", At: testNow,
	})
	require.NoError(t, err)

	err = store.ResolveConfirmation(ctx, "c-1", actions.Resolution{
		Status: actions.ConfirmationRejected, Actor: "manager-2", Reason: "no", At: testNow,
	})
	assert.True(t, errors.Is(err, actions.ErrAlreadyResolved))

	err = store.ResolveConfirmation(ctx, "missing", actions.Resolution{Status: actions.ConfirmationConfirmed, Actor: "x", At: testNow})
	assert.True(t, errors.Is(err, actions.ErrNotFound))

	got, err := store.GetConfirmation(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, actions.ConfirmationConfirmed, got.Status)
	assert.Equal(t, "manager-1", got.ConfirmedBy)
	assert.Equal(t, "ok", got.Notes)
	assert.Empty(t, got.RejectedBy)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))
	assert.Equal(t, actions.RiskHigh, got.EstimatedImpact.RiskLevel)
	assert.Equal(t, []string{"risk level is high"}, got.ApprovalReasons)
	assert.Equal(t, "item-1", got.Action.Parameters["itemGuid"])
}

func TestSQLStore_ListPendingConfirmations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"c-1", "c-2", "c-3"} {
		require.NoError(t, store.InsertConfirmation(ctx, &actions.ConfirmationRequest{
			ID: id, ActionID: "a-" + id, VenueID: "venue-1",
			Status:    actions.ConfirmationPending,
			CreatedAt: testNow.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.ResolveConfirmation(ctx, "c-2", actions.Resolution{
		Status: actions.ConfirmationRejected, Actor: "m", Reason: "too risky", At: testNow,
	}))

	pending, err := store.ListPendingConfirmations(ctx, "venue-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "c-3", pending[0].ID)
	assert.Equal(t, "c-1", pending[1].ID)

	other, err := store.ListPendingConfirmations(ctx, "venue-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLStore_ExecutionClaim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &actions.ExecutionRecord{ActionID: "a-1", ConfirmationID: "c-1", ExecutedAt: testNow}
	require.NoError(t, store.ClaimExecution(ctx, rec))
	assert.Equal(t, actions.ExecutionRunning, rec.State)

	err := store.ClaimExecution(ctx, &actions.ExecutionRecord{ActionID: "a-1", ExecutedAt: testNow})
	assert.True(t, errors.Is(err, actions.ErrAlreadyExecuted))

	running, err := store.ListRunningExecutions(ctx, testNow.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "c-1", running[0].ConfirmationID)

	rec.State = actions.ExecutionSucceeded
	rec.Success = true
	rec.Result = map[string]any{"ok": true}
	rec.DurationMs = 42
	require.NoError(t, store.CompleteExecution(ctx, rec))

	err = store.CompleteExecution(ctx, rec)
	assert.True(t, errors.Is(err, actions.ErrConflict))

	running, err = store.ListRunningExecutions(ctx, testNow.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestSQLStore_RollbackClaimAndComplete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertAction(ctx, testAction("a-1", actions.StatusExecuted)))
	h := &actions.HistoryEntry{
		ActionID:        "a-1",
		VenueID:         "venue-1",
		Action:          *testAction("a-1", actions.StatusExecuted),
		ExecutionResult: &actions.ExecutionRecord{ActionID: "a-1", Success: true, ExecutedAt: testNow},
		RollbackData:    map[string]any{"itemGuid": "item-1", "originalPrice": 10.0},
		ExecutedAt:      testNow,
		ConfirmedBy:     "manager-1",
	}
	require.NoError(t, store.AppendHistory(ctx, h))
	assert.True(t, errors.Is(store.AppendHistory(ctx, h), actions.ErrAlreadyExecuted))

	claim := actions.RollbackClaim{Reason: "customer complaints", Actor: "manager-1", At: testNow.Add(time.Hour)}
	require.NoError(t, store.ClaimRollback(ctx, "a-1", claim))
	assert.True(t, errors.Is(store.ClaimRollback(ctx, "a-1", claim), actions.ErrAlreadyRolledBack))
	assert.True(t, errors.Is(store.ClaimRollback(ctx, "missing", claim), actions.ErrNotFound))

	stuck, err := store.ListRolledBackUncancelled(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)

	require.NoError(t, store.ReleaseRollback(ctx, "a-1"))
	got, err := store.GetHistory(ctx, "a-1")
	require.NoError(t, err)
	assert.True(t, got.CanRollback())

	require.NoError(t, store.ClaimRollback(ctx, "a-1", claim))
	require.NoError(t, store.CompleteRollback(ctx, &actions.RollbackRecord{
		ID: "r-1", ActionID: "a-1", Reason: claim.Reason, RolledBackBy: claim.Actor,
		Result: map[string]any{"restored": true}, RolledBackAt: claim.At,
	}))

	a, err := store.GetAction(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, actions.StatusCancelled, a.Status)

	records, err := store.ListRollbacks(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, true, records[0].Result["restored"])

	got, err = store.GetHistory(ctx, "a-1")
	require.NoError(t, err)
	assert.False(t, got.CanRollback())
	assert.Equal(t, "customer complaints", got.RollbackReason)
	assert.Equal(t, 10.0, got.RollbackData["originalPrice"])

	stuck, err = store.ListRolledBackUncancelled(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	err = store.CompleteRollback(ctx, &actions.RollbackRecord{ID: "r-2", ActionID: "a-1", RolledBackAt: testNow})
	assert.True(t, errors.Is(err, actions.ErrStatusMismatch))
	records, err = store.ListRollbacks(ctx, "a-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSQLStore_ListHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a-1", "a-2", "a-3"} {
		require.NoError(t, store.AppendHistory(ctx, &actions.HistoryEntry{
			ActionID: id, VenueID: "venue-1", Action: *testAction(id, actions.StatusExecuted),
			ExecutedAt: testNow.Add(time.Duration(i) * time.Minute),
		}))
	}
	entries, err := store.ListHistory(ctx, "venue-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a-3", entries[0].ActionID)
	assert.Nil(t, entries[0].RollbackData)
}

func TestSQLStore_TransitionQueryShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)
	store.now = func() time.Time { return testNow }

	mock.ExpectExec(`UPDATE actions SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs("executed", testNow.UnixMilli(), "a-1", "confirmed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.TransitionAction(context.Background(), "a-1", actions.StatusConfirmed, actions.StatusExecuted))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ResolveConflictQueryShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)

	mock.ExpectExec(`UPDATE action_confirmations SET status = \$1, confirmed_by = \$2`).
		WithArgs("confirmed", "manager-1", testNow.UnixMilli(), sqlmock.AnyArg(), "c-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM action_confirmations WHERE id = \$1`).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "action_id", "venue_id", "action_snapshot", "requires_approval", "approval_reasons", "status", "expires_at",
			"estimated_impact", "alternatives", "confirmed_by", "confirmed_at", "notes", "rejected_by", "rejected_at",
			"rejection_reason", "created_at",
		}).AddRow("c-1", "a-1", "venue-1", "{}", false, nil, "rejected", nil,
			"{}", nil, nil, nil, nil, "manager-2", testNow.UnixMilli(), "no", testNow.UnixMilli()))

	err = store.ResolveConfirmation(context.Background(), "c-1", actions.Resolution{
		Status: actions.ConfirmationConfirmed, Actor: "manager-1", At: testNow,
	})
	assert.True(t, errors.Is(err, actions.ErrAlreadyResolved))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ClaimExecutionMapsPostgresUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)
	mock.ExpectExec(`INSERT INTO action_executions`).
		WillReturnError(pqUniqueViolation())

	err = store.ClaimExecution(context.Background(), &actions.ExecutionRecord{ActionID: "a-1", ExecutedAt: testNow})
	assert.True(t, errors.Is(err, actions.ErrAlreadyExecuted))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func pqUniqueViolation() error {
	return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

func TestConnect_SQLiteMigrates(t *testing.T) {
	ctx := context.Background()
	store, err := Connect(ctx, ConnectOptions{Driver: DriverSQLite, DSN: ":memory:", Migrate: true})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.InsertAction(ctx, testAction("a-connect", actions.StatusPending)))
	got, err := store.GetAction(ctx, "a-connect")
	require.NoError(t, err)
	assert.Equal(t, actions.StatusPending, got.Status)
}

func TestConnect_RejectsUnknownDriver(t *testing.T) {
	_, err := Connect(context.Background(), ConnectOptions{Driver: "mysql", DSN: "root@/actions"})
	assert.ErrorContains(t, err, `unsupported database driver "mysql"`)
}

func TestSQLStore_CountRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertAction(ctx, testAction("a-count", actions.StatusPending)))

	for _, table := range Tables {
		n, err := store.CountRows(ctx, table)
		require.NoError(t, err, table)
		if table == "actions" {
			assert.Equal(t, int64(1), n)
		} else {
			assert.Zero(t, n, table)
		}
	}

	_, err := store.CountRows(ctx, "actions; DROP TABLE actions")
	assert.ErrorContains(t, err, "unknown table")
}
