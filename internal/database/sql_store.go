package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/venuesync/backend/internal/actions"
)

// SQLStore implements actions.Store on database/sql. The same statements run
// on Postgres (lib/pq) and SQLite (modernc); placeholders are numbered in
// order of first appearance so both drivers bind them positionally.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

// ============================================================================
// ACTIONS
// ============================================================================

const actionColumns = `id, service, action_type, venue_id, parameters, priority, status, created_by, reason, confidence, created_at, updated_at`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) InsertAction(ctx context.Context, a *actions.Action) error {
	return insertAction(ctx, s.db, a)
}

func insertAction(ctx context.Context, db execer, a *actions.Action) error {
	params, err := marshalJSON(a.Parameters, "{}")
	if err != nil {
		return err
	}
	var confidence sql.NullFloat64
	if a.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *a.Confidence, Valid: true}
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO actions (`+actionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, string(a.Service), a.ActionType, a.VenueID, params, string(a.Priority), string(a.Status),
		a.CreatedBy, nullString(a.Reason), confidence, toMillis(a.CreatedAt), toMillis(a.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return &actions.Error{Kind: actions.ErrConflict, Msg: "Action already exists", Err: err}
		}
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAction(ctx context.Context, id string) (*actions.Action, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = $1`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, actions.NotFound("Action not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

func (s *SQLStore) TransitionAction(ctx context.Context, id string, from, to actions.Status) error {
	if !actions.CanTransition(from, to) {
		return actions.ErrInvalidTransition.With(fmt.Errorf("%s -> %s", from, to))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), toMillis(s.now()), id, string(from))
	if err != nil {
		return fmt.Errorf("transition action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition action: %w", err)
	}
	if n == 0 {
		current, err := s.GetAction(ctx, id)
		if err != nil {
			return err
		}
		return actions.ErrStatusMismatch.With(fmt.Errorf("status is %s, expected %s", current.Status, from))
	}
	return nil
}

func (s *SQLStore) ListActions(ctx context.Context, f actions.ActionFilter) ([]actions.Action, error) {
	var (
		where []string
		args  []any
	)
	if f.VenueID != "" {
		args = append(args, f.VenueID)
		where = append(where, fmt.Sprintf("venue_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	q := `SELECT ` + actionColumns + ` FROM actions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY updated_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []actions.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAction(sc scanner) (*actions.Action, error) {
	var (
		a                    actions.Action
		service, priority    string
		status, params       string
		reason               sql.NullString
		confidence           sql.NullFloat64
		createdAt, updatedAt int64
	)
	if err := sc.Scan(&a.ID, &service, &a.ActionType, &a.VenueID, &params, &priority, &status,
		&a.CreatedBy, &reason, &confidence, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.Service = actions.Service(service)
	a.Priority = actions.Priority(priority)
	a.Status = actions.Status(status)
	a.Reason = reason.String
	if confidence.Valid {
		c := confidence.Float64
		a.Confidence = &c
	}
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(params), &a.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	return &a, nil
}

// ============================================================================
// CONFIRMATIONS
// ============================================================================

const confirmationColumns = `id, action_id, venue_id, action_snapshot, requires_approval, approval_reasons, status, expires_at,
	estimated_impact, alternatives, confirmed_by, confirmed_at, notes, rejected_by, rejected_at, rejection_reason, created_at`

func (s *SQLStore) InsertConfirmation(ctx context.Context, c *actions.ConfirmationRequest) error {
	return insertConfirmation(ctx, s.db, c)
}

// InsertProposal stores a new action and its confirmation request in one
// transaction.
func (s *SQLStore) InsertProposal(ctx context.Context, a *actions.Action, c *actions.ConfirmationRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin proposal tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertAction(ctx, tx, a); err != nil {
		return err
	}
	if err := insertConfirmation(ctx, tx, c); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit proposal tx: %w", err)
	}
	return nil
}

func insertConfirmation(ctx context.Context, db execer, c *actions.ConfirmationRequest) error {
	snapshot, err := marshalJSON(c.Action, "{}")
	if err != nil {
		return err
	}
	impact, err := marshalJSON(c.EstimatedImpact, "{}")
	if err != nil {
		return err
	}
	reasons, err := marshalJSON(c.ApprovalReasons, "[]")
	if err != nil {
		return err
	}
	alternatives, err := marshalJSON(c.Alternatives, "[]")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO action_confirmations (`+confirmationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		c.ID, c.ActionID, c.VenueID, snapshot, c.RequiresApproval, reasons, string(c.Status), nullMillis(c.ExpiresAt),
		impact, alternatives, nullString(c.ConfirmedBy), nullMillis(c.ConfirmedAt), nullString(c.Notes),
		nullString(c.RejectedBy), nullMillis(c.RejectedAt), nullString(c.RejectionReason), toMillis(c.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return &actions.Error{Kind: actions.ErrConflict, Msg: "Confirmation already exists", Err: err}
		}
		return fmt.Errorf("insert confirmation: %w", err)
	}
	return nil
}

func (s *SQLStore) GetConfirmation(ctx context.Context, id string) (*actions.ConfirmationRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+confirmationColumns+` FROM action_confirmations WHERE id = $1`, id)
	c, err := scanConfirmation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, actions.NotFound("Confirmation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get confirmation: %w", err)
	}
	return c, nil
}

func (s *SQLStore) ResolveConfirmation(ctx context.Context, id string, r actions.Resolution) error {
	var (
		res sql.Result
		err error
	)
	switch r.Status {
	case actions.ConfirmationConfirmed:
		res, err = s.db.ExecContext(ctx,
			`UPDATE action_confirmations SET status = $1, confirmed_by = $2, confirmed_at = $3, notes = $4
			 WHERE id = $5 AND status = 'pending'`,
			string(r.Status), r.Actor, toMillis(r.At), nullString(r.Notes), id)
	case actions.ConfirmationRejected:
		res, err = s.db.ExecContext(ctx,
			`UPDATE action_confirmations SET status = $1, rejected_by = $2, rejected_at = $3, rejection_reason = $4
			 WHERE id = $5 AND status = 'pending'`,
			string(r.Status), r.Actor, toMillis(r.At), r.Reason, id)
	default:
		return actions.Validation("invalid resolution status %q", r.Status)
	}
	if err != nil {
		return fmt.Errorf("resolve confirmation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve confirmation: %w", err)
	}
	if n == 0 {
		if _, err := s.GetConfirmation(ctx, id); err != nil {
			return err
		}
		return actions.ErrAlreadyResolved
	}
	return nil
}

func (s *SQLStore) ListPendingConfirmations(ctx context.Context, venueID string) ([]actions.ConfirmationRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+confirmationColumns+` FROM action_confirmations
		 WHERE venue_id = $1 AND status = 'pending' ORDER BY created_at DESC`, venueID)
	if err != nil {
		return nil, fmt.Errorf("list pending confirmations: %w", err)
	}
	defer rows.Close()

	var out []actions.ConfirmationRequest
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan confirmation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanConfirmation(sc scanner) (*actions.ConfirmationRequest, error) {
	var (
		c                                        actions.ConfirmationRequest
		snapshot, status, impact                 string
		reasons, alternatives                    sql.NullString
		confirmedBy, notes, rejectedBy, rejected sql.NullString
		expiresAt, confirmedAt, rejectedAt       sql.NullInt64
		createdAt                                int64
	)
	if err := sc.Scan(&c.ID, &c.ActionID, &c.VenueID, &snapshot, &c.RequiresApproval, &reasons, &status, &expiresAt,
		&impact, &alternatives, &confirmedBy, &confirmedAt, &notes, &rejectedBy, &rejectedAt, &rejected, &createdAt); err != nil {
		return nil, err
	}
	c.Status = actions.ConfirmationStatus(status)
	c.ExpiresAt = timePtr(expiresAt)
	c.ConfirmedBy = confirmedBy.String
	c.ConfirmedAt = timePtr(confirmedAt)
	c.Notes = notes.String
	c.RejectedBy = rejectedBy.String
	c.RejectedAt = timePtr(rejectedAt)
	c.RejectionReason = rejected.String
	c.CreatedAt = fromMillis(createdAt)

	if err := json.Unmarshal([]byte(snapshot), &c.Action); err != nil {
		return nil, fmt.Errorf("decode action snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(impact), &c.EstimatedImpact); err != nil {
		return nil, fmt.Errorf("decode impact: %w", err)
	}
	if err := unmarshalNullJSON(reasons, &c.ApprovalReasons); err != nil {
		return nil, err
	}
	if err := unmarshalNullJSON(alternatives, &c.Alternatives); err != nil {
		return nil, err
	}
	return &c, nil
}

// ============================================================================
// EXECUTIONS
// ============================================================================

func (s *SQLStore) ClaimExecution(ctx context.Context, rec *actions.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_executions (action_id, confirmation_id, state, success, executed_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ActionID, nullString(rec.ConfirmationID), string(actions.ExecutionRunning), false, toMillis(rec.ExecutedAt), 0)
	if err != nil {
		if isUniqueViolation(err) {
			return actions.ErrAlreadyExecuted
		}
		return fmt.Errorf("claim execution: %w", err)
	}
	rec.State = actions.ExecutionRunning
	return nil
}

func (s *SQLStore) CompleteExecution(ctx context.Context, rec *actions.ExecutionRecord) error {
	result, err := marshalNullJSON(rec.Result)
	if err != nil {
		return err
	}
	var code, msg sql.NullString
	if rec.Error != nil {
		code = nullString(rec.Error.Code)
		msg = nullString(rec.Error.Message)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE action_executions SET state = $1, success = $2, result = $3, error_code = $4, error_message = $5,
		 duration_ms = $6, completed_at = $7 WHERE action_id = $8 AND state = 'running'`,
		string(rec.State), rec.Success, result, code, msg, rec.DurationMs, toMillis(s.now()), rec.ActionID)
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	if n == 0 {
		return actions.ErrAlreadyExecuted.With(fmt.Errorf("no running execution for %s", rec.ActionID))
	}
	return nil
}

func (s *SQLStore) ListRunningExecutions(ctx context.Context, startedBefore time.Time, limit int) ([]actions.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, confirmation_id, executed_at FROM action_executions
		 WHERE state = 'running' AND executed_at < $1 ORDER BY executed_at ASC LIMIT $2`,
		toMillis(startedBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("list running executions: %w", err)
	}
	defer rows.Close()

	var out []actions.ExecutionRecord
	for rows.Next() {
		var (
			rec     actions.ExecutionRecord
			confID  sql.NullString
			started int64
		)
		if err := rows.Scan(&rec.ActionID, &confID, &started); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.ConfirmationID = confID.String
		rec.State = actions.ExecutionRunning
		rec.ExecutedAt = fromMillis(started)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ============================================================================
// HISTORY & ROLLBACKS
// ============================================================================

const historyColumns = `action_id, venue_id, action_snapshot, execution_result, rollback_data, executed_at,
	confirmed_by, rolled_back_at, rollback_reason, rolled_back_by`

func (s *SQLStore) AppendHistory(ctx context.Context, h *actions.HistoryEntry) error {
	snapshot, err := marshalJSON(h.Action, "{}")
	if err != nil {
		return err
	}
	result, err := marshalJSON(h.ExecutionResult, "{}")
	if err != nil {
		return err
	}
	rollback, err := marshalNullJSON(h.RollbackData)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO action_history (`+historyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		h.ActionID, h.VenueID, snapshot, result, rollback, toMillis(h.ExecutedAt),
		nullString(h.ConfirmedBy), nullMillis(h.RolledBackAt), nullString(h.RollbackReason), nullString(h.RolledBackBy))
	if err != nil {
		if isUniqueViolation(err) {
			return actions.ErrAlreadyExecuted
		}
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *SQLStore) GetHistory(ctx context.Context, actionID string) (*actions.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM action_history WHERE action_id = $1`, actionID)
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, actions.NotFound("Action history not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return h, nil
}

func (s *SQLStore) ListHistory(ctx context.Context, venueID string, limit int) ([]actions.HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM action_history WHERE venue_id = $1 ORDER BY executed_at DESC LIMIT $2`,
		venueID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return collectHistory(rows)
}

func (s *SQLStore) ClaimRollback(ctx context.Context, actionID string, c actions.RollbackClaim) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE action_history SET rolled_back_at = $1, rollback_reason = $2, rolled_back_by = $3
		 WHERE action_id = $4 AND rolled_back_at IS NULL`,
		toMillis(c.At), c.Reason, c.Actor, actionID)
	if err != nil {
		return fmt.Errorf("claim rollback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim rollback: %w", err)
	}
	if n == 0 {
		if _, err := s.GetHistory(ctx, actionID); err != nil {
			return err
		}
		return actions.ErrAlreadyRolledBack
	}
	return nil
}

func (s *SQLStore) ReleaseRollback(ctx context.Context, actionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE action_history SET rolled_back_at = NULL, rollback_reason = NULL, rolled_back_by = NULL WHERE action_id = $1`,
		actionID)
	if err != nil {
		return fmt.Errorf("release rollback: %w", err)
	}
	return nil
}

func (s *SQLStore) CompleteRollback(ctx context.Context, rec *actions.RollbackRecord) error {
	result, err := marshalNullJSON(rec.Result)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollback tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE actions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(actions.StatusCancelled), toMillis(rec.RolledBackAt), rec.ActionID, string(actions.StatusExecuted))
	if err != nil {
		return fmt.Errorf("cancel action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel action: %w", err)
	}
	if n == 0 {
		return actions.ErrStatusMismatch.With(fmt.Errorf("action %s is not executed", rec.ActionID))
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO action_rollbacks (id, action_id, reason, rolled_back_by, rollback_result, rolled_back_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.ActionID, rec.Reason, rec.RolledBackBy, result, toMillis(rec.RolledBackAt)); err != nil {
		return fmt.Errorf("insert rollback record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback tx: %w", err)
	}
	return nil
}

func (s *SQLStore) ListRolledBackUncancelled(ctx context.Context, limit int) ([]actions.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT h.action_id, h.venue_id, h.action_snapshot, h.execution_result, h.rollback_data, h.executed_at,
		        h.confirmed_by, h.rolled_back_at, h.rollback_reason, h.rolled_back_by
		 FROM action_history h JOIN actions a ON a.id = h.action_id
		 WHERE h.rolled_back_at IS NOT NULL AND a.status <> $1
		 ORDER BY h.rolled_back_at ASC LIMIT $2`,
		string(actions.StatusCancelled), limit)
	if err != nil {
		return nil, fmt.Errorf("list uncancelled rollbacks: %w", err)
	}
	return collectHistory(rows)
}

// ListRollbacks returns the rollback records of an action, oldest first.
func (s *SQLStore) ListRollbacks(ctx context.Context, actionID string) ([]actions.RollbackRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action_id, reason, rolled_back_by, rollback_result, rolled_back_at
		 FROM action_rollbacks WHERE action_id = $1 ORDER BY rolled_back_at ASC`, actionID)
	if err != nil {
		return nil, fmt.Errorf("list rollbacks: %w", err)
	}
	defer rows.Close()

	var out []actions.RollbackRecord
	for rows.Next() {
		var (
			rec    actions.RollbackRecord
			result sql.NullString
			at     int64
		)
		if err := rows.Scan(&rec.ID, &rec.ActionID, &rec.Reason, &rec.RolledBackBy, &result, &at); err != nil {
			return nil, fmt.Errorf("scan rollback: %w", err)
		}
		if err := unmarshalNullJSON(result, &rec.Result); err != nil {
			return nil, err
		}
		rec.RolledBackAt = fromMillis(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func collectHistory(rows *sql.Rows) ([]actions.HistoryEntry, error) {
	defer rows.Close()
	var out []actions.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func scanHistory(sc scanner) (*actions.HistoryEntry, error) {
	var (
		h                                 actions.HistoryEntry
		snapshot, result                  string
		rollback                          sql.NullString
		confirmedBy, reason, rolledBackBy sql.NullString
		executedAt                        int64
		rolledBackAt                      sql.NullInt64
	)
	if err := sc.Scan(&h.ActionID, &h.VenueID, &snapshot, &result, &rollback, &executedAt,
		&confirmedBy, &rolledBackAt, &reason, &rolledBackBy); err != nil {
		return nil, err
	}
	h.ExecutedAt = fromMillis(executedAt)
	h.ConfirmedBy = confirmedBy.String
	h.RolledBackAt = timePtr(rolledBackAt)
	h.RollbackReason = reason.String
	h.RolledBackBy = rolledBackBy.String

	if err := json.Unmarshal([]byte(snapshot), &h.Action); err != nil {
		return nil, fmt.Errorf("decode action snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(result), &h.ExecutionResult); err != nil {
		return nil, fmt.Errorf("decode execution result: %w", err)
	}
	if err := unmarshalNullJSON(rollback, &h.RollbackData); err != nil {
		return nil, err
	}
	return &h, nil
}

// ============================================================================
// JSON COLUMNS
// ============================================================================

func marshalJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func marshalNullJSON(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode json column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalNullJSON(v sql.NullString, dst any) error {
	if !v.Valid || v.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(v.String), dst); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

var _ actions.Store = (*SQLStore)(nil)
