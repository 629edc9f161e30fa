package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	supabase "github.com/supabase-community/supabase-go"

	"github.com/venuesync/backend/internal/actions"
)

// ============================================================================
// SUPABASE STORE - actions.Store over PostgREST
// ============================================================================

// SupabaseStore persists the lifecycle through the Supabase REST API. It uses
// the same tables as SQLStore. Conditional writes are PATCH requests filtered
// on the expected state with return=representation; an empty representation
// means the precondition did not hold. PostgREST has no multi-statement
// transactions, so CompleteRollback runs its two writes in sequence and
// relies on the reconcile pass to finish an interrupted rollback.
type SupabaseStore struct {
	client *supabase.Client
	now    func() time.Time
}

// NewSupabaseStore creates a store for the given project URL and service key.
func NewSupabaseStore(url, key string) (*SupabaseStore, error) {
	if url == "" || key == "" {
		return nil, fmt.Errorf("supabase url and service key must be set")
	}

	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	return &SupabaseStore{client: client, now: func() time.Time { return time.Now().UTC() }}, nil
}

// ============================================================================
// ROW MODELS
// ============================================================================

type actionRow struct {
	ID         string   `json:"id"`
	Service    string   `json:"service"`
	ActionType string   `json:"action_type"`
	VenueID    string   `json:"venue_id"`
	Parameters string   `json:"parameters"`
	Priority   string   `json:"priority"`
	Status     string   `json:"status"`
	CreatedBy  string   `json:"created_by"`
	Reason     *string  `json:"reason"`
	Confidence *float64 `json:"confidence"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
}

type confirmationRow struct {
	ID               string  `json:"id"`
	ActionID         string  `json:"action_id"`
	VenueID          string  `json:"venue_id"`
	ActionSnapshot   string  `json:"action_snapshot"`
	RequiresApproval bool    `json:"requires_approval"`
	ApprovalReasons  *string `json:"approval_reasons"`
	Status           string  `json:"status"`
	ExpiresAt        *int64  `json:"expires_at"`
	EstimatedImpact  string  `json:"estimated_impact"`
	Alternatives     *string `json:"alternatives"`
	ConfirmedBy      *string `json:"confirmed_by"`
	ConfirmedAt      *int64  `json:"confirmed_at"`
	Notes            *string `json:"notes"`
	RejectedBy       *string `json:"rejected_by"`
	RejectedAt       *int64  `json:"rejected_at"`
	RejectionReason  *string `json:"rejection_reason"`
	CreatedAt        int64   `json:"created_at"`
}

type executionRow struct {
	ActionID       string  `json:"action_id"`
	ConfirmationID *string `json:"confirmation_id"`
	State          string  `json:"state"`
	Success        bool    `json:"success"`
	Result         *string `json:"result,omitempty"`
	ErrorCode      *string `json:"error_code,omitempty"`
	ErrorMessage   *string `json:"error_message,omitempty"`
	ExecutedAt     int64   `json:"executed_at"`
	DurationMs     int64   `json:"duration_ms"`
}

type historyRow struct {
	ActionID        string  `json:"action_id"`
	VenueID         string  `json:"venue_id"`
	ActionSnapshot  string  `json:"action_snapshot"`
	ExecutionResult string  `json:"execution_result"`
	RollbackData    *string `json:"rollback_data"`
	ExecutedAt      int64   `json:"executed_at"`
	ConfirmedBy     *string `json:"confirmed_by"`
	RolledBackAt    *int64  `json:"rolled_back_at"`
	RollbackReason  *string `json:"rollback_reason"`
	RolledBackBy    *string `json:"rolled_back_by"`
}

type rollbackRow struct {
	ID             string  `json:"id"`
	ActionID       string  `json:"action_id"`
	Reason         string  `json:"reason"`
	RolledBackBy   string  `json:"rolled_back_by"`
	RollbackResult *string `json:"rollback_result"`
	RolledBackAt   int64   `json:"rolled_back_at"`
}

var newestFirst = &postgrest.OrderOpts{Ascending: false}
var oldestFirst = &postgrest.OrderOpts{Ascending: true}

// ============================================================================
// ACTIONS
// ============================================================================

func (s *SupabaseStore) InsertAction(ctx context.Context, a *actions.Action) error {
	params, err := marshalJSON(a.Parameters, "{}")
	if err != nil {
		return err
	}
	row := actionRow{
		ID: a.ID, Service: string(a.Service), ActionType: a.ActionType, VenueID: a.VenueID,
		Parameters: params, Priority: string(a.Priority), Status: string(a.Status), CreatedBy: a.CreatedBy,
		Reason: strPtr(a.Reason), Confidence: a.Confidence,
		CreatedAt: toMillis(a.CreatedAt), UpdatedAt: toMillis(a.UpdatedAt),
	}
	_, _, err = s.client.From("actions").
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		if isPostgrestUniqueViolation(err) {
			return &actions.Error{Kind: actions.ErrConflict, Msg: "Action already exists", Err: err}
		}
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

func (s *SupabaseStore) GetAction(ctx context.Context, id string) (*actions.Action, error) {
	var rows []actionRow
	_, err := s.client.From("actions").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	if len(rows) == 0 {
		return nil, actions.NotFound("Action not found")
	}
	return rows[0].toAction()
}

func (s *SupabaseStore) TransitionAction(ctx context.Context, id string, from, to actions.Status) error {
	if !actions.CanTransition(from, to) {
		return actions.ErrInvalidTransition.With(fmt.Errorf("%s -> %s", from, to))
	}
	var rows []actionRow
	_, err := s.client.From("actions").
		Update(map[string]any{"status": string(to), "updated_at": toMillis(s.now())}, "representation", "").
		Eq("id", id).
		Eq("status", string(from)).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to transition action: %w", err)
	}
	if len(rows) == 0 {
		current, err := s.GetAction(ctx, id)
		if err != nil {
			return err
		}
		return actions.ErrStatusMismatch.With(fmt.Errorf("status is %s, expected %s", current.Status, from))
	}
	return nil
}

func (s *SupabaseStore) ListActions(ctx context.Context, f actions.ActionFilter) ([]actions.Action, error) {
	query := s.client.From("actions").
		Select("*", "", false).
		Order("updated_at", newestFirst)
	if f.VenueID != "" {
		query = query.Eq("venue_id", f.VenueID)
	}
	if f.Status != "" {
		query = query.Eq("status", string(f.Status))
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit, "")
	}

	var rows []actionRow
	if _, err := query.ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	out := make([]actions.Action, 0, len(rows))
	for _, r := range rows {
		a, err := r.toAction()
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

func (r actionRow) toAction() (*actions.Action, error) {
	a := &actions.Action{
		ID: r.ID, Service: actions.Service(r.Service), ActionType: r.ActionType, VenueID: r.VenueID,
		Priority: actions.Priority(r.Priority), Status: actions.Status(r.Status), CreatedBy: r.CreatedBy,
		Reason: deref(r.Reason), Confidence: r.Confidence,
		CreatedAt: fromMillis(r.CreatedAt), UpdatedAt: fromMillis(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.Parameters), &a.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	return a, nil
}

// ============================================================================
// CONFIRMATIONS
// ============================================================================

func (s *SupabaseStore) InsertConfirmation(ctx context.Context, c *actions.ConfirmationRequest) error {
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
	row := confirmationRow{
		ID: c.ID, ActionID: c.ActionID, VenueID: c.VenueID, ActionSnapshot: snapshot,
		RequiresApproval: c.RequiresApproval, ApprovalReasons: &reasons, Status: string(c.Status),
		ExpiresAt: millisPtr(c.ExpiresAt), EstimatedImpact: impact, Alternatives: &alternatives,
		CreatedAt: toMillis(c.CreatedAt),
	}
	_, _, err = s.client.From("action_confirmations").
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		if isPostgrestUniqueViolation(err) {
			return &actions.Error{Kind: actions.ErrConflict, Msg: "Confirmation already exists", Err: err}
		}
		return fmt.Errorf("failed to insert confirmation: %w", err)
	}
	return nil
}

// InsertProposal stores a new action and its confirmation request.
// PostgREST has no multi-statement transaction, so a failed confirmation
// insert deletes the action again while it is still pending.
func (s *SupabaseStore) InsertProposal(ctx context.Context, a *actions.Action, c *actions.ConfirmationRequest) error {
	if err := s.InsertAction(ctx, a); err != nil {
		return err
	}
	err := s.InsertConfirmation(ctx, c)
	if err == nil {
		return nil
	}
	_, _, delErr := s.client.From("actions").
		Delete("minimal", "").
		Eq("id", a.ID).
		Eq("status", string(actions.StatusPending)).
		Execute()
	if delErr != nil {
		slog.Error("failed to remove action after confirmation insert failed",
			"action_id", a.ID, "error", delErr)
		return errors.Join(err, fmt.Errorf("failed to remove action: %w", delErr))
	}
	return err
}

func (s *SupabaseStore) GetConfirmation(ctx context.Context, id string) (*actions.ConfirmationRequest, error) {
	var rows []confirmationRow
	_, err := s.client.From("action_confirmations").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get confirmation: %w", err)
	}
	if len(rows) == 0 {
		return nil, actions.NotFound("Confirmation not found")
	}
	return rows[0].toConfirmation()
}

func (s *SupabaseStore) ResolveConfirmation(ctx context.Context, id string, r actions.Resolution) error {
	var patch map[string]any
	switch r.Status {
	case actions.ConfirmationConfirmed:
		patch = map[string]any{
			"status": string(r.Status), "confirmed_by": r.Actor, "confirmed_at": toMillis(r.At), "notes": strPtr(r.Notes),
		}
	case actions.ConfirmationRejected:
		patch = map[string]any{
			"status": string(r.Status), "rejected_by": r.Actor, "rejected_at": toMillis(r.At), "rejection_reason": r.Reason,
		}
	default:
		return actions.Validation("invalid resolution status %q", r.Status)
	}

	var rows []confirmationRow
	_, err := s.client.From("action_confirmations").
		Update(patch, "representation", "").
		Eq("id", id).
		Eq("status", string(actions.ConfirmationPending)).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to resolve confirmation: %w", err)
	}
	if len(rows) == 0 {
		if _, err := s.GetConfirmation(ctx, id); err != nil {
			return err
		}
		return actions.ErrAlreadyResolved
	}
	return nil
}

func (s *SupabaseStore) ListPendingConfirmations(ctx context.Context, venueID string) ([]actions.ConfirmationRequest, error) {
	var rows []confirmationRow
	_, err := s.client.From("action_confirmations").
		Select("*", "", false).
		Eq("venue_id", venueID).
		Eq("status", string(actions.ConfirmationPending)).
		Order("created_at", newestFirst).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending confirmations: %w", err)
	}
	out := make([]actions.ConfirmationRequest, 0, len(rows))
	for _, r := range rows {
		c, err := r.toConfirmation()
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r confirmationRow) toConfirmation() (*actions.ConfirmationRequest, error) {
	c := &actions.ConfirmationRequest{
		ID: r.ID, ActionID: r.ActionID, VenueID: r.VenueID, RequiresApproval: r.RequiresApproval,
		Status: actions.ConfirmationStatus(r.Status), ExpiresAt: millisTime(r.ExpiresAt),
		ConfirmedBy: deref(r.ConfirmedBy), ConfirmedAt: millisTime(r.ConfirmedAt), Notes: deref(r.Notes),
		RejectedBy: deref(r.RejectedBy), RejectedAt: millisTime(r.RejectedAt), RejectionReason: deref(r.RejectionReason),
		CreatedAt: fromMillis(r.CreatedAt),
	}
	if err := json.Unmarshal([]byte(r.ActionSnapshot), &c.Action); err != nil {
		return nil, fmt.Errorf("decode action snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(r.EstimatedImpact), &c.EstimatedImpact); err != nil {
		return nil, fmt.Errorf("decode impact: %w", err)
	}
	if r.ApprovalReasons != nil {
		if err := json.Unmarshal([]byte(*r.ApprovalReasons), &c.ApprovalReasons); err != nil {
			return nil, fmt.Errorf("decode approval reasons: %w", err)
		}
	}
	if r.Alternatives != nil {
		if err := json.Unmarshal([]byte(*r.Alternatives), &c.Alternatives); err != nil {
			return nil, fmt.Errorf("decode alternatives: %w", err)
		}
	}
	return c, nil
}

// ============================================================================
// EXECUTIONS
// ============================================================================

func (s *SupabaseStore) ClaimExecution(ctx context.Context, rec *actions.ExecutionRecord) error {
	row := executionRow{
		ActionID: rec.ActionID, ConfirmationID: strPtr(rec.ConfirmationID),
		State: string(actions.ExecutionRunning), ExecutedAt: toMillis(rec.ExecutedAt),
	}
	_, _, err := s.client.From("action_executions").
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		if isPostgrestUniqueViolation(err) {
			return actions.ErrAlreadyExecuted
		}
		return fmt.Errorf("failed to claim execution: %w", err)
	}
	rec.State = actions.ExecutionRunning
	return nil
}

func (s *SupabaseStore) CompleteExecution(ctx context.Context, rec *actions.ExecutionRecord) error {
	result, err := marshalNullJSON(rec.Result)
	if err != nil {
		return err
	}
	patch := map[string]any{
		"state":        string(rec.State),
		"success":      rec.Success,
		"result":       nullableText(result.String, result.Valid),
		"duration_ms":  rec.DurationMs,
		"completed_at": toMillis(s.now()),
	}
	if rec.Error != nil {
		patch["error_code"] = rec.Error.Code
		patch["error_message"] = rec.Error.Message
	}

	var rows []executionRow
	_, err = s.client.From("action_executions").
		Update(patch, "representation", "").
		Eq("action_id", rec.ActionID).
		Eq("state", string(actions.ExecutionRunning)).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to complete execution: %w", err)
	}
	if len(rows) == 0 {
		return actions.ErrAlreadyExecuted.With(fmt.Errorf("no running execution for %s", rec.ActionID))
	}
	return nil
}

func (s *SupabaseStore) ListRunningExecutions(ctx context.Context, startedBefore time.Time, limit int) ([]actions.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []executionRow
	_, err := s.client.From("action_executions").
		Select("*", "", false).
		Eq("state", string(actions.ExecutionRunning)).
		Lt("executed_at", strconv.FormatInt(toMillis(startedBefore), 10)).
		Order("executed_at", oldestFirst).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list running executions: %w", err)
	}
	out := make([]actions.ExecutionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, actions.ExecutionRecord{
			ActionID:       r.ActionID,
			ConfirmationID: deref(r.ConfirmationID),
			State:          actions.ExecutionState(r.State),
			ExecutedAt:     fromMillis(r.ExecutedAt),
		})
	}
	return out, nil
}

// ============================================================================
// HISTORY & ROLLBACKS
// ============================================================================

func (s *SupabaseStore) AppendHistory(ctx context.Context, h *actions.HistoryEntry) error {
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
	row := historyRow{
		ActionID: h.ActionID, VenueID: h.VenueID, ActionSnapshot: snapshot, ExecutionResult: result,
		ExecutedAt: toMillis(h.ExecutedAt), ConfirmedBy: strPtr(h.ConfirmedBy),
	}
	if rollback.Valid {
		row.RollbackData = &rollback.String
	}
	_, _, err = s.client.From("action_history").
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		if isPostgrestUniqueViolation(err) {
			return actions.ErrAlreadyExecuted
		}
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *SupabaseStore) GetHistory(ctx context.Context, actionID string) (*actions.HistoryEntry, error) {
	var rows []historyRow
	_, err := s.client.From("action_history").
		Select("*", "", false).
		Eq("action_id", actionID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	if len(rows) == 0 {
		return nil, actions.NotFound("Action history not found")
	}
	return rows[0].toHistory()
}

func (s *SupabaseStore) ListHistory(ctx context.Context, venueID string, limit int) ([]actions.HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []historyRow
	_, err := s.client.From("action_history").
		Select("*", "", false).
		Eq("venue_id", venueID).
		Order("executed_at", newestFirst).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return historyRows(rows)
}

func (s *SupabaseStore) ClaimRollback(ctx context.Context, actionID string, c actions.RollbackClaim) error {
	var rows []historyRow
	_, err := s.client.From("action_history").
		Update(map[string]any{
			"rolled_back_at":  toMillis(c.At),
			"rollback_reason": c.Reason,
			"rolled_back_by":  c.Actor,
		}, "representation", "").
		Eq("action_id", actionID).
		Is("rolled_back_at", "null").
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to claim rollback: %w", err)
	}
	if len(rows) == 0 {
		if _, err := s.GetHistory(ctx, actionID); err != nil {
			return err
		}
		return actions.ErrAlreadyRolledBack
	}
	return nil
}

func (s *SupabaseStore) ReleaseRollback(ctx context.Context, actionID string) error {
	_, _, err := s.client.From("action_history").
		Update(map[string]any{"rolled_back_at": nil, "rollback_reason": nil, "rolled_back_by": nil}, "minimal", "").
		Eq("action_id", actionID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to release rollback: %w", err)
	}
	return nil
}

func (s *SupabaseStore) CompleteRollback(ctx context.Context, rec *actions.RollbackRecord) error {
	var rows []actionRow
	_, err := s.client.From("actions").
		Update(map[string]any{
			"status":     string(actions.StatusCancelled),
			"updated_at": toMillis(rec.RolledBackAt),
		}, "representation", "").
		Eq("id", rec.ActionID).
		Eq("status", string(actions.StatusExecuted)).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to cancel action: %w", err)
	}
	if len(rows) == 0 {
		return actions.ErrStatusMismatch.With(fmt.Errorf("action %s is not executed", rec.ActionID))
	}

	result, err := marshalNullJSON(rec.Result)
	if err != nil {
		return err
	}
	row := rollbackRow{
		ID: rec.ID, ActionID: rec.ActionID, Reason: rec.Reason, RolledBackBy: rec.RolledBackBy,
		RolledBackAt: toMillis(rec.RolledBackAt),
	}
	if result.Valid {
		row.RollbackResult = &result.String
	}
	if _, _, err := s.client.From("action_rollbacks").
		Insert(row, false, "", "minimal", "").
		Execute(); err != nil {
		return fmt.Errorf("failed to insert rollback record: %w", err)
	}
	return nil
}

func (s *SupabaseStore) ListRolledBackUncancelled(ctx context.Context, limit int) ([]actions.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []historyRow
	_, err := s.client.From("action_history").
		Select("*", "", false).
		Not("rolled_back_at", "is", "null").
		Order("rolled_back_at", oldestFirst).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list rolled back history: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ActionID)
	}
	var cancelled []actionRow
	_, err = s.client.From("actions").
		Select("id,status", "", false).
		In("id", ids).
		Eq("status", string(actions.StatusCancelled)).
		ExecuteTo(&cancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to load action statuses: %w", err)
	}
	done := make(map[string]bool, len(cancelled))
	for _, a := range cancelled {
		done[a.ID] = true
	}

	var pending []historyRow
	for _, r := range rows {
		if !done[r.ActionID] {
			pending = append(pending, r)
		}
		if len(pending) == limit {
			break
		}
	}
	return historyRows(pending)
}

func historyRows(rows []historyRow) ([]actions.HistoryEntry, error) {
	out := make([]actions.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		h, err := r.toHistory()
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, nil
}

func (r historyRow) toHistory() (*actions.HistoryEntry, error) {
	h := &actions.HistoryEntry{
		ActionID: r.ActionID, VenueID: r.VenueID, ExecutedAt: fromMillis(r.ExecutedAt),
		ConfirmedBy: deref(r.ConfirmedBy), RolledBackAt: millisTime(r.RolledBackAt),
		RollbackReason: deref(r.RollbackReason), RolledBackBy: deref(r.RolledBackBy),
	}
	if err := json.Unmarshal([]byte(r.ActionSnapshot), &h.Action); err != nil {
		return nil, fmt.Errorf("decode action snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(r.ExecutionResult), &h.ExecutionResult); err != nil {
		return nil, fmt.Errorf("decode execution result: %w", err)
	}
	if r.RollbackData != nil && *r.RollbackData != "" {
		if err := json.Unmarshal([]byte(*r.RollbackData), &h.RollbackData); err != nil {
			return nil, fmt.Errorf("decode rollback data: %w", err)
		}
	}
	return h, nil
}

// Ping issues a cheap read to verify the REST endpoint and key.
func (s *SupabaseStore) Ping(ctx context.Context) error {
	var rows []actionRow
	_, err := s.client.From("actions").
		Select("id", "", false).
		Limit(1, "").
		ExecuteTo(&rows)
	return err
}

// Close is a no-op; the REST client holds no connections that need release.
func (s *SupabaseStore) Close() error { return nil }

// ============================================================================
// HELPERS
// ============================================================================

// PostgREST reports database errors as "(<sqlstate>) <message>".
func isPostgrestUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := toMillis(*t)
	return &v
}

func millisTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := fromMillis(*v)
	return &t
}

func nullableText(s string, valid bool) any {
	if !valid {
		return nil
	}
	return s
}

var _ actions.Store = (*SupabaseStore)(nil)
