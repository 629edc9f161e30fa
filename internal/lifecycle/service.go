// Package lifecycle orchestrates the five action operations: create,
// confirm or reject, execute, roll back and list pending. Every exactly-once
// guarantee is a conditional write in the store; the service holds no locks.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/venuesync/backend/internal/actions"
	"github.com/venuesync/backend/internal/events"
	"github.com/venuesync/backend/internal/executor"
	"github.com/venuesync/backend/internal/gate"
	"github.com/venuesync/backend/internal/metrics"
	"github.com/venuesync/backend/internal/telemetry"
)

const (
	recentExecutionsLimit = 10
	failedActionsLimit    = 5
)

// Service runs the action lifecycle over a durable store.
type Service struct {
	store   actions.Store
	gate    *gate.Gate
	engine  *executor.Engine
	events  events.EventEmitter
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
	grace   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes lifecycle events to emitter.
func WithEvents(emitter events.EventEmitter) Option {
	return func(s *Service) { s.events = emitter }
}

// WithMetrics records lifecycle metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs replaces the uuid generator used for actions and rollback records.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithReconcileGrace sets how old an unfinished execution or rollback must
// be before Reconcile repairs it.
func WithReconcileGrace(d time.Duration) Option {
	return func(s *Service) { s.grace = d }
}

// New returns a Service. The gate must share store.
func New(store actions.Store, g *gate.Gate, engine *executor.Engine, opts ...Option) *Service {
	s := &Service{
		store:  store,
		gate:   g,
		engine: engine,
		events: events.NewEventBus(),
		tracer: telemetry.Tracer(),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		newID:  uuid.NewString,
		grace:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}
	return s
}

// ============================================================================
// CREATE
// ============================================================================

// CreateInput is a proposed action.
type CreateInput struct {
	Service          actions.Service
	ActionType       string
	VenueID          string
	Parameters       map[string]any
	Priority         actions.Priority
	CreatedBy        string
	Reason           string
	Confidence       *float64
	SkipConfirmation bool
}

// CreateOutcome is the stored action with its confirmation request.
type CreateOutcome struct {
	Action        *actions.Action
	Confirmation  *actions.ConfirmationRequest
	AutoConfirmed bool
}

// CreateAction validates a new pending action and stores it together with
// its confirmation request. With SkipConfirmation, a request that needs no
// approval is confirmed by the system straight away; as with Confirm, an
// action left pending by a failed status write is advanced by ExecuteAction.
func (s *Service) CreateAction(ctx context.Context, in CreateInput) (out *CreateOutcome, err error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.CreateAction", trace.WithAttributes(
		attribute.String("action.service", string(in.Service)),
		attribute.String("action.type", in.ActionType),
		attribute.String("venue.id", in.VenueID),
	))
	defer func() { s.end(span, "create", err) }()

	a, err := s.newAction(in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("action.id", a.ID))

	conf, err := s.gate.Generate(ctx, a)
	if err != nil {
		return nil, classify("Failed to generate confirmation", err)
	}
	if _, err := s.gate.StoreWithAction(ctx, a, conf); err != nil {
		return nil, classify("Failed to create action", err)
	}

	s.metrics.ActionsCreated.WithLabelValues(string(a.Service), a.ActionType).Inc()
	s.emit(events.ActionCreated, a, map[string]any{
		"actionType":       a.ActionType,
		"service":          a.Service,
		"confirmationId":   conf.ID,
		"requiresApproval": conf.RequiresApproval,
	})
	if conf.RequiresApproval {
		s.metrics.ApprovalRequired.WithLabelValues(string(a.Service)).Inc()
		s.emit(events.ActionApprovalRequired, a, map[string]any{
			"confirmationId": conf.ID,
			"reasons":        conf.ApprovalReasons,
			"riskLevel":      conf.EstimatedImpact.RiskLevel,
			"expiresAt":      conf.ExpiresAt,
		})
	}

	out = &CreateOutcome{Action: a, Confirmation: conf}
	if in.SkipConfirmation && !conf.RequiresApproval {
		confirmed, err := s.gate.Confirm(ctx, conf.ID, actions.CreatedBySystem, "Auto-confirmed")
		if err != nil {
			return nil, classify("Failed to auto-confirm action", err)
		}
		s.advance(ctx, confirmed, actions.StatusConfirmed)
		if confirmed.Action.Status == actions.StatusConfirmed {
			a.Status, a.UpdatedAt = actions.StatusConfirmed, *confirmed.ConfirmedAt
		}
		out.Confirmation, out.AutoConfirmed = confirmed, true
		s.metrics.ConfirmationsResolved.WithLabelValues("auto_confirmed").Inc()
		s.emit(events.ActionConfirmed, a, map[string]any{"confirmationId": conf.ID, "confirmedBy": actions.CreatedBySystem})
	}

	slog.Info("action created",
		"action_id", a.ID, "service", a.Service, "action_type", a.ActionType, "venue_id", a.VenueID,
		"requires_approval", conf.RequiresApproval, "auto_confirmed", out.AutoConfirmed)
	return out, nil
}

func (s *Service) newAction(in CreateInput) (*actions.Action, error) {
	if in.Service == "" || in.ActionType == "" || in.VenueID == "" {
		return nil, actions.Validation("Invalid action data: service, actionType and venueId are required")
	}
	if in.Priority == "" {
		in.Priority = actions.PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, actions.Validation("Invalid priority %q", in.Priority)
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return nil, actions.Validation("confidence must be between 0 and 1")
	}
	if in.CreatedBy == "" {
		in.CreatedBy = actions.CreatedByUser
	}

	now := s.now()
	a := &actions.Action{
		ID:         s.newID(),
		Service:    in.Service,
		ActionType: in.ActionType,
		VenueID:    in.VenueID,
		Parameters: in.Parameters,
		Priority:   in.Priority,
		Status:     actions.StatusPending,
		CreatedBy:  in.CreatedBy,
		Reason:     in.Reason,
		Confidence: in.Confidence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	reg := s.engine.Registry()
	if !reg.Supports(a.Service, a.ActionType) {
		return nil, actions.Validation("unsupported action %s/%s", a.Service, a.ActionType)
	}
	// Parameterless proposals are checked by the adapter at dispatch.
	if len(a.Parameters) > 0 {
		if err := reg.Validate(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// ============================================================================
// CONFIRM / REJECT
// ============================================================================

// Confirm approves a confirmation request and then advances its action to
// confirmed. The two writes are separate: a request can be confirmed while
// its action is still pending, and ExecuteAction repairs that.
func (s *Service) Confirm(ctx context.Context, confirmationID, userID, notes string) (c *actions.ConfirmationRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Confirm", trace.WithAttributes(attribute.String("confirmation.id", confirmationID)))
	defer func() { s.end(span, "confirm", err) }()

	c, err = s.gate.Confirm(ctx, confirmationID, userID, notes)
	if err != nil {
		return nil, classify("Failed to confirm action", err)
	}
	s.advance(ctx, c, actions.StatusConfirmed)
	s.metrics.ConfirmationsResolved.WithLabelValues("confirmed").Inc()
	s.emit(events.ActionConfirmed, &c.Action, map[string]any{"confirmationId": c.ID, "confirmedBy": userID})
	slog.Info("action confirmed", "action_id", c.ActionID, "confirmation_id", c.ID, "user_id", userID)
	return c, nil
}

// Reject declines a confirmation request and moves its action to rejected.
func (s *Service) Reject(ctx context.Context, confirmationID, userID, reason string) (c *actions.ConfirmationRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Reject", trace.WithAttributes(attribute.String("confirmation.id", confirmationID)))
	defer func() { s.end(span, "reject", err) }()

	c, err = s.gate.Reject(ctx, confirmationID, userID, reason)
	if err != nil {
		return nil, classify("Failed to reject action", err)
	}
	s.advance(ctx, c, actions.StatusRejected)
	s.metrics.ConfirmationsResolved.WithLabelValues("rejected").Inc()
	s.emit(events.ActionRejected, &c.Action, map[string]any{"confirmationId": c.ID, "rejectedBy": userID, "reason": reason})
	slog.Info("action rejected", "action_id", c.ActionID, "confirmation_id", c.ID, "user_id", userID)
	return c, nil
}

// advance moves the action of a resolved request out of pending. The
// request is already resolved, so a failure here is logged, not returned.
func (s *Service) advance(ctx context.Context, c *actions.ConfirmationRequest, to actions.Status) {
	err := s.store.TransitionAction(ctx, c.ActionID, actions.StatusPending, to)
	if err == nil {
		c.Action.Status = to
		return
	}
	slog.Warn("confirmation resolved but action status not advanced",
		"action_id", c.ActionID, "confirmation_id", c.ID, "to", to, "error", err)
}

// ============================================================================
// EXECUTE
// ============================================================================

// ExecuteInput selects the action to execute. ConfirmationID is optional.
type ExecuteInput struct {
	ActionID       string
	ConfirmationID string
}

// ExecuteResult is the outcome of a successful execution.
type ExecuteResult struct {
	ActionID          string         `json:"actionId"`
	Success           bool           `json:"success"`
	Result            map[string]any `json:"result"`
	ExecutedAt        time.Time      `json:"executedAt"`
	Duration          int64          `json:"duration"`
	RollbackAvailable bool           `json:"rollbackAvailable"`
}

// ExecuteAction dispatches a confirmed action exactly once. The execution
// is claimed in the store before the external call, so concurrent callers
// for the same action cannot both dispatch.
func (s *Service) ExecuteAction(ctx context.Context, in ExecuteInput) (res *ExecuteResult, err error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.ExecuteAction", trace.WithAttributes(
		attribute.String("action.id", in.ActionID),
		attribute.String("confirmation.id", in.ConfirmationID),
	))
	defer func() { s.end(span, "execute", err) }()

	if in.ActionID == "" {
		return nil, actions.Validation("Action ID is required")
	}
	a, err := s.store.GetAction(ctx, in.ActionID)
	if err != nil {
		return nil, classify("Failed to load action", err)
	}

	var confirmedBy string
	if in.ConfirmationID != "" {
		c, err := s.checkConfirmation(ctx, a, in.ConfirmationID)
		if err != nil {
			return nil, err
		}
		confirmedBy = c.ConfirmedBy
	}
	if err := executable(a); err != nil {
		return nil, err
	}

	rec := &actions.ExecutionRecord{ActionID: a.ID, ConfirmationID: in.ConfirmationID, ExecutedAt: s.now()}
	if err := s.store.ClaimExecution(ctx, rec); err != nil {
		return nil, classify("Failed to claim execution", err)
	}

	exec, dispatchErr := s.engine.Execute(ctx, a)
	// The side effect has happened or failed; record it even if the caller
	// has gone away.
	ctx = context.WithoutCancel(ctx)
	if dispatchErr != nil {
		return nil, s.recordFailure(ctx, a, rec, dispatchErr)
	}

	rec.State, rec.Success, rec.Result = actions.ExecutionSucceeded, true, exec.Result
	rec.ExecutedAt, rec.DurationMs = exec.ExecutedAt, exec.Duration.Milliseconds()
	s.metrics.Executions.WithLabelValues(string(a.Service), "succeeded").Inc()
	s.metrics.ObserveDispatch(string(a.Service), "execute", exec.Duration)

	if err := s.recordSuccess(ctx, a, rec, exec, confirmedBy); err != nil {
		slog.Error("action executed but not recorded",
			"action_id", a.ID, "service", a.Service, "action_type", a.ActionType, "error", err)
		return nil, classify("Action executed but recording failed", err)
	}

	s.emit(events.ActionExecuted, a, map[string]any{
		"executedAt":        exec.ExecutedAt,
		"durationMs":        rec.DurationMs,
		"rollbackAvailable": len(exec.RollbackData) > 0,
	})
	slog.Info("action executed",
		"action_id", a.ID, "service", a.Service, "action_type", a.ActionType, "duration_ms", rec.DurationMs)

	return &ExecuteResult{
		ActionID:          a.ID,
		Success:           true,
		Result:            exec.Result,
		ExecutedAt:        exec.ExecutedAt,
		Duration:          rec.DurationMs,
		RollbackAvailable: len(exec.RollbackData) > 0,
	}, nil
}

// checkConfirmation verifies that id is a confirmed request for a. If the
// request is confirmed but the action was never advanced, the action is
// moved to confirmed here.
func (s *Service) checkConfirmation(ctx context.Context, a *actions.Action, id string) (*actions.ConfirmationRequest, error) {
	c, err := s.gate.Get(ctx, id)
	if err != nil {
		return nil, classify("Failed to load confirmation", err)
	}
	if c.ActionID != a.ID {
		return nil, actions.NotFound("Confirmation not found")
	}
	if c.Status != actions.ConfirmationConfirmed {
		return nil, actions.ErrNotConfirmed.With(errors.New("confirmation is " + string(c.Status)))
	}
	if err := s.gate.CheckUsable(c, s.now()); err != nil {
		return nil, err
	}

	if a.Status == actions.StatusPending {
		err := s.store.TransitionAction(ctx, a.ID, actions.StatusPending, actions.StatusConfirmed)
		switch {
		case err == nil:
			a.Status = actions.StatusConfirmed
			slog.Info("repaired status of confirmed action", "action_id", a.ID, "confirmation_id", c.ID)
		case errors.Is(err, actions.ErrStatusMismatch):
			current, err := s.store.GetAction(ctx, a.ID)
			if err != nil {
				return nil, classify("Failed to load action", err)
			}
			*a = *current
		default:
			return nil, classify("Failed to confirm action", err)
		}
	}
	return c, nil
}

func executable(a *actions.Action) error {
	switch a.Status {
	case actions.StatusConfirmed:
		return nil
	case actions.StatusExecuted, actions.StatusCancelled, actions.StatusFailed:
		return actions.ErrAlreadyExecuted.With(errors.New("action is " + string(a.Status)))
	default:
		return actions.ErrNotConfirmed.With(errors.New("action is " + string(a.Status)))
	}
}

func (s *Service) recordFailure(ctx context.Context, a *actions.Action, rec *actions.ExecutionRecord, dispatchErr error) error {
	code := "EXECUTION_FAILED"
	var execErr *executor.ExecutionError
	if errors.As(dispatchErr, &execErr) {
		code = execErr.Code()
		rec.DurationMs = execErr.Duration.Milliseconds()
		s.metrics.ObserveDispatch(string(a.Service), "execute", execErr.Duration)
	}
	rec.State, rec.Success = actions.ExecutionFailed, false
	rec.Error = &actions.ExecutionFailure{Code: code, Message: dispatchErr.Error()}
	s.metrics.Executions.WithLabelValues(string(a.Service), "failed").Inc()

	slog.Error("action execution failed",
		"action_id", a.ID, "service", a.Service, "action_type", a.ActionType, "code", code, "error", dispatchErr)

	if err := s.store.CompleteExecution(ctx, rec); err != nil {
		slog.Error("failed execution not recorded", "action_id", a.ID, "error", err)
	}
	if err := s.store.TransitionAction(ctx, a.ID, actions.StatusConfirmed, actions.StatusFailed); err != nil {
		slog.Error("failed action status not updated", "action_id", a.ID, "error", err)
	} else {
		a.Status = actions.StatusFailed
	}
	s.emit(events.ActionFailed, a, map[string]any{"code": code, "message": dispatchErr.Error()})
	return actions.Downstream("Action execution failed", dispatchErr)
}

// recordSuccess completes the execution record, appends the history entry
// that enables rollback, and marks the action executed, in that order.
func (s *Service) recordSuccess(ctx context.Context, a *actions.Action, rec *actions.ExecutionRecord, exec *executor.Execution, confirmedBy string) error {
	if err := s.store.CompleteExecution(ctx, rec); err != nil {
		return err
	}
	snapshot := *a
	snapshot.Status = actions.StatusExecuted
	snapshot.UpdatedAt = s.now()
	if err := s.store.AppendHistory(ctx, &actions.HistoryEntry{
		ActionID:        a.ID,
		VenueID:         a.VenueID,
		Action:          snapshot,
		ExecutionResult: rec,
		RollbackData:    exec.RollbackData,
		ExecutedAt:      exec.ExecutedAt,
		ConfirmedBy:     confirmedBy,
	}); err != nil {
		return err
	}
	if err := s.store.TransitionAction(ctx, a.ID, actions.StatusConfirmed, actions.StatusExecuted); err != nil {
		return err
	}
	*a = snapshot
	return nil
}

// ============================================================================
// ROLLBACK
// ============================================================================

// RollbackInput selects the action to reverse.
type RollbackInput struct {
	ActionID string
	Reason   string
	UserID   string
}

// RollbackResult is the outcome of a successful rollback.
type RollbackResult struct {
	ActionID     string         `json:"actionId"`
	Success      bool           `json:"success"`
	Result       map[string]any `json:"result"`
	RolledBackAt time.Time      `json:"rolledBackAt"`
}

// RollbackAction reverses an executed action exactly once using the data
// captured at execution. The history entry is claimed before the inverse
// call and released if that call fails.
func (s *Service) RollbackAction(ctx context.Context, in RollbackInput) (res *RollbackResult, err error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.RollbackAction", trace.WithAttributes(attribute.String("action.id", in.ActionID)))
	defer func() { s.end(span, "rollback", err) }()

	if in.ActionID == "" || in.Reason == "" || in.UserID == "" {
		return nil, actions.Validation("Missing required fields: actionId, reason, userId")
	}

	h, err := s.store.GetHistory(ctx, in.ActionID)
	if err != nil {
		return nil, classify("Failed to load action history", err)
	}
	if len(h.RollbackData) == 0 {
		return nil, actions.ErrNoRollbackData
	}
	if h.RolledBackAt != nil {
		return nil, actions.ErrAlreadyRolledBack
	}

	a, err := s.store.GetAction(ctx, in.ActionID)
	if err != nil {
		return nil, classify("Failed to load action", err)
	}
	if a.Status != actions.StatusExecuted {
		return nil, actions.ErrInvalidTransition.With(errors.New("action is " + string(a.Status)))
	}

	claim := actions.RollbackClaim{Reason: in.Reason, Actor: in.UserID, At: s.now()}
	if err := s.store.ClaimRollback(ctx, a.ID, claim); err != nil {
		return nil, classify("Failed to claim rollback", err)
	}

	out, dispatchErr := s.engine.Rollback(ctx, a, h.RollbackData)
	ctx = context.WithoutCancel(ctx)
	if dispatchErr != nil {
		s.metrics.Rollbacks.WithLabelValues(string(a.Service), "failed").Inc()
		slog.Error("rollback failed",
			"action_id", a.ID, "service", a.Service, "action_type", a.ActionType, "error", dispatchErr)
		if err := s.store.ReleaseRollback(ctx, a.ID); err != nil {
			slog.Error("rollback claim not released", "action_id", a.ID, "error", err)
		}
		return nil, actions.Downstream("Rollback failed", dispatchErr)
	}
	s.metrics.Rollbacks.WithLabelValues(string(a.Service), "succeeded").Inc()
	s.metrics.ObserveDispatch(string(a.Service), "rollback", out.Duration)

	rec := &actions.RollbackRecord{
		ID:           s.newID(),
		ActionID:     a.ID,
		Reason:       in.Reason,
		RolledBackBy: in.UserID,
		Result:       out.Result,
		RolledBackAt: claim.At,
	}
	if err := s.store.CompleteRollback(ctx, rec); err != nil {
		slog.Error("rollback dispatched but not recorded, reconcile will cancel the action",
			"action_id", a.ID, "error", err)
		return nil, classify("Rollback succeeded but recording failed", err)
	}

	s.emit(events.ActionRolledBack, a, map[string]any{"reason": in.Reason, "rolledBackBy": in.UserID})
	slog.Info("action rolled back", "action_id", a.ID, "user_id", in.UserID, "reason", in.Reason)
	return &RollbackResult{ActionID: a.ID, Success: true, Result: out.Result, RolledBackAt: claim.At}, nil
}

// ============================================================================
// PENDING
// ============================================================================

// Summary counts the pending listing.
type Summary struct {
	PendingCount     int `json:"pendingCount"`
	RequiresApproval int `json:"requiresApproval"`
	ExpiringSoon     int `json:"expiringSoon"`
}

// PendingOverview is what an approver needs to triage a venue.
type PendingOverview struct {
	Pending          []gate.PendingConfirmation `json:"pending"`
	RecentExecutions []actions.HistoryEntry     `json:"recentExecutions"`
	FailedActions    []actions.Action           `json:"failedActions"`
	Summary          Summary                    `json:"summary"`
}

// Pending lists a venue's unresolved confirmations with its latest
// executions and failures.
func (s *Service) Pending(ctx context.Context, venueID string) (out *PendingOverview, err error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Pending", trace.WithAttributes(attribute.String("venue.id", venueID)))
	defer func() { s.end(span, "pending", err) }()

	if venueID == "" {
		return nil, actions.Validation("Venue ID is required")
	}
	pending, err := s.gate.Pending(ctx, venueID)
	if err != nil {
		return nil, classify("Failed to get pending actions", err)
	}
	recent, err := s.store.ListHistory(ctx, venueID, recentExecutionsLimit)
	if err != nil {
		return nil, classify("Failed to get recent executions", err)
	}
	failed, err := s.store.ListActions(ctx, actions.ActionFilter{VenueID: venueID, Status: actions.StatusFailed, Limit: failedActionsLimit})
	if err != nil {
		return nil, classify("Failed to get failed actions", err)
	}

	out = &PendingOverview{
		Pending:          pending,
		RecentExecutions: recent,
		FailedActions:    failed,
		Summary:          Summary{PendingCount: len(pending)},
	}
	if out.RecentExecutions == nil {
		out.RecentExecutions = []actions.HistoryEntry{}
	}
	if out.FailedActions == nil {
		out.FailedActions = []actions.Action{}
	}
	for _, p := range pending {
		if p.RequiresApproval {
			out.Summary.RequiresApproval++
		}
		if p.ExpiringSoon {
			out.Summary.ExpiringSoon++
		}
	}
	return out, nil
}

// ============================================================================
// HELPERS
// ============================================================================

// classify passes lifecycle errors through and wraps anything else as a
// downstream failure.
func classify(msg string, err error) error {
	var e *actions.Error
	if errors.As(err, &e) {
		return err
	}
	return actions.Downstream(msg, err)
}

func (s *Service) emit(eventType string, a *actions.Action, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["actionId"] = a.ID
	data["status"] = a.Status
	s.events.Emit(eventType, a.ID, a.VenueID, data)
}

func (s *Service) end(span trace.Span, op string, err error) {
	if err != nil {
		if errors.Is(err, actions.ErrConflict) {
			s.metrics.Conflicts.WithLabelValues(op).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, actions.Message(err))
	}
	span.End()
}
