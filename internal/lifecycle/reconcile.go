package lifecycle

import (
	"context"
	"errors"
	"log/slog"

	"github.com/venuesync/backend/internal/actions"
)

const reconcileBatch = 100

// ReconcileReport counts what a reconciliation pass repaired.
type ReconcileReport struct {
	RollbacksCompleted  int `json:"rollbacksCompleted"`
	ExecutionsAbandoned int `json:"executionsAbandoned"`
	Skipped             int `json:"skipped"`
}

// Reconcile repairs records left behind by a crash between writes:
//   - a history entry marked rolled back whose action is still executed is
//     cancelled and its rollback record written;
//   - an execution claimed but never completed is marked failed with code
//     EXECUTION_ABANDONED, and its action moved to failed.
//
// Only records older than the grace period are touched, so operations
// still in flight are left alone.
func (s *Service) Reconcile(ctx context.Context) (report ReconcileReport, err error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Reconcile")
	defer func() { s.end(span, "reconcile", err) }()

	cutoff := s.now().Add(-s.grace)

	rolled, err := s.store.ListRolledBackUncancelled(ctx, reconcileBatch)
	if err != nil {
		return report, classify("Failed to list rollbacks", err)
	}
	for _, h := range rolled {
		if h.RolledBackAt == nil || h.RolledBackAt.After(cutoff) {
			continue
		}
		a, err := s.store.GetAction(ctx, h.ActionID)
		if err != nil {
			return report, classify("Failed to load action", err)
		}
		if a.Status != actions.StatusExecuted {
			slog.Warn("rolled back action cannot be cancelled", "action_id", h.ActionID, "status", a.Status)
			report.Skipped++
			continue
		}
		rec := &actions.RollbackRecord{
			ID:           s.newID(),
			ActionID:     h.ActionID,
			Reason:       h.RollbackReason,
			RolledBackBy: h.RolledBackBy,
			Result:       map[string]any{"reconciled": true},
			RolledBackAt: *h.RolledBackAt,
		}
		if err := s.store.CompleteRollback(ctx, rec); err != nil {
			if errors.Is(err, actions.ErrConflict) {
				report.Skipped++
				continue
			}
			return report, classify("Failed to complete rollback", err)
		}
		report.RollbacksCompleted++
		s.metrics.Reconciled.WithLabelValues("rollback").Inc()
		slog.Warn("rollback gap repaired", "action_id", h.ActionID, "rolled_back_at", *h.RolledBackAt)
	}

	running, err := s.store.ListRunningExecutions(ctx, cutoff, reconcileBatch)
	if err != nil {
		return report, classify("Failed to list running executions", err)
	}
	for _, rec := range running {
		rec.State, rec.Success = actions.ExecutionFailed, false
		rec.Error = &actions.ExecutionFailure{
			Code:    "EXECUTION_ABANDONED",
			Message: "execution did not complete; the external outcome is unknown",
		}
		if err := s.store.CompleteExecution(ctx, &rec); err != nil {
			if errors.Is(err, actions.ErrConflict) {
				report.Skipped++
				continue
			}
			return report, classify("Failed to abandon execution", err)
		}
		if err := s.store.TransitionAction(ctx, rec.ActionID, actions.StatusConfirmed, actions.StatusFailed); err != nil {
			slog.Warn("abandoned execution action not failed", "action_id", rec.ActionID, "error", err)
		}
		report.ExecutionsAbandoned++
		s.metrics.Reconciled.WithLabelValues("abandoned_execution").Inc()
		slog.Warn("abandoned execution marked failed", "action_id", rec.ActionID, "started_at", rec.ExecutedAt)
	}

	slog.Info("reconcile finished",
		"rollbacks_completed", report.RollbacksCompleted,
		"executions_abandoned", report.ExecutionsAbandoned,
		"skipped", report.Skipped)
	return report, nil
}
