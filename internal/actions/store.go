package actions

import (
	"context"
	"time"
)

// ActionFilter selects actions for listing. Results are newest-updated first.
type ActionFilter struct {
	VenueID string
	Status  Status
	Limit   int
}

// ActionStore persists actions. TransitionAction is a conditional write: it
// succeeds only if the stored status equals from, and returns
// ErrInvalidTransition when the graph forbids from→to.
type ActionStore interface {
	InsertAction(ctx context.Context, a *Action) error
	GetAction(ctx context.Context, id string) (*Action, error)
	TransitionAction(ctx context.Context, id string, from, to Status) error
	ListActions(ctx context.Context, f ActionFilter) ([]Action, error)
}

// ConfirmationStore persists confirmation requests. ResolveConfirmation
// succeeds only while the stored status is pending. InsertProposal stores a
// new action with its first request: either both are stored or neither is.
type ConfirmationStore interface {
	InsertConfirmation(ctx context.Context, c *ConfirmationRequest) error
	InsertProposal(ctx context.Context, a *Action, c *ConfirmationRequest) error
	GetConfirmation(ctx context.Context, id string) (*ConfirmationRequest, error)
	ResolveConfirmation(ctx context.Context, id string, r Resolution) error
	ListPendingConfirmations(ctx context.Context, venueID string) ([]ConfirmationRequest, error)
}

// ExecutionStore persists execution records. ClaimExecution fails with
// ErrAlreadyExecuted if a record for the action already exists.
type ExecutionStore interface {
	ClaimExecution(ctx context.Context, rec *ExecutionRecord) error
	CompleteExecution(ctx context.Context, rec *ExecutionRecord) error
	ListRunningExecutions(ctx context.Context, startedBefore time.Time, limit int) ([]ExecutionRecord, error)
}

// HistoryStore persists the audit ledger. ClaimRollback succeeds only while
// the entry has no rollback timestamp; CompleteRollback moves the action
// executed→cancelled and appends the rollback record together.
type HistoryStore interface {
	AppendHistory(ctx context.Context, h *HistoryEntry) error
	GetHistory(ctx context.Context, actionID string) (*HistoryEntry, error)
	ListHistory(ctx context.Context, venueID string, limit int) ([]HistoryEntry, error)
	ClaimRollback(ctx context.Context, actionID string, c RollbackClaim) error
	ReleaseRollback(ctx context.Context, actionID string) error
	CompleteRollback(ctx context.Context, rec *RollbackRecord) error
	ListRolledBackUncancelled(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// Store is the full durable store used by the lifecycle.
type Store interface {
	ActionStore
	ConfirmationStore
	ExecutionStore
	HistoryStore
	Ping(ctx context.Context) error
	Close() error
}
