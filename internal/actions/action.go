// Package actions defines the action lifecycle model shared by the gate,
// the executor and the stores: actions, confirmation requests, execution
// records, the history ledger and rollback records.
package actions

import (
	"time"
)

// Service identifies the external venue-management system an action targets.
type Service string

const (
	ServicePOS        Service = "pos"
	ServiceEventbrite Service = "eventbrite"
	ServiceOpenDate   Service = "opendate"
)

// Priority of an action. High priority always requires human approval.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Status is the lifecycle state of an action.
//
//	pending ──► confirmed ──► executed ──► cancelled
//	   │             │            │
//	   ▼             ▼            ▼
//	rejected       failed       failed
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRejected},
	StatusConfirmed: {StatusExecuted, StatusFailed},
	StatusExecuted:  {StatusFailed, StatusCancelled},
}

// CanTransition reports whether an action may move from one status to
// another. Every status write in a store goes through this check.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// AllStatuses lists every known status.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusRejected, StatusExecuted, StatusFailed, StatusCancelled}
}

// Creator values with special meaning to the risk policy.
const (
	CreatedByUser   = "user"
	CreatedByAI     = "ai"
	CreatedBySystem = "system"
)

// Action is a proposed mutation against an external service.
type Action struct {
	ID         string         `json:"id"`
	Service    Service        `json:"service"`
	ActionType string         `json:"actionType"`
	VenueID    string         `json:"venueId"`
	Parameters map[string]any `json:"parameters"`
	Priority   Priority       `json:"priority"`
	Status     Status         `json:"status"`
	CreatedBy  string         `json:"createdBy"`
	Reason     string         `json:"reason,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// RiskLevel is the coarse risk classification of an impact estimate.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Impact is the estimated effect of executing an action.
type Impact struct {
	RiskLevel      RiskLevel `json:"riskLevel"`
	RevenueChange  float64   `json:"revenueChange"`
	CustomerImpact int       `json:"customerImpact"`
	AffectedItems  []string  `json:"affectedItems"`
}

// Alternative is a safer variant of an action suggested to the approver.
type Alternative struct {
	Description     string         `json:"description"`
	ActionType      string         `json:"actionType"`
	Parameters      map[string]any `json:"parameters"`
	EstimatedImpact Impact         `json:"estimatedImpact"`
}

// ConfirmationStatus is the resolution state of a confirmation request.
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationRejected  ConfirmationStatus = "rejected"
)

// ConfirmationRequest is the gating record for one action. It is resolved
// at most once.
type ConfirmationRequest struct {
	ID               string             `json:"id"`
	ActionID         string             `json:"actionId"`
	VenueID          string             `json:"venueId"`
	Action           Action             `json:"action"`
	RequiresApproval bool               `json:"requiresApproval"`
	ApprovalReasons  []string           `json:"approvalReasons,omitempty"`
	Status           ConfirmationStatus `json:"status"`
	ExpiresAt        *time.Time         `json:"expiresAt,omitempty"`
	EstimatedImpact  Impact             `json:"estimatedImpact"`
	Alternatives     []Alternative      `json:"alternatives,omitempty"`
	ConfirmedBy      string             `json:"confirmedBy,omitempty"`
	ConfirmedAt      *time.Time         `json:"confirmedAt,omitempty"`
	Notes            string             `json:"notes,omitempty"`
	RejectedBy       string             `json:"rejectedBy,omitempty"`
	RejectedAt       *time.Time         `json:"rejectedAt,omitempty"`
	RejectionReason  string             `json:"rejectionReason,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
}

// Expired reports whether the request carries an expiry that has passed.
func (c *ConfirmationRequest) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Resolution is the outcome written when a confirmation request is decided.
type Resolution struct {
	Status ConfirmationStatus
	Actor  string
	Notes  string
	Reason string
	At     time.Time
}

// ExecutionState tracks an execution claim through dispatch.
type ExecutionState string

const (
	ExecutionRunning   ExecutionState = "running"
	ExecutionSucceeded ExecutionState = "succeeded"
	ExecutionFailed    ExecutionState = "failed"
)

// ExecutionFailure describes why a dispatch failed.
type ExecutionFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExecutionRecord is the single execution of an action. It is claimed
// before the side effect is dispatched and completed afterwards.
type ExecutionRecord struct {
	ActionID       string            `json:"actionId"`
	ConfirmationID string            `json:"confirmationId,omitempty"`
	State          ExecutionState    `json:"state"`
	Success        bool              `json:"success"`
	Result         map[string]any    `json:"result,omitempty"`
	Error          *ExecutionFailure `json:"error,omitempty"`
	ExecutedAt     time.Time         `json:"executedAt"`
	DurationMs     int64             `json:"durationMs"`
}

// HistoryEntry is the append-only ledger record written after an execution.
// Only rollback columns are ever updated.
type HistoryEntry struct {
	ActionID        string           `json:"actionId"`
	VenueID         string           `json:"venueId"`
	Action          Action           `json:"action"`
	ExecutionResult *ExecutionRecord `json:"executionResult"`
	RollbackData    map[string]any   `json:"rollbackData,omitempty"`
	ExecutedAt      time.Time        `json:"executedAt"`
	ConfirmedBy     string           `json:"confirmedBy,omitempty"`
	RolledBackAt    *time.Time       `json:"rolledBackAt,omitempty"`
	RollbackReason  string           `json:"rollbackReason,omitempty"`
	RolledBackBy    string           `json:"rolledBackBy,omitempty"`
}

// CanRollback reports whether the entry still holds an unused inverse.
func (h *HistoryEntry) CanRollback() bool {
	return len(h.RollbackData) > 0 && h.RolledBackAt == nil
}

// RollbackClaim marks a history entry as rolled back before the inverse
// operation is dispatched.
type RollbackClaim struct {
	Reason string
	Actor  string
	At     time.Time
}

// RollbackRecord is the append-only record of a completed rollback.
type RollbackRecord struct {
	ID           string         `json:"id"`
	ActionID     string         `json:"actionId"`
	Reason       string         `json:"reason"`
	RolledBackBy string         `json:"rolledBackBy"`
	Result       map[string]any `json:"result,omitempty"`
	RolledBackAt time.Time      `json:"rolledBackAt"`
}
