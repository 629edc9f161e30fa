// Package handlers exposes the action lifecycle over HTTP.
package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/venuesync/backend/internal/actions"
	"github.com/venuesync/backend/internal/lifecycle"
)

// ActionService is the lifecycle as the HTTP layer uses it.
type ActionService interface {
	CreateAction(ctx context.Context, in lifecycle.CreateInput) (*lifecycle.CreateOutcome, error)
	Confirm(ctx context.Context, confirmationID, userID, notes string) (*actions.ConfirmationRequest, error)
	Reject(ctx context.Context, confirmationID, userID, reason string) (*actions.ConfirmationRequest, error)
	ExecuteAction(ctx context.Context, in lifecycle.ExecuteInput) (*lifecycle.ExecuteResult, error)
	RollbackAction(ctx context.Context, in lifecycle.RollbackInput) (*lifecycle.RollbackResult, error)
	Pending(ctx context.Context, venueID string) (*lifecycle.PendingOverview, error)
}

// RegisterActionRoutes mounts the lifecycle endpoints under /api/actions,
// wrapped in mws. With a nil stream no event stream is served.
func RegisterActionRoutes(r *mux.Router, svc ActionService, stream Subscriber, mws ...mux.MiddlewareFunc) {
	api := r.PathPrefix("/api/actions").Subrouter()
	api.Use(mws...)
	// mux reports a method mismatch as 404 once a later route fails on its
	// path, so every path gets its own 405 fallback.
	handle := func(path, method string, h http.HandlerFunc) {
		api.HandleFunc(path, h).Methods(method)
		api.Handle(path, MethodNotAllowed())
	}
	handle("/create", http.MethodPost, HandleCreate(svc))
	handle("/confirm", http.MethodPost, HandleConfirm(svc))
	handle("/execute", http.MethodPost, HandleExecute(svc))
	handle("/rollback", http.MethodPost, HandleRollback(svc))
	handle("/pending", http.MethodGet, HandlePending(svc))
	if stream != nil {
		handle("/stream", http.MethodGet, HandleStream(stream))
	}
}

// =============================================================================
// POST /api/actions/create
// =============================================================================

type createRequest struct {
	Action *struct {
		Service    actions.Service  `json:"service"`
		ActionType string           `json:"actionType"`
		VenueID    string           `json:"venueId"`
		Parameters map[string]any   `json:"parameters"`
		Priority   actions.Priority `json:"priority"`
		CreatedBy  string           `json:"createdBy"`
		Reason     string           `json:"reason"`
		Confidence *float64         `json:"confidence"`
	} `json:"action"`
	SkipConfirmation bool `json:"skipConfirmation"`
}

// HandleCreate stores a proposed action with its confirmation request.
func HandleCreate(svc ActionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Action == nil {
			writeError(w, http.StatusBadRequest, "Invalid action data")
			return
		}

		out, err := svc.CreateAction(r.Context(), lifecycle.CreateInput{
			Service:          req.Action.Service,
			ActionType:       req.Action.ActionType,
			VenueID:          req.Action.VenueID,
			Parameters:       req.Action.Parameters,
			Priority:         req.Action.Priority,
			CreatedBy:        req.Action.CreatedBy,
			Reason:           req.Action.Reason,
			Confidence:       req.Action.Confidence,
			SkipConfirmation: req.SkipConfirmation,
		})
		if err != nil {
			fail(w, r, "create", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"success":       true,
			"action":        out.Action,
			"confirmation":  out.Confirmation,
			"autoConfirmed": out.AutoConfirmed,
		})
	}
}

// =============================================================================
// POST /api/actions/confirm
// =============================================================================

// HandleConfirm confirms or rejects a confirmation request.
func HandleConfirm(svc ActionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConfirmationID string `json:"confirmationId"`
			Action         string `json:"action"`
			UserID         string `json:"userId"`
			Notes          string `json:"notes"`
			Reason         string `json:"reason"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.ConfirmationID == "" || req.Action == "" || req.UserID == "" {
			writeError(w, http.StatusBadRequest, "Missing required fields")
			return
		}

		var (
			c   *actions.ConfirmationRequest
			err error
			msg string
		)
		switch req.Action {
		case "confirm":
			c, err = svc.Confirm(r.Context(), req.ConfirmationID, req.UserID, req.Notes)
			msg = "Action confirmed successfully"
		case "reject":
			if req.Reason == "" {
				writeError(w, http.StatusBadRequest, "Rejection reason is required")
				return
			}
			c, err = svc.Reject(r.Context(), req.ConfirmationID, req.UserID, req.Reason)
			msg = "Action rejected successfully"
		default:
			writeError(w, http.StatusBadRequest, `Action must be "confirm" or "reject"`)
			return
		}
		if err != nil {
			fail(w, r, req.Action, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "confirmation": c, "message": msg})
	}
}

// =============================================================================
// POST /api/actions/execute
// =============================================================================

// HandleExecute dispatches a confirmed action.
func HandleExecute(svc ActionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ActionID       string `json:"actionId"`
			ConfirmationID string `json:"confirmationId"`
		}
		if !decode(w, r, &req) {
			return
		}

		res, err := svc.ExecuteAction(r.Context(), lifecycle.ExecuteInput{
			ActionID:       req.ActionID,
			ConfirmationID: req.ConfirmationID,
		})
		if err != nil {
			fail(w, r, "execute", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
	}
}

// =============================================================================
// POST /api/actions/rollback
// =============================================================================

// HandleRollback reverses an executed action.
func HandleRollback(svc ActionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ActionID string `json:"actionId"`
			Reason   string `json:"reason"`
			UserID   string `json:"userId"`
		}
		if !decode(w, r, &req) {
			return
		}

		res, err := svc.RollbackAction(r.Context(), lifecycle.RollbackInput{
			ActionID: req.ActionID,
			Reason:   req.Reason,
			UserID:   req.UserID,
		})
		if err != nil {
			fail(w, r, "rollback", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"result":  res,
			"message": "Action rolled back successfully",
		})
	}
}

// =============================================================================
// GET /api/actions/pending
// =============================================================================

// HandlePending lists a venue's pending confirmations.
func HandlePending(svc ActionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.Pending(r.Context(), r.URL.Query().Get("venueId"))
		if err != nil {
			fail(w, r, "pending", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"pending":          out.Pending,
			"recentExecutions": out.RecentExecutions,
			"failedActions":    out.FailedActions,
			"summary":          out.Summary,
		})
	}
}
