// Package gate decides whether an action needs a human decision, records
// the confirmation request, and resolves it exactly once.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/venuesync/backend/internal/actions"
)

// Config controls confirmation expiry.
type Config struct {
	// ExpiryWindow is added to the creation time of a request that needs
	// approval.
	ExpiryWindow time.Duration
	// ExpiringSoonWindow flags pending requests close to expiry.
	ExpiringSoonWindow time.Duration
	// EnforceExpiry rejects confirm and execute after ExpiresAt. When false
	// the expiry is advisory and only shown to approvers.
	EnforceExpiry bool
}

// DefaultConfig returns a 15 minute expiry with a 5 minute warning, advisory.
func DefaultConfig() Config {
	return Config{
		ExpiryWindow:       15 * time.Minute,
		ExpiringSoonWindow: 5 * time.Minute,
	}
}

// PendingConfirmation is an unresolved request with flags derived at read
// time.
type PendingConfirmation struct {
	actions.ConfirmationRequest
	ExpiringSoon bool `json:"expiringSoon"`
	Expired      bool `json:"expired"`
}

// Gate generates and resolves confirmation requests.
type Gate struct {
	store      actions.ConfirmationStore
	policy     *Policy
	cfg        Config
	thresholds func(venueID string) Thresholds
	now        func() time.Time
	newID      func() string
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithIDs replaces the uuid generator.
func WithIDs(newID func() string) Option {
	return func(g *Gate) { g.newID = newID }
}

// WithVenueThresholds lets approval limits vary per venue. The function is
// called on every Generate.
func WithVenueThresholds(fn func(venueID string) Thresholds) Option {
	return func(g *Gate) { g.thresholds = fn }
}

// New returns a gate over store. A nil policy uses the default thresholds
// with no extra rules.
func New(store actions.ConfirmationStore, policy *Policy, cfg Config, opts ...Option) *Gate {
	if policy == nil {
		policy, _ = NewPolicy(DefaultThresholds(), nil)
	}
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = DefaultConfig().ExpiryWindow
	}
	if cfg.ExpiringSoonWindow <= 0 {
		cfg.ExpiringSoonWindow = DefaultConfig().ExpiringSoonWindow
	}
	g := &Gate{
		store:  store,
		policy: policy,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		newID:  uuid.NewString,
	}
	g.thresholds = func(string) Thresholds { return g.policy.Thresholds() }
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the gate's expiry settings.
func (g *Gate) Config() Config { return g.cfg }

// Generate builds the confirmation request for a. It writes nothing.
func (g *Gate) Generate(ctx context.Context, a *actions.Action) (*actions.ConfirmationRequest, error) {
	if a == nil || a.ID == "" {
		return nil, actions.Validation("action is required")
	}

	impact := EstimateImpact(a)
	required, reasons, err := g.policy.RequiresApproval(a, impact, g.thresholds(a.VenueID))
	if err != nil {
		return nil, fmt.Errorf("evaluate approval policy: %w", err)
	}

	now := g.now()
	c := &actions.ConfirmationRequest{
		ID:               g.newID(),
		ActionID:         a.ID,
		VenueID:          a.VenueID,
		Action:           *a,
		RequiresApproval: required,
		ApprovalReasons:  reasons,
		Status:           actions.ConfirmationPending,
		EstimatedImpact:  impact,
		Alternatives:     SuggestAlternatives(a),
		CreatedAt:        now,
	}
	if required {
		exp := now.Add(g.cfg.ExpiryWindow)
		c.ExpiresAt = &exp
	}
	return c, nil
}

// Store persists a generated request and returns its id.
func (g *Gate) Store(ctx context.Context, c *actions.ConfirmationRequest) (string, error) {
	if c == nil {
		return "", actions.Validation("confirmation is required")
	}
	if err := g.store.InsertConfirmation(ctx, c); err != nil {
		return "", err
	}
	return c.ID, nil
}

// StoreWithAction persists a new action together with its generated
// request. A failure leaves neither behind.
func (g *Gate) StoreWithAction(ctx context.Context, a *actions.Action, c *actions.ConfirmationRequest) (string, error) {
	if a == nil || c == nil {
		return "", actions.Validation("action and confirmation are required")
	}
	if c.ActionID != a.ID {
		return "", actions.Validation("confirmation belongs to action %s, not %s", c.ActionID, a.ID)
	}
	if err := g.store.InsertProposal(ctx, a, c); err != nil {
		return "", err
	}
	return c.ID, nil
}

// Get loads a request by id.
func (g *Gate) Get(ctx context.Context, id string) (*actions.ConfirmationRequest, error) {
	if id == "" {
		return nil, actions.Validation("confirmationId is required")
	}
	return g.store.GetConfirmation(ctx, id)
}

// Confirm approves a pending request. The action itself is not touched.
func (g *Gate) Confirm(ctx context.Context, id, actor, notes string) (*actions.ConfirmationRequest, error) {
	return g.resolve(ctx, id, actions.Resolution{
		Status: actions.ConfirmationConfirmed,
		Actor:  actor,
		Notes:  notes,
	})
}

// Reject declines a pending request. A reason is mandatory.
func (g *Gate) Reject(ctx context.Context, id, actor, reason string) (*actions.ConfirmationRequest, error) {
	if reason == "" {
		return nil, actions.Validation("rejection reason is required")
	}
	return g.resolve(ctx, id, actions.Resolution{
		Status: actions.ConfirmationRejected,
		Actor:  actor,
		Reason: reason,
	})
}

func (g *Gate) resolve(ctx context.Context, id string, r actions.Resolution) (*actions.ConfirmationRequest, error) {
	if id == "" {
		return nil, actions.Validation("confirmationId is required")
	}
	if r.Actor == "" {
		return nil, actions.Validation("userId is required")
	}

	c, err := g.store.GetConfirmation(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != actions.ConfirmationPending {
		return nil, actions.ErrAlreadyResolved
	}
	r.At = g.now()
	if err := g.CheckUsable(c, r.At); err != nil {
		return nil, err
	}

	if err := g.store.ResolveConfirmation(ctx, id, r); err != nil {
		return nil, err
	}

	c.Status = r.Status
	switch r.Status {
	case actions.ConfirmationConfirmed:
		c.ConfirmedBy, c.ConfirmedAt, c.Notes = r.Actor, &r.At, r.Notes
	case actions.ConfirmationRejected:
		c.RejectedBy, c.RejectedAt, c.RejectionReason = r.Actor, &r.At, r.Reason
	}
	return c, nil
}

// CheckUsable returns ErrExpired when expiry is enforced and c has expired.
func (g *Gate) CheckUsable(c *actions.ConfirmationRequest, now time.Time) error {
	if g.cfg.EnforceExpiry && c.Expired(now) {
		return actions.ErrExpired
	}
	return nil
}

// Pending lists the venue's unresolved requests, newest first.
func (g *Gate) Pending(ctx context.Context, venueID string) ([]PendingConfirmation, error) {
	if venueID == "" {
		return nil, actions.Validation("venueId is required")
	}
	list, err := g.store.ListPendingConfirmations(ctx, venueID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	soon := now.Add(g.cfg.ExpiringSoonWindow)
	out := make([]PendingConfirmation, 0, len(list))
	for _, c := range list {
		p := PendingConfirmation{ConfirmationRequest: c, Expired: c.Expired(now)}
		if p.Expired && g.cfg.EnforceExpiry {
			continue
		}
		if !p.Expired && c.ExpiresAt != nil && c.ExpiresAt.Before(soon) {
			p.ExpiringSoon = true
		}
		out = append(out, p)
	}
	return out, nil
}
