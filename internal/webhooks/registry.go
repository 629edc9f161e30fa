// Package webhooks delivers signed lifecycle notifications to configured
// HTTP subscribers.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WebhookEmitter is the interface for dispatching webhook events.
// Both the in-memory Dispatcher and CloudDispatcher satisfy this interface.
type WebhookEmitter interface {
	Emit(eventType EventType, venueID string, data map[string]any)
	Shutdown()
}

// EventType defines the types of events that can trigger webhooks
type EventType string

const (
	EventActionCreated          EventType = "action.created"
	EventActionApprovalRequired EventType = "action.approval_required"
	EventActionConfirmed        EventType = "action.confirmed"
	EventActionRejected         EventType = "action.rejected"
	EventActionExecuted         EventType = "action.executed"
	EventActionFailed           EventType = "action.failed"
	EventActionRolledBack       EventType = "action.rolled_back"
)

// maxFailures disables a subscription after that many failed deliveries in
// a row.
const maxFailures = 10

// WebhookSubscription represents a registered webhook. An empty VenueID
// receives events for every venue.
type WebhookSubscription struct {
	ID        string      `json:"id" yaml:"id"`
	URL       string      `json:"url" yaml:"url"`
	Events    []EventType `json:"events" yaml:"events"`
	Secret    string      `json:"secret,omitempty" yaml:"secret"`
	VenueID   string      `json:"venueId,omitempty" yaml:"venue_id"`
	Active    bool        `json:"active" yaml:"-"`
	CreatedAt time.Time   `json:"createdAt" yaml:"-"`
	FailCount int         `json:"failCount" yaml:"-"`
}

// WebhookEvent is the payload sent to webhook subscribers
type WebhookEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	VenueID   string         `json:"venueId"`
	Data      map[string]any `json:"data"`
}

func newWebhookEvent(eventType EventType, venueID string, data map[string]any) *WebhookEvent {
	return &WebhookEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    "/api/actions",
		Timestamp: time.Now().UTC(),
		VenueID:   venueID,
		Data:      data,
	}
}

// Registry stores and manages webhook subscriptions
type Registry struct {
	mu      sync.RWMutex
	hooks   map[string]*WebhookSubscription
	byEvent map[EventType][]*WebhookSubscription
}

// NewRegistry creates a new webhook registry
func NewRegistry() *Registry {
	return &Registry{
		hooks:   make(map[string]*WebhookSubscription),
		byEvent: make(map[EventType][]*WebhookSubscription),
	}
}

// Register adds a webhook subscription
func (r *Registry) Register(sub *WebhookSubscription) error {
	if sub.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if len(sub.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.ID == "" {
		sub.ID = "wh-" + uuid.NewString()
	}
	if _, exists := r.hooks[sub.ID]; exists {
		return fmt.Errorf("webhook %s already registered", sub.ID)
	}
	sub.Active = true
	sub.CreatedAt = time.Now().UTC()
	sub.FailCount = 0

	r.hooks[sub.ID] = sub
	for _, evt := range sub.Events {
		r.byEvent[evt] = append(r.byEvent[evt], sub)
	}

	slog.Info("registered webhook", "webhook_id", sub.ID, "url", sub.URL, "events", sub.Events)
	return nil
}

// Unregister removes a webhook subscription
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.hooks[id]
	if !ok {
		return fmt.Errorf("webhook %s not found", id)
	}
	delete(r.hooks, id)

	for _, evt := range sub.Events {
		filtered := make([]*WebhookSubscription, 0, len(r.byEvent[evt]))
		for _, s := range r.byEvent[evt] {
			if s.ID != id {
				filtered = append(filtered, s)
			}
		}
		r.byEvent[evt] = filtered
	}
	return nil
}

// Subscribers returns the active subscriptions for an event in a venue.
func (r *Registry) Subscribers(eventType EventType, venueID string) []*WebhookSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*WebhookSubscription
	for _, sub := range r.byEvent[eventType] {
		if !sub.Active {
			continue
		}
		if sub.VenueID != "" && sub.VenueID != venueID {
			continue
		}
		active = append(active, sub)
	}
	return active
}

// ListAll returns all registered webhooks
func (r *Registry) ListAll() []*WebhookSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*WebhookSubscription, 0, len(r.hooks))
	for _, sub := range r.hooks {
		result = append(result, sub)
	}
	return result
}

// MarkFailed increments the failure count and disables the subscription
// once it reaches maxFailures.
func (r *Registry) MarkFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.hooks[id]
	if !ok {
		return
	}
	sub.FailCount++
	if sub.FailCount >= maxFailures && sub.Active {
		sub.Active = false
		slog.Warn("webhook disabled", "webhook_id", id, "failures", sub.FailCount)
	}
}

// MarkDelivered resets the failure count.
func (r *Registry) MarkDelivered(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.hooks[id]; ok {
		sub.FailCount = 0
	}
}

// SignPayload creates HMAC-SHA256 signature for webhook verification
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header carries the signature of payload
// under secret, in the "sha256=<hex>" form sent by the dispatchers.
func VerifySignature(payload []byte, secret, header string) bool {
	expected := "sha256=" + SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(header))
}

// deliveryHeaders are the headers sent with every delivery.
func deliveryHeaders(sub *WebhookSubscription, event *WebhookEvent, payload []byte, attempt int) map[string]string {
	headers := map[string]string{
		"Content-Type":                 "application/json",
		"X-VenueSync-Event-Type":       string(event.Type),
		"X-VenueSync-Event-ID":         event.ID,
		"X-VenueSync-Delivery-Attempt": fmt.Sprintf("%d", attempt),
	}
	if sub.Secret != "" {
		headers["X-VenueSync-Signature"] = "sha256=" + SignPayload(payload, sub.Secret)
	}
	return headers
}
