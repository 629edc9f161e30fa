// Package events publishes action lifecycle events as CloudEvents, in process
// and optionally to Google Cloud Pub/Sub.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types.
const (
	ActionCreated          = "venuesync.action.created"
	ActionApprovalRequired = "venuesync.action.approval_required"
	ActionConfirmed        = "venuesync.action.confirmed"
	ActionRejected         = "venuesync.action.rejected"
	ActionExecuted         = "venuesync.action.executed"
	ActionFailed           = "venuesync.action.failed"
	ActionRolledBack       = "venuesync.action.rolled_back"
)

// Source of every event emitted by the lifecycle service.
const Source = "/api/actions"

// EventEmitter is the interface for publishing CloudEvents.
// Both the in-memory EventBus and PubSubEventBus satisfy this interface.
type EventEmitter interface {
	Emit(eventType, subject, venueID string, data map[string]any)
}

// CloudEvent is the CloudEvents 1.0 envelope. The venue id travels as the
// venueid extension attribute.
type CloudEvent struct {
	SpecVersion string         `json:"specversion"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	ID          string         `json:"id"`
	Time        time.Time      `json:"time"`
	Subject     string         `json:"subject,omitempty"`
	VenueID     string         `json:"venueid,omitempty"`
	Data        map[string]any `json:"data"`
}

// NewCloudEvent creates a CloudEvents 1.0 compliant event
func NewCloudEvent(eventType, subject, venueID string, data map[string]any) *CloudEvent {
	return &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      Source,
		ID:          uuid.NewString(),
		Time:        time.Now().UTC(),
		Subject:     subject,
		VenueID:     venueID,
		Data:        data,
	}
}

// JSON serializes the event
func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// SSEFormat returns the event as a Server-Sent Events frame.
func (ce *CloudEvent) SSEFormat() ([]byte, error) {
	data, err := json.Marshal(ce)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", ce.Type, data, ce.ID)), nil
}

// EventBus is an in-process pub/sub event bus. Delivery never blocks the
// publisher: events for a full subscriber are dropped and counted.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *CloudEvent // eventType -> channels
	allSubs     []chan *CloudEvent
	bufferSize  int
	dropped     atomic.Uint64
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan *CloudEvent),
		bufferSize:  100,
	}
}

// Subscribe creates a channel that receives events of specific types.
// Pass empty eventTypes to receive ALL events.
func (eb *EventBus) Subscribe(eventTypes ...string) chan *CloudEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan *CloudEvent, eb.bufferSize)
	if len(eventTypes) == 0 {
		eb.allSubs = append(eb.allSubs, ch)
		return ch
	}
	for _, et := range eventTypes {
		eb.subscribers[et] = append(eb.subscribers[et], ch)
	}
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (eb *EventBus) Unsubscribe(ch chan *CloudEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for et, subs := range eb.subscribers {
		eb.subscribers[et] = without(subs, ch)
	}
	eb.allSubs = without(eb.allSubs, ch)
	close(ch)
}

func without(subs []chan *CloudEvent, ch chan *CloudEvent) []chan *CloudEvent {
	out := subs[:0:0]
	for _, s := range subs {
		if s != ch {
			out = append(out, s)
		}
	}
	return out
}

// Publish sends an event to all matching subscribers
func (eb *EventBus) Publish(event *CloudEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[event.Type] {
		eb.deliver(ch, event)
	}
	for _, ch := range eb.allSubs {
		eb.deliver(ch, event)
	}
}

func (eb *EventBus) deliver(ch chan *CloudEvent, event *CloudEvent) {
	select {
	case ch <- event:
	default:
		eb.dropped.Add(1)
		slog.Warn("event subscriber full, dropping event", "event_id", event.ID, "type", event.Type)
	}
}

// Emit is a convenience method to create and publish an event
func (eb *EventBus) Emit(eventType, subject, venueID string, data map[string]any) {
	eb.Publish(NewCloudEvent(eventType, subject, venueID, data))
}

// SubscriberCount returns the total number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	count := len(eb.allSubs)
	for _, subs := range eb.subscribers {
		count += len(subs)
	}
	return count
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

var _ EventEmitter = (*EventBus)(nil)
