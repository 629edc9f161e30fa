package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubEventBus wraps the in-memory EventBus and also publishes every event
// to a Google Cloud Pub/Sub topic for durable, cross-service delivery.
// Messages are ordered per venue.
type PubSubEventBus struct {
	*EventBus

	client *pubsub.Client
	topic  *pubsub.Topic
}

// DialPubSub connects to projectID and returns a bus publishing to topicID.
func DialPubSub(ctx context.Context, projectID, topicID string) (*PubSubEventBus, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}
	bus, err := NewPubSubEventBus(ctx, client, topicID)
	if err != nil {
		client.Close()
		return nil, err
	}
	return bus, nil
}

// NewPubSubEventBus publishes to topicID through client, creating the topic
// if it does not exist.
func NewPubSubEventBus(ctx context.Context, client *pubsub.Client, topicID string) (*PubSubEventBus, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("created pubsub topic", "topic_id", topicID)
	}
	topic.EnableMessageOrdering = true

	slog.Info("connected to pubsub topic", "topic", topic.String())
	return &PubSubEventBus{EventBus: NewEventBus(), client: client, topic: topic}, nil
}

// Emit publishes the event to Pub/Sub and fans it out to in-memory
// subscribers.
func (pb *PubSubEventBus) Emit(eventType, subject, venueID string, data map[string]any) {
	pb.PublishRaw(NewCloudEvent(eventType, subject, venueID, data))
}

// PublishRaw publishes a pre-built CloudEvent to Pub/Sub and in-memory bus.
func (pb *PubSubEventBus) PublishRaw(event *CloudEvent) {
	pb.publishToPubSub(event)
	pb.EventBus.Publish(event)
}

// publishToPubSub maps CloudEvents metadata to message attributes so
// subscriptions can filter server side.
func (pb *PubSubEventBus) publishToPubSub(event *CloudEvent) {
	payload, err := event.JSON()
	if err != nil {
		slog.Error("marshal event", "event_id", event.ID, "error", err)
		return
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"ce-specversion": event.SpecVersion,
			"ce-type":        event.Type,
			"ce-source":      event.Source,
			"ce-id":          event.ID,
			"ce-time":        event.Time.Format(time.RFC3339Nano),
			"ce-subject":     event.Subject,
			"ce-venueid":     event.VenueID,
		},
		OrderingKey: event.VenueID,
	}

	result := pb.topic.Publish(context.Background(), msg)
	go func() {
		serverID, err := result.Get(context.Background())
		if err != nil {
			slog.Error("pubsub publish failed", "event_id", event.ID, "type", event.Type, "error", err)
			// A failed publish pauses the ordering key until resumed.
			pb.topic.ResumePublish(event.VenueID)
			return
		}
		slog.Debug("published event", "event_id", event.ID, "msg_id", serverID, "type", event.Type)
	}()
}

// Flush blocks until every pending message has been sent.
func (pb *PubSubEventBus) Flush() {
	pb.topic.Flush()
}

// Close flushes and shuts down the Pub/Sub client.
func (pb *PubSubEventBus) Close() error {
	pb.topic.Stop()
	if err := pb.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	slog.Info("pubsub client closed")
	return nil
}

// HealthCheck verifies the Pub/Sub topic is reachable.
func (pb *PubSubEventBus) HealthCheck(ctx context.Context) error {
	exists, err := pb.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("topic health check: %w", err)
	}
	if !exists {
		return fmt.Errorf("topic %s does not exist", pb.topic.ID())
	}
	return nil
}

var _ EventEmitter = (*PubSubEventBus)(nil)
