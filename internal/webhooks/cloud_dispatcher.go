package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/googleapis/gax-go/v2"
)

// TaskCreator is the part of the Cloud Tasks client the dispatcher uses.
type TaskCreator interface {
	CreateTask(ctx context.Context, req *taskspb.CreateTaskRequest, opts ...gax.CallOption) (*taskspb.Task, error)
	Close() error
}

// CloudDispatcher uses Google Cloud Tasks for durable, at-least-once webhook
// delivery. Each Emit enqueues one HTTP task per matching subscriber; retry
// and dead-lettering are configured on the queue.
type CloudDispatcher struct {
	registry  *Registry
	client    TaskCreator
	queuePath string
	fallback  *Dispatcher
	pending   sync.WaitGroup
}

// DialCloudDispatcher connects to the Cloud Tasks queue identified by
// projectID, locationID and queueID. With fallbackWorkers > 0, deliveries
// that cannot be enqueued are sent by an in-memory Dispatcher instead.
func DialCloudDispatcher(ctx context.Context, registry *Registry, projectID, locationID, queueID string, fallbackWorkers int) (*CloudDispatcher, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}
	queuePath := fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID)

	var fallback *Dispatcher
	if fallbackWorkers > 0 {
		fallback = NewDispatcher(registry, fallbackWorkers)
	}
	return NewCloudDispatcher(registry, client, queuePath, fallback), nil
}

// NewCloudDispatcher enqueues deliveries on queuePath through client.
// fallback may be nil.
func NewCloudDispatcher(registry *Registry, client TaskCreator, queuePath string, fallback *Dispatcher) *CloudDispatcher {
	slog.Info("webhooks delivered through cloud tasks", "queue", queuePath, "fallback", fallback != nil)
	return &CloudDispatcher{registry: registry, client: client, queuePath: queuePath, fallback: fallback}
}

// Emit creates a Cloud Task per matching subscriber carrying the signed
// event payload.
func (cd *CloudDispatcher) Emit(eventType EventType, venueID string, data map[string]any) {
	subscribers := cd.registry.Subscribers(eventType, venueID)
	if len(subscribers) == 0 {
		return
	}

	event := newWebhookEvent(eventType, venueID, data)
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal webhook event", "event_id", event.ID, "error", err)
		return
	}

	for _, sub := range subscribers {
		cd.pending.Add(1)
		go func(sub *WebhookSubscription) {
			defer cd.pending.Done()
			cd.enqueueTask(sub, event, payload)
		}(sub)
	}
}

func (cd *CloudDispatcher) enqueueTask(sub *WebhookSubscription, event *WebhookEvent, payload []byte) {
	req := &taskspb.CreateTaskRequest{
		Parent: cd.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        sub.URL,
					Headers:    deliveryHeaders(sub, event, payload, 1),
					Body:       payload,
				},
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	task, err := cd.client.CreateTask(ctx, req)
	if err != nil {
		slog.Error("cloud task enqueue failed", "event_id", event.ID, "url", sub.URL, "error", err)
		if cd.fallback != nil {
			cd.fallback.enqueue(&deliveryJob{subscriber: sub, event: event, attempt: 1})
		}
		return
	}
	slog.Debug("enqueued cloud task", "event_id", event.ID, "url", sub.URL, "task", task.GetName())
}

// Shutdown waits for in-flight enqueues, then closes the fallback and the
// Cloud Tasks client.
func (cd *CloudDispatcher) Shutdown() {
	cd.pending.Wait()
	if cd.fallback != nil {
		cd.fallback.Shutdown()
	}
	if err := cd.client.Close(); err != nil {
		slog.Warn("cloud tasks client close", "error", err)
	}
}
