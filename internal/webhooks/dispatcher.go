package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// maxAttempts bounds deliveries per event and subscriber.
const maxAttempts = 3

// Dispatcher sends webhook events to registered subscribers asynchronously
// from a fixed worker pool. Transport errors and 5xx responses are retried
// with quadratic backoff.
type Dispatcher struct {
	registry   *Registry
	httpClient *http.Client
	backoff    func(attempt int) time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan *deliveryJob
	wg     sync.WaitGroup
}

type deliveryJob struct {
	subscriber *WebhookSubscription
	event      *WebhookEvent
	attempt    int
}

// NewDispatcher creates a webhook dispatcher with a background worker pool
func NewDispatcher(registry *Registry, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &Dispatcher{
		registry:   registry,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
		queue: make(chan *deliveryJob, 1000),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Emit queues the event for every matching subscriber.
func (d *Dispatcher) Emit(eventType EventType, venueID string, data map[string]any) {
	subscribers := d.registry.Subscribers(eventType, venueID)
	if len(subscribers) == 0 {
		return
	}
	event := newWebhookEvent(eventType, venueID, data)
	for _, sub := range subscribers {
		d.enqueue(&deliveryJob{subscriber: sub, event: event, attempt: 1})
	}
}

func (d *Dispatcher) enqueue(job *deliveryJob) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- job:
	default:
		slog.Warn("webhook queue full, dropping event", "event_id", job.event.ID, "webhook_id", job.subscriber.ID)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job *deliveryJob) {
	payload, err := json.Marshal(job.event)
	if err != nil {
		slog.Error("marshal webhook event", "event_id", job.event.ID, "error", err)
		return
	}

	err = d.post(job, payload)
	if err == nil {
		d.registry.MarkDelivered(job.subscriber.ID)
		slog.Debug("webhook delivered", "type", job.event.Type, "url", job.subscriber.URL, "event_id", job.event.ID)
		return
	}

	d.registry.MarkFailed(job.subscriber.ID)
	retry, _ := err.(retryable)
	slog.Warn("webhook delivery failed",
		"url", job.subscriber.URL, "event_id", job.event.ID, "attempt", job.attempt, "error", err)
	if retry.temporary && job.attempt < maxAttempts {
		time.Sleep(d.backoff(job.attempt))
		job.attempt++
		d.enqueue(job)
	}
}

type retryable struct {
	temporary bool
	err       error
}

func (r retryable) Error() string { return r.err.Error() }

func (d *Dispatcher) post(job *deliveryJob, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.subscriber.URL, bytes.NewReader(payload))
	if err != nil {
		return retryable{err: err}
	}
	for k, v := range deliveryHeaders(job.subscriber, job.event, payload, job.attempt) {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return retryable{temporary: true, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return retryable{
			temporary: resp.StatusCode >= 500,
			err:       fmt.Errorf("subscriber returned %d", resp.StatusCode),
		}
	}
	return nil
}

// Shutdown stops accepting events and waits for queued deliveries.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
