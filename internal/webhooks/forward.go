package webhooks

import (
	"context"
	"strings"

	"github.com/venuesync/backend/internal/events"
)

// Forward delivers lifecycle events read from ch to emitter until ctx is
// done or ch is closed. "venuesync.action.executed" becomes the webhook
// event "action.executed".
func Forward(ctx context.Context, ch <-chan *events.CloudEvent, emitter WebhookEmitter) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			emitter.Emit(EventType(strings.TrimPrefix(ev.Type, "venuesync.")), ev.VenueID, withSubject(ev))
		}
	}
}

func withSubject(ev *events.CloudEvent) map[string]any {
	data := make(map[string]any, len(ev.Data)+1)
	for k, v := range ev.Data {
		data[k] = v
	}
	if _, ok := data["actionId"]; !ok && ev.Subject != "" {
		data["actionId"] = ev.Subject
	}
	return data
}
