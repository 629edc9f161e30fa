package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/venuesync/backend/internal/events"
)

// Subscriber is the in-process event bus as the stream uses it.
type Subscriber interface {
	Subscribe(eventTypes ...string) chan *events.CloudEvent
	Unsubscribe(ch chan *events.CloudEvent)
}

// HandleStream streams a venue's lifecycle events as Server-Sent Events.
// GET /api/actions/stream?venueId=v1&events=venuesync.action.executed,...
func HandleStream(bus Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		venueID := r.URL.Query().Get("venueId")
		if venueID == "" {
			writeError(w, http.StatusBadRequest, "Venue ID is required")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "Streaming not supported")
			return
		}

		// Streams outlive the server write timeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		var eventTypes []string
		if filter := r.URL.Query().Get("events"); filter != "" {
			eventTypes = strings.Split(filter, ",")
		}
		ch := bus.Subscribe(eventTypes...)
		defer bus.Unsubscribe(ch)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		fmt.Fprintf(w, "event: connected\ndata: {\"venueId\":%q}\n\n", venueID)
		flusher.Flush()

		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				if event.VenueID != venueID {
					continue
				}
				frame, err := event.SSEFormat()
				if err != nil {
					continue
				}
				if _, err := w.Write(frame); err != nil {
					return
				}
				flusher.Flush()

			case <-r.Context().Done():
				return
			}
		}
	}
}
