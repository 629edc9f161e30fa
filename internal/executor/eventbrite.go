package executor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/venuesync/backend/internal/actions"
)

const (
	eventbriteCapacitySchema = `{
  "type": "object",
  "required": ["eventId", "newCapacity"],
  "properties": {
    "eventId": {"type": "string", "minLength": 1},
    "eventName": {"type": "string"},
    "ticketClassId": {"type": "string"},
    "currentCapacity": {"type": "integer", "minimum": 0},
    "newCapacity": {"type": "integer", "minimum": 0}
  }
}`
	eventbritePriceSchema = `{
  "type": "object",
  "required": ["eventId", "ticketClassId", "newPrice"],
  "properties": {
    "eventId": {"type": "string", "minLength": 1},
    "ticketClassId": {"type": "string", "minLength": 1},
    "ticketClassName": {"type": "string"},
    "currentPrice": {"type": "number", "minimum": 0},
    "newPrice": {"type": "number", "minimum": 0},
    "includeFees": {"type": "boolean"}
  }
}`
	eventbritePromoSchema = `{
  "type": "object",
  "required": ["eventId", "code", "discountAmount"],
  "properties": {
    "eventId": {"type": "string", "minLength": 1},
    "code": {"type": "string", "minLength": 3},
    "discountType": {"enum": ["percent", "fixed"]},
    "discountAmount": {"type": "number", "minimum": 0},
    "quantityLimit": {"type": "integer", "minimum": 1},
    "validUntil": {"type": "string"}
  }
}`
	eventbriteSalePeriodSchema = `{
  "type": "object",
  "required": ["eventId", "ticketClassId", "newEndDate"],
  "properties": {
    "eventId": {"type": "string", "minLength": 1},
    "ticketClassId": {"type": "string", "minLength": 1},
    "currentEndDate": {"type": "string"},
    "newEndDate": {"type": "string", "minLength": 1}
  }
}`
)

// Eventbrite executes ticketing changes against the Eventbrite API.
type Eventbrite struct {
	conn *Connector
}

// NewEventbrite returns the Eventbrite adapter.
func NewEventbrite(conn *Connector) *Eventbrite {
	return &Eventbrite{conn: conn}
}

// Register adds the Eventbrite action types to reg.
func (e *Eventbrite) Register(reg *Registry) error {
	for _, d := range []struct {
		actionType string
		exec       Executor
		schema     string
	}{
		{"update_capacity", Funcs{e.updateCapacity, e.restoreCapacity}, eventbriteCapacitySchema},
		{"update_ticket_price", Funcs{e.updateTicketPrice, e.restoreTicketPrice}, eventbritePriceSchema},
		{"create_promo_code", Funcs{e.createPromoCode, e.deletePromoCode}, eventbritePromoSchema},
		{"extend_sale_period", Funcs{e.extendSalePeriod, e.restoreSalePeriod}, eventbriteSalePeriodSchema},
	} {
		if err := reg.Register(actions.ServiceEventbrite, d.actionType, d.exec, d.schema); err != nil {
			return err
		}
	}
	return nil
}

// setCapacity updates the ticket class when one is given and the event
// otherwise.
func (e *Eventbrite) setCapacity(ctx context.Context, venueID, eventID, ticketClassID string, capacity float64, out any) error {
	if ticketClassID != "" {
		return e.updateTicketClass(ctx, venueID, eventID, ticketClassID, map[string]any{"capacity": int(capacity)}, out)
	}
	body := map[string]any{"event": map[string]any{"capacity": int(capacity)}}
	return e.conn.Do(ctx, http.MethodPost, "/events/"+seg(eventID)+"/", venueID, body, out)
}

func (e *Eventbrite) updateTicketClass(ctx context.Context, venueID, eventID, ticketClassID string, fields map[string]any, out any) error {
	path := fmt.Sprintf("/events/%s/ticket_classes/%s/", seg(eventID), seg(ticketClassID))
	return e.conn.Do(ctx, http.MethodPost, path, venueID, map[string]any{"ticket_class": fields}, out)
}

func (e *Eventbrite) updateCapacity(ctx context.Context, a *actions.Action) (Outcome, error) {
	eventID, err := requireText(a, "eventId")
	if err != nil {
		return Outcome{}, err
	}
	capacity, err := requireFloat(a, "newCapacity")
	if err != nil {
		return Outcome{}, err
	}
	ticketClassID, _ := a.Text("ticketClassId")

	var result map[string]any
	if err := e.setCapacity(ctx, a.VenueID, eventID, ticketClassID, capacity, &result); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Result: orEmpty(result)}
	if current, ok := a.Float("currentCapacity"); ok {
		out.RollbackData = map[string]any{"eventId": eventID, "ticketClassId": ticketClassID, "originalCapacity": current}
	}
	return out, nil
}

func (e *Eventbrite) restoreCapacity(ctx context.Context, a *actions.Action, data map[string]any) (Outcome, error) {
	eventID, err := dataText(data, "eventId")
	if err != nil {
		return Outcome{}, err
	}
	capacity, err := dataFloat(data, "originalCapacity")
	if err != nil {
		return Outcome{}, err
	}
	ticketClassID, _ := data["ticketClassId"].(string)
	if err := e.setCapacity(ctx, a.VenueID, eventID, ticketClassID, capacity, nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: map[string]any{"eventId": eventID, "restoredCapacity": capacity}}, nil
}

func (e *Eventbrite) updateTicketPrice(ctx context.Context, a *actions.Action) (Outcome, error) {
	eventID, err := requireText(a, "eventId")
	if err != nil {
		return Outcome{}, err
	}
	ticketClassID, err := requireText(a, "ticketClassId")
	if err != nil {
		return Outcome{}, err
	}
	price, err := requireFloat(a, "newPrice")
	if err != nil {
		return Outcome{}, err
	}
	fields := map[string]any{"cost": price}
	optional(a, fields, map[string]string{"includeFees": "include_fee"})

	var result map[string]any
	if err := e.updateTicketClass(ctx, a.VenueID, eventID, ticketClassID, fields, &result); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Result: orEmpty(result)}
	if current, ok := a.Float("currentPrice"); ok {
		out.RollbackData = map[string]any{"eventId": eventID, "ticketClassId": ticketClassID, "originalPrice": current}
	}
	return out, nil
}

func (e *Eventbrite) restoreTicketPrice(ctx context.Context, a *actions.Action, data map[string]any) (Outcome, error) {
	eventID, err := dataText(data, "eventId")
	if err != nil {
		return Outcome{}, err
	}
	ticketClassID, err := dataText(data, "ticketClassId")
	if err != nil {
		return Outcome{}, err
	}
	price, err := dataFloat(data, "originalPrice")
	if err != nil {
		return Outcome{}, err
	}
	if err := e.updateTicketClass(ctx, a.VenueID, eventID, ticketClassID, map[string]any{"cost": price}, nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: map[string]any{"ticketClassId": ticketClassID, "restoredPrice": price}}, nil
}

func (e *Eventbrite) createPromoCode(ctx context.Context, a *actions.Action) (Outcome, error) {
	eventID, err := requireText(a, "eventId")
	if err != nil {
		return Outcome{}, err
	}
	code, err := requireText(a, "code")
	if err != nil {
		return Outcome{}, err
	}
	amount, err := requireFloat(a, "discountAmount")
	if err != nil {
		return Outcome{}, err
	}

	discount := map[string]any{"code": code, "type": "coded", "event_id": eventID}
	if kind, _ := a.Text("discountType"); kind == "fixed" {
		discount["amount_off"] = amount
	} else {
		discount["percent_off"] = amount
	}
	optional(a, discount, map[string]string{"quantityLimit": "quantity_available", "validUntil": "end_date"})

	var created struct {
		ID string `json:"id"`
	}
	path := "/events/" + seg(eventID) + "/discounts/"
	if err := e.conn.Do(ctx, http.MethodPost, path, a.VenueID, map[string]any{"discount": discount}, &created); err != nil {
		return Outcome{}, err
	}
	if created.ID == "" {
		return Outcome{}, fmt.Errorf("eventbrite create promo code: response has no id")
	}
	return Outcome{
		Result:       map[string]any{"promoCodeId": created.ID, "code": code},
		RollbackData: map[string]any{"promoCodeId": created.ID},
	}, nil
}

func (e *Eventbrite) deletePromoCode(ctx context.Context, a *actions.Action, data map[string]any) (Outcome, error) {
	id, err := dataText(data, "promoCodeId")
	if err != nil {
		return Outcome{}, err
	}
	if err := e.conn.Do(ctx, http.MethodDelete, "/discounts/"+seg(id)+"/", a.VenueID, nil, nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: map[string]any{"promoCodeId": id, "deleted": true}}, nil
}

func (e *Eventbrite) extendSalePeriod(ctx context.Context, a *actions.Action) (Outcome, error) {
	eventID, err := requireText(a, "eventId")
	if err != nil {
		return Outcome{}, err
	}
	ticketClassID, err := requireText(a, "ticketClassId")
	if err != nil {
		return Outcome{}, err
	}
	end, err := requireText(a, "newEndDate")
	if err != nil {
		return Outcome{}, err
	}

	var result map[string]any
	if err := e.updateTicketClass(ctx, a.VenueID, eventID, ticketClassID, map[string]any{"sales_end": end}, &result); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Result: orEmpty(result)}
	if current, ok := a.Text("currentEndDate"); ok {
		out.RollbackData = map[string]any{"eventId": eventID, "ticketClassId": ticketClassID, "originalEndDate": current}
	}
	return out, nil
}

func (e *Eventbrite) restoreSalePeriod(ctx context.Context, a *actions.Action, data map[string]any) (Outcome, error) {
	eventID, err := dataText(data, "eventId")
	if err != nil {
		return Outcome{}, err
	}
	ticketClassID, err := dataText(data, "ticketClassId")
	if err != nil {
		return Outcome{}, err
	}
	end, err := dataText(data, "originalEndDate")
	if err != nil {
		return Outcome{}, err
	}
	if err := e.updateTicketClass(ctx, a.VenueID, eventID, ticketClassID, map[string]any{"sales_end": end}, nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: map[string]any{"ticketClassId": ticketClassID, "restoredEndDate": end}}, nil
}
