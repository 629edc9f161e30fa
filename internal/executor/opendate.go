package executor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/venuesync/backend/internal/actions"
	"github.com/venuesync/backend/internal/revert"
)

const (
	openDateCapacitySchema = `{
  "type": "object",
  "required": ["confirmId", "newCapacity"],
  "properties": {
    "confirmId": {"type": "string", "minLength": 1},
    "showName": {"type": "string"},
    "currentCapacity": {"type": "integer", "minimum": 0},
    "newCapacity": {"type": "integer", "minimum": 0}
  }
}`
	openDateTiersSchema = `{
  "type": "object",
  "required": ["confirmId", "tiers"],
  "properties": {
    "confirmId": {"type": "string", "minLength": 1},
    "showName": {"type": "string"},
    "tiers": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["tierId", "newPrice"],
        "properties": {
          "tierId": {"type": "string", "minLength": 1},
          "currentPrice": {"type": "number", "minimum": 0},
          "newPrice": {"type": "number", "minimum": 0},
          "currentQuantity": {"type": "integer", "minimum": 0},
          "newQuantity": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`
	openDateFanMessageSchema = `{
  "type": "object",
  "required": ["subject", "message"],
  "properties": {
    "confirmId": {"type": "string"},
    "segment": {"type": "string"},
    "segmentCriteria": {"type": "object"},
    "subject": {"type": "string", "minLength": 1},
    "message": {"type": "string", "minLength": 1},
    "estimatedRecipients": {"type": "integer", "minimum": 0},
    "includePromoCode": {"type": "boolean"}
  }
}`
	openDatePayoutSchema = `{
  "type": "object",
  "required": ["confirmId"],
  "anyOf": [{"required": ["newGuarantee"]}, {"required": ["newDoorSplit"]}],
  "properties": {
    "confirmId": {"type": "string", "minLength": 1},
    "artistName": {"type": "string"},
    "currentGuarantee": {"type": "number", "minimum": 0},
    "newGuarantee": {"type": "number", "minimum": 0},
    "currentDoorSplit": {"type": "number", "minimum": 0, "maximum": 100},
    "newDoorSplit": {"type": "number", "minimum": 0, "maximum": 100}
  }
}`
)

// OpenDate executes show, ticketing and fan messaging changes against the
// OpenDate API. Shows are addressed by their confirm id.
type OpenDate struct {
	conn *Connector
}

// NewOpenDate returns the OpenDate adapter.
func NewOpenDate(conn *Connector) *OpenDate {
	return &OpenDate{conn: conn}
}

// Register adds the OpenDate action types to reg.
func (o *OpenDate) Register(reg *Registry) error {
	for _, d := range []struct {
		actionType string
		exec       Executor
		schema     string
	}{
		{"update_show_capacity", Funcs{o.updateShowCapacity, o.restoreShowCapacity}, openDateCapacitySchema},
		{"modify_ticket_tiers", Funcs{o.modifyTicketTiers, o.restoreTicketTiers}, openDateTiersSchema},
		// A sent message cannot be recalled.
		{"send_fan_message", Funcs{ExecuteFunc: o.sendFanMessage}, openDateFanMessageSchema},
		{"update_artist_payout", Funcs{o.updateArtistPayout, o.restoreArtistPayout}, openDatePayoutSchema},
	} {
		if err := reg.Register(actions.ServiceOpenDate, d.actionType, d.exec, d.schema); err != nil {
			return err
		}
	}
	return nil
}

func (o *OpenDate) patchConfirm(ctx context.Context, venueID, confirmID, sub string, body, out any) error {
	path := "/confirms/" + seg(confirmID) + sub
	return o.conn.Do(ctx, http.MethodPatch, path, venueID, body, out)
}

func (o *OpenDate) updateShowCapacity(ctx context.Context, a *actions.Action) (Outcome, error) {
	confirmID, err := requireText(a, "confirmId")
	if err != nil {
		return Outcome{}, err
	}
	capacity, err := requireFloat(a, "newCapacity")
	if err != nil {
		return Outcome{}, err
	}

	var result map[string]any
	if err := o.patchConfirm(ctx, a.VenueID, confirmID, "", map[string]any{"capacity": int(capacity)}, &result); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Result: orEmpty(result)}
	if current, ok := a.Float("currentCapacity"); ok {
		out.RollbackData = map[string]any{"confirmId": confirmID, "originalCapacity": current}
	}
	return out, nil
}

func (o *OpenDate) restoreShowCapacity(ctx context.Context, a *actions.Action, data map[string]any) (Outcome, error) {
	confirmID, err := dataText(data, "confirmId")
	if err != nil {
		return Outcome{}, err
	}
	capacity, err := dataFloat(data, "originalCapacity")
	if err != nil {
		return Outcome{}, err
	}
	if err := o.patchConfirm(ctx, a.VenueID, confirmID, "", map[string]any{"capacity": int(capacity)}, nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: map[string]any{"confirmId": confirmID, "restoredCapacity": capacity}}, nil
}

type tierChange struct {
	id       string
	price    float64
	quantity *float64
}

func (o *OpenDate) updateTier(ctx context.Context, venueID, confirmID string, t tierChange) error {
	body := map[string]any{"price": t.price}
	if t.quantity != nil {
		body["quantity"] = int(*t.quantity)
	}
	return o.patchConfirm(ctx, venueID, confirmID, "/ticket_tiers/"+seg(t.id), body, nil)
}

// modifyTicketTiers updates each tier in turn. If a tier fails, the tiers
// already updated are put back before the error is returned.
func (o *OpenDate) modifyTicketTiers(ctx context.Context, a *actions.Action) (Outcome, error) {
	confirmID, err := requireText(a, "confirmId")
	if err != nil {
		return Outcome{}, err
	}
	tiers := a.Objects("tiers")
	if len(tiers) == 0 {
		return Outcome{}, missing("tiers")
	}

	var (
		updates    []tierChange
		originals  []tierChange
		reversible = true
	)
	for i, tier := range tiers {
		id, _ := tier["tierId"].(string)
		if id == "" {
			return Outcome{}, missing(fmt.Sprintf("tiers[%d].tierId", i))
		}
		price, ok := actions.FloatField(tier, "newPrice")
		if !ok {
			return Outcome{}, missing(fmt.Sprintf("tiers[%d].newPrice", i))
		}
		up := tierChange{id: id, price: price}
		if q, ok := actions.FloatField(tier, "newQuantity"); ok {
			up.quantity = &q
		}
		updates = append(updates, up)

		orig := tierChange{id: id}
		if orig.price, ok = actions.FloatField(tier, "currentPrice"); !ok {
			reversible = false
		}
		if q, ok := actions.FloatField(tier, "currentQuantity"); ok {
			orig.quantity = &q
		}
		originals = append(originals, orig)
	}

	undo := revert.NewStack(a.ID)
	for i, up := range updates {
		if err := o.updateTier(ctx, a.VenueID, confirmID, up); err != nil {
			if reversible {
				if cerr := undo.Compensate(context.WithoutCancel(ctx)); cerr != nil {
					return Outcome{}, fmt.Errorf("tier %s: %w (compensation: %v)", up.id, err, cerr)
				}
			}
			return Outcome{}, fmt.Errorf("tier %s: %w", up.id, err)
		}
		orig := originals[i]
		undo.Push("tier "+orig.id, func(ctx context.Context) error {
			return o.updateTier(ctx, a.VenueID, confirmID, orig)
		})
	}

	out := Outcome{Result: map[string]any{"confirmId": confirmID, "updated": len(updates)}}
	if reversible {
		saved := make([]any, 0, len(originals))
		for _, t := range originals {
			m := map[string]any{"tierId": t.id, "price": t.price}
			if t.quantity != nil {
				m["quantity"] = *t.quantity
			}
			saved = append(saved, m)
		}
		out.RollbackData = map[string]any{"confirmId": confirmID, "originalTiers": saved}
	}
	return out, nil
}

func (o *OpenDate) restoreTicketTiers(ctx context.Context, a *actions.Action, data map[string]any) (Outcome, error) {
	confirmID, err := dataText(data, "confirmId")
	if err != nil {
		return Outcome{}, err
	}
	raw, _ := data["originalTiers"].([]any)
	if len(raw) == 0 {
		return Outcome{}, fmt.Errorf("%w: rollback data originalTiers", ErrMissingParameter)
	}
	for _, item := range raw {
		tier, _ := item.(map[string]any)
		id, err := dataText(tier, "tierId")
		if err != nil {
			return Outcome{}, err
		}
		price, err := dataFloat(tier, "price")
		if err != nil {
			return Outcome{}, err
		}
		t := tierChange{id: id, price: price}
		if q, ok := actions.FloatField(tier, "quantity"); ok {
			t.quantity = &q
		}
		if err := o.updateTier(ctx, a.VenueID, confirmID, t); err != nil {
			return Outcome{}, fmt.Errorf("tier %s: %w", id, err)
		}
	}
	return Outcome{Result: map[string]any{"confirmId": confirmID, "restored": len(raw)}}, nil
}

func (o *OpenDate) sendFanMessage(ctx context.Context, a *actions.Action) (Outcome, error) {
	subject, err := requireText(a, "subject")
	if err != nil {
		return Outcome{}, err
	}
	message, err := requireText(a, "message")
	if err != nil {
		return Outcome{}, err
	}
	body := map[string]any{"subject": subject, "message": message}
	optional(a, body, map[string]string{
		"confirmId":        "confirmId",
		"segment":          "segment",
		"segmentCriteria":  "criteria",
		"includePromoCode": "promoCode",
	})

	var sent struct {
		ID         string `json:"id"`
		Recipients int    `json:"recipients"`
	}
	if err := o.conn.Do(ctx, http.MethodPost, "/fan_messages", a.VenueID, body, &sent); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: map[string]any{"messageId": sent.ID, "recipients": sent.Recipients}}, nil
}

func (o *OpenDate) updateArtistPayout(ctx context.Context, a *actions.Action) (Outcome, error) {
	confirmID, err := requireText(a, "confirmId")
	if err != nil {
		return Outcome{}, err
	}
	body := map[string]any{}
	optional(a, body, map[string]string{"newGuarantee": "guarantee", "newDoorSplit": "doorSplit"})
	if len(body) == 0 {
		return Outcome{}, missing("newGuarantee or newDoorSplit")
	}

	var result map[string]any
	if err := o.patchConfirm(ctx, a.VenueID, confirmID, "/artist_payout", body, &result); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Result: orEmpty(result)}
	saved := map[string]any{}
	if v, ok := a.Float("currentGuarantee"); ok {
		saved["originalGuarantee"] = v
	}
	if v, ok := a.Float("currentDoorSplit"); ok {
		saved["originalDoorSplit"] = v
	}
	if len(saved) > 0 {
		saved["confirmId"] = confirmID
		out.RollbackData = saved
	}
	return out, nil
}

func (o *OpenDate) restoreArtistPayout(ctx context.Context, a *actions.Action, data map[string]any) (Outcome, error) {
	confirmID, err := dataText(data, "confirmId")
	if err != nil {
		return Outcome{}, err
	}
	body := map[string]any{}
	if v, ok := actions.FloatField(data, "originalGuarantee"); ok {
		body["guarantee"] = v
	}
	if v, ok := actions.FloatField(data, "originalDoorSplit"); ok {
		body["doorSplit"] = v
	}
	if len(body) == 0 {
		return Outcome{}, fmt.Errorf("%w: rollback data originalGuarantee", ErrMissingParameter)
	}
	if err := o.patchConfirm(ctx, a.VenueID, confirmID, "/artist_payout", body, nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: map[string]any{"confirmId": confirmID, "restored": true}}, nil
}
