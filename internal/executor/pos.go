package executor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/venuesync/backend/internal/actions"
)

// ============================================================================
// POS (menu, availability, discounts, modifiers)
// ============================================================================

const (
	posItemPriceSchema = `{
  "type": "object",
  "required": ["itemGuid", "newPrice"],
  "properties": {
    "itemGuid": {"type": "string", "minLength": 1},
    "itemName": {"type": "string"},
    "currentPrice": {"type": "number", "minimum": 0},
    "newPrice": {"type": "number", "minimum": 0},
    "priceChangePercent": {"type": "number"},
    "estimatedDailyUnits": {"type": "number", "minimum": 0}
  }
}`
	posAvailabilitySchema = `{
  "type": "object",
  "required": ["itemGuid", "setAvailable"],
  "properties": {
    "itemGuid": {"type": "string", "minLength": 1},
    "itemName": {"type": "string"},
    "setAvailable": {"type": "boolean"}
  }
}`
	posDiscountSchema = `{
  "type": "object",
  "required": ["name", "amount"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "type": {"enum": ["percent", "fixed"]},
    "amount": {"type": "number", "minimum": 0, "maximum": 100},
    "validFrom": {"type": "string"},
    "validUntil": {"type": "string"},
    "applicableItems": {"type": "array", "items": {"type": "string"}}
  }
}`
	posModifierSchema = `{
  "type": "object",
  "required": ["modifierGuid", "newPrice"],
  "properties": {
    "modifierGuid": {"type": "string", "minLength": 1},
    "currentPrice": {"type": "number", "minimum": 0},
    "newPrice": {"type": "number", "minimum": 0}
  }
}`
)

// POS executes menu and discount changes against the point-of-sale API.
type POS struct {
	conn *Connector
}

// NewPOS returns the POS adapter.
func NewPOS(conn *Connector) *POS {
	return &POS{conn: conn}
}

// Register adds the POS action types to reg.
func (p *POS) Register(reg *Registry) error {
	for _, d := range []struct {
		actionType string
		exec       Executor
		schema     string
	}{
		{"update_item_price", Funcs{p.updateItemPrice, p.restoreItemPrice}, posItemPriceSchema},
		{"toggle_item_availability", Funcs{p.toggleAvailability, p.restoreAvailability}, posAvailabilitySchema},
		{"create_discount", Funcs{p.createDiscount, p.deleteDiscount}, posDiscountSchema},
		{"update_modifier", Funcs{p.updateModifier, p.restoreModifier}, posModifierSchema},
	} {
		if err := reg.Register(actions.ServicePOS, d.actionType, d.exec, d.schema); err != nil {
			return err
		}
	}
	return nil
}

func (p *POS) updateItemPrice(ctx context.Context, a *actions.Action) (Outcome, error) {
	guid, err := requireText(a, "itemGuid")
	if err != nil {
		return Outcome{}, err
	}
	price, err := requireFloat(a, "newPrice")
	if err != nil {
		return Outcome{}, err
	}

	var result map[string]any
	if err := p.setItemPrice(ctx, a.VenueID, guid, price, &result); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Result: orEmpty(result)}
	if current, ok := a.Float("currentPrice"); ok {
		out.RollbackData = map[string]any{"itemGuid": guid, "originalPrice": current}
	}
	return out, nil
}

func (p *POS) restoreItemPrice(ctx context.Context, a *actions.Action, data map[string]any) (Outcome, error) {
	guid, err := dataText(data, "itemGuid")
	if err != nil {
		return Outcome{}, err
	}
	price, err := dataFloat(data, "originalPrice")
	if err != nil {
		return Outcome{}, err
	}
	if err := p.setItemPrice(ctx, a.VenueID, guid, price, nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: map[string]any{"itemGuid": guid, "restoredPrice": price}}, nil
}

func (p *POS) setItemPrice(ctx context.Context, venueID, guid string, price float64, out any) error {
	return p.conn.Do(ctx, http.MethodPatch, "/menus/items/"+seg(guid), venueID, map[string]any{"price": price}, out)
}

func (p *POS) toggleAvailability(ctx context.Context, a *actions.Action) (Outcome, error) {
	guid, err := requireText(a, "itemGuid")
	if err != nil {
		return Outcome{}, err
	}
	available, err := requireBool(a, "setAvailable")
	if err != nil {
		return Outcome{}, err
	}

	var result map[string]any
	if err := p.setAvailability(ctx, a.VenueID, guid, available, &result); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Result:       orEmpty(result),
		RollbackData: map[string]any{"itemGuid": guid, "wasAvailable": !available},
	}, nil
}

func (p *POS) restoreAvailability(ctx context.Context, a *actions.Action, data map[string]any) (Outcome, error) {
	guid, err := dataText(data, "itemGuid")
	if err != nil {
		return Outcome{}, err
	}
	was, err := dataBool(data, "wasAvailable")
	if err != nil {
		return Outcome{}, err
	}
	if err := p.setAvailability(ctx, a.VenueID, guid, was, nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: map[string]any{"itemGuid": guid, "available": was}}, nil
}

func (p *POS) setAvailability(ctx context.Context, venueID, guid string, available bool, out any) error {
	path := "/menus/items/" + seg(guid) + "/availability"
	return p.conn.Do(ctx, http.MethodPatch, path, venueID, map[string]any{"available": available}, out)
}

func (p *POS) createDiscount(ctx context.Context, a *actions.Action) (Outcome, error) {
	name, err := requireText(a, "name")
	if err != nil {
		return Outcome{}, err
	}
	amount, err := requireFloat(a, "amount")
	if err != nil {
		return Outcome{}, err
	}
	body := map[string]any{"name": name, "amount": amount, "type": "percent"}
	optional(a, body, map[string]string{
		"type":            "type",
		"validFrom":       "startDate",
		"validUntil":      "endDate",
		"applicableItems": "applicableItems",
	})

	var created struct {
		ID string `json:"id"`
	}
	if err := p.conn.Do(ctx, http.MethodPost, "/discounts", a.VenueID, body, &created); err != nil {
		return Outcome{}, err
	}
	if created.ID == "" {
		return Outcome{}, fmt.Errorf("pos create discount: response has no id")
	}
	return Outcome{
		Result:       map[string]any{"discountId": created.ID, "name": name},
		RollbackData: map[string]any{"discountId": created.ID},
	}, nil
}

func (p *POS) deleteDiscount(ctx context.Context, a *actions.Action, data map[string]any) (Outcome, error) {
	id, err := dataText(data, "discountId")
	if err != nil {
		return Outcome{}, err
	}
	if err := p.conn.Do(ctx, http.MethodDelete, "/discounts/"+seg(id), a.VenueID, nil, nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: map[string]any{"discountId": id, "deleted": true}}, nil
}

func (p *POS) updateModifier(ctx context.Context, a *actions.Action) (Outcome, error) {
	guid, err := requireText(a, "modifierGuid")
	if err != nil {
		return Outcome{}, err
	}
	price, err := requireFloat(a, "newPrice")
	if err != nil {
		return Outcome{}, err
	}

	var result map[string]any
	path := "/menus/modifiers/" + seg(guid)
	if err := p.conn.Do(ctx, http.MethodPatch, path, a.VenueID, map[string]any{"price": price}, &result); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Result: orEmpty(result)}
	if current, ok := a.Float("currentPrice"); ok {
		out.RollbackData = map[string]any{"modifierGuid": guid, "originalPrice": current}
	}
	return out, nil
}

func (p *POS) restoreModifier(ctx context.Context, a *actions.Action, data map[string]any) (Outcome, error) {
	guid, err := dataText(data, "modifierGuid")
	if err != nil {
		return Outcome{}, err
	}
	price, err := dataFloat(data, "originalPrice")
	if err != nil {
		return Outcome{}, err
	}
	path := "/menus/modifiers/" + seg(guid)
	if err := p.conn.Do(ctx, http.MethodPatch, path, a.VenueID, map[string]any{"price": price}, nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: map[string]any{"modifierGuid": guid, "restoredPrice": price}}, nil
}
