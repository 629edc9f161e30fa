package gate

import (
	"math"

	"github.com/venuesync/backend/internal/actions"
)

// EstimateImpact scores an action from its parameters alone. Unknown action
// types score low with no revenue or customer effect.
func EstimateImpact(a *actions.Action) actions.Impact {
	impact := actions.Impact{RiskLevel: actions.RiskLow, AffectedItems: []string{}}

	switch a.Service {
	case actions.ServicePOS:
		estimatePOS(a, &impact)
	case actions.ServiceEventbrite:
		estimateEventbrite(a, &impact)
	case actions.ServiceOpenDate:
		estimateOpenDate(a, &impact)
	}
	impact.RevenueChange = round2(impact.RevenueChange)
	return impact
}

func estimatePOS(a *actions.Action, impact *actions.Impact) {
	switch a.ActionType {
	case "update_item_price":
		addItem(impact, a, "itemName", "itemGuid")
		if pct, ok := priceChange(a); ok {
			switch abs := math.Abs(pct); {
			case abs > 30:
				impact.RiskLevel = actions.RiskHigh
			case abs > 15:
				impact.RiskLevel = actions.RiskMedium
			}
		}
		current, _ := a.Float("currentPrice")
		next, _ := a.Float("newPrice")
		if units, ok := a.Float("estimatedDailyUnits"); ok {
			impact.RevenueChange = (next - current) * units
			impact.CustomerImpact = int(units)
		}

	case "toggle_item_availability":
		addItem(impact, a, "itemName", "itemGuid")
		if available, ok := a.Bool("setAvailable"); ok && !available {
			impact.RiskLevel = actions.RiskMedium
			impact.RevenueChange = -100
		}

	case "create_discount":
		addItem(impact, a, "name")
		amount, _ := a.Float("amount")
		if amount > 20 {
			impact.RiskLevel = actions.RiskMedium
		}
		multiplier := amount
		if kind, _ := a.Text("type"); kind == "percent" {
			multiplier = amount / 100
		}
		impact.RevenueChange = -1000 * multiplier

	case "update_modifier":
		addItem(impact, a, "modifierName", "modifierGuid")
	}
}

func estimateEventbrite(a *actions.Action, impact *actions.Impact) {
	switch a.ActionType {
	case "update_capacity":
		addItem(impact, a, "eventName", "eventId")
		current, okCurrent := a.Float("currentCapacity")
		next, okNext := a.Float("newCapacity")
		if !okCurrent || !okNext {
			return
		}
		if diff := next - current; diff < 0 {
			impact.RiskLevel = actions.RiskHigh
			impact.CustomerImpact = int(-diff)
		} else {
			impact.RevenueChange = diff * avgEventbriteTicket
		}

	case "update_ticket_price":
		addItem(impact, a, "ticketClassName", "ticketClassId")
		current, _ := a.Float("currentPrice")
		next, _ := a.Float("newPrice")
		diff := next - current
		if diff > 0 && current > 0 && diff/current > 0.2 {
			impact.RiskLevel = actions.RiskMedium
		}
		impact.RevenueChange = remainingTickets * diff

	case "create_promo_code":
		addItem(impact, a, "code")
		amount, _ := a.Float("discountAmount")
		if amount > 30 {
			impact.RiskLevel = actions.RiskMedium
		}
		limit, ok := a.Float("quantityLimit")
		if !ok || limit <= 0 {
			limit = 100
		}
		value := amount
		if kind, _ := a.Text("discountType"); kind == "percent" {
			value = amount / 100 * avgEventbriteTicket
		}
		impact.RevenueChange = -limit * value

	case "extend_sale_period":
		addItem(impact, a, "eventName", "eventId")
	}
}

func estimateOpenDate(a *actions.Action, impact *actions.Impact) {
	switch a.ActionType {
	case "update_show_capacity":
		addItem(impact, a, "showName", "confirmId")
		current, okCurrent := a.Float("currentCapacity")
		next, okNext := a.Float("newCapacity")
		if !okCurrent || !okNext {
			return
		}
		diff := next - current
		impact.RevenueChange = diff * avgOpenDateTicket
		if diff < 0 {
			impact.RiskLevel = actions.RiskHigh
		}

	case "modify_ticket_tiers":
		addItem(impact, a, "showName", "confirmId")
		var total, tickets float64
		for _, tier := range a.Objects("tiers") {
			current, _ := actions.FloatField(tier, "currentPrice")
			next, _ := actions.FloatField(tier, "newPrice")
			qty, ok := actions.FloatField(tier, "newQuantity")
			if !ok || qty == 0 {
				qty, _ = actions.FloatField(tier, "currentQuantity")
			}
			total += (next - current) * qty
			tickets += qty
		}
		if math.Abs(total) > 1000 {
			impact.RiskLevel = actions.RiskMedium
		}
		impact.RevenueChange = total
		impact.CustomerImpact = int(tickets)

	case "send_fan_message":
		addItem(impact, a, "subject")
		recipients, _ := a.Float("estimatedRecipients")
		if recipients > 5000 {
			impact.RiskLevel = actions.RiskMedium
		}
		impact.CustomerImpact = int(recipients)
		// 10% redemption of a $5 code.
		if promo, _ := a.Bool("includePromoCode"); promo {
			impact.RevenueChange = -(recipients * 0.1 * 5)
		}

	case "update_artist_payout":
		addItem(impact, a, "artistName", "confirmId")
		current, _ := a.Float("currentGuarantee")
		next, _ := a.Float("newGuarantee")
		diff := next - current
		impact.RiskLevel = actions.RiskMedium
		if math.Abs(diff) > 1000 {
			impact.RiskLevel = actions.RiskHigh
		}
		impact.RevenueChange = -diff
	}
}

// Average ticket prices and the unsold inventory assumed when no sales data
// is available.
const (
	avgEventbriteTicket = 50
	avgOpenDateTicket   = 35
	remainingTickets    = 100
)

// priceChange prefers an explicit priceChangePercent parameter and falls
// back to the current and new prices.
func priceChange(a *actions.Action) (float64, bool) {
	if pct, ok := a.Float("priceChangePercent"); ok {
		return pct, true
	}
	return percentChange(a, "currentPrice", "newPrice")
}

func percentChange(a *actions.Action, fromKey, toKey string) (float64, bool) {
	from, ok := a.Float(fromKey)
	if !ok || from == 0 {
		return 0, false
	}
	to, ok := a.Float(toKey)
	if !ok {
		return 0, false
	}
	return (to - from) / from * 100, true
}

// addItem records the first non-empty of keys as an affected item.
func addItem(impact *actions.Impact, a *actions.Action, keys ...string) {
	for _, key := range keys {
		if v, ok := a.Text(key); ok {
			impact.AffectedItems = append(impact.AffectedItems, v)
			return
		}
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SuggestAlternatives proposes safer variants of an action: a smaller price
// increase, a time-limited discount in place of a deep price cut, and a
// gradual capacity increase.
func SuggestAlternatives(a *actions.Action) []actions.Alternative {
	var out []actions.Alternative

	switch {
	case a.ActionType == "update_item_price" || a.ActionType == "update_ticket_price":
		current, ok := a.Float("currentPrice")
		pct, okPct := priceChange(a)
		if !ok || !okPct {
			break
		}
		if pct > 20 {
			out = append(out, alternative(a, "Smaller 10% price increase", a.ActionType,
				map[string]any{"newPrice": round2(current * 1.1)}))
		}
		if pct < -10 && a.Service == actions.ServicePOS {
			name := "Limited time offer"
			if item, ok := a.Text("itemName"); ok {
				name = item + " Special"
			}
			params := map[string]any{
				"name":          name,
				"amount":        round2(math.Abs(pct)),
				"type":          "percent",
				"durationHours": 48,
			}
			if item, ok := a.Text("itemGuid"); ok {
				params["itemGuid"] = item
			}
			out = append(out, alternative(a, "Time-limited discount instead of a permanent price cut", "create_discount", params))
		}

	case a.ActionType == "update_capacity" || a.ActionType == "update_show_capacity":
		current, ok := a.Float("currentCapacity")
		next, okNext := a.Float("newCapacity")
		if ok && okNext && current > 0 && next > current*1.5 {
			out = append(out, alternative(a, "Gradual 25% capacity increase", a.ActionType,
				map[string]any{"newCapacity": math.Floor(current * 1.25)}))
		}
	}
	return out
}

func alternative(a *actions.Action, description, actionType string, params map[string]any) actions.Alternative {
	alt := a.WithParameters(params)
	alt.ActionType = actionType
	if actionType != a.ActionType {
		alt.Parameters = params
	}
	return actions.Alternative{
		Description:     description,
		ActionType:      actionType,
		Parameters:      alt.Parameters,
		EstimatedImpact: EstimateImpact(&alt),
	}
}
