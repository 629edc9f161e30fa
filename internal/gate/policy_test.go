package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuesync/backend/internal/actions"
)

func TestRequiresApproval_Thresholds(t *testing.T) {
	p, err := NewPolicy(DefaultThresholds(), nil)
	require.NoError(t, err)
	th := p.Thresholds()

	low := actions.Impact{RiskLevel: actions.RiskLow, RevenueChange: 200}

	t.Run("low risk medium priority", func(t *testing.T) {
		ok, reasons, err := p.RequiresApproval(action(actions.ServicePOS, "update_item_price", nil), low, th)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, reasons)
	})

	t.Run("high risk", func(t *testing.T) {
		ok, reasons, err := p.RequiresApproval(action(actions.ServicePOS, "update_item_price", nil),
			actions.Impact{RiskLevel: actions.RiskHigh}, th)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"risk level is high"}, reasons)
	})

	t.Run("revenue loss", func(t *testing.T) {
		ok, reasons, err := p.RequiresApproval(action(actions.ServicePOS, "create_discount", nil),
			actions.Impact{RiskLevel: actions.RiskLow, RevenueChange: -1500}, th)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"revenue change exceeds 1000"}, reasons)
	})

	t.Run("customer impact", func(t *testing.T) {
		ok, reasons, err := p.RequiresApproval(action(actions.ServiceOpenDate, "send_fan_message", nil),
			actions.Impact{RiskLevel: actions.RiskLow, CustomerImpact: 101}, th)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"affects more than 100 customers"}, reasons)
	})

	t.Run("high priority", func(t *testing.T) {
		a := action(actions.ServicePOS, "update_item_price", nil)
		a.Priority = actions.PriorityHigh
		ok, reasons, err := p.RequiresApproval(a, low, th)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"priority is high"}, reasons)
	})

	t.Run("low confidence ai", func(t *testing.T) {
		a := action(actions.ServicePOS, "update_item_price", nil)
		a.CreatedBy = actions.CreatedByAI
		conf := 0.6
		a.Confidence = &conf
		ok, reasons, err := p.RequiresApproval(a, low, th)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"AI confidence below 0.90"}, reasons)
	})

	t.Run("confident ai", func(t *testing.T) {
		a := action(actions.ServicePOS, "update_item_price", nil)
		a.CreatedBy = actions.CreatedByAI
		conf := 0.95
		a.Confidence = &conf
		ok, _, err := p.RequiresApproval(a, low, th)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("priority check disabled", func(t *testing.T) {
		a := action(actions.ServicePOS, "update_item_price", nil)
		a.Priority = actions.PriorityHigh
		relaxed := th
		relaxed.HighPriorityApproval = false
		ok, _, err := p.RequiresApproval(a, low, relaxed)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRequiresApproval_CELRules(t *testing.T) {
	p, err := NewPolicy(DefaultThresholds(), []Rule{
		{Name: "late-night-messages", Expression: `action.service == "opendate" && action.actionType == "send_fan_message"`},
		{Name: "big-price", Expression: `has(action.parameters.newPrice) && action.parameters.newPrice > 50.0`},
		{Name: "many-items", Expression: `size(impact.affectedItems) > 2`},
	})
	require.NoError(t, err)

	low := actions.Impact{RiskLevel: actions.RiskLow}

	ok, reasons, err := p.RequiresApproval(action(actions.ServiceOpenDate, "send_fan_message", nil), low, p.Thresholds())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"rule late-night-messages"}, reasons)

	// Integer parameters are compared as doubles.
	ok, reasons, err = p.RequiresApproval(action(actions.ServicePOS, "update_item_price", map[string]any{"newPrice": 60}), low, p.Thresholds())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"rule big-price"}, reasons)

	ok, _, err = p.RequiresApproval(action(actions.ServicePOS, "update_item_price", map[string]any{"newPrice": 20}), low, p.Thresholds())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, reasons, err = p.RequiresApproval(action(actions.ServicePOS, "toggle_item_availability", nil),
		actions.Impact{RiskLevel: actions.RiskLow, AffectedItems: []string{"a", "b", "c"}}, p.Thresholds())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"rule many-items"}, reasons)
}

func TestNewPolicy_BadExpression(t *testing.T) {
	_, err := NewPolicy(DefaultThresholds(), []Rule{{Name: "broken", Expression: "action.service =="}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `rule "broken"`)
}

func TestRequiresApproval_NonBoolRule(t *testing.T) {
	p, err := NewPolicy(DefaultThresholds(), []Rule{{Name: "number", Expression: "1 + 1"}})
	require.NoError(t, err)
	_, _, err = p.RequiresApproval(action(actions.ServicePOS, "update_item_price", nil), actions.Impact{}, p.Thresholds())
	assert.Error(t, err)
}
