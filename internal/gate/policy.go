package gate

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"

	"github.com/venuesync/backend/internal/actions"
)

// Thresholds are the numeric limits above which an action needs approval.
type Thresholds struct {
	RevenueChange        float64
	CustomerImpact       int
	MinAIConfidence      float64
	HighRiskApproval     bool
	HighPriorityApproval bool
}

// DefaultThresholds returns the standard approval limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RevenueChange:        1000,
		CustomerImpact:       100,
		MinAIConfidence:      0.9,
		HighRiskApproval:     true,
		HighPriorityApproval: true,
	}
}

// Rule is an additional approval condition written in CEL. The expression
// sees two variables, action and impact, and must evaluate to a bool; true
// means the action needs approval.
//
//	action.service == "opendate" && impact.customerImpact > 1000.0
type Rule struct {
	Name       string
	Expression string
}

type compiledRule struct {
	name string
	prg  cel.Program
}

// Policy decides whether an action requires human approval.
type Policy struct {
	thresholds Thresholds
	rules      []compiledRule
}

// NewPolicy compiles the CEL rules up front so a bad expression fails at
// startup rather than on the first action.
func NewPolicy(t Thresholds, rules []Rule) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.DynType),
		cel.Variable("impact", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	p := &Policy{thresholds: t}
	for _, r := range rules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %q: compile: %w", r.Name, issues.Err())
		}
		prg, err := env.Program(ast, cel.CostLimit(10000))
		if err != nil {
			return nil, fmt.Errorf("rule %q: program: %w", r.Name, err)
		}
		p.rules = append(p.rules, compiledRule{name: r.Name, prg: prg})
	}
	return p, nil
}

// Thresholds returns the policy's default limits.
func (p *Policy) Thresholds() Thresholds { return p.thresholds }

// RequiresApproval applies the built-in limits t and then every CEL rule.
// It returns the reasons that triggered approval, in evaluation order.
func (p *Policy) RequiresApproval(a *actions.Action, impact actions.Impact, t Thresholds) (bool, []string, error) {
	var reasons []string

	if t.HighRiskApproval && impact.RiskLevel == actions.RiskHigh {
		reasons = append(reasons, "risk level is high")
	}
	if t.RevenueChange > 0 && math.Abs(impact.RevenueChange) > t.RevenueChange {
		reasons = append(reasons, fmt.Sprintf("revenue change exceeds %.0f", t.RevenueChange))
	}
	if t.CustomerImpact > 0 && impact.CustomerImpact > t.CustomerImpact {
		reasons = append(reasons, fmt.Sprintf("affects more than %d customers", t.CustomerImpact))
	}
	if t.HighPriorityApproval && a.Priority == actions.PriorityHigh {
		reasons = append(reasons, "priority is high")
	}
	if a.CreatedBy == actions.CreatedByAI && a.Confidence != nil && *a.Confidence < t.MinAIConfidence {
		reasons = append(reasons, fmt.Sprintf("AI confidence below %.2f", t.MinAIConfidence))
	}

	if len(p.rules) > 0 {
		input := map[string]any{
			"action": actionInput(a),
			"impact": impactInput(impact),
		}
		for _, r := range p.rules {
			out, _, err := r.prg.Eval(input)
			if err != nil {
				return false, nil, fmt.Errorf("rule %q: eval: %w", r.name, err)
			}
			hit, ok := out.Value().(bool)
			if !ok {
				return false, nil, fmt.Errorf("rule %q: result is not a bool", r.name)
			}
			if hit {
				reasons = append(reasons, "rule "+r.name)
			}
		}
	}

	return len(reasons) > 0, reasons, nil
}

// All numbers are passed as doubles so rules never mix int and double
// operands.
func actionInput(a *actions.Action) map[string]any {
	params := make(map[string]any, len(a.Parameters))
	for k, v := range a.Parameters {
		if f, ok := a.Float(k); ok {
			if _, isString := v.(string); !isString {
				params[k] = f
				continue
			}
		}
		params[k] = v
	}
	in := map[string]any{
		"service":    string(a.Service),
		"actionType": a.ActionType,
		"venueId":    a.VenueID,
		"priority":   string(a.Priority),
		"createdBy":  a.CreatedBy,
		"parameters": params,
	}
	if a.Confidence != nil {
		in["confidence"] = *a.Confidence
	}
	return in
}

func impactInput(i actions.Impact) map[string]any {
	items := i.AffectedItems
	if items == nil {
		items = []string{}
	}
	return map[string]any{
		"riskLevel":      string(i.RiskLevel),
		"revenueChange":  i.RevenueChange,
		"customerImpact": float64(i.CustomerImpact),
		"affectedItems":  items,
	}
}
