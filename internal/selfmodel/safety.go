package selfmodel

import (
	"fmt"
	"strings"

	"ouroboros/internal/logging"
	"ouroboros/internal/types"
)

// denyPatterns is the fixed set of self-destruction and oversight-bypass
// patterns. Matching is case-insensitive substring; anything else passes.
var denyPatterns = []string{
	"delete self",
	"disable safety",
	"modify own code",
	"bypass oversight",
	"disable logging",
	"exfiltrate",
	"self-replicate",
}

// IsSafeAction reports whether an action passes the safety pattern gate.
func (m *Model) IsSafeAction(action string) bool {
	lowered := strings.ToLower(action)
	for _, pat := range denyPatterns {
		if strings.Contains(lowered, pat) {
			logging.SafetyWarn("action denied: %q matches pattern %q", action, pat)
			return false
		}
	}
	return true
}

// PatternGate adapts the model's safety patterns to the SafetyGate interface.
// Risk score is 1.0 on a pattern match and 0.1 otherwise; parameter values
// are scanned the same way as the action text.
type PatternGate struct {
	model *Model
}

// NewPatternGate creates a gate backed by the given model.
func NewPatternGate(m *Model) *PatternGate {
	if m == nil {
		panic("selfmodel: PatternGate requires a model")
	}
	return &PatternGate{model: m}
}

// Check implements types.SafetyGate.
func (g *PatternGate) Check(action string, params map[string]interface{}) types.SafetyDecision {
	if !g.model.IsSafeAction(action) {
		return types.SafetyDecision{
			Allowed:   false,
			Reason:    fmt.Sprintf("action %q matches a denied safety pattern", action),
			RiskScore: 1.0,
		}
	}
	for key, val := range params {
		text, ok := val.(string)
		if !ok {
			continue
		}
		if !g.model.IsSafeAction(text) {
			return types.SafetyDecision{
				Allowed:   false,
				Reason:    fmt.Sprintf("parameter %q matches a denied safety pattern", key),
				RiskScore: 1.0,
			}
		}
	}
	return types.SafetyDecision{Allowed: true, RiskScore: 0.1}
}
