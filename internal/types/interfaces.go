package types

import "context"

// Reasoner produces plan and verification text. The engine treats its output
// as opaque text; parsing is supplied by the caller.
// Mirrors the minimal surface of the reasoner client to avoid import cycles.
type Reasoner interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ToolExecutor dispatches one plan step to its tool implementation.
// The scheduler calls this once per step; a returned error marks that
// step's result failed without aborting sibling steps.
type ToolExecutor interface {
	Invoke(ctx context.Context, action string, params map[string]interface{}) (string, error)
}

// SafetyGate is consulted once per step before execution.
type SafetyGate interface {
	Check(action string, params map[string]interface{}) SafetyDecision
}

// ExperienceStore persists experiences. The engine does not depend on its
// storage format.
type ExperienceStore interface {
	Store(ctx context.Context, exp Experience) error
}

// SymbolicVerifier checks plan text against a symbolic policy.
// Optional collaborator: a nil verifier defaults to VerdictCertainTrue.
type SymbolicVerifier interface {
	Verify(ctx context.Context, planText string) (Verdict, error)
}
