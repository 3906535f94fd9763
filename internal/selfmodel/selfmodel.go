// Package selfmodel implements the agent's persistent self-model: the phase
// state machine, capability/limitation/experience lists, confidence
// assessment, and the safety pattern gate.
//
// The model is the single atom of the improvement loop. It is mutated only
// through its own methods, and all mutation is serialized behind one mutex so
// concurrent goals against a shared model cannot corrupt it.
package selfmodel

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ouroboros/internal/logging"
	"ouroboros/internal/types"

	"github.com/google/uuid"
)

// Phase is one of the four cycle phases.
type Phase string

const (
	PhasePlan    Phase = "/plan"
	PhaseExecute Phase = "/execute"
	PhaseVerify  Phase = "/verify"
	PhaseLearn   Phase = "/learn"
)

func (p Phase) String() string { return string(p) }

// nextPhase is the fixed transition table. No other transitions exist.
var nextPhase = map[Phase]Phase{
	PhasePlan:    PhaseExecute,
	PhaseExecute: PhaseVerify,
	PhaseVerify:  PhaseLearn,
	PhaseLearn:   PhasePlan,
}

// strategyGeneNames are the named planning knobs the evolver tunes.
// They live on the model as capabilities so the next Plan phase reads them
// the same way it reads any other capability.
var strategyGeneNames = []string{
	"planning_depth",
	"tool_preference",
	"verification_strictness",
	"decomposition_granularity",
}

// DefaultGeneWeight is the weight every strategy gene starts with.
const DefaultGeneWeight = 0.5

// Model is the agent's self-model.
type Model struct {
	mu sync.Mutex

	id        string
	createdAt time.Time

	phase      Phase
	cycleCount int
	goal       string

	capabilities []types.Capability
	limitations  []types.Limitation
	experiences  []types.Experience
	successRate  float64

	// Free-form key/value state, updated as a side effect of every change.
	state map[string]interface{}
}

// New creates a self-model in the Plan phase with default strategy genes.
func New() *Model {
	m := &Model{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		phase:     PhasePlan,
		state:     make(map[string]interface{}),
	}
	for _, name := range strategyGeneNames {
		m.capabilities = append(m.capabilities, types.Capability{
			Name:        name,
			Description: "strategy gene",
			Confidence:  DefaultGeneWeight,
		})
	}
	m.touch("created")
	return m
}

// ID returns the model's instance id.
func (m *Model) ID() string { return m.id }

// touch records a state-change side effect. Caller must hold mu.
func (m *Model) touch(event string) {
	m.state["phase"] = string(m.phase)
	m.state["cycle_count"] = m.cycleCount
	m.state["goal"] = m.goal
	m.state["last_event"] = event
	m.state["updated_at"] = time.Now()
}

// Phase returns the current phase.
func (m *Model) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// CycleCount returns the number of completed cycles.
func (m *Model) CycleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycleCount
}

// Goal returns the current goal.
func (m *Model) Goal() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.goal
}

// AdvancePhase moves to the next phase in the fixed cycle
// Plan -> Execute -> Verify -> Learn -> Plan. The Learn -> Plan transition
// increments the cycle count. An unrecognized phase is a programming
// invariant violation, not a recoverable error.
func (m *Model) AdvancePhase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := nextPhase[m.phase]
	if !ok {
		panic(fmt.Sprintf("selfmodel: unknown phase %q", m.phase))
	}
	if m.phase == PhaseLearn {
		m.cycleCount++
	}
	m.phase = next
	m.touch("advance_phase")
	logging.SelfModelDebug("phase -> %s (cycle %d)", next, m.cycleCount)
	return next
}

// SetGoal sets the current goal. An empty goal is rejected before any
// state mutation.
func (m *Model) SetGoal(goal string) error {
	if strings.TrimSpace(goal) == "" {
		return &types.ValidationError{Field: "goal", Reason: "must not be empty"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goal = goal
	m.touch("set_goal")
	return nil
}

// RecordExperience appends an experience and recomputes the aggregate
// success rate. The experience list is append-only.
func (m *Model) RecordExperience(exp types.Experience) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp.Timestamp.IsZero() {
		exp.Timestamp = time.Now()
	}
	exp.QualityScore = types.Clamp01(exp.QualityScore)
	m.experiences = append(m.experiences, exp)

	succeeded := 0
	for _, e := range m.experiences {
		if e.Success {
			succeeded++
		}
	}
	m.successRate = float64(succeeded) / float64(len(m.experiences))
	m.touch("record_experience")
	logging.SelfModel("experience recorded: goal=%q success=%v rate=%.2f",
		exp.Goal, exp.Success, m.successRate)
}

// Experiences returns a copy of the experience list.
func (m *Model) Experiences() []types.Experience {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Experience, len(m.experiences))
	copy(out, m.experiences)
	return out
}

// SuccessRate returns the aggregate success rate over all experiences,
// or 0 when none exist.
func (m *Model) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successRate
}

// UpsertCapability adds a capability or updates an existing one by name.
// Confidence is clamped into [0,1]. Insertion order is preserved for new
// capabilities.
func (m *Model) UpsertCapability(cap types.Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cap.Confidence = types.Clamp01(cap.Confidence)
	for i := range m.capabilities {
		if m.capabilities[i].Name == cap.Name {
			m.capabilities[i].Confidence = cap.Confidence
			if cap.Description != "" {
				m.capabilities[i].Description = cap.Description
			}
			m.touch("update_capability")
			return
		}
	}
	m.capabilities = append(m.capabilities, cap)
	m.touch("add_capability")
}

// Capabilities returns a copy of the capability list.
func (m *Model) Capabilities() []types.Capability {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Capability, len(m.capabilities))
	copy(out, m.capabilities)
	return out
}

// AddLimitation records a known weakness.
func (m *Model) AddLimitation(lim types.Limitation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limitations = append(m.limitations, lim)
	m.touch("add_limitation")
}

// Limitations returns a copy of the limitation list.
func (m *Model) Limitations() []types.Limitation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Limitation, len(m.limitations))
	copy(out, m.limitations)
	return out
}

// StrategyGenes returns the current weight of each strategy gene,
// defaulting to DefaultGeneWeight for genes missing from the capability list.
func (m *Model) StrategyGenes() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	genes := make(map[string]float64, len(strategyGeneNames))
	for _, name := range strategyGeneNames {
		genes[name] = DefaultGeneWeight
	}
	for _, c := range m.capabilities {
		if _, ok := genes[c.Name]; ok {
			genes[c.Name] = c.Confidence
		}
	}
	return genes
}

// StrategyGeneNames returns the fixed gene name list, in order.
func StrategyGeneNames() []string {
	out := make([]string, len(strategyGeneNames))
	copy(out, strategyGeneNames)
	return out
}

// ConfidenceLevel classifies how confident the model is about an action.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "/high"
	ConfidenceMedium ConfidenceLevel = "/medium"
	ConfidenceLow    ConfidenceLevel = "/low"
)

// AssessConfidence classifies an action:
//   - High: a matching capability has confidence > 0.7 AND the historical
//     success rate for goals containing the action exceeds 0.8
//   - Medium: success rate > 0.5 OR a matching capability exists
//   - Low: otherwise
//
// With no matching experience the success rate defaults to 0.5 (neutral).
func (m *Model) AssessConfidence(action string) ConfidenceLevel {
	m.mu.Lock()
	defer m.mu.Unlock()

	lowered := strings.ToLower(action)

	var matched *types.Capability
	for i := range m.capabilities {
		if strings.Contains(strings.ToLower(m.capabilities[i].Name), lowered) ||
			strings.Contains(lowered, strings.ToLower(m.capabilities[i].Name)) {
			matched = &m.capabilities[i]
			break
		}
	}

	rate := 0.5 // Neutral when no matching experience exists
	total, succeeded := 0, 0
	for _, e := range m.experiences {
		if strings.Contains(strings.ToLower(e.Goal), lowered) {
			total++
			if e.Success {
				succeeded++
			}
		}
	}
	if total > 0 {
		rate = float64(succeeded) / float64(total)
	}

	if matched != nil && matched.Confidence > 0.7 && rate > 0.8 {
		return ConfidenceHigh
	}
	if rate > 0.5 || matched != nil {
		return ConfidenceMedium
	}
	return ConfidenceLow
}

// SelfReflect produces a deterministic textual summary of the model's state.
// Used only for prompt construction by the external reasoner, never for
// control flow.
func (m *Model) SelfReflect() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	top := make([]types.Capability, len(m.capabilities))
	copy(top, m.capabilities)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Confidence > top[j].Confidence
	})
	if len(top) > 3 {
		top = top[:3]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "phase: %s\n", m.phase)
	fmt.Fprintf(&b, "cycle: %d\n", m.cycleCount)
	fmt.Fprintf(&b, "goal: %s\n", m.goal)
	fmt.Fprintf(&b, "capabilities: %d\n", len(m.capabilities))
	fmt.Fprintf(&b, "limitations: %d\n", len(m.limitations))
	fmt.Fprintf(&b, "experiences: %d\n", len(m.experiences))
	fmt.Fprintf(&b, "success_rate: %.2f\n", m.successRate)
	b.WriteString("top_capabilities:\n")
	for _, c := range top {
		fmt.Fprintf(&b, "  - %s (%.2f)\n", c.Name, c.Confidence)
	}
	return b.String()
}
