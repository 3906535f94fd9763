// Package planner builds plans from goals and derives step dependency
// graphs from them.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"ouroboros/internal/logging"
	"ouroboros/internal/types"
)

// Graph maps a step index to the set of step indices it depends on.
// An empty set means the step is eligible for the first batch.
type Graph map[int]map[int]bool

// BuildGraph derives a dependency graph from an ordered step list.
//
// For each step i, every earlier step j is scanned: i depends on j when any
// string parameter value of step i contains the literal reference token
// "$<action>" or "output_<action>" derived from step j's action. This is a
// substring heuristic, not a dataflow analysis; the limitation is deliberate
// and the contract is preserved as-is.
func BuildGraph(steps []types.PlanStep) Graph {
	g := make(Graph, len(steps))
	for i := range steps {
		g[i] = make(map[int]bool)
		for j := 0; j < i; j++ {
			if refersTo(steps[i], steps[j].Action) {
				g[i][j] = true
			}
		}
	}
	logging.PlannerDebug("dependency graph built: %d steps, %d edges", len(steps), g.EdgeCount())
	return g
}

// refersTo reports whether any parameter value of step contains a literal
// reference token for the given action.
func refersTo(step types.PlanStep, action string) bool {
	if action == "" {
		return false
	}
	dollar := "$" + action
	output := "output_" + action
	for _, val := range step.Params {
		text, ok := val.(string)
		if !ok {
			continue
		}
		if strings.Contains(text, dollar) || strings.Contains(text, output) {
			return true
		}
	}
	return false
}

// EdgeCount returns the total number of dependency edges.
func (g Graph) EdgeCount() int {
	n := 0
	for _, deps := range g {
		n += len(deps)
	}
	return n
}

// Deps returns the sorted prerequisite indices of a step.
func (g Graph) Deps(i int) []int {
	out := make([]int, 0, len(g[i]))
	for j := range g[i] {
		out = append(out, j)
	}
	sort.Ints(out)
	return out
}

// Validate rejects graphs that violate the construction invariant: a step
// must not depend on itself or on a later index. BuildGraph cannot produce
// such edges, but graphs can also arrive from callers, so the invariant is
// checked rather than assumed.
func (g Graph) Validate() error {
	for i, deps := range g {
		for j := range deps {
			if j == i {
				return fmt.Errorf("planner: step %d depends on itself", i)
			}
			if j > i {
				return fmt.Errorf("planner: step %d depends on later step %d", i, j)
			}
		}
	}
	return nil
}
