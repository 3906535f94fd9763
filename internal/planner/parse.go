package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"ouroboros/internal/types"
)

// stepLine matches "action(param=value, ...) -> expectation [confidence]".
// Expectation and confidence are optional.
var stepLine = regexp.MustCompile(`^([A-Za-z_][\w-]*)\s*\(([^)]*)\)\s*(?:->\s*(.*?))?\s*(?:\[([0-9.]+)\])?\s*$`)

const defaultStepConfidence = 0.8

// ParseSteps is the default lenient line-oriented plan parser used by the
// CLI as its caller-supplied parser. Natural-language parsing beyond this
// format is out of scope; callers with richer formats supply their own
// ParseFunc.
func ParseSteps(text string) ([]types.PlanStep, error) {
	var steps []types.PlanStep

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		line = strings.TrimPrefix(line, "- ")
		line = trimOrdinal(line)
		if line == "" || strings.HasPrefix(line, "```") || strings.HasPrefix(line, "#") {
			continue
		}

		m := stepLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		step := types.PlanStep{
			Action:     m[1],
			Params:     parseParams(m[2]),
			Expected:   strings.TrimSpace(m[3]),
			Confidence: defaultStepConfidence,
		}
		if m[4] != "" {
			conf, err := strconv.ParseFloat(m[4], 64)
			if err != nil {
				return nil, fmt.Errorf("step %q: bad confidence %q", m[1], m[4])
			}
			step.Confidence = types.Clamp01(conf)
		}
		steps = append(steps, step)
	}

	return steps, nil
}

// trimOrdinal strips a leading "1." / "2)" list marker.
func trimOrdinal(line string) string {
	for i, r := range line {
		if r >= '0' && r <= '9' {
			continue
		}
		if (r == '.' || r == ')') && i > 0 {
			return strings.TrimSpace(line[i+1:])
		}
		break
	}
	return line
}

func parseParams(raw string) map[string]interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	params := make(map[string]interface{})
	for _, pair := range strings.Split(raw, ",") {
		key, val, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		params[key] = strings.Trim(strings.TrimSpace(val), `"'`)
	}
	if len(params) == 0 {
		return nil
	}
	return params
}
