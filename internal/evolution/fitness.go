package evolution

import (
	"time"

	"ouroboros/internal/types"
)

// Fitness weights: success rate, average quality, speed. Must sum to 1.
const (
	weightSuccess = 0.5
	weightQuality = 0.3
	weightSpeed   = 0.2
)

// neutralFitness is returned when no experiences exist: insufficient data,
// not failure.
const neutralFitness = 0.5

// Evaluate scores a chromosome against historical experiences.
//
// Base metrics: successRate (fraction succeeded), avgQuality (mean quality
// score), speedScore (derived from mean duration when recorded, otherwise a
// 0.5 placeholder). Cross-term modifiers: planning depth raises quality and
// lowers speed, tool preference raises success, verification strictness
// raises quality and lowers speed. The result is clamped into [0,1].
func Evaluate(c *Chromosome, exps []types.Experience) float64 {
	if len(exps) == 0 {
		return neutralFitness
	}

	succeeded := 0
	qualitySum := 0.0
	var durSum time.Duration
	durCount := 0
	for _, e := range exps {
		if e.Success {
			succeeded++
		}
		qualitySum += types.Clamp01(e.QualityScore)
		if e.Duration > 0 {
			durSum += e.Duration
			durCount++
		}
	}

	successRate := float64(succeeded) / float64(len(exps))
	avgQuality := qualitySum / float64(len(exps))

	speedScore := 0.5
	if durCount > 0 {
		avgSeconds := durSum.Seconds() / float64(durCount)
		speedScore = 1 / (1 + avgSeconds)
	}

	depth := c.geneOr("planning_depth")
	toolPref := c.geneOr("tool_preference")
	strictness := c.geneOr("verification_strictness")

	// Modifiers are centered at weight 0.5 so a default chromosome is
	// neutral.
	avgQuality *= up(depth) * up(strictness)
	speedScore *= down(depth) * down(strictness)
	successRate *= up(toolPref)

	fitness := weightSuccess*successRate + weightQuality*avgQuality + weightSpeed*speedScore
	return types.Clamp01(fitness)
}

func up(w float64) float64   { return 1 + 0.2*(w-0.5) }
func down(w float64) float64 { return 1 - 0.2*(w-0.5) }
