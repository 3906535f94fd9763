// Package evolution converts historical execution outcomes into updated
// planning parameters via a small genetic algorithm.
//
// Evolution is an optimization, not a correctness requirement: every internal
// failure is caught and reported as "no improvement found", never propagated.
package evolution

import (
	"math/rand"

	"ouroboros/internal/types"
)

// Gene is a named scalar planning knob in [0,1].
type Gene struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description,omitempty"`
}

// Chromosome is an ordered set of named genes (names unique) plus a fitness
// score in [0,1].
type Chromosome struct {
	Genes   []Gene  `json:"genes"`
	Fitness float64 `json:"fitness"`
}

// Gene returns the weight of the named gene.
func (c *Chromosome) Gene(name string) (float64, bool) {
	for _, g := range c.Genes {
		if g.Name == name {
			return g.Weight, true
		}
	}
	return 0, false
}

// geneOr returns the named gene weight or a neutral 0.5 default.
func (c *Chromosome) geneOr(name string) float64 {
	if w, ok := c.Gene(name); ok {
		return w
	}
	return 0.5
}

// Clone deep-copies the chromosome.
func (c *Chromosome) Clone() Chromosome {
	genes := make([]Gene, len(c.Genes))
	copy(genes, c.Genes)
	return Chromosome{Genes: genes, Fitness: c.Fitness}
}

// FromWeights builds a chromosome from named weights in the given name
// order, clamping each into [0,1].
func FromWeights(names []string, weights map[string]float64) Chromosome {
	genes := make([]Gene, 0, len(names))
	for _, name := range names {
		genes = append(genes, Gene{
			Name:   name,
			Weight: types.Clamp01(weights[name]),
		})
	}
	return Chromosome{Genes: genes}
}

// Mutate perturbs the gene weight by uniform(-rate, rate), clamped into
// [0,1]. The invariant holds after any finite sequence of mutations.
func Mutate(g *Gene, rate float64, rng *rand.Rand) {
	delta := (rng.Float64()*2 - 1) * rate
	g.Weight = types.Clamp01(g.Weight + delta)
}

// randomChromosome creates a chromosome with the same gene names and
// uniformly random weights.
func randomChromosome(template Chromosome, rng *rand.Rand) Chromosome {
	genes := make([]Gene, len(template.Genes))
	for i, g := range template.Genes {
		genes[i] = Gene{
			Name:        g.Name,
			Weight:      rng.Float64(),
			Description: g.Description,
		}
	}
	return Chromosome{Genes: genes}
}
