package evolution

import (
	"math/rand"
	"sort"
)

// Ops are the genome-specific operations the generic GA driver needs.
// The driver itself knows nothing about genes or experiences.
type Ops[G any] struct {
	Evaluate  func(G) float64
	Crossover func(a, b G) G
	Mutate    func(G) G
}

// elites are carried into the next generation unchanged.
const elites = 2

// RunGA drives generations of tournament selection, crossover, and mutation
// over the population, returning the best genome and its fitness. The
// population slice is not modified.
func RunGA[G any](population []G, ops Ops[G], generations int, rng *rand.Rand) (G, float64) {
	type scored struct {
		genome  G
		fitness float64
	}

	pop := make([]scored, len(population))
	for i, g := range population {
		pop[i] = scored{genome: g, fitness: ops.Evaluate(g)}
	}

	rank := func() {
		sort.SliceStable(pop, func(i, j int) bool { return pop[i].fitness > pop[j].fitness })
	}
	rank()

	tournament := func() G {
		a := pop[rng.Intn(len(pop))]
		b := pop[rng.Intn(len(pop))]
		if a.fitness >= b.fitness {
			return a.genome
		}
		return b.genome
	}

	for gen := 0; gen < generations; gen++ {
		next := make([]scored, 0, len(pop))
		for i := 0; i < elites && i < len(pop); i++ {
			next = append(next, pop[i])
		}
		for len(next) < len(pop) {
			child := ops.Mutate(ops.Crossover(tournament(), tournament()))
			next = append(next, scored{genome: child, fitness: ops.Evaluate(child)})
		}
		pop = next
		rank()
	}

	return pop[0].genome, pop[0].fitness
}
