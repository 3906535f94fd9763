package evolution

import (
	"math/rand"
	"time"

	"ouroboros/internal/logging"
	"ouroboros/internal/selfmodel"
	"ouroboros/internal/types"
)

// Config tunes the evolver.
type Config struct {
	PopulationSize     int     // Seed chromosome + (PopulationSize-1) random
	Generations        int     // Selection/crossover/mutation rounds
	MutationRate       float64 // Uniform mutation range per gene
	PromotionThreshold float64 // Minimum best fitness to promote genes
	MinExperiences     int     // Evolution does not run below this
}

// DefaultConfig returns the default evolver configuration.
func DefaultConfig() Config {
	return Config{
		PopulationSize:     10,
		Generations:        5,
		MutationRate:       0.2,
		PromotionThreshold: 0.6,
		MinExperiences:     5,
	}
}

// Evolver converts recorded experiences into updated strategy genes.
type Evolver struct {
	config Config
	rng    *rand.Rand
}

// New creates an evolver. A zero seed uses the current time.
func New(config Config, seed int64) *Evolver {
	if config.PopulationSize < 2 {
		config.PopulationSize = DefaultConfig().PopulationSize
	}
	if config.Generations <= 0 {
		config.Generations = DefaultConfig().Generations
	}
	if config.MutationRate <= 0 {
		config.MutationRate = DefaultConfig().MutationRate
	}
	if config.PromotionThreshold <= 0 {
		config.PromotionThreshold = DefaultConfig().PromotionThreshold
	}
	if config.MinExperiences <= 0 {
		config.MinExperiences = DefaultConfig().MinExperiences
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Evolver{config: config, rng: rand.New(rand.NewSource(seed))}
}

// Evolve builds a population from the seed chromosome plus random
// chromosomes and runs the GA driver over the experiences. Returns the best
// chromosome and ok=true when evolution ran; ok=false means no improvement
// was sought (too few experiences) or an internal failure was swallowed.
func (e *Evolver) Evolve(seed Chromosome, exps []types.Experience) (best Chromosome, ok bool) {
	if len(exps) < e.config.MinExperiences {
		logging.EvolutionDebug("skipping: %d experiences < minimum %d",
			len(exps), e.config.MinExperiences)
		return Chromosome{}, false
	}

	// Any internal failure is "no improvement found", never an error.
	defer func() {
		if r := recover(); r != nil {
			logging.EvolutionWarn("evolution failed, no promotion this cycle: %v", r)
			best, ok = Chromosome{}, false
		}
	}()

	timer := logging.StartTimer(logging.CategoryEvolution, "Evolve")
	defer timer.Stop()

	population := make([]Chromosome, 0, e.config.PopulationSize)
	population = append(population, seed.Clone())
	for len(population) < e.config.PopulationSize {
		population = append(population, randomChromosome(seed, e.rng))
	}

	ops := Ops[Chromosome]{
		Evaluate: func(c Chromosome) float64 {
			return Evaluate(&c, exps)
		},
		Crossover: e.crossover,
		Mutate:    e.mutate,
	}

	winner, fitness := RunGA(population, ops, e.config.Generations, e.rng)
	winner.Fitness = fitness
	logging.Evolution("evolution complete: best fitness %.3f over %d experiences",
		fitness, len(exps))
	return winner, true
}

// crossover performs uniform crossover by gene position.
func (e *Evolver) crossover(a, b Chromosome) Chromosome {
	child := a.Clone()
	for i := range child.Genes {
		if i < len(b.Genes) && e.rng.Float64() < 0.5 {
			child.Genes[i].Weight = b.Genes[i].Weight
		}
	}
	child.Fitness = 0
	return child
}

// mutate perturbs every gene with the configured rate.
func (e *Evolver) mutate(c Chromosome) Chromosome {
	out := c.Clone()
	for i := range out.Genes {
		Mutate(&out.Genes[i], e.config.MutationRate, e.rng)
	}
	return out
}

// Promote writes the winning chromosome's genes into the self-model as
// named capabilities (confidence = gene weight) when its fitness exceeds
// the promotion threshold, to be read by the next Plan phase.
func (e *Evolver) Promote(m *selfmodel.Model, best Chromosome) bool {
	if best.Fitness <= e.config.PromotionThreshold {
		logging.EvolutionDebug("fitness %.3f below promotion threshold %.2f",
			best.Fitness, e.config.PromotionThreshold)
		return false
	}
	for _, g := range best.Genes {
		m.UpsertCapability(types.Capability{
			Name:        g.Name,
			Description: "strategy gene",
			Confidence:  g.Weight,
		})
	}
	logging.Evolution("promoted %d genes at fitness %.3f", len(best.Genes), best.Fitness)
	return true
}

// SeedFromModel builds the seed chromosome from the model's current
// strategy genes.
func SeedFromModel(m *selfmodel.Model) Chromosome {
	return FromWeights(selfmodel.StrategyGeneNames(), m.StrategyGenes())
}
