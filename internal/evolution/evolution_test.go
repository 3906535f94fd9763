package evolution

import (
	"math/rand"
	"testing"
	"time"

	"ouroboros/internal/selfmodel"
	"ouroboros/internal/types"
)

func experiences(n int, successes int) []types.Experience {
	out := make([]types.Experience, n)
	for i := range out {
		out[i] = types.Experience{
			Goal:         "goal",
			Success:      i < successes,
			QualityScore: 0.7,
			Duration:     2 * time.Second,
		}
	}
	return out
}

func seedChromosome() Chromosome {
	return FromWeights(selfmodel.StrategyGeneNames(), map[string]float64{
		"planning_depth":            0.5,
		"tool_preference":           0.5,
		"verification_strictness":   0.5,
		"decomposition_granularity": 0.5,
	})
}

func TestMutateStaysInRange(t *testing.T) {
	// Property check across seeds: weight remains in [0,1] after any finite
	// mutation sequence.
	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		g := Gene{Name: "planning_depth", Weight: rng.Float64()}
		for i := 0; i < 1000; i++ {
			rate := rng.Float64() * 2 // Rates above 1 still clamp
			Mutate(&g, rate, rng)
			if g.Weight < 0 || g.Weight > 1 {
				t.Fatalf("seed %d iter %d: weight %v out of range", seed, i, g.Weight)
			}
		}
	}
}

func TestEvaluateEmptyIsNeutral(t *testing.T) {
	c := seedChromosome()
	if got := Evaluate(&c, nil); got != 0.5 {
		t.Fatalf("Evaluate(empty) = %v, want exactly 0.5", got)
	}
}

func TestEvaluateBounds(t *testing.T) {
	cases := []struct {
		name string
		exps []types.Experience
	}{
		{name: "all_success", exps: experiences(10, 10)},
		{name: "all_failure", exps: experiences(10, 0)},
		{name: "mixed", exps: experiences(10, 6)},
		{name: "no_durations", exps: []types.Experience{{Goal: "g", Success: true, QualityScore: 0.9}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := seedChromosome()
			got := Evaluate(&c, tc.exps)
			if got < 0 || got > 1 {
				t.Fatalf("fitness %v out of [0,1]", got)
			}
		})
	}
}

func TestEvaluateRewardsSuccess(t *testing.T) {
	c := seedChromosome()
	good := Evaluate(&c, experiences(10, 10))
	bad := Evaluate(&c, experiences(10, 0))
	if good <= bad {
		t.Fatalf("all-success fitness %v <= all-failure fitness %v", good, bad)
	}
}

func TestEvaluateCrossTerms(t *testing.T) {
	exps := experiences(10, 8)

	deep := seedChromosome()
	for i := range deep.Genes {
		if deep.Genes[i].Name == "tool_preference" {
			deep.Genes[i].Weight = 1.0
		}
	}
	base := seedChromosome()

	// Higher tool preference multiplies success upward.
	if Evaluate(&deep, exps) <= Evaluate(&base, exps) {
		t.Fatal("raising tool_preference did not raise fitness on a success-heavy history")
	}
}

func TestEvolveRequiresMinimumExperiences(t *testing.T) {
	e := New(DefaultConfig(), 1)
	if _, ok := e.Evolve(seedChromosome(), experiences(4, 4)); ok {
		t.Fatal("evolution ran below the experience minimum")
	}
	if _, ok := e.Evolve(seedChromosome(), experiences(5, 5)); !ok {
		t.Fatal("evolution refused to run at the experience minimum")
	}
}

func TestEvolveProducesValidChromosome(t *testing.T) {
	e := New(DefaultConfig(), 42)
	best, ok := e.Evolve(seedChromosome(), experiences(20, 15))
	if !ok {
		t.Fatal("evolution did not run")
	}
	if len(best.Genes) != 4 {
		t.Fatalf("gene count = %d, want 4", len(best.Genes))
	}
	for _, g := range best.Genes {
		if g.Weight < 0 || g.Weight > 1 {
			t.Fatalf("gene %s weight %v out of range", g.Name, g.Weight)
		}
	}
	if best.Fitness < 0 || best.Fitness > 1 {
		t.Fatalf("fitness %v out of range", best.Fitness)
	}
}

func TestEvolveSwallowsInternalPanics(t *testing.T) {
	e := New(DefaultConfig(), 7)

	// A seed with no genes makes crossover/mutation degenerate; whatever
	// happens internally, Evolve must not propagate a panic.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic escaped Evolve: %v", r)
		}
	}()
	e.Evolve(Chromosome{}, experiences(10, 5))
}

func TestPromoteThreshold(t *testing.T) {
	e := New(DefaultConfig(), 1)

	m := selfmodel.New()
	low := seedChromosome()
	low.Fitness = 0.5
	if e.Promote(m, low) {
		t.Fatal("promoted below threshold")
	}

	high := seedChromosome()
	for i := range high.Genes {
		high.Genes[i].Weight = 0.9
	}
	high.Fitness = 0.8
	if !e.Promote(m, high) {
		t.Fatal("did not promote above threshold")
	}
	if got := m.StrategyGenes()["planning_depth"]; got != 0.9 {
		t.Fatalf("promoted gene weight = %v, want 0.9", got)
	}
}

func TestSeedFromModel(t *testing.T) {
	m := selfmodel.New()
	m.UpsertCapability(types.Capability{Name: "tool_preference", Confidence: 0.75})

	seed := SeedFromModel(m)
	if w, ok := seed.Gene("tool_preference"); !ok || w != 0.75 {
		t.Fatalf("seed tool_preference = %v, %v", w, ok)
	}
	if len(seed.Genes) != 4 {
		t.Fatalf("seed gene count = %d, want 4", len(seed.Genes))
	}
}
