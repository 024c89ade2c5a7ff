package evo

import (
	"context"
	"fmt"
	"math/rand"

	"beyondgd/internal/data"
	"beyondgd/internal/optim"
)

type GenerationConfig struct {
	PopulationSize int
	// SelectionSize is an absolute elite count (>= 1) or a rate in (0,1).
	SelectionSize float64
	Selector      Selector
	Evaluator     Evaluator

	CrossoverProb float64
	// Dominance is P(keep dominant element) during crossover.
	Dominance    float64
	MutationRate float64
	MutationProb float64
	LearningRate float64
	LearningProb float64
	Optimizer    optim.Factory

	IDPrefix string
	Rand     *rand.Rand
	Seed     int64
}

// Breeder produces successive generations. It owns its random source and
// is not safe for concurrent use.
type Breeder struct {
	cfg        GenerationConfig
	rng        *rand.Rand
	generation int
}

func NewBreeder(cfg GenerationConfig) (*Breeder, error) {
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.SelectionSize <= 0 {
		return nil, fmt.Errorf("selection size must be > 0")
	}
	probabilities := []struct {
		name  string
		value float64
	}{
		{"crossover probability", cfg.CrossoverProb},
		{"mutation probability", cfg.MutationProb},
		{"learning probability", cfg.LearningProb},
	}
	for _, p := range probabilities {
		if p.value < 0 || p.value > 1 {
			return nil, fmt.Errorf("%w: %s must be in [0,1], got %v", ErrInvalidRate, p.name, p.value)
		}
	}
	if cfg.Dominance < 0 || cfg.Dominance > 1 {
		return nil, fmt.Errorf("%w: dominance must be in [0,1], got %v", ErrInvalidRate, cfg.Dominance)
	}
	if cfg.MutationRate < 0 {
		return nil, fmt.Errorf("%w: mutation rate must be >= 0", ErrInvalidRate)
	}
	if cfg.LearningRate < 0 {
		return nil, fmt.Errorf("%w: learning rate must be >= 0", ErrInvalidRate)
	}
	if cfg.Selector == nil {
		cfg.Selector = EliteSelector{}
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = ParallelEvaluator{}
	}
	if cfg.Optimizer == nil {
		cfg.Optimizer = func(lr float64) optim.Optimizer { return optim.NewAdam(lr) }
	}
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "e"
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}
	return &Breeder{cfg: cfg, rng: rng}, nil
}

func (b *Breeder) Config() GenerationConfig {
	return b.cfg
}

// Generation counts the generations produced so far.
func (b *Breeder) Generation() int {
	return b.generation
}

// Gadam scores pop on batch, keeps the elite and refills a new population of
// PopulationSize offspring. Each offspring may take one gradient step, a
// crossover and a mutation, in that order. Offspring carry a 0 placeholder
// score until the next scoring pass.
func (b *Breeder) Gadam(ctx context.Context, pop *Population, batch data.Batch) (*Population, error) {
	if err := b.cfg.Evaluator.Evaluate(ctx, pop, OnBatch(batch)); err != nil {
		return nil, err
	}
	elite, err := b.cfg.Selector.Select(b.rng, pop, SelectionCount(pop.Len(), b.cfg.SelectionSize))
	if err != nil {
		return nil, err
	}

	next := NewPopulation(b.cfg.PopulationSize)
	for i := 0; i < b.cfg.PopulationSize; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		child, err := b.offspring(elite, batch, i, true, true)
		if err != nil {
			return nil, err
		}
		next.Set(child, 0)
	}
	b.generation++
	return next, nil
}

// Evolve selects from the scores pop already carries, breeds PopulationSize
// offspring by crossover and mutation and scores them on batch right away.
func (b *Breeder) Evolve(ctx context.Context, pop *Population, batch data.Batch) (*Population, error) {
	elite, err := b.cfg.Selector.Select(b.rng, pop, SelectionCount(pop.Len(), b.cfg.SelectionSize))
	if err != nil {
		return nil, err
	}

	next := NewPopulation(b.cfg.PopulationSize)
	for i := 0; i < b.cfg.PopulationSize; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		child, err := b.offspring(elite, batch, i, false, false)
		if err != nil {
			return nil, err
		}
		next.Set(child, 0)
	}
	if err := b.cfg.Evaluator.Evaluate(ctx, next, OnBatch(batch)); err != nil {
		return nil, err
	}
	b.generation++
	return next, nil
}

// offspring breeds one child from elite. learn enables the gradient step;
// selfCross allows crossover when the elite holds a single entity.
func (b *Breeder) offspring(elite *Population, batch data.Batch, index int, learn, selfCross bool) (Entity, error) {
	parent, err := PickUniform(b.rng, elite)
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("%s-g%d-i%d", b.cfg.IDPrefix, b.generation+1, index)

	// child aliases parent until the first operator produces a copy.
	child := parent
	owned := false

	if learn && b.cfg.LearningProb > b.rng.Float64() {
		child = parent.Clone(id)
		owned = true
		if _, err := GradientStep(child, batch, b.cfg.Optimizer(b.cfg.LearningRate)); err != nil {
			return nil, err
		}
	}

	if b.cfg.CrossoverProb > b.rng.Float64() && (selfCross || elite.Len() > 1) {
		recessive, err := PickUniform(b.rng, elite)
		if err != nil {
			return nil, err
		}
		child, err = Cross(b.rng, child, recessive, b.cfg.Dominance, id)
		if err != nil {
			return nil, err
		}
		owned = true
	}

	if b.cfg.MutationProb > b.rng.Float64() {
		mutated, err := Mutate(b.rng, child, b.cfg.MutationRate, id)
		if err != nil {
			return nil, err
		}
		child = mutated.Entity
		owned = true
	}

	if !owned {
		child = parent.Clone(id)
	}
	child.SetTraining(false)
	return child, nil
}

// GradientStep runs one optimizer step on e against batch and returns the
// loss before the update. Training mode is enabled only for the step.
func GradientStep(e Entity, batch data.Batch, opt optim.Optimizer) (float64, error) {
	d, ok := e.(Differentiable)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotDifferentiable, e.ID())
	}
	d.SetTraining(true)
	defer d.SetTraining(false)

	loss, grads, err := d.Loss(batch, WithGrad)
	if err != nil {
		return 0, fmt.Errorf("loss for %s: %w", e.ID(), err)
	}
	if err := opt.Step(d.Parameters(), grads); err != nil {
		return 0, fmt.Errorf("optimizer step for %s: %w", e.ID(), err)
	}
	return loss, nil
}

// SeedPopulation fills a population with size independent copies of base,
// each perturbed with noise. base itself is never a member.
func SeedPopulation(rng *rand.Rand, base Entity, size int, noise float64, prefix string) (*Population, error) {
	if size <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	pop := NewPopulation(size)
	for i := 0; i < size; i++ {
		m, err := Mutate(rng, base, noise, fmt.Sprintf("%s-seed-i%d", prefix, i))
		if err != nil {
			return nil, err
		}
		pop.Set(m.Entity, 0)
	}
	return pop, nil
}
