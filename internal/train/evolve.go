package train

import (
	"context"
	"time"

	"beyondgd/internal/evo"
)

// Evolve breeds by crossover and mutation only. Offspring are scored on the
// batch they were bred for, and selection on the next batch uses those scores.
type Evolve struct{}

func (Evolve) Name() string { return "evolve" }

func (Evolve) Kind() Kind { return KindPopulation }

func (Evolve) Defaults() Parameters {
	return populationDefaults()
}

func (Evolve) Run(ctx context.Context, st *State, p Parameters) error {
	return runEvolution(ctx, st, p)
}

// Amoeba is asexual evolution: no crossover, every offspring is mutated.
type Amoeba struct{}

func (Amoeba) Name() string { return "amoeba" }

func (Amoeba) Kind() Kind { return KindPopulation }

func (Amoeba) Defaults() Parameters {
	p := populationDefaults()
	p.CrossoverProb = 0
	p.MutationProb = 1
	return p
}

func (Amoeba) Run(ctx context.Context, st *State, p Parameters) error {
	p.CrossoverProb = 0
	p.MutationProb = 1
	return runEvolution(ctx, st, p)
}

func runEvolution(ctx context.Context, st *State, p Parameters) error {
	if err := st.requirePopulation(); err != nil {
		return err
	}
	p.LearningProb = 0
	breeder, err := st.breeder(p, st.Population.Len())
	if err != nil {
		return err
	}
	evaluator := breeder.Config().Evaluator
	train := st.trainLoader(p)
	dev := st.devLoader(p.BatchSize)

	// Selection needs real scores before the first batch.
	if err := evaluator.Evaluate(ctx, st.Population, evo.OnSource(dev)); err != nil {
		return err
	}

	for epoch := 1; epoch <= p.EpochNum; epoch++ {
		begin := time.Now()
		for batch := range train.Iter(ctx) {
			next, err := breeder.Evolve(ctx, st.Population, batch)
			if err != nil {
				return err
			}
			st.Population = next
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if epoch%p.ReportRate == 0 {
			if err := reportPopulation(ctx, st, evaluator, epoch, begin, train, dev); err != nil {
				return err
			}
		}
	}
	return nil
}
