package train

import (
	"context"
	"fmt"
	"time"

	"beyondgd/internal/evo"
	"beyondgd/internal/model"
)

// Swarm keeps the incoming model as a queen, evolves a swarm of perturbed
// copies around it and folds the swarm into the queen after every batch.
type Swarm struct{}

func (Swarm) Name() string { return "swarm" }

func (Swarm) Kind() Kind { return KindModel }

func (Swarm) Defaults() Parameters {
	p := populationDefaults()
	p.NoiseStd = 0.1
	p.LearningRate = 0.001
	p.MutationProb = 1
	return p
}

func (Swarm) Run(ctx context.Context, st *State, p Parameters) error {
	queen := st.Model
	if queen == nil {
		return ErrNoModel
	}
	if p.NoiseStd <= 0 {
		return fmt.Errorf("%w: noise_std must be > 0", evo.ErrInvalidRate)
	}
	if p.PopulationSize <= 0 {
		return fmt.Errorf("population_size must be > 0")
	}

	// Offspring are perturbed by the swarm noise, never by a gradient step.
	p.MutationRate = p.NoiseStd
	p.LearningProb = 0
	breeder, err := st.breeder(p, p.PopulationSize)
	if err != nil {
		return err
	}
	evaluator := breeder.Config().Evaluator
	train := st.trainLoader(p)
	dev := st.devLoader(p.BatchSize)

	swarm, err := evo.SeedPopulation(st.Rand, queen, p.PopulationSize, p.NoiseStd, st.IDPrefix)
	if err != nil {
		return err
	}
	if err := evaluator.Evaluate(ctx, swarm, evo.OnSource(dev)); err != nil {
		return err
	}

	for epoch := 1; epoch <= p.EpochNum; epoch++ {
		begin := time.Now()
		for batch := range train.Iter(ctx) {
			if swarm, err = breeder.Evolve(ctx, swarm, batch); err != nil {
				return err
			}
			if err := evo.CentroidUpdate(queen, swarm, p.NoiseStd, p.LearningRate); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if epoch%p.ReportRate != 0 {
			continue
		}

		if err := evaluator.Evaluate(ctx, swarm, evo.OnSource(train)); err != nil {
			return err
		}
		queenTrain, err := queen.Evaluate(ctx, train)
		if err != nil {
			return err
		}
		queenDev, err := queen.Evaluate(ctx, dev)
		if err != nil {
			return err
		}
		if err := st.report(model.EpochReport{
			Subject:    "queen",
			Epoch:      epoch,
			AvgTrain:   swarm.MeanFitness(),
			BestTrain:  queenTrain,
			BestDev:    queenDev,
			DurationMS: time.Since(begin).Milliseconds(),
		}); err != nil {
			return err
		}
	}
	return nil
}
