package train

import (
	"context"
	"time"

	"beyondgd/internal/data"
	"beyondgd/internal/evo"
	"beyondgd/internal/model"
)

// Gadam runs the hybrid generation step on every training batch.
type Gadam struct{}

func (Gadam) Name() string { return "gadam" }

func (Gadam) Kind() Kind { return KindPopulation }

func (Gadam) Defaults() Parameters {
	p := populationDefaults()
	p.LearningRate = 1e-2
	p.LearningProb = 0.5
	p.Optimizer = "adam"
	return p
}

func (Gadam) Run(ctx context.Context, st *State, p Parameters) error {
	if err := st.requirePopulation(); err != nil {
		return err
	}
	breeder, err := st.breeder(p, st.Population.Len())
	if err != nil {
		return err
	}
	train := st.trainLoader(p)
	dev := st.devLoader(p.BatchSize)

	for epoch := 1; epoch <= p.EpochNum; epoch++ {
		begin := time.Now()
		for batch := range train.Iter(ctx) {
			next, err := breeder.Gadam(ctx, st.Population, batch)
			if err != nil {
				return err
			}
			st.Population = next
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if epoch%p.ReportRate == 0 {
			if err := reportPopulation(ctx, st, breeder.Config().Evaluator, epoch, begin, train, dev); err != nil {
				return err
			}
		}
	}
	return nil
}

// reportPopulation scores the population on dev and reports its mean, the
// training score of its best member and that member's dev score.
func reportPopulation(ctx context.Context, st *State, evaluator evo.Evaluator, epoch int, begin time.Time, train, dev data.Source) error {
	if err := evaluator.Evaluate(ctx, st.Population, evo.OnSource(dev)); err != nil {
		return err
	}
	best, _ := st.Population.Best()
	bestTrain, err := best.Entity.Evaluate(ctx, train)
	if err != nil {
		return err
	}
	return st.report(model.EpochReport{
		Subject:    "best",
		Epoch:      epoch,
		AvgTrain:   st.Population.MeanFitness(),
		BestTrain:  bestTrain,
		BestDev:    best.Fitness,
		DurationMS: time.Since(begin).Milliseconds(),
	})
}
