package train

import (
	"context"
	"fmt"
	"time"

	"beyondgd/internal/evo"
	"beyondgd/internal/model"
	"beyondgd/internal/optim"
)

// Descent trains the incoming model with plain mini-batch gradient descent.
type Descent struct{}

func (Descent) Name() string { return "descent" }

func (Descent) Kind() Kind { return KindModel }

func (Descent) Defaults() Parameters {
	return Parameters{
		LearningRate:  1e-2,
		EpochNum:      200,
		BatchSize:     32,
		ReportRate:    10,
		Optimizer:     "adam",
		LoaderWorkers: 2,
	}
}

func (Descent) Run(ctx context.Context, st *State, p Parameters) error {
	if st.Model == nil {
		return ErrNoModel
	}
	factory, err := optim.FromName(p.Optimizer)
	if err != nil {
		return err
	}
	opt := factory(p.LearningRate)
	train := st.trainLoader(p)
	dev := st.devLoader(p.BatchSize)

	for epoch := 1; epoch <= p.EpochNum; epoch++ {
		begin := time.Now()
		for batch := range train.Iter(ctx) {
			if _, err := evo.GradientStep(st.Model, batch, opt); err != nil {
				return fmt.Errorf("epoch %d: %w", epoch, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if epoch%p.ReportRate != 0 {
			continue
		}

		trainScore, err := st.Model.Evaluate(ctx, train)
		if err != nil {
			return err
		}
		devScore, err := st.Model.Evaluate(ctx, dev)
		if err != nil {
			return err
		}
		if err := st.report(model.EpochReport{
			Subject:    "model",
			Epoch:      epoch,
			AvgTrain:   trainScore,
			BestTrain:  trainScore,
			BestDev:    devScore,
			DurationMS: time.Since(begin).Milliseconds(),
		}); err != nil {
			return err
		}
	}
	return nil
}
