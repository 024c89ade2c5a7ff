package evo

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"beyondgd/internal/data"
)

// FitnessFn scores a single entity.
type FitnessFn func(ctx context.Context, e Entity) (float64, error)

// OnSource scores entities on every batch of src.
func OnSource(src data.Source) FitnessFn {
	return func(ctx context.Context, e Entity) (float64, error) {
		return e.Evaluate(ctx, src)
	}
}

// OnBatch scores entities by their accuracy on one batch.
func OnBatch(batch data.Batch) FitnessFn {
	return func(ctx context.Context, e Entity) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return e.Accuracy(batch)
	}
}

// Evaluator refreshes the score of every entity of pop in place. On error
// the population is left as it was.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, pop *Population, fitness FitnessFn) error
}

type SequentialEvaluator struct{}

func (SequentialEvaluator) Name() string {
	return "sequential"
}

func (SequentialEvaluator) Evaluate(ctx context.Context, pop *Population, fitness FitnessFn) error {
	entities := pop.Entities()
	scores := make([]float64, len(entities))
	for i, e := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		score, err := fitness(ctx, e)
		if err != nil {
			return fmt.Errorf("evaluate entity %s: %w", e.ID(), err)
		}
		scores[i] = score
	}
	for i, e := range entities {
		pop.Set(e, scores[i])
	}
	return nil
}

// ParallelEvaluator runs one goroutine per entity, or at most Workers at a
// time when Workers > 0. Workers only write their own slot of a result
// slice; scores are merged into the population after the join. The first
// failure cancels the remaining workers and is returned.
type ParallelEvaluator struct {
	Workers int
}

func (ParallelEvaluator) Name() string {
	return "parallel"
}

func (e ParallelEvaluator) Evaluate(ctx context.Context, pop *Population, fitness FitnessFn) error {
	entities := pop.Entities()
	if len(entities) == 0 {
		return nil
	}
	scores := make([]float64, len(entities))

	workers := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	if e.Workers > 0 {
		workers = workers.WithMaxGoroutines(e.Workers)
	}
	for i, entity := range entities {
		workers.Go(func(ctx context.Context) error {
			score, err := fitness(ctx, entity)
			if err != nil {
				return fmt.Errorf("evaluate entity %s: %w", entity.ID(), err)
			}
			scores[i] = score
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return err
	}

	for i, entity := range entities {
		pop.Set(entity, scores[i])
	}
	return nil
}

func EvaluatorFromName(name string, workers int) (Evaluator, error) {
	switch name {
	case "", "parallel":
		return ParallelEvaluator{Workers: workers}, nil
	case "sequential", "linear":
		return SequentialEvaluator{}, nil
	default:
		return nil, fmt.Errorf("unsupported evaluator: %s", name)
	}
}
