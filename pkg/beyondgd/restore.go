package beyondgd

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"beyondgd/internal/evo"
	"beyondgd/internal/model"
	"beyondgd/internal/nn"
)

var ErrRunNotFound = errors.New("run not found")

type BestRequest struct {
	RunID  string
	Latest bool
}

// BestEntity describes the best network of a stored run.
type BestEntity struct {
	RunID        string
	EntityID     string
	Architecture model.Architecture
	Parameters   int
	Fitness      float64
	FinalDev     float64
	FinalTest    float64
}

// Best loads the best entity of a stored run and rebuilds its network.
func (c *Client) Best(ctx context.Context, req BestRequest) (BestEntity, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, "best")
	if err != nil {
		return BestEntity{}, err
	}
	run, err := c.loadRun(ctx, runID)
	if err != nil {
		return BestEntity{}, err
	}
	mlp, rec, err := c.loadEntity(ctx, run.BestEntityID, rand.New(rand.NewSource(run.Seed)))
	if err != nil {
		return BestEntity{}, err
	}

	count := 0
	for _, p := range mlp.Parameters() {
		rows, cols := p.Dims()
		count += rows * cols
	}
	return BestEntity{
		RunID:        run.RunID,
		EntityID:     rec.ID,
		Architecture: mlp.Config().Architecture(),
		Parameters:   count,
		Fitness:      rec.Fitness,
		FinalDev:     run.FinalDev,
		FinalTest:    run.FinalTest,
	}, nil
}

func (c *Client) loadRun(ctx context.Context, runID string) (model.RunRecord, error) {
	if err := c.Init(ctx); err != nil {
		return model.RunRecord{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

func (c *Client) loadEntity(ctx context.Context, id string, rng *rand.Rand) (*nn.MLP, model.EntityRecord, error) {
	rec, ok, err := c.store.GetEntity(ctx, id)
	if err != nil {
		return nil, model.EntityRecord{}, err
	}
	if !ok {
		return nil, model.EntityRecord{}, fmt.Errorf("entity not found: %s", id)
	}
	mlp, err := nn.FromRecord(rec, rng)
	if err != nil {
		return nil, model.EntityRecord{}, fmt.Errorf("entity %s: %w", id, err)
	}
	return mlp, rec, nil
}

type warmStart struct {
	model        evo.Entity
	population   *evo.Population
	architecture model.Architecture
}

// loadWarmStart rebuilds the final population of a stored run, falling back
// to its best entity. Restored entities are renamed so their ids carry no
// trace of the old run.
func (c *Client) loadWarmStart(ctx context.Context, runID string, rng *rand.Rand) (warmStart, error) {
	run, err := c.loadRun(ctx, runID)
	if err != nil {
		return warmStart{}, fmt.Errorf("resume: %w", err)
	}

	snapshot, ok, err := c.store.GetPopulation(ctx, populationKey(runID))
	if err != nil {
		return warmStart{}, fmt.Errorf("resume %s: %w", runID, err)
	}
	if ok && len(snapshot.Members) > 0 {
		pop := evo.NewPopulation(len(snapshot.Members))
		var arch model.Architecture
		for i, m := range snapshot.Members {
			mlp, _, err := c.loadEntity(ctx, m.EntityID, rng)
			if err != nil {
				return warmStart{}, fmt.Errorf("resume %s: %w", runID, err)
			}
			pop.Set(mlp.Clone(fmt.Sprintf("resume-i%d", i)), m.Fitness)
			arch = mlp.Config().Architecture()
		}
		c.logger.Info("resuming population", "from", runID, "members", pop.Len(), "task", snapshot.Task)
		return warmStart{population: pop, architecture: arch}, nil
	}

	best, _, err := c.loadEntity(ctx, run.BestEntityID, rng)
	if err != nil {
		return warmStart{}, fmt.Errorf("resume %s: %w", runID, err)
	}
	c.logger.Info("resuming model", "from", runID, "entity", run.BestEntityID)
	return warmStart{model: best.Clone("resume-best"), architecture: best.Config().Architecture()}, nil
}
