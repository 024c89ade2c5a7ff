package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"beyondgd/internal/data"
	"beyondgd/internal/evo"
	"beyondgd/internal/model"
)

type OrchestraConfig struct {
	Factory EntityFactory
	Train   data.Dataset
	Dev     data.Dataset
	// Test is optional; an empty set skips the final test score.
	Test data.Dataset

	Seed int64
	// Workers bounds parallel evaluation; 0 selects DefaultWorkers.
	Workers   int
	BatchSize int
	Reporters []Reporter
	Logger    *slog.Logger
	// Progress receives the human-readable report lines when set.
	Progress io.Writer

	// Model and Population warm start the run. A population takes
	// precedence: the first model task then starts from its best member.
	Model      evo.Entity
	Population *evo.Population
}

// Task is a resolved task: a strategy and its parameters.
type Task struct {
	Strategy   Strategy
	Parameters Parameters
}

type Result struct {
	Best       evo.Entity
	BestDev    float64
	Test       float64
	Model      evo.Entity
	Population *evo.Population
	Reports    []model.EpochReport
	Elapsed    time.Duration
}

// Orchestra sequences training tasks, handing models and populations from
// one task to the next.
type Orchestra struct {
	cfg    OrchestraConfig
	logger *slog.Logger
}

func NewOrchestra(cfg OrchestraConfig) (*Orchestra, error) {
	if cfg.Factory == nil {
		return nil, errors.New("entity factory is required")
	}
	if cfg.Train.Len() == 0 {
		return nil, fmt.Errorf("train set: %w", data.ErrEmptyDataset)
	}
	if cfg.Dev.Len() == 0 {
		return nil, fmt.Errorf("dev set: %w", data.ErrEmptyDataset)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestra{cfg: cfg, logger: logger}, nil
}

// ResolveTasks validates a task list before any training starts.
func ResolveTasks(configs []TaskConfig) ([]Task, error) {
	if len(configs) == 0 {
		return nil, errors.New("at least one task is required")
	}
	tasks := make([]Task, 0, len(configs))
	for i, cfg := range configs {
		strategy, err := ResolveStrategy(cfg.Type)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		params, err := ResolveParameters(strategy, cfg.Parameters)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		tasks = append(tasks, Task{Strategy: strategy, Parameters: params})
	}
	return tasks, nil
}

func (o *Orchestra) Run(ctx context.Context, tasks []Task) (Result, error) {
	if len(tasks) == 0 {
		return Result{}, errors.New("at least one task is required")
	}
	start := time.Now()
	rng := rand.New(rand.NewSource(o.cfg.Seed))

	collector := &Collector{}
	reporters := Reporters{collector}
	if o.cfg.Progress != nil {
		reporters = append(reporters, LineReporter{W: o.cfg.Progress})
	}
	reporters = append(reporters, o.cfg.Reporters...)

	var last Kind
	initial := o.cfg.Model
	population := evo.NewPopulation(0)
	switch {
	case o.cfg.Population.Len() > 0:
		population = o.cfg.Population.Clone()
		last = KindPopulation
		if initial == nil {
			best, _ := population.Best()
			initial = best.Entity
		}
	case initial != nil:
		last = KindModel
	}
	if initial == nil {
		var err error
		if initial, err = o.cfg.Factory("model", rng); err != nil {
			return Result{}, fmt.Errorf("build initial model: %w", err)
		}
	}
	st := &State{
		Model:      initial,
		Population: population,
		Train:      o.cfg.Train,
		Dev:        o.cfg.Dev,
		Rand:       rng,
		Workers:    o.cfg.Workers,
		Reporter:   reporters,
		Logger:     o.logger,
	}
	if len(tasks) > 1 || last != "" {
		o.logger.Info("orchestra", "tasks", len(tasks), "warm_start", string(last))
	}

	var err error
	for i, task := range tasks {
		name := task.Strategy.Name()
		st.Task = name
		st.IDPrefix = fmt.Sprintf("t%d-%s", i, name)
		p := task.Parameters

		switch task.Strategy.Kind() {
		case KindPopulation:
			switch {
			case last == KindModel:
				st.Population, err = evo.SeedPopulation(rng, st.Model, p.PopulationSize, p.MutationRate, st.IDPrefix+"-from-model")
			case st.Population.Len() == 0:
				st.Population, err = o.initPopulation(rng, p.PopulationSize, st.IDPrefix)
			}
			if err != nil {
				return Result{}, fmt.Errorf("task %d (%s): %w", i, name, err)
			}
		case KindModel:
			if last == KindPopulation {
				best, err := o.bestOnDev(ctx, st, p)
				if err != nil {
					return Result{}, fmt.Errorf("task %d (%s): %w", i, name, err)
				}
				st.Model = best.Entity
			}
		}

		o.logger.Info("task started", "index", i, "task", name, "kind", task.Strategy.Kind())
		taskStart := time.Now()
		if err := task.Strategy.Run(ctx, st, p); err != nil {
			return Result{}, fmt.Errorf("task %d (%s): %w", i, name, err)
		}
		o.logger.Info("task finished", "index", i, "task", name, "elapsed", time.Since(taskStart))
		last = task.Strategy.Kind()
	}

	res := Result{Model: st.Model, Population: st.Population}
	if last == KindPopulation {
		best, err := o.bestOnDev(ctx, st, tasks[len(tasks)-1].Parameters)
		if err != nil {
			return Result{}, err
		}
		res.Best = best.Entity
		res.BestDev = best.Fitness
	} else {
		res.Best = st.Model
		dev, err := st.Model.Evaluate(ctx, data.NewLoader(o.cfg.Dev, data.LoaderConfig{BatchSize: o.cfg.BatchSize}))
		if err != nil {
			return Result{}, err
		}
		res.BestDev = dev
	}

	if o.cfg.Test.Len() > 0 {
		score, err := res.Best.Evaluate(ctx, data.NewLoader(o.cfg.Test, data.LoaderConfig{BatchSize: o.cfg.BatchSize}))
		if err != nil {
			return Result{}, fmt.Errorf("test evaluation: %w", err)
		}
		res.Test = score
	}
	res.Reports = collector.Reports()
	res.Elapsed = time.Since(start)
	o.logger.Info("run finished", "best", res.Best.ID(), "dev", res.BestDev, "test", res.Test, "elapsed", res.Elapsed)
	return res, nil
}

func (o *Orchestra) initPopulation(rng *rand.Rand, size int, prefix string) (*evo.Population, error) {
	if size <= 0 {
		return nil, fmt.Errorf("population_size must be > 0")
	}
	pop := evo.NewPopulation(size)
	for i := 0; i < size; i++ {
		e, err := o.cfg.Factory(fmt.Sprintf("%s-init-i%d", prefix, i), rng)
		if err != nil {
			return nil, err
		}
		pop.Set(e, 0)
	}
	return pop, nil
}

// bestOnDev refreshes population scores on the dev set and returns the best member.
func (o *Orchestra) bestOnDev(ctx context.Context, st *State, p Parameters) (evo.Member, error) {
	if err := st.requirePopulation(); err != nil {
		return evo.Member{}, err
	}
	evaluator, err := st.evaluator(p)
	if err != nil {
		return evo.Member{}, err
	}
	dev := data.NewLoader(o.cfg.Dev, data.LoaderConfig{BatchSize: o.cfg.BatchSize})
	if err := evaluator.Evaluate(ctx, st.Population, evo.OnSource(dev)); err != nil {
		return evo.Member{}, err
	}
	best, _ := st.Population.Best()
	return best, nil
}
