package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"

	"github.com/klauspost/cpuid/v2"

	"beyondgd/internal/data"
	"beyondgd/internal/evo"
	"beyondgd/internal/model"
	"beyondgd/internal/optim"
)

// Kind tells the orchestra what a strategy consumes and returns.
type Kind string

const (
	KindModel      Kind = "model"
	KindPopulation Kind = "population"
)

var ErrNoModel = errors.New("strategy requires a model")

// Strategy is one training task type.
type Strategy interface {
	Name() string
	Kind() Kind
	// Defaults returns the parameters used when a task config omits them.
	Defaults() Parameters
	Run(ctx context.Context, st *State, params Parameters) error
}

// EntityFactory builds a freshly initialized entity.
type EntityFactory func(id string, rng *rand.Rand) (evo.Entity, error)

// State is the working set passed from task to task. Model-kind strategies
// read and replace Model, population-kind strategies Population.
type State struct {
	Model      evo.Entity
	Population *evo.Population

	Train data.Dataset
	Dev   data.Dataset

	Rand     *rand.Rand
	Workers  int
	Reporter Reporter
	Logger   *slog.Logger

	// Task is the name of the running task; IDPrefix tags its offspring.
	Task     string
	IDPrefix string
}

func (st *State) logger() *slog.Logger {
	if st.Logger == nil {
		return slog.Default()
	}
	return st.Logger
}

func (st *State) trainLoader(p Parameters) *data.Loader {
	return data.NewLoader(st.Train, data.LoaderConfig{
		BatchSize: p.BatchSize,
		Shuffle:   true,
		Workers:   p.LoaderWorkers,
		Seed:      st.Rand.Int63(),
	})
}

func (st *State) devLoader(batchSize int) *data.Loader {
	return data.NewLoader(st.Dev, data.LoaderConfig{BatchSize: batchSize})
}

func (st *State) report(r model.EpochReport) error {
	r.Task = st.Task
	if st.Reporter == nil {
		return nil
	}
	return st.Reporter.Report(r)
}

func (st *State) evaluator(p Parameters) (evo.Evaluator, error) {
	workers := p.Workers
	if workers <= 0 {
		workers = st.Workers
	}
	return evo.EvaluatorFromName(p.Evaluator, workers)
}

// breeder builds a generation stepper for params on the state's random source.
func (st *State) breeder(p Parameters, populationSize int) (*evo.Breeder, error) {
	selector, err := evo.SelectorFromName(p.Selection)
	if err != nil {
		return nil, err
	}
	evaluator, err := st.evaluator(p)
	if err != nil {
		return nil, err
	}
	optimizer, err := optim.FromName(p.Optimizer)
	if err != nil {
		return nil, err
	}
	return evo.NewBreeder(evo.GenerationConfig{
		PopulationSize: populationSize,
		SelectionSize:  p.SelectionSize,
		Selector:       selector,
		Evaluator:      evaluator,
		CrossoverProb:  p.CrossoverProb,
		Dominance:      p.Dominance,
		MutationRate:   p.MutationRate,
		MutationProb:   p.MutationProb,
		LearningRate:   p.LearningRate,
		LearningProb:   p.LearningProb,
		Optimizer:      optimizer,
		IDPrefix:       st.IDPrefix,
		Rand:           st.Rand,
	})
}

func (st *State) requirePopulation() error {
	if st.Population.Len() == 0 {
		return fmt.Errorf("task %s: %w", st.Task, evo.ErrEmptyPool)
	}
	return nil
}

// DefaultWorkers is the logical core count of the host.
func DefaultWorkers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}
