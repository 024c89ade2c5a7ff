package evo

import (
	"fmt"
	"math"
	"math/rand"
)

// Selector extracts a breeding pool of k entities from a scored population.
// Implementations never mutate the input population.
type Selector interface {
	Name() string
	Select(rng *rand.Rand, pop *Population, k int) (*Population, error)
}

// Elitism returns the k highest scoring members as a new population. A
// population smaller than k is returned whole. Equal scores are resolved
// by insertion order; callers must not depend on which tied member wins.
func Elitism(pop *Population, k int) *Population {
	if k <= 0 || pop.Len() == 0 {
		return NewPopulation(0)
	}
	ranked := pop.Ranked()
	if k > len(ranked) {
		k = len(ranked)
	}
	out := NewPopulation(k)
	for _, m := range ranked[:k] {
		out.Set(m.Entity, m.Fitness)
	}
	return out
}

// SelectionCount converts a selection size or rate into an entity count.
// Values in (0,1) are a fraction of populationSize, larger values are
// absolute counts. The result is clamped to [0, populationSize].
func SelectionCount(populationSize int, sizeOrRate float64) int {
	if populationSize <= 0 || sizeOrRate <= 0 {
		return 0
	}
	var k int
	if sizeOrRate < 1 {
		k = int(math.Ceil(sizeOrRate * float64(populationSize)))
	} else {
		k = int(sizeOrRate)
	}
	if k < 1 {
		k = 1
	}
	if k > populationSize {
		k = populationSize
	}
	return k
}

// PickUniform samples one entity of pool with equal probability.
func PickUniform(rng *rand.Rand, pool *Population) (Entity, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if pool.Len() == 0 {
		return nil, ErrEmptyPool
	}
	return pool.order[rng.Intn(len(pool.order))], nil
}

// EliteSelector keeps the top-k entities.
type EliteSelector struct{}

func (EliteSelector) Name() string {
	return "elite"
}

func (EliteSelector) Select(_ *rand.Rand, pop *Population, k int) (*Population, error) {
	return Elitism(pop, k), nil
}

// TournamentSelector fills the pool with winners of repeated tournaments
// drawn from the best PoolSize members. Winners are not drawn twice.
type TournamentSelector struct {
	PoolSize       int
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) Select(rng *rand.Rand, pop *Population, k int) (*Population, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if k <= 0 || pop.Len() == 0 {
		return NewPopulation(0), nil
	}
	ranked := pop.Ranked()
	if k > len(ranked) {
		k = len(ranked)
	}

	poolSize := s.PoolSize
	if poolSize <= 0 {
		poolSize = k * 2
	}
	if poolSize < k {
		poolSize = k
	}
	if poolSize > len(ranked) {
		poolSize = len(ranked)
	}

	tournamentSize := s.TournamentSize
	if tournamentSize <= 0 {
		tournamentSize = 3
	}

	candidates := append([]Member(nil), ranked[:poolSize]...)
	out := NewPopulation(k)
	for out.Len() < k {
		size := min(tournamentSize, len(candidates))
		bestIdx := rng.Intn(len(candidates))
		for i := 1; i < size; i++ {
			idx := rng.Intn(len(candidates))
			if candidates[idx].Fitness > candidates[bestIdx].Fitness {
				bestIdx = idx
			}
		}
		winner := candidates[bestIdx]
		out.Set(winner.Entity, winner.Fitness)
		candidates = append(candidates[:bestIdx], candidates[bestIdx+1:]...)
	}
	return out, nil
}

func SelectorFromName(name string) (Selector, error) {
	switch name {
	case "", "elite", "elitism":
		return EliteSelector{}, nil
	case "tournament":
		return TournamentSelector{}, nil
	default:
		return nil, fmt.Errorf("unsupported selection strategy: %s", name)
	}
}
