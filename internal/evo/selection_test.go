package evo

import (
	"errors"
	"math/rand"
	"testing"
)

func TestElitismKeepsTopK(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		size := 1 + rng.Intn(30)
		scores := make([]float64, size)
		for i := range scores {
			scores[i] = float64(rng.Intn(10)) / 10
		}
		pop, _ := scoredPopulation(scores...)
		before := pop.Members()

		k := 1 + rng.Intn(size+5)
		elite := Elitism(pop, k)

		want := min(k, size)
		if elite.Len() != want {
			t.Fatalf("trial %d: expected %d elites, got %d", trial, want, elite.Len())
		}
		worstElite := 2.0
		for _, m := range elite.Members() {
			if !pop.Contains(m.Entity) {
				t.Fatalf("trial %d: elite %s is not a population member", trial, m.Entity.ID())
			}
			if f, _ := pop.Fitness(m.Entity); f != m.Fitness {
				t.Fatalf("trial %d: elite fitness changed: %f vs %f", trial, m.Fitness, f)
			}
			worstElite = min(worstElite, m.Fitness)
		}
		for _, m := range pop.Members() {
			if !elite.Contains(m.Entity) && m.Fitness > worstElite {
				t.Fatalf("trial %d: dropped %s (%f) beats kept elite (%f)", trial, m.Entity.ID(), m.Fitness, worstElite)
			}
		}

		after := pop.Members()
		if len(before) != len(after) {
			t.Fatalf("trial %d: input population size changed", trial)
		}
		for i := range before {
			if before[i] != after[i] {
				t.Fatalf("trial %d: input population mutated at %d", trial, i)
			}
		}
	}
}

func TestElitismTiedScores(t *testing.T) {
	scores := make([]float64, 10)
	for i := range scores {
		scores[i] = 1.0
	}
	pop, _ := scoredPopulation(scores...)
	elite := Elitism(pop, 5)
	if elite.Len() != 5 {
		t.Fatalf("expected 5 elites, got %d", elite.Len())
	}
	for _, m := range elite.Members() {
		if m.Fitness != 1.0 || !pop.Contains(m.Entity) {
			t.Fatalf("unexpected elite member: %+v", m)
		}
	}
}

func TestElitismEmptyAndZero(t *testing.T) {
	if got := Elitism(NewPopulation(0), 3).Len(); got != 0 {
		t.Fatalf("expected empty elite for empty population, got %d", got)
	}
	pop, _ := scoredPopulation(0.1, 0.2)
	if got := Elitism(pop, 0).Len(); got != 0 {
		t.Fatalf("expected empty elite for k=0, got %d", got)
	}
}

func TestSelectionCount(t *testing.T) {
	cases := []struct {
		size int
		rate float64
		want int
	}{
		{size: 100, rate: 10, want: 10},
		{size: 100, rate: 0.25, want: 25},
		{size: 10, rate: 0.01, want: 1},
		{size: 5, rate: 10, want: 5},
		{size: 0, rate: 3, want: 0},
		{size: 10, rate: 0, want: 0},
	}
	for _, tc := range cases {
		if got := SelectionCount(tc.size, tc.rate); got != tc.want {
			t.Fatalf("SelectionCount(%d, %v) = %d, want %d", tc.size, tc.rate, got, tc.want)
		}
	}
}

func TestPickUniformEmptyPool(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := PickUniform(rng, NewPopulation(0)); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
	pop, entities := scoredPopulation(0.5)
	got, err := PickUniform(rng, pop)
	if err != nil || got != Entity(entities[0]) {
		t.Fatalf("unexpected pick: %v %v", got, err)
	}
}

func TestTournamentSelectorDistinctWinners(t *testing.T) {
	pop, entities := scoredPopulation(0.1, 0.9, 0.4, 0.8, 0.2, 0.7)
	sel := TournamentSelector{PoolSize: 4, TournamentSize: 2}
	elite, err := sel.Select(rand.New(rand.NewSource(3)), pop, 3)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if elite.Len() != 3 {
		t.Fatalf("expected 3 winners, got %d", elite.Len())
	}
	// Only the best four may enter the tournament pool.
	for _, loser := range []*vecEntity{entities[0], entities[4]} {
		if elite.Contains(loser) {
			t.Fatalf("entity %s outside the pool was selected", loser.ID())
		}
	}
}

func TestSelectorFromName(t *testing.T) {
	for _, name := range []string{"", "elite", "elitism", "tournament"} {
		if _, err := SelectorFromName(name); err != nil {
			t.Fatalf("selector %q: %v", name, err)
		}
	}
	if _, err := SelectorFromName("roulette"); err == nil {
		t.Fatal("expected unsupported selector error")
	}
}
