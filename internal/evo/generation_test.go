package evo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"beyondgd/internal/optim"
)

func eliteParents() (*Population, []*vecEntity) {
	return scoredPopulation(0.3, 0.9, 0.6)
}

func TestGadamRefillsWithoutAliasing(t *testing.T) {
	pop, parents := eliteParents()
	snapshot := make([][]float64, len(parents))
	for i, p := range parents {
		snapshot[i] = p.values()
	}

	breeder, err := NewBreeder(GenerationConfig{
		PopulationSize: 50,
		SelectionSize:  3,
		CrossoverProb:  0.5,
		MutationRate:   0.1,
		MutationProb:   0.5,
		LearningRate:   0.01,
		LearningProb:   0.5,
		IDPrefix:       "gadam",
		Seed:           42,
	})
	if err != nil {
		t.Fatalf("new breeder: %v", err)
	}

	next, err := breeder.Gadam(context.Background(), pop, testBatch())
	if err != nil {
		t.Fatalf("gadam: %v", err)
	}
	if next.Len() != 50 {
		t.Fatalf("expected 50 offspring, got %d", next.Len())
	}
	if next == pop {
		t.Fatal("expected a fresh population")
	}
	if breeder.Generation() != 1 {
		t.Fatalf("expected generation 1, got %d", breeder.Generation())
	}

	seen := map[*mat.Dense]struct{}{}
	for _, p := range parents {
		seen[p.Parameters()[0]] = struct{}{}
	}
	for _, m := range next.Members() {
		if pop.Contains(m.Entity) {
			t.Fatalf("offspring %s aliases a parent entity", m.Entity.ID())
		}
		if m.Fitness != 0 {
			t.Fatalf("offspring %s must carry a placeholder score, got %f", m.Entity.ID(), m.Fitness)
		}
		if !strings.HasPrefix(m.Entity.ID(), "gadam-g1-") {
			t.Fatalf("unexpected offspring id: %s", m.Entity.ID())
		}
		param := m.Entity.Parameters()[0]
		if _, dup := seen[param]; dup {
			t.Fatalf("offspring %s shares tensor storage", m.Entity.ID())
		}
		seen[param] = struct{}{}
		if m.Entity.(*vecEntity).training {
			t.Fatalf("offspring %s left in training mode", m.Entity.ID())
		}
	}

	for i, p := range parents {
		assertValues(t, p.values(), snapshot[i])
	}
}

func TestGadamSingleEliteIsCloned(t *testing.T) {
	pop, parents := scoredPopulation(0.5)
	breeder, err := NewBreeder(GenerationConfig{PopulationSize: 4, SelectionSize: 1, Seed: 1})
	if err != nil {
		t.Fatalf("new breeder: %v", err)
	}
	next, err := breeder.Gadam(context.Background(), pop, testBatch())
	if err != nil {
		t.Fatalf("gadam: %v", err)
	}
	for _, e := range next.Entities() {
		if e == Entity(parents[0]) {
			t.Fatal("offspring must be copies even without operators")
		}
		assertValues(t, e.(*vecEntity).values(), parents[0].values())
	}
}

func TestGadamEmptyPopulationFails(t *testing.T) {
	breeder, err := NewBreeder(GenerationConfig{PopulationSize: 5, SelectionSize: 2})
	if err != nil {
		t.Fatalf("new breeder: %v", err)
	}
	if _, err := breeder.Gadam(context.Background(), NewPopulation(0), testBatch()); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
}

func TestGadamRequiresDifferentiableEntities(t *testing.T) {
	pop := PopulationOf(&frozenEntity{inner: newVec("f", 1, 2)})
	breeder, err := NewBreeder(GenerationConfig{PopulationSize: 2, SelectionSize: 1, LearningProb: 1, LearningRate: 0.1})
	if err != nil {
		t.Fatalf("new breeder: %v", err)
	}
	if _, err := breeder.Gadam(context.Background(), pop, testBatch()); !errors.Is(err, ErrNotDifferentiable) {
		t.Fatalf("expected ErrNotDifferentiable, got %v", err)
	}
}

func TestEvolveScoresOffspring(t *testing.T) {
	pop, _ := eliteParents()
	breeder, err := NewBreeder(GenerationConfig{
		PopulationSize: 12,
		SelectionSize:  0.5,
		CrossoverProb:  0.5,
		MutationRate:   0.2,
		MutationProb:   1,
		Evaluator:      SequentialEvaluator{},
		Seed:           3,
	})
	if err != nil {
		t.Fatalf("new breeder: %v", err)
	}
	next, err := breeder.Evolve(context.Background(), pop, testBatch())
	if err != nil {
		t.Fatalf("evolve: %v", err)
	}
	if next.Len() != 12 {
		t.Fatalf("expected 12 offspring, got %d", next.Len())
	}
	for _, m := range next.Members() {
		want := m.Entity.(*vecEntity).sum()
		if m.Fitness != want {
			t.Fatalf("offspring %s: fitness %f want %f", m.Entity.ID(), m.Fitness, want)
		}
	}
}

func TestBreederIsReproducible(t *testing.T) {
	run := func() [][]float64 {
		pop, _ := eliteParents()
		breeder, err := NewBreeder(GenerationConfig{
			PopulationSize: 8,
			SelectionSize:  2,
			CrossoverProb:  0.5,
			MutationRate:   0.05,
			MutationProb:   0.5,
			LearningRate:   0.01,
			LearningProb:   0.5,
			Seed:           99,
		})
		if err != nil {
			t.Fatalf("new breeder: %v", err)
		}
		for i := 0; i < 3; i++ {
			if pop, err = breeder.Gadam(context.Background(), pop, testBatch()); err != nil {
				t.Fatalf("gadam: %v", err)
			}
		}
		var out [][]float64
		for _, e := range pop.Entities() {
			out = append(out, e.(*vecEntity).values())
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		assertValues(t, a[i], b[i])
	}
}

func TestNewBreederValidation(t *testing.T) {
	cases := []GenerationConfig{
		{PopulationSize: 0, SelectionSize: 1},
		{PopulationSize: 5, SelectionSize: 0},
		{PopulationSize: 5, SelectionSize: 1, CrossoverProb: 1.5},
		{PopulationSize: 5, SelectionSize: 1, MutationRate: -1},
		{PopulationSize: 5, SelectionSize: 1, Dominance: 2},
	}
	for i, cfg := range cases {
		if _, err := NewBreeder(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}

	b, err := NewBreeder(GenerationConfig{PopulationSize: 5, SelectionSize: 1})
	if err != nil {
		t.Fatalf("new breeder: %v", err)
	}
	cfg := b.Config()
	if cfg.Dominance != 0 || cfg.Selector.Name() != "elite" || cfg.Evaluator.Name() != "parallel" || cfg.IDPrefix != "e" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestZeroDominanceTakesRecessiveParent(t *testing.T) {
	pop := NewPopulation(2)
	pop.Set(newVec("a", 1, 1, 1, 1), 0.4)
	pop.Set(newVec("b", 2, 2, 2, 2), 0.6)

	breeder, err := NewBreeder(GenerationConfig{
		PopulationSize: 30,
		SelectionSize:  2,
		CrossoverProb:  1,
		Dominance:      0,
		Seed:           5,
	})
	if err != nil {
		t.Fatalf("new breeder: %v", err)
	}
	if breeder.Config().Dominance != 0 {
		t.Fatalf("dominance 0 must be kept, got %f", breeder.Config().Dominance)
	}
	next, err := breeder.Gadam(context.Background(), pop, testBatch())
	if err != nil {
		t.Fatalf("gadam: %v", err)
	}
	for _, e := range next.Entities() {
		values := e.(*vecEntity).values()
		for _, v := range values[1:] {
			if v != values[0] {
				t.Fatalf("offspring %s mixes parents with dominance 0: %v", e.ID(), values)
			}
		}
	}
}

func TestGradientStepReducesLoss(t *testing.T) {
	e := newVec("g", 3, -2, 0.5)
	opt := optim.NewAdam(0.1)
	var first, last float64
	for i := 0; i < 20; i++ {
		loss, err := GradientStep(e, testBatch(), opt)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if i == 0 {
			first = loss
		}
		last = loss
	}
	if !(last < first) {
		t.Fatalf("expected loss to decrease: first=%f last=%f", first, last)
	}
	if e.training {
		t.Fatal("training mode must be reset after the step")
	}
}

func TestSeedPopulation(t *testing.T) {
	base := newVec("base", 1, 1)
	pop, err := SeedPopulation(newTestRand(), base, 5, 0.1, "s")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if pop.Len() != 5 || pop.Contains(base) {
		t.Fatalf("unexpected seeded population: len=%d", pop.Len())
	}
	if pop.Entities()[2].ID() != "s-seed-i2" {
		t.Fatalf("unexpected id: %s", pop.Entities()[2].ID())
	}
	if _, err := SeedPopulation(newTestRand(), base, 0, 0.1, "s"); err == nil {
		t.Fatal("expected size error")
	}
}
