package train

import (
	"context"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"beyondgd/internal/data"
	"beyondgd/internal/evo"
	"beyondgd/internal/nn"
)

// scoreEntity has a fixed score on every source.
type scoreEntity struct {
	id     string
	score  float64
	params []*mat.Dense
}

func (s *scoreEntity) ID() string               { return s.id }
func (s *scoreEntity) Parameters() []*mat.Dense { return s.params }
func (s *scoreEntity) SetTraining(bool)         {}
func (s *scoreEntity) Accuracy(data.Batch) (float64, error) {
	return s.score, nil
}
func (s *scoreEntity) Evaluate(ctx context.Context, _ data.Source) (float64, error) {
	return s.score, ctx.Err()
}
func (s *scoreEntity) Clone(id string) evo.Entity {
	return &scoreEntity{id: id, score: s.score, params: []*mat.Dense{mat.DenseCopyOf(s.params[0])}}
}

// countingFactory scores the i-th built entity i/100.
func countingFactory() EntityFactory {
	n := 0
	return func(id string, _ *rand.Rand) (evo.Entity, error) {
		e := &scoreEntity{id: id, score: float64(n) / 100, params: []*mat.Dense{mat.NewDense(1, 1, nil)}}
		n++
		return e, nil
	}
}

// recorder captures what the orchestra hands to a strategy.
type recorder struct {
	name       string
	kind       Kind
	model      evo.Entity
	population *evo.Population
	prefix     string
}

func (r *recorder) Name() string { return r.name }
func (r *recorder) Kind() Kind   { return r.kind }
func (r *recorder) Defaults() Parameters {
	p := populationDefaults()
	p.PopulationSize = 5
	p.MutationRate = 0.1
	return p
}
func (r *recorder) Run(_ context.Context, st *State, _ Parameters) error {
	r.model = st.Model
	r.population = st.Population.Clone()
	r.prefix = st.IDPrefix
	return nil
}

func clusters(t *testing.T, rng *rand.Rand, n int) data.Dataset {
	t.Helper()
	centers := [][2]float64{{-2, -2}, {2, 2}, {2, -2}}
	x := mat.NewDense(n, 2, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		c := i % len(centers)
		x.Set(i, 0, centers[c][0]+rng.NormFloat64()*0.3)
		x.Set(i, 1, centers[c][1]+rng.NormFloat64()*0.3)
		y[i] = c
	}
	ds, err := data.NewDataset(x, y, len(centers))
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	return ds
}

func mlpFactory() EntityFactory {
	f := nn.Factory{Config: nn.Config{Inputs: 2, Hidden: []int{6}, Outputs: 3, Activation: "tanh"}}
	return f.New
}
