package evo

import (
	"context"
	"errors"

	"gonum.org/v1/gonum/mat"

	"beyondgd/internal/data"
)

// vecEntity is a single-row parameter vector whose fitness is the sum of
// its elements and whose loss is sum((p - 1)^2).
type vecEntity struct {
	id       string
	params   []*mat.Dense
	training bool
	fail     error
}

func newVec(id string, values ...float64) *vecEntity {
	return &vecEntity{
		id:     id,
		params: []*mat.Dense{mat.NewDense(1, len(values), append([]float64(nil), values...))},
	}
}

func (v *vecEntity) ID() string { return v.id }

func (v *vecEntity) Parameters() []*mat.Dense { return v.params }

func (v *vecEntity) Clone(id string) Entity {
	params := make([]*mat.Dense, len(v.params))
	for i, p := range v.params {
		params[i] = mat.DenseCopyOf(p)
	}
	return &vecEntity{id: id, params: params, fail: v.fail}
}

func (v *vecEntity) SetTraining(on bool) { v.training = on }

func (v *vecEntity) values() []float64 {
	return append([]float64(nil), v.params[0].RawRowView(0)...)
}

func (v *vecEntity) sum() float64 {
	total := 0.0
	for _, p := range v.params {
		total += mat.Sum(p)
	}
	return total
}

func (v *vecEntity) Evaluate(ctx context.Context, src data.Source) (float64, error) {
	if v.fail != nil {
		return 0, v.fail
	}
	for range src.Iter(ctx) {
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return v.sum(), nil
}

func (v *vecEntity) Accuracy(_ data.Batch) (float64, error) {
	if v.fail != nil {
		return 0, v.fail
	}
	return v.sum(), nil
}

func (v *vecEntity) Loss(_ data.Batch, mode GradMode) (float64, []*mat.Dense, error) {
	loss := 0.0
	var grads []*mat.Dense
	for _, p := range v.params {
		r, c := p.Dims()
		g := mat.NewDense(r, c, nil)
		for j := 0; j < c; j++ {
			d := p.At(0, j) - 1
			loss += d * d
			g.Set(0, j, 2*d)
		}
		grads = append(grads, g)
	}
	if mode == NoGrad {
		return loss, nil, nil
	}
	return loss, grads, nil
}

// frozenEntity is a vecEntity without gradient support.
type frozenEntity struct {
	inner *vecEntity
}

func (f *frozenEntity) ID() string               { return f.inner.ID() }
func (f *frozenEntity) Parameters() []*mat.Dense { return f.inner.Parameters() }
func (f *frozenEntity) Clone(id string) Entity {
	return &frozenEntity{inner: f.inner.Clone(id).(*vecEntity)}
}
func (f *frozenEntity) SetTraining(on bool) { f.inner.SetTraining(on) }
func (f *frozenEntity) Evaluate(ctx context.Context, src data.Source) (float64, error) {
	return f.inner.Evaluate(ctx, src)
}
func (f *frozenEntity) Accuracy(batch data.Batch) (float64, error) { return f.inner.Accuracy(batch) }

var errBoom = errors.New("boom")

func testBatch() data.Batch {
	return data.Batch{X: mat.NewDense(1, 1, []float64{0}), Y: []int{0}}
}

func testLoader() *data.Loader {
	ds, err := data.NewDataset(mat.NewDense(4, 1, []float64{1, 2, 3, 4}), []int{0, 1, 0, 1}, 2)
	if err != nil {
		panic(err)
	}
	return data.NewLoader(ds, data.LoaderConfig{BatchSize: 2})
}

func scoredPopulation(scores ...float64) (*Population, []*vecEntity) {
	pop := NewPopulation(len(scores))
	entities := make([]*vecEntity, len(scores))
	for i, s := range scores {
		e := newVec(string(rune('a'+i)), s)
		entities[i] = e
		pop.Set(e, s)
	}
	return pop, entities
}
