package data

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var ErrEmptyDataset = errors.New("dataset is empty")

// Dataset is a labelled feature matrix. Row i of X belongs to label Y[i].
type Dataset struct {
	X       *mat.Dense
	Y       []int
	Classes int
}

// Batch is a contiguous slice of samples handed to entities. Batches are
// read-only for every consumer.
type Batch struct {
	X *mat.Dense
	Y []int
}

func (b Batch) Len() int {
	return len(b.Y)
}

func NewDataset(x *mat.Dense, y []int, classes int) (Dataset, error) {
	if x == nil || len(y) == 0 {
		return Dataset{}, ErrEmptyDataset
	}
	rows, _ := x.Dims()
	if rows != len(y) {
		return Dataset{}, fmt.Errorf("feature rows %d do not match label count %d", rows, len(y))
	}
	if classes <= 0 {
		for _, label := range y {
			if label+1 > classes {
				classes = label + 1
			}
		}
	}
	for i, label := range y {
		if label < 0 || label >= classes {
			return Dataset{}, fmt.Errorf("label %d at row %d outside [0,%d)", label, i, classes)
		}
	}
	return Dataset{X: x, Y: y, Classes: classes}, nil
}

func (d Dataset) Len() int {
	return len(d.Y)
}

func (d Dataset) Features() int {
	if d.X == nil {
		return 0
	}
	_, cols := d.X.Dims()
	return cols
}

// Rows copies the selected rows into a new batch.
func (d Dataset) Rows(indices []int) Batch {
	if len(indices) == 0 {
		return Batch{}
	}
	x := mat.NewDense(len(indices), d.Features(), nil)
	y := make([]int, len(indices))
	for i, idx := range indices {
		x.SetRow(i, d.X.RawRowView(idx))
		y[i] = d.Y[idx]
	}
	return Batch{X: x, Y: y}
}

// All returns the whole dataset as one batch.
func (d Dataset) All() Batch {
	return Batch{X: d.X, Y: d.Y}
}

// Split shuffles the dataset with rng and cuts it into consecutive parts
// whose sizes follow fractions. The last part takes the remainder.
func Split(d Dataset, rng *rand.Rand, fractions ...float64) ([]Dataset, error) {
	if d.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if len(fractions) == 0 {
		return []Dataset{d}, nil
	}
	total := 0.0
	for _, f := range fractions {
		if f <= 0 {
			return nil, fmt.Errorf("split fraction must be > 0: %v", f)
		}
		total += f
	}

	order := rng.Perm(d.Len())
	out := make([]Dataset, 0, len(fractions))
	start := 0
	for i, f := range fractions {
		end := start + int(float64(d.Len())*f/total)
		if i == len(fractions)-1 {
			end = d.Len()
		}
		if end <= start {
			return nil, fmt.Errorf("split part %d is empty", i)
		}
		part := d.Rows(order[start:end])
		out = append(out, Dataset{X: part.X, Y: part.Y, Classes: d.Classes})
		start = end
	}
	return out, nil
}
