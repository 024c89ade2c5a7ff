package evo

import (
	"context"
	"errors"

	"gonum.org/v1/gonum/mat"

	"beyondgd/internal/data"
)

var (
	ErrShapeMismatch     = errors.New("entity parameter shapes differ")
	ErrEmptyPool         = errors.New("selection pool is empty")
	ErrInvalidRate       = errors.New("rate out of range")
	ErrNotDifferentiable = errors.New("entity does not support gradient steps")
)

// GradMode selects whether Loss records gradients. It is passed per call
// so that concurrent runs never share an ambient autograd switch.
type GradMode bool

const (
	NoGrad   GradMode = false
	WithGrad GradMode = true
)

// Entity is one trainable candidate. Implementations must be pointer types:
// a Population keys entities by handle, never by value.
type Entity interface {
	ID() string
	// Parameters exposes the owned tensors for in-place updates.
	Parameters() []*mat.Dense
	// Clone deep-copies the entity under a new id. The copy shares no
	// tensor storage with the receiver.
	Clone(id string) Entity
	SetTraining(on bool)
	Evaluate(ctx context.Context, src data.Source) (float64, error)
	Accuracy(batch data.Batch) (float64, error)
}

// Differentiable entities support the gradient step of the hybrid generation.
type Differentiable interface {
	Entity
	// Loss returns the scalar loss on batch and, under WithGrad, one
	// gradient per tensor of Parameters in the same order.
	Loss(batch data.Batch, mode GradMode) (float64, []*mat.Dense, error)
}

func sameShapes(a, b []*mat.Dense) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ar, ac := a[i].Dims()
		br, bc := b[i].Dims()
		if ar != br || ac != bc {
			return false
		}
	}
	return true
}
