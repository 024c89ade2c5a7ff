package optim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var ErrShapeMismatch = errors.New("gradient shape does not match parameter")

// Optimizer applies one update of grads to params in place.
type Optimizer interface {
	Name() string
	Step(params, grads []*mat.Dense) error
}

// Factory builds a fresh optimizer for a learning rate.
type Factory func(learningRate float64) Optimizer

func FromName(name string) (Factory, error) {
	switch name {
	case "", "adam":
		return func(lr float64) Optimizer { return NewAdam(lr) }, nil
	case "sgd":
		return func(lr float64) Optimizer { return &SGD{LR: lr} }, nil
	default:
		return nil, fmt.Errorf("unsupported optimizer: %s", name)
	}
}

func checkShapes(params, grads []*mat.Dense) error {
	if len(params) != len(grads) {
		return fmt.Errorf("%w: %d params, %d grads", ErrShapeMismatch, len(params), len(grads))
	}
	for i := range params {
		pr, pc := params[i].Dims()
		gr, gc := grads[i].Dims()
		if pr != gr || pc != gc {
			return fmt.Errorf("%w: param %d is %dx%d, grad is %dx%d", ErrShapeMismatch, i, pr, pc, gr, gc)
		}
	}
	return nil
}

// Adam implements Kingma & Ba with bias correction. Moment buffers are
// allocated on the first Step and bound to the parameter layout seen there.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	t int
	m []*mat.Dense
	v []*mat.Dense
}

func NewAdam(lr float64) *Adam {
	return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

func (*Adam) Name() string {
	return "adam"
}

func (a *Adam) Step(params, grads []*mat.Dense) error {
	if err := checkShapes(params, grads); err != nil {
		return err
	}
	if a.m == nil {
		a.m = make([]*mat.Dense, len(params))
		a.v = make([]*mat.Dense, len(params))
		for i, p := range params {
			r, c := p.Dims()
			a.m[i] = mat.NewDense(r, c, nil)
			a.v[i] = mat.NewDense(r, c, nil)
		}
	}
	if len(a.m) != len(params) {
		return fmt.Errorf("%w: optimizer bound to %d params, got %d", ErrShapeMismatch, len(a.m), len(params))
	}

	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for i, p := range params {
		pd := p.RawMatrix().Data
		gd := grads[i].RawMatrix().Data
		md := a.m[i].RawMatrix().Data
		vd := a.v[i].RawMatrix().Data
		if len(md) != len(pd) {
			return fmt.Errorf("%w: moment %d has %d elements, param has %d", ErrShapeMismatch, i, len(md), len(pd))
		}
		for j, g := range gd {
			md[j] = a.Beta1*md[j] + (1-a.Beta1)*g
			vd[j] = a.Beta2*vd[j] + (1-a.Beta2)*g*g
			pd[j] -= a.LR * (md[j] / c1) / (math.Sqrt(vd[j]/c2) + a.Eps)
		}
	}
	return nil
}

type SGD struct {
	LR       float64
	Momentum float64

	velocity []*mat.Dense
}

func (*SGD) Name() string {
	return "sgd"
}

func (s *SGD) Step(params, grads []*mat.Dense) error {
	if err := checkShapes(params, grads); err != nil {
		return err
	}
	if s.Momentum == 0 {
		for i, p := range params {
			p.Sub(p, scaled(grads[i], s.LR))
		}
		return nil
	}
	if s.velocity == nil {
		s.velocity = make([]*mat.Dense, len(params))
		for i, p := range params {
			r, c := p.Dims()
			s.velocity[i] = mat.NewDense(r, c, nil)
		}
	}
	for i, p := range params {
		v := s.velocity[i]
		v.Scale(s.Momentum, v)
		v.Add(v, grads[i])
		p.Sub(p, scaled(v, s.LR))
	}
	return nil
}

func scaled(m *mat.Dense, f float64) *mat.Dense {
	var out mat.Dense
	out.Scale(f, m)
	return &out
}
