package evo

import (
	"fmt"
	"math/rand"
)

// MaskFunc reports whether element (row, col) of tensor param is taken
// from the dominant parent.
type MaskFunc func(param, row, col int) bool

// Cross returns a deep copy of dominant whose elements are replaced by
// recessive's with probability 1-dominance, drawn independently per element.
func Cross(rng *rand.Rand, dominant, recessive Entity, dominance float64, id string) (Entity, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if dominance < 0 || dominance > 1 {
		return nil, fmt.Errorf("%w: dominance=%v", ErrInvalidRate, dominance)
	}
	return CrossWithMask(dominant, recessive, func(_, _, _ int) bool {
		return rng.Float64() < dominance
	}, id)
}

// CrossWithMask recombines dominant and recessive with an explicit mask.
// Both parents are left untouched.
func CrossWithMask(dominant, recessive Entity, keepDominant MaskFunc, id string) (Entity, error) {
	if dominant == nil || recessive == nil {
		return nil, fmt.Errorf("crossover requires two entities")
	}
	domParams := dominant.Parameters()
	recParams := recessive.Parameters()
	if !sameShapes(domParams, recParams) {
		return nil, fmt.Errorf("%w: cross %s with %s", ErrShapeMismatch, dominant.ID(), recessive.ID())
	}

	child := dominant.Clone(id)
	for p, param := range child.Parameters() {
		rec := recParams[p]
		rows, cols := param.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				if !keepDominant(p, r, c) {
					param.Set(r, c, rec.At(r, c))
				}
			}
		}
	}
	return child, nil
}
