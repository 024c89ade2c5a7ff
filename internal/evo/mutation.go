package evo

import (
	"fmt"
	"math/rand"
)

// Mutate returns a deep copy of e with N(0, rate^2) noise added to every
// parameter element. The member's fitness is a placeholder until the
// caller scores it.
func Mutate(rng *rand.Rand, e Entity, rate float64, id string) (Member, error) {
	if rng == nil {
		return Member{}, fmt.Errorf("random source is required")
	}
	if e == nil {
		return Member{}, fmt.Errorf("mutation requires an entity")
	}
	if rate < 0 {
		return Member{}, fmt.Errorf("%w: mutation rate=%v", ErrInvalidRate, rate)
	}

	child := e.Clone(id)
	if rate == 0 {
		return Member{Entity: child}, nil
	}
	for _, param := range child.Parameters() {
		rows, cols := param.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				param.Set(r, c, param.At(r, c)+rng.NormFloat64()*rate)
			}
		}
	}
	return Member{Entity: child}, nil
}
