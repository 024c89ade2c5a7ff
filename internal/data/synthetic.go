package data

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// XOR samples the four XOR corners with gaussian jitter. Label is x0 xor x1.
func XOR(rng *rand.Rand, n int, noise float64) (Dataset, error) {
	if rng == nil {
		return Dataset{}, errors.New("random source is required")
	}
	if n <= 0 {
		return Dataset{}, ErrEmptyDataset
	}
	x := mat.NewDense(n, 2, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		a := rng.Intn(2)
		b := rng.Intn(2)
		x.Set(i, 0, float64(a)*2-1+rng.NormFloat64()*noise)
		x.Set(i, 1, float64(b)*2-1+rng.NormFloat64()*noise)
		y[i] = a ^ b
	}
	return NewDataset(x, y, 2)
}

// Blobs draws isotropic gaussian clusters around random centers in
// [-4,4]^features, one cluster per class.
func Blobs(rng *rand.Rand, n, features, classes int, spread float64) (Dataset, error) {
	if rng == nil {
		return Dataset{}, errors.New("random source is required")
	}
	if n <= 0 || features <= 0 || classes <= 0 {
		return Dataset{}, ErrEmptyDataset
	}
	centers := make([][]float64, classes)
	for c := range centers {
		centers[c] = make([]float64, features)
		for f := range centers[c] {
			centers[c][f] = rng.Float64()*8 - 4
		}
	}
	x := mat.NewDense(n, features, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		c := i % classes
		for f := 0; f < features; f++ {
			x.Set(i, f, centers[c][f]+rng.NormFloat64()*spread)
		}
		y[i] = c
	}
	return NewDataset(x, y, classes)
}

// Spirals builds interleaved 2-D spiral arms, one arm per class.
func Spirals(rng *rand.Rand, n, classes int, noise float64) (Dataset, error) {
	if rng == nil {
		return Dataset{}, errors.New("random source is required")
	}
	if n <= 0 || classes <= 0 {
		return Dataset{}, ErrEmptyDataset
	}
	x := mat.NewDense(n, 2, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		c := i % classes
		r := rng.Float64()
		theta := r*4 + float64(c)*2*math.Pi/float64(classes) + rng.NormFloat64()*noise
		x.Set(i, 0, r*math.Cos(theta))
		x.Set(i, 1, r*math.Sin(theta))
		y[i] = c
	}
	return NewDataset(x, y, classes)
}
