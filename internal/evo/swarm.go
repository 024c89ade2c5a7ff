package evo

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CentroidUpdate moves queen along the evolution-strategies gradient
// estimate of pop: with A_i the standardized fitness of member i and
// eps_i = (theta_i - theta) / noiseStd,
//
//	theta += learningRate / (n * noiseStd) * sum_i A_i * eps_i
//
// Populations with fewer than two members or zero fitness spread leave the
// queen unchanged. The queen must not be a member of pop.
func CentroidUpdate(queen Entity, pop *Population, noiseStd, learningRate float64) error {
	if queen == nil {
		return fmt.Errorf("queen entity is required")
	}
	if noiseStd <= 0 {
		return fmt.Errorf("%w: noise std must be > 0, got %v", ErrInvalidRate, noiseStd)
	}
	if pop.Contains(queen) {
		return fmt.Errorf("queen %s must not be a population member", queen.ID())
	}
	n := pop.Len()
	if n < 2 {
		return nil
	}

	members := pop.Members()
	mean, std := stat.MeanStdDev(pop.Scores(), nil)
	if std == 0 {
		return nil
	}

	theta := queen.Parameters()
	for _, m := range members {
		if !sameShapes(theta, m.Entity.Parameters()) {
			return fmt.Errorf("%w: queen %s vs member %s", ErrShapeMismatch, queen.ID(), m.Entity.ID())
		}
	}

	scale := learningRate / (float64(n) * noiseStd * noiseStd)
	for p, param := range theta {
		rows, cols := param.Dims()
		step := mat.NewDense(rows, cols, nil)
		var deviation mat.Dense
		for _, m := range members {
			advantage := (m.Fitness - mean) / std
			deviation.Sub(m.Entity.Parameters()[p], param)
			deviation.Scale(advantage, &deviation)
			step.Add(step, &deviation)
		}
		step.Scale(scale, step)
		param.Add(param, step)
	}
	return nil
}
