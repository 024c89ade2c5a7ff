package train

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Parameters are the tunables of one task. Each strategy ignores the
// fields it has no use for.
type Parameters struct {
	PopulationSize int     `json:"population_size"`
	SelectionSize  float64 `json:"selection_size"`
	Selection      string  `json:"selection"`
	MutationRate   float64 `json:"mutation_rate"`
	MutationProb   float64 `json:"mutation_prob"`
	CrossoverProb  float64 `json:"crossover_prob"`
	Dominance      float64 `json:"dominance"`
	LearningRate   float64 `json:"learning_rate"`
	LearningProb   float64 `json:"learning_prob"`
	NoiseStd       float64 `json:"noise_std"`
	EpochNum       int     `json:"epoch_num"`
	BatchSize      int     `json:"batch_size"`
	ReportRate     int     `json:"report_rate"`
	Optimizer      string  `json:"optimizer"`
	Evaluator      string  `json:"evaluator"`
	Workers        int     `json:"workers"`
	// LoaderWorkers assembles training batches ahead; dev batches are
	// always built inline.
	LoaderWorkers  int     `json:"loader_workers"`
}

func (p Parameters) Validate() error {
	if p.EpochNum < 0 {
		return fmt.Errorf("epoch_num must be >= 0")
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0")
	}
	if p.ReportRate <= 0 {
		return fmt.Errorf("report_rate must be > 0")
	}
	if p.PopulationSize < 0 {
		return fmt.Errorf("population_size must be >= 0")
	}
	if p.LoaderWorkers < 0 {
		return fmt.Errorf("loader_workers must be >= 0")
	}
	return nil
}

// TaskConfig is one entry of a run's task list as read from a config file.
type TaskConfig struct {
	Type       string         `json:"type" toml:"type"`
	Parameters map[string]any `json:"parameters,omitempty" toml:"parameters"`
}

// ResolveParameters overlays raw on the defaults of the named strategy.
// Unknown keys are rejected.
func ResolveParameters(strategy Strategy, raw map[string]any) (Parameters, error) {
	params := strategy.Defaults()
	if len(raw) > 0 {
		payload, err := json.Marshal(raw)
		if err != nil {
			return Parameters{}, fmt.Errorf("%s parameters: %w", strategy.Name(), err)
		}
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&params); err != nil {
			return Parameters{}, fmt.Errorf("%s parameters: %w", strategy.Name(), err)
		}
	}
	if err := params.Validate(); err != nil {
		return Parameters{}, fmt.Errorf("%s parameters: %w", strategy.Name(), err)
	}
	return params, nil
}

func populationDefaults() Parameters {
	return Parameters{
		PopulationSize: 80,
		SelectionSize:  10,
		Selection:      "elite",
		MutationRate:   0.02,
		MutationProb:   0.5,
		CrossoverProb:  0.5,
		Dominance:      0.5,
		EpochNum:       200,
		BatchSize:      32,
		ReportRate:     10,
		Evaluator:      "parallel",
		LoaderWorkers:  2,
	}
}
