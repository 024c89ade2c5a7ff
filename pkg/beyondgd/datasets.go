package beyondgd

import (
	"fmt"
	"math/rand"

	"beyondgd/internal/data"
	"beyondgd/internal/train"
)

// DefaultTasks is the task list of a run that names none.
func DefaultTasks() []TaskConfig {
	return []TaskConfig{{Type: "gadam"}}
}

func withRunDefaults(req RunRequest) RunRequest {
	if req.Workers <= 0 {
		req.Workers = train.DefaultWorkers()
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 32
	}
	if req.Dataset.Name == "" {
		req.Dataset.Name = "blobs"
	}
	if req.Dataset.Samples <= 0 {
		req.Dataset.Samples = 600
	}
	if req.Dataset.Features <= 0 {
		req.Dataset.Features = 2
	}
	if req.Dataset.Classes <= 0 {
		req.Dataset.Classes = 3
		if req.Dataset.Name == "xor" {
			req.Dataset.Classes = 2
		}
	}
	if req.Dataset.Noise <= 0 {
		req.Dataset.Noise = defaultNoise(req.Dataset.Name)
	}
	if req.Dataset.Split == [3]float64{} {
		req.Dataset.Split = [3]float64{0.7, 0.15, 0.15}
	}
	if len(req.Model.Hidden) == 0 {
		req.Model.Hidden = []int{16}
	}
	if req.Model.Activation == "" {
		req.Model.Activation = "tanh"
	}
	if len(req.Tasks) == 0 {
		req.Tasks = DefaultTasks()
	}
	return req
}

func defaultNoise(name string) float64 {
	switch name {
	case "xor":
		return 0.2
	case "spirals":
		return 0.1
	default:
		return 0.6
	}
}

func buildDataset(rng *rand.Rand, req DatasetRequest) (data.Dataset, error) {
	switch req.Name {
	case "xor":
		return data.XOR(rng, req.Samples, req.Noise)
	case "blobs":
		return data.Blobs(rng, req.Samples, req.Features, req.Classes, req.Noise)
	case "spirals":
		return data.Spirals(rng, req.Samples, req.Classes, req.Noise)
	case "csv":
		if req.Path == "" {
			return data.Dataset{}, fmt.Errorf("csv dataset requires a path")
		}
		return data.LoadCSV(req.Path, data.CSVOptions{LabelColumn: req.LabelColumn, HasHeader: req.HasHeader})
	default:
		return data.Dataset{}, fmt.Errorf("unsupported dataset: %s", req.Name)
	}
}
