package stats

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"beyondgd/internal/model"
)

// RunSummary condenses a finished run.
type RunSummary struct {
	RunID        string   `json:"run_id"`
	Tasks        []string `json:"tasks"`
	BestEntityID string   `json:"best_entity_id,omitempty"`
	FinalDev     float64  `json:"final_dev"`
	FinalTest    float64  `json:"final_test"`
	Reports      int      `json:"reports"`
	DevMean      float64  `json:"dev_mean"`
	DevStd       float64  `json:"dev_std"`
	DevMax       float64  `json:"dev_max"`
	DevMin       float64  `json:"dev_min"`
	// Improvement is the dev score change from the first to the last report.
	Improvement float64 `json:"improvement"`
	ElapsedMS   int64   `json:"elapsed_ms"`
}

// Summarize fills the dev statistics of s from reports.
func Summarize(s RunSummary, reports []model.EpochReport) RunSummary {
	s.Reports = len(reports)
	if len(reports) == 0 {
		return s
	}
	dev := make([]float64, len(reports))
	for i, r := range reports {
		dev[i] = r.BestDev
	}
	s.DevMean, s.DevStd = stat.MeanStdDev(dev, nil)
	if len(dev) == 1 {
		s.DevStd = 0
	}
	s.DevMax = floats.Max(dev)
	s.DevMin = floats.Min(dev)
	s.Improvement = dev[len(dev)-1] - dev[0]
	return s
}
