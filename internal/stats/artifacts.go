package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"beyondgd/internal/model"
	"beyondgd/internal/train"
)

const (
	runIndexFile   = "run_index.json"
	configFile     = "config.json"
	summaryFile    = "summary.json"
	epochsFile     = "epochs.csv"
	fitnessPlotPNG = "fitness.png"
)

var epochsHeader = []string{"task", "subject", "epoch", "avg_train", "best_train", "best_dev", "duration_ms"}

type RunConfig struct {
	RunID        string             `json:"run_id"`
	Seed         int64              `json:"seed"`
	Dataset      string             `json:"dataset"`
	DatasetPath  string             `json:"dataset_path,omitempty"`
	Samples      int                `json:"samples,omitempty"`
	Architecture model.Architecture `json:"architecture"`
	Workers      int                `json:"workers"`
	BatchSize    int                `json:"batch_size"`
	Tasks        []train.TaskConfig `json:"tasks"`
}

type RunArtifacts struct {
	Config  RunConfig           `json:"config"`
	Summary RunSummary          `json:"summary"`
	Reports []model.EpochReport `json:"reports"`
}

type RunIndexEntry struct {
	RunID        string   `json:"run_id"`
	Dataset      string   `json:"dataset"`
	Tasks        []string `json:"tasks"`
	Seed         int64    `json:"seed"`
	Workers      int      `json:"workers"`
	FinalDev     float64  `json:"final_dev"`
	FinalTest    float64  `json:"final_test"`
	CreatedAtUTC string   `json:"created_at_utc"`
}

// WriteRunArtifacts lays out baseDir/<run id>/ with the run config, the
// summary, the epoch table and, when there are reports, the fitness plot.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	summary := artifacts.Summary
	if summary.RunID == "" {
		summary.RunID = artifacts.Config.RunID
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), summary); err != nil {
		return "", err
	}
	if err := WriteEpochReports(filepath.Join(runDir, epochsFile), artifacts.Reports); err != nil {
		return "", err
	}
	if len(artifacts.Reports) > 0 {
		title := fmt.Sprintf("run %s", artifacts.Config.RunID)
		if err := PlotFitness(artifacts.Reports, title, filepath.Join(runDir, fitnessPlotPNG)); err != nil {
			return "", fmt.Errorf("fitness plot: %w", err)
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := entries[order[i]], entries[order[j]]
		if a.CreatedAtUTC == b.CreatedAtUTC {
			// Later appends win on equal timestamps.
			return order[i] > order[j]
		}
		return a.CreatedAtUTC > b.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(entries))
	for _, i := range order {
		sorted = append(sorted, entries[i])
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory to outDir/<run id>.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, summaryFile, epochsFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	plotPath := filepath.Join(src, fitnessPlotPNG)
	if _, err := os.Stat(plotPath); err == nil {
		if err := copyFile(plotPath, filepath.Join(dst, fitnessPlotPNG)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadRunSummary(baseDir, runID string) (RunSummary, bool, error) {
	var summary RunSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, summaryFile), &summary)
	return summary, ok, err
}

// WriteEpochReports writes reports as a CSV table with a header row.
func WriteEpochReports(path string, reports []model.EpochReport) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(epochsHeader); err != nil {
		return err
	}
	for _, r := range reports {
		if err := writer.Write([]string{
			r.Task,
			r.Subject,
			strconv.Itoa(r.Epoch),
			strconv.FormatFloat(r.AvgTrain, 'f', -1, 64),
			strconv.FormatFloat(r.BestTrain, 'f', -1, 64),
			strconv.FormatFloat(r.BestDev, 'f', -1, 64),
			strconv.FormatInt(r.DurationMS, 10),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadEpochReports(baseDir, runID string) ([]model.EpochReport, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, epochsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(epochsHeader)
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []model.EpochReport{}, true, nil
		}
		return nil, false, err
	}

	reports := make([]model.EpochReport, 0, 64)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, false, err
		}
		r, err := parseEpochRow(record)
		if err != nil {
			return nil, false, fmt.Errorf("epochs row %d: %w", len(reports)+1, err)
		}
		reports = append(reports, r)
	}
	return reports, true, nil
}

func parseEpochRow(record []string) (model.EpochReport, error) {
	r := model.EpochReport{Task: record[0], Subject: record[1]}
	var err error
	if r.Epoch, err = strconv.Atoi(record[2]); err != nil {
		return r, err
	}
	floats := []*float64{&r.AvgTrain, &r.BestTrain, &r.BestDev}
	for i, dst := range floats {
		if *dst, err = strconv.ParseFloat(record[3+i], 64); err != nil {
			return r, err
		}
	}
	if r.DurationMS, err = strconv.ParseInt(record[6], 10, 64); err != nil {
		return r, err
	}
	return r, nil
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
