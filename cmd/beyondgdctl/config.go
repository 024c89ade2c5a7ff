package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	api "beyondgd/pkg/beyondgd"
)

// runConfig is the on-disk run description. JSON and TOML share the keys.
type runConfig struct {
	Seed      int64  `json:"seed" toml:"seed"`
	Workers   int    `json:"workers" toml:"workers"`
	BatchSize int    `json:"batch_size" toml:"batch_size"`
	Dataset   struct {
		Name        string    `json:"name" toml:"name"`
		Path        string    `json:"path" toml:"path"`
		Samples     int       `json:"samples" toml:"samples"`
		Features    int       `json:"features" toml:"features"`
		Classes     int       `json:"classes" toml:"classes"`
		Noise       float64   `json:"noise" toml:"noise"`
		LabelColumn *int      `json:"label_column" toml:"label_column"`
		HasHeader   bool      `json:"header" toml:"header"`
		Split       []float64 `json:"split" toml:"split"`
	} `json:"dataset" toml:"dataset"`
	Model struct {
		Hidden     []int   `json:"hidden" toml:"hidden"`
		Activation string  `json:"activation" toml:"activation"`
		Dropout    float64 `json:"dropout" toml:"dropout"`
	} `json:"model" toml:"model"`
	Tasks      []api.TaskConfig `json:"tasks" toml:"tasks"`
	ResumeFrom string           `json:"resume_from" toml:"resume_from"`
}

func loadRunRequestFromConfig(path string) (api.RunRequest, error) {
	var cfg runConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return api.RunRequest{}, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return api.RunRequest{}, fmt.Errorf("%s: unknown config keys: %s", path, strings.Join(keys, ", "))
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return api.RunRequest{}, err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return api.RunRequest{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	return cfg.request()
}

func (c runConfig) request() (api.RunRequest, error) {
	req := api.RunRequest{
		Seed:      c.Seed,
		Workers:   c.Workers,
		BatchSize: c.BatchSize,
		Dataset: api.DatasetRequest{
			Name:      c.Dataset.Name,
			Path:      c.Dataset.Path,
			Samples:   c.Dataset.Samples,
			Features:  c.Dataset.Features,
			Classes:   c.Dataset.Classes,
			Noise:     c.Dataset.Noise,
			HasHeader: c.Dataset.HasHeader,
		},
		Model: api.ModelRequest{
			Hidden:     c.Model.Hidden,
			Activation: c.Model.Activation,
			Dropout:    c.Model.Dropout,
		},
		Tasks:      c.Tasks,
		ResumeFrom: c.ResumeFrom,
	}
	req.Dataset.LabelColumn = -1
	if c.Dataset.LabelColumn != nil {
		req.Dataset.LabelColumn = *c.Dataset.LabelColumn
	}
	switch len(c.Dataset.Split) {
	case 0:
	case 3:
		copy(req.Dataset.Split[:], c.Dataset.Split)
	default:
		return api.RunRequest{}, fmt.Errorf("dataset split needs 3 fractions, got %d", len(c.Dataset.Split))
	}
	for i, task := range req.Tasks {
		if task.Type == "" {
			return api.RunRequest{}, fmt.Errorf("task %d: type is required", i)
		}
	}
	return req, nil
}

func defaultRunRequest() api.RunRequest {
	return api.RunRequest{
		Seed:    1,
		Dataset: api.DatasetRequest{Name: "blobs", LabelColumn: -1},
	}
}

func loadOrDefaultRunRequest(configPath string) (api.RunRequest, error) {
	if configPath == "" {
		return defaultRunRequest(), nil
	}
	return loadRunRequestFromConfig(configPath)
}

// overrideFromFlags applies explicitly set flags on top of a loaded request.
func overrideFromFlags(req *api.RunRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "seed":
			req.Seed = v.(int64)
		case "workers":
			req.Workers = v.(int)
		case "batch-size":
			req.BatchSize = v.(int)
		case "dataset":
			req.Dataset.Name = v.(string)
		case "dataset-path":
			req.Dataset.Path = v.(string)
		case "samples":
			req.Dataset.Samples = v.(int)
		case "features":
			req.Dataset.Features = v.(int)
		case "classes":
			req.Dataset.Classes = v.(int)
		case "noise":
			req.Dataset.Noise = v.(float64)
		case "label-column":
			req.Dataset.LabelColumn = v.(int)
		case "header":
			req.Dataset.HasHeader = v.(bool)
		case "hidden":
			hidden, err := parseInts(v.(string))
			if err != nil {
				return fmt.Errorf("hidden: %w", err)
			}
			req.Model.Hidden = hidden
		case "activation":
			req.Model.Activation = v.(string)
		case "dropout":
			req.Model.Dropout = v.(float64)
		case "tasks":
			req.Tasks = nil
			for _, name := range splitList(v.(string)) {
				req.Tasks = append(req.Tasks, api.TaskConfig{Type: name})
			}
		case "resume":
			req.ResumeFrom = v.(string)
		}
	}
	// Per-task overrides apply after the task list is settled.
	if len(req.Tasks) == 0 && (set["epochs"] || set["report-rate"]) {
		req.Tasks = api.DefaultTasks()
	}
	if set["epochs"] {
		setTaskParameter(req.Tasks, "epoch_num", flagValue["epochs"])
	}
	if set["report-rate"] {
		setTaskParameter(req.Tasks, "report_rate", flagValue["report-rate"])
	}
	return nil
}

func setTaskParameter(tasks []api.TaskConfig, key string, value any) {
	for i := range tasks {
		params := make(map[string]any, len(tasks[i].Parameters)+1)
		for k, v := range tasks[i].Parameters {
			params[k] = v
		}
		params[key] = value
		tasks[i].Parameters = params
	}
}

func parseInts(s string) ([]int, error) {
	parts := splitList(s)
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
