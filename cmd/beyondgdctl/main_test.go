package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"beyondgd/internal/nn"
	"beyondgd/internal/stats"
	api "beyondgd/pkg/beyondgd"
)

func TestRunCommandLifecycle(t *testing.T) {
	base := t.TempDir()
	runsDir := filepath.Join(base, "runs")
	common := []string{"--store", "memory", "--artifacts-dir", runsDir, "--log-level", "warn"}
	ctx := context.Background()

	if err := run(ctx, append([]string{"init"}, common...)); err != nil {
		t.Fatalf("init: %v", err)
	}
	args := append([]string{"run"}, common...)
	args = append(args,
		"--quiet",
		"--seed", "11",
		"--workers", "2",
		"--samples", "60",
		"--hidden", "4",
		"--tasks", "descent,gadam",
		"--epochs", "1",
		"--report-rate", "1",
	)
	if err := run(ctx, args); err != nil {
		t.Fatalf("run command: %v", err)
	}

	entries, err := stats.ListRunIndex(runsDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || strings.Join(entries[0].Tasks, ",") != "descent,gadam" {
		t.Fatalf("unexpected run index: %+v", entries)
	}
	runID := entries[0].RunID
	for _, file := range []string{"config.json", "summary.json", "epochs.csv", "fitness.png"} {
		if _, err := os.Stat(filepath.Join(runsDir, runID, file)); err != nil {
			t.Fatalf("expected artifact %s: %v", file, err)
		}
	}
	reports, ok, err := stats.ReadEpochReports(runsDir, runID)
	if err != nil || !ok || len(reports) != 2 {
		t.Fatalf("expected 2 epoch reports: ok=%t err=%v n=%d", ok, err, len(reports))
	}

	if err := run(ctx, append([]string{"runs", "--json"}, common...)); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if err := run(ctx, append([]string{"reports", "--latest"}, common...)); err != nil {
		t.Fatalf("reports: %v", err)
	}
	// A memory store does not outlive the command that filled it.
	if err := run(ctx, append([]string{"best", "--latest"}, common...)); !errors.Is(err, api.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound from a fresh memory store, got %v", err)
	}
	outDir := filepath.Join(base, "exports")
	if err := run(ctx, append([]string{"export", "--run-id", runID, "--out", outDir}, common...)); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, runID, "epochs.csv")); err != nil {
		t.Fatalf("expected exported epochs: %v", err)
	}
	if err := run(ctx, append([]string{"reset"}, common...)); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

func TestRunCommandWithConfigFile(t *testing.T) {
	base := t.TempDir()
	runsDir := filepath.Join(base, "runs")
	path := filepath.Join(base, "run.toml")
	body := `
seed = 4
workers = 1

[dataset]
name = "xor"
samples = 40

[model]
hidden = [4]

[[tasks]]
type = "amoeba"
[tasks.parameters]
population_size = 4
selection_size = 2
epoch_num = 1
report_rate = 1
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	err := run(context.Background(), []string{"run", "--store", "memory", "--artifacts-dir", runsDir, "--quiet", "--log-level", "error", "--config", path})
	if err != nil {
		t.Fatalf("run with config: %v", err)
	}
	entries, err := stats.ListRunIndex(runsDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one run: %+v err=%v", entries, err)
	}
	if entries[0].Dataset != "xor" || entries[0].Seed != 4 {
		t.Fatalf("config was not applied: %+v", entries[0])
	}
}

func TestRunCommandEpochsWithoutConfiguredTasks(t *testing.T) {
	base := t.TempDir()
	runsDir := filepath.Join(base, "runs")
	path := filepath.Join(base, "run.json")
	body := `{"seed": 2, "workers": 1, "dataset": {"name": "xor", "samples": 40}, "model": {"hidden": [3]}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	args := []string{"run", "--store", "memory", "--artifacts-dir", runsDir, "--quiet", "--log-level", "error",
		"--config", path, "--epochs", "1", "--report-rate", "1"}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("run: %v", err)
	}
	entries, err := stats.ListRunIndex(runsDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one run: %+v err=%v", entries, err)
	}
	reports, ok, err := stats.ReadEpochReports(runsDir, entries[0].RunID)
	if err != nil || !ok {
		t.Fatalf("read reports: ok=%t err=%v", ok, err)
	}
	if len(reports) != 1 || reports[0].Task != "gadam" || reports[0].Epoch != 1 {
		t.Fatalf("expected a single gadam epoch, got %+v", reports)
	}
}

func TestRunCommandErrors(t *testing.T) {
	ctx := context.Background()
	cases := [][]string{
		nil,
		{"benchmark"},
		{"run", "--store", "memory", "--artifacts-dir", t.TempDir(), "--tasks", "annealing"},
		{"run", "--store", "memory", "--artifacts-dir", t.TempDir(), "--log-level", "loud"},
		{"runs", "--limit", "0"},
		{"export", "--artifacts-dir", t.TempDir(), "--store", "memory"},
		{"reports", "--artifacts-dir", t.TempDir(), "--store", "memory", "--latest"},
		{"best", "--artifacts-dir", t.TempDir(), "--store", "memory"},
		{"run", "--store", "memory", "--artifacts-dir", t.TempDir(), "--resume", "missing", "--epochs", "1"},
	}
	for _, args := range cases {
		if err := run(ctx, args); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
	if err := run(ctx, []string{"strategies"}); err != nil {
		t.Fatalf("strategies: %v", err)
	}
}

func TestActivationUsageListsRegistry(t *testing.T) {
	usage := activationUsage()
	for _, name := range nn.ListActivations() {
		if !strings.Contains(usage, name) {
			t.Fatalf("usage %q misses activation %s", usage, name)
		}
	}
	if !strings.Contains(usage, "sigmoid") || !strings.Contains(usage, "relu") {
		t.Fatalf("unexpected usage %q", usage)
	}
}
