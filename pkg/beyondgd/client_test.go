package beyondgd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"beyondgd/internal/metrics"
	"beyondgd/internal/train"
)

func newTestClient(t *testing.T, base string, opts Options) *Client {
	t.Helper()
	opts.StoreKind = "memory"
	opts.ArtifactsDir = filepath.Join(base, "runs")
	opts.ExportsDir = filepath.Join(base, "exports")
	client, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func smallRun(seed int64) RunRequest {
	return RunRequest{
		Seed:      seed,
		Workers:   2,
		BatchSize: 16,
		Dataset:   DatasetRequest{Name: "blobs", Samples: 90, Noise: 0.4},
		Model:     ModelRequest{Hidden: []int{4}},
		Tasks: []TaskConfig{
			{Type: "descent", Parameters: map[string]any{"epoch_num": 2, "report_rate": 1, "batch_size": 16}},
			{Type: "gadam", Parameters: map[string]any{"population_size": 4, "selection_size": 2, "epoch_num": 1, "report_rate": 1, "batch_size": 32}},
		},
	}
}

func TestClientRunRunsReportsAndExport(t *testing.T) {
	base := t.TempDir()
	var progress bytes.Buffer
	m := metrics.New()
	client := newTestClient(t, base, Options{Progress: &progress, Metrics: m})
	ctx := context.Background()

	summary, err := client.Run(ctx, smallRun(42))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID == "" || summary.BestEntityID == "" {
		t.Fatalf("expected run and entity ids: %+v", summary)
	}
	if len(summary.Reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(summary.Reports))
	}
	if summary.FinalDev < 0 || summary.FinalDev > 1 || summary.FinalTest < 0 || summary.FinalTest > 1 {
		t.Fatalf("scores out of range: %+v", summary)
	}
	if strings.Count(progress.String(), "[--- @") != 3 {
		t.Fatalf("unexpected progress output:\n%s", progress.String())
	}
	for _, file := range []string{"config.json", "summary.json", "epochs.csv", "fitness.png"} {
		if _, err := os.Stat(filepath.Join(summary.ArtifactsDir, file)); err != nil {
			t.Fatalf("expected artifact %s: %v", file, err)
		}
	}

	run, ok, err := client.store.GetRun(ctx, summary.RunID)
	if err != nil || !ok {
		t.Fatalf("stored run: ok=%t err=%v", ok, err)
	}
	if len(run.Tasks) != 2 || run.Tasks[1] != "gadam" || run.BestEntityID != summary.BestEntityID {
		t.Fatalf("unexpected stored run: %+v", run)
	}
	if _, ok, err := client.store.GetEntity(ctx, summary.BestEntityID); err != nil || !ok {
		t.Fatalf("stored best entity: ok=%t err=%v", ok, err)
	}
	snapshot, ok, err := client.store.GetPopulation(ctx, summary.RunID+"/population")
	if err != nil || !ok {
		t.Fatalf("stored population: ok=%t err=%v", ok, err)
	}
	if len(snapshot.Members) != 4 || snapshot.Task != "gadam" {
		t.Fatalf("unexpected population snapshot: %+v", snapshot)
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID || runs[0].Dataset != "blobs" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	reports, err := client.Reports(ctx, ReportsRequest{Latest: true, Limit: 2})
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	if len(reports) != 2 || reports[0].Task != "descent" {
		t.Fatalf("unexpected reports: %+v", reports)
	}

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.RunID != summary.RunID {
		t.Fatalf("unexpected export: %+v", exported)
	}
	if _, err := os.Stat(filepath.Join(exported.Directory, "epochs.csv")); err != nil {
		t.Fatalf("expected exported epochs: %v", err)
	}

	if n, err := testutil.GatherAndCount(m.Registry(), "beyondgd_reported_epochs_total"); err != nil || n != 2 {
		t.Fatalf("expected two task series, got %d err=%v", n, err)
	}
}

func TestClientReportsFallBackToArtifacts(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()
	first := newTestClient(t, base, Options{})
	summary, err := first.Run(ctx, smallRun(7))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// A new memory store knows nothing about the run.
	second := newTestClient(t, base, Options{})
	reports, err := second.Reports(ctx, ReportsRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	if len(reports) != len(summary.Reports) {
		t.Fatalf("expected %d reports from artifacts, got %d", len(summary.Reports), len(reports))
	}
	if _, err := second.Reports(ctx, ReportsRequest{RunID: "missing"}); err == nil {
		t.Fatal("expected missing run error")
	}
	runs, err := second.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID || runs[0].Dataset != "blobs" {
		t.Fatalf("expected the run from the artifacts index, got %+v", runs)
	}
}

func TestClientBestReadsStoredEntity(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, t.TempDir(), Options{})
	summary, err := client.Run(ctx, smallRun(42))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	best, err := client.Best(ctx, BestRequest{Latest: true})
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if best.RunID != summary.RunID || best.EntityID != summary.BestEntityID || best.FinalDev != summary.FinalDev {
		t.Fatalf("unexpected best entity: %+v", best)
	}
	arch := best.Architecture
	if arch.Inputs != 2 || arch.Outputs != 3 || len(arch.Hidden) != 1 || arch.Hidden[0] != 4 {
		t.Fatalf("unexpected architecture: %+v", arch)
	}
	// 2x4 + 4 + 4x3 + 3
	if best.Parameters != 27 {
		t.Fatalf("expected 27 parameters, got %d", best.Parameters)
	}

	if _, err := client.Best(ctx, BestRequest{RunID: "missing"}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestClientResumesFromStoredPopulation(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, t.TempDir(), Options{})
	first, err := client.Run(ctx, smallRun(42))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	req := smallRun(43)
	req.ResumeFrom = first.RunID
	req.Model = ModelRequest{Hidden: []int{9}}
	req.Tasks = []TaskConfig{
		{Type: "gadam", Parameters: map[string]any{"population_size": 10, "selection_size": 2, "epoch_num": 1, "report_rate": 1, "batch_size": 32}},
	}
	second, err := client.Run(ctx, req)
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}

	run, ok, err := client.store.GetRun(ctx, second.RunID)
	if err != nil || !ok {
		t.Fatalf("stored run: ok=%t err=%v", ok, err)
	}
	if run.ResumedFrom != first.RunID {
		t.Fatalf("expected resumed_from=%s, got %q", first.RunID, run.ResumedFrom)
	}
	// The stored population of 4 carries over; population_size only
	// applies to fresh populations.
	snapshot, ok, err := client.store.GetPopulation(ctx, second.RunID+"/population")
	if err != nil || !ok {
		t.Fatalf("stored population: ok=%t err=%v", ok, err)
	}
	if len(snapshot.Members) != 4 {
		t.Fatalf("expected the 4 resumed members to carry over, got %d", len(snapshot.Members))
	}
	best, err := client.Best(ctx, BestRequest{RunID: second.RunID})
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if len(best.Architecture.Hidden) != 1 || best.Architecture.Hidden[0] != 4 {
		t.Fatalf("resumed run must keep the stored architecture, got %+v", best.Architecture)
	}

	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 stored runs, got %d", len(runs))
	}
}

func TestClientResumesFromStoredModel(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, t.TempDir(), Options{})
	req := smallRun(5)
	req.Tasks = []TaskConfig{{Type: "descent", Parameters: map[string]any{"epoch_num": 2, "report_rate": 1, "batch_size": 16}}}
	first, err := client.Run(ctx, req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	req.ResumeFrom = first.RunID
	second, err := client.Run(ctx, req)
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if !strings.HasSuffix(second.BestEntityID, "/resume-best") {
		t.Fatalf("expected the stored model to be trained further, got %s", second.BestEntityID)
	}

	req.Dataset = DatasetRequest{Name: "xor", Samples: 40}
	if _, err := client.Run(ctx, req); err == nil || !strings.Contains(err.Error(), "stored network") {
		t.Fatalf("expected shape mismatch against the dataset, got %v", err)
	}
	req.ResumeFrom = "missing"
	if _, err := client.Run(ctx, req); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestClientRunValidation(t *testing.T) {
	base := t.TempDir()
	m := metrics.New()
	client := newTestClient(t, base, Options{Metrics: m})
	ctx := context.Background()

	req := smallRun(1)
	req.Tasks = []TaskConfig{{Type: "annealing"}}
	if _, err := client.Run(ctx, req); !errors.Is(err, train.ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound, got %v", err)
	}
	req = smallRun(1)
	req.Dataset.Name = "mnist"
	if _, err := client.Run(ctx, req); err == nil {
		t.Fatal("expected unsupported dataset error")
	}
	req = smallRun(1)
	req.Model.Activation = "softsign"
	if _, err := client.Run(ctx, req); err == nil {
		t.Fatal("expected unknown activation error")
	}
	want := `
# HELP beyondgd_runs_total Finished training runs by outcome.
# TYPE beyondgd_runs_total counter
beyondgd_runs_total{outcome="error"} 3
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "beyondgd_runs_total"); err != nil {
		t.Fatalf("unexpected run outcomes: %v", err)
	}

	if _, err := client.Export(ctx, ExportRequest{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected run id/latest conflict")
	}
	if _, err := client.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected missing run id error")
	}
	if _, err := client.Reports(ctx, ReportsRequest{Latest: true}); err == nil {
		t.Fatal("expected no runs error")
	}
}

func TestClientCSVDataset(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "points.csv")
	var body strings.Builder
	body.WriteString("x0,x1,label\n")
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			body.WriteString("-1.5,-1.2,0\n")
		} else {
			body.WriteString("1.4,1.6,1\n")
		}
	}
	if err := os.WriteFile(path, []byte(body.String()), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	client := newTestClient(t, base, Options{})
	summary, err := client.Run(context.Background(), RunRequest{
		Seed:    3,
		Workers: 1,
		Dataset: DatasetRequest{Name: "csv", Path: path, LabelColumn: -1, HasHeader: true},
		Model:   ModelRequest{Hidden: []int{3}},
		Tasks:   []TaskConfig{{Type: "descent", Parameters: map[string]any{"epoch_num": 20, "report_rate": 20, "learning_rate": 0.05, "batch_size": 8}}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.FinalTest != 1 {
		t.Fatalf("expected perfect test accuracy on separable points, got %f", summary.FinalTest)
	}
}

func TestClientStrategies(t *testing.T) {
	client := newTestClient(t, t.TempDir(), Options{})
	items := client.Strategies()
	kinds := map[string]string{}
	for _, item := range items {
		kinds[item.Name] = item.Kind
	}
	if kinds["gadam"] != "population" || kinds["swarm"] != "model" || len(items) != 5 {
		t.Fatalf("unexpected strategies: %+v", items)
	}
}
