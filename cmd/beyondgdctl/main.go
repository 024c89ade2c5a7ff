package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/klauspost/cpuid/v2"

	"beyondgd/internal/metrics"
	"beyondgd/internal/nn"
	"beyondgd/internal/storage"
	"beyondgd/internal/train"
	api "beyondgd/pkg/beyondgd"
)

const (
	artifactsDir = "runs"
	exportsDir   = "exports"
	dbPath       = "beyondgd.db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "reports":
		return runReports(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "best":
		return runBest(ctx, args[1:])
	case "strategies":
		return runStrategies(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// clientFlags are shared by every command that opens a client.
type clientFlags struct {
	storeKind    *string
	dbPath       *string
	artifactsDir *string
	logLevel     *string
}

func registerClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		storeKind:    fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:       fs.String("db-path", dbPath, "sqlite database path"),
		artifactsDir: fs.String("artifacts-dir", artifactsDir, "run artifacts directory"),
		logLevel:     fs.String("log-level", "info", "log level: debug|info|warn|error"),
	}
}

func (f clientFlags) open(progress io.Writer, m *metrics.Metrics) (*api.Client, *slog.Logger, error) {
	logger, err := newLogger(os.Stderr, *f.logLevel)
	if err != nil {
		return nil, nil, err
	}
	client, err := api.New(api.Options{
		StoreKind:    *f.storeKind,
		DBPath:       *f.dbPath,
		ArtifactsDir: *f.artifactsDir,
		ExportsDir:   exportsDir,
		Logger:       logger,
		Metrics:      m,
		Progress:     progress,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, logger, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, _, err := cf.open(nil, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s\n", *cf.storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, _, err := cf.open(nil, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Reset(ctx); err != nil {
		return err
	}
	fmt.Printf("reset store=%s\n", *cf.storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	configPath := fs.String("config", "", "optional run config path (.json or .toml)")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	quiet := fs.Bool("quiet", false, "suppress per-epoch progress lines")
	seed := fs.Int64("seed", 1, "rng seed")
	workers := fs.Int("workers", 0, "evaluation worker count (0 uses logical cores)")
	batchSize := fs.Int("batch-size", 32, "evaluation batch size")
	dataset := fs.String("dataset", "blobs", "dataset: xor|blobs|spirals|csv")
	datasetPath := fs.String("dataset-path", "", "csv dataset path")
	samples := fs.Int("samples", 600, "synthetic sample count")
	features := fs.Int("features", 2, "blobs feature count")
	classes := fs.Int("classes", 3, "synthetic class count")
	noise := fs.Float64("noise", 0, "synthetic noise (0 uses the dataset default)")
	labelColumn := fs.Int("label-column", -1, "csv label column; negative counts from the end")
	header := fs.Bool("header", false, "csv has a header row")
	hidden := fs.String("hidden", "16", "comma separated hidden layer widths")
	activation := fs.String("activation", "tanh", activationUsage())
	dropout := fs.Float64("dropout", 0, "dropout rate in training mode")
	tasks := fs.String("tasks", "gadam", "comma separated task types: "+strings.Join(train.ListStrategies(), "|"))
	epochs := fs.Int("epochs", 0, "override epoch_num of every task")
	reportRate := fs.Int("report-rate", 0, "override report_rate of every task")
	resume := fs.String("resume", "", "seed the run from a stored run id (needs a persistent store)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadOrDefaultRunRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		// Without a config file every flag takes effect, defaults included.
		for _, name := range []string{"seed", "workers", "batch-size", "dataset", "dataset-path", "samples", "features", "classes", "noise", "label-column", "header", "hidden", "activation", "dropout", "tasks"} {
			setFlags[name] = true
		}
	}
	if err := overrideFromFlags(&req, setFlags, map[string]any{
		"seed":         *seed,
		"workers":      *workers,
		"batch-size":   *batchSize,
		"dataset":      *dataset,
		"dataset-path": *datasetPath,
		"samples":      *samples,
		"features":     *features,
		"classes":      *classes,
		"noise":        *noise,
		"label-column": *labelColumn,
		"header":       *header,
		"hidden":       *hidden,
		"activation":   *activation,
		"dropout":      *dropout,
		"tasks":        *tasks,
		"epochs":       *epochs,
		"report-rate":  *reportRate,
		"resume":       *resume,
	}); err != nil {
		return err
	}

	var progress io.Writer = os.Stdout
	if *quiet {
		progress = nil
	}
	m := metrics.New()
	client, logger, err := cf.open(progress, m)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	logger.Debug("host", "cpu", cpuid.CPU.BrandName, "logical_cores", cpuid.CPU.LogicalCores)

	if *metricsAddr != "" {
		shutdown, err := serveMetrics(*metricsAddr, m, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run completed run_id=%s best=%s dev=%.4f test=%.4f elapsed=%s\n",
		summary.RunID, summary.BestEntityID, summary.FinalDev, summary.FinalTest, summary.Elapsed.Round(time.Millisecond))
	fmt.Printf("artifacts=%s\n", summary.ArtifactsDir)
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}
	client, _, err := cf.open(nil, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s created_at=%s dataset=%s tasks=%s seed=%d dev=%.4f test=%.4f\n",
			r.RunID, r.CreatedAtUTC, r.Dataset, strings.Join(r.Tasks, ","), r.Seed, r.FinalDev, r.FinalTest)
	}
	return nil
}

func runReports(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reports", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run")
	limit := fs.Int("limit", 0, "max reports to show (0 shows all)")
	jsonOut := fs.Bool("json", false, "emit reports as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, _, err := cf.open(nil, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	reports, err := client.Reports(ctx, api.ReportsRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(reports)
	}
	for _, r := range reports {
		fmt.Printf("%-8s %s\n", r.Task, train.FormatReport(r))
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, _, err := cf.open(nil, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, api.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runBest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("best", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run")
	jsonOut := fs.Bool("json", false, "emit the entity summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, _, err := cf.open(nil, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	best, err := client.Best(ctx, api.BestRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(best)
	}
	arch := best.Architecture
	fmt.Printf("run_id=%s entity=%s net=%d-%v-%d activation=%s params=%d dev=%.4f test=%.4f\n",
		best.RunID, best.EntityID, arch.Inputs, arch.Hidden, arch.Outputs, arch.Activation, best.Parameters, best.FinalDev, best.FinalTest)
	return nil
}

func runStrategies(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("strategies", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, name := range train.ListStrategies() {
		s, err := train.ResolveStrategy(name)
		if err != nil {
			return err
		}
		defaults, err := json.Marshal(s.Defaults())
		if err != nil {
			return err
		}
		fmt.Printf("%-8s kind=%-10s defaults=%s\n", name, s.Kind(), defaults)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: beyondgdctl <init|reset|run|runs|reports|export|best|strategies> [flags]", msg)
}

func activationUsage() string {
	return "hidden activation: " + strings.Join(nn.ListActivations(), "|")
}
