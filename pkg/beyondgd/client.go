package beyondgd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"beyondgd/internal/data"
	"beyondgd/internal/evo"
	"beyondgd/internal/metrics"
	"beyondgd/internal/model"
	"beyondgd/internal/nn"
	"beyondgd/internal/stats"
	"beyondgd/internal/storage"
	"beyondgd/internal/train"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "beyondgd.db"
)

type (
	TaskConfig  = train.TaskConfig
	EpochReport = model.EpochReport
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
	// Metrics receives epoch reports and run outcomes when set.
	Metrics *metrics.Metrics
	// Progress receives one line per epoch report when set.
	Progress io.Writer
}

type Client struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	progress     io.Writer
	artifactsDir string
	exportsDir   string
	initialized  bool
}

type DatasetRequest struct {
	// Name is xor, blobs, spirals or csv.
	Name     string
	Path     string
	Samples  int
	Features int
	Classes  int
	Noise    float64
	// LabelColumn indexes the csv label column; negative counts from the end.
	LabelColumn int
	HasHeader   bool
	// Split holds the train, dev and test fractions.
	Split [3]float64
}

type ModelRequest struct {
	Hidden     []int
	Activation string
	Dropout    float64
}

type RunRequest struct {
	Seed      int64
	Workers   int
	BatchSize int
	Dataset   DatasetRequest
	Model     ModelRequest
	Tasks     []TaskConfig
	// ResumeFrom names a stored run whose final population, or best entity
	// when no population was kept, seeds this run. The stored architecture
	// replaces Model.
	ResumeFrom string
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	BestEntityID string
	FinalDev     float64
	FinalTest    float64
	Reports      []EpochReport
	Elapsed      time.Duration
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Dataset      string
	Tasks        []string
	Seed         int64
	FinalDev     float64
	FinalTest    float64
}

type ReportsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type StrategyItem struct {
	Name string
	Kind string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       logger,
		metrics:      opts.Metrics,
		progress:     opts.Progress,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Reset drops every stored run. Artifact directories are left in place.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.Init(ctx); err != nil {
		return err
	}
	return c.store.Reset(ctx)
}

func (c *Client) Strategies() []StrategyItem {
	names := train.ListStrategies()
	out := make([]StrategyItem, 0, len(names))
	for _, name := range names {
		s, err := train.ResolveStrategy(name)
		if err != nil {
			continue
		}
		out = append(out, StrategyItem{Name: name, Kind: string(s.Kind())})
	}
	return out
}

func (c *Client) Run(ctx context.Context, req RunRequest) (summary RunSummary, err error) {
	if c.metrics != nil {
		defer func() { c.metrics.RunFinished(err) }()
	}
	req = withRunDefaults(req)
	tasks, err := train.ResolveTasks(req.Tasks)
	if err != nil {
		return RunSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	rng := rand.New(rand.NewSource(req.Seed))
	full, err := buildDataset(rng, req.Dataset)
	if err != nil {
		return RunSummary{}, fmt.Errorf("dataset %s: %w", req.Dataset.Name, err)
	}
	parts, err := data.Split(full, rng, req.Dataset.Split[:]...)
	if err != nil {
		return RunSummary{}, fmt.Errorf("dataset %s: %w", req.Dataset.Name, err)
	}

	netCfg := nn.Config{
		Inputs:     full.Features(),
		Hidden:     req.Model.Hidden,
		Outputs:    full.Classes,
		Activation: req.Model.Activation,
		Dropout:    req.Model.Dropout,
	}
	var warm warmStart
	if req.ResumeFrom != "" {
		if warm, err = c.loadWarmStart(ctx, req.ResumeFrom, rand.New(rand.NewSource(req.Seed))); err != nil {
			return RunSummary{}, err
		}
		arch := warm.architecture
		if arch.Inputs != full.Features() || arch.Outputs != full.Classes {
			return RunSummary{}, fmt.Errorf("resume %s: stored network is %dx%d, dataset %s is %dx%d",
				req.ResumeFrom, arch.Inputs, arch.Outputs, req.Dataset.Name, full.Features(), full.Classes)
		}
		netCfg.Hidden = arch.Hidden
		netCfg.Activation = arch.Activation
		netCfg.Dropout = arch.Dropout
	}
	if _, err := nn.NewMLP("config-check", netCfg, rand.New(rand.NewSource(req.Seed))); err != nil {
		return RunSummary{}, err
	}

	runID := uuid.NewString()
	logger := c.logger.With("run_id", runID)
	var reporters []train.Reporter
	if c.metrics != nil {
		reporters = append(reporters, c.metrics)
	}
	if c.progress == nil {
		reporters = append(reporters, train.LogReporter{Logger: logger})
	}
	orchestra, err := train.NewOrchestra(train.OrchestraConfig{
		Factory:   nn.Factory{Config: netCfg}.New,
		Train:     parts[0],
		Dev:       parts[1],
		Test:      parts[2],
		Seed:      req.Seed,
		Workers:   req.Workers,
		BatchSize: req.BatchSize,
		Reporters: reporters,
		Logger:    logger,
		Progress:  c.progress,

		Model:      warm.model,
		Population: warm.population,
	})
	if err != nil {
		return RunSummary{}, err
	}

	now := time.Now().UTC()
	result, err := orchestra.Run(ctx, tasks)
	if err != nil {
		return RunSummary{}, err
	}

	taskNames := make([]string, 0, len(tasks))
	for _, t := range tasks {
		taskNames = append(taskNames, t.Strategy.Name())
	}
	run := model.RunRecord{
		RunID:        runID,
		CreatedAtUTC: now.Format(time.RFC3339Nano),
		Dataset:      req.Dataset.Name,
		Seed:         req.Seed,
		Tasks:        taskNames,
		ResumedFrom:  req.ResumeFrom,
		BestEntityID: entityKey(runID, result.Best),
		FinalDev:     result.BestDev,
		FinalTest:    result.Test,
	}
	if err := c.persist(ctx, run, result, tasks[len(tasks)-1]); err != nil {
		return RunSummary{}, err
	}

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:        runID,
			Seed:         req.Seed,
			Dataset:      req.Dataset.Name,
			DatasetPath:  req.Dataset.Path,
			Samples:      full.Len(),
			Architecture: netCfg.Architecture(),
			Workers:      req.Workers,
			BatchSize:    req.BatchSize,
			Tasks:        req.Tasks,
		},
		Summary: stats.Summarize(stats.RunSummary{
			RunID:        runID,
			Tasks:        taskNames,
			BestEntityID: run.BestEntityID,
			FinalDev:     result.BestDev,
			FinalTest:    result.Test,
			ElapsedMS:    result.Elapsed.Milliseconds(),
		}, result.Reports),
		Reports: result.Reports,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:        runID,
		Dataset:      req.Dataset.Name,
		Tasks:        taskNames,
		Seed:         req.Seed,
		Workers:      req.Workers,
		FinalDev:     result.BestDev,
		FinalTest:    result.Test,
		CreatedAtUTC: run.CreatedAtUTC,
	}); err != nil {
		return RunSummary{}, err
	}
	logger.Info("run stored", "dir", runDir, "dev", result.BestDev, "test", result.Test)

	return RunSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		BestEntityID: run.BestEntityID,
		FinalDev:     result.BestDev,
		FinalTest:    result.Test,
		Reports:      result.Reports,
		Elapsed:      result.Elapsed,
	}, nil
}

// persist stores the best entity, the final population and the reports,
// then the run record itself.
func (c *Client) persist(ctx context.Context, run model.RunRecord, result train.Result, last train.Task) error {
	if err := c.saveEntity(ctx, run.RunID, result.Best, result.BestDev); err != nil {
		return err
	}
	if last.Strategy.Kind() == train.KindPopulation && result.Population.Len() > 0 {
		snapshot := model.PopulationSnapshot{
			ID:    populationKey(run.RunID),
			RunID: run.RunID,
			Task:  last.Strategy.Name(),
			Epoch: last.Parameters.EpochNum,
		}
		for _, m := range result.Population.Members() {
			if err := c.saveEntity(ctx, run.RunID, m.Entity, m.Fitness); err != nil {
				return err
			}
			snapshot.Members = append(snapshot.Members, model.MemberRecord{
				EntityID: entityKey(run.RunID, m.Entity),
				Fitness:  m.Fitness,
			})
		}
		if err := c.store.SavePopulation(ctx, snapshot); err != nil {
			return err
		}
	}
	if err := c.store.SaveEpochReports(ctx, run.RunID, result.Reports); err != nil {
		return err
	}
	return c.store.SaveRun(ctx, run)
}

func (c *Client) saveEntity(ctx context.Context, runID string, e evo.Entity, fitness float64) error {
	mlp, ok := e.(*nn.MLP)
	if !ok {
		return fmt.Errorf("entity %s: unsupported type %T", e.ID(), e)
	}
	rec := nn.ToRecord(mlp, fitness)
	rec.ID = entityKey(runID, e)
	rec.RunID = runID
	return c.store.SaveEntity(ctx, rec)
}

func entityKey(runID string, e evo.Entity) string {
	return runID + "/" + e.ID()
}

func populationKey(runID string) string {
	return runID + "/population"
}

// Runs lists runs newest first. Runs come from the store; the artifacts run
// index is used when the store holds none, as with a fresh memory store.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	records, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	var out []RunItem
	if len(records) > 0 {
		for _, r := range records {
			out = append(out, RunItem{
				RunID:        r.RunID,
				CreatedAtUTC: r.CreatedAtUTC,
				Dataset:      r.Dataset,
				Tasks:        append([]string(nil), r.Tasks...),
				Seed:         r.Seed,
				FinalDev:     r.FinalDev,
				FinalTest:    r.FinalTest,
			})
		}
	} else {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			out = append(out, RunItem{
				RunID:        e.RunID,
				CreatedAtUTC: e.CreatedAtUTC,
				Dataset:      e.Dataset,
				Tasks:        append([]string(nil), e.Tasks...),
				Seed:         e.Seed,
				FinalDev:     e.FinalDev,
				FinalTest:    e.FinalTest,
			})
		}
	}
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	if out == nil {
		out = []RunItem{}
	}
	return out, nil
}

// Reports returns the epoch reports of a run. The store is consulted first,
// then the run's artifact table.
func (c *Client) Reports(ctx context.Context, req ReportsRequest) ([]EpochReport, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, "reports")
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	reports, ok, err := c.store.GetEpochReports(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		reports, ok, err = stats.ReadEpochReports(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("reports not found for run id: %s", runID)
		}
	}
	if req.Limit > 0 && len(reports) > req.Limit {
		reports = reports[:req.Limit]
	}
	return append([]EpochReport(nil), reports...), nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool, op string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if !latest {
		if runID == "" {
			return "", fmt.Errorf("%s requires run id or latest", op)
		}
		return runID, nil
	}
	runs, err := c.Runs(ctx, RunsRequest{Limit: 1})
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs available")
	}
	return runs[0].RunID, nil
}
