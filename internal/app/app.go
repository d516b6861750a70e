// Package app builds the object graph for one program invocation, acting as
// the dependency injection container the command layer hangs on to.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pdfbatch/internal/artifact"
	"pdfbatch/internal/batch"
	"pdfbatch/internal/bundle"
	"pdfbatch/internal/clock/system"
	"pdfbatch/internal/config"
	"pdfbatch/internal/diag"
	"pdfbatch/internal/id/uuid"
	"pdfbatch/internal/logging"
	"pdfbatch/internal/metrics"
	"pdfbatch/internal/orchestrator"
	"pdfbatch/internal/progress"
	"pdfbatch/internal/retry"
	"pdfbatch/internal/rowsource"
	"pdfbatch/internal/runner"
	"pdfbatch/internal/taskclient"
)

// App holds everything a batch run needs, built once per invocation.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	RunID  string

	runner *runner.Runner
	diag   *diag.Server
}

// Build wires the full dependency graph. The context bounds startup work
// such as the service health probe.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	runID, err := uuid.NewGenerator().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("building application",
		zap.String("api_url", cfg.API.BaseURL),
		zap.String("output_dir", cfg.Output.Dir),
		zap.Int("concurrency", cfg.Batch.Concurrency))

	store, err := artifact.New(cfg.Output.Dir)
	if err != nil {
		return nil, fmt.Errorf("artifact store init failed: %w", err)
	}

	client, err := taskclient.New(ctx, taskclient.Config{
		BaseURL:        cfg.API.BaseURL,
		RequestTimeout: cfg.API.RequestTimeout(),
		Retry: retry.Policy{
			MaxAttempts: cfg.API.MaxRetries,
			BaseDelay:   cfg.API.Backoff(),
			MaxDelay:    cfg.API.BackoffMax(),
		},
		RateLimitRPS:         cfg.API.RateLimitRPS,
		RateBurst:            cfg.API.RateBurst,
		IncludeImages:        cfg.Batch.IncludeImages,
		RemoteTimeoutSeconds: cfg.Batch.RemoteTaskTimeoutSeconds,
	}, store, logger.Named("taskclient"))
	if err != nil {
		return nil, fmt.Errorf("task client init failed: %w", err)
	}

	clock := system.Clock{}
	tracker := progress.NewTracker()

	orch := orchestrator.New(client, store, orchestrator.Config{
		Concurrency:  cfg.Batch.Concurrency,
		PollInterval: cfg.Batch.PollInterval(),
		MaxWait:      cfg.Batch.MaxWait(),
		TransientPolicy: retry.Policy{
			MaxAttempts: cfg.Batch.MaxTransientPolls,
			BaseDelay:   cfg.Batch.TransientBackoff(),
			MaxDelay:    cfg.Batch.TransientBackoffMax(),
		},
		DownloadPolicy: retry.Policy{
			MaxAttempts: cfg.Batch.DownloadAttempts,
			BaseDelay:   cfg.Batch.DownloadBackoff(),
		},
	}, clock, tracker, logger.Named("orchestrator"))

	run := runner.New(
		rowsource.New(logger.Named("rowsource")),
		orch,
		bundle.New(logger.Named("bundle")),
		tracker,
		store,
		clock,
		cfg.Output.SummaryPath,
		logger.Named("runner"),
	)

	a := &App{
		Config: cfg,
		Logger: logger,
		RunID:  runID,
		runner: run,
	}
	if cfg.Diag.Addr != "" {
		a.diag = diag.New(cfg.Diag.Addr, tracker, logger.Named("diag"))
	}
	return a, nil
}

// Run processes one dataset. The diagnostics listener, when configured,
// serves for the duration of the batch and is torn down by Close.
func (a *App) Run(ctx context.Context, datasetPath string) (batch.Result, error) {
	if a.diag != nil {
		a.diag.Start()
	}
	return a.runner.Run(ctx, datasetPath)
}

// Close releases what Build acquired. It is called by a cobra hook after the
// command finishes.
func (a *App) Close() {
	if a.diag != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		a.diag.Shutdown(ctx)
	}
	if err := a.Logger.Sync(); err != nil {
		a.Logger.Warn("logger sync failed on shutdown", zap.Error(err))
	}
}
