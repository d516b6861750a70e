// Package runner composes one batch run: load rows, admit or reject them,
// drive the admitted ones through the orchestrator, then report, summarize
// and bundle what came out.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"pdfbatch/internal/artifact"
	"pdfbatch/internal/batch"
	"pdfbatch/internal/bundle"
	"pdfbatch/internal/orchestrator"
	"pdfbatch/internal/progress"
	"pdfbatch/internal/report"
)

// Runner owns the control flow of a single dataset.
type Runner struct {
	source      batch.RowSource
	orch        *orchestrator.Orchestrator
	bundler     *bundle.Bundler
	tracker     *progress.Tracker
	store       *artifact.Store
	clock       batch.Clock
	summaryPath string
	logger      *zap.Logger
}

// New wires a Runner from its collaborators. summaryPath is the cross-run
// failure summary the run merges into.
func New(
	source batch.RowSource,
	orch *orchestrator.Orchestrator,
	bundler *bundle.Bundler,
	tracker *progress.Tracker,
	store *artifact.Store,
	clock batch.Clock,
	summaryPath string,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		source:      source,
		orch:        orch,
		bundler:     bundler,
		tracker:     tracker,
		store:       store,
		clock:       clock,
		summaryPath: summaryPath,
		logger:      logger,
	}
}

// Run processes one dataset end to end. The only fatal condition is a row
// source that cannot be read; everything after that degrades the Result
// instead of aborting, so a batch always accounts for every row it loaded.
func (r *Runner) Run(ctx context.Context, datasetPath string) (batch.Result, error) {
	rows, err := r.source.Load(datasetPath)
	if err != nil {
		return batch.Result{}, fmt.Errorf("load dataset: %w", err)
	}

	r.tracker.SetTotal(len(rows))
	base := datasetBase(datasetPath)
	r.logger.Info("batch started",
		zap.String("dataset", datasetPath), zap.Int("rows", len(rows)))

	// Failure records carry the dataset name, so each run gets its own
	// aggregator.
	agg := report.NewAggregator(base, r.clock, r.logger.Named("report"))

	admitted := r.admit(rows, agg)
	outcomes := r.orch.Run(ctx, admitted)

	artifacts := make([]string, 0, len(outcomes))
	completed := 0
	for _, out := range outcomes {
		if out.Success {
			completed++
			artifacts = append(artifacts, out.ArtifactPath)
			continue
		}
		agg.Add(out.Row.URL, out.Row.Title, out.Reason)
	}

	result := batch.Result{
		TotalTasks:     len(rows),
		CompletedTasks: completed,
		FailedTasks:    len(rows) - completed,
	}

	reportPath := r.writeReport(agg, base, &result)
	if err := agg.MergeGlobalSummary(r.summaryPath); err != nil {
		r.logger.Error("global summary merge failed", zap.Error(err))
		result.Errors = append(result.Errors, err.Error())
	}

	r.bundle(base, artifacts, reportPath, &result)

	result.Success = result.ArchivePath != "" && len(result.Errors) == 0
	r.logger.Info("batch finished",
		zap.Int("total", result.TotalTasks),
		zap.Int("completed", result.CompletedTasks),
		zap.Int("failed", result.FailedTasks),
		zap.String("archive", result.ArchivePath),
		zap.Strings("errors", result.Errors))
	return result, nil
}

// admit normalizes and validates every row. Rejected rows become failure
// records on the spot and never reach the remote service; admitted rows come
// back with canonical URLs and a non-empty title.
func (r *Runner) admit(rows []batch.Row, agg *report.Aggregator) []batch.Row {
	admitted := make([]batch.Row, 0, len(rows))
	for _, row := range rows {
		normalized := batch.NormalizeURL(row.URL)
		if !batch.ValidateURL(normalized) {
			r.tracker.AddInvalid()
			agg.Add(row.URL, titleOr(row.Title, row.URL), batch.ReasonInvalidURL)
			r.logger.Warn("row rejected",
				zap.String("url", row.URL), zap.Int("row", row.SourceIndex))
			continue
		}
		row.URL = normalized
		if row.Title == "" {
			row.Title = normalized
		}
		admitted = append(admitted, row)
	}
	return admitted
}

// writeReport writes the per-run failure table and returns its path, or ""
// when there is nothing to bundle alongside the artifacts.
func (r *Runner) writeReport(agg *report.Aggregator, base string, result *batch.Result) string {
	reportPath, err := r.store.Path(base + "_failures.xlsx")
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return ""
	}
	wrote, err := agg.WriteReport(reportPath)
	if err != nil {
		r.logger.Error("failure report write failed", zap.Error(err))
		result.Errors = append(result.Errors, err.Error())
	}
	if !wrote {
		return ""
	}
	return reportPath
}

func (r *Runner) bundle(base string, artifacts []string, reportPath string, result *batch.Result) {
	archivePath, err := r.store.Path(base + ".zip")
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return
	}
	if err := r.bundler.Bundle(artifacts, reportPath, archivePath); err != nil {
		if errors.Is(err, bundle.ErrNothingToBundle) {
			r.logger.Warn("nothing to bundle", zap.String("dataset", base))
		} else {
			r.logger.Error("bundling failed", zap.Error(err))
		}
		result.Errors = append(result.Errors, err.Error())
		return
	}
	result.ArchivePath = archivePath
}

func datasetBase(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func titleOr(title, fallback string) string {
	if title == "" {
		return fallback
	}
	return title
}
