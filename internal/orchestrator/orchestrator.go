// Package orchestrator drives a batch of rows through the remote conversion
// service with a bounded worker pool: submit, poll to a terminal state,
// download, one outcome per row.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pdfbatch/internal/artifact"
	"pdfbatch/internal/batch"
	"pdfbatch/internal/metrics"
	"pdfbatch/internal/progress"
	"pdfbatch/internal/retry"
	"pdfbatch/internal/taskclient"
)

// DefaultConcurrency is the pool width used when the config leaves it unset.
const DefaultConcurrency = 15

const (
	defaultPollInterval = 10 * time.Second
	defaultMaxWait      = 300 * time.Second

	// artifactExt is what the conversion service produces.
	artifactExt = ".pdf"
)

// Config bounds the pool and the per-task lifecycle.
type Config struct {
	// Concurrency is the number of rows driven at once.
	Concurrency int
	// PollInterval is the wait between status checks for one task.
	PollInterval time.Duration
	// MaxWait is the wall-clock budget for one task to settle.
	MaxWait time.Duration
	// TransientPolicy bounds consecutive transient poll failures: its
	// MaxAttempts is the consecutive-failure limit and its Backoff shapes
	// the wait after each one. Any successful poll resets the count.
	TransientPolicy retry.Policy
	// DownloadPolicy drives artifact download attempts.
	DownloadPolicy retry.Policy
}

// Orchestrator fans rows out to workers and collects their outcomes.
type Orchestrator struct {
	client  batch.TaskService
	store   *artifact.Store
	cfg     Config
	clock   batch.Clock
	tracker *progress.Tracker
	logger  *zap.Logger
}

// New constructs an Orchestrator, filling zero config fields with defaults.
func New(
	client batch.TaskService,
	store *artifact.Store,
	cfg Config,
	clock batch.Clock,
	tracker *progress.Tracker,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.TransientPolicy.MaxAttempts <= 0 {
		cfg.TransientPolicy = retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   5 * time.Second,
			MaxDelay:    30 * time.Second,
		}
	}
	if cfg.DownloadPolicy.MaxAttempts <= 0 {
		cfg.DownloadPolicy = retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   5 * time.Second,
			MaxDelay:    30 * time.Second,
		}
	}
	return &Orchestrator{
		client:  client,
		store:   store,
		cfg:     cfg,
		clock:   clock,
		tracker: tracker,
		logger:  logger,
	}
}

// Run drives every row to a terminal outcome and returns the outcomes in
// completion order, exactly one per row. Rows only share the tracker and
// the metrics registry; a slow or stuck task never holds up the others
// beyond its own budget.
func (o *Orchestrator) Run(ctx context.Context, rows []batch.Row) []batch.Outcome {
	if len(rows) == 0 {
		return nil
	}

	width := o.cfg.Concurrency
	if width > len(rows) {
		width = len(rows)
	}

	rowCh := make(chan batch.Row)
	outCh := make(chan batch.Outcome)

	var producers sync.WaitGroup
	producers.Add(width + 1)

	for i := 0; i < width; i++ {
		go func() {
			defer producers.Done()
			for row := range rowCh {
				outCh <- o.processRow(ctx, row)
			}
		}()
	}

	// The feeder also owns the rows nobody will pick up after a
	// cancellation, so every row still ends up with an outcome.
	go func() {
		defer producers.Done()
		defer close(rowCh)
		for i, row := range rows {
			select {
			case rowCh <- row:
			case <-ctx.Done():
				for _, rest := range rows[i:] {
					o.tracker.AddFailed()
					outCh <- batch.Outcome{Row: rest, Reason: batch.ReasonSubmitFailed}
				}
				return
			}
		}
	}()

	go func() {
		producers.Wait()
		close(outCh)
	}()

	outcomes := make([]batch.Outcome, 0, len(rows))
	for out := range outCh {
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (o *Orchestrator) processRow(ctx context.Context, row batch.Row) batch.Outcome {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := o.clock.Now()
	log := o.logger.With(zap.String("url", row.URL), zap.Int("row", row.SourceIndex))

	taskID, err := o.client.Submit(ctx, row.URL, row.Title)
	if err != nil {
		log.Warn("task creation failed", zap.Error(err))
		return o.fail(row, batch.ReasonSubmitFailed, start)
	}
	o.tracker.AddSubmitted()
	log = log.With(zap.String("task_id", taskID))
	log.Debug("task created")

	state, err := o.awaitSettled(ctx, taskID, log)
	if err != nil {
		log.Warn("task never completed", zap.Error(err))
		return o.fail(row, batch.ReasonTaskFailed, start)
	}
	if state != batch.TaskCompleted {
		return o.fail(row, batch.ReasonTaskFailed, start)
	}

	dest, err := o.download(ctx, taskID, row, log)
	if err != nil {
		log.Warn("artifact download failed", zap.Error(err))
		return o.fail(row, batch.ReasonDownloadFailed, start)
	}

	o.tracker.AddCompleted()
	metrics.ObserveTask("completed", o.clock.Now().Sub(start))
	log.Info("row converted", zap.String("artifact", dest))
	return batch.Outcome{Row: row, Success: true, ArtifactPath: dest}
}

// awaitSettled polls until the task reaches a terminal state or a budget
// runs out. Transient poll failures back off and are forgiven by the next
// successful poll; a task the service no longer knows is abandoned at once.
func (o *Orchestrator) awaitSettled(ctx context.Context, taskID string, log *zap.Logger) (batch.TaskState, error) {
	o.tracker.StartPolling()
	defer o.tracker.StopPolling()

	deadline := o.clock.Now().Add(o.cfg.MaxWait)
	transients := 0

	for {
		wait := o.cfg.PollInterval

		status, err := o.client.PollStatus(ctx, taskID)
		switch {
		case err == nil:
			transients = 0
			if status.State == batch.TaskFailed {
				log.Warn("service reported task failed", zap.String("remote_error", status.ErrorMessage))
				return status.State, nil
			}
			if status.State.Terminal() {
				return status.State, nil
			}
		default:
			var notFound *taskclient.NotFoundError
			if errors.As(err, &notFound) {
				return "", err
			}
			var transient *taskclient.TransientError
			if !errors.As(err, &transient) {
				return "", err
			}
			transients++
			if transients >= o.cfg.TransientPolicy.MaxAttempts {
				return "", fmt.Errorf("%d consecutive transient poll failures: %w", transients, err)
			}
			wait = o.cfg.TransientPolicy.Backoff(transients - 1)
			log.Debug("transient poll failure, backing off",
				zap.Int("consecutive", transients), zap.Duration("wait", wait), zap.Error(err))
		}

		if o.clock.Now().After(deadline) {
			return "", fmt.Errorf("task %s did not settle within %s", taskID, o.cfg.MaxWait)
		}
		if err := o.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
}

func (o *Orchestrator) download(ctx context.Context, taskID string, row batch.Row, log *zap.Logger) (string, error) {
	dest, err := o.store.Path(batch.SanitizeFilename(row.Title) + artifactExt)
	if err != nil {
		return "", fmt.Errorf("resolve artifact path: %w", err)
	}

	attempts := 0
	err = o.cfg.DownloadPolicy.Do(ctx, func() error {
		attempts++
		if attempts > 1 {
			log.Debug("retrying download", zap.Int("attempt", attempts))
		}
		_, _, dlErr := o.client.Download(ctx, taskID, dest)
		return dlErr
	}, func(err error) bool {
		var dl *taskclient.DownloadError
		return errors.As(err, &dl) && dl.Transient
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

func (o *Orchestrator) fail(row batch.Row, reason string, start time.Time) batch.Outcome {
	o.tracker.AddFailed()
	metrics.ObserveTask(metricStatus(reason), o.clock.Now().Sub(start))
	return batch.Outcome{Row: row, Reason: reason}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func metricStatus(reason string) string {
	switch reason {
	case batch.ReasonSubmitFailed:
		return "submit_failed"
	case batch.ReasonTaskFailed:
		return "task_failed"
	case batch.ReasonDownloadFailed:
		return "download_failed"
	default:
		return "failed"
	}
}
