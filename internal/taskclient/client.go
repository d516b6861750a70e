// Package taskclient talks to the remote URL-to-document conversion
// service: one POST to create a task, status polls until the task settles,
// and a streaming download of the finished artifact.
package taskclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pdfbatch/internal/artifact"
	"pdfbatch/internal/batch"
	"pdfbatch/internal/metrics"
	"pdfbatch/internal/retry"
)

// maxBodyBytes bounds how much of a JSON response is read into memory.
const maxBodyBytes = 1 << 20

// Config captures the knobs for talking to the conversion service.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	// Retry is the transport-level policy for task creation. Status and
	// download calls are single-shot here; their retry budgets belong to
	// the orchestrator.
	Retry                retry.Policy
	RateLimitRPS         float64
	RateBurst            int
	IncludeImages        bool
	RemoteTimeoutSeconds int
}

// Client drives the remote task lifecycle over HTTP. It implements
// batch.TaskService.
type Client struct {
	base    *url.URL
	http    *http.Client
	retry   retry.Policy
	limiter *rate.Limiter
	store   *artifact.Store
	logger  *zap.Logger
	timeout time.Duration
	opts    createOptions
}

// Payload shapes follow the service's JSON contract.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type createRequest struct {
	URL     string        `json:"url"`
	Title   string        `json:"title"`
	Options createOptions `json:"options"`
}

type createOptions struct {
	IncludeImages bool `json:"includeImages"`
	Timeout       int  `json:"timeout"`
}

type createData struct {
	TaskID string `json:"taskId"`
}

type statusData struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

// New builds a Client and probes the service's health endpoint. An
// unreachable or unhealthy service only logs a warning; the batch proceeds
// and individual submissions surface the real errors.
func New(ctx context.Context, cfg Config, store *artifact.Store, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q is not absolute", cfg.BaseURL)
	}

	limit := rate.Limit(cfg.RateLimitRPS)
	if cfg.RateLimitRPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		base:    base,
		http:    &http.Client{},
		retry:   cfg.Retry,
		limiter: rate.NewLimiter(limit, burst),
		store:   store,
		logger:  logger,
		timeout: timeout,
		opts: createOptions{
			IncludeImages: cfg.IncludeImages,
			Timeout:       cfg.RemoteTimeoutSeconds,
		},
	}
	c.probeHealth(ctx)
	return c, nil
}

// Submit creates a conversion task and returns its ID. Connection errors,
// timeouts and gateway-class statuses are retried through the configured
// policy before the whole operation is reported as a *SubmissionError.
func (c *Client) Submit(ctx context.Context, pageURL, title string) (string, error) {
	payload, err := json.Marshal(createRequest{
		URL:     pageURL,
		Title:   title,
		Options: c.opts,
	})
	if err != nil {
		return "", &SubmissionError{URL: pageURL, Err: fmt.Errorf("encode create request: %w", err)}
	}

	var taskID string
	attempts := 0
	err = c.retry.Do(ctx, func() error {
		attempts++
		if attempts > 1 {
			metrics.ObserveRemoteRetry("create")
			c.logger.Debug("retrying task creation",
				zap.String("url", pageURL), zap.Int("attempt", attempts))
		}
		data, opErr := c.doJSON(ctx, http.MethodPost, c.endpoint("api", "tasks", "create"), "create", payload)
		if opErr != nil {
			return opErr
		}
		var out createData
		if jsonErr := json.Unmarshal(data, &out); jsonErr != nil {
			return fmt.Errorf("decode create response: %w", jsonErr)
		}
		if out.TaskID == "" {
			return fmt.Errorf("create response carried no taskId")
		}
		taskID = out.TaskID
		return nil
	}, transientTransport)
	if err != nil {
		return "", &SubmissionError{URL: pageURL, Err: err}
	}

	c.logger.Debug("task created", zap.String("url", pageURL), zap.String("task_id", taskID))
	return taskID, nil
}

// PollStatus fetches the task's current state. HTTP 404 yields a
// *NotFoundError; timeouts, connection failures and gateway-class statuses
// yield a *TransientError for the polling loop to budget. The call itself
// never retries.
func (c *Client) PollStatus(ctx context.Context, taskID string) (batch.TaskStatus, error) {
	data, err := c.doJSON(ctx, http.MethodGet, c.endpoint("api", "tasks", "status", taskID), "status", nil)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return batch.TaskStatus{}, &NotFoundError{TaskID: taskID}
		}
		if transientTransport(err) {
			return batch.TaskStatus{}, &TransientError{TaskID: taskID, Err: err}
		}
		return batch.TaskStatus{}, fmt.Errorf("poll task %s: %w", taskID, err)
	}

	var out statusData
	if err := json.Unmarshal(data, &out); err != nil {
		return batch.TaskStatus{}, fmt.Errorf("decode status response: %w", err)
	}
	return batch.TaskStatus{
		State:        batch.TaskState(out.Status),
		ErrorMessage: out.ErrorMessage,
	}, nil
}

// Download streams the finished artifact to dest and returns the byte count
// and sha256 of what landed on disk. Each call is a single attempt; the
// returned *DownloadError says whether another one could help.
func (c *Client) Download(ctx context.Context, taskID, dest string) (int64, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, "", fmt.Errorf("rate limit wait: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, c.endpoint("api", "tasks", "download", taskID), nil)
	if err != nil {
		return 0, "", &DownloadError{TaskID: taskID, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		mapped := c.mapTransportErr(ctx, err)
		metrics.ObserveRemoteRequest("download", 0)
		return 0, "", &DownloadError{TaskID: taskID, Err: mapped, Transient: transientNetwork(mapped)}
	}
	defer c.closeBody(resp)
	metrics.ObserveRemoteRequest("download", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, "", &NotFoundError{TaskID: taskID}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return 0, "", &DownloadError{TaskID: taskID, Err: &statusError{code: resp.StatusCode, body: compact(body)}}
	}

	n, sum, err := c.store.WriteStream(dest, resp.Body)
	if err != nil {
		mapped := c.mapTransportErr(ctx, err)
		return n, "", &DownloadError{TaskID: taskID, Err: mapped, Transient: transientNetwork(mapped)}
	}

	c.logger.Debug("artifact downloaded",
		zap.String("task_id", taskID),
		zap.String("dest", dest),
		zap.Int64("bytes", n),
		zap.String("sha256", sum))
	return n, sum, nil
}

// doJSON performs one rate-limited request and unwraps the service's
// response envelope, returning the raw data payload.
func (c *Client) doJSON(ctx context.Context, method, endpoint, op string, body []byte) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("new %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRemoteRequest(op, 0)
		return nil, c.mapTransportErr(ctx, err)
	}
	defer c.closeBody(resp)
	metrics.ObserveRemoteRequest(op, resp.StatusCode)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.mapTransportErr(ctx, fmt.Errorf("read %s response: %w", op, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, body: compact(raw)}
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	if !env.Success {
		if env.Error != "" {
			return nil, fmt.Errorf("service rejected %s request: %s", op, env.Error)
		}
		return nil, fmt.Errorf("service rejected %s request", op)
	}
	return env.Data, nil
}

// mapTransportErr rewrites per-request deadline errors into a plain timeout
// sentinel. Without this the retry loop would read the attempt's own
// deadline as the caller's context expiring and stop retrying.
func (c *Client) mapTransportErr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", errRequestTimeout, c.timeout, err)
	}
	return err
}

func (c *Client) probeHealth(ctx context.Context) {
	healthURL := c.endpoint("api", "health")

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, healthURL, nil)
	if err != nil {
		c.logger.Warn("health probe skipped", zap.Error(err))
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("conversion service unreachable, continuing anyway",
			zap.String("url", healthURL), zap.Error(err))
		return
	}
	defer c.closeBody(resp)

	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes)); err != nil {
		c.logger.Warn("health probe read failed, continuing anyway", zap.Error(err))
		return
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("conversion service reported unhealthy, continuing anyway",
			zap.String("url", healthURL), zap.Int("status", resp.StatusCode))
		return
	}
	c.logger.Debug("conversion service healthy", zap.String("url", healthURL))
}

func (c *Client) endpoint(parts ...string) string {
	return c.base.JoinPath(parts...).String()
}

func (c *Client) closeBody(resp *http.Response) {
	if cerr := resp.Body.Close(); cerr != nil {
		c.logger.Debug("failed to close response body", zap.Error(cerr))
	}
}

// compact flattens a response body into a single log-friendly line.
func compact(body []byte) string {
	const max = 200
	s := string(bytes.Join(bytes.Fields(body), []byte(" ")))
	if len(s) > max {
		return s[:max]
	}
	return s
}
