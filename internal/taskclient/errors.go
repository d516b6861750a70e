package taskclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// SubmissionError reports that a conversion task could not be created for a
// URL, after transport-level retries were exhausted.
type SubmissionError struct {
	URL string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit task for %s: %v", e.URL, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// NotFoundError means the service does not know the task. The task will
// never complete, so callers must stop polling immediately.
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}

// TransientError marks a status check that failed for a reason worth
// retrying: a timeout, a connection failure, or a gateway-class HTTP error.
// The polling loop owns the retry budget for these.
type TransientError struct {
	TaskID string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("poll task %s: %v", e.TaskID, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// DownloadError reports a failed artifact download attempt. Transient is
// true only for timeouts and connection failures; everything else is
// terminal for the task.
type DownloadError struct {
	TaskID    string
	Err       error
	Transient bool
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download artifact for task %s: %v", e.TaskID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// statusError carries a non-2xx response through the retry machinery so the
// classifier can tell gateway trouble from client mistakes.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// errRequestTimeout replaces per-request deadline errors so the retry loop
// does not mistake them for the caller's own cancellation.
var errRequestTimeout = errors.New("request timed out")

// retryableStatus reports whether an HTTP code is worth another attempt.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// transientTransport classifies an error from one remote call as worth
// retrying: network trouble or a gateway-class HTTP status.
func transientTransport(err error) bool {
	if err == nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return retryableStatus(se.code)
	}
	return transientNetwork(err)
}

// transientNetwork is the narrower classifier used for downloads, where only
// timeouts and connection failures earn another attempt.
func transientNetwork(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errRequestTimeout) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return false
}
