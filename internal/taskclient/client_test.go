package taskclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pdfbatch/internal/artifact"
	"pdfbatch/internal/batch"
	"pdfbatch/internal/metrics"
	"pdfbatch/internal/retry"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *artifact.Store) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/", handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store, err := artifact.New(t.TempDir())
	require.NoError(t, err)

	client, err := New(context.Background(), Config{
		BaseURL:              srv.URL,
		RequestTimeout:       2 * time.Second,
		Retry:                retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		IncludeImages:        true,
		RemoteTimeoutSeconds: 30,
	}, store, zap.NewNop())
	require.NoError(t, err)
	return client, store
}

func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test writer
		"success": true,
		"data":    data,
	})
}

func TestSubmitCreatesTask(t *testing.T) {
	t.Parallel()

	var got createRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/tasks/create", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEnvelope(w, map[string]string{"taskId": "task-1"})
	}))

	taskID, err := client.Submit(context.Background(), "https://example.com/doc", "Example Doc")
	require.NoError(t, err)
	require.Equal(t, "task-1", taskID)
	require.Equal(t, "https://example.com/doc", got.URL)
	require.Equal(t, "Example Doc", got.Title)
	require.True(t, got.Options.IncludeImages)
	require.Equal(t, 30, got.Options.Timeout)
}

func TestSubmitRetriesGatewayErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeEnvelope(w, map[string]string{"taskId": "task-2"})
	}))

	taskID, err := client.Submit(context.Background(), "https://example.com", "t")
	require.NoError(t, err)
	require.Equal(t, "task-2", taskID)
	require.Equal(t, int32(3), calls.Load())
}

func TestSubmitGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.Submit(context.Background(), "https://example.com", "t")
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	require.Equal(t, "https://example.com", subErr.URL)
	require.Equal(t, int32(3), calls.Load())
}

func TestSubmitDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := client.Submit(context.Background(), "https://example.com", "t")
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	require.Equal(t, int32(1), calls.Load())
}

func TestSubmitSurfacesServiceRejection(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":false,"error":"unsupported url"}`)
	}))

	_, err := client.Submit(context.Background(), "https://example.com", "t")
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	require.Contains(t, err.Error(), "unsupported url")
	require.Equal(t, int32(1), calls.Load(), "envelope rejections must not be retried")
}

func TestPollStatus(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tasks/status/task-9", r.URL.Path)
		writeEnvelope(w, map[string]string{"status": "processing", "errorMessage": ""})
	}))

	status, err := client.PollStatus(context.Background(), "task-9")
	require.NoError(t, err)
	require.Equal(t, batch.TaskProcessing, status.State)
	require.False(t, status.State.Terminal())
}

func TestPollStatusNotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.PollStatus(context.Background(), "gone")
	var nfErr *NotFoundError
	require.ErrorAs(t, err, &nfErr)
	require.Equal(t, "gone", nfErr.TaskID)
	require.Equal(t, int32(1), calls.Load(), "404 must not trigger transport retries")
}

func TestPollStatusTransient(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.PollStatus(context.Background(), "task-5")
	var trErr *TransientError
	require.ErrorAs(t, err, &trErr)
	require.Equal(t, "task-5", trErr.TaskID)
}

func TestDownloadWritesArtifact(t *testing.T) {
	t.Parallel()

	body := []byte("%PDF-1.4 fake document body")
	want := sha256.Sum256(body)

	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tasks/download/task-3", r.URL.Path)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(body) //nolint:errcheck // test writer
	}))

	dest, err := store.Path("doc.pdf")
	require.NoError(t, err)

	n, sum, err := client.Download(context.Background(), "task-3", dest)
	require.NoError(t, err)
	require.Equal(t, int64(len(body)), n)
	require.Equal(t, hex.EncodeToString(want[:]), sum)

	onDisk, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, body, onDisk)
}

func TestDownloadEmptyBodyFails(t *testing.T) {
	t.Parallel()

	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	dest, err := store.Path("empty.pdf")
	require.NoError(t, err)

	_, _, err = client.Download(context.Background(), "task-4", dest)
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	require.False(t, dlErr.Transient)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr), "empty download must not leave a file")
}

func TestDownloadNotFound(t *testing.T) {
	t.Parallel()

	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	dest, err := store.Path("missing.pdf")
	require.NoError(t, err)

	_, _, err = client.Download(context.Background(), "task-6", dest)
	var nfErr *NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestDownloadServerErrorIsTerminal(t *testing.T) {
	t.Parallel()

	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	dest, err := store.Path("broken.pdf")
	require.NoError(t, err)

	_, _, err = client.Download(context.Background(), "task-7", dest)
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	require.False(t, dlErr.Transient, "HTTP errors are not download-retryable")
}

func TestNewToleratesUnreachableService(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listens anymore

	store, err := artifact.New(t.TempDir())
	require.NoError(t, err)

	client, err := New(context.Background(), Config{
		BaseURL:        srv.URL,
		RequestTimeout: 500 * time.Millisecond,
		Retry:          retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}, store, zap.NewNop())
	require.NoError(t, err, "health probe failures must not block startup")
	require.NotNil(t, client)
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	t.Parallel()

	store, err := artifact.New(t.TempDir())
	require.NoError(t, err)

	_, err = New(context.Background(), Config{BaseURL: "localhost:3001"}, store, zap.NewNop())
	require.Error(t, err)

	_, err = New(context.Background(), Config{BaseURL: "http://"}, store, zap.NewNop())
	require.Error(t, err)
}

func TestTransientClassification(t *testing.T) {
	t.Parallel()

	require.True(t, transientTransport(&statusError{code: http.StatusTooManyRequests}))
	require.True(t, transientTransport(&statusError{code: http.StatusBadGateway}))
	require.False(t, transientTransport(&statusError{code: http.StatusBadRequest}))
	require.False(t, transientTransport(&statusError{code: http.StatusNotFound}))
	require.True(t, transientTransport(fmt.Errorf("wrap: %w", errRequestTimeout)))
	require.False(t, transientTransport(errors.New("malformed response")))

	require.False(t, transientNetwork(&statusError{code: http.StatusBadGateway}),
		"HTTP statuses never count as network trouble")
	require.True(t, transientNetwork(fmt.Errorf("wrap: %w", errRequestTimeout)))
}
