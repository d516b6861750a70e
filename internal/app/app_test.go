package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	guuid "github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"pdfbatch/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Output.Dir = t.TempDir()
	cfg.Output.SummaryPath = filepath.Join(t.TempDir(), "summary.xlsx")
	return cfg
}

func TestBuildWiresTheGraph(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.API.BaseURL = srv.URL

	a, err := Build(context.Background(), &cfg)
	require.NoError(t, err)
	require.NotNil(t, a.Logger)
	require.NotNil(t, a.runner)
	require.Nil(t, a.diag, "diag stays off unless an address is configured")

	id, err := guuid.Parse(a.RunID)
	require.NoError(t, err)
	require.Equal(t, guuid.Version(7), id.Version())

	a.Close()
}

func TestBuildEnablesDiagWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.BaseURL = "http://127.0.0.1:1" // probe failure is tolerated
	cfg.Diag.Addr = "127.0.0.1:0"

	a, err := Build(context.Background(), &cfg)
	require.NoError(t, err)
	require.NotNil(t, a.diag)
	a.Close()
}

func TestBuildRejectsUnknownLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.Level = "loud"

	_, err := Build(context.Background(), &cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "logger init failed")
}

func TestBuildRejectsUnusableOutputDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.BaseURL = "http://127.0.0.1:1"
	blocking := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(blocking, []byte("x"), 0o600))
	cfg.Output.Dir = blocking

	_, err := Build(context.Background(), &cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "artifact store init failed")
}
