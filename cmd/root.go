package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pdfbatch/internal/app"
	"pdfbatch/internal/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory, a variable so tests can substitute it.
var newApp = func(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command. The application
// container is built once flags and config are known and rides along in the
// command context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdfbatch",
		Short: "Batch-convert URLs into rendered documents via a conversion service",
		Long: `pdfbatch drives a remote conversion service over a spreadsheet of URLs:
it submits one task per row, polls each to completion, downloads the rendered
documents, and bundles them with a failure report into a single archive.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}

			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus PDFBATCH_* env)")
	cmd.AddCommand(newRunCmd())
	return cmd
}

// applyFlagOverrides lets the executing command's flags win over the loaded
// configuration, then re-validates the result.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("output-dir") {
		v, err := f.GetString("output-dir")
		if err != nil {
			return fmt.Errorf("read --output-dir: %w", err)
		}
		cfg.Output.Dir = v
	}
	if f.Changed("api-url") {
		v, err := f.GetString("api-url")
		if err != nil {
			return fmt.Errorf("read --api-url: %w", err)
		}
		cfg.API.BaseURL = v
	}
	if f.Changed("concurrency") {
		v, err := f.GetInt("concurrency")
		if err != nil {
			return fmt.Errorf("read --concurrency: %w", err)
		}
		cfg.Batch.Concurrency = v
	}
	if f.Changed("metrics-addr") {
		v, err := f.GetString("metrics-addr")
		if err != nil {
			return fmt.Errorf("read --metrics-addr: %w", err)
		}
		cfg.Diag.Addr = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration after flag overrides: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. A SIGINT or SIGTERM cancels the batch;
// in-flight rows fail their outcomes and the run is reported as unsuccessful.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
