// Package config loads and validates batch configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
	Diag    DiagConfig    `mapstructure:"diag"`
}

// APIConfig describes the remote conversion service and transport behavior.
type APIConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffSeconds    int     `mapstructure:"backoff_seconds"`
	BackoffMaxSeconds int     `mapstructure:"backoff_max_seconds"`
	RateLimitRPS      float64 `mapstructure:"rate_limit_rps"`
	RateBurst         int     `mapstructure:"rate_burst"`
}

// BatchConfig governs the worker pool and the per-task lifecycle budget.
type BatchConfig struct {
	Concurrency                int  `mapstructure:"concurrency"`
	PollIntervalSeconds        int  `mapstructure:"poll_interval_seconds"`
	MaxWaitSeconds             int  `mapstructure:"max_wait_seconds"`
	MaxTransientPolls          int  `mapstructure:"max_transient_polls"`
	TransientBackoffSeconds    int  `mapstructure:"transient_backoff_seconds"`
	TransientBackoffMaxSeconds int  `mapstructure:"transient_backoff_max_seconds"`
	DownloadAttempts           int  `mapstructure:"download_attempts"`
	DownloadBackoffSeconds     int  `mapstructure:"download_backoff_seconds"`
	IncludeImages              bool `mapstructure:"include_images"`
	RemoteTaskTimeoutSeconds   int  `mapstructure:"remote_task_timeout_seconds"`
}

// OutputConfig sets where artifacts, reports and the global summary land.
type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	SummaryPath string `mapstructure:"summary_path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DiagConfig controls the optional debug listener. Empty addr disables it.
type DiagConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PDFBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:3001")
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.backoff_seconds", 5)
	v.SetDefault("api.backoff_max_seconds", 30)
	v.SetDefault("api.rate_limit_rps", 0)
	v.SetDefault("api.rate_burst", 1)
	v.SetDefault("batch.concurrency", 15)
	v.SetDefault("batch.poll_interval_seconds", 10)
	v.SetDefault("batch.max_wait_seconds", 300)
	v.SetDefault("batch.max_transient_polls", 3)
	v.SetDefault("batch.transient_backoff_seconds", 5)
	v.SetDefault("batch.transient_backoff_max_seconds", 30)
	v.SetDefault("batch.download_attempts", 3)
	v.SetDefault("batch.download_backoff_seconds", 5)
	v.SetDefault("batch.include_images", true)
	v.SetDefault("batch.remote_task_timeout_seconds", 30)
	v.SetDefault("output.dir", "data/out")
	v.SetDefault("output.summary_path", "data/global_summary.xlsx")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", true)
	v.SetDefault("diag.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if c.API.MaxRetries < 1 {
		return fmt.Errorf("api.max_retries must be >= 1")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be > 0")
	}
	if c.Batch.PollIntervalSeconds <= 0 {
		return fmt.Errorf("batch.poll_interval_seconds must be > 0")
	}
	if c.Batch.MaxWaitSeconds < c.Batch.PollIntervalSeconds {
		return fmt.Errorf("batch.max_wait_seconds must be >= batch.poll_interval_seconds")
	}
	if c.Batch.DownloadAttempts < 1 {
		return fmt.Errorf("batch.download_attempts must be >= 1")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set")
	}
	return nil
}

// RequestTimeout is the per-request budget for remote calls.
func (c APIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Backoff is the base wait between transport-level retries.
func (c APIConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

// BackoffMax caps the wait between transport-level retries.
func (c APIConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

// PollInterval is the wait between status polls for one task.
func (c BatchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// MaxWait is the wall-clock budget for one task to reach a terminal state.
func (c BatchConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitSeconds) * time.Second
}

// TransientBackoff is the base wait after a transient poll failure.
func (c BatchConfig) TransientBackoff() time.Duration {
	return time.Duration(c.TransientBackoffSeconds) * time.Second
}

// TransientBackoffMax caps the wait after transient poll failures.
func (c BatchConfig) TransientBackoffMax() time.Duration {
	return time.Duration(c.TransientBackoffMaxSeconds) * time.Second
}

// DownloadBackoff is the base wait between artifact download attempts.
func (c BatchConfig) DownloadBackoff() time.Duration {
	return time.Duration(c.DownloadBackoffSeconds) * time.Second
}
