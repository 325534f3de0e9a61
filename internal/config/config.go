package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/italolelis/batch_downloader/internal/downloader"
	"github.com/italolelis/batch_downloader/internal/media"
)

// Performance mirrors downloader.PerformanceConfig. Unset fields keep the
// value of the selected preset.
type Performance struct {
	Preset                 string         `default:"balanced"`
	MaxConcurrentDownloads *int           `split_words:"true"`
	EnableParallel         *bool          `split_words:"true"`
	ConnectionRetries      *int           `split_words:"true"`
	RetryDelay             *time.Duration `split_words:"true"`
	RequestTimeout         *time.Duration `split_words:"true"`
	DelayBetweenFiles      *time.Duration `split_words:"true"`
	DelayBetweenBatches    *time.Duration `split_words:"true"`
	BatchSize              *int           `split_words:"true"`
	AutoHandleRateLimit    *bool          `split_words:"true"`
	MaxRetriesPerFile      *int           `split_words:"true"`
	SkipFailedFiles        *bool          `split_words:"true"`
	ProgressInterval       *time.Duration `split_words:"true"`
}

// Config struct for environment variables.
type Config struct {
	PutioBaseURL      string  `envconfig:"PUTIO_BASE_URL"`
	PutioToken        string  `envconfig:"PUTIO_TOKEN"`
	PutioRateLimit    float64 `envconfig:"PUTIO_RATE_LIMIT" default:"5"`
	PutioRateBurst    int     `envconfig:"PUTIO_RATE_LIMIT_BURST" default:"5"`

	Target       string `envconfig:"TARGET"`
	TargetDir    string `envconfig:"TARGET_DIR" default:"downloads"`
	PerTargetDir bool   `envconfig:"PER_TARGET_DIR" default:"false"`
	MediaKinds   string `envconfig:"MEDIA_KINDS" default:"all"`
	SkipExisting bool   `envconfig:"SKIP_EXISTING" default:"true"`
	OldestFirst  bool   `envconfig:"OLDEST_FIRST" default:"false"`
	MaxItems     int    `envconfig:"MAX_ITEMS" default:"0"`
	SkipItems    int    `envconfig:"SKIP_ITEMS" default:"0"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string `envconfig:"DB_PATH" default:"downloads.db"`

	Performance Performance

	Telemetry struct {
		Enabled      bool   `default:"true"`
		ServiceName  string `split_words:"true" default:"batch_downloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		Enabled         bool          `default:"false"`
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if _, err := cfg.Kinds(); err != nil {
		return nil, fmt.Errorf("invalid MEDIA_KINDS: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Kinds parses MediaKinds.
func (c *Config) Kinds() (media.KindSet, error) {
	return media.ParseKinds(c.MediaKinds)
}

// SessionOptions builds the pre-run options of a download session.
func (c *Config) SessionOptions() (downloader.Options, error) {
	kinds, err := c.Kinds()
	if err != nil {
		return downloader.Options{}, err
	}

	return downloader.Options{
		MediaKinds:   kinds,
		SkipExisting: c.SkipExisting,
		OldestFirst:  c.OldestFirst,
		MaxItems:     c.MaxItems,
		SkipItems:    c.SkipItems,
		PerTargetDir: c.PerTargetDir,
	}, nil
}

// PerformanceConfig applies explicit overrides on top of the preset.
func (c *Config) PerformanceConfig() downloader.PerformanceConfig {
	p := c.Performance
	cfg := downloader.Preset(p.Preset)

	setInt(&cfg.MaxConcurrentDownloads, p.MaxConcurrentDownloads)
	setBool(&cfg.EnableParallel, p.EnableParallel)
	setInt(&cfg.ConnectionRetries, p.ConnectionRetries)
	setDuration(&cfg.RetryDelay, p.RetryDelay)
	setDuration(&cfg.RequestTimeout, p.RequestTimeout)
	setDuration(&cfg.DelayBetweenFiles, p.DelayBetweenFiles)
	setDuration(&cfg.DelayBetweenBatches, p.DelayBetweenBatches)
	setInt(&cfg.BatchSize, p.BatchSize)
	setBool(&cfg.AutoHandleRateLimit, p.AutoHandleRateLimit)
	setInt(&cfg.MaxRetriesPerFile, p.MaxRetriesPerFile)
	setBool(&cfg.SkipFailedFiles, p.SkipFailedFiles)
	setDuration(&cfg.ProgressInterval, p.ProgressInterval)

	return cfg.Normalize()
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}
