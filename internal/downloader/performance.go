package downloader

import (
	"strings"
	"time"
)

// PerformanceConfig tunes concurrency, pacing and retry behaviour of a
// download session.
type PerformanceConfig struct {
	MaxConcurrentDownloads int
	EnableParallel         bool

	ConnectionRetries int
	RetryDelay        time.Duration
	RequestTimeout    time.Duration

	DelayBetweenFiles   time.Duration
	DelayBetweenBatches time.Duration
	BatchSize           int

	AutoHandleRateLimit bool
	MaxRetriesPerFile   int
	SkipFailedFiles     bool

	// ProgressInterval throttles progress snapshots.
	ProgressInterval time.Duration
	// SpeedSampleInterval is the sampling window of the rate tracker.
	SpeedSampleInterval time.Duration
}

// Preset names accepted by Preset.
const (
	PresetConservative = "conservative"
	PresetBalanced     = "balanced"
	PresetAggressive   = "aggressive"
	PresetMaximum      = "maximum"
)

// DefaultPerformanceConfig returns the balanced defaults.
func DefaultPerformanceConfig() PerformanceConfig {
	return PerformanceConfig{
		MaxConcurrentDownloads: 3,
		EnableParallel:         true,
		ConnectionRetries:      5,
		RetryDelay:             time.Second,
		RequestTimeout:         60 * time.Second,
		DelayBetweenFiles:      500 * time.Millisecond,
		DelayBetweenBatches:    2 * time.Second,
		BatchSize:              10,
		AutoHandleRateLimit:    true,
		MaxRetriesPerFile:      3,
		SkipFailedFiles:        true,
		ProgressInterval:       200 * time.Millisecond,
		SpeedSampleInterval:    500 * time.Millisecond,
	}
}

// Preset returns a named configuration. Unknown names yield the defaults.
func Preset(name string) PerformanceConfig {
	cfg := DefaultPerformanceConfig()

	switch strings.ToLower(strings.TrimSpace(name)) {
	case PresetConservative:
		cfg.MaxConcurrentDownloads = 1
		cfg.DelayBetweenFiles = 2 * time.Second
		cfg.DelayBetweenBatches = 5 * time.Second
		cfg.BatchSize = 5
	case PresetAggressive:
		cfg.MaxConcurrentDownloads = 5
		cfg.DelayBetweenFiles = 200 * time.Millisecond
		cfg.DelayBetweenBatches = time.Second
		cfg.BatchSize = 20
	case PresetMaximum:
		cfg.MaxConcurrentDownloads = 8
		cfg.DelayBetweenFiles = 100 * time.Millisecond
		cfg.DelayBetweenBatches = 500 * time.Millisecond
		cfg.BatchSize = 50
	}

	return cfg
}

// Concurrency is the effective number of simultaneous downloads.
func (c PerformanceConfig) Concurrency() int {
	if !c.EnableParallel || c.MaxConcurrentDownloads < 1 {
		return 1
	}

	return c.MaxConcurrentDownloads
}

// Normalize clamps out-of-range values so the scheduler never sees a zero
// batch size or a negative delay.
func (c PerformanceConfig) Normalize() PerformanceConfig {
	if c.MaxConcurrentDownloads < 1 {
		c.MaxConcurrentDownloads = 1
	}

	if c.BatchSize < 1 {
		c.BatchSize = 1
	}

	if c.ConnectionRetries < 1 {
		c.ConnectionRetries = 1
	}

	if c.MaxRetriesPerFile < 0 {
		c.MaxRetriesPerFile = 0
	}

	for _, d := range []*time.Duration{&c.RetryDelay, &c.DelayBetweenFiles, &c.DelayBetweenBatches, &c.ProgressInterval} {
		if *d < 0 {
			*d = 0
		}
	}

	if c.SpeedSampleInterval <= 0 {
		c.SpeedSampleInterval = 500 * time.Millisecond
	}

	return c
}
