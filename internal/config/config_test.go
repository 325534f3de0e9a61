package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/batch_downloader/internal/downloader"
	"github.com/italolelis/batch_downloader/internal/media"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "downloads", cfg.TargetDir)
	assert.True(t, cfg.SkipExisting)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, downloader.DefaultPerformanceConfig(), cfg.PerformanceConfig())

	kinds, err := cfg.Kinds()
	require.NoError(t, err)
	assert.Len(t, kinds, len(media.AllKinds()))
}

func TestLoadConfig_PresetWithOverrides(t *testing.T) {
	t.Setenv("PERFORMANCE_PRESET", "aggressive")
	t.Setenv("PERFORMANCE_BATCH_SIZE", "7")
	t.Setenv("PERFORMANCE_ENABLE_PARALLEL", "false")
	t.Setenv("PERFORMANCE_RETRY_DELAY", "3s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	perf := cfg.PerformanceConfig()

	assert.Equal(t, 7, perf.BatchSize)
	assert.Equal(t, 5, perf.MaxConcurrentDownloads, "preset value kept")
	assert.Equal(t, 1, perf.Concurrency())
	assert.Equal(t, 3*time.Second, perf.RetryDelay)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadConfig_InvalidKinds(t *testing.T) {
	t.Setenv("MEDIA_KINDS", "audio,hologram")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "MEDIA_KINDS")
}

func TestConfig_SessionOptions(t *testing.T) {
	t.Setenv("MEDIA_KINDS", "audio,voice")
	t.Setenv("OLDEST_FIRST", "true")
	t.Setenv("MAX_ITEMS", "20")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	opts, err := cfg.SessionOptions()
	require.NoError(t, err)

	assert.Equal(t, media.NewKindSet(media.KindAudio, media.KindVoice), opts.MediaKinds)
	assert.True(t, opts.OldestFirst)
	assert.Equal(t, 20, opts.MaxItems)
	assert.True(t, opts.SkipExisting)
}
