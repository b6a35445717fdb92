package model_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvu/mailcache/internal/model"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := model.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 20, cfg.MaxPages)
	assert.Equal(t, 100, cfg.FallbackFetchCount)
	assert.Equal(t, 30, cfg.RetryAfterClampSec)
}

func TestLoadConfigPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("page_size: 10\nmax_pages: 5\n"), 0o644))

	cfg, err := model.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 5, cfg.MaxPages)
	assert.Equal(t, 2, cfg.TransientRetries, "unset keys keep their defaults")
	assert.Equal(t, 30, cfg.HTTPTimeoutSec)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	want := &model.EngineConfig{
		PageSize:           25,
		MaxPages:           8,
		TransientRetries:   1,
		RateLimitRetries:   5,
		RetryAfterClampSec: 10,
		FallbackFetchCount: 200,
		HTTPTimeoutSec:     15,
	}
	require.NoError(t, model.SaveConfig(path, want))

	got, err := model.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
