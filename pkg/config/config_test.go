package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/voxgraph/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, kernel.ResampleAuto, cfg.Policy())
	_, ok := cfg.Disk()
	assert.False(t, ok, "default store is memory only")
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
executor:
  workers: 3
  resample_policy: reject
store:
  disk_path: cache
  disk_ttl: 1h
engine:
  timeout: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, 3, cfg.Executor.Workers)
	assert.Equal(t, kernel.ResampleReject, cfg.Policy())
	assert.Equal(t, Default().Executor.MaxCells, cfg.Executor.MaxCells, "unset keys keep their defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.Timeout)

	dc, ok := cfg.Disk()
	require.True(t, ok)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "cache"), dc.Path, "relative paths resolve against the config file")
	assert.Equal(t, time.Hour, dc.TTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero workers", "executor:\n  workers: 0\n"},
		{"unknown policy", "executor:\n  resample_policy: nearest\n"},
		{"unknown level", "log_level: loud\n"},
		{"negative budget", "store:\n  memory_budget: -1\n"},
		{"malformed yaml", "executor: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
