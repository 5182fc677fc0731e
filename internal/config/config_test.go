package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gearsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
database_url: postgres://localhost/gearsync_test
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8099", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "canonical", cfg.Sync.DefaultPriceAuthority)
	assert.Equal(t, 4, cfg.Sync.DetectionConcurrency)
	assert.Equal(t, 8, cfg.Sync.DispatchConcurrency)
	assert.Equal(t, 900, cfg.Sync.PerDetectionTimeoutSeconds)
	assert.Equal(t, 3600, cfg.Sync.RunTimeoutSeconds)
	assert.InDelta(t, 0.01, cfg.Sync.PriceMatchEpsilon, 1e-9)
	assert.Equal(t, 50, cfg.Sync.MatcherConfidenceThreshold)
}

func TestLoadRejectsMissingDatabaseURL(t *testing.T) {
	path := writeConfigFile(t, `
log_level: debug
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidPriceAuthority(t *testing.T) {
	path := writeConfigFile(t, `
database_url: postgres://localhost/gearsync_test
sync:
  default_price_authority: coin_flip
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnabledPlatforms(t *testing.T) {
	path := writeConfigFile(t, `
database_url: postgres://localhost/gearsync_test
gear_exchange:
  enabled: true
vintage_mart:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"GEAR_EXCHANGE", "VINTAGE_MART"}, cfg.EnabledPlatforms())
}
