package config

import (
	"os"
	"path/filepath"
	"testing"

	"goinfonet/domain/settings"
	"goinfonet/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "SSL_MODE", "RESULTS_DIR", "SETTINGS_FILE", "WORKERS", "TARGET_WORKERS", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.False(t, cfg.Database.Enabled())
	assert.Equal(t, "./results", cfg.Paths.ResultsDir)
	assert.GreaterOrEqual(t, cfg.Run.Workers, 1)
	assert.Equal(t, 1, cfg.Run.TargetWorkers)
	assert.Equal(t, "INFO", cfg.LogLevel)

	s, err := cfg.AnalysisSettings()
	require.NoError(t, err)
	assert.True(t, s.Equal(settings.Default()))
}

func TestLoad_FromEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set, empty ones included
	for _, k := range []string{"DATABASE_URL", "WORKERS", "RESULTS_DIR"} {
		os.Unsetenv(k)
	}
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("DATABASE_URL=postgres://localhost/netinfer\nWORKERS=3\nRESULTS_DIR="+dir+"\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("WORKERS")
		os.Unsetenv("RESULTS_DIR")
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, 3, cfg.Run.Workers)
	assert.Equal(t, dir, cfg.Paths.ResultsDir)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("TARGET_WORKERS", "0")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestAnalysisSettings_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("measure: mi\nvariant: bivariate\ncmi_estimator: gaussian\nmin_lag_sources: 0\nmax_lag_sources: 3\n"), 0o644))

	cfg := &Config{Paths: PathConfig{SettingsFile: path}}
	s, err := cfg.AnalysisSettings()
	require.NoError(t, err)
	assert.Equal(t, settings.MeasureMI, s.Measure)
	assert.Equal(t, 3, s.MaxLagSources)

	cfg.Paths.SettingsFile = filepath.Join(t.TempDir(), "nope.yaml")
	_, err = cfg.AnalysisSettings()
	assert.Error(t, err)
}
