package config

import (
	"os"
	"runtime"
	"strconv"

	"goinfonet/domain/settings"
	"goinfonet/internal/errors"

	"github.com/joho/godotenv"
)

// Config represents the process configuration of the netinfer tools
type Config struct {
	Database DatabaseConfig
	Paths    PathConfig
	Run      RunConfig
	LogLevel string
}

// DatabaseConfig holds database connection settings. An empty URL disables
// the results repository.
type DatabaseConfig struct {
	URL     string
	SSLMode string
}

// Enabled reports whether a database was configured
func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

// PathConfig holds file system paths
type PathConfig struct {
	ResultsDir   string
	SettingsFile string
}

// RunConfig holds execution limits
type RunConfig struct {
	// Workers bounds concurrent estimator calls
	Workers int
	// TargetWorkers bounds targets analysed in parallel
	TargetWorkers int
}

// Load reads configuration from environment variables, after loading envFiles
// (".env" when none are given) if they exist, and validates it.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "failed to load %s", f))
		}
	}

	config := &Config{
		Database: DatabaseConfig{
			URL:     os.Getenv("DATABASE_URL"),
			SSLMode: getEnvOrDefault("SSL_MODE", "disable"),
		},
		Paths: PathConfig{
			ResultsDir:   getEnvOrDefault("RESULTS_DIR", "./results"),
			SettingsFile: os.Getenv("SETTINGS_FILE"),
		},
		Run: RunConfig{
			Workers:       getEnvIntOrDefault("WORKERS", runtime.NumCPU()),
			TargetWorkers: getEnvIntOrDefault("TARGET_WORKERS", 1),
		},
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// AnalysisSettings loads the settings file when one is configured and falls
// back to the defaults otherwise.
func (c *Config) AnalysisSettings() (settings.Settings, error) {
	if c.Paths.SettingsFile == "" {
		return settings.Default(), nil
	}
	return settings.Load(c.Paths.SettingsFile)
}

func validateConfig(config *Config) error {
	if config.Run.Workers < 1 {
		return errors.ConfigInvalidf("WORKERS must be at least 1, got %d", config.Run.Workers)
	}
	if config.Run.TargetWorkers < 1 {
		return errors.ConfigInvalidf("TARGET_WORKERS must be at least 1, got %d", config.Run.TargetWorkers)
	}
	if config.Paths.ResultsDir == "" {
		return errors.ConfigInvalid("results directory is required")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
