// Package config provides configuration loading and validation for absorb.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidStackSize = errors.New("max stack size must be positive")
	ErrInvalidWorkers   = errors.New("workers must not be negative")
	ErrInvalidFileSize  = errors.New("invalid max file size")
	ErrInvalidTimeout   = errors.New("diff timeout must not be negative")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidLogFormat = errors.New("invalid log format")
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "ABSORB"

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// Config holds all configuration for absorb.
type Config struct {
	Absorb    AbsorbConfig    `mapstructure:"absorb"`
	Diff      DiffConfig      `mapstructure:"diff"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AbsorbConfig holds the history rewriting settings.
type AbsorbConfig struct {
	MaxFileSize   string `mapstructure:"max_file_size"`
	MaxStackSize  int    `mapstructure:"max_stack_size"`
	Workers       int    `mapstructure:"workers"`
	SkipEmpty     bool   `mapstructure:"skip_empty"`
	AddProvenance bool   `mapstructure:"add_provenance"`
}

// MaxFileSizeBytes parses MaxFileSize. Zero disables the limit.
func (c AbsorbConfig) MaxFileSizeBytes() (int64, error) {
	if c.MaxFileSize == "" || c.MaxFileSize == "0" {
		return 0, nil
	}

	size, err := humanize.ParseBytes(c.MaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFileSize, c.MaxFileSize)
	}

	return int64(min(size, uint64(1)<<62)), nil
}

// DiffConfig holds line diff settings.
type DiffConfig struct {
	// Timeout bounds each diff. Zero means no bound, which keeps results deterministic.
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds trace and metric export settings.
type TelemetryConfig struct {
	OTLPEndpoint    string `mapstructure:"otlp_endpoint"`
	OTLPInsecure    bool   `mapstructure:"otlp_insecure"`
	MetricsTextfile string `mapstructure:"metrics_textfile"`
}

// LoadConfig loads configuration from file and environment variables.
// With an empty configPath, absorb.yaml is searched in each of searchDirs
// (the current directory when none are given), their config subdirectory
// and $HOME/.config/absorb; a missing file is not an error.
func LoadConfig(configPath string, searchDirs ...string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if len(searchDirs) == 0 {
		searchDirs = []string{"."}
	}

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("absorb")
		viperCfg.SetConfigType("yaml")

		for _, dir := range searchDirs {
			viperCfg.AddConfigPath(dir)
			viperCfg.AddConfigPath(filepath.Join(dir, "config"))
		}

		viperCfg.AddConfigPath("$HOME/.config/absorb")
	}

	viperCfg.SetEnvPrefix(EnvPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("absorb.max_stack_size", DefaultMaxStackSize)
	viperCfg.SetDefault("absorb.skip_empty", DefaultSkipEmpty)
	viperCfg.SetDefault("absorb.add_provenance", DefaultAddProvenance)
	viperCfg.SetDefault("absorb.max_file_size", DefaultMaxFileSize)
	viperCfg.SetDefault("absorb.workers", DefaultWorkers)

	viperCfg.SetDefault("diff.timeout", DefaultDiffTimeout)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.metrics_textfile", "")
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Absorb.MaxStackSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidStackSize, config.Absorb.MaxStackSize)
	}

	if config.Absorb.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, config.Absorb.Workers)
	}

	if _, err := config.Absorb.MaxFileSizeBytes(); err != nil {
		return err
	}

	if config.Diff.Timeout < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, config.Diff.Timeout)
	}

	if !slices.Contains(logLevels, config.Logging.Level) {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, config.Logging.Level)
	}

	if !slices.Contains(logFormats, config.Logging.Format) {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, config.Logging.Format)
	}

	return nil
}
