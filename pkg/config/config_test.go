package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/absorb/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "absorb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig_EmptyFile_UsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultMaxStackSize, cfg.Absorb.MaxStackSize)
	assert.Equal(t, config.DefaultSkipEmpty, cfg.Absorb.SkipEmpty)
	assert.Equal(t, config.DefaultAddProvenance, cfg.Absorb.AddProvenance)
	assert.Equal(t, config.DefaultMaxFileSize, cfg.Absorb.MaxFileSize)
	assert.Equal(t, config.DefaultWorkers, cfg.Absorb.Workers)
	assert.Equal(t, time.Duration(0), cfg.Diff.Timeout)
	assert.Equal(t, config.DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, config.DefaultLogFormat, cfg.Logging.Format)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)

	size, err := cfg.Absorb.MaxFileSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), size)
}

func TestLoadConfig_ValidFile_Unmarshals(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `absorb:
  max_stack_size: 10
  skip_empty: false
  add_provenance: true
  max_file_size: 2MiB
  workers: 3
diff:
  timeout: 5s
logging:
  level: debug
  format: json
telemetry:
  otlp_endpoint: localhost:4317
  otlp_insecure: true
  metrics_textfile: /tmp/absorb.prom
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, config.AbsorbConfig{
		MaxFileSize:   "2MiB",
		MaxStackSize:  10,
		Workers:       3,
		SkipEmpty:     false,
		AddProvenance: true,
	}, cfg.Absorb)
	assert.Equal(t, 5*time.Second, cfg.Diff.Timeout)
	assert.Equal(t, config.LoggingConfig{Level: "debug", Format: "json"}, cfg.Logging)
	assert.Equal(t, config.TelemetryConfig{
		OTLPEndpoint:    "localhost:4317",
		OTLPInsecure:    true,
		MetricsTextfile: "/tmp/absorb.prom",
	}, cfg.Telemetry)

	size, err := cfg.Absorb.MaxFileSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(2<<20), size)
}

func TestLoadConfig_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{name: "stack size", content: "absorb:\n  max_stack_size: 0\n", want: config.ErrInvalidStackSize},
		{name: "workers", content: "absorb:\n  workers: -1\n", want: config.ErrInvalidWorkers},
		{name: "file size", content: "absorb:\n  max_file_size: lots\n", want: config.ErrInvalidFileSize},
		{name: "timeout", content: "diff:\n  timeout: -1s\n", want: config.ErrInvalidTimeout},
		{name: "log level", content: "logging:\n  level: loud\n", want: config.ErrInvalidLogLevel},
		{name: "log format", content: "logging:\n  format: xml\n", want: config.ErrInvalidLogFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadConfig(writeConfig(t, tt.content))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadConfig_SearchDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "absorb.yaml"),
		[]byte("absorb:\n  max_stack_size: 12\n"), 0o600))

	cfg, err := config.LoadConfig("", t.TempDir(), dir)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Absorb.MaxStackSize)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "absorb: [unclosed\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("ABSORB_ABSORB_MAX_STACK_SIZE", "7")
	t.Setenv("ABSORB_LOGGING_LEVEL", "warn")

	cfg, err := config.LoadConfig(writeConfig(t, "absorb:\n  max_stack_size: 20\n"))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Absorb.MaxStackSize)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestMaxFileSizeBytes_Disabled(t *testing.T) {
	t.Parallel()

	for _, value := range []string{"", "0"} {
		size, err := config.AbsorbConfig{MaxFileSize: value}.MaxFileSizeBytes()
		require.NoError(t, err)
		assert.Zero(t, size)
	}
}
