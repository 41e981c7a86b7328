package config

import (
	stderrors "errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	interr "github.com/nashen-netdev/server-ping-test/internal/errors"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func validConfig() *Config {
	return &Config{
		OutputDir:      "results",
		Concurrency:    "auto",
		LaunchInterval: 300 * time.Millisecond,
		ConnectRetries: 3,
		PollInterval:   100 * time.Millisecond,
		DrainWindow:    500 * time.Millisecond,
		StopTimeout:    3 * time.Second,
		Report:         "text",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	m := &ViperManager{}
	assert.NoError(t, m.Validate(validConfig()))
}

func TestValidateConcurrency(t *testing.T) {
	m := &ViperManager{}

	cfg := validConfig()
	cfg.Concurrency = "16"
	assert.NoError(t, m.Validate(cfg))

	cfg.Concurrency = "0"
	assert.Error(t, m.Validate(cfg))

	cfg.Concurrency = "-3"
	assert.Error(t, m.Validate(cfg))

	cfg.Concurrency = "many"
	assert.Error(t, m.Validate(cfg))
}

func TestValidateDurations(t *testing.T) {
	m := &ViperManager{}

	cfg := validConfig()
	cfg.LaunchInterval = -time.Second
	assert.Error(t, m.Validate(cfg))

	cfg = validConfig()
	cfg.PollInterval = 0
	assert.Error(t, m.Validate(cfg))

	cfg = validConfig()
	cfg.DrainWindow = 0
	assert.Error(t, m.Validate(cfg))

	cfg = validConfig()
	cfg.StopTimeout = 0
	assert.Error(t, m.Validate(cfg))
}

func TestValidateRetriesAndOutputDir(t *testing.T) {
	m := &ViperManager{}

	cfg := validConfig()
	cfg.ConnectRetries = 0
	assert.Error(t, m.Validate(cfg))

	cfg = validConfig()
	cfg.OutputDir = ""
	assert.Error(t, m.Validate(cfg))
}

func TestValidateEnums(t *testing.T) {
	m := &ViperManager{}

	cfg := validConfig()
	cfg.Report = "xml"
	assert.Error(t, m.Validate(cfg))

	cfg = validConfig()
	cfg.LogLevel = "debug"
	assert.Error(t, m.Validate(cfg))

	cfg = validConfig()
	cfg.LogFormat = "logfmt"
	assert.Error(t, m.Validate(cfg))

	cfg = validConfig()
	cfg.Report = "json"
	cfg.LogLevel = "error"
	cfg.LogFormat = "json"
	assert.NoError(t, m.Validate(cfg))
}

func TestLoadAppliesDefaults(t *testing.T) {
	chdir(t, t.TempDir()) // no config file in reach

	cfg, err := NewManager().Load()
	require.NoError(t, err)

	assert.Equal(t, "results", cfg.OutputDir)
	assert.Equal(t, "auto", cfg.Concurrency)
	assert.Equal(t, 300*time.Millisecond, cfg.LaunchInterval)
	assert.Equal(t, 3, cfg.ConnectRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.DrainWindow)
	assert.Equal(t, 3*time.Second, cfg.StopTimeout)
	assert.Equal(t, "text", cfg.Report)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.ShowProgress)
	assert.False(t, cfg.ShowStats)
}

func TestEnvironmentOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("BATCH_PING_DRAIN_WINDOW", "750ms")
	t.Setenv("BATCH_PING_LOG_LEVEL", "error")

	cfg, err := NewManager().Load()
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.DrainWindow)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestValidateErrorsAreClassifiedSetup(t *testing.T) {
	m := &ViperManager{}
	cfg := validConfig()
	cfg.DrainWindow = 0

	err := m.Validate(cfg)
	require.Error(t, err)

	var ce *interr.ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, interr.SetupErrorType, ce.Type)
	assert.False(t, ce.IsRetryable())
}
