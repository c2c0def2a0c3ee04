package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/tester"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(newViper(), "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(stepflowDir(), "stepflow.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, engine.DefaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, engine.DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, tester.DefaultConcurrency, cfg.TestConcurrency)
	assert.Equal(t, tracerStore, cfg.Tracer)
}

func TestLoadConfig_Layers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "stepflow.yaml")
	require.NoError(t, os.WriteFile(file, []byte("log_level: debug\nmax_steps: 50\ntracer: log\n"), 0o644))

	t.Setenv("STEPFLOW_MAX_STEPS", "75")
	t.Setenv("STEPFLOW_DB_PATH", ":memory:")

	cfg, err := loadConfig(newViper(), file)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "from file")
	assert.Equal(t, tracerLog, cfg.Tracer, "from file")
	assert.Equal(t, 75, cfg.MaxSteps, "env beats file")
	assert.Equal(t, memoryDB, cfg.DBPath)
}

func TestLoadConfig_FlagsWin(t *testing.T) {
	t.Setenv("STEPFLOW_LOG_FORMAT", "text")
	root := newRootCmd()
	require.NoError(t, root.PersistentFlags().Set("log-format", "json"))
	require.NoError(t, root.PersistentFlags().Set("pool-size", "3"))

	c := &cli{v: newViper()}
	require.NoError(t, bindFlags(c.v, root.PersistentFlags()))
	cfg, err := loadConfig(c.v, "")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 3, cfg.PoolSize)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"STEPFLOW_LOG_LEVEL":  "loud",
		"STEPFLOW_LOG_FORMAT": "xml",
		"STEPFLOW_TRACER":     "kafka",
		"STEPFLOW_POOL_SIZE":  "-1",
	}
	for env, val := range tests {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			_, err := loadConfig(newViper(), "")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := loadConfig(newViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
