package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/tester"
)

// memoryDB selects the in-process store instead of a libSQL file.
const memoryDB = ":memory:"

// Tracer choices.
const (
	tracerStore = "store"
	tracerLog   = "log"
	tracerAll   = "all"
	tracerNone  = "none"
)

// Config holds all stepflow configuration.
// Priority: flags > env vars (STEPFLOW_*) > stepflow.yaml > defaults.
type Config struct {
	DBPath          string `mapstructure:"db_path"`
	LogLevel        string `mapstructure:"log_level"`
	LogFormat       string `mapstructure:"log_format"`
	MaxSteps        int    `mapstructure:"max_steps"`
	PoolSize        int    `mapstructure:"pool_size"`
	TestConcurrency int    `mapstructure:"test_concurrency"`
	Tracer          string `mapstructure:"tracer"`
}

func stepflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepflow"
	}
	return filepath.Join(home, ".stepflow")
}

// newViper returns a viper instance with defaults, search paths and the
// STEPFLOW_ environment prefix configured.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("db_path", filepath.Join(stepflowDir(), "stepflow.db"))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("max_steps", engine.DefaultMaxSteps)
	v.SetDefault("pool_size", engine.DefaultPoolSize)
	v.SetDefault("test_concurrency", tester.DefaultConcurrency)
	v.SetDefault("tracer", tracerStore)

	v.SetConfigName("stepflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(stepflowDir())

	v.SetEnvPrefix("STEPFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// bindFlags maps persistent flag names to config keys.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"db_path":    "db",
		"log_level":  "log-level",
		"log_format": "log-format",
		"tracer":     "tracer",
		"pool_size":  "pool-size",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// loadConfig reads the config file (explicit path, or stepflow.yaml in the
// search path when present) and decodes every layer into a Config.
func loadConfig(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log format %q: want text or json", c.LogFormat)
	}
	switch c.Tracer {
	case tracerStore, tracerLog, tracerAll, tracerNone:
	default:
		return fmt.Errorf("tracer %q: want store, log, all or none", c.Tracer)
	}
	if c.MaxSteps < 0 || c.PoolSize < 0 || c.TestConcurrency < 0 {
		return errors.New("max_steps, pool_size and test_concurrency must not be negative")
	}
	return nil
}
