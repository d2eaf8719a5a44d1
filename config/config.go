// Package config loads engine configuration from file, environment and
// defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/penumbralabs/penumbra/inference"
	"github.com/penumbralabs/penumbra/mcts"
)

// Config is the full engine configuration surface.
type Config struct {
	CPuct            float64
	Workers          int
	FPU              float64
	DrawValue        float64
	Temperature      float64
	RetainSubtrees   bool
	DirichletEpsilon float64
	DirichletAlpha   float64

	MaxBatchSize  int
	MaxBatchDelay time.Duration
	Sessions      int

	ModelPath string
	RuleSet   string
}

// Load reads configuration. With an explicit path the file must exist; with
// an empty path a missing penumbra.yaml in the search path is not an error.
// Every key can be overridden through PENUMBRA_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("penumbra")
	v.AutomaticEnv()

	defaults := mcts.DefaultConfig()
	v.SetDefault("cpuct", defaults.CPuct)
	v.SetDefault("workers", 4)
	v.SetDefault("fpu", defaults.FPU)
	v.SetDefault("draw_value", defaults.DrawValue)
	v.SetDefault("temperature", defaults.Temperature)
	v.SetDefault("retain_subtrees", false)
	v.SetDefault("dirichlet_epsilon", 0.0)
	v.SetDefault("dirichlet_alpha", defaults.DirichletAlpha)
	v.SetDefault("max_batch_size", inference.DefaultMaxBatchSize)
	v.SetDefault("max_batch_delay", inference.DefaultMaxBatchDelay)
	v.SetDefault("sessions", 1)
	v.SetDefault("model_path", "")
	v.SetDefault("rule_set", "gomoku")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("penumbra")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.penumbra")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	return Config{
		CPuct:            v.GetFloat64("cpuct"),
		Workers:          v.GetInt("workers"),
		FPU:              v.GetFloat64("fpu"),
		DrawValue:        v.GetFloat64("draw_value"),
		Temperature:      v.GetFloat64("temperature"),
		RetainSubtrees:   v.GetBool("retain_subtrees"),
		DirichletEpsilon: v.GetFloat64("dirichlet_epsilon"),
		DirichletAlpha:   v.GetFloat64("dirichlet_alpha"),
		MaxBatchSize:     v.GetInt("max_batch_size"),
		MaxBatchDelay:    v.GetDuration("max_batch_delay"),
		Sessions:         v.GetInt("sessions"),
		ModelPath:        v.GetString("model_path"),
		RuleSet:          v.GetString("rule_set"),
	}, nil
}

// Engine converts to the search configuration.
func (c Config) Engine() mcts.Config {
	return mcts.Config{
		CPuct:            c.CPuct,
		Workers:          c.Workers,
		FPU:              c.FPU,
		DrawValue:        c.DrawValue,
		Temperature:      c.Temperature,
		RetainSubtrees:   c.RetainSubtrees,
		DirichletEpsilon: c.DirichletEpsilon,
		DirichletAlpha:   c.DirichletAlpha,
	}
}

// Batcher converts to the evaluation batching configuration.
func (c Config) Batcher() inference.BatcherConfig {
	return inference.BatcherConfig{
		MaxBatchSize:  c.MaxBatchSize,
		MaxBatchDelay: c.MaxBatchDelay,
	}
}
