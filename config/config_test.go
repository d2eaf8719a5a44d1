package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1.41, cfg.CPuct)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 128, cfg.MaxBatchSize)
	assert.Equal(t, time.Millisecond, cfg.MaxBatchDelay)
	assert.Equal(t, 1, cfg.Sessions)
	assert.Equal(t, "gomoku", cfg.RuleSet)
	assert.Empty(t, cfg.ModelPath)
	assert.False(t, cfg.RetainSubtrees)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "penumbra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cpuct: 3.0
workers: 8
rule_set: ataxx
max_batch_delay: 5ms
dirichlet_epsilon: 0.25
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.CPuct)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "ataxx", cfg.RuleSet)
	assert.Equal(t, 5*time.Millisecond, cfg.MaxBatchDelay)
	assert.Equal(t, 0.25, cfg.DirichletEpsilon)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 128, cfg.MaxBatchSize)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PENUMBRA_CPUCT", "2.2")
	t.Setenv("PENUMBRA_RULE_SET", "ataxx")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2.2, cfg.CPuct)
	assert.Equal(t, "ataxx", cfg.RuleSet)
}

func TestEngineConversion(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	engine := cfg.Engine()
	assert.Equal(t, cfg.CPuct, engine.CPuct)
	assert.Equal(t, cfg.Workers, engine.Workers)
	assert.Equal(t, cfg.DirichletAlpha, engine.DirichletAlpha)

	batcher := cfg.Batcher()
	assert.Equal(t, cfg.MaxBatchSize, batcher.MaxBatchSize)
	assert.Equal(t, cfg.MaxBatchDelay, batcher.MaxBatchDelay)
}
