package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseConfigYAMLOverridesDefaults(t *testing.T) {
	cfg, err := ParseConfigYAML([]byte(`
optimizer: oneshot
search_space: darts
dataset: synthetic
seed: 7
scope: [normal]
search:
  epochs: 3
  batch_size: 16
`))
	require.NoError(t, err)

	assert.Equal(t, "oneshot", cfg.Optimizer)
	assert.Equal(t, "darts", cfg.SearchSpace)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, []string{"normal"}, cfg.Scope)
	assert.Equal(t, 3, cfg.Search.Epochs)
	assert.Equal(t, 16, cfg.Search.BatchSize)
	// untouched defaults survive
	assert.Equal(t, 0.9, cfg.Search.Momentum)
}

func TestParseConfigYAMLEmpty(t *testing.T) {
	cfg, err := ParseConfigYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Optimizer, cfg.Optimizer)
}

func TestParseConfigYAMLRejectsUnknownNames(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"optimizer", "optimizer: gdas"},
		{"search space", "search_space: nasbench301"},
		{"dataset", "dataset: mnist"},
		{"unknown field", "not_a_field: 1"},
		{"bad portion", "search:\n  train_portion: 1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfigYAML([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyOverrides([]string{
		"optimizer", "rsws",
		"seed", "3",
		"search.epochs", "2",
		"search.train_sizes", "[5, 8]",
		"search.learning_rate", "0.1",
	})
	require.NoError(t, err)

	assert.Equal(t, "rsws", cfg.Optimizer)
	assert.Equal(t, int64(3), cfg.Seed)
	assert.Equal(t, 2, cfg.Search.Epochs)
	assert.Equal(t, []int{5, 8}, cfg.Search.TrainSizes)
	assert.Equal(t, 0.1, cfg.Search.LearningRate)
}

func TestApplyOverridesErrors(t *testing.T) {
	assert.ErrorIs(t, Default().ApplyOverrides([]string{"seed"}), ErrInvalidArgument)
	assert.ErrorIs(t, Default().ApplyOverrides([]string{"nope", "1"}), ErrInvalidArgument)
	assert.ErrorIs(t, Default().ApplyOverrides([]string{"optimizer", "gdas"}), ErrInvalidArgument)
}

func TestPrepareCreatesExperimentDirs(t *testing.T) {
	cfg := Default()
	cfg.OutDir = t.TempDir()
	cfg.Seed = 4

	require.NoError(t, cfg.Prepare())

	want := filepath.Join(cfg.OutDir, "nas_predictor", "nasbench201", "cifar10", "oneshot", "4")
	assert.Equal(t, want, cfg.Save)
	for _, dir := range []string{cfg.Save, cfg.SearchDir(), cfg.EvalDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
