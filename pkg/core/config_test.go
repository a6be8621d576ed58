package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mmgat/mmgat/pkg/attention"
	"github.com/mmgat/mmgat/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6, cfg.Sentinel())
	assert.Equal(t, 192, cfg.FusedWidth())
	assert.False(t, cfg.KLEnabled())
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Train.ReconstructionLoss = LossKL
	cfg.Train.Rho = 0.05
	cfg.Model.FeatureEstimate = EstimateZero
	cfg.Model.Merge = attention.MergeAverage
	cfg.Data.EdgeType = graph.Temporal

	path := filepath.Join(t.TempDir(), "nested", "run.yaml")
	require.NoError(t, SaveConfig(cfg, path))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("config mismatch after round trip (-want +got):\n%s", diff)
	}
	assert.True(t, loaded.KLEnabled())
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
train:
  epochs: 3
  reconstruction_loss: mse
model:
  feature_estimate: zero
  cross_modal: true
data:
  num_labels: 4
  edge_type: temporal
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Train.Epochs)
	assert.Equal(t, LossMSE, cfg.Train.ReconstructionLoss)
	assert.Equal(t, EstimateZero, cfg.Model.FeatureEstimate)
	assert.True(t, cfg.Model.CrossModal)
	assert.Equal(t, 4, cfg.Sentinel())
	assert.Equal(t, graph.Temporal, cfg.Data.EdgeType)
	assert.Equal(t, 0.003, cfg.Train.LearningRate)
	assert.Equal(t, 120, cfg.Data.ConversationLength)
}

func TestLoadConfigRejectsUnknownPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  feature_estimate: median\n"), 0o644))
	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"epochs":     func(c *Config) { c.Train.Epochs = 0 },
		"lr":         func(c *Config) { c.Train.LearningRate = -1 },
		"labels":     func(c *Config) { c.Data.NumLabels = 5 },
		"missing":    func(c *Config) { c.Data.Missing = 120 },
		"rho":        func(c *Config) { c.Train.Rho = 2 },
		"seed":       func(c *Config) { c.Train.Seed = "sometimes" },
		"dropout":    func(c *Config) { c.Model.LayerDropout = 1 },
		"width":      func(c *Config) { c.Model.EncoderDim = 50 },
		"heads":      func(c *Config) { c.Model.Heads = 0 },
		"batch size": func(c *Config) { c.Train.BatchSize = 0 },
		"cross merge": func(c *Config) {
			c.Model.CrossModal = true
			c.Model.Merge = attention.MergeAverage
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	// Mean parses but is rejected before any trial starts.
	cfg := DefaultConfig()
	cfg.Model.FeatureEstimate = EstimateMean
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, ErrPolicyNotImplemented)
}

func TestTrialSeed(t *testing.T) {
	cfg := DefaultConfig()
	for i, want := range SeedList {
		got, err := cfg.TrialSeed(i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := cfg.TrialSeed(len(SeedList))
	require.NoError(t, err)
	assert.Equal(t, SeedList[0], got)

	cfg.Train.Seed = "42"
	for i := 0; i < 3; i++ {
		got, err := cfg.TrialSeed(i)
		require.NoError(t, err)
		assert.Equal(t, int64(42), got)
	}
}

func TestParsePolicies(t *testing.T) {
	fe, err := ParseFeatureEstimate("fe")
	require.NoError(t, err)
	assert.Equal(t, EstimateGraph, fe)
	assert.Equal(t, "Mean", EstimateMean.String())

	rl, err := ParseReconstructionLoss("KL")
	require.NoError(t, err)
	assert.Equal(t, LossKL, rl)
	_, err = ParseReconstructionLoss("l1")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClassNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Data.NumLabels = 4
	assert.Equal(t, []string{"happy", "sad", "neutral", "angry"}, cfg.ClassNames())
	cfg.Data.NumLabels = 6
	assert.Len(t, cfg.ClassNames(), 6)
}
