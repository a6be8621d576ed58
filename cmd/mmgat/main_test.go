package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmgat/mmgat/pkg/core"
	"github.com/mmgat/mmgat/pkg/graph"
	"github.com/mmgat/mmgat/pkg/metrics"
	"github.com/mmgat/mmgat/pkg/training"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags(t *testing.T) {
	t.Helper()
	configPath = ""
	trainCmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Changed = false
	})
}

func TestLoadConfigAppliesChangedFlags(t *testing.T) {
	resetFlags(t)
	t.Cleanup(func() { resetFlags(t) })

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("train:\n  epochs: 7\ndata:\n  missing: 20\n"), 0o644))
	configPath = path

	f := trainCmd.Flags()
	require.NoError(t, f.Set("missing", "40"))
	require.NoError(t, f.Set("feature-estimate", "Zero"))
	require.NoError(t, f.Set("edge-type", "1"))
	require.NoError(t, f.Set("using-gat", "true"))

	cfg, err := loadConfig(trainCmd)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Train.Epochs, "unset flags keep the file value")
	assert.Equal(t, 40, cfg.Data.Missing)
	assert.Equal(t, core.EstimateZero, cfg.Model.FeatureEstimate)
	assert.Equal(t, graph.Temporal, cfg.Data.EdgeType)
	assert.True(t, cfg.Model.UsingGAT)
}

func TestLoadConfigRejectsBadFlag(t *testing.T) {
	resetFlags(t)
	t.Cleanup(func() { resetFlags(t) })

	require.NoError(t, trainCmd.Flags().Set("reconstruction-loss", "l2"))
	_, err := loadConfig(trainCmd)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, nil)
	assert.Empty(t, buf.String())

	renderSummary(&buf, []training.TrialResult{
		{Trial: 0, Seed: 1001, BestF1: 0.5, FinalF1: 0.25, Duration: time.Second, RunID: "a"},
		{Trial: 1, Seed: 9138, BestF1: 0.7, FinalF1: 0.75, Duration: time.Second, RunID: "b"},
	})
	out := buf.String()
	assert.Contains(t, out, "9138")
	assert.Contains(t, out, "0.6000")
	assert.Contains(t, out, "0.5000")
}

func TestRenderLastReport(t *testing.T) {
	var buf bytes.Buffer
	renderLastReport(&buf, nil, nil)
	assert.Empty(t, buf.String())

	report, err := metrics.Evaluate([]int{0, 1, 1}, []int{0, 1, 0})
	require.NoError(t, err)
	renderLastReport(&buf, []training.TrialResult{
		{Trial: 0},
		{Trial: 1, Report: report},
	}, []string{"happy", "sad"})
	out := buf.String()
	assert.Contains(t, out, "Trial 1 test report")
	assert.Contains(t, out, "happy")
	assert.Contains(t, out, "sad")
	assert.Contains(t, out, "0.6667")
}
