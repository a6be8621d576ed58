package training

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/mmgat/mmgat/pkg/core"
	"github.com/mmgat/mmgat/pkg/dataset"
	"github.com/mmgat/mmgat/pkg/graph"
	"github.com/mmgat/mmgat/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
}

func (p *mockProvider) Train() []*dataset.Sample {
	return p.Called().Get(0).([]*dataset.Sample)
}

func (p *mockProvider) Test() []*dataset.Sample {
	return p.Called().Get(0).([]*dataset.Sample)
}

func (p *mockProvider) NumClasses() int {
	return p.Called().Int(0)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func toyConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.Model.TextDim, cfg.Model.AudioDim, cfg.Model.VisionDim = 6, 4, 5
	cfg.Model.EncoderDropout = 0
	cfg.Model.LayerDropout = 0
	cfg.Data.NumLabels = 4
	cfg.Train.Epochs = 1
	cfg.Train.NumTrials = 1
	cfg.Train.BatchSize = 4
	cfg.Train.WeightDecay = 0
	cfg.Train.LogResults = false
	return cfg
}

// toySample is a fully labelled four-utterance conversation.
func toySample(t *testing.T, seed int64) *dataset.Sample {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	random := func(cols int) *autodiff.Matrix {
		m := autodiff.MustNewMatrix(4, cols)
		for i := range m.Data {
			m.Data[i] = rng.NormFloat64()
		}
		return m
	}
	g, err := graph.TemporalGraph(4, 1, 1)
	require.NoError(t, err)
	g.AddSelfLoops()
	text, audio, vision := random(6), random(4), random(5)
	return &dataset.Sample{
		Graph: g,
		Text:  text, Audio: audio, Vision: vision,
		OText: text.Clone(), OAudio: audio.Clone(), OVision: vision.Clone(),
		Labels: []int{0, 1, 2, 3},
	}
}

func toyProvider(t *testing.T) *mockProvider {
	samples := []*dataset.Sample{toySample(t, 1)}
	p := &mockProvider{}
	p.On("Train").Return(samples)
	p.On("Test").Return(samples)
	p.On("NumClasses").Return(4)
	return p
}

func evalLoss(t *testing.T, tr *Trainer, m *model.Model, b *dataset.Batch) float64 {
	t.Helper()
	out, err := m.Forward(b, false)
	require.NoError(t, err)
	loss, err := tr.Loss(out, b.Labels)
	require.NoError(t, err)
	return loss.Item()
}

func TestFirstEpochLowersLoss(t *testing.T) {
	cfg := toyConfig()
	cfg.Train.Epochs = 2
	cfg.Train.LearningRate = 1e-5
	p := toyProvider(t)
	tr, err := NewTrainer(cfg, p, WithLogger(quietLogger()))
	require.NoError(t, err)

	// The same seed and config RunTrial uses for trial 0.
	m, err := model.New(cfg.Model, 4)
	require.NoError(t, err)
	m.Reset(rand.New(rand.NewSource(core.SeedList[0])))
	b, err := dataset.Collate(p.Train())
	require.NoError(t, err)
	initial := evalLoss(t, tr, m, b)

	res, err := tr.RunTrial(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, res.EpochLoss, 2)
	assert.InDelta(t, initial, res.EpochLoss[0], 1e-9)
	assert.Less(t, res.EpochLoss[1], res.EpochLoss[0])
	assert.Equal(t, 2, tr.StepCount)
}

func TestRunTrialTrains(t *testing.T) {
	cfg := toyConfig()
	cfg.Train.Epochs = 30
	cfg.Train.LearningRate = 0.01
	p := toyProvider(t)
	tr, err := NewTrainer(cfg, p, WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := tr.RunTrial(context.Background(), 0)
	require.NoError(t, err)
	p.AssertExpectations(t)

	assert.Equal(t, core.SeedList[0], res.Seed)
	assert.NotEmpty(t, res.RunID)
	require.Len(t, res.EpochLoss, 30)
	assert.Less(t, res.EpochLoss[29], res.EpochLoss[0])
	assert.Equal(t, 30, tr.StepCount)
	for _, f1 := range res.EpochF1 {
		assert.LessOrEqual(t, f1, res.BestF1)
	}
	assert.Greater(t, res.Parameters, 0)
	require.NotNil(t, res.Report)
	assert.Equal(t, res.FinalF1, res.Report.WeightedF1)
	assert.Equal(t, 4, res.Report.Total)
}

func TestRunWritesResultLog(t *testing.T) {
	cfg := toyConfig()
	cfg.Train.NumTrials = 2
	cfg.Model.UsingGAT = true
	cfg.Model.CrossModal = true
	path := filepath.Join(t.TempDir(), "logs", "results.txt")
	tr, err := NewTrainer(cfg, toyProvider(t), WithLogger(quietLogger()), WithResultLog(NewResultLog(path)))
	require.NoError(t, err)

	results, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, core.SeedList[1], results[1].Seed)
	assert.NotEqual(t, results[0].RunID, results[1].RunID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Equal(t, 2, strings.Count(text, "********** INFO **********\n"))
	assert.Equal(t, 2, strings.Count(text, "********** End **********\n"))
	assert.Contains(t, text, "seed=1001")
	assert.Contains(t, text, "seed=9138")
	assert.Contains(t, text, "run="+results[0].RunID)
	assert.Contains(t, text, "Highest Acc: ")
	assert.Contains(t, text, ", final Acc ")
}

func TestRunStopsOnCancel(t *testing.T) {
	tr, err := NewTrainer(toyConfig(), toyProvider(t), WithLogger(quietLogger()))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLossExcludesSentinel(t *testing.T) {
	tr, err := NewTrainer(toyConfig(), toyProvider(t), WithLogger(quietLogger()))
	require.NoError(t, err)

	logits, err := autodiff.NewMatrixFromRows([][]float64{
		{2, 0, 0, 0},
		{0, 9, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 5},
	})
	require.NoError(t, err)
	out := &model.Output{Logits: autodiff.Constant(logits, "logits")}

	got, err := tr.Loss(out, []int{0, 4, 2, 4})
	require.NoError(t, err)
	kept, err := autodiff.NewMatrixFromRows([][]float64{{2, 0, 0, 0}, {0, 0, 1, 0}})
	require.NoError(t, err)
	want, err := autodiff.CrossEntropyLoss(autodiff.Constant(kept, "kept"), []int{0, 2})
	require.NoError(t, err)
	assert.InDelta(t, want.Item(), got.Item(), 1e-12)

	none, err := tr.Loss(out, []int{4, 4, 4, 4})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestLossPolicies(t *testing.T) {
	cfg := toyConfig()
	cfg.Data.Missing = 40
	cfg.Train.ReconstructionLoss = core.LossMSE
	p := toyProvider(t)
	b, err := dataset.Collate(p.Train())
	require.NoError(t, err)

	ce := func(out *model.Output) float64 {
		l, err := autodiff.CrossEntropyLoss(out.Logits, b.Labels)
		require.NoError(t, err)
		return l.Item()
	}

	mse, err := NewTrainer(cfg, p, WithLogger(quietLogger()))
	require.NoError(t, err)
	m, err := model.New(cfg.Model, 4)
	require.NoError(t, err)
	m.Reset(rand.New(rand.NewSource(2)))
	out, err := m.Forward(b, false)
	require.NoError(t, err)
	rec, err := out.ReconstructionLoss()
	require.NoError(t, err)
	loss, err := mse.Loss(out, b.Labels)
	require.NoError(t, err)
	assert.InDelta(t, ce(out)+40*0.01*rec.Item(), loss.Item(), 1e-9)

	// kl with rho -1 falls back to cross entropy alone
	cfg.Train.ReconstructionLoss = core.LossKL
	fallback, err := NewTrainer(cfg, p, WithLogger(quietLogger()))
	require.NoError(t, err)
	loss, err = fallback.Loss(out, b.Labels)
	require.NoError(t, err)
	assert.InDelta(t, ce(out), loss.Item(), 1e-12)

	cfg.Train.Rho = 0.05
	kl, err := NewTrainer(cfg, p, WithLogger(quietLogger()))
	require.NoError(t, err)
	sparsity, err := out.SparsityLoss(0.05, true)
	require.NoError(t, err)
	loss, err = kl.Loss(out, b.Labels)
	require.NoError(t, err)
	assert.InDelta(t, ce(out)+40*0.01*sparsity.Item(), loss.Item(), 1e-9)
}

func TestNewTrainerRejectsMeanPolicy(t *testing.T) {
	cfg := toyConfig()
	cfg.Model.FeatureEstimate = core.EstimateMean
	path := filepath.Join(t.TempDir(), "results.txt")
	_, err := NewTrainer(cfg, toyProvider(t), WithResultLog(NewResultLog(path)))
	assert.ErrorIs(t, err, core.ErrPolicyNotImplemented)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.NoFileExists(t, path)
}

func TestNewTrainerRejects(t *testing.T) {
	cfg := toyConfig()
	cfg.Train.ReconstructionLoss, cfg.Train.Rho = core.LossKL, 0.1
	cfg.Model.Probability = false
	_, err := NewTrainer(cfg, toyProvider(t))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	p := &mockProvider{}
	p.On("NumClasses").Return(6)
	_, err = NewTrainer(toyConfig(), p)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	bad := toyConfig()
	bad.Train.Epochs = 0
	_, err = NewTrainer(bad, toyProvider(t))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestPredict(t *testing.T) {
	logits, err := autodiff.NewMatrixFromRows([][]float64{{0.1, 0.7, 0.2}, {3, -1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, Predict(autodiff.Constant(logits, "l")))
}
