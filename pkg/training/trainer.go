// Package training runs trials of the emotion classifier: every trial seeds a
// fresh model, trains it for a number of epochs and tracks the weighted F1 on
// the test conversations.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/mmgat/mmgat/pkg/core"
	"github.com/mmgat/mmgat/pkg/dataset"
	"github.com/mmgat/mmgat/pkg/metrics"
	"github.com/mmgat/mmgat/pkg/model"
)

// TrialResult summarises one trial.
type TrialResult struct {
	Trial int
	Seed  int64
	RunID string
	// BestF1 is the running maximum of the per-epoch test F1; FinalF1 is the
	// test F1 after the last epoch.
	BestF1     float64
	FinalF1    float64
	EpochLoss  []float64
	EpochF1    []float64
	Duration   time.Duration
	Parameters int
	// Report is the per-class test report after the last epoch.
	Report *metrics.Report
}

// Trainer owns the trial and epoch loops.
type Trainer struct {
	cfg      *core.Config
	provider dataset.Provider
	logger   *slog.Logger
	results  *ResultLog
	aux      auxLoss

	// StepCount counts optimizer steps of the current trial.
	StepCount int
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithResultLog appends an INFO block and the trial outcome to log.
func WithResultLog(log *ResultLog) Option {
	return func(t *Trainer) { t.results = log }
}

// NewTrainer validates cfg against the provider and picks the loss policy.
func NewTrainer(cfg *core.Config, provider dataset.Provider, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider.NumClasses() != cfg.Data.NumLabels {
		return nil, fmt.Errorf("%w: provider has %d classes, config expects %d",
			core.ErrInvalidConfig, provider.NumClasses(), cfg.Data.NumLabels)
	}
	if cfg.KLEnabled() && !cfg.Model.Probability {
		return nil, fmt.Errorf("%w: kl reconstruction loss needs probability mode", core.ErrInvalidConfig)
	}
	t := &Trainer{
		cfg:      cfg,
		provider: provider,
		logger:   slog.Default(),
		aux:      selectAuxLoss(cfg),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Run executes every trial in order and stops at the first error.
func (t *Trainer) Run(ctx context.Context) ([]TrialResult, error) {
	results := make([]TrialResult, 0, t.cfg.Train.NumTrials)
	for trial := 0; trial < t.cfg.Train.NumTrials; trial++ {
		res, err := t.RunTrial(ctx, trial)
		if err != nil {
			return results, fmt.Errorf("trial %d: %w", trial, err)
		}
		results = append(results, *res)
	}
	return results, nil
}

// RunTrial trains a freshly seeded model and evaluates it after every epoch.
func (t *Trainer) RunTrial(ctx context.Context, trial int) (*TrialResult, error) {
	seed, err := t.cfg.TrialSeed(trial)
	if err != nil {
		return nil, err
	}
	res := &TrialResult{Trial: trial, Seed: seed, RunID: uuid.NewString()}
	logger := t.logger.With("trial", trial, "seed", seed, "run", res.RunID)
	if t.results != nil {
		if err := t.results.WriteInfo(res.RunID, trial, seed, t.cfg); err != nil {
			return nil, err
		}
	}

	m, err := model.New(t.cfg.Model, t.provider.NumClasses())
	if err != nil {
		return nil, err
	}
	m.Reset(rand.New(rand.NewSource(seed)))
	params := m.Parameters()
	for _, p := range params {
		res.Parameters += len(p.Data.Data)
	}
	opt := autodiff.NewAdamOptimizer(t.cfg.Train.LearningRate, t.cfg.Train.WeightDecay)

	shuffle := rand.New(rand.NewSource(seed))
	trainLoader, err := dataset.NewLoader(t.provider.Train(), t.cfg.Train.BatchSize, true, shuffle)
	if err != nil {
		return nil, err
	}
	testLoader, err := dataset.NewLoader(t.provider.Test(), t.cfg.Train.BatchSize, false, nil)
	if err != nil {
		return nil, err
	}
	testBatches, err := testLoader.Batches()
	if err != nil {
		return nil, fmt.Errorf("test batches: %w", err)
	}

	logger.Info("trial started", "parameters", res.Parameters, "train", len(t.provider.Train()), "test", len(t.provider.Test()))
	start := time.Now()
	t.StepCount = 0
	for epoch := 0; epoch < t.cfg.Train.Epochs; epoch++ {
		batches, err := trainLoader.Batches()
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		total := 0.0
		for _, b := range batches {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			loss, err := t.TrainStep(m, opt, b)
			if err != nil {
				return nil, fmt.Errorf("epoch %d step %d: %w", epoch, t.StepCount, err)
			}
			total += loss
		}

		report, err := t.Evaluate(m, testBatches)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		f1 := report.WeightedF1
		res.EpochLoss = append(res.EpochLoss, total)
		res.EpochF1 = append(res.EpochF1, f1)
		res.BestF1 = max(res.BestF1, f1)
		logger.Info("epoch finished", "epoch", epoch, "loss", total, "test_f1", f1, "best_f1", res.BestF1)
	}
	if res.Report, err = t.Evaluate(m, testBatches); err != nil {
		return nil, err
	}
	res.FinalF1 = res.Report.WeightedF1
	res.Duration = time.Since(start)
	logger.Info("trial finished", "best_f1", res.BestF1, "final_f1", res.FinalF1, "duration", res.Duration)

	if t.results != nil {
		if err := t.results.WriteResult(res.BestF1, res.FinalF1); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// TrainStep runs forward and backward on one batch and updates the
// parameters. It returns the batch loss. A batch with no labelled node is
// skipped and reports zero loss.
func (t *Trainer) TrainStep(m *model.Model, opt autodiff.Optimizer, b *dataset.Batch) (float64, error) {
	params := m.Parameters()
	autodiff.ZeroGrad(params)

	out, err := m.Forward(b, true)
	if err != nil {
		return 0, err
	}
	loss, err := t.Loss(out, b.Labels)
	if err != nil {
		return 0, err
	}
	if loss == nil {
		t.logger.Warn("batch without labelled utterances skipped", "nodes", b.NumNodes())
		return 0, nil
	}
	if err := loss.Backward(); err != nil {
		return 0, err
	}
	opt.Step(params)
	t.StepCount++
	return loss.Item(), nil
}

// Loss is the cross entropy over labelled nodes plus the auxiliary term of
// the configured policy. It returns nil when no node is labelled.
func (t *Trainer) Loss(out *model.Output, labels []int) (*autodiff.Tensor, error) {
	sentinel := t.cfg.Sentinel()
	idx := make([]int, 0, len(labels))
	targets := make([]int, 0, len(labels))
	for i, l := range labels {
		if l != sentinel {
			idx = append(idx, i)
			targets = append(targets, l)
		}
	}
	if len(idx) == 0 {
		return nil, nil
	}
	logits, err := autodiff.GatherRows(out.Logits, idx)
	if err != nil {
		return nil, err
	}
	loss, err := autodiff.CrossEntropyLoss(logits, targets)
	if err != nil {
		return nil, err
	}
	if t.aux == nil {
		return loss, nil
	}
	aux, err := t.aux(out)
	if err != nil {
		return nil, err
	}
	return autodiff.Add(loss, aux)
}

// Evaluate scores m over batches, ignoring sentinel nodes. Dropout is off.
func (t *Trainer) Evaluate(m *model.Model, batches []*dataset.Batch) (*metrics.Report, error) {
	var labels, preds []int
	for _, b := range batches {
		out, err := m.Forward(b, false)
		if err != nil {
			return nil, fmt.Errorf("evaluate: %w", err)
		}
		labels = append(labels, b.Labels...)
		preds = append(preds, Predict(out.Logits)...)
	}
	return metrics.Score(labels, preds, t.cfg.Sentinel())
}

// Predict returns the arg-max class of every row.
func Predict(logits *autodiff.Tensor) []int {
	preds := make([]int, logits.Data.Rows)
	for i := range preds {
		row := logits.Data.Row(i)
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		preds[i] = best
	}
	return preds
}

// auxLoss is the weighted auxiliary term added to the cross entropy.
type auxLoss func(out *model.Output) (*autodiff.Tensor, error)

// selectAuxLoss picks the auxiliary term once per trainer: the MSE between
// imputed and original features, or the KL-sparsity of the first graph
// layer, each weighted by missing·scale. It returns nil for cross entropy
// alone, which is also what kl falls back to while rho is -1.
func selectAuxLoss(cfg *core.Config) auxLoss {
	weight := float64(cfg.Data.Missing) * cfg.Train.ReconstructionScale
	var term auxLoss
	switch {
	case cfg.Train.ReconstructionLoss == core.LossMSE:
		term = func(out *model.Output) (*autodiff.Tensor, error) { return out.ReconstructionLoss() }
	case cfg.KLEnabled():
		rho := cfg.Train.Rho
		term = func(out *model.Output) (*autodiff.Tensor, error) { return out.SparsityLoss(rho, true) }
	default:
		return nil
	}
	return func(out *model.Output) (*autodiff.Tensor, error) {
		l, err := term(out)
		if err != nil {
			return nil, err
		}
		return autodiff.ScalarMultiply(l, weight)
	}
}
