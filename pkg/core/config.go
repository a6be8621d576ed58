package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmgat/mmgat/pkg/attention"
	"github.com/mmgat/mmgat/pkg/graph"
)

// SeedRandom selects the fixed per-trial seed list.
const SeedRandom = "random"

// SeedList holds the seed of each trial when Seed is SeedRandom.
var SeedList = []int64{1001, 9138, 86503, 37949, 22627, 75258, 94877, 9829, 47702, 15908}

// TrialSeed returns the seed of trial i.
func (c *Config) TrialSeed(i int) (int64, error) {
	if strings.EqualFold(c.Train.Seed, SeedRandom) {
		return SeedList[i%len(SeedList)], nil
	}
	seed, err := strconv.ParseInt(strings.TrimSpace(c.Train.Seed), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: seed must be %q or an integer, got %q", ErrInvalidConfig, SeedRandom, c.Train.Seed)
	}
	return seed, nil
}

// ClassNames returns the emotion names of the label indices, in IEMOCAP order.
func (c *Config) ClassNames() []string {
	names := []string{"happy", "sad", "neutral", "angry", "excited", "frustrated"}
	return names[:min(c.Data.NumLabels, len(names))]
}

// Sentinel is the label value of nodes excluded from loss and metrics.
func (c *Config) Sentinel() int { return c.Data.NumLabels }

// FusedWidth is the width of the concatenated encoder outputs.
func (c *Config) FusedWidth() int { return 3 * c.Model.EncoderDim }

// KLEnabled reports whether the KL-sparsity term takes part in the loss.
func (c *Config) KLEnabled() bool {
	return c.Train.ReconstructionLoss == LossKL && c.Train.Rho != -1
}

// EdgeOptions returns the graph construction options.
func (c *Config) EdgeOptions() graph.BuildOptions {
	return graph.BuildOptions{
		Mode:      c.Data.EdgeType,
		Threshold: c.Data.SimilarityThreshold,
		Past:      c.Data.WindowPast,
		Future:    c.Data.WindowFuture,
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	t, m, d := c.Train, c.Model, c.Data
	check(t.Epochs > 0, "epochs must be positive, got %d", t.Epochs)
	check(t.LearningRate > 0, "learning rate must be positive, got %g", t.LearningRate)
	check(t.WeightDecay >= 0, "weight decay must be non-negative, got %g", t.WeightDecay)
	check(t.BatchSize > 0, "batch size must be positive, got %d", t.BatchSize)
	check(t.NumTrials > 0, "number of trials must be positive, got %d", t.NumTrials)
	check(t.Rho == -1 || (t.Rho >= 0 && t.Rho <= 1), "rho must be -1 or in [0, 1], got %g", t.Rho)
	check(t.ReconstructionScale >= 0, "reconstruction scale must be non-negative, got %g", t.ReconstructionScale)
	check(t.ReconstructionLoss >= LossNone && t.ReconstructionLoss <= LossKL, "unknown reconstruction loss %v", t.ReconstructionLoss)
	if _, err := c.TrialSeed(0); err != nil {
		errs = append(errs, err)
	}

	check(m.TextDim > 0 && m.AudioDim > 0 && m.VisionDim > 0,
		"modality widths must be positive, got %d/%d/%d", m.TextDim, m.AudioDim, m.VisionDim)
	check(m.FusionHidden > 0, "fusion hidden size must be positive, got %d", m.FusionHidden)
	check(m.Heads > 0, "heads must be positive, got %d", m.Heads)
	check(m.GATHidden > 0 && m.GATOut > 0, "graph layer widths must be positive, got %d/%d", m.GATHidden, m.GATOut)
	check(m.EncoderDropout >= 0 && m.EncoderDropout < 1, "encoder dropout must be in [0, 1), got %g", m.EncoderDropout)
	check(m.LayerDropout >= 0 && m.LayerDropout < 1, "layer dropout must be in [0, 1), got %g", m.LayerDropout)
	check(m.FeatureEstimate >= EstimateGraph && m.FeatureEstimate <= EstimateMean, "unknown feature estimate %v", m.FeatureEstimate)
	if m.FeatureEstimate == EstimateMean {
		errs = append(errs, fmt.Errorf("feature estimate %v: %w", m.FeatureEstimate, ErrPolicyNotImplemented))
	}
	check(!m.CrossModal || m.Merge == attention.MergeConcat, "cross-modal branch needs the cat merge, got %v", m.Merge)
	if p, err := attention.ProfileForWidth(c.FusedWidth()); err != nil {
		errs = append(errs, fmt.Errorf("encoder width %d: %w", m.EncoderDim, err))
	} else {
		for _, mod := range attention.Modalities {
			check(p.SliceWidth(mod) == m.EncoderDim, "profile %s does not split into %d-wide encoder slices", p.Name, m.EncoderDim)
		}
	}

	check(d.Missing >= 0 && d.Missing <= 100, "missing percentage must be in [0, 100], got %d", d.Missing)
	check(d.NumLabels == 4 || d.NumLabels == 6, "number of labels must be 4 or 6, got %d", d.NumLabels)
	check(d.ConversationLength > 0, "conversation length must be positive, got %d", d.ConversationLength)
	check(d.EdgeType == graph.Similarity || d.EdgeType == graph.Temporal, "unknown edge type %v", d.EdgeType)
	check(d.WindowPast >= 0 && d.WindowFuture >= 0, "temporal window must be non-negative, got %d/%d", d.WindowPast, d.WindowFuture)
	check(d.MaskMaxAttempts > 0, "mask attempts must be positive, got %d", d.MaskMaxAttempts)
	check(d.TrainConversations > 0 && d.TestConversations > 0,
		"conversation counts must be positive, got %d/%d", d.TrainConversations, d.TestConversations)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
