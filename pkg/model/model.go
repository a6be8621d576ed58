package model

import (
	"fmt"
	"math/rand"

	"github.com/mmgat/mmgat/pkg/attention"
	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/mmgat/mmgat/pkg/core"
	"github.com/mmgat/mmgat/pkg/dataset"
	"github.com/mmgat/mmgat/pkg/layers"
)

// Model is the emotion classifier. Build it with New and call Reset before
// the first Forward.
type Model struct {
	cfg     core.ModelConfig
	profile attention.Profile

	Fusion  *Fusion
	Imputer Imputer
	// GAT holds the graph attention stack when UsingGAT is set; Dense
	// replaces it otherwise.
	GAT        []*layers.GATv2Conv
	Dense      *layers.Linear
	CrossModal *attention.MultiHead // nil unless the cross-modal branch is on
	Classifier *layers.Linear

	rng *rand.Rand
}

// Output carries the logits and the tensors the auxiliary losses need.
type Output struct {
	Logits *autodiff.Tensor
	// Imputed is the fused corrupted features after imputation; Original is
	// the fused uncorrupted features. Both are nodes x fused width.
	Imputed  *autodiff.Tensor
	Original *autodiff.Tensor
	// Rho is the column mean of sigmoid(first graph layer output), recorded
	// in probability mode only.
	Rho *autodiff.Tensor
}

// New builds a model for numClasses classes.
func New(cfg core.ModelConfig, numClasses int) (*Model, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("%w: need at least one class, got %d", core.ErrInvalidConfig, numClasses)
	}
	m := &Model{cfg: cfg}
	var err error
	if m.Fusion, err = NewFusion(cfg); err != nil {
		return nil, fmt.Errorf("fusion: %w", err)
	}
	if m.profile, err = attention.ProfileForWidth(m.Fusion.Width()); err != nil {
		return nil, fmt.Errorf("fused width: %w", err)
	}
	if m.Imputer, err = NewImputer(cfg.FeatureEstimate, m.Fusion.Width()); err != nil {
		return nil, err
	}

	width := m.Fusion.Width()
	graphOut := cfg.Heads * cfg.GATOut
	if cfg.UsingGAT {
		dims := []int{width, cfg.GATHidden, cfg.GATOut}
		in := width
		for i := 0; i < len(dims)-1; i++ {
			l, err := layers.NewGATv2Conv(fmt.Sprintf("gat%d", i), in, dims[i+1], cfg.Heads, autodiff.ReLU)
			if err != nil {
				return nil, err
			}
			m.GAT = append(m.GAT, l)
			in = l.OutDim()
		}
	} else if m.Dense, err = layers.NewLinear("dense", width, graphOut, true, layers.InitFanIn); err != nil {
		return nil, err
	}

	classIn := graphOut + m.Fusion.LSTM.OutDim()
	if cfg.CrossModal {
		if cfg.Merge == attention.MergeAverage {
			return nil, fmt.Errorf("%w: average merge collapses the cross-modal branch to one value", core.ErrInvalidConfig)
		}
		if m.CrossModal, err = attention.NewCrossModalMultiHead("cross", width, cfg.GATOut, cfg.Heads, cfg.Merge); err != nil {
			return nil, err
		}
		classIn += m.CrossModal.OutDim()
	}
	if m.Classifier, err = layers.NewLinear("classifier", classIn, numClasses, true, layers.InitXavierUniform); err != nil {
		return nil, err
	}
	return m, nil
}

// Reset draws every weight from rng, which also drives dropout afterwards.
func (m *Model) Reset(rng *rand.Rand) {
	m.rng = rng
	m.Imputer.Reset(rng)
	for _, l := range m.GAT {
		l.Reset(rng)
	}
	if m.Dense != nil {
		m.Dense.Reset(rng)
	}
	m.Classifier.Reset(rng)
	m.Fusion.Reset(rng)
	if m.CrossModal != nil {
		m.CrossModal.Reset(rng)
	}
}

// Parameters returns every trainable tensor by qualified name.
func (m *Model) Parameters() map[string]*autodiff.Tensor {
	params := map[string]*autodiff.Tensor{}
	autodiff.MergeParameters(params, "fusion", m.Fusion.GetParameters())
	autodiff.MergeParameters(params, "imputer", m.Imputer.GetParameters())
	for i, l := range m.GAT {
		autodiff.MergeParameters(params, fmt.Sprintf("gat%d", i), l.GetParameters())
	}
	if m.Dense != nil {
		autodiff.MergeParameters(params, "dense", m.Dense.GetParameters())
	}
	if m.CrossModal != nil {
		autodiff.MergeParameters(params, "cross", m.CrossModal.GetParameters())
	}
	autodiff.MergeParameters(params, "classifier", m.Classifier.GetParameters())
	return params
}

// Forward classifies every node of b. Dropout is active only when training.
func (m *Model) Forward(b *dataset.Batch, training bool) (*Output, error) {
	if m.rng == nil {
		return nil, fmt.Errorf("model used before Reset")
	}
	in := func(x *autodiff.Matrix, name string) *autodiff.Tensor { return autodiff.Constant(x, name) }

	fused, err := m.Fusion.Encode(in(b.Text, "text"), in(b.Audio, "audio"), in(b.Vision, "vision"), m.rng, training)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	original, err := m.Fusion.Encode(in(b.OText, "oText"), in(b.OAudio, "oAudio"), in(b.OVision, "oVision"), m.rng, training)
	if err != nil {
		return nil, fmt.Errorf("encode originals: %w", err)
	}
	temporal, err := m.Fusion.Temporal(fused, b.NumConversations, b.ConversationLength)
	if err != nil {
		return nil, fmt.Errorf("temporal: %w", err)
	}

	h, err := m.Imputer.Impute(b.Graph, fused)
	if err != nil {
		return nil, fmt.Errorf("impute: %w", err)
	}
	out := &Output{Imputed: h, Original: original}
	if h, err = ChannelFilter(h, m.profile); err != nil {
		return nil, err
	}

	var cross *autodiff.Tensor
	if m.CrossModal != nil {
		if cross, err = m.CrossModal.Forward(h); err != nil {
			return nil, fmt.Errorf("cross-modal: %w", err)
		}
	}

	if h, err = m.graphStack(b, h, out, training); err != nil {
		return nil, err
	}
	parts := []*autodiff.Tensor{h, temporal}
	if cross != nil {
		parts = append(parts, cross)
	}
	cat, err := autodiff.ConcatCols(parts...)
	if err != nil {
		return nil, err
	}
	if out.Logits, err = m.Classifier.Forward(cat); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Model) graphStack(b *dataset.Batch, h *autodiff.Tensor, out *Output, training bool) (*autodiff.Tensor, error) {
	record := func(first *autodiff.Tensor) error {
		if !m.cfg.Probability {
			return nil
		}
		p, err := autodiff.Sigmoid(first)
		if err != nil {
			return err
		}
		out.Rho, err = autodiff.MeanRows(p)
		return err
	}

	if m.Dense != nil {
		h, err := m.Dense.Forward(h)
		if err != nil {
			return nil, err
		}
		return h, record(h)
	}
	var err error
	for i, l := range m.GAT {
		if i > 0 {
			if h, err = autodiff.Dropout(h, m.cfg.LayerDropout, m.rng, training); err != nil {
				return nil, err
			}
		}
		if h, err = l.Forward(b.Graph, h); err != nil {
			return nil, fmt.Errorf("gat layer %d: %w", i, err)
		}
		if i == 0 {
			if err := record(h); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

// ReconstructionLoss is the mean squared error between the imputed and the
// original fused features.
func (o *Output) ReconstructionLoss() (*autodiff.Tensor, error) {
	return autodiff.MSELoss(o.Imputed, o.Original)
}

// SparsityLoss is the KL-sparsity penalty of the recorded first-layer
// activations against target rho.
func (o *Output) SparsityLoss(rho float64, sizeAverage bool) (*autodiff.Tensor, error) {
	if o.Rho == nil {
		return nil, fmt.Errorf("%w: sparsity loss needs probability mode", core.ErrInvalidConfig)
	}
	return autodiff.SparsityLoss(o.Rho, rho, sizeAverage)
}
