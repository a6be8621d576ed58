package model

import (
	"fmt"
	"math/rand"

	"github.com/mmgat/mmgat/pkg/attention"
	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/mmgat/mmgat/pkg/core"
	"github.com/mmgat/mmgat/pkg/graph"
	"github.com/mmgat/mmgat/pkg/layers"
)

// Imputer estimates the features of missing modalities from the graph.
type Imputer interface {
	Impute(g *graph.Graph, h *autodiff.Tensor) (*autodiff.Tensor, error)
	Reset(rng *rand.Rand)
	GetParameters() map[string]*autodiff.Tensor
}

// NewImputer returns the imputer of policy for width-wide fused features.
func NewImputer(policy core.FeatureEstimate, width int) (Imputer, error) {
	switch policy {
	case core.EstimateGraph:
		return newGraphImputer(width)
	case core.EstimateZero:
		return zeroImputer{}, nil
	case core.EstimateMean:
		return nil, fmt.Errorf("feature estimate %v: %w", policy, core.ErrPolicyNotImplemented)
	default:
		return nil, fmt.Errorf("feature estimate %v: %w", policy, core.ErrInvalidConfig)
	}
}

// graphImputer smooths features over the graph, decodes them, and averages
// the estimate with the input: h' = (h + dec(conv(g, h))) / 2.
type graphImputer struct {
	conv    *layers.GraphConv
	decoder *layers.Linear
}

func newGraphImputer(width int) (*graphImputer, error) {
	conv, err := layers.NewGraphConv("imputer.conv", width, width)
	if err != nil {
		return nil, err
	}
	dec, err := layers.NewLinear("imputer.decoder", width, width, true, layers.InitFanIn)
	if err != nil {
		return nil, err
	}
	return &graphImputer{conv: conv, decoder: dec}, nil
}

func (im *graphImputer) Impute(g *graph.Graph, h *autodiff.Tensor) (*autodiff.Tensor, error) {
	est, err := im.conv.Forward(g, h)
	if err != nil {
		return nil, err
	}
	if est, err = im.decoder.Forward(est); err != nil {
		return nil, err
	}
	sum, err := autodiff.Add(h, est)
	if err != nil {
		return nil, err
	}
	return autodiff.ScalarMultiply(sum, 0.5)
}

func (im *graphImputer) Reset(rng *rand.Rand) {
	im.conv.Reset(rng)
	im.decoder.Reset(rng)
}

func (im *graphImputer) GetParameters() map[string]*autodiff.Tensor {
	params := map[string]*autodiff.Tensor{}
	autodiff.MergeParameters(params, "conv", im.conv.GetParameters())
	autodiff.MergeParameters(params, "decoder", im.decoder.GetParameters())
	return params
}

// zeroImputer leaves missing modalities at zero.
type zeroImputer struct{}

func (zeroImputer) Impute(_ *graph.Graph, h *autodiff.Tensor) (*autodiff.Tensor, error) {
	return h, nil
}

func (zeroImputer) Reset(*rand.Rand) {}

func (zeroImputer) GetParameters() map[string]*autodiff.Tensor { return nil }

// channelWeights weighs text, audio and vision columns 3, 2 and 1.
func channelWeights(p attention.Profile) []float64 {
	w := make([]float64, p.Width())
	for i, m := range attention.Modalities {
		from, to := p.Bounds(m)
		for j := from; j < to; j++ {
			w[j] = float64(3 - i)
		}
	}
	return w
}

// ChannelFilter L1-normalises every row and then weighs the modality
// channels of p.
func ChannelFilter(h *autodiff.Tensor, p attention.Profile) (*autodiff.Tensor, error) {
	if h.Data.Cols != p.Width() {
		return nil, fmt.Errorf("channel filter: %w: width %d for profile %s", attention.ErrUnsupportedWidth, h.Data.Cols, p.Name)
	}
	norm, err := autodiff.L1NormalizeRows(h, 1e-12)
	if err != nil {
		return nil, err
	}
	return autodiff.ScaleColumns(norm, channelWeights(p))
}
