package layers

import (
	"fmt"
	"math/rand"

	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/mmgat/mmgat/pkg/graph"
)

// GATv2Conv is a multi-head graph attention layer with dynamic attention:
//
//	e_uv  = aᵀ · LeakyReLU(W_s·h_u + W_d·h_v)
//	α_uv  = softmax over the incoming edges of v
//	h'_v  = act(Σ_u α_uv · W_s·h_u + res(h_v))
//
// Heads are concatenated, so the output is Heads·Out wide.
type GATv2Conv struct {
	Name          string
	In            int
	Out           int
	Heads         int
	NegativeSlope float64
	Activation    func(*autodiff.Tensor) (*autodiff.Tensor, error)

	FcSrc *Linear
	FcDst *Linear
	Attn  *autodiff.Tensor // 1 x Heads·Out
	ResFc *Linear          // nil when the residual is the identity
}

// NewGATv2Conv creates a residual attention layer. The residual is a
// projection when In differs from Heads·Out and the identity otherwise.
func NewGATv2Conv(name string, in, out, heads int, activation func(*autodiff.Tensor) (*autodiff.Tensor, error)) (*GATv2Conv, error) {
	if in <= 0 || out <= 0 || heads <= 0 {
		return nil, fmt.Errorf("gatv2 %s: invalid dimensions in=%d out=%d heads=%d", name, in, out, heads)
	}
	width := heads * out
	src, err := NewLinear(name+".fc_src", in, width, true, InitXavierNormalReLU)
	if err != nil {
		return nil, err
	}
	dst, err := NewLinear(name+".fc_dst", in, width, true, InitXavierNormalReLU)
	if err != nil {
		return nil, err
	}
	attn, err := autodiff.NewParameter(name+".attn", 1, width)
	if err != nil {
		return nil, err
	}
	layer := &GATv2Conv{
		Name:          name,
		In:            in,
		Out:           out,
		Heads:         heads,
		NegativeSlope: 0.2,
		Activation:    activation,
		FcSrc:         src,
		FcDst:         dst,
		Attn:          attn,
	}
	if in != width {
		if layer.ResFc, err = NewLinear(name+".res_fc", in, width, true, InitXavierNormalReLU); err != nil {
			return nil, err
		}
	}
	return layer, nil
}

// OutDim returns Heads·Out.
func (l *GATv2Conv) OutDim() int { return l.Heads * l.Out }

// Forward computes the new node features (N x Heads·Out).
func (l *GATv2Conv) Forward(g *graph.Graph, h *autodiff.Tensor) (*autodiff.Tensor, error) {
	out, _, err := l.ForwardWithAttention(g, h)
	return out, err
}

// ForwardWithAttention also returns the edge weights (E x Heads), with edges
// in the order of g.Edges.
func (l *GATv2Conv) ForwardWithAttention(g *graph.Graph, h *autodiff.Tensor) (*autodiff.Tensor, *autodiff.Tensor, error) {
	if h.Data.Rows != g.NumNodes() {
		return nil, nil, fmt.Errorf("gatv2 %s: %w: %d feature rows for %d nodes", l.Name, autodiff.ErrShape, h.Data.Rows, g.NumNodes())
	}
	src, dst := g.Edges()

	fs, err := l.FcSrc.Forward(h)
	if err != nil {
		return nil, nil, err
	}
	fd, err := l.FcDst.Forward(h)
	if err != nil {
		return nil, nil, err
	}
	fsEdge, err := autodiff.GatherRows(fs, src)
	if err != nil {
		return nil, nil, err
	}
	fdEdge, err := autodiff.GatherRows(fd, dst)
	if err != nil {
		return nil, nil, err
	}
	sum, err := autodiff.Add(fsEdge, fdEdge)
	if err != nil {
		return nil, nil, err
	}
	act, err := autodiff.LeakyReLU(sum, l.NegativeSlope)
	if err != nil {
		return nil, nil, err
	}
	scores, err := autodiff.HeadDot(act, l.Attn, l.Heads)
	if err != nil {
		return nil, nil, fmt.Errorf("gatv2 %s scores: %w", l.Name, err)
	}
	alpha, err := autodiff.SegmentSoftmax(scores, dst, g.NumNodes())
	if err != nil {
		return nil, nil, fmt.Errorf("gatv2 %s edge softmax: %w", l.Name, err)
	}

	msgs, err := autodiff.HeadScale(fsEdge, alpha, l.Heads)
	if err != nil {
		return nil, nil, err
	}
	out, err := autodiff.ScatterAddRows(msgs, dst, g.NumNodes())
	if err != nil {
		return nil, nil, err
	}

	res := h
	if l.ResFc != nil {
		if res, err = l.ResFc.Forward(h); err != nil {
			return nil, nil, err
		}
	}
	if out, err = autodiff.Add(out, res); err != nil {
		return nil, nil, fmt.Errorf("gatv2 %s residual: %w", l.Name, err)
	}
	if l.Activation != nil {
		if out, err = l.Activation(out); err != nil {
			return nil, nil, err
		}
	}
	return out, alpha, nil
}

// Reset draws every weight from Xavier-normal with ReLU gain and zeroes the
// biases.
func (l *GATv2Conv) Reset(rng *rand.Rand) {
	l.FcSrc.Reset(rng)
	l.FcDst.Reset(rng)
	autodiff.XavierNormal(l.Attn.Data, l.Heads*l.Out, l.Out, autodiff.GainReLU, rng)
	if l.ResFc != nil {
		l.ResFc.Reset(rng)
	}
}

func (l *GATv2Conv) GetParameters() map[string]*autodiff.Tensor {
	params := map[string]*autodiff.Tensor{"attn": l.Attn}
	autodiff.MergeParameters(params, "fc_src", l.FcSrc.GetParameters())
	autodiff.MergeParameters(params, "fc_dst", l.FcDst.GetParameters())
	if l.ResFc != nil {
		autodiff.MergeParameters(params, "res_fc", l.ResFc.GetParameters())
	}
	return params
}
