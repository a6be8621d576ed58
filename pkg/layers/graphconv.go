package layers

import (
	"fmt"
	"math/rand"

	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/mmgat/mmgat/pkg/graph"
)

// GraphConv is a graph convolution with symmetric degree normalisation:
// h' = (D_in^-1/2 · A · D_out^-1/2) · h · W + b.
type GraphConv struct {
	Name   string
	In     int
	Out    int
	Weight *autodiff.Tensor
	Bias   *autodiff.Tensor
}

// NewGraphConv creates a zero-initialised convolution; call Reset before use.
func NewGraphConv(name string, in, out int) (*GraphConv, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("graphconv %s: invalid dimensions %dx%d", name, in, out)
	}
	w, err := autodiff.NewParameter(name+".weight", in, out)
	if err != nil {
		return nil, err
	}
	b, err := autodiff.NewParameter(name+".bias", 1, out)
	if err != nil {
		return nil, err
	}
	return &GraphConv{Name: name, In: in, Out: out, Weight: w, Bias: b}, nil
}

// Forward aggregates h (N x In) over g and projects the result to N x Out.
func (c *GraphConv) Forward(g *graph.Graph, h *autodiff.Tensor) (*autodiff.Tensor, error) {
	agg, err := autodiff.Propagate(h, g.NormalizedEdges())
	if err != nil {
		return nil, fmt.Errorf("graphconv %s aggregate: %w", c.Name, err)
	}
	out, err := autodiff.MatMul(agg, c.Weight)
	if err != nil {
		return nil, fmt.Errorf("graphconv %s: %w", c.Name, err)
	}
	return autodiff.AddRowVector(out, c.Bias)
}

// Reset draws the weight from Xavier-uniform and zeroes the bias.
func (c *GraphConv) Reset(rng *rand.Rand) {
	autodiff.XavierUniform(c.Weight.Data, c.In, c.Out, 1, rng)
	c.Bias.Data.Zero()
}

func (c *GraphConv) GetParameters() map[string]*autodiff.Tensor {
	return map[string]*autodiff.Tensor{"weight": c.Weight, "bias": c.Bias}
}
