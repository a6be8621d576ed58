// Package layers provides the trainable building blocks of the model: dense
// projections, a bidirectional LSTM and two graph convolutions.
package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/mmgat/mmgat/pkg/autodiff"
)

// Init selects how a layer fills its weights on Reset.
type Init int

const (
	// InitXavierUniform draws from U(±√(6/(in+out))).
	InitXavierUniform Init = iota
	// InitXavierNormalReLU draws from N(0, 2·2/(in+out)), Xavier with ReLU gain.
	InitXavierNormalReLU
	// InitFanIn draws weights and bias from U(±1/√in).
	InitFanIn
)

// Linear computes x·W + b with W stored as in x out.
type Linear struct {
	Name   string
	In     int
	Out    int
	Init   Init
	Weight *autodiff.Tensor
	Bias   *autodiff.Tensor // nil for a bias-free projection
}

// NewLinear creates a zero-initialised projection; call Reset before use.
func NewLinear(name string, in, out int, bias bool, init Init) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("linear %s: invalid dimensions %dx%d", name, in, out)
	}
	w, err := autodiff.NewParameter(name+".weight", in, out)
	if err != nil {
		return nil, fmt.Errorf("linear %s weight: %w", name, err)
	}
	l := &Linear{Name: name, In: in, Out: out, Init: init, Weight: w}
	if bias {
		if l.Bias, err = autodiff.NewParameter(name+".bias", 1, out); err != nil {
			return nil, fmt.Errorf("linear %s bias: %w", name, err)
		}
	}
	return l, nil
}

// Forward projects x (N x In) to N x Out.
func (l *Linear) Forward(x *autodiff.Tensor) (*autodiff.Tensor, error) {
	out, err := autodiff.MatMul(x, l.Weight)
	if err != nil {
		return nil, fmt.Errorf("linear %s: %w", l.Name, err)
	}
	if l.Bias == nil {
		return out, nil
	}
	out, err = autodiff.AddRowVector(out, l.Bias)
	if err != nil {
		return nil, fmt.Errorf("linear %s bias: %w", l.Name, err)
	}
	return out, nil
}

// Reset re-draws the weights according to l.Init. Biases start at zero
// except under InitFanIn.
func (l *Linear) Reset(rng *rand.Rand) {
	switch l.Init {
	case InitXavierNormalReLU:
		autodiff.XavierNormal(l.Weight.Data, l.In, l.Out, autodiff.GainReLU, rng)
	case InitFanIn:
		autodiff.Uniform(l.Weight.Data, 1/math.Sqrt(float64(l.In)), rng)
	default:
		autodiff.XavierUniform(l.Weight.Data, l.In, l.Out, 1, rng)
	}
	if l.Bias == nil {
		return
	}
	if l.Init == InitFanIn {
		autodiff.Uniform(l.Bias.Data, 1/math.Sqrt(float64(l.In)), rng)
		return
	}
	l.Bias.Data.Zero()
}

// GetParameters returns the trainable tensors keyed "weight" and "bias".
func (l *Linear) GetParameters() map[string]*autodiff.Tensor {
	params := map[string]*autodiff.Tensor{"weight": l.Weight}
	if l.Bias != nil {
		params["bias"] = l.Bias
	}
	return params
}
