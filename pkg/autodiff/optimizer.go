package autodiff

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Optimizer updates parameters in place from their accumulated gradients.
type Optimizer interface {
	Step(params map[string]*Tensor)
}

// AdamOptimizer implements the Adam optimization algorithm. Weight decay is
// the classic L2 form: WeightDecay·θ is added to the gradient before the
// moment updates.
type AdamOptimizer struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64

	M map[string]*Matrix
	V map[string]*Matrix
	T int
}

// NewAdamOptimizer creates a new Adam optimizer
func NewAdamOptimizer(lr float64, weightDecay float64) *AdamOptimizer {
	return &AdamOptimizer{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  weightDecay,
		M:            make(map[string]*Matrix),
		V:            make(map[string]*Matrix),
	}
}

// Step performs one optimization step
func (opt *AdamOptimizer) Step(params map[string]*Tensor) {
	opt.T++
	bc1 := 1.0 - math.Pow(opt.Beta1, float64(opt.T))
	bc2 := 1.0 - math.Pow(opt.Beta2, float64(opt.T))

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		param := params[name]
		if param.Grad == nil || !param.Requires {
			continue
		}
		m, ok := opt.M[name]
		if !ok {
			m = MustNewMatrix(param.Data.Rows, param.Data.Cols)
			opt.M[name] = m
			opt.V[name] = MustNewMatrix(param.Data.Rows, param.Data.Cols)
		}
		v := opt.V[name]

		grad := param.Grad.Data
		if opt.WeightDecay > 0 {
			grad = make([]float64, len(grad))
			floats.AddScaledTo(grad, param.Grad.Data, opt.WeightDecay, param.Data.Data)
		}
		for i, g := range grad {
			m.Data[i] = opt.Beta1*m.Data[i] + (1.0-opt.Beta1)*g
			v.Data[i] = opt.Beta2*v.Data[i] + (1.0-opt.Beta2)*g*g
			mCorrected := m.Data[i] / bc1
			vCorrected := v.Data[i] / bc2
			param.Data.Data[i] -= opt.LearningRate * mCorrected / (math.Sqrt(vCorrected) + opt.Epsilon)
		}
	}
}

// ZeroGrad clears the gradient of every parameter that tracks one.
func ZeroGrad(params map[string]*Tensor) {
	for _, p := range params {
		if p.Requires && p.Grad != nil {
			p.Grad.Zero()
		}
	}
}

// MergeParameters copies every entry of src into dst under prefix+"."+name.
func MergeParameters(dst map[string]*Tensor, prefix string, src map[string]*Tensor) {
	for name, p := range src {
		dst[prefix+"."+name] = p
	}
}
