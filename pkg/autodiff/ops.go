package autodiff

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/floats"
)

// MatMul performs matrix multiplication with gradient tracking
func MatMul(a, b *Tensor) (*Tensor, error) {
	if err := checkNil(a, b); err != nil {
		return nil, err
	}
	if a.Data.Cols != b.Data.Rows {
		return nil, fmt.Errorf("%w: matrix dimensions don't match for multiplication: a(%dx%d), b(%dx%d)",
			ErrShape, a.Data.Rows, a.Data.Cols, b.Data.Rows, b.Data.Cols)
	}

	result, err := newResult(a.Data.Rows, b.Data.Cols, "matmul_result", a, b)
	if err != nil {
		return nil, err
	}
	result.Data.Dense().Mul(a.Data.Dense(), b.Data.Dense())

	if result.Requires {
		result.BackwardFn = func() {
			// dL/dA = dL/dC * B^T
			if a.Requires {
				mulAddTransB(a.Grad, result.Grad, b.Data)
			}
			// dL/dB = A^T * dL/dC
			if b.Requires {
				mulAddTransA(b.Grad, a.Data, result.Grad)
			}
		}
	}
	return result, nil
}

// Add performs element-wise addition with gradient tracking
func Add(a, b *Tensor) (*Tensor, error) {
	if err := checkNil(a, b); err != nil {
		return nil, err
	}
	if !a.Data.SameShape(b.Data) {
		return nil, fmt.Errorf("%w: matrix dimensions don't match for addition: a(%dx%d), b(%dx%d)",
			ErrShape, a.Data.Rows, a.Data.Cols, b.Data.Rows, b.Data.Cols)
	}

	result, err := newResult(a.Data.Rows, a.Data.Cols, "add_result", a, b)
	if err != nil {
		return nil, err
	}
	copy(result.Data.Data, a.Data.Data)
	vek.Add_Inplace(result.Data.Data, b.Data.Data)

	if result.Requires {
		result.BackwardFn = func() {
			if a.Requires {
				vek.Add_Inplace(a.Grad.Data, result.Grad.Data)
			}
			if b.Requires {
				vek.Add_Inplace(b.Grad.Data, result.Grad.Data)
			}
		}
	}
	return result, nil
}

// Subtract performs element-wise subtraction with gradient tracking
func Subtract(a, b *Tensor) (*Tensor, error) {
	if err := checkNil(a, b); err != nil {
		return nil, err
	}
	if !a.Data.SameShape(b.Data) {
		return nil, fmt.Errorf("%w: matrix dimensions don't match for subtraction: a(%dx%d), b(%dx%d)",
			ErrShape, a.Data.Rows, a.Data.Cols, b.Data.Rows, b.Data.Cols)
	}

	result, err := newResult(a.Data.Rows, a.Data.Cols, "subtract_result", a, b)
	if err != nil {
		return nil, err
	}
	floats.SubTo(result.Data.Data, a.Data.Data, b.Data.Data)

	if result.Requires {
		result.BackwardFn = func() {
			if a.Requires {
				floats.Add(a.Grad.Data, result.Grad.Data)
			}
			if b.Requires {
				floats.Sub(b.Grad.Data, result.Grad.Data)
			}
		}
	}
	return result, nil
}

// Multiply performs element-wise multiplication (Hadamard product) with gradient tracking
func Multiply(a, b *Tensor) (*Tensor, error) {
	if err := checkNil(a, b); err != nil {
		return nil, err
	}
	if !a.Data.SameShape(b.Data) {
		return nil, fmt.Errorf("%w: matrix dimensions don't match for element-wise multiplication: a(%dx%d), b(%dx%d)",
			ErrShape, a.Data.Rows, a.Data.Cols, b.Data.Rows, b.Data.Cols)
	}

	result, err := newResult(a.Data.Rows, a.Data.Cols, "multiply_result", a, b)
	if err != nil {
		return nil, err
	}
	floats.MulTo(result.Data.Data, a.Data.Data, b.Data.Data)

	if result.Requires {
		result.BackwardFn = func() {
			for i, g := range result.Grad.Data {
				if a.Requires {
					a.Grad.Data[i] += g * b.Data.Data[i]
				}
				if b.Requires {
					b.Grad.Data[i] += g * a.Data.Data[i]
				}
			}
		}
	}
	return result, nil
}

// ScalarMultiply multiplies a tensor by a scalar value with gradient tracking
func ScalarMultiply(a *Tensor, scalar float64) (*Tensor, error) {
	if err := checkNil(a); err != nil {
		return nil, err
	}

	result, err := newResult(a.Data.Rows, a.Data.Cols, "scalar_multiply_result", a)
	if err != nil {
		return nil, err
	}
	copy(result.Data.Data, a.Data.Data)
	vek.MulNumber_Inplace(result.Data.Data, scalar)

	if result.Requires {
		result.BackwardFn = func() {
			floats.AddScaled(a.Grad.Data, scalar, result.Grad.Data)
		}
	}
	return result, nil
}

// AddRowVector adds a 1xC row vector (typically a bias) to every row of a.
func AddRowVector(a, bias *Tensor) (*Tensor, error) {
	if err := checkNil(a, bias); err != nil {
		return nil, err
	}
	if bias.Data.Rows != 1 || bias.Data.Cols != a.Data.Cols {
		return nil, fmt.Errorf("%w: row vector must be 1x%d, got %dx%d",
			ErrShape, a.Data.Cols, bias.Data.Rows, bias.Data.Cols)
	}

	result, err := newResult(a.Data.Rows, a.Data.Cols, "add_row_vector_result", a, bias)
	if err != nil {
		return nil, err
	}
	for i := 0; i < a.Data.Rows; i++ {
		floats.AddTo(result.Data.Row(i), a.Data.Row(i), bias.Data.Data)
	}

	if result.Requires {
		result.BackwardFn = func() {
			if a.Requires {
				floats.Add(a.Grad.Data, result.Grad.Data)
			}
			if bias.Requires {
				for i := 0; i < a.Data.Rows; i++ {
					floats.Add(bias.Grad.Data, result.Grad.Row(i))
				}
			}
		}
	}
	return result, nil
}

// ScaleColumns multiplies column j of a by the constant weights[j].
func ScaleColumns(a *Tensor, weights []float64) (*Tensor, error) {
	if err := checkNil(a); err != nil {
		return nil, err
	}
	if len(weights) != a.Data.Cols {
		return nil, fmt.Errorf("%w: %d column weights for %d columns", ErrShape, len(weights), a.Data.Cols)
	}

	result, err := newResult(a.Data.Rows, a.Data.Cols, "scale_columns_result", a)
	if err != nil {
		return nil, err
	}
	for i := 0; i < a.Data.Rows; i++ {
		floats.MulTo(result.Data.Row(i), a.Data.Row(i), weights)
	}

	if result.Requires {
		result.BackwardFn = func() {
			for i := 0; i < a.Data.Rows; i++ {
				g, dst := result.Grad.Row(i), a.Grad.Row(i)
				for j, w := range weights {
					dst[j] += g[j] * w
				}
			}
		}
	}
	return result, nil
}

// unary builds an element-wise op from its forward function and the
// derivative expressed in terms of input x and output y.
func unary(a *Tensor, name string, f func(x float64) float64, df func(x, y float64) float64) (*Tensor, error) {
	if err := checkNil(a); err != nil {
		return nil, err
	}
	result, err := newResult(a.Data.Rows, a.Data.Cols, name, a)
	if err != nil {
		return nil, err
	}
	for i, x := range a.Data.Data {
		result.Data.Data[i] = f(x)
	}
	if result.Requires {
		result.BackwardFn = func() {
			for i, g := range result.Grad.Data {
				a.Grad.Data[i] += g * df(a.Data.Data[i], result.Data.Data[i])
			}
		}
	}
	return result, nil
}

// ReLU applies the ReLU activation function with gradient tracking
func ReLU(a *Tensor) (*Tensor, error) {
	return unary(a, "relu_result",
		func(x float64) float64 { return math.Max(x, 0) },
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		})
}

// LeakyReLU applies max(x, slope*x) with gradient tracking
func LeakyReLU(a *Tensor, slope float64) (*Tensor, error) {
	return unary(a, "leaky_relu_result",
		func(x float64) float64 {
			if x > 0 {
				return x
			}
			return slope * x
		},
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return slope
		})
}

// Sigmoid applies the logistic function with gradient tracking
func Sigmoid(a *Tensor) (*Tensor, error) {
	return unary(a, "sigmoid_result",
		func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		func(_, y float64) float64 { return y * (1 - y) })
}

// Tanh applies the hyperbolic tangent with gradient tracking
func Tanh(a *Tensor) (*Tensor, error) {
	return unary(a, "tanh_result",
		math.Tanh,
		func(_, y float64) float64 { return 1 - y*y })
}

// Softmax applies the softmax function to every row with gradient tracking
func Softmax(a *Tensor) (*Tensor, error) {
	if err := checkNil(a); err != nil {
		return nil, err
	}
	result, err := newResult(a.Data.Rows, a.Data.Cols, "softmax_result", a)
	if err != nil {
		return nil, err
	}
	for i := 0; i < a.Data.Rows; i++ {
		softmaxInto(result.Data.Row(i), a.Data.Row(i))
	}

	if result.Requires {
		result.BackwardFn = func() {
			for i := 0; i < a.Data.Rows; i++ {
				s, g, dst := result.Data.Row(i), result.Grad.Row(i), a.Grad.Row(i)
				dot := floats.Dot(s, g)
				for j := range s {
					dst[j] += s[j] * (g[j] - dot)
				}
			}
		}
	}
	return result, nil
}

// softmaxInto writes softmax(x) into dst, shifting by the max for stability.
func softmaxInto(dst, x []float64) {
	max := floats.Max(x)
	sum := 0.0
	for j, v := range x {
		e := math.Exp(v - max)
		dst[j] = e
		sum += e
	}
	floats.Scale(1/sum, dst)
}

// Dropout zeroes elements with probability rate and rescales the survivors by
// 1/(1-rate). It is the identity when training is false or rate is 0.
func Dropout(a *Tensor, rate float64, rng *rand.Rand, training bool) (*Tensor, error) {
	if err := checkNil(a); err != nil {
		return nil, err
	}
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("dropout rate must be in range [0, 1), got %f", rate)
	}
	if !training || rate == 0 {
		return a, nil
	}

	scale := 1.0 / (1.0 - rate)
	mask := make([]float64, len(a.Data.Data))
	for i := range mask {
		if rng.Float64() >= rate {
			mask[i] = scale
		}
	}

	result, err := newResult(a.Data.Rows, a.Data.Cols, "dropout_result", a)
	if err != nil {
		return nil, err
	}
	floats.MulTo(result.Data.Data, a.Data.Data, mask)

	if result.Requires {
		result.BackwardFn = func() {
			for i, g := range result.Grad.Data {
				a.Grad.Data[i] += g * mask[i]
			}
		}
	}
	return result, nil
}

// L1NormalizeRows divides every row by max(‖row‖₁, eps).
func L1NormalizeRows(a *Tensor, eps float64) (*Tensor, error) {
	if err := checkNil(a); err != nil {
		return nil, err
	}
	result, err := newResult(a.Data.Rows, a.Data.Cols, "l1_normalize_result", a)
	if err != nil {
		return nil, err
	}
	norms := make([]float64, a.Data.Rows)
	for i := range norms {
		x := a.Data.Row(i)
		norms[i] = math.Max(floats.Norm(x, 1), eps)
		floats.ScaleTo(result.Data.Row(i), 1/norms[i], x)
	}

	if result.Requires {
		result.BackwardFn = func() {
			for i, n := range norms {
				x, g, dst := a.Data.Row(i), result.Grad.Row(i), a.Grad.Row(i)
				if n == eps {
					floats.AddScaled(dst, 1/n, g)
					continue
				}
				// d(x_i/n)/dx_k = δ_ik/n - x_i·sign(x_k)/n²
				gx := floats.Dot(g, x) / (n * n)
				for k := range x {
					dst[k] += g[k]/n - sign(x[k])*gx
				}
			}
		}
	}
	return result, nil
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// Sum returns the sum of all elements in a tensor with gradient tracking
func Sum(a *Tensor) (*Tensor, error) {
	if err := checkNil(a); err != nil {
		return nil, err
	}
	result, err := newResult(1, 1, "sum_result", a)
	if err != nil {
		return nil, err
	}
	result.Data.Data[0] = vek.Sum(a.Data.Data)

	if result.Requires {
		result.BackwardFn = func() {
			g := result.Grad.Data[0]
			for i := range a.Grad.Data {
				a.Grad.Data[i] += g
			}
		}
	}
	return result, nil
}

// Mean returns the mean of all elements in a tensor with gradient tracking
func Mean(a *Tensor) (*Tensor, error) {
	if err := checkNil(a); err != nil {
		return nil, err
	}
	total := float64(len(a.Data.Data))
	result, err := newResult(1, 1, "mean_result", a)
	if err != nil {
		return nil, err
	}
	result.Data.Data[0] = vek.Sum(a.Data.Data) / total

	if result.Requires {
		result.BackwardFn = func() {
			g := result.Grad.Data[0] / total
			for i := range a.Grad.Data {
				a.Grad.Data[i] += g
			}
		}
	}
	return result, nil
}

// MeanRows averages over rows, returning a 1xC row vector.
func MeanRows(a *Tensor) (*Tensor, error) {
	if err := checkNil(a); err != nil {
		return nil, err
	}
	result, err := newResult(1, a.Data.Cols, "mean_rows_result", a)
	if err != nil {
		return nil, err
	}
	n := float64(a.Data.Rows)
	for i := 0; i < a.Data.Rows; i++ {
		floats.Add(result.Data.Data, a.Data.Row(i))
	}
	floats.Scale(1/n, result.Data.Data)

	if result.Requires {
		result.BackwardFn = func() {
			for i := 0; i < a.Data.Rows; i++ {
				floats.AddScaled(a.Grad.Row(i), 1/n, result.Grad.Data)
			}
		}
	}
	return result, nil
}
