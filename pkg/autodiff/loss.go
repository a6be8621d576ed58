package autodiff

import (
	"fmt"
	"math"
)

// CrossEntropyLoss computes the mean softmax cross-entropy of logits (N x C)
// against integer targets, with gradient tracking.
func CrossEntropyLoss(logits *Tensor, targets []int) (*Tensor, error) {
	if logits == nil {
		return nil, fmt.Errorf("logits tensor cannot be nil")
	}
	batchSize, classes := logits.Data.Rows, logits.Data.Cols
	if len(targets) != batchSize {
		return nil, fmt.Errorf("%w: number of targets (%d) doesn't match batch size (%d)", ErrShape, len(targets), batchSize)
	}

	result, err := newResult(1, 1, "cross_entropy_loss_result", logits)
	if err != nil {
		return nil, err
	}

	probs := MustNewMatrix(batchSize, classes)
	loss := 0.0
	for i, target := range targets {
		if target < 0 || target >= classes {
			return nil, fmt.Errorf("target index out of bounds: %d (must be in [0, %d))", target, classes)
		}
		p := probs.Row(i)
		softmaxInto(p, logits.Data.Row(i))
		loss -= math.Log(math.Max(p[target], math.SmallestNonzeroFloat64))
	}
	result.Data.Data[0] = loss / float64(batchSize)

	if result.Requires {
		result.BackwardFn = func() {
			// Gradient of cross-entropy w.r.t. logits is (softmax - one_hot_target)
			scale := result.Grad.Data[0] / float64(batchSize)
			for i, target := range targets {
				p, dst := probs.Row(i), logits.Grad.Row(i)
				for j := range p {
					grad := p[j]
					if j == target {
						grad -= 1.0
					}
					dst[j] += grad * scale
				}
			}
		}
	}
	return result, nil
}

// MSELoss computes the mean squared error between two tensors. Both sides
// receive gradients, so a prediction can be regressed onto a target that is
// itself produced by trainable layers.
func MSELoss(predictions, targets *Tensor) (*Tensor, error) {
	if predictions == nil || targets == nil {
		return nil, fmt.Errorf("predictions and targets tensors cannot be nil")
	}
	if !predictions.Data.SameShape(targets.Data) {
		return nil, fmt.Errorf("%w: predictions and targets dimensions don't match: predictions(%dx%d), targets(%dx%d)",
			ErrShape, predictions.Data.Rows, predictions.Data.Cols, targets.Data.Rows, targets.Data.Cols)
	}

	result, err := newResult(1, 1, "mse_loss_result", predictions, targets)
	if err != nil {
		return nil, err
	}
	total := float64(len(predictions.Data.Data))
	loss := 0.0
	for i, p := range predictions.Data.Data {
		diff := p - targets.Data.Data[i]
		loss += diff * diff
	}
	result.Data.Data[0] = loss / total

	if result.Requires {
		result.BackwardFn = func() {
			scale := 2.0 * result.Grad.Data[0] / total
			for i, p := range predictions.Data.Data {
				diff := (p - targets.Data.Data[i]) * scale
				if predictions.Requires {
					predictions.Grad.Data[i] += diff
				}
				if targets.Requires {
					targets.Grad.Data[i] -= diff
				}
			}
		}
	}
	return result, nil
}

// sparsityEps keeps the logarithms finite when an activation saturates.
const sparsityEps = 1e-7

// SparsityLoss computes -ρ·log(ρ̂) - (1-ρ)·log(1-ρ̂) for every element of the
// mean activation rhoHat and reduces by mean (sizeAverage) or sum.
func SparsityLoss(rhoHat *Tensor, rho float64, sizeAverage bool) (*Tensor, error) {
	if err := checkNil(rhoHat); err != nil {
		return nil, err
	}
	if rho < 0 || rho > 1 {
		return nil, fmt.Errorf("sparsity target must be in [0, 1], got %f", rho)
	}

	result, err := newResult(1, 1, "sparsity_loss_result", rhoHat)
	if err != nil {
		return nil, err
	}
	clamp := func(p float64) float64 {
		return math.Min(math.Max(p, sparsityEps), 1-sparsityEps)
	}
	reduce := 1.0
	if sizeAverage {
		reduce = float64(len(rhoHat.Data.Data))
	}
	loss := 0.0
	for _, p := range rhoHat.Data.Data {
		p = clamp(p)
		loss += -rho*math.Log(p) - (1-rho)*math.Log(1-p)
	}
	result.Data.Data[0] = loss / reduce

	if result.Requires {
		result.BackwardFn = func() {
			g := result.Grad.Data[0] / reduce
			for i, p := range rhoHat.Data.Data {
				p = clamp(p)
				rhoHat.Grad.Data[i] += g * (-rho/p + (1-rho)/(1-p))
			}
		}
	}
	return result, nil
}
