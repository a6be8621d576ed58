package autodiff

import (
	"fmt"
	"math"
)

// OuterAttention computes the per-sample outer-product attention used by the
// modality attention layers. For every row b of q, k, v (each B x D):
//
//	s[i][j] = q[i]·k[j]·scale               (D x D score, outer product)
//	a[:, j] = softmax_i(s[:, j])            (normalised along axis 1)
//	out[i]  = Σ_j a[i][j]·v[j]
//
// The softmax runs over the query index i for each fixed key index j, so each
// column of a sums to 1. This axis is part of the model definition; do not
// switch it to row normalisation without retraining.
func OuterAttention(q, k, v *Tensor, scale float64) (*Tensor, error) {
	if err := checkNil(q, k, v); err != nil {
		return nil, err
	}
	if !q.Data.SameShape(k.Data) || !q.Data.SameShape(v.Data) {
		return nil, fmt.Errorf("%w: attention operands must share a shape: q(%dx%d), k(%dx%d), v(%dx%d)",
			ErrShape, q.Data.Rows, q.Data.Cols, k.Data.Rows, k.Data.Cols, v.Data.Rows, v.Data.Cols)
	}
	batch, d := q.Data.Rows, q.Data.Cols

	result, err := newResult(batch, d, "outer_attention_result", q, k, v)
	if err != nil {
		return nil, err
	}

	// weights[b] holds the normalised D x D matrix of sample b, row-major by i.
	weights := make([][]float64, batch)
	col := make([]float64, d)
	for b := 0; b < batch; b++ {
		qb, kb, vb := q.Data.Row(b), k.Data.Row(b), v.Data.Row(b)
		w := make([]float64, d*d)
		for j := 0; j < d; j++ {
			for i := 0; i < d; i++ {
				col[i] = qb[i] * kb[j] * scale
			}
			max := math.Inf(-1)
			for _, s := range col {
				max = math.Max(max, s)
			}
			sum := 0.0
			for i, s := range col {
				col[i] = math.Exp(s - max)
				sum += col[i]
			}
			for i := range col {
				w[i*d+j] = col[i] / sum
			}
		}
		out := result.Data.Row(b)
		for i := 0; i < d; i++ {
			acc := 0.0
			for j := 0; j < d; j++ {
				acc += w[i*d+j] * vb[j]
			}
			out[i] = acc
		}
		weights[b] = w
	}

	if result.Requires {
		result.BackwardFn = func() {
			gamma := make([]float64, d)
			for b := 0; b < batch; b++ {
				w, g := weights[b], result.Grad.Row(b)
				qb, kb, vb := q.Data.Row(b), k.Data.Row(b), v.Data.Row(b)

				// γ_j = Σ_i a_ij g_i is both dL/dv_j and the softmax correction.
				for j := 0; j < d; j++ {
					acc := 0.0
					for i := 0; i < d; i++ {
						acc += w[i*d+j] * g[i]
					}
					gamma[j] = acc
				}
				if v.Requires {
					dv := v.Grad.Row(b)
					for j := range gamma {
						dv[j] += gamma[j]
					}
				}
				if !q.Requires && !k.Requires {
					continue
				}
				// dL/ds_ij = a_ij · v_j · (g_i - γ_j)
				for i := 0; i < d; i++ {
					for j := 0; j < d; j++ {
						ds := w[i*d+j] * vb[j] * (g[i] - gamma[j]) * scale
						if q.Requires {
							q.Grad.Data[b*d+i] += ds * kb[j]
						}
						if k.Requires {
							k.Grad.Data[b*d+j] += ds * qb[i]
						}
					}
				}
			}
		}
	}
	return result, nil
}
