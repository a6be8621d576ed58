package autodiff

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// EdgeList is a weighted list of directed edges over n nodes.
type EdgeList struct {
	N      int
	Src    []int
	Dst    []int
	Weight []float64 // optional; nil means 1 for every edge
}

func (e EdgeList) validate() error {
	if len(e.Src) != len(e.Dst) {
		return fmt.Errorf("%w: %d sources for %d destinations", ErrShape, len(e.Src), len(e.Dst))
	}
	if e.Weight != nil && len(e.Weight) != len(e.Src) {
		return fmt.Errorf("%w: %d edge weights for %d edges", ErrShape, len(e.Weight), len(e.Src))
	}
	for i := range e.Src {
		if e.Src[i] < 0 || e.Src[i] >= e.N || e.Dst[i] < 0 || e.Dst[i] >= e.N {
			return fmt.Errorf("%w: edge %d (%d->%d) out of range for %d nodes", ErrShape, i, e.Src[i], e.Dst[i], e.N)
		}
	}
	return nil
}

func (e EdgeList) weight(i int) float64 {
	if e.Weight == nil {
		return 1
	}
	return e.Weight[i]
}

// Propagate computes out[dst] += w · h[src] over every edge: one round of
// message passing with fixed edge weights (a sparse adjacency product).
func Propagate(h *Tensor, edges EdgeList) (*Tensor, error) {
	if err := checkNil(h); err != nil {
		return nil, err
	}
	if err := edges.validate(); err != nil {
		return nil, err
	}
	if h.Data.Rows != edges.N {
		return nil, fmt.Errorf("%w: %d feature rows for %d nodes", ErrShape, h.Data.Rows, edges.N)
	}

	result, err := newResult(edges.N, h.Data.Cols, "propagate_result", h)
	if err != nil {
		return nil, err
	}
	for e := range edges.Src {
		floats.AddScaled(result.Data.Row(edges.Dst[e]), edges.weight(e), h.Data.Row(edges.Src[e]))
	}

	if result.Requires {
		result.BackwardFn = func() {
			for e := range edges.Src {
				floats.AddScaled(h.Grad.Row(edges.Src[e]), edges.weight(e), result.Grad.Row(edges.Dst[e]))
			}
		}
	}
	return result, nil
}

// SegmentSoftmax normalises each column of scores over the rows that share a
// segment id. Rows are edges and segments their destination nodes in graph
// attention, so the weights of every node's incoming edges sum to 1 per head.
func SegmentSoftmax(scores *Tensor, segment []int, numSegments int) (*Tensor, error) {
	if err := checkNil(scores); err != nil {
		return nil, err
	}
	if len(segment) != scores.Data.Rows {
		return nil, fmt.Errorf("%w: %d segment ids for %d rows", ErrShape, len(segment), scores.Data.Rows)
	}
	cols := scores.Data.Cols
	groups := make([][]int, numSegments)
	for r, s := range segment {
		if s < 0 || s >= numSegments {
			return nil, fmt.Errorf("%w: segment %d out of range for %d segments", ErrShape, s, numSegments)
		}
		groups[s] = append(groups[s], r)
	}

	result, err := newResult(scores.Data.Rows, cols, "segment_softmax_result", scores)
	if err != nil {
		return nil, err
	}
	for _, rows := range groups {
		for c := 0; c < cols; c++ {
			max := math.Inf(-1)
			for _, r := range rows {
				max = math.Max(max, scores.Data.At(r, c))
			}
			sum := 0.0
			for _, r := range rows {
				e := math.Exp(scores.Data.At(r, c) - max)
				result.Data.Set(r, c, e)
				sum += e
			}
			for _, r := range rows {
				result.Data.Set(r, c, result.Data.At(r, c)/sum)
			}
		}
	}

	if result.Requires {
		result.BackwardFn = func() {
			for _, rows := range groups {
				for c := 0; c < cols; c++ {
					dot := 0.0
					for _, r := range rows {
						dot += result.Data.At(r, c) * result.Grad.At(r, c)
					}
					for _, r := range rows {
						s := result.Data.At(r, c)
						scores.Grad.Data[r*cols+c] += s * (result.Grad.At(r, c) - dot)
					}
				}
			}
		}
	}
	return result, nil
}

// HeadDot splits every row of x (E x H·F) into H blocks of width F and dots
// block h with block h of the 1 x H·F vector attn, giving an E x H result.
func HeadDot(x, attn *Tensor, heads int) (*Tensor, error) {
	if err := checkNil(x, attn); err != nil {
		return nil, err
	}
	if heads <= 0 || x.Data.Cols%heads != 0 {
		return nil, fmt.Errorf("%w: %d columns do not split into %d heads", ErrShape, x.Data.Cols, heads)
	}
	if attn.Data.Rows != 1 || attn.Data.Cols != x.Data.Cols {
		return nil, fmt.Errorf("%w: attention vector must be 1x%d, got %dx%d", ErrShape, x.Data.Cols, attn.Data.Rows, attn.Data.Cols)
	}
	f := x.Data.Cols / heads

	result, err := newResult(x.Data.Rows, heads, "head_dot_result", x, attn)
	if err != nil {
		return nil, err
	}
	for r := 0; r < x.Data.Rows; r++ {
		row := x.Data.Row(r)
		for h := 0; h < heads; h++ {
			result.Data.Set(r, h, floats.Dot(row[h*f:(h+1)*f], attn.Data.Data[h*f:(h+1)*f]))
		}
	}

	if result.Requires {
		result.BackwardFn = func() {
			for r := 0; r < x.Data.Rows; r++ {
				for h := 0; h < heads; h++ {
					g := result.Grad.At(r, h)
					if x.Requires {
						floats.AddScaled(x.Grad.Row(r)[h*f:(h+1)*f], g, attn.Data.Data[h*f:(h+1)*f])
					}
					if attn.Requires {
						floats.AddScaled(attn.Grad.Data[h*f:(h+1)*f], g, x.Data.Row(r)[h*f:(h+1)*f])
					}
				}
			}
		}
	}
	return result, nil
}

// HeadScale multiplies block h of every row of x (E x H·F) by alpha[r][h].
func HeadScale(x, alpha *Tensor, heads int) (*Tensor, error) {
	if err := checkNil(x, alpha); err != nil {
		return nil, err
	}
	if heads <= 0 || x.Data.Cols%heads != 0 {
		return nil, fmt.Errorf("%w: %d columns do not split into %d heads", ErrShape, x.Data.Cols, heads)
	}
	if alpha.Data.Rows != x.Data.Rows || alpha.Data.Cols != heads {
		return nil, fmt.Errorf("%w: head weights must be %dx%d, got %dx%d", ErrShape, x.Data.Rows, heads, alpha.Data.Rows, alpha.Data.Cols)
	}
	f := x.Data.Cols / heads

	result, err := newResult(x.Data.Rows, x.Data.Cols, "head_scale_result", x, alpha)
	if err != nil {
		return nil, err
	}
	for r := 0; r < x.Data.Rows; r++ {
		src, dst := x.Data.Row(r), result.Data.Row(r)
		for h := 0; h < heads; h++ {
			floats.ScaleTo(dst[h*f:(h+1)*f], alpha.Data.At(r, h), src[h*f:(h+1)*f])
		}
	}

	if result.Requires {
		result.BackwardFn = func() {
			for r := 0; r < x.Data.Rows; r++ {
				g := result.Grad.Row(r)
				for h := 0; h < heads; h++ {
					if x.Requires {
						floats.AddScaled(x.Grad.Row(r)[h*f:(h+1)*f], alpha.Data.At(r, h), g[h*f:(h+1)*f])
					}
					if alpha.Requires {
						alpha.Grad.Data[r*heads+h] += floats.Dot(g[h*f:(h+1)*f], x.Data.Row(r)[h*f:(h+1)*f])
					}
				}
			}
		}
	}
	return result, nil
}
