package attention

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/mmgat/mmgat/pkg/autodiff"
	"gopkg.in/yaml.v3"
)

// Merge selects how MultiHead combines its head outputs.
type Merge int

const (
	// MergeConcat concatenates head outputs along the feature axis.
	MergeConcat Merge = iota
	// MergeAverage averages every element of every head into a single 1x1
	// value. The batch axis is not preserved; prefer MergeConcat.
	MergeAverage
)

func (m Merge) String() string {
	switch m {
	case MergeConcat:
		return "cat"
	case MergeAverage:
		return "average"
	}
	return fmt.Sprintf("Merge(%d)", int(m))
}

// ParseMerge accepts "cat"/"concat" and "average"/"mean".
func ParseMerge(s string) (Merge, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cat", "concat":
		return MergeConcat, nil
	case "average", "mean", "avg":
		return MergeAverage, nil
	}
	return 0, fmt.Errorf("unknown merge policy %q", s)
}

func (m Merge) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

func (m *Merge) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseMerge(value.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MultiHead runs independent copies of a layer and merges their outputs.
type MultiHead struct {
	Name  string
	Heads []Layer
	Merge Merge
}

// NewMultiHead builds heads layers with newHead, which must return a layer
// with freshly allocated weights on every call.
func NewMultiHead(name string, heads int, merge Merge, newHead func(name string) (Layer, error)) (*MultiHead, error) {
	if heads <= 0 {
		return nil, fmt.Errorf("multi-head %s: need at least one head, got %d", name, heads)
	}
	mh := &MultiHead{Name: name, Merge: merge, Heads: make([]Layer, heads)}
	for i := range mh.Heads {
		h, err := newHead(name + ".head" + strconv.Itoa(i))
		if err != nil {
			return nil, fmt.Errorf("multi-head %s head %d: %w", name, i, err)
		}
		mh.Heads[i] = h
	}
	return mh, nil
}

// NewModalityMultiHead wraps heads ModalityAttention layers.
func NewModalityMultiHead(name string, in, out, heads int, merge Merge) (*MultiHead, error) {
	return NewMultiHead(name, heads, merge, func(n string) (Layer, error) {
		return NewModalityAttention(n, in, out)
	})
}

// NewCrossModalMultiHead wraps heads CrossModalAttention layers.
func NewCrossModalMultiHead(name string, in, out, heads int, merge Merge) (*MultiHead, error) {
	return NewMultiHead(name, heads, merge, func(n string) (Layer, error) {
		return NewCrossModalAttention(n, in, out)
	})
}

func (mh *MultiHead) Forward(x *autodiff.Tensor) (*autodiff.Tensor, error) {
	outs := make([]*autodiff.Tensor, len(mh.Heads))
	for i, h := range mh.Heads {
		out, err := h.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("multi-head %s head %d: %w", mh.Name, i, err)
		}
		outs[i] = out
	}
	cat, err := autodiff.ConcatCols(outs...)
	if err != nil {
		return nil, err
	}
	if mh.Merge == MergeAverage {
		return autodiff.Mean(cat)
	}
	return cat, nil
}

// OutDim returns the width of the merged output under MergeConcat, and 1
// under MergeAverage.
func (mh *MultiHead) OutDim() int {
	if mh.Merge == MergeAverage {
		return 1
	}
	total := 0
	for _, h := range mh.Heads {
		total += h.OutDim()
	}
	return total
}

func (mh *MultiHead) Reset(rng *rand.Rand) {
	for _, h := range mh.Heads {
		h.Reset(rng)
	}
}

func (mh *MultiHead) GetParameters() map[string]*autodiff.Tensor {
	params := map[string]*autodiff.Tensor{}
	for i, h := range mh.Heads {
		autodiff.MergeParameters(params, "head"+strconv.Itoa(i), h.GetParameters())
	}
	return params
}
