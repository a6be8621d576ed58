package attention

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/mmgat/mmgat/pkg/layers"
)

// Unit is a single query/key/value attention block. Queries, keys and values
// are bias-free projections to Out; the score of a sample is the outer
// product q ⊗ k / √Out, normalised over the query index.
type Unit struct {
	Name  string
	In    int
	Out   int
	Query *layers.Linear
	Key   *layers.Linear
	Value *layers.Linear
}

// NewUnit creates a unit projecting In-wide rows to Out.
func NewUnit(name string, in, out int) (*Unit, error) {
	u := &Unit{Name: name, In: in, Out: out}
	var err error
	if u.Query, err = layers.NewLinear(name+".query", in, out, false, layers.InitXavierNormalReLU); err != nil {
		return nil, err
	}
	if u.Key, err = layers.NewLinear(name+".key", in, out, false, layers.InitXavierNormalReLU); err != nil {
		return nil, err
	}
	if u.Value, err = layers.NewLinear(name+".value", in, out, false, layers.InitXavierNormalReLU); err != nil {
		return nil, err
	}
	return u, nil
}

// Forward attends x (B x In) over itself and returns B x Out.
func (u *Unit) Forward(x *autodiff.Tensor) (*autodiff.Tensor, error) {
	return attend(u, u, x, x)
}

// OutDim returns Out.
func (u *Unit) OutDim() int { return u.Out }

// Reset re-draws the three projections.
func (u *Unit) Reset(rng *rand.Rand) {
	u.Query.Reset(rng)
	u.Key.Reset(rng)
	u.Value.Reset(rng)
}

func (u *Unit) GetParameters() map[string]*autodiff.Tensor {
	params := map[string]*autodiff.Tensor{}
	autodiff.MergeParameters(params, "query", u.Query.GetParameters())
	autodiff.MergeParameters(params, "key", u.Key.GetParameters())
	autodiff.MergeParameters(params, "value", u.Value.GetParameters())
	return params
}

// attend runs the query projection of q over feature and the key and value
// projections of kv over refer. Both units must share Out.
func attend(q, kv *Unit, feature, refer *autodiff.Tensor) (*autodiff.Tensor, error) {
	if q.Out != kv.Out {
		return nil, fmt.Errorf("%w: query width %d, key/value width %d", autodiff.ErrShape, q.Out, kv.Out)
	}
	qv, err := q.Query.Forward(feature)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", q.Name, err)
	}
	kVal, err := kv.Key.Forward(refer)
	if err != nil {
		return nil, fmt.Errorf("%s key: %w", kv.Name, err)
	}
	vVal, err := kv.Value.Forward(refer)
	if err != nil {
		return nil, fmt.Errorf("%s value: %w", kv.Name, err)
	}
	return autodiff.OuterAttention(qv, kVal, vVal, 1/math.Sqrt(float64(q.Out)))
}
