package attention

import (
	"fmt"
	"math/rand"

	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/mmgat/mmgat/pkg/layers"
)

// Layer is an attention layer mapping B x In rows to B x OutDim().
type Layer interface {
	Forward(x *autodiff.Tensor) (*autodiff.Tensor, error)
	OutDim() int
	Reset(rng *rand.Rand)
	GetParameters() map[string]*autodiff.Tensor
}

// splitModalities slices x into its text, audio and video columns.
func splitModalities(p Profile, x *autodiff.Tensor) ([]*autodiff.Tensor, error) {
	if x.Data.Cols != p.Width() {
		return nil, fmt.Errorf("%w: input has %d columns, layer expects %d", ErrUnsupportedWidth, x.Data.Cols, p.Width())
	}
	slices := make([]*autodiff.Tensor, len(Modalities))
	for _, m := range Modalities {
		from, to := p.Bounds(m)
		s, err := autodiff.SliceCols(x, from, to)
		if err != nil {
			return nil, err
		}
		slices[m] = s
	}
	return slices, nil
}

func newModalityUnits(name string, p Profile, out int) ([]*Unit, error) {
	units := make([]*Unit, len(Modalities))
	for _, m := range Modalities {
		u, err := NewUnit(name+"."+m.String(), p.SliceWidth(m), out)
		if err != nil {
			return nil, err
		}
		units[m] = u
	}
	return units, nil
}

// ModalityAttention runs an independent Unit over each modality slice of a
// fused feature vector and projects the three results back to Out.
type ModalityAttention struct {
	Name    string
	Profile Profile
	Out     int
	Units   []*Unit // indexed by Modality
	Proj    *layers.Linear
}

// NewModalityAttention creates a layer for inputs of width in, which must
// match one of the supported profiles.
func NewModalityAttention(name string, in, out int) (*ModalityAttention, error) {
	p, err := ProfileForWidth(in)
	if err != nil {
		return nil, fmt.Errorf("modality attention %s: %w", name, err)
	}
	units, err := newModalityUnits(name, p, out)
	if err != nil {
		return nil, err
	}
	proj, err := layers.NewLinear(name+".proj", 3*out, out, true, layers.InitXavierNormalReLU)
	if err != nil {
		return nil, err
	}
	return &ModalityAttention{Name: name, Profile: p, Out: out, Units: units, Proj: proj}, nil
}

func (a *ModalityAttention) Forward(x *autodiff.Tensor) (*autodiff.Tensor, error) {
	slices, err := splitModalities(a.Profile, x)
	if err != nil {
		return nil, fmt.Errorf("modality attention %s: %w", a.Name, err)
	}
	outs := make([]*autodiff.Tensor, len(Modalities))
	for _, m := range Modalities {
		if outs[m], err = a.Units[m].Forward(slices[m]); err != nil {
			return nil, err
		}
	}
	cat, err := autodiff.ConcatCols(outs...)
	if err != nil {
		return nil, err
	}
	return a.Proj.Forward(cat)
}

func (a *ModalityAttention) OutDim() int { return a.Out }

func (a *ModalityAttention) Reset(rng *rand.Rand) {
	for _, u := range a.Units {
		u.Reset(rng)
	}
	a.Proj.Reset(rng)
}

func (a *ModalityAttention) GetParameters() map[string]*autodiff.Tensor {
	params := map[string]*autodiff.Tensor{}
	for _, m := range Modalities {
		autodiff.MergeParameters(params, m.String(), a.Units[m].GetParameters())
	}
	autodiff.MergeParameters(params, "proj", a.Proj.GetParameters())
	return params
}

// Pair is one query/key-value combination of the cross-modal layer.
type Pair struct {
	Query    Modality
	KeyValue Modality
}

// CrossPairs is the fixed order in which the cross-modal layer evaluates and
// concatenates its pairs.
var CrossPairs = []Pair{
	{Query: Text, KeyValue: Audio},
	{Query: Audio, KeyValue: Text},
	{Query: Video, KeyValue: Text},
	{Query: Text, KeyValue: Video},
	{Query: Audio, KeyValue: Video},
	{Query: Video, KeyValue: Audio},
}

// CrossModalAttention attends the slice of one modality to the slice of
// another for every pair in CrossPairs. Each modality owns one query, key and
// value projection; pair (A, B) uses A's query on A's slice and B's key and
// value on B's slice, so nine projections serve all six pairs.
type CrossModalAttention struct {
	Name    string
	Profile Profile
	Out     int
	Units   []*Unit // indexed by Modality
	Proj    *layers.Linear
}

// NewCrossModalAttention creates a layer for inputs of width in, which must
// match one of the supported profiles.
func NewCrossModalAttention(name string, in, out int) (*CrossModalAttention, error) {
	p, err := ProfileForWidth(in)
	if err != nil {
		return nil, fmt.Errorf("cross-modal attention %s: %w", name, err)
	}
	units, err := newModalityUnits(name, p, out)
	if err != nil {
		return nil, err
	}
	proj, err := layers.NewLinear(name+".proj", len(CrossPairs)*out, out, true, layers.InitXavierNormalReLU)
	if err != nil {
		return nil, err
	}
	return &CrossModalAttention{Name: name, Profile: p, Out: out, Units: units, Proj: proj}, nil
}

// Attend evaluates a single pair and returns B x Out.
func (a *CrossModalAttention) Attend(x *autodiff.Tensor, pair Pair) (*autodiff.Tensor, error) {
	slices, err := splitModalities(a.Profile, x)
	if err != nil {
		return nil, fmt.Errorf("cross-modal attention %s: %w", a.Name, err)
	}
	return a.attendPair(slices, pair)
}

func (a *CrossModalAttention) attendPair(slices []*autodiff.Tensor, pair Pair) (*autodiff.Tensor, error) {
	out, err := attend(a.Units[pair.Query], a.Units[pair.KeyValue], slices[pair.Query], slices[pair.KeyValue])
	if err != nil {
		return nil, fmt.Errorf("cross-modal attention %s %v->%v: %w", a.Name, pair.Query, pair.KeyValue, err)
	}
	return out, nil
}

func (a *CrossModalAttention) Forward(x *autodiff.Tensor) (*autodiff.Tensor, error) {
	slices, err := splitModalities(a.Profile, x)
	if err != nil {
		return nil, fmt.Errorf("cross-modal attention %s: %w", a.Name, err)
	}
	outs := make([]*autodiff.Tensor, len(CrossPairs))
	for i, pair := range CrossPairs {
		if outs[i], err = a.attendPair(slices, pair); err != nil {
			return nil, err
		}
	}
	cat, err := autodiff.ConcatCols(outs...)
	if err != nil {
		return nil, err
	}
	return a.Proj.Forward(cat)
}

func (a *CrossModalAttention) OutDim() int { return a.Out }

func (a *CrossModalAttention) Reset(rng *rand.Rand) {
	for _, u := range a.Units {
		u.Reset(rng)
	}
	a.Proj.Reset(rng)
}

func (a *CrossModalAttention) GetParameters() map[string]*autodiff.Tensor {
	params := map[string]*autodiff.Tensor{}
	for _, m := range Modalities {
		autodiff.MergeParameters(params, m.String(), a.Units[m].GetParameters())
	}
	autodiff.MergeParameters(params, "proj", a.Proj.GetParameters())
	return params
}
