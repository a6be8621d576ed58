package autodiff

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrossEntropyLoss(t *testing.T) {
	logits, err := NewMatrixFromRows([][]float64{{0, 0}, {0, 0}})
	require.NoError(t, err)
	loss, err := CrossEntropyLoss(Constant(logits, "logits"), []int{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, math.Ln2, loss.Item(), 1e-12)

	_, err = CrossEntropyLoss(Constant(logits, "logits"), []int{0, 2})
	assert.Error(t, err)
	_, err = CrossEntropyLoss(Constant(logits, "logits"), []int{0})
	assert.ErrorIs(t, err, ErrShape)

	rng := rand.New(rand.NewSource(21))
	p := randomParam(t, rng, 4, 3)
	checkGradients(t, []*Tensor{p}, func() (*Tensor, error) { return CrossEntropyLoss(p, []int{2, 0, 1, 1}) })
}

func TestMSELossGradientsReachBothSides(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	pred, target := randomParam(t, rng, 3, 2), randomParam(t, rng, 3, 2)
	checkGradients(t, []*Tensor{pred, target}, func() (*Tensor, error) { return MSELoss(pred, target) })

	same, err := MSELoss(pred, pred)
	require.NoError(t, err)
	assert.Zero(t, same.Item())
}

func TestSparsityLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	p := randomParam(t, rng, 1, 5)
	for _, sizeAverage := range []bool{true, false} {
		checkGradients(t, []*Tensor{p}, func() (*Tensor, error) {
			rhoHat, err := Sigmoid(p)
			if err != nil {
				return nil, err
			}
			return SparsityLoss(rhoHat, 0.3, sizeAverage)
		})
	}

	half, err := NewMatrixFromRows([][]float64{{0.5, 0.5}})
	require.NoError(t, err)
	loss, err := SparsityLoss(Constant(half, "rho_hat"), 0.5, true)
	require.NoError(t, err)
	assert.InDelta(t, math.Ln2, loss.Item(), 1e-12)

	_, err = SparsityLoss(Constant(half, "rho_hat"), 1.5, true)
	assert.Error(t, err)
}

func TestAdamMinimisesQuadratic(t *testing.T) {
	w, err := NewParameter("w", 1, 3)
	require.NoError(t, err)
	copy(w.Data.Data, []float64{2, -3, 1})
	target := Constant(MustNewMatrix(1, 3), "target")
	params := map[string]*Tensor{"w": w}

	opt := NewAdamOptimizer(0.1, 0)
	first := 0.0
	for step := 0; step < 500; step++ {
		ZeroGrad(params)
		loss, err := MSELoss(w, target)
		require.NoError(t, err)
		if step == 0 {
			first = loss.Item()
		}
		require.NoError(t, loss.Backward())
		opt.Step(params)
	}
	final, err := MSELoss(w, target)
	require.NoError(t, err)
	assert.Less(t, final.Item(), first*1e-2)
	assert.Equal(t, 500, opt.T)
}

func TestAdamWeightDecayShrinksIdleParameter(t *testing.T) {
	w, err := NewParameter("w", 1, 1)
	require.NoError(t, err)
	w.Data.Data[0] = 1
	opt := NewAdamOptimizer(0.01, 0.1)
	opt.Step(map[string]*Tensor{"w": w})
	assert.Less(t, w.Data.Data[0], 1.0)
}

func TestMergeParameters(t *testing.T) {
	a, _ := NewParameter("a", 1, 1)
	dst := map[string]*Tensor{}
	MergeParameters(dst, "enc", map[string]*Tensor{"weight": a})
	assert.Same(t, a, dst["enc.weight"])
}
