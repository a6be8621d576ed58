package layers

import (
	"math"
	"math/rand"
	"testing"

	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/mmgat/mmgat/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func randomInput(rng *rand.Rand, rows, cols int) *autodiff.Tensor {
	m := autodiff.MustNewMatrix(rows, cols)
	autodiff.Uniform(m, 1, rng)
	return autodiff.Constant(m, "x")
}

func ringGraph(t *testing.T, n int) *graph.Graph {
	t.Helper()
	g, err := graph.New(n)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, g.AddEdge(i, (i+1)%n))
	}
	g.AddSelfLoops()
	return g
}

func TestLinear(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l, err := NewLinear("enc", 5, 3, true, InitXavierUniform)
	require.NoError(t, err)
	l.Reset(rng)
	assert.Zero(t, l.Bias.Data.Sum())

	out, err := l.Forward(randomInput(rng, 4, 5))
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3}, out.Shape())
	assert.Len(t, l.GetParameters(), 2)

	_, err = l.Forward(randomInput(rng, 4, 6))
	assert.ErrorIs(t, err, autodiff.ErrShape)

	noBias, err := NewLinear("q", 5, 3, false, InitXavierNormalReLU)
	require.NoError(t, err)
	assert.Len(t, noBias.GetParameters(), 1)

	_, err = NewLinear("bad", 0, 3, true, InitFanIn)
	assert.Error(t, err)
}

func TestLinearFanInBounds(t *testing.T) {
	l, err := NewLinear("fc", 16, 8, true, InitFanIn)
	require.NoError(t, err)
	l.Reset(rand.New(rand.NewSource(2)))
	for _, v := range append(l.Weight.Data.Data, l.Bias.Data.Data...) {
		assert.LessOrEqual(t, math.Abs(v), 0.25)
	}
}

func TestBiLSTMShapeAndIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	lstm, err := NewBiLSTM("fusion", 6, 4)
	require.NoError(t, err)
	lstm.Reset(rng)
	assert.Equal(t, 8, lstm.OutDim())
	assert.Len(t, lstm.GetParameters(), 6)

	x := randomInput(rng, 3*5, 6)
	out, err := lstm.Forward(x, 3, 5)
	require.NoError(t, err)
	require.Equal(t, []int{15, 8}, out.Shape())

	// Changing the last step of sequence 1 leaves sequence 0 untouched, the
	// forward state of earlier steps of sequence 1 untouched, and moves the
	// reverse state of every step of sequence 1.
	changed := autodiff.Constant(x.Data.Clone(), "x2")
	for j := range changed.Data.Row(9) {
		changed.Data.Row(9)[j] += 1
	}
	out2, err := lstm.Forward(changed, 3, 5)
	require.NoError(t, err)
	for r := 0; r < 5; r++ {
		assert.Equal(t, out.Data.Row(r), out2.Data.Row(r))
	}
	for r := 5; r < 9; r++ {
		assert.Equal(t, out.Data.Row(r)[:4], out2.Data.Row(r)[:4])
		assert.NotEqual(t, out.Data.Row(r)[4:], out2.Data.Row(r)[4:])
	}

	_, err = lstm.Forward(x, 4, 5)
	assert.ErrorIs(t, err, autodiff.ErrShape)
}

func TestBiLSTMBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	lstm, err := NewBiLSTM("fusion", 3, 2)
	require.NoError(t, err)
	lstm.Reset(rng)

	x, err := autodiff.NewParameter("x", 4, 3)
	require.NoError(t, err)
	autodiff.Uniform(x.Data, 1, rng)
	out, err := lstm.Forward(x, 2, 2)
	require.NoError(t, err)
	loss, err := autodiff.Sum(out)
	require.NoError(t, err)
	require.NoError(t, loss.Backward())

	for name, p := range lstm.GetParameters() {
		assert.Positive(t, floats.Norm(p.Grad.Data, 2), "no gradient reached %s", name)
	}
}

func TestGraphConvNormalisation(t *testing.T) {
	// With identity weights the layer is the normalised aggregation itself.
	g, err := graph.New(2)
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(0, 1))
	g.AddSelfLoops()

	conv, err := NewGraphConv("impute", 2, 2)
	require.NoError(t, err)
	conv.Weight.Data.Set(0, 0, 1)
	conv.Weight.Data.Set(1, 1, 1)

	h, err := autodiff.NewMatrixFromRows([][]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)
	out, err := conv.Forward(g, autodiff.Constant(h, "h"))
	require.NoError(t, err)

	// outdeg(0)=2, indeg(0)=1, outdeg(1)=1, indeg(1)=2.
	assert.InDeltaSlice(t, []float64{
		1 / math.Sqrt(2), 0,
		1 / math.Sqrt(4), 1 / math.Sqrt(2),
	}, out.Data.Data, 1e-12)

	conv.Reset(rand.New(rand.NewSource(5)))
	assert.Zero(t, conv.Bias.Data.Sum())
	assert.Len(t, conv.GetParameters(), 2)
}

func TestGATv2EdgeSoftmax(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	g := ringGraph(t, 5)
	gat, err := NewGATv2Conv("gat", 4, 3, 2, autodiff.ReLU)
	require.NoError(t, err)
	gat.Reset(rng)
	require.NotNil(t, gat.ResFc)

	out, alpha, err := gat.ForwardWithAttention(g, randomInput(rng, 5, 4))
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6}, out.Shape())
	for _, v := range out.Data.Data {
		assert.GreaterOrEqual(t, v, 0.0)
	}

	_, dst := g.Edges()
	sums := make([][]float64, 5)
	for i := range sums {
		sums[i] = make([]float64, 2)
	}
	for e, v := range dst {
		for h := 0; h < 2; h++ {
			sums[v][h] += alpha.Data.At(e, h)
		}
	}
	for v := range sums {
		assert.InDeltaSlice(t, []float64{1, 1}, sums[v], 1e-12)
	}
}

func TestGATv2IdentityResidual(t *testing.T) {
	gat, err := NewGATv2Conv("gat", 8, 4, 2, nil)
	require.NoError(t, err)
	assert.Nil(t, gat.ResFc)
	assert.Equal(t, 8, gat.OutDim())
	assert.Len(t, gat.GetParameters(), 5)

	// With all weights zero, attention is uniform, messages vanish, and the
	// output is exactly the residual input.
	g := ringGraph(t, 3)
	x := randomInput(rand.New(rand.NewSource(7)), 3, 8)
	out, err := gat.Forward(g, x)
	require.NoError(t, err)
	assert.Equal(t, x.Data.Data, out.Data.Data)

	_, err = gat.Forward(g, randomInput(rand.New(rand.NewSource(8)), 4, 8))
	assert.ErrorIs(t, err, autodiff.ErrShape)
}

func TestGATv2Backward(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	g := ringGraph(t, 4)
	gat, err := NewGATv2Conv("gat", 3, 2, 2, autodiff.ReLU)
	require.NoError(t, err)
	gat.Reset(rng)

	out, err := gat.Forward(g, randomInput(rng, 4, 3))
	require.NoError(t, err)
	loss, err := autodiff.Mean(out)
	require.NoError(t, err)
	require.NoError(t, loss.Backward())
	assert.NotZero(t, gat.FcSrc.Weight.Grad.Sum())
}
