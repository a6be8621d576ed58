package graph

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestGraphEdgesAndDegrees(t *testing.T) {
	g, err := New(3)
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(0, 1))
	require.NoError(t, g.AddEdge(2, 1))
	require.NoError(t, g.AddEdge(0, 1))
	require.NoError(t, g.AddEdge(1, 1))
	assert.ErrorIs(t, g.AddEdge(0, 3), ErrNodeRange)

	src, dst := g.Edges()
	assert.Equal(t, []int{0, 1, 2}, src)
	assert.Equal(t, []int{1, 1, 1}, dst)
	assert.Equal(t, 3, g.NumEdges())
	assert.Equal(t, 3, g.InDegree(1))
	assert.Equal(t, 1, g.OutDegree(0))
	assert.Equal(t, 0, g.InDegree(0))
	assert.True(t, g.HasEdge(1, 1))
	assert.False(t, g.HasEdge(1, 0))
}

func TestNormalizedEdges(t *testing.T) {
	// 0 -> 1, 0 -> 2, plus self-loops: outdeg(0)=3, indeg(1)=indeg(2)=2.
	g, err := New(3)
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(0, 1))
	require.NoError(t, g.AddEdge(0, 2))
	g.AddSelfLoops()

	el := g.NormalizedEdges()
	want := map[[2]int]float64{
		{0, 0}: 1 / math.Sqrt(3*1),
		{0, 1}: 1 / math.Sqrt(3*2),
		{1, 1}: 1 / math.Sqrt(1*2),
		{0, 2}: 1 / math.Sqrt(3*2),
		{2, 2}: 1 / math.Sqrt(1*2),
	}
	require.Len(t, el.Src, len(want))
	for i := range el.Src {
		w, ok := want[[2]int{el.Src[i], el.Dst[i]}]
		require.True(t, ok, "unexpected edge %d->%d", el.Src[i], el.Dst[i])
		assert.InDelta(t, w, el.Weight[i], 1e-12)
	}
}

func TestBatchOffsetsNodes(t *testing.T) {
	a, _ := New(2)
	require.NoError(t, a.AddEdge(0, 1))
	b, _ := New(3)
	require.NoError(t, b.AddEdge(2, 0))

	merged, offsets, err := Batch(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, offsets)
	assert.Equal(t, 5, merged.NumNodes())
	src, dst := merged.Edges()
	if diff := cmp.Diff([][]int{{0, 4}, {1, 2}}, [][]int{src, dst}); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestTemporalGraph(t *testing.T) {
	g, err := Build(autodiff.MustNewMatrix(4, 2), BuildOptions{Mode: Temporal, Past: 1, Future: 0})
	require.NoError(t, err)
	src, dst := g.Edges()
	assert.Equal(t, []int{0, 0, 1, 1, 2, 2, 3}, src)
	assert.Equal(t, []int{0, 1, 1, 2, 2, 3, 3}, dst)

	_, err = TemporalGraph(3, -1, 0)
	assert.Error(t, err)
}

func TestSimilarityGraph(t *testing.T) {
	feats, err := autodiff.NewMatrixFromRows([][]float64{{1, 0}, {1, 0.1}, {-1, 0}})
	require.NoError(t, err)
	g, err := Build(feats, BuildOptions{Mode: Similarity, Threshold: 0.9})
	require.NoError(t, err)
	assert.True(t, g.HasEdge(0, 1))
	assert.True(t, g.HasEdge(1, 0))
	assert.False(t, g.HasEdge(0, 2))
	for i := 0; i < 3; i++ {
		assert.True(t, g.HasEdge(i, i))
	}

	assert.InDelta(t, 1.0, AngularSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, AngularSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.InDelta(t, 0.5, AngularSimilarity([]float64{0, 0}, []float64{1, 0}), 1e-12)
}

func TestEdgeModeYAML(t *testing.T) {
	var cfg struct {
		Mode EdgeMode `yaml:"mode"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("mode: temporal\n"), &cfg))
	assert.Equal(t, Temporal, cfg.Mode)
	require.NoError(t, yaml.Unmarshal([]byte("mode: 0\n"), &cfg))
	assert.Equal(t, Similarity, cfg.Mode)
	assert.Error(t, yaml.Unmarshal([]byte("mode: ring\n"), &cfg))

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Equal(t, "mode: similarity\n", string(out))
}
