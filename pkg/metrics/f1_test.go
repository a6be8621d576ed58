package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluatePerfect(t *testing.T) {
	r, err := Evaluate([]int{0, 1, 2, 2}, []int{0, 1, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.Accuracy)
	assert.Equal(t, 1.0, r.WeightedF1)
}

func TestWeightedF1(t *testing.T) {
	// class 0: tp 1, pred 2, support 2 -> p .5 r .5 f .5
	// class 1: tp 1, pred 1, support 1 -> f 1
	// class 2: tp 0, pred 1, support 1 -> f 0
	labels := []int{0, 0, 1, 2}
	preds := []int{0, 2, 1, 0}
	r, err := Evaluate(labels, preds)
	require.NoError(t, err)
	require.Len(t, r.Classes, 3)
	assert.InDelta(t, 0.5, r.Classes[0].F1, 1e-12)
	assert.InDelta(t, (0.5*2+1)/4, r.WeightedF1, 1e-12)
	assert.Equal(t, 0.5, r.Accuracy)
}

func TestPredictedOnlyClassHasNoWeight(t *testing.T) {
	r, err := Evaluate([]int{0, 0}, []int{0, 3})
	require.NoError(t, err)
	require.Len(t, r.Classes, 2)
	assert.Equal(t, 0, r.Classes[1].Support)
	// class 0: p 1, r .5 -> f 2/3, full weight
	assert.InDelta(t, 2.0/3, r.WeightedF1, 1e-12)
}

func TestSentinelIsIgnored(t *testing.T) {
	labels := []int{0, 6, 1, 6, 1}
	preds := []int{0, 1, 1, 0, 0}
	kl, kp, err := FilterSentinel(labels, preds, 6)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1}, kl)
	assert.Equal(t, []int{0, 1, 0}, kp)

	got, err := WeightedF1(labels, preds, 6)
	require.NoError(t, err)
	want, err := WeightedF1(kl, kp, 6)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, _, err = FilterSentinel([]int{1}, nil, 6)
	assert.Error(t, err)
}

func TestEmptyInput(t *testing.T) {
	f1, err := WeightedF1([]int{6, 6}, []int{1, 2}, 6)
	require.NoError(t, err)
	assert.Equal(t, 0.0, f1)
}

func TestRender(t *testing.T) {
	r, err := Evaluate([]int{0, 1}, []int{0, 0})
	require.NoError(t, err)
	var buf bytes.Buffer
	r.Render(&buf, []string{"happy", "sad"})
	out := buf.String()
	assert.Contains(t, out, "happy")
	assert.Contains(t, out, "PRECISION")
	assert.Contains(t, out, "0.6667")
}
