package graph

import (
	"fmt"
	"math"
	"strings"

	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/viterin/vek"
	"gopkg.in/yaml.v3"
)

// EdgeMode selects how utterances of a conversation are connected.
type EdgeMode int

const (
	// Similarity links utterances whose features are close in angle.
	Similarity EdgeMode = iota
	// Temporal links each utterance to its neighbours in a fixed window.
	Temporal
)

func (m EdgeMode) String() string {
	switch m {
	case Similarity:
		return "similarity"
	case Temporal:
		return "temporal"
	}
	return fmt.Sprintf("EdgeMode(%d)", int(m))
}

// ParseEdgeMode accepts the mode names and the numeric codes 0 and 1.
func ParseEdgeMode(s string) (EdgeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "similarity", "0":
		return Similarity, nil
	case "temporal", "1":
		return Temporal, nil
	}
	return 0, fmt.Errorf("unknown edge mode %q", s)
}

func (m EdgeMode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

func (m *EdgeMode) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseEdgeMode(value.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// BuildOptions configures Build.
type BuildOptions struct {
	Mode EdgeMode
	// Threshold is the minimum angular similarity for a Similarity edge.
	Threshold float64
	// Past and Future bound the Temporal window.
	Past, Future int
}

// DefaultBuildOptions builds similarity edges at an angular similarity
// threshold of 0.5, with a temporal window of two past and two future nodes.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{Mode: Similarity, Threshold: 0.5, Past: 2, Future: 2}
}

// Build creates the graph of one conversation from its feature rows and adds
// a self-loop to every node.
func Build(features *autodiff.Matrix, opts BuildOptions) (*Graph, error) {
	if features == nil {
		return nil, fmt.Errorf("features cannot be nil")
	}
	var (
		g   *Graph
		err error
	)
	switch opts.Mode {
	case Similarity:
		g, err = SimilarityGraph(features, opts.Threshold)
	case Temporal:
		g, err = TemporalGraph(features.Rows, opts.Past, opts.Future)
	default:
		return nil, fmt.Errorf("unknown edge mode %v", opts.Mode)
	}
	if err != nil {
		return nil, err
	}
	g.AddSelfLoops()
	return g, nil
}

// AngularSimilarity returns 1 - acos(cos(a, b))/π, which lies in [0, 1].
func AngularSimilarity(a, b []float64) float64 {
	const eps = 1e-6
	norm := math.Sqrt(vek.Dot(a, a)) * math.Sqrt(vek.Dot(b, b))
	cos := vek.Dot(a, b) / math.Max(norm, eps)
	cos = math.Max(-1, math.Min(1, cos))
	return 1 - math.Acos(cos)/math.Pi
}

// SimilarityGraph links i -> j for every ordered pair i != j whose rows have
// angular similarity of at least threshold.
func SimilarityGraph(features *autodiff.Matrix, threshold float64) (*Graph, error) {
	g, err := New(features.Rows)
	if err != nil {
		return nil, err
	}
	for i := 0; i < features.Rows; i++ {
		for j := i + 1; j < features.Rows; j++ {
			if AngularSimilarity(features.Row(i), features.Row(j)) < threshold {
				continue
			}
			if err := g.AddEdge(i, j); err != nil {
				return nil, err
			}
			if err := g.AddEdge(j, i); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// TemporalGraph links every utterance j in [i-past, i+future] to i.
func TemporalGraph(n, past, future int) (*Graph, error) {
	if past < 0 || future < 0 {
		return nil, fmt.Errorf("temporal window must be non-negative, got past=%d future=%d", past, future)
	}
	g, err := New(n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		for j := max(0, i-past); j <= min(n-1, i+future); j++ {
			if j == i {
				continue
			}
			if err := g.AddEdge(j, i); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}
