// Package dataset defines what the model consumes: conversation samples,
// the provider contract, mini-batching, and the missing-modality masks used
// to corrupt features.
package dataset

import (
	"fmt"
	"math/rand"

	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/mmgat/mmgat/pkg/graph"
)

// Sample is one conversation: a graph over its utterances plus per-node
// features and labels. Text, Audio and Vision are the corrupted copies fed to
// the model; OText, OAudio and OVision are the originals used as
// reconstruction targets. A label equal to the provider's class count marks
// a node excluded from loss and metrics.
type Sample struct {
	Graph   *graph.Graph
	Text    *autodiff.Matrix
	Audio   *autodiff.Matrix
	Vision  *autodiff.Matrix
	OText   *autodiff.Matrix
	OAudio  *autodiff.Matrix
	OVision *autodiff.Matrix
	Labels  []int
}

// NumNodes returns the number of utterances.
func (s *Sample) NumNodes() int { return len(s.Labels) }

// Validate checks that every node attribute has one row per node.
func (s *Sample) Validate() error {
	if s.Graph == nil {
		return fmt.Errorf("sample has no graph")
	}
	n := s.NumNodes()
	if s.Graph.NumNodes() != n {
		return fmt.Errorf("%w: graph has %d nodes, sample has %d labels", autodiff.ErrShape, s.Graph.NumNodes(), n)
	}
	for name, m := range map[string]*autodiff.Matrix{
		"text": s.Text, "audio": s.Audio, "vision": s.Vision,
		"oText": s.OText, "oAudio": s.OAudio, "oVision": s.OVision,
	} {
		if m == nil {
			return fmt.Errorf("sample is missing %s features", name)
		}
		if m.Rows != n {
			return fmt.Errorf("%w: %s has %d rows for %d nodes", autodiff.ErrShape, name, m.Rows, n)
		}
	}
	if s.Text.Cols != s.OText.Cols || s.Audio.Cols != s.OAudio.Cols || s.Vision.Cols != s.OVision.Cols {
		return fmt.Errorf("%w: corrupted and original feature widths differ", autodiff.ErrShape)
	}
	return nil
}

// Provider supplies the train and test conversations of a dataset.
type Provider interface {
	Train() []*Sample
	Test() []*Sample
	// NumClasses is the number of emotion classes; it doubles as the
	// sentinel label.
	NumClasses() int
}

// Batch is several conversations merged into one disjoint graph. Node rows
// are conversation-major: node c·ConversationLength+t is utterance t of
// conversation c.
type Batch struct {
	Graph              *graph.Graph
	Text               *autodiff.Matrix
	Audio              *autodiff.Matrix
	Vision             *autodiff.Matrix
	OText              *autodiff.Matrix
	OAudio             *autodiff.Matrix
	OVision            *autodiff.Matrix
	Labels             []int
	NumConversations   int
	ConversationLength int
}

// NumNodes returns the number of utterances in the batch.
func (b *Batch) NumNodes() int { return len(b.Labels) }

// Collate merges samples of equal length into a batch.
func Collate(samples []*Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("collate needs at least one sample")
	}
	length := samples[0].NumNodes()
	graphs := make([]*graph.Graph, len(samples))
	for i, s := range samples {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if s.NumNodes() != length {
			return nil, fmt.Errorf("%w: sample %d has %d utterances, want %d", autodiff.ErrShape, i, s.NumNodes(), length)
		}
		graphs[i] = s.Graph
	}
	merged, _, err := graph.Batch(graphs...)
	if err != nil {
		return nil, err
	}

	b := &Batch{Graph: merged, NumConversations: len(samples), ConversationLength: length}
	stack := func(pick func(*Sample) *autodiff.Matrix) (*autodiff.Matrix, error) {
		parts := make([]*autodiff.Matrix, len(samples))
		for i, s := range samples {
			parts[i] = pick(s)
		}
		return stackRows(parts)
	}
	fields := []struct {
		dst  **autodiff.Matrix
		pick func(*Sample) *autodiff.Matrix
	}{
		{&b.Text, func(s *Sample) *autodiff.Matrix { return s.Text }},
		{&b.Audio, func(s *Sample) *autodiff.Matrix { return s.Audio }},
		{&b.Vision, func(s *Sample) *autodiff.Matrix { return s.Vision }},
		{&b.OText, func(s *Sample) *autodiff.Matrix { return s.OText }},
		{&b.OAudio, func(s *Sample) *autodiff.Matrix { return s.OAudio }},
		{&b.OVision, func(s *Sample) *autodiff.Matrix { return s.OVision }},
	}
	for _, f := range fields {
		m, err := stack(f.pick)
		if err != nil {
			return nil, err
		}
		*f.dst = m
	}
	for _, s := range samples {
		b.Labels = append(b.Labels, s.Labels...)
	}
	return b, nil
}

func stackRows(parts []*autodiff.Matrix) (*autodiff.Matrix, error) {
	rows, cols := 0, parts[0].Cols
	for i, p := range parts {
		if p.Cols != cols {
			return nil, fmt.Errorf("%w: sample %d has %d feature columns, want %d", autodiff.ErrShape, i, p.Cols, cols)
		}
		rows += p.Rows
	}
	data := make([]float64, 0, rows*cols)
	for _, p := range parts {
		data = append(data, p.Data...)
	}
	return autodiff.NewMatrixFromSlice(data, rows, cols)
}

// Loader splits samples into mini-batches.
type Loader struct {
	samples   []*Sample
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader returns a loader. When shuffle is set, every call to Batches
// draws a new order from rng.
func NewLoader(samples []*Sample, batchSize int, shuffle bool, rng *rand.Rand) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("shuffling loader needs a random source")
	}
	return &Loader{samples: samples, batchSize: batchSize, shuffle: shuffle, rng: rng}, nil
}

// Len returns the number of batches per pass.
func (l *Loader) Len() int {
	return (len(l.samples) + l.batchSize - 1) / l.batchSize
}

// Batches returns one pass over the samples. The last batch may be short.
func (l *Loader) Batches() ([]*Batch, error) {
	order := make([]int, len(l.samples))
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	batches := make([]*Batch, 0, l.Len())
	for start := 0; start < len(order); start += l.batchSize {
		end := min(start+l.batchSize, len(order))
		chunk := make([]*Sample, 0, end-start)
		for _, i := range order[start:end] {
			chunk = append(chunk, l.samples[i])
		}
		b, err := Collate(chunk)
		if err != nil {
			return nil, fmt.Errorf("batch at %d: %w", start, err)
		}
		batches = append(batches, b)
	}
	return batches, nil
}
