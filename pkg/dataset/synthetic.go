package dataset

import (
	"fmt"
	"math/rand"

	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/mmgat/mmgat/pkg/graph"
)

// SyntheticOptions describes a generated dataset.
type SyntheticOptions struct {
	TrainConversations int
	TestConversations  int
	// ConversationLength is the padded node count of every conversation;
	// each conversation holds between half of it and all of it real
	// utterances.
	ConversationLength int
	TextDim            int
	AudioDim           int
	VisionDim          int
	NumClasses         int
	Missing            int
	MaskMaxAttempts    int
	// Noise is the standard deviation added around each class prototype.
	Noise float64
	Edges graph.BuildOptions
	Seed  int64
}

// Synthetic is a deterministic Provider: utterance features are noisy
// per-class prototypes, padding nodes carry zero features and the sentinel
// label, and a Missing-percent mask corrupts the model-facing copies.
type Synthetic struct {
	opts  SyntheticOptions
	train []*Sample
	test  []*Sample
}

// NewSynthetic generates the train and test sets.
func NewSynthetic(opts SyntheticOptions) (*Synthetic, error) {
	if opts.ConversationLength <= 0 || opts.NumClasses <= 0 {
		return nil, fmt.Errorf("synthetic data needs positive length and class count, got %d/%d",
			opts.ConversationLength, opts.NumClasses)
	}
	if opts.TextDim <= 0 || opts.AudioDim <= 0 || opts.VisionDim <= 0 {
		return nil, fmt.Errorf("synthetic data needs positive widths, got %d/%d/%d", opts.TextDim, opts.AudioDim, opts.VisionDim)
	}
	if opts.Noise == 0 {
		opts.Noise = 0.5
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	dims := [3]int{opts.TextDim, opts.AudioDim, opts.VisionDim}
	var protos [3][][]float64
	for m, d := range dims {
		protos[m] = make([][]float64, opts.NumClasses)
		for c := range protos[m] {
			protos[m][c] = make([]float64, d)
			for i := range protos[m][c] {
				protos[m][c][i] = rng.NormFloat64()
			}
		}
	}

	s := &Synthetic{opts: opts}
	var err error
	if s.train, err = s.generate(rng, protos, opts.TrainConversations); err != nil {
		return nil, fmt.Errorf("train split: %w", err)
	}
	if s.test, err = s.generate(rng, protos, opts.TestConversations); err != nil {
		return nil, fmt.Errorf("test split: %w", err)
	}
	return s, nil
}

// Train implements Provider.
func (s *Synthetic) Train() []*Sample { return s.train }

// Test implements Provider.
func (s *Synthetic) Test() []*Sample { return s.test }

// NumClasses implements Provider.
func (s *Synthetic) NumClasses() int { return s.opts.NumClasses }

func (s *Synthetic) generate(rng *rand.Rand, protos [3][][]float64, count int) ([]*Sample, error) {
	length := s.opts.ConversationLength
	samples := make([]*Sample, count)
	spoken := make([]int, count)
	total := 0
	for c := range samples {
		spoken[c] = length - rng.Intn(length/2+1)
		total += spoken[c]
		sample, err := s.conversation(rng, protos, spoken[c])
		if err != nil {
			return nil, fmt.Errorf("conversation %d: %w", c, err)
		}
		samples[c] = sample
	}
	if count == 0 {
		return samples, nil
	}

	// One mask over all real utterances of the split, so the missing rate
	// holds for the split rather than per conversation.
	mask, err := GenerateMask(rng, total, 3, s.opts.Missing, MaskOptions{MaxAttempts: s.opts.MaskMaxAttempts})
	if err != nil {
		return nil, err
	}
	offset := 0
	for c, sample := range samples {
		padded, err := autodiff.NewMatrix(length, 3)
		if err != nil {
			return nil, err
		}
		padded.Fill(1)
		for i := 0; i < spoken[c]; i++ {
			copy(padded.Row(i), mask.Row(offset+i))
		}
		if err := ApplyMask(sample, padded, 0); err != nil {
			return nil, err
		}
		offset += spoken[c]
	}
	return samples, nil
}

func (s *Synthetic) conversation(rng *rand.Rand, protos [3][][]float64, spoken int) (*Sample, error) {
	length := s.opts.ConversationLength
	dims := [3]int{s.opts.TextDim, s.opts.AudioDim, s.opts.VisionDim}
	var orig [3]*autodiff.Matrix
	for m, d := range dims {
		mat, err := autodiff.NewMatrix(length, d)
		if err != nil {
			return nil, err
		}
		orig[m] = mat
	}

	labels := make([]int, length)
	for i := range labels {
		if i >= spoken {
			labels[i] = s.opts.NumClasses
			continue
		}
		labels[i] = rng.Intn(s.opts.NumClasses)
		for m := range orig {
			row := orig[m].Row(i)
			for k, p := range protos[m][labels[i]] {
				row[k] = p + s.opts.Noise*rng.NormFloat64()
			}
		}
	}

	g, err := s.buildGraph(orig, spoken)
	if err != nil {
		return nil, err
	}
	return &Sample{
		Graph:   g,
		Text:    orig[0].Clone(),
		Audio:   orig[1].Clone(),
		Vision:  orig[2].Clone(),
		OText:   orig[0],
		OAudio:  orig[1],
		OVision: orig[2],
		Labels:  labels,
	}, nil
}

// buildGraph connects the real utterances; padding nodes only get self-loops.
func (s *Synthetic) buildGraph(orig [3]*autodiff.Matrix, spoken int) (*graph.Graph, error) {
	width := s.opts.TextDim + s.opts.AudioDim + s.opts.VisionDim
	feats, err := autodiff.NewMatrix(spoken, width)
	if err != nil {
		return nil, err
	}
	for i := 0; i < spoken; i++ {
		row := feats.Row(i)
		off := 0
		for _, m := range orig {
			off += copy(row[off:], m.Row(i))
		}
	}
	sub, err := graph.Build(feats, s.opts.Edges)
	if err != nil {
		return nil, err
	}

	g, err := graph.New(s.opts.ConversationLength)
	if err != nil {
		return nil, err
	}
	src, dst := sub.Edges()
	for i := range src {
		if err := g.AddEdge(src[i], dst[i]); err != nil {
			return nil, err
		}
	}
	g.AddSelfLoops()
	return g, nil
}
