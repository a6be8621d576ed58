// Package model assembles the emotion classifier: modality encoders and a
// temporal BiLSTM, missing-feature imputation, a graph attention stack and an
// optional cross-modal attention branch.
package model

import (
	"fmt"
	"math/rand"

	"github.com/mmgat/mmgat/pkg/autodiff"
	"github.com/mmgat/mmgat/pkg/core"
	"github.com/mmgat/mmgat/pkg/layers"
)

// Fusion encodes each modality to a fixed width, concatenates the codes into
// the fused feature vector, and runs a BiLSTM over every conversation.
type Fusion struct {
	Text    *layers.Linear
	Audio   *layers.Linear
	Vision  *layers.Linear
	Dropout float64
	LSTM    *layers.BiLSTM
}

// NewFusion builds the encoders and the temporal LSTM.
func NewFusion(cfg core.ModelConfig) (*Fusion, error) {
	text, err := layers.NewLinear("fusion.text", cfg.TextDim, cfg.EncoderDim, true, layers.InitFanIn)
	if err != nil {
		return nil, err
	}
	audio, err := layers.NewLinear("fusion.audio", cfg.AudioDim, cfg.EncoderDim, true, layers.InitXavierUniform)
	if err != nil {
		return nil, err
	}
	vision, err := layers.NewLinear("fusion.vision", cfg.VisionDim, cfg.EncoderDim, true, layers.InitXavierUniform)
	if err != nil {
		return nil, err
	}
	lstm, err := layers.NewBiLSTM("fusion.lstm", 3*cfg.EncoderDim, cfg.FusionHidden)
	if err != nil {
		return nil, err
	}
	return &Fusion{Text: text, Audio: audio, Vision: vision, Dropout: cfg.EncoderDropout, LSTM: lstm}, nil
}

// Width is the width of the fused feature vector.
func (f *Fusion) Width() int { return f.Text.Out + f.Audio.Out + f.Vision.Out }

// Encode returns the fused [text | audio | vision] codes, one row per node.
func (f *Fusion) Encode(text, audio, vision *autodiff.Tensor, rng *rand.Rand, training bool) (*autodiff.Tensor, error) {
	codes := make([]*autodiff.Tensor, 3)
	for i, step := range []struct {
		enc *layers.Linear
		x   *autodiff.Tensor
	}{{f.Text, text}, {f.Audio, audio}, {f.Vision, vision}} {
		out, err := step.enc.Forward(step.x)
		if err != nil {
			return nil, err
		}
		if codes[i], err = autodiff.Dropout(out, f.Dropout, rng, training); err != nil {
			return nil, fmt.Errorf("%s dropout: %w", step.enc.Name, err)
		}
	}
	return autodiff.ConcatCols(codes...)
}

// Temporal runs the BiLSTM over fused rows laid out conversation-major.
func (f *Fusion) Temporal(fused *autodiff.Tensor, conversations, length int) (*autodiff.Tensor, error) {
	return f.LSTM.Forward(fused, conversations, length)
}

// Reset draws fresh encoder and LSTM weights.
func (f *Fusion) Reset(rng *rand.Rand) {
	f.Text.Reset(rng)
	f.Audio.Reset(rng)
	f.Vision.Reset(rng)
	f.LSTM.Reset(rng)
}

func (f *Fusion) GetParameters() map[string]*autodiff.Tensor {
	params := map[string]*autodiff.Tensor{}
	autodiff.MergeParameters(params, "text", f.Text.GetParameters())
	autodiff.MergeParameters(params, "audio", f.Audio.GetParameters())
	autodiff.MergeParameters(params, "vision", f.Vision.GetParameters())
	autodiff.MergeParameters(params, "lstm", f.LSTM.GetParameters())
	return params
}
