// Package attention implements the modality-aware attention layers: a
// single-modality outer-product attention unit, the per-modality layer that
// runs one unit per slice of a fused feature vector, the cross-modal layer
// that pairs queries of one modality with keys and values of another, and the
// multi-head wrapper around both.
package attention

import (
	"errors"
	"fmt"
)

// ErrUnsupportedWidth is returned when a feature vector width matches no
// known modality layout.
var ErrUnsupportedWidth = errors.New("unsupported feature width")

// Modality identifies one feature channel of an utterance.
type Modality int

const (
	Text Modality = iota
	Audio
	Video
)

// Modalities lists the channels in feature-vector order.
var Modalities = []Modality{Text, Audio, Video}

func (m Modality) String() string {
	switch m {
	case Text:
		return "text"
	case Audio:
		return "audio"
	case Video:
		return "video"
	}
	return fmt.Sprintf("Modality(%d)", int(m))
}

// Profile is the layout of a fused feature vector: text occupies [0, TT),
// audio [TT, AA) and video [AA, VV), with VV equal to the full width.
type Profile struct {
	Name string
	TT   int
	AA   int
	VV   int
}

var (
	// Fused192 is the layout of three concatenated 64-wide encoder outputs.
	Fused192 = Profile{Name: "fused192", TT: 64, AA: 128, VV: 192}
	// Raw1247 is the layout of raw 600/342/305-wide modality features.
	Raw1247 = Profile{Name: "raw1247", TT: 600, AA: 942, VV: 1247}
	// Raw2029 is the layout of raw 100/342/1587-wide modality features.
	Raw2029 = Profile{Name: "raw2029", TT: 100, AA: 442, VV: 2029}
)

// Profiles lists every supported layout.
var Profiles = []Profile{Fused192, Raw1247, Raw2029}

// ProfileForWidth returns the layout of a feature vector of the given width.
func ProfileForWidth(width int) (Profile, error) {
	for _, p := range Profiles {
		if p.VV == width {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %d (supported: 192, 1247, 2029)", ErrUnsupportedWidth, width)
}

// Width returns the full feature width.
func (p Profile) Width() int { return p.VV }

// Bounds returns the half-open column range of modality m.
func (p Profile) Bounds(m Modality) (from, to int) {
	switch m {
	case Text:
		return 0, p.TT
	case Audio:
		return p.TT, p.AA
	default:
		return p.AA, p.VV
	}
}

// SliceWidth returns the number of columns of modality m.
func (p Profile) SliceWidth(m Modality) int {
	from, to := p.Bounds(m)
	return to - from
}

// Validate checks that the three slices are non-empty and partition the
// full width.
func (p Profile) Validate() error {
	if p.TT <= 0 || p.AA <= p.TT || p.VV <= p.AA {
		return fmt.Errorf("%w: profile %s has offsets %d/%d/%d", ErrUnsupportedWidth, p.Name, p.TT, p.AA, p.VV)
	}
	return nil
}
