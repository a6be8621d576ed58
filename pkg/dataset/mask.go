package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/mmgat/mmgat/pkg/autodiff"
)

// ErrMaskNotConverged is returned when no mask within tolerance of the target
// missing rate was drawn in the allowed number of attempts.
var ErrMaskNotConverged = errors.New("mask generation failed to converge")

// DefaultMaskAttempts bounds the retry loop of GenerateMask.
const DefaultMaskAttempts = 1000

// MaskOptions configures GenerateMask.
type MaskOptions struct {
	MaxAttempts int
}

// MaskTolerance is the accepted distance between the empirical and the target
// missing rate: 0.5/√(rows·cols) clamped to [0.01, 0.05], widened to half the
// rate step 1/(rows·cols) so the nearest reachable rate always qualifies.
func MaskTolerance(rows, cols int) float64 {
	n := float64(rows * cols)
	tol := math.Max(0.01, math.Min(0.05, 0.5/math.Sqrt(n)))
	return math.Max(tol, 0.5/n)
}

// MissingRate returns the fraction of zero entries of mask.
func MissingRate(mask *autodiff.Matrix) float64 {
	missing := 0
	for _, v := range mask.Data {
		if v == 0 {
			missing++
		}
	}
	return float64(missing) / float64(len(mask.Data))
}

// GenerateMask draws a rows x cols mask (1 present, 0 missing) whose missing
// rate is within MaskTolerance of percent/100. Every entry is dropped
// independently; draws outside the tolerance are retried.
func GenerateMask(rng *rand.Rand, rows, cols, percent int, opts MaskOptions) (*autodiff.Matrix, error) {
	if percent < 0 || percent > 100 {
		return nil, fmt.Errorf("missing percentage must be in [0, 100], got %d", percent)
	}
	mask, err := autodiff.NewMatrix(rows, cols)
	if err != nil {
		return nil, err
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaskAttempts
	}
	target := float64(percent) / 100
	tol := MaskTolerance(rows, cols)

	for attempt := 0; attempt < attempts; attempt++ {
		for i := range mask.Data {
			mask.Data[i] = 1
			if rng.Float64() < target {
				mask.Data[i] = 0
			}
		}
		if math.Abs(MissingRate(mask)-target) <= tol+1e-12 {
			return mask, nil
		}
	}
	return nil, fmt.Errorf("%w: %d%% missing over %dx%d entries after %d attempts (tolerance %.3f)",
		ErrMaskNotConverged, percent, rows, cols, attempts, tol)
}

// ApplyMask zeroes the corrupted modality rows of s that mask marks missing.
// Row offset+i of mask applies to node i; columns are text, audio, vision.
func ApplyMask(s *Sample, mask *autodiff.Matrix, offset int) error {
	if mask.Cols != 3 {
		return fmt.Errorf("%w: mask needs 3 modality columns, got %d", autodiff.ErrShape, mask.Cols)
	}
	if offset < 0 || offset+s.NumNodes() > mask.Rows {
		return fmt.Errorf("%w: mask rows [%d, %d) out of range for %d rows", autodiff.ErrShape, offset, offset+s.NumNodes(), mask.Rows)
	}
	feats := []*autodiff.Matrix{s.Text, s.Audio, s.Vision}
	for i := 0; i < s.NumNodes(); i++ {
		for m, f := range feats {
			if mask.At(offset+i, m) == 0 {
				clear(f.Row(i))
			}
		}
	}
	return nil
}
