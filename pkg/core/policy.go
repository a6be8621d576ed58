// Package core holds the run configuration shared by every component: the
// configuration value itself, its closed policy enumerations and the
// configuration errors.
package core

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrPolicyNotImplemented is returned when a declared but unimplemented
	// feature-estimation policy is selected.
	ErrPolicyNotImplemented = errors.New("feature estimation policy not implemented")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// FeatureEstimate selects how corrupted modality features are repaired.
type FeatureEstimate int

const (
	// EstimateGraph repairs features with a graph convolution and a decoder,
	// averaged with the corrupted input.
	EstimateGraph FeatureEstimate = iota
	// EstimateZero passes corrupted features through unchanged.
	EstimateZero
	// EstimateMean fills missing features with a mean. Not implemented.
	EstimateMean
)

func (f FeatureEstimate) String() string {
	switch f {
	case EstimateGraph:
		return "FE"
	case EstimateZero:
		return "Zero"
	case EstimateMean:
		return "Mean"
	}
	return fmt.Sprintf("FeatureEstimate(%d)", int(f))
}

// ParseFeatureEstimate accepts FE, Zero and Mean, case-insensitively.
func ParseFeatureEstimate(s string) (FeatureEstimate, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fe":
		return EstimateGraph, nil
	case "zero":
		return EstimateZero, nil
	case "mean":
		return EstimateMean, nil
	}
	return 0, fmt.Errorf("%w: unknown feature estimate %q (want FE, Zero or Mean)", ErrInvalidConfig, s)
}

func (f FeatureEstimate) MarshalYAML() (interface{}, error) { return f.String(), nil }

func (f *FeatureEstimate) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseFeatureEstimate(value.Value)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ReconstructionLoss selects the auxiliary term added to cross-entropy.
type ReconstructionLoss int

const (
	// LossNone trains on cross-entropy alone.
	LossNone ReconstructionLoss = iota
	// LossMSE adds the mean squared error between the imputed and the
	// original fused features.
	LossMSE
	// LossKL adds the KL-sparsity penalty on the first graph layer. It only
	// applies when a sparsity target is set.
	LossKL
)

func (r ReconstructionLoss) String() string {
	switch r {
	case LossNone:
		return "none"
	case LossMSE:
		return "mse"
	case LossKL:
		return "kl"
	}
	return fmt.Sprintf("ReconstructionLoss(%d)", int(r))
}

// ParseReconstructionLoss accepts mse, kl and none.
func ParseReconstructionLoss(s string) (ReconstructionLoss, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return LossNone, nil
	case "mse":
		return LossMSE, nil
	case "kl":
		return LossKL, nil
	}
	return 0, fmt.Errorf("%w: unknown reconstruction loss %q (want mse, kl or none)", ErrInvalidConfig, s)
}

func (r ReconstructionLoss) MarshalYAML() (interface{}, error) { return r.String(), nil }

func (r *ReconstructionLoss) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseReconstructionLoss(value.Value)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
