package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mmgat/mmgat/pkg/attention"
	"github.com/mmgat/mmgat/pkg/graph"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of a run. Components receive the
// sections they need at construction; nothing reads configuration from
// global state.
type Config struct {
	Train TrainConfig `yaml:"train"`
	Model ModelConfig `yaml:"model"`
	Data  DataConfig  `yaml:"data"`
}

// TrainConfig controls the trial and epoch loops.
type TrainConfig struct {
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"learning_rate"`
	WeightDecay  float64 `yaml:"weight_decay"`
	BatchSize    int     `yaml:"batch_size"`
	NumTrials    int     `yaml:"num_trials"`
	// Seed is "random" to walk the fixed seed list, or an integer used for
	// every trial.
	Seed               string             `yaml:"seed"`
	ReconstructionLoss ReconstructionLoss `yaml:"reconstruction_loss"`
	// Rho is the KL-sparsity target; -1 disables the KL term.
	Rho float64 `yaml:"rho"`
	// ReconstructionScale multiplies the missing percentage to weight the
	// auxiliary loss.
	ReconstructionScale float64 `yaml:"reconstruction_scale"`
	Output              string  `yaml:"output"`
	LogResults          bool    `yaml:"log_results"`
}

// ModelConfig fixes the architecture.
type ModelConfig struct {
	TextDim         int             `yaml:"text_dim"`
	AudioDim        int             `yaml:"audio_dim"`
	VisionDim       int             `yaml:"vision_dim"`
	EncoderDim      int             `yaml:"encoder_dim"`
	EncoderDropout  float64         `yaml:"encoder_dropout"`
	FusionHidden    int             `yaml:"fusion_hidden"`
	UsingGAT        bool            `yaml:"using_gat"`
	CrossModal      bool            `yaml:"cross_modal"`
	Heads           int             `yaml:"heads"`
	GATHidden       int             `yaml:"gat_hidden"`
	GATOut          int             `yaml:"gat_out"`
	LayerDropout    float64         `yaml:"layer_dropout"`
	FeatureEstimate FeatureEstimate `yaml:"feature_estimate"`
	Merge           attention.Merge `yaml:"merge"`
	// Probability records the sigmoid of the first graph layer for the
	// KL-sparsity loss.
	Probability bool `yaml:"probability"`
}

// DataConfig describes the samples handed to the model.
type DataConfig struct {
	Missing             int            `yaml:"missing"`
	NumLabels           int            `yaml:"num_labels"`
	ConversationLength  int            `yaml:"conversation_length"`
	EdgeType            graph.EdgeMode `yaml:"edge_type"`
	SimilarityThreshold float64        `yaml:"similarity_threshold"`
	WindowPast          int            `yaml:"window_past"`
	WindowFuture        int            `yaml:"window_future"`
	MaskMaxAttempts     int            `yaml:"mask_max_attempts"`
	TrainConversations  int            `yaml:"train_conversations"`
	TestConversations   int            `yaml:"test_conversations"`
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() *Config {
	return &Config{
		Train: TrainConfig{
			Epochs:              50,
			LearningRate:        0.003,
			WeightDecay:         1e-5,
			BatchSize:           64,
			NumTrials:           10,
			Seed:                SeedRandom,
			ReconstructionLoss:  LossNone,
			Rho:                 -1,
			ReconstructionScale: 0.01,
			Output:              "./log_v2.txt",
			LogResults:          true,
		},
		Model: ModelConfig{
			TextDim:         1024,
			AudioDim:        512,
			VisionDim:       1024,
			EncoderDim:      64,
			EncoderDropout:  0.5,
			FusionHidden:    8,
			Heads:           4,
			GATHidden:       32,
			GATOut:          4,
			LayerDropout:    0.75,
			FeatureEstimate: EstimateGraph,
			Merge:           attention.MergeConcat,
			Probability:     true,
		},
		Data: DataConfig{
			NumLabels:           6,
			ConversationLength:  120,
			EdgeType:            graph.Similarity,
			SimilarityThreshold: 0.5,
			WindowPast:          2,
			WindowFuture:        2,
			MaskMaxAttempts:     1000,
			TrainConversations:  96,
			TestConversations:   24,
		},
	}
}

// LoadConfig reads a YAML file over the defaults: keys missing from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
