package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mmgat/mmgat/pkg/core"
	"github.com/mmgat/mmgat/pkg/dataset"
	"github.com/mmgat/mmgat/pkg/graph"
	"github.com/mmgat/mmgat/pkg/training"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var trainFlags struct {
	epochs             int
	lr                 float64
	weightDecay        float64
	missing            int
	numTest            int
	batchSize          int
	numLabel           int
	featureEstimate    string
	crossModal         bool
	usingGAT           bool
	reconstructionLoss string
	rho                float64
	seed               string
	edgeType           string
	output             string
	log                bool
	dataSeed           int64
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run training trials on the synthetic conversations",
	Long: `Run num-test trials. Each trial seeds a fresh model from the seed list
(or the fixed --seed), trains it for the configured epochs and reports the
best and final weighted F1 on the test conversations.

Examples:
  mmgat train --epochs 5 --num-test 1
  mmgat train --missing 40 --reconstruction-loss mse --using-gat --cross-modal
  mmgat train --config run.yaml --seed 42`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
	d := core.DefaultConfig()
	f := trainCmd.Flags()
	f.IntVar(&trainFlags.epochs, "epochs", d.Train.Epochs, "Number of epochs")
	f.Float64Var(&trainFlags.lr, "lr", d.Train.LearningRate, "Learning rate")
	f.Float64Var(&trainFlags.weightDecay, "weight-decay", d.Train.WeightDecay, "L2 weight decay")
	f.IntVar(&trainFlags.missing, "missing", d.Data.Missing, "Percentage of missing modality features")
	f.IntVar(&trainFlags.numTest, "num-test", d.Train.NumTrials, "Number of trials")
	f.IntVar(&trainFlags.batchSize, "batch-size", d.Train.BatchSize, "Conversations per batch")
	f.IntVar(&trainFlags.numLabel, "num-label", d.Data.NumLabels, "Number of emotion classes (4 or 6)")
	f.StringVar(&trainFlags.featureEstimate, "feature-estimate", d.Model.FeatureEstimate.String(), "Imputation policy: FE, Zero or Mean")
	f.BoolVar(&trainFlags.crossModal, "cross-modal", d.Model.CrossModal, "Add the cross-modal attention branch")
	f.BoolVar(&trainFlags.usingGAT, "using-gat", d.Model.UsingGAT, "Use the GATv2 stack instead of a dense layer")
	f.StringVar(&trainFlags.reconstructionLoss, "reconstruction-loss", d.Train.ReconstructionLoss.String(), "Auxiliary loss: mse, kl or none")
	f.Float64Var(&trainFlags.rho, "rho", d.Train.Rho, "KL-sparsity target, -1 disables the kl loss")
	f.StringVar(&trainFlags.seed, "seed", d.Train.Seed, "\"random\" for the seed list or a fixed integer")
	f.StringVar(&trainFlags.edgeType, "edge-type", d.Data.EdgeType.String(), "Graph edges: similarity (0) or temporal (1)")
	f.StringVar(&trainFlags.output, "output", d.Train.Output, "Result log file")
	f.BoolVar(&trainFlags.log, "log", d.Train.LogResults, "Append trial records to the result log")
	f.Int64Var(&trainFlags.dataSeed, "data-seed", 0, "Seed of the synthetic dataset")
}

// loadConfig reads --config when given and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (*core.Config, error) {
	cfg := core.DefaultConfig()
	if configPath != "" {
		loaded, err := core.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	set := func(name string, apply func() error) error {
		if !flags.Changed(name) {
			return nil
		}
		if err := apply(); err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
		return nil
	}
	steps := []struct {
		name  string
		apply func() error
	}{
		{"epochs", func() error { cfg.Train.Epochs = trainFlags.epochs; return nil }},
		{"lr", func() error { cfg.Train.LearningRate = trainFlags.lr; return nil }},
		{"weight-decay", func() error { cfg.Train.WeightDecay = trainFlags.weightDecay; return nil }},
		{"missing", func() error { cfg.Data.Missing = trainFlags.missing; return nil }},
		{"num-test", func() error { cfg.Train.NumTrials = trainFlags.numTest; return nil }},
		{"batch-size", func() error { cfg.Train.BatchSize = trainFlags.batchSize; return nil }},
		{"num-label", func() error { cfg.Data.NumLabels = trainFlags.numLabel; return nil }},
		{"cross-modal", func() error { cfg.Model.CrossModal = trainFlags.crossModal; return nil }},
		{"using-gat", func() error { cfg.Model.UsingGAT = trainFlags.usingGAT; return nil }},
		{"rho", func() error { cfg.Train.Rho = trainFlags.rho; return nil }},
		{"seed", func() error { cfg.Train.Seed = trainFlags.seed; return nil }},
		{"output", func() error { cfg.Train.Output = trainFlags.output; return nil }},
		{"log", func() error { cfg.Train.LogResults = trainFlags.log; return nil }},
		{"feature-estimate", func() (err error) {
			cfg.Model.FeatureEstimate, err = core.ParseFeatureEstimate(trainFlags.featureEstimate)
			return err
		}},
		{"reconstruction-loss", func() (err error) {
			cfg.Train.ReconstructionLoss, err = core.ParseReconstructionLoss(trainFlags.reconstructionLoss)
			return err
		}},
		{"edge-type", func() (err error) {
			cfg.Data.EdgeType, err = graph.ParseEdgeMode(trainFlags.edgeType)
			return err
		}},
	}
	for _, s := range steps {
		if err := set(s.name, s.apply); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// syntheticProvider generates the conversations described by cfg.
func syntheticProvider(cfg *core.Config, seed int64) (*dataset.Synthetic, error) {
	return dataset.NewSynthetic(dataset.SyntheticOptions{
		TrainConversations: cfg.Data.TrainConversations,
		TestConversations:  cfg.Data.TestConversations,
		ConversationLength: cfg.Data.ConversationLength,
		TextDim:            cfg.Model.TextDim,
		AudioDim:           cfg.Model.AudioDim,
		VisionDim:          cfg.Model.VisionDim,
		NumClasses:         cfg.Data.NumLabels,
		Missing:            cfg.Data.Missing,
		MaskMaxAttempts:    cfg.Data.MaskMaxAttempts,
		Edges:              cfg.EdgeOptions(),
		Seed:               seed,
	})
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("generating synthetic conversations",
		"train", cfg.Data.TrainConversations, "test", cfg.Data.TestConversations,
		"length", cfg.Data.ConversationLength, "missing", cfg.Data.Missing)
	provider, err := syntheticProvider(cfg, trainFlags.dataSeed)
	if err != nil {
		return err
	}

	opts := []training.Option{training.WithLogger(slog.Default())}
	if cfg.Train.LogResults {
		opts = append(opts, training.WithResultLog(training.NewResultLog(cfg.Train.Output)))
	}
	trainer, err := training.NewTrainer(cfg, provider, opts...)
	if err != nil {
		return err
	}
	results, err := trainer.Run(ctx)
	renderSummary(cmd.OutOrStdout(), results)
	renderLastReport(cmd.OutOrStdout(), results, cfg.ClassNames())
	return err
}

// renderLastReport prints the per-class test scores of the last trial.
func renderLastReport(w io.Writer, results []training.TrialResult, names []string) {
	if len(results) == 0 || results[len(results)-1].Report == nil {
		return
	}
	last := results[len(results)-1]
	fmt.Fprintf(w, "\nTrial %d test report\n", last.Trial)
	last.Report.Render(w, names)
}

// renderSummary prints one row per finished trial.
func renderSummary(w io.Writer, results []training.TrialResult) {
	if len(results) == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Trial", "Seed", "Best F1", "Final F1", "Duration", "Run"})
	best, final := 0.0, 0.0
	for _, r := range results {
		table.Append([]string{
			strconv.Itoa(r.Trial),
			strconv.FormatInt(r.Seed, 10),
			fmt.Sprintf("%.4f", r.BestF1),
			fmt.Sprintf("%.4f", r.FinalF1),
			r.Duration.Round(time.Millisecond).String(),
			r.RunID,
		})
		best += r.BestF1
		final += r.FinalF1
	}
	n := float64(len(results))
	table.SetFooter([]string{"mean", "", fmt.Sprintf("%.4f", best/n), fmt.Sprintf("%.4f", final/n), "", ""})
	table.Render()
}
