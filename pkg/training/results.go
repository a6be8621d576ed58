package training

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mmgat/mmgat/pkg/core"
)

const banner = "**********"

// ResultLog appends trial records to a text file:
//
//	********** INFO **********
//	run=... trial=0 seed=1001 epochs=50 ...
//	Highest Acc: 0.61, final Acc 0.58
//	********** End **********
type ResultLog struct {
	mu   sync.Mutex
	path string
}

// NewResultLog returns a log appending to path. The file is created on the
// first write.
func NewResultLog(path string) *ResultLog {
	return &ResultLog{path: path}
}

// Path returns the file the log appends to.
func (r *ResultLog) Path() string { return r.path }

// WriteInfo starts a trial record with the run identity and configuration.
func (r *ResultLog) WriteInfo(runID string, trial int, seed int64, cfg *core.Config) error {
	return r.append(func(w io.Writer) error {
		tc, mc, dc := cfg.Train, cfg.Model, cfg.Data
		fields := []string{
			"run=" + runID,
			fmt.Sprintf("trial=%d", trial),
			fmt.Sprintf("seed=%d", seed),
			fmt.Sprintf("epochs=%d", tc.Epochs),
			fmt.Sprintf("lr=%g", tc.LearningRate),
			fmt.Sprintf("weight_decay=%g", tc.WeightDecay),
			fmt.Sprintf("missing=%d", dc.Missing),
			fmt.Sprintf("num_trials=%d", tc.NumTrials),
			fmt.Sprintf("num_label=%d", dc.NumLabels),
			fmt.Sprintf("reconstruction_loss=%s", tc.ReconstructionLoss),
			fmt.Sprintf("feature_estimate=%s", mc.FeatureEstimate),
			fmt.Sprintf("cross_modal=%t", mc.CrossModal),
			fmt.Sprintf("using_gat=%t", mc.UsingGAT),
			fmt.Sprintf("rho=%g", tc.Rho),
			fmt.Sprintf("edge_type=%s", dc.EdgeType),
		}
		_, err := fmt.Fprintf(w, "%s INFO %s\n%s\n", banner, banner, strings.Join(fields, " "))
		return err
	})
}

// WriteResult closes a trial record.
func (r *ResultLog) WriteResult(best, final float64) error {
	return r.append(func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Highest Acc: %v, final Acc %v\n%s End %s\n", best, final, banner, banner)
		return err
	})
}

func (r *ResultLog) append(write func(io.Writer) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("result log: %w", err)
		}
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("result log: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("result log: %w", err)
	}
	return f.Close()
}
