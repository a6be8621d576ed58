package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/mmgat/mmgat/pkg/autodiff"
)

// lstmCell holds the weights of one direction. Gate columns are ordered
// input, forget, cell, output.
type lstmCell struct {
	Wih  *autodiff.Tensor // in x 4H
	Whh  *autodiff.Tensor // H x 4H
	Bias *autodiff.Tensor // 1 x 4H
}

func newLSTMCell(name string, in, hidden int) (*lstmCell, error) {
	wih, err := autodiff.NewParameter(name+".weight_ih", in, 4*hidden)
	if err != nil {
		return nil, err
	}
	whh, err := autodiff.NewParameter(name+".weight_hh", hidden, 4*hidden)
	if err != nil {
		return nil, err
	}
	bias, err := autodiff.NewParameter(name+".bias", 1, 4*hidden)
	if err != nil {
		return nil, err
	}
	return &lstmCell{Wih: wih, Whh: whh, Bias: bias}, nil
}

// step advances the cell one timestep for a batch of sequences.
func (c *lstmCell) step(x, h, cell *autodiff.Tensor, hidden int) (*autodiff.Tensor, *autodiff.Tensor, error) {
	xw, err := autodiff.MatMul(x, c.Wih)
	if err != nil {
		return nil, nil, err
	}
	hw, err := autodiff.MatMul(h, c.Whh)
	if err != nil {
		return nil, nil, err
	}
	gates, err := autodiff.Add(xw, hw)
	if err != nil {
		return nil, nil, err
	}
	if gates, err = autodiff.AddRowVector(gates, c.Bias); err != nil {
		return nil, nil, err
	}

	gate := func(k int, act func(*autodiff.Tensor) (*autodiff.Tensor, error)) (*autodiff.Tensor, error) {
		s, err := autodiff.SliceCols(gates, k*hidden, (k+1)*hidden)
		if err != nil {
			return nil, err
		}
		return act(s)
	}
	i, err := gate(0, autodiff.Sigmoid)
	if err != nil {
		return nil, nil, err
	}
	f, err := gate(1, autodiff.Sigmoid)
	if err != nil {
		return nil, nil, err
	}
	g, err := gate(2, autodiff.Tanh)
	if err != nil {
		return nil, nil, err
	}
	o, err := gate(3, autodiff.Sigmoid)
	if err != nil {
		return nil, nil, err
	}

	keep, err := autodiff.Multiply(f, cell)
	if err != nil {
		return nil, nil, err
	}
	write, err := autodiff.Multiply(i, g)
	if err != nil {
		return nil, nil, err
	}
	nextCell, err := autodiff.Add(keep, write)
	if err != nil {
		return nil, nil, err
	}
	squashed, err := autodiff.Tanh(nextCell)
	if err != nil {
		return nil, nil, err
	}
	nextH, err := autodiff.Multiply(o, squashed)
	if err != nil {
		return nil, nil, err
	}
	return nextH, nextCell, nil
}

// BiLSTM is a single-layer bidirectional LSTM over fixed-length sequences.
type BiLSTM struct {
	Name   string
	In     int
	Hidden int

	fwd *lstmCell
	rev *lstmCell
}

// NewBiLSTM creates a bidirectional LSTM whose output is 2·hidden wide.
func NewBiLSTM(name string, in, hidden int) (*BiLSTM, error) {
	if in <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("lstm %s: invalid dimensions in=%d hidden=%d", name, in, hidden)
	}
	fwd, err := newLSTMCell(name+".forward", in, hidden)
	if err != nil {
		return nil, fmt.Errorf("lstm %s: %w", name, err)
	}
	rev, err := newLSTMCell(name+".reverse", in, hidden)
	if err != nil {
		return nil, fmt.Errorf("lstm %s: %w", name, err)
	}
	return &BiLSTM{Name: name, In: in, Hidden: hidden, fwd: fwd, rev: rev}, nil
}

// OutDim returns the width of every output row.
func (l *BiLSTM) OutDim() int { return 2 * l.Hidden }

// Forward runs both directions over x, whose rows hold numSeqs sequences of
// seqLen steps laid out sequence-major (row s·seqLen+t is step t of sequence
// s). Row r of the result is the concatenated forward and reverse hidden state
// for input row r.
func (l *BiLSTM) Forward(x *autodiff.Tensor, numSeqs, seqLen int) (*autodiff.Tensor, error) {
	if x.Data.Cols != l.In {
		return nil, fmt.Errorf("lstm %s: %w: input width %d, want %d", l.Name, autodiff.ErrShape, x.Data.Cols, l.In)
	}
	if numSeqs <= 0 || seqLen <= 0 || x.Data.Rows != numSeqs*seqLen {
		return nil, fmt.Errorf("lstm %s: %w: %d rows do not hold %d sequences of length %d",
			l.Name, autodiff.ErrShape, x.Data.Rows, numSeqs, seqLen)
	}

	steps := make([]*autodiff.Tensor, seqLen)
	for t := 0; t < seqLen; t++ {
		idx := make([]int, numSeqs)
		for s := range idx {
			idx[s] = s*seqLen + t
		}
		xt, err := autodiff.GatherRows(x, idx)
		if err != nil {
			return nil, err
		}
		steps[t] = xt
	}

	run := func(cell *lstmCell, reverse bool) ([]*autodiff.Tensor, error) {
		h := autodiff.Constant(autodiff.MustNewMatrix(numSeqs, l.Hidden), "h0")
		c := autodiff.Constant(autodiff.MustNewMatrix(numSeqs, l.Hidden), "c0")
		out := make([]*autodiff.Tensor, seqLen)
		for k := 0; k < seqLen; k++ {
			t := k
			if reverse {
				t = seqLen - 1 - k
			}
			var err error
			if h, c, err = cell.step(steps[t], h, c, l.Hidden); err != nil {
				return nil, fmt.Errorf("lstm %s step %d: %w", l.Name, t, err)
			}
			out[t] = h
		}
		return out, nil
	}
	fwdOut, err := run(l.fwd, false)
	if err != nil {
		return nil, err
	}
	revOut, err := run(l.rev, true)
	if err != nil {
		return nil, err
	}

	// Stack timestep-major, then permute back to the input row order.
	byStep := make([]*autodiff.Tensor, seqLen)
	for t := range byStep {
		if byStep[t], err = autodiff.ConcatCols(fwdOut[t], revOut[t]); err != nil {
			return nil, err
		}
	}
	stacked, err := autodiff.ConcatRows(byStep...)
	if err != nil {
		return nil, err
	}
	perm := make([]int, numSeqs*seqLen)
	for s := 0; s < numSeqs; s++ {
		for t := 0; t < seqLen; t++ {
			perm[s*seqLen+t] = t*numSeqs + s
		}
	}
	return autodiff.GatherRows(stacked, perm)
}

// Reset draws every weight and bias from U(±1/√hidden).
func (l *BiLSTM) Reset(rng *rand.Rand) {
	bound := 1 / math.Sqrt(float64(l.Hidden))
	for _, cell := range []*lstmCell{l.fwd, l.rev} {
		autodiff.Uniform(cell.Wih.Data, bound, rng)
		autodiff.Uniform(cell.Whh.Data, bound, rng)
		autodiff.Uniform(cell.Bias.Data, bound, rng)
	}
}

// GetParameters returns the weights of both directions.
func (l *BiLSTM) GetParameters() map[string]*autodiff.Tensor {
	return map[string]*autodiff.Tensor{
		"forward.weight_ih": l.fwd.Wih,
		"forward.weight_hh": l.fwd.Whh,
		"forward.bias":      l.fwd.Bias,
		"reverse.weight_ih": l.rev.Wih,
		"reverse.weight_hh": l.rev.Whh,
		"reverse.bias":      l.rev.Bias,
	}
}
