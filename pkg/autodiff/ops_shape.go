package autodiff

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ConcatCols concatenates tensors with equal row counts along the column axis.
func ConcatCols(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("concat needs at least one tensor")
	}
	if err := checkNil(ts...); err != nil {
		return nil, err
	}
	rows, cols := ts[0].Data.Rows, 0
	offsets := make([]int, len(ts))
	for i, t := range ts {
		if t.Data.Rows != rows {
			return nil, fmt.Errorf("%w: concat row mismatch: tensor %d has %d rows, want %d", ErrShape, i, t.Data.Rows, rows)
		}
		offsets[i] = cols
		cols += t.Data.Cols
	}

	result, err := newResult(rows, cols, "concat_cols_result", ts...)
	if err != nil {
		return nil, err
	}
	for r := 0; r < rows; r++ {
		dst := result.Data.Row(r)
		for i, t := range ts {
			copy(dst[offsets[i]:], t.Data.Row(r))
		}
	}

	if result.Requires {
		result.BackwardFn = func() {
			for r := 0; r < rows; r++ {
				g := result.Grad.Row(r)
				for i, t := range ts {
					if !t.Requires {
						continue
					}
					floats.Add(t.Grad.Row(r), g[offsets[i]:offsets[i]+t.Data.Cols])
				}
			}
		}
	}
	return result, nil
}

// SliceCols returns columns [from, to) of a.
func SliceCols(a *Tensor, from, to int) (*Tensor, error) {
	if err := checkNil(a); err != nil {
		return nil, err
	}
	if from < 0 || to > a.Data.Cols || from >= to {
		return nil, fmt.Errorf("%w: column slice [%d, %d) out of range for %d columns", ErrShape, from, to, a.Data.Cols)
	}

	result, err := newResult(a.Data.Rows, to-from, "slice_cols_result", a)
	if err != nil {
		return nil, err
	}
	for r := 0; r < a.Data.Rows; r++ {
		copy(result.Data.Row(r), a.Data.Row(r)[from:to])
	}

	if result.Requires {
		result.BackwardFn = func() {
			for r := 0; r < a.Data.Rows; r++ {
				floats.Add(a.Grad.Row(r)[from:to], result.Grad.Row(r))
			}
		}
	}
	return result, nil
}

// ConcatRows stacks tensors with equal column counts along the row axis.
func ConcatRows(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("concat needs at least one tensor")
	}
	if err := checkNil(ts...); err != nil {
		return nil, err
	}
	rows, cols := 0, ts[0].Data.Cols
	offsets := make([]int, len(ts))
	for i, t := range ts {
		if t.Data.Cols != cols {
			return nil, fmt.Errorf("%w: concat column mismatch: tensor %d has %d columns, want %d", ErrShape, i, t.Data.Cols, cols)
		}
		offsets[i] = rows * cols
		rows += t.Data.Rows
	}

	result, err := newResult(rows, cols, "concat_rows_result", ts...)
	if err != nil {
		return nil, err
	}
	for i, t := range ts {
		copy(result.Data.Data[offsets[i]:], t.Data.Data)
	}

	if result.Requires {
		result.BackwardFn = func() {
			for i, t := range ts {
				if t.Requires {
					floats.Add(t.Grad.Data, result.Grad.Data[offsets[i]:offsets[i]+len(t.Data.Data)])
				}
			}
		}
	}
	return result, nil
}

// GatherRows returns the rows of a selected by idx, in order. Indices may repeat.
func GatherRows(a *Tensor, idx []int) (*Tensor, error) {
	if err := checkNil(a); err != nil {
		return nil, err
	}
	for _, i := range idx {
		if i < 0 || i >= a.Data.Rows {
			return nil, fmt.Errorf("%w: row index %d out of range for %d rows", ErrShape, i, a.Data.Rows)
		}
	}

	result, err := newResult(len(idx), a.Data.Cols, "gather_rows_result", a)
	if err != nil {
		return nil, err
	}
	for r, i := range idx {
		copy(result.Data.Row(r), a.Data.Row(i))
	}

	if result.Requires {
		result.BackwardFn = func() {
			for r, i := range idx {
				floats.Add(a.Grad.Row(i), result.Grad.Row(r))
			}
		}
	}
	return result, nil
}

// ScatterAddRows sums row r of a into row idx[r] of an n-row result.
func ScatterAddRows(a *Tensor, idx []int, n int) (*Tensor, error) {
	if err := checkNil(a); err != nil {
		return nil, err
	}
	if len(idx) != a.Data.Rows {
		return nil, fmt.Errorf("%w: %d scatter indices for %d rows", ErrShape, len(idx), a.Data.Rows)
	}
	for _, i := range idx {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("%w: scatter index %d out of range for %d rows", ErrShape, i, n)
		}
	}

	result, err := newResult(n, a.Data.Cols, "scatter_add_rows_result", a)
	if err != nil {
		return nil, err
	}
	for r, i := range idx {
		floats.Add(result.Data.Row(i), a.Data.Row(r))
	}

	if result.Requires {
		result.BackwardFn = func() {
			for r, i := range idx {
				floats.Add(a.Grad.Row(r), result.Grad.Row(i))
			}
		}
	}
	return result, nil
}
