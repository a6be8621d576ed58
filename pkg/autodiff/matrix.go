package autodiff

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrShape is returned when operand dimensions are incompatible.
var ErrShape = errors.New("shape mismatch")

// Matrix represents a dense row-major 2D matrix of float64 values.
// Data is shared with gonum views returned by Dense, so the two never diverge.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewMatrix creates a new zero matrix with the specified dimensions
func NewMatrix(rows, cols int) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: invalid matrix dimensions: rows=%d, cols=%d (must be positive)", ErrShape, rows, cols)
	}
	return &Matrix{
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
	}, nil
}

// MustNewMatrix creates a new matrix with the specified dimensions.
// Panics if dimensions are invalid (use in tests and fixed-size setup only)
func MustNewMatrix(rows, cols int) *Matrix {
	m, err := NewMatrix(rows, cols)
	if err != nil {
		panic(err)
	}
	return m
}

// NewMatrixFromSlice creates a matrix from a flat row-major slice. The slice is copied.
func NewMatrixFromSlice(data []float64, rows, cols int) (*Matrix, error) {
	if rows*cols != len(data) {
		return nil, fmt.Errorf("%w: %d*%d != %d", ErrShape, rows, cols, len(data))
	}
	m, err := NewMatrix(rows, cols)
	if err != nil {
		return nil, err
	}
	copy(m.Data, data)
	return m, nil
}

// NewMatrixFromRows creates a matrix from a slice of equal-length rows.
func NewMatrixFromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrShape)
	}
	m, err := NewMatrix(len(rows), len(rows[0]))
	if err != nil {
		return nil, err
	}
	for i, r := range rows {
		if len(r) != m.Cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(r), m.Cols)
		}
		copy(m.Row(i), r)
	}
	return m, nil
}

// At returns the element at row i, column j.
func (m *Matrix) At(i, j int) float64 {
	return m.Data[i*m.Cols+j]
}

// Set sets the element at row i, column j.
func (m *Matrix) Set(i, j int, v float64) {
	m.Data[i*m.Cols+j] = v
}

// Row returns row i as a slice aliasing the matrix storage.
func (m *Matrix) Row(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Dense returns a gonum view over the matrix storage.
func (m *Matrix) Dense() *mat.Dense {
	return mat.NewDense(m.Rows, m.Cols, m.Data)
}

// SameShape reports whether m and o have identical dimensions.
func (m *Matrix) SameShape(o *Matrix) bool {
	return m.Rows == o.Rows && m.Cols == o.Cols
}

// Clone creates a deep copy of the matrix
func (m *Matrix) Clone() *Matrix {
	data := make([]float64, len(m.Data))
	copy(data, m.Data)
	return &Matrix{Rows: m.Rows, Cols: m.Cols, Data: data}
}

// Zero sets every element to 0.
func (m *Matrix) Zero() {
	for i := range m.Data {
		m.Data[i] = 0
	}
}

// Fill sets every element to v.
func (m *Matrix) Fill(v float64) {
	for i := range m.Data {
		m.Data[i] = v
	}
}

// Sum returns the sum of all elements.
func (m *Matrix) Sum() float64 {
	return floats.Sum(m.Data)
}

// MatMulMatrix performs matrix multiplication on the gonum BLAS backend.
func MatMulMatrix(a, b *Matrix) (*Matrix, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("cannot multiply nil matrices")
	}
	if a.Cols != b.Rows {
		return nil, fmt.Errorf("%w: matrix dimensions don't match for multiplication: a(%dx%d), b(%dx%d)",
			ErrShape, a.Rows, a.Cols, b.Rows, b.Cols)
	}
	result, err := NewMatrix(a.Rows, b.Cols)
	if err != nil {
		return nil, err
	}
	result.Dense().Mul(a.Dense(), b.Dense())
	return result, nil
}

// mulAddTransB accumulates a * bᵀ into dst.
func mulAddTransB(dst, a, b *Matrix) {
	tmp := mat.NewDense(a.Rows, b.Rows, nil)
	tmp.Mul(a.Dense(), b.Dense().T())
	floats.Add(dst.Data, tmp.RawMatrix().Data)
}

// mulAddTransA accumulates aᵀ * b into dst.
func mulAddTransA(dst, a, b *Matrix) {
	tmp := mat.NewDense(a.Cols, b.Cols, nil)
	tmp.Mul(a.Dense().T(), b.Dense())
	floats.Add(dst.Data, tmp.RawMatrix().Data)
}

