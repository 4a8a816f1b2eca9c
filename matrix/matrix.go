// Package matrix is a thin row-major wrapper over gonum/mat used by the
// calibration code. Least squares always goes through the SVD so that
// badly conditioned scans do not blow up the way normal equations would.
package matrix

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrSVD        = errors.New("SVD factorization failed")
	ErrRankZero   = errors.New("design matrix has rank 0")
	ErrDimensions = errors.New("dimension mismatch")
)

type Matrix struct {
	Rows   int
	Cols   int
	Values [][]float64
}

type Vector struct {
	Length int
	Values []float64
}

func NewMatrix(rows, cols int) *Matrix {
	m := &Matrix{Rows: rows, Cols: cols, Values: make([][]float64, rows)}
	for i := range m.Values {
		m.Values[i] = make([]float64, cols)
	}
	return m
}

// FromColumns builds a matrix whose j-th column is cols[j]. All columns must
// have the same length.
func FromColumns(cols ...[]float64) (*Matrix, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrDimensions)
	}
	rows := len(cols[0])
	m := NewMatrix(rows, len(cols))
	for j, c := range cols {
		if len(c) != rows {
			return nil, fmt.Errorf("%w: column %d has %d rows, want %d", ErrDimensions, j, len(c), rows)
		}
		for i, v := range c {
			m.Values[i][j] = v
		}
	}
	return m, nil
}

func NewVector(n int) *Vector {
	return &Vector{Length: n, Values: make([]float64, n)}
}

func NewVectorFrom(v []float64) *Vector {
	return &Vector{Length: len(v), Values: append([]float64(nil), v...)}
}

func NewVectorWithValue(n int, value float64) *Vector {
	v := NewVector(n)
	for i := range v.Values {
		v.Values[i] = value
	}
	return v
}

// Ones is the intercept column.
func Ones(n int) []float64 { return NewVectorWithValue(n, 1).Values }

// WithoutColumn returns a copy of m with column j removed.
func (m *Matrix) WithoutColumn(j int) *Matrix {
	out := NewMatrix(m.Rows, m.Cols-1)
	for i := 0; i < m.Rows; i++ {
		k := 0
		for c := 0; c < m.Cols; c++ {
			if c == j {
				continue
			}
			out.Values[i][k] = m.Values[i][c]
			k++
		}
	}
	return out
}

func (m *Matrix) Dense() *mat.Dense {
	d := mat.NewDense(m.Rows, m.Cols, nil)
	for i, row := range m.Values {
		d.SetRow(i, row)
	}
	return d
}

func (m *Matrix) MulVector(v *Vector) *Vector {
	if v == nil || v.Length != m.Cols {
		return nil
	}
	out := NewVector(m.Rows)
	for i, row := range m.Values {
		s := 0.0
		for j, a := range row {
			s += a * v.Values[j]
		}
		out.Values[i] = s
	}
	return out
}

func (v *Vector) Sub(o *Vector) *Vector {
	out := NewVector(v.Length)
	for i := range v.Values {
		out.Values[i] = v.Values[i] - o.Values[i]
	}
	return out
}

func (v *Vector) Dot(o *Vector) float64 {
	return mat.Dot(mat.NewVecDense(v.Length, v.Values), mat.NewVecDense(o.Length, o.Values))
}

// Solution of one least squares problem.
type Solution struct {
	X        *Vector
	RSS      float64 // residual sum of squares |b - A x|^2
	Rank     int
	Singular []float64
}

// LeastSquares returns the minimum-norm x minimizing |b - A x| using the
// SVD of A. Singular values below eps*max(rows,cols)*s_max are treated as
// zero, the same cut-off numpy's lstsq uses by default.
func LeastSquares(a *Matrix, b *Vector) (*Solution, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: nil input", ErrDimensions)
	}
	if b.Length != a.Rows {
		return nil, fmt.Errorf("%w: A is %dx%d, b has %d rows", ErrDimensions, a.Rows, a.Cols, b.Length)
	}
	if a.Rows == 0 || a.Cols == 0 {
		return nil, fmt.Errorf("%w: empty design matrix", ErrDimensions)
	}
	var svd mat.SVD
	if !svd.Factorize(a.Dense(), mat.SVDThin) {
		return nil, ErrSVD
	}
	rcond := math.Nextafter(1, 2) - 1
	rcond *= float64(max(a.Rows, a.Cols))
	rank := svd.Rank(rcond)
	if rank == 0 {
		return nil, ErrRankZero
	}
	var x mat.VecDense
	svd.SolveVecTo(&x, mat.NewVecDense(b.Length, append([]float64(nil), b.Values...)), rank)

	sol := &Solution{X: NewVector(a.Cols), Rank: rank, Singular: svd.Values(nil)}
	for i := 0; i < a.Cols; i++ {
		sol.X.Values[i] = x.AtVec(i)
	}
	r := a.MulVector(sol.X).Sub(b)
	sol.RSS = r.Dot(r)
	return sol, nil
}

func (m *Matrix) String() string {
	var b strings.Builder
	for _, row := range m.Values {
		for j, v := range row {
			if j > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "% .6g", v)
		}
		b.WriteString("\n")
	}
	return b.String()
}
