// Package lu implements dense LU decomposition with partial pivoting
// for square systems. Unlike the svd package, which regularizes
// near-singular directions through thresholding, lu fails hard on an
// exactly singular pivot: a direct solve against a singular matrix has
// no meaningful answer and silently substituting a tiny pivot would
// hide that from the caller.
package lu

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrSingular reports an exactly singular pivot during
	// decomposition. No partial result is kept.
	ErrSingular = errors.New("lu: singular matrix")

	// ErrShape reports a non-square input or a mismatched right-hand
	// side.
	ErrShape = errors.New("lu: dimension mismatch")
)

// LU holds the decomposition P·A = L·U of a square matrix, with L unit
// lower triangular and U upper triangular packed into one n×n buffer.
// Read-only after New.
type LU struct {
	n    int
	lu   []float64 // packed L (strictly below diagonal) and U
	piv  []int     // row interchange applied at each elimination step
	sign float64   // permutation parity, +1 or -1
}

// New decomposes a using Crout's method with implicit row scaling in
// the pivot search. The caller's matrix is not mutated. Returns
// ErrShape for a non-square input and ErrSingular when no usable pivot
// exists.
func New(a mat.Matrix) (*LU, error) {
	m, n := a.Dims()
	if m != n {
		return nil, fmt.Errorf("%w: matrix is %d×%d, want square", ErrShape, m, n)
	}
	d := &LU{
		n:    n,
		lu:   make([]float64, n*n),
		piv:  make([]int, n),
		sign: 1,
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d.lu[i*n+j] = a.At(i, j)
		}
	}

	// Implicit scaling: vv[i] holds the reciprocal of row i's largest
	// magnitude, so pivot candidates are compared relative to their
	// own row scale.
	vv := make([]float64, n)
	for i := 0; i < n; i++ {
		big := 0.0
		for j := 0; j < n; j++ {
			if t := math.Abs(d.lu[i*n+j]); t > big {
				big = t
			}
		}
		if big == 0 {
			return nil, fmt.Errorf("%w: row %d is zero", ErrSingular, i)
		}
		vv[i] = 1 / big
	}

	for k := 0; k < n; k++ {
		big := 0.0
		imax := k
		for i := k; i < n; i++ {
			if t := vv[i] * math.Abs(d.lu[i*n+k]); t > big {
				big = t
				imax = i
			}
		}
		if imax != k {
			for j := 0; j < n; j++ {
				d.lu[imax*n+j], d.lu[k*n+j] = d.lu[k*n+j], d.lu[imax*n+j]
			}
			d.sign = -d.sign
			vv[imax] = vv[k]
		}
		d.piv[k] = imax
		pivot := d.lu[k*n+k]
		if pivot == 0 {
			return nil, fmt.Errorf("%w: zero pivot at column %d", ErrSingular, k)
		}
		for i := k + 1; i < n; i++ {
			factor := d.lu[i*n+k] / pivot
			d.lu[i*n+k] = factor
			for j := k + 1; j < n; j++ {
				d.lu[i*n+j] -= factor * d.lu[k*n+j]
			}
		}
	}
	return d, nil
}

// solve runs forward and back substitution in place on x.
func (d *LU) solve(x []float64) {
	n := d.n
	// Unscramble the permutation while accumulating the forward
	// substitution; ii skips leading zeros in the right-hand side.
	ii := 0
	for i := 0; i < n; i++ {
		ip := d.piv[i]
		sum := x[ip]
		x[ip] = x[i]
		if ii != 0 {
			for j := ii - 1; j < i; j++ {
				sum -= d.lu[i*n+j] * x[j]
			}
		} else if sum != 0 {
			ii = i + 1
		}
		x[i] = sum
	}
	for i := n - 1; i >= 0; i-- {
		sum := x[i]
		for j := i + 1; j < n; j++ {
			sum -= d.lu[i*n+j] * x[j]
		}
		x[i] = sum / d.lu[i*n+i]
	}
}

// SolveVec solves A·x = b. Returns ErrShape unless b has n entries.
func (d *LU) SolveVec(b *mat.VecDense) (*mat.VecDense, error) {
	if b.Len() != d.n {
		return nil, fmt.Errorf("%w: right-hand side has %d entries, want %d", ErrShape, b.Len(), d.n)
	}
	x := make([]float64, d.n)
	for i := 0; i < d.n; i++ {
		x[i] = b.AtVec(i)
	}
	d.solve(x)
	return mat.NewVecDense(d.n, x), nil
}

// Solve solves A·X = B column by column. B must have n rows.
func (d *LU) Solve(b *mat.Dense) (*mat.Dense, error) {
	br, bc := b.Dims()
	if br != d.n {
		return nil, fmt.Errorf("%w: right-hand side has %d rows, want %d", ErrShape, br, d.n)
	}
	x := mat.NewDense(d.n, bc, nil)
	col := make([]float64, d.n)
	for j := 0; j < bc; j++ {
		mat.Col(col, j, b)
		d.solve(col)
		x.SetCol(j, col)
	}
	return x, nil
}

// Determinant returns det(A) as the signed product of the pivots.
func (d *LU) Determinant() float64 {
	det := d.sign
	for i := 0; i < d.n; i++ {
		det *= d.lu[i*d.n+i]
	}
	return det
}

// LogDeterminant returns ln|det(A)| and the sign of the determinant,
// avoiding the overflow a direct pivot product can hit.
func (d *LU) LogDeterminant() (logdet, sign float64) {
	sign = d.sign
	for i := 0; i < d.n; i++ {
		p := d.lu[i*d.n+i]
		if p < 0 {
			sign = -sign
			p = -p
		}
		logdet += math.Log(p)
	}
	return logdet, sign
}
