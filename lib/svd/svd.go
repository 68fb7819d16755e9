// Package svd computes the singular value decomposition of a dense
// matrix A as U·diag(w)·Vᵀ and answers least-squares, rank and
// nullspace queries against it.
//
// Unlike the truncated LAPACK-backed decompositions, this package keeps
// the full thin factorization around so that one decomposition can be
// reused for any number of Solve, Rank and Nullspace calls with
// different thresholds. A decomposed SVD is read-only; concurrent
// readers need no synchronization.
package svd

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoConvergence reports that the QR iteration did not converge
	// for some singular value within the iteration cap. The
	// decomposition is unusable; callers may retry with a perturbed or
	// regularized input.
	ErrNoConvergence = errors.New("svd: bidiagonal QR iteration did not converge")

	// ErrShape reports a right-hand side whose dimensions do not match
	// the decomposed matrix.
	ErrShape = errors.New("svd: dimension mismatch")
)

// machEps is the double-precision machine epsilon, 2^-52.
var machEps = math.Nextafter(1, 2) - 1

// SVD holds the thin singular value decomposition of an m×n matrix.
// u is m×n column-orthogonal, v is n×n orthogonal, both row-major.
// w holds the n singular values sorted descending.
//
// The input matrix may contain only finite values; behavior on NaN or
// Inf entries is undefined.
type SVD struct {
	m, n int
	u    []float64
	w    []float64
	v    []float64
}

// New decomposes a. The caller's matrix is copied and never mutated,
// and the returned SVD retains no reference to it. Returns
// ErrNoConvergence if the iterative diagonalization fails.
func New(a mat.Matrix) (*SVD, error) {
	m, n := a.Dims()
	svd := &SVD{
		m: m,
		n: n,
		u: make([]float64, m*n),
		w: make([]float64, n),
		v: make([]float64, n*n),
	}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			svd.u[i*n+j] = a.At(i, j)
		}
	}
	if err := svd.decompose(); err != nil {
		return nil, err
	}
	svd.reorder()
	return svd, nil
}

// DefaultThreshold is the smallest singular value considered non-zero
// when no explicit tolerance is supplied: 0.5·sqrt(m+n+1)·w[0]·eps.
func (svd *SVD) DefaultThreshold() float64 {
	return 0.5 * math.Sqrt(float64(svd.m+svd.n)+1.0) * svd.w[0] * machEps
}

// threshold resolves a per-call tolerance. Negative means "use the
// default formula"; this keeps the SVD itself immutable across calls.
func (svd *SVD) threshold(tol float64) float64 {
	if tol >= 0 {
		return tol
	}
	return svd.DefaultThreshold()
}

// Dims returns the dimensions of the decomposed matrix.
func (svd *SVD) Dims() (m, n int) { return svd.m, svd.n }

// Values returns a copy of the singular values, sorted descending.
func (svd *SVD) Values() []float64 {
	w := make([]float64, svd.n)
	copy(w, svd.w)
	return w
}

// U returns a copy of the m×n matrix of left singular vectors.
func (svd *SVD) U() *mat.Dense {
	u := make([]float64, len(svd.u))
	copy(u, svd.u)
	return mat.NewDense(svd.m, svd.n, u)
}

// V returns a copy of the n×n matrix of right singular vectors.
func (svd *SVD) V() *mat.Dense {
	v := make([]float64, len(svd.v))
	copy(v, svd.v)
	return mat.NewDense(svd.n, svd.n, v)
}

// Rank counts the singular values strictly greater than the threshold.
// A negative tol selects the default threshold.
func (svd *SVD) Rank(tol float64) int {
	tsh := svd.threshold(tol)
	rank := 0
	for _, wj := range svd.w {
		if wj > tsh {
			rank++
		}
	}
	return rank
}

// Nullity counts the singular values at or below the threshold.
// Rank(tol) + Nullity(tol) == n for every tol.
func (svd *SVD) Nullity(tol float64) int {
	return svd.n - svd.Rank(tol)
}

// Range returns an orthonormal basis for the column space of the
// decomposed matrix: the m×Rank matrix of u columns whose singular
// values exceed the threshold. Returns nil for a zero-rank matrix.
func (svd *SVD) Range(tol float64) *mat.Dense {
	tsh := svd.threshold(tol)
	rank := svd.Rank(tol)
	if rank == 0 {
		return nil
	}
	rnge := mat.NewDense(svd.m, rank, nil)
	nr := 0
	for j := 0; j < svd.n; j++ {
		if svd.w[j] <= tsh {
			continue
		}
		for i := 0; i < svd.m; i++ {
			rnge.Set(i, nr, svd.u[i*svd.n+j])
		}
		nr++
	}
	return rnge
}

// Nullspace returns an orthonormal basis for the null space: the
// n×Nullity matrix of v columns whose singular values are at or below
// the threshold. Returns nil for a full-rank matrix.
func (svd *SVD) Nullspace(tol float64) *mat.Dense {
	tsh := svd.threshold(tol)
	nullity := svd.Nullity(tol)
	if nullity == 0 {
		return nil
	}
	nullsp := mat.NewDense(svd.n, nullity, nil)
	nn := 0
	for j := 0; j < svd.n; j++ {
		if svd.w[j] > tsh {
			continue
		}
		for i := 0; i < svd.n; i++ {
			nullsp.Set(i, nn, svd.v[i*svd.n+j])
		}
		nn++
	}
	return nullsp
}

// solve applies x = V · diag(1/wⱼ for wⱼ > tsh, else 0) · Uᵀ · b.
// Directions whose singular value is at or below the threshold
// contribute zero, so near-singular systems yield the minimum-norm
// least-squares solution instead of blowing up.
func (svd *SVD) solve(b []float64, tsh float64) []float64 {
	n := svd.n
	tmp := make([]float64, n)
	for j := 0; j < n; j++ {
		var s float64
		if svd.w[j] > tsh {
			for i := 0; i < svd.m; i++ {
				s += svd.u[i*n+j] * b[i]
			}
			s /= svd.w[j]
		}
		tmp[j] = s
	}
	x := make([]float64, n)
	for j := 0; j < n; j++ {
		x[j] = floats.Dot(svd.v[j*n:(j+1)*n], tmp)
	}
	return x
}

// SolveVec solves A·x = b in the least-squares, minimum-norm sense.
// Returns ErrShape unless b has m entries.
func (svd *SVD) SolveVec(b *mat.VecDense, tol float64) (*mat.VecDense, error) {
	if b.Len() != svd.m {
		return nil, fmt.Errorf("%w: right-hand side has %d entries, want %d", ErrShape, b.Len(), svd.m)
	}
	rhs := make([]float64, svd.m)
	for i := 0; i < svd.m; i++ {
		rhs[i] = b.AtVec(i)
	}
	return mat.NewVecDense(svd.n, svd.solve(rhs, svd.threshold(tol))), nil
}

// Solve solves A·X = B column by column. B must have m rows; the
// result has n rows and B's column count.
func (svd *SVD) Solve(b *mat.Dense, tol float64) (*mat.Dense, error) {
	br, bc := b.Dims()
	if br != svd.m {
		return nil, fmt.Errorf("%w: right-hand side has %d rows, want %d", ErrShape, br, svd.m)
	}
	tsh := svd.threshold(tol)
	x := mat.NewDense(svd.n, bc, nil)
	col := make([]float64, svd.m)
	for j := 0; j < bc; j++ {
		mat.Col(col, j, b)
		x.SetCol(j, svd.solve(col, tsh))
	}
	return x, nil
}

// PseudoInverse returns the n×m Moore–Penrose pseudo-inverse
// V · diag(1/wⱼ for wⱼ > threshold, else 0) · Uᵀ.
func (svd *SVD) PseudoInverse(tol float64) *mat.Dense {
	tsh := svd.threshold(tol)
	m, n := svd.m, svd.n
	pinv := mat.NewDense(n, m, nil)
	for k := 0; k < n; k++ {
		if svd.w[k] <= tsh {
			continue
		}
		r := 1.0 / svd.w[k]
		for i := 0; i < n; i++ {
			vr := svd.v[i*n+k] * r
			for j := 0; j < m; j++ {
				pinv.Set(i, j, pinv.At(i, j)+vr*svd.u[j*n+k])
			}
		}
	}
	return pinv
}

// InverseCondition returns w[n-1]/w[0], the reciprocal condition
// number, or 0 when the matrix is singular. A value near zero is a
// cheap ill-conditioning signal.
func (svd *SVD) InverseCondition() float64 {
	if svd.w[0] <= 0 || svd.w[svd.n-1] <= 0 {
		return 0
	}
	return svd.w[svd.n-1] / svd.w[0]
}

// Condition returns the 2-norm condition number w[0]/w[n-1], or +Inf
// for a singular matrix.
func (svd *SVD) Condition() float64 {
	ic := svd.InverseCondition()
	if ic == 0 {
		return math.Inf(1)
	}
	return 1 / ic
}

// LogDeterminant returns Σ ln wⱼ over all singular values. For a
// singular matrix this is -Inf; callers that need a finite answer
// should check Rank first or use LogPseudoDeterminant.
func (svd *SVD) LogDeterminant() float64 {
	var sum float64
	for _, wj := range svd.w {
		sum += math.Log(wj)
	}
	return sum
}

// LogPseudoDeterminant returns Σ ln wⱼ over the singular values above
// the threshold, which is finite even for singular matrices.
func (svd *SVD) LogPseudoDeterminant(tol float64) float64 {
	tsh := svd.threshold(tol)
	var sum float64
	for _, wj := range svd.w {
		if wj > tsh {
			sum += math.Log(wj)
		}
	}
	return sum
}
