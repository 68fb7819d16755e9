package svd

import (
	"fmt"
	"math"
)

// maxIterations caps the QR passes spent on any one singular value.
const maxIterations = 30

// pythag computes sqrt(a²+b²) by factoring out the larger magnitude
// before squaring. The naive form overflows for inputs near the double
// exponent range limit even when the result is representable.
func pythag(a, b float64) float64 {
	absa, absb := math.Abs(a), math.Abs(b)
	switch {
	case absa > absb:
		r := absb / absa
		return absa * math.Sqrt(1+r*r)
	case absb == 0:
		return 0
	default:
		r := absa / absb
		return absb * math.Sqrt(1+r*r)
	}
}

// withSign returns the magnitude of a with the sign of b.
func withSign(a, b float64) float64 {
	if b >= 0 {
		return math.Abs(a)
	}
	return -math.Abs(a)
}

// decompose runs the Golub–Reinsch algorithm in place: Householder
// bidiagonalization of the working copy in u, accumulation of the
// transformations into u and v, then implicit-shift QR iteration on
// the bidiagonal form until every super-diagonal entry deflates.
//
// The inner QR chase applies each Givens rotation jointly to w, the
// scratch super-diagonal rv1 and the columns of u and v; the four
// arrays move in lockstep and must not be updated in separate passes.
func (svd *SVD) decompose() error {
	m, n := svd.m, svd.n
	u, w, v := svd.u, svd.w, svd.v

	rv1 := make([]float64, n)
	var c, f, h, s, x, y, z float64
	var l int
	g, scale, anorm := 0.0, 0.0, 0.0

	// Householder reduction to bidiagonal form. Column and row
	// segments are scaled by their 1-norm before forming the
	// reflector so the squared sums cannot overflow or underflow;
	// an exactly zero scale means the segment is already zero and
	// the reflection is skipped.
	for i := 0; i < n; i++ {
		l = i + 2
		rv1[i] = scale * g
		g, s, scale = 0, 0, 0
		if i < m {
			for k := i; k < m; k++ {
				scale += math.Abs(u[k*n+i])
			}
			if scale != 0 {
				for k := i; k < m; k++ {
					u[k*n+i] /= scale
					s += u[k*n+i] * u[k*n+i]
				}
				f = u[i*n+i]
				g = -withSign(math.Sqrt(s), f)
				h = f*g - s
				u[i*n+i] = f - g
				for j := l - 1; j < n; j++ {
					s = 0
					for k := i; k < m; k++ {
						s += u[k*n+i] * u[k*n+j]
					}
					f = s / h
					for k := i; k < m; k++ {
						u[k*n+j] += f * u[k*n+i]
					}
				}
				for k := i; k < m; k++ {
					u[k*n+i] *= scale
				}
			}
		}
		w[i] = scale * g
		g, s, scale = 0, 0, 0
		if i+1 <= m && i+1 != n {
			for k := l - 1; k < n; k++ {
				scale += math.Abs(u[i*n+k])
			}
			if scale != 0 {
				for k := l - 1; k < n; k++ {
					u[i*n+k] /= scale
					s += u[i*n+k] * u[i*n+k]
				}
				f = u[i*n+l-1]
				g = -withSign(math.Sqrt(s), f)
				h = f*g - s
				u[i*n+l-1] = f - g
				for k := l - 1; k < n; k++ {
					rv1[k] = u[i*n+k] / h
				}
				for j := l - 1; j < m; j++ {
					s = 0
					for k := l - 1; k < n; k++ {
						s += u[j*n+k] * u[i*n+k]
					}
					for k := l - 1; k < n; k++ {
						u[j*n+k] += s * rv1[k]
					}
				}
				for k := l - 1; k < n; k++ {
					u[i*n+k] *= scale
				}
			}
		}
		anorm = math.Max(anorm, math.Abs(w[i])+math.Abs(rv1[i]))
	}

	// Accumulate the right-hand transformations into v.
	for i := n - 1; i >= 0; i-- {
		if i < n-1 {
			if g != 0 {
				// Double division avoids a possible underflow.
				for j := l; j < n; j++ {
					v[j*n+i] = (u[i*n+j] / u[i*n+l]) / g
				}
				for j := l; j < n; j++ {
					s = 0
					for k := l; k < n; k++ {
						s += u[i*n+k] * v[k*n+j]
					}
					for k := l; k < n; k++ {
						v[k*n+j] += s * v[k*n+i]
					}
				}
			}
			for j := l; j < n; j++ {
				v[i*n+j] = 0
				v[j*n+i] = 0
			}
		}
		v[i*n+i] = 1
		g = rv1[i]
		l = i
	}

	// Accumulate the left-hand transformations into u.
	for i := min(m, n) - 1; i >= 0; i-- {
		l = i + 1
		g = w[i]
		for j := l; j < n; j++ {
			u[i*n+j] = 0
		}
		if g != 0 {
			g = 1 / g
			for j := l; j < n; j++ {
				s = 0
				for k := l; k < m; k++ {
					s += u[k*n+i] * u[k*n+j]
				}
				f = (s / u[i*n+i]) * g
				for k := i; k < m; k++ {
					u[k*n+j] += f * u[k*n+i]
				}
			}
			for j := i; j < m; j++ {
				u[j*n+i] *= g
			}
		} else {
			for j := i; j < m; j++ {
				u[j*n+i] = 0
			}
		}
		u[i*n+i]++
	}

	// Diagonalize the bidiagonal form, one singular value at a time
	// from the last index down.
	for k := n - 1; k >= 0; k-- {
		for its := 0; ; its++ {
			// Scan upward for a negligible super-diagonal entry
			// (split with no cancellation needed) or a negligible
			// diagonal entry above it.
			flag := true
			var nm int
			for l = k; l >= 0; l-- {
				nm = l - 1
				if l == 0 || math.Abs(rv1[l]) <= machEps*anorm {
					flag = false
					break
				}
				if math.Abs(w[nm]) <= machEps*anorm {
					break
				}
			}
			if flag {
				// w[l-1] is negligible: rotate rv1[l..k] away
				// against column nm.
				c, s = 0, 1
				for i := l; i < k+1; i++ {
					f = s * rv1[i]
					rv1[i] = c * rv1[i]
					if math.Abs(f) <= machEps*anorm {
						break
					}
					g = w[i]
					h = pythag(f, g)
					w[i] = h
					h = 1 / h
					c = g * h
					s = -f * h
					for j := 0; j < m; j++ {
						y = u[j*n+nm]
						z = u[j*n+i]
						u[j*n+nm] = y*c + z*s
						u[j*n+i] = z*c - y*s
					}
				}
			}
			z = w[k]
			if l == k {
				// Deflated. Make the singular value non-negative.
				if z < 0 {
					w[k] = -z
					for j := 0; j < n; j++ {
						v[j*n+k] = -v[j*n+k]
					}
				}
				break
			}
			if its == maxIterations-1 {
				return fmt.Errorf("%w: singular value %d after %d iterations", ErrNoConvergence, k, maxIterations)
			}

			// Shift from the trailing 2×2 minor, then chase the
			// bulge with Givens rotations applied jointly to w,
			// rv1 and the columns of u and v.
			x = w[l]
			nm = k - 1
			y = w[nm]
			g = rv1[nm]
			h = rv1[k]
			f = ((y-z)*(y+z) + (g-h)*(g+h)) / (2 * h * y)
			g = pythag(f, 1)
			f = ((x-z)*(x+z) + h*(y/(f+withSign(g, f))-h)) / x
			c, s = 1, 1
			for j := l; j <= nm; j++ {
				i := j + 1
				g = rv1[i]
				y = w[i]
				h = s * g
				g = c * g
				z = pythag(f, h)
				rv1[j] = z
				c = f / z
				s = h / z
				f = x*c + g*s
				g = g*c - x*s
				h = y * s
				y *= c
				for jj := 0; jj < n; jj++ {
					x = v[jj*n+j]
					z = v[jj*n+i]
					v[jj*n+j] = x*c + z*s
					v[jj*n+i] = z*c - x*s
				}
				z = pythag(f, h)
				w[j] = z
				// The rotation is arbitrary when z is zero.
				if z != 0 {
					z = 1 / z
					c = f * z
					s = h * z
				}
				f = c*g + s*y
				x = c*y - s*g
				for jj := 0; jj < m; jj++ {
					y = u[jj*n+j]
					z = u[jj*n+i]
					u[jj*n+j] = y*c + z*s
					u[jj*n+i] = z*c - y*s
				}
			}
			rv1[l] = 0
			rv1[k] = f
			w[k] = x
		}
	}
	return nil
}

// reorder sorts the singular values descending with a Shell sort,
// permuting the columns of u and v in lockstep, and then flips the
// sign of any singular vector pair whose entries are mostly negative.
// The flip is cosmetic canonicalization: re-running it is a no-op and
// the factorization is unchanged either way.
func (svd *SVD) reorder() {
	m, n := svd.m, svd.n
	u, w, v := svd.u, svd.w, svd.v

	su := make([]float64, m)
	sv := make([]float64, n)

	inc := 1
	for inc <= n {
		inc = 3*inc + 1
	}
	for {
		inc /= 3
		for i := inc; i < n; i++ {
			sw := w[i]
			for k := 0; k < m; k++ {
				su[k] = u[k*n+i]
			}
			for k := 0; k < n; k++ {
				sv[k] = v[k*n+i]
			}
			j := i
			for w[j-inc] < sw {
				w[j] = w[j-inc]
				for k := 0; k < m; k++ {
					u[k*n+j] = u[k*n+j-inc]
				}
				for k := 0; k < n; k++ {
					v[k*n+j] = v[k*n+j-inc]
				}
				j -= inc
				if j < inc {
					break
				}
			}
			w[j] = sw
			for k := 0; k < m; k++ {
				u[k*n+j] = su[k]
			}
			for k := 0; k < n; k++ {
				v[k*n+j] = sv[k]
			}
		}
		if inc <= 1 {
			break
		}
	}

	for k := 0; k < n; k++ {
		neg := 0
		for i := 0; i < m; i++ {
			if u[i*n+k] < 0 {
				neg++
			}
		}
		for j := 0; j < n; j++ {
			if v[j*n+k] < 0 {
				neg++
			}
		}
		if neg > (m+n)/2 {
			for i := 0; i < m; i++ {
				u[i*n+k] = -u[i*n+k]
			}
			for j := 0; j < n; j++ {
				v[j*n+k] = -v[j*n+k]
			}
		}
	}
}
