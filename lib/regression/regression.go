// Package regression fits ordinary least squares models through the
// svd package. Solving through the singular value decomposition of the
// design matrix avoids forming XᵀX, which squares the condition number
// and loses precision exactly when the design is nearly collinear.
package regression

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fjordstone/numkit/lib/svd"
)

// ErrBadArguments reports a sample set too small to fit: fewer than
// three observations, fewer observations than design columns, or a
// response whose length disagrees with the design.
var ErrBadArguments = errors.New("regression: bad arguments")

// coefficientTol scales the largest singular value to the cutoff below
// which a singular direction is dropped from the fit.
const coefficientTol = 1e-12

// Options configures a fit.
type Options struct {
	// Intercept prepends an all-ones column to the design matrix, so
	// Coefficients[0] becomes the intercept estimate.
	Intercept bool
}

// Model is a fitted least-squares model Y = Xβ + ε.
type Model struct {
	// Coefficients holds β̂. With an intercept the first entry is the
	// intercept and the remaining entries follow the design columns.
	Coefficients []float64

	// Covariance is the p×p parameter covariance
	// σ²·V·diag(1/wⱼ²)·Vᵀ over the retained singular directions.
	// Nil when there are no residual degrees of freedom.
	Covariance *mat.Dense

	// StdErrors, TStats and PValues are per-coefficient inference
	// statistics; NaN when there are no residual degrees of freedom.
	StdErrors []float64
	TStats    []float64
	PValues   []float64

	// Sigma2 is the residual variance estimate RSS/(m-p).
	Sigma2 float64

	// RSquared is the coefficient of determination of the fit.
	RSquared float64

	// DegreesOfFreedom is m-p, observations minus estimated
	// parameters.
	DegreesOfFreedom int

	intercept bool
}

// Fit estimates β for y = x·β + ε by thresholded SVD least squares.
// x is the m×k matrix of regressors, one row per observation.
func Fit(x *mat.Dense, y *mat.VecDense, opts Options) (*Model, error) {
	m, k := x.Dims()
	if y.Len() != m {
		return nil, fmt.Errorf("%w: %d observations but %d responses", ErrBadArguments, m, y.Len())
	}
	if m <= 2 {
		return nil, fmt.Errorf("%w: need more than 2 observations, got %d", ErrBadArguments, m)
	}
	p := k
	design := x
	if opts.Intercept {
		p = k + 1
		ones := mat.NewDense(m, 1, nil)
		for i := 0; i < m; i++ {
			ones.Set(i, 0, 1)
		}
		design = &mat.Dense{}
		design.Augment(ones, x)
	}
	if m < p {
		return nil, fmt.Errorf("%w: %d observations for %d design columns", ErrBadArguments, m, p)
	}

	dec, err := svd.New(design)
	if err != nil {
		return nil, fmt.Errorf("regression: decomposing design matrix: %w", err)
	}
	w := dec.Values()
	tol := coefficientTol * w[0]

	beta, err := dec.SolveVec(y, tol)
	if err != nil {
		return nil, fmt.Errorf("regression: solving for coefficients: %w", err)
	}

	var fitted mat.VecDense
	fitted.MulVec(design, beta)
	obs := make([]float64, m)
	est := make([]float64, m)
	rss := 0.0
	for i := 0; i < m; i++ {
		obs[i] = y.AtVec(i)
		est[i] = fitted.AtVec(i)
		r := obs[i] - est[i]
		rss += r * r
	}

	model := &Model{
		Coefficients:     make([]float64, p),
		StdErrors:        make([]float64, p),
		TStats:           make([]float64, p),
		PValues:          make([]float64, p),
		Sigma2:           math.NaN(),
		RSquared:         stat.RSquaredFrom(est, obs, nil),
		DegreesOfFreedom: m - p,
		intercept:        opts.Intercept,
	}
	copy(model.Coefficients, beta.RawVector().Data)

	dof := m - p
	if dof == 0 {
		for i := range model.StdErrors {
			model.StdErrors[i] = math.NaN()
			model.TStats[i] = math.NaN()
			model.PValues[i] = math.NaN()
		}
		return model, nil
	}
	model.Sigma2 = rss / float64(dof)

	// Parameter covariance from the decomposition's own orthogonal
	// basis, restricted to the retained singular directions.
	v := dec.V()
	model.Covariance = mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			var sum float64
			for l := 0; l < p; l++ {
				if w[l] > tol {
					sum += v.At(i, l) * v.At(j, l) / (w[l] * w[l])
				}
			}
			sum *= model.Sigma2
			model.Covariance.Set(i, j, sum)
			model.Covariance.Set(j, i, sum)
		}
	}

	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dof)}
	for i := 0; i < p; i++ {
		model.StdErrors[i] = math.Sqrt(model.Covariance.At(i, i))
		model.TStats[i] = model.Coefficients[i] / model.StdErrors[i]
		model.PValues[i] = 2 * tDist.CDF(-math.Abs(model.TStats[i]))
	}
	return model, nil
}

// Predict evaluates the fitted model at one observation. features must
// have the design's column count, excluding any intercept column.
func (m *Model) Predict(features []float64) (float64, error) {
	coefs := m.Coefficients
	base := 0.0
	if m.intercept {
		base = coefs[0]
		coefs = coefs[1:]
	}
	if len(features) != len(coefs) {
		return 0, fmt.Errorf("%w: %d features, want %d", ErrBadArguments, len(features), len(coefs))
	}
	return base + floats.Dot(coefs, features), nil
}
