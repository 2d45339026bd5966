// Package gp implements Gaussian process regression conditioned on a single
// hyperparameter particle. Each GP owns a copy of its particle; ensembles are
// built by constructing one GP per particle rather than refactorizing one
// model for every particle at prediction time.
package gp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	errLen   = "gp: length mismatch"
	errTheta = "gp: bad theta length"
)

var (
	// ErrNotFitted is returned by Predict and Update before a successful Fit.
	ErrNotFitted = errors.New("gp: model not fitted")
	// ErrNotPosDef is returned when the noisy covariance matrix cannot be
	// Cholesky factorized.
	ErrNotPosDef = errors.New("gp: covariance matrix not positive definite")
)

// minVariance floors the predictive variance to keep downstream criteria
// away from zero division near training inputs.
const minVariance = 1e-12

// GP is a zero-mean Gaussian process regressor. The hyperparameter vector is
//
//	theta = [kernel parameters..., log noise stddev]
//
// where the kernel block follows the Kernel's layout. The particle is copied
// at construction and never mutated; resampling builds new GPs.
type GP struct {
	kernel Kernel
	theta  []float64

	xs   [][]float64
	ys   []float64
	chol mat.Cholesky
	// alpha is (K + σn²I)^-1 y for the current observation set.
	alpha  *mat.VecDense
	fitted bool
}

// New constructs an untrained GP bound to theta. The theta length is checked
// against the kernel at Fit time, once the input dimension is known.
func New(k Kernel, theta []float64) *GP {
	t := make([]float64, len(theta))
	copy(t, theta)
	return &GP{kernel: k, theta: t}
}

func (g *GP) noise() float64 {
	s := math.Exp(g.theta[len(g.theta)-1])
	return s * s
}

func (g *GP) kernelTheta() []float64 { return g.theta[:len(g.theta)-1] }

// Fit conditions the process on the full observation set, replacing any prior
// conditioning. It factorizes K + σn²I once so that subsequent predictions
// are back-substitutions only.
func (g *GP) Fit(xs mat.Matrix, ys []float64) error {
	n, dim := xs.Dims()
	if len(ys) != n {
		panic(errLen)
	}
	if len(g.theta) != g.kernel.NTheta(dim)+1 {
		return ErrThetaSize(len(g.theta), g.kernel.NTheta(dim)+1)
	}
	if n == 0 {
		return errors.New("gp: no observations")
	}

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, dim)
		mat.Row(rows[i], i, xs)
	}

	kt := g.kernelTheta()
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := g.kernel.Cov(kt, rows[i], rows[j])
			if i == j {
				v += g.noise()
			}
			cov.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return ErrNotPosDef
	}

	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, mat.NewVecDense(n, ys)); err != nil {
		return err
	}

	g.xs = rows
	g.ys = append(g.ys[:0], ys...)
	g.chol = chol
	g.alpha = alpha
	g.fitted = true
	return nil
}

// Update conditions the process on one additional observation without
// refactorizing, extending the existing Cholesky factor by one row/column.
func (g *GP) Update(x []float64, y float64) error {
	if !g.fitted {
		return ErrNotFitted
	}
	if len(x) != len(g.xs[0]) {
		panic(errLen)
	}

	n := len(g.xs)
	kt := g.kernelTheta()
	v := mat.NewVecDense(n+1, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, g.kernel.Cov(kt, x, g.xs[i]))
	}
	v.SetVec(n, g.kernel.Cov(kt, x, x)+g.noise())

	var ext mat.Cholesky
	if !ext.ExtendVecSym(&g.chol, v) {
		return ErrNotPosDef
	}

	xc := make([]float64, len(x))
	copy(xc, x)
	g.xs = append(g.xs, xc)
	g.ys = append(g.ys, y)
	g.chol = ext

	alpha := mat.NewVecDense(n+1, nil)
	if err := g.chol.SolveVecTo(alpha, mat.NewVecDense(n+1, g.ys)); err != nil {
		return err
	}
	g.alpha = alpha
	return nil
}

// Predict returns the posterior predictive distribution of the latent
// function at query.
func (g *GP) Predict(query []float64) (distuv.Normal, error) {
	if !g.fitted {
		return distuv.Normal{}, ErrNotFitted
	}
	if len(query) != len(g.xs[0]) {
		panic(errLen)
	}

	n := len(g.xs)
	kt := g.kernelTheta()
	kstar := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		kstar.SetVec(i, g.kernel.Cov(kt, query, g.xs[i]))
	}

	mu := mat.Dot(kstar, g.alpha)

	w := mat.NewVecDense(n, nil)
	if err := g.chol.SolveVecTo(w, kstar); err != nil {
		return distuv.Normal{}, err
	}
	variance := g.kernel.Cov(kt, query, query) - mat.Dot(kstar, w)
	if variance < minVariance {
		variance = minVariance
	}
	return distuv.Normal{Mu: mu, Sigma: math.Sqrt(variance)}, nil
}

// Min returns the minimum observed function value. It panics if the process
// has no observations.
func (g *GP) Min() float64 { return floats.Min(g.ys) }

// Len returns the number of conditioning observations.
func (g *GP) Len() int { return len(g.xs) }

// Theta returns a copy of the particle the process was built from.
func (g *GP) Theta() []float64 {
	t := make([]float64, len(g.theta))
	copy(t, g.theta)
	return t
}

// LogMarginal returns the log marginal likelihood log p(y | X, theta) of the
// fitted process.
func (g *GP) LogMarginal() float64 {
	if !g.fitted {
		return math.Inf(-1)
	}
	n := len(g.ys)
	var fit float64
	for i, y := range g.ys {
		fit += y * g.alpha.AtVec(i)
	}
	return -0.5*fit - 0.5*g.chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi)
}

// LogMarginal evaluates the log marginal likelihood of the data under theta
// without keeping the fitted model. Numerical failure (including a
// non-positive-definite covariance) yields -Inf, so MCMC targets built on it
// reject the proposal rather than erroring out.
func LogMarginal(k Kernel, theta []float64, xs mat.Matrix, ys []float64) float64 {
	g := New(k, theta)
	if err := g.Fit(xs, ys); err != nil {
		return math.Inf(-1)
	}
	return g.LogMarginal()
}

// ThetaSizeError reports a particle whose length does not match the kernel.
type ThetaSizeError struct {
	Got, Want int
}

func (e *ThetaSizeError) Error() string {
	return fmt.Sprintf("gp: particle length %d, want %d", e.Got, e.Want)
}

// ErrThetaSize builds a *ThetaSizeError.
func ErrThetaSize(got, want int) error { return &ThetaSizeError{Got: got, Want: want} }
