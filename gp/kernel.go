package gp

import "math"

// Kernel computes covariances between input locations under a flat
// hyperparameter vector theta. All entries of theta are in log space so that
// an unconstrained sampler can walk the whole vector. The layout is
//
//	theta = [log amplitude, log lengthscale_1, ..., log lengthscale_d]
//
// with one lengthscale per input dimension.
type Kernel interface {
	// NTheta returns the number of kernel hyperparameters for input
	// dimension dim.
	NTheta(dim int) int
	// Cov computes k(x, y) under theta.
	Cov(theta, x, y []float64) float64
}

// SE is the squared-exponential (RBF) kernel with per-dimension lengthscales,
//
//	k(x, y) = a^2 exp(-1/2 Σ_i ((x_i - y_i)/l_i)^2)
type SE struct{}

var _ Kernel = SE{}

func (SE) NTheta(dim int) int { return dim + 1 }

func (SE) Cov(theta, x, y []float64) float64 {
	amp := math.Exp(theta[0])
	return amp * amp * math.Exp(-0.5*scaledSqDist(theta, x, y))
}

// Matern52 is the Matérn kernel with smoothness 5/2,
//
//	k(x, y) = a^2 (1 + √5 r + 5r²/3) exp(-√5 r),  r² = Σ_i ((x_i - y_i)/l_i)².
type Matern52 struct{}

var _ Kernel = Matern52{}

func (Matern52) NTheta(dim int) int { return dim + 1 }

func (Matern52) Cov(theta, x, y []float64) float64 {
	amp := math.Exp(theta[0])
	r := math.Sqrt(scaledSqDist(theta, x, y))
	s5r := math.Sqrt(5) * r
	return amp * amp * (1 + s5r + 5*r*r/3) * math.Exp(-s5r)
}

// scaledSqDist computes Σ_i ((x_i-y_i)/l_i)² with l_i = exp(theta[1+i]).
func scaledSqDist(theta, x, y []float64) float64 {
	if len(x) != len(y) {
		panic(errLen)
	}
	if len(theta) != len(x)+1 {
		panic(errTheta)
	}
	var r2 float64
	for i := range x {
		d := (x[i] - y[i]) / math.Exp(theta[1+i])
		r2 += d * d
	}
	return r2
}
