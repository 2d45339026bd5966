// Package sampler draws hyperparameter particles for ensemble posteriors.
// It provides a prior sampler for seeding an ensemble before any data exists
// and a random-walk Metropolis-Hastings sampler for posterior particles.
// Targets are unnormalized log densities, so a GP marginal likelihood plus a
// log prior can be used directly.
package sampler

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Target is an unnormalized log density over a hyperparameter vector.
type Target func(theta []float64) float64

// ErrBadStart is returned when the target is not finite at the initial point.
var ErrBadStart = errors.New("sampler: target not finite at initial point")

// ErrStuck is returned when a chain rejects every proposal; the step size or
// the target is likely broken.
var ErrStuck = errors.New("sampler: chain accepted no proposals")

// Prior draws particles from independent Gaussians in the unconstrained
// hyperparameter space. Mu and Sigma are per-coordinate.
type Prior struct {
	Mu    []float64
	Sigma []float64
}

// Sample draws n independent particles. It is deterministic given rnd.
func (p Prior) Sample(n int, rnd *rand.Rand) ([][]float64, error) {
	if len(p.Mu) != len(p.Sigma) {
		return nil, errors.New("sampler: prior mu/sigma length mismatch")
	}
	thetas := make([][]float64, n)
	for i := range thetas {
		theta := make([]float64, len(p.Mu))
		for j := range theta {
			theta[j] = distuv.Normal{Mu: p.Mu[j], Sigma: p.Sigma[j], Src: rnd}.Rand()
		}
		thetas[i] = theta
	}
	return thetas, nil
}

// LogProb returns the prior log density at theta.
func (p Prior) LogProb(theta []float64) float64 {
	var lp float64
	for j, v := range theta {
		lp += distuv.Normal{Mu: p.Mu[j], Sigma: p.Sigma[j]}.LogProb(v)
	}
	return lp
}

// MH is a single-site random-walk Metropolis-Hastings sampler: each step
// perturbs one uniformly chosen coordinate with a Gaussian proposal and
// accepts with probability min(1, exp(L' - L)).
type MH struct {
	Target Target
	// BurnIn is the number of discarded leading steps. If 0, defaults to 100.
	BurnIn int
	// Thin is the number of steps between kept particles. If 0, defaults to 10.
	Thin int
	// Step is the proposal standard deviation. If 0, defaults to 0.1.
	Step float64
}

// Sample runs the chain from init and returns n particles. It is
// deterministic given rnd.
func (m MH) Sample(n int, init []float64, rnd *rand.Rand) ([][]float64, error) {
	burn := m.BurnIn
	if burn == 0 {
		burn = 100
	}
	thin := m.Thin
	if thin == 0 {
		thin = 10
	}
	step := m.Step
	if step == 0 {
		step = 0.1
	}

	cur := make([]float64, len(init))
	copy(cur, init)
	l := m.Target(cur)
	if math.IsNaN(l) || math.IsInf(l, 0) {
		return nil, ErrBadStart
	}

	thetas := make([][]float64, 0, n)
	accepted := 0
	steps := burn + n*thin
	for i := 0; i < steps; i++ {
		j := rnd.IntN(len(cur))
		old := cur[j]
		cur[j] = old + rnd.NormFloat64()*step
		newL := m.Target(cur)
		a := math.Exp(newL - l)
		if a > 1 || rnd.Float64() < a {
			l = newL
			accepted++
		} else {
			cur[j] = old
		}
		if i >= burn && (i-burn)%thin == thin-1 {
			theta := make([]float64, len(cur))
			copy(theta, cur)
			thetas = append(thetas, theta)
		}
	}
	if accepted == 0 && steps > 0 {
		return nil, ErrStuck
	}
	return thetas, nil
}
