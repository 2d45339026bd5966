package bayesopt

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Kernel variant tags.
const (
	KernelSE       = "se"
	KernelMatern52 = "matern52"
)

// Criterion variant tags. Configuring more than one criterion selects the
// GP-Hedge portfolio over the configured set.
const (
	CritEI       = "ei"
	CritLCB      = "lcb"
	CritPI       = "pi"
	CritThompson = "thompson"
)

// DefaultParticles is the ensemble size used when Config.Particles is zero.
const DefaultParticles = 10

// Particle is one sampled hyperparameter vector. Particles are immutable
// once drawn; resampling replaces them wholesale.
type Particle []float64

// Surrogate is a regression model conditioned on a fixed hyperparameter
// particle.
type Surrogate interface {
	// Fit conditions the model on the full observation set.
	Fit(xs mat.Matrix, ys []float64) error
	// Update conditions the model on one additional observation.
	Update(x []float64, y float64) error
	// Predict returns the posterior predictive distribution at query.
	Predict(query []float64) (distuv.Normal, error)
	// Min returns the minimum observed function value.
	Min() float64
}

// Criterion is an acquisition criterion bound to one particle's surrogate.
// The method set mirrors acq.Criterion; see that package for the portfolio
// protocol semantics.
type Criterion interface {
	Evaluate(query []float64) (float64, error)
	Update(query []float64) error
	RequireComparison() bool
	InitialCriteria()
	PushResult(prev []float64)
	RotateCriteria() bool
	BestCriteria(best []float64) string
}

// SurrogateFactory constructs one surrogate per particle.
type SurrogateFactory interface {
	New(p Particle) (Surrogate, error)
}

// CriterionFactory constructs the criteria for one resampling epoch,
// index-aligned with the epoch's surrogates. Construction is epoch-scoped
// rather than per-surrogate so that portfolio criteria can share selection
// state across the ensemble.
type CriterionFactory interface {
	NewSet(surrogates []Surrogate) ([]Criterion, error)
}

// Sampler produces hyperparameter particles conditioned on the observations.
// With no observations it must fall back to the prior. Sample must be
// deterministic given a seeded rnd.
type Sampler interface {
	Sample(n int, xs mat.Matrix, ys []float64, rnd *rand.Rand) ([]Particle, error)
}

// Config controls an ensemble posterior. The zero value selects defaults:
// DefaultParticles particles, GOMAXPROCS-wide fan-out, a squared-exponential
// kernel and a single expected-improvement criterion.
type Config struct {
	// Particles is the ensemble size. 0 selects DefaultParticles; negative
	// values are a ConfigurationError.
	Particles int
	// Concurrent bounds the per-particle fan-out. 0 selects GOMAXPROCS.
	Concurrent int

	// Kernel selects the surrogate kernel variant. "" selects KernelSE.
	Kernel string
	// Criteria selects the acquisition criteria. Empty selects {CritEI};
	// two or more entries select a Hedge portfolio over the set.
	Criteria []string
	// HedgeEta is the portfolio softmax temperature. 0 selects the default.
	HedgeEta float64
	// Xi and Beta parameterize the improvement-based and confidence-bound
	// criteria. Zero values select 0.01 and 2 respectively.
	Xi   float64
	Beta float64

	// PriorMu and PriorSigma parameterize the independent Gaussian prior
	// over log hyperparameters, one entry per theta coordinate. Nil selects
	// a zero-mean unit-variance prior of the right length.
	PriorMu    []float64
	PriorSigma []float64

	// BurnIn, Thin and Step control the Metropolis-Hastings sampler; zero
	// values select the sampler package defaults.
	BurnIn int
	Thin   int
	Step   float64

	// Surrogates, CriteriaFactory and Sampler override the default
	// collaborators built from the tags above. Mostly used by tests.
	Surrogates      SurrogateFactory
	CriteriaFactory CriterionFactory
	Sampler         Sampler
}

func (cfg Config) particles() int {
	if cfg.Particles == 0 {
		return DefaultParticles
	}
	return cfg.Particles
}

func (cfg Config) xi() float64 {
	if cfg.Xi == 0 {
		return 0.01
	}
	return cfg.Xi
}

func (cfg Config) beta() float64 {
	if cfg.Beta == 0 {
		return 2
	}
	return cfg.Beta
}

func (cfg Config) criteria() []string {
	if len(cfg.Criteria) == 0 {
		return []string{CritEI}
	}
	return cfg.Criteria
}
