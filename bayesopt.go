// Package bayesopt implements the posterior-model layer of a Bayesian
// optimization engine: an ensemble of surrogate models and acquisition
// criteria, one pair per hyperparameter particle drawn by MCMC, presented to
// the outer optimization loop as a single surrogate-criterion pair. The
// ensemble marginalizes the acquisition criterion over hyperparameter
// uncertainty by plain Monte Carlo averaging instead of closed-form
// integration, so it is generic over kernels, criteria and samplers.
//
// The gp, acq and sampler subpackages provide the default collaborators: a
// Cholesky-based Gaussian process surrogate, expected-improvement-family
// criteria with a GP-Hedge portfolio, and prior/Metropolis-Hastings particle
// samplers. All three are replaceable through Config.
package bayesopt

import (
	"math/rand/v2"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Model is an ensemble posterior over hyperparameter uncertainty. It keeps
// one surrogate and one criterion per MCMC particle, so that costly
// operations like covariance factorizations are done once per particle
// instead of per prediction, and presents the ensemble to the outer
// optimization loop as if it were a single surrogate-criterion pair:
// acquisition values are the arithmetic mean across particles, the Monte
// Carlo estimate of the criterion marginalized over hyperparameters.
//
// Particle slot 0 is the primary particle. Shared criterion-selection state
// (which acquisition strategy is active, whether to rotate) is read from and
// pushed to the primary only, while rotation transitions are applied to every
// particle so the slots stay synchronized. Per-particle evaluation state may
// legitimately differ; selection state must not.
//
// A Model must be built with New. The ensemble owns its surrogate and
// criterion collections outright, so copying a Model is unsafe.
type Model struct {
	dim int
	cfg Config
	rnd *rand.Rand

	nParticles   int
	sampler      Sampler
	newSurrogate SurrogateFactory
	newCriteria  CriterionFactory

	// mu guards the particle collections and the observation set. Rebuilds
	// swap both collections under the write lock, so readers never observe
	// a mixed epoch.
	mu     sync.RWMutex
	gps    []Surrogate
	crits  []Criterion
	fitted bool

	xs *mat.Dense
	ys []float64
}

// New constructs an ensemble posterior for a dim-dimensional input space.
// The initial particle set is drawn from the hyperparameter prior, so the
// model is usable (after a fit) before the first UpdateHyperParameters call.
func New(dim int, cfg Config, rnd *rand.Rand) (*Model, error) {
	if dim < 1 {
		return nil, &ConfigurationError{Param: "dimension", Reason: "must be at least 1"}
	}
	if cfg.Particles < 0 {
		return nil, &ConfigurationError{Param: "Particles", Reason: "must not be negative"}
	}
	if rnd == nil {
		return nil, &ConfigurationError{Param: "rnd", Reason: "random engine required"}
	}

	kernel, err := kernelByTag(cfg.Kernel)
	if err != nil {
		return nil, err
	}
	nTheta := kernel.NTheta(dim) + 1

	priorMu := cfg.PriorMu
	if priorMu == nil {
		priorMu = make([]float64, nTheta)
	}
	priorSigma := cfg.PriorSigma
	if priorSigma == nil {
		priorSigma = make([]float64, nTheta)
		for i := range priorSigma {
			priorSigma[i] = 1
		}
	}
	if len(priorMu) != nTheta || len(priorSigma) != nTheta {
		return nil, &ConfigurationError{Param: "PriorMu/PriorSigma", Reason: "length must match the particle length"}
	}

	m := &Model{
		dim:        dim,
		cfg:        cfg,
		rnd:        rnd,
		nParticles: cfg.particles(),
	}

	m.newSurrogate = cfg.Surrogates
	if m.newSurrogate == nil {
		m.newSurrogate = gpFactory{dim: dim, kernel: kernel}
	}
	m.newCriteria = cfg.CriteriaFactory
	if m.newCriteria == nil {
		m.newCriteria = critFactory{
			tags: cfg.criteria(),
			xi:   cfg.xi(),
			beta: cfg.beta(),
			eta:  cfg.HedgeEta,
			rnd:  rnd,
		}
	}
	m.sampler = cfg.Sampler
	if m.sampler == nil {
		m.sampler = posteriorSampler{
			kernel: kernel,
			prior:  priorSampler(priorMu, priorSigma),
			burnIn: cfg.BurnIn,
			thin:   cfg.Thin,
			step:   cfg.Step,
		}
	}

	if err := m.UpdateHyperParameters(); err != nil {
		return nil, err
	}
	return m, nil
}

// Particles returns the ensemble size.
func (m *Model) Particles() int { return m.nParticles }

// Len returns the number of accumulated observations.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ys)
}

// SetSamples replaces the accumulated observation set. The surrogates are not
// refitted; call FitSurrogate afterwards.
func (m *Model) SetSamples(xs mat.Matrix, ys []float64) error {
	n, dim := xs.Dims()
	if dim != m.dim {
		return &ConfigurationError{Param: "xs", Reason: "dimension mismatch"}
	}
	if len(ys) != n {
		return &ConfigurationError{Param: "ys", Reason: "length mismatch with xs"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.xs = mat.DenseCopyOf(xs)
	m.ys = append([]float64(nil), ys...)
	m.fitted = false
	return nil
}

// AddSample appends one observation. UpdateSurrogate pushes the latest
// observation into every particle's surrogate.
func (m *Model) AddSample(x []float64, y float64) error {
	if len(x) != m.dim {
		return &ConfigurationError{Param: "x", Reason: "dimension mismatch"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.xs == nil {
		m.xs = mat.NewDense(1, m.dim, append([]float64(nil), x...))
	} else {
		r, _ := m.xs.Dims()
		m.xs = m.xs.Grow(1, 0).(*mat.Dense)
		m.xs.SetRow(r, x)
	}
	m.ys = append(m.ys, y)
	return nil
}

// UpdateHyperParameters resamples the particle set conditioned on all
// observations collected so far, and reconstructs every particle's surrogate
// and criterion from scratch. The rebuild is all-or-nothing: on error the
// previous ensemble remains intact, and callers never observe a mix of old
// and new particles. Per-particle identity does not survive the call.
func (m *Model) UpdateHyperParameters() error {
	if m.nParticles == 0 {
		return &ConfigurationError{Param: "Particles", Reason: "must not be zero"}
	}

	m.mu.RLock()
	xs, ys := m.xs, m.ys
	m.mu.RUnlock()

	var xsArg mat.Matrix
	if xs != nil {
		xsArg = xs
	}
	particles, err := m.sampler.Sample(m.nParticles, xsArg, ys, m.rnd)
	if err != nil {
		return &SamplingError{Err: err}
	}
	if len(particles) != m.nParticles {
		return &SamplingError{Err: errParticleCount(len(particles), m.nParticles)}
	}

	gps := make([]Surrogate, m.nParticles)
	for i, p := range particles {
		s, err := m.newSurrogate.New(p)
		if err != nil {
			return &SamplingError{Err: err}
		}
		gps[i] = s
	}
	crits, err := m.newCriteria.NewSet(gps)
	if err != nil {
		return err
	}
	if len(crits) != len(gps) {
		return &ConfigurationError{Param: "CriteriaFactory", Reason: "criteria count mismatch"}
	}

	m.mu.Lock()
	m.gps = gps
	m.crits = crits
	m.fitted = false
	m.mu.Unlock()
	return nil
}

// FitSurrogate fits every particle's surrogate to the accumulated
// observations. Any one particle's numerical failure fails the whole call;
// the ensemble is then marked unfitted rather than left as a partial success.
func (m *Model) FitSurrogate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ys) == 0 {
		return ErrNoObservations
	}
	m.fitted = false
	if i, err := m.fanOut(len(m.gps), func(i int) error {
		return m.gps[i].Fit(m.xs, m.ys)
	}); err != nil {
		return &SurrogateFitError{Particle: i, Op: "fit", Err: err}
	}
	m.fitted = true
	return nil
}

// UpdateSurrogate conditions every particle's surrogate on the latest
// observation without a full refit. Failure policy matches FitSurrogate.
func (m *Model) UpdateSurrogate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ys) == 0 {
		return ErrNoObservations
	}
	n := len(m.ys)
	x := m.xs.RawRowView(n - 1)
	y := m.ys[n-1]
	if i, err := m.fanOut(len(m.gps), func(i int) error {
		return m.gps[i].Update(x, y)
	}); err != nil {
		m.fitted = false
		return &SurrogateFitError{Particle: i, Op: "update", Err: err}
	}
	return nil
}

// EvaluateCriteria evaluates every particle's criterion at query and returns
// the arithmetic mean, the Monte Carlo estimate of the acquisition criterion
// marginalized over hyperparameter uncertainty.
func (m *Model) EvaluateCriteria(query []float64) (float64, error) {
	if len(query) != m.dim {
		return 0, &ConfigurationError{Param: "query", Reason: "dimension mismatch"}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	vals := make([]float64, len(m.crits))
	if i, err := m.fanOut(len(m.crits), func(i int) error {
		v, err := m.crits[i].Evaluate(query)
		vals[i] = v
		return err
	}); err != nil {
		return 0, &EvaluationError{Particle: i, Query: query, Err: err}
	}
	return stat.Mean(vals, nil), nil
}

// UpdateCriteria notifies every particle's criterion that query was selected,
// so each can update its own running statistics.
func (m *Model) UpdateCriteria(query []float64) error {
	if len(query) != m.dim {
		return &ConfigurationError{Param: "query", Reason: "dimension mismatch"}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i, err := m.fanOut(len(m.crits), func(i int) error {
		return m.crits[i].Update(query)
	}); err != nil {
		return &EvaluationError{Particle: i, Query: query, Err: err}
	}
	return nil
}

// CriteriaRequiresComparison reports whether the active acquisition strategy
// needs a comparison round before rotation. Shared selection state; primary
// particle only.
func (m *Model) CriteriaRequiresComparison() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.crits[0].RequireComparison()
}

// SetFirstCriterion initializes the shared criterion-selection state on every
// particle. Call exactly once per comparison round, before EvaluateCriteria.
func (m *Model) SetFirstCriterion() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.crits {
		c.InitialCriteria()
	}
}

// SetNextCriterion advances the shared rotation state. The result is pushed
// to the primary particle only: the rotation decision must be based on the
// ensemble-level signal the caller derived from the aggregated criterion, so
// recording it per particle would be redundant and statistically incoherent.
// The rotation transition itself is applied to every particle to keep the
// active criterion synchronized, and the returned outcome is the last
// particle's. The one-push/rotate-all/return-last shape is deliberate and
// matched to the behavior downstream callers were built against; do not
// collapse it.
func (m *Model) SetNextCriterion(prevResult []float64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.crits[0].PushResult(prevResult)
	var rotated bool
	for _, c := range m.crits {
		rotated = c.RotateCriteria()
	}
	return rotated
}

// BestCriteria writes the best point according to the primary particle's
// criterion bookkeeping into best and returns the label of the active
// acquisition strategy.
func (m *Model) BestCriteria(best []float64) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.crits[0].BestCriteria(best)
}

// Prediction returns the primary particle's predictive distribution at query.
// The full ensemble's predictive mixture is deliberately not computed here;
// one particle's marginal is enough for reporting, and callers needing the
// mixture can combine per-particle predictions themselves.
func (m *Model) Prediction(query []float64) (distuv.Normal, error) {
	if len(query) != m.dim {
		return distuv.Normal{}, &ConfigurationError{Param: "query", Reason: "dimension mismatch"}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.fitted {
		return distuv.Normal{}, ErrNotFitted
	}
	return m.gps[0].Predict(query)
}

// fanOut runs fn(i) for i in [0, n) on a bounded worker pool and returns the
// lowest failing index with its error. Per-particle work is independent, so
// no ordering is imposed beyond the join.
func (m *Model) fanOut(n int, fn func(i int) error) (int, error) {
	workers := m.cfg.Concurrent
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	errs := make([]error, n)
	idx := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				errs[i] = fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		idx <- i
	}
	close(idx)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return i, err
		}
	}
	return 0, nil
}
