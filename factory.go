package bayesopt

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/weixingsun/bayesopt/acq"
	"github.com/weixingsun/bayesopt/gp"
	"github.com/weixingsun/bayesopt/sampler"
)

func kernelByTag(tag string) (gp.Kernel, error) {
	switch tag {
	case "", KernelSE:
		return gp.SE{}, nil
	case KernelMatern52:
		return gp.Matern52{}, nil
	}
	return nil, &ConfigurationError{Param: "Kernel", Reason: fmt.Sprintf("unknown kernel %q", tag)}
}

// gpFactory builds one gp.GP per particle.
type gpFactory struct {
	dim    int
	kernel gp.Kernel
}

var _ SurrogateFactory = gpFactory{}

func (f gpFactory) New(p Particle) (Surrogate, error) {
	want := f.kernel.NTheta(f.dim) + 1
	if len(p) != want {
		return nil, gp.ErrThetaSize(len(p), want)
	}
	return gp.New(f.kernel, p), nil
}

// critFactory builds the epoch's criteria from variant tags: a standalone
// criterion when one tag is configured, a shared-control Hedge set otherwise.
type critFactory struct {
	tags []string
	xi   float64
	beta float64
	eta  float64
	rnd  *rand.Rand
}

var _ CriterionFactory = critFactory{}

// spawn derives an independent random engine from the factory's engine.
// Criteria that draw during Evaluate get one engine per particle, so
// concurrent fan-out never shares a source and seeded runs stay deterministic.
func (f critFactory) spawn() *rand.Rand {
	return rand.New(rand.NewPCG(f.rnd.Uint64(), f.rnd.Uint64()))
}

func (f critFactory) newOne(tag string, pred acq.Predictor, rnd *rand.Rand) (acq.Criterion, error) {
	switch tag {
	case CritEI:
		return &acq.EI{Pred: pred, Xi: f.xi}, nil
	case CritLCB:
		return &acq.LCB{Pred: pred, Beta: f.beta}, nil
	case CritPI:
		return &acq.PI{Pred: pred, Xi: f.xi}, nil
	case CritThompson:
		return &acq.Thompson{Pred: pred, Rnd: rnd}, nil
	}
	return nil, &ConfigurationError{Param: "Criteria", Reason: fmt.Sprintf("unknown criterion %q", tag)}
}

func (f critFactory) NewSet(surrogates []Surrogate) ([]Criterion, error) {
	preds := make([]acq.Predictor, len(surrogates))
	for i, s := range surrogates {
		preds[i] = s
	}

	if len(f.tags) == 1 {
		crits := make([]Criterion, len(preds))
		for i, p := range preds {
			c, err := f.newOne(f.tags[0], p, f.spawn())
			if err != nil {
				return nil, err
			}
			crits[i] = c
		}
		return crits, nil
	}

	// Validate the tags once; NewHedgeSet calls subs per predictor.
	for _, tag := range f.tags {
		if _, err := f.newOne(tag, preds[0], f.rnd); err != nil {
			return nil, err
		}
	}
	subs := func(p acq.Predictor) []acq.Criterion {
		cs := make([]acq.Criterion, len(f.tags))
		for i, tag := range f.tags {
			cs[i], _ = f.newOne(tag, p, f.spawn())
		}
		return cs
	}
	hedges := acq.NewHedgeSet(preds, subs, f.eta, f.rnd)
	crits := make([]Criterion, len(hedges))
	for i, h := range hedges {
		crits[i] = h
	}
	return crits, nil
}

// priorSampler builds the independent Gaussian prior over log
// hyperparameters used both for seeding and as the MCMC prior term.
func priorSampler(mu, sigma []float64) sampler.Prior {
	return sampler.Prior{Mu: mu, Sigma: sigma}
}

// posteriorSampler draws particles with Metropolis-Hastings over the GP log
// marginal likelihood plus the log prior. With no observations it draws from
// the prior directly.
type posteriorSampler struct {
	kernel gp.Kernel
	prior  sampler.Prior
	burnIn int
	thin   int
	step   float64
}

var _ Sampler = posteriorSampler{}

func (s posteriorSampler) Sample(n int, xs mat.Matrix, ys []float64, rnd *rand.Rand) ([]Particle, error) {
	var thetas [][]float64
	var err error
	if xs == nil || len(ys) == 0 {
		thetas, err = s.prior.Sample(n, rnd)
	} else {
		target := func(theta []float64) float64 {
			return s.prior.LogProb(theta) + gp.LogMarginal(s.kernel, theta, xs, ys)
		}
		mh := sampler.MH{Target: target, BurnIn: s.burnIn, Thin: s.thin, Step: s.step}
		thetas, err = mh.Sample(n, s.prior.Mu, rnd)
	}
	if err != nil {
		return nil, err
	}
	particles := make([]Particle, len(thetas))
	for i, t := range thetas {
		particles[i] = t
	}
	return particles, nil
}
