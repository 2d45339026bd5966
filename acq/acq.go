// Package acq implements acquisition criteria for Bayesian optimization.
// A criterion scores candidate query points using the posterior of a
// surrogate model; the portfolio protocol (InitialCriteria, PushResult,
// RotateCriteria) lets an online Hedge scheme choose among several criteria.
// Standalone criteria implement the protocol as no-ops.
package acq

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

var errLen = "acq: length mismatch"

// Predictor is the view of a surrogate model a criterion needs: a posterior
// predictive distribution at a query point, and the minimum observed value.
type Predictor interface {
	Predict(query []float64) (distuv.Normal, error)
	Min() float64
}

// Criterion scores candidate query points. Evaluate returns a figure of merit
// where larger is better; criteria are written for minimization of the
// underlying objective. The remaining methods implement the portfolio
// protocol; see Hedge.
type Criterion interface {
	// Evaluate scores query. It must be free of side effects on the
	// criterion's selection state.
	Evaluate(query []float64) (float64, error)
	// Update records that query was selected for evaluation of the true
	// objective.
	Update(query []float64) error
	// RequireComparison reports whether the criterion needs a comparison
	// round among candidate criteria before committing to a query.
	RequireComparison() bool
	// InitialCriteria starts a comparison round.
	InitialCriteria()
	// PushResult records the point proposed by the active candidate.
	PushResult(prev []float64)
	// RotateCriteria advances to the next candidate, reporting whether
	// more candidates remain.
	RotateCriteria() bool
	// BestCriteria writes the committed proposal into best (when best has
	// the right length) and returns the active criterion's name.
	BestCriteria(best []float64) string
}

// standalone provides the portfolio protocol defaults for criteria that are
// not part of a portfolio: no comparison round, no rotation.
type standalone struct {
	last []float64
}

func (s *standalone) Update(query []float64) error {
	s.last = append(s.last[:0], query...)
	return nil
}

func (s *standalone) RequireComparison() bool { return false }
func (s *standalone) InitialCriteria()        {}
func (s *standalone) PushResult([]float64)    {}
func (s *standalone) RotateCriteria() bool    { return false }

func (s *standalone) best(dst []float64) {
	if len(dst) == len(s.last) {
		copy(dst, s.last)
	}
}

// EI is the expected improvement criterion
//
//	EI(x) = (f_min - μ - ξ) Φ(z) + σ φ(z),  z = (f_min - μ - ξ)/σ
//
// with ξ a minimum-improvement margin.
type EI struct {
	Pred Predictor
	Xi   float64
	standalone
}

var _ Criterion = (*EI)(nil)

func (c *EI) Evaluate(query []float64) (float64, error) {
	d, err := c.Pred.Predict(query)
	if err != nil {
		return 0, err
	}
	diff := c.Pred.Min() - d.Mu - c.Xi
	if d.Sigma <= 0 {
		return math.Max(diff, 0), nil
	}
	z := diff / d.Sigma
	return diff*distuv.UnitNormal.CDF(z) + d.Sigma*distuv.UnitNormal.Prob(z), nil
}

func (c *EI) BestCriteria(best []float64) string {
	c.best(best)
	return "ei"
}

// LCB is the lower confidence bound criterion for minimization, scored as
// -(μ - β σ) so that larger values mark more promising queries.
type LCB struct {
	Pred Predictor
	Beta float64
	standalone
}

var _ Criterion = (*LCB)(nil)

func (c *LCB) Evaluate(query []float64) (float64, error) {
	d, err := c.Pred.Predict(query)
	if err != nil {
		return 0, err
	}
	return -(d.Mu - c.Beta*d.Sigma), nil
}

func (c *LCB) BestCriteria(best []float64) string {
	c.best(best)
	return "lcb"
}

// PI is the probability of improvement criterion, Φ((f_min - μ - ξ)/σ).
type PI struct {
	Pred Predictor
	Xi   float64
	standalone
}

var _ Criterion = (*PI)(nil)

func (c *PI) Evaluate(query []float64) (float64, error) {
	d, err := c.Pred.Predict(query)
	if err != nil {
		return 0, err
	}
	if d.Sigma <= 0 {
		if c.Pred.Min()-d.Mu-c.Xi > 0 {
			return 1, nil
		}
		return 0, nil
	}
	return distuv.UnitNormal.CDF((c.Pred.Min() - d.Mu - c.Xi) / d.Sigma), nil
}

func (c *PI) BestCriteria(best []float64) string {
	c.best(best)
	return "pi"
}

// Thompson scores a query with a single draw from the posterior predictive,
// negated for minimization. Draws consume the configured random source, so
// repeated evaluation at the same point legitimately differs. Rnd must not be
// shared with any criterion evaluated concurrently; give each instance its
// own engine.
type Thompson struct {
	Pred Predictor
	Rnd  *rand.Rand
	standalone
}

var _ Criterion = (*Thompson)(nil)

func (c *Thompson) Evaluate(query []float64) (float64, error) {
	d, err := c.Pred.Predict(query)
	if err != nil {
		return 0, err
	}
	d.Src = c.Rnd
	return -d.Rand(), nil
}

func (c *Thompson) BestCriteria(best []float64) string {
	c.best(best)
	return "thompson"
}
