package acq

import (
	"math"
	"math/rand/v2"
)

// Hedge is the GP-Hedge portfolio criterion. A portfolio holds k candidate
// criteria; each decision round walks through the candidates (the comparison
// round), records the query each one proposes, and then commits to one
// candidate by sampling from a softmax over cumulative gains, where the gain
// of a proposal is the negated posterior mean at that point.
//
// An ensemble shares one selection-control block across all of its Hedge
// instances: candidate evaluation state is per instance (each is bound to its
// own surrogate), but the active-candidate index, the gains and the committed
// choice are common, so rotation decisions cannot diverge across particles.
// Build ensembles with NewHedgeSet.
type Hedge struct {
	ctl   *hedgeControl
	pred  Predictor
	crits []Criterion
}

var _ Criterion = (*Hedge)(nil)

// hedgeControl is the shared selection state of a Hedge set. The owning
// ensemble invokes InitialCriteria and RotateCriteria on every instance per
// protocol sweep; the control commits each shared transition on the first
// call of a sweep and replays the committed outcome to the remaining n-1
// calls.
type hedgeControl struct {
	n   int // instances sharing this control
	k   int // candidate criteria per instance
	eta float64
	rnd *rand.Rand

	gains     []float64
	proposals [][]float64
	active    int
	chosen    int
	rotated   bool

	initCalls int
	rotCalls  int
}

// DefaultHedgeEta is the softmax temperature used when none is configured.
const DefaultHedgeEta = 1.0

// NewHedgeSet builds one Hedge per predictor, all sharing a single selection
// control. subs constructs the candidate criteria for one predictor; it must
// return the candidates in the same order for every predictor, since the
// shared active index is positional. eta <= 0 selects DefaultHedgeEta.
func NewHedgeSet(preds []Predictor, subs func(Predictor) []Criterion, eta float64, rnd *rand.Rand) []*Hedge {
	if eta <= 0 {
		eta = DefaultHedgeEta
	}
	hs := make([]*Hedge, len(preds))
	var ctl *hedgeControl
	for i, p := range preds {
		crits := subs(p)
		if ctl == nil {
			ctl = &hedgeControl{
				n:         len(preds),
				k:         len(crits),
				eta:       eta,
				rnd:       rnd,
				gains:     make([]float64, len(crits)),
				proposals: make([][]float64, len(crits)),
				chosen:    -1,
			}
		}
		if len(crits) != ctl.k {
			panic(errLen)
		}
		hs[i] = &Hedge{ctl: ctl, pred: p, crits: crits}
	}
	return hs
}

// Evaluate scores query under the active candidate of this instance.
func (h *Hedge) Evaluate(query []float64) (float64, error) {
	return h.crits[h.ctl.active].Evaluate(query)
}

// Update forwards to the active candidate of this instance.
func (h *Hedge) Update(query []float64) error {
	return h.crits[h.ctl.active].Update(query)
}

// RequireComparison reports whether more than one candidate is in contention.
func (h *Hedge) RequireComparison() bool { return h.ctl.k > 1 }

// InitialCriteria starts a comparison round. The reset commits once per
// ensemble sweep.
func (h *Hedge) InitialCriteria() {
	ctl := h.ctl
	ctl.initCalls++
	if ctl.initCalls == 1 {
		ctl.active = 0
		ctl.chosen = -1
		ctl.rotated = false
		for i := range ctl.proposals {
			ctl.proposals[i] = nil
		}
	}
	if ctl.initCalls == ctl.n {
		ctl.initCalls = 0
	}
	h.crits[ctl.active].InitialCriteria()
}

// PushResult records prev as the proposal of the active candidate and updates
// its cumulative gain with the negated posterior mean of this instance's
// surrogate. The ensemble pushes to its primary instance only, so rewards are
// judged by a single surrogate. A failed prediction leaves the candidate's
// gain unchanged; the proposal is still recorded so the rotation protocol can
// finish the round.
func (h *Hedge) PushResult(prev []float64) {
	ctl := h.ctl
	p := make([]float64, len(prev))
	copy(p, prev)
	ctl.proposals[ctl.active] = p
	if d, err := h.pred.Predict(prev); err == nil {
		ctl.gains[ctl.active] += -d.Mu
	}
}

// RotateCriteria advances the shared active index, returning true while
// candidates remain to be compared. Once every candidate has proposed, the
// portfolio commits: the winner is drawn from the softmax over gains and
// false is returned. The transition commits once per ensemble sweep.
func (h *Hedge) RotateCriteria() bool {
	ctl := h.ctl
	ctl.rotCalls++
	if ctl.rotCalls == 1 {
		if ctl.active+1 < ctl.k {
			ctl.active++
			ctl.rotated = true
		} else {
			ctl.chosen = ctl.sample()
			ctl.active = ctl.chosen
			ctl.rotated = false
		}
	}
	if ctl.rotCalls == ctl.n {
		ctl.rotCalls = 0
	}
	return ctl.rotated
}

// BestCriteria writes the committed proposal into best and returns the name
// of the winning candidate. Before a commit it reports the currently active
// candidate.
func (h *Hedge) BestCriteria(best []float64) string {
	ctl := h.ctl
	idx := ctl.chosen
	if idx < 0 {
		idx = ctl.active
	}
	if p := ctl.proposals[idx]; len(best) == len(p) {
		copy(best, p)
	}
	return h.crits[idx].BestCriteria(nil)
}

// sample draws a candidate index from the softmax over cumulative gains.
func (ctl *hedgeControl) sample() int {
	max := ctl.gains[0]
	for _, g := range ctl.gains[1:] {
		if g > max {
			max = g
		}
	}
	weights := make([]float64, ctl.k)
	var sum float64
	for i, g := range ctl.gains {
		weights[i] = math.Exp(ctl.eta * (g - max))
		sum += weights[i]
	}
	u := ctl.rnd.Float64() * sum
	for i, w := range weights {
		u -= w
		if u < 0 {
			return i
		}
	}
	return ctl.k - 1
}
