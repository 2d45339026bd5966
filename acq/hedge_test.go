package acq

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

// namedStub is a candidate criterion with a fixed score and a name.
type namedStub struct {
	name  string
	score float64
	standalone
}

func (c *namedStub) Evaluate(query []float64) (float64, error) { return c.score, nil }

func (c *namedStub) BestCriteria(best []float64) string {
	c.best(best)
	return c.name
}

// predByMu scores proposals by their first coordinate: the posterior mean at
// x is x[0], so lower coordinates earn higher hedge gains.
type predByMu struct{}

func (predByMu) Predict(query []float64) (distuv.Normal, error) {
	return distuv.Normal{Mu: query[0], Sigma: 1}, nil
}

func (predByMu) Min() float64 { return 0 }

func newTestSet(n int) []*Hedge {
	preds := make([]Predictor, n)
	for i := range preds {
		preds[i] = predByMu{}
	}
	subs := func(p Predictor) []Criterion {
		return []Criterion{
			&namedStub{name: "a", score: 1},
			&namedStub{name: "b", score: 2},
			&namedStub{name: "c", score: 3},
		}
	}
	return NewHedgeSet(preds, subs, 100, rand.New(rand.NewPCG(11, 13)))
}

// rotateAll applies the rotation to every instance, as the owning ensemble
// does, and returns the last outcome.
func rotateAll(hs []*Hedge) bool {
	var rotated bool
	for _, h := range hs {
		rotated = h.RotateCriteria()
	}
	return rotated
}

func initAll(hs []*Hedge) {
	for _, h := range hs {
		h.InitialCriteria()
	}
}

func TestHedgeSharedRotation(t *testing.T) {
	for _, n := range []int{1, 3, 6} {
		hs := newTestSet(n)
		initAll(hs)

		// Candidate 0 active everywhere.
		for i, h := range hs {
			v, err := h.Evaluate([]float64{0})
			require.NoError(t, err)
			assert.Equal(t, 1.0, v, "n=%d instance %d", n, i)
		}

		hs[0].PushResult([]float64{0.5})
		require.True(t, rotateAll(hs), "two candidates must remain")
		for i, h := range hs {
			v, err := h.Evaluate([]float64{0})
			require.NoError(t, err)
			assert.Equal(t, 2.0, v, "n=%d instance %d after first rotation", n, i)
		}

		hs[0].PushResult([]float64{-4})
		require.True(t, rotateAll(hs))

		hs[0].PushResult([]float64{2})
		assert.False(t, rotateAll(hs), "portfolio must commit after the last candidate")

		// Candidate "b" proposed the lowest posterior mean, so with a
		// sharp softmax it wins regardless of the draw.
		best := make([]float64, 1)
		for i, h := range hs {
			assert.Equal(t, "b", h.BestCriteria(best), "n=%d instance %d", n, i)
			assert.Equal(t, -4.0, best[0], "n=%d instance %d", n, i)
		}
	}
}

func TestHedgeRequireComparison(t *testing.T) {
	hs := newTestSet(2)
	assert.True(t, hs[0].RequireComparison())

	single := NewHedgeSet([]Predictor{predByMu{}}, func(p Predictor) []Criterion {
		return []Criterion{&namedStub{name: "only"}}
	}, 0, rand.New(rand.NewPCG(1, 1)))
	assert.False(t, single[0].RequireComparison())
}

func TestHedgeRoundsAreIndependent(t *testing.T) {
	hs := newTestSet(2)
	for round := 0; round < 3; round++ {
		initAll(hs)
		rot := 0
		for {
			hs[0].PushResult([]float64{float64(rot)})
			if !rotateAll(hs) {
				break
			}
			rot++
			require.Less(t, rot, 10, "rotation failed to terminate")
		}
		assert.Equal(t, 2, rot, "round %d: three candidates take two rotations", round)
	}
}

func TestHedgeUpdateDelegates(t *testing.T) {
	hs := newTestSet(2)
	initAll(hs)
	require.NoError(t, hs[0].Update([]float64{0.1}))
	require.NoError(t, hs[1].Update([]float64{0.9}))

	// Per-instance evaluation state may diverge; shared selection may not.
	a0 := hs[0].crits[0].(*namedStub)
	a1 := hs[1].crits[0].(*namedStub)
	assert.Equal(t, []float64{0.1}, a0.last)
	assert.Equal(t, []float64{0.9}, a1.last)
}
