package bayesopt

import (
	"errors"
	"fmt"
)

// ErrNoObservations is returned by fit and update operations invoked before
// any sample has been supplied.
var ErrNoObservations = errors.New("bayesopt: no observations")

// ErrNotFitted is returned by Prediction when the current epoch's surrogates
// have not been successfully fitted.
var ErrNotFitted = errors.New("bayesopt: surrogates not fitted")

// errParticleCount reports a sampler that returned the wrong number of
// particles.
func errParticleCount(got, want int) error {
	return fmt.Errorf("sampler returned %d particles, want %d", got, want)
}

// ConfigurationError reports an invalid static parameter. It is fatal to the
// operation that detects it; there is no point retrying without changing the
// configuration.
type ConfigurationError struct {
	Param  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("bayesopt: bad configuration: %s: %s", e.Param, e.Reason)
}

// SamplingError reports a hyperparameter sampler failure. Callers may retry
// with a fallback prior or fewer particles.
type SamplingError struct {
	Err error
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("bayesopt: hyperparameter sampling: %v", e.Err)
}

func (e *SamplingError) Unwrap() error { return e.Err }

// SurrogateFitError reports a numerical failure while fitting or updating one
// particle's surrogate. The whole ensemble operation fails: a silently
// incomplete ensemble would bias the marginal acquisition estimate.
type SurrogateFitError struct {
	Particle int
	Op       string // "fit" or "update"
	Err      error
}

func (e *SurrogateFitError) Error() string {
	return fmt.Sprintf("bayesopt: particle %d: surrogate %s: %v", e.Particle, e.Op, e.Err)
}

func (e *SurrogateFitError) Unwrap() error { return e.Err }

// EvaluationError reports a criterion failure at a specific query point.
// Callers typically reject that query candidate and continue.
type EvaluationError struct {
	Particle int
	Query    []float64
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("bayesopt: particle %d: criterion at %v: %v", e.Particle, e.Query, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
