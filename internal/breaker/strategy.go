package breaker

import (
	"errors"

	"taskfire/custom_errors"
)

// Strategy selects how a failure is recovered. Selection is per
// failure classification, not per task type.
type Strategy string

const (
	StrategyRetry      Strategy = "retry"      // transient; executor backoff
	StrategyFallback   Strategy = "fallback"   // primary method unavailable
	StrategySkip       Strategy = "skip"       // non-critical; complete without executing
	StrategyAlert      Strategy = "alert"      // needs human judgment
	StrategyQuarantine Strategy = "quarantine" // suspicious or malformed; no retry
)

// Classifier maps a failure to a recovery strategy.
type Classifier func(err error) Strategy

type strategyError struct {
	err      error
	strategy Strategy
}

func (e *strategyError) Error() string {
	return e.err.Error()
}

func (e *strategyError) Unwrap() error {
	return e.err
}

// WithStrategy tags an error with an explicit recovery strategy,
// letting action executors steer classification.
func WithStrategy(err error, s Strategy) error {
	if err == nil {
		return nil
	}
	return &strategyError{err: err, strategy: s}
}

// Classify is the default classifier. Ambiguous outcomes always go to
// a human; everything untagged is treated as transient.
func Classify(err error) Strategy {
	var tagged *strategyError
	if errors.As(err, &tagged) {
		return tagged.strategy
	}

	var ambiguous *custom_errors.AmbiguousOutcomeError
	if errors.As(err, &ambiguous) {
		return StrategyAlert
	}

	var invalid *custom_errors.InvalidTransitionError
	if errors.As(err, &invalid) {
		return StrategyQuarantine
	}

	return StrategyRetry
}
