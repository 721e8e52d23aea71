package breaker

import (
	"context"
	"sync"
	"time"

	"taskfire/custom_errors"
	"taskfire/internal/models"
	"taskfire/internal/store"
)

// Breaker guards named external operations. Counting is persisted
// through the BreakerStore so a tripped circuit survives restarts;
// the half-open probe gate is in-memory only, which at worst allows
// one extra probe per instance after a restart.
type Breaker struct {
	store      store.BreakerStore
	threshold  int
	resetAfter time.Duration
	now        func() time.Time

	mutex   sync.Mutex
	probing map[string]bool
}

func NewBreaker(breakerStore store.BreakerStore, threshold int, resetAfter time.Duration) *Breaker {
	return &Breaker{
		store:      breakerStore,
		threshold:  threshold,
		resetAfter: resetAfter,
		now:        time.Now,
		probing:    make(map[string]bool),
	}
}

// WithClock overrides the time source. Tests only.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Allow reports whether a call to the operation may proceed. A tripped
// circuit yields a CircuitOpenError until reset_after elapses; then
// exactly one probe call per instance is let through.
func (b *Breaker) Allow(ctx context.Context, operation string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	st, err := b.store.Load(ctx, operation)
	if err != nil {
		return err
	}
	if st == nil || st.TrippedAt == nil {
		return nil
	}

	retryAt := st.TrippedAt.Add(st.ResetAfter)
	if b.now().Before(retryAt) {
		return &custom_errors.CircuitOpenError{Operation: operation, RetryAt: retryAt}
	}

	// Half-open: one probe at a time.
	if b.probing[operation] {
		return &custom_errors.CircuitOpenError{Operation: operation, RetryAt: retryAt}
	}
	b.probing[operation] = true
	return nil
}

// Success resets the operation's failure count and closes the circuit.
func (b *Breaker) Success(ctx context.Context, operation string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	delete(b.probing, operation)
	return b.store.Save(ctx, &models.BreakerState{
		Operation:           operation,
		ConsecutiveFailures: 0,
		TrippedAt:           nil,
		ResetAfter:          b.resetAfter,
	})
}

// Failure increments the failure count and trips the circuit at the
// threshold. A failed half-open probe re-trips and restarts the timer.
func (b *Breaker) Failure(ctx context.Context, operation string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	delete(b.probing, operation)

	st, err := b.store.Load(ctx, operation)
	if err != nil {
		return err
	}
	if st == nil {
		st = &models.BreakerState{Operation: operation, ResetAfter: b.resetAfter}
	}

	st.ConsecutiveFailures++
	if st.ConsecutiveFailures >= b.threshold || st.TrippedAt != nil {
		now := b.now().UTC()
		st.TrippedAt = &now
	}
	return b.store.Save(ctx, st)
}
