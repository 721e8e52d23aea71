package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"taskfire/custom_errors"
	"taskfire/internal/breaker"
	"taskfire/internal/constants"
	"taskfire/internal/handler"
	"taskfire/internal/models"
	"taskfire/internal/state"
	"taskfire/internal/store"

	"github.com/google/uuid"
)

// Options tune one executor instance. Zero values fall back to the
// defaults below.
type Options struct {
	Instance       string
	Interval       time.Duration
	LeaseTTL       time.Duration
	BatchSize      int
	WorkerCount    int
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	DefaultTimeout time.Duration
	Classifier     breaker.Classifier
}

const (
	defaultInterval    = 10 * time.Second
	defaultLeaseTTL    = 5 * time.Minute
	defaultBatchSize   = 100
	defaultWorkers     = 5
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 5 * time.Minute
	defaultTimeout     = 30 * time.Second
)

// Executor is the persistence loop: it polls the queues on a fixed
// interval, claims eligible records, drives them through the workflow
// and owns all retry and recovery behavior, so individual actions can
// be written as plain, non-resilient functions.
type Executor struct {
	tasks    store.TaskStore
	registry *handler.Registry
	breaker  *breaker.Breaker
	classify breaker.Classifier
	opts     Options
	wake     chan struct{}
	now      func() time.Time
}

func New(tasks store.TaskStore, registry *handler.Registry, cb *breaker.Breaker, opts Options) *Executor {
	if opts.Instance == "" {
		opts.Instance = uuid.NewString()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = defaultWorkers
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = constants.MaxRetryAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTimeout
	}
	classify := opts.Classifier
	if classify == nil {
		classify = breaker.Classify
	}
	return &Executor{
		tasks:    tasks,
		registry: registry,
		breaker:  cb,
		classify: classify,
		opts:     opts,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Wake triggers an immediate cycle without waiting for the interval.
func (e *Executor) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Start runs cycles until the context is cancelled.
func (e *Executor) Start(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		if err := e.RunCycle(ctx); err != nil {
			log.Printf("executor %s: cycle error: %v", e.opts.Instance, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.wake:
		}
	}
}

// RunCycle performs one full pass: reclaim dead leases, drive new
// work, apply human decisions, execute approved actions. All claims
// taken during the cycle are released before it returns.
func (e *Executor) RunCycle(ctx context.Context) error {
	now := e.now().UTC()

	requeued, err := e.tasks.ReclaimExpired(ctx, now)
	if err != nil {
		log.Printf("executor %s: reclaim expired leases: %v", e.opts.Instance, err)
	}
	for _, id := range requeued {
		log.Printf("executor %s: requeued task %s after lease expiry", e.opts.Instance, id)
	}

	sem := semaphore.NewWeighted(int64(e.opts.WorkerCount))
	var wg sync.WaitGroup

	dispatch := func(rec models.TaskRecord, drive func(context.Context, models.TaskRecord)) {
		if err := e.tasks.Claim(ctx, rec.ID, e.opts.Instance, e.opts.LeaseTTL); err != nil {
			var conflict *custom_errors.LeaseConflictError
			if !errors.As(err, &conflict) {
				log.Printf("executor %s: claim %s: %v", e.opts.Instance, rec.ID, err)
			}
			return
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			e.release(rec.ID)
			return
		}
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("executor %s: panic on task %s: %v", e.opts.Instance, rec.ID, r)
				}
				e.release(rec.ID)
				sem.Release(1)
				wg.Done()
			}()
			drive(ctx, rec)
		}()
	}

	fresh, err := e.tasks.ListClaimable(ctx, state.StateNeedsAction, now, e.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("list needs_action: %w", err)
	}
	for _, rec := range fresh {
		dispatch(rec, e.driveNew)
	}

	decided, err := e.tasks.ListDecided(ctx, now, e.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("list decided: %w", err)
	}
	for _, rec := range decided {
		dispatch(rec, e.applyDecision)
	}

	approved, err := e.tasks.ListClaimable(ctx, state.StateApproved, now, e.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("list approved: %w", err)
	}
	for _, rec := range approved {
		dispatch(rec, e.executeApproved)
	}

	wg.Wait()
	return nil
}

// driveNew advances a needs_action record: auto-approved types run to
// completion, everything else gets its action payload drafted and is
// parked in pending_approval for a human.
func (e *Executor) driveNew(ctx context.Context, rec models.TaskRecord) {
	if err := e.move(ctx, rec.ID, state.StateNeedsAction, state.StateInProgress, models.ActorSystem, "picked up"); err != nil {
		log.Printf("executor %s: task %s: %v", e.opts.Instance, rec.ID, err)
		return
	}

	action, ok := e.registry.Lookup(string(rec.Type))
	if !ok {
		detail := fmt.Sprintf("no action registered for type %s", rec.Type)
		e.quarantine(ctx, rec.ID, state.StateInProgress, detail)
		return
	}

	if action.AutoApprove {
		result, err := e.executeAction(ctx, &rec, action)
		if err != nil {
			e.recover(ctx, rec, state.StateInProgress, action, err)
			return
		}
		e.complete(ctx, rec.ID, state.StateInProgress, result.Detail)
		return
	}

	if action.Draft != nil {
		draft, err := action.Draft(ctx, rec.Payload)
		if err != nil {
			e.recover(ctx, rec, state.StateInProgress, action, err)
			return
		}
		if err := e.tasks.UpdatePayload(ctx, rec.ID, draft); err != nil {
			log.Printf("executor %s: update payload %s: %v", e.opts.Instance, rec.ID, err)
			return
		}
	}

	if err := e.move(ctx, rec.ID, state.StateInProgress, state.StatePendingApproval, models.ActorSystem, "awaiting approval"); err != nil {
		log.Printf("executor %s: task %s: %v", e.opts.Instance, rec.ID, err)
	}
}

// applyDecision consumes an externally submitted decision.
func (e *Executor) applyDecision(ctx context.Context, rec models.TaskRecord) {
	if rec.Decision == nil {
		return
	}
	actor := ""
	if rec.DecisionActor != nil {
		actor = *rec.DecisionActor
	}

	switch *rec.Decision {
	case models.DecisionApproved:
		detail := fmt.Sprintf("approved by %s", actor)
		if err := e.move(ctx, rec.ID, state.StatePendingApproval, state.StateApproved, models.ActorHuman, detail); err != nil {
			log.Printf("executor %s: task %s: %v", e.opts.Instance, rec.ID, err)
			return
		}
		e.executeApproved(ctx, rec)

	case models.DecisionRejected:
		detail := fmt.Sprintf("rejected by %s", actor)
		if err := e.move(ctx, rec.ID, state.StatePendingApproval, state.StateRejected, models.ActorHuman, detail); err != nil {
			log.Printf("executor %s: task %s: %v", e.opts.Instance, rec.ID, err)
			return
		}
		if err := e.move(ctx, rec.ID, state.StateRejected, state.StateRejectedArchived, models.ActorSystem, "archived"); err != nil {
			log.Printf("executor %s: task %s: %v", e.opts.Instance, rec.ID, err)
		}

	default:
		e.quarantine(ctx, rec.ID, state.StatePendingApproval, fmt.Sprintf("unknown decision %q", *rec.Decision))
	}
}

// executeApproved invokes the external action for an approved record.
func (e *Executor) executeApproved(ctx context.Context, rec models.TaskRecord) {
	action, ok := e.registry.Lookup(string(rec.Type))
	if !ok {
		e.quarantine(ctx, rec.ID, state.StateApproved, fmt.Sprintf("no action registered for type %s", rec.Type))
		return
	}

	result, err := e.executeAction(ctx, &rec, action)
	if err != nil {
		e.recover(ctx, rec, state.StateApproved, action, err)
		return
	}
	e.complete(ctx, rec.ID, state.StateApproved, result.Detail)
}

// executeAction runs one bounded attempt through the circuit breaker.
// A CircuitOpenError is returned as-is and never counted against the
// breaker again.
func (e *Executor) executeAction(ctx context.Context, rec *models.TaskRecord, action handler.Action) (handler.Result, error) {
	if err := e.breaker.Allow(ctx, action.Operation); err != nil {
		return handler.Result{}, err
	}

	timeout := action.Timeout
	if timeout <= 0 {
		timeout = e.opts.DefaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := action.Execute(attemptCtx, rec.Payload)
	if err == nil {
		if berr := e.breaker.Success(ctx, action.Operation); berr != nil {
			log.Printf("executor %s: breaker success %s: %v", e.opts.Instance, action.Operation, berr)
		}
		return result, nil
	}

	if berr := e.breaker.Failure(ctx, action.Operation); berr != nil {
		log.Printf("executor %s: breaker failure %s: %v", e.opts.Instance, action.Operation, berr)
	}

	// A timeout on a non-idempotent action may have succeeded on the
	// far side; never retry it blindly.
	if errors.Is(err, context.DeadlineExceeded) && !action.Idempotent {
		return handler.Result{}, &custom_errors.AmbiguousOutcomeError{Operation: action.Operation, Err: err}
	}

	return handler.Result{}, &custom_errors.ExecutionError{Operation: action.Operation, Err: err}
}

// recover applies the recovery strategy selected for the failure.
func (e *Executor) recover(ctx context.Context, rec models.TaskRecord, from state.TaskState, action handler.Action, cause error) {
	switch e.classify(cause) {
	case breaker.StrategyRetry:
		e.retry(ctx, rec, from, cause)

	case breaker.StrategyFallback:
		if action.Fallback == nil {
			e.fail(ctx, rec, from, fmt.Errorf("no fallback declared: %w", cause))
			return
		}
		attemptCtx, cancel := context.WithTimeout(ctx, e.opts.DefaultTimeout)
		result, err := action.Fallback(attemptCtx, rec.Payload)
		cancel()
		if err != nil {
			// The alternate path is attempted exactly once.
			e.fail(ctx, rec, from, fmt.Errorf("fallback failed: %w", err))
			return
		}
		detail := result.Detail
		if detail == "" {
			detail = "completed via fallback"
		}
		e.complete(ctx, rec.ID, from, detail)

	case breaker.StrategySkip:
		if err := e.tasks.RecordFailure(ctx, rec.ID, cause.Error(), nil); err != nil {
			log.Printf("executor %s: record failure %s: %v", e.opts.Instance, rec.ID, err)
		}
		e.complete(ctx, rec.ID, from, "skipped")

	case breaker.StrategyAlert:
		e.raiseAlert(ctx, rec, cause)
		if err := e.tasks.RecordFailure(ctx, rec.ID, cause.Error(), nil); err != nil {
			log.Printf("executor %s: record failure %s: %v", e.opts.Instance, rec.ID, err)
		}
		detail := "escalated to human review"
		var ambiguous *custom_errors.AmbiguousOutcomeError
		if errors.As(cause, &ambiguous) {
			detail = "ambiguous_outcome"
		}
		e.quarantine(ctx, rec.ID, from, detail)

	case breaker.StrategyQuarantine:
		if err := e.tasks.RecordFailure(ctx, rec.ID, cause.Error(), nil); err != nil {
			log.Printf("executor %s: record failure %s: %v", e.opts.Instance, rec.ID, err)
		}
		e.quarantine(ctx, rec.ID, from, cause.Error())
	}
}

// retry schedules another attempt with exponential backoff, or gives
// up into failed once attempts are exhausted.
func (e *Executor) retry(ctx context.Context, rec models.TaskRecord, from state.TaskState, cause error) {
	maxRetries := rec.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.opts.MaxRetries
	}

	if rec.RetryCount+1 >= maxRetries {
		if err := e.tasks.RecordFailure(ctx, rec.ID, cause.Error(), nil); err != nil {
			log.Printf("executor %s: record failure %s: %v", e.opts.Instance, rec.ID, err)
		}
		e.fail(ctx, rec, from, cause)
		return
	}

	next := e.now().UTC().Add(Backoff(e.opts.BackoffBase, e.opts.BackoffCap, rec.RetryCount))
	if err := e.tasks.RecordFailure(ctx, rec.ID, cause.Error(), &next); err != nil {
		log.Printf("executor %s: record failure %s: %v", e.opts.Instance, rec.ID, err)
		return
	}

	// Approved records stay put and are re-executed when due; anything
	// else goes back to intake for a fresh drive.
	if from == state.StateApproved {
		return
	}
	detail := fmt.Sprintf("retry %d/%d scheduled", rec.RetryCount+1, maxRetries)
	if err := e.move(ctx, rec.ID, from, state.StateNeedsAction, models.ActorSystem, detail); err != nil {
		log.Printf("executor %s: task %s: %v", e.opts.Instance, rec.ID, err)
	}
}

// fail moves a record into the terminal failed queue and raises an
// alert record so no failure dies silently.
func (e *Executor) fail(ctx context.Context, rec models.TaskRecord, from state.TaskState, cause error) {
	if err := e.move(ctx, rec.ID, from, state.StateFailed, models.ActorSystem, cause.Error()); err != nil {
		log.Printf("executor %s: task %s: %v", e.opts.Instance, rec.ID, err)
		return
	}
	e.raiseAlert(ctx, rec, cause)
}

// raiseAlert creates a first-class alert task referencing the failed
// record; alerts flow through the same workflow as everything else.
func (e *Executor) raiseAlert(ctx context.Context, rec models.TaskRecord, cause error) {
	if rec.Type == models.TypeAlert {
		// An alert about an alert would loop forever.
		return
	}
	payload, err := json.Marshal(map[string]string{
		"origin_task_id": rec.ID,
		"origin_type":    string(rec.Type),
		"error":          cause.Error(),
	})
	if err != nil {
		log.Printf("executor %s: marshal alert payload: %v", e.opts.Instance, err)
		return
	}
	alert := &models.TaskRecord{
		ID:         uuid.NewString(),
		Type:       models.TypeAlert,
		Priority:   models.PriorityUrgent,
		Payload:    payload,
		MaxRetries: e.opts.MaxRetries,
		Generation: 1,
		OriginID:   &rec.ID,
	}
	if err := e.tasks.Insert(ctx, alert); err != nil {
		log.Printf("executor %s: create alert for %s: %v", e.opts.Instance, rec.ID, err)
	}
}

func (e *Executor) complete(ctx context.Context, id string, from state.TaskState, detail string) {
	if detail == "" {
		detail = "completed"
	}
	if err := e.move(ctx, id, from, state.StateDone, models.ActorSystem, detail); err != nil {
		log.Printf("executor %s: task %s: %v", e.opts.Instance, id, err)
	}
}

func (e *Executor) quarantine(ctx context.Context, id string, from state.TaskState, detail string) {
	if err := e.move(ctx, id, from, state.StateQuarantine, models.ActorSystem, detail); err != nil {
		log.Printf("executor %s: task %s: %v", e.opts.Instance, id, err)
	}
}

func (e *Executor) move(ctx context.Context, id string, from, to state.TaskState, actor models.Actor, detail string) error {
	return e.tasks.Move(ctx, id, from, to, actor, detail)
}

func (e *Executor) release(id string) {
	// Release must survive a cancelled cycle context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.tasks.Release(ctx, id, e.opts.Instance); err != nil {
		log.Printf("executor %s: release %s: %v", e.opts.Instance, id, err)
	}
}
