package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"taskfire/custom_errors"
	"taskfire/internal/broker"
	"taskfire/internal/executor"
	"taskfire/internal/handler"
	"taskfire/internal/models"
	"taskfire/internal/scheduler"
	"taskfire/internal/state"
	"taskfire/internal/store"
	"taskfire/types/config"
)

// Engine is the public surface of the workflow system: perception
// adapters create tasks, the dashboard submits decisions and reads
// queues, the executor drives everything in between.
type Engine struct {
	cfg      *config.EngineConfig
	tasks    store.TaskStore
	audit    store.AuditStore
	breakers store.BreakerStore
	registry *handler.Registry
	exec     *executor.Executor
	sched    *scheduler.Scheduler
	intake   broker.IntakeBroker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// taskEnvelope is the queue-writer wire format for CreateTask.
type taskEnvelope struct {
	ID         string          `json:"id"`
	Type       models.TaskType `json:"type"`
	Priority   models.Priority `json:"priority"`
	Payload    json.RawMessage `json:"payload"`
	MaxRetries int             `json:"max_retries"`
}

// RegisterAction wires an external action executor for a task type.
func (e *Engine) RegisterAction(taskType string, a handler.Action) error {
	return e.registry.Register(taskType, a)
}

// RegisterJob adds a named scheduled job on a cron expression.
func (e *Engine) RegisterJob(ctx context.Context, name, spec string, fn scheduler.JobFunc) error {
	return e.sched.Register(ctx, name, spec, fn)
}

// CreateTask persists a new unit of work in the intake queue. In
// queue-writer mode the envelope goes through RabbitMQ first and is
// drained into the store by a background consumer; the returned
// record carries the final id either way.
func (e *Engine) CreateTask(ctx context.Context, taskType models.TaskType, priority models.Priority, payload json.RawMessage) (*models.TaskRecord, error) {
	rec := &models.TaskRecord{
		ID:         uuid.NewString(),
		Type:       taskType,
		Priority:   priority,
		State:      state.StateNeedsAction,
		Payload:    payload,
		MaxRetries: e.cfg.MaxRetries,
		Generation: 1,
	}

	if e.cfg.UseQueueWriter && e.intake != nil {
		body, err := json.Marshal(taskEnvelope{
			ID:         rec.ID,
			Type:       rec.Type,
			Priority:   rec.Priority,
			Payload:    rec.Payload,
			MaxRetries: rec.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal task envelope: %w", err)
		}
		if err := e.intake.Publish(e.cfg.RabbitMQConfig.Queue, body); err != nil {
			return nil, fmt.Errorf("publish task to broker: %w", err)
		}
		return rec, nil
	}

	if err := e.tasks.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SubmitDecision records a human approval or rejection and wakes the
// executor so the decision is applied promptly.
func (e *Engine) SubmitDecision(ctx context.Context, taskID string, decision models.Decision, actor string) error {
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return fmt.Errorf("unknown decision %q", decision)
	}
	err := e.tasks.SetDecision(ctx, models.ApprovalDecision{
		TaskID:    taskID,
		Decision:  decision,
		Actor:     actor,
		DecidedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	e.exec.Wake()
	return nil
}

// ListQueue pages through one queue in (priority desc, created asc)
// order.
func (e *Engine) ListQueue(ctx context.Context, st state.TaskState, page, pageSize int) (*models.PaginationResult[models.TaskRecord], error) {
	return e.tasks.ListByState(ctx, st, page, pageSize)
}

// FindTask returns one record by id.
func (e *Engine) FindTask(ctx context.Context, id string) (*models.TaskRecord, error) {
	return e.tasks.FindByID(ctx, id)
}

// CancelTask quarantines a record that has not begun executing.
// Records past the approval gate cannot be cancelled; their external
// action may already be underway.
func (e *Engine) CancelTask(ctx context.Context, taskID, actor, reason string) error {
	rec, err := e.tasks.FindByID(ctx, taskID)
	if err != nil {
		return err
	}
	if rec.State != state.StateNeedsAction && rec.State != state.StatePendingApproval {
		return fmt.Errorf("task %s is in %s; only needs_action or pending_approval tasks can be cancelled", taskID, rec.State)
	}
	detail := fmt.Sprintf("cancelled by %s", actor)
	if reason != "" {
		detail = fmt.Sprintf("%s: %s", detail, reason)
	}
	return e.tasks.Move(ctx, taskID, rec.State, state.StateQuarantine, models.ActorHuman, detail)
}

// ForceRequeue recovers a quarantined or failed record by creating a
// fresh record with an incremented generation. The terminal record is
// never resurrected; its history stays intact.
func (e *Engine) ForceRequeue(ctx context.Context, taskID string) (*models.TaskRecord, error) {
	old, err := e.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if old.State != state.StateFailed && old.State != state.StateQuarantine {
		return nil, fmt.Errorf("task %s is in %s; only failed or quarantined tasks can be requeued", taskID, old.State)
	}

	origin := old.ID
	if old.OriginID != nil {
		origin = *old.OriginID
	}
	fresh := &models.TaskRecord{
		ID:         uuid.NewString(),
		Type:       old.Type,
		Priority:   old.Priority,
		Payload:    old.Payload,
		MaxRetries: old.MaxRetries,
		Generation: old.Generation + 1,
		OriginID:   &origin,
	}
	if err := e.tasks.Insert(ctx, fresh); err != nil {
		return nil, err
	}
	e.exec.Wake()
	return fresh, nil
}

// ReadAuditLog streams entries after the given sequence number.
func (e *Engine) ReadAuditLog(ctx context.Context, since int64, limit int) ([]models.AuditEntry, error) {
	return e.audit.ReadSince(ctx, since, limit)
}

// AuditTrail returns the full transition chain of one record.
func (e *Engine) AuditTrail(ctx context.Context, taskID string) ([]models.AuditEntry, error) {
	return e.audit.ReadByTask(ctx, taskID)
}

// CountQueues returns the depth of every queue.
func (e *Engine) CountQueues(ctx context.Context) (map[state.TaskState]int, error) {
	return e.tasks.CountByState(ctx)
}

// VerifyTask cross-checks the queue-held state against the audit
// trail. The queue-held state stays authoritative for execution; a
// disagreement raises an alert task instead of halting.
func (e *Engine) VerifyTask(ctx context.Context, taskID string) (bool, error) {
	rec, err := e.tasks.FindByID(ctx, taskID)
	if err != nil {
		return false, err
	}
	trail, err := e.audit.ReadByTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if len(trail) == 0 {
		return false, fmt.Errorf("task %s has no audit trail", taskID)
	}
	last := trail[len(trail)-1]
	if last.ToState == rec.State {
		return true, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"origin_task_id": rec.ID,
		"error":          fmt.Sprintf("audit trail ends at %s but queue holds %s", last.ToState, rec.State),
	})
	alert := &models.TaskRecord{
		ID:         uuid.NewString(),
		Type:       models.TypeAlert,
		Priority:   models.PriorityUrgent,
		Payload:    payload,
		MaxRetries: e.cfg.MaxRetries,
		Generation: 1,
		OriginID:   &rec.ID,
	}
	if err := e.tasks.Insert(ctx, alert); err != nil {
		log.Printf("engine: create discrepancy alert for %s: %v", taskID, err)
	}
	return false, nil
}

// HealthCheck verifies store reachability and reports queue depths.
func (e *Engine) HealthCheck(ctx context.Context) (map[state.TaskState]int, error) {
	counts, err := e.tasks.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("store unreachable: %w", err)
	}
	return counts, nil
}

// Start launches the executor loop, the scheduler and, in queue-writer
// mode, the intake consumer. It returns immediately; use GracefulExit
// or cancel the context to stop.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.exec.Start(runCtx); err != nil && runCtx.Err() == nil {
			log.Printf("engine: executor stopped: %v", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.sched.Start(runCtx); err != nil && runCtx.Err() == nil {
			log.Printf("engine: scheduler stopped: %v", err)
		}
	}()

	if e.cfg.UseQueueWriter && e.intake != nil {
		msgs, err := e.intake.Consume(runCtx, e.cfg.RabbitMQConfig.Queue)
		if err != nil {
			cancel()
			return fmt.Errorf("start intake consumer: %w", err)
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.drainIntake(runCtx, msgs)
		}()
	}

	return nil
}

func (e *Engine) drainIntake(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case body, ok := <-msgs:
			if !ok {
				return
			}
			var env taskEnvelope
			if err := json.Unmarshal(body, &env); err != nil {
				log.Printf("engine: drop malformed task envelope: %v", err)
				continue
			}
			rec := &models.TaskRecord{
				ID:         env.ID,
				Type:       env.Type,
				Priority:   env.Priority,
				Payload:    env.Payload,
				MaxRetries: env.MaxRetries,
				Generation: 1,
			}
			if err := e.tasks.Insert(ctx, rec); err != nil {
				log.Printf("engine: insert task %s from broker: %v", env.ID, err)
			}
		}
	}
}

// GracefulExit blocks until SIGINT or SIGTERM, then shuts the engine
// down: background loops are cancelled, in-flight workers drained and
// the stores closed.
func (e *Engine) GracefulExit() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("TaskFire shutting down gracefully...")
	e.Stop()
	log.Println("TaskFire shutdown complete.")
}

// Stop cancels background loops and waits for them to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	if e.intake != nil {
		if err := e.intake.Close(); err != nil {
			log.Println(err.Error())
		}
	}
	if err := e.tasks.Close(); err != nil {
		log.Println(err.Error())
	}
	if err := e.audit.Close(); err != nil {
		log.Println(err.Error())
	}
	if err := e.breakers.Close(); err != nil {
		log.Println(err.Error())
	}
}

// DecisionNotAllowed reports whether the error means the record was
// not awaiting a decision, so callers can map it to a bad request.
func DecisionNotAllowed(err error) bool {
	return errors.Is(err, custom_errors.ErrDecisionNotAllowed)
}
