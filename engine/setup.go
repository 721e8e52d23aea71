package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"taskfire/internal/breaker"
	"taskfire/internal/broker"
	"taskfire/internal/constants"
	"taskfire/internal/executor"
	"taskfire/internal/handler"
	"taskfire/internal/lock"
	"taskfire/internal/models"
	"taskfire/internal/scheduler"
	"taskfire/internal/state"
	"taskfire/internal/store"
	"taskfire/internal/store/postgres"
	"taskfire/internal/store/sqlite"
	"taskfire/types/config"
)

// SetUp opens the configured storage backend, runs migrations and
// wires the executor, scheduler and optional intake broker. The
// returned engine is idle until Start is called.
func SetUp(ctx context.Context, cfg *config.EngineConfig) (*Engine, error) {
	var (
		db      *sql.DB
		tasks   store.TaskStore
		audit   store.AuditStore
		brkrs   store.BreakerStore
		lockMgr lock.DistributedLockManager
		err     error
	)

	switch cfg.StorageDriver {
	case config.Sqlite:
		db, err = sqlite.Open(cfg.SqliteConfig.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		tasks = sqlite.NewTaskStore(db)
		audit = sqlite.NewAuditStore(db)
		brkrs = sqlite.NewBreakerStore(db)
		lockMgr = lock.NewSqliteLockManager(db, cfg.Instance)
	case config.Postgres:
		db, err = postgres.Open(cfg.PostgresConfig.ConnectionUrl)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		lockMgr = lock.NewPostgresLockManager(db)
		if err := postgres.Migrate(db, lockMgr); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		tasks = postgres.NewTaskStore(db)
		audit = postgres.NewAuditStore(db)
		brkrs = postgres.NewBreakerStore(db)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	registry := handler.NewRegistry()
	cb := breaker.NewBreaker(brkrs, constants.BreakerThreshold, cfg.BreakerWindow)

	exec := executor.New(tasks, registry, cb, executor.Options{
		Instance:       cfg.Instance,
		Interval:       cfg.PollInterval,
		LeaseTTL:       cfg.LeaseTTL,
		BatchSize:      cfg.BatchSize,
		WorkerCount:    cfg.WorkerCount,
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.BackoffBase,
		BackoffCap:     cfg.BackoffCap,
		DefaultTimeout: cfg.ActionTimeout,
	})

	eng := &Engine{
		cfg:      cfg,
		tasks:    tasks,
		audit:    audit,
		breakers: brkrs,
		registry: registry,
		exec:     exec,
		sched:    scheduler.New(lockMgr),
	}

	if cfg.UseQueueWriter {
		if cfg.RabbitMQConfig == nil {
			return nil, fmt.Errorf("queue writer enabled but rabbitmq config is missing")
		}
		mq, err := broker.NewRabbitMQ(
			cfg.RabbitMQConfig.URL,
			cfg.RabbitMQConfig.Exchange,
			cfg.RabbitMQConfig.Queue,
			cfg.RabbitMQConfig.RoutingKey,
		)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		eng.intake = mq
	}

	if err := eng.registerBuiltinActions(); err != nil {
		return nil, err
	}
	if err := eng.registerBuiltinJobs(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}

// registerBuiltinActions installs the actions the engine itself
// depends on. Alerts need a registered action so they survive the
// missing-action quarantine check; approving one simply acknowledges
// it.
func (e *Engine) registerBuiltinActions() error {
	return e.registry.Register(string(models.TypeAlert), handler.Action{
		Operation:  "alert_acknowledge",
		Idempotent: true,
		Execute: func(ctx context.Context, payload json.RawMessage) (handler.Result, error) {
			return handler.Result{Success: true, Detail: "alert acknowledged"}, nil
		},
	})
}

// registerBuiltinJobs wires the standing maintenance schedule. Custom
// jobs can be added next to these via RegisterJob.
func (e *Engine) registerBuiltinJobs(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		fn   scheduler.JobFunc
	}{
		{
			name: "process_approvals",
			spec: "*/10 * * * *",
			fn: func(context.Context) error {
				e.exec.Wake()
				return nil
			},
		},
		{
			name: "release_stale_leases",
			spec: "*/5 * * * *",
			fn: func(jobCtx context.Context) error {
				requeued, err := e.tasks.ReclaimExpired(jobCtx, time.Now().UTC())
				if err != nil {
					return err
				}
				if len(requeued) > 0 {
					log.Printf("engine: requeued %d expired leases", len(requeued))
					e.exec.Wake()
				}
				return nil
			},
		},
		{
			name: "health_check",
			spec: "0 * * * *",
			fn:   e.healthCheckJob,
		},
		{
			name: "morning_briefing",
			spec: "0 7 * * 1",
			fn:   e.morningBriefingJob,
		},
	}

	for _, j := range jobs {
		if err := e.sched.Register(ctx, j.name, j.spec, j.fn); err != nil {
			return fmt.Errorf("register job %s: %w", j.name, err)
		}
	}
	return nil
}

// healthCheckJob pings the store and raises an alert when the failure
// queues grow past the point a human should know about.
func (e *Engine) healthCheckJob(ctx context.Context) error {
	counts, err := e.HealthCheck(ctx)
	if err != nil {
		return err
	}
	stuck := counts[state.StateFailed] + counts[state.StateQuarantine]
	if stuck == 0 {
		return nil
	}
	log.Printf("engine: health check found %d failed, %d quarantined tasks",
		counts[state.StateFailed], counts[state.StateQuarantine])

	payload, err := json.Marshal(map[string]any{
		"reason":      "health_check",
		"failed":      counts[state.StateFailed],
		"quarantined": counts[state.StateQuarantine],
	})
	if err != nil {
		return err
	}
	_, err = e.CreateTask(ctx, models.TypeAlert, models.PriorityHigh, payload)
	return err
}

// morningBriefingJob seeds a briefing task summarizing queue depths;
// the registered briefing action turns it into the actual digest.
func (e *Engine) morningBriefingJob(ctx context.Context) error {
	counts, err := e.tasks.CountByState(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"kind":   "morning_briefing",
		"queues": counts,
	})
	if err != nil {
		return err
	}
	_, err = e.CreateTask(ctx, models.TypeBriefing, models.PriorityMedium, payload)
	return err
}
