package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"taskfire/internal/constants"
	"taskfire/internal/lock"
)

// JobFunc is one named maintenance job. Jobs hold no business logic;
// they wake the executor or create synthetic task records.
type JobFunc func(ctx context.Context) error

// Scheduler is a timer multiplexer over robfig/cron. Only one engine
// instance runs it at a time, guarded by the distributed lock.
type Scheduler struct {
	cron    *cron.Cron
	lockMgr lock.DistributedLockManager

	mutex sync.Mutex
	names map[string]cron.EntryID
}

func New(lockMgr lock.DistributedLockManager) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		lockMgr: lockMgr,
		names:   make(map[string]cron.EntryID),
	}
}

// Register adds a named job on a cron expression.
func (s *Scheduler) Register(ctx context.Context, name, spec string, fn JobFunc) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if name == "" || fn == nil {
		return fmt.Errorf("job must have a name and a function")
	}
	if _, exists := s.names[name]; exists {
		return fmt.Errorf("job '%s' already registered", name)
	}

	id, err := s.cron.AddFunc(spec, func() {
		if err := fn(ctx); err != nil {
			log.Printf("scheduler: job %s failed: %v", name, err)
		}
	})
	if err != nil {
		return fmt.Errorf("register job '%s': %w", name, err)
	}
	s.names[name] = id
	return nil
}

// Jobs lists registered job names.
func (s *Scheduler) Jobs() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	return names
}

// Start runs the scheduler until the context is cancelled. It blocks
// while holding the scheduler lock so a second instance stays idle.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.lockMgr.Acquire(constants.SchedulerLock); err != nil {
		return err
	}
	defer s.lockMgr.Release(constants.SchedulerLock)

	s.cron.Start()
	<-ctx.Done()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}
