package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Result is what an external action executor reports back.
type Result struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// ActionFunc executes one external action (send an email, post to a
// network). Payload is opaque engine data; the function must either
// fully succeed or fully fail, never leave partial effects silently.
type ActionFunc func(ctx context.Context, payload json.RawMessage) (Result, error)

// DraftFunc synthesizes the action payload for a task before it is
// parked for human approval. This is the boundary to the external
// reasoning agent; a nil DraftFunc passes the payload through.
type DraftFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Action describes how one task type is executed.
type Action struct {
	// Operation names the external operation for circuit-breaker
	// accounting (e.g. "send_email"). Defaults to the task type.
	Operation string

	Execute  ActionFunc
	Fallback ActionFunc
	Draft    DraftFunc

	// AutoApprove skips the human checkpoint for this type.
	AutoApprove bool

	// Idempotent actions may be retried after a timeout; for the rest
	// a timeout is an ambiguous outcome escalated to a human.
	Idempotent bool

	// Timeout bounds one execution attempt. Zero uses the engine
	// default.
	Timeout time.Duration
}

// Registry maps task types to their actions. Safe for concurrent use.
type Registry struct {
	actions map[string]Action
	mutex   sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

func (r *Registry) Register(taskType string, a Action) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if taskType == "" || a.Execute == nil {
		return fmt.Errorf("action for '%s' must have a task type and an execute function", taskType)
	}
	if _, exists := r.actions[taskType]; exists {
		return fmt.Errorf("action for '%s' already registered", taskType)
	}
	if a.Operation == "" {
		a.Operation = taskType
	}
	r.actions[taskType] = a
	return nil
}

func (r *Registry) Lookup(taskType string) (Action, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	a, ok := r.actions[taskType]
	return a, ok
}

func (r *Registry) Exists(taskType string) bool {
	_, ok := r.Lookup(taskType)
	return ok
}

func (r *Registry) List() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	return names
}
