package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// WorkflowFunc is the body of a durable workflow. It may be re-invoked from
// the top after a crash, so everything it does through activities must be
// idempotent.
type WorkflowFunc func(ctx context.Context, args json.RawMessage) error

// Registry maps workflow types to their implementations. Registration happens
// once at process start, before the executor runs.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]WorkflowFunc
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]WorkflowFunc)}
}

func (r *Registry) Register(workflowType string, fn WorkflowFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[workflowType] = fn
}

func (r *Registry) Lookup(workflowType string) (WorkflowFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[workflowType]
	if !ok {
		return nil, fmt.Errorf("no workflow registered for type %q", workflowType)
	}
	return fn, nil
}
