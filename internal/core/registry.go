package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Payload is a decoded job payload.
type Payload map[string]any

// DecodePayload parses a stored payload. Only JSON objects are accepted; an
// empty payload decodes to an empty Payload.
func DecodePayload(raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("payload is not a JSON object")
	}
	return p, nil
}

// String returns the value at key when it is a non-empty string.
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Handler executes the work for one job type. A returned error fails the job
// with err.Error() as last_error.
type Handler interface {
	Execute(ctx context.Context, payload Payload) error
}

type HandlerFunc func(ctx context.Context, payload Payload) error

func (f HandlerFunc) Execute(ctx context.Context, payload Payload) error {
	return f(ctx, payload)
}

// Registry maps job types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[JobType]Handler),
	}
}

// Register binds a handler to a job type, replacing any previous binding.
func (r *Registry) Register(jobType JobType, handler Handler) error {
	if jobType == "" {
		return fmt.Errorf("job type is required")
	}
	if handler == nil {
		return fmt.Errorf("handler for %s is nil", jobType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = handler
	return nil
}

// Lookup returns false for unregistered types.
func (r *Registry) Lookup(jobType JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
