package engine

import (
	"context"
	"fmt"

	"github.com/relayworks/relay/pkg/models"
)

// Handler is a named code-step function. It receives the execution state
// read-only and returns a context patch.
type Handler func(ctx context.Context, state *models.ExecutionState, input map[string]any) (map[string]any, error)

// Registry maps handler names to functions. It is populated at startup and
// frozen before any execution runs; code steps never resolve handlers
// dynamically from strings at run time.
type Registry struct {
	handlers map[string]Handler
	frozen   bool
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler name. Registration fails after Freeze and on
// duplicate names.
func (r *Registry) Register(name string, handler Handler) error {
	if r.frozen {
		return fmt.Errorf("handler registry is frozen, cannot register %q", name)
	}

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %q already registered", name)
	}

	r.handlers[name] = handler

	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.frozen = true
}

func (r *Registry) Get(name string) (Handler, bool) {
	handler, ok := r.handlers[name]

	return handler, ok
}
