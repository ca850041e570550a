package cmd

import (
	"context"
	"log/slog"

	"github.com/relayworks/relay/pkg/engine"
	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/qa"
)

// NewRegistry builds the frozen handler registry every binary shares.
// Code steps only ever resolve handlers bound here; nothing is loaded at
// run time.
func NewRegistry(logger *slog.Logger) (*engine.Registry, error) {
	registry := engine.NewRegistry()

	if err := qa.RegisterHandlers(registry); err != nil {
		return nil, err
	}

	if err := registerCoreHandlers(registry); err != nil {
		return nil, err
	}

	registry.Freeze()

	logger.Info("Handler registry frozen")

	return registry, nil
}

func registerCoreHandlers(registry *engine.Registry) error {
	handlers := map[string]engine.Handler{
		"core.set":   setHandler,
		"core.break": breakHandler,
	}

	for name, handler := range handlers {
		if err := registry.Register(name, handler); err != nil {
			return err
		}
	}

	return nil
}

// setHandler copies its static input into the execution context.
func setHandler(_ context.Context, _ *models.ExecutionState, input map[string]any) (map[string]any, error) {
	patch := make(map[string]any, len(input))
	for k, v := range input {
		patch[k] = v
	}

	return patch, nil
}

// breakHandler raises the loop break signal.
func breakHandler(_ context.Context, _ *models.ExecutionState, _ map[string]any) (map[string]any, error) {
	return map[string]any{models.BreakContextKey: true}, nil
}
