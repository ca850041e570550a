package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/persistence"
)

const statesDir = "executions"

// StateRepository stores execution state snapshots as JSON documents.
type StateRepository struct {
	root string
}

func (r *StateRepository) GetState(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	if err := validateID(executionID); err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	data, err := os.ReadFile(entityPath(r.root, statesDir, executionID)) // #nosec G304 -- path is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", executionID, err)
	}

	var state models.ExecutionState

	err = json.Unmarshal(data, &state)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", executionID, err)
	}

	return &state, nil
}

func (r *StateRepository) SaveState(ctx context.Context, state *models.ExecutionState) error {
	if err := validateID(state.ID); err != nil {
		return fmt.Errorf("invalid execution ID: %w", err)
	}

	if err := ensureDir(r.root, statesDir); err != nil {
		return err
	}

	toSave := *state
	if toSave.Context == nil {
		toSave.Context = make(map[string]any)
	}

	if toSave.NodeStates == nil {
		toSave.NodeStates = make(map[string]models.NodeState)
	}

	data, err := json.Marshal(toSave)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", state.ID, err)
	}

	err = os.WriteFile(entityPath(r.root, statesDir, state.ID), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write execution %s: %w", state.ID, err)
	}

	return nil
}

func (r *StateRepository) DeleteState(ctx context.Context, executionID string) error {
	if err := validateID(executionID); err != nil {
		return fmt.Errorf("invalid execution ID: %w", err)
	}

	err := os.Remove(entityPath(r.root, statesDir, executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.ErrExecutionNotFound
		}

		return fmt.Errorf("failed to delete execution %s: %w", executionID, err)
	}

	return nil
}
