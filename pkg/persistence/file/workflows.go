package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/persistence"
)

const workflowsDir = "workflows"

// WorkflowRepository stores workflow definitions as JSON documents.
type WorkflowRepository struct {
	root string
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid workflow ID: %w", err)
	}

	data, err := os.ReadFile(entityPath(r.root, workflowsDir, id)) // #nosec G304 -- path is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to read workflow %s: %w", id, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(data, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if err := validateID(workflow.ID); err != nil {
		return fmt.Errorf("invalid workflow ID: %w", err)
	}

	if err := ensureDir(r.root, workflowsDir); err != nil {
		return err
	}

	data, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	err = os.WriteFile(entityPath(r.root, workflowsDir, workflow.ID), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write workflow %s: %w", workflow.ID, err)
	}

	return nil
}

// DeleteWorkflow removes a workflow definition and cascades to the
// execution state of its runs.
func (r *WorkflowRepository) DeleteWorkflow(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid workflow ID: %w", err)
	}

	err := os.Remove(entityPath(r.root, workflowsDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.ErrWorkflowNotFound
		}

		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	entries, err := os.ReadDir(filepath.Join(r.root, statesDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to scan executions for cascade delete: %w", err)
	}

	states := &StateRepository{root: r.root}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		executionID := strings.TrimSuffix(entry.Name(), ".json")

		state, err := states.GetState(ctx, executionID)
		if err != nil {
			continue
		}

		if state.WorkflowID == id {
			_ = states.DeleteState(ctx, executionID)
		}
	}

	return nil
}
