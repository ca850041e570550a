package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/persistence"
)

const automationsDir = "automations"

// AutomationRepository stores automations (with their transitions embedded)
// as JSON documents.
type AutomationRepository struct {
	root string
}

func (r *AutomationRepository) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid automation ID: %w", err)
	}

	data, err := os.ReadFile(entityPath(r.root, automationsDir, id)) // #nosec G304 -- path is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrAutomationNotFound
		}

		return nil, fmt.Errorf("failed to read automation %s: %w", id, err)
	}

	var automation models.Automation

	err = json.Unmarshal(data, &automation)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal automation %s: %w", id, err)
	}

	return &automation, nil
}

func (r *AutomationRepository) SaveAutomation(ctx context.Context, automation *models.Automation) error {
	if err := validateID(automation.ID); err != nil {
		return fmt.Errorf("invalid automation ID: %w", err)
	}

	if err := ensureDir(r.root, automationsDir); err != nil {
		return err
	}

	data, err := json.Marshal(automation)
	if err != nil {
		return fmt.Errorf("failed to marshal automation %s: %w", automation.ID, err)
	}

	err = os.WriteFile(entityPath(r.root, automationsDir, automation.ID), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write automation %s: %w", automation.ID, err)
	}

	return nil
}

func (r *AutomationRepository) AutomationsByTrigger(ctx context.Context, projectID string, triggerType models.TriggerType, status string) ([]*models.Automation, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, automationsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Automation{}, nil
		}

		return nil, fmt.Errorf("failed to scan automations: %w", err)
	}

	matched := make([]*models.Automation, 0)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		automation, err := r.GetAutomation(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}

		if !automation.Enabled || automation.ProjectID != projectID || automation.TriggerType != triggerType {
			continue
		}

		if triggerType == models.TriggerTypeStatusEntered && automation.TriggerStatus != status {
			continue
		}

		matched = append(matched, automation)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})

	return matched, nil
}

func (r *AutomationRepository) TransitionsByAutomation(ctx context.Context, automationID string) ([]*models.Transition, error) {
	automation, err := r.GetAutomation(ctx, automationID)
	if err != nil {
		return nil, err
	}

	transitions := make([]*models.Transition, len(automation.Transitions))
	copy(transitions, automation.Transitions)

	sort.SliceStable(transitions, func(i, j int) bool {
		return transitions[i].Priority < transitions[j].Priority
	})

	return transitions, nil
}
