// Package file provides file-based persistence for development and tests.
// Each entity is stored as one JSON document under the configured root.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relayworks/relay/pkg/persistence"
)

// FilePersistence implements persistence.Persistence on the local file
// system.
type FilePersistence struct {
	root        string
	states      *StateRepository
	workflows   *WorkflowRepository
	automations *AutomationRepository
	issues      *IssueRepository
}

func NewFilePersistence(root string) *FilePersistence {
	root = strings.TrimPrefix(root, "file://")

	return &FilePersistence{
		root:        root,
		states:      &StateRepository{root: root},
		workflows:   &WorkflowRepository{root: root},
		automations: &AutomationRepository{root: root},
		issues:      &IssueRepository{root: root},
	}
}

func (p *FilePersistence) States() persistence.StateRepository {
	return p.states
}

func (p *FilePersistence) Workflows() persistence.WorkflowRepository {
	return p.workflows
}

func (p *FilePersistence) Automations() persistence.AutomationRepository {
	return p.automations
}

func (p *FilePersistence) Issues() persistence.IssueRepository {
	return p.issues
}

func (p *FilePersistence) HealthCheck(ctx context.Context) error {
	err := os.MkdirAll(p.root, 0750)
	if err != nil {
		return fmt.Errorf("persistence root is not writable: %w", err)
	}

	return nil
}

func (p *FilePersistence) Close(ctx context.Context) error {
	return nil
}

// validateID rejects identifiers that are empty or could escape the
// storage root.
func validateID(id string) error {
	if id == "" {
		return errors.New("identifier cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return errors.New("identifier contains invalid characters")
	}

	return nil
}

func entityPath(root, kind, id string) string {
	return filepath.Join(root, kind, id+".json")
}

func ensureDir(root, kind string) error {
	err := os.MkdirAll(filepath.Join(root, kind), 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	return nil
}
