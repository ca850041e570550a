// Package persistence provides the storage abstraction for workflows,
// execution state, automations, and issues. Implementations are
// store-agnostic and keyed by identifier.
package persistence

import (
	"context"

	"github.com/relayworks/relay/pkg/models"
)

// StateRepository persists execution state. Snapshots are written only at
// completed node boundaries; resume always starts from the last one.
type StateRepository interface {
	GetState(ctx context.Context, executionID string) (*models.ExecutionState, error)
	SaveState(ctx context.Context, state *models.ExecutionState) error
	DeleteState(ctx context.Context, executionID string) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// AutomationRepository stores automation rules and their transitions.
// Automations are read-only to the engine at run time.
type AutomationRepository interface {
	GetAutomation(ctx context.Context, id string) (*models.Automation, error)
	SaveAutomation(ctx context.Context, automation *models.Automation) error

	// AutomationsByTrigger returns enabled automations for the project,
	// trigger type, and status, sorted ascending by priority.
	AutomationsByTrigger(ctx context.Context, projectID string, triggerType models.TriggerType, status string) ([]*models.Automation, error)

	// TransitionsByAutomation returns the automation's transitions sorted
	// ascending by priority.
	TransitionsByAutomation(ctx context.Context, automationID string) ([]*models.Transition, error)
}

// IssueRepository tracks issue status and the automation runs linked to
// each issue.
type IssueRepository interface {
	GetIssueStatus(ctx context.Context, projectID string, issueNumber int) (string, error)
	SetIssueStatus(ctx context.Context, projectID string, issueNumber int, status string) error
	SaveIssueExecution(ctx context.Context, record *models.IssueExecution) error
	IssueExecutions(ctx context.Context, projectID string, issueNumber int) ([]*models.IssueExecution, error)
}

// Persistence aggregates all repositories behind one backend.
type Persistence interface {
	States() StateRepository
	Workflows() WorkflowRepository
	Automations() AutomationRepository
	Issues() IssueRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
