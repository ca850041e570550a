// Package automation reacts to external status changes: it resolves
// matching automation rules, runs their workflows through the graph
// engine, evaluates result-based transitions, and recursively re-triggers
// itself with depth-bounded loop prevention.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relayworks/relay/pkg/engine"
	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/otelhelper"
	"github.com/relayworks/relay/pkg/persistence"
	"github.com/relayworks/relay/pkg/status"
)

// Runner executes automations. Matched automations for one status run
// strictly in sequence, depth-first, preserving a single linear
// provenance chain for status transitions.
type Runner struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	pusher      status.Pusher
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewRunner(
	store persistence.Persistence,
	eng *engine.Engine,
	pusher status.Pusher,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		persistence: store,
		engine:      eng,
		pusher:      pusher,
		logger:      logger.With("module", "automation"),
	}
}

// WithTracer enables span emission around automation chains.
func (r *Runner) WithTracer(tracer trace.Tracer) *Runner {
	r.tracer = tracer

	return r
}

// HandleStatusChange is the entry point for an external status-change
// notification: the issue has just entered newStatus.
func (r *Runner) HandleStatusChange(ctx context.Context, projectID string, issue status.IssueRef, newStatus string) error {
	return r.handleStatusChange(ctx, projectID, issue, newStatus, 0)
}

func (r *Runner) handleStatusChange(ctx context.Context, projectID string, issue status.IssueRef, newStatus string, depth int) error {
	if depth >= models.MaxAutomationDepth {
		r.logger.WarnContext(ctx, "Automation chain depth limit reached, halting recursion",
			"project_id", projectID,
			"issue", issue.Number,
			"status", newStatus,
			"depth", depth,
		)

		return nil
	}

	if r.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, r.tracer, "automation.chain",
			attribute.String(otelhelper.ProjectIDKey, projectID),
			attribute.Int(otelhelper.IssueNumberKey, issue.Number),
			attribute.String(otelhelper.StatusKey, newStatus),
			attribute.Int(otelhelper.DepthKey, depth),
		)
		defer span.End()
	}

	automations, err := r.persistence.Automations().AutomationsByTrigger(
		ctx, projectID, models.TriggerTypeStatusEntered, newStatus)
	if err != nil {
		return fmt.Errorf("failed to resolve automations for status %q: %w", newStatus, err)
	}

	r.logger.InfoContext(ctx, "Resolved automations for status",
		"project_id", projectID,
		"status", newStatus,
		"matched", len(automations),
		"depth", depth,
	)

	for _, auto := range automations {
		applied, err := r.runAutomation(ctx, auto, issue, newStatus, "status_change")
		if err != nil {
			return err
		}

		if applied == "" {
			continue
		}

		// Only the first automation (in priority order) whose run yields
		// a matching transition gets to apply one; the rest are skipped
		// for this trigger.
		if applied != newStatus {
			return r.handleStatusChange(ctx, projectID, issue, applied, depth+1)
		}

		return nil
	}

	return nil
}

// RunManual fires a button-triggered automation directly. It follows the
// same run, classify, transition path and feeds the same recursive
// status-chain logic when a transition applies.
func (r *Runner) RunManual(ctx context.Context, automationID string, issue status.IssueRef, triggeredBy string) error {
	auto, err := r.persistence.Automations().GetAutomation(ctx, automationID)
	if err != nil {
		return err
	}

	if !auto.Enabled {
		return fmt.Errorf("automation %s is disabled", automationID)
	}

	fromStatus, err := r.persistence.Issues().GetIssueStatus(ctx, auto.ProjectID, issue.Number)
	if err != nil && !persistence.IsIssueNotFound(err) {
		return err
	}

	applied, err := r.runAutomation(ctx, auto, issue, fromStatus, triggeredBy)
	if err != nil {
		return err
	}

	if applied != "" && applied != fromStatus {
		return r.handleStatusChange(ctx, auto.ProjectID, issue, applied, 1)
	}

	return nil
}

// runAutomation runs one automation's workflow to a terminal state,
// classifies the outcome, and applies the first matching transition.
// It returns the status it pushed, or "" when no transition matched.
func (r *Runner) runAutomation(ctx context.Context, auto *models.Automation, issue status.IssueRef, fromStatus, triggeredBy string) (string, error) {
	record := &models.IssueExecution{
		ID:           "issue-run-" + uuid.New().String()[:8],
		AutomationID: auto.ID,
		ProjectID:    auto.ProjectID,
		IssueNumber:  issue.Number,
		TriggeredBy:  triggeredBy,
		FromStatus:   fromStatus,
		CreatedAt:    time.Now().UTC(),
	}

	err := r.persistence.Issues().SaveIssueExecution(ctx, record)
	if err != nil {
		return "", fmt.Errorf("failed to record issue execution: %w", err)
	}

	input := map[string]any{
		"project_id":   auto.ProjectID,
		"issue_number": issue.Number,
		"from_status":  fromStatus,
	}

	// A failed run is a legitimate outcome here, not an error: transitions
	// can route failures (e.g. to a "needs review" status).
	state, err := r.engine.Start(ctx, auto.WorkflowID, input)
	if err != nil {
		return "", fmt.Errorf("automation %s: %w", auto.ID, err)
	}

	result := classify(state)

	record.ExecutionID = state.ID
	record.Result = result

	transition, err := r.selectTransition(ctx, auto.ID, result, state.Context)
	if err != nil {
		return "", err
	}

	if transition == nil {
		r.logger.InfoContext(ctx, "No transition matched",
			"automation_id", auto.ID,
			"result", result,
		)

		return "", r.persistence.Issues().SaveIssueExecution(ctx, record)
	}

	err = r.pusher.UpdateStatus(ctx, status.UpdateRequest{
		Issue:  issue,
		Status: transition.NextStatus,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "External status push failed, halting chain",
			"automation_id", auto.ID,
			"next_status", transition.NextStatus,
			"error", err,
		)

		saveErr := r.persistence.Issues().SaveIssueExecution(ctx, record)
		if saveErr != nil {
			return "", saveErr
		}

		return "", nil
	}

	err = r.persistence.Issues().SetIssueStatus(ctx, auto.ProjectID, issue.Number, transition.NextStatus)
	if err != nil {
		return "", err
	}

	record.NextStatusApplied = transition.NextStatus

	err = r.persistence.Issues().SaveIssueExecution(ctx, record)
	if err != nil {
		return "", err
	}

	r.logger.InfoContext(ctx, "Applied transition",
		"automation_id", auto.ID,
		"execution_id", state.ID,
		"result", result,
		"next_status", transition.NextStatus,
	)

	return transition.NextStatus, nil
}

func classify(state *models.ExecutionState) models.RunResult {
	switch state.Status {
	case models.ExecutionStatusCompleted:
		return models.RunResultSuccess
	case models.ExecutionStatusFailed:
		return models.RunResultFailure
	default:
		return models.RunResultPaused
	}
}
