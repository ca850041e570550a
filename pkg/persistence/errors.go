// Package persistence provides standardized error types for persistence operations.
package persistence

import "errors"

var (
	// ErrExecutionNotFound indicates no state exists for the execution id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrAutomationNotFound indicates an automation was not found by the given identifier.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrIssueNotFound indicates no status is recorded for the issue.
	ErrIssueNotFound = errors.New("issue not found")
)

func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

func IsAutomationNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound)
}

func IsIssueNotFound(err error) bool {
	return errors.Is(err, ErrIssueNotFound)
}
