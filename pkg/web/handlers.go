// Package web exposes the REST surface: workflow and automation
// configuration, execution start/resume/inspect, and the issue status
// webhook feeding the automation layer.
package web

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/relayworks/relay/pkg/automation"
	"github.com/relayworks/relay/pkg/engine"
	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/persistence"
	"github.com/relayworks/relay/pkg/status"
)

type APIHandlers struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	runner      *automation.Runner
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	store persistence.Persistence,
	eng *engine.Engine,
	runner *automation.Runner,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: store,
		engine:      eng,
		runner:      runner,
		validator:   validate,
		logger:      logger.With("module", "web"),
	}
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var workflow models.Workflow

	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&workflow); err != nil {
		return badRequest(c, err.Error())
	}

	for _, step := range workflow.Steps {
		if err := step.Validate(); err != nil {
			return badRequest(c, err.Error())
		}
	}

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := h.persistence.Workflows().SaveWorkflow(c.Context(), &workflow); err != nil {
		return handleRepositoryError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.persistence.Workflows().GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.persistence.Workflows().DeleteWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateAutomation(c fiber.Ctx) error {
	var auto models.Automation

	if err := c.Bind().JSON(&auto); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&auto); err != nil {
		return badRequest(c, err.Error())
	}

	if auto.ID == "" {
		auto.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	auto.CreatedAt = now
	auto.UpdatedAt = now

	if err := h.persistence.Automations().SaveAutomation(c.Context(), &auto); err != nil {
		return handleRepositoryError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(auto)
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	auto, err := h.persistence.Automations().GetAutomation(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(auto)
}

// StartExecution runs the workflow until it completes, fails, or pauses,
// and returns the final persisted snapshot either way.
func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	state, err := h.engine.Start(c.Context(), req.WorkflowID, req.Input)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, err.Error())
		}

		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(state)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	state, err := h.persistence.States().GetState(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(state)
}

// ResumeExecution feeds answers into a paused execution. Resuming an
// execution that is not waiting for input is a conflict, not a retry.
func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	var req ResumeExecutionRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	executionID := c.Params("id")

	current, err := h.persistence.States().GetState(c.Context(), executionID)
	if err != nil {
		return handleRepositoryError(c, err)
	}

	if current.Status != models.ExecutionStatusWaitingForInput {
		return conflict(c, "execution "+executionID+" is "+string(current.Status)+", not waiting for input")
	}

	state, err := h.engine.Resume(c.Context(), executionID, req.Answers, req.Input)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(state)
}

// IssueStatusChanged is the webhook entry for external status changes. The
// automation chain runs synchronously; the response reflects the issue's
// final status after chained transitions settle.
func (h *APIHandlers) IssueStatusChanged(c fiber.Ctx) error {
	var req StatusChangeRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	number, err := strconv.Atoi(c.Params("number"))
	if err != nil || number < 1 {
		return badRequest(c, "issue number must be a positive integer")
	}

	issue := status.IssueRef{Owner: req.Owner, Repo: req.Repo, Number: number}

	err = h.persistence.Issues().SetIssueStatus(c.Context(), req.ProjectID, number, req.Status)
	if err != nil {
		return handleRepositoryError(c, err)
	}

	err = h.runner.HandleStatusChange(c.Context(), req.ProjectID, issue, req.Status)
	if err != nil {
		return internalError(c, err)
	}

	final, err := h.persistence.Issues().GetIssueStatus(c.Context(), req.ProjectID, number)
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(fiber.Map{
		"project_id": req.ProjectID,
		"issue":      number,
		"status":     final,
	})
}

// TriggerAutomation fires a manual-button automation.
func (h *APIHandlers) TriggerAutomation(c fiber.Ctx) error {
	var req TriggerAutomationRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "manual"
	}

	issue := status.IssueRef{Owner: req.Owner, Repo: req.Repo, Number: req.IssueNumber}

	err := h.runner.RunManual(c.Context(), c.Params("id"), issue, triggeredBy)
	if err != nil {
		if persistence.IsAutomationNotFound(err) {
			return notFound(c, err.Error())
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		h.logger.ErrorContext(c.Context(), "Health check failed", "error", err)

		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}
