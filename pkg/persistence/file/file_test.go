package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/persistence"
	"github.com/relayworks/relay/pkg/persistence/file"
)

func newStore(t *testing.T) *file.FilePersistence {
	t.Helper()

	return file.NewFilePersistence(t.TempDir())
}

func sampleWorkflow(id string) *models.Workflow {
	return &models.Workflow{
		ID:   id,
		Name: "sample workflow",
		Steps: []*models.StepDefinition{
			{
				ID:   "step-1",
				Type: models.StepTypeCode,
				Code: &models.CodeStep{Handler: "noop"},
			},
		},
	}
}

func TestWorkflowRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Workflows().SaveWorkflow(ctx, sampleWorkflow("wf-1")))

	got, err := store.Workflows().GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "sample workflow", got.Name)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, models.StepTypeCode, got.Steps[0].Type)
}

func TestGetWorkflowNotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.Workflows().GetWorkflow(context.Background(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestDeleteWorkflowCascadesToExecutions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Workflows().SaveWorkflow(ctx, sampleWorkflow("wf-1")))

	mine := models.NewExecutionState("exec-mine", "wf-1", "step-1")
	other := models.NewExecutionState("exec-other", "wf-2", "step-1")
	require.NoError(t, store.States().SaveState(ctx, mine))
	require.NoError(t, store.States().SaveState(ctx, other))

	require.NoError(t, store.Workflows().DeleteWorkflow(ctx, "wf-1"))

	_, err := store.States().GetState(ctx, "exec-mine")
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = store.States().GetState(ctx, "exec-other")
	assert.NoError(t, err)
}

func TestStateRoundTripPreservesProgress(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	state := models.NewExecutionState("exec-1", "wf-1", "step-1")
	state.Status = models.ExecutionStatusWaitingForInput
	state.Context["phase"] = "gathering"
	state.PendingQuestions = []models.PendingQuestion{
		{ID: "q1", Topic: "scope", Question: "What is in scope?"},
	}

	startedAt := time.Now().UTC()
	state.NodeStates["step-1"] = models.NodeState{
		Status:    models.NodeStateCompleted,
		StartedAt: &startedAt,
	}

	require.NoError(t, store.States().SaveState(ctx, state))

	got, err := store.States().GetState(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaitingForInput, got.Status)
	assert.Equal(t, "gathering", got.Context["phase"])
	require.Len(t, got.PendingQuestions, 1)
	assert.Equal(t, "q1", got.PendingQuestions[0].ID)
	assert.Equal(t, models.NodeStateCompleted, got.NodeStates["step-1"].Status)
}

func TestValidateIDRejectsPathTraversal(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	ids := []string{"", "../escape", "a/b", `a\b`}

	for _, id := range ids {
		_, err := store.States().GetState(ctx, id)
		require.Error(t, err, "id %q must be rejected", id)
		assert.False(t, persistence.IsExecutionNotFound(err))
	}
}

func TestAutomationsByTriggerFiltersAndSorts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	save := func(auto *models.Automation) {
		require.NoError(t, store.Automations().SaveAutomation(ctx, auto))
	}

	save(&models.Automation{
		ID: "a-second", ProjectID: "proj", Name: "second",
		TriggerType: models.TriggerTypeStatusEntered, TriggerStatus: "Ready",
		WorkflowID: "wf", Enabled: true, Priority: 2,
	})
	save(&models.Automation{
		ID: "a-first", ProjectID: "proj", Name: "first",
		TriggerType: models.TriggerTypeStatusEntered, TriggerStatus: "Ready",
		WorkflowID: "wf", Enabled: true, Priority: 1,
	})
	save(&models.Automation{
		ID: "a-disabled", ProjectID: "proj", Name: "disabled",
		TriggerType: models.TriggerTypeStatusEntered, TriggerStatus: "Ready",
		WorkflowID: "wf", Enabled: false,
	})
	save(&models.Automation{
		ID: "a-other-status", ProjectID: "proj", Name: "other status",
		TriggerType: models.TriggerTypeStatusEntered, TriggerStatus: "Done",
		WorkflowID: "wf", Enabled: true,
	})
	save(&models.Automation{
		ID: "a-other-project", ProjectID: "elsewhere", Name: "other project",
		TriggerType: models.TriggerTypeStatusEntered, TriggerStatus: "Ready",
		WorkflowID: "wf", Enabled: true,
	})

	matched, err := store.Automations().AutomationsByTrigger(ctx, "proj", models.TriggerTypeStatusEntered, "Ready")
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.Equal(t, "a-first", matched[0].ID)
	assert.Equal(t, "a-second", matched[1].ID)
}

func TestTransitionsSortedByPriority(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Automations().SaveAutomation(ctx, &models.Automation{
		ID: "auto", ProjectID: "proj", Name: "auto",
		TriggerType: models.TriggerTypeStatusEntered, TriggerStatus: "Ready",
		WorkflowID: "wf", Enabled: true,
		Transitions: []*models.Transition{
			{ID: "t-late", AutomationID: "auto", Condition: models.TransitionOnSuccess, NextStatus: "B", Priority: 5},
			{ID: "t-early", AutomationID: "auto", Condition: models.TransitionOnSuccess, NextStatus: "A", Priority: 1},
		},
	}))

	transitions, err := store.Automations().TransitionsByAutomation(ctx, "auto")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "t-early", transitions[0].ID)
	assert.Equal(t, "t-late", transitions[1].ID)
}

func TestIssueStatusAndExecutions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Issues().GetIssueStatus(ctx, "proj", 1)
	assert.True(t, persistence.IsIssueNotFound(err))

	require.NoError(t, store.Issues().SetIssueStatus(ctx, "proj", 1, "Ready"))

	current, err := store.Issues().GetIssueStatus(ctx, "proj", 1)
	require.NoError(t, err)
	assert.Equal(t, "Ready", current)

	first := &models.IssueExecution{
		ID: "run-1", AutomationID: "auto", ProjectID: "proj",
		IssueNumber: 1, CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	second := &models.IssueExecution{
		ID: "run-2", AutomationID: "auto", ProjectID: "proj",
		IssueNumber: 1, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Issues().SaveIssueExecution(ctx, second))
	require.NoError(t, store.Issues().SaveIssueExecution(ctx, first))

	// Updating an existing record replaces it instead of duplicating.
	first.Result = models.RunResultSuccess
	require.NoError(t, store.Issues().SaveIssueExecution(ctx, first))

	runs, err := store.Issues().IssueExecutions(ctx, "proj", 1)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, models.RunResultSuccess, runs[0].Result)
	assert.Equal(t, "run-2", runs[1].ID)
}
