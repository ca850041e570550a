// Package redis provides Redis-backed persistence for multi-process
// deployments.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/persistence"
)

const (
	executionKeyPrefix  = "relay:execution:"
	workflowKeyPrefix   = "relay:workflow:"
	automationKeyPrefix = "relay:automation:"
	automationSetPrefix = "relay:automations:" // per-project index set
	issueKeyPrefix      = "relay:issue:"
)

// RedisPersistence implements persistence.Persistence on Redis.
type RedisPersistence struct {
	client *goredis.Client
}

func NewRedisPersistence(url string) (*RedisPersistence, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	return &RedisPersistence{client: goredis.NewClient(opts)}, nil
}

// NewRedisPersistenceWithClient wires an existing client, used by tests.
func NewRedisPersistenceWithClient(client *goredis.Client) *RedisPersistence {
	return &RedisPersistence{client: client}
}

func (p *RedisPersistence) States() persistence.StateRepository {
	return &stateRepository{client: p.client}
}

func (p *RedisPersistence) Workflows() persistence.WorkflowRepository {
	return &workflowRepository{client: p.client}
}

func (p *RedisPersistence) Automations() persistence.AutomationRepository {
	return &automationRepository{client: p.client}
}

func (p *RedisPersistence) Issues() persistence.IssueRepository {
	return &issueRepository{client: p.client}
}

func (p *RedisPersistence) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPersistence) Close(ctx context.Context) error {
	return p.client.Close()
}

func getJSON(ctx context.Context, client *goredis.Client, key string, target any, notFound error) error {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return notFound
		}

		return fmt.Errorf("failed to read %s: %w", key, err)
	}

	err = json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}

	return nil
}

func setJSON(ctx context.Context, client *goredis.Client, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	err = client.Set(ctx, key, data, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	return nil
}

type stateRepository struct {
	client *goredis.Client
}

func (r *stateRepository) GetState(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	var state models.ExecutionState

	err := getJSON(ctx, r.client, executionKeyPrefix+executionID, &state, persistence.ErrExecutionNotFound)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

func (r *stateRepository) SaveState(ctx context.Context, state *models.ExecutionState) error {
	return setJSON(ctx, r.client, executionKeyPrefix+state.ID, state)
}

func (r *stateRepository) DeleteState(ctx context.Context, executionID string) error {
	deleted, err := r.client.Del(ctx, executionKeyPrefix+executionID).Result()
	if err != nil {
		return fmt.Errorf("failed to delete execution %s: %w", executionID, err)
	}

	if deleted == 0 {
		return persistence.ErrExecutionNotFound
	}

	return nil
}

type workflowRepository struct {
	client *goredis.Client
}

func (r *workflowRepository) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := getJSON(ctx, r.client, workflowKeyPrefix+id, &workflow, persistence.ErrWorkflowNotFound)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (r *workflowRepository) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return setJSON(ctx, r.client, workflowKeyPrefix+workflow.ID, workflow)
}

func (r *workflowRepository) DeleteWorkflow(ctx context.Context, id string) error {
	deleted, err := r.client.Del(ctx, workflowKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	if deleted == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

type automationRepository struct {
	client *goredis.Client
}

func (r *automationRepository) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	var automation models.Automation

	err := getJSON(ctx, r.client, automationKeyPrefix+id, &automation, persistence.ErrAutomationNotFound)
	if err != nil {
		return nil, err
	}

	return &automation, nil
}

func (r *automationRepository) SaveAutomation(ctx context.Context, automation *models.Automation) error {
	err := setJSON(ctx, r.client, automationKeyPrefix+automation.ID, automation)
	if err != nil {
		return err
	}

	err = r.client.SAdd(ctx, automationSetPrefix+automation.ProjectID, automation.ID).Err()
	if err != nil {
		return fmt.Errorf("failed to index automation %s: %w", automation.ID, err)
	}

	return nil
}

func (r *automationRepository) AutomationsByTrigger(ctx context.Context, projectID string, triggerType models.TriggerType, status string) ([]*models.Automation, error) {
	ids, err := r.client.SMembers(ctx, automationSetPrefix+projectID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list automations for project %s: %w", projectID, err)
	}

	matched := make([]*models.Automation, 0)

	for _, id := range ids {
		automation, err := r.GetAutomation(ctx, id)
		if err != nil {
			if persistence.IsAutomationNotFound(err) {
				continue
			}

			return nil, err
		}

		if !automation.Enabled || automation.TriggerType != triggerType {
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

func (r *automationRepository) TransitionsByAutomation(ctx context.Context, automationID string) ([]*models.Transition, error) {
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

type issueRepository struct {
	client *goredis.Client
}

type issueDocument struct {
	ProjectID  string                   `json:"project_id"`
	Number     int                      `json:"number"`
	Status     string                   `json:"status"`
	Executions []*models.IssueExecution `json:"executions,omitempty"`
}

func issueKey(projectID string, issueNumber int) string {
	return issueKeyPrefix + projectID + ":" + strconv.Itoa(issueNumber)
}

func (r *issueRepository) load(ctx context.Context, projectID string, issueNumber int) (*issueDocument, error) {
	var doc issueDocument

	err := getJSON(ctx, r.client, issueKey(projectID, issueNumber), &doc, persistence.ErrIssueNotFound)
	if err != nil {
		return nil, err
	}

	return &doc, nil
}

func (r *issueRepository) GetIssueStatus(ctx context.Context, projectID string, issueNumber int) (string, error) {
	doc, err := r.load(ctx, projectID, issueNumber)
	if err != nil {
		return "", err
	}

	return doc.Status, nil
}

func (r *issueRepository) SetIssueStatus(ctx context.Context, projectID string, issueNumber int, status string) error {
	doc, err := r.load(ctx, projectID, issueNumber)
	if err != nil {
		if !persistence.IsIssueNotFound(err) {
			return err
		}

		doc = &issueDocument{ProjectID: projectID, Number: issueNumber}
	}

	doc.Status = status

	return setJSON(ctx, r.client, issueKey(projectID, issueNumber), doc)
}

func (r *issueRepository) SaveIssueExecution(ctx context.Context, record *models.IssueExecution) error {
	doc, err := r.load(ctx, record.ProjectID, record.IssueNumber)
	if err != nil {
		if !persistence.IsIssueNotFound(err) {
			return err
		}

		doc = &issueDocument{ProjectID: record.ProjectID, Number: record.IssueNumber}
	}

	replaced := false

	for i, existing := range doc.Executions {
		if existing.ID == record.ID {
			doc.Executions[i] = record
			replaced = true

			break
		}
	}

	if !replaced {
		doc.Executions = append(doc.Executions, record)
	}

	return setJSON(ctx, r.client, issueKey(record.ProjectID, record.IssueNumber), doc)
}

func (r *issueRepository) IssueExecutions(ctx context.Context, projectID string, issueNumber int) ([]*models.IssueExecution, error) {
	doc, err := r.load(ctx, projectID, issueNumber)
	if err != nil {
		if persistence.IsIssueNotFound(err) {
			return []*models.IssueExecution{}, nil
		}

		return nil, err
	}

	return doc.Executions, nil
}
