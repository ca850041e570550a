package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/persistence"
)

const issuesDir = "issues"

// IssueRepository stores issue status and issue execution records. One
// document per issue keeps the provenance chain for its automation runs.
type IssueRepository struct {
	root string
}

type issueDocument struct {
	ProjectID  string                   `json:"project_id"`
	Number     int                      `json:"number"`
	Status     string                   `json:"status"`
	Executions []*models.IssueExecution `json:"executions,omitempty"`
}

func issueID(projectID string, issueNumber int) string {
	return projectID + "-" + strconv.Itoa(issueNumber)
}

func (r *IssueRepository) load(projectID string, issueNumber int) (*issueDocument, error) {
	id := issueID(projectID, issueNumber)
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid issue key: %w", err)
	}

	data, err := os.ReadFile(entityPath(r.root, issuesDir, id)) // #nosec G304 -- path is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrIssueNotFound
		}

		return nil, fmt.Errorf("failed to read issue %s: %w", id, err)
	}

	var doc issueDocument

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal issue %s: %w", id, err)
	}

	return &doc, nil
}

func (r *IssueRepository) save(doc *issueDocument) error {
	if err := ensureDir(r.root, issuesDir); err != nil {
		return err
	}

	id := issueID(doc.ProjectID, doc.Number)

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal issue %s: %w", id, err)
	}

	err = os.WriteFile(entityPath(r.root, issuesDir, id), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write issue %s: %w", id, err)
	}

	return nil
}

func (r *IssueRepository) GetIssueStatus(ctx context.Context, projectID string, issueNumber int) (string, error) {
	doc, err := r.load(projectID, issueNumber)
	if err != nil {
		return "", err
	}

	return doc.Status, nil
}

func (r *IssueRepository) SetIssueStatus(ctx context.Context, projectID string, issueNumber int, status string) error {
	doc, err := r.load(projectID, issueNumber)
	if err != nil {
		if !persistence.IsIssueNotFound(err) {
			return err
		}

		doc = &issueDocument{ProjectID: projectID, Number: issueNumber}
	}

	doc.Status = status

	return r.save(doc)
}

func (r *IssueRepository) SaveIssueExecution(ctx context.Context, record *models.IssueExecution) error {
	doc, err := r.load(record.ProjectID, record.IssueNumber)
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

	return r.save(doc)
}

func (r *IssueRepository) IssueExecutions(ctx context.Context, projectID string, issueNumber int) ([]*models.IssueExecution, error) {
	doc, err := r.load(projectID, issueNumber)
	if err != nil {
		if persistence.IsIssueNotFound(err) {
			return []*models.IssueExecution{}, nil
		}

		return nil, err
	}

	executions := make([]*models.IssueExecution, len(doc.Executions))
	copy(executions, doc.Executions)

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})

	return executions, nil
}
