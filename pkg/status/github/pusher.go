// Package github pushes issue status to GitHub by maintaining a single
// prefixed status label per issue.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	gogithub "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/relayworks/relay/pkg/status"
)

const defaultLabelPrefix = "status:"

// Pusher implements status.Pusher against the GitHub issues API.
type Pusher struct {
	client      *gogithub.Client
	labelPrefix string
	logger      *slog.Logger
}

func NewPusher(ctx context.Context, token string, logger *slog.Logger) *Pusher {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	))

	return &Pusher{
		client:      gogithub.NewClient(httpClient),
		labelPrefix: defaultLabelPrefix,
		logger:      logger.With("module", "github_status"),
	}
}

// NewPusherWithClient wires a preconfigured client, used by tests.
func NewPusherWithClient(client *gogithub.Client, logger *slog.Logger) *Pusher {
	return &Pusher{
		client:      client,
		labelPrefix: defaultLabelPrefix,
		logger:      logger.With("module", "github_status"),
	}
}

// UpdateStatus replaces the issue's status label with the new status.
func (p *Pusher) UpdateStatus(ctx context.Context, req status.UpdateRequest) error {
	issue, _, err := p.client.Issues.Get(ctx, req.Issue.Owner, req.Issue.Repo, req.Issue.Number)
	if err != nil {
		return fmt.Errorf("failed to fetch issue %s/%s#%d: %w", req.Issue.Owner, req.Issue.Repo, req.Issue.Number, err)
	}

	for _, label := range issue.Labels {
		name := label.GetName()
		if !strings.HasPrefix(name, p.labelPrefix) || name == p.labelPrefix+req.Status {
			continue
		}

		_, err = p.client.Issues.RemoveLabelForIssue(ctx, req.Issue.Owner, req.Issue.Repo, req.Issue.Number, name)
		if err != nil {
			return fmt.Errorf("failed to remove label %q from issue #%d: %w", name, req.Issue.Number, err)
		}
	}

	_, _, err = p.client.Issues.AddLabelsToIssue(ctx, req.Issue.Owner, req.Issue.Repo, req.Issue.Number,
		[]string{p.labelPrefix + req.Status})
	if err != nil {
		return fmt.Errorf("failed to add status label to issue #%d: %w", req.Issue.Number, err)
	}

	p.logger.InfoContext(ctx, "Pushed issue status",
		"owner", req.Issue.Owner,
		"repo", req.Issue.Repo,
		"issue", req.Issue.Number,
		"status", req.Status,
	)

	return nil
}
