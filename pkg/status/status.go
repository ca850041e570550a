// Package status defines the external status push contract. The status
// store itself (GitHub, a tracker, a test fake) is a consumed dependency.
package status

import "context"

// IssueRef locates an issue in the external status store.
type IssueRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// UpdateRequest pushes a new status for an issue.
type UpdateRequest struct {
	Issue  IssueRef `json:"issue"`
	Status string   `json:"status"`
}

// Pusher applies a status change to the external store.
type Pusher interface {
	UpdateStatus(ctx context.Context, req UpdateRequest) error
}

// Func adapts a plain function to the Pusher interface.
type Func func(ctx context.Context, req UpdateRequest) error

func (f Func) UpdateStatus(ctx context.Context, req UpdateRequest) error {
	return f(ctx, req)
}
