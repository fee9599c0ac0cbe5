package github

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v81/github"
)

type CheckRun struct {
	Name    string
	HeadSHA string
	// Status defaults to "completed" when Conclusion is set, else "in_progress".
	Status     string
	Conclusion string

	Title   string
	Summary string
	Text    string
}

// CreateCheckRun creates a check run on HeadSHA and returns its id.
func (c *Client) CreateCheckRun(ctx context.Context, owner, repo string, run CheckRun) (int64, error) {
	now := github.Timestamp{Time: time.Now().UTC()}
	status := run.Status
	if status == "" {
		status = "in_progress"
		if run.Conclusion != "" {
			status = "completed"
		}
	}

	opts := github.CreateCheckRunOptions{
		Name:      run.Name,
		HeadSHA:   run.HeadSHA,
		Status:    github.Ptr(status),
		StartedAt: &now,
		Output: &github.CheckRunOutput{
			Title:   github.Ptr(run.Title),
			Summary: github.Ptr(run.Summary),
			Text:    github.Ptr(run.Text),
		},
	}
	if run.Conclusion != "" {
		opts.Conclusion = github.Ptr(run.Conclusion)
		opts.CompletedAt = &now
	}

	cr, _, err := c.Client.Checks.CreateCheckRun(ctx, owner, repo, opts)
	if err != nil {
		return 0, fmt.Errorf("create check run on %s/%s@%s: %w", owner, repo, run.HeadSHA, err)
	}
	return cr.GetID(), nil
}
