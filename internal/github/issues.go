package github

import (
	"context"
	"fmt"

	"github.com/google/go-github/v81/github"
)

type Issue struct {
	Title  string
	Body   string
	Labels []string
}

// CreateIssue opens an issue and returns its number.
func (c *Client) CreateIssue(ctx context.Context, owner, repo string, issue Issue) (int, error) {
	req := &github.IssueRequest{
		Title: github.Ptr(issue.Title),
		Body:  github.Ptr(issue.Body),
	}
	if len(issue.Labels) > 0 {
		labels := append([]string(nil), issue.Labels...)
		req.Labels = &labels
	}
	created, _, err := c.Client.Issues.Create(ctx, owner, repo, req)
	if err != nil {
		return 0, fmt.Errorf("create issue in %s/%s: %w", owner, repo, err)
	}
	return created.GetNumber(), nil
}
