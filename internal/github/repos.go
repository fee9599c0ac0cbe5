package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v81/github"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("not found")

type File struct {
	Path    string
	Content string
	SHA     string
}

type PullRequest struct {
	Title string
	Head  string
	Base  string
	Body  string
}

func hasStatus(err error, code int) bool {
	var er *github.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == code
}

// refExists reports a 422 caused by the ref already being present. Bad shas
// and failed ref updates are also 422 and must surface.
func refExists(err error) bool {
	var er *github.ErrorResponse
	return hasStatus(err, http.StatusUnprocessableEntity) && errors.As(err, &er) &&
		strings.Contains(strings.ToLower(er.Message), "reference already exists")
}

func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	r, _, err := c.Client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("get repository %s/%s: %w", owner, repo, err)
	}
	if r.GetDefaultBranch() == "" {
		return "main", nil
	}
	return r.GetDefaultBranch(), nil
}

// CreateBranch points refs/heads/<name> at sha. An existing branch is not an error.
func (c *Client) CreateBranch(ctx context.Context, owner, repo, name, sha string) error {
	body := map[string]string{"ref": "refs/heads/" + name, "sha": sha}
	req, err := c.Client.NewRequest(http.MethodPost, fmt.Sprintf("repos/%s/%s/git/refs", owner, repo), body)
	if err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	if _, err := c.Client.Do(ctx, req, nil); err != nil {
		if refExists(err) {
			c.logger.Debug("branch already exists", zap.String("repository", owner+"/"+repo), zap.String("branch", name))
			return nil
		}
		return fmt.Errorf("create branch %s in %s/%s: %w", name, owner, repo, err)
	}
	return nil
}

// GetFile reads a file at ref (empty ref = default branch). Missing files return ErrNotFound.
func (c *Client) GetFile(ctx context.Context, owner, repo, path, ref string) (File, error) {
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	fc, _, _, err := c.Client.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return File{}, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return File{}, fmt.Errorf("get %s in %s/%s: %w", path, owner, repo, err)
	}
	if fc == nil {
		return File{}, fmt.Errorf("%s is a directory: %w", path, ErrNotFound)
	}
	content, err := fc.GetContent()
	if err != nil {
		return File{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return File{Path: fc.GetPath(), Content: content, SHA: fc.GetSHA()}, nil
}

// ListDirectory returns the paths of files directly under dir.
func (c *Client) ListDirectory(ctx context.Context, owner, repo, dir, ref string) ([]string, error) {
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	_, entries, _, err := c.Client.Repositories.GetContents(ctx, owner, repo, dir, opts)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotFound)
		}
		return nil, fmt.Errorf("list %s in %s/%s: %w", dir, owner, repo, err)
	}
	var out []string
	for _, e := range entries {
		if e.GetType() == "file" {
			out = append(out, e.GetPath())
		}
	}
	return out, nil
}

// UpdateFile commits content to path on branch, replacing the blob sha.
func (c *Client) UpdateFile(ctx context.Context, owner, repo, path, branch, message, content, sha string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: []byte(content),
		Branch:  github.Ptr(branch),
	}
	if sha != "" {
		opts.SHA = github.Ptr(sha)
	}
	if _, _, err := c.Client.Repositories.UpdateFile(ctx, owner, repo, path, opts); err != nil {
		return fmt.Errorf("update %s on %s in %s/%s: %w", path, branch, owner, repo, err)
	}
	return nil
}

// CreatePullRequest opens a pull request and returns its number.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, pr PullRequest) (int, error) {
	created, _, err := c.Client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(pr.Title),
		Head:  github.Ptr(pr.Head),
		Base:  github.Ptr(pr.Base),
		Body:  github.Ptr(pr.Body),
	})
	if err != nil {
		return 0, fmt.Errorf("create pull request %s -> %s in %s/%s: %w", pr.Head, pr.Base, owner, repo, err)
	}
	return created.GetNumber(), nil
}
