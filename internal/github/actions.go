package github

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/go-github/v81/github"
	"github.com/klauspost/compress/zip"
)

// maxArchiveBytes bounds how much of a log archive is downloaded.
const maxArchiveBytes = 64 << 20

type Artifact struct {
	Name        string `json:"name"`
	SizeInBytes int64  `json:"size_in_bytes"`
}

// Run is the subset of a workflow run needed to analyze it.
type Run struct {
	ID         int64
	Name       string
	Path       string
	HeadSHA    string
	HeadBranch string
	Status     string
	Conclusion string
}

func (c *Client) WorkflowRun(ctx context.Context, owner, repo string, runID int64) (Run, error) {
	run, _, err := c.Client.Actions.GetWorkflowRunByID(ctx, owner, repo, runID)
	if err != nil {
		return Run{}, fmt.Errorf("get run %d in %s/%s: %w", runID, owner, repo, err)
	}
	return Run{
		ID:         run.GetID(),
		Name:       run.GetName(),
		Path:       run.GetPath(),
		HeadSHA:    run.GetHeadSHA(),
		HeadBranch: run.GetHeadBranch(),
		Status:     run.GetStatus(),
		Conclusion: run.GetConclusion(),
	}, nil
}

// WorkflowRunLogs downloads the run's log archive and returns its text,
// keeping at most the last maxBytes bytes (maxBytes <= 0 keeps everything).
func (c *Client) WorkflowRunLogs(ctx context.Context, owner, repo string, runID int64, maxBytes int) (string, error) {
	target, _, err := c.Client.Actions.GetWorkflowRunLogs(ctx, owner, repo, runID, 1)
	if err != nil {
		return "", fmt.Errorf("locate logs for run %d in %s/%s: %w", runID, owner, repo, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("download logs for run %d: %w", runID, err)
	}
	resp, err := c.Download.Do(req)
	if err != nil {
		return "", fmt.Errorf("download logs for run %d: %w", runID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download logs for run %d: HTTP %d", runID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes))
	if err != nil {
		return "", fmt.Errorf("download logs for run %d: %w", runID, err)
	}

	text := string(body)
	if bytes.HasPrefix(body, []byte("PK")) {
		text, err = extractLogArchive(body)
		if err != nil {
			return "", fmt.Errorf("extract logs for run %d: %w", runID, err)
		}
	}
	return TailBytes(text, maxBytes), nil
}

// extractLogArchive concatenates the text files of a run log archive. The
// archive holds one file per job at the top level plus per-step copies in
// job directories; the top-level files are used when present.
func extractLogArchive(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var top, nested []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.Contains(f.Name, "/") {
			nested = append(nested, f)
		} else {
			top = append(top, f)
		}
	}
	files := top
	if len(files) == 0 {
		files = nested
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var sb strings.Builder
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("read %s: %w", f.Name, err)
		}
		fmt.Fprintf(&sb, "=== %s ===\n", f.Name)
		sb.Write(content)
		if len(content) > 0 && content[len(content)-1] != '\n' {
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// TailBytes returns the last max bytes of s without splitting a UTF-8 sequence.
func TailBytes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	start := len(s) - max
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

// WorkflowRunArtifacts lists the artifacts a run uploaded.
func (c *Client) WorkflowRunArtifacts(ctx context.Context, owner, repo string, runID int64) ([]Artifact, error) {
	opts := &github.ListOptions{PerPage: 100}
	var out []Artifact
	for {
		list, resp, err := c.Client.Actions.ListWorkflowRunArtifacts(ctx, owner, repo, runID, opts)
		if err != nil {
			return nil, fmt.Errorf("list artifacts for run %d in %s/%s: %w", runID, owner, repo, err)
		}
		for _, a := range list.Artifacts {
			out = append(out, Artifact{Name: a.GetName(), SizeInBytes: a.GetSizeInBytes()})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}
