package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cisage/internal/analyzer"
	gh "cisage/internal/github"
)

type fileUpdate struct {
	Path, Branch, Message, Content, SHA string
}

type fakeAPI struct {
	mu sync.Mutex

	logs      string
	logsErr   error
	artifacts []gh.Artifact
	files     map[string]gh.File
	dirErr    error

	checkErr  error
	issueErr  error
	prErr     error
	updateErr error

	checkRuns []gh.CheckRun
	issues    []gh.Issue
	branches  []string
	updates   []fileUpdate
	prs       []gh.PullRequest
	fileReads []string
}

func (f *fakeAPI) WorkflowRunLogs(_ context.Context, _, _ string, _ int64, _ int) (string, error) {
	return f.logs, f.logsErr
}

func (f *fakeAPI) WorkflowRunArtifacts(context.Context, string, string, int64) ([]gh.Artifact, error) {
	return f.artifacts, nil
}

func (f *fakeAPI) CreateCheckRun(_ context.Context, _, _ string, run gh.CheckRun) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return 0, f.checkErr
	}
	f.checkRuns = append(f.checkRuns, run)
	return 5550000000 + int64(len(f.checkRuns)), nil
}

func (f *fakeAPI) CreateIssue(_ context.Context, _, _ string, issue gh.Issue) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return 0, f.issueErr
	}
	f.issues = append(f.issues, issue)
	return 40 + len(f.issues), nil
}

func (f *fakeAPI) DefaultBranch(context.Context, string, string) (string, error) {
	return "trunk", nil
}

func (f *fakeAPI) CreateBranch(_ context.Context, _, _, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, name)
	return nil
}

func (f *fakeAPI) GetFile(_ context.Context, _, _, path, _ string) (gh.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileReads = append(f.fileReads, path)
	file, ok := f.files[path]
	if !ok {
		return gh.File{}, fmt.Errorf("%s: %w", path, gh.ErrNotFound)
	}
	file.Path = path
	return file, nil
}

func (f *fakeAPI) ListDirectory(_ context.Context, _, _, dir, _ string) ([]string, error) {
	if f.dirErr != nil {
		return nil, f.dirErr
	}
	var out []string
	for p := range f.files {
		if len(p) > len(dir) && p[:len(dir)+1] == dir+"/" {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeAPI) UpdateFile(_ context.Context, _, _, path, branch, message, content, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, fileUpdate{path, branch, message, content, sha})
	return nil
}

func (f *fakeAPI) CreatePullRequest(_ context.Context, _, _ string, pr gh.PullRequest) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prErr != nil {
		return 0, f.prErr
	}
	f.prs = append(f.prs, pr)
	return 100 + len(f.prs), nil
}

type fakeAnalyzer struct {
	result   analyzer.Result
	patch    string
	patchErr error
	requests []analyzer.Request
}

func (a *fakeAnalyzer) Analyze(_ context.Context, req analyzer.Request) (analyzer.Result, analyzer.Exchange) {
	a.requests = append(a.requests, req)
	return a.result, analyzer.Exchange{Prompt: "prompt for " + req.WorkflowName, Response: "raw reply"}
}

func (a *fakeAnalyzer) GeneratePatch(context.Context, string, string, string) (string, error) {
	if a.patchErr != nil {
		return "", a.patchErr
	}
	if a.patch == "" {
		return "", errors.New("no patch configured")
	}
	return a.patch, nil
}
