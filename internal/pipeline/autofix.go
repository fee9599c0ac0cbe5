package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"cisage/internal/analyzer"
	gh "cisage/internal/github"

	"go.uber.org/zap"
)

const workflowsDir = ".github/workflows"

var ErrWorkflowNotFound = errors.New("workflow file not found")

type FixRequest struct {
	Owner        string
	Repo         string
	WorkflowName string
	// WorkflowPath is the path reported by the webhook, if any.
	WorkflowPath string
	HeadSHA      string
	Result       analyzer.Result
}

type FixProposal struct {
	Number int
	Branch string
	Path   string
	Base   string
}

type AutoFixer struct {
	analyzer Analyzer
	logger   *zap.Logger
}

func NewAutoFixer(a Analyzer, logger *zap.Logger) *AutoFixer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoFixer{analyzer: a, logger: logger.Named("autofix")}
}

// Propose commits a corrected workflow file to a fresh branch cut from the
// failing commit and opens a pull request against the default branch.
func (f *AutoFixer) Propose(ctx context.Context, api GitHubAPI, req FixRequest) (FixProposal, error) {
	if req.HeadSHA == "" {
		return FixProposal{}, errors.New("propose fix: head sha is required")
	}
	file, err := f.locateWorkflow(ctx, api, req)
	if err != nil {
		return FixProposal{}, err
	}

	patch, err := f.patchFor(ctx, file, req.Result)
	if err != nil {
		return FixProposal{}, err
	}
	if strings.TrimSpace(patch) == strings.TrimSpace(file.Content) {
		return FixProposal{}, fmt.Errorf("propose fix: patch leaves %s unchanged", file.Path)
	}

	base, err := api.DefaultBranch(ctx, req.Owner, req.Repo)
	if err != nil {
		return FixProposal{}, err
	}

	branch := BranchName(req.WorkflowName, req.HeadSHA)
	if err := api.CreateBranch(ctx, req.Owner, req.Repo, branch, req.HeadSHA); err != nil {
		return FixProposal{}, err
	}

	// A new branch starts at HeadSHA, so the blob read above is current on it.
	// A branch left by an earlier run of the same failure may have moved on;
	// the update then fails with a 409 and the proposal is abandoned.
	if err := api.UpdateFile(ctx, req.Owner, req.Repo, file.Path, branch, "Fix workflow: "+file.Path, patch, file.SHA); err != nil {
		return FixProposal{}, err
	}

	number, err := api.CreatePullRequest(ctx, req.Owner, req.Repo, pullRequestFor(req.WorkflowName, branch, base, req.Result))
	if err != nil {
		return FixProposal{}, err
	}

	f.logger.Info("opened fix pull request",
		zap.String("repository", req.Owner+"/"+req.Repo),
		zap.Int("number", number),
		zap.String("branch", branch),
		zap.String("path", file.Path))
	return FixProposal{Number: number, Branch: branch, Path: file.Path, Base: base}, nil
}

// patchFor asks the model for a corrected file, falling back to the patch
// embedded in the analysis when that one validates.
func (f *AutoFixer) patchFor(ctx context.Context, file gh.File, res analyzer.Result) (string, error) {
	patch, genErr := f.analyzer.GeneratePatch(ctx, res.ErrorType, file.Content, res.FailureReason)
	if genErr == nil {
		return patch, nil
	}

	inline := analyzer.CleanPatch(res.AutoFixPatch)
	if err := analyzer.ValidateWorkflowYAML(inline); err != nil {
		return "", fmt.Errorf("no usable patch for %s: %w", file.Path, errors.Join(genErr, err))
	}
	f.logger.Debug("using inline patch from analysis", zap.String("path", file.Path), zap.Error(genErr))
	return inline, nil
}

// locateWorkflow tries the reported path, then <name>.yml and <name>.yaml,
// then scans the workflows directory for a file whose top-level name matches.
func (f *AutoFixer) locateWorkflow(ctx context.Context, api GitHubAPI, req FixRequest) (gh.File, error) {
	var candidates []string
	if req.WorkflowPath != "" {
		candidates = append(candidates, req.WorkflowPath)
	}
	if req.WorkflowName != "" {
		candidates = append(candidates,
			path.Join(workflowsDir, req.WorkflowName+".yml"),
			path.Join(workflowsDir, req.WorkflowName+".yaml"))
	}

	tried := map[string]bool{}
	for _, p := range candidates {
		if tried[p] {
			continue
		}
		tried[p] = true
		file, err := api.GetFile(ctx, req.Owner, req.Repo, p, req.HeadSHA)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, gh.ErrNotFound) {
			return gh.File{}, err
		}
	}

	entries, err := api.ListDirectory(ctx, req.Owner, req.Repo, workflowsDir, req.HeadSHA)
	if err != nil {
		if errors.Is(err, gh.ErrNotFound) {
			return gh.File{}, fmt.Errorf("%s: %w", req.WorkflowName, ErrWorkflowNotFound)
		}
		return gh.File{}, err
	}
	for _, p := range entries {
		ext := path.Ext(p)
		if tried[p] || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		file, err := api.GetFile(ctx, req.Owner, req.Repo, p, req.HeadSHA)
		if err != nil {
			f.logger.Debug("skipping unreadable workflow", zap.String("path", p), zap.Error(err))
			continue
		}
		if analyzer.WorkflowName(file.Content) == req.WorkflowName {
			return file, nil
		}
	}
	return gh.File{}, fmt.Errorf("%s: %w", req.WorkflowName, ErrWorkflowNotFound)
}
