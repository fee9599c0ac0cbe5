// Package pipeline turns one failed workflow run into an analysis, GitHub
// feedback and a learning-store record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cisage/internal/analyzer"
	"cisage/internal/events"
	gh "cisage/internal/github"
	"cisage/internal/metrics"
	"cisage/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GitHubAPI is the subset of *github.Client the pipeline uses.
type GitHubAPI interface {
	WorkflowRunLogs(ctx context.Context, owner, repo string, runID int64, maxBytes int) (string, error)
	WorkflowRunArtifacts(ctx context.Context, owner, repo string, runID int64) ([]gh.Artifact, error)
	CreateCheckRun(ctx context.Context, owner, repo string, run gh.CheckRun) (int64, error)
	CreateIssue(ctx context.Context, owner, repo string, issue gh.Issue) (int, error)
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
	CreateBranch(ctx context.Context, owner, repo, name, sha string) error
	GetFile(ctx context.Context, owner, repo, path, ref string) (gh.File, error)
	ListDirectory(ctx context.Context, owner, repo, dir, ref string) ([]string, error)
	UpdateFile(ctx context.Context, owner, repo, path, branch, message, content, sha string) error
	CreatePullRequest(ctx context.Context, owner, repo string, pr gh.PullRequest) (int, error)
}

// ClientFunc returns the API client acting for an installation.
type ClientFunc func(ctx context.Context, installationID int64) (GitHubAPI, error)

// AppClients authenticates as each installation of app.
func AppClients(app *gh.App) ClientFunc {
	return func(ctx context.Context, installationID int64) (GitHubAPI, error) {
		c, err := app.InstallationClient(ctx, installationID)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// StaticClient uses api for every installation.
func StaticClient(api GitHubAPI) ClientFunc {
	return func(context.Context, int64) (GitHubAPI, error) { return api, nil }
}

type Analyzer interface {
	Analyze(ctx context.Context, req analyzer.Request) (analyzer.Result, analyzer.Exchange)
	GeneratePatch(ctx context.Context, errorType, workflowContent, failureContext string) (string, error)
}

// Learning is the subset of *store.Store the pipeline writes to.
type Learning interface {
	SuccessfulRemediations(ctx context.Context, errorType string, limit int) ([][]string, error)
	UpsertSignature(ctx context.Context, in store.SignatureInput) (int64, error)
	InsertAnalysis(ctx context.Context, a store.Analysis) (int64, error)
	AttachGitHubIDs(ctx context.Context, id int64, ids store.GitHubIDs) error
}

// Failure identifies one failed or cancelled workflow run.
type Failure struct {
	RunID          int64
	Repository     string
	WorkflowName   string
	WorkflowPath   string
	HeadSHA        string
	HeadBranch     string
	InstallationID int64
	Conclusion     string
}

func (f Failure) Validate() error {
	var errs []error
	if f.RunID == 0 {
		errs = append(errs, errors.New("run id is required"))
	}
	if f.HeadSHA == "" {
		errs = append(errs, errors.New("head sha is required"))
	}
	if _, _, err := gh.SplitRepository(f.Repository); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type Settings struct {
	IssueThreshold   float64
	AutoFix          bool
	AutoFixThreshold float64
	MaxLogBytes      int
}

type Deps struct {
	Clients  ClientFunc
	Analyzer Analyzer
	Store    Learning
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Outcome reports what Process produced. Zero ids mean the step was skipped
// or failed.
type Outcome struct {
	Skipped       bool
	Result        analyzer.Result
	SignatureHash string
	SignatureID   int64
	CheckRunID    int64
	IssueNumber   int
	AnalysisID    int64
	PRNumber      int
}

type Processor struct {
	deps     Deps
	settings Settings
	fixer    *AutoFixer
	logger   *zap.Logger
	now      func() time.Time
}

func NewProcessor(deps Deps, settings Settings) *Processor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	logger := deps.Logger.Named("pipeline")
	return &Processor{
		deps:     deps,
		settings: settings,
		fixer:    NewAutoFixer(deps.Analyzer, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// Process runs the full pipeline for f. Individual steps that fail are
// logged and skipped; an error is returned only when f is invalid or no
// GitHub client can be obtained.
func (p *Processor) Process(ctx context.Context, f Failure) (Outcome, error) {
	start := p.now()
	if err := f.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("invalid workflow failure: %w", err)
	}
	owner, repo, _ := gh.SplitRepository(f.Repository)
	log := p.logger.With(
		zap.Int64("run_id", f.RunID),
		zap.String("repository", f.Repository),
		zap.String("workflow", f.WorkflowName))

	api, err := p.deps.Clients(ctx, f.InstallationID)
	if err != nil {
		p.deps.Metrics.PipelineDuration("error", p.now().Sub(start))
		return Outcome{}, fmt.Errorf("github client for installation %d: %w", f.InstallationID, err)
	}

	log.Info("processing workflow failure", zap.String("conclusion", f.Conclusion))
	logs, artifacts := p.fetch(ctx, log, api, owner, repo, f.RunID)
	if logs == "" {
		log.Warn("no logs found, skipping analysis")
		p.deps.Metrics.PipelineDuration("skipped", p.now().Sub(start))
		return Outcome{Skipped: true}, nil
	}
	log.Info("fetched workflow data", zap.Int("log_bytes", len(logs)), zap.Int("artifacts", len(artifacts)))

	history, err := p.deps.Store.SuccessfulRemediations(ctx, "", 3)
	if err != nil {
		log.Warn("failed to load remediation history", zap.Error(err))
	}
	res, exchange := p.deps.Analyzer.Analyze(ctx, analyzer.Request{
		Logs:         logs,
		WorkflowName: f.WorkflowName,
		Artifacts:    toAnalyzerArtifacts(artifacts),
		History:      history,
	})

	out := Outcome{Result: res, SignatureHash: analyzer.Signature(logs, res.FailureReason)}

	out.SignatureID, err = p.deps.Store.UpsertSignature(ctx, store.SignatureInput{
		Hash:             out.SignatureHash,
		Pattern:          res.FailureReason,
		ErrorType:        res.ErrorType,
		ConfidenceScore:  res.ConfidenceScore,
		RemediationSteps: res.RemediationSteps,
	})
	if err != nil {
		log.Error("failed to store error signature", zap.Error(err))
	}

	out.CheckRunID, err = api.CreateCheckRun(ctx, owner, repo, checkRunFor(f.WorkflowName, f.HeadSHA, res))
	if err != nil {
		log.Error("failed to create check run", zap.Error(err))
	} else {
		p.deps.Metrics.ResourceCreated(metrics.KindCheckRun)
	}

	if res.ConfidenceScore > p.settings.IssueThreshold {
		out.IssueNumber, err = api.CreateIssue(ctx, owner, repo, issueFor(f.WorkflowName, res))
		if err != nil {
			log.Error("failed to create issue", zap.Error(err))
		} else {
			p.deps.Metrics.ResourceCreated(metrics.KindIssue)
		}
	} else {
		log.Info("confidence below issue threshold", zap.Float64("confidence", res.ConfidenceScore))
	}

	out.AnalysisID, err = p.deps.Store.InsertAnalysis(ctx, store.Analysis{
		WorkflowRunID:    f.RunID,
		Repository:       f.Repository,
		WorkflowName:     f.WorkflowName,
		Status:           f.Conclusion,
		FailureReason:    res.FailureReason,
		ErrorType:        res.ErrorType,
		ConfidenceScore:  res.ConfidenceScore,
		RemediationSteps: res.RemediationSteps,
		SignatureID:      out.SignatureID,
		CheckRunID:       out.CheckRunID,
		IssueID:          int64(out.IssueNumber),
		Prompt:           exchange.Prompt,
		Response:         exchange.Response,
	})
	if err != nil {
		log.Error("failed to store analysis", zap.Error(err))
	}

	if p.shouldAutoFix(res) {
		proposal, err := p.fixer.Propose(ctx, api, FixRequest{
			Owner:        owner,
			Repo:         repo,
			WorkflowName: f.WorkflowName,
			WorkflowPath: f.WorkflowPath,
			HeadSHA:      f.HeadSHA,
			Result:       res,
		})
		if err != nil {
			log.Error("failed to propose fix", zap.Error(err))
		} else {
			out.PRNumber = proposal.Number
			p.deps.Metrics.ResourceCreated(metrics.KindPullRequest)
			if out.AnalysisID != 0 {
				if err := p.deps.Store.AttachGitHubIDs(ctx, out.AnalysisID, store.GitHubIDs{PRID: int64(out.PRNumber)}); err != nil {
					log.Error("failed to record fix pull request", zap.Error(err))
				}
			}
		}
	}

	err = p.deps.Events.PublishAnalysis(ctx, events.AnalysisCompleted{
		AnalysisID:      out.AnalysisID,
		WorkflowRunID:   f.RunID,
		Repository:      f.Repository,
		WorkflowName:    f.WorkflowName,
		ErrorType:       res.ErrorType,
		ConfidenceScore: res.ConfidenceScore,
		SignatureHash:   out.SignatureHash,
		CheckRunID:      out.CheckRunID,
		IssueNumber:     out.IssueNumber,
		PRNumber:        out.PRNumber,
		CompletedAt:     p.now().UTC(),
	})
	if err != nil {
		log.Warn("failed to publish analysis event", zap.Error(err))
	}

	p.deps.Metrics.Analysis(res.ErrorType, "processed", res.ConfidenceScore)
	p.deps.Metrics.PipelineDuration("processed", p.now().Sub(start))
	log.Info("completed workflow analysis",
		zap.String("error_type", res.ErrorType),
		zap.Float64("confidence", res.ConfidenceScore),
		zap.Int64("analysis_id", out.AnalysisID))
	return out, nil
}

func (p *Processor) shouldAutoFix(res analyzer.Result) bool {
	return p.settings.AutoFix &&
		res.CanAutoFix &&
		res.AutoFixPatch != "" &&
		analyzer.CanAutoFix(res.ErrorType, res.ConfidenceScore, p.settings.AutoFixThreshold)
}

// fetch downloads logs and artifacts concurrently. Failures yield empty values.
func (p *Processor) fetch(ctx context.Context, log *zap.Logger, api GitHubAPI, owner, repo string, runID int64) (string, []gh.Artifact) {
	var (
		logs      string
		artifacts []gh.Artifact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		logs, err = api.WorkflowRunLogs(gctx, owner, repo, runID, p.settings.MaxLogBytes)
		if err != nil {
			log.Error("failed to fetch workflow logs", zap.Error(err))
			logs = ""
		}
		return nil
	})
	g.Go(func() error {
		var err error
		artifacts, err = api.WorkflowRunArtifacts(gctx, owner, repo, runID)
		if err != nil {
			log.Warn("failed to fetch workflow artifacts", zap.Error(err))
			artifacts = nil
		}
		return nil
	})
	_ = g.Wait()
	return logs, artifacts
}

func toAnalyzerArtifacts(in []gh.Artifact) []analyzer.Artifact {
	out := make([]analyzer.Artifact, 0, len(in))
	for _, a := range in {
		out = append(out, analyzer.Artifact{Name: a.Name, SizeInBytes: a.SizeInBytes})
	}
	return out
}
