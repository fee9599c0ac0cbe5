package cli

import (
	"context"
	"errors"
	"fmt"

	"cisage/internal/flags"
	gh "cisage/internal/github"
	"cisage/internal/metrics"
	"cisage/internal/output"
	"cisage/internal/pipeline"

	"github.com/spf13/cobra"
)

var analyzeOpts struct {
	repo           string
	runID          int64
	installationID int64
	output         outputOptions
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one failed workflow run",
	Long: `Run the full analysis pipeline for a single workflow run, as if its
workflow_run webhook had just arrived: fetch logs, ask the LLM, record the
signature and analysis, and create the check run, issue and fix pull request.

Authentication:
	With --installation-id the GitHub App credentials are used. Otherwise a
	personal token is taken from GITHUB_TOKEN or the GitHub CLI (gh auth token).

Examples:
	cisage analyze --repo octo/app --run-id 123456789
	cisage analyze --repo octo/app --run-id 123456789 --installation-id 42 --format json
	cisage analyze --repo octo/app --run-id 123456789 --auto-fix=false`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if analyzeOpts.runID <= 0 {
			return fmt.Errorf("--%s is required", flags.FlagRunID)
		}
		owner, repo, err := gh.SplitRepository(analyzeOpts.repo)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		client, err := analyzeClient(ctx)
		if err != nil {
			return err
		}
		run, err := client.WorkflowRun(ctx, owner, repo, analyzeOpts.runID)
		if err != nil {
			return err
		}
		if run.Conclusion != "failure" && run.Conclusion != "cancelled" {
			return fmt.Errorf("run %d concluded %q; only failed or cancelled runs are analyzed", run.ID, run.Conclusion)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		an, err := newAnalyzer(ctx)
		if err != nil {
			return err
		}
		publisher, err := newPublisher()
		if err != nil {
			return err
		}
		defer publisher.Close()

		proc := pipeline.NewProcessor(pipeline.Deps{
			Clients:  pipeline.StaticClient(client),
			Analyzer: an,
			Store:    st,
			Events:   publisher,
			Metrics:  metrics.New(buildVersion),
			Logger:   logger,
		}, pipelineSettings())

		name := run.Name
		if name == "" {
			name = "Unknown"
		}
		failure := pipeline.Failure{
			RunID:          run.ID,
			Repository:     owner + "/" + repo,
			WorkflowName:   name,
			WorkflowPath:   run.Path,
			HeadSHA:        run.HeadSHA,
			HeadBranch:     run.HeadBranch,
			InstallationID: analyzeOpts.installationID,
			Conclusion:     run.Conclusion,
		}
		out, err := proc.Process(ctx, failure)
		if err != nil {
			return err
		}
		return emit(cmd, &analyzeOpts.output, []output.Report{reportFor(failure, out)})
	},
}

func analyzeClient(ctx context.Context) (*gh.Client, error) {
	if analyzeOpts.installationID > 0 {
		app, err := newGitHubApp(ctx)
		if err != nil {
			return nil, err
		}
		return app.InstallationClient(ctx, analyzeOpts.installationID)
	}
	c, err := userClient(ctx)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("or pass --%s to act as the GitHub App", flags.FlagInstallation))
	}
	return c, nil
}

func reportFor(f pipeline.Failure, out pipeline.Outcome) output.Report {
	return output.Report{
		Repository:    f.Repository,
		RunID:         f.RunID,
		Workflow:      f.WorkflowName,
		Skipped:       out.Skipped,
		Result:        out.Result,
		SignatureHash: out.SignatureHash,
		AnalysisID:    out.AnalysisID,
		CheckRunID:    out.CheckRunID,
		IssueNumber:   out.IssueNumber,
		PRNumber:      out.PRNumber,
	}
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeOpts.repo, flags.FlagRepo, "", "Repository as OWNER/REPO")
	f.Int64Var(&analyzeOpts.runID, flags.FlagRunID, 0, "Workflow run id")
	f.Int64Var(&analyzeOpts.installationID, flags.FlagInstallation, 0, "GitHub App installation id (default: use a personal token)")
	f.Int64Var(&cfg.GitHub.AppID, flags.FlagGitHubAppID, cfg.GitHub.AppID, "GitHub App id (env GITHUB_APP_ID)")
	f.StringVar(&cfg.GitHub.PrivateKeyPath, flags.FlagGitHubPrivateKey, "", "Path to the GitHub App private key (env GITHUB_PRIVATE_KEY_PATH)")
	f.StringVar(&cfg.NATS.URL, flags.FlagNATSURL, cfg.NATS.URL, "NATS URL for analysis events (env NATS_URL)")
	addPipelineFlags(analyzeCmd)
	analyzeOpts.output.register(analyzeCmd)
	_ = analyzeCmd.MarkFlagRequired(flags.FlagRepo)
	_ = analyzeCmd.MarkFlagRequired(flags.FlagRunID)
}
