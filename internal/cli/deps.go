package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cisage/internal/analyzer"
	"cisage/internal/events"
	"cisage/internal/flags"
	gh "cisage/internal/github"
	"cisage/internal/output"
	"cisage/internal/pipeline"
	"cisage/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errNoGitHubApp = errors.New("GitHub App is not configured (set GITHUB_APP_ID and GITHUB_PRIVATE_KEY or GITHUB_PRIVATE_KEY_PATH)")

// openStore opens the configured database and brings its schema up to date.
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func newAnalyzer(ctx context.Context) (*analyzer.Analyzer, error) {
	provider, err := analyzer.NewProvider(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	if _, disabled := provider.(analyzer.Disabled); disabled {
		logger.Warn("no LLM API key configured; analyses fall back to a generic result",
			zap.String("provider", cfg.LLM.Provider))
	}
	return analyzer.New(provider, logger), nil
}

func githubOptions() []gh.Option {
	opts := []gh.Option{gh.WithBaseURL(cfg.GitHub.APIURL), gh.WithLogger(logger)}
	if cfg.Runtime.Verbose {
		opts = append(opts, gh.WithVerbose(logger))
	}
	return opts
}

func newGitHubApp(ctx context.Context) (*gh.App, error) {
	if !cfg.HasGitHubApp() {
		return nil, errNoGitHubApp
	}
	key, source, err := gh.ResolvePrivateKey(cfg.GitHub.PrivateKey, cfg.GitHub.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("resolved GitHub App private key", zap.String("source", string(source)))
	return gh.NewApp(ctx, cfg.GitHub.AppID, key, githubOptions()...)
}

// userClient authenticates with a personal token from GITHUB_TOKEN or the gh CLI.
func userClient(ctx context.Context) (*gh.Client, error) {
	token, source, err := gh.ResolveUserToken(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("resolve GitHub token: %w", err)
	}
	if token == "" {
		return nil, errors.New("GitHub auth token is required (set GITHUB_TOKEN or run 'gh auth login')")
	}
	logger.Debug("using personal GitHub token", zap.String("source", string(source)))
	return gh.NewClient(ctx, token, githubOptions()...)
}

func newPublisher() (events.Publisher, error) {
	if cfg.NATS.URL == "" {
		return events.Nop{}, nil
	}
	return events.Connect(cfg.NATS.URL, cfg.NATS.Subject, logger)
}

func pipelineSettings() pipeline.Settings {
	return pipeline.Settings{
		IssueThreshold:   cfg.Pipeline.IssueThreshold,
		AutoFix:          cfg.Pipeline.AutoFix,
		AutoFixThreshold: cfg.Pipeline.AutoFixThreshold,
		MaxLogBytes:      cfg.Pipeline.MaxLogBytes,
	}
}

func addPipelineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64Var(&cfg.Pipeline.IssueThreshold, flags.FlagIssueThreshold, cfg.Pipeline.IssueThreshold, "Open an issue when confidence exceeds this value (env ISSUE_CONFIDENCE_THRESHOLD)")
	f.BoolVar(&cfg.Pipeline.AutoFix, flags.FlagAutoFix, cfg.Pipeline.AutoFix, "Propose fix pull requests for eligible failures (env AUTO_FIX_ENABLED)")
	f.Float64Var(&cfg.Pipeline.AutoFixThreshold, flags.FlagAutoFixThreshold, cfg.Pipeline.AutoFixThreshold, "Minimum confidence for a fix pull request (env AUTO_FIX_THRESHOLD)")
	f.IntVar(&cfg.Pipeline.MaxLogBytes, flags.FlagMaxLogBytes, cfg.Pipeline.MaxLogBytes, "Keep at most this many trailing log bytes per run (env MAX_LOG_BYTES)")
}

// outputOptions are the shared --format/--out flags of the query commands.
type outputOptions struct {
	format    string
	out       string
	outFormat string
}

func (o *outputOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.format, flags.FlagFormat, output.FormatText, "Console output format: text|json|ndjson")
	f.StringVar(&o.out, flags.FlagOut, "", "Also write structured output to this path")
	f.StringVar(&o.outFormat, flags.FlagOutFormat, "", "Format for --out: json|ndjson (default: inferred from file extension)")
}

func (o *outputOptions) open(w io.Writer) (*output.Manager, error) {
	m := output.NewManager()
	console, err := output.NewConsoleSink(w, o.format)
	if err != nil {
		return nil, err
	}
	_ = m.AddSink(console)
	if o.out != "" {
		file, err := output.NewFileSink(o.out, o.outFormat)
		if err != nil {
			return nil, err
		}
		_ = m.AddSink(file)
	}
	return m, nil
}

// emit writes vs through a fresh output manager and closes it.
func emit[T any](cmd *cobra.Command, o *outputOptions, vs []T) error {
	m, err := o.open(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := output.WriteAll(m, vs); err != nil {
		_ = m.Close()
		return err
	}
	return m.Close()
}
