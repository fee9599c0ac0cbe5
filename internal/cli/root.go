package cli

import (
	"fmt"
	"os"

	"cisage/internal/config"
	"cisage/internal/flags"
	"cisage/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var (
	cfg    = config.New()
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "cisage",
	Short: "Analyze failed GitHub Actions runs and propose fixes",
	Long: `CI-Sage receives GitHub workflow_run webhooks, asks an LLM for the root cause of
failed runs, and reports back through check runs, issues and fix pull requests.
Every analysis is recorded so later failures can draw on remediations that worked.

Examples:
	# Run the webhook server
	cisage serve

	# Create or upgrade the database schema
	cisage migrate

	# Verify LLM and GitHub App credentials
	cisage doctor llm
	cisage doctor github

	# Analyze one run without a webhook
	cisage analyze --repo octo/app --run-id 123456789

	# Inspect what has been learned
	cisage history --repo octo/app
	cisage stats

Configuration:
	Settings come from environment variables (GITHUB_APP_ID, ANTHROPIC_API_KEY,
	DATABASE_URL, ...). Flags override the environment.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		l, err := logging.New(cfg.Runtime.Env, cfg.Runtime.LogLevel, cfg.Runtime.Verbose)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&cfg.Runtime.Verbose, flags.FlagVerbose, false, "Enable verbose logging (debug level and every GitHub API call)")
	pf.StringVar(&cfg.Runtime.LogLevel, flags.FlagLogLevel, cfg.Runtime.LogLevel, "Log level: debug|info|warn|error (env LOG_LEVEL)")
	pf.StringVar(&cfg.Database.URL, flags.FlagDatabaseURL, cfg.Database.URL, "PostgreSQL URL or SQLite path (env DATABASE_URL)")
	pf.StringVar(&cfg.GitHub.APIURL, flags.FlagGitHubAPIURL, cfg.GitHub.APIURL, "GitHub REST API base URL (env GITHUB_API_URL)")
	pf.StringVar(&cfg.LLM.Provider, flags.FlagLLMProvider, cfg.LLM.Provider, "LLM provider: anthropic|gemini (env LLM_PROVIDER)")
	pf.StringVar(&cfg.LLM.Model, flags.FlagLLMModel, cfg.LLM.Model, "Override the provider's default model (env LLM_MODEL)")
	pf.DurationVar(&cfg.LLM.Timeout, flags.FlagLLMTimeout, cfg.LLM.Timeout, "Timeout for a single LLM request (env LLM_TIMEOUT)")
	pf.Float64Var(&cfg.LLM.RequestsPerSecond, flags.FlagLLMRPS, cfg.LLM.RequestsPerSecond, "Maximum LLM requests per second, 0 = unlimited (env LLM_RPS)")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

// Execute loads the environment, then lets flags override it.
func Execute() {
	if err := cfg.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
