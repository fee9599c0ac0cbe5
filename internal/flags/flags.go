package flags

// Package flags defines canonical CLI flag names shared by the cobra commands.
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().IntVar(&cfg.Server.Port, flags.FlagPort, cfg.Server.Port, "...")
const (
	// GitHub
	FlagGitHubAppID      = "github-app-id"
	FlagGitHubPrivateKey = "github-private-key-path"
	FlagWebhookSecret    = "webhook-secret"
	FlagGitHubAPIURL     = "github-api-url"
	FlagInstallation     = "installation-id"
	FlagRepo             = "repo"

	// LLM
	FlagLLMProvider = "llm-provider"
	FlagLLMModel    = "llm-model"
	FlagLLMTimeout  = "llm-timeout"
	FlagLLMRPS      = "llm-rps"

	// Storage and messaging
	FlagDatabaseURL = "database-url"
	FlagRedisURL    = "redis-url"
	FlagNATSURL     = "nats-url"
	FlagNATSSubject = "nats-subject"
	FlagReset       = "reset"

	// Server
	FlagPort            = "port"
	FlagGRPCPort        = "grpc-port"
	FlagShutdownTimeout = "shutdown-timeout"
	FlagWebhookRPS      = "webhook-rps"
	FlagWebhookBurst    = "webhook-burst"

	// Pipeline
	FlagWorkers          = "workers"
	FlagQueueSize        = "queue-size"
	FlagJobTimeout       = "job-timeout"
	FlagIssueThreshold   = "issue-threshold"
	FlagAutoFix          = "auto-fix"
	FlagAutoFixThreshold = "auto-fix-threshold"
	FlagMaxLogBytes      = "max-log-bytes"

	// Maintenance
	FlagRetentionDays     = "retention-days"
	FlagRetentionSchedule = "retention-schedule"

	// Queries and feedback
	FlagRunID      = "run-id"
	FlagLimit      = "limit"
	FlagErrorType  = "error-type"
	FlagAnalysisID = "analysis-id"
	FlagApplied    = "applied"
	FlagSuccess    = "success"
	FlagNotes      = "notes"

	// Output and runtime
	FlagFormat    = "format"
	FlagOut       = "out"
	FlagOutFormat = "out-format"
	FlagLogLevel  = "log-level"
	FlagVerbose   = "verbose"
)
