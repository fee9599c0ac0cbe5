package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields, keep these in sync:
	// - environment variables in internal/config/env.go
	// - serve flags in internal/cli/serve.go
	GitHub      GitHub
	LLM         LLM
	Database    Database
	Redis       Redis
	NATS        NATS
	Server      Server
	Pipeline    Pipeline
	Maintenance Maintenance
	Runtime     Runtime
}

type GitHub struct {
	// AppID is the numeric GitHub App id (GITHUB_APP_ID).
	AppID int64

	// PrivateKey is the PEM-encoded App private key (GITHUB_PRIVATE_KEY).
	// Escaped newlines ("\n") are accepted so the key fits in a single env var.
	PrivateKey string

	// PrivateKeyPath is a file holding the App private key (GITHUB_PRIVATE_KEY_PATH).
	// Only consulted when PrivateKey is empty.
	PrivateKeyPath string

	// WebhookSecret verifies X-Hub-Signature-256 on incoming deliveries (GITHUB_WEBHOOK_SECRET).
	WebhookSecret string

	// APIURL is the REST API base URL (GITHUB_API_URL). Must end in a slash.
	APIURL string
}

type LLM struct {
	// Provider selects the model backend: anthropic or gemini (LLM_PROVIDER).
	Provider string

	AnthropicAPIKey string
	GeminiAPIKey    string

	// Model overrides the provider's default model (LLM_MODEL).
	Model string

	// BaseURL overrides the Anthropic API endpoint (ANTHROPIC_BASE_URL).
	BaseURL string

	// Timeout bounds a single completion request (LLM_TIMEOUT).
	Timeout time.Duration

	// RequestsPerSecond paces outgoing completion requests (LLM_RPS).
	RequestsPerSecond float64
}

type Database struct {
	// URL is a PostgreSQL URL (postgres://, postgresql://) or a SQLite path (DATABASE_URL).
	URL string
}

type Redis struct {
	// URL enables Redis-backed delivery de-duplication when set (REDIS_URL).
	URL string
}

type NATS struct {
	// URL enables analysis event publishing when set (NATS_URL).
	URL string

	// Subject receives AnalysisCompleted events (NATS_SUBJECT).
	Subject string
}

type Server struct {
	// Port is the HTTP listen port (WEBHOOK_PORT).
	Port int

	// GRPCPort serves the gRPC health protocol when > 0 (GRPC_PORT).
	GRPCPort int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RateRPS and RateBurst limit webhook deliveries per client address
	// (WEBHOOK_RPS, WEBHOOK_BURST). Off by default: GitHub delivers from a
	// small shared address pool and does not retry rejected deliveries.
	// Enable only behind a proxy that sets the real client address.
	RateRPS   float64
	RateBurst int
}

type Pipeline struct {
	// Workers is the number of failures analyzed concurrently (PIPELINE_WORKERS).
	Workers int

	// QueueSize bounds accepted-but-unprocessed failures (PIPELINE_QUEUE_SIZE).
	QueueSize int

	// JobTimeout bounds one pipeline run (PIPELINE_JOB_TIMEOUT).
	JobTimeout time.Duration

	// IssueThreshold is the confidence an analysis must exceed to open an issue (ISSUE_CONFIDENCE_THRESHOLD).
	IssueThreshold float64

	// AutoFix enables fix pull requests (AUTO_FIX_ENABLED).
	AutoFix bool

	// AutoFixThreshold is the confidence an analysis must exceed before a fix PR is proposed (AUTO_FIX_THRESHOLD).
	AutoFixThreshold float64

	// MaxLogBytes caps the log text sent to the model; the tail is kept (MAX_LOG_BYTES).
	MaxLogBytes int
}

type Maintenance struct {
	// RetentionDays prunes analyses older than this many days. 0 disables pruning (RETENTION_DAYS).
	RetentionDays int

	// RetentionSchedule is a cron spec for the pruning job (RETENTION_SCHEDULE).
	RetentionSchedule string
}

type Runtime struct {
	// Env is the deployment environment: development or production (APP_ENV).
	Env string

	// LogLevel is one of debug, info, warn, error (LOG_LEVEL).
	LogLevel string

	// Verbose forces debug logging and logs every GitHub API call.
	Verbose bool
}

func New() *Config {
	return &Config{
		GitHub: GitHub{
			APIURL: "https://api.github.com/",
		},
		LLM: LLM{
			Provider:          ProviderAnthropic,
			Timeout:           2 * time.Minute,
			RequestsPerSecond: 1,
		},
		Database: Database{
			URL: "cisage.db",
		},
		NATS: NATS{
			Subject: "cisage.analysis.completed",
		},
		Server: Server{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateBurst:       20,
		},
		Pipeline: Pipeline{
			Workers:          4,
			QueueSize:        100,
			JobTimeout:       10 * time.Minute,
			IssueThreshold:   0.7,
			AutoFix:          true,
			AutoFixThreshold: 0.8,
			MaxLogBytes:      100_000,
		},
		Maintenance: Maintenance{
			RetentionDays:     90,
			RetentionSchedule: "@daily",
		},
		Runtime: Runtime{
			Env:      "development",
			LogLevel: "info",
		},
	}
}

// HasGitHubApp reports whether App credentials are present.
func (c *Config) HasGitHubApp() bool {
	return c.GitHub.AppID > 0 && (strings.TrimSpace(c.GitHub.PrivateKey) != "" || strings.TrimSpace(c.GitHub.PrivateKeyPath) != "")
}

// HasLLMKey reports whether the selected provider has an API key.
func (c *Config) HasLLMKey() bool {
	switch c.LLM.Provider {
	case ProviderGemini:
		return strings.TrimSpace(c.LLM.GeminiAPIKey) != ""
	default:
		return strings.TrimSpace(c.LLM.AnthropicAPIKey) != ""
	}
}

func (c *Config) IsProduction() bool {
	return c.Runtime.Env == "production" && c.HasLLMKey() && c.HasGitHubApp()
}

// Validate normalizes values and checks the settings shared by every command.
func (c *Config) Validate() error {
	c.LLM.Provider = normalizeEnumValue(c.LLM.Provider)
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderAnthropic
	}
	if c.LLM.Provider != ProviderAnthropic && c.LLM.Provider != ProviderGemini {
		return fmt.Errorf("unsupported --llm-provider: %s (must be one of: anthropic, gemini)", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return errors.New("--llm-timeout must be > 0")
	}
	if c.LLM.RequestsPerSecond < 0 {
		return errors.New("--llm-rps must be >= 0")
	}

	c.Runtime.Env = normalizeEnumValue(c.Runtime.Env)
	if c.Runtime.Env == "" {
		c.Runtime.Env = "development"
	}
	c.Runtime.LogLevel = normalizeEnumValue(c.Runtime.LogLevel)
	switch c.Runtime.LogLevel {
	case "":
		c.Runtime.LogLevel = "info"
	case "debug", "info", "warn", "error":
	case "warning":
		c.Runtime.LogLevel = "warn"
	default:
		return fmt.Errorf("unsupported --log-level: %s (must be one of: debug, info, warn, error)", c.Runtime.LogLevel)
	}

	c.Database.URL = strings.TrimSpace(c.Database.URL)
	if c.Database.URL == "" {
		return errors.New("--database-url must not be empty")
	}

	apiURL, err := normalizeAPIURL(c.GitHub.APIURL)
	if err != nil {
		return fmt.Errorf("invalid --github-api-url value: %w", err)
	}
	c.GitHub.APIURL = apiURL

	if c.GitHub.AppID < 0 {
		return errors.New("--github-app-id must be >= 0")
	}

	if c.Pipeline.IssueThreshold < 0 || c.Pipeline.IssueThreshold > 1 {
		return fmt.Errorf("--issue-threshold must be within [0, 1] (got %g)", c.Pipeline.IssueThreshold)
	}
	if c.Pipeline.AutoFixThreshold < 0 || c.Pipeline.AutoFixThreshold > 1 {
		return fmt.Errorf("--auto-fix-threshold must be within [0, 1] (got %g)", c.Pipeline.AutoFixThreshold)
	}
	if c.Pipeline.MaxLogBytes <= 0 {
		return errors.New("--max-log-bytes must be > 0")
	}
	if c.Maintenance.RetentionDays < 0 {
		return errors.New("--retention-days must be >= 0")
	}
	return nil
}

// ValidateServer runs Validate plus the checks that only matter for the webhook server.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.GitHub.WebhookSecret) == "" {
		return errors.New("a webhook secret is required (set GITHUB_WEBHOOK_SECRET or --webhook-secret)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("--port must be within 1-65535 (got %d)", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("--grpc-port must be within 0-65535 (got %d)", c.Server.GRPCPort)
	}
	if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		return errors.New("--grpc-port and --port must differ")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("--shutdown-timeout must be > 0")
	}
	if c.Server.RateRPS > 0 && c.Server.RateBurst <= 0 {
		return errors.New("--webhook-burst must be >= 1 when rate limiting is enabled")
	}
	if c.Pipeline.Workers <= 0 {
		return errors.New("--workers must be >= 1")
	}
	if c.Pipeline.QueueSize <= 0 {
		return errors.New("--queue-size must be >= 1")
	}
	if c.Pipeline.JobTimeout <= 0 {
		return errors.New("--job-timeout must be > 0")
	}
	if c.Maintenance.RetentionDays > 0 && strings.TrimSpace(c.Maintenance.RetentionSchedule) == "" {
		return errors.New("--retention-schedule must be set when --retention-days > 0")
	}
	return nil
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func normalizeAPIURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "https://api.github.com/", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%q: missing host", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}
