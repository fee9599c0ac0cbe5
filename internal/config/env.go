package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadEnv overlays environment variables onto c. Unset variables leave the
// current value alone; malformed numbers are reported rather than ignored.
func (c *Config) LoadEnv() error {
	return c.loadEnv(os.LookupEnv)
}

func (c *Config) loadEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.int64("GITHUB_APP_ID", &c.GitHub.AppID)
	if v, ok := e.get("GITHUB_PRIVATE_KEY"); ok {
		c.GitHub.PrivateKey = strings.ReplaceAll(v, `\n`, "\n")
	}
	e.str("GITHUB_PRIVATE_KEY_PATH", &c.GitHub.PrivateKeyPath)
	e.str("GITHUB_WEBHOOK_SECRET", &c.GitHub.WebhookSecret)
	e.str("GITHUB_API_URL", &c.GitHub.APIURL)

	e.str("LLM_PROVIDER", &c.LLM.Provider)
	e.str("ANTHROPIC_API_KEY", &c.LLM.AnthropicAPIKey)
	e.str("GEMINI_API_KEY", &c.LLM.GeminiAPIKey)
	e.str("LLM_MODEL", &c.LLM.Model)
	e.str("ANTHROPIC_BASE_URL", &c.LLM.BaseURL)
	e.duration("LLM_TIMEOUT", &c.LLM.Timeout)
	e.float("LLM_RPS", &c.LLM.RequestsPerSecond)

	e.str("DATABASE_URL", &c.Database.URL)
	e.str("REDIS_URL", &c.Redis.URL)
	e.str("NATS_URL", &c.NATS.URL)
	e.str("NATS_SUBJECT", &c.NATS.Subject)

	e.int("WEBHOOK_PORT", &c.Server.Port)
	e.int("GRPC_PORT", &c.Server.GRPCPort)
	e.float("WEBHOOK_RPS", &c.Server.RateRPS)
	e.int("WEBHOOK_BURST", &c.Server.RateBurst)

	e.int("PIPELINE_WORKERS", &c.Pipeline.Workers)
	e.int("PIPELINE_QUEUE_SIZE", &c.Pipeline.QueueSize)
	e.duration("PIPELINE_JOB_TIMEOUT", &c.Pipeline.JobTimeout)
	e.float("ISSUE_CONFIDENCE_THRESHOLD", &c.Pipeline.IssueThreshold)
	e.bool("AUTO_FIX_ENABLED", &c.Pipeline.AutoFix)
	e.float("AUTO_FIX_THRESHOLD", &c.Pipeline.AutoFixThreshold)
	e.int("MAX_LOG_BYTES", &c.Pipeline.MaxLogBytes)

	e.int("RETENTION_DAYS", &c.Maintenance.RetentionDays)
	e.str("RETENTION_SCHEDULE", &c.Maintenance.RetentionSchedule)

	e.str("APP_ENV", &c.Runtime.Env)
	e.str("LOG_LEVEL", &c.Runtime.LogLevel)

	return e.err
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) int64(key string, dst *int64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

// Durations accept Go syntax ("90s") or a bare number of seconds.
func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}
