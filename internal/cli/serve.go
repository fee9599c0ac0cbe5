package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"cisage/internal/events"
	"cisage/internal/flags"
	"cisage/internal/maintenance"
	"cisage/internal/metrics"
	"cisage/internal/pipeline"
	"cisage/internal/server"
	"cisage/internal/webhook"
	"cisage/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Run the HTTP server that receives GitHub workflow_run webhooks.

Failed and cancelled runs are queued and analyzed by a pool of workers. Each
analysis produces a check run on the head commit, an issue when the model is
confident enough, and a fix pull request when the failure is safe to fix
automatically.

Endpoints:
	POST /webhooks/github      GitHub deliveries (X-Hub-Signature-256 required)
	GET  /health               dependency status
	GET  /metrics              Prometheus metrics
	GET  /api/analyses         recent analyses (?repository=owner/repo&limit=N)
	GET  /api/analyses/{id}    one analysis including the model exchange
	POST /api/analyses/{id}/feedback
	GET  /api/statistics
	GET  /api/signatures       known failure signatures (?error_type=...)

Optional integrations:
	REDIS_URL   share delivery de-duplication across replicas
	NATS_URL    publish an event for every completed analysis
	GRPC_PORT   serve the gRPC health protocol`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateServer(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	m := metrics.New(buildVersion)
	probes := map[string]server.Probe{}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	an, err := newAnalyzer(ctx)
	if err != nil {
		return err
	}

	clients, err := serverClients(ctx)
	if err != nil {
		return err
	}

	publisher, err := newPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()
	if p, ok := publisher.(*events.NATSPublisher); ok {
		probes["nats"] = func(context.Context) error {
			if !p.Connected() {
				return errors.New("not connected")
			}
			return nil
		}
	}

	var deduper webhook.Deduper = webhook.NewMemoryDeduper(webhook.DeliveryTTL)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		deduper = webhook.NewRedisDeduper(rc, webhook.DeliveryTTL)
		probes["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}

	proc := pipeline.NewProcessor(pipeline.Deps{
		Clients:  clients,
		Analyzer: an,
		Store:    st,
		Events:   publisher,
		Metrics:  m,
		Logger:   logger,
	}, pipelineSettings())

	pool, err := worker.New(worker.Options{
		Workers:    cfg.Pipeline.Workers,
		QueueSize:  cfg.Pipeline.QueueSize,
		JobTimeout: cfg.Pipeline.JobTimeout,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	hook, err := webhook.NewHandler(webhook.Options{
		Secret:    cfg.GitHub.WebhookSecret,
		Processor: proc,
		Queue:     pool,
		Deduper:   deduper,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	retention := maintenance.NewRetention(st, cfg.Maintenance.RetentionDays, m, logger)
	if retention.Enabled() {
		c, err := retention.Start(ctx, cfg.Maintenance.RetentionSchedule)
		if err != nil {
			return err
		}
		defer func() { <-c.Stop().Done() }()
	}

	srv := server.New(server.Deps{
		Version: buildVersion,
		Config:  *cfg,
		Store:   st,
		Webhook: hook,
		Metrics: m,
		Probes:  probes,
		Logger:  logger,
	})
	runErr := srv.Run(ctx)

	// Let queued analyses finish within the shutdown budget.
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		logger.Warn("abandoned queued analyses at shutdown", zap.Error(err))
	}
	return runErr
}

// serverClients prefers the GitHub App. Without one, a personal token keeps
// local setups working; with neither, every delivery fails at log download.
func serverClients(ctx context.Context) (pipeline.ClientFunc, error) {
	if cfg.HasGitHubApp() {
		app, err := newGitHubApp(ctx)
		if err != nil {
			return nil, err
		}
		return pipeline.AppClients(app), nil
	}
	if c, err := userClient(ctx); err == nil {
		logger.Warn("GitHub App not configured; acting with a personal token for every installation")
		return pipeline.StaticClient(c), nil
	}
	logger.Warn("no GitHub credentials configured; deliveries will be accepted but cannot be analyzed")
	return func(context.Context, int64) (pipeline.GitHubAPI, error) {
		return nil, errNoGitHubApp
	}, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()

	f.StringVar(&cfg.GitHub.WebhookSecret, flags.FlagWebhookSecret, "", "Secret for X-Hub-Signature-256 verification (env GITHUB_WEBHOOK_SECRET)")
	f.Int64Var(&cfg.GitHub.AppID, flags.FlagGitHubAppID, cfg.GitHub.AppID, "GitHub App id (env GITHUB_APP_ID)")
	f.StringVar(&cfg.GitHub.PrivateKeyPath, flags.FlagGitHubPrivateKey, "", "Path to the GitHub App private key (env GITHUB_PRIVATE_KEY_PATH)")

	f.IntVar(&cfg.Server.Port, flags.FlagPort, cfg.Server.Port, "HTTP listen port (env WEBHOOK_PORT)")
	f.IntVar(&cfg.Server.GRPCPort, flags.FlagGRPCPort, cfg.Server.GRPCPort, "gRPC health port, 0 = disabled (env GRPC_PORT)")
	f.DurationVar(&cfg.Server.ShutdownTimeout, flags.FlagShutdownTimeout, cfg.Server.ShutdownTimeout, "Grace period for in-flight requests and queued analyses")
	f.Float64Var(&cfg.Server.RateRPS, flags.FlagWebhookRPS, cfg.Server.RateRPS, "Webhook requests per second per client, 0 = unlimited, the default (env WEBHOOK_RPS)")
	f.IntVar(&cfg.Server.RateBurst, flags.FlagWebhookBurst, cfg.Server.RateBurst, "Webhook burst size per client (env WEBHOOK_BURST)")

	f.IntVar(&cfg.Pipeline.Workers, flags.FlagWorkers, cfg.Pipeline.Workers, "Concurrent analyses (env PIPELINE_WORKERS)")
	f.IntVar(&cfg.Pipeline.QueueSize, flags.FlagQueueSize, cfg.Pipeline.QueueSize, "Queued analyses before deliveries are refused (env PIPELINE_QUEUE_SIZE)")
	f.DurationVar(&cfg.Pipeline.JobTimeout, flags.FlagJobTimeout, cfg.Pipeline.JobTimeout, "Time limit for one analysis (env PIPELINE_JOB_TIMEOUT)")
	addPipelineFlags(serveCmd)

	f.IntVar(&cfg.Maintenance.RetentionDays, flags.FlagRetentionDays, cfg.Maintenance.RetentionDays, "Delete analyses older than this many days, 0 = keep forever (env RETENTION_DAYS)")
	f.StringVar(&cfg.Maintenance.RetentionSchedule, flags.FlagRetentionSchedule, cfg.Maintenance.RetentionSchedule, "Cron schedule for retention (env RETENTION_SCHEDULE)")

	f.StringVar(&cfg.Redis.URL, flags.FlagRedisURL, cfg.Redis.URL, "Redis URL for shared delivery de-duplication (env REDIS_URL)")
	f.StringVar(&cfg.NATS.URL, flags.FlagNATSURL, cfg.NATS.URL, "NATS URL for analysis events (env NATS_URL)")
	f.StringVar(&cfg.NATS.Subject, flags.FlagNATSSubject, cfg.NATS.Subject, "NATS subject for analysis events (env NATS_SUBJECT)")
}
