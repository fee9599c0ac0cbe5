// Package server exposes the webhook endpoint, health checks, metrics and the
// analysis query API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cisage/internal/config"
	"cisage/internal/metrics"
	"cisage/internal/respond"
	"cisage/internal/store"
	"cisage/internal/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Store is the read side of the learning store plus feedback intake.
type Store interface {
	Ping(ctx context.Context) error
	Dialect() string
	AnalysisHistory(ctx context.Context, repository string, limit int) ([]store.Analysis, error)
	GetAnalysis(ctx context.Context, id int64) (store.Analysis, error)
	RecordFeedback(ctx context.Context, f store.Feedback) (int64, error)
	Statistics(ctx context.Context) (store.Statistics, error)
	SimilarSignatures(ctx context.Context, errorType string, limit int) ([]store.Signature, error)
}

// Probe checks an optional dependency such as Redis or NATS.
type Probe func(ctx context.Context) error

type Deps struct {
	Version string
	Config  config.Config
	Store   Store
	Webhook http.Handler
	Metrics *metrics.Metrics
	Probes  map[string]Probe
	Logger  *zap.Logger
}

type Server struct {
	deps    Deps
	cfg     config.Server
	handler http.Handler
	logger  *zap.Logger
	now     func() time.Time
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		cfg:    deps.Config.Server,
		logger: deps.Logger.Named("server"),
		now:    time.Now,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		if s.deps.Webhook != nil {
			deliveries := http.Handler(s.deps.Webhook)
			if s.cfg.RateRPS > 0 {
				deliveries = NewRateLimiter(s.cfg.RateRPS, s.cfg.RateBurst).Middleware(deliveries)
			}
			r.Method(http.MethodPost, "/github", deliveries)
		}
		r.Get("/health", webhook.Health)
		r.Post("/test", webhook.Test)
	})

	if s.deps.Store != nil {
		r.Route("/api", func(r chi.Router) {
			r.Get("/analyses", s.handleListAnalyses)
			r.Get("/analyses/{id}", s.handleGetAnalysis)
			r.Post("/analyses/{id}/feedback", s.handleFeedback)
			r.Get("/statistics", s.handleStatistics)
			r.Get("/signatures", s.handleSignatures)
		})
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respond.Error(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respond.Error(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

// Run listens on the configured ports until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}
	var grpcLn net.Listener
	if s.cfg.GRPCPort > 0 {
		grpcLn, err = net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.GRPCPort))
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen on grpc port %d: %w", s.cfg.GRPCPort, err)
		}
	}
	return s.Serve(ctx, ln, grpcLn)
}

// Serve is Run on existing listeners. grpcLn may be nil.
func (s *Server) Serve(ctx context.Context, ln, grpcLn net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	var healthSrv *health.Server
	if grpcLn != nil {
		grpcServer = grpc.NewServer()
		healthSrv = health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthSrv)
		healthSrv.SetServingStatus("cisage", healthpb.HealthCheckResponse_SERVING)
		go func() {
			s.logger.Info("grpc health server listening", zap.String("addr", grpcLn.Addr().String()))
			if err := grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	s.logger.Info("shutting down server")
	if healthSrv != nil {
		healthSrv.Shutdown()
		grpcServer.GracefulStop()
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("http shutdown: %w", err))
	}
	s.logger.Info("server stopped")
	return runErr
}
