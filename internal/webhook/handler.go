// Package webhook receives GitHub webhook deliveries and queues failed
// workflow runs for analysis.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cisage/internal/metrics"
	"cisage/internal/pipeline"
	"cisage/internal/respond"
	"cisage/internal/worker"

	"github.com/google/go-github/v81/github"
	"go.uber.org/zap"
)

// MaxPayloadBytes matches GitHub's own payload cap.
const MaxPayloadBytes = 32 << 20

type Processor interface {
	Process(ctx context.Context, f pipeline.Failure) (pipeline.Outcome, error)
}

type Submitter interface {
	Submit(job worker.Job) error
}

type Options struct {
	Secret    string
	Processor Processor
	Queue     Submitter
	Deduper   Deduper
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Handler struct {
	secret    []byte
	processor Processor
	queue     Submitter
	dedupe    Deduper
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewHandler(opts Options) (*Handler, error) {
	if opts.Secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if opts.Processor == nil || opts.Queue == nil {
		return nil, errors.New("webhook handler needs a processor and a queue")
	}
	if opts.Deduper == nil {
		opts.Deduper = NewMemoryDeduper(DeliveryTTL)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		secret:    []byte(opts.Secret),
		processor: opts.Processor,
		queue:     opts.Queue,
		dedupe:    opts.Deduper,
		metrics:   opts.Metrics,
		logger:    opts.Logger.Named("webhook"),
	}, nil
}

// ServeHTTP handles POST /webhooks/github.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventType := github.WebHookType(r)
	delivery := github.DeliveryID(r)
	log := h.logger.With(zap.String("event", eventType), zap.String("delivery", delivery))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respond.Error(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		respond.Error(w, http.StatusBadRequest, "Unable to read body")
		return
	}

	if !VerifySignature(h.secret, body, r.Header.Get("X-Hub-Signature-256")) {
		log.Warn("invalid webhook signature")
		h.metrics.WebhookDelivery(eventType, "unauthorized")
		respond.Error(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	if delivery != "" {
		dup, err := h.dedupe.MarkSeen(r.Context(), delivery)
		if err != nil {
			log.Warn("delivery de-duplication unavailable", zap.Error(err))
		} else if dup {
			log.Info("duplicate delivery ignored")
			h.metrics.WebhookDelivery(eventType, "duplicate")
			respond.JSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	if !json.Valid(body) {
		log.Warn("invalid webhook payload")
		h.metrics.WebhookDelivery(eventType, "invalid")
		respond.Error(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	outcome := "ignored"
	if eventType == "workflow_run" {
		var ev github.WorkflowRunEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			h.metrics.WebhookDelivery(eventType, "invalid")
			respond.Error(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		f, ok, reason := Evaluate(&ev)
		if !ok {
			log.Info("skipping workflow_run event", zap.String("reason", reason))
		} else if err := h.enqueue(f); err != nil {
			log.Error("failed to queue workflow failure", zap.Int64("run_id", f.RunID), zap.Error(err))
			if delivery != "" {
				if ferr := h.dedupe.Forget(r.Context(), delivery); ferr != nil {
					log.Warn("failed to forget delivery", zap.Error(ferr))
				}
			}
			h.metrics.WebhookDelivery(eventType, "rejected")
			respond.Error(w, http.StatusServiceUnavailable, "Analysis queue unavailable")
			return
		} else {
			outcome = "accepted"
			log.Info("queued workflow failure",
				zap.Int64("run_id", f.RunID),
				zap.String("repository", f.Repository),
				zap.String("workflow", f.WorkflowName))
		}
	} else {
		log.Debug("skipping non-workflow event")
	}

	h.metrics.WebhookDelivery(eventType, outcome)
	respond.JSON(w, http.StatusOK, map[string]string{"status": "processed", "event_type": eventType})
}

func (h *Handler) enqueue(f pipeline.Failure) error {
	return h.queue.Submit(worker.Job{
		Name: fmt.Sprintf("%s#%d", f.Repository, f.RunID),
		Run: func(ctx context.Context) error {
			_, err := h.processor.Process(ctx, f)
			return err
		},
	})
}

// Health handles GET /webhooks/health.
func Health(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "healthy", "endpoint": "webhooks"})
}

// Test handles POST /webhooks/test by echoing the JSON body back.
func Test(w http.ResponseWriter, r *http.Request) {
	var payload any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&payload); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"status": "test_received", "data": payload})
}

// VerifySignature reports whether header is "sha256=" followed by the hex
// HMAC-SHA256 of body under secret.
func VerifySignature(secret, body []byte, header string) bool {
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	return github.ValidateSignature(header, body, secret) == nil
}
