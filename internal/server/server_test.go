package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cisage/internal/config"
	"cisage/internal/metrics"
	"cisage/internal/pipeline"
	"cisage/internal/store"
	"cisage/internal/webhook"
	"cisage/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestServer(t *testing.T, st Store, mutate func(*Deps)) *Server {
	t.Helper()
	cfg := config.New()
	deps := Deps{
		Version: "9.9.9",
		Config:  *cfg,
		Store:   st,
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}),
		Metrics: metrics.New("9.9.9"),
		Logger:  zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&deps)
	}
	return New(deps)
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return do(t, h, httptest.NewRequest(http.MethodGet, path, nil))
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestRoot(t *testing.T) {
	s := newTestServer(t, newTestStore(t), nil)
	rec, body := get(t, s.Handler(), "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "healthy", "version": "9.9.9"}, body)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRequestIDPropagates(t *testing.T) {
	s := newTestServer(t, newTestStore(t), nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec, _ := do(t, s.Handler(), req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, newTestStore(t), nil)
	s.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }

	rec, body := get(t, s.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "2026-02-03T04:05:06Z", body["timestamp"])

	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, map[string]any{"status": "healthy", "type": "sqlite"}, deps["database"])
	assert.Equal(t, map[string]any{"status": "test_mode", "type": "anthropic"}, deps["llm"])
	assert.Equal(t, map[string]any{"status": "test_mode", "type": "github_app"}, deps["github_app"])
}

func TestHealth_Degraded(t *testing.T) {
	st := newTestStore(t)
	s := newTestServer(t, st, func(d *Deps) {
		d.Config.LLM.AnthropicAPIKey = "sk-live"
		d.Probes = map[string]Probe{
			"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
		}
	})

	_, body := get(t, s.Handler(), "/health")
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "configured", deps["llm"].(map[string]any)["status"])
	assert.Equal(t, "dial tcp: refused", deps["redis"].(map[string]any)["error"])

	require.NoError(t, st.Close())
	_, body = get(t, s.Handler(), "/health")
	assert.Equal(t, "unhealthy", body["dependencies"].(map[string]any)["database"].(map[string]any)["status"])
}

func TestWebhookRoutes(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec, _ := do(t, s.Handler(), httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader("{}")))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec, body := get(t, s.Handler(), "/webhooks/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "webhooks", body["endpoint"])

	rec, _ = get(t, s.Handler(), "/webhooks/github")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// Without a store the query API is not mounted.
	rec, body = get(t, s.Handler(), "/api/statistics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", body["detail"])
}

func TestWebhookRateLimit(t *testing.T) {
	s := newTestServer(t, nil, func(d *Deps) {
		d.Config.Server.RateRPS = 0.001
		d.Config.Server.RateBurst = 2
	})

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader("{}"))
		req.RemoteAddr = "203.0.113.9:5000"
		rec, _ := do(t, s.Handler(), req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader("{}"))
	other.RemoteAddr = "198.51.100.1:5000"
	rec, _ := do(t, s.Handler(), other)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

type discardQueue struct{ n int }

func (q *discardQueue) Submit(worker.Job) error {
	q.n++
	return nil
}

type nopProcessor struct{}

func (nopProcessor) Process(context.Context, pipeline.Failure) (pipeline.Outcome, error) {
	return pipeline.Outcome{}, nil
}

func TestWebhookBurst_DefaultConfigAcceptsAll(t *testing.T) {
	const secret = "s3cret"
	q := &discardQueue{}
	h, err := webhook.NewHandler(webhook.Options{Secret: secret, Processor: nopProcessor{}, Queue: q, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	s := newTestServer(t, nil, func(d *Deps) { d.Webhook = h })
	require.Zero(t, s.cfg.RateRPS)

	// One push fans out into requested, in_progress and completed events per workflow.
	rejected := 0
	for i := 0; i < 60; i++ {
		action, conclusion := "in_progress", ""
		if i%3 == 2 {
			action, conclusion = "completed", "failure"
		}
		body := fmt.Sprintf(`{"action":%q,"workflow_run":{"id":%d,"name":"CI","head_sha":"abc","conclusion":%q},`+
			`"repository":{"full_name":"octo/app"},"installation":{"id":1}}`, action, 1000+i/3, conclusion)
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(body))

		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
		req.RemoteAddr = "140.82.115.10:443"
		req.Header.Set("X-GitHub-Event", "workflow_run")
		req.Header.Set("X-GitHub-Delivery", fmt.Sprintf("delivery-%d", i))
		req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
		rec, _ := do(t, s.Handler(), req)
		if rec.Code != http.StatusOK {
			rejected++
		}
	}
	assert.Zero(t, rejected, "deliveries from one address rejected")
	assert.Equal(t, 20, q.n)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cisage_build_info{version="9.9.9"} 1`)
}

func TestAnalysesAPI(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sigID, err := st.UpsertSignature(ctx, store.SignatureInput{Hash: "h", ErrorType: "timeout", RemediationSteps: []string{"raise timeout"}})
	require.NoError(t, err)
	id, err := st.InsertAnalysis(ctx, store.Analysis{
		WorkflowRunID: 11, Repository: "octo/app", WorkflowName: "CI", ErrorType: "timeout",
		ConfidenceScore: 0.9, SignatureID: sigID, Prompt: "long prompt", Response: "raw",
	})
	require.NoError(t, err)
	_, err = st.InsertAnalysis(ctx, store.Analysis{WorkflowRunID: 12, Repository: "other/repo"})
	require.NoError(t, err)

	h := newTestServer(t, st, nil).Handler()

	rec, body := get(t, h, "/api/analyses?repository=octo/app")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
	item := body["analyses"].([]any)[0].(map[string]any)
	assert.Equal(t, "CI", item["workflow_name"])
	assert.NotContains(t, item, "analysis_prompt")

	rec, _ = get(t, h, "/api/analyses?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = get(t, h, "/api/analyses/"+itoa(id))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "long prompt", body["analysis_prompt"])

	rec, body = get(t, h, "/api/analyses/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Analysis not found", body["detail"])

	rec, _ = get(t, h, "/api/analyses/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fb := httptest.NewRequest(http.MethodPost, "/api/analyses/"+itoa(id)+"/feedback",
		strings.NewReader(`{"remediation_applied": true, "success": true, "feedback_notes": "worked"}`))
	rec, body = do(t, h, fb)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "recorded", body["status"])

	sig, err := st.GetSignature(ctx, sigID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, sig.SuccessRate, 1e-9)

	rec, _ = do(t, h, httptest.NewRequest(http.MethodPost, "/api/analyses/999/feedback", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, h, httptest.NewRequest(http.MethodPost, "/api/analyses/1/feedback", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = get(t, h, "/api/statistics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total_signatures"])
	assert.EqualValues(t, 2, body["total_analyses"])

	rec, body = get(t, h, "/api/signatures?error_type=timeout&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = get(t, h, "/api/signatures?error_type=network")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["signatures"])
}

func TestServe_GracefulShutdown(t *testing.T) {
	s := newTestServer(t, newTestStore(t), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln, grpcLn) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, err := grpc.NewClient(grpcLn.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	hc, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: "cisage"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.GetStatus())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
