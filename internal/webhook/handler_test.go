package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cisage/internal/pipeline"
	"cisage/internal/worker"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-github/v81/github"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSecret = "s3cret"

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type fakeProcessor struct {
	mu       sync.Mutex
	failures []pipeline.Failure
}

func (p *fakeProcessor) Process(_ context.Context, f pipeline.Failure) (pipeline.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, f)
	return pipeline.Outcome{}, nil
}

// syncQueue runs jobs inline, or rejects them when err is set.
type syncQueue struct {
	err  error
	jobs []string
}

func (q *syncQueue) Submit(job worker.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job.Name)
	return job.Run(context.Background())
}

func newTestHandler(t *testing.T, q *syncQueue, d Deduper) (*Handler, *fakeProcessor) {
	t.Helper()
	p := &fakeProcessor{}
	h, err := NewHandler(Options{Secret: testSecret, Processor: p, Queue: q, Deduper: d, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return h, p
}

func deliver(h http.Handler, event, delivery, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", event)
	if delivery != "" {
		req.Header.Set("X-GitHub-Delivery", delivery)
	}
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const failedRun = `{
  "action": "completed",
  "workflow_run": {
    "id": 30433642,
    "name": "Build",
    "path": ".github/workflows/build.yml",
    "head_sha": "acb5820ced9479c074f688cc328bf03f341a511d",
    "head_branch": "main",
    "conclusion": "failure"
  },
  "repository": {"full_name": "octo-org/octo-repo"},
  "installation": {"id": 2311213}
}`

func TestHandler_QueuesFailedRun(t *testing.T) {
	q := &syncQueue{}
	h, p := newTestHandler(t, q, nil)

	rec := deliver(h, "workflow_run", "d-1", failedRun, sign(failedRun))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "processed", "event_type": "workflow_run"}, decode(t, rec))

	require.Len(t, p.failures, 1)
	assert.Equal(t, pipeline.Failure{
		RunID:          30433642,
		Repository:     "octo-org/octo-repo",
		WorkflowName:   "Build",
		WorkflowPath:   ".github/workflows/build.yml",
		HeadSHA:        "acb5820ced9479c074f688cc328bf03f341a511d",
		HeadBranch:     "main",
		InstallationID: 2311213,
		Conclusion:     "failure",
	}, p.failures[0])
	assert.Equal(t, []string{"octo-org/octo-repo#30433642"}, q.jobs)
}

func TestHandler_Signature(t *testing.T) {
	h, p := newTestHandler(t, &syncQueue{}, nil)

	for name, sig := range map[string]string{
		"missing":     "",
		"wrong":       sign(failedRun + " "),
		"sha1 prefix": "sha1=" + strings.TrimPrefix(sign(failedRun), "sha256="),
		"not hex":     "sha256=zz",
	} {
		rec := deliver(h, "workflow_run", "", failedRun, sig)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		assert.Equal(t, map[string]any{"detail": "Invalid signature"}, decode(t, rec), name)
	}
	assert.Empty(t, p.failures)
}

func TestHandler_InvalidJSON(t *testing.T) {
	h, _ := newTestHandler(t, &syncQueue{}, nil)
	body := `{"action": "completed",`
	rec := deliver(h, "workflow_run", "", body, sign(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"detail": "Invalid JSON"}, decode(t, rec))
}

func TestHandler_IgnoresOtherEvents(t *testing.T) {
	q := &syncQueue{}
	h, p := newTestHandler(t, q, nil)
	body := `{"zen": "Keep it logically awesome."}`

	rec := deliver(h, "ping", "", body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "processed", "event_type": "ping"}, decode(t, rec))
	assert.Empty(t, p.failures)
	assert.Empty(t, q.jobs)
}

func TestHandler_DuplicateDelivery(t *testing.T) {
	h, p := newTestHandler(t, &syncQueue{}, NewMemoryDeduper(time.Hour))

	first := deliver(h, "workflow_run", "same-guid", failedRun, sign(failedRun))
	second := deliver(h, "workflow_run", "same-guid", failedRun, sign(failedRun))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, map[string]any{"status": "duplicate"}, decode(t, second))
	assert.Len(t, p.failures, 1)
}

func TestHandler_QueueFullForgetsDelivery(t *testing.T) {
	q := &syncQueue{err: worker.ErrQueueFull}
	d := NewMemoryDeduper(time.Hour)
	h, p := newTestHandler(t, q, d)

	rec := deliver(h, "workflow_run", "retry-me", failedRun, sign(failedRun))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, d.Len())

	q.err = nil
	rec = deliver(h, "workflow_run", "retry-me", failedRun, sign(failedRun))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, p.failures, 1)
}

type brokenDeduper struct{}

func (brokenDeduper) MarkSeen(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}
func (brokenDeduper) Forget(context.Context, string) error { return nil }

func TestHandler_DeduperFailureStillProcesses(t *testing.T) {
	h, p := newTestHandler(t, &syncQueue{}, brokenDeduper{})
	rec := deliver(h, "workflow_run", "x", failedRun, sign(failedRun))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, p.failures, 1)
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(Options{Processor: &fakeProcessor{}, Queue: &syncQueue{}})
	assert.Error(t, err)
	_, err = NewHandler(Options{Secret: "x"})
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	base := func() *github.WorkflowRunEvent {
		var ev github.WorkflowRunEvent
		require.NoError(t, json.Unmarshal([]byte(failedRun), &ev))
		return &ev
	}

	tests := []struct {
		name   string
		mutate func(*github.WorkflowRunEvent)
		ok     bool
	}{
		{"failure", func(*github.WorkflowRunEvent) {}, true},
		{"cancelled", func(ev *github.WorkflowRunEvent) { ev.WorkflowRun.Conclusion = github.Ptr("cancelled") }, true},
		{"success", func(ev *github.WorkflowRunEvent) { ev.WorkflowRun.Conclusion = github.Ptr("success") }, false},
		{"requested", func(ev *github.WorkflowRunEvent) { ev.Action = github.Ptr("requested") }, false},
		{"no installation", func(ev *github.WorkflowRunEvent) { ev.Installation = nil }, false},
		{"no sha", func(ev *github.WorkflowRunEvent) { ev.WorkflowRun.HeadSHA = nil }, false},
		{"no repository", func(ev *github.WorkflowRunEvent) { ev.Repo = nil }, false},
		{"no run id", func(ev *github.WorkflowRunEvent) { ev.WorkflowRun.ID = nil }, false},
	}
	for _, tt := range tests {
		ev := base()
		tt.mutate(ev)
		_, ok, reason := Evaluate(ev)
		assert.Equal(t, tt.ok, ok, tt.name)
		if !tt.ok {
			assert.NotEmpty(t, reason, tt.name)
		}
	}

	ev := base()
	ev.WorkflowRun.Name = nil
	f, ok, _ := Evaluate(ev)
	require.True(t, ok)
	assert.Equal(t, "Unknown", f.WorkflowName)

	_, ok, _ = Evaluate(nil)
	assert.False(t, ok)
}

func TestHealthAndTest(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/webhooks/health", nil))
	assert.Equal(t, map[string]any{"status": "healthy", "endpoint": "webhooks"}, decode(t, rec))

	rec = httptest.NewRecorder()
	Test(rec, httptest.NewRequest(http.MethodPost, "/webhooks/test", strings.NewReader(`{"hello": "world"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "test_received", "data": map[string]any{"hello": "world"}}, decode(t, rec))

	rec = httptest.NewRecorder()
	Test(rec, httptest.NewRequest(http.MethodPost, "/webhooks/test", strings.NewReader(`nope`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemoryDeduper_Expiry(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	dup, _ := d.MarkSeen(ctx, "a")
	assert.False(t, dup)
	dup, _ = d.MarkSeen(ctx, "a")
	assert.True(t, dup)

	now = now.Add(2 * time.Minute)
	dup, _ = d.MarkSeen(ctx, "a")
	assert.False(t, dup)

	_, _ = d.MarkSeen(ctx, "b")
	now = now.Add(5 * time.Minute)
	_, _ = d.MarkSeen(ctx, "c")
	// The sweep dropped the expired entries.
	assert.Equal(t, 1, d.Len())
}

func TestRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := NewRedisDeduper(client, 10*time.Minute)
	ctx := context.Background()

	dup, err := d.MarkSeen(ctx, "guid-1")
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, 10*time.Minute, mr.TTL("cisage:delivery:guid-1"))

	dup, err = d.MarkSeen(ctx, "guid-1")
	require.NoError(t, err)
	assert.True(t, dup)

	require.NoError(t, d.Forget(ctx, "guid-1"))
	dup, err = d.MarkSeen(ctx, "guid-1")
	require.NoError(t, err)
	assert.False(t, dup)

	mr.FastForward(11 * time.Minute)
	dup, err = d.MarkSeen(ctx, "guid-1")
	require.NoError(t, err)
	assert.False(t, dup)

	mr.Close()
	_, err = d.MarkSeen(ctx, "guid-2")
	assert.Error(t, err)
}
