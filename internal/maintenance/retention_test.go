package maintenance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cisage/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (f *fakePruner) PruneAnalyses(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, f.err
}

func (f *fakePruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestPrune_UsesRetentionWindow(t *testing.T) {
	p := &fakePruner{deleted: 7}
	m := metrics.New("test")
	r := NewRetention(p, 30, m, zaptest.NewLogger(t))
	r.now = func() time.Time { return time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC) }

	n, err := r.Prune(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	require.Len(t, p.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), p.cutoffs[0])
	expected := `
# HELP cisage_retention_pruned_analyses_total Analyses removed by the retention job.
# TYPE cisage_retention_pruned_analyses_total counter
cisage_retention_pruned_analyses_total 7
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "cisage_retention_pruned_analyses_total"))
}

func TestPrune_Disabled(t *testing.T) {
	p := &fakePruner{}
	r := NewRetention(p, 0, nil, nil)

	n, err := r.Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, p.calls())

	_, err = r.Start(context.Background(), "@daily")
	assert.Error(t, err)
}

func TestPrune_WrapsStoreError(t *testing.T) {
	boom := errors.New("disk full")
	r := NewRetention(&fakePruner{err: boom}, 1, nil, zaptest.NewLogger(t))
	_, err := r.Prune(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestParseSchedule(t *testing.T) {
	for _, spec := range []string{"@daily", "@every 6h", "0 3 * * *", "*/15 * * * 1-5"} {
		_, err := ParseSchedule(spec)
		assert.NoError(t, err, spec)
	}
	for _, spec := range []string{"", "every day", "0 3 * *", "61 * * * *"} {
		_, err := ParseSchedule(spec)
		assert.Error(t, err, spec)
	}
}

func TestStart_RunsOnSchedule(t *testing.T) {
	p := &fakePruner{}
	r := NewRetention(p, 90, nil, zaptest.NewLogger(t))

	c, err := r.Start(context.Background(), "@every 1s")
	require.NoError(t, err)
	defer func() { <-c.Stop().Done() }()

	require.Eventually(t, func() bool { return p.calls() > 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	r := NewRetention(&fakePruner{}, 90, nil, nil)
	_, err := r.Start(context.Background(), "whenever")
	assert.Error(t, err)
}
