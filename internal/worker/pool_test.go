package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := New(Options{Workers: 0, QueueSize: 1})
	assert.Error(t, err)
	_, err = New(Options{Workers: 1, QueueSize: 0})
	assert.Error(t, err)
}

func TestPool_RunsAllJobs(t *testing.T) {
	p, err := New(Options{Workers: 3, QueueSize: 10})
	require.NoError(t, err)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(Job{Name: "count", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(10), ran.Load())

	assert.ErrorIs(t, p.Submit(Job{Run: func(context.Context) error { return nil }}), ErrStopped)
	// Stopping twice is harmless.
	assert.NoError(t, p.Stop(context.Background()))
}

func TestPool_QueueFull(t *testing.T) {
	p, err := New(Options{Workers: 1, QueueSize: 1})
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	block := Job{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, p.Submit(block))
	<-started

	noop := Job{Name: "noop", Run: func(context.Context) error { return nil }}
	require.NoError(t, p.Submit(noop))
	assert.Equal(t, 1, p.QueueDepth())
	assert.ErrorIs(t, p.Submit(noop), ErrQueueFull)

	close(release)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPool_JobTimeout(t *testing.T) {
	p, err := New(Options{Workers: 1, QueueSize: 1, JobTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	var got atomic.Value
	require.NoError(t, p.Submit(Job{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		got.Store(ctx.Err())
		return ctx.Err()
	}}))
	require.NoError(t, p.Stop(context.Background()))
	assert.ErrorIs(t, got.Load().(error), context.DeadlineExceeded)
}

func TestPool_StopDeadlineCancelsRunningJobs(t *testing.T) {
	p, err := New(Options{Workers: 1, QueueSize: 1})
	require.NoError(t, err)

	started := make(chan struct{})
	require.NoError(t, p.Submit(Job{Name: "forever", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
}

func TestPool_RecoversPanicsAndLogsErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p, err := New(Options{Workers: 1, QueueSize: 4, Logger: zap.New(core)})
	require.NoError(t, err)

	var after atomic.Bool
	require.NoError(t, p.Submit(Job{Name: "panics", Run: func(context.Context) error { panic("boom") }}))
	require.NoError(t, p.Submit(Job{Name: "fails", Run: func(context.Context) error { return errors.New("nope") }}))
	require.NoError(t, p.Submit(Job{Name: "after", Run: func(context.Context) error {
		after.Store(true)
		return nil
	}}))
	require.NoError(t, p.Stop(context.Background()))

	assert.True(t, after.Load())
	assert.Equal(t, 1, logs.FilterMessage("job panicked").Len())
	assert.Equal(t, 1, logs.FilterMessage("job failed").Len())

	assert.Error(t, p.Submit(Job{Name: "nil"}))
}
