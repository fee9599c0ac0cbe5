// Package worker runs pipeline jobs on a fixed number of goroutines fed by a
// bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"cisage/internal/metrics"

	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("worker pool is stopped")
)

type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type Options struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

type Pool struct {
	jobs    chan Job
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	// ctx is canceled when Stop gives up waiting; running jobs observe it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func New(opts Options) (*Pool, error) {
	if opts.Workers <= 0 {
		return nil, fmt.Errorf("workers must be >= 1, got %d", opts.Workers)
	}
	if opts.QueueSize <= 0 {
		return nil, fmt.Errorf("queue size must be >= 1, got %d", opts.QueueSize)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:    make(chan Job, opts.QueueSize),
		timeout: opts.JobTimeout,
		logger:  opts.Logger.Named("worker"),
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	p.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go p.loop()
	}
	return p, nil
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no run function")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		p.metrics.SetQueueDepth(len(p.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) QueueDepth() int { return len(p.jobs) }

// Stop refuses new jobs and waits for queued and running jobs to finish. If
// ctx ends first, running jobs are canceled and ctx's error is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.metrics.SetQueueDepth(len(p.jobs))
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.metrics.JobStarted()
	defer p.metrics.JobFinished()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				zap.String("job", job.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	if err := job.Run(ctx); err != nil {
		p.logger.Error("job failed", zap.String("job", job.Name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	p.logger.Debug("job finished", zap.String("job", job.Name), zap.Duration("elapsed", time.Since(start)))
}
