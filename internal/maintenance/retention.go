// Package maintenance runs scheduled housekeeping against the learning store.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cisage/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Pruner deletes analyses created before cutoff and reports how many went.
type Pruner interface {
	PruneAnalyses(ctx context.Context, cutoff time.Time) (int64, error)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts five-field cron expressions and descriptors such as
// "@daily" or "@every 6h".
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return s, nil
}

type Retention struct {
	store   Pruner
	days    int
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewRetention(store Pruner, days int, m *metrics.Metrics, logger *zap.Logger) *Retention {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retention{
		store:   store,
		days:    days,
		metrics: m,
		logger:  logger.Named("retention"),
		now:     time.Now,
	}
}

// Enabled reports whether a retention window is configured.
func (r *Retention) Enabled() bool { return r.days > 0 }

func (r *Retention) Cutoff() time.Time {
	return r.now().UTC().AddDate(0, 0, -r.days)
}

// Prune deletes analyses older than the retention window. It is a no-op when
// retention is disabled.
func (r *Retention) Prune(ctx context.Context) (int64, error) {
	if !r.Enabled() {
		return 0, nil
	}
	cutoff := r.Cutoff()
	n, err := r.store.PruneAnalyses(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune analyses before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	r.metrics.Pruned(n)
	r.logger.Info("pruned analyses", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// Start schedules Prune on spec until the returned cron is stopped. Runs never
// overlap; a run still in progress causes the next tick to be skipped.
func (r *Retention) Start(ctx context.Context, spec string) (*cron.Cron, error) {
	if !r.Enabled() {
		return nil, errors.New("retention is disabled")
	}
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}

	clog := cron.PrintfLogger(zap.NewStdLog(r.logger))
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := r.Prune(ctx); err != nil {
			r.logger.Error("retention run failed", zap.Error(err))
		}
	}))
	c.Start()
	r.logger.Info("retention scheduled",
		zap.String("schedule", spec),
		zap.Int("days", r.days),
		zap.Time("next_run", sched.Next(r.now())))
	return c, nil
}
