package github

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RequestBudget tracks the installation's REST rate limit. Every request
// acquires one unit; response headers refresh the count, the reset time and
// any Retry-After cooldown.
type RequestBudget struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	cooldown  time.Time
	probed    bool
	now       func() time.Time
	changed   chan struct{}
}

func NewRequestBudget() *RequestBudget {
	return &RequestBudget{
		remaining: 5000,
		reset:     time.Now().Add(time.Hour),
		now:       time.Now,
		changed:   make(chan struct{}),
	}
}

func (b *RequestBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Acquire blocks until one request may be sent or ctx is done.
func (b *RequestBudget) Acquire(ctx context.Context) error {
	if b == nil || b.now == nil || b.changed == nil {
		return errors.New("request budget: use NewRequestBudget")
	}
	for {
		b.mu.Lock()
		now := b.now()
		changed := b.changed

		var until time.Time
		switch {
		case now.Before(b.cooldown):
			until = b.cooldown
		case b.remaining > 0:
			b.remaining--
			b.mu.Unlock()
			return nil
		case !now.Before(b.reset):
			// The window has rolled over but no fresh headers arrived yet:
			// let a single probe through, then wait for it to report back.
			if !b.probed {
				b.probed = true
				b.mu.Unlock()
				return nil
			}
		default:
			until = b.reset
		}
		b.mu.Unlock()

		if err := waitUntil(ctx, changed, until.Sub(now), !until.IsZero()); err != nil {
			return err
		}
	}
}

// waitUntil returns when changed closes, ctx ends, or (if timed) d elapses.
func waitUntil(ctx context.Context, changed <-chan struct{}, d time.Duration, timed bool) error {
	var timeout <-chan time.Time
	if timed {
		if d < 0 {
			d = 0
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
	case <-timeout:
	}
	return nil
}

// Observe folds rate-limit headers from a response into the budget.
func (b *RequestBudget) Observe(resp *http.Response) {
	if b == nil || resp == nil || b.now == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	updated := false
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		if until := b.now().Add(time.Duration(secs) * time.Second); until.After(b.cooldown) {
			b.cooldown = until
			updated = true
		}
	}
	if n, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining")); err == nil && n >= 0 && n != b.remaining {
		b.remaining = n
		updated = true
	}
	if ts, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil && ts > 0 {
		if reset := time.Unix(ts, 0); !reset.Equal(b.reset) {
			b.reset = reset
			updated = true
		}
	}

	if updated {
		b.probed = false
		close(b.changed)
		b.changed = make(chan struct{})
	}
}

// budgetRoundTripper charges every outgoing request against a RequestBudget.
type budgetRoundTripper struct {
	base   http.RoundTripper
	budget *RequestBudget
}

func (t *budgetRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.budget.Acquire(req.Context()); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	if err == nil {
		t.budget.Observe(resp)
	}
	return resp, err
}
