package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxRequests = 10
	DefaultWindow      = 60 * time.Second
)

// Limiter enforces a per-domain sliding window plus explicit backoff
// intervals set by probes that received a throttle signal.
type Limiter struct {
	max    int
	window time.Duration
	log    *zap.Logger

	mu      sync.Mutex
	history map[string][]time.Time
	backoff map[string]time.Time

	now func() time.Time
}

func New(max int, window time.Duration, log *zap.Logger) *Limiter {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		max:     max,
		window:  window,
		log:     log,
		history: make(map[string][]time.Time),
		backoff: make(map[string]time.Time),
		now:     time.Now,
	}
}

// IsLimited reports whether the domain is in backoff or its window is
// saturated.
func (l *Limiter) IsLimited(domain string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.backoff[domain]; ok {
		if now.Before(until) {
			return true
		}
		delete(l.backoff, domain)
	}
	return len(l.prune(domain, now)) >= l.max
}

// Record appends a request timestamp and drops entries older than the
// window.
func (l *Limiter) Record(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.history[domain] = append(l.prune(domain, now), now)
}

// SetBackoff blocks the domain for the given duration.
func (l *Limiter) SetBackoff(domain string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until := l.now().Add(d)
	if existing, ok := l.backoff[domain]; !ok || until.After(existing) {
		l.backoff[domain] = until
		l.log.Info("domain backoff set",
			zap.String("domain", domain),
			zap.Duration("for", d))
	}
}

// RemainingBackoff returns how long the caller must wait before the
// domain can be probed again, considering both explicit backoff and
// window saturation. Zero means go ahead.
func (l *Limiter) RemainingBackoff(domain string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var wait time.Duration
	if until, ok := l.backoff[domain]; ok && now.Before(until) {
		wait = until.Sub(now)
	}

	hist := l.prune(domain, now)
	if len(hist) >= l.max {
		// The window frees a slot when its oldest entry ages out.
		idx := len(hist) - l.max
		if w := hist[idx].Add(l.window).Sub(now); w > wait {
			wait = w
		}
	}
	return wait
}

// Wait sleeps until the domain is probeable or the context ends. Callers
// still call Record afterwards.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	for {
		wait := l.RemainingBackoff(domain)
		if wait <= 0 {
			return nil
		}
		l.log.Debug("rate limited, sleeping",
			zap.String("domain", domain),
			zap.Duration("wait", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// prune must be called with the lock held.
func (l *Limiter) prune(domain string, now time.Time) []time.Time {
	hist := l.history[domain]
	cutoff := now.Add(-l.window)
	i := 0
	for ; i < len(hist); i++ {
		if hist[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		hist = append([]time.Time(nil), hist[i:]...)
		if len(hist) == 0 {
			delete(l.history, domain)
		} else {
			l.history[domain] = hist
		}
	}
	return hist
}
