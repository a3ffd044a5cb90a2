package session

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/gemini-relay/pkg/logger"
	"github.com/capitalize-ai/gemini-relay/pkg/metrics"
)

// Reaper expires idle conversations at most once per interval. It is driven
// by inbound traffic rather than a timer.
type Reaper struct {
	store       *Store
	idleTimeout time.Duration
	interval    time.Duration
	now         Clock
	logger      *logger.Logger
	onReap      func(removed int)

	// lastReap is the time of the last scan, nil if none yet.
	lastReap atomic.Pointer[time.Time]
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperClock overrides the reaper's time source.
func WithReaperClock(now Clock) ReaperOption {
	return func(r *Reaper) {
		r.now = now
	}
}

// WithReaperLogger sets the reaper's logger.
func WithReaperLogger(log *logger.Logger) ReaperOption {
	return func(r *Reaper) {
		r.logger = log
	}
}

// WithReapListener registers a callback invoked after every executed scan.
func WithReapListener(fn func(removed int)) ReaperOption {
	return func(r *Reaper) {
		r.onReap = fn
	}
}

// NewReaper creates a reaper over store.
func NewReaper(store *Store, idleTimeout, interval time.Duration, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:       store,
		idleTimeout: idleTimeout,
		interval:    interval,
		now:         time.Now,
		logger:      logger.Global(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaybeReap scans the store unless a scan ran less than interval ago.
// Concurrent callers race on a compare-and-swap so only one of them scans.
func (r *Reaper) MaybeReap() (removed int, ran bool) {
	now := r.now()

	prev := r.lastReap.Load()
	if prev != nil && now.Sub(*prev) < r.interval {
		return 0, false
	}
	if !r.lastReap.CompareAndSwap(prev, &now) {
		return 0, false
	}

	start := time.Now()
	removed = r.store.ReapExpired(r.idleTimeout, now)
	metrics.ReapRunsTotal.Inc()

	if removed > 0 {
		r.logger.Info("reaped idle conversations",
			zap.Int("removed", removed),
			zap.Int("remaining", r.store.Len()),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		r.logger.Debug("reap found no idle conversations", zap.Int("remaining", r.store.Len()))
	}

	if r.onReap != nil {
		r.onReap(removed)
	}
	return removed, true
}

// LastReap returns the time of the last executed scan.
func (r *Reaper) LastReap() time.Time {
	if t := r.lastReap.Load(); t != nil {
		return *t
	}
	return time.Time{}
}
