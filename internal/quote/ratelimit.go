package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quotewatch/internal/observ"
)

const (
	defaultWindow     = 60 * time.Second
	defaultQuota      = 30
	defaultMinSpacing = 1 * time.Second
	defaultEpsilon    = 50 * time.Millisecond
)

// ErrAcquireBudget indicates the limiter kept a caller waiting through more
// retries than any consistent configuration could require.
var ErrAcquireBudget = fmt.Errorf("rate limiter retry budget exceeded, check window/quota configuration")

// LimiterConfig tunes the sliding-window limiter.
type LimiterConfig struct {
	Window     time.Duration `mapstructure:"window"`
	Quota      int           `mapstructure:"quota"`
	MinSpacing time.Duration `mapstructure:"min_spacing"`
}

// Limiter admits at most Quota outbound calls per rolling Window, with a
// minimum spacing between consecutive calls to smooth bursts. Acquire blocks
// until admission; exhaustion is a delay, never an error.
type Limiter struct {
	mu         sync.Mutex
	window     time.Duration
	quota      int
	minSpacing time.Duration
	epsilon    time.Duration
	maxRetries int
	calls      []time.Time
	logger     zerolog.Logger
}

// NewLimiter creates a sliding-window limiter. Unset window and quota fall
// back to defaults (60s, 30 calls); a zero MinSpacing disables spacing.
func NewLimiter(config LimiterConfig, logger zerolog.Logger) *Limiter {
	if config.Window <= 0 {
		config.Window = defaultWindow
	}
	if config.Quota <= 0 {
		config.Quota = defaultQuota
	}
	if config.MinSpacing < 0 {
		config.MinSpacing = defaultMinSpacing
	}
	return &Limiter{
		window:     config.Window,
		quota:      config.Quota,
		minSpacing: config.MinSpacing,
		epsilon:    defaultEpsilon,
		// Each wait is at most one window long; a consistent configuration
		// admits every waiter well within a few windows.
		maxRetries: 4 * config.Quota,
		logger:     logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Acquire blocks until one more outbound call is admitted, then records it.
// Multiple waiters may race after a wait, so admission is re-evaluated on
// every wake-up rather than assumed.
func (l *Limiter) Acquire(ctx context.Context) error {
	for attempt := 0; attempt < l.maxRetries; attempt++ {
		wait, admitted := l.tryAdmit()
		if admitted {
			if attempt > 0 {
				observ.IncCounter("ratelimit_delayed_admissions_total", nil)
			}
			return nil
		}

		observ.RecordHistogram("ratelimit_wait_seconds", wait.Seconds(), nil)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	l.logger.Error().
		Dur("window", l.window).
		Int("quota", l.quota).
		Msg("acquire retry budget exceeded")
	return ErrAcquireBudget
}

// tryAdmit prunes the window and either records the call (admitted) or
// returns how long to wait before re-evaluating.
func (l *Limiter) tryAdmit() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.calls) && !l.calls[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.calls = append(l.calls[:0], l.calls[idx:]...)
	}

	if len(l.calls) >= l.quota {
		wait := l.window - now.Sub(l.calls[0]) + l.epsilon
		if wait < l.epsilon {
			wait = l.epsilon
		}
		return wait, false
	}

	if l.minSpacing > 0 && len(l.calls) > 0 {
		sinceLast := now.Sub(l.calls[len(l.calls)-1])
		if sinceLast < l.minSpacing {
			return l.minSpacing - sinceLast, false
		}
	}

	l.calls = append(l.calls, now)
	return 0, true
}

// Pending reports how many calls currently sit inside the window.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-l.window)
	n := 0
	for _, t := range l.calls {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
