package quote

import (
	"context"
	"errors"
	"sync"
	"time"

	"quotewatch/internal/observ"
)

const (
	defaultDedupeGrace   = 5 * time.Second
	defaultDedupeTimeout = 30 * time.Second
)

// ErrWaitTimeout is returned to a waiter whose leader did not finish within
// the wait bound. It is distinct from any error the operation itself returns.
var ErrWaitTimeout = errors.New("timed out waiting for in-flight request")

// DedupeConfig tunes the in-flight request deduplicator.
type DedupeConfig struct {
	Grace       time.Duration `mapstructure:"grace"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

// Group coalesces concurrent calls for the same key into one execution. The
// first caller for a key runs the operation; the rest wait for its outcome.
// Completed entries linger for a grace period so a tight burst arriving just
// after completion still shares the outcome instead of refetching.
type Group[V any] struct {
	mu          sync.Mutex
	inflight    map[string]*inflightCall[V]
	grace       time.Duration
	waitTimeout time.Duration
}

type inflightCall[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// NewGroup creates a deduplication group.
func NewGroup[V any](config DedupeConfig) *Group[V] {
	if config.Grace <= 0 {
		config.Grace = defaultDedupeGrace
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = defaultDedupeTimeout
	}
	return &Group[V]{
		inflight:    make(map[string]*inflightCall[V]),
		grace:       config.Grace,
		waitTimeout: config.WaitTimeout,
	}
}

// Do executes fn for key, or waits for the in-flight execution of the same
// key and shares its outcome. A waiter whose wait exceeds the bound gets
// ErrWaitTimeout; the leader's own outcome is unaffected.
func (g *Group[V]) Do(ctx context.Context, key string, fn func() (V, error)) (V, error) {
	g.mu.Lock()
	if call, ok := g.inflight[key]; ok {
		g.mu.Unlock()
		observ.IncCounter("dedupe_shared_total", map[string]string{"key": key})
		return g.wait(ctx, call)
	}

	call := &inflightCall[V]{done: make(chan struct{})}
	g.inflight[key] = call
	g.mu.Unlock()

	observ.IncCounter("dedupe_leads_total", map[string]string{"key": key})

	// Run outside the lock so unrelated keys never contend.
	call.val, call.err = fn()
	close(call.done)

	// Entry lingers briefly, then late waiters become new leaders.
	time.AfterFunc(g.grace, func() {
		g.mu.Lock()
		if g.inflight[key] == call {
			delete(g.inflight, key)
		}
		g.mu.Unlock()
	})

	return call.val, call.err
}

func (g *Group[V]) wait(ctx context.Context, call *inflightCall[V]) (V, error) {
	timer := time.NewTimer(g.waitTimeout)
	defer timer.Stop()

	var zero V
	select {
	case <-call.done:
		return call.val, call.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		observ.IncCounter("dedupe_wait_timeouts_total", nil)
		return zero, ErrWaitTimeout
	}
}

// Inflight reports how many keys currently have an entry, including entries
// inside their post-completion grace period.
func (g *Group[V]) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
