// Package breaker implements a failure-counting circuit breaker that
// temporarily rejects new work when the downstream CRM looks unhealthy.
//
// One instance is shared across all conversations: the CRM and calendar
// are shared resources, so a common outage should trip a single breaker
// for everyone.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Defaults match the production incident tuning of the sales agent:
// open after three consecutive failures, cool down for one minute.
const (
	DefaultThreshold = 3
	DefaultCooldown  = 60 * time.Second
)

// ErrCircuitOpen is returned when the breaker is rejecting work.
var ErrCircuitOpen = errors.New("circuit breaker open: downstream unavailable")

// Breaker tracks consecutive downstream failures. Any success resets
// the counter; once the counter reaches the threshold the breaker is
// open until the cooldown has elapsed since the last failure, after
// which the counter resets and one trial request is allowed through.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	threshold   int
	cooldown    time.Duration
	now         func() time.Time
}

// New creates a breaker with the default threshold and cooldown.
func New() *Breaker {
	return NewWithConfig(DefaultThreshold, DefaultCooldown)
}

// NewWithConfig creates a breaker with explicit tuning.
func NewWithConfig(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// IsOpen reports whether the breaker is currently rejecting work.
// When the cooldown has elapsed the failure counter resets, so the
// next caller becomes the single trial request.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return false
	}
	if b.now().Sub(b.lastFailure) < b.cooldown {
		return true
	}
	slog.Info("Breaker.IsOpen: cooldown elapsed, allowing trial request", "failures", b.failures)
	b.failures = 0
	return false
}

// RecordSuccess resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		slog.Debug("Breaker.RecordSuccess: resetting failure count", "previous", b.failures)
	}
	b.failures = 0
}

// RecordFailure increments the failure counter and stamps the failure time.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.threshold {
		slog.Warn("Breaker.RecordFailure: threshold reached, circuit open", "failures", b.failures, "cooldown", b.cooldown)
	} else {
		slog.Debug("Breaker.RecordFailure: failure recorded", "failures", b.failures)
	}
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Snapshot reports the failure count and open state without the
// cooldown reset that IsOpen performs, for observability endpoints.
func (b *Breaker) Snapshot() (failures int, open bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	open = b.failures >= b.threshold && b.now().Sub(b.lastFailure) < b.cooldown
	return b.failures, open
}
