package librt

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultBaseDelay = 500 * time.Millisecond
	DefaultFactor    = 2.0
	DefaultMaxDelay  = 30 * time.Second
	DefaultJitterMax = 250 * time.Millisecond

	// NoJitter disables the random delay addition.
	NoJitter = time.Duration(-1)
)

// BackoffConfig tunes the reconnection policy. Threshold failures are
// absorbed silently before any timer is scheduled, so short network blips
// do not trigger a reconnect storm.
type BackoffConfig struct {
	// Threshold is the number of consecutive failures to ignore before
	// scheduling begins.
	Threshold int
	// BaseDelay is the delay of the first scheduled reconnect.
	BaseDelay time.Duration
	// Factor is the exponential growth factor applied per failure.
	Factor float64
	// MaxDelay caps the computed delay, jitter excluded.
	MaxDelay time.Duration
	// JitterMax bounds the uniform random addition to every delay. Zero
	// means DefaultJitterMax; pass NoJitter for fully deterministic
	// delays.
	JitterMax time.Duration
	// Enabled, when set, is consulted on every failure; returning false
	// suppresses scheduling entirely. Channels use it to stop rescheduling
	// once manually closed.
	Enabled func() bool
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.Factor < 1 {
		c.Factor = DefaultFactor
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = DefaultMaxDelay
	}
	switch {
	case c.JitterMax == 0:
		c.JitterMax = DefaultJitterMax
	case c.JitterMax < 0:
		c.JitterMax = 0
	}
	return c
}

// BackoffController decides whether and after how long to retry,
// independent of transport type. It owns at most one pending timer at any
// time; a success or a newer failure cancels the previous one.
type BackoffController struct {
	mu        sync.Mutex
	cfg       BackoffConfig
	reconnect func()
	attempts  int
	timer     *time.Timer
	timerGen  uint64
	disposed  bool
	randFloat func() float64
}

// NewBackoffController returns a controller that invokes reconnect on its
// own timer goroutine once a scheduled delay elapses.
func NewBackoffController(cfg BackoffConfig, reconnect func()) *BackoffController {
	return &BackoffController{
		cfg:       cfg.withDefaults(),
		reconnect: reconnect,
		randFloat: rand.Float64,
	}
}

// RecordFailure registers one more consecutive failure. When the failure
// count exceeds the threshold it replaces any pending timer with a new one
// firing after min(base*factor^n, max) plus uniform jitter, and reports the
// chosen delay.
func (b *BackoffController) RecordFailure() (scheduled bool, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	if b.disposed {
		return false, 0
	}
	if b.cfg.Enabled != nil && !b.cfg.Enabled() {
		return false, 0
	}
	if b.attempts <= b.cfg.Threshold {
		return false, 0
	}

	delay = b.delayLocked(b.attempts)

	b.stopTimerLocked()
	gen := b.timerGen
	b.timer = time.AfterFunc(delay, func() { b.fire(gen) })

	return true, delay
}

// RecordSuccess resets the failure count and cancels any pending timer.
// Call it the moment the transport reports itself open, or on the first
// application-level message for transports without an open event.
func (b *BackoffController) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts = 0
	b.stopTimerLocked()
}

// Attempts returns the consecutive failures since the last success, for
// callers that cap reconnect cycles externally.
func (b *BackoffController) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.attempts
}

// Dispose cancels any pending timer and permanently disables scheduling.
// Idempotent.
func (b *BackoffController) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.disposed = true
	b.stopTimerLocked()
}

func (b *BackoffController) delayLocked(attempts int) time.Duration {
	exp := float64(attempts - b.cfg.Threshold - 1)
	base := float64(b.cfg.BaseDelay) * math.Pow(b.cfg.Factor, exp)
	if capped := float64(b.cfg.MaxDelay); base > capped {
		base = capped
	}

	jitter := time.Duration(b.randFloat() * float64(b.cfg.JitterMax))

	return time.Duration(base) + jitter
}

// stopTimerLocked cancels the pending timer. Bumping the generation also
// invalidates a fire callback that already left time.AfterFunc and is
// waiting on the mutex, which Stop alone cannot reach.
func (b *BackoffController) stopTimerLocked() {
	b.timerGen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *BackoffController) fire(gen uint64) {
	b.mu.Lock()
	if b.disposed || gen != b.timerGen {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	fn := b.reconnect
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
}
