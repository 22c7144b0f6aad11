package librt

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelayMonotonic(t *testing.T) {
	b := NewBackoffController(BackoffConfig{
		BaseDelay: 100 * time.Millisecond,
		Factor:    2,
		MaxDelay:  1 * time.Second,
		JitterMax: NoJitter,
	}, nil)
	defer b.Dispose()

	var prev time.Duration
	for i := 0; i < 8; i++ {
		scheduled, delay := b.RecordFailure()
		require.True(t, scheduled)
		assert.GreaterOrEqual(t, delay, prev, "delay must never shrink")
		assert.LessOrEqual(t, delay, 1*time.Second)
		prev = delay
	}

	assert.Equal(t, 1*time.Second, prev, "delay must settle at the cap")
}

func TestBackoffJitterBounded(t *testing.T) {
	const jitterMax = 50 * time.Millisecond

	b := NewBackoffController(BackoffConfig{
		BaseDelay: 100 * time.Millisecond,
		Factor:    2,
		MaxDelay:  100 * time.Millisecond,
		JitterMax: jitterMax,
	}, nil)
	defer b.Dispose()

	for i := 0; i < 20; i++ {
		scheduled, delay := b.RecordFailure()
		require.True(t, scheduled)
		assert.GreaterOrEqual(t, delay, 100*time.Millisecond)
		assert.LessOrEqual(t, delay, 100*time.Millisecond+jitterMax)
	}
}

func TestBackoffBelowThresholdSilent(t *testing.T) {
	fired := make(chan struct{}, 1)
	b := NewBackoffController(BackoffConfig{
		Threshold: 3,
		BaseDelay: time.Millisecond,
		JitterMax: NoJitter,
	}, func() {
		fired <- struct{}{}
	})
	defer b.Dispose()

	for i := 0; i < 3; i++ {
		scheduled, delay := b.RecordFailure()
		assert.False(t, scheduled, "failure %d is below threshold", i+1)
		assert.Zero(t, delay)
	}

	select {
	case <-fired:
		t.Fatal("no timer may fire below threshold")
	case <-time.After(50 * time.Millisecond):
	}

	// The failure crossing the threshold schedules at the base delay.
	scheduled, delay := b.RecordFailure()
	require.True(t, scheduled)
	assert.Equal(t, 4, b.Attempts())
	assert.GreaterOrEqual(t, delay, time.Millisecond)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired after crossing the threshold")
	}
}

func TestBackoffSuccessResetsDelays(t *testing.T) {
	newController := func() *BackoffController {
		return NewBackoffController(BackoffConfig{
			BaseDelay: 10 * time.Millisecond,
			Factor:    2,
			MaxDelay:  time.Second,
			JitterMax: NoJitter,
		}, nil)
	}

	record := func(b *BackoffController, n int) []time.Duration {
		out := make([]time.Duration, 0, n)
		for i := 0; i < n; i++ {
			_, delay := b.RecordFailure()
			out = append(out, delay)
		}
		return out
	}

	fresh := newController()
	defer fresh.Dispose()
	want := record(fresh, 5)

	reused := newController()
	defer reused.Dispose()
	record(reused, 3)
	reused.RecordSuccess()
	assert.Zero(t, reused.Attempts())

	got := record(reused, 5)
	assert.Equal(t, want, got, "delays after a success must match a fresh controller")
}

func TestBackoffSuccessCancelsTimer(t *testing.T) {
	var fired atomic.Int32
	b := NewBackoffController(BackoffConfig{
		BaseDelay: 30 * time.Millisecond,
		JitterMax: NoJitter,
	}, func() {
		fired.Add(1)
	})
	defer b.Dispose()

	scheduled, _ := b.RecordFailure()
	require.True(t, scheduled)
	b.RecordSuccess()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, fired.Load(), "a success must cancel the pending timer")
}

func TestBackoffSingleTimer(t *testing.T) {
	var fired atomic.Int32
	b := NewBackoffController(BackoffConfig{
		BaseDelay: 20 * time.Millisecond,
		Factor:    2,
		MaxDelay:  100 * time.Millisecond,
		JitterMax: NoJitter,
	}, func() {
		fired.Add(1)
	})
	defer b.Dispose()

	// A newer failure replaces the previous timer; only one fire total.
	b.RecordFailure()
	b.RecordFailure()

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestBackoffTimerCancelledWhileFiring(t *testing.T) {
	var fired atomic.Int32
	b := NewBackoffController(BackoffConfig{
		BaseDelay: 10 * time.Millisecond,
		JitterMax: NoJitter,
	}, func() {
		fired.Add(1)
	})
	defer b.Dispose()

	scheduled, _ := b.RecordFailure()
	require.True(t, scheduled)

	// Hold the lock past the deadline so the fire callback has already
	// left the timer and is waiting when the cancellation lands. Stop
	// cannot reach it at that point; the generation check must.
	b.mu.Lock()
	time.Sleep(50 * time.Millisecond)
	b.attempts = 0
	b.stopTimerLocked()
	b.mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, fired.Load(), "a cancelled timer must not fire even when already past Stop")
}

func TestBackoffReplacedTimerStaysCancellable(t *testing.T) {
	var fired atomic.Int32
	b := NewBackoffController(BackoffConfig{
		BaseDelay: 10 * time.Millisecond,
		Factor:    2,
		JitterMax: NoJitter,
	}, func() {
		fired.Add(1)
	})
	defer b.Dispose()

	b.RecordFailure()

	// Replace the pending timer while the first fire callback is blocked
	// on the lock. The stale fire must leave the replacement handle in
	// place, so a success afterwards can still cancel it.
	b.mu.Lock()
	time.Sleep(50 * time.Millisecond)
	b.stopTimerLocked()
	gen := b.timerGen
	b.timer = time.AfterFunc(50*time.Millisecond, func() { b.fire(gen) })
	b.mu.Unlock()

	b.RecordSuccess()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestBackoffDisabledPredicate(t *testing.T) {
	b := NewBackoffController(BackoffConfig{
		BaseDelay: time.Millisecond,
		JitterMax: NoJitter,
		Enabled:   func() bool { return false },
	}, func() {
		t.Error("disabled controller must not schedule")
	})
	defer b.Dispose()

	scheduled, delay := b.RecordFailure()
	assert.False(t, scheduled)
	assert.Zero(t, delay)
	assert.Equal(t, 1, b.Attempts(), "the failure still counts")

	time.Sleep(50 * time.Millisecond)
}

func TestBackoffDispose(t *testing.T) {
	var fired atomic.Int32
	b := NewBackoffController(BackoffConfig{
		BaseDelay: 20 * time.Millisecond,
		JitterMax: NoJitter,
	}, func() {
		fired.Add(1)
	})

	b.RecordFailure()
	b.Dispose()
	b.Dispose() // idempotent

	scheduled, _ := b.RecordFailure()
	assert.False(t, scheduled, "a disposed controller never schedules")

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, fired.Load())
}
