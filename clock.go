// SPDX-License-Identifier: MPL-2.0

package pcqa

import (
	"sync"
	"time"
)

// Clock abstracts time so the driver's tick loop can be driven
// deterministically in tests (§9 design notes: "Tests drive time by
// injecting a virtual clock that exposes advance(ms) and deterministically
// flushes pending Futures between tick boundaries").
type Clock interface {
	// Now returns the current time in milliseconds (Unix wall-clock time
	// for realClock, the virtual reading for VirtualClock), used to
	// timestamp ticks.
	Now() int64
	// Ticker returns a channel that receives once per period, and a
	// function the driver must call immediately after it has fully
	// processed each received tick (so Advance can block until the
	// tick's effects, including any stats-future resolution, are
	// visible).
	Ticker(period time.Duration) (tick <-chan struct{}, ack func(), stop func())
}

// realClock drives the engine off the wall clock and a time.Ticker; it
// is the default used outside of tests, where there is no one waiting
// to be unblocked so ack is a no-op.
type realClock struct{}

func (realClock) Now() int64 {
	return time.Now().UnixMilli()
}

func (realClock) Ticker(period time.Duration) (<-chan struct{}, func(), func()) {
	t := time.NewTicker(period)
	ch := make(chan struct{})
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				select {
				case ch <- struct{}{}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	stop := func() {
		t.Stop()
		close(done)
	}
	return ch, func() {}, stop
}

// VirtualClock is an injectable clock for tests: Advance fires exactly
// one tick and blocks until the driver has finished processing it
// (future resolution included), giving tests tick-by-tick control. This
// is required for Scenario G, whose outcome depends on observing the
// 1st, 2nd and 3rd consecutive stalled ticks individually. A
// VirtualClock supports a single concurrent ticker, matching the
// Analyzer's single internal driver.
type VirtualClock struct {
	mu     sync.Mutex
	nowMs  int64
	active *virtualTicker
}

type virtualTicker struct {
	tick chan struct{}
	ack  chan struct{}
	stop chan struct{}
}

// NewVirtualClock returns a clock starting at the given monotonic
// milliseconds reading.
func NewVirtualClock(startMs int64) *VirtualClock {
	return &VirtualClock{nowMs: startMs}
}

func (c *VirtualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowMs
}

// Ticker starts a fresh ticker lifecycle, replacing any previous one.
// Each SetPeerConnection attach/reattach calls this exactly once
// through Analyzer.startDriver, so "replacing" only ever happens after
// the previous ticker's stop() has already been invoked.
func (c *VirtualClock) Ticker(_ time.Duration) (<-chan struct{}, func(), func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vt := &virtualTicker{
		tick: make(chan struct{}),
		ack:  make(chan struct{}),
		stop: make(chan struct{}),
	}
	c.active = vt

	ackFn := func() {
		select {
		case vt.ack <- struct{}{}:
		case <-vt.stop:
		}
	}
	stopFn := func() {
		select {
		case <-vt.stop:
		default:
			close(vt.stop)
		}
	}
	return vt.tick, ackFn, stopFn
}

// Advance moves the clock forward by deltaMs, fires one tick on the
// current ticker (if any), and waits for the driver to ack having
// fully processed it before returning. A no-op when no ticker is
// currently active (e.g. before the first attach, or after detach).
func (c *VirtualClock) Advance(deltaMs int64) {
	c.mu.Lock()
	c.nowMs += deltaMs
	vt := c.active
	c.mu.Unlock()

	if vt == nil {
		return
	}

	select {
	case vt.tick <- struct{}{}:
	case <-vt.stop:
		return
	}
	select {
	case <-vt.ack:
	case <-vt.stop:
	}
}
