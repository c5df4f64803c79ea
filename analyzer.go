// SPDX-License-Identifier: MPL-2.0

package pcqa

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrInvalidDirection is returned by SetPeerConnection when direction
// is neither Sender nor Receiver.
var ErrInvalidDirection = errors.New("pcqa: invalid peer direction")

// Analyzer is the public facade (§4.7): a connection quality analyzer
// that is inert until a transport is attached. Construction takes no
// arguments; behavior is tuned with Options.
type Analyzer struct {
	mu sync.Mutex

	source    StatsSource
	direction PeerDirection
	attached  bool
	epoch     uint64

	// registeredSource is the last StatsSource an OnStateChange handler
	// was installed on. StatsSource has no unregister method, so a
	// caller that reattaches the very same source (an ICE-restart loop
	// calling SetPeerConnection(sameSource, dir) repeatedly) must not
	// pile up a fresh handler on it every time; this field lets
	// SetPeerConnection skip the re-registration when the source is
	// unchanged. Every concrete StatsSource implementation is backed by
	// a pointer, so StatsSource equality here never panics.
	registeredSource StatsSource

	channels map[MediaKind]*channelState

	emitter *emitter
	clock   Clock
	log     zerolog.Logger

	driverStopCh chan struct{}
	driverDone   chan struct{}
}

// Option configures an Analyzer at construction time.
type Option func(*Analyzer)

// WithLogger overrides the default zerolog.Logger (which otherwise
// derives from the global github.com/rs/zerolog/log logger as a
// per-component sub-logger).
func WithLogger(l zerolog.Logger) Option {
	return func(a *Analyzer) { a.log = l }
}

// WithClock overrides the Clock driving the periodic scheduler. Tests
// use this to inject a VirtualClock; production code never needs it.
func WithClock(c Clock) Option {
	return func(a *Analyzer) { a.clock = c }
}

// NewAnalyzer constructs an inert Analyzer. Attach a transport with
// SetPeerConnection to start analysis.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		direction: Sender,
		channels: map[MediaKind]*channelState{
			Audio: newChannelState(),
			Video: newChannelState(),
		},
		emitter: newEmitter(),
		clock:   realClock{},
		log:     log.Logger.With().Str("component", "pcqa").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analyzer) logger() *zerolog.Logger { return &a.log }

// SetPeerConnection attaches or detaches a transport (§4.7, §6).
// Passing a nil source detaches: it is idempotent with respect to
// repeated nil calls, resets all channel state, cancels any in-flight
// stats read by bumping the epoch, and emits no residual events (§5,
// §8 round-trip laws). Passing a non-nil source (re)attaches, starting
// a fresh epoch and a new warmup phase, and (re)starts the driver.
func (a *Analyzer) SetPeerConnection(source StatsSource, direction PeerDirection) error {
	if source == nil {
		a.detach()
		return nil
	}
	if direction != Sender && direction != Receiver {
		return ErrInvalidDirection
	}

	a.mu.Lock()
	// Invalidate the old epoch/source *before* asking the old driver
	// goroutine to stop: stopDriverLocked briefly releases a.mu to wait
	// for it, and any processTick of the old driver that is blocked on
	// that same lock must see the new epoch/source as soon as it gets
	// in, not the stale one (§5 epoch discipline).
	a.epoch++
	a.direction = direction
	a.source = source
	a.attached = true
	for _, ch := range a.channels {
		ch.reset()
	}
	a.stopDriverLocked()
	needsHandler := a.registeredSource != source
	if needsHandler {
		a.registeredSource = source
	}
	a.mu.Unlock()

	if needsHandler {
		// Bind this handler to the source it was registered on: a
		// caller may keep a previously-detached source alive (adapters
		// document that they never close what they wrap) and it can
		// still fire a state change later. Without this guard that
		// stale notification would reset whatever source is
		// *currently* attached, even though it has nothing to do with
		// it. Guarding registration on source identity (rather than
		// registering unconditionally on every attach) also means a
		// caller reattaching the same source repeatedly never piles up
		// more than one handler on it.
		source.OnStateChange(func(state TransportState) {
			a.onTransportStateChange(source, state)
		})
	}
	a.startDriver()
	return nil
}

func (a *Analyzer) detach() {
	a.mu.Lock()
	if !a.attached {
		// Idempotent: a second nil detach is a no-op (§8).
		a.mu.Unlock()
		return
	}
	a.epoch++
	a.attached = false
	a.source = nil
	for _, ch := range a.channels {
		ch.reset()
	}
	a.stopDriverLocked()
	a.mu.Unlock()
}

// onTransportStateChange reacts to transport-state notifications
// (§5): leaving the connected set bumps the epoch and resets channels
// to UNKNOWN silently, without stopping the driver, which resumes
// sampling automatically once the transport returns to
// Connected/Completed. source is the StatsSource this handler was
// registered on; a notification arriving from a source that has since
// been replaced no longer matches a.source and is ignored rather than
// resetting whatever source is attached now.
func (a *Analyzer) onTransportStateChange(source StatsSource, state TransportState) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.attached || a.source != source {
		return
	}
	if state.Analyzing() {
		return
	}
	a.epoch++
	for _, ch := range a.channels {
		ch.reset()
	}
}

func (a *Analyzer) startDriver() {
	a.mu.Lock()
	defer a.mu.Unlock()
	tickCh, ack, tickerStop := a.clock.Ticker(tickPeriod)
	a.driverStopCh = make(chan struct{})
	a.driverDone = make(chan struct{})
	go a.runDriver(tickCh, ack, tickerStop, a.driverStopCh, a.driverDone)
}

// stopDriverLocked asks a running driver goroutine to exit and waits
// for it to do so. Called with a.mu held; it releases a.mu while it
// waits and reacquires it before returning, so callers must not assume
// state guarded by a.mu is unchanged across the call.
func (a *Analyzer) stopDriverLocked() {
	if a.driverStopCh == nil {
		return
	}
	close(a.driverStopCh)
	done := a.driverDone
	a.driverStopCh = nil
	a.driverDone = nil

	// Wait outside the lock: runDriver never needs a.mu to shut down,
	// but processTick does, so holding the lock here would deadlock
	// against an in-flight tick.
	a.mu.Unlock()
	<-done
	a.mu.Lock()
}

// GetConnectionQualityAudio returns the current level for the audio
// channel of the active direction, or UNKNOWN if no transport is
// attached (§4.7, §7 NoTransportAttached).
func (a *Analyzer) GetConnectionQualityAudio() QualityLevel {
	return a.getLevel(Audio)
}

// GetConnectionQualityVideo returns the current level for the video
// channel of the active direction, or UNKNOWN if no transport is
// attached.
func (a *Analyzer) GetConnectionQualityVideo() QualityLevel {
	return a.getLevel(Video)
}

func (a *Analyzer) getLevel(kind MediaKind) QualityLevel {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.attached {
		return Unknown
	}
	return a.channels[kind].currentLevel
}

// Snapshot is sugar over the two getters: a single consistent read of
// both channels plus the active direction, useful to observers (like
// pcqametrics) that want to avoid two separate lock acquisitions
// racing against a driver tick.
type Snapshot struct {
	Direction PeerDirection
	Audio     QualityLevel
	Video     QualityLevel
	Attached  bool
}

// Snapshot returns a consistent read of both channel levels.
func (a *Analyzer) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.attached {
		return Snapshot{Audio: Unknown, Video: Unknown}
	}
	return Snapshot{
		Direction: a.direction,
		Audio:     a.channels[Audio].currentLevel,
		Video:     a.channels[Video].currentLevel,
		Attached:  true,
	}
}

// On registers handler for event and returns a token for Off.
func (a *Analyzer) On(event EventName, handler Handler) uint64 {
	return a.emitter.on(event, handler)
}

// Off removes a previously registered handler.
func (a *Analyzer) Off(event EventName, token uint64) {
	a.emitter.off(event, token)
}
