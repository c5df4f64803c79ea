// SPDX-License-Identifier: MPL-2.0

package pcqa

import "sync"

// EventName enumerates the four observable events the facade exposes
// (§4.7).
type EventName int

const (
	EventQualityChangedAudio EventName = iota
	EventQualityChangedVideo
	EventStatsUpdatedAudio
	EventStatsUpdatedVideo
)

func (e EventName) String() string {
	switch e {
	case EventQualityChangedAudio:
		return "change:connectionQualityAudio"
	case EventQualityChangedVideo:
		return "change:connectionQualityVideo"
	case EventStatsUpdatedAudio:
		return "change:statsAudio"
	case EventStatsUpdatedVideo:
		return "change:statsVideo"
	default:
		return "unknown"
	}
}

// Handler receives (analyzer, newValue) for a fired event, as specified
// in §4.7.
type Handler func(a *Analyzer, newValue QualityLevel)

// emitter fans events out to registered handlers, tolerating concurrent
// registration/removal mid-dispatch. It delivers every emit it is
// given; de-duplication of quality-change notifications happens before
// that, in channelState.markEmitted (§3 invariants, §5 ordering
// guarantees, §9 design notes: "replace [the event bus] with explicit
// per-event handler lists ... dispatch snapshots the list").
type emitter struct {
	mu       sync.Mutex
	handlers map[EventName][]*handlerEntry
	seq      uint64
}

type handlerEntry struct {
	id uint64
	fn Handler
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[EventName][]*handlerEntry)}
}

// on registers fn for event and returns a token usable with off.
func (e *emitter) on(event EventName, fn Handler) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	id := e.seq
	e.handlers[event] = append(e.handlers[event], &handlerEntry{id: id, fn: fn})
	return id
}

// off removes a previously registered handler by token. Removing a
// handler mid-dispatch does not affect the in-flight dispatch's
// snapshot (§5).
func (e *emitter) off(event EventName, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.handlers[event]
	for i, h := range list {
		if h.id == id {
			e.handlers[event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// emit dispatches to a snapshot of the current handler list for event.
// A handler that panics is recovered and logged (§7
// ObserverHandlerFailure) without aborting dispatch to the rest, and
// without corrupting engine state.
func (e *emitter) emit(a *Analyzer, event EventName, value QualityLevel) {
	e.mu.Lock()
	list := e.handlers[event]
	snapshot := make([]*handlerEntry, len(list))
	copy(snapshot, list)
	e.mu.Unlock()

	for _, h := range snapshot {
		dispatchOne(a, h.fn, event, value)
	}
}

func dispatchOne(a *Analyzer, fn Handler, event EventName, value QualityLevel) {
	defer func() {
		if r := recover(); r != nil {
			a.logger().Warn().
				Str("event", event.String()).
				Interface("panic", r).
				Msg("pcqa: observer handler failed")
		}
	}()
	fn(a, value)
}
