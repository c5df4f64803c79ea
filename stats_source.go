// SPDX-License-Identifier: MPL-2.0

package pcqa

import "time"

// StatRecordType identifies which RTCP-derived stats object a StatRecord
// was built from. Only these four kinds carry information the extractor
// consumes (§4.3).
type StatRecordType int

const (
	OutboundRTP StatRecordType = iota
	InboundRTP
	RemoteInboundRTP
	RemoteOutboundRTP
)

// Opt is a small present-or-absent wrapper, the Go stand-in for the
// dynamic "may be missing" numeric fields a stats snapshot can report.
// Get returns the presence flag alongside the value, so callers can
// tell an absent field apart from one that is present and zero.
type Opt[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](v T) Opt[T] { return Opt[T]{value: v, ok: true} }

// None represents an absent value.
func None[T any]() Opt[T] { return Opt[T]{} }

// Get returns the wrapped value and whether it was present.
func (o Opt[T]) Get() (T, bool) { return o.value, o.ok }

// Valid reports whether the value is present.
func (o Opt[T]) Valid() bool { return o.ok }

// Or returns the wrapped value, or fallback when absent.
func (o Opt[T]) Or(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

// StatRecord is one entry of a stats snapshot, matching the subset of
// fields the engine reads off a transport's live counters (§3).
type StatRecord struct {
	Type StatRecordType
	Kind MediaKind

	PacketsSent     Opt[uint64]
	PacketsReceived Opt[uint64]
	PacketsLost     Opt[int64]
	RoundTripTime   Opt[time.Duration]
	// Timestamp is the transport's own monotonic clock reading for this
	// record, in milliseconds. It is mandatory on the local record
	// (outbound-rtp for a sender, inbound-rtp for a receiver): without it
	// the extractor reports the channel unusable and the tick is stalled
	// (§7, MalformedStats). The extractor does not read it from remote
	// records.
	Timestamp Opt[int64]
}

// StatsResult is what a StatsFuture eventually carries: either a
// snapshot of records or a transient read failure (§7,
// TransientReadFailure).
type StatsResult struct {
	Records []StatRecord
	Err     error
}

// StatsFuture is the asynchronous handle returned by
// StatsSource.ReadStats. Exactly one value is ever sent on the channel,
// after which it is closed; callers read it at most once.
type StatsFuture <-chan StatsResult

// StatsSource abstracts the live media transport the engine observes.
// It is the sole external collaborator the analysis engine depends on;
// everything about how a connection is established is out of scope and
// lives behind this interface (§1, §4.1, §6).
//
// Implementations must be backed by a pointer (or another comparable
// type whose values are distinct per logical source): SetPeerConnection
// compares the StatsSource it receives against the previously attached
// one with == to decide whether an OnStateChange handler already exists
// for it, and that comparison panics if the dynamic type holds a slice,
// map, or func field. Every adapter in this module (mockSource,
// rtpstats.Session, webrtcstats.Source) satisfies this by construction.
type StatsSource interface {
	// State returns the transport's current phase.
	State() TransportState

	// OnStateChange registers a handler invoked whenever the transport
	// moves to a new TransportState. Implementations invoke handlers in
	// registration order on whatever goroutine they choose; the engine's
	// handler takes the Analyzer's own lock, so it is safe to call from
	// any goroutine.
	OnStateChange(handler func(TransportState))

	// ReadStats starts an asynchronous stats read and returns a future
	// for its result. Implementations must eventually send exactly one
	// StatsResult and close the channel, even on error.
	ReadStats() StatsFuture
}
