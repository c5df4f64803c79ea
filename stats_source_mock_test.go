// SPDX-License-Identifier: MPL-2.0

package pcqa

import (
	"sync"
	"time"
)

// mockSource is a scriptable StatsSource: each call to ReadStats pops the
// next queued StatsResult and resolves its future immediately (tests that
// need tick-by-tick control pair this with a VirtualClock rather than
// relying on synchronization here).
type mockSource struct {
	mu        sync.Mutex
	state     TransportState
	handlers  []func(TransportState)
	queue     []StatsResult
	readCalls int
}

func newMockSource() *mockSource {
	return &mockSource{state: StateConnected}
}

func (m *mockSource) State() TransportState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockSource) OnStateChange(handler func(TransportState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

func (m *mockSource) setState(s TransportState) {
	m.mu.Lock()
	m.state = s
	handlers := append([]func(TransportState){}, m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

// push appends one more result for the next tick's ReadStats call.
func (m *mockSource) push(records ...StatRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, StatsResult{Records: records})
}

// pushErr appends a transient read failure for the next tick.
func (m *mockSource) pushErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, StatsResult{Err: err})
}

func (m *mockSource) ReadStats() StatsFuture {
	m.mu.Lock()
	m.readCalls++
	var result StatsResult
	if len(m.queue) > 0 {
		result = m.queue[0]
		m.queue = m.queue[1:]
	}
	m.mu.Unlock()

	ch := make(chan StatsResult, 1)
	ch <- result
	close(ch)
	return ch
}

// outboundRecord/remoteInboundRecord build the StatRecord pairs the
// worked scenarios describe for a sender channel of the given kind.
func outboundRecord(kind MediaKind, sent uint64, tsMs int64) StatRecord {
	return StatRecord{
		Type:        OutboundRTP,
		Kind:        kind,
		PacketsSent: Some(sent),
		Timestamp:   Some(tsMs),
	}
}

func remoteInboundRecord(kind MediaKind, received Opt[uint64], lost int64, rtt float64) StatRecord {
	return StatRecord{
		Type:            RemoteInboundRTP,
		Kind:            kind,
		PacketsReceived: received,
		PacketsLost:     Some(lost),
		RoundTripTime:   Some(time.Duration(rtt * float64(time.Second))),
	}
}
