// SPDX-License-Identifier: MPL-2.0

package pcqa

import "time"

// tickPeriod is the fixed scheduler period from §4.6/§6: the
// classifier's packetsPerSecond threshold is calibrated to a
// ring of N=5 samples at 1 Hz, a ~5 second window.
const tickPeriod = 1000 * time.Millisecond

// runDriver is the Analyzer's single periodic task (§4.6). It owns the
// only suspension point in the whole engine: blocking on the result of
// StatsSource.ReadStats() (§5). Everything else in a tick runs without
// yielding, so ticks never interleave.
func (a *Analyzer) runDriver(tick <-chan struct{}, ack func(), tickerStop func(), stopCh <-chan struct{}, done chan struct{}) {
	defer close(done)
	defer tickerStop()
	for {
		select {
		case <-tick:
			a.processTick()
			ack()
		case <-stopCh:
			return
		}
	}
}

func (a *Analyzer) processTick() {
	a.mu.Lock()
	if !a.attached {
		a.mu.Unlock()
		return
	}
	source := a.source
	epoch := a.epoch
	direction := a.direction
	a.mu.Unlock()

	if !source.State().Analyzing() {
		// §4.6 step 1: nothing to do while not connected. State
		// transitions themselves are handled by onTransportStateChange,
		// which already reset channels to UNKNOWN silently.
		return
	}

	future := source.ReadStats()
	result := <-future // the engine's one cooperative suspension point

	a.mu.Lock()
	if !a.attached || a.epoch != epoch {
		// Stale: either detached or the transport transitioned and
		// bumped the epoch while this read was in flight (§5).
		a.mu.Unlock()
		return
	}

	now := a.clock.Now()

	var levels [2]channelLevel
	if result.Err != nil {
		levels = a.tickStalledLocked()
	} else {
		levels = a.tickWithRecordsLocked(direction, result.Records, now)
	}
	a.mu.Unlock()

	// Dispatch runs with a.mu released: observer handlers (§7
	// ObserverHandlerFailure) may call back into the facade's own
	// getters, which would deadlock on this same goroutine against a
	// non-reentrant mutex if it were still held here.
	for _, cl := range levels {
		a.dispatchChannel(cl.kind, cl.level, cl.changed)
	}
}

// channelLevel pairs a channel's kind with the level one tick produced
// for it and whether that level differs from the last one emitted, so
// the locked phase of a tick can hand its results to the unlocked
// dispatch phase without that phase touching any channelState field.
type channelLevel struct {
	kind    MediaKind
	level   QualityLevel
	changed bool
}

// tickStalledLocked must be called with a.mu held; it only mutates
// channel state and never dispatches.
func (a *Analyzer) tickStalledLocked() [2]channelLevel {
	var out [2]channelLevel
	for i, kind := range []MediaKind{Audio, Video} {
		ch := a.channels[kind]
		level := ch.stall()
		out[i] = channelLevel{kind: kind, level: level, changed: ch.markEmitted(level)}
	}
	return out
}

// tickWithRecordsLocked must be called with a.mu held; it only mutates
// channel state and never dispatches.
func (a *Analyzer) tickWithRecordsLocked(direction PeerDirection, records []StatRecord, now int64) [2]channelLevel {
	var out [2]channelLevel
	for i, kind := range []MediaKind{Audio, Video} {
		ch := a.channels[kind]
		metrics := extract(records, direction, kind)

		if !metrics.usable() {
			// §7 MalformedStats / missing local counter (§4.3): no
			// usable record for this channel this tick.
			level := ch.stall()
			out[i] = channelLevel{kind: kind, level: level, changed: ch.markEmitted(level)}
			continue
		}

		sample := buildSample(metrics, now)
		level := ch.observe(sample)
		out[i] = channelLevel{kind: kind, level: level, changed: ch.markEmitted(level)}
	}
	return out
}

// buildSample turns extracted, possibly-partial metrics into the
// concrete Sample the ring stores. A timestamp is always present here
// (usable() already checked); packetsLost defaults to 0 when absent,
// a documented simplification (§9 Open Questions only forbids
// coercing an absent *remote packet count* to zero, which
// classifyWindow's remoteDelta already honors separately).
func buildSample(m extractedMetrics, fallbackNowMs int64) Sample {
	local, _ := m.packetsLocal.Get()
	ts, ok := m.timestampMs.Get()
	if !ok {
		ts = fallbackNowMs
	}
	lost, _ := m.packetsLost.Get()

	var rtt Opt[float64]
	if d, ok := m.rtt.Get(); ok {
		rtt = Some(d.Seconds())
	}

	return Sample{
		TMs:           ts,
		PacketsLocal:  local,
		PacketsRemote: m.packetsRemote,
		PacketsLost:   lost,
		RTT:           rtt,
	}
}

// dispatchChannel fires statsUpdated always, and qualityChanged only
// when changed is set, i.e. the emitted value differs from the last
// one emitted for this channel (§3 invariants, §8 property 3). changed
// is decided by the locked phase of the tick (markEmitted), since
// lastEmitted must only ever be touched under a.mu; this function
// itself never reads or writes channelState and only calls out to the
// emitter, so it is safe to run after a.mu has been released. Every
// call represents one completed tick for that channel, so both events
// always fire in the quality-then-stats order the facade promises.
func (a *Analyzer) dispatchChannel(kind MediaKind, level QualityLevel, changed bool) {
	qualityEvent, statsEvent := eventsFor(kind)

	if changed {
		a.emitter.emit(a, qualityEvent, level)
	}
	a.emitter.emit(a, statsEvent, level)
}

func eventsFor(kind MediaKind) (quality, stats EventName) {
	if kind == Audio {
		return EventQualityChangedAudio, EventStatsUpdatedAudio
	}
	return EventQualityChangedVideo, EventStatsUpdatedVideo
}
