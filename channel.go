// SPDX-License-Identifier: MPL-2.0

package pcqa

// maxConsecutiveStalls is the number of consecutive stalled ticks at
// which a channel is declared dead (§4.5): the first two are tolerated,
// the third yields NoTransmittedData.
const maxConsecutiveStalls = 3

// connectionTransitionEpoch (§3) is tracked once, on the Analyzer, not
// per channel: every bump resets all channels in lockstep, so a single
// counter already satisfies the "ring never spans two epochs" invariant
// without duplicating it per channel.
type channelState struct {
	ring              *SampleRing
	currentLevel      QualityLevel
	lastEmitted       QualityLevel
	consecutiveStalls int
}

func newChannelState() *channelState {
	return &channelState{
		ring:         NewSampleRing(),
		currentLevel: Unknown,
		lastEmitted:  Unknown,
	}
}

// reset clears ring, stall count, level and the last-emitted level, as
// happens on detach, transport failure, or a transition out of the
// connected set (§3 Lifecycles, §5 Cancellation). It never itself
// emits; callers decide whether a change event is warranted
// (detach/failure resets are always silent per §5). lastEmitted must
// reset to UNKNOWN too: otherwise the first warmup tick after a reset
// compares against a stale non-UNKNOWN value and dispatchChannel fires
// a spurious change event before N+1 samples have accrued.
func (c *channelState) reset() {
	c.ring.Reset()
	c.currentLevel = Unknown
	c.lastEmitted = Unknown
	c.consecutiveStalls = 0
}

// stall retains the channel's last classification for a tick that
// produced no usable sample at all (§7: TransientReadFailure, or
// MalformedStats leaving no usable record). It still counts toward
// consecutiveStalls and can still drive the channel to
// NoTransmittedData on the third consecutive occurrence, but it does
// not push anything into the ring: there is no data to record.
func (c *channelState) stall() QualityLevel {
	if !c.ring.Ready() {
		c.currentLevel = Unknown
		return Unknown
	}
	c.consecutiveStalls++
	if c.consecutiveStalls >= maxConsecutiveStalls {
		c.currentLevel = NoTransmittedData
	}
	return c.currentLevel
}

// markEmitted compares level against the last level emitted for this
// channel, updates lastEmitted and reports whether it changed. Callers
// hold a.mu across this call: lastEmitted must never be touched outside
// that lock, since reset (also locked) can run concurrently with a
// driver tick's unlocked dispatch phase otherwise.
func (c *channelState) markEmitted(level QualityLevel) bool {
	changed := level != c.lastEmitted
	if changed {
		c.lastEmitted = level
	}
	return changed
}

// observe pushes one extracted Sample through the state machine and
// returns the resulting level. It implements §4.5's
// WARMUP -> READY -> STALLED? -> READY|DEAD machine, delegating the
// non-stalled case to classifyWindow (§4.4).
//
// observe is a pure function of the ring's contents plus
// consecutiveStalls (§8 property 4): given the same sequence of pushes
// it always returns the same sequence of levels.
func (c *channelState) observe(s Sample) QualityLevel {
	var prevLatest Sample
	hadLatest := c.ring.Count() > 0
	if hadLatest {
		prevLatest = c.ring.Latest()
	}

	c.ring.Push(s)

	if !c.ring.Ready() {
		c.currentLevel = Unknown
		return Unknown
	}

	if hadLatest {
		tickDelta := int64(s.PacketsLocal) - int64(prevLatest.PacketsLocal)
		if tickDelta == 0 {
			c.consecutiveStalls++
			if c.consecutiveStalls >= maxConsecutiveStalls {
				c.currentLevel = NoTransmittedData
			}
			return c.currentLevel
		}
	}

	c.consecutiveStalls = 0
	c.currentLevel = classifyWindow(c.ring)
	return c.currentLevel
}
