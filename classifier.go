// SPDX-License-Identifier: MPL-2.0

package pcqa

// Packet-loss ratio and RTT boundaries from §4.4. These are the
// observable contract the scenarios in §8 exercise; changing them
// changes behavior that tests pin down exactly.
const (
	veryBadLossRatio = 0.2
	badLossRatio     = 0.1
	mediumLossRatio  = 0.03

	veryBadRTTSeconds = 1.0
	badRTTSeconds     = 0.5
	mediumRTTSeconds  = 0.3

	veryBadPacketsPerSecond = 10.0
)

// classifyWindow implements §4.4 over the span from the ring's baseline
// to its latest sample. The caller (channel.go) is responsible for the
// stall-handling precondition: this is only invoked once the current
// tick's local packet count has advanced, so the single-tick zero-delta
// branch of rule 1 never needs to be considered here.
func classifyWindow(r *SampleRing) QualityLevel {
	baseline := r.Baseline()
	latest := r.Latest()

	deltaLocal := int64(latest.PacketsLocal) - int64(baseline.PacketsLocal)
	deltaLost := latest.PacketsLost - baseline.PacketsLost
	deltaT := latest.TMs - baseline.TMs

	deltaRemote, haveRemoteDelta := remoteDelta(baseline, latest)
	if !haveRemoteDelta {
		deltaRemote = deltaLocal - deltaLost
	}

	if deltaRemote <= 0 && deltaLocal > 0 {
		return NoTransmittedData
	}

	deltaTSeconds := float64(deltaT) / 1000.0
	var packetsPerSecond float64
	if deltaTSeconds > 0 {
		packetsPerSecond = float64(deltaLocal) / deltaTSeconds
	}

	lossDenominator := deltaLocal
	if lossDenominator < 1 {
		lossDenominator = 1
	}
	lossRatio := float64(deltaLost) / float64(lossDenominator)

	rtt, haveRTT := latest.RTT.Get()

	// A value sitting exactly on a threshold always falls to the
	// better-quality side of that boundary (§8 boundary behaviors), so
	// every bucket test below is strict on its lower edge and inclusive
	// on its upper edge, matching how the RTT rule is already phrased
	// in §4.4.
	switch {
	case lossRatio > veryBadLossRatio,
		packetsPerSecond < veryBadPacketsPerSecond,
		haveRTT && rtt > veryBadRTTSeconds:
		return VeryBad
	case (lossRatio > badLossRatio && lossRatio <= veryBadLossRatio),
		(haveRTT && rtt > badRTTSeconds && rtt <= veryBadRTTSeconds):
		return Bad
	case (lossRatio > mediumLossRatio && lossRatio <= badLossRatio),
		(haveRTT && rtt > mediumRTTSeconds && rtt <= badRTTSeconds):
		return Medium
	default:
		return Good
	}
}

// remoteDelta computes the peer-reported packet delta across the
// window when both ends of the window actually carried a remote count.
// When either end is missing it, the caller falls back to
// Δlocal - Δlost rather than silently treating the absent count as
// zero (§4.1, §9 Open Questions).
func remoteDelta(baseline, latest Sample) (int64, bool) {
	b, okB := baseline.PacketsRemote.Get()
	l, okL := latest.PacketsRemote.Get()
	if !okB || !okL {
		return 0, false
	}
	return int64(l) - int64(b), true
}
