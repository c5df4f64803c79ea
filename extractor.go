// SPDX-License-Identifier: MPL-2.0

package pcqa

import "time"

// extractedMetrics is the pair of raw values §4.3 pulls out of a stats
// snapshot for one (direction, kind) channel, before they become a
// Sample. packetsLocal and the timestamp are mandatory for a usable
// tick; the rest may legitimately be absent.
type extractedMetrics struct {
	packetsLocal  Opt[uint64]
	packetsRemote Opt[uint64]
	packetsLost   Opt[int64]
	rtt           Opt[time.Duration]
	timestampMs   Opt[int64]
}

func findRecord(records []StatRecord, typ StatRecordType, kind MediaKind) (StatRecord, bool) {
	for _, r := range records {
		if r.Type == typ && r.Kind == kind {
			return r, true
		}
	}
	return StatRecord{}, false
}

// extract implements §4.3: it locates the local and remote RTCP-derived
// records for a channel and lifts their fields into extractedMetrics.
// A record with no usable timestamp, or entirely missing, yields a
// metrics value with packetsLocal/timestampMs absent, which the driver
// treats as a stalled tick (§7, MalformedStats).
func extract(records []StatRecord, dir PeerDirection, kind MediaKind) extractedMetrics {
	var localType, remoteType StatRecordType
	if dir == Sender {
		localType, remoteType = OutboundRTP, RemoteInboundRTP
	} else {
		localType, remoteType = InboundRTP, RemoteOutboundRTP
	}

	var m extractedMetrics

	local, ok := findRecord(records, localType, kind)
	if ok {
		if dir == Sender {
			m.packetsLocal = local.PacketsSent
		} else {
			m.packetsLocal = local.PacketsReceived
		}
		m.timestampMs = local.Timestamp
	}

	if remote, ok := findRecord(records, remoteType, kind); ok {
		if dir == Sender {
			m.packetsRemote = remote.PacketsReceived
		} else {
			m.packetsRemote = remote.PacketsSent
		}
		m.packetsLost = remote.PacketsLost
		m.rtt = remote.RoundTripTime
	}

	return m
}

// usable reports whether this tick's extraction carries enough to push
// a Sample at all: the local counter and a timestamp.
func (m extractedMetrics) usable() bool {
	_, haveLocal := m.packetsLocal.Get()
	_, haveTs := m.timestampMs.Get()
	return haveLocal && haveTs
}
