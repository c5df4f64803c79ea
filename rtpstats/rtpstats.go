// SPDX-License-Identifier: MPL-2.0

// Package rtpstats adapts a plain RTP/RTCP transport (no PeerConnection,
// e.g. a bare UDP pair carrying pion/rtp packets and pion/rtcp reports)
// into a pcqa.StatsSource. It tracks local packet counters itself and
// derives the peer side — loss, remote packet count and round-trip time
// — from received RTCP sender/receiver reports, computing RTT the way
// RFC 3550 §6.4.1 defines it from LSR/DLSR.
package rtpstats

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mediaqual/pcqa"
)

// Session tracks one local RTP stream's packet count (sent for a Sender
// session, received for a Receiver session) alongside
// whatever the peer last reported about it over RTCP, for a single
// media kind. It implements pcqa.StatsSource with direction fixed at
// construction, since a Session corresponds to one RTP stream.
type Session struct {
	kind      pcqa.MediaKind
	direction pcqa.PeerDirection
	log       zerolog.Logger

	localSent     atomic.Uint64
	localReceived atomic.Uint64

	mu         sync.Mutex
	state      pcqa.TransportState
	handlers   []func(pcqa.TransportState)
	lastRemote remoteReport
	haveRemote bool
	lastSRNTP  map[uint32]uint64 // SSRC -> NTP timestamp of last sent SR, for RTT on the sender side
}

type remoteReport struct {
	packets     pcqa.Opt[uint64]
	lost        int64
	rtt         pcqa.Opt[time.Duration]
	timestampMs int64
}

// NewSession constructs a Session for one (direction, kind) stream,
// starting in StateNew. Call SetState once the underlying transport is
// actually flowing (there is no handshake to observe at this layer).
func NewSession(direction pcqa.PeerDirection, kind pcqa.MediaKind) *Session {
	return &Session{
		direction: direction,
		kind:      kind,
		state:     pcqa.StateNew,
		log:       log.Logger.With().Str("component", "rtpstats").Str("kind", kind.String()).Logger(),
		lastSRNTP: make(map[uint32]uint64),
	}
}

// SetState updates the transport phase and notifies subscribers, the
// way a SIP re-INVITE or ICE restart would in a real deployment.
func (s *Session) SetState(state pcqa.TransportState) {
	s.mu.Lock()
	s.state = state
	handlers := append([]func(pcqa.TransportState){}, s.handlers...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(state)
	}
}

func (s *Session) State() pcqa.TransportState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) OnStateChange(handler func(pcqa.TransportState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// OnPacketSent records one outbound RTP packet, as a caller's write path
// would invoke per packet it hands to the network.
func (s *Session) OnPacketSent(*rtp.Packet) {
	s.localSent.Add(1)
}

// OnPacketReceived records one inbound RTP packet.
func (s *Session) OnPacketReceived(*rtp.Packet) {
	s.localReceived.Add(1)
}

// OnSenderReportSent lets a sender-side caller remember the NTP
// timestamp of an SR it just transmitted, which a later receiver report
// will echo back as LastSenderReport/Delay for RTT computation.
func (s *Session) OnSenderReportSent(ssrc uint32, ntpTime uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSRNTP[ssrc] = ntpTime
}

// HandleRTCP feeds one received RTCP packet (already demuxed/parsed) to
// the session. Sender reports update the remote's local-side packet
// count (from PacketCount); receiver reports carry loss and, combined
// with a previously recorded SR, RTT.
func (s *Session) HandleRTCP(pkt rtcp.Packet, nowMs int64) {
	switch p := pkt.(type) {
	case *rtcp.SenderReport:
		s.applySenderReport(p, nowMs)
	case *rtcp.ReceiverReport:
		s.applyReceiverReport(p.Reports, nowMs)
	}
}

func (s *Session) applySenderReport(sr *rtcp.SenderReport, nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRemote.packets = pcqa.Some(uint64(sr.PacketCount))
	s.lastRemote.timestampMs = nowMs
	s.haveRemote = true
	s.applyReceptionReportsLocked(sr.Reports, nowMs)
}

func (s *Session) applyReceiverReport(reports []rtcp.ReceptionReport, nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyReceptionReportsLocked(reports, nowMs)
	s.lastRemote.timestampMs = nowMs
	s.haveRemote = true
}

// applyReceptionReportsLocked pulls cumulative loss and computes RTT per
// RFC 3550 §6.4.1 from LastSenderReport (LSR) and Delay (DLSR), both
// 16.16 fixed-point seconds (the middle 32 bits of an NTP timestamp),
// against the SR this side last sent for
// the matching SSRC.
func (s *Session) applyReceptionReportsLocked(reports []rtcp.ReceptionReport, nowMs int64) {
	for _, rr := range reports {
		s.lastRemote.lost = int64(rr.TotalLost)

		if rr.LastSenderReport == 0 || rr.Delay == 0 {
			continue
		}
		sentNTP, ok := s.lastSRNTP[rr.SSRC]
		if !ok {
			continue
		}
		compactSent := uint32(sentNTP >> 16)
		if compactSent != rr.LastSenderReport {
			// This RR doesn't correlate to the SR we tracked; don't
			// fabricate an RTT from mismatched halves.
			continue
		}
		arrivalCompact := ntpCompactNow(nowMs)
		// Subtract as signed: all three operands are uint32, and an
		// unsigned subtraction here would wrap a genuinely negative
		// result (clock skew, a stale DLSR) into a huge bogus positive
		// RTT instead of the negative value the check below expects.
		roundTrip := int64(arrivalCompact) - int64(rr.LastSenderReport) - int64(rr.Delay)
		seconds := float64(roundTrip) / 65536.0
		if seconds < 0 {
			s.log.Debug().Msg("rtpstats: negative RTT computed, dropping sample")
			continue
		}
		s.lastRemote.rtt = pcqa.Some(time.Duration(seconds * float64(time.Second)))
	}
}

// ntpCompactNow returns the middle 32 bits of an NTP timestamp for the
// given wall-clock millisecond reading, matching the representation
// RTCP LSR/DLSR fields use.
func ntpCompactNow(nowMs int64) uint32 {
	const ntpEpochOffsetMs = 2208988800000 // 1900-01-01 to 1970-01-01
	ntpMs := uint64(nowMs) + ntpEpochOffsetMs
	seconds := ntpMs / 1000
	fracMs := ntpMs % 1000
	frac := (fracMs << 32) / 1000
	full := (seconds << 32) | frac
	return uint32(full >> 16)
}

// ReadStats builds one StatRecord pair from the locally tracked counter
// and the last RTCP-derived remote report, resolved synchronously since
// nothing here actually suspends.
func (s *Session) ReadStats() pcqa.StatsFuture {
	s.mu.Lock()
	remote := s.lastRemote
	haveRemote := s.haveRemote
	s.mu.Unlock()

	nowMs := time.Now().UnixMilli()
	var records []pcqa.StatRecord

	if s.direction == pcqa.Sender {
		records = append(records, pcqa.StatRecord{
			Type:        pcqa.OutboundRTP,
			Kind:        s.kind,
			PacketsSent: pcqa.Some(s.localSent.Load()),
			Timestamp:   pcqa.Some(nowMs),
		})
		if haveRemote {
			records = append(records, pcqa.StatRecord{
				Type:            pcqa.RemoteInboundRTP,
				Kind:            s.kind,
				PacketsReceived: remote.packets,
				PacketsLost:     pcqa.Some(remote.lost),
				RoundTripTime:   remote.rtt,
				Timestamp:       pcqa.Some(remote.timestampMs),
			})
		}
	} else {
		records = append(records, pcqa.StatRecord{
			Type:            pcqa.InboundRTP,
			Kind:            s.kind,
			PacketsReceived: pcqa.Some(s.localReceived.Load()),
			Timestamp:       pcqa.Some(nowMs),
		})
		if haveRemote {
			records = append(records, pcqa.StatRecord{
				Type:          pcqa.RemoteOutboundRTP,
				Kind:          s.kind,
				PacketsSent:   remote.packets,
				PacketsLost:   pcqa.Some(remote.lost),
				RoundTripTime: remote.rtt,
				Timestamp:     pcqa.Some(remote.timestampMs),
			})
		}
	}

	ch := make(chan pcqa.StatsResult, 1)
	ch <- pcqa.StatsResult{Records: records}
	close(ch)
	return ch
}

// ReadRTCPLoop drains r for RTCP packets until it returns an error,
// dispatching each to HandleRTCP. Run it in its own goroutine per
// Session; it returns (and logs) once r is exhausted or closed.
func ReadRTCPLoop(s *Session, r io.Reader, clock func() int64) {
	buf := make([]byte, 1500)
	for {
		n, err := r.Read(buf)
		if err != nil {
			s.log.Debug().Err(err).Msg("rtpstats: RTCP read loop exiting")
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			s.log.Debug().Err(err).Msg("rtpstats: malformed RTCP packet, dropping")
			continue
		}
		now := clock()
		for _, p := range packets {
			s.HandleRTCP(p, now)
		}
	}
}
