// SPDX-License-Identifier: MPL-2.0

// Package webrtcstats adapts a *webrtc.PeerConnection (pion/webrtc) into
// a pcqa.StatsSource, translating its GetStats() report and
// ICE-connection-state notifications into the engine's vocabulary.
package webrtcstats

import (
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/mediaqual/pcqa"
)

// Source wraps a live PeerConnection. The zero value is not usable; use
// New.
type Source struct {
	pc *webrtc.PeerConnection
}

// New wraps pc. The caller retains ownership of pc's lifecycle; Source
// never closes it.
func New(pc *webrtc.PeerConnection) *Source {
	return &Source{pc: pc}
}

// State maps pion's ICE connection state onto pcqa.TransportState. ICE
// state is used rather than the aggregate PeerConnectionState because
// it is the one pion enum that distinguishes Connected from Completed,
// both of which the engine treats as analyzable (§4.1's CONNECTED /
// COMPLETED pair).
func (s *Source) State() pcqa.TransportState {
	return mapICEState(s.pc.ICEConnectionState())
}

// OnStateChange registers handler to run on every ICE connection state
// transition. pion invokes the underlying callback on its own internal
// goroutine; handler must be safe to call from any goroutine, which
// pcqa.Analyzer's handler is.
func (s *Source) OnStateChange(handler func(pcqa.TransportState)) {
	s.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		handler(mapICEState(state))
	})
}

// ReadStats takes a synchronous GetStats() snapshot and wraps it as an
// already-resolved StatsFuture, since pion's stats collection does not
// itself suspend.
func (s *Source) ReadStats() pcqa.StatsFuture {
	ch := make(chan pcqa.StatsResult, 1)
	report := s.pc.GetStats()
	ch <- pcqa.StatsResult{Records: recordsFromReport(report)}
	close(ch)
	return ch
}

func mapICEState(s webrtc.ICEConnectionState) pcqa.TransportState {
	switch s {
	case webrtc.ICEConnectionStateNew:
		return pcqa.StateNew
	case webrtc.ICEConnectionStateChecking:
		return pcqa.StateChecking
	case webrtc.ICEConnectionStateConnected:
		return pcqa.StateConnected
	case webrtc.ICEConnectionStateCompleted:
		return pcqa.StateCompleted
	case webrtc.ICEConnectionStateDisconnected:
		return pcqa.StateDisconnected
	case webrtc.ICEConnectionStateFailed:
		return pcqa.StateFailed
	case webrtc.ICEConnectionStateClosed:
		return pcqa.StateClosed
	default:
		return pcqa.StateNew
	}
}

func mediaKind(kind string) (pcqa.MediaKind, bool) {
	switch kind {
	case "audio":
		return pcqa.Audio, true
	case "video":
		return pcqa.Video, true
	default:
		return 0, false
	}
}

// recordsFromReport flattens a webrtc.StatsReport into the StatRecord
// shapes the extractor understands, dropping any entry whose Kind isn't
// audio/video (§7 MalformedStats: unexpected kind is ignored).
func recordsFromReport(report webrtc.StatsReport) []pcqa.StatRecord {
	var out []pcqa.StatRecord
	for _, raw := range report {
		switch st := raw.(type) {
		case webrtc.OutboundRTPStreamStats:
			kind, ok := mediaKind(st.Kind)
			if !ok {
				continue
			}
			out = append(out, pcqa.StatRecord{
				Type:        pcqa.OutboundRTP,
				Kind:        kind,
				PacketsSent: pcqa.Some(uint64(st.PacketsSent)),
				Timestamp:   pcqa.Some(int64(st.Timestamp)),
			})
		case webrtc.InboundRTPStreamStats:
			kind, ok := mediaKind(st.Kind)
			if !ok {
				continue
			}
			out = append(out, pcqa.StatRecord{
				Type:            pcqa.InboundRTP,
				Kind:            kind,
				PacketsReceived: pcqa.Some(uint64(st.PacketsReceived)),
				Timestamp:       pcqa.Some(int64(st.Timestamp)),
			})
		case webrtc.RemoteInboundRTPStreamStats:
			kind, ok := mediaKind(st.Kind)
			if !ok {
				continue
			}
			out = append(out, pcqa.StatRecord{
				Type:          pcqa.RemoteInboundRTP,
				Kind:          kind,
				PacketsLost:   pcqa.Some(int64(st.PacketsLost)),
				RoundTripTime: pcqa.Some(secondsToDuration(st.RoundTripTime)),
				Timestamp:     pcqa.Some(int64(st.Timestamp)),
			})
		case webrtc.RemoteOutboundRTPStreamStats:
			kind, ok := mediaKind(st.Kind)
			if !ok {
				continue
			}
			out = append(out, pcqa.StatRecord{
				Type:        pcqa.RemoteOutboundRTP,
				Kind:        kind,
				PacketsSent: pcqa.Some(uint64(st.PacketsSent)),
				Timestamp:   pcqa.Some(int64(st.Timestamp)),
			})
		default:
			log.Debug().Type("stats", raw).Msg("webrtcstats: ignoring unrecognized stats entry")
		}
	}
	return out
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
