// SPDX-License-Identifier: MPL-2.0

package rtpstats

import (
	"testing"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaqual/pcqa"
)

func TestSession_LocalCounterTracksSentPackets(t *testing.T) {
	s := NewSession(pcqa.Sender, pcqa.Audio)
	for i := 0; i < 5; i++ {
		s.OnPacketSent(nil)
	}

	result := <-s.ReadStats()
	require.NoError(t, result.Err)
	require.Len(t, result.Records, 1)
	sent, ok := result.Records[0].PacketsSent.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(5), sent)
}

func TestSession_ReceiverReportPopulatesLossWithoutSenderReport(t *testing.T) {
	s := NewSession(pcqa.Sender, pcqa.Audio)
	s.OnSenderReportSent(0x1, 0) // no correlating RR below, RTT must stay absent

	rr := &rtcp.ReceiverReport{
		SSRC: 0x1,
		Reports: []rtcp.ReceptionReport{
			{SSRC: 0x1, TotalLost: 12, LastSenderReport: 0, Delay: 0},
		},
	}
	s.HandleRTCP(rr, 1_000)

	result := <-s.ReadStats()
	require.Len(t, result.Records, 2)
	remote := result.Records[1]
	assert.Equal(t, pcqa.RemoteInboundRTP, remote.Type)
	lost, ok := remote.PacketsLost.Get()
	require.True(t, ok)
	assert.Equal(t, int64(12), lost)
	_, haveRTT := remote.RoundTripTime.Get()
	assert.False(t, haveRTT, "no correlating LSR means RTT must stay absent, not zero")
}

func TestSession_StateChangeNotifiesSubscribers(t *testing.T) {
	s := NewSession(pcqa.Receiver, pcqa.Video)
	var got pcqa.TransportState
	s.OnStateChange(func(st pcqa.TransportState) { got = st })

	s.SetState(pcqa.StateConnected)

	assert.Equal(t, pcqa.StateConnected, got)
	assert.Equal(t, pcqa.StateConnected, s.State())
}

func TestNtpCompactNow_Monotonic(t *testing.T) {
	a := ntpCompactNow(1_000)
	b := ntpCompactNow(2_000)
	assert.Greater(t, b, a)
}
