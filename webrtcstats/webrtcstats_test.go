// SPDX-License-Identifier: MPL-2.0

package webrtcstats

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaqual/pcqa"
)

func TestMapICEState(t *testing.T) {
	cases := map[webrtc.ICEConnectionState]pcqa.TransportState{
		webrtc.ICEConnectionStateNew:          pcqa.StateNew,
		webrtc.ICEConnectionStateChecking:     pcqa.StateChecking,
		webrtc.ICEConnectionStateConnected:    pcqa.StateConnected,
		webrtc.ICEConnectionStateCompleted:    pcqa.StateCompleted,
		webrtc.ICEConnectionStateDisconnected: pcqa.StateDisconnected,
		webrtc.ICEConnectionStateFailed:       pcqa.StateFailed,
		webrtc.ICEConnectionStateClosed:       pcqa.StateClosed,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapICEState(in))
	}
}

func TestMediaKind(t *testing.T) {
	k, ok := mediaKind("audio")
	assert.True(t, ok)
	assert.Equal(t, pcqa.Audio, k)

	k, ok = mediaKind("video")
	assert.True(t, ok)
	assert.Equal(t, pcqa.Video, k)

	_, ok = mediaKind("data")
	assert.False(t, ok)
}

func TestSource_StateReflectsFreshPeerConnection(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	src := New(pc)
	assert.Equal(t, pcqa.StateNew, src.State(), "a freshly constructed PeerConnection starts at ICE state new")
}

func TestSource_ReadStatsResolvesImmediately(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	src := New(pc)
	result := <-src.ReadStats()
	assert.NoError(t, result.Err)
}
