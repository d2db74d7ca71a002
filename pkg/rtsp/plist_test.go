package rtsp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlistRoundTripInfoReply(t *testing.T) {
	info := InfoReply{
		DeviceID: "AA:BB:CC:DD:EE:FF",
		Features: 0x1c340445f8a00,
		Model:    "Pierre1,1",
		Name:     "Living Room",
	}

	body, err := EncodePlist(&info)
	require.NoError(t, err)
	require.True(t, len(body) > 8 && string(body[:8]) == "bplist00")

	var decoded InfoReply
	require.NoError(t, DecodePlist(body, &decoded))
	require.Equal(t, info, decoded)
}

func TestPlistRoundTripSetupRequest(t *testing.T) {
	req := SetupRequest{
		Timing:    "PTP",
		EventPort: 7000,
		Streams: []StreamRequest{
			{Type: 96, AudioFormat: 2},
		},
	}

	body, err := EncodePlist(&req)
	require.NoError(t, err)

	var decoded SetupRequest
	require.NoError(t, DecodePlist(body, &decoded))
	require.Equal(t, req, decoded)
}
