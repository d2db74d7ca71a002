package netsrv

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/pierre-project/pierre/pkg/dispatch"
	"github.com/pierre-project/pierre/pkg/rtsp"
	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAudioServerForwardsLengthPrefixedPackets(t *testing.T) {
	packets := make(chan []byte, 4)
	srv, err := NewAudioServer(testLogger(), "127.0.0.1:0", packets)
	require.NoError(t, err)
	defer srv.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("rtp-packet-bytes")
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	_, err = conn.Write(append(lenBuf[:], payload...))
	require.NoError(t, err)

	select {
	case got := <-packets:
		require.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded packet")
	}
}

func TestAudioServerRejectsSecondConcurrentSession(t *testing.T) {
	packets := make(chan []byte, 4)
	srv, err := NewAudioServer(testLogger(), "127.0.0.1:0", packets)
	require.NoError(t, err)
	defer srv.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	conn1, err := net.Dial("tcp", srv.listener.Addr().String())
	require.NoError(t, err)
	defer conn1.Close()

	time.Sleep(50 * time.Millisecond)

	conn2, err := net.Dial("tcp", srv.listener.Addr().String())
	require.NoError(t, err)
	defer conn2.Close()

	buf := make([]byte, 1)
	conn2.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn2.Read(buf)
	require.Error(t, err) // second connection is closed immediately
}

func TestControlServerDecodesRTCPPackets(t *testing.T) {
	out := make(chan rtcp.Packet, 4)
	srv, err := NewControlServer(testLogger(), "127.0.0.1:0", out)
	require.NoError(t, err)
	defer srv.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	nack := &rtcp.TransportLayerNack{
		SenderSSRC: 1,
		MediaSSRC:  2,
		Nacks:      []rtcp.NackPair{{PacketID: 42}},
	}
	raw, err := nack.Marshal()
	require.NoError(t, err)

	conn, err := net.Dial("udp", srv.conn.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(raw)
	require.NoError(t, err)

	select {
	case p := <-out:
		decoded, ok := p.(*rtcp.TransportLayerNack)
		require.True(t, ok)
		require.Equal(t, uint32(2), decoded.MediaSSRC)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded RTCP packet")
	}
}

func TestTimingServerEchoesOriginateWithLocalTimestamps(t *testing.T) {
	srv, err := NewTimingServer(testLogger(), "127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	conn, err := net.Dial("udp", srv.conn.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := make([]byte, timingPacketSize)
	binary.BigEndian.PutUint64(req[0:8], 0xdeadbeef)

	_, err = conn.Write(req)
	require.NoError(t, err)

	reply := make([]byte, timingPacketSize)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(reply)
	require.NoError(t, err)
	require.Equal(t, timingPacketSize, n)
	require.Equal(t, uint64(0xdeadbeef), binary.BigEndian.Uint64(reply[0:8]))
	require.NotZero(t, binary.BigEndian.Uint64(reply[8:16]))
}

func TestEventServerDispatchesRTSPRequests(t *testing.T) {
	table := dispatch.NewTable()
	sess := &dispatch.Session{
		Accessory: dispatch.AccessoryInfo{DeviceID: "AA:BB:CC:DD:EE:FF", Model: "pierre1,1", Name: "pierre"},
	}

	srv, err := NewEventServer(testLogger(), "127.0.0.1:0", table, sess)
	require.NoError(t, err)
	defer srv.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := &rtsp.Message{Method: "GET", Path: "/info", Proto: "RTSP/1.0"}
	req.Header.Set("CSeq", "7")
	_, err = conn.Write(rtsp.Encode(req))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	require.True(t, bytes.Contains(buf[:n], []byte("200")))
	require.True(t, bytes.Contains(buf[:n], []byte("CSeq: 7")))
}
