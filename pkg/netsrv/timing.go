package netsrv

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// timingPacketSize is three 8-byte timestamps: originate, receive,
// transmit, the shape AirPlay2's NTP-over-UDP timing exchange uses.
const timingPacketSize = 24

// TimingServer answers the sender's NTP-over-UDP timing probes. Real
// PTP/NTP negotiation happens in the external MasterClock helper this
// process shares memory with (pkg/anchor); this is the stub spec.md
// §4.8 calls for so senders that still probe the legacy timing port
// get a well-formed reply instead of silence.
type TimingServer struct {
	logger *slog.Logger
	conn   *net.UDPConn
	nowFn  func() time.Time
}

// NewTimingServer binds a UDP socket at addr.
func NewTimingServer(logger *slog.Logger, addr string) (*TimingServer, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("netsrv: resolve timing udp addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("netsrv: listen timing udp: %w", err)
	}
	return &TimingServer{logger: logger, conn: conn, nowFn: time.Now}, nil
}

// LocalPort reports the bound UDP port.
func (s *TimingServer) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// Start runs the request/reply loop until ctx is cancelled or Stop
// closes the socket.
func (s *TimingServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()
	go s.serveLoop(ctx)
}

func (s *TimingServer) serveLoop(ctx context.Context) {
	buf := make([]byte, timingPacketSize)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Debug("timing udp read ended", "error", err)
			return
		}
		if n < timingPacketSize {
			s.logger.Warn("dropping undersized timing probe", "size", n)
			continue
		}

		reply := s.buildReply(buf[:timingPacketSize])
		if _, err := s.conn.WriteToUDP(reply, raddr); err != nil {
			s.logger.Warn("timing reply write failed", "error", err)
		}
	}
}

// buildReply echoes the request's originate timestamp and fills
// receive/transmit with the local monotonic-ish wall clock reading, the
// "stub: respond to each request by echoing the three timestamps with
// local monotonic" behavior spec.md §4.8 describes.
func (s *TimingServer) buildReply(req []byte) []byte {
	originate := req[0:8]
	nowNanos := uint64(s.nowFn().UnixNano())

	reply := make([]byte, timingPacketSize)
	copy(reply[0:8], originate)
	binary.BigEndian.PutUint64(reply[8:16], nowNanos)
	binary.BigEndian.PutUint64(reply[16:24], nowNanos)
	return reply
}

// Stop closes the UDP socket, unblocking ReadFromUDP.
func (s *TimingServer) Stop() error {
	return s.conn.Close()
}
