package netsrv

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/rtcp"
)

// ControlServer listens for resend/retransmit RTCP datagrams and
// forwards decoded packets into a bounded channel for the receive path
// to act on (spec.md §4.8: "buffers for at-least-once forwarding into
// the receive path"). Malformed datagrams are logged and dropped
// rather than torn down, since control traffic is inherently
// best-effort.
type ControlServer struct {
	logger *slog.Logger
	conn   *net.UDPConn
	out    chan rtcp.Packet
}

// NewControlServer binds a UDP socket at addr. out is the channel
// decoded RTCP packets are pushed into.
func NewControlServer(logger *slog.Logger, addr string, out chan rtcp.Packet) (*ControlServer, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("netsrv: resolve control udp addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("netsrv: listen control udp: %w", err)
	}
	return &ControlServer{logger: logger, conn: conn, out: out}, nil
}

// LocalPort reports the bound UDP port.
func (s *ControlServer) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// Start runs the receive loop until ctx is cancelled or Stop closes the
// socket.
func (s *ControlServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()
	go s.recvLoop(ctx)
}

func (s *ControlServer) recvLoop(ctx context.Context) {
	buf := make([]byte, 1500)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Debug("control udp read ended", "error", err)
			return
		}

		packets, err := rtcp.Unmarshal(append([]byte{}, buf[:n]...))
		if err != nil {
			s.logger.Warn("dropping malformed control datagram", "error", err)
			continue
		}
		for _, p := range packets {
			select {
			case s.out <- p:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop closes the UDP socket, unblocking ReadFromUDP.
func (s *ControlServer) Stop() error {
	return s.conn.Close()
}
