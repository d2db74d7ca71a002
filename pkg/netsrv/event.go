package netsrv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/pierre-project/pierre/pkg/dispatch"
	"github.com/pierre-project/pierre/pkg/rtsp"
)

// EventServer accepts the event TCP session the sender opens for
// control notifications — messages are framed like RTSP and routed
// through pkg/dispatch's table (spec.md §4.8).
type EventServer struct {
	logger   *slog.Logger
	listener net.Listener
	table    *dispatch.Table
	sess     *dispatch.Session
}

// NewEventServer binds addr and wires table/sess as the routing table
// and session state every accepted connection dispatches against.
func NewEventServer(logger *slog.Logger, addr string, table *dispatch.Table, sess *dispatch.Session) (*EventServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netsrv: listen event tcp: %w", err)
	}
	return &EventServer{logger: logger, listener: ln, table: table, sess: sess}, nil
}

// LocalPort reports the bound TCP port.
func (s *EventServer) LocalPort() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Start runs the accept loop until ctx is cancelled or Stop is called.
func (s *EventServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()
	go s.acceptLoop(ctx)
}

func (s *EventServer) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Debug("event server accept ended", "error", err)
			return
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *EventServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var dec rtsp.Decoder
	buf := make([]byte, 4096)
	for {
		msg, ok, needMore, err := dec.Next()
		if err != nil {
			s.logger.Warn("event connection parse error", "error", err)
			return
		}
		if !ok {
			n, rerr := conn.Read(buf)
			if n > 0 {
				dec.Feed(buf[:n])
			}
			if rerr != nil {
				if !errors.Is(rerr, io.EOF) {
					s.logger.Debug("event connection read ended", "error", rerr)
				}
				return
			}
			_ = needMore
			continue
		}

		reply := s.table.Dispatch(s.sess, msg)
		if _, err := conn.Write(rtsp.Encode(reply)); err != nil {
			s.logger.Warn("event connection write failed", "error", err)
			return
		}
	}
}

// Stop closes the listener, unblocking Accept.
func (s *EventServer) Stop() error {
	return s.listener.Close()
}
