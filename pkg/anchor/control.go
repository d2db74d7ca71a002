package anchor

import (
	"fmt"
	"net"
	"time"
)

// ControlChannel registers this accessory with the external PTP helper so
// the helper knows to keep publishing to the shared memory region this
// process reads — the same "tell the time daemon a consumer is alive"
// handshake the pack's PTP session reference performs over a UDP socket,
// simplified here to a single registration datagram plus periodic
// keepalives rather than a full BMCA/Sync/FollowUp exchange, since that
// protocol runs entirely inside the external helper.
type ControlChannel struct {
	conn     *net.UDPConn
	name     string
	interval time.Duration
	stop     chan struct{}
}

// DialControlChannel opens the UDP socket to the helper's control port
// and sends the initial registration datagram.
func DialControlChannel(addr, shmName string, keepalive time.Duration) (*ControlChannel, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("anchor: resolve control addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("anchor: dial control channel: %w", err)
	}

	c := &ControlChannel{conn: conn, name: shmName, interval: keepalive, stop: make(chan struct{})}
	if err := c.register(); err != nil {
		conn.Close()
		return nil, err
	}
	go c.keepaliveLoop()
	return c, nil
}

func (c *ControlChannel) register() error {
	_, err := c.conn.Write(append([]byte("REGISTER "), []byte(c.name)...))
	return err
}

func (c *ControlChannel) keepaliveLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			_, _ = c.conn.Write(append([]byte("PING "), []byte(c.name)...))
		}
	}
}

// Close stops the keepalive loop and closes the socket.
func (c *ControlChannel) Close() error {
	close(c.stop)
	return c.conn.Close()
}
