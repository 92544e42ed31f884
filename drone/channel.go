package drone

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"tello-bridge/common"
	"tello-bridge/protocol"
	"tello-bridge/transport"
)

// ErrNotConnected is returned when a command is issued without a command socket
var ErrNotConnected = errors.New("not connected to drone")

// errSend marks a datagram that never left the host, as opposed to a missing reply
var errSend = errors.New("send failed")

const (
	replyBufferSize = 1024
	drainWindow     = time.Millisecond
)

// Channel owns the command socket. connMu guards the socket handle, ioMu serializes
// send+receive pairs so that concurrent callers never share a reply.
type Channel struct {
	droneAddr *net.UDPAddr
	timeout   time.Duration
	policy    protocol.MatchPolicy

	connMu sync.RWMutex
	conn   transport.PacketConn

	ioMu sync.Mutex
}

// NewChannel creates a channel talking to droneAddr
func NewChannel(droneAddr *net.UDPAddr, timeout time.Duration, policy protocol.MatchPolicy) *Channel {
	return &Channel{
		droneAddr: droneAddr,
		timeout:   timeout,
		policy:    policy,
	}
}

// Connected reports whether a socket is attached
func (c *Channel) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// LocalAddr returns the bound address of the command socket, nil when detached
func (c *Channel) LocalAddr() *net.UDPAddr {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr().(*net.UDPAddr)
}

func (c *Channel) attach(conn transport.PacketConn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Channel) getConnection() transport.PacketConn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// release closes and detaches the socket, it is a no-op when nothing is attached
func (c *Channel) release() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
		logger.Println("Command socket released")
	}
}

// Send transmits command and waits for exactly one reply. The result is successful
// when the reply is an acknowledgement under the channel's match policy.
func (c *Channel) Send(command string) (common.CommandResult, error) {
	reply, err := c.Exchange(command)
	if err != nil {
		return common.CommandResult{}, err
	}
	return common.CommandResult{
		Success: c.policy.Accepts(reply),
		Message: reply,
	}, nil
}

// Exchange transmits command and returns the trimmed reply
func (c *Channel) Exchange(command string) (string, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	conn := c.getConnection()
	if conn == nil {
		return "", ErrNotConnected
	}
	return c.roundTrip(conn, command)
}

// Fire transmits command without waiting for a reply
func (c *Channel) Fire(command string) error {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	conn := c.getConnection()
	if conn == nil {
		return ErrNotConnected
	}
	if _, err := conn.WriteToUDP([]byte(command), c.droneAddr); err != nil {
		return fmt.Errorf("%w: %w", errSend, err)
	}
	return nil
}

// handshake runs one exchange on a socket that is not attached yet
func (c *Channel) handshake(conn transport.PacketConn, command string) (string, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	return c.roundTrip(conn, command)
}

// roundTrip must be called with ioMu held
func (c *Channel) roundTrip(conn transport.PacketConn, command string) (string, error) {
	c.drain(conn)

	if _, err := conn.WriteToUDP([]byte(command), c.droneAddr); err != nil {
		return "", fmt.Errorf("%w: %w. %s", errSend, err, transport.Describe(err, c.droneAddr.Port))
	}

	deadline := time.Now().Add(c.timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("failed to set timeout: %w", err)
	}

	buf := make([]byte, replyBufferSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if transport.IsTimeout(err) {
				return "", fmt.Errorf("command timeout after %v: %w", c.timeout, transport.ErrTimeout)
			}
			return "", fmt.Errorf("receive failed: %w", err)
		}
		if !c.fromDrone(from) {
			logger.Printf("Ignoring %d bytes from unexpected sender %s", n, from)
			continue
		}
		return strings.TrimSpace(string(buf[:n])), nil
	}
}

// drain discards replies that arrived after an earlier exchange gave up waiting
func (c *Channel) drain(conn transport.PacketConn) {
	buf := make([]byte, replyBufferSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(drainWindow)); err != nil {
			return
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		logger.Printf("Discarded stale reply from %s: %q", from, strings.TrimSpace(string(buf[:n])))
	}
}

func (c *Channel) fromDrone(from *net.UDPAddr) bool {
	return from != nil && from.Port == c.droneAddr.Port && from.IP.Equal(c.droneAddr.IP)
}
