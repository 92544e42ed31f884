package drone

import (
	"net"
	"os"
	"sync"
	"time"
)

// scriptedRead is one result of ReadFromUDP
type scriptedRead struct {
	data []byte
	from *net.UDPAddr
	err  error
}

// scriptedConn is a transport.PacketConn whose reads follow a script. With nothing
// queued a read behaves like an expired deadline.
type scriptedConn struct {
	mu       sync.Mutex
	reads    []scriptedRead
	onWrite  func(n int) []scriptedRead // reads queued by the n-th write, 1-based
	writeErr error
	writes   []string
	closed   bool
}

func (c *scriptedConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if len(c.reads) == 0 {
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil, os.ErrDeadlineExceeded
	}
	r := c.reads[0]
	c.reads = c.reads[1:]
	c.mu.Unlock()

	if r.err != nil {
		return 0, nil, r.err
	}
	return copy(b, r.data), r.from, nil
}

func (c *scriptedConn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, string(b))
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	if c.onWrite != nil {
		c.reads = append(c.reads, c.onWrite(len(c.writes))...)
	}
	return len(b), nil
}

func (c *scriptedConn) SetReadDeadline(time.Time) error { return nil }

func (c *scriptedConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *scriptedConn) queue(reads ...scriptedRead) {
	c.mu.Lock()
	c.reads = append(c.reads, reads...)
	c.mu.Unlock()
}

func (c *scriptedConn) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reads)
}

func (c *scriptedConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *scriptedConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}
