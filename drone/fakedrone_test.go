package drone

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tello-bridge/video"
)

// replyFunc decides the answer to one command; ok=false means stay silent
type replyFunc func(command string) (reply string, ok bool)

// fakeDrone answers SDK commands on a loopback UDP socket
type fakeDrone struct {
	conn *net.UDPConn

	mu       sync.Mutex
	handler  replyFunc
	commands []string
	wg       sync.WaitGroup
}

func newFakeDrone(t *testing.T, handler replyFunc) *fakeDrone {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	d := &fakeDrone{conn: conn, handler: handler}
	d.wg.Add(1)
	go d.serve()
	t.Cleanup(d.close)
	return d
}

func (d *fakeDrone) serve() {
	defer d.wg.Done()
	buf := make([]byte, 1024)
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		command := string(buf[:n])

		d.mu.Lock()
		d.commands = append(d.commands, command)
		handler := d.handler
		d.mu.Unlock()

		if reply, ok := handler(command); ok {
			d.conn.WriteToUDP([]byte(reply), from)
		}
	}
}

func (d *fakeDrone) close() {
	d.conn.Close()
	d.wg.Wait()
}

func (d *fakeDrone) port() int {
	return d.conn.LocalAddr().(*net.UDPAddr).Port
}

func (d *fakeDrone) setHandler(handler replyFunc) {
	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
}

func (d *fakeDrone) received() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func (d *fakeDrone) count(command string) int {
	n := 0
	for _, c := range d.received() {
		if c == command {
			n++
		}
	}
	return n
}

// replies answers from a fixed table and stays silent for anything else
func replies(table map[string]string) replyFunc {
	return func(command string) (string, bool) {
		reply, ok := table[command]
		return reply, ok
	}
}

func testConfig(d *fakeDrone) Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1"
	cfg.CommandPort = d.port()
	cfg.LocalCommandPort = 0
	cfg.CommandTimeout = 150 * time.Millisecond
	cfg.HandshakeBackoff = 10 * time.Millisecond
	cfg.ReleaseDelay = 10 * time.Millisecond
	cfg.LandSettleDelay = 10 * time.Millisecond
	cfg.NetworkCheck = false
	return cfg
}

func newTestSession(t *testing.T, d *fakeDrone) *Session {
	t.Helper()
	s, err := NewSession(testConfig(d), video.DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Disconnect() })
	return s
}

func connectedSession(t *testing.T, d *fakeDrone) *Session {
	t.Helper()
	s := newTestSession(t, d)
	result, err := s.Connect()
	require.NoError(t, err)
	require.True(t, result.Success)
	return s
}
