package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// ErrTimeout is returned when no datagram arrived before the read deadline
var ErrTimeout = errors.New("receive timed out")

// PacketConn is the part of *net.UDPConn the drone links use
type PacketConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// BindFunc opens a PacketConn on a local port
type BindFunc func(port int) (PacketConn, error)

// Bind opens a UDP socket on the given local port on all interfaces. Port 0 picks a free port.
func Bind(port int) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP port %d: %w. %s", port, err, Describe(err, port))
	}
	return conn, nil
}

// BindPacket is Bind behind the PacketConn interface
func BindPacket(port int) (PacketConn, error) {
	conn, err := Bind(port)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Resolve resolves host:port of a remote UDP endpoint
func Resolve(host string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("invalid drone address %s:%d: %w", host, port, err)
	}
	return addr, nil
}

// IsTimeout reports whether err only means "nothing arrived yet". Deadline expiry,
// net.Error timeouts and would-block results are all folded into this one condition.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if isAny(err, wouldBlockErrors) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsClosed reports whether err comes from a socket that was closed locally
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// Describe returns a hint for the user about the likely cause of a socket error
func Describe(err error, port int) string {
	switch {
	case isAny(err, addrInUseErrors):
		return fmt.Sprintf("Port %d may be in use. Close other Tello apps and try again.", port)
	case isAny(err, permissionErrors):
		return fmt.Sprintf("Permission denied for port %d.", port)
	case isAny(err, unreachableErrors):
		return "Drone network unreachable. Check the WiFi connection to the TELLO-XXXXXX network."
	case isAny(err, refusedErrors):
		return "Drone refused the datagram. Make sure the drone is powered on."
	}
	return "Check the WiFi connection to the drone."
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
