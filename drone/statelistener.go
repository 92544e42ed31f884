package drone

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tello-bridge/protocol"
	"tello-bridge/transport"
)

const (
	stateReadTimeout = 500 * time.Millisecond
	maxStateErrors   = 60
)

// StateListener receives the drone's periodic state broadcast and folds it into State
type StateListener struct {
	port     int
	droneIP  net.IP
	state    *State
	bind     transport.BindFunc
	conn     transport.PacketConn
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStateListener creates a listener for the given local port. Datagrams from any
// address other than droneIP are ignored.
func NewStateListener(port int, droneIP net.IP, state *State) *StateListener {
	return &StateListener{
		port:     port,
		droneIP:  droneIP,
		state:    state,
		bind:     transport.BindPacket,
		stopChan: make(chan struct{}),
	}
}

// Start binds the state socket and spawns the read loop
func (l *StateListener) Start() error {
	conn, err := l.bind(l.port)
	if err != nil {
		return err
	}
	l.conn = conn
	logger.Printf("Listening for state broadcasts on %s", conn.LocalAddr())

	l.wg.Add(1)
	go l.readLoop()
	return nil
}

// Stop ends the read loop and releases the socket
func (l *StateListener) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
}

// LocalAddr returns the bound address, nil before Start
func (l *StateListener) LocalAddr() *net.UDPAddr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr().(*net.UDPAddr)
}

func (l *StateListener) fromDrone(from *net.UDPAddr) bool {
	return from != nil && from.IP.Equal(l.droneIP)
}

func (l *StateListener) readLoop() {
	defer l.wg.Done()
	defer l.conn.Close()

	// the drone broadcasts about ten times a second
	complain := rate.Sometimes{First: 1, Interval: 10 * time.Second}
	buf := make([]byte, 1024)
	errorCount := 0
	for {
		select {
		case <-l.stopChan:
			logger.Println("State listener stopped")
			return
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(stateReadTimeout)); err != nil {
			logger.Printf("Failed to set state read deadline: %v", err)
		}
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			if transport.IsClosed(err) {
				return
			}
			errorCount++
			if errorCount >= maxStateErrors {
				logger.Printf("State listener giving up after %d consecutive errors: %v", errorCount, err)
				return
			}
			complain.Do(func() { logger.Printf("State read error: %v", err) })
			continue
		}
		errorCount = 0

		if !l.fromDrone(from) {
			complain.Do(func() { logger.Printf("Ignoring state datagram from %s", from) })
			continue
		}
		status, err := protocol.ParseStatus(string(buf[:n]))
		if err != nil {
			complain.Do(func() { logger.Printf("Failed to parse state: %v", err) })
			continue
		}
		l.state.applyStatus(status)
	}
}
