package video

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tello-bridge/transport"
)

var logger = log.New(os.Stdout, "[TelloVideo] ", log.LstdFlags|log.Lshortfile)

// kickStart is sent to the drone's video port once, some firmware waits for it before streaming
var kickStart = []byte{0x01}

// Config describes the video endpoints and loop timing
type Config struct {
	Port            int           `mapstructure:"port"`             // Drone video port
	LocalPort       int           `mapstructure:"local_port"`       // Local port the video socket binds to
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`     // Granularity of the stop check
	BufferSize      int           `mapstructure:"buffer_size"`      // Receive buffer, max UDP payload
	MaxErrors       int           `mapstructure:"max_errors"`       // Consecutive non-timeout errors before giving up
	KickStart       bool          `mapstructure:"kick_start"`       // Send the one-byte kick-start datagram
	ForwardInterval time.Duration `mapstructure:"forward_interval"` // Forwarder tick, ~30 Hz
}

// DefaultConfig returns the video settings of a Tello
func DefaultConfig() Config {
	return Config{
		Port:            11111,
		LocalPort:       11111,
		ReadTimeout:     500 * time.Millisecond,
		BufferSize:      65536,
		MaxErrors:       60,
		KickStart:       true,
		ForwardInterval: 33 * time.Millisecond,
	}
}

// Receiver owns the video socket. A dedicated goroutine receives datagrams and keeps
// only the most recent one.
type Receiver struct {
	config    Config
	droneAddr *net.UDPAddr
	bind      transport.BindFunc
	conn      transport.PacketConn
	latest    slot
	running   atomic.Bool
	started   atomic.Bool
	wg        sync.WaitGroup
	done      chan struct{}
	doneOnce  sync.Once
	received  atomic.Uint64
}

// NewReceiver creates a receiver for the video stream of the drone at droneHost.
// Non-positive limits fall back to the defaults.
func NewReceiver(config Config, droneHost string) (*Receiver, error) {
	droneAddr, err := transport.Resolve(droneHost, config.Port)
	if err != nil {
		return nil, err
	}
	defaults := DefaultConfig()
	if config.MaxErrors <= 0 {
		config.MaxErrors = defaults.MaxErrors
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	return &Receiver{
		config:    config,
		droneAddr: droneAddr,
		bind:      transport.BindPacket,
		done:      make(chan struct{}),
	}, nil
}

// Start binds the video socket and spawns the receive loop
func (r *Receiver) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("video receiver already started")
	}

	logger.Printf("Starting UDP receiver on port %d...", r.config.LocalPort)
	conn, err := r.bind(r.config.LocalPort)
	if err != nil {
		r.closeDone()
		return fmt.Errorf("video socket: %w", err)
	}
	r.conn = conn
	logger.Printf("Bound to %s", conn.LocalAddr())

	r.running.Store(true)
	r.wg.Add(1)
	go r.receiveLoop()
	return nil
}

// Stop clears the running flag and waits for the loop to release the socket.
// Safe to call more than once and before Start.
func (r *Receiver) Stop() {
	r.running.Store(false)
	r.wg.Wait()
	r.closeDone()
}

// Done is closed once the receive loop has exited
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// GetPacket returns a copy of the latest datagram without consuming it
func (r *Receiver) GetPacket() ([]byte, bool) {
	p, ok := r.latest.load()
	if !ok {
		return nil, false
	}
	return p.Data, true
}

// Latest returns the latest packet with its sequence number
func (r *Receiver) Latest() (Packet, bool) {
	return r.latest.load()
}

// Received returns the number of datagrams received so far
func (r *Receiver) Received() uint64 {
	return r.received.Load()
}

// LocalAddr returns the bound address of the video socket, nil before Start
func (r *Receiver) LocalAddr() *net.UDPAddr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr().(*net.UDPAddr)
}

func (r *Receiver) closeDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *Receiver) receiveLoop() {
	defer r.wg.Done()
	defer r.closeDone()
	defer r.conn.Close()

	if r.config.KickStart {
		logger.Println("Sending video stream kick-start packet...")
		if _, err := r.conn.WriteToUDP(kickStart, r.droneAddr); err != nil {
			logger.Printf("Could not send kick-start: %v", err)
		}
	}

	buf := make([]byte, r.config.BufferSize)
	progress := rate.Sometimes{Every: 30}
	waiting := rate.Sometimes{First: 1, Interval: 5 * time.Second}
	errorCount := 0

	logger.Println("Waiting for H.264 packets from drone...")
	for r.running.Load() {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout)); err != nil {
			logger.Printf("Failed to set read deadline: %v", err)
		}

		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if transport.IsTimeout(err) {
				waiting.Do(func() { logger.Printf("Still waiting for packets (%d received so far)", r.received.Load()) })
				continue
			}
			errorCount++
			logger.Printf("Receive error %d/%d: %v", errorCount, r.config.MaxErrors, err)
			if transport.IsClosed(err) {
				break
			}
			if errorCount >= r.config.MaxErrors {
				logger.Println("Too many errors, stopping")
				break
			}
			continue
		}

		errorCount = 0
		r.latest.store(buf[:n])
		count := r.received.Add(1)
		if count == 1 {
			logger.Printf("First packet received! (%d bytes)", n)
		}
		progress.Do(func() { logger.Printf("%d packets received", count) })
	}

	logger.Printf("Video receiver stopped (%d packets total)", r.received.Load())
}
