package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tello-bridge/common"
)

var logger = log.New(os.Stdout, "[WebSocket] ", log.LstdFlags|log.Lshortfile)

// Event names pushed to the front end
const (
	EventVideoPacket = "video-packet"
	EventTelemetry   = "telemetry"
	EventState       = "state"
)

// Config describes the WebSocket endpoint
type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`          // Listen address, e.g. ":8080"
	Path         string        `mapstructure:"path"`          // Upgrade path
	SendBuffer   int           `mapstructure:"send_buffer"`   // Queued events per client before dropping
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // Bound of one frame write
}

// DefaultConfig returns a disabled endpoint on :8080/events
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		Addr:         ":8080",
		Path:         "/events",
		SendBuffer:   64,
		WriteTimeout: 5 * time.Second,
	}
}

// Event is one message sent to every connected client
type Event struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub pushes drone events to WebSocket clients. A slow client loses events rather
// than holding up the video forwarder. Hub implements sink.VideoSink and sink.TelemetrySink.
type Hub struct {
	config   Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewHub creates a hub, call Start to listen or mount it as an http.Handler
func NewHub(config Config) *Hub {
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultConfig().SendBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Hub{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			ReadBufferSize:   1024,
			WriteBufferSize:  65535,
			HandshakeTimeout: 10 * time.Second,
		},
		clients: make(map[*client]struct{}),
	}
}

// Start listens on config.Addr and serves the upgrade path
func (h *Hub) Start() error {
	listener, err := net.Listen("tcp", h.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.config.Addr, err)
	}
	h.listener = listener

	mux := http.NewServeMux()
	mux.Handle(h.config.Path, h)
	h.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("WebSocket server error: %v", err)
		}
	}()

	logger.Printf("WebSocket endpoint on ws://%s%s", listener.Addr(), h.config.Path)
	return nil
}

// Addr returns the listen address, nil before Start
func (h *Hub) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop shuts the server down and disconnects every client
func (h *Hub) Stop() {
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := h.server.Shutdown(ctx); err != nil {
			logger.Printf("WebSocket shutdown: %v", err)
		}
		cancel()
		h.wg.Wait()
	}

	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the connection until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.config.SendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Printf("Client connected from %s", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)

	h.remove(c)
	logger.Printf("Client %s disconnected", r.RemoteAddr)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readLoop discards incoming frames, it only detects the client going away
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Printf("WebSocket read error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Printf("WebSocket write error: %v", err)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// Broadcast queues event for every client. It returns the number of clients that
// dropped the event because their queue was full.
func (h *Hub) Broadcast(event string, payload interface{}) (int, error) {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal %s event: %w", event, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	return dropped, nil
}

// PublishVideoPacket implements sink.VideoSink
func (h *Hub) PublishVideoPacket(payload string) error {
	_, err := h.Broadcast(EventVideoPacket, payload)
	return err
}

// PublishTelemetry implements sink.TelemetrySink
func (h *Hub) PublishTelemetry(t common.TelemetrySnapshot) error {
	_, err := h.Broadcast(EventTelemetry, t)
	return err
}

// PublishState implements sink.TelemetrySink
func (h *Hub) PublishState(s common.DroneState) error {
	_, err := h.Broadcast(EventState, s)
	return err
}
