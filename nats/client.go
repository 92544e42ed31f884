package nats

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"tello-bridge/common"
)

var logger = log.New(os.Stdout, "[NATS] ", log.LstdFlags|log.Lshortfile)

// Subject suffixes under Config.Prefix
const (
	SubjectVideo     = "video"
	SubjectTelemetry = "telemetry"
	SubjectState     = "state"
)

// Config describes the NATS connection
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Prefix  string `mapstructure:"prefix"` // Subject prefix, e.g. "tello" gives "tello.video"
}

// DefaultConfig returns a disabled sink pointing at a local server
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		URL:     nats.DefaultURL,
		Prefix:  "tello",
	}
}

// Publisher is the part of *nats.Conn used by the client
type Publisher interface {
	Publish(subj string, data []byte) error
	Close()
}

// Client publishes drone events on NATS subjects. It implements sink.VideoSink and
// sink.TelemetrySink.
type Client struct {
	conn   Publisher
	prefix string
}

// New connects to the server at config.URL
func New(config Config) (*Client, error) {
	nc, err := nats.Connect(config.URL,
		nats.Name("tello-bridge"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Printf("Disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Printf("Reconnected to NATS at %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Printf("Connected to NATS at %s", nc.ConnectedUrl())
	return NewWithConn(nc, config.Prefix), nil
}

// NewWithConn creates a client over an existing publisher (useful for testing)
func NewWithConn(conn Publisher, prefix string) *Client {
	return &Client{conn: conn, prefix: prefix}
}

// Subject returns the full subject for a suffix
func (c *Client) Subject(suffix string) string {
	if c.prefix == "" {
		return suffix
	}
	return c.prefix + "." + suffix
}

// PublishVideoPacket publishes the base64 payload as is
func (c *Client) PublishVideoPacket(payload string) error {
	if err := c.conn.Publish(c.Subject(SubjectVideo), []byte(payload)); err != nil {
		return fmt.Errorf("failed to publish video packet: %w", err)
	}
	return nil
}

// PublishTelemetry publishes a telemetry snapshot as JSON
func (c *Client) PublishTelemetry(t common.TelemetrySnapshot) error {
	return c.publishJSON(SubjectTelemetry, t)
}

// PublishState publishes the state record as JSON
func (c *Client) PublishState(s common.DroneState) error {
	return c.publishJSON(SubjectState, s)
}

func (c *Client) publishJSON(suffix string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", suffix, err)
	}
	if err := c.conn.Publish(c.Subject(suffix), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", suffix, err)
	}
	return nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
