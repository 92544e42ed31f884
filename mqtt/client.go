package mqtt

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"

	"tello-bridge/common"
)

// ErrNotConnected is returned by publish calls while the broker is unreachable
var ErrNotConnected = errors.New("MQTT client not connected")

// Config describes the MQTT broker connection and the topic layout
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`          // Broker address, e.g. "tcp://localhost:1883"
	Username       string        `mapstructure:"username"`        // Optional
	Password       string        `mapstructure:"password"`        // Optional
	ClientID       string        `mapstructure:"client_id"`       // Generated when empty
	CommandTopic   string        `mapstructure:"command_topic"`   // Base topic of requests and responses
	TelemetryTopic string        `mapstructure:"telemetry_topic"` // Telemetry snapshots
	StateTopic     string        `mapstructure:"state_topic"`     // State records, retained
	VideoTopic     string        `mapstructure:"video_topic"`     // Base64 H.264 packets, QoS 0
	QoS            byte          `mapstructure:"qos"`             // Quality of Service (0, 1, 2)
	KeepAlive      int           `mapstructure:"keep_alive"`      // Keep alive interval in seconds
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	AutoReconnect  bool          `mapstructure:"auto_reconnect"`
}

// generateClientID returns a random client id
func generateClientID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return "tello-bridge-" + hex.EncodeToString(bytes)
}

// DefaultConfig returns the configuration for a local broker
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Broker:         "tcp://localhost:1883",
		ClientID:       generateClientID(),
		CommandTopic:   "tello/command",
		TelemetryTopic: "tello/telemetry",
		StateTopic:     "tello/state",
		VideoTopic:     "tello/video",
		QoS:            1,
		KeepAlive:      60,
		ConnectTimeout: 10 * time.Second,
		AutoReconnect:  true,
	}
}

// RequestTopic is where command requests arrive
func (c Config) RequestTopic() string {
	return c.CommandTopic + "/request"
}

// ResponseTopic is where command responses are published
func (c Config) ResponseTopic() string {
	return c.CommandTopic + "/response"
}

// CommandHandler executes one command request
type CommandHandler interface {
	Handle(msg common.CommandMessage) common.CommandResponse
}

// Client bridges the drone session to an MQTT broker. It implements sink.VideoSink
// and sink.TelemetrySink.
type Client struct {
	config     Config
	mqttClient mqttLib.Client
	handler    CommandHandler
	wg         sync.WaitGroup
	mu         sync.Mutex
	stopping   bool
	logger     *log.Logger
}

// NewClient creates a new MQTT client, handler receives incoming requests
func NewClient(config Config, handler CommandHandler) *Client {
	if config.ClientID == "" {
		config.ClientID = generateClientID()
	}
	c := &Client{
		config:  config,
		handler: handler,
		logger:  log.New(os.Stdout, "[MQTT-Client] ", log.LstdFlags|log.Lshortfile),
	}
	c.mqttClient = mqttLib.NewClient(c.clientOptions())
	return c
}

// NewWithClient creates a client over an existing paho client, used in tests
func NewWithClient(config Config, handler CommandHandler, client mqttLib.Client) *Client {
	c := NewClient(config, handler)
	c.mqttClient = client
	return c
}

func (c *Client) clientOptions() *mqttLib.ClientOptions {
	opts := mqttLib.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetKeepAlive(time.Duration(c.config.KeepAlive) * time.Second)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetAutoReconnect(c.config.AutoReconnect)
	opts.SetConnectRetry(c.config.AutoReconnect)
	opts.SetConnectRetryInterval(5 * time.Second)

	if c.config.Username != "" && c.config.Password != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
		c.logger.Println("MQTT authentication: ENABLED")
	} else {
		c.logger.Println("MQTT authentication: DISABLED (anonymous mode)")
	}

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.onConnectionLostHandler)
	opts.SetReconnectingHandler(c.onReconnectingHandler)
	return opts
}

// Start connects to the broker. With auto reconnect on, an unreachable broker is
// retried in the background and Start returns after the connect timeout.
func (c *Client) Start() error {
	c.logger.Printf("Starting MQTT client, broker: %s", c.config.Broker)

	token := c.mqttClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		c.logger.Println("Broker not reachable yet, connecting in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	c.logger.Println("MQTT client started successfully")
	return nil
}

// Stop stops accepting requests, waits for in-flight ones and disconnects
func (c *Client) Stop() error {
	c.logger.Println("Stopping MQTT client...")

	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()

	if c.IsConnected() {
		topic := c.config.RequestTopic()
		token := c.mqttClient.Unsubscribe(topic)
		if token.WaitTimeout(c.config.ConnectTimeout) && token.Error() != nil {
			c.logger.Printf("Failed to unsubscribe from %s: %v", topic, token.Error())
		}
	}

	c.wg.Wait()

	if c.mqttClient != nil && c.mqttClient.IsConnected() {
		c.mqttClient.Disconnect(1000)
		c.logger.Println("MQTT client disconnected")
	}
	return nil
}

// IsConnected returns true if the client is connected to the broker
func (c *Client) IsConnected() bool {
	return c.mqttClient != nil && c.mqttClient.IsConnected()
}

// onConnectHandler subscribes to the request topic, also after a reconnect
func (c *Client) onConnectHandler(client mqttLib.Client) {
	c.logger.Println("Connected to MQTT broker")

	topic := c.config.RequestTopic()
	if token := client.Subscribe(topic, c.config.QoS, c.onCommandReceived); token.Wait() && token.Error() != nil {
		c.logger.Printf("Failed to subscribe to command topic %s: %v", topic, token.Error())
		return
	}
	c.logger.Printf("Subscribed to command topic: %s", topic)
}

func (c *Client) onConnectionLostHandler(client mqttLib.Client, err error) {
	c.logger.Printf("Connection lost: %v", err)
}

func (c *Client) onReconnectingHandler(client mqttLib.Client, opts *mqttLib.ClientOptions) {
	c.logger.Println("Attempting to reconnect to MQTT broker...")
}

// onCommandReceived decodes a request and runs it off the paho callback goroutine,
// drone commands block for up to the command timeout.
func (c *Client) onCommandReceived(client mqttLib.Client, msg mqttLib.Message) {
	c.logger.Printf("Received command on topic: %s", msg.Topic())

	var cmd common.CommandMessage
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		c.logger.Printf("Failed to unmarshal command: %v", err)
		c.publishResponse(common.CommandResponse{
			Status:    "error",
			Error:     fmt.Sprintf("invalid request: %v", err),
			Timestamp: time.Now(),
		})
		return
	}

	c.logger.Printf("Processing command: %s (correlation_id: %s)", cmd.Command, cmd.CorrelationID)

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		c.logger.Printf("Dropping command %s, client is stopping", cmd.Command)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.publishResponse(c.handler.Handle(cmd))
	}()
}

func (c *Client) publishResponse(response common.CommandResponse) {
	if err := c.publishJSON(c.config.ResponseTopic(), c.config.QoS, false, response); err != nil {
		c.logger.Printf("Failed to publish command response: %v", err)
		return
	}
	c.logger.Printf("Published command response for %s: %s", response.CorrelationID, response.Status)
}

// PublishTelemetry implements sink.TelemetrySink
func (c *Client) PublishTelemetry(t common.TelemetrySnapshot) error {
	return c.publishJSON(c.config.TelemetryTopic, c.config.QoS, false, t)
}

// PublishState implements sink.TelemetrySink. The state is retained so that a new
// subscriber immediately sees the last known record.
func (c *Client) PublishState(s common.DroneState) error {
	return c.publishJSON(c.config.StateTopic, c.config.QoS, true, s)
}

// PublishVideoPacket implements sink.VideoSink. Packets go out with QoS 0 and are
// not awaited, the stream tolerates loss.
func (c *Client) PublishVideoPacket(payload string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.mqttClient.Publish(c.config.VideoTopic, 0, false, payload)
	return nil
}

func (c *Client) publishJSON(topic string, qos byte, retained bool, v interface{}) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", topic, err)
	}

	token := c.mqttClient.Publish(topic, qos, retained, payload)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}
