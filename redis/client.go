package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tello-bridge/common"
)

// Keys of the mirrored records
const (
	KeyState     = "state"
	KeyTelemetry = "telemetry"
)

// Config describes the Redis mirror
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"` // Key prefix, e.g. "tello" gives "tello:state"
	TTL      time.Duration `mapstructure:"ttl"`    // Records expire when the bridge stops publishing
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns a disabled mirror pointing at a local server
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Addr:    "localhost:6379",
		Prefix:  "tello",
		TTL:     time.Minute,
		Timeout: 2 * time.Second,
	}
}

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client mirrors the latest state and telemetry into Redis. It implements
// sink.TelemetrySink; only the most recent record of each kind is kept.
type Client struct {
	client RedisClientInterface
	config Config
}

// New creates a new Redis client
func New(config Config) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, config), nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface, config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Client{client: client, config: config}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Key returns the full key of a record
func (c *Client) Key(name string) string {
	if c.config.Prefix == "" {
		return name
	}
	return c.config.Prefix + ":" + name
}

// StoreState stores the latest drone state
func (c *Client) StoreState(ctx context.Context, state common.DroneState) error {
	return c.store(ctx, KeyState, state)
}

// GetState retrieves the mirrored drone state, nil when nothing is stored
func (c *Client) GetState(ctx context.Context) (*common.DroneState, error) {
	var state common.DroneState
	found, err := c.getData(ctx, KeyState, &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

// StoreTelemetry stores the latest telemetry snapshot
func (c *Client) StoreTelemetry(ctx context.Context, t common.TelemetrySnapshot) error {
	return c.store(ctx, KeyTelemetry, t)
}

// GetTelemetry retrieves the mirrored telemetry snapshot, nil when nothing is stored
func (c *Client) GetTelemetry(ctx context.Context) (*common.TelemetrySnapshot, error) {
	var t common.TelemetrySnapshot
	found, err := c.getData(ctx, KeyTelemetry, &t)
	if err != nil || !found {
		return nil, err
	}
	return &t, nil
}

// Clear removes both records
func (c *Client) Clear(ctx context.Context) error {
	return c.client.Del(ctx, c.Key(KeyState), c.Key(KeyTelemetry)).Err()
}

// PublishState implements sink.TelemetrySink
func (c *Client) PublishState(s common.DroneState) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()
	return c.StoreState(ctx, s)
}

// PublishTelemetry implements sink.TelemetrySink
func (c *Client) PublishTelemetry(t common.TelemetrySnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()
	return c.StoreTelemetry(ctx, t)
}

func (c *Client) store(ctx context.Context, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := c.client.Set(ctx, c.Key(name), data, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", name, err)
	}
	return nil
}

// getData retrieves data from Redis and unmarshals it into the target
func (c *Client) getData(ctx context.Context, name string, target interface{}) (bool, error) {
	data, err := c.client.Get(ctx, c.Key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", name, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return true, nil
}
