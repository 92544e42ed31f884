package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tello-bridge/api"
	"tello-bridge/drone"
	"tello-bridge/mqtt"
	"tello-bridge/nats"
	"tello-bridge/redis"
	"tello-bridge/sink"
	"tello-bridge/video"
	"tello-bridge/ws"
)

var logger = log.New(os.Stdout, "[Tello-Bridge] ", log.LstdFlags|log.Lshortfile)

type Config struct {
	Drone     drone.Config       `mapstructure:"drone"`
	Video     video.Config       `mapstructure:"video"`
	Telemetry drone.PollerConfig `mapstructure:"telemetry"`
	MQTT      mqtt.Config        `mapstructure:"mqtt"`
	NATS      nats.Config        `mapstructure:"nats"`
	Redis     redis.Config       `mapstructure:"redis"`
	WebSocket ws.Config          `mapstructure:"websocket"`
	Logging   struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

func defaultConfig() Config {
	config := Config{
		Drone:     drone.DefaultConfig(),
		Video:     video.DefaultConfig(),
		Telemetry: drone.DefaultPollerConfig(),
		MQTT:      mqtt.DefaultConfig(),
		NATS:      nats.DefaultConfig(),
		Redis:     redis.DefaultConfig(),
		WebSocket: ws.DefaultConfig(),
	}
	config.Logging.Level = "info"
	return config
}

// envBindings maps config keys to the environment variables that override them
var envBindings = map[string]string{
	"drone.addr":         "TELLO_DRONE_ADDR",
	"drone.subnet":       "TELLO_DRONE_SUBNET",
	"telemetry.interval": "TELLO_TELEMETRY_INTERVAL",
	"mqtt.broker":        "TELLO_MQTT_BROKER",
	"mqtt.username":      "TELLO_MQTT_USERNAME",
	"mqtt.password":      "TELLO_MQTT_PASSWORD",
	"mqtt.client_id":     "TELLO_MQTT_CLIENT_ID",
	"nats.url":           "TELLO_NATS_URL",
	"redis.addr":         "TELLO_REDIS_ADDR",
	"redis.password":     "TELLO_REDIS_PASSWORD",
	"websocket.addr":     "TELLO_WEBSOCKET_ADDR",
	"logging.level":      "TELLO_LOG_LEVEL",
}

// loadConfig reads config.yaml from the given directories (the working directory by
// default) over the built-in defaults. A missing file is not an error.
func loadConfig(paths ...string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("Could not load .env: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("error binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		logger.Println("No config.yaml found, using defaults")
	} else {
		logger.Printf("Using config file %s", v.ConfigFileUsed())
	}

	config := defaultConfig()
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return config, nil
}

func configureLogging(level string) {
	if level == "debug" {
		logger.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
}

// closer is an optional component released on shutdown
type closer struct {
	name  string
	close func()
}

// startSinks connects every enabled event sink and registers it with fanout.
// A sink that cannot be reached is logged and skipped, the drone stays usable.
func startSinks(config Config, fanout *sink.Fanout) []closer {
	var closers []closer

	if config.NATS.Enabled {
		client, err := nats.New(config.NATS)
		if err != nil {
			logger.Printf("NATS sink disabled: %v", err)
		} else {
			fanout.Add("nats", client)
			closers = append(closers, closer{"nats", client.Close})
		}
	}

	if config.Redis.Enabled {
		client, err := redis.New(config.Redis)
		if err != nil {
			logger.Printf("Redis mirror disabled: %v", err)
		} else {
			fanout.Add("redis", client)
			closers = append(closers, closer{"redis", func() {
				if err := client.Close(); err != nil {
					logger.Printf("Redis close: %v", err)
				}
			}})
		}
	}

	if config.WebSocket.Enabled {
		hub := ws.NewHub(config.WebSocket)
		if err := hub.Start(); err != nil {
			logger.Printf("WebSocket endpoint disabled: %v", err)
		} else {
			fanout.Add("websocket", hub)
			closers = append(closers, closer{"websocket", hub.Stop})
		}
	}

	return closers
}

func main() {
	config, err := loadConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	configureLogging(config.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fanout := sink.NewFanout()
	session, err := drone.NewSession(config.Drone, config.Video, fanout)
	if err != nil {
		logger.Fatalf("Failed to create drone session: %v", err)
	}
	dispatcher := api.NewDispatcher(session)

	closers := startSinks(config, fanout)

	var mqttClient *mqtt.Client
	if config.MQTT.Enabled {
		mqttClient = mqtt.NewClient(config.MQTT, dispatcher)
		fanout.Add("mqtt", mqttClient)
		if err := mqttClient.Start(); err != nil {
			logger.Printf("MQTT bridge unavailable: %v", err)
		}
	}

	var poller *drone.Poller
	if config.Telemetry.Interval > 0 {
		poller = drone.NewPoller(config.Telemetry, session, fanout)
		poller.Start(ctx)
	}

	videoSinks, telemetrySinks := fanout.Len()
	logger.Printf("Tello bridge started (%d commands, %d video sinks, %d telemetry sinks). Press Ctrl+C to stop.",
		dispatcher.Commands(), videoSinks, telemetrySinks)

	<-ctx.Done()
	logger.Println("Shutting down...")

	if poller != nil {
		poller.Stop()
	}
	if _, err := session.Disconnect(); err != nil {
		logger.Printf("Disconnect: %v", err)
	}
	if mqttClient != nil {
		mqttClient.Stop()
	}
	for _, c := range closers {
		c.close()
		logger.Printf("Closed %s", c.name)
	}
	logger.Println("Stopped")
}
