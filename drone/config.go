package drone

import (
	"log"
	"os"
	"time"

	"tello-bridge/protocol"
)

var logger = log.New(os.Stdout, "[Drone] ", log.LstdFlags|log.Lshortfile)

// Config describes the drone endpoints and the timing of the command session
type Config struct {
	Addr             string        `mapstructure:"addr"`               // Drone IP, e.g. "192.168.10.1"
	CommandPort      int           `mapstructure:"command_port"`       // Drone command port
	LocalCommandPort int           `mapstructure:"local_command_port"` // Local port the command socket binds to
	StatePort        int           `mapstructure:"state_port"`         // Local port for the state broadcast
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`    // Bound of one receive
	HandshakeRetries int           `mapstructure:"handshake_attempts"` // Attempts of the "command" handshake
	HandshakeBackoff time.Duration `mapstructure:"handshake_backoff"`  // Pause between handshake attempts
	ReleaseDelay     time.Duration `mapstructure:"release_delay"`      // Pause after closing a socket before rebinding
	LandSettleDelay  time.Duration `mapstructure:"land_settle_delay"`  // Pause after the landing attempt on disconnect
	DefaultSpeed     int           `mapstructure:"default_speed"`      // Speed recorded after connecting, cm/s
	NetworkCheck     bool          `mapstructure:"network_check"`      // Verify a local address in Subnet before binding
	Subnet           string        `mapstructure:"subnet"`             // Drone WiFi subnet in CIDR notation
	HandshakeMatch   string        `mapstructure:"handshake_match"`    // Reply policy for the handshake: "exact" or "fold"
	CommandMatch     string        `mapstructure:"command_match"`      // Reply policy for other commands
	StateListener    bool          `mapstructure:"state_listener"`     // Bind StatePort and fold broadcasts into the state
}

// DefaultConfig returns the configuration for a Tello on its own access point
func DefaultConfig() Config {
	return Config{
		Addr:             "192.168.10.1",
		CommandPort:      8889,
		LocalCommandPort: 8889,
		StatePort:        8890,
		CommandTimeout:   5 * time.Second,
		HandshakeRetries: 3,
		HandshakeBackoff: 300 * time.Millisecond,
		ReleaseDelay:     100 * time.Millisecond,
		LandSettleDelay:  2 * time.Second,
		DefaultSpeed:     50,
		NetworkCheck:     true,
		Subnet:           "192.168.10.0/24",
		HandshakeMatch:   string(protocol.MatchFold),
		CommandMatch:     string(protocol.MatchExact),
		StateListener:    false,
	}
}

func (c Config) handshakePolicy() protocol.MatchPolicy {
	return policyOrDefault(c.HandshakeMatch, protocol.MatchFold)
}

func (c Config) commandPolicy() protocol.MatchPolicy {
	return policyOrDefault(c.CommandMatch, protocol.MatchExact)
}

func policyOrDefault(name string, fallback protocol.MatchPolicy) protocol.MatchPolicy {
	p := protocol.MatchPolicy(name)
	if err := p.Validate(); err != nil {
		return fallback
	}
	return p
}
