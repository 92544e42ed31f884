package common

import (
	"encoding/json"
	"time"
)

// CommandResult is the outcome of one command/response exchange with the drone
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DroneState is the last known state of the drone. Fields are refreshed independently
// and are not guaranteed to be consistent with each other.
type DroneState struct {
	Connected   bool `json:"connected"`
	Flying      bool `json:"flying"`
	Battery     int  `json:"battery"`     // percent
	Temperature int  `json:"temperature"` // °C
	Height      int  `json:"height"`      // cm
	Pitch       int  `json:"pitch"`       // degrees
	Roll        int  `json:"roll"`        // degrees
	Yaw         int  `json:"yaw"`         // degrees
	Speed       int  `json:"speed"`       // cm/s setting
	VideoActive bool `json:"video_active"`
}

// TelemetrySnapshot is the result of one telemetry refresh
type TelemetrySnapshot struct {
	Battery     int       `json:"battery"`
	Temperature int       `json:"temperature"`
	Height      int       `json:"height"`
	Pitch       int       `json:"pitch"`
	Roll        int       `json:"roll"`
	Yaw         int       `json:"yaw"`
	TOF         *int      `json:"tof"` // distance to ground in cm, nil when unknown
	Timestamp   time.Time `json:"timestamp"`
}

// CommandMessage is an incoming request from the front end
type CommandMessage struct {
	Command       string          `json:"command"`        // API operation, e.g. "takeoff"
	Args          json.RawMessage `json:"args,omitempty"` // operation arguments
	CorrelationID string          `json:"correlation_id"` // echoed back in the response
}

// CommandResponse is the answer to a CommandMessage
type CommandResponse struct {
	CorrelationID string      `json:"correlation_id"`
	Command       string      `json:"command"`
	Status        string      `json:"status"`          // "success", "error"
	Result        interface{} `json:"result"`          // operation result
	Error         string      `json:"error,omitempty"` // error text when status is "error"
	Timestamp     time.Time   `json:"timestamp"`
}
