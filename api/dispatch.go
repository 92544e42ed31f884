package api

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"tello-bridge/common"
)

var logger = log.New(os.Stdout, "[API] ", log.LstdFlags|log.Lshortfile)

// Command names accepted in CommandMessage.Command
const (
	CmdConnect          = "connect"
	CmdDisconnect       = "disconnect"
	CmdSendCommand      = "send_command"
	CmdTakeoff          = "takeoff"
	CmdLand             = "land"
	CmdEmergency        = "emergency"
	CmdSetSpeed         = "set_speed"
	CmdFlip             = "flip"
	CmdSendRC           = "send_rc_control"
	CmdGetDroneState    = "get_drone_state"
	CmdGetBattery       = "get_battery"
	CmdGetTelemetry     = "get_telemetry"
	CmdStartVideoStream = "start_video_stream"
	CmdStopVideoStream  = "stop_video_stream"
	CmdSetVideoBitrate  = "set_video_bitrate"
)

// Response statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Controller is the drone session as seen by the front end
type Controller interface {
	Connect() (common.CommandResult, error)
	Disconnect() (common.CommandResult, error)
	SendCommand(command string) (common.CommandResult, error)
	Takeoff() (common.CommandResult, error)
	Land() (common.CommandResult, error)
	Emergency() (common.CommandResult, error)
	SetSpeed(speed int) (common.CommandResult, error)
	Flip(direction string) (common.CommandResult, error)
	SendRC(leftRight, forwardBack, upDown, yaw int)
	State() common.DroneState
	Battery() (int, error)
	Telemetry() (common.TelemetrySnapshot, error)
	StartVideo() (common.CommandResult, error)
	StopVideo() (common.CommandResult, error)
	SetVideoBitrate(bitrate int) (common.CommandResult, error)
}

// Argument payloads
type (
	CommandArgs struct {
		Command string `json:"command"`
	}
	SpeedArgs struct {
		Speed int `json:"speed"`
	}
	FlipArgs struct {
		Direction string `json:"direction"`
	}
	RCArgs struct {
		LeftRight   int `json:"left_right"`
		ForwardBack int `json:"forward_back"`
		UpDown      int `json:"up_down"`
		Yaw         int `json:"yaw"`
	}
	BitrateArgs struct {
		Bitrate int `json:"bitrate"`
	}
	BatteryResult struct {
		Battery int `json:"battery"`
	}
)

type handlerFunc func(args json.RawMessage) (interface{}, error)

// Dispatcher maps command names to Controller calls
type Dispatcher struct {
	controller Controller
	handlers   map[string]handlerFunc
}

// NewDispatcher creates a dispatcher for controller
func NewDispatcher(controller Controller) *Dispatcher {
	d := &Dispatcher{controller: controller}
	d.handlers = map[string]handlerFunc{
		CmdConnect:          d.result(controller.Connect),
		CmdDisconnect:       d.result(controller.Disconnect),
		CmdTakeoff:          d.result(controller.Takeoff),
		CmdLand:             d.result(controller.Land),
		CmdEmergency:        d.result(controller.Emergency),
		CmdStartVideoStream: d.result(controller.StartVideo),
		CmdStopVideoStream:  d.result(controller.StopVideo),
		CmdSendCommand:      d.sendCommand,
		CmdSetSpeed:         d.setSpeed,
		CmdFlip:             d.flip,
		CmdSendRC:           d.sendRC,
		CmdSetVideoBitrate:  d.setVideoBitrate,
		CmdGetDroneState: func(json.RawMessage) (interface{}, error) {
			return controller.State(), nil
		},
		CmdGetBattery: func(json.RawMessage) (interface{}, error) {
			battery, err := controller.Battery()
			if err != nil {
				return nil, err
			}
			return BatteryResult{Battery: battery}, nil
		},
		CmdGetTelemetry: func(json.RawMessage) (interface{}, error) {
			return controller.Telemetry()
		},
	}
	return d
}

// Commands returns the number of supported commands
func (d *Dispatcher) Commands() int {
	return len(d.handlers)
}

// Handle executes msg and builds the response. It never panics on bad input,
// every failure becomes an error response.
func (d *Dispatcher) Handle(msg common.CommandMessage) common.CommandResponse {
	response := common.CommandResponse{
		CorrelationID: msg.CorrelationID,
		Command:       msg.Command,
	}
	if response.CorrelationID == "" {
		response.CorrelationID = uuid.NewString()
	}

	result, err := d.execute(msg)
	response.Timestamp = time.Now()
	if err != nil {
		logger.Printf("Command %s (correlation_id: %s) failed: %v", msg.Command, response.CorrelationID, err)
		response.Status = StatusError
		response.Error = err.Error()
		return response
	}

	response.Status = StatusSuccess
	response.Result = result
	return response
}

func (d *Dispatcher) execute(msg common.CommandMessage) (interface{}, error) {
	handler, ok := d.handlers[msg.Command]
	if !ok {
		return nil, fmt.Errorf("unknown command: %q", msg.Command)
	}
	return handler(msg.Args)
}

func (d *Dispatcher) result(fn func() (common.CommandResult, error)) handlerFunc {
	return func(json.RawMessage) (interface{}, error) {
		return fn()
	}
}

func (d *Dispatcher) sendCommand(raw json.RawMessage) (interface{}, error) {
	var args CommandArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Command == "" {
		return nil, fmt.Errorf("missing command argument")
	}
	return d.controller.SendCommand(args.Command)
}

func (d *Dispatcher) setSpeed(raw json.RawMessage) (interface{}, error) {
	var args SpeedArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return d.controller.SetSpeed(args.Speed)
}

func (d *Dispatcher) flip(raw json.RawMessage) (interface{}, error) {
	var args FlipArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return d.controller.Flip(args.Direction)
}

func (d *Dispatcher) sendRC(raw json.RawMessage) (interface{}, error) {
	var args RCArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	d.controller.SendRC(args.LeftRight, args.ForwardBack, args.UpDown, args.Yaw)
	return nil, nil
}

func (d *Dispatcher) setVideoBitrate(raw json.RawMessage) (interface{}, error) {
	var args BitrateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return d.controller.SetVideoBitrate(args.Bitrate)
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing args")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid args: %w", err)
	}
	return nil
}
