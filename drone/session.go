package drone

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tello-bridge/common"
	"tello-bridge/protocol"
	"tello-bridge/sink"
	"tello-bridge/transport"
	"tello-bridge/video"
)

// Session is the single drone session: it owns the command channel, the shared state,
// the optional state listener and the video pipeline.
type Session struct {
	config      Config
	videoConfig video.Config
	videoSink   sink.VideoSink
	checker     NetworkChecker
	bind        transport.BindFunc

	channel *Channel
	state   State

	// lifeMu serializes connect, disconnect and video start/stop
	lifeMu    sync.Mutex
	listener  *StateListener
	videoMu   sync.Mutex
	receiver  *video.Receiver
	forwarder *video.Forwarder
}

// NewSession creates a disconnected session. videoSink receives forwarded video packets.
func NewSession(config Config, videoConfig video.Config, videoSink sink.VideoSink) (*Session, error) {
	droneAddr, err := transport.Resolve(config.Addr, config.CommandPort)
	if err != nil {
		return nil, err
	}
	if videoSink == nil {
		videoSink = sink.Discard{}
	}
	s := &Session{
		config:      config,
		videoConfig: videoConfig,
		videoSink:   videoSink,
		channel:     NewChannel(droneAddr, config.CommandTimeout, config.commandPolicy()),
		bind:        transport.BindPacket,
	}
	s.checker = SubnetChecker(config.Subnet)
	s.state.update(func(st *common.DroneState) { st.Speed = config.DefaultSpeed })
	return s, nil
}

// SetNetworkChecker replaces the host network check used by Connect
func (s *Session) SetNetworkChecker(checker NetworkChecker) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.checker = checker
}

// Channel exposes the command channel
func (s *Session) Channel() *Channel {
	return s.channel
}

// State returns a snapshot of the drone state
func (s *Session) State() common.DroneState {
	return s.state.Snapshot()
}

// Connect binds the command socket and switches the drone into command mode
func (s *Session) Connect() (common.CommandResult, error) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.config.NetworkCheck {
		logger.Println("Checking network configuration...")
		if err := s.checkNetwork(); err != nil {
			return common.CommandResult{}, err
		}
	}

	// a previous socket must be gone before the port is bound again
	s.stopStateListener()
	if s.channel.Connected() {
		s.channel.release()
		s.state.setConnected(false)
	}
	time.Sleep(s.config.ReleaseDelay)

	logger.Printf("Creating new UDP socket on 0.0.0.0:%d...", s.config.LocalCommandPort)
	conn, err := s.bind(s.config.LocalCommandPort)
	if err != nil {
		return common.CommandResult{}, fmt.Errorf("command socket: %w", err)
	}

	policy := s.config.handshakePolicy()
	attempts := s.config.HandshakeRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		logger.Printf("Attempt %d/%d: sending %q to %s", attempt, attempts, protocol.CmdCommand, s.channel.droneAddr)
		reply, err := s.channel.handshake(conn, protocol.CmdCommand)
		switch {
		case err == nil && policy.Accepts(reply):
			s.channel.attach(conn)
			s.state.markConnected(s.config.DefaultSpeed)
			logger.Println("Successfully connected!")
			s.startStateListener()
			return common.CommandResult{Success: true, Message: "Connected to drone"}, nil
		case err == nil:
			logger.Printf("Unexpected response %q, retrying...", reply)
		case errors.Is(err, errSend):
			conn.Close()
			return common.CommandResult{}, fmt.Errorf("handshake: %w", err)
		case transport.IsTimeout(err):
			logger.Printf("Attempt %d timeout: %v", attempt, err)
		default:
			// a booting drone may answer with an ICMP error, which is worth another attempt
			logger.Printf("Attempt %d failed: %v", attempt, err)
		}

		if attempt < attempts {
			time.Sleep(s.config.HandshakeBackoff)
		}
	}

	conn.Close()
	return common.CommandResult{}, fmt.Errorf("no valid response from drone after %d attempts. Make sure:\n"+
		"1. Drone is powered on\n"+
		"2. You're connected to TELLO-XXXXXX WiFi\n"+
		"3. No other apps are using the drone", attempts)
}

// Disconnect lands the drone if it is flying, then releases every socket. It never fails.
func (s *Session) Disconnect() (common.CommandResult, error) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.state.Snapshot().Flying {
		logger.Println("Drone is flying, landing before disconnect")
		if result, err := s.Land(); err != nil {
			logger.Printf("Landing attempt failed: %v", err)
		} else if !result.Success {
			logger.Printf("Landing attempt rejected: %q", result.Message)
		}
		time.Sleep(s.config.LandSettleDelay)
	}

	s.channel.release()
	s.stopStateListener()
	s.stopVideoPipeline()
	s.state.markDisconnected()

	logger.Println("Disconnected")
	return common.CommandResult{Success: true, Message: "Disconnected"}, nil
}

// SendCommand sends a raw SDK command
func (s *Session) SendCommand(command string) (common.CommandResult, error) {
	return s.channel.Send(command)
}

// Takeoff starts the motors and climbs; flying is recorded on acknowledgement only
func (s *Session) Takeoff() (common.CommandResult, error) {
	result, err := s.channel.Send(protocol.CmdTakeoff)
	if err != nil {
		return result, err
	}
	if result.Success {
		s.state.setFlying(true)
	}
	return result, nil
}

// Land lands the drone; a rejected land leaves the flying flag untouched
func (s *Session) Land() (common.CommandResult, error) {
	result, err := s.channel.Send(protocol.CmdLand)
	if err != nil {
		return result, err
	}
	if result.Success {
		s.state.setFlying(false)
	}
	return result, nil
}

// Emergency stops the motors immediately
func (s *Session) Emergency() (common.CommandResult, error) {
	result, err := s.channel.Send(protocol.CmdEmergency)
	if err != nil {
		return result, err
	}
	if result.Success {
		s.state.setFlying(false)
	}
	return result, nil
}

// SetSpeed sets the flight speed in cm/s
func (s *Session) SetSpeed(speed int) (common.CommandResult, error) {
	command, err := protocol.Speed(speed)
	if err != nil {
		return common.CommandResult{}, err
	}
	result, err := s.channel.Send(command)
	if err != nil {
		return result, err
	}
	if result.Success {
		s.state.setSpeed(speed)
	}
	return result, nil
}

// Flip performs a flip in direction l, r, f or b
func (s *Session) Flip(direction string) (common.CommandResult, error) {
	command, err := protocol.Flip(direction)
	if err != nil {
		return common.CommandResult{}, err
	}
	return s.channel.Send(command)
}

// SendRC sends one stick update. The drone does not acknowledge rc, failures are
// only logged because the next update supersedes this one.
func (s *Session) SendRC(leftRight, forwardBack, upDown, yaw int) {
	if err := s.channel.Fire(protocol.RC(leftRight, forwardBack, upDown, yaw)); err != nil {
		logger.Printf("RC update dropped: %v", err)
	}
}

// Battery queries the battery level
func (s *Session) Battery() (int, error) {
	q, _ := protocol.Lookup(protocol.FieldBattery)
	reply, err := s.channel.Exchange(q.Command)
	if err != nil {
		return 0, err
	}
	battery, err := q.Decode(reply)
	if err != nil {
		return 0, fmt.Errorf("failed to parse battery: %w", err)
	}
	s.state.setBattery(battery)
	return battery, nil
}

// SetVideoBitrate sets the encoder bitrate, 0 is auto and 1..5 are Mbps
func (s *Session) SetVideoBitrate(bitrate int) (common.CommandResult, error) {
	command, err := protocol.SetBitrate(bitrate)
	if err != nil {
		return common.CommandResult{}, err
	}
	return s.channel.Send(command)
}

// StartVideo asks the drone to stream and starts the receive and forward loops
func (s *Session) StartVideo() (common.CommandResult, error) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	logger.Printf("Sending %q command to drone...", protocol.CmdStreamOn)
	result, err := s.channel.Send(protocol.CmdStreamOn)
	if err != nil {
		return result, err
	}
	if !result.Success {
		logger.Printf("%s command failed: %s", protocol.CmdStreamOn, result.Message)
		return result, nil
	}

	s.stopVideoPipeline()

	receiver, err := video.NewReceiver(s.videoConfig, s.config.Addr)
	if err == nil {
		err = receiver.Start()
	}
	if err != nil {
		s.abortStream()
		return common.CommandResult{}, err
	}
	forwarder := video.NewForwarder(receiver, s.videoSink, s.videoConfig.ForwardInterval)
	forwarder.Start()

	s.videoMu.Lock()
	s.receiver = receiver
	s.forwarder = forwarder
	s.videoMu.Unlock()

	s.state.setVideoActive(true)
	logger.Println("Video capture and forwarding started")
	return result, nil
}

// StopVideo stops the local pipeline first, then tells the drone to stop streaming
func (s *Session) StopVideo() (common.CommandResult, error) {
	s.lifeMu.Lock()
	s.stopVideoPipeline()
	s.lifeMu.Unlock()

	return s.channel.Send(protocol.CmdStreamOff)
}

// VideoReceiver returns the active receiver, nil when video is off
func (s *Session) VideoReceiver() *video.Receiver {
	s.videoMu.Lock()
	defer s.videoMu.Unlock()
	return s.receiver
}

func (s *Session) stopVideoPipeline() {
	s.videoMu.Lock()
	receiver, forwarder := s.receiver, s.forwarder
	s.receiver, s.forwarder = nil, nil
	s.videoMu.Unlock()

	if receiver != nil {
		receiver.Stop()
	}
	if forwarder != nil {
		forwarder.Stop()
	}
	s.state.setVideoActive(false)
}

// abortStream tells the drone to stop a stream nobody can receive
func (s *Session) abortStream() {
	if result, err := s.channel.Send(protocol.CmdStreamOff); err != nil {
		logger.Printf("Could not stop the stream: %v", err)
	} else if !result.Success {
		logger.Printf("%s rejected: %q", protocol.CmdStreamOff, result.Message)
	}
}

func (s *Session) checkNetwork() error {
	if s.checker == nil {
		return nil
	}
	ok, err := s.checker()
	if err != nil {
		if errors.Is(err, ErrCheckUnavailable) {
			logger.Printf("Could not verify network - proceeding anyway: %v", err)
			return nil
		}
		return err
	}
	if !ok {
		logger.Printf("Not connected to Tello WiFi network (expected an address in %s)", s.config.Subnet)
		return fmt.Errorf("not connected to Tello WiFi network. Please connect to TELLO-XXXXXX WiFi and try again "+
			"(your IP should be in %s)", s.config.Subnet)
	}
	logger.Printf("Detected Tello network (%s)", s.config.Subnet)
	return nil
}

func (s *Session) startStateListener() {
	if !s.config.StateListener {
		return
	}
	listener := NewStateListener(s.config.StatePort, s.channel.droneAddr.IP, &s.state)
	if err := listener.Start(); err != nil {
		logger.Printf("State listener unavailable: %v", err)
		return
	}
	s.listener = listener
}

func (s *Session) stopStateListener() {
	if s.listener != nil {
		s.listener.Stop()
		s.listener = nil
	}
}
