package drone

import (
	"sync"

	"tello-bridge/common"
	"tello-bridge/protocol"
)

// State is the shared record of the drone. All access goes through its methods,
// the lock is never held across network I/O.
type State struct {
	mu sync.RWMutex
	s  common.DroneState
}

// Snapshot returns a copy of the current state
func (st *State) Snapshot() common.DroneState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

func (st *State) update(fn func(s *common.DroneState)) {
	st.mu.Lock()
	fn(&st.s)
	st.mu.Unlock()
}

func (st *State) markConnected(speed int) {
	st.update(func(s *common.DroneState) {
		s.Connected = true
		s.Speed = speed
	})
}

func (st *State) setConnected(connected bool) {
	st.update(func(s *common.DroneState) { s.Connected = connected })
}

func (st *State) setFlying(flying bool) {
	st.update(func(s *common.DroneState) { s.Flying = flying })
}

func (st *State) setSpeed(speed int) {
	st.update(func(s *common.DroneState) { s.Speed = speed })
}

func (st *State) setBattery(battery int) {
	st.update(func(s *common.DroneState) { s.Battery = battery })
}

func (st *State) setVideoActive(active bool) {
	st.update(func(s *common.DroneState) { s.VideoActive = active })
}

// markDisconnected clears the session flags, telemetry values are kept as last known
func (st *State) markDisconnected() {
	st.update(func(s *common.DroneState) {
		s.Connected = false
		s.Flying = false
		s.VideoActive = false
	})
}

// applyTelemetry writes the fields that were read successfully
func (st *State) applyTelemetry(values map[protocol.Field]int) {
	st.update(func(s *common.DroneState) {
		for field, v := range values {
			switch field {
			case protocol.FieldBattery:
				s.Battery = v
			case protocol.FieldTemperature:
				s.Temperature = v
			case protocol.FieldHeight:
				s.Height = v
			case protocol.FieldPitch:
				s.Pitch = v
			case protocol.FieldRoll:
				s.Roll = v
			case protocol.FieldYaw:
				s.Yaw = v
			}
		}
	})
}

// applyStatus folds one state broadcast into the record
func (st *State) applyStatus(status *protocol.Status) {
	st.update(func(s *common.DroneState) {
		s.Battery = status.Battery
		s.Temperature = status.TempHigh
		s.Height = status.Height
		s.Pitch = status.Pitch
		s.Roll = status.Roll
		s.Yaw = status.Yaw
	})
}
