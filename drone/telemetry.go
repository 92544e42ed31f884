package drone

import (
	"time"

	"tello-bridge/common"
	"tello-bridge/protocol"
)

// Telemetry reads every telemetry field with one query each. A failed mandatory
// field is reported as 0, a failed optional field as unknown; only the fields that
// were read successfully are written into the state.
func (s *Session) Telemetry() (common.TelemetrySnapshot, error) {
	if !s.channel.Connected() {
		return common.TelemetrySnapshot{}, ErrNotConnected
	}

	values := make(map[protocol.Field]int, len(protocol.TelemetryQueries))
	for _, q := range protocol.TelemetryQueries {
		reply, err := s.channel.Exchange(q.Command)
		if err != nil {
			logger.Printf("Query %s failed: %v", q.Command, err)
			continue
		}
		v, err := q.Decode(reply)
		if err != nil {
			logger.Printf("Query %s: %v", q.Command, err)
			continue
		}
		values[q.Field] = v
	}

	snapshot := common.TelemetrySnapshot{
		Battery:     values[protocol.FieldBattery],
		Temperature: values[protocol.FieldTemperature],
		Height:      values[protocol.FieldHeight],
		Pitch:       values[protocol.FieldPitch],
		Roll:        values[protocol.FieldRoll],
		Yaw:         values[protocol.FieldYaw],
		Timestamp:   time.Now(),
	}
	if tof, ok := values[protocol.FieldTOF]; ok {
		snapshot.TOF = &tof
	}

	s.state.applyTelemetry(values)
	return snapshot, nil
}
