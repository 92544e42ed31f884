package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is one datagram of the drone's state broadcast, e.g.
// "pitch:0;roll:0;yaw:0;vgx:0;vgy:0;vgz:0;templ:83;temph:85;tof:10;h:0;bat:87;baro:-63.47;time:0;agx:-1.00;agy:-7.00;agz:-999.00;"
type Status struct {
	Pitch, Roll, Yaw int
	SpeedX           int // cm/s
	SpeedY           int
	SpeedZ           int
	TempLow          int // °C
	TempHigh         int
	TOF              int // cm
	Height           int // cm
	Battery          int // percent
	Barometer        float64
	FlightTime       int // s
	AccelX           float64
	AccelY           float64
	AccelZ           float64
}

// statusInts maps integer keys of the state string onto Status fields
var statusInts = map[string]func(*Status) *int{
	"pitch": func(s *Status) *int { return &s.Pitch },
	"roll":  func(s *Status) *int { return &s.Roll },
	"yaw":   func(s *Status) *int { return &s.Yaw },
	"vgx":   func(s *Status) *int { return &s.SpeedX },
	"vgy":   func(s *Status) *int { return &s.SpeedY },
	"vgz":   func(s *Status) *int { return &s.SpeedZ },
	"templ": func(s *Status) *int { return &s.TempLow },
	"temph": func(s *Status) *int { return &s.TempHigh },
	"tof":   func(s *Status) *int { return &s.TOF },
	"h":     func(s *Status) *int { return &s.Height },
	"bat":   func(s *Status) *int { return &s.Battery },
	"time":  func(s *Status) *int { return &s.FlightTime },
}

// statusFloats maps float keys of the state string onto Status fields
var statusFloats = map[string]func(*Status) *float64{
	"baro": func(s *Status) *float64 { return &s.Barometer },
	"agx":  func(s *Status) *float64 { return &s.AccelX },
	"agy":  func(s *Status) *float64 { return &s.AccelY },
	"agz":  func(s *Status) *float64 { return &s.AccelZ },
}

// ParseStatus parses a state broadcast. Unknown keys (mission pad fields etc.) are ignored.
func ParseStatus(raw string) (*Status, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty state string")
	}

	var s Status
	known := 0
	for _, pair := range strings.Split(raw, ";") {
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("malformed state field %q", pair)
		}
		if field, ok := statusInts[key]; ok {
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid value for %s: %q", key, value)
			}
			*field(&s) = v
			known++
			continue
		}
		if field, ok := statusFloats[key]; ok {
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value for %s: %q", key, value)
			}
			*field(&s) = v
			known++
		}
	}

	if known == 0 {
		return nil, fmt.Errorf("no state fields in %q", raw)
	}
	if known < len(statusInts)+len(statusFloats) {
		logger.Printf("Partial state string (%d fields): %q", known, raw)
	}
	return &s, nil
}
