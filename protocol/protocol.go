package protocol

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

var logger = log.New(os.Stdout, "[Tello-Protocol] ", log.LstdFlags|log.Lshortfile)

// Plain SDK commands
const (
	CmdCommand   = "command"
	CmdTakeoff   = "takeoff"
	CmdLand      = "land"
	CmdEmergency = "emergency"
	CmdStreamOn  = "streamon"
	CmdStreamOff = "streamoff"
)

// Value limits accepted by the drone
const (
	SpeedMin   = 10
	SpeedMax   = 100
	RCMin      = -100
	RCMax      = 100
	BitrateMin = 0 // auto
	BitrateMax = 5 // 5 Mbps
)

// Reply is the literal acknowledgement token
const Reply = "ok"

// MatchPolicy decides whether a trimmed reply counts as an acknowledgement
type MatchPolicy string

const (
	// MatchExact accepts only "ok"
	MatchExact MatchPolicy = "exact"
	// MatchFold accepts "ok" in any letter case
	MatchFold MatchPolicy = "fold"
)

// Accepts reports whether reply is an acknowledgement under the policy
func (p MatchPolicy) Accepts(reply string) bool {
	reply = strings.TrimSpace(reply)
	if p == MatchFold {
		return strings.EqualFold(reply, Reply)
	}
	return reply == Reply
}

// Validate checks that the policy is one of the known values
func (p MatchPolicy) Validate() error {
	switch p {
	case MatchExact, MatchFold:
		return nil
	}
	return fmt.Errorf("unknown reply match policy %q (expected %q or %q)", string(p), MatchExact, MatchFold)
}

// Speed formats "speed {n}"
func Speed(cmPerSec int) (string, error) {
	if cmPerSec < SpeedMin || cmPerSec > SpeedMax {
		return "", fmt.Errorf("speed %d out of range %d..%d", cmPerSec, SpeedMin, SpeedMax)
	}
	return "speed " + strconv.Itoa(cmPerSec), nil
}

// Flip formats "flip {dir}" where dir is one of l, r, f, b
func Flip(direction string) (string, error) {
	switch direction {
	case "l", "r", "f", "b":
		return "flip " + direction, nil
	}
	return "", fmt.Errorf("invalid flip direction %q (expected l, r, f or b)", direction)
}

// RC formats "rc {lr} {fb} {ud} {yaw}", clamping every channel to RCMin..RCMax
func RC(leftRight, forwardBack, upDown, yaw int) string {
	return fmt.Sprintf("rc %d %d %d %d",
		clamp(leftRight, RCMin, RCMax),
		clamp(forwardBack, RCMin, RCMax),
		clamp(upDown, RCMin, RCMax),
		clamp(yaw, RCMin, RCMax))
}

// SetBitrate formats "setbitrate {n}"
func SetBitrate(bitrate int) (string, error) {
	if bitrate < BitrateMin || bitrate > BitrateMax {
		return "", fmt.Errorf("bitrate %d out of range %d..%d", bitrate, BitrateMin, BitrateMax)
	}
	return "setbitrate " + strconv.Itoa(bitrate), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
