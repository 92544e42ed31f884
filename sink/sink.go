package sink

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"tello-bridge/common"
)

var logger = log.New(os.Stdout, "[Sink] ", log.LstdFlags|log.Lshortfile)

// VideoSink receives base64 encoded H.264 packets ("video-packet" events)
type VideoSink interface {
	PublishVideoPacket(payload string) error
}

// TelemetrySink receives telemetry snapshots and state records
type TelemetrySink interface {
	PublishTelemetry(t common.TelemetrySnapshot) error
	PublishState(s common.DroneState) error
}

type namedVideo struct {
	name string
	sink VideoSink
}

type namedTelemetry struct {
	name string
	sink TelemetrySink
}

// Fanout delivers every event to all registered sinks. A failing sink does not stop
// delivery to the others.
type Fanout struct {
	mu        sync.RWMutex
	video     []namedVideo
	telemetry []namedTelemetry
}

// NewFanout creates an empty fan-out
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers s for every event kind it implements. It returns false when s
// implements none of them.
func (f *Fanout) Add(name string, s interface{}) bool {
	added := false
	f.mu.Lock()
	if v, ok := s.(VideoSink); ok {
		f.video = append(f.video, namedVideo{name: name, sink: v})
		added = true
	}
	if t, ok := s.(TelemetrySink); ok {
		f.telemetry = append(f.telemetry, namedTelemetry{name: name, sink: t})
		added = true
	}
	f.mu.Unlock()

	if added {
		logger.Printf("Registered sink %s", name)
	}
	return added
}

// Len returns the number of video and telemetry sinks
func (f *Fanout) Len() (video, telemetry int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.video), len(f.telemetry)
}

// PublishVideoPacket implements VideoSink
func (f *Fanout) PublishVideoPacket(payload string) error {
	f.mu.RLock()
	sinks := f.video
	f.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.sink.PublishVideoPacket(payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// PublishTelemetry implements TelemetrySink
func (f *Fanout) PublishTelemetry(t common.TelemetrySnapshot) error {
	return f.eachTelemetry(func(s TelemetrySink) error { return s.PublishTelemetry(t) })
}

// PublishState implements TelemetrySink
func (f *Fanout) PublishState(s common.DroneState) error {
	return f.eachTelemetry(func(ts TelemetrySink) error { return ts.PublishState(s) })
}

func (f *Fanout) eachTelemetry(fn func(TelemetrySink) error) error {
	f.mu.RLock()
	sinks := f.telemetry
	f.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := fn(s.sink); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event, used when no sink is configured
type Discard struct{}

func (Discard) PublishVideoPacket(string) error                { return nil }
func (Discard) PublishTelemetry(common.TelemetrySnapshot) error { return nil }
func (Discard) PublishState(common.DroneState) error            { return nil }
