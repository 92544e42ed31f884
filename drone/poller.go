package drone

import (
	"context"
	"sync"
	"time"

	"tello-bridge/sink"
)

// PollerConfig describes periodic telemetry polling
type PollerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`         // Pause between two polls, 0 disables polling
	AutoLand        bool          `mapstructure:"auto_land"`        // Land once when the battery is critical
	BatteryCritical int           `mapstructure:"battery_critical"` // Percent below which the battery is critical
}

// DefaultPollerConfig returns one poll per second with auto-land below 15%
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:        time.Second,
		AutoLand:        true,
		BatteryCritical: 15,
	}
}

// Poller periodically reads telemetry while the session is connected and publishes
// it together with the state record.
type Poller struct {
	config  PollerConfig
	session *Session
	sink    sink.TelemetrySink

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// landed is set after an auto-land so that a low battery is acted on once per flight
	landed bool
}

// NewPoller creates a poller for session
func NewPoller(config PollerConfig, session *Session, telemetrySink sink.TelemetrySink) *Poller {
	if telemetrySink == nil {
		telemetrySink = sink.Discard{}
	}
	if config.Interval <= 0 {
		config.Interval = DefaultPollerConfig().Interval
	}
	return &Poller{
		config:   config,
		session:  session,
		sink:     telemetrySink,
		stopChan: make(chan struct{}),
	}
}

// Start spawns the polling loop, it ends on Stop or when ctx is done
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.pollLoop(ctx)
}

// Stop ends the loop and waits for it
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	logger.Printf("Starting telemetry poller every %v", p.config.Interval)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Println("Telemetry poller stopped")
			return
		case <-p.stopChan:
			logger.Println("Telemetry poller stopped")
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll runs one telemetry cycle; it does nothing while disconnected
func (p *Poller) Poll() {
	if !p.session.Channel().Connected() {
		return
	}

	snapshot, err := p.session.Telemetry()
	if err != nil {
		logger.Printf("Telemetry poll failed: %v", err)
		return
	}
	if err := p.sink.PublishTelemetry(snapshot); err != nil {
		logger.Printf("Failed to publish telemetry: %v", err)
	}

	state := p.session.State()
	if !state.Flying {
		p.landed = false
	}
	if p.config.AutoLand && state.Flying && !p.landed &&
		snapshot.Battery > 0 && snapshot.Battery < p.config.BatteryCritical {
		logger.Printf("Battery critical (%d%%), landing", snapshot.Battery)
		p.landed = true
		if result, err := p.session.Land(); err != nil {
			logger.Printf("Auto-land failed: %v", err)
		} else if !result.Success {
			logger.Printf("Auto-land rejected: %q", result.Message)
		}
		state = p.session.State()
	}

	if err := p.sink.PublishState(state); err != nil {
		logger.Printf("Failed to publish state: %v", err)
	}
}
