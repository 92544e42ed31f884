package video

import (
	"encoding/base64"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tello-bridge/sink"
)

// Source is what the forwarder samples
type Source interface {
	Latest() (Packet, bool)
	Done() <-chan struct{}
}

// Forwarder samples the latest packet at a fixed rate and hands new packets to the sink,
// base64 encoded. Ticks without a new packet emit nothing.
type Forwarder struct {
	source   Source
	sink     sink.VideoSink
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	lastSeq  uint64
	emitted  atomic.Uint64
}

// NewForwarder creates a forwarder ticking every interval
func NewForwarder(source Source, videoSink sink.VideoSink, interval time.Duration) *Forwarder {
	return &Forwarder{
		source:   source,
		sink:     videoSink,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start spawns the forwarding loop
func (f *Forwarder) Start() {
	f.wg.Add(1)
	go f.forwardLoop()
}

// Stop ends the loop and waits for it
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() { close(f.stopChan) })
	f.wg.Wait()
}

// Wait blocks until the loop has exited
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

// Forwarded returns the number of packets handed to the sink
func (f *Forwarder) Forwarded() uint64 {
	return f.emitted.Load()
}

func (f *Forwarder) forwardLoop() {
	defer f.wg.Done()
	logger.Printf("Starting H.264 packet forwarding every %v", f.interval)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	progress := rate.Sometimes{Every: 30}
	waiting := rate.Sometimes{First: 1, Interval: 5 * time.Second}

	for {
		select {
		case <-f.stopChan:
			logger.Println("Packet forwarding stopped")
			return
		case <-f.source.Done():
			logger.Println("Receiver is gone, packet forwarding stopped")
			return
		case <-ticker.C:
			packet, ok := f.source.Latest()
			if !ok {
				waiting.Do(func() { logger.Println("Waiting for first packet from UDP receiver...") })
				continue
			}
			if packet.Seq == f.lastSeq {
				continue
			}
			f.lastSeq = packet.Seq

			encoded := base64.StdEncoding.EncodeToString(packet.Data)
			if err := f.sink.PublishVideoPacket(encoded); err != nil {
				logger.Printf("Failed to emit packet %d: %v", packet.Seq, err)
				continue
			}
			count := f.emitted.Add(1)
			if count == 1 {
				logger.Printf("First packet forwarded (%d bytes)", len(packet.Data))
			}
			progress.Do(func() { logger.Printf("%d packets forwarded", count) })
		}
	}
}
