package video

import (
	"sync"
	"time"
)

// Packet is one datagram of the H.264 elementary stream
type Packet struct {
	Data       []byte
	Seq        uint64 // increases by one per stored datagram, starts at 1
	ReceivedAt time.Time
}

// slot holds the latest packet only. A write replaces the previous packet even if
// nobody read it: the stream is lossy by design of the consumer.
type slot struct {
	mu     sync.Mutex
	packet *Packet
	seq    uint64
}

func (s *slot) store(data []byte) {
	p := &Packet{
		Data:       append([]byte(nil), data...),
		ReceivedAt: time.Now(),
	}
	s.mu.Lock()
	s.seq++
	p.Seq = s.seq
	s.packet = p
	s.mu.Unlock()
}

func (s *slot) load() (Packet, bool) {
	s.mu.Lock()
	p := s.packet
	s.mu.Unlock()
	if p == nil {
		return Packet{}, false
	}
	return Packet{
		Data:       append([]byte(nil), p.Data...),
		Seq:        p.Seq,
		ReceivedAt: p.ReceivedAt,
	}, true
}
