// Package scanner is the boundary between a recognition pipeline and the
// scanning client's control loop.
//
// The pipeline runs on its own capture goroutine. Pipeline.ProcessFrame rate
// limits frames, runs the detector, keeps only the most confident observation
// and offers it to a bounded Handoff queue. The control loop drains the queue;
// nothing on the capture side touches signal state.
package scanner

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/dyluth/beacon/internal/logger"
	"golang.org/x/time/rate"
)

// DefaultMaxRate bounds processed frames per second.
const DefaultMaxRate = 10.0

// ScanEvent is a decoded scan handed to the control loop.
type ScanEvent struct {
	Payload    string
	Symbology  string
	Confidence float64
	ObservedAt time.Time
}

// Observation is one candidate code found in a frame.
type Observation struct {
	Payload    string
	Symbology  string
	Confidence float64
}

// Frame is an opaque captured image.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Detector decodes the codes visible in a frame.
type Detector interface {
	Detect(frame Frame) ([]Observation, error)
}

// Best returns the highest-confidence observation. It reports false when
// there are none or the winner carries no payload.
func Best(observations []Observation) (Observation, bool) {
	if len(observations) == 0 {
		return Observation{}, false
	}
	best := observations[0]
	for _, o := range observations[1:] {
		if o.Confidence > best.Confidence {
			best = o
		}
	}
	if best.Payload == "" {
		return Observation{}, false
	}
	return best, true
}

// Handoff is a bounded single-producer/single-consumer queue of scan events.
// Offers never block; events arriving while the queue is full are dropped.
type Handoff struct {
	events  chan ScanEvent
	dropped atomic.Uint64
}

// NewHandoff creates a queue holding up to capacity events.
func NewHandoff(capacity int) *Handoff {
	if capacity < 1 {
		capacity = 1
	}
	return &Handoff{events: make(chan ScanEvent, capacity)}
}

// Offer enqueues ev, returning false if it was dropped.
func (h *Handoff) Offer(ev ScanEvent) bool {
	select {
	case h.events <- ev:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Events is the consumer side of the queue.
func (h *Handoff) Events() <-chan ScanEvent {
	return h.events
}

// Dropped is the number of events discarded because the queue was full.
func (h *Handoff) Dropped() uint64 {
	return h.dropped.Load()
}

// Close ends the queue. Only the producer may call it, once.
func (h *Handoff) Close() {
	close(h.events)
}

// Pipeline turns frames into scan events.
type Pipeline struct {
	detector Detector
	limiter  *rate.Limiter
	handoff  *Handoff
	now      func() time.Time
}

// NewPipeline creates a pipeline processing at most maxRate frames per second.
// A non-positive maxRate disables limiting.
func NewPipeline(detector Detector, maxRate float64, handoff *Handoff) *Pipeline {
	limit := rate.Inf
	if maxRate > 0 {
		limit = rate.Limit(maxRate)
	}
	return &Pipeline{
		detector: detector,
		limiter:  rate.NewLimiter(limit, 1),
		handoff:  handoff,
		now:      time.Now,
	}
}

// ProcessFrame runs detection on one frame and reports whether an event was
// handed off. Frames over the rate limit and detector errors are dropped.
func (p *Pipeline) ProcessFrame(frame Frame) bool {
	at := frame.CapturedAt
	if at.IsZero() {
		at = p.now()
	}
	if !p.limiter.AllowN(at, 1) {
		return false
	}

	observations, err := p.detector.Detect(frame)
	if err != nil {
		logger.Debugf("[Scanner] frame dropped: %v", err)
		return false
	}
	best, ok := Best(observations)
	if !ok {
		return false
	}

	return p.handoff.Offer(ScanEvent{
		Payload:    best.Payload,
		Symbology:  best.Symbology,
		Confidence: best.Confidence,
		ObservedAt: at,
	})
}

// TextDetector treats the frame bytes as an already-decoded code, the way a
// keyboard-wedge hardware scanner delivers one line per scan.
type TextDetector struct {
	Symbology string
}

func (d TextDetector) Detect(frame Frame) ([]Observation, error) {
	payload := strings.TrimSpace(string(frame.Data))
	if payload == "" {
		return nil, nil
	}
	symbology := d.Symbology
	if symbology == "" {
		symbology = "text"
	}
	return []Observation{{Payload: payload, Symbology: symbology, Confidence: 1}}, nil
}
