package testutil

import (
	"sync"
	"time"

	"github.com/dyluth/beacon/internal/loop"
	"github.com/dyluth/beacon/pkg/protocol"
)

// ManualTimers is a loop.Scheduler whose timers only fire when a test says so.
type ManualTimers struct {
	armed   map[loop.Kind]*ManualTimer
	Armings map[loop.Kind]int // total Arm calls per kind
}

// ManualTimer is one armed timer.
type ManualTimer struct {
	Delay time.Duration
	fn    func()
}

// NewManualTimers returns an empty scheduler.
func NewManualTimers() *ManualTimers {
	return &ManualTimers{
		armed:   make(map[loop.Kind]*ManualTimer),
		Armings: make(map[loop.Kind]int),
	}
}

func (m *ManualTimers) Arm(kind loop.Kind, d time.Duration, fn func()) {
	m.armed[kind] = &ManualTimer{Delay: d, fn: fn}
	m.Armings[kind]++
}

func (m *ManualTimers) Cancel(kind loop.Kind) {
	delete(m.armed, kind)
}

func (m *ManualTimers) Armed(kind loop.Kind) bool {
	_, ok := m.armed[kind]
	return ok
}

// Delay returns the delay the armed timer of kind was scheduled with.
func (m *ManualTimers) Delay(kind loop.Kind) (time.Duration, bool) {
	t, ok := m.armed[kind]
	if !ok {
		return 0, false
	}
	return t.Delay, true
}

// Fire runs the armed timer of kind, as if it expired. Returns false if none was armed.
func (m *ManualTimers) Fire(kind loop.Kind) bool {
	t, ok := m.armed[kind]
	if !ok {
		return false
	}
	delete(m.armed, kind)
	t.fn()
	return true
}

// Callback returns the raw callback of the armed timer without disarming it,
// so a test can replay a firing that was already in flight when the slot was
// cancelled.
func (m *ManualTimers) Callback(kind loop.Kind) func() {
	t, ok := m.armed[kind]
	if !ok {
		return nil
	}
	return t.fn
}

// Count returns the number of armed timers.
func (m *ManualTimers) Count() int {
	return len(m.armed)
}

// Recorder captures outbound protocol messages. It satisfies the Sender and
// Link interfaces of the client packages.
type Recorder struct {
	mu        sync.Mutex
	messages  []protocol.Message
	connected bool
}

// NewRecorder returns a connected recorder.
func NewRecorder() *Recorder {
	return &Recorder{connected: true}
}

// Send records msg when connected and drops it otherwise.
func (r *Recorder) Send(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return
	}
	r.messages = append(r.messages, msg)
}

// Connected reports the simulated link state.
func (r *Recorder) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// SetConnected changes the simulated link state.
func (r *Recorder) SetConnected(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = connected
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.messages...)
}

// OfKind returns the recorded messages of one kind.
func (r *Recorder) OfKind(kind protocol.Kind) []protocol.Message {
	var out []protocol.Message
	for _, m := range r.Messages() {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
