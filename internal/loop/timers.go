package loop

import "time"

// Kind identifies a timer slot. At most one timer per kind is outstanding.
type Kind string

const (
	// Decision is the pending transition out of RED after a scan.
	Decision Kind = "decision"
	// Reset is the pending auto-return to RED from GREEN/BLUE.
	Reset Kind = "reset"
	// Settle is the debounced "all done" signal on the board.
	Settle Kind = "settle"
)

// Scheduler arms and cancels single-shot timers by kind.
// Arming a kind that is already armed cancels the previous timer first.
type Scheduler interface {
	Arm(kind Kind, d time.Duration, fn func())
	Cancel(kind Kind)
	Armed(kind Kind) bool
}

// Timers is the production Scheduler. Expired timers post their callback to
// the loop; a callback whose slot was cancelled or re-armed in the meantime
// is discarded there. All methods must be called from the loop goroutine.
type Timers struct {
	loop  *Loop
	seq   uint64
	slots map[Kind]*slot
}

type slot struct {
	seq   uint64
	timer *time.Timer
}

// NewTimers creates a scheduler that fires into l.
func NewTimers(l *Loop) *Timers {
	return &Timers{
		loop:  l,
		slots: make(map[Kind]*slot),
	}
}

// Arm schedules fn to run on the loop after d.
func (t *Timers) Arm(kind Kind, d time.Duration, fn func()) {
	t.Cancel(kind)
	if d < 0 {
		d = 0
	}

	t.seq++
	seq := t.seq
	s := &slot{seq: seq}
	t.slots[kind] = s
	s.timer = time.AfterFunc(d, func() {
		t.loop.Post(func() { t.fire(kind, seq, fn) })
	})
}

// Cancel stops the timer of the given kind, if armed.
func (t *Timers) Cancel(kind Kind) {
	s, ok := t.slots[kind]
	if !ok {
		return
	}
	s.timer.Stop()
	delete(t.slots, kind)
}

// Armed reports whether a timer of the given kind is outstanding.
func (t *Timers) Armed(kind Kind) bool {
	_, ok := t.slots[kind]
	return ok
}

// CancelAll stops every outstanding timer.
func (t *Timers) CancelAll() {
	for kind := range t.slots {
		t.Cancel(kind)
	}
}

func (t *Timers) fire(kind Kind, seq uint64, fn func()) {
	s, ok := t.slots[kind]
	if !ok || s.seq != seq {
		return
	}
	delete(t.slots, kind)
	fn()
}
