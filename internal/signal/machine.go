// Package signal implements the scanning client's RED/GREEN/BLUE state machine.
//
// A Machine is driven by scans, host messages, local resets and two timer
// slots (decision and reset). It is not safe for concurrent use: every
// method, including timer callbacks, must run on the client's control loop.
package signal

import (
	"math/rand"
	"time"

	"github.com/dyluth/beacon/internal/logger"
	"github.com/dyluth/beacon/internal/loop"
	"github.com/dyluth/beacon/internal/scanner"
	"github.com/dyluth/beacon/pkg/protocol"
)

// Sender delivers an outbound message. Delivery is best effort.
type Sender interface {
	Send(msg protocol.Message)
}

// Machine owns the visible signal state and its timers.
type Machine struct {
	settings   Settings
	state      protocol.Signal
	latestCode string

	timers loop.Scheduler
	out    Sender
	rand   func() float64

	// tokens identify the currently armed timer of each kind; a callback
	// carrying an older token was superseded and does nothing.
	decisionToken uint64
	resetToken    uint64

	onChange func(protocol.Signal)
}

// Option customises a Machine.
type Option func(*Machine)

// WithRand replaces the uniform [0,1) source used for delays and blue draws.
func WithRand(fn func() float64) Option {
	return func(m *Machine) { m.rand = fn }
}

// WithOnChange registers a callback run after every state change.
func WithOnChange(fn func(protocol.Signal)) Option {
	return func(m *Machine) { m.onChange = fn }
}

// NewMachine returns a machine in RED with no timers armed.
func NewMachine(settings Settings, timers loop.Scheduler, out Sender, opts ...Option) *Machine {
	m := &Machine{
		settings: settings.clamped(),
		state:    protocol.SignalRed,
		timers:   timers,
		out:      out,
		rand:     rand.Float64,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current signal.
func (m *Machine) State() protocol.Signal {
	return m.state
}

// LatestCode returns the most recently scanned payload, including scans the
// machine ignored.
func (m *Machine) LatestCode() string {
	return m.latestCode
}

// Settings returns the active settings.
func (m *Machine) Settings() Settings {
	return m.settings
}

// SetSettings replaces the settings. Armed timers keep their original delay.
func (m *Machine) SetSettings(s Settings) {
	m.settings = s.clamped()
}

// DecisionPending reports whether a scan is waiting for its decision.
func (m *Machine) DecisionPending() bool {
	return m.timers.Armed(loop.Decision)
}

// HandleScan processes one recognition result. It returns true when the scan
// triggered a decision: the machine was RED with no decision pending.
func (m *Machine) HandleScan(ev scanner.ScanEvent) bool {
	if ev.Payload == "" {
		return false
	}
	m.latestCode = ev.Payload

	if m.state != protocol.SignalRed || m.timers.Armed(loop.Decision) {
		logger.Debugf("[Signal] ignoring scan %q in state %s", ev.Payload, m.state)
		return false
	}

	m.out.Send(protocol.BarcodeResult{
		Source:     protocol.SourcePhone,
		Code:       ev.Payload,
		Symbology:  ev.Symbology,
		Confidence: ev.Confidence,
	})

	delay := m.settings.MaxDelay
	if m.settings.DecisionMode == DecisionLocal {
		if delay <= 0 {
			delay = 0
		} else {
			delay = scale(delay, m.rand())
		}
	}
	m.armDecision(delay)

	logger.Event("signal", "scan_accepted", map[string]interface{}{
		"code":          ev.Payload,
		"decision_mode": string(m.settings.DecisionMode),
		"delay_ms":      delay.Milliseconds(),
	})
	return true
}

// HandleMessage applies an inbound host message. Messages other than
// state_update, hello and barcode_result are ignored.
func (m *Machine) HandleMessage(msg protocol.Message) {
	switch v := msg.(type) {
	case protocol.StateUpdate:
		m.applyRemote(v.State)
	case protocol.Hello:
		m.applyRemote(v.State)
	case protocol.BarcodeResult:
		m.latestCode = v.Code
	}
}

// ManualReset cancels both timers, forces RED and tells the host the reset
// was manual.
func (m *Machine) ManualReset() {
	m.cancelDecision()
	m.cancelReset()
	m.setState(protocol.SignalRed)
	m.out.Send(protocol.StateUpdate{
		Source: protocol.SourcePhone,
		State:  protocol.SignalRed,
		Manual: true,
	})
}

// AnyKey handles an external key press. It resets only when any-key reset is
// enabled and no settings surface is active. Returns true if it reset.
func (m *Machine) AnyKey(settingsActive bool) bool {
	if !m.settings.AnyKeyReset || settingsActive {
		return false
	}
	m.ManualReset()
	return true
}

// Tap handles a tap on the signal area: a manual reset while GREEN/BLUE or
// while a decision is pending. Returns true if it reset.
func (m *Machine) Tap() bool {
	if m.state == protocol.SignalRed && !m.timers.Armed(loop.Decision) {
		return false
	}
	m.ManualReset()
	return true
}

// applyRemote adopts a host-authored state. The decision timer is always
// cancelled; the reset timer only when entering RED. A remote GREEN/BLUE does
// not arm the reset timer.
func (m *Machine) applyRemote(s protocol.Signal) {
	m.cancelDecision()
	if s == protocol.SignalRed {
		m.cancelReset()
	}
	m.setState(s)
}

func (m *Machine) armDecision(delay time.Duration) {
	m.decisionToken++
	token := m.decisionToken
	m.timers.Arm(loop.Decision, delay, func() { m.decide(token) })
}

func (m *Machine) cancelDecision() {
	m.decisionToken++
	m.timers.Cancel(loop.Decision)
}

func (m *Machine) armReset(delay time.Duration) {
	m.resetToken++
	token := m.resetToken
	m.timers.Arm(loop.Reset, delay, func() { m.expire(token) })
}

func (m *Machine) cancelReset() {
	m.resetToken++
	m.timers.Cancel(loop.Reset)
}

// decide runs when the decision timer fires.
func (m *Machine) decide(token uint64) {
	if token != m.decisionToken || m.state != protocol.SignalRed {
		return
	}

	next := protocol.SignalGreen
	if m.settings.DecisionMode == DecisionLocal {
		draw := m.rand()
		if m.settings.BlueChanceEnabled && draw < m.settings.BlueChance {
			next = protocol.SignalBlue
		}
	} else {
		logger.Infof("[Signal] no host decision within %s, falling back to GREEN", m.settings.MaxDelay)
	}

	m.setState(next)
	m.out.Send(protocol.StateUpdate{Source: protocol.SourcePhone, State: next})

	if m.settings.AutoReset && m.settings.ResetTimeout > 0 {
		m.armReset(m.settings.ResetTimeout)
	}
}

// expire runs when the reset timer fires.
func (m *Machine) expire(token uint64) {
	if token != m.resetToken || m.state == protocol.SignalRed {
		return
	}
	m.setState(protocol.SignalRed)
	m.out.Send(protocol.StateUpdate{Source: protocol.SourcePhone, State: protocol.SignalRed})
}

func (m *Machine) setState(s protocol.Signal) {
	if s == m.state {
		return
	}
	prev := m.state
	m.state = s
	logger.Event("signal", "state_changed", map[string]interface{}{
		"from": string(prev),
		"to":   string(s),
	})
	if m.onChange != nil {
		m.onChange(s)
	}
}

func scale(d time.Duration, f float64) time.Duration {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return time.Duration(float64(d) * f)
}
