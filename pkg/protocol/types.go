package protocol

import "strings"

// Signal is the tri-state indicator owned by the scanning client.
type Signal string

const (
	// SignalRed is the rest state.
	SignalRed Signal = "RED"
	// SignalGreen is the success state (and the groupA assignment).
	SignalGreen Signal = "GREEN"
	// SignalBlue is the alternate success state (and the groupB assignment).
	SignalBlue Signal = "BLUE"
)

// ParseSignal accepts a signal name in any case, surrounding whitespace allowed.
func ParseSignal(s string) (Signal, bool) {
	switch Signal(strings.ToUpper(strings.TrimSpace(s))) {
	case SignalRed:
		return SignalRed, true
	case SignalGreen:
		return SignalGreen, true
	case SignalBlue:
		return SignalBlue, true
	}
	return "", false
}

// Source identifies which process authored a message.
type Source string

const (
	SourcePhone  Source = "phone"
	SourceWebapp Source = "webapp"
	SourceHost   Source = "host"
)

// InteractiveMode is the host-side "any key" console mode.
type InteractiveMode string

const (
	InteractiveStopped   InteractiveMode = "stopped"
	InteractivePassive   InteractiveMode = "passive"
	InteractiveAnyKeyRed InteractiveMode = "any_key_red"
)

// ParseInteractiveMode validates a mode string.
func ParseInteractiveMode(s string) (InteractiveMode, bool) {
	switch InteractiveMode(strings.TrimSpace(s)) {
	case InteractiveStopped:
		return InteractiveStopped, true
	case InteractivePassive:
		return InteractivePassive, true
	case InteractiveAnyKeyRed:
		return InteractiveAnyKeyRed, true
	}
	return "", false
}

// Kind is the value of the "type" discriminator.
type Kind string

const (
	KindHello              Kind = "hello"
	KindStateUpdate        Kind = "state_update"
	KindBarcodeResult      Kind = "barcode_result"
	KindAssignmentUpdate   Kind = "assignment_update"
	KindAssignmentSync     Kind = "assignment_sync"
	KindInteractiveControl Kind = "interactive_control"
	KindInteractiveKey     Kind = "interactive_key"
	KindInteractiveStatus  Kind = "interactive_status"
	KindHeartbeat          Kind = "heartbeat"
)

// Message is the closed set of wire messages. Only types in this package
// implement it.
type Message interface {
	Kind() Kind
	isMessage()
}

// Hello is sent by the host to every client right after the connection opens.
type Hello struct {
	Source          Source
	State           Signal
	InteractiveMode InteractiveMode // empty when the host did not include one
}

// StateUpdate announces a signal change. Manual is true for user-driven resets.
type StateUpdate struct {
	Source Source
	State  Signal
	Manual bool
}

// BarcodeResult reports a decoded scan.
type BarcodeResult struct {
	Source     Source
	Code       string
	Symbology  string
	Confidence float64
}

// AssignmentUpdate tells the host which signal a single barcode should
// produce. A nil State means "unassign".
type AssignmentUpdate struct {
	Source Source
	Code   string
	State  *Signal
}

// AssignmentSync replaces the host's whole barcode→signal map.
type AssignmentSync struct {
	Source  Source
	Targets map[string]Signal
}

// InteractiveControl asks the host to switch console mode.
type InteractiveControl struct {
	Source Source
	Mode   InteractiveMode
}

// InteractiveKey forwards a console key press to the host.
type InteractiveKey struct {
	Source Source
	Key    string
}

// InteractiveStatus is the host's broadcast of its console mode.
type InteractiveStatus struct {
	Source Source
	Mode   InteractiveMode
}

// Heartbeat is a liveness ping; receivers ignore it.
type Heartbeat struct {
	Source Source
}

// Unknown carries any message this package does not recognize, including
// known kinds whose required fields were missing or malformed.
type Unknown struct {
	Type   string
	Reason string
}

func (Hello) Kind() Kind              { return KindHello }
func (StateUpdate) Kind() Kind        { return KindStateUpdate }
func (BarcodeResult) Kind() Kind      { return KindBarcodeResult }
func (AssignmentUpdate) Kind() Kind   { return KindAssignmentUpdate }
func (AssignmentSync) Kind() Kind     { return KindAssignmentSync }
func (InteractiveControl) Kind() Kind { return KindInteractiveControl }
func (InteractiveKey) Kind() Kind     { return KindInteractiveKey }
func (InteractiveStatus) Kind() Kind  { return KindInteractiveStatus }
func (Heartbeat) Kind() Kind          { return KindHeartbeat }
func (u Unknown) Kind() Kind          { return Kind(u.Type) }

func (Hello) isMessage()              {}
func (StateUpdate) isMessage()        {}
func (BarcodeResult) isMessage()      {}
func (AssignmentUpdate) isMessage()   {}
func (AssignmentSync) isMessage()     {}
func (InteractiveControl) isMessage() {}
func (InteractiveKey) isMessage()     {}
func (InteractiveStatus) isMessage()  {}
func (Heartbeat) isMessage()          {}
func (Unknown) isMessage()            {}

// SignalPtr is a convenience for building AssignmentUpdate values.
func SignalPtr(s Signal) *Signal {
	return &s
}
