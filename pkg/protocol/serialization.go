package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned by Decode for payloads that are not a JSON object
// with a "type" string. Callers drop such payloads.
var ErrMalformed = errors.New("malformed message")

// Decode parses one wire payload.
// Unrecognized kinds, and recognized kinds with bad required fields, decode to
// Unknown with a nil error.
func Decode(data []byte) (Message, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	typ, ok := fields["type"].(string)
	if !ok || typ == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	source := Source(stringField(fields, "source"))

	switch Kind(typ) {
	case KindHello:
		state, ok := ParseSignal(stringField(fields, "state"))
		if !ok {
			return unknown(typ, "invalid state"), nil
		}
		mode, _ := ParseInteractiveMode(stringField(fields, "interactive_mode"))
		return Hello{Source: source, State: state, InteractiveMode: mode}, nil

	case KindStateUpdate:
		state, ok := ParseSignal(stringField(fields, "state"))
		if !ok {
			return unknown(typ, "invalid state"), nil
		}
		manual, _ := fields["manual"].(bool)
		return StateUpdate{Source: source, State: state, Manual: manual}, nil

	case KindBarcodeResult:
		code := strings.TrimSpace(stringField(fields, "code"))
		if code == "" {
			return unknown(typ, "missing code"), nil
		}
		confidence, _ := fields["confidence"].(float64)
		return BarcodeResult{
			Source:     source,
			Code:       code,
			Symbology:  stringField(fields, "symbology"),
			Confidence: confidence,
		}, nil

	case KindAssignmentUpdate:
		code := stringField(fields, "code")
		if code == "" {
			code = stringField(fields, "barcode")
		}
		code = strings.TrimSpace(code)
		if code == "" {
			return unknown(typ, "missing code"), nil
		}
		state, ok := optionalSignal(fields["state"])
		if !ok {
			return unknown(typ, "invalid state"), nil
		}
		return AssignmentUpdate{Source: source, Code: code, State: state}, nil

	case KindAssignmentSync:
		raw, ok := fields["targets"].(map[string]any)
		if !ok {
			return unknown(typ, "missing targets"), nil
		}
		targets := make(map[string]Signal, len(raw))
		for code, v := range raw {
			code = strings.TrimSpace(code)
			s, ok := v.(string)
			if code == "" || !ok {
				continue
			}
			if sig, ok := ParseSignal(s); ok {
				targets[code] = sig
			}
		}
		return AssignmentSync{Source: source, Targets: targets}, nil

	case KindInteractiveControl:
		mode, ok := ParseInteractiveMode(stringField(fields, "mode"))
		if !ok {
			return unknown(typ, "invalid mode"), nil
		}
		return InteractiveControl{Source: source, Mode: mode}, nil

	case KindInteractiveKey:
		return InteractiveKey{Source: source, Key: stringField(fields, "key")}, nil

	case KindInteractiveStatus:
		mode, ok := ParseInteractiveMode(stringField(fields, "mode"))
		if !ok {
			return unknown(typ, "invalid mode"), nil
		}
		return InteractiveStatus{Source: source, Mode: mode}, nil

	case KindHeartbeat:
		return Heartbeat{Source: source}, nil
	}

	return unknown(typ, "unrecognized type"), nil
}

// Encode renders a message as its JSON wire form.
func Encode(msg Message) ([]byte, error) {
	var payload map[string]any

	switch m := msg.(type) {
	case Hello:
		payload = map[string]any{"state": m.State}
		if m.InteractiveMode != "" {
			payload["interactive_mode"] = m.InteractiveMode
		}
		payload["source"] = m.Source
	case StateUpdate:
		payload = map[string]any{"source": m.Source, "state": m.State, "manual": m.Manual}
	case BarcodeResult:
		payload = map[string]any{
			"source":     m.Source,
			"code":       m.Code,
			"symbology":  m.Symbology,
			"confidence": m.Confidence,
		}
	case AssignmentUpdate:
		// state is always present; null means unassign
		var state any
		if m.State != nil {
			state = *m.State
		}
		payload = map[string]any{"source": m.Source, "code": m.Code, "state": state}
	case AssignmentSync:
		targets := m.Targets
		if targets == nil {
			targets = map[string]Signal{}
		}
		payload = map[string]any{"source": m.Source, "targets": targets}
	case InteractiveControl:
		payload = map[string]any{"source": m.Source, "mode": m.Mode}
	case InteractiveKey:
		payload = map[string]any{"source": m.Source, "key": m.Key}
	case InteractiveStatus:
		payload = map[string]any{"source": m.Source, "mode": m.Mode}
	case Heartbeat:
		payload = map[string]any{"source": m.Source}
	case Unknown:
		return nil, fmt.Errorf("cannot encode unrecognized message type %q", m.Type)
	default:
		return nil, fmt.Errorf("cannot encode message of type %T", msg)
	}

	payload["type"] = msg.Kind()
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Kind(), err)
	}
	return data, nil
}

func unknown(typ, reason string) Unknown {
	return Unknown{Type: typ, Reason: reason}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

// optionalSignal interprets an assignment state field. Absent, null, "",
// "NONE" and "NULL" all mean unassign.
func optionalSignal(v any) (*Signal, bool) {
	if v == nil {
		return nil, true
	}
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE", "NULL":
		return nil, true
	}
	sig, ok := ParseSignal(s)
	if !ok {
		return nil, false
	}
	return &sig, true
}
