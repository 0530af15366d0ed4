package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RecognizedKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Message
	}{
		{
			name: "hello with interactive mode",
			raw:  `{"type":"hello","source":"host","state":"GREEN","interactive_mode":"any_key_red"}`,
			want: Hello{Source: SourceHost, State: SignalGreen, InteractiveMode: InteractiveAnyKeyRed},
		},
		{
			name: "hello without interactive mode",
			raw:  `{"type":"hello","source":"host","state":"RED"}`,
			want: Hello{Source: SourceHost, State: SignalRed},
		},
		{
			name: "state update lowercase state",
			raw:  `{"type":"state_update","source":"phone","state":" blue ","manual":true}`,
			want: StateUpdate{Source: SourcePhone, State: SignalBlue, Manual: true},
		},
		{
			name: "state update without manual",
			raw:  `{"type":"state_update","source":"host","state":"RED"}`,
			want: StateUpdate{Source: SourceHost, State: SignalRed},
		},
		{
			name: "barcode result",
			raw:  `{"type":"barcode_result","source":"phone","code":" A1 ","symbology":"qr","confidence":0.5}`,
			want: BarcodeResult{Source: SourcePhone, Code: "A1", Symbology: "qr", Confidence: 0.5},
		},
		{
			name: "assignment update with signal",
			raw:  `{"type":"assignment_update","source":"webapp","code":"A1","state":"GREEN"}`,
			want: AssignmentUpdate{Source: SourceWebapp, Code: "A1", State: SignalPtr(SignalGreen)},
		},
		{
			name: "assignment update null state",
			raw:  `{"type":"assignment_update","source":"webapp","code":"A1","state":null}`,
			want: AssignmentUpdate{Source: SourceWebapp, Code: "A1"},
		},
		{
			name: "assignment update legacy barcode field and NONE",
			raw:  `{"type":"assignment_update","barcode":"B2","state":"none"}`,
			want: AssignmentUpdate{Code: "B2"},
		},
		{
			name: "assignment sync skips invalid entries",
			raw:  `{"type":"assignment_sync","source":"webapp","targets":{"A1":"GREEN","B2":"blue","C3":"PURPLE","D4":7}}`,
			want: AssignmentSync{Source: SourceWebapp, Targets: map[string]Signal{"A1": SignalGreen, "B2": SignalBlue}},
		},
		{
			name: "interactive control",
			raw:  `{"type":"interactive_control","source":"webapp","mode":"any_key_red"}`,
			want: InteractiveControl{Source: SourceWebapp, Mode: InteractiveAnyKeyRed},
		},
		{
			name: "interactive key",
			raw:  `{"type":"interactive_key","source":"webapp","key":"x"}`,
			want: InteractiveKey{Source: SourceWebapp, Key: "x"},
		},
		{
			name: "interactive status stopped",
			raw:  `{"type":"interactive_status","source":"host","mode":"stopped"}`,
			want: InteractiveStatus{Source: SourceHost, Mode: InteractiveStopped},
		},
		{
			name: "heartbeat",
			raw:  `{"type":"heartbeat","source":"phone"}`,
			want: Heartbeat{Source: SourcePhone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_IgnoredPayloads(t *testing.T) {
	t.Run("malformed payloads return ErrMalformed", func(t *testing.T) {
		for _, raw := range []string{`not json`, `null`, `[1,2]`, `{"source":"phone"}`, `{"type":""}`, `{"type":7}`} {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformed, raw)
		}
	})

	t.Run("unknown kinds and bad fields decode to Unknown", func(t *testing.T) {
		for _, raw := range []string{
			`{"type":"telemetry","value":1}`,
			`{"type":"state_update","state":"YELLOW"}`,
			`{"type":"state_update"}`,
			`{"type":"barcode_result","code":"  "}`,
			`{"type":"assignment_update","state":"GREEN"}`,
			`{"type":"assignment_update","code":"A1","state":3}`,
			`{"type":"assignment_sync","targets":[]}`,
			`{"type":"interactive_status","mode":"loud"}`,
			`{"type":"hello"}`,
		} {
			msg, err := Decode([]byte(raw))
			require.NoError(t, err, raw)
			_, ok := msg.(Unknown)
			assert.True(t, ok, "expected Unknown for %s, got %#v", raw, msg)
		}
	})
}

func TestEncode(t *testing.T) {
	t.Run("assignment update keeps explicit null state", func(t *testing.T) {
		data, err := Encode(AssignmentUpdate{Source: SourceWebapp, Code: "A1"})
		require.NoError(t, err)

		var fields map[string]any
		require.NoError(t, json.Unmarshal(data, &fields))
		assert.Equal(t, "assignment_update", fields["type"])
		assert.Contains(t, fields, "state")
		assert.Nil(t, fields["state"])
	})

	t.Run("assignment sync with nil targets encodes empty object", func(t *testing.T) {
		data, err := Encode(AssignmentSync{Source: SourceWebapp})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"assignment_sync","source":"webapp","targets":{}}`, string(data))
	})

	t.Run("state update wire form", func(t *testing.T) {
		data, err := Encode(StateUpdate{Source: SourcePhone, State: SignalRed, Manual: true})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"state_update","source":"phone","state":"RED","manual":true}`, string(data))
	})

	t.Run("encoded messages decode to the same value", func(t *testing.T) {
		msgs := []Message{
			Hello{Source: SourceHost, State: SignalBlue, InteractiveMode: InteractivePassive},
			BarcodeResult{Source: SourcePhone, Code: "X", Symbology: "ean13", Confidence: 0.9},
			AssignmentSync{Source: SourceWebapp, Targets: map[string]Signal{"X": SignalBlue}},
		}
		for _, msg := range msgs {
			data, err := Encode(msg)
			require.NoError(t, err)
			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, msg, got)
		}
	})

	t.Run("unknown cannot be encoded", func(t *testing.T) {
		_, err := Encode(Unknown{Type: "mystery"})
		assert.Error(t, err)
	})
}

func TestParseSignal(t *testing.T) {
	s, ok := ParseSignal("green")
	assert.True(t, ok)
	assert.Equal(t, SignalGreen, s)

	_, ok = ParseSignal("YELLOW")
	assert.False(t, ok)
}
