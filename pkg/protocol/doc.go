// Package protocol defines the JSON wire messages exchanged between the beacon
// clients (scanner, board) and the host.
//
// # Overview
//
// Every message is a single JSON object carrying a "type" discriminator and a
// "source" tag. The recognized kinds form a closed set; anything else decodes
// to Unknown and is ignored by every consumer.
//
//	{"type":"state_update","source":"phone","state":"RED","manual":true}
//	{"type":"barcode_result","source":"phone","code":"A1","symbology":"qr","confidence":0.97}
//	{"type":"assignment_update","source":"webapp","code":"A1","state":null}
//
// # Decoding rules
//
// Decode returns an error only when the payload is not a JSON object or has no
// type string. Known kinds with missing or malformed required fields decode to
// Unknown, so that a single bad field never reaches a state machine.
//
// # Usage Example
//
//	msg, err := protocol.Decode(raw)
//	if err != nil {
//		return // dropped
//	}
//	switch m := msg.(type) {
//	case protocol.StateUpdate:
//		apply(m.State)
//	case protocol.Unknown:
//		// ignored
//	}
package protocol
