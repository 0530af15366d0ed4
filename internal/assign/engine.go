// Package assign tells the host which signal each placed card should
// produce when scanned.
//
// The desired signal is derived from a card's column every time; it is
// never stored. The engine only writes toward the host.
package assign

import (
	"github.com/dyluth/beacon/internal/board"
	"github.com/dyluth/beacon/internal/logger"
	"github.com/dyluth/beacon/pkg/protocol"
)

// Sender delivers an outbound message. Delivery is best effort.
type Sender interface {
	Send(msg protocol.Message)
}

// Placements reports where cards sit.
type Placements interface {
	Location(barcode string) (board.Location, bool)
	Placements() map[string]board.Location
}

// Desired maps a column to the signal its cards should produce.
// Cards in the warehouse have none.
func Desired(loc board.Location) (protocol.Signal, bool) {
	switch loc {
	case board.LocationGroupA:
		return protocol.SignalGreen, true
	case board.LocationGroupB:
		return protocol.SignalBlue, true
	}
	return "", false
}

// Engine pushes assignments to the host.
type Engine struct {
	source     protocol.Source
	placements Placements
	out        Sender
}

// New creates an engine that reads placements and writes to out.
func New(source protocol.Source, placements Placements, out Sender) *Engine {
	return &Engine{source: source, placements: placements, out: out}
}

// SetPlacements swaps the placement source, for engines built before the
// board they serve.
func (e *Engine) SetPlacements(p Placements) {
	e.placements = p
}

// Targets computes the full barcode → signal map.
func (e *Engine) Targets() map[string]protocol.Signal {
	targets := make(map[string]protocol.Signal)
	for barcode, loc := range e.placements.Placements() {
		if sig, ok := Desired(loc); ok {
			targets[barcode] = sig
		}
	}
	return targets
}

// CardChanged sends the current assignment for one card. A card that is
// gone or in the warehouse is sent with a null state, which unassigns it.
func (e *Engine) CardChanged(barcode string) {
	var state *protocol.Signal
	if loc, ok := e.placements.Location(barcode); ok {
		if sig, ok := Desired(loc); ok {
			state = protocol.SignalPtr(sig)
		}
	}
	e.out.Send(protocol.AssignmentUpdate{Source: e.source, Code: barcode, State: state})
}

// SyncAll sends the whole map as one assignment_sync, as after a reconnect.
func (e *Engine) SyncAll() {
	targets := e.Targets()
	logger.Debugf("[Assign] syncing %d assignments", len(targets))
	e.out.Send(protocol.AssignmentSync{Source: e.source, Targets: targets})
}
