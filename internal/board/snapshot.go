package board

import (
	"strings"

	"github.com/dyluth/beacon/internal/loop"
	"github.com/dyluth/beacon/pkg/protocol"
)

// SnapshotVersion is the current persisted board schema.
const SnapshotVersion = 2

// Snapshot is the persisted form of a board. Order and title keys are column
// names; older snapshots used "kid1"/"kid2" for the groups.
type Snapshot struct {
	Version         int                 `json:"version"`
	Titles          map[string]string   `json:"titles,omitempty"`
	Items           map[string]Item     `json:"items"`
	Cards           map[string]Card     `json:"cards"`
	Order           map[string][]string `json:"order"`
	HostAddress     string              `json:"host_address,omitempty"`
	InteractiveMode string              `json:"interactive_mode,omitempty"`
}

// NormalizeSnapshot repairs a loaded snapshot: it fills missing fields,
// defaults invalid locations and statuses, keeps warehouse cards in_warehouse,
// drops order entries for missing cards and appends cards missing from the
// order. It does not modify raw.
func NormalizeSnapshot(raw Snapshot) Snapshot {
	out := Snapshot{
		Version:     SnapshotVersion,
		Titles:      make(map[string]string, len(Locations)),
		Items:       make(map[string]Item, len(raw.Items)),
		Cards:       make(map[string]Card, len(raw.Cards)),
		Order:       make(map[string][]string, len(Locations)),
		HostAddress: strings.TrimSpace(raw.HostAddress),
	}

	for _, loc := range Locations {
		out.Titles[string(loc)] = DefaultTitles[loc]
	}
	for key, title := range raw.Titles {
		loc, ok := ParseLocation(key)
		if !ok || loc == LocationWarehouse || strings.TrimSpace(title) == "" {
			continue
		}
		out.Titles[string(loc)] = strings.TrimSpace(title)
	}

	for key, item := range raw.Items {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		item.Barcode = key
		out.Items[key] = item
	}

	for key, card := range raw.Cards {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		card.Barcode = key
		loc, ok := ParseLocation(string(card.Location))
		if !ok {
			loc = LocationWarehouse
		}
		card.Location = loc
		status, ok := ParseStatus(string(card.Status))
		if !ok || loc == LocationWarehouse {
			status = StatusInWarehouse
		}
		card.Status = status
		if status != StatusPuttingAway {
			card.PuttingAwayAt = nil
		} else if card.PuttingAwayAt != nil {
			at := *card.PuttingAwayAt
			card.PuttingAwayAt = &at
		}
		out.Cards[key] = card
	}

	seen := make(map[string]bool, len(out.Cards))
	for _, loc := range Locations {
		out.Order[string(loc)] = []string{}
	}
	for _, key := range sortedKeys(raw.Order) {
		loc, ok := ParseLocation(key)
		if !ok {
			continue
		}
		for _, barcode := range raw.Order[key] {
			card, ok := out.Cards[barcode]
			if !ok || card.Location != loc || seen[barcode] {
				continue
			}
			seen[barcode] = true
			out.Order[string(loc)] = append(out.Order[string(loc)], barcode)
		}
	}
	for _, barcode := range sortedKeys(out.Cards) {
		if seen[barcode] {
			continue
		}
		loc := string(out.Cards[barcode].Location)
		out.Order[loc] = append(out.Order[loc], barcode)
	}

	mode, ok := protocol.ParseInteractiveMode(raw.InteractiveMode)
	if !ok || mode == protocol.InteractiveStopped {
		mode = protocol.InteractivePassive
	}
	out.InteractiveMode = string(mode)

	return out
}

// Snapshot captures the board for persistence.
func (b *Board) Snapshot() Snapshot {
	snap := Snapshot{
		Version:         SnapshotVersion,
		Titles:          make(map[string]string, len(b.titles)),
		Items:           make(map[string]Item, len(b.items)),
		Cards:           make(map[string]Card, len(b.cards)),
		Order:           make(map[string][]string, len(Locations)),
		HostAddress:     b.hostAddress,
		InteractiveMode: string(b.interactive),
	}
	for loc, title := range b.titles {
		snap.Titles[string(loc)] = title
	}
	for barcode, item := range b.items {
		snap.Items[barcode] = item
	}
	for barcode, card := range b.cards {
		snap.Cards[barcode] = *card
	}
	for _, loc := range Locations {
		snap.Order[string(loc)] = append([]string{}, b.order[loc]...)
	}
	return snap
}

// Restore replaces the board contents with a normalized snapshot. Timers
// and the active candidate are cleared; neither is persisted.
func (b *Board) Restore(raw Snapshot) {
	snap := NormalizeSnapshot(raw)

	b.timers.Cancel(loop.Settle)
	b.active = ""
	b.items = snap.Items
	b.cards = make(map[string]*Card, len(snap.Cards))
	for barcode, card := range snap.Cards {
		card := card
		b.cards[barcode] = &card
	}
	b.order = make(map[Location][]string, len(Locations))
	for _, loc := range Locations {
		b.order[loc] = snap.Order[string(loc)]
	}
	b.titles = make(map[Location]string, len(Locations))
	for _, loc := range Locations {
		b.titles[loc] = snap.Titles[string(loc)]
	}
	b.hostAddress = snap.HostAddress
	b.interactive = protocol.InteractiveMode(snap.InteractiveMode)
	b.checkDone()
}

// StripImages returns a copy of snap without image references.
func StripImages(snap Snapshot) Snapshot {
	items := make(map[string]Item, len(snap.Items))
	for k, item := range snap.Items {
		item.ImageRef = ""
		items[k] = item
	}
	cards := make(map[string]Card, len(snap.Cards))
	for k, card := range snap.Cards {
		card.ImageRef = ""
		cards[k] = card
	}
	snap.Items = items
	snap.Cards = cards
	return snap
}
