package board

import (
	"strings"
	"time"
)

// Status is a card's lifecycle stage.
type Status string

const (
	StatusInWarehouse Status = "in_warehouse"
	StatusPuttingAway Status = "putting_away"
	StatusCollected   Status = "collected"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.TrimSpace(s)) {
	case StatusInWarehouse:
		return StatusInWarehouse, true
	case StatusPuttingAway:
		return StatusPuttingAway, true
	case StatusCollected:
		return StatusCollected, true
	}
	return "", false
}

// Location is the board column a card sits in.
type Location string

const (
	LocationWarehouse Location = "warehouse"
	LocationGroupA    Location = "groupA"
	LocationGroupB    Location = "groupB"
)

// Locations lists every column in display order.
var Locations = []Location{LocationWarehouse, LocationGroupA, LocationGroupB}

// ParseLocation accepts the column keys, case-insensitively, plus the older
// "kid1"/"kid2" keys and the short forms "a"/"b".
func ParseLocation(s string) (Location, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warehouse", "w":
		return LocationWarehouse, true
	case "groupa", "kid1", "a":
		return LocationGroupA, true
	case "groupb", "kid2", "b":
		return LocationGroupB, true
	}
	return "", false
}

// DefaultTitles are the column headings of a fresh board.
var DefaultTitles = map[Location]string{
	LocationWarehouse: "Warehouse Storage",
	LocationGroupA:    "Group A",
	LocationGroupB:    "Group B",
}

// Item is a recorded catalog entry. Barcode is its key.
type Item struct {
	Barcode  string `json:"barcode"`
	Name     string `json:"name"`
	ID       string `json:"id"`
	ImageRef string `json:"image_ref,omitempty"`
}

// Card is an item placed on the board.
type Card struct {
	Barcode       string     `json:"barcode"`
	Name          string     `json:"name"`
	ItemID        string     `json:"item_id"`
	ImageRef      string     `json:"image_ref,omitempty"`
	Status        Status     `json:"status"`
	Location      Location   `json:"location"`
	PuttingAwayAt *time.Time `json:"putting_away_at"`
}
