// Package filter selects board cards for display.
package filter

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/beacon/internal/board"
)

// Criteria are ANDed: a card must match all of them. Zero values match
// everything.
type Criteria struct {
	Since    time.Time      // putting away at or after
	Until    time.Time      // putting away at or before
	NameGlob string         // case-insensitive glob on the card name
	Status   board.Status   // exact status
	Location board.Location // exact column
}

// Matches reports whether card passes every criterion. A time bound only
// matches cards that have been scanned.
func (c *Criteria) Matches(card board.Card) bool {
	if !c.Since.IsZero() || !c.Until.IsZero() {
		if card.PuttingAwayAt == nil {
			return false
		}
		at := *card.PuttingAwayAt
		if !c.Since.IsZero() && at.Before(c.Since) {
			return false
		}
		if !c.Until.IsZero() && at.After(c.Until) {
			return false
		}
	}

	if c.NameGlob != "" {
		matched, err := filepath.Match(strings.ToLower(c.NameGlob), strings.ToLower(card.Name))
		if err != nil || !matched {
			return false
		}
	}

	if c.Status != "" && card.Status != c.Status {
		return false
	}
	if c.Location != "" && card.Location != c.Location {
		return false
	}
	return true
}

// HasFilters reports whether any criterion is set.
func (c *Criteria) HasFilters() bool {
	return !c.Since.IsZero() ||
		!c.Until.IsZero() ||
		c.NameGlob != "" ||
		c.Status != "" ||
		c.Location != ""
}
