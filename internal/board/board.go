// Package board implements the tracking-board client's card lifecycle.
//
// A Board keeps the recorded item catalog and the cards placed from it. Each
// card moves through in_warehouse → putting_away → collected, driven by local
// placement, scan results relayed by the host and host RED broadcasts. When
// every card is collected and the warehouse is empty the board raises a
// single debounced "all done" signal.
//
// A Board is not safe for concurrent use; all calls, including timer
// callbacks, happen on the owning client's control loop.
package board

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/beacon/internal/logger"
	"github.com/dyluth/beacon/internal/loop"
	"github.com/dyluth/beacon/pkg/protocol"
)

// DefaultSettleDelay is how long the board waits before raising "all done".
const DefaultSettleDelay = 900 * time.Millisecond

var (
	ErrMissingFields    = errors.New("name, id and barcode are required")
	ErrDuplicateBarcode = errors.New("barcode already exists")
	ErrUnknownItem      = errors.New("recorded item not found")
	ErrCardExists       = errors.New("card already exists for this barcode")
	ErrUnknownCard      = errors.New("card not found")
	ErrNotMovable       = errors.New("only in-warehouse cards can be moved")
	ErrUnknownLocation  = errors.New("unknown location")
	ErrWarehouseEmpty   = errors.New("no cards in warehouse")
	ErrTitleLocked      = errors.New("warehouse title cannot be changed")
	ErrInvalidMode      = errors.New("interactive mode must be passive or any_key_red")
	ErrNotConnected     = errors.New("host not reachable")
)

// Link is the board's view of the host connection.
type Link interface {
	Send(msg protocol.Message)
	Connected() bool
}

// Notifier shows transient user-facing notices.
type Notifier interface {
	Notice(msg string)
}

type nopNotifier struct{}

func (nopNotifier) Notice(string) {}

// Board holds the catalog, the cards and their column order.
type Board struct {
	items       map[string]Item
	cards       map[string]*Card
	order       map[Location][]string
	titles      map[Location]string
	active      string
	interactive protocol.InteractiveMode
	hostAddress string

	timers      loop.Scheduler
	settleDelay time.Duration
	link        Link
	notifier    Notifier
	now         func() time.Time
	rand        func() float64

	onPlacement func(barcode string)
	onAllDone   func()
	onChange    func()
}

// Option customises a Board.
type Option func(*Board)

// WithNotifier sets where rejected-action notices go.
func WithNotifier(n Notifier) Option {
	return func(b *Board) { b.notifier = n }
}

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(b *Board) { b.settleDelay = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Board) { b.now = now }
}

// WithRand replaces the uniform [0,1) source used by RandomizeWarehouse.
func WithRand(fn func() float64) Option {
	return func(b *Board) { b.rand = fn }
}

// WithPlacementListener is called with a barcode whenever that card's
// location changes, including creation and deletion.
func WithPlacementListener(fn func(barcode string)) Option {
	return func(b *Board) { b.onPlacement = fn }
}

// WithAllDone is called when the settle timer fires on a finished board.
func WithAllDone(fn func()) Option {
	return func(b *Board) { b.onAllDone = fn }
}

// WithOnChange is called after every mutation that should be persisted.
func WithOnChange(fn func()) Option {
	return func(b *Board) { b.onChange = fn }
}

// New returns an empty board.
func New(timers loop.Scheduler, link Link, opts ...Option) *Board {
	b := &Board{
		items:       make(map[string]Item),
		cards:       make(map[string]*Card),
		order:       make(map[Location][]string),
		titles:      make(map[Location]string),
		interactive: protocol.InteractivePassive,
		timers:      timers,
		settleDelay: DefaultSettleDelay,
		link:        link,
		notifier:    nopNotifier{},
		now:         time.Now,
		rand:        rand.Float64,
	}
	for loc, title := range DefaultTitles {
		b.titles[loc] = title
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RecordItem adds a new catalog item.
func (b *Board) RecordItem(item Item) error {
	item, err := cleanItem(item)
	if err != nil {
		return b.reject(err)
	}
	if _, exists := b.items[item.Barcode]; exists {
		return b.reject(fmt.Errorf("%w: %s", ErrDuplicateBarcode, item.Barcode))
	}
	b.items[item.Barcode] = item
	b.notifier.Notice("Item created.")
	b.changed()
	return nil
}

// UpdateItem replaces an existing catalog item and refreshes the display
// fields of its card, if placed.
func (b *Board) UpdateItem(item Item) error {
	item, err := cleanItem(item)
	if err != nil {
		return b.reject(err)
	}
	if _, exists := b.items[item.Barcode]; !exists {
		return b.reject(fmt.Errorf("%w: %s", ErrUnknownItem, item.Barcode))
	}
	b.items[item.Barcode] = item
	if card, ok := b.cards[item.Barcode]; ok {
		card.Name = item.Name
		card.ItemID = item.ID
		card.ImageRef = item.ImageRef
	}
	b.notifier.Notice("Item updated.")
	b.changed()
	return nil
}

// DeleteItem removes a catalog item and its card.
func (b *Board) DeleteItem(barcode string) error {
	if _, ok := b.items[barcode]; !ok {
		return b.reject(fmt.Errorf("%w: %s", ErrUnknownItem, barcode))
	}
	delete(b.items, barcode)
	if _, ok := b.cards[barcode]; ok {
		b.removeCard(barcode)
	}
	b.notifier.Notice("Deleted recorded item.")
	b.changed()
	b.checkDone()
	return nil
}

// CreateCard places a catalog item on the board, in the warehouse.
func (b *Board) CreateCard(barcode string) error {
	if _, ok := b.cards[barcode]; ok {
		return b.reject(fmt.Errorf("%w: %s", ErrCardExists, barcode))
	}
	item, ok := b.items[barcode]
	if !ok {
		return b.reject(fmt.Errorf("%w: %s", ErrUnknownItem, barcode))
	}

	b.cards[barcode] = &Card{
		Barcode:  item.Barcode,
		Name:     item.Name,
		ItemID:   item.ID,
		ImageRef: item.ImageRef,
		Status:   StatusInWarehouse,
		Location: LocationWarehouse,
	}
	b.order[LocationWarehouse] = append(b.order[LocationWarehouse], barcode)
	b.changed()
	b.placed(barcode)
	b.notifier.Notice("Card created in " + b.titles[LocationWarehouse] + ".")
	return nil
}

// MoveCard moves an in_warehouse card between columns. Moving to the
// column it is already in does nothing.
func (b *Board) MoveCard(barcode string, to Location) error {
	card, ok := b.cards[barcode]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCard, barcode)
	}
	if card.Status != StatusInWarehouse {
		return b.reject(fmt.Errorf("%w: %s is %s", ErrNotMovable, barcode, card.Status))
	}
	if !validLocation(to) {
		return fmt.Errorf("%w: %q", ErrUnknownLocation, to)
	}
	from := card.Location
	if from == to {
		return nil
	}

	b.order[from] = without(b.order[from], barcode)
	b.order[to] = append(b.order[to], barcode)
	card.Location = to

	logger.Event("board", "card_moved", map[string]interface{}{
		"barcode": barcode,
		"from":    string(from),
		"to":      string(to),
	})
	b.changed()
	b.placed(barcode)
	b.checkDone()
	return nil
}

// DeleteCard removes a card at any status. It is forgotten as the active
// candidate and the host is told to unassign it.
func (b *Board) DeleteCard(barcode string) error {
	if _, ok := b.cards[barcode]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCard, barcode)
	}
	b.removeCard(barcode)
	b.notifier.Notice("Card deleted.")
	b.changed()
	b.checkDone()
	return nil
}

// RandomizeWarehouse moves every warehouse card to groupA or groupB with
// equal probability.
func (b *Board) RandomizeWarehouse() error {
	pending := append([]string(nil), b.order[LocationWarehouse]...)
	if len(pending) == 0 {
		return b.reject(ErrWarehouseEmpty)
	}
	for _, barcode := range pending {
		to := LocationGroupB
		if b.rand() < 0.5 {
			to = LocationGroupA
		}
		if err := b.MoveCard(barcode, to); err != nil {
			return err
		}
	}
	b.notifier.Notice("Randomly placed warehouse cards into groups.")
	return nil
}

// SetTitle renames a group column. A blank title keeps the current one.
func (b *Board) SetTitle(loc Location, title string) error {
	if loc == LocationWarehouse {
		return ErrTitleLocked
	}
	if !validLocation(loc) {
		return fmt.Errorf("%w: %q", ErrUnknownLocation, loc)
	}
	title = strings.TrimSpace(title)
	if title == "" || title == b.titles[loc] {
		return nil
	}
	b.titles[loc] = title
	b.changed()
	return nil
}

// HandleMessage applies an inbound host message.
func (b *Board) HandleMessage(msg protocol.Message) {
	switch v := msg.(type) {
	case protocol.BarcodeResult:
		b.Scanned(v.Code)
	case protocol.StateUpdate:
		if v.State == protocol.SignalRed {
			b.Collect()
		}
	case protocol.Hello:
		if v.InteractiveMode != "" {
			b.applyInteractive(v.InteractiveMode)
		}
	case protocol.InteractiveStatus:
		b.applyInteractive(v.Mode)
	}
}

// Scanned promotes a placed in_warehouse card to putting_away and makes it
// the active candidate. Unknown, warehouse and already advanced cards are
// ignored. Returns true if the card advanced.
func (b *Board) Scanned(barcode string) bool {
	barcode = strings.TrimSpace(barcode)
	card, ok := b.cards[barcode]
	if !ok || card.Location == LocationWarehouse || card.Status != StatusInWarehouse {
		return false
	}

	at := b.now()
	card.Status = StatusPuttingAway
	card.PuttingAwayAt = &at
	b.active = barcode

	b.notifier.Notice(fmt.Sprintf("Scanned: %s → putting away…", barcode))
	logger.Event("board", "putting_away", map[string]interface{}{"barcode": barcode})
	b.changed()
	b.checkDone()
	return true
}

// Collect resolves one putting_away card to collected, as on a host RED
// broadcast. Returns the collected barcode, or "" if there was no candidate.
func (b *Board) Collect() string {
	barcode := b.pickPuttingAway()
	if barcode == "" {
		return ""
	}
	card := b.cards[barcode]
	card.Status = StatusCollected
	card.PuttingAwayAt = nil
	if b.active == barcode {
		b.active = ""
	}

	b.notifier.Notice("Collected: " + barcode)
	logger.Event("board", "collected", map[string]interface{}{"barcode": barcode})
	b.changed()
	b.checkDone()
	return barcode
}

// pickPuttingAway prefers the active candidate, then the placed
// putting_away card scanned most recently.
func (b *Board) pickPuttingAway() string {
	if card, ok := b.cards[b.active]; ok && card.Status == StatusPuttingAway {
		return b.active
	}

	var (
		best   string
		bestAt time.Time
	)
	for _, barcode := range sortedKeys(b.cards) {
		card := b.cards[barcode]
		if card.Status != StatusPuttingAway || card.Location == LocationWarehouse {
			continue
		}
		var at time.Time
		if card.PuttingAwayAt != nil {
			at = *card.PuttingAwayAt
		}
		if best == "" || at.After(bestAt) {
			best, bestAt = barcode, at
		}
	}
	return best
}

// Done reports whether the board is finished: at least one card, the
// warehouse empty and every card collected.
func (b *Board) Done() bool {
	if len(b.cards) == 0 || len(b.order[LocationWarehouse]) > 0 {
		return false
	}
	for _, card := range b.cards {
		if card.Status != StatusCollected {
			return false
		}
	}
	return true
}

// checkDone arms the settle timer once for a finished board.
func (b *Board) checkDone() {
	if b.timers.Armed(loop.Settle) || !b.Done() {
		return
	}
	b.timers.Arm(loop.Settle, b.settleDelay, b.settled)
}

func (b *Board) settled() {
	if !b.Done() {
		logger.Debugf("[Board] settle timer fired but board no longer finished")
		return
	}
	logger.Event("board", "all_done", map[string]interface{}{"cards": len(b.cards)})
	if b.onAllDone != nil {
		b.onAllDone()
	}
}

// SetInteractiveMode chooses the host console mode and tells the host.
func (b *Board) SetInteractiveMode(mode protocol.InteractiveMode) error {
	if mode != protocol.InteractivePassive && mode != protocol.InteractiveAnyKeyRed {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	b.interactive = mode
	b.changed()
	b.link.Send(protocol.InteractiveControl{Source: protocol.SourceWebapp, Mode: mode})
	return nil
}

// ToggleInteractive flips between passive and any_key_red. It needs a live
// connection.
func (b *Board) ToggleInteractive() error {
	if !b.link.Connected() {
		return b.reject(ErrNotConnected)
	}
	if b.interactive == protocol.InteractiveAnyKeyRed {
		b.notifier.Notice("Interactive any-key RED disabled.")
		return b.SetInteractiveMode(protocol.InteractivePassive)
	}
	b.notifier.Notice("Interactive any-key RED enabled.")
	return b.SetInteractiveMode(protocol.InteractiveAnyKeyRed)
}

// ConsoleKey forwards a key press to the host while any-key mode is on.
// Keys typed into an input are not forwarded. Returns true if sent.
func (b *Board) ConsoleKey(key string, typing bool) bool {
	if typing || !b.link.Connected() || b.interactive != protocol.InteractiveAnyKeyRed {
		return false
	}
	b.link.Send(protocol.InteractiveKey{Source: protocol.SourceWebapp, Key: key})
	return true
}

// SyncInteractive re-sends the current console mode, as after a reconnect.
func (b *Board) SyncInteractive() {
	if !b.link.Connected() {
		return
	}
	b.link.Send(protocol.InteractiveControl{Source: protocol.SourceWebapp, Mode: b.interactive})
}

// applyInteractive records a host-reported mode. "stopped" only describes
// the host and leaves the stored choice alone.
func (b *Board) applyInteractive(mode protocol.InteractiveMode) {
	if mode != protocol.InteractivePassive && mode != protocol.InteractiveAnyKeyRed {
		return
	}
	if mode == b.interactive {
		return
	}
	b.interactive = mode
	b.changed()
}

// InteractiveMode returns the stored console mode.
func (b *Board) InteractiveMode() protocol.InteractiveMode {
	return b.interactive
}

// HostAddress returns the last used host address.
func (b *Board) HostAddress() string {
	return b.hostAddress
}

// SetHostAddress records the host address for the next session.
func (b *Board) SetHostAddress(addr string) {
	addr = strings.TrimSpace(addr)
	if addr == b.hostAddress {
		return
	}
	b.hostAddress = addr
	b.changed()
}

// Location returns where a card sits.
func (b *Board) Location(barcode string) (Location, bool) {
	card, ok := b.cards[barcode]
	if !ok {
		return "", false
	}
	return card.Location, true
}

// Placements returns the location of every card.
func (b *Board) Placements() map[string]Location {
	out := make(map[string]Location, len(b.cards))
	for barcode, card := range b.cards {
		out[barcode] = card.Location
	}
	return out
}

// Card returns a copy of one card.
func (b *Board) Card(barcode string) (Card, bool) {
	card, ok := b.cards[barcode]
	if !ok {
		return Card{}, false
	}
	return *card, true
}

// Column returns copies of the cards in one column, in display order.
func (b *Board) Column(loc Location) []Card {
	out := make([]Card, 0, len(b.order[loc]))
	for _, barcode := range b.order[loc] {
		if card, ok := b.cards[barcode]; ok {
			out = append(out, *card)
		}
	}
	return out
}

// Items returns the catalog sorted by barcode.
func (b *Board) Items() []Item {
	out := make([]Item, 0, len(b.items))
	for _, barcode := range sortedKeys(b.items) {
		out = append(out, b.items[barcode])
	}
	return out
}

// Title returns a column heading.
func (b *Board) Title(loc Location) string {
	return b.titles[loc]
}

// Active returns the active putting-away candidate, if any.
func (b *Board) Active() string {
	return b.active
}

func (b *Board) removeCard(barcode string) {
	delete(b.cards, barcode)
	for _, loc := range Locations {
		b.order[loc] = without(b.order[loc], barcode)
	}
	if b.active == barcode {
		b.active = ""
	}
	b.timers.Cancel(loop.Settle)
	b.placed(barcode)
}

func (b *Board) reject(err error) error {
	b.notifier.Notice(notice(err))
	return &rejection{err: err}
}

// rejection marks an error the notifier has already shown.
type rejection struct {
	err error
}

func (r *rejection) Error() string { return r.err.Error() }
func (r *rejection) Unwrap() error { return r.err }

// Noticed reports whether err was already shown through the Notifier.
func Noticed(err error) bool {
	var r *rejection
	return errors.As(err, &r)
}

func (b *Board) changed() {
	if b.onChange != nil {
		b.onChange()
	}
}

func (b *Board) placed(barcode string) {
	if b.onPlacement != nil {
		b.onPlacement(barcode)
	}
}

func cleanItem(item Item) (Item, error) {
	item.Barcode = strings.TrimSpace(item.Barcode)
	item.Name = strings.TrimSpace(item.Name)
	item.ID = strings.TrimSpace(item.ID)
	if item.Barcode == "" || item.Name == "" || item.ID == "" {
		return Item{}, ErrMissingFields
	}
	return item, nil
}

// notice renders the sentinel behind err, without the barcode detail.
func notice(err error) string {
	for inner := errors.Unwrap(err); inner != nil; inner = errors.Unwrap(inner) {
		err = inner
	}
	msg := err.Error()
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

func validLocation(loc Location) bool {
	for _, l := range Locations {
		if l == loc {
			return true
		}
	}
	return false
}

func without(list []string, barcode string) []string {
	out := list[:0:0]
	for _, b := range list {
		if b != barcode {
			out = append(out, b)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
