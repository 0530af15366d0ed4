package client

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/beacon/internal/assign"
	"github.com/dyluth/beacon/internal/board"
	"github.com/dyluth/beacon/internal/channel"
	"github.com/dyluth/beacon/internal/logger"
	"github.com/dyluth/beacon/internal/snapshot"
	"github.com/dyluth/beacon/internal/status"
	"github.com/dyluth/beacon/internal/store"
	"github.com/dyluth/beacon/pkg/protocol"
)

// SnapshotKey is the store key of the board snapshot.
const SnapshotKey = "board"

// BoardOptions configures NewBoard.
type BoardOptions struct {
	Store       store.Store // nil keeps the board in memory
	SettleDelay time.Duration
	HostAddress string // used when no address is stored
	Notifier    board.Notifier
	Heartbeat   time.Duration
	Rand        func() float64
	Clock       func() time.Time

	OnAllDone func()
	OnChange  func()
	OnStatus  func(channel.Status)
}

// Board is the tracking-board client.
type Board struct {
	rt       *runtime
	board    *board.Board
	engine   *assign.Engine
	saver    *snapshot.Saver[board.Snapshot]
	notifier board.Notifier
	onChange func()

	defaultHost string
}

// NewBoard builds a tracking-board client. Call Run to start it.
func NewBoard(opts BoardOptions) *Board {
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore(0)
	}
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{}
	}

	rt := newRuntime("Board", protocol.SourceWebapp, opts.Heartbeat, opts.OnStatus)
	c := &Board{
		rt: rt,
		saver: &snapshot.Saver[board.Snapshot]{
			Store: opts.Store,
			Key:   SnapshotKey,
			Strip: board.StripImages,
		},
		notifier:    opts.Notifier,
		onChange:    opts.OnChange,
		defaultHost: opts.HostAddress,
	}

	c.engine = assign.New(protocol.SourceWebapp, nil, rt.channel)
	boardOpts := []board.Option{
		board.WithNotifier(opts.Notifier),
		board.WithPlacementListener(c.engine.CardChanged),
		board.WithOnChange(c.changed),
	}
	if opts.SettleDelay > 0 {
		boardOpts = append(boardOpts, board.WithSettleDelay(opts.SettleDelay))
	}
	if opts.Rand != nil {
		boardOpts = append(boardOpts, board.WithRand(opts.Rand))
	}
	if opts.Clock != nil {
		boardOpts = append(boardOpts, board.WithClock(opts.Clock))
	}
	if opts.OnAllDone != nil {
		boardOpts = append(boardOpts, board.WithAllDone(opts.OnAllDone))
	}
	c.board = board.New(rt.timers, rt.channel, boardOpts...)
	c.engine.SetPlacements(c.board)

	rt.wire(c.board.HandleMessage, c.resync)
	return c
}

// Run restores the stored board and runs the client until ctx is cancelled.
func (c *Board) Run(ctx context.Context) error {
	return c.rt.run(ctx, c.load)
}

func (c *Board) load(ctx context.Context) error {
	snap, found, err := c.saver.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load board: %w", err)
	}
	if found {
		c.board.Restore(snap)
		logger.Infof("[Board] restored %d cards", len(snap.Cards))
	}
	if c.board.HostAddress() == "" && c.defaultHost != "" {
		c.board.SetHostAddress(c.defaultHost)
	}
	return nil
}

// resync runs on every (re)connect: the full assignment map first, then
// the console mode.
func (c *Board) resync() {
	c.engine.SyncAll()
	c.board.SyncInteractive()
}

func (c *Board) changed() {
	ctx, cancel := persistContext()
	defer cancel()
	switch c.saver.Save(ctx, c.board.Snapshot()) {
	case snapshot.SavedWithoutImages:
		c.notifier.Notice("Storage is full: saved without images.")
	case snapshot.Failed:
		c.notifier.Notice("Could not save the board; changes are kept until exit.")
	}
	if c.onChange != nil {
		c.onChange()
	}
}

// Connect dials address, or the stored address when empty, and remembers it.
func (c *Board) Connect(ctx context.Context, address string) error {
	var target string
	err := c.rt.do(ctx, func() error {
		if address == "" {
			address = c.board.HostAddress()
		}
		if address == "" {
			return ErrNoHostAddress
		}
		if _, err := channel.URLFor(address); err != nil {
			return err
		}
		c.board.SetHostAddress(address)
		target = address
		return nil
	})
	if err != nil {
		return err
	}
	return c.rt.connect(ctx, target)
}

// Disconnect drops the host connection.
func (c *Board) Disconnect() {
	c.rt.channel.Disconnect()
}

// Status returns the host connection state.
func (c *Board) Status() channel.Status {
	return c.rt.status()
}

// RecordItem adds an item to the catalog.
func (c *Board) RecordItem(ctx context.Context, item board.Item) error {
	return c.rt.do(ctx, func() error { return c.board.RecordItem(item) })
}

// UpdateItem edits a catalog item and its card.
func (c *Board) UpdateItem(ctx context.Context, item board.Item) error {
	return c.rt.do(ctx, func() error { return c.board.UpdateItem(item) })
}

// DeleteItem removes an item and its card.
func (c *Board) DeleteItem(ctx context.Context, barcode string) error {
	return c.rt.do(ctx, func() error { return c.board.DeleteItem(barcode) })
}

// CreateCard puts a card for a recorded item in the warehouse.
func (c *Board) CreateCard(ctx context.Context, barcode string) error {
	return c.rt.do(ctx, func() error { return c.board.CreateCard(barcode) })
}

// MoveCard places an in-warehouse card in a column.
func (c *Board) MoveCard(ctx context.Context, barcode string, to board.Location) error {
	return c.rt.do(ctx, func() error { return c.board.MoveCard(barcode, to) })
}

// DeleteCard removes a card.
func (c *Board) DeleteCard(ctx context.Context, barcode string) error {
	return c.rt.do(ctx, func() error { return c.board.DeleteCard(barcode) })
}

// RandomizeWarehouse spreads the warehouse over both groups.
func (c *Board) RandomizeWarehouse(ctx context.Context) error {
	return c.rt.do(ctx, c.board.RandomizeWarehouse)
}

// SetTitle renames a group.
func (c *Board) SetTitle(ctx context.Context, loc board.Location, title string) error {
	return c.rt.do(ctx, func() error { return c.board.SetTitle(loc, title) })
}

// SetInteractiveMode sets the host console mode.
func (c *Board) SetInteractiveMode(ctx context.Context, mode protocol.InteractiveMode) error {
	return c.rt.do(ctx, func() error { return c.board.SetInteractiveMode(mode) })
}

// ToggleInteractive flips the host console mode.
func (c *Board) ToggleInteractive(ctx context.Context) error {
	return c.rt.do(ctx, c.board.ToggleInteractive)
}

// ConsoleKey forwards a key press to the host console.
func (c *Board) ConsoleKey(ctx context.Context, key string, typing bool) (bool, error) {
	var sent bool
	err := c.rt.do(ctx, func() error {
		sent = c.board.ConsoleKey(key, typing)
		return nil
	})
	return sent, err
}

// View runs fn with read access to the board on the control loop. fn must
// not keep the pointer or mutate the board.
func (c *Board) View(ctx context.Context, fn func(*board.Board)) error {
	return c.rt.do(ctx, func() error {
		fn(c.board)
		return nil
	})
}

// Snapshot returns a copy of the board contents.
func (c *Board) Snapshot(ctx context.Context) (board.Snapshot, error) {
	var snap board.Snapshot
	err := c.View(ctx, func(b *board.Board) { snap = b.Snapshot() })
	return snap, err
}

// Report implements status.Reporter.
func (c *Board) Report(ctx context.Context) (status.Report, error) {
	details := map[string]interface{}{}
	err := c.View(ctx, func(b *board.Board) {
		columns := map[string]int{}
		for _, loc := range board.Locations {
			columns[string(loc)] = len(b.Column(loc))
		}
		details["columns"] = columns
		details["active"] = b.Active()
		details["done"] = b.Done()
		details["interactive_mode"] = b.InteractiveMode()
		details["host_address"] = b.HostAddress()
	})
	if err != nil {
		return status.Report{}, err
	}
	return status.Report{
		Client:     "board",
		Connection: string(c.rt.status()),
		Details:    details,
	}, nil
}

// logNotifier writes notices to the log when no UI is attached.
type logNotifier struct{}

func (logNotifier) Notice(msg string) {
	logger.Infof("[Board] %s", msg)
}
