package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dyluth/beacon/internal/board"
	"github.com/dyluth/beacon/internal/channel"
	"github.com/dyluth/beacon/internal/client"
	"github.com/dyluth/beacon/internal/filter"
	"github.com/dyluth/beacon/internal/printer"
	"github.com/dyluth/beacon/internal/timespec"
	"github.com/dyluth/beacon/pkg/protocol"
	"github.com/spf13/cobra"
)

var (
	boardHost   string
	boardStatus string

	showStatus string
	showColumn string
	showName   string
	showSince  string
	showUntil  string
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Run the tracking-board client",
	Long: `Run the tracking-board client on this terminal.

Commands, one per line:

  item <barcode> <id> <name...>   record an item
  edit <barcode> <id> <name...>   change an item's id and name
  image <barcode> <ref>           set an item's image reference
  delitem <barcode>               delete an item and its card
  card <barcode>                  create a card in the warehouse
  move <barcode> <w|a|b>          place an in-warehouse card
  rm <barcode>                    delete a card
  randomize                       spread the warehouse over both groups
  title <a|b> <title...>          rename a group
  mode passive|any_key_red        host console mode
  toggle                          flip the host console mode
  key <k>                         send a console key to the host
  connect [address]               connect (stored address if omitted)
  disconnect
  show                            print the board
  quit`,
	RunE: runBoard,
}

var boardShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored board and exit",
	Long: `Print the stored board and exit.

Examples:
  # Cards scanned in the last ten minutes
  beacon board show --since 10m

  # Everything in group A whose name starts with "app"
  beacon board show --column a --name 'app*'`,
	RunE: runBoardShow,
}

func init() {
	boardCmd.Flags().StringVar(&boardHost, "host", "", "Host address (overrides the stored address)")
	boardCmd.Flags().StringVar(&boardStatus, "status-listen", "", "Serve /healthz and /state on this address")
	boardShowCmd.Flags().StringVar(&showStatus, "status", "", "Only cards with this status (in_warehouse, putting_away, collected)")
	boardShowCmd.Flags().StringVar(&showColumn, "column", "", "Only cards in this column (w, a, b)")
	boardShowCmd.Flags().StringVar(&showName, "name", "", "Only cards whose name matches this glob")
	boardShowCmd.Flags().StringVar(&showSince, "since", "", "Only cards scanned after this time (duration like 10m, or RFC3339)")
	boardShowCmd.Flags().StringVar(&showUntil, "until", "", "Only cards scanned before this time (duration like 10m, or RFC3339)")
	boardCmd.AddCommand(boardShowCmd)
	rootCmd.AddCommand(boardCmd)
}

func runBoard(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext()
	defer stop()

	st, err := openStore(ctx, "board")
	if err != nil {
		return err
	}
	defer st.Close()

	out := printer.Default()
	c := client.NewBoard(client.BoardOptions{
		Store:       st,
		SettleDelay: appConfig.Board.SettleDelay.Std(),
		HostAddress: appConfig.Host.Address,
		Notifier:    out,
		Heartbeat:   client.DefaultHeartbeat,
		OnAllDone:   func() { out.Success("All done! Every card is collected.\n") },
		OnStatus:    func(cs channel.Status) { out.Step("host %s\n", cs) },
	})

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	listen := boardStatus
	if listen == "" {
		listen = appConfig.Status.Listen
	}
	stopStatus, err := startStatus(c, listen)
	if err != nil {
		stop()
		<-runErr
		return printer.Error("failed to start status endpoint", err.Error(), nil)
	}
	defer stopStatus()

	if err := c.Connect(ctx, boardHost); err != nil {
		switch {
		case errors.Is(err, client.ErrNotRunning):
			if rerr := <-runErr; rerr != nil {
				return printer.Error("failed to start", rerr.Error(), nil)
			}
			return nil
		case !errors.Is(err, client.ErrNoHostAddress):
			out.Warning("not connecting: %v\n", err)
		}
	}

	session := &boardSession{client: c, out: out}
	out.Info("Board ready. Type 'help' for commands.\n")
	session.run(ctx, os.Stdin)

	stop()
	return <-runErr
}

func runBoardShow(cmd *cobra.Command, args []string) error {
	now := time.Now()
	crit, err := showCriteria(now)
	if err != nil {
		return printer.Error("invalid filter", err.Error(), nil)
	}

	ctx := context.Background()
	st, err := openStore(ctx, "board")
	if err != nil {
		return err
	}
	defer st.Close()

	c := client.NewBoard(client.BoardOptions{Store: st, Notifier: printer.Default()})
	runCtx, cancel := context.WithCancel(ctx)
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(runCtx) }()

	snap, err := c.Snapshot(ctx)
	cancel()
	if rerr := <-runErr; rerr != nil {
		return printer.Error("failed to load board", rerr.Error(), nil)
	}
	if err != nil {
		return err
	}

	size := 0
	if data, err := st.Get(ctx, client.SnapshotKey); err == nil {
		size = len(data)
	}
	printBoard(printer.Default(), snap, now, crit)
	printer.Info("stored snapshot: %s\n", humanize.Bytes(uint64(size)))
	return nil
}

// showCriteria builds the card filter from the show flags.
func showCriteria(now time.Time) (*filter.Criteria, error) {
	since, until, err := timespec.ParseRange(showSince, showUntil, now)
	if err != nil {
		return nil, err
	}
	crit := &filter.Criteria{Since: since, Until: until, NameGlob: showName}
	if showStatus != "" {
		st, ok := board.ParseStatus(showStatus)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", showStatus)
		}
		crit.Status = st
	}
	if showColumn != "" {
		loc, ok := board.ParseLocation(showColumn)
		if !ok {
			return nil, fmt.Errorf("unknown column %q", showColumn)
		}
		crit.Location = loc
	}
	return crit, nil
}

// boardSession turns terminal lines into board actions.
type boardSession struct {
	client *client.Board
	out    *printer.Printer
}

func (s *boardSession) run(ctx context.Context, in io.Reader) {
	lines := readLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := s.handle(ctx, line); quit {
				return
			}
		}
	}
}

// handle runs one line and reports whether the session should end.
func (s *boardSession) handle(ctx context.Context, line string) bool {
	verb, args := fields(line)
	if verb == "" {
		return false
	}

	var err error
	switch verb {
	case "quit", "q", "exit":
		return true
	case "item", "edit":
		if len(args) < 3 {
			err = fmt.Errorf("usage: %s <barcode> <id> <name...>", verb)
			break
		}
		item := board.Item{Barcode: args[0], ID: args[1], Name: strings.Join(args[2:], " ")}
		if verb == "item" {
			err = s.client.RecordItem(ctx, item)
		} else {
			err = s.editItem(ctx, item, false)
		}
	case "image":
		if len(args) != 2 {
			err = errors.New("usage: image <barcode> <ref>")
			break
		}
		err = s.editItem(ctx, board.Item{Barcode: args[0], ImageRef: args[1]}, true)
	case "delitem":
		err = s.withBarcode(args, func(code string) error { return s.client.DeleteItem(ctx, code) })
	case "card":
		err = s.withBarcode(args, func(code string) error { return s.client.CreateCard(ctx, code) })
	case "rm":
		err = s.withBarcode(args, func(code string) error { return s.client.DeleteCard(ctx, code) })
	case "move":
		if len(args) != 2 {
			err = errors.New("usage: move <barcode> <w|a|b>")
			break
		}
		loc, ok := board.ParseLocation(args[1])
		if !ok {
			err = fmt.Errorf("unknown column %q (w, a or b)", args[1])
			break
		}
		err = s.client.MoveCard(ctx, args[0], loc)
	case "randomize":
		err = s.client.RandomizeWarehouse(ctx)
	case "title":
		if len(args) < 2 {
			err = errors.New("usage: title <a|b> <title...>")
			break
		}
		loc, ok := board.ParseLocation(args[0])
		if !ok {
			err = fmt.Errorf("unknown column %q", args[0])
			break
		}
		err = s.client.SetTitle(ctx, loc, strings.Join(args[1:], " "))
	case "mode":
		if len(args) != 1 {
			err = errors.New("usage: mode passive|any_key_red")
			break
		}
		err = s.client.SetInteractiveMode(ctx, protocol.InteractiveMode(args[0]))
	case "toggle":
		err = s.client.ToggleInteractive(ctx)
	case "key":
		key := " "
		if len(args) > 0 {
			key = args[0]
		}
		var sent bool
		if sent, err = s.client.ConsoleKey(ctx, key, false); err == nil && !sent {
			s.out.Info("key not sent: needs a connection and mode any_key_red\n")
		}
	case "connect":
		address := ""
		if len(args) > 0 {
			address = args[0]
		}
		err = s.client.Connect(ctx, address)
	case "disconnect":
		s.client.Disconnect()
	case "show":
		var snap board.Snapshot
		if snap, err = s.client.Snapshot(ctx); err == nil {
			printBoard(s.out, snap, time.Now(), nil)
		}
	case "help":
		s.out.Info("commands: item edit image delitem card move rm randomize title mode toggle key connect disconnect show quit\n")
	default:
		err = fmt.Errorf("unknown command %q (try 'help')", verb)
	}

	// rejected board actions were already shown as notices
	if err != nil && !board.Noticed(err) {
		s.out.Warning("%v\n", err)
	}
	return false
}

func (s *boardSession) withBarcode(args []string, fn func(string) error) error {
	if len(args) != 1 {
		return errors.New("expected one barcode")
	}
	return fn(args[0])
}

// editItem updates an existing item. With imageOnly set only the image
// reference changes.
func (s *boardSession) editItem(ctx context.Context, edit board.Item, imageOnly bool) error {
	var (
		current board.Item
		found   bool
	)
	err := s.client.View(ctx, func(b *board.Board) {
		for _, item := range b.Items() {
			if item.Barcode == edit.Barcode {
				current, found = item, true
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", board.ErrUnknownItem, edit.Barcode)
	}
	if imageOnly {
		current.ImageRef = edit.ImageRef
	} else {
		current.ID = edit.ID
		current.Name = edit.Name
	}
	return s.client.UpdateItem(ctx, current)
}

// printBoard renders the columns in display order, keeping only cards that
// match crit when it is set.
func printBoard(out *printer.Printer, snap board.Snapshot, now time.Time, crit *filter.Criteria) {
	for _, loc := range board.Locations {
		var cards []board.Card
		for _, code := range snap.Order[string(loc)] {
			card := snap.Cards[code]
			if crit == nil || crit.Matches(card) {
				cards = append(cards, card)
			}
		}
		if crit != nil && crit.HasFilters() && len(cards) == 0 {
			continue
		}
		out.Step("%s (%d)\n", snap.Titles[string(loc)], len(cards))
		for _, card := range cards {
			line := fmt.Sprintf("  %-14s %-20s %s", card.Barcode, card.Name, card.Status)
			if card.PuttingAwayAt != nil {
				line += " since " + humanize.RelTime(*card.PuttingAwayAt, now, "ago", "from now")
			}
			out.Info("%s\n", line)
		}
	}
	out.Info("console mode: %s, host: %s\n", snap.InteractiveMode, orNone(snap.HostAddress))
}
