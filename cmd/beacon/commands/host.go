package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dyluth/beacon/internal/host"
	"github.com/dyluth/beacon/internal/printer"
	"github.com/dyluth/beacon/pkg/protocol"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	hostListen    string
	hostAnyKeyRed bool
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run a reference signal host",
	Long: `Run a reference host that scanner and board clients connect to.

The host relays state and scan messages between clients, keeps the board's
assignment map and drives the scanner when an assigned code is scanned.

Keys (the terminal is switched to raw mode when interactive):

  g / r / b   send GREEN / RED / BLUE
  i           toggle the console between passive and any_key_red
  q, Ctrl-C   quit

With --any-key-red, any other key sends RED while the console mode is
any_key_red.`,
	RunE: runHost,
}

func init() {
	hostCmd.Flags().StringVar(&hostListen, "listen", "", "Listen address (default from host.listen)")
	hostCmd.Flags().BoolVar(&hostAnyKeyRed, "any-key-red", false, "Treat other keys as RED in any_key_red mode")
	rootCmd.AddCommand(hostCmd)
}

func runHost(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext()
	defer stop()

	listen := hostListen
	if listen == "" {
		listen = appConfig.Host.Listen
	}

	gin.SetMode(gin.ReleaseMode)
	hub := host.NewHub()
	defer hub.Close()

	out := printer.Default()
	in := io.Reader(os.Stdin)
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return printer.Error("failed to set terminal raw mode", err.Error(), nil)
		}
		defer term.Restore(fd, state)
		// raw mode needs explicit carriage returns
		out = printer.New(crlfWriter{os.Stdout}, crlfWriter{os.Stderr})
	}

	hub.OnState(func(u protocol.StateUpdate) {
		out.Signal(u.State, "from "+string(u.Source))
	})
	hub.OnBarcode(func(r protocol.BarcodeResult) {
		out.Step("scanned %s\n", r.Code)
	})

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return printer.ErrorWithContext(
			"failed to start host",
			err.Error(),
			map[string]string{"Listen": listen},
			[]string{"Pick a free port with --listen, e.g. --listen :8766"},
		)
	}
	srv := &http.Server{Handler: hub.Router(), ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	_, port, _ := net.SplitHostPort(ln.Addr().String())
	out.Success("Host listening on %s\n", ln.Addr())
	for _, addr := range host.LocalAddresses() {
		out.Info("  ws://%s:%s\n", addr, port)
	}

	consoleErr := make(chan error, 1)
	go func() { consoleErr <- hostConsole(ctx, in, hub, out, hostAnyKeyRed) }()

	select {
	case <-ctx.Done():
	case err = <-consoleErr:
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	return err
}

// consoleHub is the part of the hub the key console drives.
type consoleHub interface {
	SendState(protocol.Signal)
	InteractiveMode() protocol.InteractiveMode
	SetInteractiveMode(protocol.InteractiveMode)
}

// hostConsole reads single key presses from in until q, Ctrl-C, EOF or ctx
// ends.
func hostConsole(ctx context.Context, in io.Reader, hub consoleHub, out *printer.Printer, anyKeyRed bool) error {
	keys := make(chan byte)
	readErr := make(chan error, 1)
	go func() {
		r := bufio.NewReader(in)
		for {
			b, err := r.ReadByte()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case keys <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("console read failed: %w", err)
		case key := <-keys:
			switch key {
			case 'q', 'Q', 0x03:
				return nil
			case 'g', 'G':
				hub.SendState(protocol.SignalGreen)
			case 'r', 'R':
				hub.SendState(protocol.SignalRed)
			case 'b', 'B':
				hub.SendState(protocol.SignalBlue)
			case 'i', 'I':
				mode := protocol.InteractiveAnyKeyRed
				if hub.InteractiveMode() == protocol.InteractiveAnyKeyRed {
					mode = protocol.InteractivePassive
				}
				hub.SetInteractiveMode(mode)
				out.Step("console mode %s\n", mode)
			case '\r', '\n':
			default:
				if anyKeyRed && hub.InteractiveMode() == protocol.InteractiveAnyKeyRed {
					hub.SendState(protocol.SignalRed)
				}
			}
		}
	}
}

// crlfWriter turns "\n" into "\r\n" for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	buf := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' {
			buf = append(buf, '\r')
		}
		buf = append(buf, b)
	}
	if _, err := c.w.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}
