package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/beacon/internal/channel"
	"github.com/dyluth/beacon/internal/client"
	"github.com/dyluth/beacon/internal/printer"
	"github.com/dyluth/beacon/internal/scanner"
	"github.com/dyluth/beacon/internal/signal"
	"github.com/dyluth/beacon/pkg/protocol"
	"github.com/spf13/cobra"
)

var (
	scannerHost      string
	scannerStatus    string
	scannerSymbology string
)

var scannerCmd = &cobra.Command{
	Use:   "scanner",
	Short: "Run the scanning client",
	Long: `Run the scanning client on this terminal.

Each input line is treated as a decoded barcode, the way a keyboard-wedge
scanner types one code per scan. Lines starting with ':' are commands:

  :tap                 reset from GREEN/BLUE or a pending decision
  :red                 force RED (manual reset)
  :key                 simulate a hardware key (any-key reset)
  :status              show the signal and connection
  :connect [address]   connect to the host (stored address if omitted)
  :disconnect          drop the host connection
  :mode local|host     choose who decides the color
  :delay <duration>    set the decision delay bound, e.g. 1.5s
  :autoreset off|<duration>
  :blue off|<0..1>     chance of BLUE in local mode
  :anykey on|off
  :quit

Examples:
  # Connect to a host on the LAN and start scanning
  beacon scanner --host 192.168.1.20

  # Pipe codes from a file
  cat codes.txt | beacon scanner`,
	RunE: runScanner,
}

func init() {
	scannerCmd.Flags().StringVar(&scannerHost, "host", "", "Host address (overrides the stored address)")
	scannerCmd.Flags().StringVar(&scannerStatus, "status-listen", "", "Serve /healthz and /state on this address")
	scannerCmd.Flags().StringVar(&scannerSymbology, "symbology", "keyboard", "Symbology reported for typed codes")
	rootCmd.AddCommand(scannerCmd)
}

func runScanner(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext()
	defer stop()

	st, err := openStore(ctx, "scanner")
	if err != nil {
		return err
	}
	defer st.Close()

	out := printer.Default()
	s := client.NewScanner(client.ScannerOptions{
		Store:       st,
		Defaults:    appConfig.SignalSettings(),
		HostAddress: appConfig.Host.Address,
		Heartbeat:   client.DefaultHeartbeat,
		OnSignal:    func(sig protocol.Signal) { out.Signal(sig, "") },
		OnStatus:    func(cs channel.Status) { out.Step("host %s\n", cs) },
	})

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	listen := scannerStatus
	if listen == "" {
		listen = appConfig.Status.Listen
	}
	stopStatus, err := startStatus(s, listen)
	if err != nil {
		stop()
		<-runErr
		return printer.Error("failed to start status endpoint", err.Error(), nil)
	}
	defer stopStatus()

	if err := s.Connect(ctx, scannerHost); err != nil {
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

	session := &scannerSession{
		client:   s,
		pipeline: scanner.NewPipeline(scanner.TextDetector{Symbology: scannerSymbology}, appConfig.ScanRate(), s.Handoff()),
		out:      out,
	}
	out.Info("Scanner ready. Type a code and press Enter, or :quit.\n")
	session.run(ctx, os.Stdin)

	stop()
	return <-runErr
}

// scannerSession turns terminal lines into scanner actions.
type scannerSession struct {
	client   *client.Scanner
	pipeline *scanner.Pipeline
	out      *printer.Printer
}

func (s *scannerSession) run(ctx context.Context, in io.Reader) {
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
func (s *scannerSession) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, ":") {
		if !s.pipeline.ProcessFrame(scanner.Frame{Data: []byte(line)}) {
			s.out.Warning("scan of %q dropped\n", line)
		}
		return false
	}

	verb, args := fields(line[1:])
	var err error
	switch verb {
	case "quit", "q", "exit":
		return true
	case "tap":
		var reset bool
		if reset, err = s.client.Tap(ctx); err == nil && !reset {
			s.out.Info("nothing to reset\n")
		}
	case "red", "reset":
		err = s.client.Reset(ctx)
	case "key":
		var reset bool
		if reset, err = s.client.AnyKey(ctx, false); err == nil && !reset {
			s.out.Info("any-key reset is off\n")
		}
	case "status":
		err = s.status(ctx)
	case "connect":
		address := ""
		if len(args) > 0 {
			address = args[0]
		}
		err = s.client.Connect(ctx, address)
	case "disconnect":
		s.client.Disconnect()
	case "mode", "delay", "autoreset", "blue", "anykey":
		err = s.configure(ctx, verb, args)
	case "help":
		s.out.Info("commands: :tap :red :key :status :connect :disconnect :mode :delay :autoreset :blue :anykey :quit\n")
	default:
		err = fmt.Errorf("unknown command :%s", verb)
	}
	if err != nil {
		s.out.Warning("%v\n", err)
	}
	return false
}

func (s *scannerSession) status(ctx context.Context) error {
	st, err := s.client.State(ctx)
	if err != nil {
		return err
	}
	detail := fmt.Sprintf("host=%s (%s) mode=%s", orNone(st.HostAddress), st.Connection, st.Settings.DecisionMode)
	if st.LatestCode != "" {
		detail += " last=" + st.LatestCode
	}
	if st.DecisionPending {
		detail += " deciding…"
	}
	s.out.Signal(st.Signal, detail)
	return nil
}

func (s *scannerSession) configure(ctx context.Context, verb string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf(":%s takes one argument", verb)
	}
	arg := strings.ToLower(args[0])

	var edit func(*signal.Settings)
	switch verb {
	case "mode":
		mode, ok := signal.ParseDecisionMode(arg)
		if !ok {
			return fmt.Errorf("unknown decision mode %q (local or host)", arg)
		}
		edit = func(cfg *signal.Settings) { cfg.DecisionMode = mode }
	case "delay":
		d, err := time.ParseDuration(arg)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid delay %q", arg)
		}
		edit = func(cfg *signal.Settings) { cfg.MaxDelay = d }
	case "autoreset":
		if arg == "off" {
			edit = func(cfg *signal.Settings) { cfg.AutoReset = false }
			break
		}
		d, err := time.ParseDuration(arg)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid reset timeout %q", arg)
		}
		edit = func(cfg *signal.Settings) {
			cfg.AutoReset = true
			cfg.ResetTimeout = d
		}
	case "blue":
		if arg == "off" {
			edit = func(cfg *signal.Settings) { cfg.BlueChanceEnabled = false }
			break
		}
		p, err := strconv.ParseFloat(arg, 64)
		if err != nil || p < 0 || p > 1 {
			return fmt.Errorf("invalid probability %q", arg)
		}
		edit = func(cfg *signal.Settings) {
			cfg.BlueChanceEnabled = true
			cfg.BlueChance = p
		}
	case "anykey":
		on, err := parseOnOff(arg)
		if err != nil {
			return err
		}
		edit = func(cfg *signal.Settings) { cfg.AnyKeyReset = on }
	}

	if err := s.client.UpdateSettings(ctx, edit); err != nil {
		return err
	}
	s.out.Success("%s set to %s\n", verb, arg)
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
