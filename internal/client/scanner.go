package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/beacon/internal/channel"
	"github.com/dyluth/beacon/internal/logger"
	"github.com/dyluth/beacon/internal/scanner"
	"github.com/dyluth/beacon/internal/signal"
	"github.com/dyluth/beacon/internal/snapshot"
	"github.com/dyluth/beacon/internal/status"
	"github.com/dyluth/beacon/internal/store"
	"github.com/dyluth/beacon/pkg/protocol"
)

// SettingsKey is the store key of the scanner settings.
const SettingsKey = "settings"

// ErrNoHostAddress is returned by Connect when no address is given or stored.
var ErrNoHostAddress = errors.New("no host address configured")

// ScannerOptions configures NewScanner.
type ScannerOptions struct {
	Store       store.Store     // nil keeps settings in memory
	Defaults    signal.Settings // used for anything not stored
	HostAddress string          // used when no address is stored
	Handoff     *scanner.Handoff
	Heartbeat   time.Duration // 0 disables
	Rand        func() float64

	OnSignal func(protocol.Signal)
	OnStatus func(channel.Status)
}

// Scanner is the scanning client. It owns the signal and reports scans to
// the host.
type Scanner struct {
	rt       *runtime
	machine  *signal.Machine
	saver    *snapshot.Saver[signal.StoredSettings]
	handoff  *scanner.Handoff
	defaults signal.Settings

	hostAddress string
}

// ScannerState is a point-in-time view of the scanning client.
type ScannerState struct {
	Signal          protocol.Signal `json:"signal"`
	LatestCode      string          `json:"latest_code,omitempty"`
	DecisionPending bool            `json:"decision_pending"`
	Settings        signal.Settings `json:"-"`
	HostAddress     string          `json:"host_address,omitempty"`
	Connection      channel.Status  `json:"connection"`
}

// NewScanner builds a scanning client. Call Run to start it.
func NewScanner(opts ScannerOptions) *Scanner {
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore(0)
	}
	if opts.Handoff == nil {
		opts.Handoff = scanner.NewHandoff(8)
	}
	if opts.Defaults == (signal.Settings{}) {
		opts.Defaults = signal.DefaultSettings()
	}

	rt := newRuntime("Scanner", protocol.SourcePhone, opts.Heartbeat, opts.OnStatus)
	s := &Scanner{
		rt:          rt,
		saver:       &snapshot.Saver[signal.StoredSettings]{Store: opts.Store, Key: SettingsKey},
		handoff:     opts.Handoff,
		defaults:    opts.Defaults,
		hostAddress: opts.HostAddress,
	}

	machineOpts := []signal.Option{}
	if opts.Rand != nil {
		machineOpts = append(machineOpts, signal.WithRand(opts.Rand))
	}
	if opts.OnSignal != nil {
		machineOpts = append(machineOpts, signal.WithOnChange(opts.OnSignal))
	}
	s.machine = signal.NewMachine(opts.Defaults, rt.timers, rt.channel, machineOpts...)

	rt.wire(s.machine.HandleMessage, nil)
	return s
}

// Handoff is the queue a recognition pipeline feeds.
func (s *Scanner) Handoff() *scanner.Handoff {
	return s.handoff
}

// Run loads the stored settings and runs the client until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	return s.rt.run(ctx, func(ctx context.Context) error {
		if err := s.load(ctx); err != nil {
			return err
		}
		go s.drain(ctx)
		return nil
	})
}

func (s *Scanner) load(ctx context.Context) error {
	raw, found, err := s.saver.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scanner settings: %w", err)
	}

	settings, stored := signal.NormalizeSettings(raw, s.defaults)
	s.machine.SetSettings(settings)
	if stored.HostAddress != "" {
		s.hostAddress = stored.HostAddress
	}
	if found {
		// writes back any migration
		s.persist()
	}
	logger.Infof("[Scanner] settings loaded (mode=%s, stored=%t)", settings.DecisionMode, found)
	return nil
}

// drain feeds recognition events into the machine, one loop turn each.
func (s *Scanner) drain(ctx context.Context) {
	events := s.handoff.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !s.rt.loop.Post(func() { s.machine.HandleScan(ev) }) {
				return
			}
		}
	}
}

// Scan hands one event straight to the machine, bypassing the queue. It
// reports whether the scan started a decision.
func (s *Scanner) Scan(ctx context.Context, ev scanner.ScanEvent) (bool, error) {
	var accepted bool
	err := s.rt.do(ctx, func() error {
		accepted = s.machine.HandleScan(ev)
		return nil
	})
	return accepted, err
}

// Connect dials address, or the stored address when empty, and remembers it.
func (s *Scanner) Connect(ctx context.Context, address string) error {
	var target string
	err := s.rt.do(ctx, func() error {
		if address == "" {
			address = s.hostAddress
		}
		if address == "" {
			return ErrNoHostAddress
		}
		if _, err := channel.URLFor(address); err != nil {
			return err
		}
		if address != s.hostAddress {
			s.hostAddress = address
			s.persist()
		}
		target = address
		return nil
	})
	if err != nil {
		return err
	}
	return s.rt.connect(ctx, target)
}

// Disconnect drops the host connection.
func (s *Scanner) Disconnect() {
	s.rt.channel.Disconnect()
}

// Status returns the host connection state.
func (s *Scanner) Status() channel.Status {
	return s.rt.status()
}

// Tap resets from GREEN/BLUE or a pending decision.
func (s *Scanner) Tap(ctx context.Context) (bool, error) {
	var reset bool
	err := s.rt.do(ctx, func() error {
		reset = s.machine.Tap()
		return nil
	})
	return reset, err
}

// Reset forces RED as a manual reset.
func (s *Scanner) Reset(ctx context.Context) error {
	return s.rt.do(ctx, func() error {
		s.machine.ManualReset()
		return nil
	})
}

// AnyKey handles a hardware key press.
func (s *Scanner) AnyKey(ctx context.Context, settingsActive bool) (bool, error) {
	var reset bool
	err := s.rt.do(ctx, func() error {
		reset = s.machine.AnyKey(settingsActive)
		return nil
	})
	return reset, err
}

// UpdateSettings edits the settings in place and persists them.
func (s *Scanner) UpdateSettings(ctx context.Context, edit func(*signal.Settings)) error {
	return s.rt.do(ctx, func() error {
		settings := s.machine.Settings()
		edit(&settings)
		s.machine.SetSettings(settings)
		s.persist()
		return nil
	})
}

// State returns a view of the client.
func (s *Scanner) State(ctx context.Context) (ScannerState, error) {
	var st ScannerState
	err := s.rt.do(ctx, func() error {
		st = ScannerState{
			Signal:          s.machine.State(),
			LatestCode:      s.machine.LatestCode(),
			DecisionPending: s.machine.DecisionPending(),
			Settings:        s.machine.Settings(),
			HostAddress:     s.hostAddress,
		}
		return nil
	})
	st.Connection = s.rt.status()
	return st, err
}

// Report implements status.Reporter.
func (s *Scanner) Report(ctx context.Context) (status.Report, error) {
	st, err := s.State(ctx)
	if err != nil {
		return status.Report{}, err
	}
	return status.Report{
		Client:     "scanner",
		Connection: string(st.Connection),
		Details: map[string]interface{}{
			"signal":           st.Signal,
			"latest_code":      st.LatestCode,
			"decision_pending": st.DecisionPending,
			"decision_mode":    st.Settings.DecisionMode,
			"host_address":     st.HostAddress,
		},
	}, nil
}

func (s *Scanner) persist() {
	ctx, cancel := persistContext()
	defer cancel()
	s.saver.Save(ctx, signal.Store(s.machine.Settings(), s.hostAddress))
}
