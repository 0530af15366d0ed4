package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/beacon/internal/client"
	"github.com/dyluth/beacon/internal/printer"
	"github.com/dyluth/beacon/internal/scanner"
	"github.com/dyluth/beacon/internal/signal"
	"github.com/dyluth/beacon/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runClient runs fn until the test ends.
func runClient(t *testing.T, run func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newScannerSession(t *testing.T) (*scannerSession, *bytes.Buffer) {
	t.Helper()
	settings := signal.DefaultSettings()
	settings.MaxDelay = 0
	settings.AutoReset = false

	c := client.NewScanner(client.ScannerOptions{
		Defaults: settings,
		Rand:     func() float64 { return 0.5 },
	})
	runClient(t, c.Run)

	buf := new(bytes.Buffer)
	return &scannerSession{
		client:   c,
		pipeline: scanner.NewPipeline(scanner.TextDetector{Symbology: "keyboard"}, 0, c.Handoff()),
		out:      printer.New(buf, buf),
	}, buf
}

func scannerState(t *testing.T, s *scannerSession) client.ScannerState {
	t.Helper()
	st, err := s.client.State(context.Background())
	require.NoError(t, err)
	return st
}

func TestScannerSession_ScansLines(t *testing.T) {
	s, _ := newScannerSession(t)
	ctx := context.Background()

	assert.False(t, s.handle(ctx, "0001"))
	require.Eventually(t, func() bool {
		st := scannerState(t, s)
		return st.LatestCode == "0001" && st.Signal == protocol.SignalGreen
	}, 3*time.Second, 10*time.Millisecond)

	assert.False(t, s.handle(ctx, ":red"))
	assert.Equal(t, protocol.SignalRed, scannerState(t, s).Signal)
}

func TestScannerSession_Configure(t *testing.T) {
	s, buf := newScannerSession(t)
	ctx := context.Background()

	s.handle(ctx, ":mode host")
	s.handle(ctx, ":delay 1.5s")
	s.handle(ctx, ":autoreset 4s")
	s.handle(ctx, ":blue 0.25")
	s.handle(ctx, ":anykey on")

	cfg := scannerState(t, s).Settings
	assert.Equal(t, signal.DecisionHost, cfg.DecisionMode)
	assert.Equal(t, 1500*time.Millisecond, cfg.MaxDelay)
	assert.True(t, cfg.AutoReset)
	assert.Equal(t, 4*time.Second, cfg.ResetTimeout)
	assert.True(t, cfg.BlueChanceEnabled)
	assert.InDelta(t, 0.25, cfg.BlueChance, 1e-9)
	assert.True(t, cfg.AnyKeyReset)
	assert.Contains(t, buf.String(), "✓ mode set to host")

	s.handle(ctx, ":autoreset off")
	s.handle(ctx, ":blue off")
	cfg = scannerState(t, s).Settings
	assert.False(t, cfg.AutoReset)
	assert.False(t, cfg.BlueChanceEnabled)
}

func TestScannerSession_RejectsBadInput(t *testing.T) {
	s, buf := newScannerSession(t)
	ctx := context.Background()

	tests := []struct {
		line string
		want string
	}{
		{":mode sometimes", `unknown decision mode "sometimes"`},
		{":delay soon", `invalid delay "soon"`},
		{":autoreset 0s", `invalid reset timeout "0s"`},
		{":blue 2", `invalid probability "2"`},
		{":anykey maybe", `expected on or off, got "maybe"`},
		{":delay", ":delay takes one argument"},
		{":bogus", "unknown command :bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			buf.Reset()
			assert.False(t, s.handle(ctx, tt.line))
			assert.Contains(t, buf.String(), tt.want)
		})
	}

	assert.Equal(t, signal.DecisionLocal, scannerState(t, s).Settings.DecisionMode)
}

func TestScannerSession_StatusAndQuit(t *testing.T) {
	s, buf := newScannerSession(t)
	ctx := context.Background()

	s.handle(ctx, ":status")
	assert.Contains(t, buf.String(), "RED")
	assert.Contains(t, buf.String(), "host=none (disconnected) mode=local")

	buf.Reset()
	s.handle(ctx, ":tap")
	assert.Contains(t, buf.String(), "nothing to reset")

	assert.True(t, s.handle(ctx, ":quit"))
}

func TestScannerSession_RunStopsAtEOF(t *testing.T) {
	s, _ := newScannerSession(t)

	done := make(chan struct{})
	go func() {
		s.run(context.Background(), strings.NewReader("0042\n:status\n"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop at EOF")
	}
	require.Eventually(t, func() bool {
		return scannerState(t, s).LatestCode == "0042"
	}, 3*time.Second, 10*time.Millisecond)
}
