package signal

import (
	"math/rand"
	"testing"
	"time"

	"github.com/dyluth/beacon/internal/logger"
	"github.com/dyluth/beacon/internal/loop"
	"github.com/dyluth/beacon/internal/scanner"
	"github.com/dyluth/beacon/internal/testutil"
	"github.com/dyluth/beacon/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Silence()
	m.Run()
}

func fixedRand(v float64) Option {
	return WithRand(func() float64 { return v })
}

func newTestMachine(t *testing.T, s Settings, opts ...Option) (*Machine, *testutil.ManualTimers, *testutil.Recorder) {
	t.Helper()
	timers := testutil.NewManualTimers()
	rec := testutil.NewRecorder()
	return NewMachine(s, timers, rec, opts...), timers, rec
}

func scan(code string) scanner.ScanEvent {
	return scanner.ScanEvent{Payload: code, Symbology: "qr", Confidence: 0.9, ObservedAt: time.Now()}
}

func stateUpdates(rec *testutil.Recorder) []protocol.StateUpdate {
	var out []protocol.StateUpdate
	for _, m := range rec.OfKind(protocol.KindStateUpdate) {
		out = append(out, m.(protocol.StateUpdate))
	}
	return out
}

func TestHandleScan_InRed(t *testing.T) {
	m, timers, rec := newTestMachine(t, DefaultSettings(), fixedRand(0.5))

	assert.True(t, m.HandleScan(scan("A1")))

	results := rec.OfKind(protocol.KindBarcodeResult)
	require.Len(t, results, 1)
	assert.Equal(t, protocol.BarcodeResult{
		Source: protocol.SourcePhone, Code: "A1", Symbology: "qr", Confidence: 0.9,
	}, results[0])
	assert.True(t, timers.Armed(loop.Decision))
	assert.Equal(t, 1, timers.Armings[loop.Decision])
	assert.Equal(t, "A1", m.LatestCode())
	assert.Equal(t, protocol.SignalRed, m.State())
}

func TestHandleScan_IgnoredWhileDecisionPending(t *testing.T) {
	m, timers, rec := newTestMachine(t, DefaultSettings(), fixedRand(0.5))

	require.True(t, m.HandleScan(scan("A1")))
	assert.False(t, m.HandleScan(scan("B2")))

	assert.Len(t, rec.OfKind(protocol.KindBarcodeResult), 1)
	assert.Equal(t, 1, timers.Armings[loop.Decision])
	assert.Equal(t, "B2", m.LatestCode(), "ignored scans still update the latest code")
}

func TestHandleScan_IgnoredOutsideRed(t *testing.T) {
	m, timers, rec := newTestMachine(t, DefaultSettings(), fixedRand(0.5))
	m.HandleMessage(protocol.StateUpdate{Source: protocol.SourceHost, State: protocol.SignalGreen})

	assert.False(t, m.HandleScan(scan("A1")))
	assert.Empty(t, rec.Messages())
	assert.False(t, timers.Armed(loop.Decision))
}

func TestHandleScan_EmptyPayload(t *testing.T) {
	m, timers, rec := newTestMachine(t, DefaultSettings())
	assert.False(t, m.HandleScan(scan("")))
	assert.Empty(t, rec.Messages())
	assert.Zero(t, timers.Count())
}

func TestDecisionDelay(t *testing.T) {
	tests := []struct {
		name     string
		mode     DecisionMode
		maxDelay time.Duration
		draw     float64
		want     time.Duration
	}{
		{name: "local uniform", mode: DecisionLocal, maxDelay: 2 * time.Second, draw: 0.25, want: 500 * time.Millisecond},
		{name: "local zero bound", mode: DecisionLocal, maxDelay: 0, draw: 0.9, want: 0},
		{name: "host uses full window", mode: DecisionHost, maxDelay: 2 * time.Second, draw: 0.25, want: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			s.DecisionMode = tt.mode
			s.MaxDelay = tt.maxDelay
			m, timers, _ := newTestMachine(t, s, fixedRand(tt.draw))

			require.True(t, m.HandleScan(scan("A1")))
			d, ok := timers.Delay(loop.Decision)
			require.True(t, ok)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestDecisionOutcome(t *testing.T) {
	tests := []struct {
		name        string
		mode        DecisionMode
		blueEnabled bool
		blueChance  float64
		draw        float64
		want        protocol.Signal
	}{
		{name: "host fallback", mode: DecisionHost, blueEnabled: true, blueChance: 1, draw: 0, want: protocol.SignalGreen},
		{name: "local default green", mode: DecisionLocal, draw: 0, want: protocol.SignalGreen},
		{name: "local blue draw", mode: DecisionLocal, blueEnabled: true, blueChance: 0.3, draw: 0.1, want: protocol.SignalBlue},
		{name: "local green draw", mode: DecisionLocal, blueEnabled: true, blueChance: 0.3, draw: 0.7, want: protocol.SignalGreen},
		{name: "blue chance disabled", mode: DecisionLocal, blueEnabled: false, blueChance: 1, draw: 0, want: protocol.SignalGreen},
		{name: "probability clamped above one", mode: DecisionLocal, blueEnabled: true, blueChance: 7, draw: 0.99, want: protocol.SignalBlue},
		{name: "probability clamped below zero", mode: DecisionLocal, blueEnabled: true, blueChance: -1, draw: 0, want: protocol.SignalGreen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			s.DecisionMode = tt.mode
			s.BlueChanceEnabled = tt.blueEnabled
			s.BlueChance = tt.blueChance
			m, timers, rec := newTestMachine(t, s, fixedRand(tt.draw))

			require.True(t, m.HandleScan(scan("A1")))
			require.True(t, timers.Fire(loop.Decision))

			assert.Equal(t, tt.want, m.State())
			updates := stateUpdates(rec)
			require.Len(t, updates, 1)
			assert.Equal(t, tt.want, updates[0].State)
			assert.False(t, updates[0].Manual)
		})
	}
}

func TestHostModeFallbackScenario(t *testing.T) {
	s := DefaultSettings()
	s.DecisionMode = DecisionHost
	s.MaxDelay = 2 * time.Second
	m, timers, _ := newTestMachine(t, s)

	require.True(t, m.HandleScan(scan("A1")))
	d, _ := timers.Delay(loop.Decision)
	assert.Equal(t, 2*time.Second, d)

	timers.Fire(loop.Decision)
	assert.Equal(t, protocol.SignalGreen, m.State())
}

func TestAutoReset(t *testing.T) {
	t.Run("armed after local decision", func(t *testing.T) {
		s := DefaultSettings()
		s.AutoReset = true
		s.ResetTimeout = 3 * time.Second
		m, timers, rec := newTestMachine(t, s, fixedRand(0))

		m.HandleScan(scan("A1"))
		timers.Fire(loop.Decision)
		d, ok := timers.Delay(loop.Reset)
		require.True(t, ok)
		assert.Equal(t, 3*time.Second, d)

		rec.Reset()
		require.True(t, timers.Fire(loop.Reset))
		assert.Equal(t, protocol.SignalRed, m.State())
		assert.Equal(t, []protocol.StateUpdate{{Source: protocol.SourcePhone, State: protocol.SignalRed}}, stateUpdates(rec))
	})

	t.Run("zero timeout never arms", func(t *testing.T) {
		s := DefaultSettings()
		s.AutoReset = true
		s.ResetTimeout = 0
		m, timers, _ := newTestMachine(t, s, fixedRand(0))

		m.HandleScan(scan("A1"))
		timers.Fire(loop.Decision)
		assert.False(t, timers.Armed(loop.Reset))
		assert.Equal(t, protocol.SignalGreen, m.State())
	})

	t.Run("disabled never arms", func(t *testing.T) {
		s := DefaultSettings()
		s.ResetTimeout = time.Second
		m, timers, _ := newTestMachine(t, s, fixedRand(0))

		m.HandleScan(scan("A1"))
		timers.Fire(loop.Decision)
		assert.False(t, timers.Armed(loop.Reset))
	})

	t.Run("stale reset after manual RED is a no-op", func(t *testing.T) {
		s := DefaultSettings()
		s.AutoReset = true
		s.ResetTimeout = time.Second
		m, timers, rec := newTestMachine(t, s, fixedRand(0))

		m.HandleScan(scan("A1"))
		timers.Fire(loop.Decision)
		inFlight := timers.Callback(loop.Reset)
		require.NotNil(t, inFlight)

		m.HandleMessage(protocol.StateUpdate{Source: protocol.SourceHost, State: protocol.SignalRed})
		rec.Reset()
		inFlight()

		assert.Equal(t, protocol.SignalRed, m.State())
		assert.Empty(t, rec.Messages())
	})
}

func TestManualReset(t *testing.T) {
	setups := map[string]func(m *Machine, timers *testutil.ManualTimers){
		"from idle red": func(m *Machine, _ *testutil.ManualTimers) {},
		"with decision pending": func(m *Machine, _ *testutil.ManualTimers) {
			m.HandleScan(scan("A1"))
		},
		"from green with reset armed": func(m *Machine, timers *testutil.ManualTimers) {
			m.HandleScan(scan("A1"))
			timers.Fire(loop.Decision)
		},
		"from remote blue": func(m *Machine, _ *testutil.ManualTimers) {
			m.HandleMessage(protocol.StateUpdate{State: protocol.SignalBlue})
		},
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			s := DefaultSettings()
			s.AutoReset = true
			m, timers, rec := newTestMachine(t, s, fixedRand(0))
			setup(m, timers)
			rec.Reset()

			m.ManualReset()

			assert.Equal(t, protocol.SignalRed, m.State())
			assert.Zero(t, timers.Count())
			assert.Equal(t, []protocol.StateUpdate{{Source: protocol.SourcePhone, State: protocol.SignalRed, Manual: true}}, stateUpdates(rec))
		})
	}
}

func TestRemoteStateUpdate(t *testing.T) {
	t.Run("green cancels pending decision", func(t *testing.T) {
		m, timers, rec := newTestMachine(t, DefaultSettings(), fixedRand(0.5))
		m.HandleScan(scan("A1"))
		inFlight := timers.Callback(loop.Decision)

		m.HandleMessage(protocol.StateUpdate{Source: protocol.SourceHost, State: protocol.SignalGreen})
		assert.False(t, timers.Armed(loop.Decision))
		assert.Equal(t, protocol.SignalGreen, m.State())

		rec.Reset()
		inFlight()
		assert.Equal(t, protocol.SignalGreen, m.State())
		assert.Empty(t, rec.Messages())
	})

	t.Run("red cancels pending decision even though state is red", func(t *testing.T) {
		m, timers, rec := newTestMachine(t, DefaultSettings(), fixedRand(0.5))
		m.HandleScan(scan("A1"))
		inFlight := timers.Callback(loop.Decision)

		m.HandleMessage(protocol.StateUpdate{Source: protocol.SourceHost, State: protocol.SignalRed})
		rec.Reset()
		inFlight()

		assert.Equal(t, protocol.SignalRed, m.State())
		assert.Empty(t, rec.Messages())
	})

	t.Run("remote green does not arm reset", func(t *testing.T) {
		s := DefaultSettings()
		s.AutoReset = true
		m, timers, rec := newTestMachine(t, s)

		m.HandleMessage(protocol.StateUpdate{Source: protocol.SourceHost, State: protocol.SignalGreen})
		assert.False(t, timers.Armed(loop.Reset))
		assert.Empty(t, rec.Messages(), "remote states are not echoed")
	})

	t.Run("remote blue keeps a locally armed reset", func(t *testing.T) {
		s := DefaultSettings()
		s.AutoReset = true
		m, timers, _ := newTestMachine(t, s, fixedRand(0))
		m.HandleScan(scan("A1"))
		timers.Fire(loop.Decision)

		m.HandleMessage(protocol.StateUpdate{Source: protocol.SourceHost, State: protocol.SignalBlue})
		assert.True(t, timers.Armed(loop.Reset))
		assert.Equal(t, protocol.SignalBlue, m.State())
	})

	t.Run("remote red cancels reset", func(t *testing.T) {
		s := DefaultSettings()
		s.AutoReset = true
		m, timers, _ := newTestMachine(t, s, fixedRand(0))
		m.HandleScan(scan("A1"))
		timers.Fire(loop.Decision)

		m.HandleMessage(protocol.StateUpdate{Source: protocol.SourceHost, State: protocol.SignalRed})
		assert.Zero(t, timers.Count())
	})

	t.Run("hello adopts host state", func(t *testing.T) {
		m, _, _ := newTestMachine(t, DefaultSettings())
		m.HandleMessage(protocol.Hello{Source: protocol.SourceHost, State: protocol.SignalBlue})
		assert.Equal(t, protocol.SignalBlue, m.State())
	})

	t.Run("barcode result updates latest code only", func(t *testing.T) {
		m, timers, _ := newTestMachine(t, DefaultSettings())
		m.HandleMessage(protocol.BarcodeResult{Source: protocol.SourceWebapp, Code: "Z9"})
		assert.Equal(t, "Z9", m.LatestCode())
		assert.Equal(t, protocol.SignalRed, m.State())
		assert.Zero(t, timers.Count())
	})

	t.Run("unknown ignored", func(t *testing.T) {
		m, _, rec := newTestMachine(t, DefaultSettings())
		m.HandleMessage(protocol.Unknown{Type: "mystery"})
		assert.Equal(t, protocol.SignalRed, m.State())
		assert.Empty(t, rec.Messages())
	})
}

func TestAnyKey(t *testing.T) {
	s := DefaultSettings()
	m, _, rec := newTestMachine(t, s, fixedRand(0))
	m.HandleMessage(protocol.StateUpdate{State: protocol.SignalGreen})

	assert.False(t, m.AnyKey(false), "disabled by default")
	assert.Equal(t, protocol.SignalGreen, m.State())

	s.AnyKeyReset = true
	m.SetSettings(s)
	assert.False(t, m.AnyKey(true), "suppressed while settings are open")
	assert.Equal(t, protocol.SignalGreen, m.State())

	assert.True(t, m.AnyKey(false))
	assert.Equal(t, protocol.SignalRed, m.State())
	updates := stateUpdates(rec)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Manual)
}

func TestTap(t *testing.T) {
	t.Run("idle red does nothing", func(t *testing.T) {
		m, _, rec := newTestMachine(t, DefaultSettings())
		assert.False(t, m.Tap())
		assert.Empty(t, rec.Messages())
	})

	t.Run("cancels a pending decision", func(t *testing.T) {
		m, timers, rec := newTestMachine(t, DefaultSettings(), fixedRand(0.5))
		m.HandleScan(scan("A1"))
		rec.Reset()

		assert.True(t, m.Tap())
		assert.Zero(t, timers.Count())
		assert.Equal(t, protocol.SignalRed, m.State())
		assert.Len(t, stateUpdates(rec), 1)
	})

	t.Run("resets green", func(t *testing.T) {
		m, _, _ := newTestMachine(t, DefaultSettings())
		m.HandleMessage(protocol.StateUpdate{State: protocol.SignalGreen})
		assert.True(t, m.Tap())
		assert.Equal(t, protocol.SignalRed, m.State())
	})
}

func TestOnChange(t *testing.T) {
	var seen []protocol.Signal
	m, timers, _ := newTestMachine(t, DefaultSettings(), fixedRand(0),
		WithOnChange(func(s protocol.Signal) { seen = append(seen, s) }))

	m.HandleScan(scan("A1"))
	timers.Fire(loop.Decision)
	m.ManualReset()
	m.ManualReset()

	assert.Equal(t, []protocol.Signal{protocol.SignalGreen, protocol.SignalRed}, seen)
}

// Drives random event sequences and checks the machine never holds a
// decision timer outside RED and that every scan acceptance arms exactly one
// decision.
func TestRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := DefaultSettings()
	s.AutoReset = true
	s.BlueChanceEnabled = true
	s.BlueChance = 0.5
	m, timers, rec := newTestMachine(t, s, WithRand(rng.Float64))

	signals := []protocol.Signal{protocol.SignalRed, protocol.SignalGreen, protocol.SignalBlue}
	for i := 0; i < 2000; i++ {
		before := len(rec.OfKind(protocol.KindBarcodeResult))
		armings := timers.Armings[loop.Decision]

		switch rng.Intn(7) {
		case 0, 1:
			accepted := m.HandleScan(scan("A1"))
			if accepted {
				assert.Equal(t, before+1, len(rec.OfKind(protocol.KindBarcodeResult)))
				assert.Equal(t, armings+1, timers.Armings[loop.Decision])
			}
		case 2:
			timers.Fire(loop.Decision)
		case 3:
			timers.Fire(loop.Reset)
		case 4:
			m.HandleMessage(protocol.StateUpdate{State: signals[rng.Intn(3)]})
		case 5:
			m.Tap()
		case 6:
			m.ManualReset()
			assert.Zero(t, timers.Count())
			assert.Equal(t, protocol.SignalRed, m.State())
		}

		if timers.Armed(loop.Decision) {
			assert.Equal(t, protocol.SignalRed, m.State())
		}
		if timers.Armed(loop.Reset) {
			assert.NotEqual(t, protocol.SignalRed, m.State())
		}
	}
}
