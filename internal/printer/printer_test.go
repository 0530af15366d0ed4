package printer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dyluth/beacon/pkg/protocol"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plain(t *testing.T) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var out, errOut bytes.Buffer
	return New(&out, &errOut), &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		p, _, errOut := plain(t)
		err := p.Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "This is a test error")
	})

	t.Run("single suggestion is printed bare", func(t *testing.T) {
		p, _, errOut := plain(t)
		err := p.Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "\nTry this fix\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		p, _, errOut := plain(t)
		err := p.Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	p, out, errOut := plain(t)
	err := p.ErrorWithContext("Connect failed", "", map[string]string{
		"Host":    "10.0.0.2:8765",
		"Address": "ws://10.0.0.2:8765/",
	}, nil)
	require.Equal(t, "Connect failed", err.Error())
	assert.Empty(t, out.String())

	s := errOut.String()
	assert.Less(t, strings.Index(s, "Address:"), strings.Index(s, "Host:"), "context printed in key order")
}

func TestPrefixes(t *testing.T) {
	p, out, _ := plain(t)
	p.Success("saved\n")
	p.Success("✓ already marked\n")
	p.Warning("careful\n")
	p.Step("connecting\n")
	p.Notice("Card not found.")

	assert.Equal(t, "✓ saved\n✓ already marked\n⚠️  careful\n→ connecting\n⚠️  Card not found.\n", out.String())
}

func TestSignal(t *testing.T) {
	p, out, _ := plain(t)
	p.Signal(protocol.SignalGreen, "scan 0001")
	p.Signal(protocol.SignalRed, "")

	assert.Equal(t, " GREEN  scan 0001\n RED   \n", out.String())
}
