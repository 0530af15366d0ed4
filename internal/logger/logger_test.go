package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, Configure("info", "json")) })

	t.Run("accepts console debug", func(t *testing.T) {
		require.NoError(t, Configure("debug", "console"))
		assert.NotNil(t, L())
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		err := Configure("chatty", "json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("rejects unknown encoding", func(t *testing.T) {
		err := Configure("info", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log encoding")
	})
}

func TestSilence(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, Configure("info", "json")) })

	Silence()
	// Must not panic on a no-op logger.
	Event("test", "silenced", map[string]interface{}{"k": "v"})
	Infof("hello %s", "world")
}
