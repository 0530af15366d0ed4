package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	got, err := Parse("90s", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-90*time.Second), got)

	got, err = Parse("2026-03-01T11:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), got.UTC())

	_, err = Parse("yesterday", now)
	assert.ErrorContains(t, err, "invalid time specification: yesterday")

	_, err = Parse("", now)
	assert.Error(t, err)
}

func TestParseRange(t *testing.T) {
	from, to, err := ParseRange("1h", "10m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), from)
	assert.Equal(t, now.Add(-10*time.Minute), to)

	from, to, err = ParseRange("", "", now)
	require.NoError(t, err)
	assert.True(t, from.IsZero())
	assert.True(t, to.IsZero())

	_, _, err = ParseRange("10m", "1h", now)
	assert.EqualError(t, err, "--since must be before --until")

	_, _, err = ParseRange("bad", "", now)
	assert.ErrorContains(t, err, "invalid --since")

	_, _, err = ParseRange("", "bad", now)
	assert.ErrorContains(t, err, "invalid --until")
}
