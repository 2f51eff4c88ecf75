package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return ny
}

func TestParseDateInLocation(t *testing.T) {
	ny := newYork(t)
	got, err := ParseDate("2024-03-15", ny)
	require.NoError(t, err)
	assert.Equal(t, ny, got.Location())
	assert.Equal(t, 15, got.Day())
	assert.Zero(t, got.Hour())

	_, err = ParseDate("15/03/2024", ny)
	assert.Error(t, err)

	utc, err := ParseDate("2024-03-15", nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, utc.Location())
}

func TestDayKeyFollowsExchangeCalendar(t *testing.T) {
	ny := newYork(t)
	// 02:30 UTC on the 16th is still the evening of the 15th in New York
	at := time.Date(2024, 3, 16, 2, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-15", DayKey(at, ny))
	assert.Equal(t, "2024-03-16", DayKey(at, time.UTC))
	assert.Equal(t, 22*time.Hour+30*time.Minute, SinceMidnight(at, ny))
}

func TestNormalizeSymbols(t *testing.T) {
	got := NormalizeSymbols([]string{" aapl", "MSFT", "AAPL", ""})
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)
}
