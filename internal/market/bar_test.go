package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(h int) time.Time {
	return time.Date(2026, 1, 8, h, 0, 0, 0, time.UTC)
}

func TestBarsClosedBefore(t *testing.T) {
	bars := Bars{
		{Time: utc(0)},
		{Time: utc(4)},
		{Time: utc(8)},
	}
	// 08:00 の足は 12:00 まで未確定。
	closed := bars.ClosedBefore(utc(11), 4*time.Hour)
	require.Len(t, closed, 2)
	assert.Equal(t, utc(4), closed[1].Time)

	// ちょうど 12:00 で確定扱い。
	closed = bars.ClosedBefore(utc(12), 4*time.Hour)
	assert.Len(t, closed, 3)
}

func TestBarsBetween(t *testing.T) {
	bars := Bars{{Time: utc(0)}, {Time: utc(4)}, {Time: utc(8)}}

	assert.Len(t, bars.Between(utc(4), utc(8)), 2)
	assert.Len(t, bars.Between(time.Time{}, utc(4)), 2)
	assert.Len(t, bars.Between(utc(9), time.Time{}), 0)
	assert.Len(t, bars.Between(time.Time{}, time.Time{}), 3)
}

func TestBarsSortAscending(t *testing.T) {
	bars := Bars{{Time: utc(8)}, {Time: utc(0)}, {Time: utc(4)}}
	bars.SortAscending()
	assert.Equal(t, utc(0), bars[0].Time)
	assert.Equal(t, utc(8), bars[2].Time)
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("4H")
	require.NoError(t, err)
	assert.Equal(t, 4*time.Hour, tf.Duration)
	assert.Equal(t, "4h", tf.SourceInterval)

	tf, err = ParseTimeframe("1d")
	require.NoError(t, err)
	assert.Equal(t, "1day", tf.SourceInterval)

	_, err = ParseTimeframe("15m")
	assert.Error(t, err)
}
