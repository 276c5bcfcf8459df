package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minfx/internal/market"
)

func sampleBars(n int) market.Bars {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make(market.Bars, n)
	for i := range bars {
		price := 150.0 + float64(i)*0.01
		bars[i] = market.Bar{
			Time: base.Add(time.Duration(i) * 4 * time.Hour),
			Open: price, High: price + 0.05, Low: price - 0.05, Close: price + 0.01,
		}
	}
	return bars
}

func TestStoreRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	bars := sampleBars(10)
	n, err := s.InsertBars(ctx, "USD/JPY", "4h", bars)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	got, err := s.QueryBars(ctx, "USD/JPY", "4h", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, bars[0].Time, got[0].Time)
	assert.Equal(t, bars[9].Close, got[9].Close)
}

func TestStoreUpsertOverwrites(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	bars := sampleBars(3)
	_, err = s.InsertBars(ctx, "USD/JPY", "4h", bars)
	require.NoError(t, err)

	bars[1].Close = 999.0
	_, err = s.InsertBars(ctx, "USD/JPY", "4h", bars[1:2])
	require.NoError(t, err)

	got, err := s.QueryBars(ctx, "USD/JPY", "4h", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 999.0, got[1].Close)
}

func TestStoreQueryLimitKeepsNewest(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	bars := sampleBars(10)
	_, err = s.InsertBars(ctx, "USD/JPY", "4h", bars)
	require.NoError(t, err)

	got, err := s.QueryBars(ctx, "USD/JPY", "4h", time.Time{}, time.Time{}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// 末尾 3 本を昇順で返す。
	assert.Equal(t, bars[7].Time, got[0].Time)
	assert.Equal(t, bars[9].Time, got[2].Time)
}

func TestStoreLatestBarTime(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	ts, err := s.LatestBarTime(ctx, "USD/JPY", "4h")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	bars := sampleBars(5)
	_, err = s.InsertBars(ctx, "USD/JPY", "4h", bars)
	require.NoError(t, err)

	ts, err = s.LatestBarTime(ctx, "USD/JPY", "4h")
	require.NoError(t, err)
	assert.Equal(t, bars[4].Time, ts)
}
