package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minfx/internal/config"
)

func testBrokerConfig() *config.BrokerConfig {
	return &config.BrokerConfig{
		Name:     "MinnaFX",
		Timezone: "Asia/Tokyo",
		TradeUnit: config.TradeUnit{
			LotSizeUnits: 10000,
			MinLot:       0.1,
			LotStep:      0.1,
		},
		Spread: config.SpreadConfig{
			AdvertisedPips: map[string]config.SpreadPair{
				"usd/jpy": {Fixed: 0.2, Widened: 3.9},
				"eur/jpy": {Fixed: 0.4, Widened: 9.9},
				"gbp/jpy": {Fixed: 0.9, Widened: 14.9},
			},
			FixedWindow: config.ClockWindow{Start: "08:00", End: "05:00"},
			WidenedWindows: config.WidenedWindows{
				PreOpen: config.PreOpenWindow{
					DefaultStart: "05:00",
					MondayStart:  "07:00",
					End:          "08:00",
				},
				PostClose: config.ClockWindow{Start: "05:00", End: "06:00"},
			},
		},
		Maintenance: config.MaintenanceConfig{
			Daily: config.DailyMaintenance{
				StandardTime: config.DailyWindows{
					Monday: []config.ClockWindow{{Start: "06:55", End: "07:05"}},
					TueSun: []config.ClockWindow{{Start: "06:55", End: "07:05"}},
				},
				DaylightTime: config.DailyWindows{
					Monday: []config.ClockWindow{{Start: "05:55", End: "06:05"}},
					TueSun: []config.ClockWindow{{Start: "05:55", End: "06:05"}},
				},
			},
			Weekly: []config.WeeklyWindow{
				{Dow: "sat", Start: "12:00", End: "18:00"},
			},
		},
		Execution: config.ExecutionConfig{
			Slippage:     config.SlippageConfig{Enabled: true, OneWayPips: 0.3},
			SpreadFilter: config.SpreadFilterConfig{Enabled: true, MaxMultiplier: 3.0},
		},
		Swap: config.SwapConfig{
			Mode: config.SwapModeFixedTable,
			FixedTable: map[string]config.SwapSides{
				"usd/jpy": {Long: 21.0, Short: -24.0},
			},
		},
	}
}

// jst 构造一个 JST 本地时刻并换算回 UTC。
func jst(t *testing.T, year int, month time.Month, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, min, 0, 0, loc).UTC()
}

func TestSpreadWindowClassification(t *testing.T) {
	m, err := NewCostModel(testBrokerConfig(), false)
	require.NoError(t, err)

	// 2026-01-08 は木曜。
	cases := []struct {
		name   string
		at     time.Time
		spread float64
		window WindowClass
	}{
		{"固定帯の日中", jst(t, 2026, 1, 8, 15, 0), 0.2, WindowFixed},
		{"拡大帯の開始ちょうど", jst(t, 2026, 1, 8, 5, 0), 3.9, WindowWidened},
		{"拡大帯の途中", jst(t, 2026, 1, 8, 6, 30), 3.9, WindowWidened},
		{"拡大帯の終了境界は固定帯", jst(t, 2026, 1, 8, 8, 0), 0.2, WindowFixed},
		{"深夜も固定帯", jst(t, 2026, 1, 8, 2, 0), 0.2, WindowFixed},
		// 月曜（2026-01-05）は拡大帯の起点が 07:00 にずれる。
		{"月曜 06:30 は固定帯", jst(t, 2026, 1, 5, 6, 30), 0.2, WindowFixed},
		{"月曜 07:30 は拡大帯", jst(t, 2026, 1, 5, 7, 30), 3.9, WindowWidened},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spread, window, err := m.SpreadPips("USD/JPY", tc.at)
			require.NoError(t, err)
			assert.Equal(t, tc.spread, spread)
			assert.Equal(t, tc.window, window)
		})
	}
}

func TestSpreadWindowCrossesMidnightUTC(t *testing.T) {
	m, err := NewCostModel(testBrokerConfig(), false)
	require.NoError(t, err)

	// UTC 水曜 20:00 = JST 木曜 05:00 → 日付が正しく繰り上がって拡大帯。
	at := time.Date(2026, 1, 7, 20, 0, 0, 0, time.UTC)
	spread, window, err := m.SpreadPips("USD/JPY", at)
	require.NoError(t, err)
	assert.Equal(t, WindowWidened, window)
	assert.Equal(t, 3.9, spread)

	// UTC 水曜 23:00 = JST 木曜 08:00 → 固定帯に戻る。
	at = time.Date(2026, 1, 7, 23, 0, 0, 0, time.UTC)
	spread, window, err = m.SpreadPips("USD/JPY", at)
	require.NoError(t, err)
	assert.Equal(t, WindowFixed, window)
	assert.Equal(t, 0.2, spread)
}

func TestSpreadPipsUnknownSymbol(t *testing.T) {
	m, err := NewCostModel(testBrokerConfig(), false)
	require.NoError(t, err)
	_, _, err = m.SpreadPips("AUD/JPY", jst(t, 2026, 1, 8, 15, 0))
	assert.Error(t, err)
}

func TestMaintenanceWindows(t *testing.T) {
	m, err := NewCostModel(testBrokerConfig(), false)
	require.NoError(t, err)

	assert.False(t, m.IsTradable(jst(t, 2026, 1, 8, 6, 55)), "毎日メンテ開始")
	assert.False(t, m.IsTradable(jst(t, 2026, 1, 8, 7, 0)), "毎日メンテ中")
	assert.True(t, m.IsTradable(jst(t, 2026, 1, 8, 7, 5)), "毎日メンテ終了境界は取引可")
	assert.True(t, m.IsTradable(jst(t, 2026, 1, 8, 15, 0)))

	// 2026-01-10 は土曜：週次メンテ 12:00-18:00。
	assert.False(t, m.IsTradable(jst(t, 2026, 1, 10, 13, 0)))
	assert.True(t, m.IsTradable(jst(t, 2026, 1, 10, 11, 59)))
	assert.True(t, m.IsTradable(jst(t, 2026, 1, 10, 18, 0)))
	// 日曜 13:00 は週次メンテ対象外。
	assert.True(t, m.IsTradable(jst(t, 2026, 1, 11, 13, 0)))
}

func TestMaintenanceDaylightSchedule(t *testing.T) {
	m, err := NewCostModel(testBrokerConfig(), true)
	require.NoError(t, err)

	assert.False(t, m.IsTradable(jst(t, 2026, 7, 9, 6, 0)), "夏時間テーブルの毎日メンテ")
	assert.True(t, m.IsTradable(jst(t, 2026, 7, 9, 7, 0)), "冬時間の時刻はメンテ外")
}

func TestShouldSkipEntry(t *testing.T) {
	m, err := NewCostModel(testBrokerConfig(), false)
	require.NoError(t, err)
	fixedAt := jst(t, 2026, 1, 8, 15, 0)
	widenedAt := jst(t, 2026, 1, 8, 6, 30)

	// 閾値 = 固定帯 0.2 × 3.0 = 0.6 pips。
	skip, _, err := m.ShouldSkipEntry("USD/JPY", fixedAt, 0)
	require.NoError(t, err)
	assert.False(t, skip, "固定帯の広告値 0.2 は通る")

	skip, reason, err := m.ShouldSkipEntry("USD/JPY", widenedAt, 0)
	require.NoError(t, err)
	assert.True(t, skip, "拡大帯の広告値 3.9 は閾値超過")
	assert.NotEmpty(t, reason)

	skip, _, err = m.ShouldSkipEntry("USD/JPY", fixedAt, 0.5)
	require.NoError(t, err)
	assert.False(t, skip)

	skip, _, err = m.ShouldSkipEntry("USD/JPY", fixedAt, 0.7)
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestShouldSkipEntryDisabled(t *testing.T) {
	cfg := testBrokerConfig()
	cfg.Execution.SpreadFilter.Enabled = false
	m, err := NewCostModel(cfg, false)
	require.NoError(t, err)

	skip, _, err := m.ShouldSkipEntry("USD/JPY", jst(t, 2026, 1, 8, 6, 30), 99)
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestExecutionAndExitPrices(t *testing.T) {
	m, err := NewCostModel(testBrokerConfig(), false)
	require.NoError(t, err)
	at := jst(t, 2026, 1, 8, 15, 0) // 固定帯 0.2 pips

	// 半スプレッド 0.001 + 片道スリッページ 0.003。
	long, err := m.ExecutionPrice(150.000, SideLong, "USD/JPY", at)
	require.NoError(t, err)
	assert.InDelta(t, 150.004, long, 1e-9)

	short, err := m.ExecutionPrice(150.000, SideShort, "USD/JPY", at)
	require.NoError(t, err)
	assert.InDelta(t, 149.996, short, 1e-9)

	longExit, err := m.ExitPrice(150.000, SideLong, "USD/JPY", at)
	require.NoError(t, err)
	assert.InDelta(t, 149.996, longExit, 1e-9)

	shortExit, err := m.ExitPrice(150.000, SideShort, "USD/JPY", at)
	require.NoError(t, err)
	assert.InDelta(t, 150.004, shortExit, 1e-9)
}

func TestQuote(t *testing.T) {
	m, err := NewCostModel(testBrokerConfig(), false)
	require.NoError(t, err)
	q, err := m.Quote("usd/jpy", jst(t, 2026, 1, 8, 15, 0), 150.000)
	require.NoError(t, err)
	assert.Equal(t, "USD/JPY", q.Symbol)
	assert.Equal(t, 0.2, q.SpreadPips)
	assert.Equal(t, WindowFixed, q.Window)
	assert.True(t, q.Tradable)
	assert.InDelta(t, 149.999, q.Bid, 1e-9)
	assert.InDelta(t, 150.001, q.Ask, 1e-9)
}

func TestFillCosts(t *testing.T) {
	m, err := NewCostModel(testBrokerConfig(), false)
	require.NoError(t, err)
	spreadCost, slipCost, err := m.FillCosts(10000, "USD/JPY", jst(t, 2026, 1, 8, 15, 0))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, spreadCost, 1e-9) // 10000 × 0.2pip × 0.01 / 2
	assert.InDelta(t, 30.0, slipCost, 1e-9)   // 10000 × 0.3pip × 0.01
}

func TestSwapFixedTable(t *testing.T) {
	m, err := NewCostModel(testBrokerConfig(), false)
	require.NoError(t, err)
	assert.Equal(t, config.SwapModeFixedTable, m.SwapMode())

	// 1 lot (10000 units) × 21 円/lot/日 × 3 日。
	assert.InDelta(t, 63.0, m.SwapJPY(10000, SideLong, "USD/JPY", 3), 1e-9)
	assert.InDelta(t, -72.0, m.SwapJPY(10000, SideShort, "USD/JPY", 3), 1e-9)
	assert.Zero(t, m.SwapJPY(10000, SideLong, "USD/JPY", 0))
}

func TestSwapIgnoreMode(t *testing.T) {
	cfg := testBrokerConfig()
	cfg.Swap.Mode = config.SwapModeIgnore
	m, err := NewCostModel(cfg, false)
	require.NoError(t, err)
	assert.Zero(t, m.SwapJPY(10000, SideLong, "USD/JPY", 5))
}
