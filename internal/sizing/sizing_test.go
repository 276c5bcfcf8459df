package sizing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minfx/internal/config"
)

var testTradeUnit = config.TradeUnit{
	LotSizeUnits: 10000,
	MinLot:       0.1,
	LotStep:      0.1,
}

func TestSizeExactScenario(t *testing.T) {
	// 権益 10 万円、リスク 0.5% = 予算 500 円。
	// 距離 |163.249 - 163.191| = 0.058。
	// 理論数量 500/0.058 ≈ 8620.69 → 1000 単位へ切り捨て → 8000。
	// 実リスク 8000 × 0.058 = 464 円 ≤ 500。
	res, err := Size(100000, 163.249, 163.191, 0.005, testTradeUnit, "USD/JPY")
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, int64(8000), res.Units)
	assert.InDelta(t, 464.0, res.RiskJPY, 1e-9)
}

func TestSizeBelowMinLot(t *testing.T) {
	// 距離が大きすぎて最小ロット 1000 単位でも予算を超える場合は無効。
	res, err := Size(100000, 165.000, 164.000, 0.005, testTradeUnit, "USD/JPY")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Zero(t, res.Units)
}

func TestSizeZeroDistance(t *testing.T) {
	res, err := Size(100000, 163.000, 163.000, 0.005, testTradeUnit, "USD/JPY")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestSizeInvalidInputs(t *testing.T) {
	res, err := Size(0, 163.249, 163.191, 0.005, testTradeUnit, "USD/JPY")
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = Size(100000, 163.249, 163.191, 0, testTradeUnit, "USD/JPY")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestSizeShortDirection(t *testing.T) {
	// stop > entry（ショート）でも距離は絶対値で扱う。
	long, err := Size(100000, 163.249, 163.191, 0.005, testTradeUnit, "USD/JPY")
	require.NoError(t, err)
	short, err := Size(100000, 163.191, 163.249, 0.005, testTradeUnit, "USD/JPY")
	require.NoError(t, err)
	assert.Equal(t, long, short)
}

func TestSizeSymbolOverride(t *testing.T) {
	tu := testTradeUnit
	tu.Overrides = map[string]int64{"GBP/JPY": 1000}
	res, err := Size(100000, 163.249, 163.191, 0.005, tu, "GBP/JPY")
	require.NoError(t, err)
	require.True(t, res.Valid)
	// step = 0.1 × 1000 = 100 単位 → 8620.69 → 8600。
	assert.Equal(t, int64(8600), res.Units)
}

// リスク上限の硬い保証：どんな入力でも valid な結果は
// 実リスク ≤ 権益 × リスク率 を厳密に満たす。
func TestSizeNeverExceedsBudget(t *testing.T) {
	equities := []float64{30000, 100000, 123456.78, 1000000}
	entries := []float64{100.123, 150.001, 163.249, 199.999}
	dists := []float64{0.01, 0.033, 0.058, 0.1, 0.777, 1.5}
	fractions := []float64{0.001, 0.005, 0.01, 0.02}

	for _, equity := range equities {
		for _, entry := range entries {
			for _, dist := range dists {
				for _, frac := range fractions {
					res, err := Size(equity, entry, entry-dist, frac, testTradeUnit, "USD/JPY")
					require.NoError(t, err)
					if !res.Valid {
						continue
					}
					budget := equity * frac
					assert.LessOrEqual(t, res.RiskJPY, budget,
						"equity=%v dist=%v frac=%v units=%d", equity, dist, frac, res.Units)
					assert.Zero(t, math.Mod(float64(res.Units), 1000),
						"units は lot step の整数倍")
					assert.GreaterOrEqual(t, res.Units, int64(1000))
				}
			}
		}
	}
}

func TestUnitsToLots(t *testing.T) {
	assert.Equal(t, 0.8, UnitsToLots(8000, testTradeUnit, "USD/JPY"))
	tu := testTradeUnit
	tu.Overrides = map[string]int64{"GBP/JPY": 1000}
	assert.Equal(t, 8.0, UnitsToLots(8000, tu, "GBP/JPY"))
}
