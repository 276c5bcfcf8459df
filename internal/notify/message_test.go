package notify

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(t *testing.T) Report {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	return Report{
		BarTime:     time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC),
		NextBarTime: time.Date(2026, 1, 8, 8, 0, 0, 0, time.UTC),
		GeneratedAt: time.Date(2026, 1, 8, 4, 1, 30, 0, time.UTC),
		Timezone:    loc,
		Signals: []SignalLine{
			{
				Symbol: "USD/JPY", Side: "LONG", Pattern: "bullish_engulfing",
				Entry: 150.004, Stop: 149.896, TP1: 150.124, TP2: 150.244,
				SpreadPips: 0.2, Units: 8000, Lots: 0.8, RiskJPY: 464,
			},
		},
		Skips: []SkipLine{
			{Symbol: "EUR/JPY", Side: "SHORT", Reason: "spread_filter", Detail: "スプレッド超過 9.9 > 1.2 pips"},
			{Symbol: "GBP/JPY", Side: "LONG", Reason: "maintenance_window"},
		},
	}
}

func TestRenderFullReport(t *testing.T) {
	text := Render(sampleReport(t), RenderOptions{MaxTextLength: 3500, IncludeSkips: true})

	assert.Contains(t, text, "USD/JPY LONG (bullish_engulfing)")
	assert.Contains(t, text, "150.004")
	assert.Contains(t, text, "0.8 lot")
	assert.Contains(t, text, "リスク: 464円")
	assert.Contains(t, text, "シグナル 1件 / 見送り 2件")
	// JST 表示：00:00 UTC のバーは 09:00。
	assert.Contains(t, text, "01/08 09:00")
	assert.Contains(t, text, "spread_filter")
}

func TestRenderCompressedSkips(t *testing.T) {
	text := Render(sampleReport(t), RenderOptions{
		MaxTextLength: 3500, IncludeSkips: true, CompressSkipLines: true,
	})
	assert.Contains(t, text, "[S] EUR/JPY SHORT")
	assert.Contains(t, text, "[M] GBP/JPY LONG")
	assert.NotContains(t, text, "スプレッド超過")
}

func TestRenderSkipsExcluded(t *testing.T) {
	text := Render(sampleReport(t), RenderOptions{MaxTextLength: 3500})
	assert.NotContains(t, text, "EUR/JPY")
	assert.Contains(t, text, "見送り 2件", "件数だけは常に出す")
}

func TestRenderNoSignals(t *testing.T) {
	r := sampleReport(t)
	r.Signals = nil
	r.Skips = nil
	text := Render(r, RenderOptions{MaxTextLength: 3500})
	assert.Contains(t, text, "シグナルなし")
	assert.Contains(t, text, "シグナル 0件")
}

func TestRenderTruncation(t *testing.T) {
	r := sampleReport(t)
	for i := 0; i < 200; i++ {
		r.Skips = append(r.Skips, SkipLine{Symbol: "USD/JPY", Side: "LONG", Reason: "environment_filter"})
	}
	text := Render(r, RenderOptions{MaxTextLength: 500, IncludeSkips: true, CompressSkipLines: true})
	assert.LessOrEqual(t, len(text), 500)
	assert.True(t, strings.HasSuffix(text, "…(省略)"))
	// 行の途中で切らない。
	for _, line := range strings.Split(text, "\n") {
		assert.NotContains(t, line, "\x00")
	}
}

// 上限が極端に小さく改行手前で切る場合でも多バイト文字を割らない。
func TestRenderTruncationKeepsValidUTF8(t *testing.T) {
	r := sampleReport(t)
	for limit := 15; limit <= 120; limit++ {
		text := Render(r, RenderOptions{MaxTextLength: limit})
		assert.LessOrEqual(t, len(text), limit, "limit=%d", limit)
		assert.True(t, utf8.ValidString(text), "limit=%d text=%q", limit, text)
	}
}
