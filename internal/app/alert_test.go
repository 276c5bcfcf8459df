package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minfx/internal/broker"
	"minfx/internal/config"
	"minfx/internal/engine"
	"minfx/internal/market"
	"minfx/internal/marketdata"
	"minfx/internal/signal"
	"minfx/internal/state"
)

// stubSource は用意した足をそのまま返す。
type stubSource struct {
	entry market.Bars
	env   market.Bars
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(_ context.Context, req marketdata.FetchRequest) (market.Bars, error) {
	if req.Timeframe.Duration >= 24*time.Hour {
		return append(market.Bars{}, s.env...), nil
	}
	return append(market.Bars{}, s.entry...), nil
}

type countingNotifier struct {
	sends int
	last  string
}

func (n *countingNotifier) SendText(text string) error {
	n.sends++
	n.last = text
	return nil
}

type stubDetector struct {
	fireAt time.Time
	event  signal.Event
}

func (d *stubDetector) Detect(symbol string, entry, env market.Bars) (*signal.Event, *signal.Veto) {
	if len(entry) == 0 || !entry[len(entry)-1].Time.Equal(d.fireAt) {
		return nil, nil
	}
	ev := d.event
	ev.Symbol = symbol
	ev.SignalBarTime = d.fireAt
	return &ev, nil
}

func alertBrokerConfig() *config.BrokerConfig {
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
				"USD/JPY": {Fixed: 0.2, Widened: 3.9},
			},
			FixedWindow: config.ClockWindow{Start: "08:00", End: "05:00"},
			WidenedWindows: config.WidenedWindows{
				PreOpen:   config.PreOpenWindow{DefaultStart: "05:00", MondayStart: "07:00", End: "08:00"},
				PostClose: config.ClockWindow{Start: "05:00", End: "06:00"},
			},
		},
		Maintenance: config.MaintenanceConfig{
			Daily: config.DailyMaintenance{
				StandardTime: config.DailyWindows{
					Monday: []config.ClockWindow{{Start: "06:55", End: "07:05"}},
					TueSun: []config.ClockWindow{{Start: "06:55", End: "07:05"}},
				},
			},
		},
		Execution: config.ExecutionConfig{
			Slippage:     config.SlippageConfig{Enabled: true, OneWayPips: 0.3},
			SpreadFilter: config.SpreadFilterConfig{Enabled: true, MaxMultiplier: 3.0},
		},
		Swap: config.SwapConfig{Mode: config.SwapModeIgnore},
	}
}

func alertTestConfig() *config.Config {
	return &config.Config{
		Broker: *alertBrokerConfig(),
		Strategy: config.StrategyConfig{
			Symbols:        []string{"USD/JPY"},
			EntryTimeframe: "4h",
			EnvTimeframe:   "1d",
			TP1ClosePct:    0.5,
		},
		Risk: config.RiskConfig{
			InitialEquityJPY: 100000,
			RiskPct:          0.005,
		},
		Notify: config.NotifyConfig{
			MaxTextLength: 3500,
			IncludeSkips:  true,
		},
	}
}

func utcBar(day, hour int, o, h, l, c float64) market.Bar {
	return market.Bar{
		Time: time.Date(2026, 1, day, hour, 0, 0, 0, time.UTC),
		Open: o, High: h, Low: l, Close: c,
	}
}

func alertLongEvent() signal.Event {
	return signal.Event{
		Side:     broker.SideLong,
		Pattern:  "bullish_engulfing",
		EntryRef: 150.00,
		Stop:     149.90,
		TP1:      150.12,
		TP2:      150.24,
		ATR:      0.083,
	}
}

func newTestAlertService(t *testing.T, source marketdata.Source, det signal.Detector,
	notifier *countingNotifier) *AlertService {
	t.Helper()
	cfg := alertTestConfig()
	cost, err := broker.NewCostModel(&cfg.Broker, false)
	require.NoError(t, err)
	store, err := state.NewStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	svc, err := NewAlertService(cfg, source, cost, det, notifier, store)
	require.NoError(t, err)
	return svc
}

// 同一バーに対して何度サイクルを回しても、通知は 1 回だけ飛ぶ。
func TestRunCycleSendsOncePerBar(t *testing.T) {
	sigBar := utcBar(8, 0, 149.95, 150.02, 149.90, 150.00)
	source := &stubSource{
		entry: market.Bars{sigBar, utcBar(8, 4, 150.00, 150.05, 149.95, 150.01)},
		env:   market.Bars{utcBar(7, 0, 149.80, 150.10, 149.70, 150.00)},
	}
	det := &stubDetector{fireAt: sigBar.Time, event: alertLongEvent()}
	notifier := &countingNotifier{}
	svc := newTestAlertService(t, source, det, notifier)

	now := time.Date(2026, 1, 8, 4, 1, 30, 0, time.UTC)
	require.NoError(t, svc.RunCycle(context.Background(), now))
	require.NoError(t, svc.RunCycle(context.Background(), now))
	// プロセス再起動相当の再実行でも送信しない。
	require.NoError(t, svc.RunCycle(context.Background(), now.Add(30*time.Second)))

	assert.Equal(t, 1, notifier.sends)
	assert.Contains(t, notifier.last, "USD/JPY")
	assert.Contains(t, notifier.last, "🔔")
}

// 実時間パスの価格・数量計算はエンジンの約定値と一致する。
func TestEvaluateMatchesEngineEntry(t *testing.T) {
	det := &stubDetector{}
	notifier := &countingNotifier{}
	svc := newTestAlertService(t, &stubSource{}, det, notifier)

	ev := alertLongEvent()
	ev.Symbol = "USD/JPY"
	ev.SignalBarTime = time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 8, 4, 1, 30, 0, time.UTC)

	line, skip := svc.evaluate(&ev, now)
	require.Nil(t, skip)
	require.NotNil(t, line)

	// 同じ入力でエンジンを走らせる。建玉は翌足始値 150.00 = EntryRef。
	bars := market.Bars{
		utcBar(8, 0, 149.95, 150.02, 149.90, 150.00),
		utcBar(8, 4, 150.00, 150.05, 149.95, 150.01),
		utcBar(8, 8, 150.01, 150.04, 149.97, 150.02),
	}
	cfg := alertTestConfig()
	cost, err := broker.NewCostModel(&cfg.Broker, false)
	require.NoError(t, err)
	eng, err := engine.New(engine.Config{
		Symbol:        "USD/JPY",
		Cost:          cost,
		Detector:      &stubDetector{fireAt: bars[0].Time, event: alertLongEvent()},
		TradeUnit:     cfg.Broker.TradeUnit,
		InitialEquity: cfg.Risk.InitialEquityJPY,
		RiskPct:       cfg.Risk.RiskPct,
		TP1ClosePct:   cfg.Strategy.TP1ClosePct,
		EntryInterval: 4 * time.Hour,
		EnvInterval:   24 * time.Hour,
	})
	require.NoError(t, err)
	res, err := eng.Run(context.Background(), bars, nil)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]

	assert.InDelta(t, tr.EntryPriceExec, line.Entry, 1e-9)
	assert.InDelta(t, tr.InitialStopExec, line.Stop, 1e-9)
	assert.Equal(t, tr.Units, float64(line.Units))
	assert.InDelta(t, tr.InitialRiskJPY, line.RiskJPY, 1e-9)
	// 0.2 pips 半スプレッド + 0.3 pips 片道スリッページ。
	assert.InDelta(t, 150.004, line.Entry, 1e-9)
	assert.Equal(t, int64(4000), line.Units)
}
