package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"minfx/internal/broker"
	"minfx/internal/config"
	"minfx/internal/logger"
	"minfx/internal/market"
	"minfx/internal/marketdata"
	"minfx/internal/notify"
	"minfx/internal/scheduler"
	"minfx/internal/signal"
	"minfx/internal/sizing"
	"minfx/internal/state"
)

// AlertService 是实时告警循环：每根执行足收盘后跑一轮检测，
// 通过与回测完全相同的成本/仓位函数产出可执行信号并推送。
type AlertService struct {
	cfg      *config.Config
	source   marketdata.Source
	cost     *broker.CostModel
	detector signal.Detector
	notifier notify.TextNotifier
	store    *state.Store

	entryTF market.Timeframe
	envTF   market.Timeframe
}

func NewAlertService(cfg *config.Config, source marketdata.Source, cost *broker.CostModel,
	detector signal.Detector, notifier notify.TextNotifier, store *state.Store) (*AlertService, error) {

	entryTF, err := market.ParseTimeframe(cfg.Strategy.EntryTimeframe)
	if err != nil {
		return nil, err
	}
	envTF, err := market.ParseTimeframe(cfg.Strategy.EnvTimeframe)
	if err != nil {
		return nil, err
	}
	return &AlertService{
		cfg:      cfg,
		source:   source,
		cost:     cost,
		detector: detector,
		notifier: notifier,
		store:    store,
		entryTF:  entryTF,
		envTF:    envTF,
	}, nil
}

// 信号历史保留期，超过即从状态文件里清掉。
const signalRetention = 30 * 24 * time.Hour

// Run 按执行足周期循环：收盘后加一点缓冲，保证数据源已出完整的收盘足。
func (s *AlertService) Run(ctx context.Context) error {
	const settleDelay = 90 * time.Second
	sched := scheduler.NewBarAligned("alert", s.entryTF.Duration, settleDelay)
	sched.RunImmediately = true
	return sched.Start(ctx, func(now time.Time) error {
		return s.RunCycle(ctx, now)
	})
}

// RunCycle 执行一轮检测。幂等：同一根执行足重复调用只会发送一次。
func (s *AlertService) RunCycle(ctx context.Context, now time.Time) error {
	report := notify.Report{
		GeneratedAt: now,
		Timezone:    s.cost.Location(),
	}
	var barTime time.Time
	var newSignalKeys []string

	for _, symbol := range s.cfg.Strategy.Symbols {
		entry, env, err := s.fetchClosed(ctx, symbol, now)
		if err != nil {
			if errors.Is(err, marketdata.ErrUnavailable) {
				logger.Warnf("alert: %s データ取得不可、今回はスキップ: %v", symbol, err)
				continue
			}
			return err
		}
		if len(entry) == 0 {
			continue
		}
		last := entry[len(entry)-1].Time
		if last.After(barTime) {
			barTime = last
		}

		ev, veto := s.detector.Detect(symbol, entry, env)
		if veto != nil {
			report.Skips = append(report.Skips, notify.SkipLine{
				Symbol: symbol, Side: string(veto.Side),
				Reason: "environment_filter", Detail: veto.Reason,
			})
			continue
		}
		if ev == nil {
			continue
		}
		if s.store.IsDuplicateSignal(ev.Key()) {
			logger.Debugf("alert: %s 重複シグナル %s", symbol, ev.Key())
			continue
		}

		line, skip := s.evaluate(ev, now)
		if skip != nil {
			report.Skips = append(report.Skips, *skip)
			continue
		}
		report.Signals = append(report.Signals, *line)
		newSignalKeys = append(newSignalKeys, ev.Key())
	}

	if barTime.IsZero() {
		return nil
	}
	// K 线级去重：同一根执行足只发一次。
	if !s.store.IsNewBar(barTime) {
		logger.Debugf("alert: %s のバーは送信済み", barTime.UTC().Format(time.RFC3339))
		return nil
	}
	report.BarTime = barTime
	report.NextBarTime = barTime.Add(2 * s.entryTF.Duration)

	// 先持久化再发送：状态写不进去时宁可不发，也不能冒重发的风险。
	if err := s.store.MarkBarSent(barTime); err != nil {
		return fmt.Errorf("alert: %w", err)
	}
	for _, key := range newSignalKeys {
		if err := s.store.MarkSignalSent(key, now); err != nil {
			return fmt.Errorf("alert: %w", err)
		}
	}
	if err := s.store.Prune(now.Add(-signalRetention)); err != nil {
		logger.Warnf("alert: 古いシグナル履歴の整理に失敗: %v", err)
	}

	text := notify.Render(report, notify.RenderOptions{
		MaxTextLength:     s.cfg.Notify.MaxTextLength,
		CompressSkipLines: s.cfg.Notify.CompressSkipLines,
		IncludeSkips:      s.cfg.Notify.IncludeSkips,
	})
	if err := s.notifier.SendText(text); err != nil {
		// 状态已标记：这条消息丢了也不会在下一轮重发。
		logger.Errorf("alert: 通知送信失敗: %v", err)
		return nil
	}
	logger.Infof("alert: 通知済み signals=%d skips=%d", len(report.Signals), len(report.Skips))
	return nil
}

// evaluate 把信号跑过实盘入场前的全部闸门：维护时段、点差过滤、仓位计算。
// 任何一道不过都降级为一条 SkipLine。
func (s *AlertService) evaluate(ev *signal.Event, now time.Time) (*notify.SignalLine, *notify.SkipLine) {
	symbol := ev.Symbol
	quote, err := s.cost.Quote(symbol, now, ev.EntryRef)
	if err != nil {
		return nil, &notify.SkipLine{Symbol: symbol, Side: string(ev.Side), Reason: "spread_filter", Detail: err.Error()}
	}
	if !quote.Tradable {
		return nil, &notify.SkipLine{
			Symbol: symbol, Side: string(ev.Side),
			Reason: "maintenance_window",
		}
	}
	skip, reason, err := s.cost.ShouldSkipEntry(symbol, now, 0)
	if err != nil {
		return nil, &notify.SkipLine{Symbol: symbol, Side: string(ev.Side), Reason: "spread_filter", Detail: err.Error()}
	}
	if skip {
		return nil, &notify.SkipLine{Symbol: symbol, Side: string(ev.Side), Reason: "spread_filter", Detail: reason}
	}

	entryExec, err := s.cost.ExecutionPrice(ev.EntryRef, ev.Side, symbol, now)
	if err != nil {
		return nil, &notify.SkipLine{Symbol: symbol, Side: string(ev.Side), Reason: "spread_filter", Detail: err.Error()}
	}
	stopExec, err := s.cost.ExitPrice(ev.Stop, ev.Side, symbol, now)
	if err != nil {
		return nil, &notify.SkipLine{Symbol: symbol, Side: string(ev.Side), Reason: "spread_filter", Detail: err.Error()}
	}
	size, err := sizing.Size(s.cfg.Risk.InitialEquityJPY, entryExec, stopExec,
		s.cfg.Risk.RiskPct, s.cfg.Broker.TradeUnit, symbol)
	if err != nil {
		return nil, &notify.SkipLine{Symbol: symbol, Side: string(ev.Side), Reason: "position_size_invalid", Detail: err.Error()}
	}
	if !size.Valid {
		return nil, &notify.SkipLine{
			Symbol: symbol, Side: string(ev.Side),
			Reason: "position_size_invalid", Detail: "最小ロット未満またはリスク超過",
		}
	}

	return &notify.SignalLine{
		Symbol:     symbol,
		Side:       string(ev.Side),
		Pattern:    ev.Pattern,
		Entry:      entryExec,
		Stop:       stopExec,
		TP1:        ev.TP1,
		TP2:        ev.TP2,
		SpreadPips: quote.SpreadPips,
		Units:      size.Units,
		Lots:       sizing.UnitsToLots(size.Units, s.cfg.Broker.TradeUnit, symbol),
		RiskJPY:    size.RiskJPY,
	}, nil
}

// fetchClosed 拉取并过滤为确定已收盘的序列。
func (s *AlertService) fetchClosed(ctx context.Context, symbol string, now time.Time) (entry, env market.Bars, err error) {
	raw, err := s.source.Fetch(ctx, marketdata.FetchRequest{
		Symbol: symbol, Timeframe: s.entryTF, Limit: 300,
	})
	if err != nil {
		return nil, nil, err
	}
	raw.SortAscending()
	entry = raw.ClosedBefore(now, s.entryTF.Duration)

	rawEnv, err := s.source.Fetch(ctx, marketdata.FetchRequest{
		Symbol: symbol, Timeframe: s.envTF, Limit: 120,
	})
	if err != nil {
		return nil, nil, err
	}
	rawEnv.SortAscending()
	env = rawEnv.ClosedBefore(now, s.envTF.Duration)
	return entry, env, nil
}
