// Package engine 实现按 K 线顺序推演的模拟引擎。
//
// 引擎与实时通知路径共用同一套 CostModel / sizing 函数，
// 两条路径对相同输入必须产出逐位一致的成本与仓位。
package engine

import (
	"context"
	"fmt"
	"time"

	"minfx/internal/broker"
	"minfx/internal/logger"
	"minfx/internal/market"
	"minfx/internal/signal"
	"minfx/internal/sizing"

	"minfx/internal/config"
)

// 检测回看长度：EMA/ATR 预热之外再多留一段。
const lookbackBars = 100

// Config 是单 symbol 一次推演所需的全部依赖与参数。
type Config struct {
	Symbol        string
	Cost          *broker.CostModel
	Detector      signal.Detector
	TradeUnit     config.TradeUnit
	InitialEquity float64
	RiskPct       float64
	TP1ClosePct   float64
	EntryInterval time.Duration
	EnvInterval   time.Duration
}

// Result 是一次推演的全部可审计输出。
type Result struct {
	Symbol        string        `json:"symbol"`
	InitialEquity float64       `json:"initial_equity"`
	FinalEquity   float64       `json:"final_equity"`
	Trades        []*Trade      `json:"trades"`
	Skips         []SkipRecord  `json:"skips"`
	Equity        []EquityPoint `json:"equity"`
	Stats         Stats         `json:"stats"`
}

type state int

const (
	stateAwaitingSignal state = iota
	statePendingEntry
	stateInPosition
)

// Engine 是每 symbol 一个的确定性状态机，单线程消费升序 K 线。
type Engine struct {
	cfg Config

	st      state
	pending *signal.Event
	active  *Trade
	equity  float64
	nextID  int

	trades []*Trade
	skips  []SkipRecord
	curve  []EquityPoint
}

func New(cfg Config) (*Engine, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("engine: symbol 不能为空")
	}
	if cfg.Cost == nil {
		return nil, fmt.Errorf("engine: cost model 不能为空")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("engine: detector 不能为空")
	}
	if cfg.InitialEquity <= 0 {
		return nil, fmt.Errorf("engine: initial equity 必须 > 0")
	}
	if cfg.TP1ClosePct <= 0 || cfg.TP1ClosePct >= 1 {
		return nil, fmt.Errorf("engine: tp1 close pct 必须在 (0,1)")
	}
	if cfg.EntryInterval <= 0 {
		cfg.EntryInterval = 4 * time.Hour
	}
	if cfg.EnvInterval <= 0 {
		cfg.EnvInterval = 24 * time.Hour
	}
	return &Engine{
		cfg:    cfg,
		st:     stateAwaitingSignal,
		equity: cfg.InitialEquity,
		nextID: 1,
	}, nil
}

// Run 按顺序消费执行周期 K 线并返回审计结果。
// entry 与 env 均须为时间升序且完整收盘的序列；
// 运行要么完整结束，要么因不可恢复错误整体中止。
func (e *Engine) Run(ctx context.Context, entry, env market.Bars) (Result, error) {
	if len(entry) == 0 {
		return Result{}, fmt.Errorf("engine: %s 无可用K线", e.cfg.Symbol)
	}
	e.markEquity(entry[0].Time)

	for i := range entry {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		bar := entry[i]

		if e.st == stateInPosition {
			if err := e.manageExits(bar); err != nil {
				return Result{}, err
			}
			// 出场与再次检测不共用同一根 K 线。
			continue
		}

		if e.st == statePendingEntry {
			if err := e.executeEntry(bar); err != nil {
				return Result{}, err
			}
			continue
		}

		if e.st == stateAwaitingSignal && i < len(entry)-1 {
			e.detect(entry[maxInt(0, i-lookbackBars+1):i+1], env, bar.Time)
		}
	}

	if e.active != nil {
		// 最后一笔未平仓：原样保留，留给调用方判断。
		e.trades = append(e.trades, e.active)
		e.active = nil
	}

	res := Result{
		Symbol:        e.cfg.Symbol,
		InitialEquity: e.cfg.InitialEquity,
		FinalEquity:   e.equity,
		Trades:        e.trades,
		Skips:         e.skips,
		Equity:        e.curve,
	}
	res.Stats = ComputeStats(res)
	return res, nil
}

// detect 在已收盘序列上调用检测协作方。
// 环境序列同样不允许窥视：只保留在当前时刻之前已收盘的日足。
func (e *Engine) detect(entry, env market.Bars, now time.Time) {
	closedEnv := env.ClosedBefore(now, e.cfg.EnvInterval)
	ev, veto := e.cfg.Detector.Detect(e.cfg.Symbol, entry, closedEnv)
	if veto != nil {
		e.skips = append(e.skips, SkipRecord{
			SignalTime: now,
			Symbol:     e.cfg.Symbol,
			Side:       veto.Side,
			Reason:     SkipEnvironment,
			Detail:     veto.Reason,
		})
		return
	}
	if ev == nil {
		return
	}
	e.pending = ev
	e.st = statePendingEntry
}

// executeEntry 在信号足的下一根开盘价上执行入场。
// 任何一个跳过条件命中都会生成恰好一条 SkipRecord、零条 Fill，
// 并回到 AWAITING_SIGNAL。
func (e *Engine) executeEntry(bar market.Bar) error {
	ev := e.pending
	e.pending = nil
	e.st = stateAwaitingSignal

	sym := e.cfg.Symbol
	at := bar.Time

	if !e.cfg.Cost.IsTradable(at) {
		e.skip(ev, at, SkipMaintenance, "メンテナンス時間中")
		return nil
	}

	skip, reason, err := e.cfg.Cost.ShouldSkipEntry(sym, at, 0)
	if err != nil {
		return err
	}
	if skip {
		e.skip(ev, at, SkipSpreadFilter, reason)
		return nil
	}

	entryMid := bar.Open
	entryExec, err := e.cfg.Cost.ExecutionPrice(entryMid, ev.Side, sym, at)
	if err != nil {
		return err
	}
	// 止损距离随入场仲值平移，保持信号给定的距离不变。
	stopMid := entryMid - (ev.EntryRef - ev.Stop)
	stopExec, err := e.cfg.Cost.ExitPrice(stopMid, ev.Side, sym, at)
	if err != nil {
		return err
	}
	tp1Mid := entryMid + (ev.TP1 - ev.EntryRef)
	tp2Mid := entryMid + (ev.TP2 - ev.EntryRef)

	size, err := sizing.Size(e.equity, entryExec, stopExec, e.cfg.RiskPct, e.cfg.TradeUnit, sym)
	if err != nil {
		// ErrViolation：零违反保证被打破，属于缺陷，整体中止。
		return fmt.Errorf("engine: %s サイズ計算失敗: %w", sym, err)
	}
	if !size.Valid {
		e.skip(ev, at, SkipPositionSize, "最小ロット未満またはリスク超過")
		return nil
	}

	units := float64(size.Units)
	spreadCost, slipCost, err := e.cfg.Cost.FillCosts(units, sym, at)
	if err != nil {
		return err
	}
	spreadPips, _, err := e.cfg.Cost.SpreadPips(sym, at)
	if err != nil {
		return err
	}

	tr := &Trade{
		ID:              e.nextID,
		Symbol:          sym,
		Side:            ev.Side,
		Pattern:         ev.Pattern,
		EntryTime:       at,
		EntryPriceMid:   entryMid,
		EntryPriceExec:  entryExec,
		Units:           units,
		InitialStopMid:  stopMid,
		InitialStopExec: stopExec,
		InitialRiskJPY:  size.RiskJPY,
		MaxRiskJPY:      e.equity * e.cfg.RiskPct,
		TP1PriceMid:     tp1Mid,
		TP2PriceMid:     tp2Mid,
		TP1Units:        units * e.cfg.TP1ClosePct,
		TP2Units:        units * (1 - e.cfg.TP1ClosePct),
		ATR:             ev.ATR,
		CurrentSL:       stopExec,
		RemainingUnits:  units,
	}
	tr.AddFill(Fill{
		TradeID:      tr.ID,
		Symbol:       sym,
		Side:         ev.Side,
		Type:         FillEntry,
		Time:         at,
		PriceMid:     entryMid,
		PriceExec:    entryExec,
		Units:        units,
		SpreadPips:   spreadPips,
		SlippagePips: e.cfg.Cost.SlippagePips(),
		SpreadCost:   spreadCost,
		SlippageCost: slipCost,
		PnLNet:       -(spreadCost + slipCost),
	})
	e.equity -= spreadCost + slipCost
	e.markEquity(at)

	e.active = tr
	e.nextID++
	e.st = stateInPosition
	logger.Debugf("engine: %s #%d %s 入场 %.3f units=%.0f risk=%.0f",
		sym, tr.ID, tr.Side, entryExec, units, size.RiskJPY)
	return nil
}

// manageExits 处理持仓中的 SL/TP1/TP2 判定。
// 同一根 K 线同时覆盖止损与止盈时，保守假设止损先成交。
func (e *Engine) manageExits(bar market.Bar) error {
	tr := e.active
	at := bar.Time

	// 维护时段内不可平仓，顺延到下一根。
	if !e.cfg.Cost.IsTradable(at) {
		return nil
	}

	long := tr.Side == broker.SideLong

	slHit := false
	if long {
		slHit = bar.Low <= tr.CurrentSL
	} else {
		slHit = bar.High >= tr.CurrentSL
	}

	tp1Hit := false
	if !tr.TP1Hit {
		if long {
			tp1Hit = bar.High >= tr.TP1PriceMid
		} else {
			tp1Hit = bar.Low <= tr.TP1PriceMid
		}
	}

	tp2Hit := false
	if tr.TP1Hit {
		if long {
			tp2Hit = bar.High >= tr.TP2PriceMid
		} else {
			tp2Hit = bar.Low <= tr.TP2PriceMid
		}
	}

	// SL 优先（保守）。TP1 前触发记为 SL，TP1 后记为建值出场。
	if slHit {
		reason := FillSL
		if tr.TP1Hit {
			reason = FillBreakEven
		}
		if err := e.closeRemaining(tr, at, tr.CurrentSL, reason); err != nil {
			return err
		}
		return nil
	}

	if tp1Hit {
		if err := e.partialClose(tr, at, tr.TP1PriceMid, FillTP1, tr.TP1Units); err != nil {
			return err
		}
		tr.TP1Hit = true
		tr.MoveStopToBreakEven()
		// TP2 与 TP1 同根命中时顺延到下一根（TP1 前 tp2Hit 恒为 false）。
	}

	if tp2Hit {
		if err := e.closeRemaining(tr, at, tr.TP2PriceMid, FillTP2); err != nil {
			return err
		}
	}
	return nil
}

// partialClose 平掉部分数量并记录 Fill。
func (e *Engine) partialClose(tr *Trade, at time.Time, exitMid float64, ft FillType, units float64) error {
	fill, pnlNet, err := e.buildExitFill(tr, at, exitMid, ft, units)
	if err != nil {
		return err
	}
	tr.AddFill(fill)
	e.equity += pnlNet
	e.markEquity(at)
	return nil
}

// closeRemaining 平掉剩余全部数量并终结该笔交易。
func (e *Engine) closeRemaining(tr *Trade, at time.Time, exitMid float64, ft FillType) error {
	if err := e.partialClose(tr, at, exitMid, ft, tr.RemainingUnits); err != nil {
		return err
	}
	tr.Close(at, ft)
	e.trades = append(e.trades, tr)
	e.active = nil
	e.st = stateAwaitingSignal
	logger.Debugf("engine: %s #%d %s 出场 pnl=%.0f equity=%.0f",
		tr.Symbol, tr.ID, ft, tr.TotalPnLNet, e.equity)
	return nil
}

// buildExitFill 组装一条出场 Fill：执行价、成本分解与损益。
func (e *Engine) buildExitFill(tr *Trade, at time.Time, exitMid float64, ft FillType, units float64) (Fill, float64, error) {
	sym := tr.Symbol
	exec, err := e.cfg.Cost.ExitPrice(exitMid, tr.Side, sym, at)
	if err != nil {
		return Fill{}, 0, err
	}
	spreadCost, slipCost, err := e.cfg.Cost.FillCosts(units, sym, at)
	if err != nil {
		return Fill{}, 0, err
	}
	rollovers := int(at.Sub(tr.EntryTime).Hours() / 24)
	if rollovers < 1 {
		rollovers = 1
	}
	swap := e.cfg.Cost.SwapJPY(units, tr.Side, sym, rollovers)

	// 毛损益按仲值计，点差/滑点在 cost 字段里显式扣减，
	// 避免和执行价里已含的调整重复计费。
	var gross float64
	if tr.Side == broker.SideLong {
		gross = (exitMid - tr.EntryPriceMid) * units
	} else {
		gross = (tr.EntryPriceMid - exitMid) * units
	}
	net := gross - spreadCost - slipCost + swap

	spreadPips, _, err := e.cfg.Cost.SpreadPips(sym, at)
	if err != nil {
		return Fill{}, 0, err
	}
	return Fill{
		TradeID:      tr.ID,
		Symbol:       sym,
		Side:         tr.Side,
		Type:         ft,
		Time:         at,
		PriceMid:     exitMid,
		PriceExec:    exec,
		Units:        units,
		SpreadPips:   spreadPips,
		SlippagePips: e.cfg.Cost.SlippagePips(),
		SpreadCost:   spreadCost,
		SlippageCost: slipCost,
		SwapJPY:      swap,
		PnLGross:     gross,
		PnLNet:       net,
	}, net, nil
}

func (e *Engine) skip(ev *signal.Event, entryAt time.Time, reason SkipReason, detail string) {
	e.skips = append(e.skips, SkipRecord{
		SignalTime: ev.SignalBarTime,
		EntryTime:  entryAt,
		Symbol:     e.cfg.Symbol,
		Side:       ev.Side,
		Reason:     reason,
		Detail:     detail,
	})
}

// markEquity 追加权益点；同一时刻只保留最后一个，保证曲线严格升序。
func (e *Engine) markEquity(at time.Time) {
	if n := len(e.curve); n > 0 && e.curve[n-1].Time.Equal(at) {
		e.curve[n-1].Equity = e.equity
		return
	}
	e.curve = append(e.curve, EquityPoint{Time: at, Equity: e.equity})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
