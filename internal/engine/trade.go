package engine

import (
	"time"

	"minfx/internal/broker"
)

// FillType 是单笔约定的类型。
type FillType string

const (
	FillEntry     FillType = "ENTRY"
	FillTP1       FillType = "TP1"
	FillTP2       FillType = "TP2"
	FillSL        FillType = "SL"
	FillBreakEven FillType = "BREAK_EVEN"
)

// Fill 是可审计的最小约定记录，归属且仅归属一笔 Trade，只追加。
type Fill struct {
	TradeID      int         `json:"trade_id"`
	Symbol       string      `json:"symbol"`
	Side         broker.Side `json:"side"`
	Type         FillType    `json:"fill_type"`
	Time         time.Time   `json:"fill_time"`
	PriceMid     float64     `json:"price_mid"`
	PriceExec    float64     `json:"price_exec"`
	Units        float64     `json:"units"`
	SpreadPips   float64     `json:"spread_pips"`
	SlippagePips float64     `json:"slippage_pips"`
	SpreadCost   float64     `json:"spread_cost_jpy"`
	SlippageCost float64     `json:"slippage_cost_jpy"`
	SwapJPY      float64     `json:"swap_jpy"`
	PnLGross     float64     `json:"pnl_gross_jpy"`
	PnLNet       float64     `json:"pnl_net_jpy"`
}

// Trade 是共享同一次入场的 Fill 聚合。
//
// InitialStop* 永不覆盖：TP1 后止损移到建值时只更新 CurrentSL，
// 原始风险参照必须始终可复原。
type Trade struct {
	ID      int         `json:"trade_id"`
	Symbol  string      `json:"symbol"`
	Side    broker.Side `json:"side"`
	Pattern string      `json:"pattern"`

	EntryTime      time.Time `json:"entry_time"`
	EntryPriceMid  float64   `json:"entry_price_mid"`
	EntryPriceExec float64   `json:"entry_price_exec"`
	Units          float64   `json:"units"`

	InitialStopMid  float64 `json:"initial_stop_price_mid"`
	InitialStopExec float64 `json:"initial_stop_price_exec"`
	InitialRiskJPY  float64 `json:"initial_risk_jpy"`
	MaxRiskJPY      float64 `json:"max_risk_jpy"`

	TP1PriceMid float64 `json:"tp1_price_mid"`
	TP2PriceMid float64 `json:"tp2_price_mid"`
	TP1Units    float64 `json:"tp1_units"`
	TP2Units    float64 `json:"tp2_units"`
	ATR         float64 `json:"atr"`

	CurrentSL      float64 `json:"current_sl"`
	TP1Hit         bool    `json:"tp1_hit"`
	RemainingUnits float64 `json:"remaining_units"`

	FinalExitTime   time.Time `json:"final_exit_time"`
	FinalExitReason FillType  `json:"final_exit_reason,omitempty"`

	TotalPnLGross float64 `json:"total_pnl_gross_jpy"`
	TotalPnLNet   float64 `json:"total_pnl_net_jpy"`
	TotalCost     float64 `json:"total_cost_jpy"`
	HoldingHours  float64 `json:"holding_hours"`

	Fills []Fill `json:"fills"`
}

// AddFill 追加约定并累计损益；平仓类 Fill 同时扣减剩余数量。
func (t *Trade) AddFill(f Fill) {
	t.Fills = append(t.Fills, f)
	t.TotalPnLGross += f.PnLGross
	t.TotalPnLNet += f.PnLNet
	t.TotalCost += f.SpreadCost + f.SlippageCost + f.SwapJPY
	switch f.Type {
	case FillTP1, FillTP2, FillSL, FillBreakEven:
		t.RemainingUnits -= f.Units
	}
}

// MoveStopToBreakEven 把止损移到建值（InitialStop 保留不动）。
func (t *Trade) MoveStopToBreakEven() {
	t.CurrentSL = t.EntryPriceExec
}

// Close 记录最终出场。
func (t *Trade) Close(at time.Time, reason FillType) {
	t.FinalExitTime = at
	t.FinalExitReason = reason
	if !at.IsZero() && !t.EntryTime.IsZero() {
		t.HoldingHours = at.Sub(t.EntryTime).Hours()
	}
}

// Closed 报告该笔交易是否已经终结。
func (t *Trade) Closed() bool {
	return !t.FinalExitTime.IsZero()
}

// SkipReason 是信号未成交的原因码，单选。
type SkipReason string

const (
	SkipMaintenance  SkipReason = "maintenance_window"
	SkipSpreadFilter SkipReason = "spread_filter"
	SkipPositionSize SkipReason = "position_size_invalid"
	SkipEnvironment  SkipReason = "environment_filter"
)

// SkipRecord 记录一条没有产生 Trade 的信号。
type SkipRecord struct {
	SignalTime time.Time   `json:"signal_time"`
	EntryTime  time.Time   `json:"entry_time"`
	Symbol     string      `json:"symbol"`
	Side       broker.Side `json:"side"`
	Reason     SkipReason  `json:"reason"`
	Detail     string      `json:"detail,omitempty"`
}

// EquityPoint 是每次约定后的权益点，严格按时间升序。
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}
