// Package signal 定义信号检测协作方与核心之间的边界类型。
// 核心（引擎、实时路径）只消费 Event，不关心检测逻辑本身。
package signal

import (
	"fmt"
	"time"

	"minfx/internal/broker"
	"minfx/internal/market"
)

// Event 是一条入场信号。价格均为仲值参考价；执行价由 CostModel 现算。
// SignalBarTime 必须指向一根已经完整收盘的 K 线（禁止未确定足）。
type Event struct {
	Symbol        string      `json:"symbol"`
	Side          broker.Side `json:"side"`
	Pattern       string      `json:"pattern"`
	SignalBarTime time.Time   `json:"signal_bar_time"`
	EntryRef      float64     `json:"entry_reference_price"`
	Stop          float64     `json:"stop_price"`
	TP1           float64     `json:"take_profit_1"`
	TP2           float64     `json:"take_profit_2"`
	ATR           float64     `json:"atr"`
	EMA           float64     `json:"ema"`
}

// Key 返回去重标识 instrument|side|signal_bar_timestamp。
func (e Event) Key() string {
	return fmt.Sprintf("%s|%s|%s", e.Symbol, e.Side, e.SignalBarTime.UTC().Format(time.RFC3339))
}

// Veto 表示触发形态成立、但被环境过滤否决的候选信号。
// 引擎据此生成 environment_filter 跳过记录。
type Veto struct {
	Side    broker.Side `json:"side"`
	Pattern string      `json:"pattern"`
	Reason  string      `json:"reason"`
}

// Detector 在已收盘的 K 线序列上检测信号。
// entry 是执行周期（4H）序列，env 是环境周期（日足）序列，
// 两者都只包含完整收盘的 K 线。返回 (nil, nil) 表示无事发生。
type Detector interface {
	Detect(symbol string, entry, env market.Bars) (*Event, *Veto)
}
