package market

import (
	"sort"
	"time"
)

// Bar 表示一根固定周期的 OHLC K 线。时间戳为该根 K 线的开盘时刻，
// 数据源统一使用 UTC，时区换算由 broker 包负责。
type Bar struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Bars 是按时间升序排列的 K 线序列。
type Bars []Bar

// SortAscending 按时间升序排序（数据源偶尔乱序时兜底）。
func (bs Bars) SortAscending() {
	sort.Slice(bs, func(i, j int) bool { return bs[i].Time.Before(bs[j].Time) })
}

// Closes 提取收盘价序列，供指标计算使用。
func (bs Bars) Closes() []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Close
	}
	return out
}

// Highs 提取最高价序列。
func (bs Bars) Highs() []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.High
	}
	return out
}

// Lows 提取最低价序列。
func (bs Bars) Lows() []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Low
	}
	return out
}

// Between 返回 [start, end] 闭区间内的子序列。零值边界表示不限制。
func (bs Bars) Between(start, end time.Time) Bars {
	out := make(Bars, 0, len(bs))
	for _, b := range bs {
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && b.Time.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// ClosedBefore 返回在 now 时刻已经完整收盘的子序列。
// 一根 interval 周期的 K 线在 open+interval <= now 时视为确定。
func (bs Bars) ClosedBefore(now time.Time, interval time.Duration) Bars {
	out := make(Bars, 0, len(bs))
	for _, b := range bs {
		if !b.Time.Add(interval).After(now) {
			out = append(out, b)
		}
	}
	return out
}
