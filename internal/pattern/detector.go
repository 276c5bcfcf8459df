// Package pattern 实现 EMA 回踩 + K 线形态的信号检测。
// 属于核心之外的协作方：核心只通过 signal.Detector 接口消费它。
package pattern

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"minfx/internal/broker"
	"minfx/internal/market"
	"minfx/internal/signal"
)

// Settings 是检测参数，全部来自配置。
type Settings struct {
	EMAPeriod     int
	ATRPeriod     int
	ATRMultiplier float64
	TP1R          float64
	TP2R          float64
}

// Detector 先用日足 EMA 判定环境方向，再在执行周期上找
// EMA 回踩 + 吞没/锤子线触发。
type Detector struct {
	cfg Settings
}

func NewDetector(cfg Settings) *Detector {
	return &Detector{cfg: cfg}
}

var _ signal.Detector = (*Detector)(nil)

// Detect 在已收盘序列的最后一根上检测信号。
func (d *Detector) Detect(symbol string, entry, env market.Bars) (*signal.Event, *signal.Veto) {
	if len(entry) < d.cfg.EMAPeriod+2 || len(env) < d.cfg.EMAPeriod+2 {
		return nil, nil
	}

	ema := talib.Ema(entry.Closes(), d.cfg.EMAPeriod)
	atr := talib.Atr(entry.Highs(), entry.Lows(), entry.Closes(), d.cfg.ATRPeriod)

	last := entry[len(entry)-1]
	prev := entry[len(entry)-2]
	lastEMA := ema[len(ema)-1]
	lastATR := atr[len(atr)-1]
	if lastATR <= 0 || math.IsNaN(lastEMA) || math.IsNaN(lastATR) {
		return nil, nil
	}

	// EMA タッチ：最后一根的高低区间必须覆盖 EMA。
	if !(last.Low <= lastEMA && lastEMA <= last.High) {
		return nil, nil
	}

	side, patternName := triggerPattern(prev, last)
	if patternName == "" {
		return nil, nil
	}

	// 环境过滤：日足收盘在 EMA 的同侧且 EMA 同向。
	if !environmentOK(env, d.cfg.EMAPeriod, side) {
		return nil, &signal.Veto{Side: side, Pattern: patternName, Reason: "日足環境NG"}
	}

	entryRef := last.Close
	dist := lastATR * d.cfg.ATRMultiplier
	var stop, tp1, tp2 float64
	if side == broker.SideLong {
		stop = entryRef - dist
		tp1 = entryRef + dist*d.cfg.TP1R
		tp2 = entryRef + dist*d.cfg.TP2R
	} else {
		stop = entryRef + dist
		tp1 = entryRef - dist*d.cfg.TP1R
		tp2 = entryRef - dist*d.cfg.TP2R
	}

	return &signal.Event{
		Symbol:        symbol,
		Side:          side,
		Pattern:       patternName,
		SignalBarTime: last.Time,
		EntryRef:      entryRef,
		Stop:          stop,
		TP1:           tp1,
		TP2:           tp2,
		ATR:           lastATR,
		EMA:           lastEMA,
	}, nil
}

// environmentOK 判定日足趋势方向是否支持该侧入场。
func environmentOK(env market.Bars, period int, side broker.Side) bool {
	ema := talib.Ema(env.Closes(), period)
	last := env[len(env)-1]
	lastEMA := ema[len(ema)-1]
	prevEMA := ema[len(ema)-2]
	if math.IsNaN(lastEMA) || math.IsNaN(prevEMA) {
		return false
	}
	if side == broker.SideLong {
		return last.Close > lastEMA && lastEMA > prevEMA
	}
	return last.Close < lastEMA && lastEMA < prevEMA
}

// triggerPattern 判定吞没/锤子线（含空头对称形态），返回方向与形态名。
func triggerPattern(prev, last market.Bar) (broker.Side, string) {
	switch {
	case isBullishEngulfing(prev, last):
		return broker.SideLong, "Bullish Engulfing"
	case isBullishHammer(last):
		return broker.SideLong, "Hammer"
	case isBearishEngulfing(prev, last):
		return broker.SideShort, "Bearish Engulfing"
	case isShootingStar(last):
		return broker.SideShort, "Shooting Star"
	}
	return "", ""
}

func isBullishEngulfing(prev, last market.Bar) bool {
	prevBearish := prev.Close < prev.Open
	lastBullish := last.Close > last.Open
	engulfing := last.Close >= prev.Open && last.Open <= prev.Close
	return prevBearish && lastBullish && engulfing
}

func isBearishEngulfing(prev, last market.Bar) bool {
	prevBullish := prev.Close > prev.Open
	lastBearish := last.Close < last.Open
	engulfing := last.Close <= prev.Open && last.Open >= prev.Close
	return prevBullish && lastBearish && engulfing
}

// isBullishHammer：阳线 + 长下影（≥实体 1.5 倍且 ≥上影 2 倍）。
func isBullishHammer(b market.Bar) bool {
	body := math.Abs(b.Close - b.Open)
	if body <= 0 {
		return false
	}
	lower := math.Min(b.Open, b.Close) - b.Low
	upper := b.High - math.Max(b.Open, b.Close)
	return b.Close > b.Open && lower >= body*1.5 && lower >= upper*2.0
}

// isShootingStar：阴线 + 长上影，锤子线的对称形态。
func isShootingStar(b market.Bar) bool {
	body := math.Abs(b.Close - b.Open)
	if body <= 0 {
		return false
	}
	lower := math.Min(b.Open, b.Close) - b.Low
	upper := b.High - math.Max(b.Open, b.Close)
	return b.Close < b.Open && upper >= body*1.5 && upper >= lower*2.0
}
