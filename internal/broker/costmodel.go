package broker

import (
	"fmt"
	"strings"
	"time"

	"minfx/internal/config"
)

// PipValue 是 JPY 直盘的 1 pip 对应的价格变动（1 pip = 0.01 円）。
const PipValue = 0.01

// WindowClass 表示点差时段类别。
type WindowClass string

const (
	WindowFixed   WindowClass = "fixed"
	WindowWidened WindowClass = "widened"
)

// Side 表示持仓方向。
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// CostQuote 是某一时刻某货币对的成本快照。
// 每次查询现算，绝不跨时刻缓存：时段分类依赖查询时刻本身。
type CostQuote struct {
	Symbol     string      `json:"symbol"`
	SpreadPips float64     `json:"spread_pips"`
	Window     WindowClass `json:"window_class"`
	Tradable   bool        `json:"tradable"`
	Mid        float64     `json:"mid_price"`
	Bid        float64     `json:"bid_price"`
	Ask        float64     `json:"ask_price"`
}

// CostModel 把 BrokerConfig 解释为可查询的执行成本模型。
// 所有时间判定先换算到券商本地时间（跨午夜时日期会正确进位），
// 再与预解析的时刻表比较，精确到分钟。
type CostModel struct {
	loc      *time.Location
	sched    schedule
	spreads  map[string]config.SpreadPair
	slipPips float64
	filter   config.SpreadFilterConfig
	swapFn   swapFunc
	swapMode string
}

// NewCostModel 构造成本模型。swap 模式在这里一次性分派成函数值，
// 调用点不再做运行时分支。
func NewCostModel(cfg *config.BrokerConfig, useDaylight bool) (*CostModel, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("加载券商时区失败 (%s): %w", cfg.Timezone, err)
	}
	// viper 会把 map 键统一转成小写，这里按大写 symbol 重建索引。
	spreads := make(map[string]config.SpreadPair, len(cfg.Spread.AdvertisedPips))
	for sym, pair := range cfg.Spread.AdvertisedPips {
		spreads[strings.ToUpper(sym)] = pair
	}
	slip := 0.0
	if cfg.Execution.Slippage.Enabled {
		slip = cfg.Execution.Slippage.OneWayPips
	}
	swapFn, err := newSwapFunc(cfg)
	if err != nil {
		return nil, err
	}
	return &CostModel{
		loc:      loc,
		sched:    newSchedule(cfg, useDaylight),
		spreads:  spreads,
		slipPips: slip,
		filter:   cfg.Execution.SpreadFilter,
		swapFn:   swapFn,
		swapMode: cfg.Swap.Mode,
	}, nil
}

// LocalTime 把任意时刻换算成券商本地时间。
func (m *CostModel) LocalTime(at time.Time) time.Time {
	return at.In(m.loc)
}

// Location 返回券商本地时区。
func (m *CostModel) Location() *time.Location {
	return m.loc
}

// windowClass 返回本地时刻所属的点差时段。
func (m *CostModel) windowClass(at time.Time) WindowClass {
	if m.sched.isWidened(m.LocalTime(at)) {
		return WindowWidened
	}
	return WindowFixed
}

// SpreadPips 返回广告点差（pips）与时段类别。
func (m *CostModel) SpreadPips(symbol string, at time.Time) (float64, WindowClass, error) {
	pair, ok := m.spreads[strings.ToUpper(symbol)]
	if !ok {
		return 0, "", fmt.Errorf("未知货币对: %s", symbol)
	}
	w := m.windowClass(at)
	if w == WindowWidened {
		return pair.Widened, w, nil
	}
	return pair.Fixed, w, nil
}

// Quote 返回某一时刻的成本快照。mid 取自调用方手头的成交价参考
//（回测里是 K 线价位，实时路径是最新确定足）。
func (m *CostModel) Quote(symbol string, at time.Time, mid float64) (CostQuote, error) {
	spread, window, err := m.SpreadPips(symbol, at)
	if err != nil {
		return CostQuote{}, err
	}
	half := spread * PipValue / 2
	return CostQuote{
		Symbol:     strings.ToUpper(symbol),
		SpreadPips: spread,
		Window:     window,
		Tradable:   m.IsTradable(at),
		Mid:        mid,
		Bid:        mid - half,
		Ask:        mid + half,
	}, nil
}

// IsTradable 判断该时刻是否可约定（维护时段内一律不可，与时段类别无关）。
func (m *CostModel) IsTradable(at time.Time) bool {
	return !m.sched.inMaintenance(m.LocalTime(at))
}

// ShouldSkipEntry 点差过滤：观测点差超过 固定帯广告点差 × 阈值倍数 时放弃。
// observedSpread <= 0 表示没有实时报价，退回当前时段的广告点差。
func (m *CostModel) ShouldSkipEntry(symbol string, at time.Time, observedSpread float64) (bool, string, error) {
	if !m.filter.Enabled {
		return false, "", nil
	}
	pair, ok := m.spreads[strings.ToUpper(symbol)]
	if !ok {
		return false, "", fmt.Errorf("未知货币对: %s", symbol)
	}
	observed := observedSpread
	if observed <= 0 {
		spread, _, err := m.SpreadPips(symbol, at)
		if err != nil {
			return false, "", err
		}
		observed = spread
	}
	threshold := pair.Fixed * m.filter.MaxMultiplier
	if observed > threshold {
		return true, fmt.Sprintf("スプレッド超過 %.1f > %.1f pips", observed, threshold), nil
	}
	return false, "", nil
}

// ExecutionPrice 计算入场执行价：半点差 + 单向滑点都朝不利方向调整
//（LONG 买在 ask 之上，SHORT 卖在 bid 之下）。
func (m *CostModel) ExecutionPrice(mid float64, side Side, symbol string, at time.Time) (float64, error) {
	spread, _, err := m.SpreadPips(symbol, at)
	if err != nil {
		return 0, err
	}
	half := spread * PipValue / 2
	slip := m.slipPips * PipValue
	if side == SideLong {
		return mid + half + slip, nil
	}
	return mid - half - slip, nil
}

// ExitPrice 计算平仓执行价，使用与入场相反的一侧盘口。
func (m *CostModel) ExitPrice(mid float64, side Side, symbol string, at time.Time) (float64, error) {
	spread, _, err := m.SpreadPips(symbol, at)
	if err != nil {
		return 0, err
	}
	half := spread * PipValue / 2
	slip := m.slipPips * PipValue
	if side == SideLong {
		return mid - half - slip, nil
	}
	return mid + half + slip, nil
}

// FillCosts 返回单次约定（片道）的点差成本与滑点成本（JPY）。
// 点差按半幅计：一进一出合计正好付满一个完整点差。
func (m *CostModel) FillCosts(units float64, symbol string, at time.Time) (spreadCost, slipCost float64, err error) {
	spread, _, err := m.SpreadPips(symbol, at)
	if err != nil {
		return 0, 0, err
	}
	return units * spread * PipValue / 2, units * m.slipPips * PipValue, nil
}

// SwapJPY 按入场以来的隔夜滚动次数计算 swap（JPY）。ignore 模式恒为 0。
func (m *CostModel) SwapJPY(units float64, side Side, symbol string, rollovers int) float64 {
	if rollovers <= 0 {
		return 0
	}
	return m.swapFn(strings.ToUpper(symbol), side, units, rollovers)
}

// SlippagePips 返回配置的单向滑点（pips）。
func (m *CostModel) SlippagePips() float64 {
	return m.slipPips
}

// SwapMode 返回构造时分派的 swap 模式名。
func (m *CostModel) SwapMode() string {
	return m.swapMode
}
