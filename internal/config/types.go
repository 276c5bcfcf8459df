package config

import (
	"strings"
	"time"
)

// Config 是 minfx 的主配置载体，Load 之后不可变。
type Config struct {
	App      AppConfig      `toml:"app"`
	Broker   BrokerConfig   `toml:"broker"`
	Data     DataConfig     `toml:"data"`
	Strategy StrategyConfig `toml:"strategy"`
	Risk     RiskConfig     `toml:"risk"`
	Notify   NotifyConfig   `toml:"notify"`
	Backtest BacktestConfig `toml:"backtest"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// BrokerConfig 描述券商的交易单位、点差时段、维护时间与隔夜利息。
// 整个核心只读引用它，任何调用路径都不得修改。
type BrokerConfig struct {
	Name        string            `toml:"name"`
	Timezone    string            `toml:"timezone"`
	TradeUnit   TradeUnit         `toml:"trade_unit"`
	Spread      SpreadConfig      `toml:"spread"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Execution   ExecutionConfig   `toml:"execution"`
	Swap        SwapConfig        `toml:"swap"`
}

// TradeUnit 定义手数约束：1 手的货币单位数、最小手数与手数步长。
type TradeUnit struct {
	LotSizeUnits int64            `toml:"lot_size_units"`
	MinLot       float64          `toml:"min_lot"`
	LotStep      float64          `toml:"lot_step"`
	Overrides    map[string]int64 `toml:"overrides"`
}

// LotSizeFor 返回指定货币对的 1 手单位数（支持按 symbol 覆盖）。
func (t TradeUnit) LotSizeFor(symbol string) int64 {
	if symbol != "" {
		if v, ok := t.Overrides[symbol]; ok && v > 0 {
			return v
		}
	}
	return t.LotSizeUnits
}

// SpreadPair 是某货币对在固定帯/拡大帯的广告点差（pips）。
type SpreadPair struct {
	Fixed   float64 `toml:"fixed"`
	Widened float64 `toml:"widened"`
}

// SpreadConfig 描述点差时段表。时刻均为券商本地时间（HH:MM）。
type SpreadConfig struct {
	AdvertisedPips map[string]SpreadPair `toml:"advertised_pips"`
	FixedWindow    ClockWindow           `toml:"fixed_window"`
	WidenedWindows WidenedWindows        `toml:"widened_windows"`
}

// ClockWindow 是本地时间的半开区间 [Start, End)，允许跨午夜。
type ClockWindow struct {
	Start string `toml:"start"`
	End   string `toml:"end"`
}

// WidenedWindows 描述拡大帯：开盘前（周一起点不同）与收盘后两段。
type WidenedWindows struct {
	PreOpen   PreOpenWindow `toml:"pre_open"`
	PostClose ClockWindow   `toml:"post_close"`
}

type PreOpenWindow struct {
	DefaultStart string `toml:"default_start"`
	MondayStart  string `toml:"monday_start"`
	End          string `toml:"end"`
}

// MaintenanceConfig 描述每日与每周的维护（不可约定）时段。
type MaintenanceConfig struct {
	Daily  DailyMaintenance `toml:"daily"`
	Weekly []WeeklyWindow   `toml:"weekly"`
}

// DailyMaintenance 按美国冬令时/夏令时各给一套每日维护表。
type DailyMaintenance struct {
	StandardTime DailyWindows `toml:"standard_time"`
	DaylightTime DailyWindows `toml:"daylight_time"`
}

// DailyWindows 周一与周二～周日分别配置。
type DailyWindows struct {
	Monday []ClockWindow `toml:"monday"`
	TueSun []ClockWindow `toml:"tue_sun"`
}

// WeeklyWindow 是每周固定 weekday 的维护时段，dow 取 mon..sun。
type WeeklyWindow struct {
	Dow   string `toml:"dow"`
	Start string `toml:"start"`
	End   string `toml:"end"`
}

// Weekday 把 dow 字符串转成 time.Weekday，未知值返回 false。
func (w WeeklyWindow) Weekday() (time.Weekday, bool) {
	switch strings.ToLower(strings.TrimSpace(w.Dow)) {
	case "sun":
		return time.Sunday, true
	case "mon":
		return time.Monday, true
	case "tue":
		return time.Tuesday, true
	case "wed":
		return time.Wednesday, true
	case "thu":
		return time.Thursday, true
	case "fri":
		return time.Friday, true
	case "sat":
		return time.Saturday, true
	}
	return time.Sunday, false
}

// ExecutionConfig 描述执行层成本假设：滑点与点差过滤。
type ExecutionConfig struct {
	Slippage     SlippageConfig     `toml:"slippage"`
	SpreadFilter SpreadFilterConfig `toml:"spread_filter"`
}

type SlippageConfig struct {
	Enabled    bool    `toml:"enabled"`
	OneWayPips float64 `toml:"one_way_pips"`
}

// SpreadFilterConfig：观测点差超过 固定帯广告点差 × MaxMultiplier 时放弃入场。
type SpreadFilterConfig struct {
	Enabled       bool    `toml:"enabled"`
	MaxMultiplier float64 `toml:"max_multiplier_vs_advertised"`
}

// 隔夜利息模式。
const (
	SwapModeIgnore     = "ignore"
	SwapModeFixedTable = "fixed_table"
	SwapModeDailyCSV   = "daily_csv"
)

// SwapConfig 的三种模式在 CostModel 构造时一次性分派。
type SwapConfig struct {
	Mode       string               `toml:"mode"`
	FixedTable map[string]SwapSides `toml:"fixed_table"`
	DailyCSV   string               `toml:"daily_csv"`
}

// SwapSides 是 1 手/日 的隔夜利息（JPY，正=收取，负=支付）。
type SwapSides struct {
	Long  float64 `toml:"long"`
	Short float64 `toml:"short"`
}

type DataConfig struct {
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
	CacheDir string `toml:"cache_dir"`
	UseCache bool   `toml:"use_cache"`
	Timeout  int    `toml:"timeout_seconds"`
}

// StrategyConfig 描述信号检测协作方的参数（核心只消费 SignalEvent）。
type StrategyConfig struct {
	Symbols        []string `toml:"symbols"`
	EntryTimeframe string   `toml:"entry_timeframe"`
	EnvTimeframe   string   `toml:"env_timeframe"`
	EMAPeriod      int      `toml:"ema_period"`
	ATRPeriod      int      `toml:"atr_period"`
	ATRMultiplier  float64  `toml:"atr_multiplier"`
	TP1R           float64  `toml:"tp1_r"`
	TP2R           float64  `toml:"tp2_r"`
	TP1ClosePct    float64  `toml:"tp1_close_pct"`
}

type RiskConfig struct {
	InitialEquityJPY float64 `toml:"initial_equity_jpy"`
	RiskPct          float64 `toml:"risk_pct"`
}

type NotifyConfig struct {
	Line              LineConfig `toml:"line"`
	MaxTextLength     int        `toml:"max_text_length"`
	CompressSkipLines bool       `toml:"compress_skip_lines"`
	IncludeSkips      bool       `toml:"include_skips"`
	StateFile         string     `toml:"state_file"`
}

type LineConfig struct {
	Enabled      bool   `toml:"enabled"`
	ChannelToken string `toml:"channel_token"`
	UserID       string `toml:"user_id"`
}

type BacktestConfig struct {
	ResultRoot  string `toml:"result_root"`
	HTTPEnabled bool   `toml:"http_enabled"`
	UseDaylight bool   `toml:"use_daylight"`
	MaxParallel int    `toml:"max_parallel"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
