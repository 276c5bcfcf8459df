package config

import "strings"

// 默认值常量
const (
	defaultAppEnv        = "dev"
	defaultAppLogLevel   = "info"
	defaultAppHTTPAddr   = ":9912"
	defaultBrokerTZ      = "Asia/Tokyo"
	defaultLotSizeUnits  = 10000
	defaultMinLot        = 0.1
	defaultLotStep       = 0.1
	defaultFixedStart    = "08:00"
	defaultFixedEnd      = "05:00"
	defaultDataBaseURL   = "https://api.twelvedata.com"
	defaultDataCacheDir  = "data/cache"
	defaultDataTimeout   = 25
	defaultEntryTF       = "4h"
	defaultEnvTF         = "1d"
	defaultEMAPeriod     = 20
	defaultATRPeriod     = 14
	defaultATRMultiplier = 1.2
	defaultTP1R          = 1.2
	defaultTP2R          = 2.4
	defaultTP1ClosePct   = 0.5
	defaultInitialEquity = 100000.0
	defaultRiskPct       = 0.005
	defaultSpreadMaxMult = 3.0
	defaultMaxTextLen    = 3500
	defaultStateFile     = "data/notification_state.json"
	defaultResultRoot    = "data/backtest"
	defaultMaxParallel   = 3
)

// applyDefaults 为所有子配置应用默认值，仅填充配置文件未显式设置的字段。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.timezone", &b.Timezone, defaultBrokerTZ),
		stringFieldDefault("broker.spread.fixed_window.start", &b.Spread.FixedWindow.Start, defaultFixedStart),
		stringFieldDefault("broker.spread.fixed_window.end", &b.Spread.FixedWindow.End, defaultFixedEnd),
		stringFieldDefault("broker.swap.mode", &b.Swap.Mode, SwapModeIgnore),
		fieldDefault{
			key:   "broker.trade_unit.lot_size_units",
			need:  func() bool { return b.TradeUnit.LotSizeUnits <= 0 },
			apply: func() { b.TradeUnit.LotSizeUnits = defaultLotSizeUnits },
		},
		fieldDefault{
			key:   "broker.trade_unit.min_lot",
			need:  func() bool { return b.TradeUnit.MinLot <= 0 },
			apply: func() { b.TradeUnit.MinLot = defaultMinLot },
		},
		fieldDefault{
			key:   "broker.trade_unit.lot_step",
			need:  func() bool { return b.TradeUnit.LotStep <= 0 },
			apply: func() { b.TradeUnit.LotStep = defaultLotStep },
		},
		boolFieldDefault("broker.execution.spread_filter.enabled", &b.Execution.SpreadFilter.Enabled, true),
		fieldDefault{
			key:   "broker.execution.spread_filter.max_multiplier_vs_advertised",
			need:  func() bool { return b.Execution.SpreadFilter.MaxMultiplier <= 0 },
			apply: func() { b.Execution.SpreadFilter.MaxMultiplier = defaultSpreadMaxMult },
		},
	)
	if b.Spread.WidenedWindows.PreOpen.MondayStart == "" {
		b.Spread.WidenedWindows.PreOpen.MondayStart = b.Spread.WidenedWindows.PreOpen.DefaultStart
	}
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.base_url", &d.BaseURL, defaultDataBaseURL),
		stringFieldDefault("data.cache_dir", &d.CacheDir, defaultDataCacheDir),
		boolFieldDefault("data.use_cache", &d.UseCache, true),
		fieldDefault{
			key:   "data.timeout_seconds",
			need:  func() bool { return d.Timeout <= 0 },
			apply: func() { d.Timeout = defaultDataTimeout },
		},
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.entry_timeframe", &s.EntryTimeframe, defaultEntryTF),
		stringFieldDefault("strategy.env_timeframe", &s.EnvTimeframe, defaultEnvTF),
		fieldDefault{
			key:   "strategy.ema_period",
			need:  func() bool { return s.EMAPeriod <= 0 },
			apply: func() { s.EMAPeriod = defaultEMAPeriod },
		},
		fieldDefault{
			key:   "strategy.atr_period",
			need:  func() bool { return s.ATRPeriod <= 0 },
			apply: func() { s.ATRPeriod = defaultATRPeriod },
		},
		fieldDefault{
			key:   "strategy.atr_multiplier",
			need:  func() bool { return s.ATRMultiplier <= 0 },
			apply: func() { s.ATRMultiplier = defaultATRMultiplier },
		},
		fieldDefault{
			key:   "strategy.tp1_r",
			need:  func() bool { return s.TP1R <= 0 },
			apply: func() { s.TP1R = defaultTP1R },
		},
		fieldDefault{
			key:   "strategy.tp2_r",
			need:  func() bool { return s.TP2R <= 0 },
			apply: func() { s.TP2R = defaultTP2R },
		},
		fieldDefault{
			key:   "strategy.tp1_close_pct",
			need:  func() bool { return s.TP1ClosePct <= 0 },
			apply: func() { s.TP1ClosePct = defaultTP1ClosePct },
		},
		fieldDefault{
			key:   "strategy.symbols",
			need:  func() bool { return len(s.Symbols) == 0 },
			apply: func() { s.Symbols = []string{"USD/JPY", "EUR/JPY", "GBP/JPY"} },
		},
	)
	for i, sym := range s.Symbols {
		s.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.initial_equity_jpy",
			need:  func() bool { return r.InitialEquityJPY <= 0 },
			apply: func() { r.InitialEquityJPY = defaultInitialEquity },
		},
		fieldDefault{
			key:   "risk.risk_pct",
			need:  func() bool { return r.RiskPct <= 0 },
			apply: func() { r.RiskPct = defaultRiskPct },
		},
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("notify.state_file", &n.StateFile, defaultStateFile),
		boolFieldDefault("notify.compress_skip_lines", &n.CompressSkipLines, true),
		boolFieldDefault("notify.include_skips", &n.IncludeSkips, true),
		fieldDefault{
			key:   "notify.max_text_length",
			need:  func() bool { return n.MaxTextLength <= 0 },
			apply: func() { n.MaxTextLength = defaultMaxTextLen },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.result_root", &b.ResultRoot, defaultResultRoot),
		fieldDefault{
			key:   "backtest.max_parallel",
			need:  func() bool { return b.MaxParallel <= 0 },
			apply: func() { b.MaxParallel = defaultMaxParallel },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
