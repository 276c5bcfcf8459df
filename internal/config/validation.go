package config

import (
	"fmt"
	"strings"
	"time"

	"minfx/internal/market"
)

// validate 对配置进行基础校验，失败即视为 ConfigurationError。
func validate(c *Config) error {
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if _, err := time.LoadLocation(b.Timezone); err != nil {
		return fmt.Errorf("broker.timezone invalid (%s): %w", b.Timezone, err)
	}
	tu := b.TradeUnit
	if tu.LotSizeUnits <= 0 || tu.MinLot <= 0 || tu.LotStep <= 0 {
		return fmt.Errorf("broker.trade_unit values must be > 0")
	}
	if len(b.Spread.AdvertisedPips) == 0 {
		return fmt.Errorf("broker.spread.advertised_pips requires at least one symbol")
	}
	for sym, pair := range b.Spread.AdvertisedPips {
		if pair.Fixed <= 0 || pair.Widened <= 0 {
			return fmt.Errorf("broker.spread.advertised_pips.%s must be > 0", sym)
		}
	}
	windows := []struct {
		name  string
		value string
	}{
		{"broker.spread.fixed_window.start", b.Spread.FixedWindow.Start},
		{"broker.spread.fixed_window.end", b.Spread.FixedWindow.End},
		{"broker.spread.widened_windows.pre_open.default_start", b.Spread.WidenedWindows.PreOpen.DefaultStart},
		{"broker.spread.widened_windows.pre_open.monday_start", b.Spread.WidenedWindows.PreOpen.MondayStart},
		{"broker.spread.widened_windows.pre_open.end", b.Spread.WidenedWindows.PreOpen.End},
		{"broker.spread.widened_windows.post_close.start", b.Spread.WidenedWindows.PostClose.Start},
		{"broker.spread.widened_windows.post_close.end", b.Spread.WidenedWindows.PostClose.End},
	}
	for _, w := range windows {
		if _, err := ParseClock(w.value); err != nil {
			return fmt.Errorf("%s invalid: %w", w.name, err)
		}
	}
	for _, ws := range [][]ClockWindow{
		b.Maintenance.Daily.StandardTime.Monday,
		b.Maintenance.Daily.StandardTime.TueSun,
		b.Maintenance.Daily.DaylightTime.Monday,
		b.Maintenance.Daily.DaylightTime.TueSun,
	} {
		for _, w := range ws {
			if _, err := ParseClock(w.Start); err != nil {
				return fmt.Errorf("broker.maintenance.daily window start invalid: %w", err)
			}
			if _, err := ParseClock(w.End); err != nil {
				return fmt.Errorf("broker.maintenance.daily window end invalid: %w", err)
			}
		}
	}
	for _, w := range b.Maintenance.Weekly {
		if _, ok := w.Weekday(); !ok {
			return fmt.Errorf("broker.maintenance.weekly dow invalid: %s", w.Dow)
		}
		if _, err := ParseClock(w.Start); err != nil {
			return fmt.Errorf("broker.maintenance.weekly start invalid: %w", err)
		}
		if _, err := ParseClock(w.End); err != nil {
			return fmt.Errorf("broker.maintenance.weekly end invalid: %w", err)
		}
	}
	switch b.Swap.Mode {
	case SwapModeIgnore, SwapModeFixedTable, SwapModeDailyCSV:
	default:
		return fmt.Errorf("broker.swap.mode must be one of ignore/fixed_table/daily_csv, got %q", b.Swap.Mode)
	}
	if b.Swap.Mode == SwapModeDailyCSV && strings.TrimSpace(b.Swap.DailyCSV) == "" {
		return fmt.Errorf("broker.swap.daily_csv path required when mode=daily_csv")
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if len(s.Symbols) == 0 {
		return fmt.Errorf("strategy.symbols requires at least one symbol")
	}
	for _, tf := range []string{s.EntryTimeframe, s.EnvTimeframe} {
		if _, err := market.ParseTimeframe(tf); err != nil {
			return fmt.Errorf("strategy timeframe invalid (supported: %s): %w",
				strings.Join(market.SupportedTimeframes(), "/"), err)
		}
	}
	if s.TP1ClosePct <= 0 || s.TP1ClosePct >= 1 {
		return fmt.Errorf("strategy.tp1_close_pct must be in (0, 1)")
	}
	if s.TP2R <= s.TP1R {
		return fmt.Errorf("strategy.tp2_r must be greater than tp1_r")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.RiskPct <= 0 || r.RiskPct >= 1 {
		return fmt.Errorf("risk.risk_pct must be in (0, 1)")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Line.Enabled {
		if strings.TrimSpace(n.Line.ChannelToken) == "" || strings.TrimSpace(n.Line.UserID) == "" {
			return fmt.Errorf("notify.line requires channel_token and user_id when enabled")
		}
	}
	return nil
}

// ParseClock 把 "HH:MM" 解析为当日分钟数 [0, 1440)。
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expect HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
