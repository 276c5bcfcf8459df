package engine

// Stats 是一次推演的汇总指标，直接从 Result 派生，可随时重算。
type Stats struct {
	TotalTrades    int     `json:"total_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"`
	GrossProfit    float64 `json:"gross_profit_jpy"`
	GrossLoss      float64 `json:"gross_loss_jpy"`
	NetPnL         float64 `json:"net_pnl_jpy"`
	ProfitFactor   float64 `json:"profit_factor"`
	TotalCost      float64 `json:"total_cost_jpy"`
	MaxDrawdown    float64 `json:"max_drawdown_jpy"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`

	SkipCount   int                `json:"skip_count"`
	SkipReasons map[SkipReason]int `json:"skip_reasons,omitempty"`

	// RiskViolations 统计 InitialRiskJPY 超过 MaxRiskJPY 的笔数。
	// 仓位计算的硬性保证下该值恒为 0，非 0 即缺陷。
	RiskViolations int `json:"risk_violations"`
}

// ComputeStats 从结果中重算全部汇总指标。
func ComputeStats(r Result) Stats {
	s := Stats{SkipReasons: make(map[SkipReason]int)}

	for _, tr := range r.Trades {
		if !tr.Closed() {
			continue
		}
		s.TotalTrades++
		s.NetPnL += tr.TotalPnLNet
		s.TotalCost += tr.TotalCost
		if tr.TotalPnLNet > 0 {
			s.Wins++
			s.GrossProfit += tr.TotalPnLNet
		} else {
			s.Losses++
			s.GrossLoss += -tr.TotalPnLNet
		}
		if tr.InitialRiskJPY > tr.MaxRiskJPY {
			s.RiskViolations++
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades)
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}

	peak := r.InitialEquity
	for _, p := range r.Equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := peak - p.Equity
		if dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
			if peak > 0 {
				s.MaxDrawdownPct = dd / peak
			}
		}
	}

	s.SkipCount = len(r.Skips)
	for _, sk := range r.Skips {
		s.SkipReasons[sk.Reason]++
	}
	return s
}
