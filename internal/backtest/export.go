package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gopkg.in/yaml.v3"

	"minfx/internal/engine"
)

// WriteBundle 把一次 run 的审计文件写到 root/<run_id>/<symbol>/ 下：
// trades.csv / fills.csv / equity.csv / skips.csv / summary.yaml / equity.html。
func WriteBundle(root string, run *RunResult) (string, error) {
	if root == "" {
		return "", fmt.Errorf("export: result root 不能为空")
	}
	runDir := filepath.Join(root, run.RunID)
	for i := range run.Results {
		res := &run.Results[i]
		dir := filepath.Join(runDir, symbolDir(res.Symbol))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		if err := writeTradesCSV(filepath.Join(dir, "trades.csv"), res.Trades); err != nil {
			return "", err
		}
		if err := writeFillsCSV(filepath.Join(dir, "fills.csv"), res.Trades); err != nil {
			return "", err
		}
		if err := writeEquityCSV(filepath.Join(dir, "equity.csv"), res.Equity); err != nil {
			return "", err
		}
		if err := writeSkipsCSV(filepath.Join(dir, "skips.csv"), res.Skips); err != nil {
			return "", err
		}
		if err := writeSummaryYAML(filepath.Join(dir, "summary.yaml"), run, res); err != nil {
			return "", err
		}
		if err := writeEquityChart(filepath.Join(dir, "equity.html"), res); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

func symbolDir(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeTradesCSV(path string, trades []*engine.Trade) error {
	header := []string{
		"trade_id", "symbol", "side", "pattern",
		"entry_time", "entry_price_mid", "entry_price_exec", "units",
		"initial_stop_mid", "initial_stop_exec", "initial_risk_jpy", "max_risk_jpy",
		"tp1_price", "tp2_price", "exit_time", "exit_reason",
		"pnl_gross_jpy", "pnl_net_jpy", "total_cost_jpy", "holding_hours",
	}
	rows := make([][]string, 0, len(trades))
	for _, tr := range trades {
		exitTime := ""
		if tr.Closed() {
			exitTime = tr.FinalExitTime.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			strconv.Itoa(tr.ID), tr.Symbol, string(tr.Side), tr.Pattern,
			tr.EntryTime.UTC().Format(time.RFC3339),
			formatF(tr.EntryPriceMid), formatF(tr.EntryPriceExec), formatF(tr.Units),
			formatF(tr.InitialStopMid), formatF(tr.InitialStopExec),
			formatF(tr.InitialRiskJPY), formatF(tr.MaxRiskJPY),
			formatF(tr.TP1PriceMid), formatF(tr.TP2PriceMid),
			exitTime, string(tr.FinalExitReason),
			formatF(tr.TotalPnLGross), formatF(tr.TotalPnLNet),
			formatF(tr.TotalCost), formatF(tr.HoldingHours),
		})
	}
	return writeCSV(path, header, rows)
}

func writeFillsCSV(path string, trades []*engine.Trade) error {
	header := []string{
		"trade_id", "symbol", "side", "fill_type", "fill_time",
		"price_mid", "price_exec", "units",
		"spread_pips", "slippage_pips", "spread_cost_jpy", "slippage_cost_jpy",
		"swap_jpy", "pnl_gross_jpy", "pnl_net_jpy",
	}
	var rows [][]string
	for _, tr := range trades {
		for _, f := range tr.Fills {
			rows = append(rows, []string{
				strconv.Itoa(f.TradeID), f.Symbol, string(f.Side), string(f.Type),
				f.Time.UTC().Format(time.RFC3339),
				formatF(f.PriceMid), formatF(f.PriceExec), formatF(f.Units),
				formatF(f.SpreadPips), formatF(f.SlippagePips),
				formatF(f.SpreadCost), formatF(f.SlippageCost),
				formatF(f.SwapJPY), formatF(f.PnLGross), formatF(f.PnLNet),
			})
		}
	}
	return writeCSV(path, header, rows)
}

func writeEquityCSV(path string, points []engine.EquityPoint) error {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{p.Time.UTC().Format(time.RFC3339), formatF(p.Equity)})
	}
	return writeCSV(path, []string{"time", "equity_jpy"}, rows)
}

func writeSkipsCSV(path string, skips []engine.SkipRecord) error {
	rows := make([][]string, 0, len(skips))
	for _, sk := range skips {
		entryTime := ""
		if !sk.EntryTime.IsZero() {
			entryTime = sk.EntryTime.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			sk.SignalTime.UTC().Format(time.RFC3339), entryTime,
			sk.Symbol, string(sk.Side), string(sk.Reason), sk.Detail,
		})
	}
	return writeCSV(path, []string{"signal_time", "entry_time", "symbol", "side", "reason", "detail"}, rows)
}

// summaryDoc 是 summary.yaml 的结构。
type summaryDoc struct {
	RunID         string       `yaml:"run_id"`
	Symbol        string       `yaml:"symbol"`
	StartedAt     string       `yaml:"started_at"`
	ElapsedMs     int64        `yaml:"elapsed_ms"`
	InitialEquity float64      `yaml:"initial_equity_jpy"`
	FinalEquity   float64      `yaml:"final_equity_jpy"`
	Stats         engine.Stats `yaml:"stats"`
}

func writeSummaryYAML(path string, run *RunResult, res *engine.Result) error {
	doc := summaryDoc{
		RunID:         run.RunID,
		Symbol:        res.Symbol,
		StartedAt:     run.StartedAt.UTC().Format(time.RFC3339),
		ElapsedMs:     run.Elapsed.Milliseconds(),
		InitialEquity: res.InitialEquity,
		FinalEquity:   res.FinalEquity,
		Stats:         res.Stats,
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// writeEquityChart 生成权益曲线的独立 HTML。
func writeEquityChart(path string, res *engine.Result) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s 資産推移", res.Symbol),
			Subtitle: fmt.Sprintf("初期 %.0f 円 → 最終 %.0f 円", res.InitialEquity, res.FinalEquity),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	xAxis := make([]string, 0, len(res.Equity))
	data := make([]opts.LineData, 0, len(res.Equity))
	for _, p := range res.Equity {
		xAxis = append(xAxis, p.Time.UTC().Format("2006-01-02 15:04"))
		data = append(data, opts.LineData{Value: p.Equity})
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", data, charts.WithLineStyleOpts(opts.LineStyle{Width: 2}))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return line.Render(f)
}

func formatF(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
