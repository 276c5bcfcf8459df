package broker

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"minfx/internal/config"
)

// swapFunc 计算 rollovers 次隔夜滚动的 swap（JPY）。
type swapFunc func(symbol string, side Side, units float64, rollovers int) float64

func newSwapFunc(cfg *config.BrokerConfig) (swapFunc, error) {
	tu := cfg.TradeUnit
	switch cfg.Swap.Mode {
	case config.SwapModeIgnore:
		return func(string, Side, float64, int) float64 { return 0 }, nil
	case config.SwapModeFixedTable:
		table := make(map[string]config.SwapSides, len(cfg.Swap.FixedTable))
		for sym, sides := range cfg.Swap.FixedTable {
			table[strings.ToUpper(sym)] = sides
		}
		return newTableSwapFunc(table, tu), nil
	case config.SwapModeDailyCSV:
		table, err := loadSwapCSV(cfg.Swap.DailyCSV)
		if err != nil {
			return nil, err
		}
		return newTableSwapFunc(table, tu), nil
	}
	return nil, fmt.Errorf("未知 swap 模式: %s", cfg.Swap.Mode)
}

func newTableSwapFunc(table map[string]config.SwapSides, tu config.TradeUnit) swapFunc {
	return func(symbol string, side Side, units float64, rollovers int) float64 {
		sides, ok := table[symbol]
		if !ok {
			return 0
		}
		perLot := sides.Long
		if side == SideShort {
			perLot = sides.Short
		}
		lots := units / float64(tu.LotSizeFor(symbol))
		return perLot * lots * float64(rollovers)
	}
}

// loadSwapCSV 读取券商公示的 swap 日表。
// 列格式: symbol,long_jpy_per_lot,short_jpy_per_lot（首行为表头）。
func loadSwapCSV(path string) (map[string]config.SwapSides, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("读取 swap CSV 失败: %w", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("解析 swap CSV 失败 (%s): %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("swap CSV 无数据行 (%s)", path)
	}
	table := make(map[string]config.SwapSides, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 3 {
			return nil, fmt.Errorf("swap CSV 第 %d 行列数不足", i+2)
		}
		long, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("swap CSV 第 %d 行 long 无效: %w", i+2, err)
		}
		short, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("swap CSV 第 %d 行 short 无效: %w", i+2, err)
		}
		table[strings.ToUpper(strings.TrimSpace(row[0]))] = config.SwapSides{Long: long, Short: short}
	}
	return table, nil
}
