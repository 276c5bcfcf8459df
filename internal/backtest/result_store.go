package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// runModel 是 backtest_runs 表：一行一个 run × symbol。
type runModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	RunID         string         `gorm:"column:run_id;index"`
	Symbol        string         `gorm:"column:symbol"`
	InitialEquity float64        `gorm:"column:initial_equity"`
	FinalEquity   float64        `gorm:"column:final_equity"`
	TradeCount    int            `gorm:"column:trade_count"`
	SkipCount     int            `gorm:"column:skip_count"`
	StatsJSON     datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	EquityJSON    datatypes.JSON `gorm:"column:equity_json;type:TEXT"`
	SkipsJSON     datatypes.JSON `gorm:"column:skips_json;type:TEXT"`
	StartedAtUnix int64          `gorm:"column:started_at"`
	ElapsedMs     int64          `gorm:"column:elapsed_ms"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

// tradeModel 是 backtest_trades 表，fills 以 JSON 附在行内。
type tradeModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	RunID          string         `gorm:"column:run_id;index"`
	TradeID        int            `gorm:"column:trade_id"`
	Symbol         string         `gorm:"column:symbol"`
	Side           string         `gorm:"column:side"`
	Pattern        string         `gorm:"column:pattern"`
	EntryTimeUnix  int64          `gorm:"column:entry_time"`
	ExitTimeUnix   int64          `gorm:"column:exit_time"`
	ExitReason     string         `gorm:"column:exit_reason"`
	Units          float64        `gorm:"column:units"`
	EntryPriceExec float64        `gorm:"column:entry_price_exec"`
	InitialRiskJPY float64        `gorm:"column:initial_risk_jpy"`
	MaxRiskJPY     float64        `gorm:"column:max_risk_jpy"`
	PnLNet         float64        `gorm:"column:pnl_net_jpy"`
	TotalCost      float64        `gorm:"column:total_cost_jpy"`
	FillsJSON      datatypes.JSON `gorm:"column:fills_json;type:TEXT"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

// ResultStore implements backtest result persistence using Gorm + SQLite.
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(root string) (*ResultStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("result store: 路径不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: 给并发 HTTP 读留一点余量，同时控制锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun 持久化一次回测的全部 symbol 结果。
func (s *ResultStore) SaveRun(ctx context.Context, run *RunResult) error {
	now := time.Now().Unix()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range run.Results {
			res := &run.Results[i]
			statsJSON, err := json.Marshal(res.Stats)
			if err != nil {
				return err
			}
			equityJSON, err := json.Marshal(res.Equity)
			if err != nil {
				return err
			}
			skipsJSON, err := json.Marshal(res.Skips)
			if err != nil {
				return err
			}
			row := runModel{
				RunID:         run.RunID,
				Symbol:        res.Symbol,
				InitialEquity: res.InitialEquity,
				FinalEquity:   res.FinalEquity,
				TradeCount:    len(res.Trades),
				SkipCount:     len(res.Skips),
				StatsJSON:     datatypes.JSON(statsJSON),
				EquityJSON:    datatypes.JSON(equityJSON),
				SkipsJSON:     datatypes.JSON(skipsJSON),
				StartedAtUnix: run.StartedAt.Unix(),
				ElapsedMs:     run.Elapsed.Milliseconds(),
				CreatedAtUnix: now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			for _, tr := range res.Trades {
				fillsJSON, err := json.Marshal(tr.Fills)
				if err != nil {
					return err
				}
				trow := tradeModel{
					RunID:          run.RunID,
					TradeID:        tr.ID,
					Symbol:         tr.Symbol,
					Side:           string(tr.Side),
					Pattern:        tr.Pattern,
					EntryTimeUnix:  tr.EntryTime.Unix(),
					ExitReason:     string(tr.FinalExitReason),
					Units:          tr.Units,
					EntryPriceExec: tr.EntryPriceExec,
					InitialRiskJPY: tr.InitialRiskJPY,
					MaxRiskJPY:     tr.MaxRiskJPY,
					PnLNet:         tr.TotalPnLNet,
					TotalCost:      tr.TotalCost,
					FillsJSON:      datatypes.JSON(fillsJSON),
				}
				if tr.Closed() {
					trow.ExitTimeUnix = tr.FinalExitTime.Unix()
				}
				if err := tx.Create(&trow).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// RunSummary 是 run 列表接口的返回行。
type RunSummary struct {
	RunID         string  `json:"run_id"`
	Symbol        string  `json:"symbol"`
	InitialEquity float64 `json:"initial_equity"`
	FinalEquity   float64 `json:"final_equity"`
	TradeCount    int     `json:"trade_count"`
	SkipCount     int     `json:"skip_count"`
	StartedAt     int64   `json:"started_at"`
	ElapsedMs     int64   `json:"elapsed_ms"`
}

// ListRuns 返回最近的 run 行（新的在前）。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []runModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]RunSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, RunSummary{
			RunID:         r.RunID,
			Symbol:        r.Symbol,
			InitialEquity: r.InitialEquity,
			FinalEquity:   r.FinalEquity,
			TradeCount:    r.TradeCount,
			SkipCount:     r.SkipCount,
			StartedAt:     r.StartedAtUnix,
			ElapsedMs:     r.ElapsedMs,
		})
	}
	return out, nil
}

// RunDetail 是单个 run × symbol 的完整查询结果。
type RunDetail struct {
	RunSummary
	Stats  json.RawMessage `json:"stats"`
	Equity json.RawMessage `json:"equity"`
	Skips  json.RawMessage `json:"skips"`
}

// GetRun 返回某个 run 的全部 symbol 明细。
func (s *ResultStore) GetRun(ctx context.Context, runID string) ([]RunDetail, error) {
	var rows []runModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).Order("symbol").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	out := make([]RunDetail, 0, len(rows))
	for _, r := range rows {
		out = append(out, RunDetail{
			RunSummary: RunSummary{
				RunID:         r.RunID,
				Symbol:        r.Symbol,
				InitialEquity: r.InitialEquity,
				FinalEquity:   r.FinalEquity,
				TradeCount:    r.TradeCount,
				SkipCount:     r.SkipCount,
				StartedAt:     r.StartedAtUnix,
				ElapsedMs:     r.ElapsedMs,
			},
			Stats:  json.RawMessage(r.StatsJSON),
			Equity: json.RawMessage(r.EquityJSON),
			Skips:  json.RawMessage(r.SkipsJSON),
		})
	}
	return out, nil
}

// TradeRow 是 trade 列表接口的返回行。
type TradeRow struct {
	TradeID        int             `json:"trade_id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Pattern        string          `json:"pattern"`
	EntryTime      int64           `json:"entry_time"`
	ExitTime       int64           `json:"exit_time"`
	ExitReason     string          `json:"exit_reason"`
	Units          float64         `json:"units"`
	EntryPriceExec float64         `json:"entry_price_exec"`
	InitialRiskJPY float64         `json:"initial_risk_jpy"`
	MaxRiskJPY     float64         `json:"max_risk_jpy"`
	PnLNet         float64         `json:"pnl_net_jpy"`
	TotalCost      float64         `json:"total_cost_jpy"`
	Fills          json.RawMessage `json:"fills"`
}

// GetTrades 返回某个 run 的全部交易（按入场时间升序）。
func (s *ResultStore) GetTrades(ctx context.Context, runID string) ([]TradeRow, error) {
	var rows []tradeModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).Order("entry_time, trade_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]TradeRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, TradeRow{
			TradeID:        r.TradeID,
			Symbol:         r.Symbol,
			Side:           r.Side,
			Pattern:        r.Pattern,
			EntryTime:      r.EntryTimeUnix,
			ExitTime:       r.ExitTimeUnix,
			ExitReason:     r.ExitReason,
			Units:          r.Units,
			EntryPriceExec: r.EntryPriceExec,
			InitialRiskJPY: r.InitialRiskJPY,
			MaxRiskJPY:     r.MaxRiskJPY,
			PnLNet:         r.PnLNet,
			TotalCost:      r.TotalCost,
			Fills:          json.RawMessage(r.FillsJSON),
		})
	}
	return out, nil
}

var ErrRunNotFound = gorm.ErrRecordNotFound
