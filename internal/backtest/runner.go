// Package backtest 把模拟引擎编排成多 symbol 的回测运行，
// 并负责结果的持久化、导出与 HTTP 查询。
package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"minfx/internal/broker"
	"minfx/internal/config"
	"minfx/internal/engine"
	"minfx/internal/logger"
	"minfx/internal/market"
	"minfx/internal/marketdata"
	"minfx/internal/pattern"
)

// Request 描述一次回测：时间区间 + 参与的 symbol。
// Symbols 为空时使用配置中的全部 symbol。
type Request struct {
	Symbols []string
	Start   time.Time
	End     time.Time
}

// RunResult 汇总一次回测运行的全部 symbol 结果。
type RunResult struct {
	RunID     string          `json:"run_id"`
	StartedAt time.Time       `json:"started_at"`
	Elapsed   time.Duration   `json:"elapsed"`
	Results   []engine.Result `json:"results"`
}

// Runner 持有回测所需的配置与数据源，按 symbol 并行推演。
type Runner struct {
	cfg    *config.Config
	source marketdata.Source
	store  *ResultStore
}

func NewRunner(cfg *config.Config, source marketdata.Source, store *ResultStore) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backtest: config 不能为空")
	}
	if source == nil {
		return nil, fmt.Errorf("backtest: data source 不能为空")
	}
	return &Runner{cfg: cfg, source: source, store: store}, nil
}

// Run 执行一次回测：拉取数据、逐 symbol 推演、落库。
// 单 symbol 的推演内部是严格单线程的，symbol 之间用
// errgroup 并行，并受 MaxParallel 限制。
func (r *Runner) Run(ctx context.Context, req Request) (*RunResult, error) {
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = r.cfg.Strategy.Symbols
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("backtest: 没有可回测的 symbol")
	}

	entryTF, err := market.ParseTimeframe(r.cfg.Strategy.EntryTimeframe)
	if err != nil {
		return nil, err
	}
	envTF, err := market.ParseTimeframe(r.cfg.Strategy.EnvTimeframe)
	if err != nil {
		return nil, err
	}

	cost, err := broker.NewCostModel(&r.cfg.Broker, r.cfg.Backtest.UseDaylight)
	if err != nil {
		return nil, err
	}
	detector := pattern.NewDetector(pattern.Settings{
		EMAPeriod:     r.cfg.Strategy.EMAPeriod,
		ATRPeriod:     r.cfg.Strategy.ATRPeriod,
		ATRMultiplier: r.cfg.Strategy.ATRMultiplier,
		TP1R:          r.cfg.Strategy.TP1R,
		TP2R:          r.cfg.Strategy.TP2R,
	})

	run := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	logger.Infof("backtest: run %s 开始, symbols=%v", run.RunID, symbols)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	limit := r.cfg.Backtest.MaxParallel
	if limit <= 0 {
		limit = len(symbols)
	}
	g.SetLimit(limit)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			res, err := r.runSymbol(gctx, symbol, entryTF, envTF, cost, detector, req)
			if err != nil {
				return fmt.Errorf("backtest: %s 推演失败: %w", symbol, err)
			}
			mu.Lock()
			run.Results = append(run.Results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	run.Elapsed = time.Since(run.StartedAt)

	if r.store != nil {
		if err := r.store.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("backtest: 保存结果失败: %w", err)
		}
	}
	logger.Infof("backtest: run %s 完成, 用时 %s", run.RunID, run.Elapsed.Round(time.Millisecond))
	return run, nil
}

func (r *Runner) runSymbol(ctx context.Context, symbol string, entryTF, envTF market.Timeframe,
	cost *broker.CostModel, detector *pattern.Detector, req Request) (engine.Result, error) {

	entry, err := r.loadBars(ctx, symbol, entryTF, req)
	if err != nil {
		return engine.Result{}, err
	}
	env, err := r.loadBars(ctx, symbol, envTF, req)
	if err != nil {
		return engine.Result{}, err
	}

	eng, err := engine.New(engine.Config{
		Symbol:        symbol,
		Cost:          cost,
		Detector:      detector,
		TradeUnit:     r.cfg.Broker.TradeUnit,
		InitialEquity: r.cfg.Risk.InitialEquityJPY,
		RiskPct:       r.cfg.Risk.RiskPct,
		TP1ClosePct:   r.cfg.Strategy.TP1ClosePct,
		EntryInterval: entryTF.Duration,
		EnvInterval:   envTF.Duration,
	})
	if err != nil {
		return engine.Result{}, err
	}
	return eng.Run(ctx, entry, env)
}

func (r *Runner) loadBars(ctx context.Context, symbol string, tf market.Timeframe, req Request) (market.Bars, error) {
	bars, err := r.source.Fetch(ctx, marketdata.FetchRequest{
		Symbol:    symbol,
		Timeframe: tf,
		Limit:     5000,
	})
	if err != nil {
		return nil, err
	}
	bars.SortAscending()
	if !req.Start.IsZero() || !req.End.IsZero() {
		bars = bars.Between(req.Start, req.End)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s %s 区间内无数据", symbol, tf.Key)
	}
	return bars, nil
}
