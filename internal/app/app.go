// Package app 负责应用级编排：加载配置 → 初始化依赖 →
// 启动实时告警与回测服务。
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"minfx/internal/backtest"
	"minfx/internal/broker"
	"minfx/internal/config"
	"minfx/internal/logger"
	"minfx/internal/marketdata"
	"minfx/internal/notify"
	"minfx/internal/pattern"
	"minfx/internal/state"
)

// App 持有全部已装配的服务（不启动）。
type App struct {
	cfg      *config.Config
	alert    *AlertService
	httpSrv  *backtest.HTTPServer
	runner   *backtest.Runner
	results  *backtest.ResultStore
	barCache *marketdata.Store
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	source, cache, err := buildSource(cfg)
	if err != nil {
		return nil, err
	}
	cost, err := broker.NewCostModel(&cfg.Broker, false)
	if err != nil {
		return nil, err
	}
	detector := pattern.NewDetector(pattern.Settings{
		EMAPeriod:     cfg.Strategy.EMAPeriod,
		ATRPeriod:     cfg.Strategy.ATRPeriod,
		ATRMultiplier: cfg.Strategy.ATRMultiplier,
		TP1R:          cfg.Strategy.TP1R,
		TP2R:          cfg.Strategy.TP2R,
	})

	var notifier notify.TextNotifier
	if cfg.Notify.Line.Enabled {
		notifier = notify.NewLine(cfg.Notify.Line.ChannelToken, cfg.Notify.Line.UserID)
	} else {
		notifier = logNotifier{}
	}

	store, err := state.NewStore(cfg.Notify.StateFile)
	if err != nil {
		return nil, err
	}

	alert, err := NewAlertService(cfg, source, cost, detector, notifier, store)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, alert: alert, barCache: cache}

	if cfg.Backtest.HTTPEnabled {
		results, err := backtest.NewResultStore(cfg.Backtest.ResultRoot)
		if err != nil {
			return nil, err
		}
		runner, err := backtest.NewRunner(cfg, source, results)
		if err != nil {
			return nil, err
		}
		httpSrv, err := backtest.NewHTTPServer(backtest.HTTPConfig{
			Addr:   cfg.App.HTTPAddr,
			Runner: runner,
			Store:  results,
		})
		if err != nil {
			return nil, err
		}
		a.results = results
		a.runner = runner
		a.httpSrv = httpSrv
	}
	return a, nil
}

// Run 启动实时告警循环（以及可选的回测 HTTP 服务），阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("backtest http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return a.alert.Run(ctx)
	})

	err := group.Wait()
	a.Close()
	return err
}

// Backtest 以命令行模式执行一次回测并写出审计文件。
func (a *App) Backtest(ctx context.Context, symbols []string, start, end time.Time) error {
	results := a.results
	if results == nil {
		var err error
		results, err = backtest.NewResultStore(a.cfg.Backtest.ResultRoot)
		if err != nil {
			return err
		}
		defer results.Close()
	}
	runner := a.runner
	if runner == nil {
		source, _, err := buildSource(a.cfg)
		if err != nil {
			return err
		}
		if runner, err = backtest.NewRunner(a.cfg, source, results); err != nil {
			return err
		}
	}

	run, err := runner.Run(ctx, backtest.Request{Symbols: symbols, Start: start, End: end})
	if err != nil {
		return err
	}
	dir, err := backtest.WriteBundle(a.cfg.Backtest.ResultRoot, run)
	if err != nil {
		return err
	}
	logger.Infof("backtest: 審計ファイル出力 %s", dir)
	return nil
}

// Close 释放持有的资源。
func (a *App) Close() {
	if a.barCache != nil {
		_ = a.barCache.Close()
	}
	if a.results != nil {
		_ = a.results.Close()
	}
}

func buildSource(cfg *config.Config) (marketdata.Source, *marketdata.Store, error) {
	remote := marketdata.NewTwelveDataSource(cfg.Data.BaseURL, cfg.Data.APIKey,
		time.Duration(cfg.Data.Timeout)*time.Second)
	if !cfg.Data.UseCache {
		return remote, nil, nil
	}
	cache, err := marketdata.NewStore(cfg.Data.CacheDir)
	if err != nil {
		return nil, nil, err
	}
	return marketdata.NewCachedSource(remote, cache), cache, nil
}

// logNotifier 在未配置 LINE 时把通知打到日志里。
type logNotifier struct{}

func (logNotifier) SendText(text string) error {
	logger.Infof("通知（ドライラン）:")
	logger.InfoBlock(text)
	return nil
}
