package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"minfx/internal/app"
	"minfx/internal/config"
	"minfx/internal/logger"
)

func main() {
	cfgPath := os.Getenv("MINFX_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，broker=%s）", cfg.App.Env, cfg.Broker.Name)

	mode := "alert"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		mode = args[0]
		args = args[1:]
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "alert":
		if err := a.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("运行失败: %v", err)
		}
	case "backtest":
		fs := flag.NewFlagSet("backtest", flag.ExitOnError)
		symbols := fs.String("symbols", "", "逗号分隔的 symbol 列表（留空用配置）")
		startStr := fs.String("start", "", "开始日期 YYYY-MM-DD")
		endStr := fs.String("end", "", "结束日期 YYYY-MM-DD")
		_ = fs.Parse(args)

		var start, end time.Time
		if *startStr != "" {
			if start, err = time.Parse("2006-01-02", *startStr); err != nil {
				log.Fatalf("start 日期不合法: %v", err)
			}
		}
		if *endStr != "" {
			if end, err = time.Parse("2006-01-02", *endStr); err != nil {
				log.Fatalf("end 日期不合法: %v", err)
			}
		}
		var syms []string
		if *symbols != "" {
			for _, s := range strings.Split(*symbols, ",") {
				if s = strings.TrimSpace(s); s != "" {
					syms = append(syms, s)
				}
			}
		}
		if err := a.Backtest(ctx, syms, start, end); err != nil {
			log.Fatalf("回测失败: %v", err)
		}
	default:
		log.Fatalf("未知子命令 %q（支持 alert / backtest）", mode)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
