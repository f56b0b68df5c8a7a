package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"futures-bot/internal/app"
	"futures-bot/internal/config"
	"futures-bot/internal/log"
	"futures-bot/internal/store"
)

const usage = `用法: trader [-config 路径] <命令> [参数]

命令:
  market       市价单
  limit        限价单
  stop-limit   触发限价单
  stop-market  触发市价单
  take-profit  止盈触发单
  oco          止盈止损双腿（一腿成交撤另一腿）
  twap         时间加权拆单
  grid         网格挂单
  dca          定投
  cancel       撤单
  status       挂单与账户状态
  balance      账户资金

每个命令支持 -h 查看自身参数。`

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}
	command := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	tradingApp, err := app.New(cfg, logger, sqliteStore)
	if err != nil {
		logger.Error("初始化失败", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tradingApp.Run(ctx, command, args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		logger.Error("命令执行失败", zap.String("command", command), zap.Error(err))
		os.Exit(1)
	}
}
