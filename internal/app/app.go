package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"futures-bot/internal/config"
	"futures-bot/internal/exchange"
	"futures-bot/internal/execution"
	"futures-bot/internal/indicator"
	"futures-bot/internal/monitor"
	"futures-bot/internal/position"
	"futures-bot/internal/store"
)

// App 聚合核心依赖并将 CLI 子命令分发到对应的策略执行。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store

	gateway exchange.Gateway
	client  *exchange.Client
	placer  *execution.Placer
	journal *monitor.Journal
	watcher *monitor.Watcher
	pricer  *indicator.ReferencePricer
	posMgr  *position.Manager
}

// New 创建 App 实例并完成全部依赖装配。
func New(cfg *config.Config, logger *zap.Logger, sqliteStore *store.Store) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  sqliteStore,
	}

	journal, err := monitor.NewJournal(sqliteStore, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化事件日志失败: %w", err)
	}
	a.journal = journal

	if cfg.Execution.Simulation {
		logger.Info("网关处于模拟模式，不会触达真实交易所")
		a.gateway = exchange.NewSimulator(logger)
	} else {
		client, err := exchange.NewClient(cfg.Exchange, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
		}
		a.client = client
		a.gateway = client
		a.pricer = indicator.NewReferencePricer(
			client,
			cfg.Reference.Timeframe,
			cfg.Reference.Lookback,
			cfg.Reference.EMAPeriod,
			logger,
		)
		a.posMgr = position.NewManager(client, logger)
	}

	a.placer = execution.NewPlacer(a.gateway, logger)
	a.watcher = monitor.NewWatcher(a.gateway, journal, cfg.Monitor.PollInterval, logger)

	return a, nil
}

// Run 分发子命令。监控循环按需在后台启动，命令结束时随 ctx 一同退出。
func (a *App) Run(ctx context.Context, command string, args []string) error {
	handler, ok := a.commands()[command]
	if !ok {
		return fmt.Errorf("未知命令 %q，可用命令: %s", command, commandList)
	}
	return handler(ctx, args)
}
