package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Reference ReferenceConfig `mapstructure:"reference"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string       `mapstructure:"name"`
	APIKey     string       `mapstructure:"api_key"`
	APISecret  string       `mapstructure:"api_secret"`
	UseTestnet bool         `mapstructure:"use_testnet"`
	Retry      RetryConfig  `mapstructure:"retry"`
	Pacing     PacingConfig `mapstructure:"pacing"`
}

// RetryConfig 统一控制只读调用的重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// PacingConfig 控制对交易所的全局请求节奏。
// 所有调用串行通过同一个节流器，最小间隔集中执行，
// 避免各调用方各自退避导致的叠加延迟。
type PacingConfig struct {
	MinInterval      time.Duration `mapstructure:"min_interval"`
	RateLimitPenalty time.Duration `mapstructure:"rate_limit_penalty"`
}

// ExecutionConfig 控制下单行为。
type ExecutionConfig struct {
	Simulation  bool   `mapstructure:"simulation"`
	TimeInForce string `mapstructure:"time_in_force"`
}

// MonitorConfig 控制订单状态轮询。
type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ReferenceConfig 控制参考价计算（网格 AUTO 方向分配使用）。
type ReferenceConfig struct {
	Timeframe string `mapstructure:"timeframe"`
	Lookback  int    `mapstructure:"lookback"`
	EMAPeriod int    `mapstructure:"ema_period"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if !c.Execution.Simulation {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			err = multierr.Append(err, errors.New("实盘模式需要配置 exchange.api_key 与 api_secret"))
		}
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Exchange.Pacing.MinInterval <= 0 {
		err = multierr.Append(err, errors.New("exchange.pacing.min_interval 必须大于0"))
	}
	if c.Exchange.Pacing.RateLimitPenalty < c.Exchange.Pacing.MinInterval {
		err = multierr.Append(err, errors.New("exchange.pacing.rate_limit_penalty 不应小于 min_interval"))
	}
	switch c.Execution.TimeInForce {
	case "GTC", "IOC", "FOK":
	default:
		err = multierr.Append(err, errors.New("execution.time_in_force 必须为 GTC/IOC/FOK"))
	}
	if c.Monitor.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("monitor.poll_interval 必须大于0"))
	}
	if c.Reference.Timeframe == "" {
		err = multierr.Append(err, errors.New("reference.timeframe 不能为空"))
	}
	if c.Reference.Lookback <= 0 {
		err = multierr.Append(err, errors.New("reference.lookback 必须大于0"))
	}
	if c.Reference.EMAPeriod <= 0 || c.Reference.EMAPeriod > c.Reference.Lookback {
		err = multierr.Append(err, errors.New("reference.ema_period 必须位于(0, lookback]"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
