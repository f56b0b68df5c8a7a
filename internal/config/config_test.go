package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		App: AppConfig{Environment: "test"},
		Exchange: ExchangeConfig{
			Name:       "binanceusdm",
			UseTestnet: true,
			Retry: RetryConfig{
				MaxAttempts: 3,
				MinDelay:    500 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			Pacing: PacingConfig{
				MinInterval:      200 * time.Millisecond,
				RateLimitPenalty: 3 * time.Second,
			},
		},
		Execution: ExecutionConfig{
			Simulation:  true,
			TimeInForce: "GTC",
		},
		Monitor: MonitorConfig{PollInterval: 2 * time.Second},
		Reference: ReferenceConfig{
			Timeframe: "1m",
			Lookback:  60,
			EMAPeriod: 21,
		},
		Database: DatabaseConfig{
			Path:         "data/test.db",
			MaxOpenConns: 4,
		},
		Logging: LoggingConfig{
			Level:            "info",
			Encoding:         "console",
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config must pass validation, got %v", err)
	}
}

func TestValidateRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		keyword string
	}{
		{
			name:    "live mode without credentials",
			mutate:  func(cfg *Config) { cfg.Execution.Simulation = false },
			keyword: "api_key",
		},
		{
			name:    "zero pacing interval",
			mutate:  func(cfg *Config) { cfg.Exchange.Pacing.MinInterval = 0 },
			keyword: "pacing.min_interval",
		},
		{
			name: "penalty below pacing interval",
			mutate: func(cfg *Config) {
				cfg.Exchange.Pacing.RateLimitPenalty = 100 * time.Millisecond
			},
			keyword: "rate_limit_penalty",
		},
		{
			name:    "zero poll interval",
			mutate:  func(cfg *Config) { cfg.Monitor.PollInterval = 0 },
			keyword: "poll_interval",
		},
		{
			name:    "retry min above max",
			mutate:  func(cfg *Config) { cfg.Exchange.Retry.MinDelay = 10 * time.Second },
			keyword: "min_delay",
		},
		{
			name:    "unknown time in force",
			mutate:  func(cfg *Config) { cfg.Execution.TimeInForce = "GTX" },
			keyword: "time_in_force",
		},
		{
			name:    "ema period above lookback",
			mutate:  func(cfg *Config) { cfg.Reference.EMAPeriod = 120 },
			keyword: "ema_period",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.keyword) {
				t.Fatalf("error %q does not mention %q", err, tt.keyword)
			}
		})
	}
}
