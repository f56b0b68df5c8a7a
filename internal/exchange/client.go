package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"futures-bot/internal/config"
	"futures-bot/internal/order"
)

// Gateway 抽象订单网关，便于在真实交易所与模拟盘之间切换。
type Gateway interface {
	PlaceOrder(ctx context.Context, intent order.Intent) (Order, error)
	CancelOrder(ctx context.Context, symbol, id string) (Order, error)
	FetchOrder(ctx context.Context, symbol, id string) (Order, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)
}

// Client 持有与 Binance USDⓈ-M 的认证会话。
// 所有请求串行通过内部节流器，下单与撤单绝不在内部重试。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm
	pacer    *pacer

	marketsMu     sync.Mutex
	marketsLoaded bool
}

var _ Gateway = (*Client)(nil)

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseTestnet {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		pacer:    newPacer(cfg.Pacing.MinInterval, cfg.Pacing.RateLimitPenalty),
	}, nil
}

// PlaceOrder 提交订单。每次调用只发出一次请求：
// 超时后盲目重试可能导致重复成交，是否以及如何重试由调用方决定。
func (c *Client) PlaceOrder(ctx context.Context, intent order.Intent) (Order, error) {
	if err := c.pacer.wait(ctx); err != nil {
		return Order{}, err
	}
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return Order{}, err
	}

	venueType, opts := buildCreateOptions(intent)

	raw, err := c.exchange.CreateOrder(
		c.unifySymbol(intent.Symbol),
		venueType,
		strings.ToLower(string(intent.Side)),
		intent.Quantity.InexactFloat64(),
		opts...,
	)
	if err != nil {
		classified := classify("place_order", err)
		if IsRateLimited(classified) {
			c.pacer.penalize()
		}
		return Order{}, classified
	}

	placed := convertOrder(intent.Symbol, raw)
	placed.Side = intent.Side
	placed.Kind = intent.Kind
	if placed.ClientOrderID == "" {
		placed.ClientOrderID = intent.ClientOrderID
	}
	if placed.SubmittedAt.IsZero() {
		placed.SubmittedAt = time.Now().UTC()
	}
	return placed, nil
}

// CancelOrder 撤销订单。订单已不存在时返回 ErrOrderGone，
// 调用方应将其视为幂等成功而非失败。
func (c *Client) CancelOrder(ctx context.Context, symbol, id string) (Order, error) {
	if err := c.pacer.wait(ctx); err != nil {
		return Order{}, err
	}
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return Order{}, err
	}

	raw, err := c.exchange.CancelOrder(id, ccxt.WithCancelOrderSymbol(c.unifySymbol(symbol)))
	if err != nil {
		classified := classify("cancel_order", err)
		if IsRateLimited(classified) {
			c.pacer.penalize()
		}
		return Order{}, classified
	}

	return convertOrder(symbol, raw), nil
}

// FetchOrder 查询单个订单状态。只读调用，允许有限重试。
func (c *Client) FetchOrder(ctx context.Context, symbol, id string) (Order, error) {
	var raw ccxt.Order
	err := c.callWithRetry(ctx, "fetch_order", func() error {
		result, err := c.exchange.FetchOrder(id, ccxt.WithFetchOrderSymbol(c.unifySymbol(symbol)))
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return convertOrder(symbol, raw), nil
}

// FetchOpenOrders 查询指定交易对的全部挂单。
func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	var raw []ccxt.Order
	err := c.callWithRetry(ctx, "fetch_open_orders", func() error {
		result, err := c.exchange.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(c.unifySymbol(symbol)))
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(raw))
	for _, item := range raw {
		orders = append(orders, convertOrder(symbol, item))
	}
	return orders, nil
}

// FetchBalance 获取账户余额。按需拉取，不做任何缓存。
func (c *Client) FetchBalance(ctx context.Context) (ccxt.Balances, error) {
	var raw ccxt.Balances
	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		result, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	return raw, err
}

// FetchPositions 获取当前持仓。
func (c *Client) FetchPositions(ctx context.Context) ([]ccxt.Position, error) {
	var raw []ccxt.Position
	err := c.callWithRetry(ctx, "fetch_positions", func() error {
		result, err := c.exchange.FetchPositions()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	return raw, err
}

// FetchCandles 获取指定周期的K线数据（参考价计算使用）。
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		result, err := c.exchange.FetchOHLCV(
			c.unifySymbol(symbol),
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}
	return candles, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		_, err := c.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载")
	return nil
}

// callWithRetry 只用于只读调用：限频时先退避，暂时性错误按指数退避重试。
func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		if err := c.pacer.wait(ctx); err != nil {
			return err
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		classified := classify(operation, err)

		if errors.Is(classified, ErrOrderGone) {
			return classified
		}

		retryable := IsTransient(classified) || IsRateLimited(classified)
		if IsRateLimited(classified) {
			c.pacer.penalize()
		}

		if !retryable || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(classified),
			)
			return classified
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(classified),
		)

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// unifySymbol 将交易所命名（BTCUSDT）转换为 ccxt 统一符号（BTC/USDT:USDT）。
// 无法识别报价币时原样返回，交由 ccxt 自行解析。
func (c *Client) unifySymbol(symbol string) string {
	if strings.Contains(symbol, "/") {
		return symbol
	}
	for _, quote := range []string{"USDT", "USDC", "BUSD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			base := strings.TrimSuffix(symbol, quote)
			return fmt.Sprintf("%s/%s:%s", base, quote, quote)
		}
	}
	return symbol
}

// buildCreateOptions 将订单意图映射为 ccxt 下单参数。
// 触发类订单沿用交易所原生类型（STOP / STOP_MARKET / TAKE_PROFIT_MARKET）。
func buildCreateOptions(intent order.Intent) (string, []ccxt.CreateOrderOptions) {
	params := map[string]interface{}{}
	if intent.ClientOrderID != "" {
		params["newClientOrderId"] = intent.ClientOrderID
	}
	if intent.ReduceOnly {
		params["reduceOnly"] = true
	}

	var venueType string
	var opts []ccxt.CreateOrderOptions

	switch intent.Kind {
	case order.KindMarket:
		venueType = "market"
	case order.KindLimit:
		venueType = "limit"
		opts = append(opts, ccxt.WithCreateOrderPrice(intent.Price.InexactFloat64()))
		params["timeInForce"] = string(intent.TimeInForce)
	case order.KindStopLimit:
		venueType = "STOP"
		opts = append(opts, ccxt.WithCreateOrderPrice(intent.Price.InexactFloat64()))
		params["stopPrice"] = intent.StopPrice.InexactFloat64()
		params["timeInForce"] = string(intent.TimeInForce)
	case order.KindStopMarket:
		venueType = "STOP_MARKET"
		params["stopPrice"] = intent.StopPrice.InexactFloat64()
	case order.KindTakeProfit:
		venueType = "TAKE_PROFIT_MARKET"
		params["stopPrice"] = intent.StopPrice.InexactFloat64()
	}

	opts = append(opts, ccxt.WithCreateOrderParams(params))
	return venueType, opts
}
