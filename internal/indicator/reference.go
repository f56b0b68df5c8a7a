package indicator

import (
	"context"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-bot/internal/exchange"
)

type candleClient interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int64) ([]exchange.Candle, error)
}

// ReferencePricer 基于近期K线的 EMA 给出平滑参考价，
// 供网格 AUTO 分边判断档位在参考价上方还是下方。
type ReferencePricer struct {
	client    candleClient
	timeframe string
	lookback  int
	emaPeriod int
	logger    *zap.Logger
}

// NewReferencePricer 创建参考价计算器。
func NewReferencePricer(client candleClient, timeframe string, lookback, emaPeriod int, logger *zap.Logger) *ReferencePricer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReferencePricer{
		client:    client,
		timeframe: timeframe,
		lookback:  lookback,
		emaPeriod: emaPeriod,
		logger:    logger,
	}
}

// Reference 返回指定标的的 EMA 参考价。
// K线不足以计算 EMA 时退回最新收盘价。
func (r *ReferencePricer) Reference(ctx context.Context, symbol string) (decimal.Decimal, error) {
	candles, err := r.client.FetchCandles(ctx, symbol, r.timeframe, int64(r.lookback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("indicator: 获取K线失败: %w", err)
	}
	if len(candles) == 0 {
		return decimal.Zero, fmt.Errorf("indicator: %s 无可用K线", symbol)
	}

	price := emaReference(Closes(candles), r.emaPeriod)
	if math.IsNaN(price) || price <= 0 {
		return decimal.Zero, fmt.Errorf("indicator: %s 参考价计算结果无效", symbol)
	}

	r.logger.Debug("参考价已刷新",
		zap.String("symbol", symbol),
		zap.String("timeframe", r.timeframe),
		zap.Float64("reference", price),
	)

	return decimal.NewFromFloat(price), nil
}

// emaReference 计算收盘价 EMA 的最新值，数据不足时退回最后收盘价。
func emaReference(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period {
		return Last(closes)
	}
	return Last(talib.Ema(closes, period))
}
