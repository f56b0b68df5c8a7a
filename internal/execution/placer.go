package execution

import (
	"context"

	"go.uber.org/zap"

	"futures-bot/internal/exchange"
	"futures-bot/internal/order"
)

// OrderPlacer 抽象单笔下单单元，方便策略层替换为测试桩。
type OrderPlacer interface {
	Place(ctx context.Context, intent order.Intent) (exchange.Order, error)
	Recover(ctx context.Context, intent order.Intent) (exchange.Order, bool, error)
}

// Placer 包装单笔订单的完整下单流程：本地校验、一次网关调用、失败分类。
// 校验不通过时不发出任何网络请求；下单绝不在内部重试，
// 只有策略层知道重复成交是否可接受。
type Placer struct {
	gateway exchange.Gateway
	logger  *zap.Logger
}

var _ OrderPlacer = (*Placer)(nil)

// NewPlacer 创建下单单元。
func NewPlacer(gateway exchange.Gateway, logger *zap.Logger) *Placer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Placer{
		gateway: gateway,
		logger:  logger,
	}
}

// Place 校验订单意图，通过后恰好调用一次网关。
func (p *Placer) Place(ctx context.Context, intent order.Intent) (exchange.Order, error) {
	if err := order.ValidateIntent(intent); err != nil {
		p.logger.Warn("订单意图校验不通过",
			zap.String("symbol", intent.Symbol),
			zap.String("kind", string(intent.Kind)),
			zap.Error(err),
		)
		return exchange.Order{}, err
	}

	p.logger.Info("提交订单",
		zap.String("symbol", intent.Symbol),
		zap.String("side", string(intent.Side)),
		zap.String("kind", string(intent.Kind)),
		zap.String("quantity", intent.Quantity.String()),
		zap.String("price", intent.Price.String()),
		zap.String("stop_price", intent.StopPrice.String()),
		zap.String("client_order_id", intent.ClientOrderID),
	)

	placed, err := p.gateway.PlaceOrder(ctx, intent)
	if err != nil {
		kind, _ := exchange.KindOf(err)
		p.logger.Error("下单失败",
			zap.String("symbol", intent.Symbol),
			zap.String("kind", string(intent.Kind)),
			zap.String("failure", string(kind)),
			zap.Error(err),
		)
		return exchange.Order{}, err
	}

	p.logger.Info("订单已受理",
		zap.String("order_id", placed.ID),
		zap.String("symbol", placed.Symbol),
		zap.String("status", string(placed.Status)),
	)
	return placed, nil
}

// Recover 在暂时性失败后按客户端订单号确认订单是否已到达交易所。
// 返回 true 表示订单实际已创建，调用方不应重发。
func (p *Placer) Recover(ctx context.Context, intent order.Intent) (exchange.Order, bool, error) {
	if intent.ClientOrderID == "" {
		return exchange.Order{}, false, nil
	}

	open, err := p.gateway.FetchOpenOrders(ctx, intent.Symbol)
	if err != nil {
		return exchange.Order{}, false, err
	}

	for _, existing := range open {
		if existing.ClientOrderID == intent.ClientOrderID {
			p.logger.Info("确认订单已存在于交易所，跳过重发",
				zap.String("order_id", existing.ID),
				zap.String("client_order_id", intent.ClientOrderID),
			)
			return existing, true, nil
		}
	}
	return exchange.Order{}, false, nil
}
