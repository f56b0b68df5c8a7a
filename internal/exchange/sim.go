package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-bot/internal/order"
)

// Simulator 为模拟盘网关：不触网，市价单立即全部成交，
// 挂单保持 NEW 直至被撤销。用于演练与离线验证完整命令流程。
type Simulator struct {
	logger *zap.Logger

	mu     sync.Mutex
	seq    int64
	orders map[string]Order
	marks  map[string]float64
}

var _ Gateway = (*Simulator)(nil)

// NewSimulator 创建模拟盘网关。
func NewSimulator(logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		logger: logger,
		orders: make(map[string]Order),
		marks:  make(map[string]float64),
	}
}

// SetMarkPrice 设置模拟标记价，供市价单成交价使用。
func (s *Simulator) SetMarkPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[symbol] = price
}

// PlaceOrder 记录订单；市价单立即成交，其余保持 NEW。
func (s *Simulator) PlaceOrder(_ context.Context, intent order.Intent) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	now := time.Now().UTC()

	placed := Order{
		ID:            fmt.Sprintf("sim-%d", s.seq),
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Kind:          intent.Kind,
		Status:        StatusNew,
		Price:         intent.Price,
		StopPrice:     intent.StopPrice,
		Amount:        intent.Quantity,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}

	if intent.Kind == order.KindMarket {
		placed.Status = StatusFilled
		placed.Filled = intent.Quantity
		if mark, ok := s.marks[intent.Symbol]; ok {
			placed.AvgPrice = decimal.NewFromFloat(mark)
		}
	}

	s.orders[placed.ID] = placed
	s.logger.Info("模拟盘已受理订单",
		zap.String("order_id", placed.ID),
		zap.String("symbol", placed.Symbol),
		zap.String("kind", string(placed.Kind)),
		zap.String("status", string(placed.Status)),
	)
	return placed, nil
}

// CancelOrder 撤销挂单。已了结或不存在的订单返回 ErrOrderGone。
func (s *Simulator) CancelOrder(_ context.Context, _ string, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[id]
	if !ok || existing.Status.Terminal() {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderGone, id)
	}

	existing.Status = StatusCanceled
	existing.UpdatedAt = time.Now().UTC()
	s.orders[id] = existing
	return existing, nil
}

// FetchOrder 返回订单当前状态。
func (s *Simulator) FetchOrder(_ context.Context, _ string, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderGone, id)
	}
	return existing, nil
}

// FetchOpenOrders 返回指定交易对的全部未了结订单。
func (s *Simulator) FetchOpenOrders(_ context.Context, symbol string) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := make([]Order, 0)
	for _, o := range s.orders {
		if o.Symbol == symbol && !o.Status.Terminal() {
			open = append(open, o)
		}
	}
	return open, nil
}

// Fill 将指定订单标记为成交，供测试与演练注入成交事件。
func (s *Simulator) Fill(id string, avgPrice float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[id]
	if !ok || existing.Status.Terminal() {
		return false
	}

	existing.Status = StatusFilled
	existing.Filled = existing.Amount
	existing.AvgPrice = decimal.NewFromFloat(avgPrice)
	existing.UpdatedAt = time.Now().UTC()
	s.orders[id] = existing
	return true
}
