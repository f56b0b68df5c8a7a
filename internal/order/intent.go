package order

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Kind 表示订单类型。
type Kind string

const (
	KindMarket     Kind = "MARKET"
	KindLimit      Kind = "LIMIT"
	KindStopLimit  Kind = "STOP_LIMIT"
	KindStopMarket Kind = "STOP_MARKET"
	KindTakeProfit Kind = "TAKE_PROFIT"
)

// RequiresPrice 判断该类型是否需要限价。
func (k Kind) RequiresPrice() bool {
	return k == KindLimit || k == KindStopLimit
}

// RequiresStopPrice 判断该类型是否需要触发价。
func (k Kind) RequiresStopPrice() bool {
	return k == KindStopLimit || k == KindStopMarket || k == KindTakeProfit
}

// TimeInForce 表示订单有效期策略。
type TimeInForce string

const (
	TIFGoodTillCancel TimeInForce = "GTC"
	TIFImmediate      TimeInForce = "IOC"
	TIFFillOrKill     TimeInForce = "FOK"
)

// Intent 描述一笔待提交的订单。价格相关字段是否必填由 Kind 决定。
type Intent struct {
	Symbol        string
	Side          Side
	Kind          Kind
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	TimeInForce   TimeInForce
	ClientOrderID string
	ReduceOnly    bool
}

// WithClientOrderID 若尚未指定则生成客户端订单号。
// 提交超时后可凭此号在交易所侧确认订单是否真实存在。
func (i Intent) WithClientOrderID(prefix string) Intent {
	if i.ClientOrderID == "" {
		i.ClientOrderID = NewClientOrderID(prefix)
	}
	return i
}

// NewClientOrderID 生成带前缀的客户端订单号。
func NewClientOrderID(prefix string) string {
	if prefix == "" {
		prefix = "fb"
	}
	return fmt.Sprintf("%s-%d-%04d", prefix, time.Now().UnixMilli(), rand.Intn(10000))
}
