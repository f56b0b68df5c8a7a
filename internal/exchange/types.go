package exchange

import (
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"

	"futures-bot/internal/order"
)

// Status 表示交易所侧订单状态。
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
	StatusUnknown         Status = "UNKNOWN"
)

// Terminal 判断该状态是否为终态。
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Order 为交易所返回的订单视图。状态只能通过重新查询交易所刷新，
// 绝不依据本地推断修改。
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          order.Side
	Kind          order.Kind
	Status        Status
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	Amount        decimal.Decimal
	Filled        decimal.Decimal
	AvgPrice      decimal.Decimal
	SubmittedAt   time.Time
	UpdatedAt     time.Time
}

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// convertOrder 将 ccxt 订单转换为内部视图。
func convertOrder(symbol string, raw ccxt.Order) Order {
	o := Order{
		ID:            derefString(raw.Id),
		ClientOrderID: derefString(raw.ClientOrderId),
		Symbol:        symbol,
		Side:          order.Side(strings.ToUpper(derefString(raw.Side))),
		Status:        convertStatus(raw),
		Price:         decimalFrom(raw.Price),
		StopPrice:     decimalFrom(raw.TriggerPrice),
		Amount:        decimalFrom(raw.Amount),
		Filled:        decimalFrom(raw.Filled),
		AvgPrice:      decimalFrom(raw.Average),
	}

	if raw.Timestamp != nil {
		o.SubmittedAt = time.UnixMilli(*raw.Timestamp).UTC()
	}
	o.UpdatedAt = o.SubmittedAt
	if ms, ok := infoMillis(raw.Info, "updateTime"); ok {
		o.UpdatedAt = time.UnixMilli(ms).UTC()
	}

	if rawType := strings.ToUpper(derefString(raw.Type)); rawType != "" {
		o.Kind = kindFromVenueType(rawType)
	}

	return o
}

// convertStatus 优先读取交易所原始状态，其次按 ccxt 统一状态推导。
func convertStatus(raw ccxt.Order) Status {
	if raw.Info != nil {
		if s, ok := raw.Info["status"].(string); ok {
			switch status := Status(strings.ToUpper(s)); status {
			case StatusNew, StatusPartiallyFilled, StatusFilled,
				StatusCanceled, StatusRejected, StatusExpired:
				return status
			}
		}
	}

	switch strings.ToLower(derefString(raw.Status)) {
	case "open":
		if raw.Filled != nil && *raw.Filled > 0 {
			return StatusPartiallyFilled
		}
		return StatusNew
	case "closed":
		return StatusFilled
	case "canceled", "cancelled":
		return StatusCanceled
	case "rejected":
		return StatusRejected
	case "expired":
		return StatusExpired
	default:
		return StatusUnknown
	}
}

func kindFromVenueType(venueType string) order.Kind {
	switch venueType {
	case "MARKET":
		return order.KindMarket
	case "LIMIT":
		return order.KindLimit
	case "STOP", "STOP_LIMIT":
		return order.KindStopLimit
	case "STOP_MARKET":
		return order.KindStopMarket
	case "TAKE_PROFIT", "TAKE_PROFIT_MARKET", "TAKE_PROFIT_LIMIT":
		return order.KindTakeProfit
	default:
		return order.Kind(venueType)
	}
}

// infoMillis 从交易所原始字段取毫秒时间戳，JSON 解析后可能是数字或字符串。
func infoMillis(info map[string]interface{}, key string) (int64, bool) {
	if info == nil {
		return 0, false
	}
	switch v := info[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case string:
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return ms, true
	default:
		return 0, false
	}
}

func decimalFrom(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
