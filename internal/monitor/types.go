package monitor

import (
	"time"

	"futures-bot/internal/exchange"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventRunStarted       EventType = "run_started"
	EventIntentSubmitted  EventType = "intent_submitted"
	EventOrderPlaced      EventType = "order_placed"
	EventStatusTransition EventType = "status_transition"
	EventRunCanceled      EventType = "run_canceled"
	EventRunFinished      EventType = "run_finished"
	EventError            EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// OrderUpdate 描述一次被观察到的订单状态迁移。
type OrderUpdate struct {
	RunID    string
	Order    exchange.Order
	Previous exchange.Status
	Current  exchange.Status
	At       time.Time
}

// Reaction 为状态迁移回调。监控循环在自身协程内串行调用，
// 各策略无需再做跨协程的共享状态保护。
type Reaction func(update OrderUpdate)

// TrackRequest 注册一笔待观察订单。
type TrackRequest struct {
	RunID   string
	Symbol  string
	OrderID string
	Status  exchange.Status
	React   Reaction
}

// TransitionPayload 记录状态迁移事件。
type TransitionPayload struct {
	Symbol   string `json:"symbol"`
	OrderID  string `json:"order_id"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// IntentPayload 记录订单意图提交事件，下单成功与否都会留痕。
type IntentPayload struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Kind          string `json:"kind"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// OrderPayload 记录订单受理事件。
type OrderPayload struct {
	Symbol   string `json:"symbol"`
	OrderID  string `json:"order_id"`
	Side     string `json:"side"`
	Kind     string `json:"kind"`
	Quantity string `json:"quantity"`
	Price    string `json:"price,omitempty"`
	Status   string `json:"status"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
