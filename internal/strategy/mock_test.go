package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"futures-bot/internal/exchange"
	"futures-bot/internal/monitor"
	"futures-bot/internal/order"
)

// mockPlacer 记录全部下单意图，可按序号注入失败。
type mockPlacer struct {
	mu      sync.Mutex
	intents []order.Intent
	failAt  map[int]error
	status  exchange.Status
	seq     int
}

func newMockPlacer() *mockPlacer {
	return &mockPlacer{failAt: make(map[int]error), status: exchange.StatusNew}
}

func (m *mockPlacer) Place(ctx context.Context, intent order.Intent) (exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.intents)
	m.intents = append(m.intents, intent)
	if err, ok := m.failAt[idx]; ok {
		return exchange.Order{}, err
	}

	m.seq++
	return exchange.Order{
		ID:            fmt.Sprintf("order-%d", m.seq),
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Kind:          intent.Kind,
		Status:        m.status,
		Price:         intent.Price,
		Amount:        intent.Quantity,
	}, nil
}

func (m *mockPlacer) Recover(ctx context.Context, intent order.Intent) (exchange.Order, bool, error) {
	return exchange.Order{}, false, nil
}

func (m *mockPlacer) placedIntents() []order.Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]order.Intent(nil), m.intents...)
}

// mockCanceler 记录撤单请求，可注入错误。
type mockCanceler struct {
	mu       sync.Mutex
	canceled []string
	err      error
}

func (m *mockCanceler) CancelOrder(ctx context.Context, symbol, id string) (exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled = append(m.canceled, id)
	if m.err != nil {
		return exchange.Order{}, m.err
	}
	return exchange.Order{ID: id, Symbol: symbol, Status: exchange.StatusCanceled}, nil
}

func (m *mockCanceler) canceledIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.canceled...)
}

// mockTracker 记录注册与注销的订单。
type mockTracker struct {
	mu        sync.Mutex
	tracked   []monitor.TrackRequest
	untracked []string
}

func (m *mockTracker) Track(req monitor.TrackRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked = append(m.tracked, req)
}

func (m *mockTracker) Untrack(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.untracked = append(m.untracked, orderID)
}

func (m *mockTracker) trackedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.tracked))
	for _, req := range m.tracked {
		ids = append(ids, req.OrderID)
	}
	return ids
}

// mockRecorder 按类型计数事件。
type mockRecorder struct {
	mu     sync.Mutex
	events []monitor.EventType
}

func (m *mockRecorder) record(t monitor.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, t)
}

func (m *mockRecorder) RecordRunStarted(ctx context.Context, runID string, payload interface{}) {
	m.record(monitor.EventRunStarted)
}

func (m *mockRecorder) RecordOrderPlaced(ctx context.Context, runID string, placed exchange.Order) {
	m.record(monitor.EventOrderPlaced)
}

func (m *mockRecorder) RecordRunCanceled(ctx context.Context, runID string, payload interface{}) {
	m.record(monitor.EventRunCanceled)
}

func (m *mockRecorder) RecordRunFinished(ctx context.Context, runID string, payload interface{}) {
	m.record(monitor.EventRunFinished)
}

func (m *mockRecorder) RecordError(ctx context.Context, runID, msg string, err error, ctxMap map[string]interface{}) {
	m.record(monitor.EventError)
}

// orderUpdateFor 构造一次状态迁移回报。
func orderUpdateFor(o exchange.Order) monitor.OrderUpdate {
	return monitor.OrderUpdate{
		Order:    o,
		Previous: exchange.StatusNew,
		Current:  o.Status,
		At:       time.Now(),
	}
}

func (m *mockRecorder) count(t monitor.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e == t {
			n++
		}
	}
	return n
}
