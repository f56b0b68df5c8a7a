package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"futures-bot/internal/exchange"
	"futures-bot/internal/monitor"
)

// State 表示策略运行的生命周期状态。
type State string

const (
	StatePending  State = "PENDING"
	StateSlicing  State = "SLICING"
	StateActive   State = "ACTIVE"
	StateComplete State = "COMPLETE"
	StateResolved State = "RESOLVED"
	StateAborted  State = "ABORTED"
	StateCanceled State = "CANCELED"
)

// Terminal 判断状态是否为终态。
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateResolved, StateAborted, StateCanceled:
		return true
	}
	return false
}

// Canceler 为策略侧所需的最小撤单能力。
type Canceler interface {
	CancelOrder(ctx context.Context, symbol, id string) (exchange.Order, error)
}

// Tracker 向监控循环注册或注销待观察订单。
type Tracker interface {
	Track(req monitor.TrackRequest)
	Untrack(orderID string)
}

// Recorder 记录策略运行事件，落盘由 monitor.Journal 实现。
type Recorder interface {
	RecordRunStarted(ctx context.Context, runID string, payload interface{})
	RecordOrderPlaced(ctx context.Context, runID string, placed exchange.Order)
	RecordRunCanceled(ctx context.Context, runID string, payload interface{})
	RecordRunFinished(ctx context.Context, runID string, payload interface{})
	RecordError(ctx context.Context, runID, msg string, err error, ctxMap map[string]interface{})
}

// Report 汇总一次策略运行的结果。
type Report struct {
	RunID     string
	State     State
	Attempted int
	Placed    int
	Failed    int
	Orders    []exchange.Order
}

// newRunID 生成带前缀的运行标识。
func newRunID(prefix string) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, time.Now().UnixMilli(), rand.Intn(10000))
}

// sleepCtx 等待指定时长，ctx 取消或 stop 关闭时提前返回。
// stop 关闭返回 true 表示运行被主动取消。
func sleepCtx(ctx context.Context, d time.Duration, stop <-chan struct{}) (canceled bool, err error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-stop:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

// cancelOpenOrders 逐笔撤销仍在途的订单，已终结的订单视为成功。
func cancelOpenOrders(ctx context.Context, canceler Canceler, orders []exchange.Order) (canceled, failed int) {
	for _, o := range orders {
		if o.Status.Terminal() || o.ID == "" {
			continue
		}
		if _, err := canceler.CancelOrder(ctx, o.Symbol, o.ID); err != nil && !errors.Is(err, exchange.ErrOrderGone) {
			failed++
			continue
		}
		canceled++
	}
	return canceled, failed
}
