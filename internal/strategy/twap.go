package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"futures-bot/internal/exchange"
	"futures-bot/internal/execution"
	"futures-bot/internal/monitor"
	"futures-bot/internal/order"
)

// 数量按 8 位小数切片，与交易所数量精度上限一致。
const quantityScale = 8

// TWAPParams 描述一次 TWAP 运行的全部输入。
// LimitPrice 为零值时每个切片下市价单，否则下限价单。
type TWAPParams struct {
	Symbol        string
	Side          order.Side
	TotalQuantity decimal.Decimal
	Slices        int
	Duration      time.Duration
	LimitPrice    decimal.Decimal
	TimeInForce   order.TimeInForce
}

// Validate 校验 TWAP 参数。
func (p TWAPParams) Validate() error {
	var errs error
	if err := order.ValidateSymbol(p.Symbol); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := order.ValidateSide(p.Side); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := order.ValidateQuantity(p.TotalQuantity); err != nil {
		errs = multierr.Append(errs, err)
	}
	if p.Slices <= 0 {
		errs = multierr.Append(errs, &order.ValidationError{Field: "slices", Reason: "切片数必须大于 0"})
	}
	if p.Duration <= 0 {
		errs = multierr.Append(errs, &order.ValidationError{Field: "duration", Reason: "总时长必须大于 0"})
	}
	if !p.LimitPrice.IsZero() {
		if err := order.ValidatePrice("limit_price", p.LimitPrice); err != nil {
			errs = multierr.Append(errs, err)
		}
		if err := order.ValidateTimeInForce(p.TimeInForce); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// TWAP 将总量等分为 N 个切片，按固定间隔逐笔下单。
// 单个切片失败只记录并跳过，不拖累整个计划。
type TWAP struct {
	params   TWAPParams
	placer   execution.OrderPlacer
	canceler Canceler
	tracker  Tracker
	journal  Recorder
	logger   *zap.Logger

	runID string

	mu        sync.Mutex
	state     State
	placed    []exchange.Order
	attempted int
	failed    int
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewTWAP 构造 TWAP 运行。
func NewTWAP(params TWAPParams, placer execution.OrderPlacer, canceler Canceler, tracker Tracker, journal Recorder, logger *zap.Logger) (*TWAP, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: TWAP 参数校验失败: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TWAP{
		params:   params,
		placer:   placer,
		canceler: canceler,
		tracker:  tracker,
		journal:  journal,
		logger:   logger,
		runID:    newRunID("twap"),
		state:    StatePending,
		stop:     make(chan struct{}),
	}, nil
}

// RunID 返回运行标识。
func (t *TWAP) RunID() string {
	return t.runID
}

// State 返回当前状态。
func (t *TWAP) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Run 执行切片计划，阻塞至全部切片尝试完毕或被取消。
func (t *TWAP) Run(ctx context.Context) (Report, error) {
	quantities := sliceQuantities(t.params.TotalQuantity, t.params.Slices)
	interval := t.params.Duration / time.Duration(t.params.Slices)

	t.setState(StateSlicing)
	t.journal.RecordRunStarted(ctx, t.runID, map[string]interface{}{
		"strategy": "twap",
		"symbol":   t.params.Symbol,
		"side":     string(t.params.Side),
		"total":    t.params.TotalQuantity.String(),
		"slices":   t.params.Slices,
		"duration": t.params.Duration.String(),
	})
	t.logger.Info("TWAP 运行启动",
		zap.String("run_id", t.runID),
		zap.String("symbol", t.params.Symbol),
		zap.Int("slices", t.params.Slices),
		zap.Duration("interval", interval),
	)

	for i, qty := range quantities {
		if i > 0 {
			canceled, err := sleepCtx(ctx, interval, t.stop)
			if err != nil {
				return t.finish(ctx, StateAborted), err
			}
			if canceled {
				return t.cancelRemainder(ctx), nil
			}
		}
		select {
		case <-t.stop:
			return t.cancelRemainder(ctx), nil
		default:
		}

		t.placeSlice(ctx, i+1, qty)
	}

	return t.finish(ctx, StateComplete), nil
}

// Cancel 停止后续切片并撤销本次运行仍在途的订单。已成交部分不回滚。
func (t *TWAP) Cancel(ctx context.Context) {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *TWAP) placeSlice(ctx context.Context, seq int, qty decimal.Decimal) {
	intent := order.Intent{
		Symbol:   t.params.Symbol,
		Side:     t.params.Side,
		Kind:     order.KindMarket,
		Quantity: qty,
	}
	if !t.params.LimitPrice.IsZero() {
		intent.Kind = order.KindLimit
		intent.Price = t.params.LimitPrice
		intent.TimeInForce = t.params.TimeInForce
	}
	intent = intent.WithClientOrderID("twap")

	t.mu.Lock()
	t.attempted++
	t.mu.Unlock()

	placed, err := t.placer.Place(ctx, intent)
	if err != nil {
		// 失败切片记录后跳过，计划继续推进。
		t.mu.Lock()
		t.failed++
		t.mu.Unlock()
		t.logger.Warn("TWAP 切片下单失败，跳过",
			zap.String("run_id", t.runID),
			zap.Int("slice", seq),
			zap.String("quantity", qty.String()),
			zap.Error(err),
		)
		t.journal.RecordError(ctx, t.runID, "切片下单失败", err, map[string]interface{}{
			"slice":    seq,
			"quantity": qty.String(),
		})
		return
	}

	t.mu.Lock()
	t.placed = append(t.placed, placed)
	t.mu.Unlock()

	t.journal.RecordOrderPlaced(ctx, t.runID, placed)
	t.logger.Info("TWAP 切片已下单",
		zap.String("run_id", t.runID),
		zap.Int("slice", seq),
		zap.String("order_id", placed.ID),
		zap.String("quantity", qty.String()),
	)

	if t.tracker != nil && !placed.Status.Terminal() {
		t.tracker.Track(monitor.TrackRequest{
			RunID:   t.runID,
			Symbol:  placed.Symbol,
			OrderID: placed.ID,
			Status:  placed.Status,
			React:   t.onUpdate,
		})
	}
}

func (t *TWAP) onUpdate(update monitor.OrderUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.placed {
		if t.placed[i].ID == update.Order.ID {
			t.placed[i] = update.Order
			return
		}
	}
}

func (t *TWAP) cancelRemainder(ctx context.Context) Report {
	t.mu.Lock()
	open := append([]exchange.Order(nil), t.placed...)
	t.mu.Unlock()

	canceled, failed := cancelOpenOrders(ctx, t.canceler, open)
	t.logger.Info("TWAP 运行已取消",
		zap.String("run_id", t.runID),
		zap.Int("canceled_orders", canceled),
		zap.Int("cancel_failures", failed),
	)
	t.journal.RecordRunCanceled(ctx, t.runID, map[string]interface{}{
		"canceled_orders": canceled,
		"cancel_failures": failed,
	})
	t.setState(StateCanceled)
	return t.report()
}

func (t *TWAP) finish(ctx context.Context, state State) Report {
	t.setState(state)
	report := t.report()
	t.journal.RecordRunFinished(ctx, t.runID, map[string]interface{}{
		"state":     string(state),
		"attempted": report.Attempted,
		"placed":    report.Placed,
		"failed":    report.Failed,
	})
	t.logger.Info("TWAP 运行结束",
		zap.String("run_id", t.runID),
		zap.String("state", string(state)),
		zap.Int("attempted", report.Attempted),
		zap.Int("failed", report.Failed),
	)
	return report
}

func (t *TWAP) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *TWAP) report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Report{
		RunID:     t.runID,
		State:     t.state,
		Attempted: t.attempted,
		Placed:    len(t.placed),
		Failed:    t.failed,
		Orders:    append([]exchange.Order(nil), t.placed...),
	}
}

// sliceQuantities 等分总量，除不尽的余量并入首个切片，保证总和严格相等。
func sliceQuantities(total decimal.Decimal, n int) []decimal.Decimal {
	count := decimal.NewFromInt(int64(n))
	base := total.Div(count).RoundDown(quantityScale)
	first := total.Sub(base.Mul(decimal.NewFromInt(int64(n - 1))))

	out := make([]decimal.Decimal, n)
	out[0] = first
	for i := 1; i < n; i++ {
		out[i] = base
	}
	return out
}
