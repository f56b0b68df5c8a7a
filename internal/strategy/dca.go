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

// DCAParams 描述定投运行：每隔固定间隔买入（或卖出）固定数量，共 N 轮。
// LimitPrice 为零值时每轮下市价单。
type DCAParams struct {
	Symbol      string
	Side        order.Side
	Quantity    decimal.Decimal
	Rounds      int
	Interval    time.Duration
	LimitPrice  decimal.Decimal
	TimeInForce order.TimeInForce
}

// Validate 校验定投参数。
func (p DCAParams) Validate() error {
	var errs error
	if err := order.ValidateSymbol(p.Symbol); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := order.ValidateSide(p.Side); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := order.ValidateQuantity(p.Quantity); err != nil {
		errs = multierr.Append(errs, err)
	}
	if p.Rounds <= 0 {
		errs = multierr.Append(errs, &order.ValidationError{Field: "rounds", Reason: "轮数必须大于 0"})
	}
	if p.Interval <= 0 {
		errs = multierr.Append(errs, &order.ValidationError{Field: "interval", Reason: "间隔必须大于 0"})
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

// DCA 按固定间隔逐轮下单，失败轮次跳过。第一轮立即执行。
type DCA struct {
	params   DCAParams
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

// NewDCA 构造定投运行。
func NewDCA(params DCAParams, placer execution.OrderPlacer, canceler Canceler, tracker Tracker, journal Recorder, logger *zap.Logger) (*DCA, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: 定投参数校验失败: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DCA{
		params:   params,
		placer:   placer,
		canceler: canceler,
		tracker:  tracker,
		journal:  journal,
		logger:   logger,
		runID:    newRunID("dca"),
		state:    StatePending,
		stop:     make(chan struct{}),
	}, nil
}

// RunID 返回运行标识。
func (d *DCA) RunID() string {
	return d.runID
}

// State 返回当前状态。
func (d *DCA) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run 执行定投计划，阻塞至全部轮次尝试完毕或被取消。
func (d *DCA) Run(ctx context.Context) (Report, error) {
	d.setState(StateSlicing)
	d.journal.RecordRunStarted(ctx, d.runID, map[string]interface{}{
		"strategy": "dca",
		"symbol":   d.params.Symbol,
		"side":     string(d.params.Side),
		"quantity": d.params.Quantity.String(),
		"rounds":   d.params.Rounds,
		"interval": d.params.Interval.String(),
	})
	d.logger.Info("定投运行启动",
		zap.String("run_id", d.runID),
		zap.String("symbol", d.params.Symbol),
		zap.Int("rounds", d.params.Rounds),
		zap.Duration("interval", d.params.Interval),
	)

	for round := 1; round <= d.params.Rounds; round++ {
		if round > 1 {
			canceled, err := sleepCtx(ctx, d.params.Interval, d.stop)
			if err != nil {
				return d.finish(ctx, StateAborted), err
			}
			if canceled {
				return d.cancelRemainder(ctx), nil
			}
		}
		select {
		case <-d.stop:
			return d.cancelRemainder(ctx), nil
		default:
		}

		d.placeRound(ctx, round)
	}

	return d.finish(ctx, StateComplete), nil
}

// Cancel 停止后续轮次并撤销仍在途的订单。
func (d *DCA) Cancel(ctx context.Context) {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *DCA) placeRound(ctx context.Context, round int) {
	intent := order.Intent{
		Symbol:   d.params.Symbol,
		Side:     d.params.Side,
		Kind:     order.KindMarket,
		Quantity: d.params.Quantity,
	}
	if !d.params.LimitPrice.IsZero() {
		intent.Kind = order.KindLimit
		intent.Price = d.params.LimitPrice
		intent.TimeInForce = d.params.TimeInForce
	}
	intent = intent.WithClientOrderID("dca")

	d.mu.Lock()
	d.attempted++
	d.mu.Unlock()

	placed, err := d.placer.Place(ctx, intent)
	if err != nil {
		d.mu.Lock()
		d.failed++
		d.mu.Unlock()
		d.logger.Warn("定投轮次下单失败，跳过",
			zap.String("run_id", d.runID),
			zap.Int("round", round),
			zap.Error(err),
		)
		d.journal.RecordError(ctx, d.runID, "定投轮次下单失败", err, map[string]interface{}{
			"round": round,
		})
		return
	}

	d.mu.Lock()
	d.placed = append(d.placed, placed)
	d.mu.Unlock()

	d.journal.RecordOrderPlaced(ctx, d.runID, placed)
	d.logger.Info("定投轮次已下单",
		zap.String("run_id", d.runID),
		zap.Int("round", round),
		zap.String("order_id", placed.ID),
	)

	if d.tracker != nil && !placed.Status.Terminal() {
		d.tracker.Track(monitor.TrackRequest{
			RunID:   d.runID,
			Symbol:  placed.Symbol,
			OrderID: placed.ID,
			Status:  placed.Status,
			React:   d.onUpdate,
		})
	}
}

func (d *DCA) onUpdate(update monitor.OrderUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.placed {
		if d.placed[i].ID == update.Order.ID {
			d.placed[i] = update.Order
			return
		}
	}
}

func (d *DCA) cancelRemainder(ctx context.Context) Report {
	d.mu.Lock()
	open := append([]exchange.Order(nil), d.placed...)
	d.mu.Unlock()

	canceled, failed := cancelOpenOrders(ctx, d.canceler, open)
	d.logger.Info("定投运行已取消",
		zap.String("run_id", d.runID),
		zap.Int("canceled_orders", canceled),
		zap.Int("cancel_failures", failed),
	)
	d.journal.RecordRunCanceled(ctx, d.runID, map[string]interface{}{
		"canceled_orders": canceled,
		"cancel_failures": failed,
	})
	d.setState(StateCanceled)
	return d.report()
}

func (d *DCA) finish(ctx context.Context, state State) Report {
	d.setState(state)
	report := d.report()
	d.journal.RecordRunFinished(ctx, d.runID, map[string]interface{}{
		"state":     string(state),
		"attempted": report.Attempted,
		"placed":    report.Placed,
		"failed":    report.Failed,
	})
	d.logger.Info("定投运行结束",
		zap.String("run_id", d.runID),
		zap.String("state", string(state)),
		zap.Int("attempted", report.Attempted),
		zap.Int("failed", report.Failed),
	)
	return report
}

func (d *DCA) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *DCA) report() Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Report{
		RunID:     d.runID,
		State:     d.state,
		Attempted: d.attempted,
		Placed:    len(d.placed),
		Failed:    d.failed,
		Orders:    append([]exchange.Order(nil), d.placed...),
	}
}
