package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"futures-bot/internal/exchange"
	"futures-bot/internal/execution"
	"futures-bot/internal/monitor"
	"futures-bot/internal/order"
)

// OCOParams 描述一对 OCO 订单：止盈限价单与止损市价触发单。
// Side 为两条腿共用的平仓方向。
type OCOParams struct {
	Symbol      string
	Side        order.Side
	Quantity    decimal.Decimal
	TakeProfit  decimal.Decimal
	StopLoss    decimal.Decimal
	TimeInForce order.TimeInForce
}

// Validate 校验 OCO 参数。
func (p OCOParams) Validate() error {
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
	if err := order.ValidateOCOPrices(p.Side, p.TakeProfit, p.StopLoss); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := order.ValidateTimeInForce(p.TimeInForce); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// OCO 同时挂出止盈与止损两条腿，任意一条成交即撤销另一条。
// 撤销时对方已被交易所独立终结视为成功，不报错。
type OCO struct {
	params   OCOParams
	placer   execution.OrderPlacer
	canceler Canceler
	tracker  Tracker
	journal  Recorder
	logger   *zap.Logger

	runID string

	mu         sync.Mutex
	state      State
	takeProfit exchange.Order
	stopLoss   exchange.Order
	resolved   bool
	done       chan struct{}
	doneOnce   sync.Once
}

// NewOCO 构造 OCO 运行。
func NewOCO(params OCOParams, placer execution.OrderPlacer, canceler Canceler, tracker Tracker, journal Recorder, logger *zap.Logger) (*OCO, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: OCO 参数校验失败: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OCO{
		params:   params,
		placer:   placer,
		canceler: canceler,
		tracker:  tracker,
		journal:  journal,
		logger:   logger,
		runID:    newRunID("oco"),
		state:    StatePending,
		done:     make(chan struct{}),
	}, nil
}

// RunID 返回运行标识。
func (o *OCO) RunID() string {
	return o.runID
}

// State 返回当前状态。
func (o *OCO) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Done 在两条腿分出结果后关闭。
func (o *OCO) Done() <-chan struct{} {
	return o.done
}

// Run 顺序挂出止盈腿与止损腿并注册监控。
// 第二条腿挂单失败时撤销第一条腿并中止整个运行。
func (o *OCO) Run(ctx context.Context) (Report, error) {
	o.journal.RecordRunStarted(ctx, o.runID, map[string]interface{}{
		"strategy":    "oco",
		"symbol":      o.params.Symbol,
		"side":        string(o.params.Side),
		"take_profit": o.params.TakeProfit.String(),
		"stop_loss":   o.params.StopLoss.String(),
	})

	tpIntent := order.Intent{
		Symbol:      o.params.Symbol,
		Side:        o.params.Side,
		Kind:        order.KindLimit,
		Quantity:    o.params.Quantity,
		Price:       o.params.TakeProfit,
		TimeInForce: o.params.TimeInForce,
	}.WithClientOrderID("oco-tp")

	tp, err := o.placer.Place(ctx, tpIntent)
	if err != nil {
		o.setState(StateAborted)
		o.closeDone()
		o.journal.RecordError(ctx, o.runID, "止盈腿挂单失败", err, nil)
		return o.report(), fmt.Errorf("strategy: OCO 止盈腿挂单失败: %w", err)
	}
	o.journal.RecordOrderPlaced(ctx, o.runID, tp)

	slIntent := order.Intent{
		Symbol:    o.params.Symbol,
		Side:      o.params.Side,
		Kind:      order.KindStopMarket,
		Quantity:  o.params.Quantity,
		StopPrice: o.params.StopLoss,
	}.WithClientOrderID("oco-sl")

	sl, err := o.placer.Place(ctx, slIntent)
	if err != nil {
		// 只剩一条腿没有保护意义，撤掉止盈腿后整体中止。
		if _, cancelErr := o.canceler.CancelOrder(ctx, tp.Symbol, tp.ID); cancelErr != nil && !errors.Is(cancelErr, exchange.ErrOrderGone) {
			o.logger.Error("止损腿失败后撤销止盈腿也失败",
				zap.String("run_id", o.runID),
				zap.String("order_id", tp.ID),
				zap.Error(cancelErr),
			)
		}
		o.setState(StateAborted)
		o.closeDone()
		o.journal.RecordError(ctx, o.runID, "止损腿挂单失败", err, map[string]interface{}{
			"take_profit_order": tp.ID,
		})
		return o.report(), fmt.Errorf("strategy: OCO 止损腿挂单失败: %w", err)
	}
	o.journal.RecordOrderPlaced(ctx, o.runID, sl)

	o.mu.Lock()
	o.takeProfit = tp
	o.stopLoss = sl
	o.state = StateActive
	o.mu.Unlock()

	o.logger.Info("OCO 双腿已挂出",
		zap.String("run_id", o.runID),
		zap.String("take_profit_order", tp.ID),
		zap.String("stop_loss_order", sl.ID),
	)

	o.tracker.Track(monitor.TrackRequest{
		RunID:   o.runID,
		Symbol:  tp.Symbol,
		OrderID: tp.ID,
		Status:  tp.Status,
		React:   o.onUpdate,
	})
	o.tracker.Track(monitor.TrackRequest{
		RunID:   o.runID,
		Symbol:  sl.Symbol,
		OrderID: sl.ID,
		Status:  sl.Status,
		React:   o.onUpdate,
	})

	return o.report(), nil
}

// Wait 阻塞直到两条腿分出结果或 ctx 取消。
func (o *OCO) Wait(ctx context.Context) (Report, error) {
	select {
	case <-ctx.Done():
		return o.report(), ctx.Err()
	case <-o.done:
		return o.report(), nil
	}
}

// Cancel 主动撤销两条腿，已终结的腿跳过。
func (o *OCO) Cancel(ctx context.Context) Report {
	o.mu.Lock()
	if o.resolved {
		o.mu.Unlock()
		return o.report()
	}
	o.resolved = true
	legs := []exchange.Order{o.takeProfit, o.stopLoss}
	o.mu.Unlock()

	canceled, failed := cancelOpenOrders(ctx, o.canceler, legs)
	o.journal.RecordRunCanceled(ctx, o.runID, map[string]interface{}{
		"canceled_orders": canceled,
		"cancel_failures": failed,
	})
	o.setState(StateCanceled)
	o.closeDone()
	o.untrackLegs()
	return o.report()
}

// onUpdate 处理监控回报。监控循环串行调用，resolved 标记保证
// 同一条腿的重复成交通知不会触发第二次撤单。
func (o *OCO) onUpdate(update monitor.OrderUpdate) {
	o.mu.Lock()
	if o.takeProfit.ID == update.Order.ID {
		o.takeProfit = update.Order
	} else if o.stopLoss.ID == update.Order.ID {
		o.stopLoss = update.Order
	}

	if o.resolved {
		o.mu.Unlock()
		return
	}

	switch {
	case update.Current == exchange.StatusFilled:
		o.resolved = true
		sibling := o.stopLoss
		if update.Order.ID == o.stopLoss.ID {
			sibling = o.takeProfit
		}
		o.mu.Unlock()
		o.resolve(update.Order, sibling)
	case o.takeProfit.Status.Terminal() && o.stopLoss.Status.Terminal():
		// 两条腿都被交易所独立终结（撤销/过期），配对自然失效。
		o.resolved = true
		o.mu.Unlock()
		o.logger.Info("OCO 双腿均已终结，配对解除",
			zap.String("run_id", o.runID),
		)
		o.setState(StateResolved)
		o.closeDone()
	default:
		o.mu.Unlock()
	}
}

func (o *OCO) resolve(filled, sibling exchange.Order) {
	ctx := context.Background()

	o.logger.Info("OCO 一腿成交，撤销另一腿",
		zap.String("run_id", o.runID),
		zap.String("filled_order", filled.ID),
		zap.String("sibling_order", sibling.ID),
	)

	if !sibling.Status.Terminal() {
		if _, err := o.canceler.CancelOrder(ctx, sibling.Symbol, sibling.ID); err != nil && !errors.Is(err, exchange.ErrOrderGone) {
			o.logger.Error("撤销另一腿失败",
				zap.String("run_id", o.runID),
				zap.String("order_id", sibling.ID),
				zap.Error(err),
			)
			o.journal.RecordError(ctx, o.runID, "撤销另一腿失败", err, map[string]interface{}{
				"order_id": sibling.ID,
			})
		}
	}

	o.untrackLegs()
	o.setState(StateResolved)
	o.journal.RecordRunFinished(ctx, o.runID, map[string]interface{}{
		"state":         string(StateResolved),
		"filled_order":  filled.ID,
		"sibling_order": sibling.ID,
	})
	o.closeDone()
}

func (o *OCO) untrackLegs() {
	if o.tracker == nil {
		return
	}
	o.mu.Lock()
	tpID, slID := o.takeProfit.ID, o.stopLoss.ID
	o.mu.Unlock()
	if tpID != "" {
		o.tracker.Untrack(tpID)
	}
	if slID != "" {
		o.tracker.Untrack(slID)
	}
}

func (o *OCO) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *OCO) closeDone() {
	o.doneOnce.Do(func() { close(o.done) })
}

func (o *OCO) report() Report {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := Report{RunID: o.runID, State: o.state}
	for _, leg := range []exchange.Order{o.takeProfit, o.stopLoss} {
		if leg.ID != "" {
			report.Attempted++
			report.Placed++
			report.Orders = append(report.Orders, leg)
		}
	}
	return report
}
