package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"futures-bot/internal/exchange"
	"futures-bot/internal/execution"
	"futures-bot/internal/monitor"
	"futures-bot/internal/order"
)

// Spacing 表示网格价位的分布方式。
type Spacing string

const (
	SpacingLinear      Spacing = "LINEAR"
	SpacingLogarithmic Spacing = "LOGARITHMIC"
)

// 价格保留 8 位小数，与交易所价格精度上限一致。
const priceScale = 8

// GridParams 描述一次网格运行的全部输入。
// Side 为空时按 AUTO 规则分边：低于参考价的档位挂 BUY，其余挂 SELL。
type GridParams struct {
	Symbol         string
	Side           order.Side
	Quantity       decimal.Decimal
	Lower          decimal.Decimal
	Upper          decimal.Decimal
	Levels         int
	Spacing        Spacing
	TimeInForce    order.TimeInForce
	ReferencePrice decimal.Decimal
}

// Validate 校验网格参数。
func (p GridParams) Validate() error {
	var errs error
	if err := order.ValidateSymbol(p.Symbol); err != nil {
		errs = multierr.Append(errs, err)
	}
	if p.Side != "" {
		if err := order.ValidateSide(p.Side); err != nil {
			errs = multierr.Append(errs, err)
		}
	} else if err := order.ValidatePrice("reference_price", p.ReferencePrice); err != nil {
		errs = multierr.Append(errs, &order.ValidationError{Field: "reference_price", Reason: "AUTO 分边需要有效参考价"})
	}
	if err := order.ValidateQuantity(p.Quantity); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := order.ValidatePriceRange(p.Lower, p.Upper); err != nil {
		errs = multierr.Append(errs, err)
	}
	if p.Levels < 2 {
		errs = multierr.Append(errs, &order.ValidationError{Field: "levels", Reason: "档位数必须不少于 2"})
	}
	if p.Spacing != SpacingLinear && p.Spacing != SpacingLogarithmic {
		errs = multierr.Append(errs, &order.ValidationError{Field: "spacing", Reason: "分布方式必须为 LINEAR 或 LOGARITHMIC"})
	}
	if err := order.ValidateTimeInForce(p.TimeInForce); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Level 表示网格中的单个档位及其当前状态。
type Level struct {
	Seq    int
	Price  decimal.Decimal
	Side   order.Side
	Order  exchange.Order
	Placed bool
	Err    error
}

// Grid 在区间内生成价格阶梯并一次性挂出全部限价单，
// 档位成交情况由监控循环回报更新。不做补单。
type Grid struct {
	params   GridParams
	placer   execution.OrderPlacer
	canceler Canceler
	tracker  Tracker
	journal  Recorder
	logger   *zap.Logger

	runID string

	mu     sync.Mutex
	state  State
	levels []Level
}

// NewGrid 构造网格运行，档位在此阶段即全部算出。
func NewGrid(params GridParams, placer execution.OrderPlacer, canceler Canceler, tracker Tracker, journal Recorder, logger *zap.Logger) (*Grid, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: 网格参数校验失败: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Grid{
		params:   params,
		placer:   placer,
		canceler: canceler,
		tracker:  tracker,
		journal:  journal,
		logger:   logger,
		runID:    newRunID("grid"),
		state:    StatePending,
	}
	g.levels = buildLevels(params)
	return g, nil
}

// RunID 返回运行标识。
func (g *Grid) RunID() string {
	return g.runID
}

// State 返回当前状态。
func (g *Grid) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Levels 返回档位快照。
func (g *Grid) Levels() []Level {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Level(nil), g.levels...)
}

// Run 按档位顺序挂出全部限价单。单档失败跳过，不中断其余档位。
func (g *Grid) Run(ctx context.Context) (Report, error) {
	g.setState(StateActive)
	g.journal.RecordRunStarted(ctx, g.runID, map[string]interface{}{
		"strategy": "grid",
		"symbol":   g.params.Symbol,
		"lower":    g.params.Lower.String(),
		"upper":    g.params.Upper.String(),
		"levels":   g.params.Levels,
		"spacing":  string(g.params.Spacing),
	})
	g.logger.Info("网格运行启动",
		zap.String("run_id", g.runID),
		zap.String("symbol", g.params.Symbol),
		zap.Int("levels", g.params.Levels),
		zap.String("spacing", string(g.params.Spacing)),
	)

	for i := range g.levels {
		if err := ctx.Err(); err != nil {
			return g.finish(ctx, StateAborted), err
		}
		g.placeLevel(ctx, i)
	}

	return g.finish(ctx, StateActive), nil
}

// Cancel 撤销所有仍在途的档位订单，已成交档位不动。
func (g *Grid) Cancel(ctx context.Context) Report {
	g.mu.Lock()
	open := make([]exchange.Order, 0, len(g.levels))
	for _, lv := range g.levels {
		if lv.Placed {
			open = append(open, lv.Order)
		}
	}
	g.mu.Unlock()

	canceled, failed := cancelOpenOrders(ctx, g.canceler, open)
	g.logger.Info("网格运行已取消",
		zap.String("run_id", g.runID),
		zap.Int("canceled_orders", canceled),
		zap.Int("cancel_failures", failed),
	)
	g.journal.RecordRunCanceled(ctx, g.runID, map[string]interface{}{
		"canceled_orders": canceled,
		"cancel_failures": failed,
	})
	g.setState(StateCanceled)
	return g.reportLocked()
}

func (g *Grid) placeLevel(ctx context.Context, idx int) {
	g.mu.Lock()
	lv := g.levels[idx]
	g.mu.Unlock()

	intent := order.Intent{
		Symbol:      g.params.Symbol,
		Side:        lv.Side,
		Kind:        order.KindLimit,
		Quantity:    g.params.Quantity,
		Price:       lv.Price,
		TimeInForce: g.params.TimeInForce,
	}.WithClientOrderID("grid")

	placed, err := g.placer.Place(ctx, intent)
	if err != nil {
		g.mu.Lock()
		g.levels[idx].Err = err
		g.mu.Unlock()
		g.logger.Warn("网格档位挂单失败，跳过",
			zap.String("run_id", g.runID),
			zap.Int("level", lv.Seq),
			zap.String("price", lv.Price.String()),
			zap.Error(err),
		)
		g.journal.RecordError(ctx, g.runID, "档位挂单失败", err, map[string]interface{}{
			"level": lv.Seq,
			"price": lv.Price.String(),
		})
		return
	}

	g.mu.Lock()
	g.levels[idx].Order = placed
	g.levels[idx].Placed = true
	g.mu.Unlock()

	g.journal.RecordOrderPlaced(ctx, g.runID, placed)
	g.logger.Info("网格档位已挂单",
		zap.String("run_id", g.runID),
		zap.Int("level", lv.Seq),
		zap.String("side", string(lv.Side)),
		zap.String("price", lv.Price.String()),
		zap.String("order_id", placed.ID),
	)

	if g.tracker != nil && !placed.Status.Terminal() {
		g.tracker.Track(monitor.TrackRequest{
			RunID:   g.runID,
			Symbol:  placed.Symbol,
			OrderID: placed.ID,
			Status:  placed.Status,
			React:   g.onUpdate,
		})
	}
}

func (g *Grid) onUpdate(update monitor.OrderUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.levels {
		if g.levels[i].Placed && g.levels[i].Order.ID == update.Order.ID {
			g.levels[i].Order = update.Order
			return
		}
	}
}

func (g *Grid) finish(ctx context.Context, state State) Report {
	g.setState(state)
	report := g.reportLocked()
	g.journal.RecordRunFinished(ctx, g.runID, map[string]interface{}{
		"state":     string(state),
		"attempted": report.Attempted,
		"placed":    report.Placed,
		"failed":    report.Failed,
	})
	g.logger.Info("网格挂单完成",
		zap.String("run_id", g.runID),
		zap.Int("placed", report.Placed),
		zap.Int("failed", report.Failed),
	)
	return report
}

func (g *Grid) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

func (g *Grid) reportLocked() Report {
	g.mu.Lock()
	defer g.mu.Unlock()

	report := Report{RunID: g.runID, State: g.state}
	for _, lv := range g.levels {
		if lv.Placed || lv.Err != nil {
			report.Attempted++
		}
		if lv.Placed {
			report.Placed++
			report.Orders = append(report.Orders, lv.Order)
		}
		if lv.Err != nil {
			report.Failed++
		}
	}
	return report
}

// buildLevels 生成网格档位。LINEAR 时档位等差且两端恰好落在区间边界；
// LOGARITHMIC 时对数等距。Side 为空按参考价分边。
func buildLevels(params GridParams) []Level {
	levels := make([]Level, params.Levels)
	span := decimal.NewFromInt(int64(params.Levels - 1))

	var logStep float64
	if params.Spacing == SpacingLogarithmic {
		lower, _ := params.Lower.Float64()
		upper, _ := params.Upper.Float64()
		logStep = (math.Log(upper) - math.Log(lower)) / float64(params.Levels-1)
	}

	diff := params.Upper.Sub(params.Lower)
	for i := range levels {
		var price decimal.Decimal
		switch params.Spacing {
		case SpacingLogarithmic:
			// 两端直接取区间边界，避免浮点指数运算落在 59999.99999999 这类值上。
			switch i {
			case 0:
				price = params.Lower
			case params.Levels - 1:
				price = params.Upper
			default:
				lower, _ := params.Lower.Float64()
				price = decimal.NewFromFloat(lower * math.Exp(float64(i)*logStep)).Round(priceScale)
			}
		default:
			price = params.Lower.Add(diff.Mul(decimal.NewFromInt(int64(i))).DivRound(span, priceScale))
		}

		side := params.Side
		if side == "" {
			if price.LessThan(params.ReferencePrice) {
				side = order.SideBuy
			} else {
				side = order.SideSell
			}
		}

		levels[i] = Level{Seq: i + 1, Price: price, Side: side}
	}
	return levels
}
