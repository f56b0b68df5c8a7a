package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-bot/internal/exchange"
	"futures-bot/internal/order"
	"futures-bot/internal/strategy"
)

type commandFunc func(ctx context.Context, args []string) error

const commandList = "market, limit, stop-limit, stop-market, take-profit, oco, twap, grid, dca, cancel, status, balance"

func (a *App) commands() map[string]commandFunc {
	return map[string]commandFunc{
		"market":      a.cmdMarket,
		"limit":       a.cmdLimit,
		"stop-limit":  a.cmdStopLimit,
		"stop-market": a.cmdStopMarket,
		"take-profit": a.cmdTakeProfit,
		"oco":         a.cmdOCO,
		"twap":        a.cmdTWAP,
		"grid":        a.cmdGrid,
		"dca":         a.cmdDCA,
		"cancel":      a.cmdCancel,
		"status":      a.cmdStatus,
		"balance":     a.cmdBalance,
	}
}

func (a *App) cmdMarket(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("market", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "交易对，例如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY 或 SELL")
	quantity := fs.String("quantity", "", "下单数量")
	reduceOnly := fs.Bool("reduce-only", false, "只减仓")
	if err := fs.Parse(args); err != nil {
		return err
	}

	qty, err := parseDecimal("quantity", *quantity)
	if err != nil {
		return err
	}

	intent := order.Intent{
		Symbol:     strings.ToUpper(*symbol),
		Side:       order.Side(strings.ToUpper(*side)),
		Kind:       order.KindMarket,
		Quantity:   qty,
		ReduceOnly: *reduceOnly,
	}.WithClientOrderID("cli")

	return a.placeSingle(ctx, intent)
}

func (a *App) cmdLimit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("limit", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "交易对，例如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY 或 SELL")
	quantity := fs.String("quantity", "", "下单数量")
	price := fs.String("price", "", "限价")
	tif := fs.String("tif", "", "有效期策略，默认取配置")
	reduceOnly := fs.Bool("reduce-only", false, "只减仓")
	if err := fs.Parse(args); err != nil {
		return err
	}

	qty, err := parseDecimal("quantity", *quantity)
	if err != nil {
		return err
	}
	limitPrice, err := parseDecimal("price", *price)
	if err != nil {
		return err
	}

	intent := order.Intent{
		Symbol:      strings.ToUpper(*symbol),
		Side:        order.Side(strings.ToUpper(*side)),
		Kind:        order.KindLimit,
		Quantity:    qty,
		Price:       limitPrice,
		TimeInForce: a.timeInForce(*tif),
		ReduceOnly:  *reduceOnly,
	}.WithClientOrderID("cli")

	return a.placeSingle(ctx, intent)
}

func (a *App) cmdStopLimit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stop-limit", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "交易对，例如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY 或 SELL")
	quantity := fs.String("quantity", "", "下单数量")
	price := fs.String("price", "", "触发后的限价")
	stop := fs.String("stop", "", "触发价")
	tif := fs.String("tif", "", "有效期策略，默认取配置")
	if err := fs.Parse(args); err != nil {
		return err
	}

	qty, err := parseDecimal("quantity", *quantity)
	if err != nil {
		return err
	}
	limitPrice, err := parseDecimal("price", *price)
	if err != nil {
		return err
	}
	stopPrice, err := parseDecimal("stop", *stop)
	if err != nil {
		return err
	}

	intent := order.Intent{
		Symbol:      strings.ToUpper(*symbol),
		Side:        order.Side(strings.ToUpper(*side)),
		Kind:        order.KindStopLimit,
		Quantity:    qty,
		Price:       limitPrice,
		StopPrice:   stopPrice,
		TimeInForce: a.timeInForce(*tif),
	}.WithClientOrderID("cli")

	return a.placeSingle(ctx, intent)
}

func (a *App) cmdStopMarket(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stop-market", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "交易对，例如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY 或 SELL")
	quantity := fs.String("quantity", "", "下单数量")
	stop := fs.String("stop", "", "触发价")
	reduceOnly := fs.Bool("reduce-only", false, "只减仓")
	if err := fs.Parse(args); err != nil {
		return err
	}

	qty, err := parseDecimal("quantity", *quantity)
	if err != nil {
		return err
	}
	stopPrice, err := parseDecimal("stop", *stop)
	if err != nil {
		return err
	}

	intent := order.Intent{
		Symbol:     strings.ToUpper(*symbol),
		Side:       order.Side(strings.ToUpper(*side)),
		Kind:       order.KindStopMarket,
		Quantity:   qty,
		StopPrice:  stopPrice,
		ReduceOnly: *reduceOnly,
	}.WithClientOrderID("cli")

	return a.placeSingle(ctx, intent)
}

func (a *App) cmdTakeProfit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("take-profit", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "交易对，例如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY 或 SELL")
	quantity := fs.String("quantity", "", "下单数量")
	stop := fs.String("stop", "", "止盈触发价")
	reduceOnly := fs.Bool("reduce-only", false, "只减仓")
	if err := fs.Parse(args); err != nil {
		return err
	}

	qty, err := parseDecimal("quantity", *quantity)
	if err != nil {
		return err
	}
	stopPrice, err := parseDecimal("stop", *stop)
	if err != nil {
		return err
	}

	intent := order.Intent{
		Symbol:     strings.ToUpper(*symbol),
		Side:       order.Side(strings.ToUpper(*side)),
		Kind:       order.KindTakeProfit,
		Quantity:   qty,
		StopPrice:  stopPrice,
		ReduceOnly: *reduceOnly,
	}.WithClientOrderID("cli")

	return a.placeSingle(ctx, intent)
}

func (a *App) cmdOCO(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("oco", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "交易对，例如 BTCUSDT")
	side := fs.String("side", "", "平仓方向 BUY 或 SELL")
	quantity := fs.String("quantity", "", "下单数量")
	takeProfit := fs.String("take-profit", "", "止盈限价")
	stopLoss := fs.String("stop-loss", "", "止损触发价")
	tif := fs.String("tif", "", "有效期策略，默认取配置")
	if err := fs.Parse(args); err != nil {
		return err
	}

	qty, err := parseDecimal("quantity", *quantity)
	if err != nil {
		return err
	}
	tp, err := parseDecimal("take-profit", *takeProfit)
	if err != nil {
		return err
	}
	sl, err := parseDecimal("stop-loss", *stopLoss)
	if err != nil {
		return err
	}

	oco, err := strategy.NewOCO(strategy.OCOParams{
		Symbol:      strings.ToUpper(*symbol),
		Side:        order.Side(strings.ToUpper(*side)),
		Quantity:    qty,
		TakeProfit:  tp,
		StopLoss:    sl,
		TimeInForce: a.timeInForce(*tif),
	}, a.placer, a.gateway, a.watcher, a.journal, a.logger)
	if err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.watcher.Run(watchCtx)

	report, err := oco.Run(ctx)
	if err != nil {
		return err
	}
	for _, placed := range report.Orders {
		printOrder(placed)
	}

	fmt.Printf("OCO %s 双腿已挂出，监控中（Ctrl-C 退出并保留挂单）\n", report.RunID)
	final, err := oco.Wait(ctx)
	if err != nil {
		fmt.Printf("OCO %s 监控退出: %v\n", final.RunID, err)
		return nil
	}

	fmt.Printf("OCO %s 已解除，最终状态 %s\n", final.RunID, final.State)
	return nil
}

func (a *App) cmdTWAP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("twap", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "交易对，例如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY 或 SELL")
	total := fs.String("total", "", "总数量")
	slices := fs.Int("slices", 0, "切片数")
	duration := fs.Duration("duration", 0, "总时长，例如 30m")
	price := fs.String("price", "", "限价（留空则市价切片）")
	tif := fs.String("tif", "", "有效期策略，默认取配置")
	if err := fs.Parse(args); err != nil {
		return err
	}

	totalQty, err := parseDecimal("total", *total)
	if err != nil {
		return err
	}
	limitPrice, err := parseOptionalDecimal("price", *price)
	if err != nil {
		return err
	}

	params := strategy.TWAPParams{
		Symbol:        strings.ToUpper(*symbol),
		Side:          order.Side(strings.ToUpper(*side)),
		TotalQuantity: totalQty,
		Slices:        *slices,
		Duration:      *duration,
		LimitPrice:    limitPrice,
	}
	if !limitPrice.IsZero() {
		params.TimeInForce = a.timeInForce(*tif)
	}

	twap, err := strategy.NewTWAP(params, a.placer, a.gateway, a.watcher, a.journal, a.logger)
	if err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.watcher.Run(watchCtx)

	report, err := twap.Run(ctx)
	if err != nil {
		return err
	}

	printReport("TWAP", report)
	return nil
}

func (a *App) cmdGrid(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("grid", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "交易对，例如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY 或 SELL，留空按参考价自动分边")
	quantity := fs.String("quantity", "", "每档数量")
	lower := fs.String("lower", "", "区间下界")
	upper := fs.String("upper", "", "区间上界")
	levels := fs.Int("levels", 0, "档位数")
	spacing := fs.String("spacing", "LINEAR", "分布方式 LINEAR 或 LOGARITHMIC")
	reference := fs.String("reference", "", "AUTO 分边参考价，留空则按 EMA 自动计算")
	tif := fs.String("tif", "", "有效期策略，默认取配置")
	if err := fs.Parse(args); err != nil {
		return err
	}

	qty, err := parseDecimal("quantity", *quantity)
	if err != nil {
		return err
	}
	lowerPrice, err := parseDecimal("lower", *lower)
	if err != nil {
		return err
	}
	upperPrice, err := parseDecimal("upper", *upper)
	if err != nil {
		return err
	}

	params := strategy.GridParams{
		Symbol:      strings.ToUpper(*symbol),
		Side:        order.Side(strings.ToUpper(*side)),
		Quantity:    qty,
		Lower:       lowerPrice,
		Upper:       upperPrice,
		Levels:      *levels,
		Spacing:     strategy.Spacing(strings.ToUpper(*spacing)),
		TimeInForce: a.timeInForce(*tif),
	}

	if params.Side == "" {
		refPrice, err := a.resolveReference(ctx, params.Symbol, *reference)
		if err != nil {
			return err
		}
		params.ReferencePrice = refPrice
		fmt.Printf("AUTO 分边参考价: %s\n", refPrice)
	}

	grid, err := strategy.NewGrid(params, a.placer, a.gateway, a.watcher, a.journal, a.logger)
	if err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.watcher.Run(watchCtx)

	report, err := grid.Run(ctx)
	if err != nil {
		return err
	}

	for _, lv := range grid.Levels() {
		if lv.Placed {
			fmt.Printf("档位 %2d  %-4s @ %-12s 订单 %s (%s)\n", lv.Seq, lv.Side, lv.Price, lv.Order.ID, lv.Order.Status)
		} else {
			fmt.Printf("档位 %2d  %-4s @ %-12s 挂单失败: %v\n", lv.Seq, lv.Side, lv.Price, lv.Err)
		}
	}
	printReport("网格", report)
	return nil
}

func (a *App) cmdDCA(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dca", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "交易对，例如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY 或 SELL")
	quantity := fs.String("quantity", "", "每轮数量")
	rounds := fs.Int("rounds", 0, "轮数")
	interval := fs.Duration("interval", 0, "轮间隔，例如 1h")
	price := fs.String("price", "", "限价（留空则市价）")
	tif := fs.String("tif", "", "有效期策略，默认取配置")
	if err := fs.Parse(args); err != nil {
		return err
	}

	qty, err := parseDecimal("quantity", *quantity)
	if err != nil {
		return err
	}
	limitPrice, err := parseOptionalDecimal("price", *price)
	if err != nil {
		return err
	}

	params := strategy.DCAParams{
		Symbol:     strings.ToUpper(*symbol),
		Side:       order.Side(strings.ToUpper(*side)),
		Quantity:   qty,
		Rounds:     *rounds,
		Interval:   *interval,
		LimitPrice: limitPrice,
	}
	if !limitPrice.IsZero() {
		params.TimeInForce = a.timeInForce(*tif)
	}

	dca, err := strategy.NewDCA(params, a.placer, a.gateway, a.watcher, a.journal, a.logger)
	if err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.watcher.Run(watchCtx)

	report, err := dca.Run(ctx)
	if err != nil {
		return err
	}

	printReport("定投", report)
	return nil
}

func (a *App) cmdCancel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "交易对，例如 BTCUSDT")
	id := fs.String("id", "", "订单号")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return &order.ValidationError{Field: "id", Reason: "订单号不能为空"}
	}

	canceled, err := a.gateway.CancelOrder(ctx, strings.ToUpper(*symbol), *id)
	if errors.Is(err, exchange.ErrOrderGone) {
		fmt.Printf("订单 %s 已终结，无需撤销\n", *id)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("订单 %s 已撤销，状态 %s\n", canceled.ID, canceled.Status)
	return nil
}

func (a *App) cmdStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "交易对，例如 BTCUSDT")
	events := fs.Int("events", 10, "显示最近事件条数")
	if err := fs.Parse(args); err != nil {
		return err
	}

	open, err := a.gateway.FetchOpenOrders(ctx, strings.ToUpper(*symbol))
	if err != nil {
		return err
	}

	if len(open) == 0 {
		fmt.Println("当前无挂单")
	} else {
		fmt.Printf("挂单 %d 笔:\n", len(open))
		for _, o := range open {
			fmt.Printf("  %-12s %-4s %-12s 数量 %-12s 价格 %-12s 状态 %s\n",
				o.ID, o.Side, o.Kind, o.Amount, o.Price, o.Status)
		}
	}

	if a.posMgr != nil {
		balance, positions, err := a.posMgr.FetchSnapshot(ctx, *symbol)
		if err != nil {
			a.logger.Warn("获取账户快照失败", zap.Error(err))
		} else {
			fmt.Printf("账户权益 %.2f USD，可用 %.2f USD，未实现盈亏 %.2f\n",
				balance.TotalUSD, balance.FreeUSD, balance.Unrealized)
			for _, pos := range positions {
				fmt.Printf("  持仓 %s %s %.6f @ %.2f 标记价 %.2f 未实现 %.2f\n",
					pos.Symbol, pos.Side, pos.Size, pos.EntryPrice, pos.MarkPrice, pos.UnrealizedPnl)
			}
		}
	}

	recent, err := a.journal.ListEvents(ctx, "", *events)
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		fmt.Printf("最近事件 %d 条:\n", len(recent))
		for _, ev := range recent {
			fmt.Printf("  %s  %-18s run=%s\n", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.RunID)
		}
	}

	return nil
}

func (a *App) cmdBalance(ctx context.Context, args []string) error {
	if a.posMgr == nil {
		return fmt.Errorf("模拟模式下无账户资金可查询")
	}

	balance, positions, err := a.posMgr.FetchSnapshot(ctx, "")
	if err != nil {
		return err
	}

	fmt.Printf("账户权益 %.2f USD\n", balance.TotalUSD)
	fmt.Printf("可用余额 %.2f USD\n", balance.FreeUSD)
	fmt.Printf("占用保证金 %.2f USD\n", balance.UsedUSD)
	fmt.Printf("未实现盈亏 %.2f USD\n", balance.Unrealized)
	for _, pos := range positions {
		fmt.Printf("持仓 %s %s %.6f @ %.2f 杠杆 %.0fx 未实现 %.2f\n",
			pos.Symbol, pos.Side, pos.Size, pos.EntryPrice, pos.Leverage, pos.UnrealizedPnl)
	}

	return nil
}

func (a *App) placeSingle(ctx context.Context, intent order.Intent) error {
	if intent.Kind.RequiresPrice() && intent.TimeInForce == "" {
		intent.TimeInForce = a.timeInForce("")
	}

	a.journal.RecordIntentSubmitted(ctx, "", intent)
	placed, err := a.placer.Place(ctx, intent)
	if err != nil {
		return err
	}

	a.journal.RecordOrderPlaced(ctx, "", placed)
	printOrder(placed)
	return nil
}

// resolveReference 确定网格 AUTO 分边的参考价：
// 显式给出优先，否则在实盘模式按 EMA 计算。
func (a *App) resolveReference(ctx context.Context, symbol, explicit string) (decimal.Decimal, error) {
	if explicit != "" {
		return parseDecimal("reference", explicit)
	}
	if a.pricer == nil {
		return decimal.Zero, fmt.Errorf("模拟模式下 AUTO 分边需要显式 -reference 参考价")
	}
	return a.pricer.Reference(ctx, symbol)
}

func (a *App) timeInForce(explicit string) order.TimeInForce {
	if explicit != "" {
		return order.TimeInForce(strings.ToUpper(explicit))
	}
	return order.TimeInForce(a.cfg.Execution.TimeInForce)
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, &order.ValidationError{Field: field, Reason: "不能为空"}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, &order.ValidationError{Field: field, Reason: "不是合法数字"}
	}
	return d, nil
}

func parseOptionalDecimal(field, value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, nil
	}
	return parseDecimal(field, value)
}

func printOrder(placed exchange.Order) {
	price := placed.Price
	if price.IsZero() {
		price = placed.AvgPrice
	}
	fmt.Printf("订单已受理: %s  %s %s %s  数量 %s  价格 %s  状态 %s\n",
		placed.ID, placed.Symbol, placed.Side, placed.Kind, placed.Amount, price, placed.Status)
}

func printReport(name string, report strategy.Report) {
	fmt.Printf("%s %s 结束，状态 %s：尝试 %d 笔，成功 %d 笔，失败 %d 笔\n",
		name, report.RunID, report.State, report.Attempted, report.Placed, report.Failed)
}
