package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError 指明违反规则的字段及原因。校验全部为纯函数，不触网。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order: 参数校验失败 %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ValidateSymbol 校验交易对格式（大写字母与数字，如 BTCUSDT）。
func ValidateSymbol(symbol string) error {
	if len(symbol) < 5 {
		return invalid("symbol", "长度不足，应为类似 BTCUSDT 的交易对")
	}
	for _, r := range symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return invalid("symbol", "仅允许大写字母与数字")
		}
	}
	return nil
}

// ValidateSide 校验下单方向。
func ValidateSide(side Side) error {
	if side != SideBuy && side != SideSell {
		return invalid("side", "必须为 BUY 或 SELL")
	}
	return nil
}

// ValidateQuantity 校验数量为正。
func ValidateQuantity(quantity decimal.Decimal) error {
	if quantity.Sign() <= 0 {
		return invalid("quantity", "必须大于0")
	}
	return nil
}

// ValidatePrice 校验价格为正。
func ValidatePrice(field string, price decimal.Decimal) error {
	if price.Sign() <= 0 {
		return invalid(field, "必须大于0")
	}
	return nil
}

// ValidateTimeInForce 校验有效期策略。
func ValidateTimeInForce(tif TimeInForce) error {
	switch tif {
	case TIFGoodTillCancel, TIFImmediate, TIFFillOrKill:
		return nil
	default:
		return invalid("time_in_force", "必须为 GTC、IOC 或 FOK")
	}
}

// ValidateIntent 对订单意图做全量校验。
// 价格与触发价的必填性由订单类型唯一确定；
// 止损限价单还要求触发价与限价的方向关系成立。
func ValidateIntent(intent Intent) error {
	if err := ValidateSymbol(intent.Symbol); err != nil {
		return err
	}
	if err := ValidateSide(intent.Side); err != nil {
		return err
	}
	if err := ValidateQuantity(intent.Quantity); err != nil {
		return err
	}

	switch intent.Kind {
	case KindMarket, KindLimit, KindStopLimit, KindStopMarket, KindTakeProfit:
	default:
		return invalid("kind", fmt.Sprintf("未知订单类型 %q", intent.Kind))
	}

	if intent.Kind.RequiresPrice() {
		if err := ValidatePrice("price", intent.Price); err != nil {
			return err
		}
	} else if intent.Price.Sign() != 0 {
		return invalid("price", fmt.Sprintf("%s 订单不接受限价", intent.Kind))
	}

	if intent.Kind.RequiresStopPrice() {
		if err := ValidatePrice("stop_price", intent.StopPrice); err != nil {
			return err
		}
	} else if intent.StopPrice.Sign() != 0 {
		return invalid("stop_price", fmt.Sprintf("%s 订单不接受触发价", intent.Kind))
	}

	if intent.Kind == KindLimit || intent.Kind == KindStopLimit {
		if err := ValidateTimeInForce(intent.TimeInForce); err != nil {
			return err
		}
	}

	if intent.Kind == KindStopLimit {
		if err := validateStopLimitOrdering(intent.Side, intent.StopPrice, intent.Price); err != nil {
			return err
		}
	}

	return nil
}

// validateStopLimitOrdering 校验止损限价单的触发价与限价关系。
// BUY 止损单在价格上破时触发，触发价必须高于限价；SELL 对称。
func validateStopLimitOrdering(side Side, stopPrice, limitPrice decimal.Decimal) error {
	switch side {
	case SideBuy:
		if stopPrice.LessThanOrEqual(limitPrice) {
			return invalid("stop_price", "BUY 止损限价单的触发价必须高于限价")
		}
	case SideSell:
		if stopPrice.GreaterThanOrEqual(limitPrice) {
			return invalid("stop_price", "SELL 止损限价单的触发价必须低于限价")
		}
	}
	return nil
}

// ValidateOCOPrices 校验 OCO 止盈价与止损价的方向关系。
// BUY 持仓平仓场景要求止盈价高于止损价；SELL 对称。
func ValidateOCOPrices(side Side, takeProfit, stopLoss decimal.Decimal) error {
	if err := ValidatePrice("take_profit", takeProfit); err != nil {
		return err
	}
	if err := ValidatePrice("stop_loss", stopLoss); err != nil {
		return err
	}
	switch side {
	case SideBuy:
		if takeProfit.LessThanOrEqual(stopLoss) {
			return invalid("take_profit", "BUY 方向要求止盈价高于止损价")
		}
	case SideSell:
		if takeProfit.GreaterThanOrEqual(stopLoss) {
			return invalid("take_profit", "SELL 方向要求止盈价低于止损价")
		}
	}
	return nil
}

// ValidatePriceRange 校验价格区间（网格下界必须低于上界）。
func ValidatePriceRange(lower, upper decimal.Decimal) error {
	if err := ValidatePrice("lower_price", lower); err != nil {
		return err
	}
	if err := ValidatePrice("upper_price", upper); err != nil {
		return err
	}
	if lower.GreaterThanOrEqual(upper) {
		return invalid("lower_price", "必须小于 upper_price")
	}
	return nil
}
