package order

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func validLimitIntent() Intent {
	return Intent{
		Symbol:      "BTCUSDT",
		Side:        SideBuy,
		Kind:        KindLimit,
		Quantity:    d("0.01"),
		Price:       d("60000"),
		TimeInForce: TIFGoodTillCancel,
	}
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return vErr.Field
}

func TestValidateSymbol(t *testing.T) {
	if err := ValidateSymbol("BTCUSDT"); err != nil {
		t.Fatalf("valid symbol rejected: %v", err)
	}
	if err := ValidateSymbol("1000PEPEUSDT"); err != nil {
		t.Fatalf("numeric-prefixed symbol rejected: %v", err)
	}
	if err := ValidateSymbol("BTC"); err == nil {
		t.Fatal("short symbol must be rejected")
	}
	if err := ValidateSymbol("btcusdt"); err == nil {
		t.Fatal("lowercase symbol must be rejected")
	}
	if err := ValidateSymbol("BTC/USDT"); err == nil {
		t.Fatal("separator characters must be rejected")
	}
}

func TestValidateIntentMarket(t *testing.T) {
	intent := Intent{
		Symbol:   "BTCUSDT",
		Side:     SideSell,
		Kind:     KindMarket,
		Quantity: d("0.5"),
	}
	if err := ValidateIntent(intent); err != nil {
		t.Fatalf("valid market intent rejected: %v", err)
	}

	intent.Price = d("60000")
	if field := fieldOf(t, ValidateIntent(intent)); field != "price" {
		t.Fatalf("market order with price must fail on price, got %s", field)
	}

	intent.Price = decimal.Zero
	intent.Quantity = d("-1")
	if field := fieldOf(t, ValidateIntent(intent)); field != "quantity" {
		t.Fatalf("negative quantity must fail on quantity, got %s", field)
	}
}

func TestValidateIntentLimitRequiresPriceAndTIF(t *testing.T) {
	intent := validLimitIntent()
	if err := ValidateIntent(intent); err != nil {
		t.Fatalf("valid limit intent rejected: %v", err)
	}

	noPrice := intent
	noPrice.Price = decimal.Zero
	if field := fieldOf(t, ValidateIntent(noPrice)); field != "price" {
		t.Fatalf("limit without price must fail on price, got %s", field)
	}

	noTIF := intent
	noTIF.TimeInForce = ""
	if field := fieldOf(t, ValidateIntent(noTIF)); field != "time_in_force" {
		t.Fatalf("limit without time-in-force must fail, got %s", field)
	}
}

func TestValidateIntentStopLimitOrdering(t *testing.T) {
	intent := Intent{
		Symbol:      "BTCUSDT",
		Side:        SideBuy,
		Kind:        KindStopLimit,
		Quantity:    d("0.01"),
		Price:       d("61000"),
		StopPrice:   d("62000"),
		TimeInForce: TIFGoodTillCancel,
	}
	if err := ValidateIntent(intent); err != nil {
		t.Fatalf("valid BUY stop-limit rejected: %v", err)
	}

	// BUY 止损限价：触发价低于限价没有意义。
	inverted := intent
	inverted.StopPrice = d("60000")
	if field := fieldOf(t, ValidateIntent(inverted)); field != "stop_price" {
		t.Fatalf("BUY stop below limit must fail on stop_price, got %s", field)
	}

	sell := intent
	sell.Side = SideSell
	sell.Price = d("62000")
	sell.StopPrice = d("61000")
	if err := ValidateIntent(sell); err != nil {
		t.Fatalf("valid SELL stop-limit rejected: %v", err)
	}

	sell.StopPrice = d("63000")
	if field := fieldOf(t, ValidateIntent(sell)); field != "stop_price" {
		t.Fatalf("SELL stop above limit must fail on stop_price, got %s", field)
	}
}

func TestValidateIntentTriggerOnlyKinds(t *testing.T) {
	for _, kind := range []Kind{KindStopMarket, KindTakeProfit} {
		intent := Intent{
			Symbol:    "BTCUSDT",
			Side:      SideSell,
			Kind:      kind,
			Quantity:  d("0.01"),
			StopPrice: d("58000"),
		}
		if err := ValidateIntent(intent); err != nil {
			t.Fatalf("valid %s intent rejected: %v", kind, err)
		}

		noStop := intent
		noStop.StopPrice = decimal.Zero
		if field := fieldOf(t, ValidateIntent(noStop)); field != "stop_price" {
			t.Fatalf("%s without stop price must fail, got %s", kind, field)
		}

		withPrice := intent
		withPrice.Price = d("58000")
		if field := fieldOf(t, ValidateIntent(withPrice)); field != "price" {
			t.Fatalf("%s with a limit price must fail on price, got %s", kind, field)
		}
	}
}

func TestValidateIntentUnknownKind(t *testing.T) {
	intent := Intent{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Kind:     "TRAILING_STOP",
		Quantity: d("0.01"),
	}
	if field := fieldOf(t, ValidateIntent(intent)); field != "kind" {
		t.Fatalf("unknown kind must fail on kind, got %s", field)
	}
}

func TestValidateOCOPrices(t *testing.T) {
	if err := ValidateOCOPrices(SideBuy, d("65000"), d("55000")); err != nil {
		t.Fatalf("valid BUY pair rejected: %v", err)
	}
	if err := ValidateOCOPrices(SideBuy, d("55000"), d("65000")); err == nil {
		t.Fatal("BUY with take-profit below stop-loss must be rejected")
	}
	if err := ValidateOCOPrices(SideSell, d("55000"), d("65000")); err != nil {
		t.Fatalf("valid SELL pair rejected: %v", err)
	}
	if err := ValidateOCOPrices(SideSell, d("65000"), d("55000")); err == nil {
		t.Fatal("SELL with take-profit above stop-loss must be rejected")
	}
}

func TestValidatePriceRange(t *testing.T) {
	if err := ValidatePriceRange(d("50000"), d("60000")); err != nil {
		t.Fatalf("valid range rejected: %v", err)
	}
	if err := ValidatePriceRange(d("60000"), d("50000")); err == nil {
		t.Fatal("inverted range must be rejected")
	}
	if err := ValidatePriceRange(d("60000"), d("60000")); err == nil {
		t.Fatal("empty range must be rejected")
	}
}
