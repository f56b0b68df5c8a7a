package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"futures-bot/internal/exchange"
	"futures-bot/internal/order"
)

// fakeGateway 记录网关调用序列。
type fakeGateway struct {
	calls      []string
	placeErr   error
	openOrders []exchange.Order
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, intent order.Intent) (exchange.Order, error) {
	f.calls = append(f.calls, "place")
	if f.placeErr != nil {
		return exchange.Order{}, f.placeErr
	}
	return exchange.Order{
		ID:            "o-1",
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Status:        exchange.StatusNew,
	}, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, id string) (exchange.Order, error) {
	f.calls = append(f.calls, "cancel")
	return exchange.Order{}, nil
}

func (f *fakeGateway) FetchOrder(ctx context.Context, symbol, id string) (exchange.Order, error) {
	f.calls = append(f.calls, "fetch")
	return exchange.Order{}, nil
}

func (f *fakeGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	f.calls = append(f.calls, "open")
	return f.openOrders, nil
}

func marketIntent() order.Intent {
	return order.Intent{
		Symbol:   "BTCUSDT",
		Side:     order.SideBuy,
		Kind:     order.KindMarket,
		Quantity: decimal.RequireFromString("0.01"),
	}
}

func TestPlaceValidIntentCallsGatewayOnce(t *testing.T) {
	gw := &fakeGateway{}
	placer := NewPlacer(gw, nil)

	placed, err := placer.Place(context.Background(), marketIntent())
	if err != nil {
		t.Fatalf("unexpected place error: %v", err)
	}
	if placed.ID != "o-1" {
		t.Fatalf("unexpected order id %s", placed.ID)
	}
	if len(gw.calls) != 1 || gw.calls[0] != "place" {
		t.Fatalf("expected exactly one gateway call, got %v", gw.calls)
	}
}

func TestPlaceInvalidIntentNeverReachesGateway(t *testing.T) {
	gw := &fakeGateway{}
	placer := NewPlacer(gw, nil)

	intent := marketIntent()
	intent.Quantity = decimal.Zero

	_, err := placer.Place(context.Background(), intent)

	var vErr *order.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("invalid intent must not reach the gateway, calls %v", gw.calls)
	}
}

func TestPlaceGatewayErrorPropagatesWithoutRetry(t *testing.T) {
	gwErr := errors.New("venue down")
	gw := &fakeGateway{placeErr: gwErr}
	placer := NewPlacer(gw, nil)

	_, err := placer.Place(context.Background(), marketIntent())
	if !errors.Is(err, gwErr) {
		t.Fatalf("expected gateway error to propagate, got %v", err)
	}
	if len(gw.calls) != 1 {
		t.Fatalf("placer must never retry internally, calls %v", gw.calls)
	}
}

func TestRecoverFindsExistingOrderByClientID(t *testing.T) {
	intent := marketIntent().WithClientOrderID("twap")
	gw := &fakeGateway{
		openOrders: []exchange.Order{
			{ID: "o-9", ClientOrderID: "other"},
			{ID: "o-10", ClientOrderID: intent.ClientOrderID},
		},
	}
	placer := NewPlacer(gw, nil)

	existing, found, err := placer.Recover(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected recover error: %v", err)
	}
	if !found || existing.ID != "o-10" {
		t.Fatalf("expected to find o-10, got found=%v id=%s", found, existing.ID)
	}
}

func TestRecoverWithoutClientIDSkipsLookup(t *testing.T) {
	gw := &fakeGateway{}
	placer := NewPlacer(gw, nil)

	_, found, err := placer.Recover(context.Background(), marketIntent())
	if err != nil {
		t.Fatalf("unexpected recover error: %v", err)
	}
	if found {
		t.Fatal("no client order id means nothing to recover")
	}
	if len(gw.calls) != 0 {
		t.Fatalf("recover without client id must not call the gateway, calls %v", gw.calls)
	}
}

func TestRecoverNotFoundMeansSafeToResend(t *testing.T) {
	intent := marketIntent().WithClientOrderID("grid")
	gw := &fakeGateway{openOrders: []exchange.Order{{ID: "o-1", ClientOrderID: "other"}}}
	placer := NewPlacer(gw, nil)

	_, found, err := placer.Recover(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected recover error: %v", err)
	}
	if found {
		t.Fatal("unmatched client order id must report not found")
	}
}
