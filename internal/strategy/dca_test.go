package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"futures-bot/internal/order"
)

func TestDCARunPlacesEveryRound(t *testing.T) {
	placer := newMockPlacer()

	dca, err := NewDCA(DCAParams{
		Symbol:   "BTCUSDT",
		Side:     order.SideBuy,
		Quantity: decimal.RequireFromString("0.002"),
		Rounds:   4,
		Interval: 2 * time.Millisecond,
	}, placer, &mockCanceler{}, &mockTracker{}, &mockRecorder{}, nil)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	report, err := dca.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if report.State != StateComplete {
		t.Fatalf("expected COMPLETE, got %s", report.State)
	}
	if report.Placed != 4 {
		t.Fatalf("expected 4 rounds placed, got %d", report.Placed)
	}

	for _, intent := range placer.placedIntents() {
		if intent.Kind != order.KindMarket {
			t.Fatalf("expected market rounds, got %s", intent.Kind)
		}
		if !intent.Quantity.Equal(decimal.RequireFromString("0.002")) {
			t.Fatalf("every round must use the fixed quantity, got %s", intent.Quantity)
		}
	}
}

func TestDCAFailedRoundSkipped(t *testing.T) {
	placer := newMockPlacer()
	placer.failAt[0] = errors.New("venue rejected")

	dca, err := NewDCA(DCAParams{
		Symbol:   "ETHUSDT",
		Side:     order.SideBuy,
		Quantity: decimal.RequireFromString("0.1"),
		Rounds:   3,
		Interval: 2 * time.Millisecond,
	}, placer, &mockCanceler{}, &mockTracker{}, &mockRecorder{}, nil)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	report, err := dca.Run(context.Background())
	if err != nil {
		t.Fatalf("run should not fail on a skipped round: %v", err)
	}

	if report.Attempted != 3 || report.Placed != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report: attempted=%d placed=%d failed=%d", report.Attempted, report.Placed, report.Failed)
	}
}

func TestDCACancelStopsFutureRounds(t *testing.T) {
	placer := newMockPlacer()

	dca, err := NewDCA(DCAParams{
		Symbol:   "BTCUSDT",
		Side:     order.SideBuy,
		Quantity: decimal.RequireFromString("0.01"),
		Rounds:   5,
		Interval: 5 * time.Second,
	}, placer, &mockCanceler{}, &mockTracker{}, &mockRecorder{}, nil)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	dca.Cancel(context.Background())

	report, err := dca.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if report.State != StateCanceled {
		t.Fatalf("expected CANCELED, got %s", report.State)
	}
	if len(placer.placedIntents()) != 0 {
		t.Fatalf("canceled run must not place rounds, placed %d", len(placer.placedIntents()))
	}
}

func TestDCAParamsValidate(t *testing.T) {
	base := DCAParams{
		Symbol:   "BTCUSDT",
		Side:     order.SideBuy,
		Quantity: decimal.RequireFromString("0.01"),
		Rounds:   3,
		Interval: time.Hour,
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}

	bad := base
	bad.Rounds = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("zero rounds must be rejected")
	}

	bad = base
	bad.Interval = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("zero interval must be rejected")
	}

	bad = base
	bad.LimitPrice = decimal.RequireFromString("2500")
	bad.TimeInForce = "NEVER"
	if err := bad.Validate(); err == nil {
		t.Fatal("limit rounds with invalid time-in-force must be rejected")
	}
}
