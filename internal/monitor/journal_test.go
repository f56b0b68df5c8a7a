package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"futures-bot/internal/config"
	"futures-bot/internal/exchange"
	"futures-bot/internal/order"
	"futures-bot/internal/store"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()

	sqliteStore, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	journal, err := NewJournal(sqliteStore, nil)
	if err != nil {
		t.Fatalf("init journal: %v", err)
	}
	return journal
}

func TestJournalRecordRoundTrip(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	journal.RecordTransition(ctx, "run-1", TransitionPayload{
		Symbol:   "BTCUSDT",
		OrderID:  "order-1",
		Previous: string(exchange.StatusNew),
		Current:  string(exchange.StatusFilled),
	})

	events, err := journal.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.Type != EventStatusTransition {
		t.Fatalf("expected type %s, got %s", EventStatusTransition, ev.Type)
	}
	if ev.RunID != "run-1" {
		t.Fatalf("expected run id run-1, got %s", ev.RunID)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("stored timestamp must survive the round trip")
	}

	raw, ok := ev.Payload.(json.RawMessage)
	if !ok {
		t.Fatalf("expected raw JSON payload, got %T", ev.Payload)
	}
	var payload TransitionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.OrderID != "order-1" || payload.Current != string(exchange.StatusFilled) {
		t.Fatalf("payload did not round-trip: %+v", payload)
	}
}

func TestJournalFiltersByEventType(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	journal.RecordRunStarted(ctx, "run-1", nil)
	journal.RecordOrderPlaced(ctx, "run-1", exchange.Order{ID: "order-1", Symbol: "BTCUSDT"})
	journal.RecordOrderPlaced(ctx, "run-1", exchange.Order{ID: "order-2", Symbol: "BTCUSDT"})
	journal.RecordError(ctx, "run-1", "placement failed", errors.New("venue down"), nil)

	placed, err := journal.ListEvents(ctx, EventOrderPlaced, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(placed) != 2 {
		t.Fatalf("expected 2 order_placed events, got %d", len(placed))
	}
	for _, ev := range placed {
		if ev.Type != EventOrderPlaced {
			t.Fatalf("filter leaked event of type %s", ev.Type)
		}
	}

	all, err := journal.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("list all events: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("empty type must return every event, got %d", len(all))
	}
}

func TestJournalLimitReturnsNewestFirst(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		journal.RecordRunStarted(ctx, fmt.Sprintf("run-%d", i), nil)
	}

	events, err := journal.ListEvents(ctx, "", 3)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(events))
	}
	if events[0].RunID != "run-5" || events[2].RunID != "run-3" {
		t.Fatalf("events must come newest first, got %s..%s", events[0].RunID, events[2].RunID)
	}
}

func TestJournalRecordsIntentSubmission(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	journal.RecordIntentSubmitted(ctx, "", order.Intent{
		Symbol:        "BTCUSDT",
		Side:          order.SideBuy,
		Kind:          order.KindLimit,
		Quantity:      decimal.RequireFromString("0.5"),
		Price:         decimal.RequireFromString("60000"),
		ClientOrderID: "cli-1",
	})

	events, err := journal.ListEvents(ctx, EventIntentSubmitted, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 intent event, got %d", len(events))
	}

	var payload IntentPayload
	if err := json.Unmarshal(events[0].Payload.(json.RawMessage), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Symbol != "BTCUSDT" || payload.Quantity != "0.5" || payload.Price != "60000" {
		t.Fatalf("intent payload did not round-trip: %+v", payload)
	}
	if payload.ClientOrderID != "cli-1" {
		t.Fatalf("expected client order id cli-1, got %s", payload.ClientOrderID)
	}
}

func TestNewJournalRequiresStore(t *testing.T) {
	if _, err := NewJournal(nil, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}
