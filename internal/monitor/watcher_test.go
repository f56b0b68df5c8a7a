package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"futures-bot/internal/exchange"
)

// fakeStatusClient 按 orderID 返回预设状态序列，可注入一次性错误。
type fakeStatusClient struct {
	mu       sync.Mutex
	statuses map[string][]exchange.Status
	errs     map[string]error
	calls    []string
}

func newFakeStatusClient() *fakeStatusClient {
	return &fakeStatusClient{
		statuses: make(map[string][]exchange.Status),
		errs:     make(map[string]error),
	}
}

func (f *fakeStatusClient) FetchOrder(ctx context.Context, symbol, id string) (exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)

	if err, ok := f.errs[id]; ok {
		delete(f.errs, id)
		return exchange.Order{}, err
	}

	queue := f.statuses[id]
	status := exchange.StatusNew
	if len(queue) > 0 {
		status = queue[0]
		if len(queue) > 1 {
			f.statuses[id] = queue[1:]
		}
	}
	return exchange.Order{ID: id, Symbol: symbol, Status: status}, nil
}

func TestWatcherInvokesReactionOnTransition(t *testing.T) {
	client := newFakeStatusClient()
	client.statuses["o-1"] = []exchange.Status{exchange.StatusFilled}

	w := NewWatcher(client, nil, 0, nil)

	var updates []OrderUpdate
	w.Track(TrackRequest{
		RunID:   "run-1",
		Symbol:  "BTCUSDT",
		OrderID: "o-1",
		Status:  exchange.StatusNew,
		React:   func(u OrderUpdate) { updates = append(updates, u) },
	})

	w.Poll(context.Background())

	if len(updates) != 1 {
		t.Fatalf("expected 1 reaction, got %d", len(updates))
	}
	if updates[0].Previous != exchange.StatusNew || updates[0].Current != exchange.StatusFilled {
		t.Fatalf("unexpected transition %s -> %s", updates[0].Previous, updates[0].Current)
	}
	if w.TrackedCount() != 0 {
		t.Fatal("terminal order must be untracked")
	}
}

func TestWatcherPollFailureRetriesNextTick(t *testing.T) {
	client := newFakeStatusClient()
	client.errs["o-1"] = errors.New("network down")
	client.statuses["o-1"] = []exchange.Status{exchange.StatusFilled}

	w := NewWatcher(client, nil, 0, nil)

	var updates []OrderUpdate
	w.Track(TrackRequest{
		Symbol:  "BTCUSDT",
		OrderID: "o-1",
		Status:  exchange.StatusNew,
		React:   func(u OrderUpdate) { updates = append(updates, u) },
	})

	// 第一轮查询失败：状态保持不变，订单仍在册。
	w.Poll(context.Background())
	if len(updates) != 0 {
		t.Fatal("failed poll must not produce a transition")
	}
	if w.TrackedCount() != 1 {
		t.Fatal("failed poll must not untrack the order")
	}

	// 第二轮成功：以原先记录的状态为迁移起点。
	w.Poll(context.Background())
	if len(updates) != 1 {
		t.Fatalf("expected 1 reaction after retry, got %d", len(updates))
	}
	if updates[0].Previous != exchange.StatusNew {
		t.Fatalf("retry must keep the recorded previous status, got %s", updates[0].Previous)
	}
}

func TestWatcherSingleFailureDoesNotBlockOthers(t *testing.T) {
	client := newFakeStatusClient()
	client.errs["o-1"] = errors.New("timeout")
	client.statuses["o-2"] = []exchange.Status{exchange.StatusCanceled}

	w := NewWatcher(client, nil, 0, nil)

	var updated []string
	react := func(u OrderUpdate) { updated = append(updated, u.Order.ID) }
	w.Track(TrackRequest{Symbol: "BTCUSDT", OrderID: "o-1", Status: exchange.StatusNew, React: react})
	w.Track(TrackRequest{Symbol: "BTCUSDT", OrderID: "o-2", Status: exchange.StatusNew, React: react})

	w.Poll(context.Background())

	if len(updated) != 1 || updated[0] != "o-2" {
		t.Fatalf("other orders must still poll in the same tick, got %v", updated)
	}
}

func TestWatcherIntermediateTransitionKeepsTracking(t *testing.T) {
	client := newFakeStatusClient()
	client.statuses["o-1"] = []exchange.Status{exchange.StatusPartiallyFilled, exchange.StatusFilled}

	w := NewWatcher(client, nil, 0, nil)

	var transitions []exchange.Status
	w.Track(TrackRequest{
		Symbol:  "BTCUSDT",
		OrderID: "o-1",
		Status:  exchange.StatusNew,
		React:   func(u OrderUpdate) { transitions = append(transitions, u.Current) },
	})

	w.Poll(context.Background())
	if w.TrackedCount() != 1 {
		t.Fatal("partially filled order must stay tracked")
	}

	w.Poll(context.Background())
	if w.TrackedCount() != 0 {
		t.Fatal("filled order must be untracked")
	}

	if len(transitions) != 2 ||
		transitions[0] != exchange.StatusPartiallyFilled ||
		transitions[1] != exchange.StatusFilled {
		t.Fatalf("unexpected transition sequence %v", transitions)
	}
}

func TestWatcherIgnoresDuplicateAndTerminalRegistrations(t *testing.T) {
	w := NewWatcher(newFakeStatusClient(), nil, 0, nil)

	w.Track(TrackRequest{Symbol: "BTCUSDT", OrderID: "o-1", Status: exchange.StatusNew})
	w.Track(TrackRequest{Symbol: "BTCUSDT", OrderID: "o-1", Status: exchange.StatusNew})
	w.Track(TrackRequest{Symbol: "BTCUSDT", OrderID: "o-2", Status: exchange.StatusFilled})
	w.Track(TrackRequest{Symbol: "BTCUSDT", OrderID: "", Status: exchange.StatusNew})

	if w.TrackedCount() != 1 {
		t.Fatalf("expected 1 tracked order, got %d", w.TrackedCount())
	}
}

func TestWatcherPollOrderFollowsRegistration(t *testing.T) {
	client := newFakeStatusClient()
	w := NewWatcher(client, nil, 0, nil)

	for _, id := range []string{"o-3", "o-1", "o-2"} {
		w.Track(TrackRequest{Symbol: "BTCUSDT", OrderID: id, Status: exchange.StatusNew})
	}

	w.Poll(context.Background())

	want := []string{"o-3", "o-1", "o-2"}
	if len(client.calls) != len(want) {
		t.Fatalf("expected %d polls, got %d", len(want), len(client.calls))
	}
	for i, id := range want {
		if client.calls[i] != id {
			t.Fatalf("poll order mismatch at %d: got %s, want %s", i, client.calls[i], id)
		}
	}
}
