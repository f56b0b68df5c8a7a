package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"futures-bot/internal/exchange"
)

type statusClient interface {
	FetchOrder(ctx context.Context, symbol, id string) (exchange.Order, error)
}

type trackedOrder struct {
	runID  string
	symbol string
	id     string
	last   exchange.Status
	react  Reaction
	seq    int64
}

// Watcher 为唯一的后台轮询器：按固定间隔查询所有在册订单的状态，
// 刷新最近已知状态并在迁移时回调所属策略。单次查询失败只记录日志，
// 下个周期重试，绝不据此推断订单已消失。
type Watcher struct {
	client   statusClient
	journal  *Journal
	logger   *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	seq     int64
	tracked map[string]*trackedOrder
}

// NewWatcher 创建订单状态轮询器。journal 可为 nil。
func NewWatcher(client statusClient, journal *Journal, interval time.Duration, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{
		client:   client,
		journal:  journal,
		logger:   logger,
		interval: interval,
		tracked:  make(map[string]*trackedOrder),
	}
}

// Track 注册一笔待观察订单。终态订单不会被注册。
func (w *Watcher) Track(req TrackRequest) {
	if req.OrderID == "" || req.Status.Terminal() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.tracked[req.OrderID]; exists {
		return
	}
	w.seq++
	w.tracked[req.OrderID] = &trackedOrder{
		runID:  req.RunID,
		symbol: req.Symbol,
		id:     req.OrderID,
		last:   req.Status,
		react:  req.React,
		seq:    w.seq,
	}
}

// Untrack 注销一笔订单。
func (w *Watcher) Untrack(orderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.tracked, orderID)
}

// TrackedCount 返回当前在册订单数。
func (w *Watcher) TrackedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tracked)
}

// Run 阻塞运行轮询循环，直到 ctx 取消。
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll 执行一轮状态查询。单笔失败不影响同批其余订单。
func (w *Watcher) Poll(ctx context.Context) {
	for _, t := range w.snapshot() {
		if ctx.Err() != nil {
			return
		}

		current, err := w.client.FetchOrder(ctx, t.symbol, t.id)
		if err != nil {
			w.logger.Warn("订单状态查询失败，下个周期重试",
				zap.String("run_id", t.runID),
				zap.String("order_id", t.id),
				zap.Error(err),
			)
			continue
		}

		if current.Status == t.last || current.Status == exchange.StatusUnknown {
			continue
		}

		update := OrderUpdate{
			RunID:    t.runID,
			Order:    current,
			Previous: t.last,
			Current:  current.Status,
			At:       time.Now().UTC(),
		}

		w.logger.Info("观察到订单状态迁移",
			zap.String("run_id", t.runID),
			zap.String("order_id", t.id),
			zap.String("previous", string(update.Previous)),
			zap.String("current", string(update.Current)),
		)
		if w.journal != nil {
			w.journal.RecordTransition(ctx, t.runID, TransitionPayload{
				Symbol:   t.symbol,
				OrderID:  t.id,
				Previous: string(update.Previous),
				Current:  string(update.Current),
			})
		}

		w.mu.Lock()
		if kept, ok := w.tracked[t.id]; ok {
			kept.last = current.Status
			if current.Status.Terminal() {
				delete(w.tracked, t.id)
			}
		}
		w.mu.Unlock()

		if t.react != nil {
			t.react(update)
		}
	}
}

// snapshot 按注册顺序返回在册订单的稳定副本。
func (w *Watcher) snapshot() []*trackedOrder {
	w.mu.Lock()
	defer w.mu.Unlock()

	list := make([]*trackedOrder, 0, len(w.tracked))
	for _, t := range w.tracked {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	return list
}
