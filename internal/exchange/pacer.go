package exchange

import (
	"context"
	"sync"
	"time"
)

// pacer 集中执行对交易所的请求节奏：同一凭证下一次只放行一个逻辑请求，
// 并保证相邻请求之间至少间隔 minInterval。限频惩罚同样记在这里，
// 而不是由各调用方各自退避。
type pacer struct {
	mu          sync.Mutex
	minInterval time.Duration
	penalty     time.Duration
	next        time.Time
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func newPacer(minInterval, penalty time.Duration) *pacer {
	if minInterval <= 0 {
		minInterval = 200 * time.Millisecond
	}
	if penalty < minInterval {
		penalty = minInterval
	}
	return &pacer{
		minInterval: minInterval,
		penalty:     penalty,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// wait 阻塞直到允许发出下一个请求。持锁等待即是串行化本身。
func (p *pacer) wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d := p.next.Sub(p.now()); d > 0 {
		if err := p.sleep(ctx, d); err != nil {
			return err
		}
	}

	p.next = p.now().Add(p.minInterval)
	return nil
}

// penalize 在收到限频响应后推迟下一次放行时间。
func (p *pacer) penalize() {
	p.mu.Lock()
	defer p.mu.Unlock()

	until := p.now().Add(p.penalty)
	if until.After(p.next) {
		p.next = until
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
