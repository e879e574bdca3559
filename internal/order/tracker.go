package order

import (
	"context"
	"sync"
	"time"

	"grid-trading-bot-go/internal/events"
	"grid-trading-bot-go/internal/logger"
)

// StatusTracker 在后台轮询交易所, 跟踪本地未完结订单的状态变化。
// 每个终态订单恰好发布一次事件: 成交发布 order-filled,
// 取消/过期/拒绝发布 order-canceled。
type StatusTracker struct {
	exec     ExecutionStrategy
	book     *Book
	bus      *events.Bus
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	// 已发布过终态事件的订单ID
	published map[string]bool
}

// NewStatusTracker 创建状态跟踪器, interval 为轮询间隔
func NewStatusTracker(exec ExecutionStrategy, book *Book, bus *events.Bus, interval time.Duration) *StatusTracker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StatusTracker{
		exec:      exec,
		book:      book,
		bus:       bus,
		interval:  interval,
		published: make(map[string]bool),
	}
}

// StartTracking 启动后台轮询。重复调用是空操作。
func (t *StatusTracker) StartTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx, t.done)
	logger.S().Infof("订单状态跟踪已启动, 轮询间隔 %s", t.interval)
}

// StopTracking 停止轮询并等待进行中的一轮检查完成。
// 未启动或重复调用是空操作。
func (t *StatusTracker) StopTracking() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.S().Info("订单状态跟踪已停止")
}

func (t *StatusTracker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.checkOpenOrders(ctx)
		}
	}
}

// checkOpenOrders 对每个本地未完结订单查询一次最新状态。
// 一轮检查开始后会完整执行, 不会被StopTracking打断。
func (t *StatusTracker) checkOpenOrders(ctx context.Context) {
	for _, o := range t.book.OpenOrders() {
		latest, err := t.exec.GetOrder(context.WithoutCancel(ctx), o.ID)
		if err != nil {
			logger.S().Warnf("查询订单 %s 状态失败, 下轮重试: %v", o.ID, err)
			continue
		}
		t.handleUpdate(latest)
	}
}

func (t *StatusTracker) handleUpdate(o *Order) {
	if !o.Status.IsTerminal() {
		if o.Status == StatusUnknown {
			// 无法归类的状态保持在跟踪集合里, 下一轮继续查询
			logger.S().Warnf("订单 %s 返回无法识别的状态, 下轮重试", o.ID)
		}
		return
	}

	t.mu.Lock()
	already := t.published[o.ID]
	if !already {
		t.published[o.ID] = true
	}
	t.mu.Unlock()
	if already {
		return
	}

	t.book.Update(o)
	switch o.Status {
	case StatusClosed:
		logger.S().Infof("订单 %s 已成交: %s %.6f @ %.4f", o.ID, o.Side, o.Filled, o.Average)
		t.bus.Publish(events.TopicOrderFilled, o)
	default:
		logger.S().Infof("订单 %s 到达终态 %s", o.ID, o.Status)
		t.bus.Publish(events.TopicOrderCanceled, o)
	}
}
