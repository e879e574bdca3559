// Package events provides the in-process publish/subscribe bus that
// decouples the strategy, order manager and auxiliary components.
package events

import (
	"sync"

	"grid-trading-bot-go/internal/logger"
)

// Topic names every component agrees on. Payload types are documented
// next to the publisher of each topic.
const (
	TopicStart               = "start"
	TopicStop                = "stop"
	TopicTakeProfit          = "take-profit-triggered"
	TopicStopLoss            = "stop-loss-triggered"
	TopicOrderFilled         = "order-filled"
	TopicOrderCanceled       = "order-canceled"
	TopicHealthCheckFailed   = "health-check-failed"
	TopicExchangeUnreachable = "exchange-unreachable"
)

// Handler consumes a published event payload.
type Handler func(data interface{})

// subscriber pairs a handler with its registration name.
type subscriber struct {
	name    string
	handler Handler
}

// Bus is a synchronous publish/subscribe dispatcher. Publish invokes
// handlers inline, in subscription order, and isolates panics so one
// misbehaving subscriber cannot take the others down.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string][]subscriber)}
}

// Subscribe registers handler under (topic, name). Subscribing the same
// name twice replaces the previous handler in place, keeping its
// position in the delivery order, so re-subscription during a restart
// is safe.
func (b *Bus) Subscribe(topic, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, s := range subs {
		if s.name == name {
			subs[i].handler = handler
			return
		}
	}
	b.topics[topic] = append(subs, subscriber{name: name, handler: handler})
}

// Unsubscribe removes the named subscriber from topic. Unknown names
// are ignored.
func (b *Bus) Unsubscribe(topic, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, s := range subs {
		if s.name == name {
			b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers data to every subscriber of topic, synchronously and
// in subscription order. A panic inside one handler is recovered and
// logged; remaining handlers still run.
func (b *Bus) Publish(topic string, data interface{}) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	for _, s := range subs {
		b.invoke(topic, s.name, s.handler, data)
	}
}

func (b *Bus) invoke(topic, name string, h Handler, data interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logger.S().Errorf("事件处理器 %s 在处理主题 %s 时panic: %v", name, topic, r)
		}
	}()
	h(data)
}

// Buffered wraps handler so Publish only enqueues the payload on a
// channel while a dedicated goroutine drains it. Use it for slow
// subscribers (webhooks, disk writers) that must not block the
// publisher. The returned stop function closes the queue and waits for
// in-flight events to finish; events published after stop are dropped.
func Buffered(handler Handler, size int) (Handler, func()) {
	if size <= 0 {
		size = 16
	}
	ch := make(chan interface{}, size)
	done := make(chan struct{})
	var once sync.Once
	var closed sync.Mutex
	isClosed := false

	go func() {
		defer close(done)
		for data := range ch {
			handler(data)
		}
	}()

	enqueue := func(data interface{}) {
		closed.Lock()
		defer closed.Unlock()
		if isClosed {
			return
		}
		select {
		case ch <- data:
		default:
			logger.S().Warnf("异步事件队列已满, 丢弃一条事件")
		}
	}
	stop := func() {
		once.Do(func() {
			closed.Lock()
			isClosed = true
			closed.Unlock()
			close(ch)
			<-done
		})
	}
	return enqueue, stop
}
