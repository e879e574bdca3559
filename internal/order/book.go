package order

import (
	"sync"

	"grid-trading-bot-go/internal/grid"
)

// Book 是本地订单簿, 记录机器人生命周期内的全部订单
// 以及网格订单与网格线的对应关系。
type Book struct {
	mu     sync.RWMutex
	orders map[string]*Order      // 订单ID -> 订单
	levels map[string]*grid.Level // 订单ID -> 所属网格线, 非网格订单无条目
	seq    []string               // 按加入顺序排列的订单ID, 用于报表
}

// NewBook 创建空订单簿
func NewBook() *Book {
	return &Book{
		orders: make(map[string]*Order),
		levels: make(map[string]*grid.Level),
	}
}

// Add 将订单加入订单簿。level 为该订单所属的网格线,
// 初始市价买入等非网格订单传入nil。
func (b *Book) Add(o *Order, level *grid.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.orders[o.ID]; !exists {
		b.seq = append(b.seq, o.ID)
	}
	b.orders[o.ID] = o
	if level != nil {
		b.levels[o.ID] = level
	}
}

// Get 按订单ID查找订单
func (b *Book) Get(id string) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	return o, ok
}

// LevelFor 返回订单所属的网格线, 非网格订单返回nil
func (b *Book) LevelFor(id string) *grid.Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.levels[id]
}

// Update 用交易所返回的最新订单快照覆盖本地记录,
// 网格线关联保持不变
func (b *Book) Update(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.orders[o.ID]; !exists {
		b.seq = append(b.seq, o.ID)
	}
	b.orders[o.ID] = o
}

// UpdateStatus 只更新订单状态
func (b *Book) UpdateStatus(id string, status Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.orders[id]; ok {
		o.Status = status
	}
}

// OpenOrders 返回所有未到终态的订单
func (b *Book) OpenOrders() []*Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Order
	for _, id := range b.seq {
		if o := b.orders[id]; !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

// AllOrders 按加入顺序返回全部订单
func (b *Book) AllOrders() []*Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Order, 0, len(b.seq))
	for _, id := range b.seq {
		out = append(out, b.orders[id])
	}
	return out
}

// BuyOrders 按加入顺序返回全部买单
func (b *Book) BuyOrders() []*Order {
	return b.filter(SideBuy)
}

// SellOrders 按加入顺序返回全部卖单
func (b *Book) SellOrders() []*Order {
	return b.filter(SideSell)
}

func (b *Book) filter(side Side) []*Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Order
	for _, id := range b.seq {
		if o := b.orders[id]; o.Side == side {
			out = append(out, o)
		}
	}
	return out
}
