package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// ExecutionStrategy 抽象了订单的实际执行方式,
// 实盘与模拟盘通过注入不同实现来切换, 上层逻辑完全一致。
type ExecutionStrategy interface {
	// ExecuteMarketOrder 以市价立即成交, price 是调用方观测到的参考价
	ExecuteMarketOrder(ctx context.Context, side Side, amount, price float64) (*Order, error)
	// ExecuteLimitOrder 挂出限价单
	ExecuteLimitOrder(ctx context.Context, side Side, amount, price float64) (*Order, error)
	// GetOrder 查询订单最新状态
	GetOrder(ctx context.Context, id string) (*Order, error)
	// CancelOrder 撤销挂单
	CancelOrder(ctx context.Context, id string) error
}

// NewClientOrderID 生成紧凑的客户端订单ID, uuid经base62编码后约22个字符
func NewClientOrderID() string {
	uid := uuid.New()
	return "bot-" + base62.EncodeToString(uid[:])
}

// SimulatedExecution 在内存中模拟交易所的订单撮合,
// 供纸面交易与回测两种模式使用。
type SimulatedExecution struct {
	mu      sync.Mutex
	feeRate float64
	orders  map[string]*Order
	now     func() time.Time
}

// NewSimulatedExecution 创建模拟执行器
func NewSimulatedExecution(feeRate float64) *SimulatedExecution {
	return &SimulatedExecution{
		feeRate: feeRate,
		orders:  make(map[string]*Order),
		now:     time.Now,
	}
}

// SetClock 注入时钟, 回测时用K线时间戳替代真实时间
func (s *SimulatedExecution) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ExecuteMarketOrder 市价单立即按参考价全额成交
func (s *SimulatedExecution) ExecuteMarketOrder(_ context.Context, side Side, amount, price float64) (*Order, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("市价单数量必须为正数: %f", amount)
	}
	if price <= 0 {
		return nil, fmt.Errorf("市价单参考价必须为正数: %f", price)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	cost := amount * price
	o := &Order{
		ID:          uuid.NewString(),
		ClientID:    NewClientOrderID(),
		Status:      StatusClosed,
		Type:        TypeMarket,
		Side:        side,
		Average:     price,
		Amount:      amount,
		Filled:      amount,
		Cost:        cost,
		FeeCost:     cost * s.feeRate,
		FeeCurrency: "quote",
		Timestamp:   ts,
		LastTradeAt: ts,
	}
	s.orders[o.ID] = o
	return cloneOrder(o), nil
}

// ExecuteLimitOrder 挂出限价单, 初始状态为open
func (s *SimulatedExecution) ExecuteLimitOrder(_ context.Context, side Side, amount, price float64) (*Order, error) {
	if amount <= 0 || price <= 0 {
		return nil, fmt.Errorf("限价单参数非法: amount=%f price=%f", amount, price)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o := &Order{
		ID:        uuid.NewString(),
		ClientID:  NewClientOrderID(),
		Status:    StatusOpen,
		Type:      TypeLimit,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Remaining: amount,
		Timestamp: s.now(),
	}
	s.orders[o.ID] = o
	return cloneOrder(o), nil
}

// GetOrder 返回订单快照
func (s *SimulatedExecution) GetOrder(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("订单不存在: %s", id)
	}
	return cloneOrder(o), nil
}

// CancelOrder 撤销挂单, 已到终态的订单不可撤销
func (s *SimulatedExecution) CancelOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("订单不存在: %s", id)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("订单 %s 已是终态 %s, 不能撤销", id, o.Status)
	}
	o.Status = StatusCanceled
	return nil
}

// FillLimitOrder 将指定挂单按其委托价全额成交, 由撮合逻辑调用
func (s *SimulatedExecution) FillLimitOrder(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("订单不存在: %s", id)
	}
	if o.Status != StatusOpen {
		return fmt.Errorf("订单 %s 状态为 %s, 不能成交", id, o.Status)
	}
	o.Status = StatusClosed
	o.Average = o.Price
	o.Filled = o.Amount
	o.Remaining = 0
	o.Cost = o.Amount * o.Price
	o.FeeCost = o.Cost * s.feeRate
	o.FeeCurrency = "quote"
	o.LastTradeAt = at
	return nil
}

// OpenLimitOrders 返回所有仍在挂单中的限价单快照
func (s *SimulatedExecution) OpenLimitOrders() []*Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if o.Type == TypeLimit && o.Status == StatusOpen {
			out = append(out, cloneOrder(o))
		}
	}
	return out
}

func cloneOrder(o *Order) *Order {
	c := *o
	return &c
}
