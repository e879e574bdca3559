package exchange

import (
	"context"

	"grid-trading-bot-go/internal/order"
)

// LiveExecution 将 Exchange 适配为订单管理器使用的执行策略,
// 每个实例绑定一个交易对。
type LiveExecution struct {
	exchange Exchange
	symbol   string
}

// NewLiveExecution 创建实盘执行策略
func NewLiveExecution(ex Exchange, symbol string) *LiveExecution {
	return &LiveExecution{exchange: ex, symbol: symbol}
}

// ExecuteMarketOrder 市价下单
func (l *LiveExecution) ExecuteMarketOrder(ctx context.Context, side order.Side, amount, price float64) (*order.Order, error) {
	return l.exchange.CreateOrder(ctx, l.symbol, side, order.TypeMarket, amount, price, order.NewClientOrderID())
}

// ExecuteLimitOrder 限价挂单
func (l *LiveExecution) ExecuteLimitOrder(ctx context.Context, side order.Side, amount, price float64) (*order.Order, error) {
	return l.exchange.CreateOrder(ctx, l.symbol, side, order.TypeLimit, amount, price, order.NewClientOrderID())
}

// GetOrder 查询订单状态
func (l *LiveExecution) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return l.exchange.FetchOrder(ctx, l.symbol, id)
}

// CancelOrder 撤销挂单
func (l *LiveExecution) CancelOrder(ctx context.Context, id string) error {
	return l.exchange.CancelOrder(ctx, l.symbol, id)
}
