package exchange

import (
	"context"
	"errors"
	"time"

	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/order"
)

// ErrUnsupported 表示当前交易所实现不支持该操作,
// 例如回测交易所不能下真实订单。
var ErrUnsupported = errors.New("当前模式不支持该操作")

// TickerCallback 在收到一次行情更新时被调用
type TickerCallback func(price float64, timestamp time.Time)

// Exchange 抽象了交易所的数据与交易能力。
// 实盘/纸面模式使用 LiveExchange, 回测模式使用 BacktestExchange。
type Exchange interface {
	// GetCurrentPrice 获取交易对最新成交价
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	// FetchOHLCV 获取指定时间范围内的历史K线
	FetchOHLCV(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.OHLCV, error)
	// CreateOrder 下单, 市价单的price仅作参考
	CreateOrder(ctx context.Context, symbol string, side order.Side, typ order.Type, amount, price float64, clientOrderID string) (*order.Order, error)
	// CancelOrder 撤销挂单
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// FetchOrder 查询订单最新状态
	FetchOrder(ctx context.Context, symbol, orderID string) (*order.Order, error)
	// GetExchangeStatus 返回交易所运行状态, 正常时为 "ok"
	GetExchangeStatus(ctx context.Context) (string, error)
	// ListenToTickerUpdates 持续订阅实时行情, 阻塞直到ctx取消,
	// 连接断开时自动重连
	ListenToTickerUpdates(ctx context.Context, symbol string, minInterval time.Duration, cb TickerCallback)
	// Close 释放底层连接
	Close() error
}
