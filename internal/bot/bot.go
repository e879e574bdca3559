// Package bot 把配置, 交易所, 订单管理与策略组装成一个可运行的实例。
package bot

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"grid-trading-bot-go/internal/downloader"
	"grid-trading-bot-go/internal/events"
	"grid-trading-bot-go/internal/exchange"
	"grid-trading-bot-go/internal/grid"
	"grid-trading-bot-go/internal/health"
	"grid-trading-bot-go/internal/ledger"
	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/notify"
	"grid-trading-bot-go/internal/order"
	"grid-trading-bot-go/internal/report"
	"grid-trading-bot-go/internal/storage"
	"grid-trading-bot-go/internal/strategy"
)

// Bot 是一个交易实例的控制器
type Bot struct {
	cfg      *models.Config
	mode     models.TradingMode
	bus      *events.Bus
	balance  *ledger.BalanceTracker
	book     *order.Book
	orders   *order.Manager
	strategy *strategy.GridTradingStrategy
	tracker  *order.StatusTracker
	analyzer *report.Analyzer
	health   *health.Checker
	exchange exchange.Exchange

	detachNotify func()
	candleCache  *CandleCacheCloser

	mu      sync.Mutex
	stopped bool
}

// CandleCacheCloser 持有需要在退出时关闭的K线缓存
type CandleCacheCloser struct {
	Close func() error
}

// New 按配置构建完整的机器人实例。构建失败是致命错误,
// 调用方不应继续启动。sampler 可以为nil, 此时不做资源检查。
func New(cfg *models.Config, sampler health.ResourceSampler) (*Bot, error) {
	mode, err := models.ParseTradingMode(cfg.TradingSettings.Mode)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	balance := ledger.NewBalanceTracker(cfg.TradingSettings.InitialBalance)
	gridMgr, err := grid.NewManager(cfg.GridStrategy, cfg.TradingSettings.InitialBalance)
	if err != nil {
		return nil, err
	}
	book := order.NewBook()

	b := &Bot{
		cfg:     cfg,
		mode:    mode,
		bus:     bus,
		balance: balance,
		book:    book,
	}

	var exec order.ExecutionStrategy
	var sim *order.SimulatedExecution

	switch mode {
	case models.ModeLive:
		ex, err := newLiveExchange(cfg)
		if err != nil {
			return nil, err
		}
		b.exchange = ex
		exec = exchange.NewLiveExecution(ex, cfg.Pair.Symbol())
	case models.ModePaperTrading:
		// 纸面交易使用真实行情, 但订单在本地模拟撮合
		ex, err := newLiveExchange(cfg)
		if err != nil {
			return nil, err
		}
		b.exchange = ex
		sim = order.NewSimulatedExecution(cfg.Exchange.TradingFee)
		exec = sim
	case models.ModeBacktest:
		source, closer, err := newBacktestSource(cfg)
		if err != nil {
			return nil, err
		}
		b.exchange = exchange.NewBacktestExchange(source)
		b.candleCache = closer
		sim = order.NewSimulatedExecution(cfg.Exchange.TradingFee)
		exec = sim
	}

	b.orders = order.NewManager(gridMgr, balance, book, exec, bus, cfg.Exchange.TradingFee)
	b.strategy = strategy.NewGridTradingStrategy(cfg, mode, b.exchange, b.orders, gridMgr, balance, sim)
	b.analyzer = report.NewAnalyzer(cfg, book)

	if mode != models.ModeBacktest {
		interval := time.Duration(cfg.Exchange.TickerReadSec) * time.Second
		b.tracker = order.NewStatusTracker(exec, book, bus, interval)

		notifier := notify.ForConfig(cfg.Notifications.URLs)
		b.detachNotify = notify.Attach(bus, notifier)
		b.health = health.NewChecker(b.exchange, sampler, notifier, bus, time.Minute)
	}

	bus.Subscribe(events.TopicStop, "bot", func(interface{}) { b.Stop() })
	return b, nil
}

// newLiveExchange 从环境变量读取API密钥并创建实盘交易所客户端
func newLiveExchange(cfg *models.Config) (*exchange.LiveExchange, error) {
	apiKey := os.Getenv("EXCHANGE_API_KEY")
	secretKey := os.Getenv("EXCHANGE_SECRET_KEY")
	return exchange.NewLiveExchange(apiKey, secretKey,
		cfg.Exchange.LiveAPIURL, cfg.Exchange.LiveWSURL, cfg.Exchange.TradingFee)
}

// newBacktestSource 按配置组装回测数据源:
// 指定了本地文件时读CSV, 否则走下载器, 配置了缓存路径时加一层Badger缓存
func newBacktestSource(cfg *models.Config) (exchange.CandleSource, *CandleCacheCloser, error) {
	if cfg.TradingSettings.HistoricalDataFile != "" {
		return exchange.NewCSVSource(cfg.TradingSettings.HistoricalDataFile), nil, nil
	}

	dl := downloader.NewKlineDownloader()
	if cfg.Exchange.CandleDBPath == "" {
		return dl, nil, nil
	}
	cache, err := storage.NewCandleCache(cfg.Exchange.CandleDBPath, dl)
	if err != nil {
		return nil, nil, err
	}
	return cache, &CandleCacheCloser{Close: cache.Close}, nil
}

// Run 启动机器人并阻塞到运行结束。
// 回测模式在K线回放完成后输出绩效报告。
func (b *Bot) Run(ctx context.Context) error {
	logger.S().Infof("机器人启动: 交易对 %s, 模式 %s", b.cfg.Pair.Symbol(), b.mode)
	b.bus.Publish(events.TopicStart, b.cfg.Pair.Symbol())

	if b.tracker != nil {
		b.tracker.StartTracking()
	}
	if b.health != nil {
		go b.health.Run(ctx)
	}

	if err := b.strategy.Initialize(ctx); err != nil {
		return fmt.Errorf("策略初始化失败: %w", err)
	}
	err := b.strategy.Run(ctx)

	if b.mode == models.ModeBacktest {
		b.renderReport()
	}
	b.Stop()
	return err
}

// renderReport 输出回测绩效报告
func (b *Bot) renderReport() {
	bars := b.strategy.Bars()
	if len(bars) == 0 {
		return
	}
	firstPrice := bars[0].Close
	finalPrice := bars[len(bars)-1].Close
	summary := b.analyzer.GenerateSummary(
		b.strategy.AccountValueSeries(), b.balance.Snapshot(), firstPrice, finalPrice)
	b.analyzer.Render(summary)
}

// Stop 停止机器人。可重复调用, 也可以通过stop事件触发。
func (b *Bot) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	if b.tracker != nil {
		b.tracker.StopTracking()
	}
	b.strategy.Stop()
	if b.detachNotify != nil {
		b.detachNotify()
		b.detachNotify = nil
	}
	b.bus.Publish(events.TopicStop, nil)
	logger.S().Info("机器人已停止")
}

// Restart 重置已停止的机器人并重新运行
func (b *Bot) Restart(ctx context.Context) error {
	if err := b.strategy.Restart(); err != nil {
		return err
	}
	b.mu.Lock()
	b.stopped = false
	b.mu.Unlock()
	logger.S().Info("机器人重启")
	return b.Run(ctx)
}

// Close 释放交易所连接与缓存数据库
func (b *Bot) Close() error {
	var firstErr error
	if b.candleCache != nil {
		if err := b.candleCache.Close(); err != nil {
			firstErr = err
		}
	}
	if b.exchange != nil {
		if err := b.exchange.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetBalances 返回账本快照
func (b *Bot) GetBalances() models.BalanceSnapshot {
	return b.balance.Snapshot()
}

// GetFormattedOrders 返回报表用的订单行
func (b *Bot) GetFormattedOrders() [][]string {
	return b.analyzer.FormattedOrders()
}
