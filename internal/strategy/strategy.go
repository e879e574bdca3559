package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"grid-trading-bot-go/internal/config"
	"grid-trading-bot-go/internal/events"
	"grid-trading-bot-go/internal/exchange"
	"grid-trading-bot-go/internal/grid"
	"grid-trading-bot-go/internal/ledger"
	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/order"
)

// State 表示策略状态机的当前阶段
type State int

const (
	StateNotInitialized State = iota // 尚未获取初始价格
	StateGridArmed                   // 网格已就绪, 等待价格穿越触发线
	StateGridActive                  // 网格订单已铺设, 正常运行
	StateStopped                     // 已停止
)

func (s State) String() string {
	switch s {
	case StateNotInitialized:
		return "not_initialized"
	case StateGridArmed:
		return "grid_armed"
	case StateGridActive:
		return "grid_active"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// GridTradingStrategy 驱动网格交易的主循环。
// 三种运行模式共用同一套评估逻辑: 回测由K线循环驱动,
// 实盘与纸面交易由实时行情回调驱动。
type GridTradingStrategy struct {
	cfg      *models.Config
	mode     models.TradingMode
	exchange exchange.Exchange
	orders   *order.Manager
	grid     *grid.Manager
	balance  *ledger.BalanceTracker
	sim      *order.SimulatedExecution // 回测与纸面交易使用, 实盘为nil

	// evalMu 保证同一时刻至多一次行情评估在执行
	evalMu sync.Mutex

	mu        sync.Mutex
	state     State
	lastPrice *float64
	series    []models.AccountValuePoint
	bars      []models.OHLCV
	runCancel context.CancelFunc
}

// NewGridTradingStrategy 创建策略实例
func NewGridTradingStrategy(cfg *models.Config, mode models.TradingMode, ex exchange.Exchange, orders *order.Manager, g *grid.Manager, balance *ledger.BalanceTracker, sim *order.SimulatedExecution) *GridTradingStrategy {
	return &GridTradingStrategy{
		cfg:      cfg,
		mode:     mode,
		exchange: ex,
		orders:   orders,
		grid:     g,
		balance:  balance,
		sim:      sim,
	}
}

// State 返回当前状态
func (s *GridTradingStrategy) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *GridTradingStrategy) setState(st State) {
	s.mu.Lock()
	old := s.state
	s.state = st
	s.mu.Unlock()
	if old != st {
		logger.S().Infof("策略状态: %s -> %s", old, st)
	}
}

// Initialize 获取初始价格并构建网格线。重复调用是空操作。
func (s *GridTradingStrategy) Initialize(ctx context.Context) error {
	if s.State() != StateNotInitialized {
		return nil
	}

	var initialPrice float64
	if s.mode == models.ModeBacktest {
		start, end, err := config.ParseDateRange(s.cfg)
		if err != nil && s.cfg.TradingSettings.HistoricalDataFile == "" {
			return fmt.Errorf("解析回测区间失败: %w", err)
		}
		bars, err := s.exchange.FetchOHLCV(ctx, s.cfg.Pair.Symbol(), s.cfg.TradingSettings.Timeframe, start, end)
		if err != nil {
			return fmt.Errorf("加载回测数据失败: %w", err)
		}
		if len(bars) == 0 {
			return fmt.Errorf("回测区间内没有K线数据")
		}
		s.mu.Lock()
		s.bars = bars
		s.mu.Unlock()
		initialPrice = bars[0].Open
	} else {
		price, err := s.exchange.GetCurrentPrice(ctx, s.cfg.Pair.Symbol())
		if err != nil {
			return fmt.Errorf("获取初始价格失败: %w", err)
		}
		initialPrice = price
	}

	s.grid.InitializeLevels(initialPrice)
	s.setState(StateGridArmed)
	logger.S().Infof("网格初始化完成: 初始价格 %.4f, 触发线 %.4f",
		initialPrice, s.grid.TriggerPrice())
	return nil
}

// Run 运行策略主循环, 阻塞直到回测结束, ctx被取消或策略被停止
func (s *GridTradingStrategy) Run(ctx context.Context) error {
	switch s.State() {
	case StateNotInitialized:
		return fmt.Errorf("策略尚未初始化")
	case StateStopped:
		return fmt.Errorf("策略已停止")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runCancel = cancel
	s.mu.Unlock()
	defer cancel()

	if s.mode == models.ModeBacktest {
		return s.runBacktest(runCtx)
	}
	return s.runLive(runCtx)
}

// runBacktest 按K线顺序同步回放, 结果完全确定
func (s *GridTradingStrategy) runBacktest(ctx context.Context) error {
	s.mu.Lock()
	bars := s.bars
	s.mu.Unlock()

	for _, bar := range bars {
		if ctx.Err() != nil || s.State() == StateStopped {
			break
		}
		barTime := bar.Timestamp
		if s.sim != nil {
			s.sim.SetClock(func() time.Time { return barTime })
		}
		if s.State() == StateGridActive {
			s.orders.SimulateOrderFills(ctx, bar)
		}
		s.step(ctx, bar.Close, bar.Timestamp)
		s.recordValue(bar.Timestamp, bar.Close)
	}
	s.setState(StateStopped)
	logger.S().Info("回测完成")
	return nil
}

// runLive 订阅实时行情, 每次价格更新驱动一次评估
func (s *GridTradingStrategy) runLive(ctx context.Context) error {
	interval := time.Duration(s.cfg.Exchange.TickerReadSec) * time.Second
	s.exchange.ListenToTickerUpdates(ctx, s.cfg.Pair.Symbol(), interval, func(price float64, ts time.Time) {
		// 行情回调里的任何panic都不能中断订阅
		defer func() {
			if r := recover(); r != nil {
				logger.S().Errorf("行情评估panic: %v", r)
			}
		}()
		// 上一次评估未结束时直接丢弃本次行情
		if !s.evalMu.TryLock() {
			return
		}
		defer s.evalMu.Unlock()
		s.step(ctx, price, ts)
	})
	s.setState(StateStopped)
	return nil
}

// step 是三种模式共用的单次评估:
// 就绪状态下检测触发线穿越, 激活状态下撮合纸面订单并检查止盈止损
func (s *GridTradingStrategy) step(ctx context.Context, price float64, ts time.Time) {
	s.mu.Lock()
	state := s.state
	last := s.lastPrice
	s.mu.Unlock()

	switch state {
	case StateGridArmed:
		if last != nil && crossedTrigger(*last, price, s.grid.TriggerPrice()) {
			s.activate(ctx, price)
		}
	case StateGridActive:
		if s.mode == models.ModePaperTrading {
			s.orders.SimulateTickFills(price, ts)
		}
		s.checkRisk(ctx, price)
	}

	p := price
	s.mu.Lock()
	s.lastPrice = &p
	s.mu.Unlock()
}

// crossedTrigger 判断价格在两次观测之间是否穿越了触发线
func crossedTrigger(last, current, trigger float64) bool {
	return last != current && (last-trigger)*(current-trigger) <= 0
}

// activate 执行首次激活: 初始建仓并铺设全部网格订单, 只发生一次
func (s *GridTradingStrategy) activate(ctx context.Context, price float64) {
	logger.S().Infof("价格 %.4f 穿越触发线 %.4f, 开始铺设网格", price, s.grid.TriggerPrice())
	if err := s.orders.PerformInitialPurchase(ctx, price); err != nil {
		logger.S().Errorf("初始建仓失败, 网格保持待命: %v", err)
		return
	}
	if err := s.orders.InitializeGridOrders(ctx); err != nil {
		logger.S().Errorf("铺设网格订单失败: %v", err)
	}
	s.setState(StateGridActive)
}

// checkRisk 检查止盈止损, 触发后清仓并停止策略
func (s *GridTradingStrategy) checkRisk(ctx context.Context, price float64) {
	if s.balance.CryptoBalance() <= 0 {
		return
	}
	rm := s.cfg.RiskManagement

	var topic string
	switch {
	case rm.TakeProfit.Enabled && price >= rm.TakeProfit.Threshold:
		topic = events.TopicTakeProfit
		logger.S().Infof("价格 %.4f 达到止盈线 %.4f", price, rm.TakeProfit.Threshold)
	case rm.StopLoss.Enabled && price <= rm.StopLoss.Threshold:
		topic = events.TopicStopLoss
		logger.S().Warnf("价格 %.4f 跌破止损线 %.4f", price, rm.StopLoss.Threshold)
	default:
		return
	}

	if err := s.orders.ExecuteTakeProfitOrStopLoss(ctx, price, topic); err != nil {
		logger.S().Errorf("清仓过程出现错误: %v", err)
	}
	s.Stop()
}

// recordValue 记录当前账户总价值, 形成回测权益曲线
func (s *GridTradingStrategy) recordValue(ts time.Time, price float64) {
	point := models.AccountValuePoint{Timestamp: ts, Value: s.balance.TotalValue(price)}
	s.mu.Lock()
	s.series = append(s.series, point)
	s.mu.Unlock()
}

// Bars 返回回测加载的K线序列, 其他模式下为nil
func (s *GridTradingStrategy) Bars() []models.OHLCV {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bars
}

// AccountValueSeries 返回权益曲线的副本
func (s *GridTradingStrategy) AccountValueSeries() []models.AccountValuePoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AccountValuePoint, len(s.series))
	copy(out, s.series)
	return out
}

// Stop 停止策略。可重复调用。
func (s *GridTradingStrategy) Stop() {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	alreadyStopped := s.state == StateStopped
	s.state = StateStopped
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !alreadyStopped {
		logger.S().Info("策略已停止")
	}
}

// Restart 将已停止的策略恢复到待命状态, 之后需要重新调用Run。
// 网格价格阶梯与订单簿保持不变。
func (s *GridTradingStrategy) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return fmt.Errorf("策略状态为 %s, 只有已停止的策略可以重启", s.state)
	}
	if !s.grid.Initialized() {
		s.state = StateNotInitialized
	} else {
		s.state = StateGridArmed
	}
	s.lastPrice = nil
	logger.S().Info("策略已重置, 等待重新运行")
	return nil
}
