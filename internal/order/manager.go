package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"grid-trading-bot-go/internal/events"
	"grid-trading-bot-go/internal/grid"
	"grid-trading-bot-go/internal/ledger"
	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/models"
)

// SubscriberName 是订单管理器在事件总线上的订阅者名称
const SubscriberName = "order-manager"

type reservation struct {
	currency ledger.Currency
	amount   float64
}

// Manager 负责网格订单的全生命周期: 初始建仓, 初始挂单,
// 成交后的镜像换挂, 撤单处理以及止盈止损清仓。
// 所有账本操作遵循 预留 -> 下单 -> 结算/释放 三段式流程。
type Manager struct {
	mu      sync.Mutex
	grid    *grid.Manager
	balance *ledger.BalanceTracker
	book    *Book
	exec    ExecutionStrategy
	bus     *events.Bus
	feeRate float64

	// 订单ID -> 未结算的资金预留
	reservations map[string]reservation
	// 已在账本上结算过的订单ID, 同一订单的成交只结算一次
	settled map[string]bool
}

// NewManager 创建订单管理器并在事件总线上注册成交与撤单处理器
func NewManager(g *grid.Manager, balance *ledger.BalanceTracker, book *Book, exec ExecutionStrategy, bus *events.Bus, feeRate float64) *Manager {
	m := &Manager{
		grid:         g,
		balance:      balance,
		book:         book,
		exec:         exec,
		bus:          bus,
		feeRate:      feeRate,
		reservations: make(map[string]reservation),
		settled:      make(map[string]bool),
	}
	bus.Subscribe(events.TopicOrderFilled, SubscriberName, m.HandleOrderFilled)
	bus.Subscribe(events.TopicOrderCanceled, SubscriberName, m.HandleOrderCanceled)
	return m
}

// PerformInitialPurchase 市价买入足以覆盖触发线上方所有待卖出网格线的持仓。
// 上方没有待卖出网格线时为空操作。
func (m *Manager) PerformInitialPurchase(ctx context.Context, currentPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total float64
	for _, l := range m.grid.Levels() {
		if l.Price > m.grid.TriggerPrice() && l.CanPlaceSell() {
			total += m.grid.OrderSizePerGrid(l.Price)
		}
	}
	if total <= 0 {
		logger.S().Info("触发线上方没有待卖出网格线, 跳过初始建仓")
		return nil
	}

	estimated := total * currentPrice * (1 + m.feeRate)
	if m.balance.AvailableFiat() < estimated {
		return fmt.Errorf("初始建仓需要 %.4f, 可用余额仅 %.4f: %w",
			estimated, m.balance.AvailableFiat(), ledger.ErrInsufficientBalance)
	}

	o, err := m.exec.ExecuteMarketOrder(ctx, SideBuy, total, currentPrice)
	if err != nil {
		return fmt.Errorf("初始建仓市价单失败: %w", err)
	}
	m.balance.Settle(ledger.Fiat, 0, o.Cost+o.FeeCost, o.FeeCost)
	m.balance.Credit(ledger.Crypto, o.Filled)
	m.settled[o.ID] = true
	m.book.Add(o, nil)
	logger.S().Infof("初始建仓完成: 买入 %.6f @ %.4f, 手续费 %.4f", o.Filled, o.Average, o.FeeCost)
	return nil
}

// InitializeGridOrders 在除触发线外的每条网格线上挂出初始订单:
// 触发线下方挂买单, 上方挂卖单。按网格线状态保证幂等,
// 已有挂单的网格线不会被重复处理。
func (m *Manager) InitializeGridOrders(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trigger := m.grid.TriggerLevel()
	for _, l := range m.grid.Levels() {
		if l == trigger {
			continue
		}
		switch {
		case l.Price < trigger.Price && l.CanPlaceBuy():
			qty := m.grid.OrderSizePerGrid(l.Price)
			if err := m.placeGridBuy(ctx, l, qty); err != nil {
				logger.S().Warnf("网格线 %.4f 初始买单未能挂出: %v", l.Price, err)
			}
		case l.Price > trigger.Price && l.CanPlaceSell():
			qty := m.grid.OrderSizePerGrid(l.Price)
			if err := m.placeGridSell(ctx, l, qty); err != nil {
				logger.S().Warnf("网格线 %.4f 初始卖单未能挂出: %v", l.Price, err)
			}
		}
	}
	return nil
}

// placeGridBuy 在指定网格线挂买单, 需持有m.mu
func (m *Manager) placeGridBuy(ctx context.Context, l *grid.Level, qty float64) error {
	reserved := qty * l.Price * (1 + m.feeRate)
	if err := m.balance.Reserve(ledger.Fiat, reserved); err != nil {
		return err
	}
	o, err := m.exec.ExecuteLimitOrder(ctx, SideBuy, qty, l.Price)
	if err != nil {
		m.balance.Release(ledger.Fiat, reserved)
		return err
	}
	if err := l.PlaceBuyOrder(); err != nil {
		// 状态检查在下单前已通过, 到这里说明有并发缺陷
		logger.S().Errorf("网格线状态异常: %v", err)
	}
	m.book.Add(o, l)
	m.reservations[o.ID] = reservation{currency: ledger.Fiat, amount: reserved}
	logger.S().Debugf("买单已挂出: %.6f @ %.4f (网格线 %d)", qty, l.Price, l.ID)
	return nil
}

// placeGridSell 在指定网格线挂卖单, 需持有m.mu
func (m *Manager) placeGridSell(ctx context.Context, l *grid.Level, qty float64) error {
	if err := m.balance.Reserve(ledger.Crypto, qty); err != nil {
		return err
	}
	o, err := m.exec.ExecuteLimitOrder(ctx, SideSell, qty, l.Price)
	if err != nil {
		m.balance.Release(ledger.Crypto, qty)
		return err
	}
	if err := l.PlaceSellOrder(); err != nil {
		logger.S().Errorf("网格线状态异常: %v", err)
	}
	m.book.Add(o, l)
	m.reservations[o.ID] = reservation{currency: ledger.Crypto, amount: qty}
	logger.S().Debugf("卖单已挂出: %.6f @ %.4f (网格线 %d)", qty, l.Price, l.ID)
	return nil
}

// HandleOrderFilled 处理订单成交事件: 结算账本, 推进网格线状态,
// 并在相邻网格线上挂出镜像订单。payload 为 *Order 快照。
func (m *Manager) HandleOrderFilled(data interface{}) {
	o, ok := data.(*Order)
	if !ok {
		logger.S().Errorf("order-filled 事件负载类型错误: %T", data)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 重复投递的成交事件不能二次结算。不能以订单簿状态判重:
	// 状态跟踪器在发布事件前已把终态快照写入订单簿
	if m.settled[o.ID] {
		return
	}

	m.book.Update(o)
	m.settleFill(o)

	l := m.book.LevelFor(o.ID)
	if l == nil {
		return // 初始建仓或清仓订单, 没有镜像
	}

	ctx := context.Background()
	if o.Side == SideBuy {
		if err := l.CompleteBuyOrder(); err != nil {
			logger.S().Warnf("买单成交但网格线状态不符: %v", err)
		}
		above := m.grid.LevelAbove(l)
		if above == nil {
			logger.S().Infof("网格线 %d 已是最高线, 买入持仓保留", l.ID)
			return
		}
		if err := above.ArmSell(); err != nil {
			logger.S().Infof("上方网格线不可挂镜像卖单: %v", err)
			return
		}
		if err := m.placeGridSell(ctx, above, o.Filled); err != nil {
			logger.S().Warnf("镜像卖单未能挂出: %v", err)
		}
		return
	}

	if err := l.CompleteSellOrder(); err != nil {
		logger.S().Warnf("卖单成交但网格线状态不符: %v", err)
	}
	below := m.grid.LevelBelow(l)
	if below == nil {
		logger.S().Infof("网格线 %d 已是最低线, 不再补挂买单", l.ID)
		return
	}
	if err := below.ArmBuy(); err != nil {
		logger.S().Infof("下方网格线不可挂镜像买单: %v", err)
		return
	}
	qty := m.grid.OrderSizePerGrid(below.Price)
	if err := m.placeGridBuy(ctx, below, qty); err != nil {
		logger.S().Warnf("镜像买单未能挂出: %v", err)
	}
}

// settleFill 按成交快照结算账本, 需持有m.mu
func (m *Manager) settleFill(o *Order) {
	m.settled[o.ID] = true
	r, reserved := m.reservations[o.ID]
	if reserved {
		delete(m.reservations, o.ID)
	}
	if o.Side == SideBuy {
		var reservedAmount float64
		if reserved {
			reservedAmount = r.amount
		}
		m.balance.Settle(ledger.Fiat, reservedAmount, o.Cost+o.FeeCost, o.FeeCost)
		m.balance.Credit(ledger.Crypto, o.Filled)
		return
	}
	var reservedAmount float64
	if reserved {
		reservedAmount = r.amount
	}
	m.balance.Settle(ledger.Crypto, reservedAmount, o.Filled, o.FeeCost)
	m.balance.Credit(ledger.Fiat, o.Cost-o.FeeCost)
}

// HandleOrderCanceled 处理订单取消事件: 释放预留资金并重置网格线状态。
// 对同一订单重复调用是安全的。
func (m *Manager) HandleOrderCanceled(data interface{}) {
	o, ok := data.(*Order)
	if !ok {
		logger.S().Errorf("order-canceled 事件负载类型错误: %T", data)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked(o)
}

// cancelLocked 执行撤单后的本地清理, 需持有m.mu
func (m *Manager) cancelLocked(o *Order) {
	m.book.UpdateStatus(o.ID, StatusCanceled)
	if r, ok := m.reservations[o.ID]; ok {
		m.balance.Release(r.currency, r.amount)
		delete(m.reservations, o.ID)
	}
	if l := m.book.LevelFor(o.ID); l != nil {
		if o.Side == SideBuy {
			l.ResetToBuy()
		} else {
			l.ResetToSell()
		}
	}
	logger.S().Infof("订单 %s 已取消, 预留资金已释放", o.ID)
}

// ExecuteTakeProfitOrStopLoss 撤销全部挂单并市价清仓,
// 随后发布对应的止盈或止损事件。topic 取
// events.TopicTakeProfit 或 events.TopicStopLoss。
func (m *Manager) ExecuteTakeProfitOrStopLoss(ctx context.Context, currentPrice float64, topic string) error {
	m.mu.Lock()

	var canceled []*Order
	for _, o := range m.book.OpenOrders() {
		if err := m.exec.CancelOrder(ctx, o.ID); err != nil {
			// 撤单失败的订单可能仍挂在交易所, 本地保持open,
			// 由状态跟踪器继续对账
			logger.S().Warnf("撤销订单 %s 失败, 留待跟踪器确认: %v", o.ID, err)
			continue
		}
		m.cancelLocked(o)
		canceled = append(canceled, o)
	}

	var errs []error
	qty := m.balance.AvailableCrypto()
	var liquidation *Order
	if qty > 0 {
		o, err := m.exec.ExecuteMarketOrder(ctx, SideSell, qty, currentPrice)
		if err != nil {
			errs = append(errs, fmt.Errorf("市价清仓失败: %w", err))
		} else {
			m.balance.Settle(ledger.Crypto, 0, o.Filled, o.FeeCost)
			m.balance.Credit(ledger.Fiat, o.Cost-o.FeeCost)
			m.settled[o.ID] = true
			m.book.Add(o, nil)
			liquidation = o
			logger.S().Infof("清仓完成: 卖出 %.6f @ %.4f", o.Filled, o.Average)
		}
	}
	m.mu.Unlock()

	// 事件发布放在锁外, 订阅者(包括本管理器自身)可能需要获取m.mu
	for _, o := range canceled {
		m.bus.Publish(events.TopicOrderCanceled, o)
	}
	m.bus.Publish(topic, liquidation)
	return errors.Join(errs...)
}

// SimulateOrderFills 在回测中按单根K线的单调价格路径撮合挂单。
// 阳线路径为 开->低->高->收, 阴线为 开->高->低->收。
// 同一网格线在一根K线内至多成交一次。
func (m *Manager) SimulateOrderFills(ctx context.Context, bar models.OHLCV) {
	sim, ok := m.exec.(*SimulatedExecution)
	if !ok {
		logger.S().Error("SimulateOrderFills 只能在模拟执行器上调用")
		return
	}

	var path []float64
	if bar.Close >= bar.Open {
		path = []float64{bar.Open, bar.Low, bar.High, bar.Close}
	} else {
		path = []float64{bar.Open, bar.High, bar.Low, bar.Close}
	}

	filledLevels := make(map[int]bool)
	for i := 0; i+1 < len(path); i++ {
		from, to := path[i], path[i+1]
		if from == to {
			continue
		}
		m.fillSegment(ctx, sim, bar, from, to, filledLevels)
	}
}

// SimulateTickFills 在纸面交易中按最新价撮合被穿越的挂单。
// 只标记成交, 事件由状态跟踪器在下一轮轮询时发布,
// 保证与实盘相同的事件路径。
func (m *Manager) SimulateTickFills(price float64, at time.Time) {
	sim, ok := m.exec.(*SimulatedExecution)
	if !ok {
		return
	}
	for _, o := range m.book.OpenOrders() {
		if o.Type != TypeLimit || o.Status != StatusOpen {
			continue
		}
		crossed := (o.Side == SideBuy && price <= o.Price) ||
			(o.Side == SideSell && price >= o.Price)
		if !crossed {
			continue
		}
		if err := sim.FillLimitOrder(o.ID, at); err != nil {
			logger.S().Debugf("纸面撮合跳过订单 %s: %v", o.ID, err)
		}
	}
}

// fillSegment 撮合单个价格段内被穿越的挂单, 按路径顺序逐一成交
func (m *Manager) fillSegment(ctx context.Context, sim *SimulatedExecution, bar models.OHLCV, from, to float64, filledLevels map[int]bool) {
	falling := to < from

	type candidate struct {
		order *Order
		level *grid.Level
	}
	var candidates []candidate
	for _, o := range m.book.OpenOrders() {
		if o.Type != TypeLimit || o.Status != StatusOpen {
			continue
		}
		l := m.book.LevelFor(o.ID)
		if l != nil && filledLevels[l.ID] {
			continue
		}
		if falling && o.Side == SideBuy && o.Price <= from && o.Price >= to {
			candidates = append(candidates, candidate{o, l})
		}
		if !falling && o.Side == SideSell && o.Price >= from && o.Price <= to {
			candidates = append(candidates, candidate{o, l})
		}
	}

	// 按价格路径顺序成交: 下跌段从高到低, 上涨段从低到高
	sort.Slice(candidates, func(i, j int) bool {
		if falling {
			return candidates[i].order.Price > candidates[j].order.Price
		}
		return candidates[i].order.Price < candidates[j].order.Price
	})

	for _, c := range candidates {
		if err := sim.FillLimitOrder(c.order.ID, bar.Timestamp); err != nil {
			logger.S().Warnf("模拟成交失败: %v", err)
			continue
		}
		snapshot, err := sim.GetOrder(ctx, c.order.ID)
		if err != nil {
			logger.S().Warnf("读取模拟成交快照失败: %v", err)
			continue
		}
		if c.level != nil {
			filledLevels[c.level.ID] = true
		}
		m.bus.Publish(events.TopicOrderFilled, snapshot)
	}
}
