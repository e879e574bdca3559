package grid

import "fmt"

// CycleState 表示单条网格线上买卖循环的当前阶段
type CycleState int

const (
	StateReadyToBuy CycleState = iota
	StateWaitingBuyFill
	StateReadyToSell
	StateWaitingSellFill
)

func (s CycleState) String() string {
	switch s {
	case StateReadyToBuy:
		return "ready_to_buy"
	case StateWaitingBuyFill:
		return "waiting_for_buy_fill"
	case StateReadyToSell:
		return "ready_to_sell"
	case StateWaitingSellFill:
		return "waiting_for_sell_fill"
	default:
		return "unknown"
	}
}

// Level 是一条网格线, 价格固定, 状态随订单生命周期循环。
// 买单在本线成交后, 镜像卖单挂在上方一条网格线上;
// 卖单成交后, 镜像买单挂在下方一条网格线上。
type Level struct {
	ID    int
	Price float64
	state CycleState
}

// State 返回当前循环状态
func (l *Level) State() CycleState {
	return l.state
}

// CanPlaceBuy 报告该网格线当前是否允许挂买单
func (l *Level) CanPlaceBuy() bool {
	return l.state == StateReadyToBuy
}

// CanPlaceSell 报告该网格线当前是否允许挂卖单
func (l *Level) CanPlaceSell() bool {
	return l.state == StateReadyToSell
}

// PlaceBuyOrder 将状态从 ready_to_buy 推进到 waiting_for_buy_fill
func (l *Level) PlaceBuyOrder() error {
	if l.state != StateReadyToBuy {
		return fmt.Errorf("网格线 %d 状态为 %s, 不能挂买单", l.ID, l.state)
	}
	l.state = StateWaitingBuyFill
	return nil
}

// CompleteBuyOrder 在买单成交后将本线重置为 ready_to_buy,
// 镜像卖单由上方网格线承接
func (l *Level) CompleteBuyOrder() error {
	if l.state != StateWaitingBuyFill {
		return fmt.Errorf("网格线 %d 状态为 %s, 不存在待成交的买单", l.ID, l.state)
	}
	l.state = StateReadyToBuy
	return nil
}

// PlaceSellOrder 将状态从 ready_to_sell 推进到 waiting_for_sell_fill
func (l *Level) PlaceSellOrder() error {
	if l.state != StateReadyToSell {
		return fmt.Errorf("网格线 %d 状态为 %s, 不能挂卖单", l.ID, l.state)
	}
	l.state = StateWaitingSellFill
	return nil
}

// CompleteSellOrder 在卖单成交后将本线重置为 ready_to_sell,
// 镜像买单由下方网格线承接
func (l *Level) CompleteSellOrder() error {
	if l.state != StateWaitingSellFill {
		return fmt.Errorf("网格线 %d 状态为 %s, 不存在待成交的卖单", l.ID, l.state)
	}
	l.state = StateReadyToSell
	return nil
}

// ArmSell 将空闲的买入线转为待卖出, 用于买单成交后武装上方网格线
func (l *Level) ArmSell() error {
	switch l.state {
	case StateReadyToSell:
		return nil
	case StateReadyToBuy:
		l.state = StateReadyToSell
		return nil
	default:
		return fmt.Errorf("网格线 %d 状态为 %s, 有未完结的挂单, 不能转为待卖出", l.ID, l.state)
	}
}

// ArmBuy 将空闲的卖出线转为待买入, 用于卖单成交后武装下方网格线
func (l *Level) ArmBuy() error {
	switch l.state {
	case StateReadyToBuy:
		return nil
	case StateReadyToSell:
		l.state = StateReadyToBuy
		return nil
	default:
		return fmt.Errorf("网格线 %d 状态为 %s, 有未完结的挂单, 不能转为待买入", l.ID, l.state)
	}
}

// ResetToBuy 在买单被取消或下单失败时将状态回退到 ready_to_buy
func (l *Level) ResetToBuy() {
	l.state = StateReadyToBuy
}

// ResetToSell 在卖单被取消或下单失败时将状态回退到 ready_to_sell
func (l *Level) ResetToSell() {
	l.state = StateReadyToSell
}
