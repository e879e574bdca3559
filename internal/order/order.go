package order

import "time"

// Side 表示订单方向
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Type 表示订单类型
type Type int

const (
	TypeLimit Type = iota
	TypeMarket
)

func (t Type) String() string {
	if t == TypeLimit {
		return "limit"
	}
	return "market"
}

// Status 表示订单在交易所侧的状态
type Status int

const (
	StatusOpen Status = iota
	StatusClosed
	StatusCanceled
	StatusExpired
	StatusRejected
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusCanceled:
		return "canceled"
	case StatusExpired:
		return "expired"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// IsTerminal 报告该状态是否为终态, 终态订单不会再被轮询
func (s Status) IsTerminal() bool {
	switch s {
	case StatusClosed, StatusCanceled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// ParseStatus 将交易所返回的状态字符串归一化,
// 无法识别的状态映射为 unknown 以便稍后重试
func ParseStatus(s string) Status {
	switch s {
	case "open", "NEW", "PARTIALLY_FILLED":
		return StatusOpen
	case "closed", "FILLED":
		return StatusClosed
	case "canceled", "CANCELED":
		return StatusCanceled
	case "expired", "EXPIRED":
		return StatusExpired
	case "rejected", "REJECTED":
		return StatusRejected
	default:
		return StatusUnknown
	}
}

// Order 是一笔订单在本地的完整记录
type Order struct {
	ID          string    // 交易所分配的订单ID
	ClientID    string    // 本地生成的客户端订单ID
	Status      Status
	Type        Type
	Side        Side
	Price       float64   // 限价单的委托价, 市价单为0
	Average     float64   // 实际成交均价
	Amount      float64   // 委托数量
	Filled      float64   // 已成交数量
	Remaining   float64   // 未成交数量
	Cost        float64   // 成交金额(计价货币)
	FeeCost     float64   // 手续费金额
	FeeCurrency string    // 手续费币种
	Timestamp   time.Time // 下单时间
	LastTradeAt time.Time // 最后成交时间
}
