package grid

import (
	"math"

	"grid-trading-bot-go/internal/models"
)

// Manager 负责网格价格阶梯的计算与各网格线状态的管理。
// 价格阶梯在构造时一次性算好, 之后不再改变。
type Manager struct {
	cfg            models.GridStrategyConfig
	initialBalance float64
	prices         []float64
	levels         []*Level
	triggerIdx     int
	initialized    bool
}

// NewManager 根据配置计算价格阶梯。配置非法时返回错误而不是panic,
// 调用方应在启动阶段处理。
func NewManager(cfg models.GridStrategyConfig, initialBalance float64) (*Manager, error) {
	if cfg.NumGrids < 2 {
		return nil, models.NewConfigError("grid_strategy.num_grids",
			"至少需要2条网格线, 当前值: %d", cfg.NumGrids)
	}
	if cfg.TopRange <= cfg.BottomRange {
		return nil, models.NewConfigError("grid_strategy.top_range",
			"上边界 %.4f 必须大于下边界 %.4f", cfg.TopRange, cfg.BottomRange)
	}

	prices := make([]float64, cfg.NumGrids)
	switch cfg.SpacingType {
	case "arithmetic":
		step := (cfg.TopRange - cfg.BottomRange) / float64(cfg.NumGrids-1)
		for i := 0; i < cfg.NumGrids; i++ {
			prices[i] = cfg.BottomRange + float64(i)*step
		}
	case "geometric":
		if cfg.BottomRange <= 0 {
			return nil, models.NewConfigError("grid_strategy.bottom_range",
				"几何间距要求下边界为正数, 当前值: %.4f", cfg.BottomRange)
		}
		ratio := math.Pow(cfg.TopRange/cfg.BottomRange, 1/float64(cfg.NumGrids-1))
		p := cfg.BottomRange
		for i := 0; i < cfg.NumGrids; i++ {
			prices[i] = p
			p *= ratio
		}
	default:
		return nil, models.NewConfigError("grid_strategy.spacing_type",
			"未知的间距类型 %q, 可选值: arithmetic, geometric", cfg.SpacingType)
	}
	// 消除浮点累积误差, 保证两端价格精确等于配置边界
	prices[0] = cfg.BottomRange
	prices[cfg.NumGrids-1] = cfg.TopRange

	return &Manager{
		cfg:            cfg,
		initialBalance: initialBalance,
		prices:         prices,
		triggerIdx:     -1,
	}, nil
}

// Prices 返回从低到高排列的网格价格阶梯
func (m *Manager) Prices() []float64 {
	return m.prices
}

// InitializeLevels 在得知初始价格后创建全部网格线并选定触发线。
// 触发线是距离初始价格最近的网格线, 距离相同时取较低的一条。
// 初始价格之下(含触发线)的网格线为待买入状态, 之上的为待卖出状态。
func (m *Manager) InitializeLevels(currentPrice float64) {
	m.triggerIdx = 0
	best := math.Abs(m.prices[0] - currentPrice)
	for i := 1; i < len(m.prices); i++ {
		d := math.Abs(m.prices[i] - currentPrice)
		if d < best {
			best = d
			m.triggerIdx = i
		}
	}

	m.levels = make([]*Level, len(m.prices))
	for i, p := range m.prices {
		state := StateReadyToBuy
		if p > m.prices[m.triggerIdx] {
			state = StateReadyToSell
		}
		m.levels[i] = &Level{ID: i, Price: p, state: state}
	}
	m.initialized = true
}

// Initialized 报告网格线是否已经创建
func (m *Manager) Initialized() bool {
	return m.initialized
}

// Levels 返回全部网格线, 从低到高排列
func (m *Manager) Levels() []*Level {
	return m.levels
}

// TriggerPrice 返回触发线价格
func (m *Manager) TriggerPrice() float64 {
	return m.prices[m.triggerIdx]
}

// TriggerLevel 返回触发线
func (m *Manager) TriggerLevel() *Level {
	return m.levels[m.triggerIdx]
}

// LevelAbove 返回紧邻上方的网格线, 已是最高线时返回nil
func (m *Manager) LevelAbove(l *Level) *Level {
	if l == nil || l.ID+1 >= len(m.levels) {
		return nil
	}
	return m.levels[l.ID+1]
}

// LevelBelow 返回紧邻下方的网格线, 已是最低线时返回nil
func (m *Manager) LevelBelow(l *Level) *Level {
	if l == nil || l.ID == 0 {
		return nil
	}
	return m.levels[l.ID-1]
}

// OrderSizePerGrid 按单格资金量计算指定价格下的下单数量
func (m *Manager) OrderSizePerGrid(price float64) float64 {
	return m.initialBalance / float64(m.cfg.NumGrids) / price
}

// SellLevelsAbove 返回触发线上方待卖出网格线的数量,
// 用于确定初始市价买入需要覆盖的持仓
func (m *Manager) SellLevelsAbove() int {
	count := 0
	for _, l := range m.levels {
		if l.Price > m.TriggerPrice() && l.State() == StateReadyToSell {
			count++
		}
	}
	return count
}
