package models

// TradingMode 定义了机器人的运行模式, 在一个实例的生命周期内不会改变
type TradingMode int

const (
	ModeLive TradingMode = iota
	ModePaperTrading
	ModeBacktest
)

// String 返回配置文件中使用的模式名称
func (m TradingMode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModePaperTrading:
		return "paper_trading"
	case ModeBacktest:
		return "backtest"
	default:
		return "unknown"
	}
}

// ParseTradingMode 将配置字符串解析为运行模式
func ParseTradingMode(s string) (TradingMode, error) {
	switch s {
	case "live":
		return ModeLive, nil
	case "paper_trading":
		return ModePaperTrading, nil
	case "backtest":
		return ModeBacktest, nil
	default:
		return 0, NewConfigError("trading_settings.trading_mode",
			"未知的运行模式 %q, 可选值: live, paper_trading, backtest", s)
	}
}
