package models

import (
	"fmt"
	"time"
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	Exchange        ExchangeConfig     `json:"exchange"`
	Pair            PairConfig         `json:"pair"`
	TradingSettings TradingSettings    `json:"trading_settings"`
	GridStrategy    GridStrategyConfig `json:"grid_strategy"`
	RiskManagement  RiskManagement     `json:"risk_management"`
	LogConfig       LogConfig          `json:"logging"`
	Notifications   NotificationConfig `json:"notifications"`
}

// ExchangeConfig 定义了交易所接入相关的配置
type ExchangeConfig struct {
	Name          string  `json:"name"`            // 交易所名称, 如 "binance"
	LiveAPIURL    string  `json:"live_api_url"`    // REST API 基础地址
	LiveWSURL     string  `json:"live_ws_url"`     // WebSocket 基础地址
	TradingFee    float64 `json:"trading_fee"`     // 手续费率, 如 0.001
	CandleDBPath  string  `json:"candle_db_path"`  // 回测K线缓存数据库路径
	TickerReadSec int     `json:"ticker_read_sec"` // 实时行情回调的最小间隔(秒)
}

// PairConfig 定义了交易对
type PairConfig struct {
	BaseCurrency  string `json:"base_currency"`  // 基础货币, 如 "BTC"
	QuoteCurrency string `json:"quote_currency"` // 计价货币, 如 "USDT"
}

// Symbol 返回交易所格式的交易对名称, 如 "BTCUSDT"
func (p PairConfig) Symbol() string {
	return p.BaseCurrency + p.QuoteCurrency
}

// TradingSettings 定义了运行模式与回测区间等运行参数
type TradingSettings struct {
	Mode               string  `json:"trading_mode"`         // live / paper_trading / backtest
	InitialBalance     float64 `json:"initial_balance"`      // 初始法币余额
	Timeframe          string  `json:"timeframe"`            // K线周期, 如 "1h"
	StartDate          string  `json:"start_date,omitempty"` // 回测开始日期 (YYYY-MM-DD)
	EndDate            string  `json:"end_date,omitempty"`   // 回测结束日期
	HistoricalDataFile string  `json:"historical_data_file,omitempty"`
}

// GridStrategyConfig 定义了网格的静态参数
type GridStrategyConfig struct {
	SpacingType string  `json:"spacing_type"` // arithmetic / geometric
	NumGrids    int     `json:"num_grids"`    // 网格数量
	TopRange    float64 `json:"top_range"`    // 网格上边界价格
	BottomRange float64 `json:"bottom_range"` // 网格下边界价格
}

// RiskManagement 定义了止盈止损配置
type RiskManagement struct {
	TakeProfit Threshold `json:"take_profit"`
	StopLoss   Threshold `json:"stop_loss"`
}

// Threshold 是一个可开关的价格阈值
type Threshold struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// NotificationConfig 定义了告警推送配置
type NotificationConfig struct {
	URLs []string `json:"urls,omitempty"` // webhook 地址列表, 为空则不推送
}

// OHLCV 是一根历史K线
type OHLCV struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// AccountValuePoint 记录某一时刻的账户总价值, 用于回测权益曲线
type AccountValuePoint struct {
	Timestamp time.Time
	Value     float64
}

// BalanceSnapshot 是账本在某一时刻的只读快照
type BalanceSnapshot struct {
	Fiat           float64 `json:"fiat"`
	Crypto         float64 `json:"crypto"`
	ReservedFiat   float64 `json:"reserved_fiat"`
	ReservedCrypto float64 `json:"reserved_crypto"`
	TotalFees      float64 `json:"total_fees"`
}

// ConfigError 表示某个配置字段非法, 携带字段名以便定位
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置字段 %s 非法: %s", e.Field, e.Reason)
}

// NewConfigError 构造一个带字段上下文的配置错误
func NewConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
