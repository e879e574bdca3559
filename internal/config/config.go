package config

import (
	"encoding/json"
	"os"
	"time"

	"grid-trading-bot-go/internal/models"
)

// 受支持的K线周期集合, 与下载器可请求的周期保持一致
var supportedTimeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}

	return config, nil
}

// TimeframeDuration 返回K线周期对应的时间长度, 周期不受支持时 ok 为 false
func TimeframeDuration(timeframe string) (time.Duration, bool) {
	d, ok := supportedTimeframes[timeframe]
	return d, ok
}

// Validate 在机器人启动前校验配置, 返回第一个发现的带字段上下文的错误。
// 校验失败属于致命错误, 实例不应启动。
func Validate(cfg *models.Config) error {
	if cfg.Pair.BaseCurrency == "" {
		return models.NewConfigError("pair.base_currency", "不能为空")
	}
	if cfg.Pair.QuoteCurrency == "" {
		return models.NewConfigError("pair.quote_currency", "不能为空")
	}

	mode, err := models.ParseTradingMode(cfg.TradingSettings.Mode)
	if err != nil {
		return err
	}

	if cfg.TradingSettings.InitialBalance <= 0 {
		return models.NewConfigError("trading_settings.initial_balance",
			"必须大于0, 当前值: %.4f", cfg.TradingSettings.InitialBalance)
	}
	if cfg.Exchange.TradingFee < 0 {
		return models.NewConfigError("exchange.trading_fee",
			"不能为负数, 当前值: %.6f", cfg.Exchange.TradingFee)
	}

	g := cfg.GridStrategy
	if g.SpacingType != "arithmetic" && g.SpacingType != "geometric" {
		return models.NewConfigError("grid_strategy.spacing_type",
			"未知的间距类型 %q, 可选值: arithmetic, geometric", g.SpacingType)
	}
	if g.NumGrids < 2 {
		return models.NewConfigError("grid_strategy.num_grids",
			"至少需要2条网格线, 当前值: %d", g.NumGrids)
	}
	if g.TopRange <= g.BottomRange {
		return models.NewConfigError("grid_strategy.top_range",
			"上边界 %.4f 必须大于下边界 %.4f", g.TopRange, g.BottomRange)
	}
	if g.SpacingType == "geometric" && g.BottomRange <= 0 {
		return models.NewConfigError("grid_strategy.bottom_range",
			"几何间距要求下边界为正数, 当前值: %.4f", g.BottomRange)
	}

	if _, ok := supportedTimeframes[cfg.TradingSettings.Timeframe]; !ok {
		return models.NewConfigError("trading_settings.timeframe",
			"不支持的K线周期 %q", cfg.TradingSettings.Timeframe)
	}

	if mode == models.ModeBacktest && cfg.TradingSettings.HistoricalDataFile == "" {
		if _, err := parseDate(cfg.TradingSettings.StartDate); err != nil {
			return models.NewConfigError("trading_settings.start_date",
				"回测模式下必须提供合法日期 (YYYY-MM-DD): %v", err)
		}
		if _, err := parseDate(cfg.TradingSettings.EndDate); err != nil {
			return models.NewConfigError("trading_settings.end_date",
				"回测模式下必须提供合法日期 (YYYY-MM-DD): %v", err)
		}
		start, _ := parseDate(cfg.TradingSettings.StartDate)
		end, _ := parseDate(cfg.TradingSettings.EndDate)
		if !end.After(start) {
			return models.NewConfigError("trading_settings.end_date",
				"结束日期 %s 必须晚于开始日期 %s", cfg.TradingSettings.EndDate, cfg.TradingSettings.StartDate)
		}
	}

	return nil
}

// ParseDateRange 解析回测区间, 只应在Validate通过后调用
func ParseDateRange(cfg *models.Config) (time.Time, time.Time, error) {
	start, err := parseDate(cfg.TradingSettings.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseDate(cfg.TradingSettings.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
