package config

import (
	"os"
	"path/filepath"
	"testing"

	"grid-trading-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *models.Config {
	return &models.Config{
		Exchange: models.ExchangeConfig{
			Name:       "binance",
			TradingFee: 0.001,
		},
		Pair: models.PairConfig{BaseCurrency: "BTC", QuoteCurrency: "USDT"},
		TradingSettings: models.TradingSettings{
			Mode:           "backtest",
			InitialBalance: 10000,
			Timeframe:      "1h",
			StartDate:      "2024-01-01",
			EndDate:        "2024-06-01",
		},
		GridStrategy: models.GridStrategyConfig{
			SpacingType: "arithmetic",
			NumGrids:    10,
			TopRange:    20000,
			BottomRange: 10000,
		},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Config)
		field  string
	}{
		{"unknown mode", func(c *models.Config) { c.TradingSettings.Mode = "simulated" }, "trading_settings.trading_mode"},
		{"zero balance", func(c *models.Config) { c.TradingSettings.InitialBalance = 0 }, "trading_settings.initial_balance"},
		{"negative fee", func(c *models.Config) { c.Exchange.TradingFee = -0.01 }, "exchange.trading_fee"},
		{"unknown spacing", func(c *models.Config) { c.GridStrategy.SpacingType = "linear" }, "grid_strategy.spacing_type"},
		{"too few grids", func(c *models.Config) { c.GridStrategy.NumGrids = 1 }, "grid_strategy.num_grids"},
		{"inverted range", func(c *models.Config) { c.GridStrategy.TopRange = 5000 }, "grid_strategy.top_range"},
		{"bad timeframe", func(c *models.Config) { c.TradingSettings.Timeframe = "7m" }, "trading_settings.timeframe"},
		{"missing base currency", func(c *models.Config) { c.Pair.BaseCurrency = "" }, "pair.base_currency"},
		{"end before start", func(c *models.Config) { c.TradingSettings.EndDate = "2023-01-01" }, "trading_settings.end_date"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			var cfgErr *models.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestValidateBacktestDatesOptionalWithDataFile(t *testing.T) {
	cfg := validConfig()
	cfg.TradingSettings.StartDate = ""
	cfg.TradingSettings.EndDate = ""
	cfg.TradingSettings.HistoricalDataFile = "data/BTCUSDT.csv"
	require.NoError(t, Validate(cfg))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"exchange": {"name": "binance", "trading_fee": 0.001},
		"pair": {"base_currency": "ETH", "quote_currency": "USDT"},
		"trading_settings": {"trading_mode": "paper_trading", "initial_balance": 5000, "timeframe": "5m"},
		"grid_strategy": {"spacing_type": "geometric", "num_grids": 20, "top_range": 4000, "bottom_range": 2000}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", cfg.Pair.Symbol())
	assert.Equal(t, "paper_trading", cfg.TradingSettings.Mode)
	assert.Equal(t, 20, cfg.GridStrategy.NumGrids)
	require.NoError(t, Validate(cfg))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("does-not-exist.json")
	assert.Error(t, err)
}

func TestTimeframeDuration(t *testing.T) {
	d, ok := TimeframeDuration("1h")
	require.True(t, ok)
	assert.Equal(t, "1h0m0s", d.String())

	_, ok = TimeframeDuration("3w")
	assert.False(t, ok)
}
