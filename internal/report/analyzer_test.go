package report

import (
	"testing"
	"time"

	"grid-trading-bot-go/internal/grid"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnalyzer(book *order.Book) *Analyzer {
	cfg := &models.Config{
		Pair:            models.PairConfig{BaseCurrency: "BTC", QuoteCurrency: "USDT"},
		TradingSettings: models.TradingSettings{InitialBalance: 10000},
	}
	return NewAnalyzer(cfg, book)
}

func TestTradingGains(t *testing.T) {
	book := order.NewBook()
	// Buy 10 @ 155, fee 1.55: total cost 1551.55
	book.Add(&order.Order{
		ID: "b1", Side: order.SideBuy, Status: order.StatusClosed,
		Filled: 10, Cost: 1550, FeeCost: 1.55,
	}, nil)
	// Sell 10 @ 185, fee 1.85: net revenue 1848.15
	book.Add(&order.Order{
		ID: "s1", Side: order.SideSell, Status: order.StatusClosed,
		Filled: 10, Cost: 1850, FeeCost: 1.85,
	}, nil)
	// Open orders with no fills do not count
	book.Add(&order.Order{ID: "b2", Side: order.SideBuy, Status: order.StatusOpen}, nil)

	a := newAnalyzer(book)
	assert.Equal(t, "296.60", a.TradingGains())
}

func TestTradingGainsWithoutTrades(t *testing.T) {
	book := order.NewBook()
	book.Add(&order.Order{ID: "b1", Side: order.SideBuy, Status: order.StatusOpen}, nil)
	a := newAnalyzer(book)
	assert.Equal(t, "N/A", a.TradingGains())
}

func TestFormattedOrdersSlippageAndSorting(t *testing.T) {
	book := order.NewBook()
	level := &grid.Level{ID: 1, Price: 100}
	later := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Grid buy filled slightly above its level
	book.Add(&order.Order{
		ID: "g1", Side: order.SideBuy, Type: order.TypeLimit, Status: order.StatusClosed,
		Price: 100, Average: 100.5, Filled: 2, LastTradeAt: later,
	}, level)
	// Market order outside the grid
	book.Add(&order.Order{
		ID: "m1", Side: order.SideBuy, Type: order.TypeMarket, Status: order.StatusClosed,
		Price: 99, Average: 99, Filled: 1, LastTradeAt: earlier,
	}, nil)
	// Still open, never traded
	book.Add(&order.Order{
		ID: "o1", Side: order.SideSell, Type: order.TypeLimit, Status: order.StatusOpen,
		Price: 120,
	}, nil)

	a := newAnalyzer(book)
	rows := a.FormattedOrders()
	require.Len(t, rows, 3)

	// Sorted by trade time, untraded last
	assert.Equal(t, "99.0000", rows[0][3])
	assert.Equal(t, "100.5000", rows[1][3])
	assert.Equal(t, "120.0000", rows[2][3])

	// Grid order carries level price and slippage
	assert.Equal(t, "100.0000", rows[1][6])
	assert.Equal(t, "0.50%", rows[1][7])

	// Non-grid and untraded orders show N/A where data is missing
	assert.Equal(t, "N/A", rows[0][6])
	assert.Equal(t, "N/A", rows[0][7])
	assert.Equal(t, "N/A", rows[2][5])
}

func TestGenerateSummary(t *testing.T) {
	book := order.NewBook()
	book.Add(&order.Order{
		ID: "b1", Side: order.SideBuy, Status: order.StatusClosed,
		Filled: 10, Cost: 1000, FeeCost: 1,
	}, nil)
	book.Add(&order.Order{
		ID: "s1", Side: order.SideSell, Status: order.StatusClosed,
		Filled: 10, Cost: 1200, FeeCost: 1.2,
	}, nil)

	day := func(d int, v float64) models.AccountValuePoint {
		return models.AccountValuePoint{
			Timestamp: time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC),
			Value:     v,
		}
	}
	series := []models.AccountValuePoint{
		day(1, 10000), day(2, 10500), day(3, 9800), day(4, 10200),
	}
	snapshot := models.BalanceSnapshot{Fiat: 10000, Crypto: 0.01, TotalFees: 2.2}

	a := newAnalyzer(book)
	s := a.GenerateSummary(series, snapshot, 100, 120)

	assert.Equal(t, "BTC/USDT", s.Pair)
	assert.Equal(t, series[0].Timestamp, s.StartDate)
	assert.Equal(t, series[3].Timestamp, s.EndDate)

	// Final balance = fiat + crypto valued at the final price
	assert.InDelta(t, 10000+0.01*120, s.FinalBalance, 1e-9)
	assert.InDelta(t, (10001.2-10000)/10000*100, s.ROI, 1e-9)
	assert.InDelta(t, 20.0, s.BuyAndHoldReturn, 1e-9)

	// Peak 10500 to trough 9800
	assert.InDelta(t, (10500.0-9800)/10500*100, s.MaxDrawdown, 1e-9)
	assert.InDelta(t, (10200.0-9800)/9800*100, s.MaxRunup, 1e-9)

	// 10500 and 10200 are above the initial balance, 10000 and 9800 are not
	assert.InDelta(t, 50.0, s.TimeInProfit, 1e-9)
	assert.InDelta(t, 50.0, s.TimeInLoss, 1e-9)

	assert.Equal(t, "197.80", s.TradingGains)
	assert.Equal(t, 2.2, s.TotalFees)
	assert.Equal(t, 1, s.BuyTrades)
	assert.Equal(t, 1, s.SellTrades)
}

func TestSummaryOnEmptySeries(t *testing.T) {
	a := newAnalyzer(order.NewBook())
	s := a.GenerateSummary(nil, models.BalanceSnapshot{Fiat: 10000}, 0, 0)

	assert.Equal(t, "N/A", s.TradingGains)
	assert.Zero(t, s.MaxDrawdown)
	assert.Zero(t, s.SharpeRatio)
	assert.Zero(t, s.SortinoRatio)
	assert.Zero(t, s.BuyAndHoldReturn)
	assert.InDelta(t, 0.0, s.ROI, 1e-9)
}

func TestRatiosOnFlatSeries(t *testing.T) {
	series := []models.AccountValuePoint{
		{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: 10000},
		{Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Value: 10000},
		{Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Value: 10000},
	}
	// Flat equity has zero volatility, ratios collapse to zero
	assert.Zero(t, sharpeRatio(series))
	assert.Zero(t, sortinoRatio(series))
}
