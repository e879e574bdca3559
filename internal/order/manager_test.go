package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"grid-trading-bot-go/internal/events"
	"grid-trading-bot-go/internal/grid"
	"grid-trading-bot-go/internal/ledger"
	"grid-trading-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestManager wires a manager over the 100..200 arithmetic grid with
// 5 levels, initialized at price 150. Trigger level is 150, buy levels
// are 100 and 125, sell levels are 175 and 200.
func newTestManager(t *testing.T) (*Manager, *grid.Manager, *ledger.BalanceTracker, *Book, *SimulatedExecution, *events.Bus) {
	t.Helper()
	g, err := grid.NewManager(models.GridStrategyConfig{
		SpacingType: "arithmetic",
		NumGrids:    5,
		BottomRange: 100,
		TopRange:    200,
	}, 10000)
	require.NoError(t, err)
	g.InitializeLevels(150)

	balance := ledger.NewBalanceTracker(10000)
	book := NewBook()
	sim := NewSimulatedExecution(0.001)
	bus := events.NewBus()
	m := NewManager(g, balance, book, sim, bus, 0.001)
	return m, g, balance, book, sim, bus
}

func openOrderAt(t *testing.T, book *Book, side Side, price float64) *Order {
	t.Helper()
	for _, o := range book.OpenOrders() {
		if o.Side == side && o.Price == price {
			return o
		}
	}
	return nil
}

func TestPerformInitialPurchase(t *testing.T) {
	m, _, balance, book, _, _ := newTestManager(t)

	require.NoError(t, m.PerformInitialPurchase(context.Background(), 150))

	// Sized to cover the two sell levels: 2000/175 + 2000/200
	wantQty := 2000.0/175 + 2000.0/200
	assert.InDelta(t, wantQty, balance.CryptoBalance(), 1e-9)

	cost := wantQty * 150
	fee := cost * 0.001
	assert.InDelta(t, 10000-cost-fee, balance.FiatBalance(), 1e-6)
	assert.InDelta(t, fee, balance.TotalFees(), 1e-9)

	// The market buy is recorded without a grid level
	all := book.AllOrders()
	require.Len(t, all, 1)
	assert.Equal(t, TypeMarket, all[0].Type)
	assert.Nil(t, book.LevelFor(all[0].ID))
}

func TestInitializeGridOrdersSkipsTriggerAndIsIdempotent(t *testing.T) {
	m, g, balance, book, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.PerformInitialPurchase(ctx, 150))
	require.NoError(t, m.InitializeGridOrders(ctx))

	open := book.OpenOrders()
	assert.Len(t, open, 4)
	assert.NotNil(t, openOrderAt(t, book, SideBuy, 100))
	assert.NotNil(t, openOrderAt(t, book, SideBuy, 125))
	assert.NotNil(t, openOrderAt(t, book, SideSell, 175))
	assert.NotNil(t, openOrderAt(t, book, SideSell, 200))

	// No order on the trigger level
	assert.Nil(t, openOrderAt(t, book, SideBuy, 150))
	assert.Nil(t, openOrderAt(t, book, SideSell, 150))
	assert.Equal(t, grid.StateReadyToBuy, g.TriggerLevel().State())

	// All crypto is reserved for the sell side
	assert.InDelta(t, balance.CryptoBalance(), balance.ReservedCrypto(), 1e-9)

	// A second call must not place anything new
	require.NoError(t, m.InitializeGridOrders(ctx))
	assert.Len(t, book.OpenOrders(), 4)
}

func TestBuyFillPlacesMirrorSellOneLevelUp(t *testing.T) {
	m, g, balance, book, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.PerformInitialPurchase(ctx, 150))
	require.NoError(t, m.InitializeGridOrders(ctx))
	cryptoBefore := balance.CryptoBalance()

	// Falling bar crosses the 125 buy level: open 150, high 155, low 120, close 126
	bar := models.OHLCV{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:      150, High: 155, Low: 120, Close: 126,
	}
	m.SimulateOrderFills(ctx, bar)

	filled, ok := book.Get(openOrderID(t, book, SideBuy, 125))
	require.True(t, ok)
	assert.Equal(t, StatusClosed, filled.Status)

	// Mirror sell sits one level up, on the trigger level, for the filled amount
	mirror := openOrderAt(t, book, SideSell, 150)
	require.NotNil(t, mirror)
	assert.InDelta(t, 16.0, mirror.Amount, 1e-9)
	assert.Equal(t, grid.StateWaitingSellFill, g.TriggerLevel().State())

	// Bought crypto landed in the ledger
	assert.InDelta(t, cryptoBefore+16, balance.CryptoBalance(), 1e-9)
	// Level 100 buy is untouched
	assert.NotNil(t, openOrderAt(t, book, SideBuy, 100))
}

// openOrderID finds the order id at (side, price) over the whole book,
// including orders that already reached a terminal state.
func openOrderID(t *testing.T, book *Book, side Side, price float64) string {
	t.Helper()
	for _, o := range book.AllOrders() {
		if o.Side == side && o.Price == price {
			return o.ID
		}
	}
	t.Fatalf("no order found at %v %v", side, price)
	return ""
}

func TestSellFillPlacesMirrorBuyOneLevelDown(t *testing.T) {
	m, _, balance, book, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.PerformInitialPurchase(ctx, 150))
	require.NoError(t, m.InitializeGridOrders(ctx))

	// Bar one: buy at 125 fills, mirror sell placed at 150
	m.SimulateOrderFills(ctx, models.OHLCV{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:      150, High: 155, Low: 120, Close: 126,
	})
	require.NotNil(t, openOrderAt(t, book, SideSell, 150))

	// Bar two: rising through 150, the mirror sell fills
	m.SimulateOrderFills(ctx, models.OHLCV{
		Timestamp: time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
		Open:      126, High: 151, Low: 124, Close: 149,
	})

	// A fresh buy is re-armed one level down at 125
	rebuy := openOrderAt(t, book, SideBuy, 125)
	require.NotNil(t, rebuy)
	assert.InDelta(t, 16.0, rebuy.Amount, 1e-9)

	// Sell proceeds minus fee were credited
	assert.Greater(t, balance.FiatBalance(), 0.0)
	// 2 grid buys placed in total at 125 across the cycle
	count := 0
	for _, o := range book.BuyOrders() {
		if o.Price == 125 {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestSimulateOrderFillsDeterministicPathOrder(t *testing.T) {
	runOnce := func() models.BalanceSnapshot {
		m, _, balance, _, _, _ := newTestManager(t)
		ctx := context.Background()
		require.NoError(t, m.PerformInitialPurchase(ctx, 150))
		require.NoError(t, m.InitializeGridOrders(ctx))

		bars := []models.OHLCV{
			{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Open: 150, High: 155, Low: 120, Close: 126},
			{Timestamp: time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), Open: 126, High: 180, Low: 124, Close: 170},
			{Timestamp: time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC), Open: 170, High: 175, Low: 95, Close: 101},
		}
		for _, bar := range bars {
			m.SimulateOrderFills(ctx, bar)
		}
		return balance.Snapshot()
	}

	first := runOnce()
	second := runOnce()
	assert.Equal(t, first, second, "identical bar series must produce identical balances")
}

func TestFillSettlesWhenBookAlreadyHoldsTerminalSnapshot(t *testing.T) {
	m, g, balance, book, _, bus := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.PerformInitialPurchase(ctx, 150))
	require.NoError(t, m.InitializeGridOrders(ctx))
	cryptoBefore := balance.CryptoBalance()

	buy := openOrderAt(t, book, SideBuy, 125)
	require.NotNil(t, buy)

	// The status tracker writes the terminal snapshot into the book
	// before publishing. Settlement must still happen exactly once.
	snapshot := *buy
	snapshot.Status = StatusClosed
	snapshot.Average = buy.Price
	snapshot.Filled = buy.Amount
	snapshot.Cost = buy.Amount * buy.Price
	snapshot.FeeCost = snapshot.Cost * 0.001
	snapshot.LastTradeAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	book.Update(&snapshot)

	bus.Publish(events.TopicOrderFilled, &snapshot)

	assert.InDelta(t, cryptoBefore+16, balance.CryptoBalance(), 1e-9)
	require.NotNil(t, openOrderAt(t, book, SideSell, 150))
	assert.Equal(t, grid.StateWaitingSellFill, g.TriggerLevel().State())

	// A duplicated event must not settle or mirror a second time
	bus.Publish(events.TopicOrderFilled, &snapshot)
	assert.InDelta(t, cryptoBefore+16, balance.CryptoBalance(), 1e-9)
	sellCount := 0
	for _, o := range book.SellOrders() {
		if o.Price == 150 {
			sellCount++
		}
	}
	assert.Equal(t, 1, sellCount)
}

func TestHandleOrderCanceledReleasesReservation(t *testing.T) {
	m, g, balance, book, _, bus := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.PerformInitialPurchase(ctx, 150))
	require.NoError(t, m.InitializeGridOrders(ctx))

	buy := openOrderAt(t, book, SideBuy, 125)
	require.NotNil(t, buy)
	reservedBefore := balance.ReservedFiat()

	canceled := *buy
	canceled.Status = StatusCanceled
	bus.Publish(events.TopicOrderCanceled, &canceled)

	got, _ := book.Get(buy.ID)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.InDelta(t, reservedBefore-125*16*1.001, balance.ReservedFiat(), 1e-6)
	assert.Equal(t, grid.StateReadyToBuy, g.Levels()[1].State())

	// Re-delivering the same event must not release twice
	reservedAfter := balance.ReservedFiat()
	bus.Publish(events.TopicOrderCanceled, &canceled)
	assert.Equal(t, reservedAfter, balance.ReservedFiat())
}

func TestExecuteTakeProfitLiquidatesEverything(t *testing.T) {
	m, _, balance, book, _, bus := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.PerformInitialPurchase(ctx, 150))
	require.NoError(t, m.InitializeGridOrders(ctx))

	var takeProfitEvents, canceledEvents int
	bus.Subscribe(events.TopicTakeProfit, "test", func(interface{}) { takeProfitEvents++ })
	bus.Subscribe(events.TopicOrderCanceled, "test", func(interface{}) { canceledEvents++ })

	require.NoError(t, m.ExecuteTakeProfitOrStopLoss(ctx, 210, events.TopicTakeProfit))

	assert.Equal(t, 1, takeProfitEvents)
	assert.Equal(t, 4, canceledEvents)
	assert.Empty(t, book.OpenOrders())
	assert.InDelta(t, 0, balance.CryptoBalance(), 1e-9)
	assert.InDelta(t, 0, balance.ReservedFiat(), 1e-9)
	assert.InDelta(t, 0, balance.ReservedCrypto(), 1e-9)
	assert.Greater(t, balance.FiatBalance(), 10000.0, "liquidation at 210 should realize a gain")
}

// failingCancelExecution simulates a venue that rejects cancellations.
type failingCancelExecution struct {
	*SimulatedExecution
}

func (f *failingCancelExecution) CancelOrder(context.Context, string) error {
	return errors.New("venue unavailable")
}

func TestLiquidationKeepsOrdersOpenWhenCancelFails(t *testing.T) {
	g, err := grid.NewManager(models.GridStrategyConfig{
		SpacingType: "arithmetic",
		NumGrids:    5,
		BottomRange: 100,
		TopRange:    200,
	}, 10000)
	require.NoError(t, err)
	g.InitializeLevels(150)

	balance := ledger.NewBalanceTracker(10000)
	book := NewBook()
	exec := &failingCancelExecution{NewSimulatedExecution(0.001)}
	bus := events.NewBus()
	m := NewManager(g, balance, book, exec, bus, 0.001)
	ctx := context.Background()

	require.NoError(t, m.PerformInitialPurchase(ctx, 150))
	require.NoError(t, m.InitializeGridOrders(ctx))
	reservedFiat := balance.ReservedFiat()
	reservedCrypto := balance.ReservedCrypto()

	var canceledEvents int
	bus.Subscribe(events.TopicOrderCanceled, "test", func(interface{}) { canceledEvents++ })

	require.NoError(t, m.ExecuteTakeProfitOrStopLoss(ctx, 210, events.TopicTakeProfit))

	// Orders the venue would not cancel stay open locally so the status
	// tracker keeps reconciling them, and their reservations stay held
	assert.Len(t, book.OpenOrders(), 4)
	assert.Zero(t, canceledEvents)
	assert.Equal(t, reservedFiat, balance.ReservedFiat())
	assert.Equal(t, reservedCrypto, balance.ReservedCrypto())
}

func TestSimulateTickFillsMarksOrderWithoutPublishing(t *testing.T) {
	m, _, _, book, sim, bus := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.PerformInitialPurchase(ctx, 150))
	require.NoError(t, m.InitializeGridOrders(ctx))

	var events int
	bus.Subscribe("order-filled", "test", func(interface{}) { events++ })

	buy := openOrderAt(t, book, SideBuy, 125)
	require.NotNil(t, buy)

	m.SimulateTickFills(120, time.Now())

	// The 125 buy is filled on the venue side, the 100 buy is not
	got, err := sim.GetOrder(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)

	low := openOrderAt(t, book, SideBuy, 100)
	require.NotNil(t, low)
	lowVenue, err := sim.GetOrder(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, lowVenue.Status)

	// Events are left for the status tracker to publish
	assert.Zero(t, events)
}

func TestInitializeGridOrdersWithoutFundsSkipsLevels(t *testing.T) {
	g, err := grid.NewManager(models.GridStrategyConfig{
		SpacingType: "arithmetic",
		NumGrids:    5,
		BottomRange: 100,
		TopRange:    200,
	}, 10000)
	require.NoError(t, err)
	g.InitializeLevels(150)

	// Not enough fiat for both buy levels, no crypto at all
	balance := ledger.NewBalanceTracker(2500)
	book := NewBook()
	sim := NewSimulatedExecution(0.001)
	m := NewManager(g, balance, book, sim, events.NewBus(), 0.001)

	require.NoError(t, m.InitializeGridOrders(context.Background()))

	// Only the first buy level fits the balance, sells need crypto we do not have
	open := book.OpenOrders()
	assert.Len(t, open, 1)
	assert.Equal(t, SideBuy, open[0].Side)
}
