package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkInvariants verifies the ledger invariants that must hold after
// every operation: reserved <= total and available + reserved == total.
func checkInvariants(t *testing.T, tr *BalanceTracker) {
	t.Helper()
	assert.LessOrEqual(t, tr.ReservedFiat(), tr.FiatBalance())
	assert.LessOrEqual(t, tr.ReservedCrypto(), tr.CryptoBalance())
	assert.InDelta(t, tr.FiatBalance(), tr.AvailableFiat()+tr.ReservedFiat(), 1e-9)
	assert.InDelta(t, tr.CryptoBalance(), tr.AvailableCrypto()+tr.ReservedCrypto(), 1e-9)
}

func TestReserveAndRelease(t *testing.T) {
	tr := NewBalanceTracker(1000)

	require.NoError(t, tr.Reserve(Fiat, 400))
	assert.Equal(t, 400.0, tr.ReservedFiat())
	assert.Equal(t, 600.0, tr.AvailableFiat())
	assert.Equal(t, 1000.0, tr.FiatBalance())
	checkInvariants(t, tr)

	tr.Release(Fiat, 400)
	assert.Equal(t, 0.0, tr.ReservedFiat())
	assert.Equal(t, 1000.0, tr.AvailableFiat())
	checkInvariants(t, tr)
}

func TestReserveInsufficientBalance(t *testing.T) {
	tr := NewBalanceTracker(1000)

	require.NoError(t, tr.Reserve(Fiat, 800))
	// Only 200 available, reserving 300 must fail and change nothing
	err := tr.Reserve(Fiat, 300)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 800.0, tr.ReservedFiat())
	assert.Equal(t, 200.0, tr.AvailableFiat())
	checkInvariants(t, tr)
}

func TestSettleBuyFlow(t *testing.T) {
	tr := NewBalanceTracker(1000)

	// Reserve cost plus fee for a limit buy of 2 units at 100 with 0.1% fee
	reserved := 2 * 100 * 1.001
	require.NoError(t, tr.Reserve(Fiat, reserved))

	// Order fills: debit actual cost plus fee, credit the bought crypto
	fee := 0.2
	tr.Settle(Fiat, reserved, 200+fee, fee)
	tr.Credit(Crypto, 2)

	assert.InDelta(t, 1000-200.2, tr.FiatBalance(), 1e-9)
	assert.Equal(t, 0.0, tr.ReservedFiat())
	assert.Equal(t, 2.0, tr.CryptoBalance())
	assert.InDelta(t, fee, tr.TotalFees(), 1e-9)
	checkInvariants(t, tr)
}

func TestSettleSellFlow(t *testing.T) {
	tr := NewBalanceTracker(0)
	tr.Credit(Crypto, 5)

	require.NoError(t, tr.Reserve(Crypto, 2))
	// Sell 2 units at 150, fee charged in quote currency
	proceeds := 300.0
	fee := 0.3
	tr.Settle(Crypto, 2, 2, fee)
	tr.Credit(Fiat, proceeds-fee)

	assert.Equal(t, 3.0, tr.CryptoBalance())
	assert.Equal(t, 0.0, tr.ReservedCrypto())
	assert.InDelta(t, 299.7, tr.FiatBalance(), 1e-9)
	assert.InDelta(t, fee, tr.TotalFees(), 1e-9)
	checkInvariants(t, tr)
}

func TestTotalValue(t *testing.T) {
	tr := NewBalanceTracker(500)
	tr.Credit(Crypto, 2)

	assert.InDelta(t, 500+2*120, tr.TotalValue(120), 1e-9)
}

func TestSnapshot(t *testing.T) {
	tr := NewBalanceTracker(1000)
	require.NoError(t, tr.Reserve(Fiat, 100))
	tr.Credit(Crypto, 3)
	require.NoError(t, tr.Reserve(Crypto, 1))

	snap := tr.Snapshot()
	assert.Equal(t, 1000.0, snap.Fiat)
	assert.Equal(t, 3.0, snap.Crypto)
	assert.Equal(t, 100.0, snap.ReservedFiat)
	assert.Equal(t, 1.0, snap.ReservedCrypto)
	assert.Equal(t, 0.0, snap.TotalFees)
}

func TestReserveCryptoInsufficient(t *testing.T) {
	tr := NewBalanceTracker(1000)
	err := tr.Reserve(Crypto, 1)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	checkInvariants(t, tr)
}
