// Package ledger 维护法币与加密货币两个账户的余额账本,
// 通过预留/结算/释放三段式流程保证挂单资金不会被重复占用。
package ledger

import (
	"errors"
	"sync"

	"grid-trading-bot-go/internal/models"
)

// ErrInsufficientBalance 表示可用余额不足以完成预留
var ErrInsufficientBalance = errors.New("可用余额不足")

// Currency 标识账本中的一种货币
type Currency int

const (
	Fiat Currency = iota
	Crypto
)

func (c Currency) String() string {
	if c == Fiat {
		return "fiat"
	}
	return "crypto"
}

type account struct {
	total    float64
	reserved float64
}

// BalanceTracker 是并发安全的双币种账本。
// 不变式: 每个账户都满足 0 <= reserved <= total, available = total - reserved。
type BalanceTracker struct {
	mu        sync.Mutex
	fiat      account
	crypto    account
	totalFees float64
}

// NewBalanceTracker 创建账本, 初始只有法币余额
func NewBalanceTracker(initialFiat float64) *BalanceTracker {
	return &BalanceTracker{fiat: account{total: initialFiat}}
}

func (t *BalanceTracker) acct(c Currency) *account {
	if c == Fiat {
		return &t.fiat
	}
	return &t.crypto
}

// Reserve 为一笔挂单预留资金。可用余额不足时返回
// ErrInsufficientBalance 且账本不发生任何变化。
func (t *BalanceTracker) Reserve(c Currency, amount float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.acct(c)
	if amount > a.total-a.reserved {
		return ErrInsufficientBalance
	}
	a.reserved += amount
	return nil
}

// Release 撤销一笔预留, 资金回到可用余额。用于撤单或下单失败。
func (t *BalanceTracker) Release(c Currency, amount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.acct(c)
	a.reserved -= amount
	if a.reserved < 0 {
		a.reserved = 0
	}
}

// Settle 在订单成交后结算一笔预留: 预留额度被移除,
// actualDebit 是实际从该账户扣除的总额(含以该货币收取的手续费),
// fee 只用于累计手续费统计。
func (t *BalanceTracker) Settle(c Currency, reservedAmount, actualDebit, fee float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.acct(c)
	a.reserved -= reservedAmount
	if a.reserved < 0 {
		a.reserved = 0
	}
	a.total -= actualDebit
	if a.total < 0 {
		a.total = 0
	}
	t.totalFees += fee
}

// Credit 入账一笔成交所得, 直接增加可用余额
func (t *BalanceTracker) Credit(c Currency, amount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acct(c).total += amount
}

// FiatBalance 返回法币总余额(含预留部分)
func (t *BalanceTracker) FiatBalance() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fiat.total
}

// CryptoBalance 返回加密货币总余额(含预留部分)
func (t *BalanceTracker) CryptoBalance() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.crypto.total
}

// AvailableFiat 返回法币可用余额
func (t *BalanceTracker) AvailableFiat() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fiat.total - t.fiat.reserved
}

// AvailableCrypto 返回加密货币可用余额
func (t *BalanceTracker) AvailableCrypto() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.crypto.total - t.crypto.reserved
}

// ReservedFiat 返回法币预留余额
func (t *BalanceTracker) ReservedFiat() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fiat.reserved
}

// ReservedCrypto 返回加密货币预留余额
func (t *BalanceTracker) ReservedCrypto() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.crypto.reserved
}

// TotalFees 返回累计手续费(以法币计)
func (t *BalanceTracker) TotalFees() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalFees
}

// TotalValue 按给定价格折算账户总价值
func (t *BalanceTracker) TotalValue(price float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fiat.total + t.crypto.total*price
}

// Snapshot 返回账本的只读快照
func (t *BalanceTracker) Snapshot() models.BalanceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.BalanceSnapshot{
		Fiat:           t.fiat.total,
		Crypto:         t.crypto.total,
		ReservedFiat:   t.fiat.reserved,
		ReservedCrypto: t.crypto.reserved,
		TotalFees:      t.totalFees,
	}
}
