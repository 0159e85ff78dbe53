package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types shared by the gift card and organizer ledgers.
const (
	TxPurchase      = "purchase"
	TxRedemption    = "redemption"
	TxSale          = "sale"
	TxRefund        = "refund"
	TxPayoutReserve = "payout_reserve"
	TxPayoutReturn  = "payout_return"
)

// BalanceTransaction is one append-only row in a balance ledger.
// Amount is signed: credits are positive, debits negative, so that
// BalanceBefore + Amount == BalanceAfter for every row and folding the
// log in timestamp order reproduces the stored balance exactly.
// Rows are written exactly once per economic event and never edited.
type BalanceTransaction struct {
	ID            uint64          // *_transactions.id
	EntityID      uint64          // owning gift card or organizer id
	Type          string          // transaction type constant
	Amount        decimal.Decimal // signed movement
	BalanceBefore decimal.Decimal // balance snapshot before the movement
	BalanceAfter  decimal.Decimal // balance snapshot after the movement
	Currency      string          // currency of the amount
	Gross         decimal.Decimal // gross order amount (sale/refund rows)
	Commission    decimal.Decimal // commission withheld/returned (sale/refund rows)
	Reference     string          // order public code or payout reference
	Description   string          // human description
	CreatedAt     time.Time       // *_transactions.created_at
}
