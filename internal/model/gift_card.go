package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Gift card statuses.
const (
	GiftCardActive   = "active"
	GiftCardDepleted = "depleted"
	GiftCardExpired  = "expired"
	GiftCardDisabled = "disabled"
)

// GiftCard is a balance-bearing instrument.  The balance can never
// exceed InitialAmount (credits are capped at the original issuance)
// and never goes below zero.  Every movement appends a
// BalanceTransaction so the current balance is replayable from the log.
type GiftCard struct {
	ID            uint64          // gift_cards.id
	ClientID      uint64          // gift_cards.marketplace_client_id
	Code          string          // gift_cards.code (upper-case, unique per client)
	PINHash       string          // gift_cards.pin_hash (bcrypt, empty when no PIN)
	InitialAmount decimal.Decimal // gift_cards.initial_amount
	Balance       decimal.Decimal // gift_cards.balance
	Currency      string          // gift_cards.currency
	Status        string          // gift_cards.status
	ExpiresAt     *time.Time      // gift_cards.expires_at
	CreatedAt     time.Time       // gift_cards.created_at
}

// Usable reports whether the card can be redeemed right now.
func (g *GiftCard) Usable(now time.Time) bool {
	if g.Status != GiftCardActive {
		return false
	}
	if g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
		return false
	}
	return g.Balance.IsPositive()
}
