package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Organizer carries the two payout buckets.  Sales credit
// AvailableBalance; reserving for a payout moves money from available
// to pending until the payout is executed or returned.  Both buckets
// are mutated only through the organizer repository, which appends a
// BalanceTransaction per movement.
type Organizer struct {
	ID               uint64          // organizers.id
	ClientID         uint64          // organizers.marketplace_client_id
	Name             string          // organizers.name
	CommissionRate   decimal.Decimal // organizers.commission_rate (percent, 2 dp)
	AvailableBalance decimal.Decimal // organizers.available_balance
	PendingBalance   decimal.Decimal // organizers.pending_balance
	Currency         string          // organizers.currency
	CreatedAt        time.Time       // organizers.created_at
}
