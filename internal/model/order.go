package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses.  pending is the entry state; cancelled and refunded
// are terminal.  paid, confirmed and completed form the success path
// and share the same cascade onto tickets.
const (
	OrderPending   = "pending"
	OrderPaid      = "paid"
	OrderConfirmed = "confirmed"
	OrderCompleted = "completed"
	OrderCancelled = "cancelled"
	OrderRefunded  = "refunded"
)

// Order groups the tickets bought in one checkout.  It belongs to one
// marketplace client and references the hold whose inventory it was
// created from; the ticket count never exceeds that reservation.
type Order struct {
	ID            uint64          // orders.id
	PublicCode    string          // orders.public_code (e.g. ORD-A1B2C3)
	ClientID      uint64          // orders.marketplace_client_id
	OrganizerID   uint64          // orders.organizer_id
	CustomerEmail string          // orders.customer_email (empty for guests at POS)
	HoldID        uint64          // orders.hold_id
	Status        string          // orders.status
	Subtotal      decimal.Decimal // orders.subtotal
	Discount      decimal.Decimal // orders.discount
	Total         decimal.Decimal // orders.total
	Currency      string          // orders.currency
	PromoCode     string          // orders.promo_code (empty when none)
	PaymentRef    string          // orders.payment_ref (gateway reference)
	CreatedAt     time.Time       // orders.created_at
	PaidAt        *time.Time      // orders.paid_at
	CancelledAt   *time.Time      // orders.cancelled_at
	Tickets       []Ticket        // tickets rows, one per unit
}

// SuccessStatus reports whether s is on the paid/confirmed/completed path.
func SuccessStatus(s string) bool {
	return s == OrderPaid || s == OrderConfirmed || s == OrderCompleted
}
