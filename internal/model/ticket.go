package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket statuses.  A ticket's status is a projection of its order's
// status; only the check-in flow writes it independently.
const (
	TicketPending   = "pending"
	TicketValid     = "valid"
	TicketCancelled = "cancelled"
	TicketCheckedIn = "checked_in"
)

// Ticket is one admitted unit of a ticket type, created when the order
// is created from a hold.
type Ticket struct {
	ID           uint64          // tickets.id
	OrderID      uint64          // tickets.order_id
	TicketTypeID uint64          // tickets.ticket_type_id
	Code         string          // tickets.code (unique, printed on the ticket)
	Status       string          // tickets.status
	Price        decimal.Decimal // tickets.price
	Currency     string          // tickets.currency
	CheckedInAt  *time.Time      // tickets.checked_in_at
	CreatedAt    time.Time       // tickets.created_at
}

// TicketStatusFor maps an order status to the ticket status every
// ticket of that order must carry.  The mapping is total: every order
// status has exactly one projection.
func TicketStatusFor(orderStatus string) string {
	switch orderStatus {
	case OrderPaid, OrderConfirmed, OrderCompleted:
		return TicketValid
	case OrderCancelled, OrderRefunded:
		return TicketCancelled
	default:
		return TicketPending
	}
}
