// Package queue defines message payloads exchanged over the message broker.
package queue

// OrderEvent is published whenever an order settles into a new
// lifecycle status.  It carries enough for downstream consumers to
// notify the customer or feed analytics without querying the primary
// database.  Kind is the routing hint: order.paid, order.cancelled or
// order.refunded.
type OrderEvent struct {
	Kind          string `json:"kind"`
	OrderID       uint64 `json:"order_id"`
	PublicCode    string `json:"public_code"`
	ClientID      uint64 `json:"client_id"`
	OrganizerID   uint64 `json:"organizer_id"`
	CustomerEmail string `json:"customer_email"`
	Status        string `json:"status"`
	Total         string `json:"total"`
	Currency      string `json:"currency"`
	TicketCount   int    `json:"ticket_count"`
	OccurredAt    string `json:"occurred_at"`
}

// Event kinds carried in OrderEvent.Kind.
const (
	KindOrderPaid      = "order.paid"
	KindOrderCancelled = "order.cancelled"
	KindOrderRefunded  = "order.refunded"
)
