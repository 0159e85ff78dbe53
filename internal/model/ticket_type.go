package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket type sale statuses.
const (
	TicketTypeOnSale   = "on_sale"
	TicketTypeSoldOut  = "sold_out"
	TicketTypeArchived = "archived"
)

// TicketType is the unit of inventory: a purchasable category of ticket
// for an event, carrying its own price and quota.  The three counters
// are mutated only through the inventory repository so that
// quantity_sold + quantity_reserved never exceeds quantity.
//
// A NULL quantity means the ticket type is unlimited; this is surfaced
// to callers as a Capacity value rather than a nullable integer.
type TicketType struct {
	ID               uint64          // ticket_types.id
	ClientID         uint64          // ticket_types.marketplace_client_id
	OrganizerID      uint64          // ticket_types.organizer_id
	EventID          uint64          // ticket_types.event_id
	Name             string          // ticket_types.name
	Price            decimal.Decimal // ticket_types.price
	Currency         string          // ticket_types.currency (ISO 4217)
	Quantity         *int64          // ticket_types.quantity (NULL = unlimited)
	QuantitySold     int64           // ticket_types.quantity_sold
	QuantityReserved int64           // ticket_types.quantity_reserved
	Status           string          // ticket_types.status
	CreatedAt        time.Time       // ticket_types.created_at
	UpdatedAt        time.Time       // ticket_types.updated_at
	DeletedAt        *time.Time      // ticket_types.deleted_at (soft delete)
}

// Capacity is the availability of a ticket type at a point in time.
// Unbounded capacity corresponds to a NULL quantity column.
type Capacity struct {
	Unbounded bool
	N         int64
}

// CapacityOf computes the remaining capacity from the counters.
func CapacityOf(quantity *int64, sold, reserved int64) Capacity {
	if quantity == nil {
		return Capacity{Unbounded: true}
	}
	n := *quantity - sold - reserved
	if n < 0 {
		n = 0
	}
	return Capacity{N: n}
}

// AtLeast reports whether the capacity covers n units.
func (c Capacity) AtLeast(n int64) bool {
	return c.Unbounded || c.N >= n
}
