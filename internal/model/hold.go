package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Hold statuses.  HELD is the only non-terminal state.
const (
	HoldHeld      = "HELD"
	HoldConfirmed = "CONFIRMED"
	HoldReleased  = "RELEASED"
	HoldExpired   = "EXPIRED"
)

// Hold is a temporary claim on ticket inventory created at cart time.
// Reserved units are returned to inventory when the hold is released
// or when the sweeper finds it past its expiry.
//
// Fields:
//  ID        – primary key identifier.
//  ClientID  – marketplace client the cart belongs to.
//  Token     – opaque token returned to the cart for correlation.
//  Status    – HELD, CONFIRMED, RELEASED or EXPIRED.
//  Reason    – why a released hold was released (empty otherwise).
//  ExpiresAt – when the hold stops counting against inventory.
//  Items     – reserved line items.
type Hold struct {
	ID        uint64     // holds.id
	ClientID  uint64     // holds.marketplace_client_id
	Token     string     // holds.token
	Status    string     // holds.status
	Reason    string     // holds.released_reason
	ExpiresAt time.Time  // holds.expires_at
	CreatedAt time.Time  // holds.created_at
	Items     []HoldItem // hold_items rows
}

// HoldItem reserves a quantity of one ticket type under a hold.  The
// unit price is snapshotted at reservation time so the order total
// does not move underneath the customer during checkout.
type HoldItem struct {
	ID           uint64          // hold_items.id
	HoldID       uint64          // hold_items.hold_id
	TicketTypeID uint64          // hold_items.ticket_type_id
	Quantity     int64           // hold_items.quantity
	UnitPrice    decimal.Decimal // hold_items.unit_price
	Currency     string          // hold_items.currency
}

// Terminal reports whether the hold can no longer change state.
func (h *Hold) Terminal() bool {
	return h.Status != HoldHeld
}
