// Package repository defines the data-access layer and the sentinel
// error values reused across repositories. These sentinels let the
// service and handler layers distinguish failure scenarios with
// errors.Is: capacity exhaustion is surfaced to customers as "sold
// out", insufficient balance as a rejected redemption, and invalid
// transitions as a conflict.
package repository

import "errors"

// ErrNotFound is returned when a referenced entity does not exist or
// has been soft-deleted. Handlers translate this into HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrCapacityExceeded is returned when a reservation asks for more
// units than a ticket type has available. It is the normal "sold out"
// signal, not a server error, and maps to HTTP 409.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// ErrInsufficientBalance is returned when a ledger debit exceeds the
// entity's current balance. The balance is left untouched. Maps to
// HTTP 422.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrInvalidTransition is returned when an order or hold transition is
// requested from a state that does not permit it and the request is
// not an idempotent replay. Maps to HTTP 409.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrGiftCardNotUsable is returned when a gift card exists but cannot
// be redeemed (wrong status, expired, or empty). Maps to HTTP 422.
var ErrGiftCardNotUsable = errors.New("gift card not usable")

// ErrPromoNotAvailable is returned when a promo code is inactive,
// expired, or its usage cap has been reached. Maps to HTTP 422.
var ErrPromoNotAvailable = errors.New("promo code not available")
