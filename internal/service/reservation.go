// Package service holds the admission control and settlement cores.
// Services own the lifecycle rules; the repositories under
// internal/repository own the SQL.  Handlers call services and never
// touch counters or statuses directly.
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tixello/marketplace-core/internal/model"
	"github.com/tixello/marketplace-core/internal/repository"
	"github.com/tixello/marketplace-core/internal/utils"
)

// InventoryStore is the slice of the ticket type repository the
// reservation and settlement services need.  Reserve, release,
// confirm and rollback are each a single atomic counter movement.
type InventoryStore interface {
	Get(ctx context.Context, id uint64) (*model.TicketType, error)
	GetForClient(ctx context.Context, clientID, id uint64) (*model.TicketType, error)
	Available(ctx context.Context, id uint64) (model.Capacity, error)
	TryReserve(ctx context.Context, id uint64, n int64) error
	Release(ctx context.Context, id uint64, n int64) error
	Confirm(ctx context.Context, id uint64, n int64) error
	RollbackSale(ctx context.Context, id uint64, n int64) error
}

// HoldStore is the slice of the hold repository the reservation
// service needs.
type HoldStore interface {
	Create(ctx context.Context, h *model.Hold) error
	GetByID(ctx context.Context, id uint64) (*model.Hold, error)
	GetByToken(ctx context.Context, clientID uint64, token string) (*model.Hold, error)
	TransitionStatus(ctx context.Context, id uint64, from, to, reason string) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Hold, error)
}

// HoldLine is one requested quantity of a ticket type inside a hold.
type HoldLine struct {
	TicketTypeID uint64
	Quantity     int64
}

// ReservationService creates and resolves inventory holds.  A hold
// parks quantity in the reserved counter for a bounded TTL; it ends
// confirmed (the sale went through), released (the caller gave it
// back) or expired (the TTL ran out).
type ReservationService struct {
	inventory InventoryStore
	holds     HoldStore
	ttl       time.Duration
}

// NewReservationService wires a ReservationService.  ttl bounds how
// long a hold keeps inventory out of the sellable pool.
func NewReservationService(inventory InventoryStore, holds HoldStore, ttl time.Duration) *ReservationService {
	return &ReservationService{inventory: inventory, holds: holds, ttl: ttl}
}

// CreateHold reserves every requested line or none of them.  Lines
// naming the same ticket type are merged before reserving.  There is
// no cross-row transaction here: lines are reserved one at a time and
// compensated with releases when a later line fails, so a failed hold
// never leaks reserved quantity.
func (s *ReservationService) CreateHold(ctx context.Context, clientID uint64, lines []HoldLine) (*model.Hold, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("hold needs at least one line")
	}
	merged := make(map[uint64]int64, len(lines))
	order := make([]uint64, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("quantity must be positive for ticket type %d", l.TicketTypeID)
		}
		if _, ok := merged[l.TicketTypeID]; !ok {
			order = append(order, l.TicketTypeID)
		}
		merged[l.TicketTypeID] += l.Quantity
	}

	items := make([]model.HoldItem, 0, len(order))
	reserved := make([]model.HoldItem, 0, len(order))
	for _, ttID := range order {
		qty := merged[ttID]
		tt, err := s.inventory.GetForClient(ctx, clientID, ttID)
		if err != nil {
			s.releaseLines(ctx, reserved)
			return nil, err
		}
		if err := s.inventory.TryReserve(ctx, tt.ID, qty); err != nil {
			s.releaseLines(ctx, reserved)
			return nil, err
		}
		item := model.HoldItem{
			TicketTypeID: tt.ID,
			Quantity:     qty,
			UnitPrice:    tt.Price,
			Currency:     tt.Currency,
		}
		items = append(items, item)
		reserved = append(reserved, item)
	}

	token, err := utils.RandomToken(24)
	if err != nil {
		s.releaseLines(ctx, reserved)
		return nil, err
	}
	h := &model.Hold{
		ClientID:  clientID,
		Token:     token,
		Status:    model.HoldHeld,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
		Items:     items,
	}
	if err := s.holds.Create(ctx, h); err != nil {
		s.releaseLines(ctx, reserved)
		return nil, err
	}
	return h, nil
}

// releaseLines gives the reserved quantity of each line back to the
// pool.  Failures are logged and the loop keeps going: by the time
// this runs the hold is terminal (or was never persisted), so nothing
// retries the release and stopping early would strand the remaining
// lines as well.
func (s *ReservationService) releaseLines(ctx context.Context, items []model.HoldItem) {
	for _, it := range items {
		if err := s.inventory.Release(ctx, it.TicketTypeID, it.Quantity); err != nil {
			log.Printf("[reservation] release failed: ticket_type=%d qty=%d err=%v",
				it.TicketTypeID, it.Quantity, err)
		}
	}
}

// GetByToken returns the hold for a client-scoped token, expiring it
// first if its TTL has already passed.  Reads observe expiry even
// when the background sweep has not run yet.
func (s *ReservationService) GetByToken(ctx context.Context, clientID uint64, token string) (*model.Hold, error) {
	h, err := s.holds.GetByToken(ctx, clientID, token)
	if err != nil {
		return nil, err
	}
	return s.lazyExpire(ctx, h)
}

// lazyExpire transitions an overdue HELD hold to EXPIRED and releases
// its lines.  Safe to race with the sweep: only the transition winner
// releases.
func (s *ReservationService) lazyExpire(ctx context.Context, h *model.Hold) (*model.Hold, error) {
	if h.Status != model.HoldHeld || h.ExpiresAt.After(time.Now().UTC()) {
		return h, nil
	}
	won, err := s.holds.TransitionStatus(ctx, h.ID, model.HoldHeld, model.HoldExpired, "ttl elapsed")
	if err != nil {
		return nil, err
	}
	if won {
		s.releaseLines(ctx, h.Items)
	}
	return s.holds.GetByID(ctx, h.ID)
}

// Confirm moves a hold's quantity from reserved to sold.  Called by
// settlement when the order behind the hold is paid.  Confirming an
// already confirmed hold is a no-op; released and expired holds
// cannot be confirmed.
func (s *ReservationService) Confirm(ctx context.Context, holdID uint64) error {
	h, err := s.holds.GetByID(ctx, holdID)
	if err != nil {
		return err
	}
	h, err = s.lazyExpire(ctx, h)
	if err != nil {
		return err
	}
	switch h.Status {
	case model.HoldConfirmed:
		return nil
	case model.HoldReleased, model.HoldExpired:
		return fmt.Errorf("hold %d is %s: %w", h.ID, h.Status, repository.ErrInvalidTransition)
	}
	won, err := s.holds.TransitionStatus(ctx, h.ID, model.HoldHeld, model.HoldConfirmed, "")
	if err != nil {
		return err
	}
	if !won {
		// Lost the race.  Re-read to distinguish a concurrent confirm
		// (fine) from a concurrent expiry (not fine).
		return s.Confirm(ctx, holdID)
	}
	for _, it := range h.Items {
		if err := s.inventory.Confirm(ctx, it.TicketTypeID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Release gives a hold's quantity back to the sellable pool.
// Releasing a hold that already reached a terminal status is a no-op,
// so callers can retry freely.
func (s *ReservationService) Release(ctx context.Context, clientID uint64, token, reason string) (*model.Hold, error) {
	h, err := s.holds.GetByToken(ctx, clientID, token)
	if err != nil {
		return nil, err
	}
	if err := s.release(ctx, h, reason); err != nil {
		return nil, err
	}
	return s.holds.GetByID(ctx, h.ID)
}

// ReleaseHold is Release addressed by hold id, used by settlement
// when an order is cancelled before payment.
func (s *ReservationService) ReleaseHold(ctx context.Context, holdID uint64, reason string) error {
	h, err := s.holds.GetByID(ctx, holdID)
	if err != nil {
		return err
	}
	return s.release(ctx, h, reason)
}

func (s *ReservationService) release(ctx context.Context, h *model.Hold, reason string) error {
	if h.Terminal() {
		return nil
	}
	won, err := s.holds.TransitionStatus(ctx, h.ID, model.HoldHeld, model.HoldReleased, reason)
	if err != nil {
		return err
	}
	if won {
		s.releaseLines(ctx, h.Items)
	}
	return nil
}

// SweepExpired expires overdue holds in batches and returns how many
// it expired.  Runs on a schedule; the per-hold transition makes it
// safe to run concurrently with reads doing lazy expiry.
func (s *ReservationService) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	overdue, err := s.holds.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range overdue {
		h := &overdue[i]
		won, err := s.holds.TransitionStatus(ctx, h.ID, model.HoldHeld, model.HoldExpired, "ttl elapsed")
		if err != nil {
			return expired, err
		}
		if !won {
			continue
		}
		s.releaseLines(ctx, h.Items)
		expired++
	}
	return expired, nil
}

// Availability reports the remaining sellable capacity of a ticket
// type.  Unlimited types report unbounded.
func (s *ReservationService) Availability(ctx context.Context, id uint64) (model.Capacity, error) {
	return s.inventory.Available(ctx, id)
}
