package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
	"github.com/tixello/marketplace-core/internal/queue"
	"github.com/tixello/marketplace-core/internal/repository"
)

// OrganizerLedger is the slice of the organizer repository settlement
// needs to credit sales and claw back refunds.
type OrganizerLedger interface {
	RecordSale(ctx context.Context, organizerID uint64, gross decimal.Decimal, reference string) (*model.BalanceTransaction, error)
	RecordRefund(ctx context.Context, organizerID uint64, gross decimal.Decimal, reference string) (*model.BalanceTransaction, error)
}

// allowedTransitions is the order status machine.  Settling to the
// current status is an idempotent no-op handled before this table is
// consulted; cancelled and refunded have no exits.
var allowedTransitions = map[string]map[string]bool{
	model.OrderPending: {
		model.OrderPaid: true, model.OrderConfirmed: true,
		model.OrderCompleted: true, model.OrderCancelled: true,
	},
	model.OrderPaid: {
		model.OrderPending: true, model.OrderConfirmed: true,
		model.OrderCompleted: true, model.OrderCancelled: true,
		model.OrderRefunded: true,
	},
	model.OrderConfirmed: {
		model.OrderCompleted: true, model.OrderCancelled: true,
		model.OrderRefunded: true,
	},
	model.OrderCompleted: {
		model.OrderCancelled: true, model.OrderRefunded: true,
	},
}

// SettlementService drives orders through their lifecycle and keeps
// inventory, tickets and the organizer ledger consistent with every
// transition.  Payment gateway failures block the transition; broker
// publish failures never do.
type SettlementService struct {
	orders       OrderStore
	holds        HoldStore
	inventory    InventoryStore
	reservations *ReservationService
	ledger       OrganizerLedger
	promos       PromoStore
	gateway      PaymentGateway
	publish      func(ctx context.Context, ev queue.OrderEvent) error
}

// NewSettlementService wires a SettlementService.  publish may be nil
// to disable event publishing (tests do this); production passes
// queue.PublishOrderEvent.
func NewSettlementService(
	orders OrderStore,
	holds HoldStore,
	inventory InventoryStore,
	reservations *ReservationService,
	ledger OrganizerLedger,
	promos PromoStore,
	gateway PaymentGateway,
	publish func(ctx context.Context, ev queue.OrderEvent) error,
) *SettlementService {
	return &SettlementService{
		orders:       orders,
		holds:        holds,
		inventory:    inventory,
		reservations: reservations,
		ledger:       ledger,
		promos:       promos,
		gateway:      gateway,
		publish:      publish,
	}
}

// Settle moves an order to the target status, running the side
// effects the transition implies.  Settling to the status the order
// already has is a no-op and returns the order unchanged, which makes
// webhook redelivery safe.  Disallowed transitions return
// ErrInvalidTransition.
func (s *SettlementService) Settle(ctx context.Context, clientID, orderID uint64, target, paymentRef string) (*model.Order, error) {
	o, err := s.orders.GetForClient(ctx, clientID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == target {
		return o, nil
	}
	if !allowedTransitions[o.Status][target] {
		return nil, fmt.Errorf("order %d: %s -> %s: %w", o.ID, o.Status, target, repository.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	switch {
	case model.SuccessStatus(target):
		if model.SuccessStatus(o.Status) {
			// paid -> confirmed -> completed moves carry no money or
			// inventory effects, only the status and ticket update.
			if err := s.orders.ApplyTransition(ctx, o.ID, target, paymentRef, now); err != nil {
				return nil, err
			}
		} else if err := s.settlePayment(ctx, o, target, paymentRef, now); err != nil {
			return nil, err
		}

	case target == model.OrderPending:
		// A disputed or reversed payment drops the order back to
		// pending.  Sold inventory and the sale ledger row stay put;
		// tickets revert to pending until the dispute resolves.
		if err := s.orders.ApplyTransition(ctx, o.ID, model.OrderPending, "", now); err != nil {
			return nil, err
		}

	case target == model.OrderCancelled:
		if model.SuccessStatus(o.Status) {
			if err := s.reverseSale(ctx, o); err != nil {
				return nil, err
			}
		} else {
			if err := s.reservations.ReleaseHold(ctx, o.HoldID, "order cancelled"); err != nil {
				return nil, err
			}
			if err := s.returnPromoUse(ctx, o); err != nil {
				return nil, err
			}
		}
		if err := s.orders.ApplyTransition(ctx, o.ID, model.OrderCancelled, "", now); err != nil {
			return nil, err
		}
		s.publishEvent(ctx, o, queue.KindOrderCancelled, model.OrderCancelled, now)

	case target == model.OrderRefunded:
		if err := s.reverseSale(ctx, o); err != nil {
			return nil, err
		}
		if err := s.orders.ApplyTransition(ctx, o.ID, model.OrderRefunded, "", now); err != nil {
			return nil, err
		}
		s.publishEvent(ctx, o, queue.KindOrderRefunded, model.OrderRefunded, now)

	default:
		return nil, fmt.Errorf("order %d: unknown target status %q: %w", o.ID, target, repository.ErrInvalidTransition)
	}

	return s.orders.GetForClient(ctx, clientID, orderID)
}

// settlePayment runs the pending -> success transition: charge the
// customer, move the hold's quantity from reserved to sold, flip the
// order and its tickets, and credit the organizer net of commission.
// A gateway decline aborts before anything else changes, leaving the
// order pending and the hold intact.
func (s *SettlementService) settlePayment(ctx context.Context, o *model.Order, target, paymentRef string, now time.Time) error {
	// Never take money for a hold that cannot confirm.  Settle
	// webhooks can arrive hours after the cart expired, and a charge
	// captured here would have nothing to deliver.
	h, err := s.holds.GetByID(ctx, o.HoldID)
	if err != nil {
		return err
	}
	confirmable := h.Status == model.HoldConfirmed ||
		(h.Status == model.HoldHeld && h.ExpiresAt.After(now))
	if !confirmable {
		return fmt.Errorf("order %d: hold %d is %s and cannot confirm: %w",
			o.ID, h.ID, h.Status, repository.ErrInvalidTransition)
	}
	if o.Total.IsPositive() {
		if err := s.gateway.Charge(ctx, paymentRef, o.Total, o.Currency); err != nil {
			return fmt.Errorf("charge order %d: %v: %w", o.ID, err, ErrPaymentFailed)
		}
	}
	if err := s.reservations.Confirm(ctx, o.HoldID); err != nil {
		s.refundCharge(ctx, o, paymentRef)
		return err
	}
	if err := s.orders.ApplyTransition(ctx, o.ID, target, paymentRef, now); err != nil {
		s.refundCharge(ctx, o, paymentRef)
		return err
	}
	if o.Total.IsPositive() {
		if _, err := s.ledger.RecordSale(ctx, o.OrganizerID, o.Total, o.PublicCode); err != nil {
			return err
		}
	}
	s.publishEvent(ctx, o, queue.KindOrderPaid, target, now)
	return nil
}

// refundCharge compensates a captured charge when a step after the
// charge fails, so the order can stay pending without stranding the
// customer's money.  A refund the gateway refuses is logged for
// manual reconciliation; it cannot displace the error already in
// flight.
func (s *SettlementService) refundCharge(ctx context.Context, o *model.Order, paymentRef string) {
	if !o.Total.IsPositive() {
		return
	}
	if err := s.gateway.Refund(ctx, paymentRef, o.Total, o.Currency); err != nil {
		log.Printf("[settlement] compensating refund for order %d failed: %v", o.ID, err)
	}
}

// reverseSale undoes a settled order: refund the customer, give the
// sold quantity back to the sellable pool, and claw the net back out
// of the organizer balance.  A gateway refund failure blocks the
// transition so money and state never diverge.
func (s *SettlementService) reverseSale(ctx context.Context, o *model.Order) error {
	if o.Total.IsPositive() {
		if err := s.gateway.Refund(ctx, o.PaymentRef, o.Total, o.Currency); err != nil {
			return fmt.Errorf("refund order %d: %v: %w", o.ID, err, ErrPaymentFailed)
		}
	}
	h, err := s.holds.GetByID(ctx, o.HoldID)
	if err != nil {
		return err
	}
	for _, it := range h.Items {
		if err := s.inventory.RollbackSale(ctx, it.TicketTypeID, it.Quantity); err != nil {
			return err
		}
	}
	if o.Total.IsPositive() {
		if _, err := s.ledger.RecordRefund(ctx, o.OrganizerID, o.Total, o.PublicCode); err != nil {
			return err
		}
	}
	return nil
}

// returnPromoUse gives the promo use back when an order is cancelled
// before any money moved.
func (s *SettlementService) returnPromoUse(ctx context.Context, o *model.Order) error {
	if o.PromoCode == "" {
		return nil
	}
	p, err := s.promos.GetByCode(ctx, o.ClientID, o.PromoCode)
	if err != nil {
		return err
	}
	if err := s.promos.Unclaim(ctx, p.ID); err != nil {
		return err
	}
	return s.promos.DropUsage(ctx, p.ID, o.ID)
}

// publishEvent emits an order event; failures are logged and dropped.
func (s *SettlementService) publishEvent(ctx context.Context, o *model.Order, kind, status string, now time.Time) {
	if s.publish == nil {
		return
	}
	ev := queue.OrderEvent{
		Kind:          kind,
		OrderID:       o.ID,
		PublicCode:    o.PublicCode,
		ClientID:      o.ClientID,
		OrganizerID:   o.OrganizerID,
		CustomerEmail: o.CustomerEmail,
		Status:        status,
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
		TicketCount:   len(o.Tickets),
		OccurredAt:    now.Format(time.RFC3339),
	}
	if err := s.publish(ctx, ev); err != nil {
		log.Printf("[settlement] publish %s for order %d failed: %v", kind, o.ID, err)
	}
}
