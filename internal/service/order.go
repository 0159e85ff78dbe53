package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
	"github.com/tixello/marketplace-core/internal/repository"
	"github.com/tixello/marketplace-core/internal/utils"
)

// OrderStore is the slice of the order repository the order and
// settlement services need.
type OrderStore interface {
	Create(ctx context.Context, o *model.Order) error
	GetByID(ctx context.Context, id uint64) (*model.Order, error)
	GetForClient(ctx context.Context, clientID, id uint64) (*model.Order, error)
	ApplyTransition(ctx context.Context, orderID uint64, status, paymentRef string, now time.Time) error
	CheckInTicket(ctx context.Context, clientID uint64, code string) (*model.Ticket, error)
}

// PromoStore is the slice of the promo code repository used at order
// creation and cancellation.
type PromoStore interface {
	GetByCode(ctx context.Context, clientID uint64, code string) (*model.PromoCode, error)
	Claim(ctx context.Context, promoID uint64) error
	Unclaim(ctx context.Context, promoID uint64) error
	RecordUsage(ctx context.Context, promoID, orderID uint64, discount decimal.Decimal) error
	DropUsage(ctx context.Context, promoID, orderID uint64) error
}

// CreateOrderInput carries everything needed to turn a hold into a
// pending order.
type CreateOrderInput struct {
	HoldToken     string
	CustomerEmail string
	PromoCode     string
}

// OrderService turns confirmed holds into orders and answers order
// reads and ticket check-ins.  Settlement transitions live on
// SettlementService.
type OrderService struct {
	orders       OrderStore
	inventory    InventoryStore
	reservations *ReservationService
	promos       PromoStore
}

// NewOrderService wires an OrderService.
func NewOrderService(orders OrderStore, inventory InventoryStore, reservations *ReservationService, promos PromoStore) *OrderService {
	return &OrderService{orders: orders, inventory: inventory, reservations: reservations, promos: promos}
}

// Create builds a pending order on top of an active hold.  The hold
// must still be HELD; its priced lines become the order's subtotal
// and one pending ticket per unit.  All lines must share one currency
// and one organizer.  An optional promo code is consumed here so its
// use cap is claimed before any money moves.
func (s *OrderService) Create(ctx context.Context, clientID uint64, in CreateOrderInput) (*model.Order, error) {
	if in.CustomerEmail == "" {
		return nil, fmt.Errorf("customer email is required")
	}
	h, err := s.reservations.GetByToken(ctx, clientID, in.HoldToken)
	if err != nil {
		return nil, err
	}
	if h.Status != model.HoldHeld {
		return nil, fmt.Errorf("hold %s is %s: %w", h.Token, h.Status, repository.ErrInvalidTransition)
	}

	subtotal := decimal.Zero
	currency := ""
	var organizerID uint64
	tickets := make([]model.Ticket, 0)
	for _, it := range h.Items {
		tt, err := s.inventory.Get(ctx, it.TicketTypeID)
		if err != nil {
			return nil, err
		}
		if currency == "" {
			currency = it.Currency
			organizerID = tt.OrganizerID
		}
		if it.Currency != currency {
			return nil, fmt.Errorf("hold mixes currencies %s and %s", currency, it.Currency)
		}
		if tt.OrganizerID != organizerID {
			return nil, fmt.Errorf("hold mixes organizers %d and %d", organizerID, tt.OrganizerID)
		}
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
		for i := int64(0); i < it.Quantity; i++ {
			code, err := utils.TicketCode()
			if err != nil {
				return nil, err
			}
			tickets = append(tickets, model.Ticket{
				TicketTypeID: it.TicketTypeID,
				Code:         code,
				Status:       model.TicketPending,
				Price:        it.UnitPrice,
				Currency:     it.Currency,
			})
		}
	}

	// Claim the promo use before the order exists so the cap is
	// enforced ahead of any money movement.
	discount := decimal.Zero
	var promo *model.PromoCode
	if in.PromoCode != "" {
		promo, err = s.promos.GetByCode(ctx, clientID, in.PromoCode)
		if err != nil {
			return nil, err
		}
		if err := s.promos.Claim(ctx, promo.ID); err != nil {
			return nil, err
		}
		discount = subtotal.Mul(promo.Percent).Div(decimal.NewFromInt(100)).Round(2)
		if discount.GreaterThan(subtotal) {
			discount = subtotal
		}
	}

	publicCode, err := utils.RandomCode(8)
	if err != nil {
		return nil, err
	}
	o := &model.Order{
		PublicCode:    publicCode,
		ClientID:      clientID,
		OrganizerID:   organizerID,
		CustomerEmail: in.CustomerEmail,
		HoldID:        h.ID,
		Status:        model.OrderPending,
		Subtotal:      subtotal,
		Discount:      discount,
		Total:         subtotal.Sub(discount),
		Currency:      currency,
		Tickets:       tickets,
	}
	if promo != nil {
		o.PromoCode = promo.Code
	}
	if err := s.orders.Create(ctx, o); err != nil {
		if promo != nil {
			_ = s.promos.Unclaim(ctx, promo.ID)
		}
		return nil, err
	}
	if promo != nil {
		if err := s.promos.RecordUsage(ctx, promo.ID, o.ID, discount); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Get returns a client's order with its tickets.
func (s *OrderService) Get(ctx context.Context, clientID, orderID uint64) (*model.Order, error) {
	return s.orders.GetForClient(ctx, clientID, orderID)
}

// CheckIn marks a ticket as used at the venue door.  Only valid
// tickets can check in, and only once.
func (s *OrderService) CheckIn(ctx context.Context, clientID uint64, code string) (*model.Ticket, error) {
	return s.orders.CheckInTicket(ctx, clientID, code)
}
