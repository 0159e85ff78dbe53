package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tixello/marketplace-core/internal/model"
	"github.com/tixello/marketplace-core/internal/service"
)

// OrderHandler exposes order creation, settlement and reads, plus
// ticket check-in.
type OrderHandler struct {
	Orders     *service.OrderService
	Settlement *service.SettlementService
}

type ticketPayload struct {
	ID           uint64  `json:"id"`
	TicketTypeID uint64  `json:"ticket_type_id"`
	Code         string  `json:"code"`
	Status       string  `json:"status"`
	Price        string  `json:"price"`
	Currency     string  `json:"currency"`
	CheckedInAt  *string `json:"checked_in_at,omitempty"`
}

type orderPayload struct {
	ID            uint64          `json:"id"`
	PublicCode    string          `json:"public_code"`
	CustomerEmail string          `json:"customer_email"`
	Status        string          `json:"status"`
	Subtotal      string          `json:"subtotal"`
	Discount      string          `json:"discount"`
	Total         string          `json:"total"`
	Currency      string          `json:"currency"`
	PromoCode     string          `json:"promo_code,omitempty"`
	PaymentRef    string          `json:"payment_ref,omitempty"`
	CreatedAt     string          `json:"created_at"`
	PaidAt        *string         `json:"paid_at,omitempty"`
	CancelledAt   *string         `json:"cancelled_at,omitempty"`
	Tickets       []ticketPayload `json:"tickets"`
}

func orderToPayload(o *model.Order) orderPayload {
	p := orderPayload{
		ID:            o.ID,
		PublicCode:    o.PublicCode,
		CustomerEmail: o.CustomerEmail,
		Status:        o.Status,
		Subtotal:      o.Subtotal.StringFixed(2),
		Discount:      o.Discount.StringFixed(2),
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
		PromoCode:     o.PromoCode,
		PaymentRef:    o.PaymentRef,
		CreatedAt:     ts(o.CreatedAt),
		PaidAt:        tsPtr(o.PaidAt),
		CancelledAt:   tsPtr(o.CancelledAt),
		Tickets:       make([]ticketPayload, 0, len(o.Tickets)),
	}
	for _, t := range o.Tickets {
		p.Tickets = append(p.Tickets, ticketToPayload(&t))
	}
	return p
}

func ticketToPayload(t *model.Ticket) ticketPayload {
	return ticketPayload{
		ID:           t.ID,
		TicketTypeID: t.TicketTypeID,
		Code:         t.Code,
		Status:       t.Status,
		Price:        t.Price.StringFixed(2),
		Currency:     t.Currency,
		CheckedInAt:  tsPtr(t.CheckedInAt),
	}
}

// Create handles POST /v1/orders.  The order is built on an active
// hold; it starts pending and settles later through /settle.
func (h *OrderHandler) Create(c echo.Context) error {
	cid, err := clientID(c)
	if err != nil {
		return err
	}
	var body struct {
		HoldToken     string `json:"hold_token"`
		CustomerEmail string `json:"customer_email"`
		PromoCode     string `json:"promo_code"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(body.HoldToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "hold_token is required"})
	}
	if strings.TrimSpace(body.CustomerEmail) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "customer_email is required"})
	}
	o, err := h.Orders.Create(c.Request().Context(), cid, service.CreateOrderInput{
		HoldToken:     strings.TrimSpace(body.HoldToken),
		CustomerEmail: strings.TrimSpace(body.CustomerEmail),
		PromoCode:     strings.TrimSpace(body.PromoCode),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, orderToPayload(o))
}

// Get handles GET /v1/orders/:id.
func (h *OrderHandler) Get(c echo.Context) error {
	cid, err := clientID(c)
	if err != nil {
		return err
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	o, err := h.Orders.Get(c.Request().Context(), cid, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, orderToPayload(o))
}

// Settle handles POST /v1/orders/:id/settle.  Payment webhooks land
// here; redelivering the same status is harmless.
func (h *OrderHandler) Settle(c echo.Context) error {
	cid, err := clientID(c)
	if err != nil {
		return err
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var body struct {
		Status     string `json:"status"`
		PaymentRef string `json:"payment_ref"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	target := strings.ToLower(strings.TrimSpace(body.Status))
	if target == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status is required"})
	}
	o, err := h.Settlement.Settle(c.Request().Context(), cid, id, target, strings.TrimSpace(body.PaymentRef))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, orderToPayload(o))
}

// CheckIn handles POST /v1/tickets/:code/check-in.
func (h *OrderHandler) CheckIn(c echo.Context) error {
	cid, err := clientID(c)
	if err != nil {
		return err
	}
	t, err := h.Orders.CheckIn(c.Request().Context(), cid, c.Param("code"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, ticketToPayload(t))
}
