package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
	"github.com/tixello/marketplace-core/internal/repository"
)

// PayoutHandler exposes the organizer balance endpoints.  Reserving
// moves money from available to pending ahead of a payout execution;
// returning moves it back when the payout fails or is cancelled.
type PayoutHandler struct {
	Organizers *repository.OrganizerRepo
}

// organizer loads the organizer from the path id and enforces client
// ownership.  Organizers of other clients read as not found.
func (h *PayoutHandler) organizer(c echo.Context) (*model.Organizer, error) {
	cid, err := clientID(c)
	if err != nil {
		return nil, err
	}
	id, perr := strconv.ParseUint(c.Param("id"), 10, 64)
	if perr != nil {
		return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	o, gerr := h.Organizers.Get(c.Request().Context(), id)
	if gerr != nil {
		return nil, fail(c, gerr)
	}
	if o.ClientID != cid {
		return nil, c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	return o, nil
}

func bindAmount(c echo.Context) (decimal.Decimal, string, error) {
	var body struct {
		Amount    string `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := c.Bind(&body); err != nil {
		return decimal.Zero, "", c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(body.Amount))
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, "", c.JSON(http.StatusBadRequest, echo.Map{"error": "amount must be a positive decimal"})
	}
	return amount, strings.TrimSpace(body.Reference), nil
}

// Balance handles GET /v1/organizers/:id/balance.
func (h *PayoutHandler) Balance(c echo.Context) error {
	o, err := h.organizer(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"organizer_id":      o.ID,
		"name":              o.Name,
		"commission_rate":   o.CommissionRate.StringFixed(2),
		"available_balance": o.AvailableBalance.StringFixed(2),
		"pending_balance":   o.PendingBalance.StringFixed(2),
		"currency":          o.Currency,
	})
}

// ReservePayout handles POST /v1/organizers/:id/payouts/reserve.
func (h *PayoutHandler) ReservePayout(c echo.Context) error {
	o, err := h.organizer(c)
	if err != nil {
		return err
	}
	amount, reference, err := bindAmount(c)
	if err != nil {
		return err
	}
	tx, err := h.Organizers.ReserveForPayout(c.Request().Context(), o.ID, amount, reference)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, transactionToPayload(tx, false))
}

// ReturnPayout handles POST /v1/organizers/:id/payouts/return.
func (h *PayoutHandler) ReturnPayout(c echo.Context) error {
	o, err := h.organizer(c)
	if err != nil {
		return err
	}
	amount, reference, err := bindAmount(c)
	if err != nil {
		return err
	}
	tx, err := h.Organizers.ReturnReserved(c.Request().Context(), o.ID, amount, reference)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, transactionToPayload(tx, false))
}

// Transactions handles GET /v1/organizers/:id/transactions, the
// replayable ledger of sales, refunds and payout movements.
func (h *PayoutHandler) Transactions(c echo.Context) error {
	o, err := h.organizer(c)
	if err != nil {
		return err
	}
	txs, err := h.Organizers.Transactions(c.Request().Context(), o.ID)
	if err != nil {
		return fail(c, err)
	}
	items := make([]transactionPayload, 0, len(txs))
	for i := range txs {
		items = append(items, transactionToPayload(&txs[i], true))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
