package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
	"github.com/tixello/marketplace-core/internal/service"
)

// GiftCardHandler exposes gift card issuance, redemption and lookup.
type GiftCardHandler struct {
	Cards *service.GiftCardService
}

type giftCardPayload struct {
	Code          string  `json:"code"`
	InitialAmount string  `json:"initial_amount"`
	Balance       string  `json:"balance"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	ExpiresAt     *string `json:"expires_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func giftCardToPayload(g *model.GiftCard) giftCardPayload {
	return giftCardPayload{
		Code:          g.Code,
		InitialAmount: g.InitialAmount.StringFixed(2),
		Balance:       g.Balance.StringFixed(2),
		Currency:      g.Currency,
		Status:        g.Status,
		ExpiresAt:     tsPtr(g.ExpiresAt),
		CreatedAt:     ts(g.CreatedAt),
	}
}

// Issue handles POST /v1/gift-cards.  The generated code comes back in
// the response; the PIN, if any, is the caller's to deliver.
func (h *GiftCardHandler) Issue(c echo.Context) error {
	cid, err := clientID(c)
	if err != nil {
		return err
	}
	var body struct {
		Amount    string `json:"amount"`
		Currency  string `json:"currency"`
		PIN       string `json:"pin"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(body.Amount))
	if err != nil || !amount.IsPositive() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount must be a positive decimal"})
	}
	currency := strings.ToUpper(strings.TrimSpace(body.Currency))
	if currency == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "currency is required"})
	}
	var expiresAt *time.Time
	if body.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, body.ExpiresAt)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "expires_at must be RFC 3339"})
		}
		tu := t.UTC()
		expiresAt = &tu
	}
	g, err := h.Cards.Issue(c.Request().Context(), cid, amount, currency, body.PIN, expiresAt)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, giftCardToPayload(g))
}

// Redeem handles POST /v1/gift-cards/redeem.  The response reports the
// amount actually applied, which can be less than requested when the
// card runs dry.
func (h *GiftCardHandler) Redeem(c echo.Context) error {
	cid, err := clientID(c)
	if err != nil {
		return err
	}
	var body struct {
		Code      string `json:"code"`
		PIN       string `json:"pin"`
		Amount    string `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(body.Code) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code is required"})
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(body.Amount))
	if err != nil || !amount.IsPositive() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount must be a positive decimal"})
	}
	tx, err := h.Cards.Redeem(c.Request().Context(), cid, strings.TrimSpace(body.Code), body.PIN, amount, strings.TrimSpace(body.Reference))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"applied":     tx.Amount.Neg().StringFixed(2),
		"transaction": transactionToPayload(tx, false),
	})
}

// Get handles GET /v1/gift-cards/:code, returning the card and its
// full transaction log.
func (h *GiftCardHandler) Get(c echo.Context) error {
	cid, err := clientID(c)
	if err != nil {
		return err
	}
	g, txs, err := h.Cards.Get(c.Request().Context(), cid, c.Param("code"))
	if err != nil {
		return fail(c, err)
	}
	items := make([]transactionPayload, 0, len(txs))
	for i := range txs {
		items = append(items, transactionToPayload(&txs[i], false))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"card":         giftCardToPayload(g),
		"transactions": items,
	})
}
