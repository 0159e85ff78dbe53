// Package handler contains the HTTP handlers for the marketplace API.
// Handlers bind and validate requests, delegate to the services, and
// translate the repository sentinel errors into HTTP statuses.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tixello/marketplace-core/internal/middleware"
	"github.com/tixello/marketplace-core/internal/model"
	"github.com/tixello/marketplace-core/internal/repository"
	"github.com/tixello/marketplace-core/internal/service"
)

// clientID pulls the authenticated client id from the context, failing
// the request with 401 when it is absent.
func clientID(c echo.Context) (uint64, error) {
	id := middleware.ClientID(c)
	if id == 0 {
		return 0, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return id, nil
}

// fail maps service and repository errors onto HTTP responses.  Sold
// out and lost transitions are conflicts, money shortfalls are
// unprocessable, everything unrecognized is a 500 with a generic body.
func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, repository.ErrCapacityExceeded):
		return c.JSON(http.StatusConflict, echo.Map{"error": "insufficient availability"})
	case errors.Is(err, repository.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrInsufficientBalance):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "insufficient balance"})
	case errors.Is(err, repository.ErrGiftCardNotUsable):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "gift card not usable"})
	case errors.Is(err, repository.ErrPromoNotAvailable):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "promo code not available"})
	case errors.Is(err, service.ErrPaymentFailed):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "payment failed"})
	default:
		c.Logger().Errorf("internal error: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// transactionPayload is the wire shape of one balance ledger row,
// shared by the gift card and payout endpoints.
type transactionPayload struct {
	ID            uint64 `json:"id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	BalanceBefore string `json:"balance_before"`
	BalanceAfter  string `json:"balance_after"`
	Currency      string `json:"currency"`
	Gross         string `json:"gross,omitempty"`
	Commission    string `json:"commission,omitempty"`
	Reference     string `json:"reference,omitempty"`
	Description   string `json:"description,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func transactionToPayload(t *model.BalanceTransaction, withCommission bool) transactionPayload {
	p := transactionPayload{
		ID:            t.ID,
		Type:          t.Type,
		Amount:        t.Amount.StringFixed(2),
		BalanceBefore: t.BalanceBefore.StringFixed(2),
		BalanceAfter:  t.BalanceAfter.StringFixed(2),
		Currency:      t.Currency,
		Reference:     t.Reference,
		Description:   t.Description,
		CreatedAt:     ts(t.CreatedAt),
	}
	if withCommission {
		p.Gross = t.Gross.StringFixed(2)
		p.Commission = t.Commission.StringFixed(2)
	}
	return p
}

// ts renders a time as RFC 3339 for API payloads; nil times render as
// null via the pointer.
func ts(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func tsPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := ts(*t)
	return &s
}
