package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/tixello/marketplace-core/internal/model"
	"github.com/tixello/marketplace-core/internal/service"
)

// ReservationHandler exposes hold creation, release and availability
// reads.  Availability responses are cached briefly in Redis because
// storefronts poll them hard during on-sales; the cache client may be
// nil, in which case every read hits the database.
type ReservationHandler struct {
	Reservations *service.ReservationService
	Cache        *redis.Client
	CacheTTL     time.Duration
}

type holdItemPayload struct {
	TicketTypeID uint64 `json:"ticket_type_id"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	Currency     string `json:"currency"`
}

type holdPayload struct {
	Token     string            `json:"token"`
	Status    string            `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	ExpiresAt string            `json:"expires_at"`
	Items     []holdItemPayload `json:"items"`
}

func holdToPayload(h *model.Hold) holdPayload {
	p := holdPayload{
		Token:     h.Token,
		Status:    h.Status,
		Reason:    h.Reason,
		ExpiresAt: ts(h.ExpiresAt),
		Items:     make([]holdItemPayload, 0, len(h.Items)),
	}
	for _, it := range h.Items {
		p.Items = append(p.Items, holdItemPayload{
			TicketTypeID: it.TicketTypeID,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice.StringFixed(2),
			Currency:     it.Currency,
		})
	}
	return p
}

// CreateHold handles POST /v1/reservations.  The request carries the
// ticket type quantities to park; all lines reserve or none do.
func (h *ReservationHandler) CreateHold(c echo.Context) error {
	cid, err := clientID(c)
	if err != nil {
		return err
	}
	var body struct {
		Items []struct {
			TicketTypeID uint64 `json:"ticket_type_id"`
			Quantity     int64  `json:"quantity"`
		} `json:"items"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Items) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "items are required"})
	}
	lines := make([]service.HoldLine, 0, len(body.Items))
	for _, it := range body.Items {
		if it.TicketTypeID == 0 || it.Quantity <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "each item needs a ticket_type_id and a positive quantity"})
		}
		lines = append(lines, service.HoldLine{TicketTypeID: it.TicketTypeID, Quantity: it.Quantity})
	}

	hold, err := h.Reservations.CreateHold(c.Request().Context(), cid, lines)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, holdToPayload(hold))
}

// GetHold handles GET /v1/reservations/:token.  Overdue holds expire
// on read, so the response never claims inventory the sweep has not
// caught up with yet.
func (h *ReservationHandler) GetHold(c echo.Context) error {
	cid, err := clientID(c)
	if err != nil {
		return err
	}
	hold, err := h.Reservations.GetByToken(c.Request().Context(), cid, c.Param("token"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, holdToPayload(hold))
}

// ReleaseHold handles DELETE /v1/reservations/:token.  Releasing an
// already resolved hold succeeds without changing anything.
func (h *ReservationHandler) ReleaseHold(c echo.Context) error {
	cid, err := clientID(c)
	if err != nil {
		return err
	}
	reason := c.QueryParam("reason")
	if reason == "" {
		reason = "released by caller"
	}
	hold, err := h.Reservations.Release(c.Request().Context(), cid, c.Param("token"), reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, holdToPayload(hold))
}

type availabilityPayload struct {
	TicketTypeID uint64 `json:"ticket_type_id"`
	Unlimited    bool   `json:"unlimited"`
	Available    int64  `json:"available"`
}

// Availability handles GET /v1/ticket-types/:id/availability.  The
// figure is a point-in-time snapshot; holding it does not entitle
// anyone to the quantity.
func (h *ReservationHandler) Availability(c echo.Context) error {
	if _, err := clientID(c); err != nil {
		return err
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx := c.Request().Context()
	key := fmt.Sprintf("avail:%d", id)
	if h.Cache != nil {
		if raw, err := h.Cache.Get(ctx, key).Result(); err == nil {
			var cached availabilityPayload
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return c.JSON(http.StatusOK, cached)
			}
		}
	}

	avail, err := h.Reservations.Availability(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	payload := availabilityPayload{TicketTypeID: id, Unlimited: avail.Unbounded, Available: avail.N}
	if h.Cache != nil {
		if raw, err := json.Marshal(payload); err == nil {
			h.cacheSet(ctx, key, raw)
		}
	}
	return c.JSON(http.StatusOK, payload)
}

func (h *ReservationHandler) cacheSet(ctx context.Context, key string, raw []byte) {
	ttl := h.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	_ = h.Cache.Set(ctx, key, raw, ttl).Err()
}
