// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/tixello/marketplace-core/internal/config"
	"github.com/tixello/marketplace-core/internal/handler"
	"github.com/tixello/marketplace-core/internal/middleware"
)

// Handlers bundles everything the route table needs.
type Handlers struct {
	Reservations *handler.ReservationHandler
	Orders       *handler.OrderHandler
	GiftCards    *handler.GiftCardHandler
	Payouts      *handler.PayoutHandler
}

// Register wires the health check and the authenticated /v1 API onto
// the provided Echo instance.  Every data-touching route sits behind
// the client token middleware and the Redis token bucket; the health
// check stays open for load balancers.
func Register(e *echo.Echo, h Handlers, jwtSecret string, rlCfg config.RateLimitConfig, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)

	v1 := e.Group("/v1")
	v1.Use(middleware.ClientAuth(jwtSecret))
	v1.Use(middleware.NewTokenBucket(rlCfg, rdb))

	// Admission control: holds and availability.
	v1.POST("/reservations", h.Reservations.CreateHold)
	v1.GET("/reservations/:token", h.Reservations.GetHold)
	v1.DELETE("/reservations/:token", h.Reservations.ReleaseHold)
	v1.GET("/ticket-types/:id/availability", h.Reservations.Availability)

	// Orders and settlement.
	v1.POST("/orders", h.Orders.Create)
	v1.GET("/orders/:id", h.Orders.Get)
	v1.POST("/orders/:id/settle", h.Orders.Settle)
	v1.POST("/tickets/:code/check-in", h.Orders.CheckIn)

	// Gift cards.
	v1.POST("/gift-cards", h.GiftCards.Issue)
	v1.POST("/gift-cards/redeem", h.GiftCards.Redeem)
	v1.GET("/gift-cards/:code", h.GiftCards.Get)

	// Organizer balances and payouts.
	v1.GET("/organizers/:id/balance", h.Payouts.Balance)
	v1.GET("/organizers/:id/transactions", h.Payouts.Transactions)
	v1.POST("/organizers/:id/payouts/reserve", h.Payouts.ReservePayout)
	v1.POST("/organizers/:id/payouts/return", h.Payouts.ReturnPayout)
}
