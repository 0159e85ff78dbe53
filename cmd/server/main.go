package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/tixello/marketplace-core/internal/config"
	"github.com/tixello/marketplace-core/internal/database"
	"github.com/tixello/marketplace-core/internal/handler"
	"github.com/tixello/marketplace-core/internal/queue"
	"github.com/tixello/marketplace-core/internal/repository"
	"github.com/tixello/marketplace-core/internal/router"
	"github.com/tixello/marketplace-core/internal/service"
	"github.com/tixello/marketplace-core/internal/worker"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load(".env")
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional: without it rate limiting and the availability
	// cache are disabled and everything still works off MySQL.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable: rate limiting and availability cache disabled")
	}

	ticketTypes := repository.NewTicketTypeRepo(db)
	holds := repository.NewHoldRepo(db)
	orders := repository.NewOrderRepo(db)
	giftCards := repository.NewGiftCardRepo(db)
	organizers := repository.NewOrganizerRepo(db)
	promos := repository.NewPromoCodeRepo(db)

	reservations := service.NewReservationService(ticketTypes, holds, cfg.HoldTTL)
	orderSvc := service.NewOrderService(orders, ticketTypes, reservations, promos)
	settlement := service.NewSettlementService(
		orders, holds, ticketTypes, reservations, organizers, promos,
		service.LogGateway{}, queue.PublishOrderEvent,
	)
	cards := service.NewGiftCardService(giftCards)

	sweeper, err := worker.StartHoldSweeper(reservations, cfg.SweepInterval, cfg.SweepBatch)
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	defer func() { _ = sweeper.Shutdown() }()

	// The notification consumer reconnects forever in the background.
	go func() {
		if err := queue.StartOrderConsumer(); err != nil {
			log.Printf("order consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	router.Register(e, router.Handlers{
		Reservations: &handler.ReservationHandler{
			Reservations: reservations,
			Cache:        rdb,
			CacheTTL:     cfg.AvailCacheTTL,
		},
		Orders:    &handler.OrderHandler{Orders: orderSvc, Settlement: settlement},
		GiftCards: &handler.GiftCardHandler{Cards: cards},
		Payouts:   &handler.PayoutHandler{Organizers: organizers},
	}, cfg.JWTSecret, config.LoadRateLimitConfig(), rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
