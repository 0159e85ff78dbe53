// Package worker runs the background jobs of the server process.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/tixello/marketplace-core/internal/service"
)

// StartHoldSweeper schedules the expired-hold sweep on the given
// interval and returns the running scheduler so the caller can shut
// it down.  Each run expires at most batch holds; anything left over
// is picked up next tick or by lazy expiry on read.
func StartHoldSweeper(reservations *service.ReservationService, interval time.Duration, batch int) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			n, err := reservations.SweepExpired(ctx, time.Now().UTC(), batch)
			if err != nil {
				log.Printf("sweeper: expiring holds failed after %d: %v", n, err)
				return
			}
			if n > 0 {
				log.Printf("sweeper: expired %d holds", n)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	s.Start()
	log.Printf("sweeper: started (every %s, batch %d)", interval, batch)
	return s, nil
}
