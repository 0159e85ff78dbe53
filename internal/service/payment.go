package service

import (
	"context"
	"errors"
	"log"

	"github.com/shopspring/decimal"
)

// ErrPaymentFailed marks a gateway decline.  The order stays in its
// current status when settlement returns it.
var ErrPaymentFailed = errors.New("payment failed")

// PaymentGateway abstracts the external payment provider.  Charge and
// Refund block the settlement transition they belong to: a failed
// charge keeps the order pending, a failed refund keeps it in its
// current success status.
type PaymentGateway interface {
	Charge(ctx context.Context, reference string, amount decimal.Decimal, currency string) error
	Refund(ctx context.Context, reference string, amount decimal.Decimal, currency string) error
}

// LogGateway is the default gateway used when no provider is
// configured.  It approves everything and logs the movement, which is
// what local development and the test environment want.
type LogGateway struct{}

func (LogGateway) Charge(_ context.Context, reference string, amount decimal.Decimal, currency string) error {
	log.Printf("[payment] charge ref=%s amount=%s %s", reference, amount.StringFixed(2), currency)
	return nil
}

func (LogGateway) Refund(_ context.Context, reference string, amount decimal.Decimal, currency string) error {
	log.Printf("[payment] refund ref=%s amount=%s %s", reference, amount.StringFixed(2), currency)
	return nil
}
