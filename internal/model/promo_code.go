package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PromoCode grants a percentage discount on an order's subtotal.  A
// NULL MaxUses means unlimited redemptions; otherwise UsedCount is
// guarded by an atomic conditional increment so the cap holds under
// concurrent checkouts.
type PromoCode struct {
	ID          uint64          // promo_codes.id
	ClientID    uint64          // promo_codes.marketplace_client_id
	Code        string          // promo_codes.code (upper-case)
	Percent     decimal.Decimal // promo_codes.percent (0..100, 2 dp)
	MaxUses     *int64          // promo_codes.max_uses (NULL = unlimited)
	UsedCount   int64           // promo_codes.used_count
	Active      bool            // promo_codes.active
	ExpiresAt   *time.Time      // promo_codes.expires_at
	CreatedAt   time.Time       // promo_codes.created_at
}

// PromoCodeUsage records one redemption of a promo code on an order.
type PromoCodeUsage struct {
	ID          uint64          // promo_code_usages.id
	PromoCodeID uint64          // promo_code_usages.promo_code_id
	OrderID     uint64          // promo_code_usages.order_id
	Discount    decimal.Decimal // promo_code_usages.discount
	CreatedAt   time.Time       // promo_code_usages.created_at
}
