package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
)

// PromoCodeRepo handles promo code lookup and consumption.  The use
// counter is advanced with a single conditional UPDATE so the max_uses
// cap holds under concurrent checkouts without a row lock.  Claiming a
// use and recording which order got it are separate steps: the claim
// happens before the order row exists.
type PromoCodeRepo struct {
	db *sql.DB
}

// NewPromoCodeRepo returns a new PromoCodeRepo bound to the provided database.
func NewPromoCodeRepo(db *sql.DB) *PromoCodeRepo { return &PromoCodeRepo{db: db} }

// GetByCode loads a promo code by its client-scoped code.  Codes are
// stored upper-case; lookup is case-insensitive.
func (r *PromoCodeRepo) GetByCode(ctx context.Context, clientID uint64, code string) (*model.PromoCode, error) {
	const q = `SELECT id, marketplace_client_id, code, percent, max_uses,
	                  used_count, active, expires_at, created_at
	           FROM promo_codes
	           WHERE marketplace_client_id = ? AND code = ?`
	var p model.PromoCode
	var percentStr string
	err := r.db.QueryRowContext(ctx, q, clientID, strings.ToUpper(code)).Scan(
		&p.ID, &p.ClientID, &p.Code, &percentStr, &p.MaxUses,
		&p.UsedCount, &p.Active, &p.ExpiresAt, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if p.Percent, err = decimal.NewFromString(percentStr); err != nil {
		return nil, fmt.Errorf("parse promo percent: %w", err)
	}
	return &p, nil
}

// Claim takes one use of the promo code.  Returns
// ErrPromoNotAvailable when the code is inactive, expired, or its use
// cap has been reached; the conditional increment decides the winner
// between racing orders.
func (r *PromoCodeRepo) Claim(ctx context.Context, promoID uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE promo_codes
		 SET used_count = used_count + 1
		 WHERE id = ?
		   AND active = 1
		   AND (expires_at IS NULL OR expires_at > UTC_TIMESTAMP())
		   AND (max_uses IS NULL OR used_count < max_uses)`,
		promoID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPromoNotAvailable
	}
	return nil
}

// Unclaim gives back one use that was claimed but never attached to an
// order, or whose order was cancelled before settlement.  The counter
// never drops below zero.
func (r *PromoCodeRepo) Unclaim(ctx context.Context, promoID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE promo_codes SET used_count = GREATEST(used_count - 1, 0) WHERE id = ?`,
		promoID,
	)
	return err
}

// RecordUsage attaches a claimed use to the order that spent it.
func (r *PromoCodeRepo) RecordUsage(ctx context.Context, promoID, orderID uint64, discount decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO promo_code_usages (promo_code_id, order_id, discount) VALUES (?, ?, ?)`,
		promoID, orderID, discount.StringFixed(2),
	)
	return err
}

// DropUsage removes the usage row paired with an Unclaim when the
// order is cancelled.
func (r *PromoCodeRepo) DropUsage(ctx context.Context, promoID, orderID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM promo_code_usages WHERE promo_code_id = ? AND order_id = ?`,
		promoID, orderID,
	)
	return err
}
