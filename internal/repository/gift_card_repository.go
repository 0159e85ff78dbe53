package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
)

// GiftCardRepo maintains gift card balances and their append-only
// transaction log.  Every movement runs inside a transaction holding a
// row lock on the card, so the balance snapshot pair written to the
// log is exact and replaying the log reproduces the stored balance.
type GiftCardRepo struct {
	db *sql.DB
}

// NewGiftCardRepo returns a new GiftCardRepo bound to the provided database.
func NewGiftCardRepo(db *sql.DB) *GiftCardRepo { return &GiftCardRepo{db: db} }

// Issue creates a card with its opening purchase transaction.  The
// balance starts at the full issued amount; the purchase row records
// the 0 -> amount movement so the log replays from issuance.
func (r *GiftCardRepo) Issue(ctx context.Context, g *model.GiftCard) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var expires interface{}
	if g.ExpiresAt != nil {
		expires = g.ExpiresAt.UTC().Format("2006-01-02 15:04:05")
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO gift_cards (marketplace_client_id, code, pin_hash, initial_amount, balance,
		                         currency, status, expires_at)
		 VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?)`,
		g.ClientID, strings.ToUpper(g.Code), g.PINHash,
		g.InitialAmount.StringFixed(2), g.Balance.StringFixed(2),
		g.Currency, g.Status, expires,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	g.ID = uint64(id)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gift_card_transactions (gift_card_id, type, amount, balance_before, balance_after,
		                                     currency, reference, description)
		 VALUES (?, ?, ?, ?, ?, ?, '', 'gift card purchased')`,
		g.ID, model.TxPurchase, g.InitialAmount.StringFixed(2),
		decimal.Zero.StringFixed(2), g.InitialAmount.StringFixed(2), g.Currency,
	); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetByCode loads a card by its upper-cased code within one
// marketplace client.
func (r *GiftCardRepo) GetByCode(ctx context.Context, clientID uint64, code string) (*model.GiftCard, error) {
	const q = `SELECT id, marketplace_client_id, code, COALESCE(pin_hash, ''), initial_amount,
	                  balance, currency, status, expires_at, created_at
	           FROM gift_cards
	           WHERE marketplace_client_id = ? AND code = ?`
	return r.scanCard(r.db.QueryRowContext(ctx, q, clientID, strings.ToUpper(strings.TrimSpace(code))))
}

func (r *GiftCardRepo) scanCard(row *sql.Row) (*model.GiftCard, error) {
	var g model.GiftCard
	var initStr, balStr string
	var expires sql.NullTime
	err := row.Scan(&g.ID, &g.ClientID, &g.Code, &g.PINHash, &initStr, &balStr,
		&g.Currency, &g.Status, &expires, &g.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if g.InitialAmount, err = decimal.NewFromString(initStr); err != nil {
		return nil, fmt.Errorf("parse gift card initial amount: %w", err)
	}
	if g.Balance, err = decimal.NewFromString(balStr); err != nil {
		return nil, fmt.Errorf("parse gift card balance: %w", err)
	}
	if expires.Valid {
		t := expires.Time
		g.ExpiresAt = &t
	}
	return &g, nil
}

// Debit removes amount from the card's balance and appends a
// redemption transaction.  It fails with ErrInsufficientBalance,
// leaving the balance untouched, when the amount exceeds the current
// balance.  A card debited to zero flips to depleted.
func (r *GiftCardRepo) Debit(ctx context.Context, cardID uint64, amount decimal.Decimal, reference, description string) (*model.BalanceTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("debit amount must be positive")
	}
	return r.move(ctx, cardID, model.TxRedemption, amount.Neg(), reference, description)
}

// Credit adds amount back onto the card (e.g. an order refund).  The
// balance is capped at the original issuance; only the applied part is
// recorded in the transaction row.
func (r *GiftCardRepo) Credit(ctx context.Context, cardID uint64, amount decimal.Decimal, reference, description string) (*model.BalanceTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive")
	}
	return r.move(ctx, cardID, model.TxRefund, amount, reference, description)
}

func (r *GiftCardRepo) move(ctx context.Context, cardID uint64, txType string, amount decimal.Decimal, reference, description string) (*model.BalanceTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var balStr, initStr, currency, status string
	err = tx.QueryRowContext(ctx,
		`SELECT balance, initial_amount, currency, status FROM gift_cards WHERE id = ? FOR UPDATE`,
		cardID,
	).Scan(&balStr, &initStr, &currency, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	before, err := decimal.NewFromString(balStr)
	if err != nil {
		return nil, fmt.Errorf("parse gift card balance: %w", err)
	}
	initial, err := decimal.NewFromString(initStr)
	if err != nil {
		return nil, fmt.Errorf("parse gift card initial amount: %w", err)
	}

	applied := amount
	if amount.IsNegative() {
		if amount.Abs().GreaterThan(before) {
			return nil, ErrInsufficientBalance
		}
	} else if before.Add(amount).GreaterThan(initial) {
		applied = initial.Sub(before)
	}
	after := before.Add(applied)

	newStatus := status
	if after.IsZero() && status == model.GiftCardActive {
		newStatus = model.GiftCardDepleted
	} else if after.IsPositive() && status == model.GiftCardDepleted {
		newStatus = model.GiftCardActive
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE gift_cards SET balance = ?, status = ? WHERE id = ?`,
		after.StringFixed(2), newStatus, cardID,
	); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO gift_card_transactions (gift_card_id, type, amount, balance_before, balance_after,
		                                     currency, reference, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cardID, txType, applied.StringFixed(2), before.StringFixed(2), after.StringFixed(2),
		currency, reference, description,
	)
	if err != nil {
		return nil, err
	}
	txID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	return &model.BalanceTransaction{
		ID:            uint64(txID),
		EntityID:      cardID,
		Type:          txType,
		Amount:        applied,
		BalanceBefore: before,
		BalanceAfter:  after,
		Currency:      currency,
		Reference:     reference,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Transactions returns the card's ledger rows oldest first, so a
// caller can fold them and compare against the stored balance.
func (r *GiftCardRepo) Transactions(ctx context.Context, cardID uint64) ([]model.BalanceTransaction, error) {
	const q = `SELECT id, gift_card_id, type, amount, balance_before, balance_after,
	                  currency, reference, description, created_at
	           FROM gift_card_transactions
	           WHERE gift_card_id = ?
	           ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, q, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var txs []model.BalanceTransaction
	for rows.Next() {
		var t model.BalanceTransaction
		var amtStr, beforeStr, afterStr string
		if err := rows.Scan(&t.ID, &t.EntityID, &t.Type, &amtStr, &beforeStr, &afterStr,
			&t.Currency, &t.Reference, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amtStr); err != nil {
			return nil, fmt.Errorf("parse transaction amount: %w", err)
		}
		if t.BalanceBefore, err = decimal.NewFromString(beforeStr); err != nil {
			return nil, fmt.Errorf("parse transaction balance_before: %w", err)
		}
		if t.BalanceAfter, err = decimal.NewFromString(afterStr); err != nil {
			return nil, fmt.Errorf("parse transaction balance_after: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
