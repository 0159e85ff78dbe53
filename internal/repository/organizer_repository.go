package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
)

var hundred = decimal.NewFromInt(100)

// OrganizerRepo maintains the organizer payout ledger: the
// available/pending balance buckets and their append-only transaction
// log.  Like the gift card ledger, every movement locks the organizer
// row so the balance_before/balance_after snapshots are exact.
// Commission is a percentage of the gross order amount, rounded
// half-up to two decimals; the currency is carried on every row and
// never converted here.
type OrganizerRepo struct {
	db *sql.DB
}

// NewOrganizerRepo returns a new OrganizerRepo bound to the provided database.
func NewOrganizerRepo(db *sql.DB) *OrganizerRepo { return &OrganizerRepo{db: db} }

// Get loads an organizer with both balance buckets.
func (r *OrganizerRepo) Get(ctx context.Context, id uint64) (*model.Organizer, error) {
	const q = `SELECT id, marketplace_client_id, name, commission_rate,
	                  available_balance, pending_balance, currency, created_at
	           FROM organizers WHERE id = ?`
	var o model.Organizer
	var rateStr, availStr, pendStr string
	err := r.db.QueryRowContext(ctx, q, id).Scan(&o.ID, &o.ClientID, &o.Name,
		&rateStr, &availStr, &pendStr, &o.Currency, &o.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if o.CommissionRate, err = decimal.NewFromString(rateStr); err != nil {
		return nil, fmt.Errorf("parse commission rate: %w", err)
	}
	if o.AvailableBalance, err = decimal.NewFromString(availStr); err != nil {
		return nil, fmt.Errorf("parse available balance: %w", err)
	}
	if o.PendingBalance, err = decimal.NewFromString(pendStr); err != nil {
		return nil, fmt.Errorf("parse pending balance: %w", err)
	}
	return &o, nil
}

// RecordSale credits the organizer's available balance with the net of
// a settled order (gross minus commission at the organizer's rate) and
// appends a sale transaction carrying the gross and commission parts.
func (r *OrganizerRepo) RecordSale(ctx context.Context, organizerID uint64, gross decimal.Decimal, reference string) (*model.BalanceTransaction, error) {
	if !gross.IsPositive() {
		return nil, fmt.Errorf("sale gross must be positive")
	}
	return r.withLock(ctx, organizerID, func(o *lockedOrganizer) (*pendingMove, error) {
		commission := gross.Mul(o.commissionRate).Div(hundred).Round(2)
		net := gross.Sub(commission)
		return &pendingMove{
			txType:      model.TxSale,
			amount:      net,
			available:   o.available.Add(net),
			pending:     o.pending,
			gross:       gross,
			commission:  commission,
			reference:   reference,
			description: "order sale",
		}, nil
	})
}

// RecordRefund claws the net of a refunded order back out of the
// available balance and returns the commission.  The amount is the
// negation of the matching sale row, so a sale/refund pair nets to
// zero in the log.  Refunds may drive the available balance negative;
// that debt is settled against future sales.
func (r *OrganizerRepo) RecordRefund(ctx context.Context, organizerID uint64, gross decimal.Decimal, reference string) (*model.BalanceTransaction, error) {
	if !gross.IsPositive() {
		return nil, fmt.Errorf("refund gross must be positive")
	}
	return r.withLock(ctx, organizerID, func(o *lockedOrganizer) (*pendingMove, error) {
		commission := gross.Mul(o.commissionRate).Div(hundred).Round(2)
		net := gross.Sub(commission)
		return &pendingMove{
			txType:      model.TxRefund,
			amount:      net.Neg(),
			available:   o.available.Sub(net),
			pending:     o.pending,
			gross:       gross.Neg(),
			commission:  commission.Neg(),
			reference:   reference,
			description: "order refund",
		}, nil
	})
}

// ReserveForPayout moves amount from available to pending ahead of a
// payout execution.  Fails with ErrInsufficientBalance when available
// does not cover the amount.
func (r *OrganizerRepo) ReserveForPayout(ctx context.Context, organizerID uint64, amount decimal.Decimal, reference string) (*model.BalanceTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("payout amount must be positive")
	}
	return r.withLock(ctx, organizerID, func(o *lockedOrganizer) (*pendingMove, error) {
		if o.available.LessThan(amount) {
			return nil, ErrInsufficientBalance
		}
		return &pendingMove{
			txType:      model.TxPayoutReserve,
			amount:      amount.Neg(),
			available:   o.available.Sub(amount),
			pending:     o.pending.Add(amount),
			reference:   reference,
			description: "payout reserved",
		}, nil
	})
}

// ReturnReserved moves a failed or cancelled payout's amount back from
// pending to available.  The movement is clamped to the pending
// balance so a double return cannot mint money.
func (r *OrganizerRepo) ReturnReserved(ctx context.Context, organizerID uint64, amount decimal.Decimal, reference string) (*model.BalanceTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("payout amount must be positive")
	}
	return r.withLock(ctx, organizerID, func(o *lockedOrganizer) (*pendingMove, error) {
		applied := amount
		if o.pending.LessThan(applied) {
			applied = o.pending
		}
		return &pendingMove{
			txType:      model.TxPayoutReturn,
			amount:      applied,
			available:   o.available.Add(applied),
			pending:     o.pending.Sub(applied),
			reference:   reference,
			description: "payout returned",
		}, nil
	})
}

type lockedOrganizer struct {
	commissionRate decimal.Decimal
	available      decimal.Decimal
	pending        decimal.Decimal
	currency       string
}

type pendingMove struct {
	txType      string
	amount      decimal.Decimal
	available   decimal.Decimal
	pending     decimal.Decimal
	gross       decimal.Decimal
	commission  decimal.Decimal
	reference   string
	description string
}

// withLock runs fn with the organizer row locked, applies the move it
// returns, and appends the transaction row recording the available
// balance snapshots.  The amount recorded is the signed movement of
// the available bucket, so the log still replays to the stored
// available balance across payout reserve/return pairs.
func (r *OrganizerRepo) withLock(ctx context.Context, organizerID uint64, fn func(*lockedOrganizer) (*pendingMove, error)) (*model.BalanceTransaction, error) {
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

	var o lockedOrganizer
	var rateStr, availStr, pendStr string
	err = tx.QueryRowContext(ctx,
		`SELECT commission_rate, available_balance, pending_balance, currency
		 FROM organizers WHERE id = ? FOR UPDATE`,
		organizerID,
	).Scan(&rateStr, &availStr, &pendStr, &o.currency)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if o.commissionRate, err = decimal.NewFromString(rateStr); err != nil {
		return nil, fmt.Errorf("parse commission rate: %w", err)
	}
	if o.available, err = decimal.NewFromString(availStr); err != nil {
		return nil, fmt.Errorf("parse available balance: %w", err)
	}
	if o.pending, err = decimal.NewFromString(pendStr); err != nil {
		return nil, fmt.Errorf("parse pending balance: %w", err)
	}

	move, err := fn(&o)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE organizers SET available_balance = ?, pending_balance = ? WHERE id = ?`,
		move.available.StringFixed(2), move.pending.StringFixed(2), organizerID,
	); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO organizer_transactions (organizer_id, type, amount, balance_before, balance_after,
		                                     currency, gross, commission, reference, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		organizerID, move.txType, move.amount.StringFixed(2),
		o.available.StringFixed(2), move.available.StringFixed(2), o.currency,
		move.gross.StringFixed(2), move.commission.StringFixed(2),
		move.reference, move.description,
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
		EntityID:      organizerID,
		Type:          move.txType,
		Amount:        move.amount,
		BalanceBefore: o.available,
		BalanceAfter:  move.available,
		Currency:      o.currency,
		Gross:         move.gross,
		Commission:    move.commission,
		Reference:     move.reference,
		Description:   move.description,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Transactions returns the organizer's ledger rows oldest first.
func (r *OrganizerRepo) Transactions(ctx context.Context, organizerID uint64) ([]model.BalanceTransaction, error) {
	const q = `SELECT id, organizer_id, type, amount, balance_before, balance_after,
	                  currency, gross, commission, reference, description, created_at
	           FROM organizer_transactions
	           WHERE organizer_id = ?
	           ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, q, organizerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var txs []model.BalanceTransaction
	for rows.Next() {
		var t model.BalanceTransaction
		var amtStr, beforeStr, afterStr, grossStr, commStr string
		if err := rows.Scan(&t.ID, &t.EntityID, &t.Type, &amtStr, &beforeStr, &afterStr,
			&t.Currency, &grossStr, &commStr, &t.Reference, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		var perr error
		if t.Amount, perr = decimal.NewFromString(amtStr); perr != nil {
			return nil, fmt.Errorf("parse transaction amount: %w", perr)
		}
		if t.BalanceBefore, perr = decimal.NewFromString(beforeStr); perr != nil {
			return nil, fmt.Errorf("parse transaction balance_before: %w", perr)
		}
		if t.BalanceAfter, perr = decimal.NewFromString(afterStr); perr != nil {
			return nil, fmt.Errorf("parse transaction balance_after: %w", perr)
		}
		if t.Gross, perr = decimal.NewFromString(grossStr); perr != nil {
			return nil, fmt.Errorf("parse transaction gross: %w", perr)
		}
		if t.Commission, perr = decimal.NewFromString(commStr); perr != nil {
			return nil, fmt.Errorf("parse transaction commission: %w", perr)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
