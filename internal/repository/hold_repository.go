package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
)

// HoldRepo provides data access to the holds and hold_items tables.
// A hold and its items are written atomically; status changes go
// through a compare-and-set so concurrent confirm/release/sweep calls
// on the same hold resolve to exactly one winner.  All timestamps are
// UTC.
type HoldRepo struct {
	db *sql.DB
}

// NewHoldRepo returns a new HoldRepo bound to the provided database.
func NewHoldRepo(db *sql.DB) *HoldRepo { return &HoldRepo{db: db} }

// Create inserts the hold and its items in one transaction and
// populates the generated IDs on the passed model.
func (r *HoldRepo) Create(ctx context.Context, h *model.Hold) error {
	if len(h.Items) == 0 {
		return fmt.Errorf("hold requires at least one item")
	}
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

	res, err := tx.ExecContext(ctx,
		`INSERT INTO holds (marketplace_client_id, token, status, expires_at)
		 VALUES (?, ?, ?, ?)`,
		h.ClientID, h.Token, h.Status, h.ExpiresAt.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	h.ID = uint64(id)

	query := `INSERT INTO hold_items (hold_id, ticket_type_id, quantity, unit_price, currency) VALUES `
	args := make([]interface{}, 0, len(h.Items)*5)
	for i := range h.Items {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		h.Items[i].HoldID = h.ID
		args = append(args, h.ID, h.Items[i].TicketTypeID, h.Items[i].Quantity,
			h.Items[i].UnitPrice.StringFixed(2), h.Items[i].Currency)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetByID loads a hold and its items.
func (r *HoldRepo) GetByID(ctx context.Context, id uint64) (*model.Hold, error) {
	return r.get(ctx, `WHERE id = ?`, id)
}

// GetByToken loads a hold by its opaque token, scoped to the client
// the token was issued to.
func (r *HoldRepo) GetByToken(ctx context.Context, clientID uint64, token string) (*model.Hold, error) {
	return r.get(ctx, `WHERE marketplace_client_id = ? AND token = ?`, clientID, token)
}

func (r *HoldRepo) get(ctx context.Context, where string, args ...interface{}) (*model.Hold, error) {
	q := `SELECT id, marketplace_client_id, token, status, released_reason, expires_at, created_at
	      FROM holds ` + where
	var h model.Hold
	var reason sql.NullString
	err := r.db.QueryRowContext(ctx, q, args...).Scan(
		&h.ID, &h.ClientID, &h.Token, &h.Status, &reason, &h.ExpiresAt, &h.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if reason.Valid {
		h.Reason = reason.String
	}
	items, err := r.loadItems(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	h.Items = items
	return &h, nil
}

func (r *HoldRepo) loadItems(ctx context.Context, holdID uint64) ([]model.HoldItem, error) {
	const q = `SELECT id, hold_id, ticket_type_id, quantity, unit_price, currency
	           FROM hold_items WHERE hold_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, holdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.HoldItem
	for rows.Next() {
		var it model.HoldItem
		var priceStr string
		if err := rows.Scan(&it.ID, &it.HoldID, &it.TicketTypeID, &it.Quantity, &priceStr, &it.Currency); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse hold item price: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// TransitionStatus moves a hold from one status to another and reports
// whether this call won the transition.  False with a nil error means
// another caller got there first (or the hold was never in `from`);
// the caller re-reads and decides whether the result is an idempotent
// no-op or a conflict.
func (r *HoldRepo) TransitionStatus(ctx context.Context, id uint64, from, to, reason string) (bool, error) {
	const q = `UPDATE holds
	           SET status = ?, released_reason = NULLIF(?, '')
	           WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, to, reason, id, from)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListExpired returns up to limit HELD holds whose expiry has passed,
// items included.  The sweeper releases their inventory and marks them
// EXPIRED; a hold legitimately stays HELD slightly past its TTL until
// the next sweep cycle picks it up.
func (r *HoldRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Hold, error) {
	const q = `SELECT id, marketplace_client_id, token, status, released_reason, expires_at, created_at
	           FROM holds
	           WHERE status = ? AND expires_at <= ?
	           ORDER BY expires_at
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, model.HoldHeld, now.UTC().Format("2006-01-02 15:04:05"), limit)
	if err != nil {
		return nil, err
	}
	var holds []model.Hold
	for rows.Next() {
		var h model.Hold
		var reason sql.NullString
		if err := rows.Scan(&h.ID, &h.ClientID, &h.Token, &h.Status, &reason, &h.ExpiresAt, &h.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if reason.Valid {
			h.Reason = reason.String
		}
		holds = append(holds, h)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range holds {
		items, err := r.loadItems(ctx, holds[i].ID)
		if err != nil {
			return nil, err
		}
		holds[i].Items = items
	}
	return holds, nil
}
