package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
)

// TicketTypeRepo is the inventory ledger: it owns the quantity,
// quantity_sold and quantity_reserved counters and is the only writer
// of them.  Every mutation is a single conditional UPDATE so that the
// invariant quantity_sold + quantity_reserved <= quantity holds under
// concurrent callers without a global lock; read paths are not
// serialized with writes.
type TicketTypeRepo struct {
	db *sql.DB
}

// NewTicketTypeRepo returns a TicketTypeRepo bound to the given database.
func NewTicketTypeRepo(db *sql.DB) *TicketTypeRepo { return &TicketTypeRepo{db: db} }

// DB exposes the underlying handle for callers that need to open a
// transaction spanning multiple repositories.
func (r *TicketTypeRepo) DB() *sql.DB { return r.db }

const ticketTypeColumns = `id, marketplace_client_id, organizer_id, event_id, name,
       price, currency, quantity, quantity_sold, quantity_reserved, status,
       created_at, updated_at`

// Get loads a ticket type by ID.  Soft-deleted rows are treated as
// missing and return ErrNotFound.
func (r *TicketTypeRepo) Get(ctx context.Context, id uint64) (*model.TicketType, error) {
	q := `SELECT ` + ticketTypeColumns + `
	      FROM ticket_types
	      WHERE id = ? AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

// GetForClient is Get scoped to one marketplace client, used by the
// HTTP layer so a client can only see its own inventory.
func (r *TicketTypeRepo) GetForClient(ctx context.Context, clientID, id uint64) (*model.TicketType, error) {
	q := `SELECT ` + ticketTypeColumns + `
	      FROM ticket_types
	      WHERE id = ? AND marketplace_client_id = ? AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id, clientID))
}

func (r *TicketTypeRepo) scanOne(row *sql.Row) (*model.TicketType, error) {
	var tt model.TicketType
	var priceStr string
	var quantity sql.NullInt64
	err := row.Scan(&tt.ID, &tt.ClientID, &tt.OrganizerID, &tt.EventID, &tt.Name,
		&priceStr, &tt.Currency, &quantity, &tt.QuantitySold, &tt.QuantityReserved,
		&tt.Status, &tt.CreatedAt, &tt.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	tt.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parse ticket type price: %w", err)
	}
	if quantity.Valid {
		n := quantity.Int64
		tt.Quantity = &n
	}
	return &tt, nil
}

// Available returns the remaining capacity of a ticket type.  The
// value may lag slightly behind in-flight reservations; that is
// acceptable for display and only the write path needs atomicity.
func (r *TicketTypeRepo) Available(ctx context.Context, id uint64) (model.Capacity, error) {
	const q = `SELECT quantity, quantity_sold, quantity_reserved
	           FROM ticket_types
	           WHERE id = ? AND deleted_at IS NULL`
	var quantity sql.NullInt64
	var sold, reserved int64
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&quantity, &sold, &reserved); err != nil {
		if err == sql.ErrNoRows {
			return model.Capacity{}, ErrNotFound
		}
		return model.Capacity{}, err
	}
	var qty *int64
	if quantity.Valid {
		qty = &quantity.Int64
	}
	return model.CapacityOf(qty, sold, reserved), nil
}

// TryReserve increments quantity_reserved by n, but only when the
// remaining capacity covers n.  The availability check and the
// increment are one statement, so two carts racing for the last unit
// cannot both win.  Zero rows affected means either the capacity was
// exceeded or the row is missing; a follow-up existence check
// disambiguates the two.
func (r *TicketTypeRepo) TryReserve(ctx context.Context, id uint64, n int64) error {
	if n <= 0 {
		return fmt.Errorf("reserve quantity must be positive")
	}
	const q = `UPDATE ticket_types
	           SET quantity_reserved = quantity_reserved + ?, updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND deleted_at IS NULL AND status <> 'archived'
	             AND (quantity IS NULL OR quantity - quantity_sold - quantity_reserved >= ?)`
	res, err := r.db.ExecContext(ctx, q, n, id, n)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if err := r.exists(ctx, id); err != nil {
		return err
	}
	return ErrCapacityExceeded
}

// Release returns up to n reserved units to inventory.  The counter is
// floored at zero so a double release can never drive it negative.
func (r *TicketTypeRepo) Release(ctx context.Context, id uint64, n int64) error {
	if n <= 0 {
		return nil
	}
	const q = `UPDATE ticket_types
	           SET quantity_reserved = GREATEST(quantity_reserved - ?, 0), updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, n, id)
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, res, id)
}

// Confirm converts up to n reserved units into sold units.  When the
// conversion exhausts availability the ticket type flips to sold_out;
// the flip is itself conditional so concurrent confirms cannot race it
// into the wrong state.
func (r *TicketTypeRepo) Confirm(ctx context.Context, id uint64, n int64) error {
	if n <= 0 {
		return nil
	}
	const q = `UPDATE ticket_types
	           SET quantity_reserved = GREATEST(quantity_reserved - ?, 0),
	               quantity_sold = quantity_sold + ?,
	               updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, n, n, id)
	if err != nil {
		return err
	}
	if err := r.checkAffected(ctx, res, id); err != nil {
		return err
	}
	const flip = `UPDATE ticket_types
	              SET status = 'sold_out', updated_at = UTC_TIMESTAMP()
	              WHERE id = ? AND status = 'on_sale' AND quantity IS NOT NULL
	                AND quantity - quantity_sold - quantity_reserved <= 0`
	_, err = r.db.ExecContext(ctx, flip, id)
	return err
}

// RollbackSale undoes a confirmed sale of n units, e.g. on refund.
// When the rollback makes availability positive again a sold_out
// ticket type goes back on sale.
func (r *TicketTypeRepo) RollbackSale(ctx context.Context, id uint64, n int64) error {
	if n <= 0 {
		return nil
	}
	const q = `UPDATE ticket_types
	           SET quantity_sold = GREATEST(quantity_sold - ?, 0), updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, n, id)
	if err != nil {
		return err
	}
	if err := r.checkAffected(ctx, res, id); err != nil {
		return err
	}
	const flip = `UPDATE ticket_types
	              SET status = 'on_sale', updated_at = UTC_TIMESTAMP()
	              WHERE id = ? AND status = 'sold_out'
	                AND (quantity IS NULL OR quantity - quantity_sold - quantity_reserved > 0)`
	_, err = r.db.ExecContext(ctx, flip, id)
	return err
}

// checkAffected maps a zero-row UPDATE on a keyed row to ErrNotFound.
// MySQL reports zero affected rows for a no-op update of identical
// values, so the existence check runs only when nothing matched.
func (r *TicketTypeRepo) checkAffected(ctx context.Context, res sql.Result, id uint64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	return r.exists(ctx, id)
}

func (r *TicketTypeRepo) exists(ctx context.Context, id uint64) error {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM ticket_types WHERE id = ? AND deleted_at IS NULL`, id,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}
