package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
)

// OrderRepo provides data access to orders and their tickets.  The
// order row is the sole owner of its tickets' lifecycle: an order
// status change and the matching ticket status change always happen in
// the same transaction, so ticket status stays derivable from order
// status on every path except check-in.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the provided database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// Create inserts the order and one ticket row per unit in one
// transaction.  Ticket codes must already be populated on the model.
func (r *OrderRepo) Create(ctx context.Context, o *model.Order) error {
	if len(o.Tickets) == 0 {
		return fmt.Errorf("order requires at least one ticket")
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
		`INSERT INTO orders (public_code, marketplace_client_id, organizer_id, customer_email,
		                     hold_id, status, subtotal, discount, total, currency, promo_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''))`,
		o.PublicCode, o.ClientID, o.OrganizerID, o.CustomerEmail, o.HoldID, o.Status,
		o.Subtotal.StringFixed(2), o.Discount.StringFixed(2), o.Total.StringFixed(2),
		o.Currency, o.PromoCode,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)

	query := `INSERT INTO tickets (order_id, ticket_type_id, code, status, price, currency) VALUES `
	args := make([]interface{}, 0, len(o.Tickets)*6)
	for i := range o.Tickets {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?)"
		o.Tickets[i].OrderID = o.ID
		args = append(args, o.ID, o.Tickets[i].TicketTypeID, o.Tickets[i].Code,
			o.Tickets[i].Status, o.Tickets[i].Price.StringFixed(2), o.Tickets[i].Currency)
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

const orderColumns = `id, public_code, marketplace_client_id, organizer_id, customer_email,
       hold_id, status, subtotal, discount, total, currency,
       COALESCE(promo_code, ''), COALESCE(payment_ref, ''),
       created_at, paid_at, cancelled_at`

// GetByID loads an order with its tickets.
func (r *OrderRepo) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	return r.get(ctx, `WHERE id = ?`, id)
}

// GetForClient is GetByID scoped to one marketplace client.
func (r *OrderRepo) GetForClient(ctx context.Context, clientID, id uint64) (*model.Order, error) {
	return r.get(ctx, `WHERE id = ? AND marketplace_client_id = ?`, id, clientID)
}

func (r *OrderRepo) get(ctx context.Context, where string, args ...interface{}) (*model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders ` + where
	var o model.Order
	var subStr, discStr, totalStr string
	var paidAt, cancelledAt sql.NullTime
	err := r.db.QueryRowContext(ctx, q, args...).Scan(
		&o.ID, &o.PublicCode, &o.ClientID, &o.OrganizerID, &o.CustomerEmail,
		&o.HoldID, &o.Status, &subStr, &discStr, &totalStr, &o.Currency,
		&o.PromoCode, &o.PaymentRef, &o.CreatedAt, &paidAt, &cancelledAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if o.Subtotal, err = decimal.NewFromString(subStr); err != nil {
		return nil, fmt.Errorf("parse order subtotal: %w", err)
	}
	if o.Discount, err = decimal.NewFromString(discStr); err != nil {
		return nil, fmt.Errorf("parse order discount: %w", err)
	}
	if o.Total, err = decimal.NewFromString(totalStr); err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		o.CancelledAt = &t
	}
	tickets, err := r.loadTickets(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Tickets = tickets
	return &o, nil
}

func (r *OrderRepo) loadTickets(ctx context.Context, orderID uint64) ([]model.Ticket, error) {
	const q = `SELECT id, order_id, ticket_type_id, code, status, price, currency, checked_in_at, created_at
	           FROM tickets WHERE order_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tickets []model.Ticket
	for rows.Next() {
		var t model.Ticket
		var priceStr string
		var checkedIn sql.NullTime
		if err := rows.Scan(&t.ID, &t.OrderID, &t.TicketTypeID, &t.Code, &t.Status,
			&priceStr, &t.Currency, &checkedIn, &t.CreatedAt); err != nil {
			return nil, err
		}
		if t.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse ticket price: %w", err)
		}
		if checkedIn.Valid {
			ts := checkedIn.Time
			t.CheckedInAt = &ts
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// ApplyTransition writes the order's new status, the matching ticket
// status for every ticket of the order, and the transition's side
// columns, all in one transaction.  Checked-in tickets keep their
// status on re-entry to pending but are cancelled like everything else
// on cancellation or refund.
func (r *OrderRepo) ApplyTransition(ctx context.Context, orderID uint64, status, paymentRef string, now time.Time) error {
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

	set := `status = ?`
	args := []interface{}{status}
	switch {
	case model.SuccessStatus(status):
		set += `, paid_at = COALESCE(paid_at, ?), payment_ref = COALESCE(NULLIF(?, ''), payment_ref)`
		args = append(args, now.UTC().Format("2006-01-02 15:04:05"), paymentRef)
	case status == model.OrderCancelled || status == model.OrderRefunded:
		set += `, cancelled_at = COALESCE(cancelled_at, ?)`
		args = append(args, now.UTC().Format("2006-01-02 15:04:05"))
	}
	args = append(args, orderID)
	res, err := tx.ExecContext(ctx, `UPDATE orders SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var one int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, orderID).Scan(&one); err == sql.ErrNoRows {
			return ErrNotFound
		} else if err != nil {
			return err
		}
	}

	ticketStatus := model.TicketStatusFor(status)
	ticketQ := `UPDATE tickets SET status = ? WHERE order_id = ?`
	ticketArgs := []interface{}{ticketStatus, orderID}
	if status == model.OrderPending {
		// Re-entry keeps already checked-in tickets checked in.
		ticketQ += ` AND status <> ?`
		ticketArgs = append(ticketArgs, model.TicketCheckedIn)
	}
	if _, err := tx.ExecContext(ctx, ticketQ, ticketArgs...); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// CheckInTicket moves a valid ticket to checked_in.  The conditional
// update makes a second scan of the same code fail instead of silently
// double-admitting.
func (r *OrderRepo) CheckInTicket(ctx context.Context, clientID uint64, code string) (*model.Ticket, error) {
	const q = `UPDATE tickets t
	           JOIN orders o ON o.id = t.order_id
	           SET t.status = ?, t.checked_in_at = UTC_TIMESTAMP()
	           WHERE t.code = ? AND o.marketplace_client_id = ? AND t.status = ?`
	res, err := r.db.ExecContext(ctx, q, model.TicketCheckedIn, code, clientID, model.TicketValid)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		t, err := r.getTicketByCode(ctx, clientID, code)
		if err != nil {
			return nil, err
		}
		return t, ErrInvalidTransition
	}
	return r.getTicketByCode(ctx, clientID, code)
}

func (r *OrderRepo) getTicketByCode(ctx context.Context, clientID uint64, code string) (*model.Ticket, error) {
	const q = `SELECT t.id, t.order_id, t.ticket_type_id, t.code, t.status, t.price, t.currency,
	                  t.checked_in_at, t.created_at
	           FROM tickets t
	           JOIN orders o ON o.id = t.order_id
	           WHERE t.code = ? AND o.marketplace_client_id = ?`
	var t model.Ticket
	var priceStr string
	var checkedIn sql.NullTime
	err := r.db.QueryRowContext(ctx, q, code, clientID).Scan(
		&t.ID, &t.OrderID, &t.TicketTypeID, &t.Code, &t.Status,
		&priceStr, &t.Currency, &checkedIn, &t.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if t.Price, err = decimal.NewFromString(priceStr); err != nil {
		return nil, fmt.Errorf("parse ticket price: %w", err)
	}
	if checkedIn.Valid {
		ts := checkedIn.Time
		t.CheckedInAt = &ts
	}
	return &t, nil
}
