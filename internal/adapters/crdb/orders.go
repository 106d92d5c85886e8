package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

const (
	orderKeyConstraint = "orders_order_key_key"
	orderRefConstraint = "orders_order_ref_key"
)

const orderColumns = `
	id, order_ref, order_key, amount_cents, currency, status, pay_method, description,
	customer_name, customer_email, customer_phone, created_at, paid_at, checked_in_at`

func (t *Tx) FindOrderByKey(ctx context.Context, key string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM orders WHERE order_key = $1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "find order by key")
	}
	return id, true, nil
}

// InsertOrder relies on the unique index over order_key as the last guard
// against two concurrent checkouts with the same key.
func (t *Tx) InsertOrder(ctx context.Context, o *domain.Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (order_ref, order_key, amount_cents, currency, status, pay_method, description,
		                    customer_name, customer_email, customer_phone, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, o.Ref, o.IdempotencyKey, int64(o.Amount), o.Currency, string(o.Status), o.PayMethod, o.Description,
		o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.PaidAt).Scan(&id, &o.CreatedAt)
	if isUniqueViolation(err, orderKeyConstraint) {
		return 0, errors.Wrapf(domain.ErrDuplicateOrder, "key %q", o.IdempotencyKey)
	}
	if isUniqueViolation(err, orderRefConstraint) {
		return 0, errors.Wrapf(domain.ErrConflict, "order ref %q already used", o.Ref)
	}
	if err != nil {
		return 0, errors.Wrap(err, "insert order")
	}
	o.ID = id
	return id, nil
}

func (t *Tx) InsertOrderItem(ctx context.Context, orderID int64, item domain.OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items (order_id, table_id, seat_no, category, price_cents)
		VALUES ($1, $2, $3, $4, $5)
	`, orderID, item.Seat.TableID, item.Seat.SeatNo, string(item.Category), int64(item.Price))
	return errors.Wrapf(err, "insert item %s", item.Seat)
}

func (t *Tx) LockOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *Tx) LockOrderByRef(ctx context.Context, ref string) (*domain.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_ref = $1 FOR UPDATE`, ref))
}

// SetOrderStatus moves the order to status, stamping paid_at or
// checked_in_at when the status calls for it.
func (t *Tx) SetOrderStatus(ctx context.Context, id int64, status domain.OrderStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET status = $2::TEXT,
		    paid_at = CASE WHEN $2::TEXT = 'PAID' THEN $3::TIMESTAMPTZ ELSE paid_at END,
		    checked_in_at = CASE WHEN $2::TEXT = 'CHECKED_IN' THEN $3::TIMESTAMPTZ ELSE checked_in_at END
		WHERE id = $1
	`, id, string(status), at)
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "order %d", id)
	}
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, domain.Unavailable(err, "get order")
	}
	return o, r.loadItems(ctx, o)
}

func (r *Repository) GetOrderByRef(ctx context.Context, ref string) (*domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_ref = $1`, ref))
	if err != nil {
		return nil, domain.Unavailable(err, "get order")
	}
	return o, r.loadItems(ctx, o)
}

// ListOrders returns the newest orders first with their line items.
func (r *Repository) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, domain.Unavailable(err, "list orders")
	}
	defer rows.Close()

	var (
		orders []domain.Order
		ids    []int64
	)
	byID := map[int64]int{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, domain.Unavailable(err, "scan order")
		}
		byID[o.ID] = len(orders)
		ids = append(ids, o.ID)
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable(err, "list orders")
	}
	if len(ids) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.pool.Query(ctx, `
		SELECT order_id, table_id, seat_no, category, price_cents
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, table_id, seat_no
	`, ids)
	if err != nil {
		return nil, domain.Unavailable(err, "list order items")
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var orderID int64
		item, err := scanItem(itemRows, &orderID)
		if err != nil {
			return nil, domain.Unavailable(err, "scan order item")
		}
		if i, ok := byID[orderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	return orders, domain.Unavailable(itemRows.Err(), "list order items")
}

func (r *Repository) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := r.pool.Query(ctx, `
		SELECT order_id, table_id, seat_no, category, price_cents
		FROM order_items WHERE order_id = $1
		ORDER BY table_id, seat_no
	`, o.ID)
	if err != nil {
		return domain.Unavailable(err, "load order items")
	}
	defer rows.Close()
	for rows.Next() {
		var orderID int64
		item, err := scanItem(rows, &orderID)
		if err != nil {
			return domain.Unavailable(err, "scan order item")
		}
		o.Items = append(o.Items, item)
	}
	return domain.Unavailable(rows.Err(), "load order items")
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o      domain.Order
		amount int64
		status string
	)
	err := row.Scan(&o.ID, &o.Ref, &o.IdempotencyKey, &amount, &o.Currency, &status, &o.PayMethod, &o.Description,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.CreatedAt, &o.PaidAt, &o.CheckedInAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan order")
	}
	o.Amount = domain.Cents(amount)
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func scanItem(row pgx.Row, orderID *int64) (domain.OrderItem, error) {
	var (
		item     domain.OrderItem
		category string
		price    int64
	)
	if err := row.Scan(orderID, &item.Seat.TableID, &item.Seat.SeatNo, &category, &price); err != nil {
		return item, err
	}
	item.Category = domain.Category(category)
	item.Price = domain.Cents(price)
	return item, nil
}
