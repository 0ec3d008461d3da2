package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, account_id, service_id, quantity, link, total_price_minor, status, created_at, updated_at`

// InsertOrder stores a new order record. The caller supplies the id so the
// payment entry can reference it before the row exists.
func (r *PostgresRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	if !validID(order.ID) {
		return nil, fmt.Errorf("insert order: invalid id %q", order.ID)
	}
	if order.Status == "" {
		order.Status = OrderPending
	}
	q := `
INSERT INTO orders (id, account_id, service_id, quantity, link, total_price_minor, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + orderColumns + `;`
	row := r.pool.QueryRow(ctx, q,
		order.ID,
		order.AccountID,
		order.ServiceID,
		order.Quantity,
		order.Link,
		order.TotalPriceMinor,
		order.Status,
	)
	inserted, err := scanOrder(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert order: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return inserted, nil
}

// GetOrder retrieves an order by id.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*Order, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// ListOrdersByAccount returns the most recent orders of an account.
func (r *PostgresRepository) ListOrdersByAccount(ctx context.Context, accountID string, limit int) ([]Order, error) {
	if !validID(accountID) {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return out, nil
}

// TransitionOrder moves an order to t.To if it is currently in one of t.From.
func (r *PostgresRepository) TransitionOrder(ctx context.Context, t OrderTransition) (*Order, error) {
	return transitionOrderTx(ctx, r.pool, t)
}

// CountOrders counts orders, optionally filtered by status.
func (r *PostgresRepository) CountOrders(ctx context.Context, status string) (int64, error) {
	var n int64
	var err error
	if status == "" {
		err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n)
	} else {
		err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE status = $1`, status).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// SumOrderRevenue sums total_price_minor of orders in status.
func (r *PostgresRepository) SumOrderRevenue(ctx context.Context, status string) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total_price_minor), 0)::BIGINT FROM orders WHERE status = $1`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum order revenue: %w", err)
	}
	return n, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func transitionOrderTx(ctx context.Context, db queryRower, t OrderTransition) (*Order, error) {
	if !validID(t.OrderID) {
		return nil, ErrNotFound
	}
	q := `
UPDATE orders SET status = $2, updated_at = NOW()
WHERE id = $1 AND status = ANY($3::text[])
RETURNING ` + orderColumns + `;`
	order, err := scanOrder(db.QueryRow(ctx, q, t.OrderID, t.To, t.From))
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition order: %w", err)
	}
	var current string
	if err := db.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, t.OrderID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read order status: %w", err)
	}
	return nil, fmt.Errorf("order %s is %s: %w", t.OrderID, current, ErrConflict)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	if err := row.Scan(&o.ID, &o.AccountID, &o.ServiceID, &o.Quantity, &o.Link, &o.TotalPriceMinor, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func toJSON(val map[string]any) ([]byte, error) {
	if val == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("marshal detail: %w", err)
	}
	return data, nil
}

func fromJSON(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"_raw": string(data)}
	}
	return m
}
