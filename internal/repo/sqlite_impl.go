package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type sqlRowScanner interface {
	Scan(dest ...any) error
}

// -- Accounts --

func (r *SQLiteRepository) InsertAccount(ctx context.Context, account Account) (*Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	ts := now()
	const q = `
INSERT INTO accounts (id, display_name, phone, email, balance_minor, is_blocked, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, 0, ?, ?);
`
	if _, err := r.db.ExecContext(ctx, q, account.ID, account.DisplayName, account.Phone, account.Email, ts, ts); err != nil {
		if isSQLiteUnique(err) {
			return nil, fmt.Errorf("insert account: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	account.BalanceMinor = 0
	account.IsBlocked = false
	account.CreatedAt = ts
	account.UpdatedAt = ts
	return &account, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (*Account, error) {
	const q = `
SELECT id, display_name, phone, email, balance_minor, is_blocked, created_at, updated_at
FROM accounts
WHERE id = ?;
`
	var a Account
	err := r.db.QueryRowContext(ctx, q, id).Scan(&a.ID, &a.DisplayName, &a.Phone, &a.Email, &a.BalanceMinor, &a.IsBlocked, sqliteTime{&a.CreatedAt}, sqliteTime{&a.UpdatedAt})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (r *SQLiteRepository) SetAccountBlocked(ctx context.Context, id string, blocked bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET is_blocked = ?, updated_at = ? WHERE id = ?`, blocked, now(), id)
	if err != nil {
		return fmt.Errorf("set account blocked: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// -- Services --

func (r *SQLiteRepository) UpsertService(ctx context.Context, svc Service) (*Service, error) {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	ts := now()
	const q = `
INSERT INTO services (id, platform, name, description, price_per_1000_minor, min_quantity, max_quantity, daily_limit, estimated_time, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    platform = excluded.platform,
    name = excluded.name,
    description = excluded.description,
    price_per_1000_minor = excluded.price_per_1000_minor,
    min_quantity = excluded.min_quantity,
    max_quantity = excluded.max_quantity,
    daily_limit = excluded.daily_limit,
    estimated_time = excluded.estimated_time,
    is_active = excluded.is_active,
    updated_at = excluded.updated_at;
`
	_, err := r.db.ExecContext(ctx, q,
		svc.ID,
		svc.Platform,
		svc.Name,
		svc.Description,
		svc.PricePer1000Minor,
		svc.MinQuantity,
		svc.MaxQuantity,
		svc.DailyLimit,
		svc.EstimatedTime,
		svc.IsActive,
		ts,
		ts,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert service: %w", err)
	}
	return r.GetService(ctx, svc.ID)
}

func (r *SQLiteRepository) GetService(ctx context.Context, id string) (*Service, error) {
	svc, err := scanSQLiteService(r.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	return svc, nil
}

func (r *SQLiteRepository) ListActiveServices(ctx context.Context) ([]Service, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE is_active = 1 ORDER BY platform, price_per_1000_minor, name`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		svc, err := scanSQLiteService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		out = append(out, *svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return out, nil
}

func scanSQLiteService(row sqlRowScanner) (*Service, error) {
	var s Service
	if err := row.Scan(&s.ID, &s.Platform, &s.Name, &s.Description, &s.PricePer1000Minor, &s.MinQuantity, &s.MaxQuantity, &s.DailyLimit, &s.EstimatedTime, &s.IsActive, sqliteTime{&s.CreatedAt}, sqliteTime{&s.UpdatedAt}); err != nil {
		return nil, err
	}
	return &s, nil
}

// -- Orders --

func (r *SQLiteRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	if order.ID == "" {
		return nil, fmt.Errorf("insert order: missing id")
	}
	if order.Status == "" {
		order.Status = OrderPending
	}
	ts := now()
	const q = `
INSERT INTO orders (id, account_id, service_id, quantity, link, total_price_minor, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err := r.db.ExecContext(ctx, q, order.ID, order.AccountID, order.ServiceID, order.Quantity, order.Link, order.TotalPriceMinor, order.Status, ts, ts)
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, fmt.Errorf("insert order: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}
	order.CreatedAt = ts
	order.UpdatedAt = ts
	return &order, nil
}

func (r *SQLiteRepository) GetOrder(ctx context.Context, id string) (*Order, error) {
	order, err := scanSQLiteOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (r *SQLiteRepository) ListOrdersByAccount(ctx context.Context, accountID string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanSQLiteOrder(rows)
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

func (r *SQLiteRepository) TransitionOrder(ctx context.Context, t OrderTransition) (*Order, error) {
	var out *Order
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = sqliteTransitionOrder(ctx, tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLiteRepository) CountOrders(ctx context.Context, status string) (int64, error) {
	var n int64
	var err error
	if status == "" {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE status = ?`, status).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) SumOrderRevenue(ctx context.Context, status string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(total_price_minor), 0) FROM orders WHERE status = ?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum order revenue: %w", err)
	}
	return n, nil
}

func sqliteTransitionOrder(ctx context.Context, tx *sql.Tx, t OrderTransition) (*Order, error) {
	if len(t.From) == 0 {
		return nil, fmt.Errorf("transition order: no source status")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.From)), ", ")
	args := []any{t.To, now(), t.OrderID}
	for _, s := range t.From {
		args = append(args, s)
	}
	res, err := tx.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("transition order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition order: %w", err)
	}
	order, err := scanSQLiteOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, t.OrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read order: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("order %s is %s: %w", t.OrderID, order.Status, ErrConflict)
	}
	return order, nil
}

func scanSQLiteOrder(row sqlRowScanner) (*Order, error) {
	var o Order
	if err := row.Scan(&o.ID, &o.AccountID, &o.ServiceID, &o.Quantity, &o.Link, &o.TotalPriceMinor, &o.Status, sqliteTime{&o.CreatedAt}, sqliteTime{&o.UpdatedAt}); err != nil {
		return nil, err
	}
	return &o, nil
}

// -- Ledger --

func (r *SQLiteRepository) ApplyLedgerEntry(ctx context.Context, entry LedgerEntry) (*WalletTransaction, int64, error) {
	var (
		recorded *WalletTransaction
		balance  int64
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if entry.Transition != nil {
			if _, err := sqliteTransitionOrder(ctx, tx, *entry.Transition); err != nil {
				return err
			}
		}

		ts := now()
		err := tx.QueryRowContext(ctx, `
UPDATE accounts SET balance_minor = balance_minor + ?, updated_at = ?
WHERE id = ? AND balance_minor + ? >= 0
RETURNING balance_minor;
`, entry.AmountMinor, ts, entry.AccountID, entry.AmountMinor).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			var current int64
			if err := tx.QueryRowContext(ctx, `SELECT balance_minor FROM accounts WHERE id = ?`, entry.AccountID).Scan(&current); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNotFound
				}
				return fmt.Errorf("read balance: %w", err)
			}
			return &InsufficientFundsError{BalanceMinor: current, AmountMinor: -entry.AmountMinor}
		}
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		recorded = &WalletTransaction{
			ID:          uuid.NewString(),
			AccountID:   entry.AccountID,
			AmountMinor: entry.AmountMinor,
			Type:        entry.Type,
			Description: entry.Description,
			OrderRef:    entry.OrderRef,
			ReferenceID: entry.ReferenceID,
			CreatedAt:   ts,
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO wallet_transactions (id, account_id, amount_minor, type, description, order_ref, reference_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`, recorded.ID, recorded.AccountID, recorded.AmountMinor, recorded.Type, recorded.Description, recorded.OrderRef, recorded.ReferenceID, ts)
		if err != nil {
			if isSQLiteUnique(err) {
				return fmt.Errorf("insert wallet transaction: %w", ErrDuplicate)
			}
			return fmt.Errorf("insert wallet transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return recorded, balance, nil
}

func (r *SQLiteRepository) ListWalletTransactions(ctx context.Context, accountID string, limit int) ([]WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+walletColumns+` FROM wallet_transactions WHERE account_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	var out []WalletTransaction
	for rows.Next() {
		var t WalletTransaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.AmountMinor, &t.Type, &t.Description, &t.OrderRef, &t.ReferenceID, sqliteTime{&t.CreatedAt}); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet transactions: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) SumWalletTransactions(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount_minor), 0) FROM wallet_transactions WHERE account_id = ?`, accountID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum wallet transactions: %w", err)
	}
	return sum, nil
}

// -- Payment attempts --

func (r *SQLiteRepository) InsertPaymentAttempt(ctx context.Context, attempt PaymentAttempt) (*PaymentAttempt, error) {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.Status == "" {
		attempt.Status = AttemptPending
	}
	detail, err := toJSON(attempt.Detail)
	if err != nil {
		return nil, err
	}
	ts := now()
	const q = `
INSERT INTO payment_attempts (id, account_id, amount_minor, phone, method, reference, status, detail, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = r.db.ExecContext(ctx, q, attempt.ID, attempt.AccountID, attempt.AmountMinor, attempt.Phone, attempt.Method, attempt.Reference, attempt.Status, string(detail), ts, ts)
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, fmt.Errorf("insert payment attempt: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert payment attempt: %w", err)
	}
	attempt.CreatedAt = ts
	attempt.UpdatedAt = ts
	return &attempt, nil
}

func (r *SQLiteRepository) UpdatePaymentAttempt(ctx context.Context, id, status string, transactionID *string, detail map[string]any) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		if err := tx.QueryRowContext(ctx, `SELECT detail FROM payment_attempts WHERE id = ?`, id).Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("read payment attempt: %w", err)
		}
		merged := fromJSON([]byte(raw))
		if merged == nil {
			merged = map[string]any{}
		}
		for k, v := range detail {
			merged[k] = v
		}
		data, err := toJSON(merged)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
UPDATE payment_attempts
SET status = ?, transaction_id = COALESCE(?, transaction_id), detail = ?, updated_at = ?
WHERE id = ?;
`, status, transactionID, string(data), now(), id)
		if err != nil {
			return fmt.Errorf("update payment attempt: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) GetPaymentAttempt(ctx context.Context, id string) (*PaymentAttempt, error) {
	const q = `
SELECT id, account_id, amount_minor, phone, method, reference, status, transaction_id, detail, created_at, updated_at
FROM payment_attempts
WHERE id = ?;
`
	var a PaymentAttempt
	var detail string
	err := r.db.QueryRowContext(ctx, q, id).Scan(&a.ID, &a.AccountID, &a.AmountMinor, &a.Phone, &a.Method, &a.Reference, &a.Status, &a.TransactionID, &detail, sqliteTime{&a.CreatedAt}, sqliteTime{&a.UpdatedAt})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment attempt: %w", err)
	}
	a.Detail = fromJSON([]byte(detail))
	return &a, nil
}
