package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const attemptColumns = `id, account_id, amount_minor, phone, method, reference, status, transaction_id, detail::text, created_at, updated_at`

// InsertPaymentAttempt persists an attempt before the gateway is contacted.
func (r *PostgresRepository) InsertPaymentAttempt(ctx context.Context, attempt PaymentAttempt) (*PaymentAttempt, error) {
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
	q := `
INSERT INTO payment_attempts (id, account_id, amount_minor, phone, method, reference, status, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
RETURNING ` + attemptColumns + `;`
	row := r.pool.QueryRow(ctx, q,
		attempt.ID,
		attempt.AccountID,
		attempt.AmountMinor,
		attempt.Phone,
		attempt.Method,
		attempt.Reference,
		attempt.Status,
		string(detail),
	)
	inserted, err := scanAttempt(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert payment attempt: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert payment attempt: %w", err)
	}
	return inserted, nil
}

// UpdatePaymentAttempt sets the final status and merges detail into the stored JSON.
func (r *PostgresRepository) UpdatePaymentAttempt(ctx context.Context, id, status string, transactionID *string, detail map[string]any) error {
	if !validID(id) {
		return ErrNotFound
	}
	patch, err := toJSON(detail)
	if err != nil {
		return err
	}
	const q = `
UPDATE payment_attempts
SET status = $2,
    transaction_id = COALESCE($3, transaction_id),
    detail = detail || $4::jsonb,
    updated_at = NOW()
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, status, transactionID, string(patch))
	if err != nil {
		return fmt.Errorf("update payment attempt: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPaymentAttempt fetches an attempt by id.
func (r *PostgresRepository) GetPaymentAttempt(ctx context.Context, id string) (*PaymentAttempt, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	attempt, err := scanAttempt(r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM payment_attempts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment attempt: %w", err)
	}
	return attempt, nil
}

func scanAttempt(row pgx.Row) (*PaymentAttempt, error) {
	var a PaymentAttempt
	var detail string
	if err := row.Scan(&a.ID, &a.AccountID, &a.AmountMinor, &a.Phone, &a.Method, &a.Reference, &a.Status, &a.TransactionID, &detail, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Detail = fromJSON([]byte(detail))
	return &a, nil
}
