package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, account_id, amount_minor, type, description, order_ref, reference_id, created_at`

// ApplyLedgerEntry adjusts the balance and appends the transaction row in one
// database transaction. When entry.Transition is set the order update happens
// in the same transaction, so a refund can never be recorded twice for a cancel.
func (r *PostgresRepository) ApplyLedgerEntry(ctx context.Context, entry LedgerEntry) (*WalletTransaction, int64, error) {
	if !validID(entry.AccountID) {
		return nil, 0, ErrNotFound
	}
	var (
		recorded *WalletTransaction
		balance  int64
	)
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if entry.Transition != nil {
			if _, err := transitionOrderTx(ctx, tx, *entry.Transition); err != nil {
				return err
			}
		}

		err := tx.QueryRow(ctx, `
UPDATE accounts SET balance_minor = balance_minor + $2, updated_at = NOW()
WHERE id = $1 AND balance_minor + $2 >= 0
RETURNING balance_minor;
`, entry.AccountID, entry.AmountMinor).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			var current int64
			if err := tx.QueryRow(ctx, `SELECT balance_minor FROM accounts WHERE id = $1`, entry.AccountID).Scan(&current); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrNotFound
				}
				return fmt.Errorf("read balance: %w", err)
			}
			return &InsufficientFundsError{BalanceMinor: current, AmountMinor: -entry.AmountMinor}
		}
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		row := tx.QueryRow(ctx, `
INSERT INTO wallet_transactions (id, account_id, amount_minor, type, description, order_ref, reference_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+walletColumns+`;`,
			uuid.NewString(),
			entry.AccountID,
			entry.AmountMinor,
			entry.Type,
			entry.Description,
			entry.OrderRef,
			entry.ReferenceID,
		)
		recorded, err = scanWalletTransaction(row)
		if err != nil {
			if isUniqueViolation(err) {
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

// ListWalletTransactions returns the newest entries first.
func (r *PostgresRepository) ListWalletTransactions(ctx context.Context, accountID string, limit int) ([]WalletTransaction, error) {
	if !validID(accountID) {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+walletColumns+` FROM wallet_transactions WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	var out []WalletTransaction
	for rows.Next() {
		tx, err := scanWalletTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		out = append(out, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet transactions: %w", err)
	}
	return out, nil
}

// SumWalletTransactions returns the signed sum of every entry of the account.
func (r *PostgresRepository) SumWalletTransactions(ctx context.Context, accountID string) (int64, error) {
	if !validID(accountID) {
		return 0, ErrNotFound
	}
	var sum int64
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount_minor), 0)::BIGINT FROM wallet_transactions WHERE account_id = $1`, accountID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum wallet transactions: %w", err)
	}
	return sum, nil
}

func scanWalletTransaction(row pgx.Row) (*WalletTransaction, error) {
	var t WalletTransaction
	if err := row.Scan(&t.ID, &t.AccountID, &t.AmountMinor, &t.Type, &t.Description, &t.OrderRef, &t.ReferenceID, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
