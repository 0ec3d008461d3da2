package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresRepository provides typed access to Supabase (Postgres) resources.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

var _ Repository = (*PostgresRepository)(nil)

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx executes fn within a database transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem)
}

// InsertAccount creates an account with a zero balance. Credits go through the ledger.
func (r *PostgresRepository) InsertAccount(ctx context.Context, account Account) (*Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	const q = `
INSERT INTO accounts (id, display_name, phone, email, balance_minor, is_blocked)
VALUES ($1, $2, $3, $4, 0, FALSE)
RETURNING id, display_name, phone, email, balance_minor, is_blocked, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q, account.ID, account.DisplayName, account.Phone, account.Email)
	inserted, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert account: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return inserted, nil
}

// GetAccount fetches an account by id.
func (r *PostgresRepository) GetAccount(ctx context.Context, id string) (*Account, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	const q = `
SELECT id, display_name, phone, email, balance_minor, is_blocked, created_at, updated_at
FROM accounts
WHERE id = $1;
`
	acct, err := scanAccount(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

// SetAccountBlocked toggles the blocked flag.
func (r *PostgresRepository) SetAccountBlocked(ctx context.Context, id string, blocked bool) error {
	if !validID(id) {
		return ErrNotFound
	}
	ct, err := r.pool.Exec(ctx, `UPDATE accounts SET is_blocked = $2, updated_at = NOW() WHERE id = $1`, id, blocked)
	if err != nil {
		return fmt.Errorf("set account blocked: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountAccounts returns the number of registered accounts.
func (r *PostgresRepository) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.DisplayName, &a.Phone, &a.Email, &a.BalanceMinor, &a.IsBlocked, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// validID guards uuid columns so malformed ids read as missing rows instead of syntax errors.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func now() time.Time {
	return time.Now().UTC()
}
