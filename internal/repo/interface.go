package repo

import (
	"context"
	"errors"
	"io/fs"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientFunds is returned when a ledger entry would drive a balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConflict is returned when a conditional status update found the row in another state.
	ErrConflict = errors.New("conflict")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate")
)

// InsufficientFundsError carries the balance observed when the entry was rejected.
type InsufficientFundsError struct {
	BalanceMinor int64
	AmountMinor  int64
}

func (e *InsufficientFundsError) Error() string {
	return "insufficient funds"
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Accounts
	InsertAccount(ctx context.Context, account Account) (*Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	SetAccountBlocked(ctx context.Context, id string, blocked bool) error

	// Services
	UpsertService(ctx context.Context, svc Service) (*Service, error)
	GetService(ctx context.Context, id string) (*Service, error)
	ListActiveServices(ctx context.Context) ([]Service, error)

	// Orders
	InsertOrder(ctx context.Context, order Order) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrdersByAccount(ctx context.Context, accountID string, limit int) ([]Order, error)
	TransitionOrder(ctx context.Context, t OrderTransition) (*Order, error)

	// Ledger
	ApplyLedgerEntry(ctx context.Context, entry LedgerEntry) (*WalletTransaction, int64, error)
	ListWalletTransactions(ctx context.Context, accountID string, limit int) ([]WalletTransaction, error)
	SumWalletTransactions(ctx context.Context, accountID string) (int64, error)

	// Payment attempts
	InsertPaymentAttempt(ctx context.Context, attempt PaymentAttempt) (*PaymentAttempt, error)
	UpdatePaymentAttempt(ctx context.Context, id, status string, transactionID *string, detail map[string]any) error
	GetPaymentAttempt(ctx context.Context, id string) (*PaymentAttempt, error)

	// Dashboard
	CountAccounts(ctx context.Context) (int64, error)
	CountOrders(ctx context.Context, status string) (int64, error)
	SumOrderRevenue(ctx context.Context, status string) (int64, error)
}
