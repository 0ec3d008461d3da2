// Package ledger is the only writer of account balances and wallet transactions.
// Every mutation appends exactly one transaction row in the same storage
// transaction as the balance change, so balance always equals the sum of
// the account's transactions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"socialboost/internal/apperr"
	"socialboost/internal/metrics"
	"socialboost/internal/money"
	"socialboost/internal/repo"

	"github.com/shopspring/decimal"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// AdjustmentDescription is used for admin adjustments without a note.
	AdjustmentDescription = "Ajuste manual de saldo pelo administrador"
	// SignupBonusDescription labels the credit granted on account creation.
	SignupBonusDescription = "Bónus de boas-vindas"
)

// Store is the persistence the ledger needs.
type Store interface {
	InsertAccount(ctx context.Context, account repo.Account) (*repo.Account, error)
	GetAccount(ctx context.Context, id string) (*repo.Account, error)
	ApplyLedgerEntry(ctx context.Context, entry repo.LedgerEntry) (*repo.WalletTransaction, int64, error)
	ListWalletTransactions(ctx context.Context, accountID string, limit int) ([]repo.WalletTransaction, error)
	SumWalletTransactions(ctx context.Context, accountID string) (int64, error)
}

// Config tunes the ledger.
type Config struct {
	SignupBonus decimal.Decimal
}

// Service applies credits and debits.
type Service struct {
	store       Store
	logger      *slog.Logger
	metrics     *metrics.Metrics
	locks       *keyedMutex
	signupBonus decimal.Decimal
}

// Entry is a request to move money in or out of an account. Amount is always positive.
type Entry struct {
	AccountID   string
	Amount      decimal.Decimal
	Type        string
	Description string
	OrderRef    string
	ReferenceID string
}

// Transaction is the API view of a wallet transaction.
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	OrderRef    string          `json:"orderRef,omitempty"`
	ReferenceID string          `json:"referenceId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Result is returned by every mutation.
type Result struct {
	Transaction Transaction
	NewBalance  decimal.Decimal
}

// Reconciliation compares the stored balance with the transaction sum.
type Reconciliation struct {
	AccountID  string          `json:"accountId"`
	Balance    decimal.Decimal `json:"balance"`
	Sum        decimal.Decimal `json:"sum"`
	Consistent bool            `json:"consistent"`
}

// OrderCharge identifies the order being refunded on cancellation.
type OrderCharge struct {
	OrderID   string
	AccountID string
	Total     decimal.Decimal
}

// New constructs the ledger service.
func New(store Store, logger *slog.Logger, metricRegistry *metrics.Metrics, cfg Config) *Service {
	return &Service{
		store:       store,
		logger:      logger.With("component", "ledger"),
		metrics:     metricRegistry,
		locks:       newKeyedMutex(),
		signupBonus: cfg.SignupBonus,
	}
}

// Credit adds Amount to the account. Type must be deposit or refund.
func (s *Service) Credit(ctx context.Context, e Entry) (Result, error) {
	if e.Type != repo.TxDeposit && e.Type != repo.TxRefund {
		return Result{}, apperr.Validation("type", fmt.Sprintf("tipo de crédito inválido: %q", e.Type))
	}
	amount, err := positiveAmount(e.Amount)
	if err != nil {
		return Result{}, err
	}
	return s.apply(ctx, toRepoEntry(e, money.ToMinor(amount)))
}

// Debit removes Amount from the account. Type must be order_payment or withdrawal.
// The balance check runs against the balance read inside the storage transaction.
func (s *Service) Debit(ctx context.Context, e Entry) (Result, error) {
	if e.Type != repo.TxOrderPayment && e.Type != repo.TxWithdrawal {
		return Result{}, apperr.Validation("type", fmt.Sprintf("tipo de débito inválido: %q", e.Type))
	}
	amount, err := positiveAmount(e.Amount)
	if err != nil {
		return Result{}, err
	}
	return s.apply(ctx, toRepoEntry(e, -money.ToMinor(amount)))
}

// Refund credits a refund tied to orderRef.
func (s *Service) Refund(ctx context.Context, accountID string, amount decimal.Decimal, orderRef, description string) (Result, error) {
	return s.Credit(ctx, Entry{
		AccountID:   accountID,
		Amount:      amount,
		Type:        repo.TxRefund,
		Description: description,
		OrderRef:    orderRef,
	})
}

// RefundOrder cancels the order and refunds its total atomically. A second
// call for the same order fails with ErrOrderNotCancellable and credits nothing.
func (s *Service) RefundOrder(ctx context.Context, charge OrderCharge, description string) (Result, error) {
	amount, err := positiveAmount(charge.Total)
	if err != nil {
		return Result{}, err
	}
	entry := toRepoEntry(Entry{
		AccountID:   charge.AccountID,
		Type:        repo.TxRefund,
		Description: description,
		OrderRef:    charge.OrderID,
	}, money.ToMinor(amount))
	entry.Transition = &repo.OrderTransition{
		OrderID: charge.OrderID,
		From:    []string{repo.OrderPending, repo.OrderProcessing},
		To:      repo.OrderCancelled,
	}
	return s.apply(ctx, entry)
}

// Adjust applies an admin correction. Positive amounts are deposits, negative ones withdrawals.
func (s *Service) Adjust(ctx context.Context, accountID string, amount decimal.Decimal, description string) (Result, error) {
	if amount.IsZero() {
		return Result{}, apperr.Validation("amount", "o ajuste não pode ser zero")
	}
	if strings.TrimSpace(description) == "" {
		description = AdjustmentDescription
	}
	entry := Entry{AccountID: accountID, Amount: amount.Abs(), Description: description}
	if amount.IsPositive() {
		entry.Type = repo.TxDeposit
		return s.Credit(ctx, entry)
	}
	entry.Type = repo.TxWithdrawal
	return s.Debit(ctx, entry)
}

// OpenAccount creates the account and credits the sign-up bonus as its first transaction.
func (s *Service) OpenAccount(ctx context.Context, account repo.Account) (*repo.Account, error) {
	created, err := s.store.InsertAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}
	if !s.signupBonus.IsPositive() {
		return created, nil
	}
	res, err := s.Credit(ctx, Entry{
		AccountID:   created.ID,
		Amount:      s.signupBonus,
		Type:        repo.TxDeposit,
		Description: SignupBonusDescription,
		ReferenceID: "signup-" + created.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("credit signup bonus: %w", err)
	}
	created.BalanceMinor = money.ToMinor(res.NewBalance)
	return created, nil
}

// GetAccount returns the stored account.
func (s *Service) GetAccount(ctx context.Context, accountID string) (*repo.Account, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

// Balance returns the current balance.
func (s *Service) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return money.FromMinor(acct.BalanceMinor), nil
}

// History lists the newest transactions first.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	rows, err := s.store.ListWalletTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRepo(row))
	}
	return out, nil
}

// Reconcile checks balance == sum(transactions) for the account.
func (s *Service) Reconcile(ctx context.Context, accountID string) (Reconciliation, error) {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return Reconciliation{}, err
	}
	sum, err := s.store.SumWalletTransactions(ctx, accountID)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("sum transactions: %w", err)
	}
	rec := Reconciliation{
		AccountID:  accountID,
		Balance:    money.FromMinor(acct.BalanceMinor),
		Sum:        money.FromMinor(sum),
		Consistent: acct.BalanceMinor == sum,
	}
	if !rec.Consistent {
		s.logger.Error("balance does not match transaction sum", "account_id", accountID, "balance_minor", acct.BalanceMinor, "sum_minor", sum)
		s.metrics.IncError("ledger_reconcile")
	}
	return rec, nil
}

func (s *Service) apply(ctx context.Context, entry repo.LedgerEntry) (Result, error) {
	unlock := s.locks.Lock(entry.AccountID)
	defer unlock()

	recorded, balance, err := s.store.ApplyLedgerEntry(ctx, entry)
	if err != nil {
		err = translate(err)
		s.observe(entry.Type, outcomeFor(err))
		if !isBusinessError(err) {
			s.logger.Error("ledger entry failed", "account_id", entry.AccountID, "type", entry.Type, "amount_minor", entry.AmountMinor, "error", err)
			s.metrics.IncError("ledger")
		}
		return Result{}, err
	}
	s.observe(entry.Type, "ok")
	s.logger.Info("ledger entry applied",
		"account_id", entry.AccountID,
		"transaction_id", recorded.ID,
		"type", entry.Type,
		"amount_minor", entry.AmountMinor,
		"balance_minor", balance,
	)
	return Result{Transaction: fromRepo(*recorded), NewBalance: money.FromMinor(balance)}, nil
}

func (s *Service) observe(txType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.LedgerEntries.WithLabelValues(txType, outcome).Inc()
}

func translate(err error) error {
	var insufficient *repo.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		return &InsufficientFundsError{
			Balance: money.FromMinor(insufficient.BalanceMinor),
			Amount:  money.FromMinor(insufficient.AmountMinor),
		}
	case errors.Is(err, repo.ErrNotFound):
		return ErrAccountNotFound
	case errors.Is(err, repo.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrDuplicateEntry, err)
	case errors.Is(err, repo.ErrConflict):
		return fmt.Errorf("%w: %v", ErrOrderNotCancellable, err)
	default:
		return fmt.Errorf("apply ledger entry: %w", err)
	}
}

func isBusinessError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrOrderNotCancellable) ||
		errors.Is(err, ErrDuplicateEntry)
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrOrderNotCancellable), errors.Is(err, ErrDuplicateEntry):
		return "conflict"
	default:
		return "error"
	}
}

func positiveAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, apperr.Validation("amount", "o valor deve ser positivo")
	}
	if !money.InRange(amount) {
		return decimal.Zero, apperr.Validation("amount", "o valor excede o máximo de "+money.Format(money.MaxAmount))
	}
	if !amount.Equal(money.Round2(amount)) {
		return decimal.Zero, apperr.Validation("amount", "o valor aceita no máximo 2 casas decimais")
	}
	return amount, nil
}

func toRepoEntry(e Entry, amountMinor int64) repo.LedgerEntry {
	return repo.LedgerEntry{
		AccountID:   e.AccountID,
		AmountMinor: amountMinor,
		Type:        e.Type,
		Description: optional(e.Description),
		OrderRef:    optional(e.OrderRef),
		ReferenceID: optional(e.ReferenceID),
	}
}

func fromRepo(t repo.WalletTransaction) Transaction {
	return Transaction{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Amount:      money.FromMinor(t.AmountMinor),
		Type:        t.Type,
		Description: deref(t.Description),
		OrderRef:    deref(t.OrderRef),
		ReferenceID: deref(t.ReferenceID),
		CreatedAt:   t.CreatedAt,
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
