package ledger

import (
	"errors"
	"fmt"

	"socialboost/internal/money"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound is returned when the account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientFunds matches any *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrOrderNotCancellable is returned when a refund's order transition lost to another status change.
	ErrOrderNotCancellable = errors.New("order cannot be cancelled in its current status")
	// ErrDuplicateEntry is returned when a reference or order refund was already recorded.
	ErrDuplicateEntry = errors.New("ledger entry already recorded")
)

// InsufficientFundsError reports a debit rejected against the freshly read balance.
type InsufficientFundsError struct {
	Balance decimal.Decimal
	Amount  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, required %s", money.Format(e.Balance), money.Format(e.Amount))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Shortfall is how much the customer is missing.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Amount.Sub(e.Balance)
}
