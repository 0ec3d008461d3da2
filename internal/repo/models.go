package repo

import "time"

// Transaction types recorded in wallet_transactions.
const (
	TxDeposit      = "deposit"
	TxOrderPayment = "order_payment"
	TxRefund       = "refund"
	TxWithdrawal   = "withdrawal"
)

// Order statuses.
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"
)

// Payment attempt statuses.
const (
	AttemptPending    = "pending"
	AttemptSucceeded  = "succeeded"
	AttemptDeclined   = "declined"
	AttemptAmbiguous  = "ambiguous"
	AttemptAuthFailed = "auth_failed"
	AttemptUnsettled  = "unsettled"
)

// Account represents the accounts table row. Balance is in centavos.
type Account struct {
	ID           string
	DisplayName  *string
	Phone        *string
	Email        *string
	BalanceMinor int64
	IsBlocked    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Service represents a purchasable package in the catalog.
type Service struct {
	ID                string
	Platform          string
	Name              string
	Description       *string
	PricePer1000Minor int64
	MinQuantity       int64
	MaxQuantity       int64
	DailyLimit        int64
	EstimatedTime     *string
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Order represents a row in orders table.
type Order struct {
	ID              string
	AccountID       string
	ServiceID       string
	Quantity        int64
	Link            string
	TotalPriceMinor int64
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WalletTransaction is an immutable ledger entry. AmountMinor is signed.
type WalletTransaction struct {
	ID          string
	AccountID   string
	AmountMinor int64
	Type        string
	Description *string
	OrderRef    *string
	ReferenceID *string
	CreatedAt   time.Time
}

// OrderTransition is applied in the same transaction as a ledger entry.
// The update only succeeds while the order is in one of From.
type OrderTransition struct {
	OrderID string
	From    []string
	To      string
}

// LedgerEntry describes one balance mutation and the transaction row recording it.
type LedgerEntry struct {
	AccountID   string
	AmountMinor int64
	Type        string
	Description *string
	OrderRef    *string
	ReferenceID *string
	Transition  *OrderTransition
}

// PaymentAttempt records one mobile money recharge call.
type PaymentAttempt struct {
	ID            string
	AccountID     string
	AmountMinor   int64
	Phone         string
	Method        string
	Reference     string
	Status        string
	TransactionID *string
	Detail        map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DashboardCounts aggregates the numbers shown on the admin dashboard.
type DashboardCounts struct {
	Accounts      int64
	Orders        int64
	PendingOrders int64
	RevenueMinor  int64
}
