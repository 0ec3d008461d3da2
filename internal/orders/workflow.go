// Package orders places customer orders against the wallet and drives their
// status lifecycle. The debit always happens before the order row exists; a
// failed insert is compensated with a refund.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"socialboost/internal/apperr"
	"socialboost/internal/ledger"
	"socialboost/internal/metrics"
	"socialboost/internal/money"
	"socialboost/internal/notify"
	"socialboost/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrAccountBlocked is returned when a blocked account tries to order.
	ErrAccountBlocked = errors.New("account is blocked")
	// ErrInvalidTransition is returned when the order is not in a status that allows the change.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrOrderNotFound is returned for unknown order ids.
	ErrOrderNotFound = errors.New("order not found")
)

var thousand = decimal.NewFromInt(1000)

// Store is the order persistence.
type Store interface {
	GetService(ctx context.Context, id string) (*repo.Service, error)
	InsertOrder(ctx context.Context, order repo.Order) (*repo.Order, error)
	GetOrder(ctx context.Context, id string) (*repo.Order, error)
	ListOrdersByAccount(ctx context.Context, accountID string, limit int) ([]repo.Order, error)
	TransitionOrder(ctx context.Context, t repo.OrderTransition) (*repo.Order, error)
}

// Ledger is the subset of the ledger service used by orders.
type Ledger interface {
	GetAccount(ctx context.Context, accountID string) (*repo.Account, error)
	Debit(ctx context.Context, e ledger.Entry) (ledger.Result, error)
	Refund(ctx context.Context, accountID string, amount decimal.Decimal, orderRef, description string) (ledger.Result, error)
	RefundOrder(ctx context.Context, charge ledger.OrderCharge, description string) (ledger.Result, error)
}

// Notifier receives operator events.
type Notifier interface {
	Notify(evt notify.Event)
}

// PlaceRequest is a customer order.
type PlaceRequest struct {
	AccountID string
	ServiceID string
	Quantity  int64
	Link      string
}

// Order is the API view of an order.
type Order struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"accountId"`
	ServiceID  string          `json:"serviceId"`
	Quantity   int64           `json:"quantity"`
	Link       string          `json:"link"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Placement is the result of a successful Place.
type Placement struct {
	Order      Order
	NewBalance decimal.Decimal
}

// Workflow implements order placement and status changes.
type Workflow struct {
	store    Store
	ledger   Ledger
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New constructs the workflow. notifier may be nil.
func New(store Store, l Ledger, notifier Notifier, logger *slog.Logger, m *metrics.Metrics) *Workflow {
	return &Workflow{
		store:    store,
		ledger:   l,
		notifier: notifier,
		logger:   logger.With("component", "orders"),
		metrics:  m,
	}
}

// Place validates the request, debits the wallet and records the order.
func (w *Workflow) Place(ctx context.Context, req PlaceRequest) (*Placement, error) {
	link := strings.TrimSpace(req.Link)
	if link == "" {
		return nil, apperr.Validation("link", "O link é obrigatório")
	}

	account, err := w.ledger.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if account.IsBlocked {
		return nil, ErrAccountBlocked
	}

	svc, err := w.store.GetService(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.Validation("serviceId", "Serviço não encontrado")
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	if !svc.IsActive {
		return nil, apperr.Validation("serviceId", "Serviço indisponível")
	}
	if req.Quantity < svc.MinQuantity || req.Quantity > svc.MaxQuantity {
		return nil, apperr.Validation("quantity", fmt.Sprintf("A quantidade deve estar entre %d e %d", svc.MinQuantity, svc.MaxQuantity))
	}

	total := TotalPrice(req.Quantity, money.FromMinor(svc.PricePer1000Minor))
	if !total.IsPositive() {
		return nil, apperr.Validation("quantity", "O valor do pedido é demasiado baixo")
	}

	orderID := uuid.NewString()
	short := notify.ShortID(orderID)
	debit, err := w.ledger.Debit(ctx, ledger.Entry{
		AccountID:   account.ID,
		Amount:      total,
		Type:        repo.TxOrderPayment,
		Description: fmt.Sprintf("Pagamento pedido #%s - %s", short, svc.Name),
		OrderRef:    orderID,
	})
	if err != nil {
		return nil, err
	}

	row, err := w.store.InsertOrder(ctx, repo.Order{
		ID:              orderID,
		AccountID:       account.ID,
		ServiceID:       svc.ID,
		Quantity:        req.Quantity,
		Link:            link,
		TotalPriceMinor: money.ToMinor(total),
		Status:          repo.OrderPending,
	})
	if err != nil {
		w.compensate(ctx, account.ID, orderID, total, err)
		return nil, fmt.Errorf("register order: %w", err)
	}

	w.countStatus(repo.OrderPending)
	w.logger.Info("order placed",
		"order_id", orderID,
		"account_id", account.ID,
		"service_id", svc.ID,
		"quantity", req.Quantity,
		"total", total.StringFixed(2),
	)

	if w.notifier != nil {
		w.notifier.Notify(notify.OrderCreated(notify.OrderDetails{
			OrderID:       orderID,
			AccountID:     account.ID,
			CustomerName:  deref(account.DisplayName),
			CustomerPhone: deref(account.Phone),
			ServiceName:   svc.Name,
			Platform:      svc.Platform,
			Quantity:      int(req.Quantity),
			Total:         total,
			Link:          link,
		}))
	}

	return &Placement{Order: fromRepo(*row), NewBalance: debit.NewBalance}, nil
}

func (w *Workflow) compensate(ctx context.Context, accountID, orderID string, total decimal.Decimal, cause error) {
	description := fmt.Sprintf("Estorno automático: falha ao registar pedido #%s", notify.ShortID(orderID))
	// The refund must run even when the request context is already gone.
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := w.ledger.Refund(refundCtx, accountID, total, orderID, description); err != nil {
		w.logger.Error("order compensation failed",
			"order_id", orderID,
			"account_id", accountID,
			"amount", total.StringFixed(2),
			"insert_error", cause,
			"error", err,
			"manual_reconciliation", true,
		)
		w.countCompensation("failed")
		w.metrics.IncError("orders_compensation")
		return
	}
	w.logger.Warn("order insert failed, payment refunded",
		"order_id", orderID,
		"account_id", accountID,
		"amount", total.StringFixed(2),
		"error", cause,
	)
	w.countCompensation("refunded")
}

// Transition moves an order to status to. Cancellation refunds the order total atomically.
func (w *Workflow) Transition(ctx context.Context, orderID, to string) (*Order, error) {
	current, err := w.get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var from []string
	switch to {
	case repo.OrderProcessing:
		from = []string{repo.OrderPending}
	case repo.OrderCompleted:
		from = []string{repo.OrderProcessing}
	case repo.OrderCancelled:
		return w.cancel(ctx, current)
	default:
		return nil, apperr.Validation("status", fmt.Sprintf("estado inválido: %q", to))
	}

	updated, err := w.store.TransitionOrder(ctx, repo.OrderTransition{OrderID: orderID, From: from, To: to})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
		}
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("transition order: %w", err)
	}
	w.countStatus(to)
	w.logger.Info("order status changed", "order_id", orderID, "from", current.Status, "to", to)
	out := fromRepo(*updated)
	return &out, nil
}

func (w *Workflow) cancel(ctx context.Context, order *repo.Order) (*Order, error) {
	_, err := w.ledger.RefundOrder(ctx, ledger.OrderCharge{
		OrderID:   order.ID,
		AccountID: order.AccountID,
		Total:     money.FromMinor(order.TotalPriceMinor),
	}, fmt.Sprintf("Estorno do pedido #%s", notify.ShortID(order.ID)))
	if err != nil {
		if errors.Is(err, ledger.ErrOrderNotCancellable) || errors.Is(err, ledger.ErrDuplicateEntry) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, repo.OrderCancelled)
		}
		return nil, err
	}
	w.countStatus(repo.OrderCancelled)
	w.logger.Info("order cancelled and refunded", "order_id", order.ID, "account_id", order.AccountID, "from", order.Status)
	return w.Get(ctx, order.ID)
}

// Get returns a single order.
func (w *Workflow) Get(ctx context.Context, orderID string) (*Order, error) {
	row, err := w.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	out := fromRepo(*row)
	return &out, nil
}

// ListForAccount returns the newest orders of an account.
func (w *Workflow) ListForAccount(ctx context.Context, accountID string, limit int) ([]Order, error) {
	if _, err := w.ledger.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	rows, err := w.store.ListOrdersByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRepo(row))
	}
	return out, nil
}

func (w *Workflow) get(ctx context.Context, orderID string) (*repo.Order, error) {
	row, err := w.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return row, nil
}

// TotalPrice is quantity/1000 × pricePer1000, rounded to two decimals.
func TotalPrice(quantity int64, pricePer1000 decimal.Decimal) decimal.Decimal {
	return money.Round2(decimal.NewFromInt(quantity).Mul(pricePer1000).Div(thousand))
}

func (w *Workflow) countStatus(status string) {
	if w.metrics != nil {
		w.metrics.Orders.WithLabelValues(status).Inc()
	}
}

func (w *Workflow) countCompensation(outcome string) {
	if w.metrics != nil {
		w.metrics.LedgerCompensations.WithLabelValues(outcome).Inc()
	}
}

func fromRepo(o repo.Order) Order {
	return Order{
		ID:         o.ID,
		AccountID:  o.AccountID,
		ServiceID:  o.ServiceID,
		Quantity:   o.Quantity,
		Link:       o.Link,
		TotalPrice: money.FromMinor(o.TotalPriceMinor),
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
