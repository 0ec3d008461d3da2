package notify

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names an operator event. It doubles as the AMQP routing key.
type Kind string

const (
	KindOrderCreated     Kind = "order.created"
	KindRechargeApproved Kind = "recharge.approved"
)

// Event is a fire-and-forget operator notification.
type Event struct {
	Kind       Kind             `json:"kind"`
	OccurredAt time.Time        `json:"occurred_at"`
	Order      *OrderDetails    `json:"order,omitempty"`
	Recharge   *RechargeDetails `json:"recharge,omitempty"`
}

// OrderDetails describes a freshly placed order.
type OrderDetails struct {
	OrderID       string          `json:"order_id"`
	AccountID     string          `json:"account_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	ServiceName   string          `json:"service_name"`
	Platform      string          `json:"platform"`
	Quantity      int             `json:"quantity"`
	Total         decimal.Decimal `json:"total"`
	Link          string          `json:"link"`
}

// RechargeDetails describes an approved wallet recharge.
type RechargeDetails struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Phone     string          `json:"phone"`
	Reference string          `json:"reference"`
}

// OrderCreated builds the order.created event.
func OrderCreated(d OrderDetails) Event {
	return Event{Kind: KindOrderCreated, OccurredAt: time.Now().UTC(), Order: &d}
}

// RechargeApproved builds the recharge.approved event.
func RechargeApproved(d RechargeDetails) Event {
	return Event{Kind: KindRechargeApproved, OccurredAt: time.Now().UTC(), Recharge: &d}
}

// ShortID returns the first eight characters of an id, as shown to operators.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Text is the one-line push message for the event.
func (e Event) Text() string {
	switch {
	case e.Kind == KindOrderCreated && e.Order != nil:
		return fmt.Sprintf("🛒 Novo pedido #%s - %s (%s MZN)", ShortID(e.Order.OrderID), orNA(e.Order.ServiceName), e.Order.Total.StringFixed(2))
	case e.Kind == KindRechargeApproved && e.Recharge != nil:
		return fmt.Sprintf("Recarregamento de %s MZN APROVADO💰", e.Recharge.Amount.String())
	default:
		return string(e.Kind)
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
