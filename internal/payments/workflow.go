// Package payments settles mobile money recharges. Every attempt is recorded
// before the gateway is called; the wallet is credited only when the gateway
// unambiguously confirms the charge.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"socialboost/internal/apperr"
	"socialboost/internal/e2p"
	"socialboost/internal/ledger"
	"socialboost/internal/metrics"
	"socialboost/internal/money"
	"socialboost/internal/notify"
	"socialboost/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrGatewayAuth is returned when the gateway rejects our credentials.
	ErrGatewayAuth = errors.New("payment gateway authentication failed")
	// ErrGatewayUnavailable is returned when the outcome of the charge is unknown.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrPaymentDeclined is returned when the gateway answered without confirming the charge.
	ErrPaymentDeclined = errors.New("payment declined")
)

var (
	minimumRecharge = decimal.NewFromInt(50)
	mpesaPhone      = regexp.MustCompile(`^8[45]\d{7}$`)
	emolaPhone      = regexp.MustCompile(`^8[67]\d{7}$`)
)

const persistTimeout = 10 * time.Second

// Store is the attempt and account persistence used by recharges.
type Store interface {
	InsertPaymentAttempt(ctx context.Context, attempt repo.PaymentAttempt) (*repo.PaymentAttempt, error)
	UpdatePaymentAttempt(ctx context.Context, id, status string, transactionID *string, detail map[string]any) error
	SetAccountBlocked(ctx context.Context, id string, blocked bool) error
}

// Ledger is the subset of the ledger used to credit recharges.
type Ledger interface {
	GetAccount(ctx context.Context, accountID string) (*repo.Account, error)
	Credit(ctx context.Context, e ledger.Entry) (ledger.Result, error)
}

// Gateway is the mobile money provider.
type Gateway interface {
	Token(ctx context.Context) (string, error)
	Pay(ctx context.Context, req e2p.PaymentRequest) (*e2p.PaymentResponse, error)
}

// Notifier receives operator events.
type Notifier interface {
	Notify(evt notify.Event)
}

// RechargeRequest asks to pull Amount from the customer's mobile wallet.
type RechargeRequest struct {
	AccountID string
	Amount    decimal.Decimal
	Phone     string
	Method    string
}

// Receipt describes a settled recharge.
type Receipt struct {
	AttemptID     string          `json:"attemptId"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	NewBalance    decimal.Decimal `json:"newBalance"`
	TransactionID string          `json:"transactionId"`
}

// Workflow runs recharges.
type Workflow struct {
	store    Store
	ledger   Ledger
	gateway  Gateway
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New constructs the workflow. notifier may be nil.
func New(store Store, l Ledger, gateway Gateway, notifier Notifier, logger *slog.Logger, m *metrics.Metrics) *Workflow {
	return &Workflow{
		store:    store,
		ledger:   l,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger.With("component", "payments"),
		metrics:  m,
	}
}

// Validate checks a request without touching storage or the network.
func Validate(req RechargeRequest) (e2p.Method, string, error) {
	method, ok := e2p.ParseMethod(req.Method)
	if !ok {
		return "", "", apperr.Validation("method", "Método de pagamento inválido")
	}
	if req.Amount.LessThan(minimumRecharge) {
		return "", "", apperr.Validation("amount", "Valor mínimo de recarga é 50 MZN")
	}
	if !money.InRange(req.Amount) {
		return "", "", apperr.Validation("amount", "Valor máximo de recarga é "+money.Format(money.MaxAmount))
	}
	if !req.Amount.Equal(money.Round2(req.Amount)) {
		return "", "", apperr.Validation("amount", "O valor aceita no máximo 2 casas decimais")
	}
	phone := strings.ReplaceAll(strings.TrimSpace(req.Phone), " ", "")
	if phone == "" {
		return "", "", apperr.Validation("phone", "Por favor, insira o número de telefone")
	}
	switch method {
	case e2p.MethodMpesa:
		if !mpesaPhone.MatchString(phone) {
			return "", "", apperr.Validation("phone", "Número M-Pesa inválido (deve começar com 84 ou 85)")
		}
	case e2p.MethodEmola:
		if !emolaPhone.MatchString(phone) {
			return "", "", apperr.Validation("phone", "Número E-Mola inválido (deve começar com 86 ou 87)")
		}
	}
	return method, phone, nil
}

// Recharge charges the customer's mobile wallet and credits the account on confirmed success.
func (w *Workflow) Recharge(ctx context.Context, req RechargeRequest) (*Receipt, error) {
	method, phone, err := Validate(req)
	if err != nil {
		return nil, err
	}
	account, err := w.ledger.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	attemptID := uuid.New()
	reference := Reference(account.ID, attemptID)
	attempt, err := w.store.InsertPaymentAttempt(ctx, repo.PaymentAttempt{
		ID:          attemptID.String(),
		AccountID:   account.ID,
		AmountMinor: money.ToMinor(req.Amount),
		Phone:       phone,
		Method:      string(method),
		Reference:   reference,
		Status:      repo.AttemptPending,
	})
	if err != nil {
		return nil, fmt.Errorf("record payment attempt: %w", err)
	}
	logger := w.logger.With("attempt_id", attempt.ID, "account_id", account.ID, "method", string(method), "reference", reference)

	if _, err := w.gateway.Token(ctx); err != nil {
		w.finish(ctx, logger, attempt.ID, repo.AttemptAuthFailed, nil, map[string]any{"error": err.Error(), "stage": "token"})
		w.count(method, "auth_failed")
		logger.Error("gateway token exchange failed", "error", err)
		if errors.Is(err, e2p.ErrAuth) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayAuth, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	resp, err := w.gateway.Pay(ctx, e2p.PaymentRequest{
		Method:    method,
		Amount:    req.Amount,
		Reference: reference,
		Phone:     phone,
	})
	if err != nil {
		if errors.Is(err, e2p.ErrAuth) {
			w.finish(ctx, logger, attempt.ID, repo.AttemptAuthFailed, nil, map[string]any{"error": err.Error(), "stage": "payment"})
			w.count(method, "auth_failed")
			logger.Error("gateway rejected bearer token", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrGatewayAuth, err)
		}
		w.finish(ctx, logger, attempt.ID, repo.AttemptAmbiguous, nil, map[string]any{"error": err.Error(), "stage": "payment"})
		w.count(method, "ambiguous")
		logger.Error("gateway call failed, outcome unknown", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	switch resp.Outcome {
	case e2p.OutcomeDeclined:
		w.finish(ctx, logger, attempt.ID, repo.AttemptDeclined, nil, resp.Detail())
		w.count(method, "declined")
		logger.Warn("payment declined", "http_status", resp.StatusCode, "message", resp.Message)
		return nil, ErrPaymentDeclined
	case e2p.OutcomeAmbiguous:
		w.finish(ctx, logger, attempt.ID, repo.AttemptAmbiguous, nil, resp.Detail())
		w.count(method, "ambiguous")
		logger.Error("gateway answer not understood, attempt kept for reconciliation", "http_status", resp.StatusCode)
		return nil, fmt.Errorf("%w: unreadable gateway response", ErrGatewayUnavailable)
	}

	return w.settle(ctx, logger, attempt.ID, account.ID, method, phone, reference, req.Amount, resp)
}

func (w *Workflow) settle(ctx context.Context, logger *slog.Logger, attemptID, accountID string, method e2p.Method, phone, reference string, amount decimal.Decimal, resp *e2p.PaymentResponse) (*Receipt, error) {
	// The customer has been charged: persistence below must not be cut short by the caller.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	credit, err := w.ledger.Credit(ctx, ledger.Entry{
		AccountID:   accountID,
		Amount:      amount,
		Type:        repo.TxDeposit,
		Description: fmt.Sprintf("Recarga via %s - %s", strings.ToUpper(string(method)), phone),
		ReferenceID: fmt.Sprintf("%s-%s", method, reference),
	})
	if err != nil {
		detail := resp.Detail()
		detail["settle_error"] = err.Error()
		w.finish(ctx, logger, attemptID, repo.AttemptUnsettled, nil, detail)
		w.count(method, "unsettled")
		w.metrics.IncError("payments_settle")
		logger.Error("gateway charged the customer but the wallet credit failed",
			"amount", amount.StringFixed(2),
			"error", err,
			"manual_reconciliation", true,
		)
		return nil, fmt.Errorf("settle recharge %s: %w", reference, err)
	}

	txID := credit.Transaction.ID
	w.finish(ctx, logger, attemptID, repo.AttemptSucceeded, &txID, resp.Detail())
	w.count(method, "succeeded")

	if err := w.store.SetAccountBlocked(ctx, accountID, false); err != nil {
		logger.Warn("unblock account after recharge failed", "error", err)
	}

	logger.Info("recharge settled", "amount", amount.StringFixed(2), "transaction_id", txID, "balance", credit.NewBalance.StringFixed(2))

	if w.notifier != nil {
		w.notifier.Notify(notify.RechargeApproved(notify.RechargeDetails{
			AccountID: accountID,
			Amount:    amount,
			Method:    string(method),
			Phone:     phone,
			Reference: reference,
		}))
	}

	return &Receipt{
		AttemptID:     attemptID,
		Reference:     reference,
		Amount:        amount,
		NewBalance:    credit.NewBalance,
		TransactionID: txID,
	}, nil
}

func (w *Workflow) finish(ctx context.Context, logger *slog.Logger, attemptID, status string, transactionID *string, detail map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := w.store.UpdatePaymentAttempt(ctx, attemptID, status, transactionID, detail); err != nil {
		logger.Error("update payment attempt failed", "status", status, "error", err)
		w.metrics.IncError("payments_attempt")
	}
}

func (w *Workflow) count(method e2p.Method, outcome string) {
	if w.metrics != nil {
		w.metrics.Recharges.WithLabelValues(string(method), outcome).Inc()
	}
}

// Reference builds the gateway reference: "sb", the first eight characters of
// the account id and six hex characters of the attempt id.
func Reference(accountID string, attemptID uuid.UUID) string {
	prefix := strings.ReplaceAll(accountID, "-", "")
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	nonce := strings.ReplaceAll(attemptID.String(), "-", "")[:6]
	return "sb" + prefix + nonce
}
