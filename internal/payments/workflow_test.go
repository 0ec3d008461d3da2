package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"socialboost/internal/apperr"
	"socialboost/internal/e2p"
	"socialboost/internal/ledger"
	"socialboost/internal/logging"
	"socialboost/internal/notify"
	"socialboost/internal/repo"
	"socialboost/migrations"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type gatewayStub struct {
	calls        atomic.Int32
	paymentCalls atomic.Int32
	status       int
	body         string
	tokenStatus  int
	delay        time.Duration
}

func (g *gatewayStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		g.calls.Add(1)
		if g.tokenStatus != 0 {
			w.WriteHeader(g.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/c2b/", func(w http.ResponseWriter, r *http.Request) {
		g.calls.Add(1)
		g.paymentCalls.Add(1)
		if g.delay > 0 {
			select {
			case <-time.After(g.delay):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(g.status)
		_, _ = w.Write([]byte(g.body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type attemptRecorder struct {
	*repo.SQLiteRepository
	mu  sync.Mutex
	ids []string
}

func (s *attemptRecorder) InsertPaymentAttempt(ctx context.Context, a repo.PaymentAttempt) (*repo.PaymentAttempt, error) {
	out, err := s.SQLiteRepository.InsertPaymentAttempt(ctx, a)
	if err == nil {
		s.mu.Lock()
		s.ids = append(s.ids, out.ID)
		s.mu.Unlock()
	}
	return out, err
}

func (s *attemptRecorder) last(t *testing.T) *repo.PaymentAttempt {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		t.Fatal("no payment attempt recorded")
	}
	a, err := s.GetPaymentAttempt(context.Background(), s.ids[len(s.ids)-1])
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	return a
}

type failingCreditLedger struct {
	*ledger.Service
}

func (failingCreditLedger) Credit(context.Context, ledger.Entry) (ledger.Result, error) {
	return ledger.Result{}, errors.New("database unavailable")
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(evt notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

type fixture struct {
	store    *attemptRecorder
	ledger   *ledger.Service
	gateway  *gatewayStub
	client   *e2p.Client
	url      string
	notifier *recordingNotifier
	account  string
}

func newFixture(t *testing.T, status int, body string) *fixture {
	t.Helper()
	ctx := context.Background()
	sqlite, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "payments.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(sqlite.Close)
	if err := sqlite.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	led := ledger.New(sqlite, logging.Discard(), nil, ledger.Config{})
	acct, err := led.OpenAccount(ctx, repo.Account{})
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	if err := sqlite.SetAccountBlocked(ctx, acct.ID, true); err != nil {
		t.Fatalf("block: %v", err)
	}

	gw := &gatewayStub{status: status, body: body}
	srv := gw.server(t)
	client := e2p.New(e2p.Config{
		BaseURL:        srv.URL,
		ClientID:       "client",
		ClientSecret:   "secret",
		MpesaShortcode: "999813",
		EmolaShortcode: "999814",
		Timeout:        2 * time.Second,
	}, logging.Discard(), nil, nil)

	return &fixture{
		store:    &attemptRecorder{SQLiteRepository: sqlite},
		ledger:   led,
		gateway:  gw,
		client:   client,
		url:      srv.URL,
		notifier: &recordingNotifier{},
		account:  acct.ID,
	}
}

func (f *fixture) workflow() *Workflow {
	return New(f.store, f.ledger, f.client, f.notifier, logging.Discard(), nil)
}

func (f *fixture) history(t *testing.T) []ledger.Transaction {
	t.Helper()
	h, err := f.ledger.History(context.Background(), f.account, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return h
}

func TestRechargeSuccessCreditsAndUnblocks(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"success":"Transação concluída com sucesso"}`)
	ctx := context.Background()

	receipt, err := f.workflow().Recharge(ctx, RechargeRequest{AccountID: f.account, Amount: decimal.NewFromInt(200), Phone: "841234567", Method: "mpesa"})
	if err != nil {
		t.Fatalf("recharge: %v", err)
	}
	if !receipt.NewBalance.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected balance 200, got %s", receipt.NewBalance)
	}
	history := f.history(t)
	if len(history) != 1 || history[0].Type != repo.TxDeposit || !history[0].Amount.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected one +200 deposit, got %+v", history)
	}
	if history[0].Description != "Recarga via MPESA - 841234567" || history[0].ReferenceID != "mpesa-"+receipt.Reference {
		t.Fatalf("unexpected deposit labels %+v", history[0])
	}
	acct, err := f.ledger.GetAccount(ctx, f.account)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.IsBlocked {
		t.Fatal("account must be unblocked after a successful recharge")
	}
	attempt := f.store.last(t)
	if attempt.Status != repo.AttemptSucceeded || attempt.TransactionID == nil || *attempt.TransactionID != receipt.TransactionID {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].Kind != notify.KindRechargeApproved {
		t.Fatalf("expected recharge.approved event, got %+v", f.notifier.events)
	}
}

func TestRechargeValidationMakesNoNetworkCall(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"success":"sucesso"}`)
	ctx := context.Background()
	cases := []RechargeRequest{
		{AccountID: f.account, Amount: decimal.NewFromInt(200), Phone: "811234567", Method: "mpesa"},
		{AccountID: f.account, Amount: decimal.NewFromInt(200), Phone: "841234567", Method: "emola"},
		{AccountID: f.account, Amount: decimal.NewFromInt(49), Phone: "841234567", Method: "mpesa"},
		{AccountID: f.account, Amount: decimal.NewFromInt(200), Phone: "841234567", Method: "paypal"},
		{AccountID: f.account, Amount: decimal.NewFromInt(200), Phone: "", Method: "mpesa"},
		{AccountID: f.account, Amount: decimal.RequireFromString("184467440737095516.17"), Phone: "841234567", Method: "mpesa"},
	}
	for _, c := range cases {
		_, err := f.workflow().Recharge(ctx, c)
		if _, ok := apperr.AsValidation(err); !ok {
			t.Fatalf("expected ValidationError for %+v, got %v", c, err)
		}
	}
	if f.gateway.calls.Load() != 0 {
		t.Fatalf("validation failures must not reach the gateway, got %d calls", f.gateway.calls.Load())
	}
	if len(f.history(t)) != 0 {
		t.Fatal("validation failures must not touch the ledger")
	}
}

func TestRechargeNonJSONIsUnavailable(t *testing.T) {
	f := newFixture(t, http.StatusBadGateway, `<html><body>Bad Gateway</body></html>`)
	_, err := f.workflow().Recharge(context.Background(), RechargeRequest{AccountID: f.account, Amount: decimal.NewFromInt(100), Phone: "861234567", Method: "emola"})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if len(f.history(t)) != 0 {
		t.Fatal("ambiguous outcome must not credit")
	}
	if a := f.store.last(t); a.Status != repo.AttemptAmbiguous || a.Detail["outcome"] != "ambiguous" {
		t.Fatalf("expected ambiguous attempt, got %+v", a)
	}
}

func TestRechargeDeclined(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"error":"Saldo insuficiente na carteira"}`)
	_, err := f.workflow().Recharge(context.Background(), RechargeRequest{AccountID: f.account, Amount: decimal.NewFromInt(100), Phone: "851234567", Method: "mpesa"})
	if !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}
	if len(f.history(t)) != 0 {
		t.Fatal("declined payment must not credit")
	}
	if a := f.store.last(t); a.Status != repo.AttemptDeclined {
		t.Fatalf("expected declined attempt, got %s", a.Status)
	}
}

func TestRechargeUnauthorized(t *testing.T) {
	f := newFixture(t, http.StatusUnauthorized, `{"message":"Unauthenticated."}`)
	_, err := f.workflow().Recharge(context.Background(), RechargeRequest{AccountID: f.account, Amount: decimal.NewFromInt(100), Phone: "841234567", Method: "mpesa"})
	if !errors.Is(err, ErrGatewayAuth) {
		t.Fatalf("expected ErrGatewayAuth, got %v", err)
	}
	if a := f.store.last(t); a.Status != repo.AttemptAuthFailed {
		t.Fatalf("expected auth_failed attempt, got %s", a.Status)
	}
}

func TestRechargeTokenRejected(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"success":"Pagamento realizado com sucesso"}`)
	f.gateway.tokenStatus = http.StatusUnauthorized

	_, err := f.workflow().Recharge(context.Background(), RechargeRequest{AccountID: f.account, Amount: decimal.NewFromInt(100), Phone: "841234567", Method: "mpesa"})
	if !errors.Is(err, ErrGatewayAuth) {
		t.Fatalf("expected ErrGatewayAuth, got %v", err)
	}
	if f.gateway.paymentCalls.Load() != 0 {
		t.Fatal("payment must not be submitted without a token")
	}
	if len(f.history(t)) != 0 {
		t.Fatal("token failure must not touch the ledger")
	}
	if a := f.store.last(t); a.Status != repo.AttemptAuthFailed || a.Detail["stage"] != "token" {
		t.Fatalf("expected auth_failed attempt at token stage, got %+v", a)
	}
}

func TestRechargeTimeoutIsAmbiguous(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"success":"Pagamento realizado com sucesso"}`)
	f.gateway.delay = 2 * time.Second
	f.client = e2p.New(e2p.Config{
		BaseURL:        f.url,
		ClientID:       "client",
		ClientSecret:   "secret",
		MpesaShortcode: "999813",
		EmolaShortcode: "999814",
		Timeout:        100 * time.Millisecond,
	}, logging.Discard(), nil, nil)

	_, err := f.workflow().Recharge(context.Background(), RechargeRequest{AccountID: f.account, Amount: decimal.NewFromInt(100), Phone: "841234567", Method: "mpesa"})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if f.gateway.paymentCalls.Load() != 1 {
		t.Fatalf("expected one payment call, got %d", f.gateway.paymentCalls.Load())
	}
	bal, err := f.ledger.Balance(context.Background(), f.account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.IsZero() || len(f.history(t)) != 0 {
		t.Fatalf("timeout must not credit, balance=%s", bal)
	}
	if a := f.store.last(t); a.Status != repo.AttemptAmbiguous || a.Detail["stage"] != "payment" {
		t.Fatalf("expected ambiguous attempt, got %+v", a)
	}
}

func TestRechargeUnknownAccount(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"success":"sucesso"}`)
	_, err := f.workflow().Recharge(context.Background(), RechargeRequest{AccountID: uuid.NewString(), Amount: decimal.NewFromInt(100), Phone: "841234567", Method: "mpesa"})
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if f.gateway.calls.Load() != 0 {
		t.Fatal("unknown accounts must not reach the gateway")
	}
}

func TestRechargeCreditFailureMarksUnsettled(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"success":"Pagamento realizado com sucesso"}`)
	wf := New(f.store, failingCreditLedger{f.ledger}, f.client, f.notifier, logging.Discard(), nil)

	_, err := wf.Recharge(context.Background(), RechargeRequest{AccountID: f.account, Amount: decimal.NewFromInt(100), Phone: "841234567", Method: "mpesa"})
	if err == nil {
		t.Fatal("expected failure when the credit cannot be written")
	}
	if errors.Is(err, ErrPaymentDeclined) || errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("settlement failure must not look like a gateway failure: %v", err)
	}
	a := f.store.last(t)
	if a.Status != repo.AttemptUnsettled || a.Detail["settle_error"] == nil {
		t.Fatalf("expected unsettled attempt with error detail, got %+v", a)
	}
	if len(f.notifier.events) != 0 {
		t.Fatal("unsettled recharges must not notify")
	}
}

func TestReference(t *testing.T) {
	id := uuid.MustParse("abcdef12-3456-7890-abcd-ef1234567890")
	ref := Reference("0f1e2d3c-aaaa-bbbb-cccc-000000000000", id)
	if ref != "sb0f1e2d3cabcdef" {
		t.Fatalf("unexpected reference %q", ref)
	}
}
