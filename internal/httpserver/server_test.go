package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"socialboost/internal/admin"
	"socialboost/internal/auth"
	"socialboost/internal/cache"
	"socialboost/internal/catalog"
	"socialboost/internal/e2p"
	"socialboost/internal/ledger"
	"socialboost/internal/logging"
	"socialboost/internal/orders"
	"socialboost/internal/payments"
	"socialboost/internal/repo"
	"socialboost/migrations"

	"github.com/shopspring/decimal"
)

type testAPI struct {
	server    *Server
	store     *repo.SQLiteRepository
	ledger    *ledger.Service
	serviceID string
	verifier  *auth.JWTVerifier
}

func newTestAPI(t *testing.T, secret string, redis *cache.Redis, gatewayBody string) *testAPI {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "api.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
			return
		}
		_, _ = w.Write([]byte(gatewayBody))
	}))
	t.Cleanup(gateway.Close)

	logger := logging.Discard()
	led := ledger.New(store, logger, nil, ledger.Config{SignupBonus: decimal.NewFromInt(35)})
	cat := catalog.New(store, nil, logger)
	svc, err := cat.Upsert(ctx, catalog.Service{Platform: "instagram", Name: "Seguidores", PricePer1000: decimal.NewFromInt(500), MinQuantity: 100, MaxQuantity: 10000, IsActive: true})
	if err != nil {
		t.Fatalf("upsert service: %v", err)
	}
	client := e2p.New(e2p.Config{BaseURL: gateway.URL, ClientID: "id", ClientSecret: "secret", MpesaShortcode: "999813", EmolaShortcode: "999814", Timeout: 2 * time.Second}, logger, nil, nil)
	verifier := auth.NewJWTVerifier(secret)

	srv := New(":0", logger, nil, Dependencies{
		Storage:  store,
		Ledger:   led,
		Orders:   orders.New(store, led, nil, logger, nil),
		Payments: payments.New(store, led, client, nil, logger, nil),
		Catalog:  cat,
		Admin:    admin.New(store, led, logger),
		Auth:     verifier,
		Redis:    redis,
	}, "/api")
	return &testAPI{server: srv, store: store, ledger: led, serviceID: svc.ID, verifier: verifier}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, "/api"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) openAccount(t *testing.T) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/accounts", map[string]string{"displayName": "Ana", "phone": "841234567"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open account: %d %s", rec.Code, rec.Body.String())
	}
	var view accountView
	decodeBody(t, rec, &view)
	return view.ID
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func bearer(t *testing.T, v *auth.JWTVerifier, actor auth.Actor) http.Header {
	t.Helper()
	tok, err := v.Sign(actor, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return http.Header{"Authorization": {"Bearer " + tok}}
}

func TestHealthAndBasePath(t *testing.T) {
	api := newTestAPI(t, "", nil, `{}`)
	if rec := api.do(t, http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("requests outside the base path must 404, got %d", rec.Code)
	}
}

func TestNormaliseBasePath(t *testing.T) {
	for in, want := range map[string]string{"": "", "/": "", "api": "/api", "/api/": "/api", " /v1 ": "/v1"} {
		if got := normaliseBasePath(in); got != want {
			t.Fatalf("normaliseBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpenAccountAppliesBonus(t *testing.T) {
	api := newTestAPI(t, "", nil, `{}`)
	id := api.openAccount(t)

	rec := api.do(t, http.MethodGet, "/accounts/"+id+"/balance", nil, nil)
	var view accountView
	decodeBody(t, rec, &view)
	if !view.Balance.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("expected bonus balance 35, got %s", view.Balance)
	}

	rec = api.do(t, http.MethodGet, "/accounts/"+id+"/transactions", nil, nil)
	var history struct {
		Transactions []ledger.Transaction `json:"transactions"`
	}
	decodeBody(t, rec, &history)
	if len(history.Transactions) != 1 || history.Transactions[0].Type != repo.TxDeposit {
		t.Fatalf("unexpected history %+v", history.Transactions)
	}
}

func TestPlaceOrderInsufficientFundsIs402WithShortfall(t *testing.T) {
	api := newTestAPI(t, "", nil, `{}`)
	id := api.openAccount(t)

	rec := api.do(t, http.MethodPost, "/orders", map[string]any{"accountId": id, "serviceId": api.serviceID, "quantity": 100, "link": "https://instagram.com/ana"}, nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d %s", rec.Code, rec.Body.String())
	}
	var body errorBody
	decodeBody(t, rec, &body)
	if body.Error != "Saldo insuficiente: faltam 15.00 MZN" {
		t.Fatalf("unexpected message %q", body.Error)
	}
}

func TestPlaceOrderAndCancel(t *testing.T) {
	api := newTestAPI(t, "", nil, `{}`)
	id := api.openAccount(t)
	if rec := api.do(t, http.MethodPost, "/admin/accounts/"+id+"/adjust", map[string]any{"amount": "65"}, nil); rec.Code != http.StatusOK {
		t.Fatalf("adjust: %d %s", rec.Code, rec.Body.String())
	}

	rec := api.do(t, http.MethodPost, "/orders", map[string]any{"accountId": id, "serviceId": api.serviceID, "quantity": 150, "link": "https://instagram.com/ana"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("place order: %d %s", rec.Code, rec.Body.String())
	}
	var placed struct {
		OrderID    string          `json:"orderId"`
		Status     string          `json:"status"`
		TotalPrice decimal.Decimal `json:"totalPrice"`
		NewBalance decimal.Decimal `json:"newBalance"`
	}
	decodeBody(t, rec, &placed)
	if placed.Status != repo.OrderPending || !placed.TotalPrice.Equal(decimal.NewFromInt(75)) || !placed.NewBalance.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("unexpected placement %+v", placed)
	}

	rec = api.do(t, http.MethodPost, "/admin/orders/"+placed.OrderID+"/status", map[string]string{"status": "cancelled"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}
	rec = api.do(t, http.MethodPost, "/admin/orders/"+placed.OrderID+"/status", map[string]string{"status": "cancelled"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel must be 409, got %d", rec.Code)
	}

	rec = api.do(t, http.MethodGet, "/accounts/"+id+"/reconcile", nil, nil)
	var recon ledger.Reconciliation
	decodeBody(t, rec, &recon)
	if !recon.Consistent || !recon.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected reconciliation %+v", recon)
	}
}

func TestBlockedAccountCannotOrder(t *testing.T) {
	api := newTestAPI(t, "", nil, `{}`)
	id := api.openAccount(t)
	if rec := api.do(t, http.MethodPost, "/admin/accounts/"+id+"/block", map[string]bool{"blocked": true}, nil); rec.Code != http.StatusOK {
		t.Fatalf("block: %d", rec.Code)
	}
	rec := api.do(t, http.MethodPost, "/orders", map[string]any{"accountId": id, "serviceId": api.serviceID, "quantity": 100, "link": "https://x"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestLedgerDebitInsufficientIs409(t *testing.T) {
	api := newTestAPI(t, "", nil, `{}`)
	id := api.openAccount(t)
	rec := api.do(t, http.MethodPost, "/ledger/debit", map[string]any{"accountId": id, "amount": "35.01", "type": "withdrawal"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rec.Code, rec.Body.String())
	}
	rec = api.do(t, http.MethodPost, "/ledger/debit", map[string]any{"accountId": id, "amount": "35", "type": "withdrawal"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("exact balance debit: %d %s", rec.Code, rec.Body.String())
	}
	rec = api.do(t, http.MethodPost, "/ledger/credit", map[string]any{"accountId": "00000000-0000-0000-0000-000000000000", "amount": "1", "type": "deposit"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", rec.Code)
	}
}

func TestRechargeErrors(t *testing.T) {
	api := newTestAPI(t, "", nil, `<html>gateway down</html>`)
	id := api.openAccount(t)

	rec := api.do(t, http.MethodPost, "/recharge", map[string]any{"accountId": id, "amount": 200, "phone": "811234567", "method": "mpesa"}, nil)
	var body errorBody
	decodeBody(t, rec, &body)
	if rec.Code != http.StatusBadRequest || !strings.Contains(body.Error, "M-Pesa") {
		t.Fatalf("expected 400 phone validation, got %d %+v", rec.Code, body)
	}

	rec = api.do(t, http.MethodPost, "/recharge", map[string]any{"accountId": id, "amount": 200, "phone": "841234567", "method": "mpesa"}, nil)
	decodeBody(t, rec, &body)
	if rec.Code != http.StatusBadGateway || body.Error != msgUnavailable {
		t.Fatalf("expected 502 unavailable, got %d %+v", rec.Code, body)
	}
	bal, _ := api.ledger.Balance(context.Background(), id)
	if !bal.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("ambiguous recharge changed balance to %s", bal)
	}
}

func TestRechargeSuccess(t *testing.T) {
	api := newTestAPI(t, "", nil, `{"success":"Transação concluída com sucesso"}`)
	id := api.openAccount(t)
	rec := api.do(t, http.MethodPost, "/recharge", map[string]any{"accountId": id, "amount": 200, "phone": "841234567", "method": "mpesa"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recharge: %d %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Success    bool            `json:"success"`
		NewBalance decimal.Decimal `json:"newBalance"`
	}
	decodeBody(t, rec, &out)
	if !out.Success || !out.NewBalance.Equal(decimal.NewFromInt(235)) {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestAuthRules(t *testing.T) {
	api := newTestAPI(t, "s3cret", nil, `{}`)

	if rec := api.do(t, http.MethodGet, "/services", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	adminHdr := bearer(t, api.verifier, auth.Actor{ID: "ops", Role: auth.RoleAdmin})
	rec := api.do(t, http.MethodPost, "/accounts", map[string]string{"displayName": "Ana"}, adminHdr)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin signup: %d %s", rec.Code, rec.Body.String())
	}
	var view accountView
	decodeBody(t, rec, &view)

	owner := bearer(t, api.verifier, auth.Actor{ID: view.ID})
	stranger := bearer(t, api.verifier, auth.Actor{ID: "00000000-0000-0000-0000-000000000001"})

	if rec := api.do(t, http.MethodGet, "/accounts/"+view.ID+"/balance", nil, owner); rec.Code != http.StatusOK {
		t.Fatalf("owner balance: %d", rec.Code)
	}
	if rec := api.do(t, http.MethodGet, "/accounts/"+view.ID+"/balance", nil, stranger); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger balance must be 403, got %d", rec.Code)
	}
	if rec := api.do(t, http.MethodGet, "/admin/stats", nil, owner); rec.Code != http.StatusForbidden {
		t.Fatalf("customer on admin route must be 403, got %d", rec.Code)
	}
	rec = api.do(t, http.MethodGet, "/admin/stats", nil, adminHdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin stats: %d", rec.Code)
	}
	var stats admin.Stats
	decodeBody(t, rec, &stats)
	if stats.Accounts != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestServicesListing(t *testing.T) {
	api := newTestAPI(t, "", nil, `{}`)
	rec := api.do(t, http.MethodGet, "/services?platform=instagram", nil, nil)
	var out struct {
		Services []catalog.Service `json:"services"`
	}
	decodeBody(t, rec, &out)
	if len(out.Services) != 1 || out.Services[0].ID != api.serviceID {
		t.Fatalf("unexpected services %+v", out.Services)
	}
	rec = api.do(t, http.MethodGet, "/services?platform=tiktok", nil, nil)
	decodeBody(t, rec, &out)
	if len(out.Services) != 0 {
		t.Fatalf("expected no tiktok services, got %+v", out.Services)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{orders.ErrAccountBlocked, http.StatusForbidden},
		{payments.ErrPaymentDeclined, http.StatusBadRequest},
		{payments.ErrGatewayAuth, http.StatusBadGateway},
		{ledger.ErrAccountNotFound, http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got, _ := classify(c.err, http.StatusConflict); got != c.want {
			t.Fatalf("classify(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
