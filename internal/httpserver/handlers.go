package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"socialboost/internal/auth"
	"socialboost/internal/catalog"
	"socialboost/internal/ledger"
	"socialboost/internal/money"
	"socialboost/internal/orders"
	"socialboost/internal/payments"
	"socialboost/internal/repo"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

const msgRechargeOK = "Pagamento processado com sucesso!"

type accountView struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Email       string          `json:"email,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
	IsBlocked   bool            `json:"isBlocked"`
}

type ledgerResponse struct {
	NewBalance  decimal.Decimal    `json:"newBalance"`
	Transaction ledger.Transaction `json:"transaction"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeMessage(w, http.StatusBadRequest, msgBadRequest)
		return false
	}
	return true
}

// authorize writes 403 and returns false when the caller may not act on accountID.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, accountID string) bool {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || !actor.CanAccess(accountID) {
		s.writeMessage(w, http.StatusForbidden, msgForbidden)
		return false
	}
	return true
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.deps.Catalog.List(r.Context(), catalog.Filter{
		Platform: q.Get("platform"),
		Query:    q.Get("q"),
		Limit:    queryLimit(r),
	})
	if err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, map[string]any{"services": list})
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		Phone       string `json:"phone"`
		Email       string `json:"email"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	if req.ID == "" && !actor.IsAdmin() {
		req.ID = actor.ID
	}
	if req.ID != "" && !s.authorize(w, r, req.ID) {
		return
	}

	acct, err := s.deps.Ledger.OpenAccount(r.Context(), repo.Account{
		ID:          req.ID,
		DisplayName: optional(req.DisplayName),
		Phone:       optional(req.Phone),
		Email:       optional(req.Email),
	})
	if err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSONStatus(w, http.StatusCreated, toAccountView(acct))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.authorize(w, r, id) {
		return
	}
	acct, err := s.deps.Ledger.GetAccount(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, toAccountView(acct))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.authorize(w, r, id) {
		return
	}
	history, err := s.deps.Ledger.History(r.Context(), id, queryLimit(r))
	if err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, map[string]any{"transactions": history})
}

func (s *Server) handleAccountOrders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.authorize(w, r, id) {
		return
	}
	list, err := s.deps.Orders.ListForAccount(r.Context(), id, queryLimit(r))
	if err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, map[string]any{"orders": list})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Ledger.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId"`
		ServiceID string `json:"serviceId"`
		Quantity  int64  `json:"quantity"`
		Link      string `json:"link"`
	}
	if !s.decode(w, r, &req) || !s.authorize(w, r, req.AccountID) {
		return
	}
	placed, err := s.deps.Orders.Place(r.Context(), orders.PlaceRequest{
		AccountID: req.AccountID,
		ServiceID: req.ServiceID,
		Quantity:  req.Quantity,
		Link:      req.Link,
	})
	if err != nil {
		s.writeError(w, r, err, http.StatusPaymentRequired)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{
		"success":    true,
		"orderId":    placed.Order.ID,
		"status":     placed.Order.Status,
		"totalPrice": placed.Order.TotalPrice,
		"newBalance": placed.NewBalance,
	})
}

func (s *Server) handleRecharge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string          `json:"accountId"`
		Amount    decimal.Decimal `json:"amount"`
		Phone     string          `json:"phone"`
		Method    string          `json:"method"`
	}
	if !s.decode(w, r, &req) || !s.authorize(w, r, req.AccountID) {
		return
	}
	receipt, err := s.deps.Payments.Recharge(r.Context(), payments.RechargeRequest{
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Phone:     req.Phone,
		Method:    req.Method,
	})
	if err != nil {
		s.writeError(w, r, err, http.StatusPaymentRequired)
		return
	}
	writeJSON(w, map[string]any{
		"success":       true,
		"message":       msgRechargeOK,
		"newBalance":    receipt.NewBalance,
		"reference":     receipt.Reference,
		"transactionId": receipt.TransactionID,
	})
}

type ledgerRequest struct {
	AccountID   string          `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	OrderRef    string          `json:"orderRef"`
	ReferenceID string          `json:"referenceId"`
}

func (req ledgerRequest) entry() ledger.Entry {
	return ledger.Entry{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Type:        req.Type,
		Description: req.Description,
		OrderRef:    req.OrderRef,
		ReferenceID: req.ReferenceID,
	}
}

func (s *Server) handleLedgerCredit(w http.ResponseWriter, r *http.Request) {
	var req ledgerRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Ledger.Credit(r.Context(), req.entry())
	if err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, ledgerResponse{NewBalance: res.NewBalance, Transaction: res.Transaction})
}

func (s *Server) handleLedgerDebit(w http.ResponseWriter, r *http.Request) {
	var req ledgerRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Ledger.Debit(r.Context(), req.entry())
	if err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, ledgerResponse{NewBalance: res.NewBalance, Transaction: res.Transaction})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Admin.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	order, err := s.deps.Orders.Transition(r.Context(), chi.URLParam(r, "id"), strings.ToLower(strings.TrimSpace(req.Status)))
	if err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, order)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Blocked bool `json:"blocked"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Admin.SetBlocked(r.Context(), id, req.Blocked); err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, map[string]any{"accountId": id, "blocked": req.Blocked})
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Admin.Adjust(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Description)
	if err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, ledgerResponse{NewBalance: res.NewBalance, Transaction: res.Transaction})
}

func (s *Server) handleUpsertService(w http.ResponseWriter, r *http.Request) {
	var req catalog.Service
	if !s.decode(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	svc, err := s.deps.Catalog.Upsert(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, svc)
}

func (s *Server) handleReloadCatalog(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Catalog.Reload(r.Context())
	if err != nil {
		s.logger.Error("failed reloading catalog cache", "error", err)
		s.writeError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, map[string]any{
		"status": "ok",
		"count":  n,
	})
}

func toAccountView(a *repo.Account) accountView {
	return accountView{
		ID:          a.ID,
		DisplayName: deref(a.DisplayName),
		Phone:       deref(a.Phone),
		Email:       deref(a.Email),
		Balance:     money.FromMinor(a.BalanceMinor),
		IsBlocked:   a.IsBlocked,
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
