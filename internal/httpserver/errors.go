package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"socialboost/internal/apperr"
	"socialboost/internal/catalog"
	"socialboost/internal/ledger"
	"socialboost/internal/money"
	"socialboost/internal/orders"
	"socialboost/internal/payments"
	"socialboost/internal/repo"
)

const (
	msgInternal        = "Erro interno do servidor"
	msgDeclined        = "Pagamento não concluído. Verifique o seu telefone e tente novamente."
	msgUnavailable     = "Serviço de pagamentos indisponível. Tente novamente mais tarde."
	msgAccountNotFound = "Conta não encontrada"
	msgBlocked         = "A sua conta está bloqueada. Faça um recarregamento para a desbloquear."
	msgForbidden       = "Sem permissão para esta conta"
	msgBadRequest      = "Pedido inválido"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
}

// writeError maps domain errors to HTTP answers. insufficient is the status
// used for ledger.ErrInsufficientFunds, which differs between customer and
// admin routes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, insufficient int) {
	status, body := classify(err, insufficient)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
		s.metrics.IncError("http")
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSONStatus(w, status, body)
}

func classify(err error, insufficient int) (int, errorBody) {
	if v, ok := apperr.AsValidation(err); ok {
		return http.StatusBadRequest, errorBody{Error: v.Message, Field: v.Field}
	}
	var funds *ledger.InsufficientFundsError
	switch {
	case errors.As(err, &funds):
		msg := fmt.Sprintf("Saldo insuficiente: faltam %s", money.Format(funds.Shortfall()))
		return insufficient, errorBody{Error: msg}
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return insufficient, errorBody{Error: "Saldo insuficiente"}
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound, errorBody{Error: msgAccountNotFound}
	case errors.Is(err, orders.ErrAccountBlocked):
		return http.StatusForbidden, errorBody{Error: msgBlocked}
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, errorBody{Error: "Pedido não encontrado"}
	case errors.Is(err, catalog.ErrServiceNotFound):
		return http.StatusNotFound, errorBody{Error: "Serviço não encontrado"}
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict, errorBody{Error: "O pedido não pode mudar para esse estado"}
	case errors.Is(err, ledger.ErrOrderNotCancellable):
		return http.StatusConflict, errorBody{Error: "O pedido já não pode ser cancelado"}
	case errors.Is(err, ledger.ErrDuplicateEntry):
		return http.StatusConflict, errorBody{Error: "Movimento já registado"}
	case errors.Is(err, repo.ErrDuplicate):
		return http.StatusConflict, errorBody{Error: "Registo já existe"}
	case errors.Is(err, payments.ErrPaymentDeclined):
		return http.StatusBadRequest, errorBody{Error: msgDeclined}
	case errors.Is(err, payments.ErrGatewayUnavailable), errors.Is(err, payments.ErrGatewayAuth):
		return http.StatusBadGateway, errorBody{Error: msgUnavailable}
	}
	return http.StatusInternalServerError, errorBody{Error: msgInternal}
}

func (s *Server) writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, errorBody{Error: msg})
}
