package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"socialboost/internal/auth"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replayed"
	maxIdempotencyKey = 128

	stateInFlight = "in_flight"
	stateDone     = "done"
)

type storedResponse struct {
	State       string `json:"state"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// idempotent stores the first answer for an Idempotency-Key, whatever its
// status, and replays it to later requests with the same key. A duplicate
// arriving while the first request is still running gets 409. Without Redis
// the header is ignored.
func (s *Server) idempotent(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if key == "" || s.deps.Redis == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKey {
				s.writeMessage(w, http.StatusBadRequest, "Idempotency-Key demasiado longa")
				return
			}
			actor, _ := auth.ActorFromContext(r.Context())
			cacheKey := "idem:" + scope + ":" + actor.ID + ":" + key
			ctx := r.Context()
			logger := s.logger.With("idempotency_key", key, "scope", scope)

			acquired, err := s.deps.Redis.SetJSONIfAbsent(ctx, cacheKey, storedResponse{State: stateInFlight}, s.deps.IdempotencyTTL)
			if err != nil {
				logger.Warn("idempotency store unavailable, serving without replay protection", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				s.replay(ctx, w, cacheKey, logger)
				return
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			finished := false
			defer func() {
				if finished {
					return
				}
				// The handler panicked. Settle the key as a 500 so it does not stay
				// in flight, then let the recoverer answer.
				body, _ := json.Marshal(errorBody{Error: msgInternal})
				s.saveResponse(ctx, logger, cacheKey, storedResponse{
					State:       stateDone,
					Status:      http.StatusInternalServerError,
					ContentType: "application/json",
					Body:        body,
				})
			}()
			next.ServeHTTP(ww, r)
			finished = true

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			s.saveResponse(ctx, logger, cacheKey, storedResponse{
				State:       stateDone,
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        buf.Bytes(),
			})
		})
	}
}

func (s *Server) saveResponse(ctx context.Context, logger *slog.Logger, cacheKey string, record storedResponse) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.deps.Redis.SetJSON(saveCtx, cacheKey, record, s.deps.IdempotencyTTL); err != nil {
		logger.Warn("store idempotent response failed", "error", err)
	}
}

func (s *Server) replay(ctx context.Context, w http.ResponseWriter, cacheKey string, logger *slog.Logger) {
	var stored storedResponse
	found, err := s.deps.Redis.GetJSON(ctx, cacheKey, &stored)
	if err != nil {
		logger.Warn("read idempotent response failed", "error", err)
		s.writeMessage(w, http.StatusConflict, "Pedido duplicado em processamento")
		return
	}
	if !found || stored.State != stateDone {
		s.writeMessage(w, http.StatusConflict, "Pedido duplicado em processamento")
		return
	}
	if s.metrics != nil {
		s.metrics.IdempotentReplays.Inc()
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(replayHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}
