package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"socialboost/internal/admin"
	"socialboost/internal/auth"
	"socialboost/internal/cache"
	"socialboost/internal/catalog"
	"socialboost/internal/ledger"
	"socialboost/internal/metrics"
	"socialboost/internal/orders"
	"socialboost/internal/payments"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services the API routes call into.
type Dependencies struct {
	Storage        Pinger
	Ledger         *ledger.Service
	Orders         *orders.Workflow
	Payments       *payments.Workflow
	Catalog        *catalog.Catalog
	Admin          *admin.Service
	Auth           *auth.JWTVerifier
	Redis          *cache.Redis
	IdempotencyTTL time.Duration
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	basePath   string
}

// New creates a new HTTP server listening on addr with the API, health and metrics endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, deps Dependencies, basePath string) *Server {
	if deps.IdempotencyTTL <= 0 {
		deps.IdempotencyTTL = 24 * time.Hour
	}
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		deps:     deps,
		basePath: normaliseBasePath(basePath),
	}

	handler := mountWithBasePath(server.basePath, server.routes())

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}
	if !deps.Auth.Enabled() {
		server.logger.Warn("AUTH_JWT_SECRET not set, API runs without authentication")
	}

	return server
}

// Handler exposes the root handler, base path included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.deps.Auth.Middleware)

		r.Get("/services", s.handleListServices)
		r.Post("/accounts", s.handleOpenAccount)
		r.Get("/accounts/{id}/balance", s.handleBalance)
		r.Get("/accounts/{id}/transactions", s.handleTransactions)
		r.Get("/accounts/{id}/orders", s.handleAccountOrders)

		r.With(s.idempotent("orders")).Post("/orders", s.handlePlaceOrder)
		r.With(s.idempotent("recharge")).Post("/recharge", s.handleRecharge)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)

			r.Post("/ledger/credit", s.handleLedgerCredit)
			r.Post("/ledger/debit", s.handleLedgerDebit)
			r.Get("/accounts/{id}/reconcile", s.handleReconcile)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/stats", s.handleStats)
				r.Post("/orders/{id}/status", s.handleOrderStatus)
				r.Post("/accounts/{id}/block", s.handleBlock)
				r.Post("/accounts/{id}/adjust", s.handleAdjust)
				r.Put("/services/{id}", s.handleUpsertService)
				r.Post("/reload-catalog-cache", s.handleReloadCatalog)
			})
		})
	})

	return r
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if s.metrics == nil {
			return
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequestDurations.WithLabelValues(route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Storage.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
