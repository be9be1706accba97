// Package api provides the HTTP boundary of the rewards engine: reward
// event intake, payment webhooks, and the read surface for balances,
// history, and intent status.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tonview/rewards/internal/app/accrual"
	"github.com/tonview/rewards/internal/app/verifier"
	"github.com/tonview/rewards/internal/app/withdraw"
	"github.com/tonview/rewards/internal/domain"
	"github.com/tonview/rewards/internal/infra/sqlite"
)

// Config carries the API-facing knobs the handlers need.
type Config struct {
	ReferralMaxDepth int
	PurchaseTTL      time.Duration
	DepositAddress   string // inbound purchase intents pay here
	MinInboundNano   int64
}

// Server is the rewardd HTTP API server.
type Server struct {
	cfg      Config
	db       *sqlite.DB
	rewards  *accrual.Engine
	payments *verifier.Verifier
	payouts  *withdraw.Processor
	hub      *verifier.ObservationHub
	counters map[string]domain.Counter
	clock    domain.Clock
	log      *zap.Logger

	metricsEnabled bool
}

// NewServer creates the API server over the assembled engine. counters
// holds one throttle per guarded category ("watch", "daily", "purchase",
// "withdraw"); categories without a counter are unrestricted.
func NewServer(cfg Config, db *sqlite.DB, rewards *accrual.Engine, payments *verifier.Verifier, payouts *withdraw.Processor, hub *verifier.ObservationHub, counters map[string]domain.Counter, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		db:       db,
		rewards:  rewards,
		payments: payments,
		payouts:  payouts,
		hub:      hub,
		counters: counters,
		log:      log,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/users", s.handleRegister)
		r.Get("/users/{id}/balance", s.handleBalance)
		r.Get("/users/{id}/history", s.handleHistory)
		r.Get("/users/{id}/wallet", s.handleGetWallet)
		r.Put("/users/{id}/wallet", s.handleSetWallet)

		r.Post("/rewards/watch", s.handleWatch)
		r.Post("/rewards/daily", s.handleDaily)

		r.Post("/payments/purchase", s.handlePurchase)
		r.Get("/payments/{id}", s.handleIntentStatus)
		r.Post("/payments/observations", s.handleObservation)

		r.Post("/withdrawals", s.handleWithdraw)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// allow gates an action on both the per-user and per-IP bucket of its
// category. Throttling is advisory; it never touches ledger state.
func (s *Server) allow(r *http.Request, category string, userID int64) bool {
	c, ok := s.counters[category]
	if !ok {
		return true
	}
	return c.Allow(fmt.Sprintf("user:%d", userID)) &&
		c.Allow("ip:"+clientIP(r))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decode parses a JSON request body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps ledger and intent errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrVideoNotFound),
		errors.Is(err, domain.ErrIntentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrWatchTooShort),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidWallet),
		errors.Is(err, domain.ErrNoWallet),
		errors.Is(err, domain.ErrNoReferrer),
		errors.Is(err, domain.ErrBelowMinimum):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUserDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrThrottled):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
