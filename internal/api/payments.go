package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonview/rewards/internal/domain"
)

// ─── Payment Endpoints ──────────────────────────────────────────────────────
//
// POST /api/payments/purchase     — open an inbound ad-purchase intent
// GET  /api/payments/{id}         — intent status (expiry applied on read)
// POST /api/payments/observations — chain webhook, at-least-once delivery
// POST /api/withdrawals           — request a points withdrawal

// SetClock overrides the wall clock used for intent creation. Tests use
// this to line the API up with a fake verifier clock.
func (s *Server) SetClock(clock domain.Clock) { s.clock = clock }

func (s *Server) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}

// handlePurchase opens a PENDING inbound intent. The caller pays the
// returned deposit address before the expiry deadline; the verifier
// credits the ad budget once the transfer is final.
func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     int64 `json:"user_id"`
		AmountNano int64 `json:"amount_nano"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.allow(r, "purchase", req.UserID) {
		writeDomainError(w, domain.ErrThrottled)
		return
	}
	if req.AmountNano < s.cfg.MinInboundNano {
		writeDomainError(w, domain.ErrInvalidAmount)
		return
	}
	if _, err := s.db.GetUser(r.Context(), req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}

	now := s.now()
	intent := domain.PaymentIntent{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		Direction:  domain.DirectionInbound,
		AmountNano: req.AmountNano,
		Address:    s.cfg.DepositAddress,
		Status:     domain.IntentPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.PurchaseTTL),
	}
	if err := s.db.InsertIntent(r.Context(), intent); err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("purchase intent opened",
		zap.String("intent", intent.ID),
		zap.Int64("user", req.UserID),
		zap.Int64("nano", req.AmountNano))
	writeJSON(w, http.StatusCreated, intent)
}

// handleIntentStatus reads one intent, applying the same expiry check the
// poll loop applies so the response is never a stale PENDING.
func (s *Server) handleIntentStatus(w http.ResponseWriter, r *http.Request) {
	intent, err := s.payments.IntentStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// handleObservation ingests one chain sighting and reconciles pending
// intents immediately. Delivery is at-least-once: replays are absorbed by
// the hub and by the conditional intent transition.
func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	var obs domain.ChainObservation
	if err := decode(r, &obs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if obs.Address == "" || obs.TxHash == "" {
		writeError(w, http.StatusBadRequest, "address and tx_hash required")
		return
	}

	s.hub.Add(obs)
	if err := s.payments.Tick(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"user_id"`
		Points int64 `json:"points"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.allow(r, "withdraw", req.UserID) {
		writeDomainError(w, domain.ErrThrottled)
		return
	}

	intent, err := s.payouts.RequestWithdrawal(r.Context(), req.UserID, req.Points)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}
