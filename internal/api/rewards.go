package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tonview/rewards/internal/domain"
)

// ─── Reward & User Endpoints ────────────────────────────────────────────────
//
// POST /api/users                 — register a user, pay the referral cascade
// GET  /api/users/{id}/balance    — current balance
// GET  /api/users/{id}/history    — entry history, newest first, cursored
// PUT  /api/users/{id}/wallet     — link a TON wallet
// GET  /api/users/{id}/wallet     — read the linked wallet
// POST /api/rewards/watch         — video watch completion event
// POST /api/rewards/daily         — daily bonus claim

// HandleRegister creates the user and, for a referred signup, pays the
// referral cascade. Re-registering is a no-op that never re-pays.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     int64 `json:"user_id"`
		ReferrerID int64 `json:"referrer_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	created, err := s.db.CreateUser(r.Context(), req.UserID, req.ReferrerID, s.cfg.ReferralMaxDepth)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var referralPaid int
	if created {
		paid, err := s.rewards.RunReferralCascade(r.Context(), req.UserID)
		if err != nil && !errors.Is(err, domain.ErrNoReferrer) {
			// The user exists; the cascade is retryable with the same keys.
			s.log.Warn("referral cascade incomplete",
				zap.Int64("user", req.UserID), zap.Error(err))
		}
		referralPaid = len(paid)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"created":       created,
		"referral_paid": referralPaid,
	})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID       int64 `json:"user_id"`
		VideoID      int64 `json:"video_id"`
		WatchSeconds int   `json:"watch_seconds"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.allow(r, "watch", req.UserID) {
		writeDomainError(w, domain.ErrThrottled)
		return
	}

	entry, applied, err := s.rewards.GrantForWatch(r.Context(), req.UserID, req.VideoID, req.WatchSeconds)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applied": applied,
		"entry":   entry,
	})
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.allow(r, "daily", req.UserID) {
		writeDomainError(w, domain.ErrThrottled)
		return
	}

	entry, applied, err := s.rewards.ClaimDaily(r.Context(), req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applied": applied,
		"entry":   entry,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	balance, err := s.db.GetBalance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)

	page, err := s.db.ListHistory(r.Context(), userID, limit, cursor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req struct {
		Address string `json:"address"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !domain.ValidWalletAddress(req.Address) {
		writeDomainError(w, domain.ErrInvalidWallet)
		return
	}
	if err := s.db.SetWallet(r.Context(), userID, req.Address); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"wallet": req.Address})
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	user, err := s.db.GetUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"wallet": user.Wallet})
}

func pathUserID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
