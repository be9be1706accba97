// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of the engine — it depends on nothing.
package domain

import (
	"time"
)

// ─── User & Catalog Types ───────────────────────────────────────────────────

// User is the identity anchor for a points ledger.
// Users are never hard-deleted; Disabled preserves referential integrity
// of the entry history.
type User struct {
	ID         int64     `json:"id"`
	Balance    int64     `json:"balance"`
	Wallet     string    `json:"wallet,omitempty"`
	ReferrerID int64     `json:"referrer_id,omitempty"` // set once at creation, 0 if organic
	Disabled   bool      `json:"disabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// Video is a catalog entry that a watch reward is validated against.
type Video struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Points          int64  `json:"points"`
	MinWatchSeconds int    `json:"min_watch_seconds"`
	Active          bool   `json:"active"`
}

// ─── Ledger Types ───────────────────────────────────────────────────────────

// Reason classifies the business cause of a ledger entry.
type Reason string

const (
	ReasonVideoWatch      Reason = "video-watch"
	ReasonReferralBonus   Reason = "referral-bonus"
	ReasonDailyBonus      Reason = "daily-bonus"
	ReasonWithdrawal      Reason = "withdrawal"
	ReasonAdPurchase      Reason = "ad-purchase"
	ReasonAdminAdjustment Reason = "admin-adjustment"
)

// LedgerEntry is a single immutable credit or debit applied to one user.
// Corrections are new offsetting entries, never edits.
type LedgerEntry struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Amount         int64     `json:"amount"` // signed: credits > 0, debits < 0
	Reason         Reason    `json:"reason"`
	IdempotencyKey string    `json:"idempotency_key"`
	BalanceAfter   int64     `json:"balance_after"` // snapshot recorded atomically with the entry
	CreatedAt      time.Time `json:"created_at"`
}

// RewardGrant proves a specific reward source has already been paid.
// At most one grant exists per (user, source type, source id).
type RewardGrant struct {
	UserID     int64     `json:"user_id"`
	SourceType string    `json:"source_type"` // "watch", "referral", "daily", "purchase"
	SourceID   string    `json:"source_id"`
	EntryID    int64     `json:"entry_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReferralEdge links a referrer to a referred user at a cascade level.
// Level 1 is the direct referrer; higher levels are indirect ancestors.
type ReferralEdge struct {
	ReferrerID int64     `json:"referrer_id"`
	ReferredID int64     `json:"referred_id"`
	Level      int       `json:"level"`
	CreatedAt  time.Time `json:"created_at"`
}

// ─── Payment Intent Types ───────────────────────────────────────────────────

// Direction distinguishes inbound (ad purchase) from outbound (withdrawal)
// transfers.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// IntentStatus is the lifecycle state of a PaymentIntent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "PENDING"
	IntentConfirmed IntentStatus = "CONFIRMED"
	IntentRejected  IntentStatus = "REJECTED"
	IntentExpired   IntentStatus = "EXPIRED"
)

// Terminal reports whether the status permits no further transitions.
func (s IntentStatus) Terminal() bool {
	return s == IntentConfirmed || s == IntentRejected || s == IntentExpired
}

// PaymentIntent represents an expected inbound transfer or a requested
// outbound transfer. Terminal intents are never mutated; retries create
// a new intent.
type PaymentIntent struct {
	ID         string       `json:"id"`
	UserID     int64        `json:"user_id"`
	Direction  Direction    `json:"direction"`
	AmountNano int64        `json:"amount_nano"` // expected (inbound) or requested (outbound)
	Address    string       `json:"address"`
	Status     IntentStatus `json:"status"`
	TxHash     string       `json:"tx_hash,omitempty"` // set once observed on-chain
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

// Expired reports whether the intent's deadline has elapsed at now.
func (p PaymentIntent) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// ChainObservation is a single on-chain transfer sighting supplied by a
// chain observer. The same observation may be delivered multiple times.
type ChainObservation struct {
	Address       string `json:"address"`
	AmountNano    int64  `json:"amount_nano"`
	TxHash        string `json:"tx_hash"`
	Confirmations int    `json:"confirmations"`
}

// ─── History Pagination ─────────────────────────────────────────────────────

// HistoryPage is one page of a user's reverse-chronological entry history.
// Cursor restarts the listing from where this page ended; zero means the
// listing is exhausted.
type HistoryPage struct {
	Entries []LedgerEntry `json:"entries"`
	Cursor  int64         `json:"cursor"`
}

// ─── Wallet Validation ──────────────────────────────────────────────────────

// walletLen is the length of a TON user-friendly address.
const walletLen = 48

// ValidWalletAddress reports whether s looks like a TON user-friendly
// address: 48 base64url characters.
func ValidWalletAddress(s string) bool {
	if len(s) != walletLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
