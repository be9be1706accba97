// Package accrual computes point credits and applies them through the
// ledger store: video watches, referral cascades, daily bonuses, and
// confirmed ad-purchase budgets.
//
// Every credit path is idempotent: watches and daily claims dedup on a
// reward grant, cascade levels and purchase credits dedup on their
// idempotency key. Retrying any operation with the same inputs is safe.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tonview/rewards/internal/domain"
	"github.com/tonview/rewards/internal/infra/sqlite"
)

// Config controls reward amounts and cascade shape.
type Config struct {
	ReferralBase        int64     // level-1 referral bonus in points
	ReferralMultipliers []float64 // per-level decay, index 0 = level 1
	DailyBonus          int64
	DailyTimezone       *time.Location // calendar day boundary for claims
	PointsPerTON        int64          // ad-purchase budget conversion
}

// DefaultConfig returns the stock reward schedule.
func DefaultConfig() Config {
	return Config{
		ReferralBase:        50,
		ReferralMultipliers: []float64{1.0, 0.5, 0.25},
		DailyBonus:          10,
		DailyTimezone:       time.UTC,
		PointsPerTON:        100,
	}
}

// Engine applies reward credits. All writes go through the ledger store's
// transactional API; the engine holds no state of its own.
type Engine struct {
	cfg   Config
	db    *sqlite.DB
	clock domain.Clock
	log   *zap.Logger
}

func New(cfg Config, db *sqlite.DB, clock domain.Clock, log *zap.Logger) *Engine {
	if clock == nil {
		clock = domain.ClockFunc(time.Now)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DailyTimezone == nil {
		cfg.DailyTimezone = time.UTC
	}
	return &Engine{cfg: cfg, db: db, clock: clock, log: log}
}

// GrantForWatch credits a user for watching a video. The watch must meet
// the video's minimum duration. A repeat watch of the same video returns
// the original entry with applied=false.
func (e *Engine) GrantForWatch(ctx context.Context, userID, videoID int64, watchSeconds int) (domain.LedgerEntry, bool, error) {
	video, err := e.db.GetVideo(ctx, videoID)
	if err != nil {
		return domain.LedgerEntry{}, false, err
	}
	if !video.Active {
		return domain.LedgerEntry{}, false, domain.ErrVideoNotFound
	}
	if watchSeconds < video.MinWatchSeconds {
		return domain.LedgerEntry{}, false, domain.ErrWatchTooShort
	}

	sourceID := strconv.FormatInt(videoID, 10)
	key := fmt.Sprintf("watch:%d:%d", userID, videoID)
	entry, applied, err := e.db.ApplyEntryWithGrant(ctx, userID, video.Points, domain.ReasonVideoWatch, key, "watch", sourceID)
	if err != nil {
		return domain.LedgerEntry{}, false, fmt.Errorf("grant watch reward: %w", err)
	}
	if applied {
		e.log.Info("watch reward granted",
			zap.Int64("user", userID),
			zap.Int64("video", videoID),
			zap.Int64("points", entry.Amount))
	}
	return entry, applied, nil
}

// RunReferralCascade pays the referred user's ancestor chain. Each level
// gets the base bonus scaled by its multiplier, under a per-level
// idempotency key, so a cascade interrupted mid-way can be re-run without
// double-paying completed levels.
//
// Returns ErrNoReferrer when the user has no recorded ancestry. Disabled
// or missing referrers skip their level; the cascade continues upward.
func (e *Engine) RunReferralCascade(ctx context.Context, referredID int64) ([]domain.LedgerEntry, error) {
	edges, err := e.db.ReferralChain(ctx, referredID)
	if err != nil {
		return nil, fmt.Errorf("load referral chain: %w", err)
	}
	if len(edges) == 0 {
		return nil, domain.ErrNoReferrer
	}

	var paid []domain.LedgerEntry
	for _, edge := range edges {
		if edge.Level > len(e.cfg.ReferralMultipliers) {
			break
		}
		amount := int64(math.Round(float64(e.cfg.ReferralBase) * e.cfg.ReferralMultipliers[edge.Level-1]))
		if amount <= 0 {
			continue
		}
		key := fmt.Sprintf("referral:%d:%d:%d", edge.ReferrerID, referredID, edge.Level)
		entry, applied, err := e.db.ApplyEntry(ctx, edge.ReferrerID, amount, domain.ReasonReferralBonus, key)
		switch {
		case err == nil:
			paid = append(paid, entry)
			if applied {
				e.log.Info("referral bonus paid",
					zap.Int64("referrer", edge.ReferrerID),
					zap.Int64("referred", referredID),
					zap.Int("level", edge.Level),
					zap.Int64("points", amount))
			}
		case isSkippableReferrer(err):
			e.log.Warn("referral level skipped",
				zap.Int64("referrer", edge.ReferrerID),
				zap.Int("level", edge.Level),
				zap.Error(err))
		default:
			// Transient store failure: completed levels stay paid, the
			// caller retries the whole cascade with the same keys.
			return paid, fmt.Errorf("pay referral level %d: %w", edge.Level, err)
		}
	}
	return paid, nil
}

func isSkippableReferrer(err error) bool {
	return errors.Is(err, domain.ErrUserNotFound) || errors.Is(err, domain.ErrUserDisabled)
}

// ClaimDaily credits the user's daily bonus for today. The calendar day
// is evaluated server-side in the configured timezone, so client clock
// skew cannot mint a second claim.
func (e *Engine) ClaimDaily(ctx context.Context, userID int64) (domain.LedgerEntry, bool, error) {
	dateKey := e.clock.Now().In(e.cfg.DailyTimezone).Format("2006-01-02")
	key := fmt.Sprintf("daily:%d:%s", userID, dateKey)
	entry, applied, err := e.db.ApplyEntryWithGrant(ctx, userID, e.cfg.DailyBonus, domain.ReasonDailyBonus, key, "daily", dateKey)
	if err != nil {
		return domain.LedgerEntry{}, false, fmt.Errorf("claim daily bonus: %w", err)
	}
	return entry, applied, nil
}

// CreditPurchase converts a confirmed inbound payment into ad budget
// points, keyed by the intent id so duplicate confirmations credit once.
func (e *Engine) CreditPurchase(ctx context.Context, intent domain.PaymentIntent) (domain.LedgerEntry, bool, error) {
	points := intent.AmountNano * e.cfg.PointsPerTON / 1_000_000_000
	if points <= 0 {
		return domain.LedgerEntry{}, false, domain.ErrInvalidAmount
	}
	key := "purchase:" + intent.ID
	entry, applied, err := e.db.ApplyEntryWithGrant(ctx, intent.UserID, points, domain.ReasonAdPurchase, key, "purchase", intent.ID)
	if err != nil {
		return domain.LedgerEntry{}, false, fmt.Errorf("credit purchase: %w", err)
	}
	if applied {
		e.log.Info("ad purchase credited",
			zap.Int64("user", intent.UserID),
			zap.String("intent", intent.ID),
			zap.Int64("points", points))
	}
	return entry, applied, nil
}

// AdminAdjust applies a manual correction entry. Amount may be negative;
// a debit past zero is rejected by the store.
func (e *Engine) AdminAdjust(ctx context.Context, userID, amount int64, note string) (domain.LedgerEntry, error) {
	if amount == 0 {
		return domain.LedgerEntry{}, domain.ErrInvalidAmount
	}
	key := fmt.Sprintf("admin:%d:%s:%d", userID, note, e.clock.Now().UnixNano())
	entry, _, err := e.db.ApplyEntry(ctx, userID, amount, domain.ReasonAdminAdjustment, key)
	return entry, err
}
