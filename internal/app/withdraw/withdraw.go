// Package withdraw converts point debits into outbound transfer intents
// and reconciles the ledger when those intents resolve.
//
// Every withdrawal owns two idempotency keys derived from its request id:
// "withdraw:<id>" for the debit and "withdraw:<id>:refund" for the single
// compensating credit a failed withdrawal may ever receive. Both the
// intent-creation failure path and the expiry/rejection path refund
// through the same key, so no withdrawal can be refunded twice.
package withdraw

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonview/rewards/internal/domain"
	"github.com/tonview/rewards/internal/infra/observability"
	"github.com/tonview/rewards/internal/infra/sqlite"
)

// Config controls withdrawal limits and conversion.
type Config struct {
	MinPoints      int64         // withdrawal floor
	FeeBasisPoints int64         // fee taken at conversion, 150 = 1.5%
	PointsPerTON   int64         // conversion rate into the outbound amount
	IntentTTL      time.Duration // deadline for the transfer to land on-chain
}

// DefaultConfig returns the stock withdrawal policy: 200-point floor,
// 1.5% fee, 100 points per TON, 30-minute settlement window.
func DefaultConfig() Config {
	return Config{
		MinPoints:      200,
		FeeBasisPoints: 150,
		PointsPerTON:   100,
		IntentTTL:      30 * time.Minute,
	}
}

// Processor handles withdrawal requests and resolution callbacks.
type Processor struct {
	cfg      Config
	db       *sqlite.DB
	executor domain.TransferExecutor
	clock    domain.Clock
	log      *zap.Logger
}

func New(cfg Config, db *sqlite.DB, executor domain.TransferExecutor, clock domain.Clock, log *zap.Logger) *Processor {
	if clock == nil {
		clock = domain.ClockFunc(time.Now)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{cfg: cfg, db: db, executor: executor, clock: clock, log: log}
}

// RequestWithdrawal debits the user's points and opens an outbound intent
// to their linked wallet. The debit and the intent share the withdrawal
// id; if the intent cannot be created after the debit committed, the
// debit is compensated immediately.
func (p *Processor) RequestWithdrawal(ctx context.Context, userID, points int64) (domain.PaymentIntent, error) {
	user, err := p.db.GetUser(ctx, userID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if user.Wallet == "" {
		return domain.PaymentIntent{}, domain.ErrNoWallet
	}
	if !domain.ValidWalletAddress(user.Wallet) {
		return domain.PaymentIntent{}, domain.ErrInvalidWallet
	}
	if points < p.cfg.MinPoints {
		return domain.PaymentIntent{}, domain.ErrBelowMinimum
	}

	id := uuid.NewString()
	if _, _, err := p.db.ApplyEntry(ctx, userID, -points, domain.ReasonWithdrawal, debitKey(id)); err != nil {
		return domain.PaymentIntent{}, err
	}

	now := p.clock.Now()
	intent := domain.PaymentIntent{
		ID:         id,
		UserID:     userID,
		Direction:  domain.DirectionOutbound,
		AmountNano: p.netNano(points),
		Address:    user.Wallet,
		Status:     domain.IntentPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(p.cfg.IntentTTL),
	}
	if err := p.db.InsertIntent(ctx, intent); err != nil {
		// The debit committed but the intent did not. Return the points
		// rather than stranding them; the refund key makes this safe to
		// repeat if the compensation itself fails and is retried.
		if rerr := p.refund(ctx, userID, points, id); rerr != nil {
			p.log.Error("withdrawal compensation failed",
				zap.String("withdrawal", id),
				zap.Int64("user", userID),
				zap.NamedError("intent_err", err),
				zap.NamedError("refund_err", rerr))
			return domain.PaymentIntent{}, fmt.Errorf("create intent: %w (compensation pending: %v)", err, rerr)
		}
		return domain.PaymentIntent{}, fmt.Errorf("create intent: %w", err)
	}

	p.log.Info("withdrawal requested",
		zap.String("withdrawal", id),
		zap.Int64("user", userID),
		zap.Int64("points", points),
		zap.Int64("nano", intent.AmountNano))

	if p.executor != nil {
		// A failed send leaves the intent pending; the verifier's expiry
		// path refunds it if nothing lands on-chain in time.
		if err := p.executor.Send(ctx, intent); err != nil {
			p.log.Warn("outbound transfer submission failed",
				zap.String("withdrawal", id),
				zap.Error(err))
		}
	}
	return intent, nil
}

// OnIntentResolved is the verifier callback for outbound intents.
// CONFIRMED needs no ledger action (the debit happened at request time);
// EXPIRED and REJECTED refund the original debit.
func (p *Processor) OnIntentResolved(ctx context.Context, intent domain.PaymentIntent) error {
	if intent.Direction != domain.DirectionOutbound {
		return nil
	}
	switch intent.Status {
	case domain.IntentConfirmed:
		p.log.Info("withdrawal settled",
			zap.String("withdrawal", intent.ID),
			zap.String("tx", intent.TxHash))
		return nil
	case domain.IntentExpired, domain.IntentRejected:
		debit, err := p.db.GetEntryByKey(ctx, debitKey(intent.ID))
		if err != nil {
			return fmt.Errorf("load withdrawal debit: %w", err)
		}
		if debit == nil {
			return fmt.Errorf("withdrawal %s has no debit entry", intent.ID)
		}
		return p.refund(ctx, intent.UserID, -debit.Amount, intent.ID)
	default:
		return nil
	}
}

func (p *Processor) refund(ctx context.Context, userID, points int64, withdrawalID string) error {
	_, applied, err := p.db.ApplyEntry(ctx, userID, points, domain.ReasonWithdrawal, refundKey(withdrawalID))
	if err != nil {
		return fmt.Errorf("refund withdrawal %s: %w", withdrawalID, err)
	}
	if applied {
		observability.RefundsIssued.Inc()
		p.log.Info("withdrawal refunded",
			zap.String("withdrawal", withdrawalID),
			zap.Int64("user", userID),
			zap.Int64("points", points))
	}
	return nil
}

// netNano converts points to nanotons after the conversion fee.
// Multiply before dividing so rates that do not divide 1e9 still
// convert at full nanoton precision.
func (p *Processor) netNano(points int64) int64 {
	net := points - points*p.cfg.FeeBasisPoints/10_000
	return net * 1_000_000_000 / p.cfg.PointsPerTON
}

func debitKey(id string) string  { return "withdraw:" + id }
func refundKey(id string) string { return "withdraw:" + id + ":refund" }
