// Package verifier drives payment intents through their state machine by
// reconciling pending intents against an external chain view.
//
// The conditional transition in the store (PENDING-only update) is the
// exactly-once gate: whichever tick or webhook wins the transition also
// fires the side-effect callback, and every later delivery of the same
// observation is a no-op.
package verifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tonview/rewards/internal/domain"
	"github.com/tonview/rewards/internal/infra/observability"
	"github.com/tonview/rewards/internal/infra/sqlite"
)

// Config controls poll cadence and match acceptance.
type Config struct {
	PollInterval   time.Duration
	FinalityDepth  int   // confirmations required before a match counts
	MinInboundNano int64 // inbound floor; matched amounts below it reject
}

// DefaultConfig returns verifier defaults: 15s polls, 3 confirmations,
// 0.1 TON inbound floor.
func DefaultConfig() Config {
	return Config{
		PollInterval:   15 * time.Second,
		FinalityDepth:  3,
		MinInboundNano: 100_000_000,
	}
}

// Callback runs after an intent reaches a terminal state. It is invoked
// at most once per intent, by whichever caller won the transition.
type Callback func(ctx context.Context, intent domain.PaymentIntent) error

// Verifier polls the chain observer for pending intents and applies
// terminal transitions. Expiry is evaluated by wall clock on every tick,
// independent of whether the observer answers.
type Verifier struct {
	cfg      Config
	db       *sqlite.DB
	observer domain.ChainObserver
	clock    domain.Clock
	log      *zap.Logger

	mu         sync.RWMutex
	onInbound  Callback // fires on inbound CONFIRMED
	onOutbound Callback // fires on any outbound terminal state
}

func New(cfg Config, db *sqlite.DB, observer domain.ChainObserver, clock domain.Clock, log *zap.Logger) *Verifier {
	if clock == nil {
		clock = domain.ClockFunc(time.Now)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{cfg: cfg, db: db, observer: observer, clock: clock, log: log}
}

// OnInboundConfirmed registers the callback for confirmed ad purchases.
func (v *Verifier) OnInboundConfirmed(cb Callback) {
	v.mu.Lock()
	v.onInbound = cb
	v.mu.Unlock()
}

// OnOutboundResolved registers the callback for resolved withdrawals.
// It receives CONFIRMED, REJECTED, and EXPIRED intents.
func (v *Verifier) OnOutboundResolved(cb Callback) {
	v.mu.Lock()
	v.onOutbound = cb
	v.mu.Unlock()
}

// Run polls until ctx is cancelled.
func (v *Verifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := v.Tick(ctx); err != nil {
				v.log.Warn("verifier tick failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one reconciliation pass over all pending intents.
func (v *Verifier) Tick(ctx context.Context) error {
	pending, err := v.db.ListPendingIntents(ctx)
	if err != nil {
		return fmt.Errorf("list pending intents: %w", err)
	}
	for _, intent := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		v.check(ctx, intent)
	}
	return nil
}

// IntentStatus returns the intent, first applying the expiry check that
// the poll loop would apply, so a read never reports a stale PENDING on
// an intent past its deadline.
func (v *Verifier) IntentStatus(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	intent, err := v.db.GetIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Status == domain.IntentPending && intent.Expired(v.clock.Now()) {
		v.resolve(ctx, *intent, domain.IntentExpired, "")
		return v.db.GetIntent(ctx, id)
	}
	return intent, nil
}

func (v *Verifier) check(ctx context.Context, intent domain.PaymentIntent) {
	if intent.Expired(v.clock.Now()) {
		v.resolve(ctx, intent, domain.IntentExpired, "")
		return
	}

	observations, err := v.observer.Observations(ctx, intent.Address)
	if err != nil {
		// Transient chain failure; the next tick retries.
		v.log.Warn("chain observation failed",
			zap.String("intent", intent.ID),
			zap.Error(err))
		return
	}

	// Several intents can share an address (inbound purchases all pay the
	// deposit address), so a transfer settles whichever intent consumes
	// its hash first and is invisible to the rest. Confirming transfers
	// are preferred: a below-minimum transfer only rejects the intent
	// when no transfer on the address can confirm it.
	var belowMin *domain.ChainObservation
	for i, obs := range observations {
		observability.ObservationsProcessed.Inc()
		if obs.Address != intent.Address || obs.Confirmations < v.cfg.FinalityDepth {
			continue
		}
		consumed, err := v.db.TxHashConsumed(ctx, obs.TxHash)
		if err != nil {
			v.log.Warn("tx hash lookup failed",
				zap.String("intent", intent.ID),
				zap.Error(err))
			return
		}
		if consumed {
			continue
		}
		if intent.Direction == domain.DirectionInbound && obs.AmountNano < v.cfg.MinInboundNano {
			if belowMin == nil {
				belowMin = &observations[i]
			}
			continue
		}
		if obs.AmountNano >= intent.AmountNano {
			v.resolve(ctx, intent, domain.IntentConfirmed, obs.TxHash)
			return
		}
	}
	if belowMin != nil {
		v.resolve(ctx, intent, domain.IntentRejected, belowMin.TxHash)
	}
}

func (v *Verifier) resolve(ctx context.Context, intent domain.PaymentIntent, to domain.IntentStatus, txHash string) {
	transitioned, err := v.db.TransitionIntent(ctx, intent.ID, to, txHash)
	if err != nil {
		v.log.Error("intent transition failed",
			zap.String("intent", intent.ID),
			zap.String("to", string(to)),
			zap.Error(err))
		return
	}
	if !transitioned {
		// Another tick or webhook already resolved it, or the hash was
		// spent on a different intent between scan and update.
		return
	}
	intent.Status = to
	intent.TxHash = txHash
	v.log.Info("intent resolved",
		zap.String("intent", intent.ID),
		zap.String("direction", string(intent.Direction)),
		zap.String("status", string(to)),
		zap.String("tx", txHash))

	v.mu.RLock()
	inbound, outbound := v.onInbound, v.onOutbound
	v.mu.RUnlock()

	switch {
	case intent.Direction == domain.DirectionInbound && to == domain.IntentConfirmed && inbound != nil:
		if err := inbound(ctx, intent); err != nil {
			v.log.Error("inbound confirmation callback failed",
				zap.String("intent", intent.ID), zap.Error(err))
		}
	case intent.Direction == domain.DirectionOutbound && outbound != nil:
		if err := outbound(ctx, intent); err != nil {
			v.log.Error("outbound resolution callback failed",
				zap.String("intent", intent.ID), zap.Error(err))
		}
	}
}
