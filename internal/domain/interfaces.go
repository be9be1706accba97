package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// ChainObserver supplies on-chain transfer sightings for an address.
// Delivery is at-least-once: the same observation may recur across calls,
// and confirmation counts only grow.
type ChainObserver interface {
	// Observations returns all known transfers to the given address.
	Observations(ctx context.Context, address string) ([]ChainObservation, error)
}

// TransferExecutor performs an outbound on-chain send for a confirmed
// withdrawal intent. The engine only tracks intent state; it never signs
// transactions itself. The executor reports the result back through the
// chain observer.
type TransferExecutor interface {
	Send(ctx context.Context, intent PaymentIntent) error
}

// Clock abstracts wall-clock time so deadline logic is testable with a
// fake clock.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Counter bounds the frequency of reward-granting and withdrawal actions.
// It is purely advisory and never participates in ledger transactions.
type Counter interface {
	// Allow reports whether one more action under key may proceed now.
	Allow(key string) bool
}
