package verifier

import (
	"context"
	"sync"
	"time"

	"github.com/tonview/rewards/internal/domain"
)

// ObservationHub is an in-process chain observer fed by webhook delivery.
// Redelivered observations collapse onto one record per transaction hash,
// keeping the highest confirmation count seen.
//
// Observations are retained for a fixed window past their last delivery.
// Anything older is invisible to reads and swept from the map, so a
// settled transfer from hours ago cannot match a freshly created intent
// and the hub does not grow without bound.
type ObservationHub struct {
	clock domain.Clock
	ttl   time.Duration

	mu     sync.RWMutex
	byAddr map[string]map[string]hubEntry // address -> txhash -> entry
	size   int
}

type hubEntry struct {
	obs      domain.ChainObservation
	deadline time.Time
}

const (
	defaultObservationTTL = time.Hour
	hubSweepThreshold     = 4096
)

func NewObservationHub() *ObservationHub {
	return &ObservationHub{
		clock:  domain.ClockFunc(time.Now),
		ttl:    defaultObservationTTL,
		byAddr: make(map[string]map[string]hubEntry),
	}
}

// Add records a delivered observation. A redelivery refreshes the
// record's retention deadline.
func (h *ObservationHub) Add(obs domain.ChainObservation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.clock.Now()
	if h.size >= hubSweepThreshold {
		h.sweepLocked(now)
	}
	txs, ok := h.byAddr[obs.Address]
	if !ok {
		txs = make(map[string]hubEntry)
		h.byAddr[obs.Address] = txs
	}
	prior, seen := txs[obs.TxHash]
	if !seen {
		h.size++
	}
	if seen && prior.obs.Confirmations >= obs.Confirmations {
		obs = prior.obs
	}
	txs[obs.TxHash] = hubEntry{obs: obs, deadline: now.Add(h.ttl)}
}

// Observations implements domain.ChainObserver. Expired records are
// never returned.
func (h *ObservationHub) Observations(_ context.Context, address string) ([]domain.ChainObservation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	now := h.clock.Now()
	txs := h.byAddr[address]
	out := make([]domain.ChainObservation, 0, len(txs))
	for _, e := range txs {
		if now.After(e.deadline) {
			continue
		}
		out = append(out, e.obs)
	}
	return out, nil
}

func (h *ObservationHub) sweepLocked(now time.Time) {
	for addr, txs := range h.byAddr {
		for hash, e := range txs {
			if now.After(e.deadline) {
				delete(txs, hash)
				h.size--
			}
		}
		if len(txs) == 0 {
			delete(h.byAddr, addr)
		}
	}
}
