package verifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonview/rewards/internal/domain"
)

func TestObservationHub_CollapsesRedeliveries(t *testing.T) {
	hub := NewObservationHub()
	ctx := context.Background()

	hub.Add(domain.ChainObservation{Address: "a", TxHash: "t1", AmountNano: 100, Confirmations: 1})
	hub.Add(domain.ChainObservation{Address: "a", TxHash: "t1", AmountNano: 100, Confirmations: 4})
	hub.Add(domain.ChainObservation{Address: "a", TxHash: "t1", AmountNano: 100, Confirmations: 2}) // stale redelivery
	hub.Add(domain.ChainObservation{Address: "a", TxHash: "t2", AmountNano: 200, Confirmations: 1})

	obs, err := hub.Observations(ctx, "a")
	require.NoError(t, err)
	require.Len(t, obs, 2)
	for _, o := range obs {
		if o.TxHash == "t1" {
			assert.Equal(t, 4, o.Confirmations, "keeps the deepest sighting")
		}
	}

	empty, err := hub.Observations(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestObservationHub_ExpiresOldObservations(t *testing.T) {
	hub := NewObservationHub()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	hub.clock = clock
	ctx := context.Background()

	hub.Add(domain.ChainObservation{Address: "a", TxHash: "t1", AmountNano: 100, Confirmations: 3})

	clock.advance(time.Hour - time.Minute)
	obs, err := hub.Observations(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, obs, 1, "still within the retention window")

	// A redelivery pushes the deadline out.
	hub.Add(domain.ChainObservation{Address: "a", TxHash: "t1", AmountNano: 100, Confirmations: 5})
	clock.advance(30 * time.Minute)
	obs, err = hub.Observations(ctx, "a")
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 5, obs[0].Confirmations)

	clock.advance(time.Hour)
	obs, err = hub.Observations(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, obs, "stale transfer kept visible past its window")
}

func TestObservationHub_SweepsExpiredEntries(t *testing.T) {
	hub := NewObservationHub()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	hub.clock = clock

	hub.Add(domain.ChainObservation{Address: "a", TxHash: "t1", AmountNano: 100, Confirmations: 3})
	hub.Add(domain.ChainObservation{Address: "b", TxHash: "t2", AmountNano: 100, Confirmations: 3})
	clock.advance(2 * time.Hour)

	hub.size = hubSweepThreshold // force the next Add to sweep
	hub.Add(domain.ChainObservation{Address: "c", TxHash: "t3", AmountNano: 100, Confirmations: 3})

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Len(t, hub.byAddr, 1, "expired addresses evicted")
	assert.Equal(t, hubSweepThreshold-2+1, hub.size)
}
