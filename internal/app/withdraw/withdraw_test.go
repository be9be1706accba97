package withdraw

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonview/rewards/internal/app/verifier"
	"github.com/tonview/rewards/internal/domain"
	"github.com/tonview/rewards/internal/infra/sqlite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type fakeExecutor struct {
	mu   sync.Mutex
	sent []domain.PaymentIntent
	fail error
}

func (f *fakeExecutor) Send(_ context.Context, intent domain.PaymentIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, intent)
	return nil
}

const testWallet = "EQDk2VTvn04SUKJrW7rXahzdF8_Qi6utb0wj43InCu9vdjrR"

func newTestProcessor(t *testing.T) (*Processor, *sqlite.DB, *fakeExecutor, *fakeClock) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	executor := &fakeExecutor{}
	return New(DefaultConfig(), db, executor, clock, nil), db, executor, clock
}

func fundUser(t *testing.T, db *sqlite.DB, userID, points int64, wallet string) {
	t.Helper()
	ctx := context.Background()
	_, err := db.CreateUser(ctx, userID, 0, 3)
	require.NoError(t, err)
	if wallet != "" {
		require.NoError(t, db.SetWallet(ctx, userID, wallet))
	}
	if points > 0 {
		_, _, err = db.ApplyEntry(ctx, userID, points, domain.ReasonAdminAdjustment, fmt.Sprintf("seed:%d", userID))
		require.NoError(t, err)
	}
}

func TestRequestWithdrawal(t *testing.T) {
	p, db, executor, clock := newTestProcessor(t)
	ctx := context.Background()
	fundUser(t, db, 1, 1000, testWallet)

	intent, err := p.RequestWithdrawal(ctx, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionOutbound, intent.Direction)
	assert.Equal(t, testWallet, intent.Address)
	// 1000 points, 1.5% fee: 985 points at 100 points/TON.
	assert.Equal(t, int64(9_850_000_000), intent.AmountNano)
	assert.Equal(t, clock.Now().Add(30*time.Minute), intent.ExpiresAt)

	balance, err := db.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, balance, "points debited at request time")

	stored, err := db.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentPending, stored.Status)

	require.Len(t, executor.sent, 1)
	assert.Equal(t, intent.ID, executor.sent[0].ID)
}

func TestNetNano_ConversionPrecision(t *testing.T) {
	cases := []struct {
		name         string
		pointsPerTON int64
		points       int64
		want         int64
	}{
		{"rate divides 1e9", 100, 1000, 9_850_000_000},
		{"rate does not divide 1e9", 300, 600, 1_970_000_000},
		{"rate above 1e9", 2_000_000_000, 400, 197},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.PointsPerTON = tc.pointsPerTON
			p := New(cfg, nil, nil, nil, nil)
			assert.Equal(t, tc.want, p.netNano(tc.points))
		})
	}
}

func TestRequestWithdrawal_Validation(t *testing.T) {
	p, db, _, _ := newTestProcessor(t)
	ctx := context.Background()

	fundUser(t, db, 1, 1000, "") // no wallet
	_, err := p.RequestWithdrawal(ctx, 1, 500)
	assert.ErrorIs(t, err, domain.ErrNoWallet)

	fundUser(t, db, 2, 1000, testWallet)
	_, err = p.RequestWithdrawal(ctx, 2, 100) // under the 200 floor
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)

	_, err = p.RequestWithdrawal(ctx, 2, 5000) // more than balance
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = p.RequestWithdrawal(ctx, 404, 500)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	// Nothing above left a trace.
	for _, id := range []int64{1, 2} {
		balance, berr := db.GetBalance(ctx, id)
		require.NoError(t, berr)
		assert.Equal(t, int64(1000), balance)
	}
}

func TestRequestWithdrawal_FailedSendLeavesIntentPending(t *testing.T) {
	p, db, executor, _ := newTestProcessor(t)
	ctx := context.Background()
	fundUser(t, db, 1, 500, testWallet)
	executor.fail = errors.New("node unreachable")

	intent, err := p.RequestWithdrawal(ctx, 1, 500)
	require.NoError(t, err, "send failure is not a request failure")

	stored, _ := db.GetIntent(ctx, intent.ID)
	assert.Equal(t, domain.IntentPending, stored.Status)
	balance, _ := db.GetBalance(ctx, 1)
	assert.Zero(t, balance, "debit stands until the intent resolves")
}

func TestOnIntentResolved_ExpiredRefundsExactlyOnce(t *testing.T) {
	p, db, _, _ := newTestProcessor(t)
	ctx := context.Background()
	fundUser(t, db, 1, 500, testWallet)

	intent, err := p.RequestWithdrawal(ctx, 1, 500)
	require.NoError(t, err)

	transitioned, err := db.TransitionIntent(ctx, intent.ID, domain.IntentExpired, "")
	require.NoError(t, err)
	require.True(t, transitioned)
	intent.Status = domain.IntentExpired

	require.NoError(t, p.OnIntentResolved(ctx, intent))
	balance, _ := db.GetBalance(ctx, 1)
	assert.Equal(t, int64(500), balance, "balance back to pre-request value")

	// Redelivered resolution must not refund again.
	require.NoError(t, p.OnIntentResolved(ctx, intent))
	balance, _ = db.GetBalance(ctx, 1)
	assert.Equal(t, int64(500), balance)

	count, err := db.CountEntries(ctx, 1, domain.ReasonWithdrawal)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one debit, one compensating credit")

	sum, _ := db.SumEntries(ctx, 1)
	assert.Equal(t, balance, sum)
}

func TestOnIntentResolved_ConfirmedNeedsNoLedgerAction(t *testing.T) {
	p, db, _, _ := newTestProcessor(t)
	ctx := context.Background()
	fundUser(t, db, 1, 500, testWallet)

	intent, err := p.RequestWithdrawal(ctx, 1, 500)
	require.NoError(t, err)
	_, err = db.TransitionIntent(ctx, intent.ID, domain.IntentConfirmed, "tx1")
	require.NoError(t, err)
	intent.Status = domain.IntentConfirmed
	intent.TxHash = "tx1"

	require.NoError(t, p.OnIntentResolved(ctx, intent))
	balance, _ := db.GetBalance(ctx, 1)
	assert.Zero(t, balance)
	count, _ := db.CountEntries(ctx, 1, domain.ReasonWithdrawal)
	assert.Equal(t, 1, count, "debit only")
}

// End to end with the verifier: a withdrawal whose transfer never lands
// expires on a poll tick and the points come back.
func TestWithdrawal_ExpiryThroughVerifier(t *testing.T) {
	p, db, _, clock := newTestProcessor(t)
	ctx := context.Background()
	fundUser(t, db, 1, 500, testWallet)

	v := verifier.New(verifier.DefaultConfig(), db, &noObservations{}, clock, nil)
	v.OnOutboundResolved(p.OnIntentResolved)

	intent, err := p.RequestWithdrawal(ctx, 1, 500)
	require.NoError(t, err)

	clock.advance(29 * time.Minute)
	require.NoError(t, v.Tick(ctx))
	balance, _ := db.GetBalance(ctx, 1)
	assert.Zero(t, balance, "still pending inside the settlement window")

	clock.advance(2 * time.Minute)
	require.NoError(t, v.Tick(ctx))

	got, _ := db.GetIntent(ctx, intent.ID)
	assert.Equal(t, domain.IntentExpired, got.Status)
	balance, _ = db.GetBalance(ctx, 1)
	assert.Equal(t, int64(500), balance)
}

type noObservations struct{}

func (noObservations) Observations(context.Context, string) ([]domain.ChainObservation, error) {
	return nil, nil
}
