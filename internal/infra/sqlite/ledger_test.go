package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/tonview/rewards/internal/domain"
)

func mustCreateUser(t *testing.T, db *DB, userID int64) {
	t.Helper()
	if _, err := db.CreateUser(context.Background(), userID, 0, 3); err != nil {
		t.Fatalf("CreateUser(%d) error: %v", userID, err)
	}
}

// ─── ApplyEntry ─────────────────────────────────────────────────────────────

func TestApplyEntry_Credit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, 1)

	entry, applied, err := db.ApplyEntry(ctx, 1, 10, domain.ReasonVideoWatch, "k1")
	if err != nil {
		t.Fatalf("ApplyEntry() error: %v", err)
	}
	if !applied {
		t.Error("applied = false, want true")
	}
	if entry.BalanceAfter != 10 {
		t.Errorf("BalanceAfter = %d, want 10", entry.BalanceAfter)
	}

	balance, err := db.GetBalance(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 10 {
		t.Errorf("GetBalance = %d, want 10", balance)
	}
}

func TestApplyEntry_DuplicateKeyReturnsPrior(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, 1)

	first, _, err := db.ApplyEntry(ctx, 1, 10, domain.ReasonVideoWatch, "dup")
	if err != nil {
		t.Fatal(err)
	}

	second, applied, err := db.ApplyEntry(ctx, 1, 10, domain.ReasonVideoWatch, "dup")
	if err != nil {
		t.Fatalf("second ApplyEntry() error: %v", err)
	}
	if applied {
		t.Error("second call applied = true, want false")
	}
	if second.ID != first.ID {
		t.Errorf("second entry ID = %d, want prior %d", second.ID, first.ID)
	}

	count, _ := db.CountEntries(ctx, 1, "")
	if count != 1 {
		t.Errorf("entry count = %d, want 1", count)
	}
	balance, _ := db.GetBalance(ctx, 1)
	if balance != 10 {
		t.Errorf("balance = %d, want 10 (no double credit)", balance)
	}
}

func TestApplyEntry_InsufficientBalance(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, 1)
	db.ApplyEntry(ctx, 1, 5, domain.ReasonDailyBonus, "k1")

	_, _, err := db.ApplyEntry(ctx, 1, -10, domain.ReasonWithdrawal, "k2")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// Rejection leaves no trace.
	balance, _ := db.GetBalance(ctx, 1)
	if balance != 5 {
		t.Errorf("balance = %d, want 5", balance)
	}
	count, _ := db.CountEntries(ctx, 1, "")
	if count != 1 {
		t.Errorf("entry count = %d, want 1", count)
	}
}

func TestApplyEntry_UserNotFound(t *testing.T) {
	db := newTestDB(t)
	_, _, err := db.ApplyEntry(context.Background(), 99, 10, domain.ReasonDailyBonus, "k")
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestApplyEntry_DisabledUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, 1)
	if err := db.DisableUser(ctx, 1); err != nil {
		t.Fatal(err)
	}

	_, _, err := db.ApplyEntry(ctx, 1, 10, domain.ReasonDailyBonus, "k")
	if !errors.Is(err, domain.ErrUserDisabled) {
		t.Fatalf("err = %v, want ErrUserDisabled", err)
	}
}

// ─── ApplyEntryWithGrant ────────────────────────────────────────────────────

func TestApplyEntryWithGrant_Atomic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, 1)

	entry, applied, err := db.ApplyEntryWithGrant(ctx, 1, 10, domain.ReasonVideoWatch, "watch:1:7", "watch", "7")
	if err != nil {
		t.Fatalf("ApplyEntryWithGrant() error: %v", err)
	}
	if !applied {
		t.Error("applied = false, want true")
	}

	grant, err := db.GetGrant(ctx, 1, "watch", "7")
	if err != nil {
		t.Fatal(err)
	}
	if grant == nil {
		t.Fatal("grant missing after ApplyEntryWithGrant")
	}
	if grant.EntryID != entry.ID {
		t.Errorf("grant.EntryID = %d, want %d", grant.EntryID, entry.ID)
	}
}

func TestApplyEntryWithGrant_SecondCallIsNoop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, 1)

	first, _, err := db.ApplyEntryWithGrant(ctx, 1, 10, domain.ReasonVideoWatch, "watch:1:7", "watch", "7")
	if err != nil {
		t.Fatal(err)
	}

	// Retried with a different key: the grant record still wins.
	second, applied, err := db.ApplyEntryWithGrant(ctx, 1, 10, domain.ReasonVideoWatch, "watch:1:7:retry", "watch", "7")
	if err != nil {
		t.Fatalf("second call error: %v", err)
	}
	if applied {
		t.Error("second call applied = true, want false")
	}
	if second.ID != first.ID {
		t.Errorf("second entry ID = %d, want prior %d", second.ID, first.ID)
	}

	count, _ := db.CountEntries(ctx, 1, "")
	if count != 1 {
		t.Errorf("entry count = %d, want 1", count)
	}
}

// ─── Balance Invariant ──────────────────────────────────────────────────────

func TestBalanceEqualsSumOfEntries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, 1)

	ops := []struct {
		amount int64
		reason domain.Reason
	}{
		{10, domain.ReasonVideoWatch},
		{50, domain.ReasonReferralBonus},
		{-30, domain.ReasonWithdrawal},
		{10, domain.ReasonDailyBonus},
		{30, domain.ReasonWithdrawal}, // compensating credit
	}

	for i, op := range ops {
		if _, _, err := db.ApplyEntry(ctx, 1, op.amount, op.reason, fmt.Sprintf("k%d", i)); err != nil {
			t.Fatalf("op %d error: %v", i, err)
		}
		balance, _ := db.GetBalance(ctx, 1)
		sum, _ := db.SumEntries(ctx, 1)
		if balance != sum {
			t.Fatalf("after op %d: balance %d != entry sum %d", i, balance, sum)
		}
	}
}

// ─── Concurrency ────────────────────────────────────────────────────────────

func TestApplyEntry_ConcurrentSameUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, 1)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, err := db.ApplyEntry(ctx, 1, 1, domain.ReasonVideoWatch, fmt.Sprintf("c%d", i)); err != nil {
				t.Errorf("concurrent ApplyEntry error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	balance, _ := db.GetBalance(ctx, 1)
	if balance != n {
		t.Errorf("balance = %d, want %d (lost update)", balance, n)
	}
	sum, _ := db.SumEntries(ctx, 1)
	if sum != n {
		t.Errorf("entry sum = %d, want %d", sum, n)
	}
}

func TestApplyEntry_ConcurrentDebitsNeverNegative(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, 1)
	db.ApplyEntry(ctx, 1, 10, domain.ReasonAdminAdjustment, "seed")

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Most of these must fail; none may drive the balance negative.
			db.ApplyEntry(ctx, 1, -4, domain.ReasonWithdrawal, fmt.Sprintf("d%d", i))
		}(i)
	}
	wg.Wait()

	balance, _ := db.GetBalance(ctx, 1)
	if balance < 0 {
		t.Errorf("balance = %d, want >= 0", balance)
	}
	sum, _ := db.SumEntries(ctx, 1)
	if balance != sum {
		t.Errorf("balance %d != entry sum %d", balance, sum)
	}
}

func TestApplyEntry_ConcurrentDifferentUsers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const users = 8
	const perUser = 20
	for u := int64(1); u <= users; u++ {
		mustCreateUser(t, db, u)
	}

	var wg sync.WaitGroup
	for u := int64(1); u <= users; u++ {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(u int64, i int) {
				defer wg.Done()
				if _, _, err := db.ApplyEntry(ctx, u, 1, domain.ReasonVideoWatch, fmt.Sprintf("u%d-%d", u, i)); err != nil {
					t.Errorf("user %d op %d error: %v", u, i, err)
				}
			}(u, i)
		}
	}
	wg.Wait()

	for u := int64(1); u <= users; u++ {
		balance, _ := db.GetBalance(ctx, u)
		if balance != perUser {
			t.Errorf("user %d balance = %d, want %d", u, balance, perUser)
		}
	}
}

// ─── History ────────────────────────────────────────────────────────────────

func TestListHistory_ReverseChronological(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, 1)

	for i := 0; i < 5; i++ {
		db.ApplyEntry(ctx, 1, int64(i+1), domain.ReasonVideoWatch, fmt.Sprintf("h%d", i))
	}

	page, err := db.ListHistory(ctx, 1, 10, 0)
	if err != nil {
		t.Fatalf("ListHistory() error: %v", err)
	}
	if len(page.Entries) != 5 {
		t.Fatalf("len = %d, want 5", len(page.Entries))
	}
	for i := 1; i < len(page.Entries); i++ {
		if page.Entries[i].ID >= page.Entries[i-1].ID {
			t.Error("entries not in reverse-chronological order")
		}
	}
	if page.Cursor != 0 {
		t.Errorf("cursor = %d, want 0 (exhausted)", page.Cursor)
	}
}

func TestListHistory_CursorRestarts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, 1)

	for i := 0; i < 7; i++ {
		db.ApplyEntry(ctx, 1, 1, domain.ReasonVideoWatch, fmt.Sprintf("p%d", i))
	}

	seen := make(map[int64]bool)
	cursor := int64(0)
	pages := 0
	for {
		page, err := db.ListHistory(ctx, 1, 3, cursor)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range page.Entries {
			if seen[e.ID] {
				t.Errorf("entry %d returned twice", e.ID)
			}
			seen[e.ID] = true
		}
		pages++
		if page.Cursor == 0 {
			break
		}
		cursor = page.Cursor
	}

	if len(seen) != 7 {
		t.Errorf("paged through %d entries, want 7", len(seen))
	}
	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
}

func TestListHistory_EmptyUser(t *testing.T) {
	db := newTestDB(t)
	mustCreateUser(t, db, 1)

	page, err := db.ListHistory(context.Background(), 1, 10, 0)
	if err != nil {
		t.Fatalf("ListHistory() error: %v", err)
	}
	if len(page.Entries) != 0 || page.Cursor != 0 {
		t.Errorf("empty history = %+v, want no entries and zero cursor", page)
	}
}
