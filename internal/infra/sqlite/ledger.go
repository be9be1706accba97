package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tonview/rewards/internal/domain"
	"github.com/tonview/rewards/internal/infra/observability"
)

// ─── Ledger Operations ──────────────────────────────────────────────────────
// ApplyEntry is the single atomic unit every balance mutation goes through:
// read balance, reject a negative result, append the entry, update the
// cached balance — all or nothing. Per-user writes serialize on the user
// lock; different users never block each other here.

// ApplyEntry applies a signed amount to a user's balance.
// The bool result is false when the idempotency key was already applied,
// in which case the prior entry is returned unchanged.
func (db *DB) ApplyEntry(ctx context.Context, userID, amount int64, reason domain.Reason, key string) (domain.LedgerEntry, bool, error) {
	return db.apply(ctx, userID, amount, reason, key, "", "")
}

// ApplyEntryWithGrant applies an entry and records the RewardGrant for
// (userID, sourceType, sourceID) in the same transaction. Either both
// records exist afterwards or neither does.
func (db *DB) ApplyEntryWithGrant(ctx context.Context, userID, amount int64, reason domain.Reason, key, sourceType, sourceID string) (domain.LedgerEntry, bool, error) {
	return db.apply(ctx, userID, amount, reason, key, sourceType, sourceID)
}

func (db *DB) apply(ctx context.Context, userID, amount int64, reason domain.Reason, key, sourceType, sourceID string) (domain.LedgerEntry, bool, error) {
	start := time.Now()
	defer func() {
		observability.ApplyDuration.Observe(time.Since(start).Seconds())
	}()

	lock := db.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.LedgerEntry{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Grant check first: a completed grant implies a completed entry.
	if sourceType != "" {
		var entryID int64
		err := tx.QueryRowContext(ctx, `
			SELECT entry_id FROM reward_grants
			WHERE user_id = ? AND source_type = ? AND source_id = ?
		`, userID, sourceType, sourceID).Scan(&entryID)
		if err == nil {
			prior, lerr := loadEntry(ctx, tx, "id = ?", entryID)
			if lerr != nil {
				return domain.LedgerEntry{}, false, lerr
			}
			observability.GrantsDeduplicated.Inc()
			return prior, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.LedgerEntry{}, false, fmt.Errorf("grant lookup: %w", err)
		}
	}

	// Idempotency key check.
	prior, err := loadEntry(ctx, tx, "idempotency_key = ?", key)
	if err == nil {
		return prior, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEntry{}, false, err
	}

	var balance int64
	var disabled int
	err = tx.QueryRowContext(ctx,
		`SELECT balance, disabled FROM users WHERE user_id = ?`, userID,
	).Scan(&balance, &disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEntry{}, false, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.LedgerEntry{}, false, fmt.Errorf("balance read: %w", err)
	}
	if disabled == 1 {
		return domain.LedgerEntry{}, false, domain.ErrUserDisabled
	}

	newBalance := balance + amount
	if newBalance < 0 {
		return domain.LedgerEntry{}, false, domain.ErrInsufficientBalance
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, amount, reason, idempotency_key, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, amount, string(reason), key, newBalance, encodeTime(now))
	if err != nil {
		return domain.LedgerEntry{}, false, fmt.Errorf("append entry: %w", err)
	}
	entryID, err := res.LastInsertId()
	if err != nil {
		return domain.LedgerEntry{}, false, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET balance = ? WHERE user_id = ?`, newBalance, userID,
	); err != nil {
		return domain.LedgerEntry{}, false, fmt.Errorf("balance update: %w", err)
	}

	if sourceType != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reward_grants (user_id, source_type, source_id, entry_id, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, userID, sourceType, sourceID, entryID, encodeTime(now)); err != nil {
			return domain.LedgerEntry{}, false, fmt.Errorf("record grant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.LedgerEntry{}, false, fmt.Errorf("commit: %w", err)
	}

	observability.EntriesApplied.WithLabelValues(string(reason)).Inc()
	return domain.LedgerEntry{
		ID:             entryID,
		UserID:         userID,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: key,
		BalanceAfter:   newBalance,
		CreatedAt:      now,
	}, true, nil
}

// loadEntry reads one ledger entry matching the given predicate.
func loadEntry(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, where string, arg any) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var createdStr string
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, amount, reason, idempotency_key, balance_after, created_at
		FROM ledger_entries WHERE `+where,
		arg,
	).Scan(&e.ID, &e.UserID, &e.Amount, (*string)(&e.Reason), &e.IdempotencyKey, &e.BalanceAfter, &createdStr)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	e.CreatedAt = decodeTime(createdStr)
	return e, nil
}

// GetBalance returns the user's current cached balance.
func (db *DB) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := db.db.QueryRowContext(ctx,
		`SELECT balance FROM users WHERE user_id = ?`, userID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrUserNotFound
	}
	return balance, err
}

// SumEntries returns the sum of all entry amounts for a user.
// Invariant: always equals GetBalance for the same user.
func (db *DB) SumEntries(ctx context.Context, userID int64) (int64, error) {
	var sum sql.NullInt64
	err := db.db.QueryRowContext(ctx,
		`SELECT SUM(amount) FROM ledger_entries WHERE user_id = ?`, userID,
	).Scan(&sum)
	return sum.Int64, err
}

// ListHistory returns up to limit entries for a user, newest first.
// Pass cursor = 0 to start; pass the returned cursor to resume. A zero
// returned cursor means the history is exhausted.
func (db *DB) ListHistory(ctx context.Context, userID int64, limit int, cursor int64) (domain.HistoryPage, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, user_id, amount, reason, idempotency_key, balance_after, created_at
	      FROM ledger_entries WHERE user_id = ?`
	args := []any{userID}
	if cursor > 0 {
		q += ` AND id < ?`
		args = append(args, cursor)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.db.QueryContext(ctx, q, args...)
	if err != nil {
		return domain.HistoryPage{}, err
	}
	defer rows.Close()

	var page domain.HistoryPage
	for rows.Next() {
		var e domain.LedgerEntry
		var createdStr string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, (*string)(&e.Reason), &e.IdempotencyKey, &e.BalanceAfter, &createdStr); err != nil {
			return domain.HistoryPage{}, err
		}
		e.CreatedAt = decodeTime(createdStr)
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return domain.HistoryPage{}, err
	}
	if len(page.Entries) == limit {
		page.Cursor = page.Entries[len(page.Entries)-1].ID
	}
	return page, nil
}

// GetEntryByKey returns the entry recorded under an idempotency key, or
// nil when the key was never applied.
func (db *DB) GetEntryByKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	e, err := loadEntry(ctx, db.db, "idempotency_key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetGrant returns the grant for (userID, sourceType, sourceID) if present.
func (db *DB) GetGrant(ctx context.Context, userID int64, sourceType, sourceID string) (*domain.RewardGrant, error) {
	var g domain.RewardGrant
	var createdStr string
	err := db.db.QueryRowContext(ctx, `
		SELECT user_id, source_type, source_id, entry_id, created_at
		FROM reward_grants WHERE user_id = ? AND source_type = ? AND source_id = ?
	`, userID, sourceType, sourceID).Scan(&g.UserID, &g.SourceType, &g.SourceID, &g.EntryID, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	g.CreatedAt = decodeTime(createdStr)
	return &g, nil
}

// CountEntries returns the number of ledger entries for a user, optionally
// filtered by reason ("" matches all).
func (db *DB) CountEntries(ctx context.Context, userID int64, reason domain.Reason) (int, error) {
	q := `SELECT COUNT(*) FROM ledger_entries WHERE user_id = ?`
	args := []any{userID}
	if reason != "" {
		q += ` AND reason = ?`
		args = append(args, string(reason))
	}
	var count int
	err := db.db.QueryRowContext(ctx, q, args...).Scan(&count)
	return count, err
}
