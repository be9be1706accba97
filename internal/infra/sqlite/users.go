package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tonview/rewards/internal/domain"
)

// ─── User Operations ────────────────────────────────────────────────────────

// CreateUser registers a user if absent. The referrer reference is set
// exactly once at creation; for an existing user the call is a no-op and
// the stored referrer wins. Registration also materializes the referral
// edge chain up to maxDepth levels so cascade payouts never re-walk
// ancestry at accrual time.
func (db *DB) CreateUser(ctx context.Context, userID, referrerID int64, maxDepth int) (bool, error) {
	if referrerID == userID {
		referrerID = 0 // self-referral is ignored, matching registration rules
	}

	lock := db.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (user_id, referrer_id) VALUES (?, ?)
	`, userID, referrerID)
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, tx.Commit()
	}

	// Walk the referrer's ancestry to materialize cascade edges.
	ancestor := referrerID
	for level := 1; level <= maxDepth && ancestor != 0; level++ {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM users WHERE user_id = ?`, ancestor,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			break // unknown ancestor ends the chain
		}
		if err != nil {
			return false, fmt.Errorf("ancestor lookup: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO referral_edges (referrer_id, referred_id, level)
			VALUES (?, ?, ?)
		`, ancestor, userID, level); err != nil {
			return false, fmt.Errorf("insert edge: %w", err)
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT referrer_id FROM users WHERE user_id = ?`, ancestor,
		).Scan(&ancestor); err != nil {
			return false, fmt.Errorf("chain walk: %w", err)
		}
	}

	return true, tx.Commit()
}

// GetUser retrieves a user.
func (db *DB) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	var u domain.User
	var disabled int
	var createdStr string
	err := db.db.QueryRowContext(ctx, `
		SELECT user_id, balance, wallet, referrer_id, disabled, created_at
		FROM users WHERE user_id = ?
	`, userID).Scan(&u.ID, &u.Balance, &u.Wallet, &u.ReferrerID, &disabled, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Disabled = disabled == 1
	u.CreatedAt = decodeTime(createdStr)
	return &u, nil
}

// SetWallet updates the user's linked wallet address.
// Format validation happens at the application layer.
func (db *DB) SetWallet(ctx context.Context, userID int64, wallet string) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE users SET wallet = ? WHERE user_id = ?`, wallet, userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// DisableUser soft-disables a user. History and balance stay intact.
func (db *DB) DisableUser(ctx context.Context, userID int64) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE users SET disabled = 1 WHERE user_id = ?`, userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ReferralChain returns the referral edges pointing at a referred user,
// ordered by ascending level.
func (db *DB) ReferralChain(ctx context.Context, referredID int64) ([]domain.ReferralEdge, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT referrer_id, referred_id, level, created_at
		FROM referral_edges WHERE referred_id = ? ORDER BY level
	`, referredID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []domain.ReferralEdge
	for rows.Next() {
		var e domain.ReferralEdge
		var createdStr string
		if err := rows.Scan(&e.ReferrerID, &e.ReferredID, &e.Level, &createdStr); err != nil {
			return nil, err
		}
		e.CreatedAt = decodeTime(createdStr)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
