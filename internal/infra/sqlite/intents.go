package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tonview/rewards/internal/domain"
	"github.com/tonview/rewards/internal/infra/observability"
)

// ─── Payment Intent Operations ──────────────────────────────────────────────
// Intents only ever change state through TransitionIntent's conditional
// update: it is the exactly-once gate for every side effect downstream of
// a chain observation. Terminal rows are immutable.

// InsertIntent persists a new intent in PENDING state.
func (db *DB) InsertIntent(ctx context.Context, intent domain.PaymentIntent) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO payment_intents (id, user_id, direction, amount_nano, address, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, 'PENDING', ?, ?)
	`, intent.ID, intent.UserID, string(intent.Direction), intent.AmountNano,
		intent.Address, encodeTime(intent.CreatedAt), encodeTime(intent.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

// GetIntent retrieves an intent by identifier.
func (db *DB) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT id, user_id, direction, amount_nano, address, status, tx_hash, created_at, expires_at
		FROM payment_intents WHERE id = ?
	`, id)
	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// ListPendingIntents returns all intents still awaiting resolution,
// oldest first.
func (db *DB) ListPendingIntents(ctx context.Context) ([]domain.PaymentIntent, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, user_id, direction, amount_nano, address, status, tx_hash, created_at, expires_at
		FROM payment_intents WHERE status = 'PENDING' ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []domain.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

// TransitionIntent moves a PENDING intent to a terminal status.
// Returns true only for the call that performed the transition; duplicate
// observations and concurrent pollers get false and must not re-run side
// effects. Transitioning an already-terminal intent is a silent no-op.
//
// A non-empty txHash is consumed by the transition: once any intent holds
// it, every later attempt to settle a different intent with the same hash
// returns false. One on-chain transfer settles at most one intent.
func (db *DB) TransitionIntent(ctx context.Context, id string, to domain.IntentStatus, txHash string) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("transition to non-terminal status %q", to)
	}
	res, err := db.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = ?, tx_hash = CASE WHEN ? = '' THEN tx_hash ELSE ? END
		WHERE id = ? AND status = 'PENDING'
		AND (? = '' OR NOT EXISTS (
			SELECT 1 FROM payment_intents other
			WHERE other.tx_hash = ? AND other.id != ?
		))
	`, string(to), txHash, txHash, id, txHash, txHash, id)
	if err != nil {
		return false, fmt.Errorf("transition intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		observability.IntentTransitions.WithLabelValues(string(to)).Inc()
		return true, nil
	}
	return false, nil
}

// TxHashConsumed reports whether some intent already settled with the
// given transaction hash.
func (db *DB) TxHashConsumed(ctx context.Context, txHash string) (bool, error) {
	if txHash == "" {
		return false, nil
	}
	var n int
	err := db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payment_intents WHERE tx_hash = ?
	`, txHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check tx hash: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (domain.PaymentIntent, error) {
	var p domain.PaymentIntent
	var createdStr, expiresStr string
	err := row.Scan(&p.ID, &p.UserID, (*string)(&p.Direction), &p.AmountNano,
		&p.Address, (*string)(&p.Status), &p.TxHash, &createdStr, &expiresStr)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	p.CreatedAt = decodeTime(createdStr)
	p.ExpiresAt = decodeTime(expiresStr)
	return p, nil
}
