package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tonview/rewards/internal/domain"
)

// ─── Video Catalog Operations ───────────────────────────────────────────────

// InsertVideo adds a catalog entry and returns its identifier.
func (db *DB) InsertVideo(ctx context.Context, title string, points int64, minWatchSeconds int) (int64, error) {
	res, err := db.db.ExecContext(ctx, `
		INSERT INTO videos (title, points, min_watch_seconds) VALUES (?, ?, ?)
	`, title, points, minWatchSeconds)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetVideo retrieves a catalog entry.
func (db *DB) GetVideo(ctx context.Context, id int64) (*domain.Video, error) {
	var v domain.Video
	var active int
	err := db.db.QueryRowContext(ctx, `
		SELECT id, title, points, min_watch_seconds, active FROM videos WHERE id = ?
	`, id).Scan(&v.ID, &v.Title, &v.Points, &v.MinWatchSeconds, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVideoNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Active = active == 1
	return &v, nil
}

// SetVideoActive flips a video's availability without deleting it, so
// past grants keep a valid catalog reference.
func (db *DB) SetVideoActive(ctx context.Context, id int64, active bool) error {
	activeInt := 0
	if active {
		activeInt = 1
	}
	res, err := db.db.ExecContext(ctx,
		`UPDATE videos SET active = ? WHERE id = ?`, activeInt, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrVideoNotFound
	}
	return nil
}
