package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateLimitRepo counts grant attempts per (user, action) in windows stored in rate_limit_windows.
type RateLimitRepo struct {
	dbPool *pgxpool.Pool
	limit  int
	window time.Duration
}

func NewRateLimitRepo(db *pgxpool.Pool, limit int, window time.Duration) *RateLimitRepo {
	return &RateLimitRepo{dbPool: db, limit: limit, window: window}
}

func (r *RateLimitRepo) Limit() int { return r.limit }

// Limited reports whether the caller has used up the open window for action.
// When it returns false the attempt has been counted.
func (r *RateLimitRepo) Limited(ctx context.Context, userID uuid.UUID, action string) (bool, error) {
	tx, err := r.dbPool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin rate limit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serializes concurrent checks for the same (user, action) until commit.
	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID.String()+":"+action)
	if err != nil {
		return false, fmt.Errorf("rate limit lock: %w", err)
	}

	var (
		windowStart time.Time
		count       int
	)
	err = tx.QueryRow(ctx, `
		SELECT window_start, request_count
		FROM rate_limit_windows
		WHERE user_id = $1 AND action = $2 AND window_start > now() - make_interval(secs => $3)
		ORDER BY window_start DESC
		LIMIT 1
	`, userID, action, r.window.Seconds()).Scan(&windowStart, &count)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `
			INSERT INTO rate_limit_windows (user_id, action, window_start, request_count)
			VALUES ($1, $2, now(), 1)
			ON CONFLICT (user_id, action, window_start)
			DO UPDATE SET request_count = rate_limit_windows.request_count + 1
		`, userID, action)
		if err != nil {
			return false, fmt.Errorf("open rate limit window: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("read rate limit window: %w", err)
	case count >= r.limit:
		return true, nil
	default:
		_, err = tx.Exec(ctx, `
			UPDATE rate_limit_windows
			SET request_count = request_count + 1
			WHERE user_id = $1 AND action = $2 AND window_start = $3
		`, userID, action, windowStart)
		if err != nil {
			return false, fmt.Errorf("increment rate limit window: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit rate limit transaction: %w", err)
	}
	return false, nil
}

// PruneWindows deletes windows that started more than olderThan ago.
func (r *RateLimitRepo) PruneWindows(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.dbPool.Exec(ctx,
		`DELETE FROM rate_limit_windows WHERE window_start < now() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("prune rate limit windows: %w", err)
	}
	return tag.RowsAffected(), nil
}
