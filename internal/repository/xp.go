package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"sproutxp/internal/model"
)

//go:embed cache_account.lua
var cacheAccountLuaScript string

var cacheAccountScript = redis.NewScript(cacheAccountLuaScript)

// LedgerMode selects where the grant transaction is expressed.
type LedgerMode string

const (
	// LedgerProcedure calls the grant_xp_atomic database function.
	LedgerProcedure LedgerMode = "procedure"
	// LedgerTransaction issues the same locked read-modify-write from Go in one transaction.
	LedgerTransaction LedgerMode = "transaction"
)

var (
	ErrAccountNotFound = errors.New("xp account not found")
	ErrCacheMiss       = errors.New("xp account not found in cache")
)

type XPRepo struct {
	dbPool      *pgxpool.Pool
	redisClient *redis.Client
	mode        LedgerMode
	cacheTTL    time.Duration
}

func NewXPRepo(db *pgxpool.Pool, rdb *redis.Client, mode LedgerMode, cacheTTL time.Duration) *XPRepo {
	return &XPRepo{
		dbPool:      db,
		redisClient: rdb,
		mode:        mode,
		cacheTTL:    cacheTTL,
	}
}

// Grant adds amount XP to the user's account as one indivisible operation.
// Invalid input comes back as a result with Success=false; error is reserved for
// failures that aborted the transaction.
func (r *XPRepo) Grant(ctx context.Context, userID uuid.UUID, amount int, action string) (*model.GrantResult, error) {
	var (
		res *model.GrantResult
		err error
	)
	switch r.mode {
	case LedgerTransaction:
		res, err = r.grantTx(ctx, userID, amount)
	default:
		res, err = r.grantProcedure(ctx, userID, amount, action)
	}
	if err != nil {
		return nil, err
	}

	if res.Success {
		acc := model.XPAccount{UserID: userID, TotalXP: res.NewXP, TotalLevel: res.NewLevel}
		if err := r.cacheAccount(ctx, acc); err != nil {
			slog.Warn("xp: failed to refresh account cache", "user_id", userID, "error", err)
		}
	}
	return res, nil
}

func (r *XPRepo) grantProcedure(ctx context.Context, userID uuid.UUID, amount int, action string) (*model.GrantResult, error) {
	var (
		res      model.GrantResult
		newXP    *int32
		newLevel *int32
		errMsg   *string
	)
	query := `SELECT success, new_xp, new_level, leveled_up, error_message FROM grant_xp_atomic($1, $2, $3)`
	err := r.dbPool.QueryRow(ctx, query, userID, amount, action).
		Scan(&res.Success, &newXP, &newLevel, &res.LeveledUp, &errMsg)
	if err != nil {
		return nil, fmt.Errorf("grant_xp_atomic: %w", err)
	}

	if newXP != nil {
		res.NewXP = int(*newXP)
	}
	if newLevel != nil {
		res.NewLevel = int(*newLevel)
	}
	if errMsg != nil {
		res.ErrorMessage = *errMsg
	}
	return &res, nil
}

func (r *XPRepo) grantTx(ctx context.Context, userID uuid.UUID, amount int) (*model.GrantResult, error) {
	// Reject before any row is touched.
	if amount <= 0 {
		return &model.GrantResult{Success: false, ErrorMessage: model.ErrNonPositiveAmount.Error()}, nil
	}

	tx, err := r.dbPool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin grant transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO xp_accounts (user_id, total_xp, total_level)
		VALUES ($1, 0, 1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure xp account: %w", err)
	}

	current := model.XPAccount{UserID: userID}
	err = tx.QueryRow(ctx, `
		SELECT total_xp, total_level FROM xp_accounts WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&current.TotalXP, &current.TotalLevel)
	if err != nil {
		return nil, fmt.Errorf("lock xp account: %w", err)
	}

	out, err := model.ApplyGrant(current, amount)
	if err != nil {
		return &model.GrantResult{Success: false, ErrorMessage: err.Error()}, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE xp_accounts
		SET total_xp = $2, total_level = $3, updated_at = now()
		WHERE user_id = $1
	`, userID, out.NewXP, out.NewLevel)
	if err != nil {
		return nil, fmt.Errorf("update xp account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit grant transaction: %w", err)
	}

	return &model.GrantResult{
		Success:   true,
		NewXP:     out.NewXP,
		NewLevel:  out.NewLevel,
		LeveledUp: out.LeveledUp,
	}, nil
}

// Account returns the user's XP account. Redis is consulted first; on a miss the row is
// read from PostgreSQL and written back to the cache.
func (r *XPRepo) Account(ctx context.Context, userID uuid.UUID) (*model.XPAccount, error) {
	acc, err := r.cachedAccount(ctx, userID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		slog.Warn("xp: cache read failed, falling back to postgres", "user_id", userID, "error", err)
	}

	acc = &model.XPAccount{UserID: userID}
	query := `SELECT total_xp, total_level, updated_at FROM xp_accounts WHERE user_id = $1`
	err = r.dbPool.QueryRow(ctx, query, userID).Scan(&acc.TotalXP, &acc.TotalLevel, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database query error: %w", err)
	}

	if err := r.cacheAccount(ctx, *acc); err != nil {
		slog.Warn("xp: failed to warm account cache", "user_id", userID, "error", err)
	}
	return acc, nil
}

func accountKey(userID uuid.UUID) string {
	return fmt.Sprintf("xp:%s", userID)
}

func (r *XPRepo) cachedAccount(ctx context.Context, userID uuid.UUID) (*model.XPAccount, error) {
	fields, err := r.redisClient.HGetAll(ctx, accountKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrCacheMiss
	}

	totalXP, err := strconv.Atoi(fields["total_xp"])
	if err != nil {
		return nil, fmt.Errorf("cached total_xp: %w", err)
	}
	totalLevel, err := strconv.Atoi(fields["total_level"])
	if err != nil {
		return nil, fmt.Errorf("cached total_level: %w", err)
	}
	return &model.XPAccount{UserID: userID, TotalXP: totalXP, TotalLevel: totalLevel}, nil
}

// cacheAccount stores acc unless the cache already holds an equal or newer total.
func (r *XPRepo) cacheAccount(ctx context.Context, acc model.XPAccount) error {
	keys := []string{accountKey(acc.UserID)}
	args := []interface{}{acc.TotalXP, acc.TotalLevel, int64(r.cacheTTL / time.Second)}
	return cacheAccountScript.Run(ctx, r.redisClient, keys, args...).Err()
}
