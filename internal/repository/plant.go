package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PlantRepo struct {
	dbPool *pgxpool.Pool
}

func NewPlantRepo(db *pgxpool.Pool) *PlantRepo {
	return &PlantRepo{dbPool: db}
}

// Owns reports whether plantID exists and belongs to userID.
func (r *PlantRepo) Owns(ctx context.Context, userID, plantID uuid.UUID) (bool, error) {
	var owned bool
	query := `SELECT EXISTS (SELECT 1 FROM plants WHERE id = $1 AND user_id = $2)`
	if err := r.dbPool.QueryRow(ctx, query, plantID, userID).Scan(&owned); err != nil {
		return false, fmt.Errorf("plant ownership query: %w", err)
	}
	return owned, nil
}
