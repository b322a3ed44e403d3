package repository

import (
	"context"
	"fmt"

	"amora-calls-backend/internal/errs"
	"amora-calls-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

// MatchRepository handles database operations for matches
type MatchRepository struct {
	db PgxPool
}

// NewMatchRepository creates a new match repository
func NewMatchRepository(db PgxPool) *MatchRepository {
	return &MatchRepository{db: db}
}

// Create creates a new match
func (r *MatchRepository) Create(ctx context.Context, match *models.Match) error {
	query := `
		INSERT INTO matches (id, user_a_id, user_b_id, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Exec(ctx, query, match.ID, match.UserAID, match.UserBID, match.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

// GetByID retrieves a match by ID
func (r *MatchRepository) GetByID(ctx context.Context, id string) (*models.Match, error) {
	query := `
		SELECT id, user_a_id, user_b_id, created_at
		FROM matches
		WHERE id = $1
	`
	var match models.Match
	err := r.db.QueryRow(ctx, query, id).Scan(
		&match.ID, &match.UserAID, &match.UserBID, &match.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("match %s: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return &match, nil
}

// Exists checks whether the two users are matched, in either order
func (r *MatchRepository) Exists(ctx context.Context, userID, otherID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM matches
			WHERE (user_a_id = $1 AND user_b_id = $2)
			   OR (user_a_id = $2 AND user_b_id = $1)
		)
	`
	var exists bool
	err := r.db.QueryRow(ctx, query, userID, otherID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check match existence: %w", err)
	}
	return exists, nil
}

// Delete deletes a match by ID
func (r *MatchRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM matches WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete match: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("match %s: %w", id, errs.ErrNotFound)
	}
	return nil
}
