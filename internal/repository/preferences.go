package repository

import (
	"context"
	"fmt"

	"amora-calls-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

// PreferencesRepository handles database operations for call preferences
type PreferencesRepository struct {
	db PgxPool
}

// NewPreferencesRepository creates a new preferences repository
func NewPreferencesRepository(db PgxPool) *PreferencesRepository {
	return &PreferencesRepository{db: db}
}

const preferencesColumns = `
	user_id, allow_calls_from, auto_answer, notifications_enabled,
	video_quality, available, available_from, available_until, timezone, updated_at
`

// GetOrCreate returns the user's preferences, inserting defaults on first access
func (r *PreferencesRepository) GetOrCreate(ctx context.Context, userID string) (*models.CallPreferences, error) {
	query := `SELECT ` + preferencesColumns + ` FROM call_preferences WHERE user_id = $1`
	prefs, err := scanPreferences(r.db.QueryRow(ctx, query, userID))
	if err == nil {
		return prefs, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to get call preferences: %w", err)
	}

	defaults := models.DefaultPreferences(userID)
	insert := `
		INSERT INTO call_preferences (user_id, allow_calls_from, auto_answer, notifications_enabled,
			video_quality, available, available_from, available_until, timezone, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err = r.db.Exec(ctx, insert,
		defaults.UserID, defaults.AllowCallsFrom, defaults.AutoAnswer, defaults.NotificationsEnabled,
		defaults.VideoQuality, defaults.Available, defaults.AvailableFrom, defaults.AvailableUntil,
		defaults.Timezone,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create default call preferences: %w", err)
	}

	// Re-read to pick up a concurrent insert that won the conflict.
	prefs, err = scanPreferences(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get call preferences: %w", err)
	}
	return prefs, nil
}

// Upsert writes the full preferences row, last write wins
func (r *PreferencesRepository) Upsert(ctx context.Context, prefs *models.CallPreferences) error {
	query := `
		INSERT INTO call_preferences (user_id, allow_calls_from, auto_answer, notifications_enabled,
			video_quality, available, available_from, available_until, timezone, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			allow_calls_from = EXCLUDED.allow_calls_from,
			auto_answer = EXCLUDED.auto_answer,
			notifications_enabled = EXCLUDED.notifications_enabled,
			video_quality = EXCLUDED.video_quality,
			available = EXCLUDED.available,
			available_from = EXCLUDED.available_from,
			available_until = EXCLUDED.available_until,
			timezone = EXCLUDED.timezone,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query,
		prefs.UserID, prefs.AllowCallsFrom, prefs.AutoAnswer, prefs.NotificationsEnabled,
		prefs.VideoQuality, prefs.Available, prefs.AvailableFrom, prefs.AvailableUntil,
		prefs.Timezone,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert call preferences: %w", err)
	}
	return nil
}

func scanPreferences(row pgx.Row) (*models.CallPreferences, error) {
	var prefs models.CallPreferences
	err := row.Scan(
		&prefs.UserID, &prefs.AllowCallsFrom, &prefs.AutoAnswer, &prefs.NotificationsEnabled,
		&prefs.VideoQuality, &prefs.Available, &prefs.AvailableFrom, &prefs.AvailableUntil,
		&prefs.Timezone, &prefs.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &prefs, nil
}
