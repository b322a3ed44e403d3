package services

import (
	"context"
	"fmt"
	"time"

	"amora-calls-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// PrefStore is the persistent store for call preferences
type PrefStore interface {
	GetOrCreate(ctx context.Context, userID string) (*models.CallPreferences, error)
	Upsert(ctx context.Context, prefs *models.CallPreferences) error
}

// MatchStore is the subset of the match repository the permission check needs
type MatchStore interface {
	Exists(ctx context.Context, userID, otherID string) (bool, error)
}

// PreferencesService handles call preferences and the permission decision
// derived from them
type PreferencesService struct {
	prefs   PrefStore
	matches MatchStore
	users   UserStore
}

// NewPreferencesService creates a new preferences service
func NewPreferencesService(prefs PrefStore, matches MatchStore, users UserStore) *PreferencesService {
	return &PreferencesService{
		prefs:   prefs,
		matches: matches,
		users:   users,
	}
}

// UpdatePreferencesRequest carries a partial preferences update.
// Nil fields keep their stored values.
type UpdatePreferencesRequest struct {
	AllowCallsFrom       *models.CallPolicy   `json:"allow_calls_from,omitempty"`
	AutoAnswer           *bool                `json:"auto_answer,omitempty"`
	NotificationsEnabled *bool                `json:"notifications_enabled,omitempty"`
	VideoQuality         *models.VideoQuality `json:"video_quality,omitempty"`
	Available            *bool                `json:"available,omitempty"`
	AvailableFrom        *int                 `json:"available_from,omitempty"`
	AvailableUntil       *int                 `json:"available_until,omitempty"`
	Timezone             *string              `json:"timezone,omitempty"`
}

// Get returns the user's preferences, creating defaults on first access
func (s *PreferencesService) Get(ctx context.Context, userID string) (*models.CallPreferences, error) {
	return s.prefs.GetOrCreate(ctx, userID)
}

// Update applies a partial update on top of the stored row, last write wins
func (s *PreferencesService) Update(ctx context.Context, userID string, req UpdatePreferencesRequest) (*models.CallPreferences, error) {
	prefs, err := s.prefs.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.AllowCallsFrom != nil {
		if !req.AllowCallsFrom.Valid() {
			return nil, fmt.Errorf("invalid allow_calls_from %q", *req.AllowCallsFrom)
		}
		prefs.AllowCallsFrom = *req.AllowCallsFrom
	}
	if req.AutoAnswer != nil {
		prefs.AutoAnswer = *req.AutoAnswer
	}
	if req.NotificationsEnabled != nil {
		prefs.NotificationsEnabled = *req.NotificationsEnabled
	}
	if req.VideoQuality != nil {
		if !req.VideoQuality.Valid() {
			return nil, fmt.Errorf("invalid video_quality %q", *req.VideoQuality)
		}
		prefs.VideoQuality = *req.VideoQuality
	}
	if req.Available != nil {
		prefs.Available = *req.Available
	}
	if req.AvailableFrom != nil {
		if *req.AvailableFrom < 0 || *req.AvailableFrom >= 24*60 {
			return nil, fmt.Errorf("available_from out of range")
		}
		prefs.AvailableFrom = *req.AvailableFrom
	}
	if req.AvailableUntil != nil {
		if *req.AvailableUntil < 0 || *req.AvailableUntil >= 24*60 {
			return nil, fmt.Errorf("available_until out of range")
		}
		prefs.AvailableUntil = *req.AvailableUntil
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q", *req.Timezone)
		}
		prefs.Timezone = *req.Timezone
	}

	if err := s.prefs.Upsert(ctx, prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

// CheckCallPermission decides whether callerID may call receiverID, from the
// receiver's allow_calls_from policy and availability window
func (s *PreferencesService) CheckCallPermission(ctx context.Context, callerID, receiverID string) (bool, error) {
	prefs, err := s.prefs.GetOrCreate(ctx, receiverID)
	if err != nil {
		return false, err
	}

	if !prefs.Available || !withinWindow(prefs, time.Now()) {
		return false, nil
	}

	switch prefs.AllowCallsFrom {
	case models.CallPolicyEveryone:
		return true, nil
	case models.CallPolicyNone:
		return false, nil
	case models.CallPolicyMatches:
		return s.matches.Exists(ctx, callerID, receiverID)
	case models.CallPolicyPremium:
		caller, err := s.users.GetByID(ctx, callerID)
		if err != nil {
			return false, err
		}
		return caller.Premium, nil
	}
	return false, nil
}

// NotificationsEnabled reports whether the user wants incoming-call alerts
func (s *PreferencesService) NotificationsEnabled(ctx context.Context, userID string) (bool, error) {
	prefs, err := s.prefs.GetOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}
	return prefs.NotificationsEnabled, nil
}

// withinWindow checks the availability time window in the user's timezone.
// An equal from/until means no restriction; a window crossing midnight wraps.
func withinWindow(prefs *models.CallPreferences, now time.Time) bool {
	if prefs.AvailableFrom == prefs.AvailableUntil {
		return true
	}

	loc, err := time.LoadLocation(prefs.Timezone)
	if err != nil {
		log.Warn().Str("timezone", prefs.Timezone).Str("user_id", prefs.UserID).Msg("Unknown timezone, assuming UTC")
		loc = time.UTC
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if prefs.AvailableFrom < prefs.AvailableUntil {
		return minute >= prefs.AvailableFrom && minute < prefs.AvailableUntil
	}
	return minute >= prefs.AvailableFrom || minute < prefs.AvailableUntil
}
