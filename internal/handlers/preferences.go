package handlers

import (
	"encoding/json"
	"net/http"

	"amora-calls-backend/internal/middleware"
	"amora-calls-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// PreferencesHandler handles call-preferences HTTP requests
type PreferencesHandler struct {
	prefService *services.PreferencesService
}

// NewPreferencesHandler creates a new preferences handler
func NewPreferencesHandler(prefService *services.PreferencesService) *PreferencesHandler {
	return &PreferencesHandler{
		prefService: prefService,
	}
}

// GetPreferences handles GET /api/v1/preferences
func (h *PreferencesHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	prefs, err := h.prefService.Get(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to get call preferences")
		respondError(w, "Failed to get preferences", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, prefs)
}

// UpdatePreferences handles PUT /api/v1/preferences
func (h *PreferencesHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.UpdatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	prefs, err := h.prefService.Update(ctx, userID, req)
	if err != nil {
		statusCode := statusFromError(err)
		if statusCode == http.StatusInternalServerError {
			// Validation failures come back as plain errors
			statusCode = http.StatusBadRequest
		}
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update call preferences")
		respondError(w, err.Error(), statusCode)
		return
	}

	log.Info().Str("user_id", userID).Msg("Call preferences updated")
	respondJSON(w, http.StatusOK, prefs)
}
