package handlers

import (
	"encoding/json"
	"net/http"

	"amora-calls-backend/internal/middleware"
	"amora-calls-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// MatchHandler handles match-related HTTP requests
type MatchHandler struct {
	matchService *services.MatchService
	wsHub        *services.WSHub
}

// NewMatchHandler creates a new match handler
func NewMatchHandler(matchService *services.MatchService, wsHub *services.WSHub) *MatchHandler {
	return &MatchHandler{
		matchService: matchService,
		wsHub:        wsHub,
	}
}

// CreateMatchRequest represents the request body for creating a match
type CreateMatchRequest struct {
	PartnerCode string `json:"partner_code"`
}

// CreateMatch handles POST /api/v1/matches
func (h *MatchHandler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.PartnerCode == "" {
		respondError(w, "partner_code is required", http.StatusBadRequest)
		return
	}

	if len(req.PartnerCode) != 6 {
		respondError(w, "partner_code must be 6 characters", http.StatusBadRequest)
		return
	}

	match, err := h.matchService.CreateMatch(ctx, userID, req.PartnerCode)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("partner_code", req.PartnerCode).
			Msg("Failed to create match")

		statusCode := statusFromError(err)
		if statusCode == http.StatusInternalServerError {
			if err.Error() == "cannot create match with yourself" ||
				err.Error() == "users are already matched" {
				statusCode = http.StatusConflict
			}
		}

		respondError(w, err.Error(), statusCode)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("match_id", match.ID).
		Msg("Match created")

	// Notify the partner over the realtime channel if they are online
	partnerID := match.UserBID
	if match.UserBID == userID {
		partnerID = match.UserAID
	}
	if h.wsHub.IsOnline(partnerID) {
		msg := services.WSMessage{Type: "match_created", Message: match.ID}
		if err := h.wsHub.SendToUser(partnerID, msg); err != nil {
			log.Error().
				Err(err).
				Str("partner_id", partnerID).
				Msg("Failed to notify partner about match creation")
		}
	}

	respondJSON(w, http.StatusOK, match)
}

// DeleteMatch handles DELETE /api/v1/matches/{match_id}
func (h *MatchHandler) DeleteMatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	matchID := chi.URLParam(r, "match_id")

	if matchID == "" {
		respondError(w, "match_id is required", http.StatusBadRequest)
		return
	}

	match, err := h.matchService.GetMatchByID(ctx, matchID)
	if err != nil {
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	partnerID := match.UserAID
	if match.UserAID == userID {
		partnerID = match.UserBID
	}

	if err := h.matchService.DeleteMatch(ctx, matchID, userID); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("match_id", matchID).
			Msg("Failed to delete match")
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("match_id", matchID).
		Msg("Match deleted")

	if h.wsHub.IsOnline(partnerID) {
		msg := services.WSMessage{Type: "match_deleted", Message: matchID}
		if err := h.wsHub.SendToUser(partnerID, msg); err != nil {
			log.Error().
				Err(err).
				Str("partner_id", partnerID).
				Msg("Failed to notify partner about match deletion")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
