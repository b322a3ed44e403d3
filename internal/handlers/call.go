package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"amora-calls-backend/internal/middleware"
	"amora-calls-backend/internal/models"
	"amora-calls-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// CallHandler handles call-related HTTP requests
type CallHandler struct {
	callService *services.CallService
}

// NewCallHandler creates a new call handler
func NewCallHandler(callService *services.CallService) *CallHandler {
	return &CallHandler{
		callService: callService,
	}
}

// InitiateCallRequest represents the request body for initiating a call
type InitiateCallRequest struct {
	ReceiverID string          `json:"receiver_id"`
	CallType   models.CallType `json:"call_type"`
}

// InitiateCall handles POST /api/v1/calls
func (h *CallHandler) InitiateCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req InitiateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ReceiverID == "" {
		respondError(w, "receiver_id is required", http.StatusBadRequest)
		return
	}
	if !req.CallType.Valid() {
		respondError(w, "call_type must be audio or video", http.StatusBadRequest)
		return
	}

	session, err := h.callService.Initiate(ctx, userID, req.ReceiverID, req.CallType)
	if err != nil {
		log.Error().
			Err(err).
			Str("caller_id", userID).
			Str("receiver_id", req.ReceiverID).
			Msg("Failed to initiate call")
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

// GetCall handles GET /api/v1/calls/{call_id}
func (h *CallHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	callID := chi.URLParam(r, "call_id")

	session, err := h.callService.Get(ctx, userID, callID)
	if err != nil {
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	respondJSON(w, http.StatusOK, session)
}

// CallHistoryResponse represents a page of a user's call history
type CallHistoryResponse struct {
	Calls []*models.CallSession `json:"calls"`
	Total int                   `json:"total"`
}

// GetHistory handles GET /api/v1/calls
func (h *CallHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	limit := 50
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil {
			limit = parsedLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil {
			offset = parsedOffset
		}
	}

	calls, total, err := h.callService.History(ctx, userID, limit, offset)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to get call history")
		respondError(w, "Failed to get call history", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, CallHistoryResponse{Calls: calls, Total: total})
}

// AnswerCall handles POST /api/v1/calls/{call_id}/answer
func (h *CallHandler) AnswerCall(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.callService.Answer, "answer")
}

// RejectCall handles POST /api/v1/calls/{call_id}/reject
func (h *CallHandler) RejectCall(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.callService.Reject, "reject")
}

// CancelCall handles POST /api/v1/calls/{call_id}/cancel
func (h *CallHandler) CancelCall(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.callService.Cancel, "cancel")
}

// EndCall handles POST /api/v1/calls/{call_id}/end
func (h *CallHandler) EndCall(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.callService.End, "end")
}

// MarkActive handles POST /api/v1/calls/{call_id}/active
func (h *CallHandler) MarkActive(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.callService.MarkActive, "active")
}

type lifecycleOp func(ctx context.Context, userID, callID string) (*models.CallSession, error)

func (h *CallHandler) lifecycle(w http.ResponseWriter, r *http.Request, op lifecycleOp, name string) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	callID := chi.URLParam(r, "call_id")

	if callID == "" {
		respondError(w, "call_id is required", http.StatusBadRequest)
		return
	}

	session, err := op(ctx, userID, callID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("call_id", callID).
			Str("op", name).
			Msg("Call lifecycle operation failed")
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	respondJSON(w, http.StatusOK, session)
}
