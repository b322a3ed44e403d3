package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"amora-calls-backend/internal/errs"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// statusFromError maps sentinel errors to HTTP status codes
func statusFromError(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrCallNotAllowed),
		errors.Is(err, errs.ErrUnauthorized),
		errors.Is(err, errs.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrReceiverBusy),
		errors.Is(err, errs.ErrVersionConflict),
		errors.Is(err, errs.ErrInvalidTransition),
		errors.Is(err, errs.ErrCallTerminal):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
