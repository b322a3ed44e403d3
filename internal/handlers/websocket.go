package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"amora-calls-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for MVP
	},
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub         *services.WSHub
	userService *services.UserService
	callService *services.CallService
	stunServers []string
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *services.WSHub,
	userService *services.UserService,
	callService *services.CallService,
	stunServers []string,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		userService: userService,
		callService: callService,
		stunServers: stunServers,
	}
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Get token from query parameter
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}

	// Validate token
	userID, err := h.userService.ValidateJWT(token)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// Upgrade connection
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	// Register connection
	h.hub.Register(userID, conn)
	defer h.hub.Unregister(userID, conn)

	// Hand the client the ICE server list for its peer connection
	if err := h.hub.SendConfig(userID, h.stunServers); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to send call config")
	}

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	ctx := r.Context()

	// Handle messages
	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			break
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to parse WebSocket message")
			h.sendError(conn, "Invalid message format")
			continue
		}

		if err := h.handleMessage(ctx, userID, msg); err != nil {
			log.Error().Err(err).Str("user_id", userID).Str("type", msg.Type).Msg("Failed to handle message")
			h.sendError(conn, err.Error())
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(ctx context.Context, userID string, msg services.WSMessage) error {
	switch msg.Type {
	case "signal":
		return h.callService.Signal(ctx, userID, msg.CallID, msg.Signal)
	case "answer":
		_, err := h.callService.Answer(ctx, userID, msg.CallID)
		return err
	case "reject":
		_, err := h.callService.Reject(ctx, userID, msg.CallID)
		return err
	case "cancel":
		_, err := h.callService.Cancel(ctx, userID, msg.CallID)
		return err
	case "end":
		_, err := h.callService.End(ctx, userID, msg.CallID)
		return err
	case "active":
		_, err := h.callService.MarkActive(ctx, userID, msg.CallID)
		return err
	case "failed":
		_, err := h.callService.Fail(ctx, userID, msg.CallID, msg.Reason)
		return err
	default:
		return h.sendErrorToUser(userID, "Unknown message type")
	}
}

// sendError sends an error message to the WebSocket connection
func (h *WebSocketHandler) sendError(conn *websocket.Conn, message string) {
	msg := services.WSMessage{
		Type:    "error",
		Message: message,
	}
	data, _ := json.Marshal(msg)
	conn.WriteMessage(websocket.TextMessage, data)
}

// sendErrorToUser sends an error message to a user
func (h *WebSocketHandler) sendErrorToUser(userID, message string) error {
	msg := services.WSMessage{
		Type:    "error",
		Message: message,
	}
	return h.hub.SendToUser(userID, msg)
}
