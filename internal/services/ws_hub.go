package services

import (
	"encoding/json"
	"fmt"
	"sync"

	"amora-calls-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsConn is the subset of *websocket.Conn the hub uses
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var _ wsConn = (*websocket.Conn)(nil)

// WSMessage represents a WebSocket message, both directions
type WSMessage struct {
	Type        string                `json:"type"`
	CallID      string                `json:"call_id,omitempty"`
	From        string                `json:"from,omitempty"`
	Call        *models.CallSession   `json:"call,omitempty"`
	Signal      *models.SignalPayload `json:"signal,omitempty"`
	STUNServers []string              `json:"stun_servers,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	Message     string                `json:"message,omitempty"`
}

// WSHub manages WebSocket connections, one per user. It is the realtime
// channel call events and signaling payloads are pushed through; the hub
// handle is owned by the process and closed on shutdown.
type WSHub struct {
	mu          sync.RWMutex
	connections map[string]wsConn
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		connections: make(map[string]wsConn),
	}
}

// Register registers a new WebSocket connection for a user.
// An existing connection for the same user is closed and replaced.
func (h *WSHub) Register(userID string, conn wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existingConn, exists := h.connections[userID]; exists {
		existingConn.Close()
	}

	h.connections[userID] = conn

	log.Info().Str("user_id", userID).Msg("WebSocket connection registered")
}

// Unregister removes the WebSocket connection for a user.
// Only the given connection is removed, so a replaced connection's
// deferred unregister does not kick out its successor.
func (h *WSHub) Unregister(userID string, conn wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, exists := h.connections[userID]; exists && current == conn {
		current.Close()
		delete(h.connections, userID)
		log.Info().Str("user_id", userID).Msg("WebSocket connection unregistered")
	}
}

// SendToUser sends a message to a specific user
func (h *WSHub) SendToUser(userID string, message WSMessage) error {
	h.mu.RLock()
	conn, exists := h.connections[userID]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("user %s is not connected", userID)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.Unregister(userID, conn)
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// IsOnline checks if a user is online
func (h *WSHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.connections[userID]
	return exists
}

// NotifyIncoming tells the receiver a call is ringing for them
func (h *WSHub) NotifyIncoming(userID string, session *models.CallSession) error {
	return h.SendToUser(userID, WSMessage{
		Type:   "call_incoming",
		CallID: session.ID,
		From:   session.CallerID,
		Call:   session,
	})
}

// NotifyStatus tells a party about a session status change
func (h *WSHub) NotifyStatus(userID string, session *models.CallSession) error {
	return h.SendToUser(userID, WSMessage{
		Type:   "call_status",
		CallID: session.ID,
		Call:   session,
		Reason: session.EndReason,
	})
}

// RelaySignal forwards a signaling payload to the other party of a call
func (h *WSHub) RelaySignal(userID, callID, fromID string, payload *models.SignalPayload) error {
	return h.SendToUser(userID, WSMessage{
		Type:   "call_signal",
		CallID: callID,
		From:   fromID,
		Signal: payload,
	})
}

// SendConfig sends the ICE server list a client should hand to its peer connection
func (h *WSHub) SendConfig(userID string, stunServers []string) error {
	return h.SendToUser(userID, WSMessage{
		Type:        "call_config",
		STUNServers: stunServers,
	})
}

// Close closes all connections, used on shutdown
func (h *WSHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, conn := range h.connections {
		conn.Close()
		delete(h.connections, userID)
	}
	log.Info().Msg("WebSocket hub closed")
}
