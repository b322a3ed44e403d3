package models

import "time"

// User represents a user in the system
type User struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Token     string    `json:"token"`
	PushToken *string   `json:"push_token,omitempty"`
	Premium   bool      `json:"premium"`
	CreatedAt time.Time `json:"created_at"`
}

// Match represents two users who matched with each other
type Match struct {
	ID        string    `json:"id"`
	UserAID   string    `json:"user_a_id"`
	UserBID   string    `json:"user_b_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CallType distinguishes audio-only calls from video calls
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallSession represents one call attempt between two users.
// Version increments on every write and guards status transitions
// against concurrent updates by the two parties.
type CallSession struct {
	ID              string          `json:"id"`
	CallerID        string          `json:"caller_id"`
	ReceiverID      string          `json:"receiver_id"`
	CallType        CallType        `json:"call_type"`
	Status          CallStatus      `json:"status"`
	Version         int64           `json:"version"`
	Offer           *SignalPayload  `json:"offer,omitempty"`
	Answer          *SignalPayload  `json:"answer,omitempty"`
	ICECandidates   []SignalPayload `json:"ice_candidates,omitempty"`
	EndReason       string          `json:"end_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	DurationSeconds int             `json:"duration_seconds"`
}

// Participant reports whether userID is the caller or the receiver
func (s *CallSession) Participant(userID string) bool {
	return s.CallerID == userID || s.ReceiverID == userID
}

// PeerOf returns the other party of the session, or "" if userID
// is not a participant
func (s *CallSession) PeerOf(userID string) string {
	switch userID {
	case s.CallerID:
		return s.ReceiverID
	case s.ReceiverID:
		return s.CallerID
	}
	return ""
}

// CallPolicy controls who may call a user
type CallPolicy string

const (
	CallPolicyEveryone CallPolicy = "everyone"
	CallPolicyMatches  CallPolicy = "matches"
	CallPolicyPremium  CallPolicy = "premium"
	CallPolicyNone     CallPolicy = "none"
)

// Valid reports whether p is a known call policy
func (p CallPolicy) Valid() bool {
	switch p {
	case CallPolicyEveryone, CallPolicyMatches, CallPolicyPremium, CallPolicyNone:
		return true
	}
	return false
}

// VideoQuality is the preferred video quality for calls
type VideoQuality string

const (
	VideoQualityLow      VideoQuality = "low"
	VideoQualityStandard VideoQuality = "standard"
	VideoQualityHigh     VideoQuality = "high"
)

// Valid reports whether q is a known video quality
func (q VideoQuality) Valid() bool {
	return q == VideoQualityLow || q == VideoQualityStandard || q == VideoQualityHigh
}

// CallPreferences holds per-user calling preferences. One row per user,
// created lazily with defaults on first access, never deleted.
// AvailableFrom/AvailableUntil are minutes since midnight in Timezone;
// equal values mean no window restriction.
type CallPreferences struct {
	UserID               string       `json:"user_id"`
	AllowCallsFrom       CallPolicy   `json:"allow_calls_from"`
	AutoAnswer           bool         `json:"auto_answer"`
	NotificationsEnabled bool         `json:"notifications_enabled"`
	VideoQuality         VideoQuality `json:"video_quality"`
	Available            bool         `json:"available"`
	AvailableFrom        int          `json:"available_from"`
	AvailableUntil       int          `json:"available_until"`
	Timezone             string       `json:"timezone"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// DefaultPreferences returns the preferences row created on first access
func DefaultPreferences(userID string) *CallPreferences {
	return &CallPreferences{
		UserID:               userID,
		AllowCallsFrom:       CallPolicyEveryone,
		AutoAnswer:           false,
		NotificationsEnabled: true,
		VideoQuality:         VideoQualityStandard,
		Available:            true,
		Timezone:             "UTC",
	}
}
