package models

// CallStatus is the lifecycle state of a call session.
// Keep values stable because they are stored and part of the public API.
type CallStatus string

const (
	CallStatusInitiating CallStatus = "initiating"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusConnecting CallStatus = "connecting"
	CallStatusActive     CallStatus = "active"
	CallStatusEnded      CallStatus = "ended"
	CallStatusRejected   CallStatus = "rejected"
	CallStatusCancelled  CallStatus = "cancelled"
	CallStatusFailed     CallStatus = "failed"
)

// transitions lists the allowed next states for each non-terminal state.
// Any non-terminal state may additionally move to failed.
var transitions = map[CallStatus][]CallStatus{
	CallStatusInitiating: {CallStatusRinging, CallStatusCancelled},
	CallStatusRinging:    {CallStatusConnecting, CallStatusRejected, CallStatusCancelled},
	CallStatusConnecting: {CallStatusActive, CallStatusEnded},
	CallStatusActive:     {CallStatusEnded},
}

// Terminal reports whether no further transition is allowed out of s
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusRejected, CallStatusCancelled, CallStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed
func (s CallStatus) CanTransition(next CallStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == CallStatusFailed {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
