package models

import "testing"

func TestCallStatus_Terminal(t *testing.T) {
	terminal := []CallStatus{CallStatusEnded, CallStatusRejected, CallStatusCancelled, CallStatusFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	live := []CallStatus{CallStatusInitiating, CallStatusRinging, CallStatusConnecting, CallStatusActive}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCallStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from, to CallStatus
		want     bool
	}{
		{CallStatusInitiating, CallStatusRinging, true},
		{CallStatusInitiating, CallStatusCancelled, true},
		{CallStatusInitiating, CallStatusActive, false},
		{CallStatusRinging, CallStatusConnecting, true},
		{CallStatusRinging, CallStatusRejected, true},
		{CallStatusRinging, CallStatusCancelled, true},
		{CallStatusRinging, CallStatusActive, false},
		{CallStatusRinging, CallStatusEnded, false},
		{CallStatusConnecting, CallStatusActive, true},
		{CallStatusConnecting, CallStatusEnded, true},
		{CallStatusConnecting, CallStatusRejected, false},
		{CallStatusActive, CallStatusEnded, true},
		{CallStatusActive, CallStatusConnecting, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

// Any non-terminal state may fail; no state leaves a terminal one.
func TestCallStatus_FailedAndTerminalRules(t *testing.T) {
	all := []CallStatus{
		CallStatusInitiating, CallStatusRinging, CallStatusConnecting, CallStatusActive,
		CallStatusEnded, CallStatusRejected, CallStatusCancelled, CallStatusFailed,
	}

	for _, from := range all {
		if got := from.CanTransition(CallStatusFailed); got != !from.Terminal() {
			t.Errorf("CanTransition(%s -> failed) = %v, want %v", from, got, !from.Terminal())
		}
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			if from.CanTransition(to) {
				t.Errorf("terminal state %s must not transition to %s", from, to)
			}
		}
	}
}

func TestCallSession_PeerOf(t *testing.T) {
	s := &CallSession{CallerID: "u1", ReceiverID: "u2"}

	if got := s.PeerOf("u1"); got != "u2" {
		t.Errorf("PeerOf(u1) = %q, want u2", got)
	}
	if got := s.PeerOf("u2"); got != "u1" {
		t.Errorf("PeerOf(u2) = %q, want u1", got)
	}
	if got := s.PeerOf("u3"); got != "" {
		t.Errorf("PeerOf(u3) = %q, want empty", got)
	}
	if s.Participant("u3") {
		t.Error("u3 should not be a participant")
	}
}
