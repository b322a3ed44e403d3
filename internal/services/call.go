package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"amora-calls-backend/internal/errs"
	"amora-calls-backend/internal/models"
	"amora-calls-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CallStore is the persistent store for call sessions
type CallStore interface {
	Create(ctx context.Context, session *models.CallSession) error
	GetByID(ctx context.Context, id string) (*models.CallSession, error)
	HasActiveCall(ctx context.Context, userID string) (bool, error)
	History(ctx context.Context, userID string, limit, offset int) ([]*models.CallSession, int, error)
	UpdateStatus(ctx context.Context, id string, expectedVersion int64, upd repository.StatusUpdate) error
	SetOffer(ctx context.Context, id string, payload *models.SignalPayload) error
	SetAnswer(ctx context.Context, id string, payload *models.SignalPayload) error
	AppendICECandidate(ctx context.Context, id string, payload *models.SignalPayload) error
	ExpireRinging(ctx context.Context, id, endReason string) (bool, error)
}

// UserStore is the subset of the user repository the call service needs
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// PermissionChecker decides whether a caller may call a receiver
type PermissionChecker interface {
	CheckCallPermission(ctx context.Context, callerID, receiverID string) (bool, error)
	NotificationsEnabled(ctx context.Context, userID string) (bool, error)
}

// CallNotifier pushes call events to connected clients
type CallNotifier interface {
	IsOnline(userID string) bool
	NotifyIncoming(userID string, session *models.CallSession) error
	NotifyStatus(userID string, session *models.CallSession) error
	RelaySignal(userID, callID, fromID string, payload *models.SignalPayload) error
}

// PushSender delivers incoming-call alerts to offline receivers
type PushSender interface {
	SendIncomingCall(ctx context.Context, deviceToken string, session *models.CallSession) error
}

// CallService orchestrates the lifecycle of two-party call sessions:
// initiate/answer/reject/cancel/end, signaling relay and the ring timeout.
type CallService struct {
	calls       CallStore
	users       UserStore
	perms       PermissionChecker
	notifier    CallNotifier
	push        PushSender // nil when push delivery is disabled
	ringTimeout time.Duration

	mu         sync.Mutex
	ringTimers map[string]*time.Timer
	closed     bool
}

// NewCallService creates a new call service
func NewCallService(
	calls CallStore,
	users UserStore,
	perms PermissionChecker,
	notifier CallNotifier,
	push PushSender,
	ringTimeout time.Duration,
) *CallService {
	if ringTimeout <= 0 {
		ringTimeout = 45 * time.Second
	}
	return &CallService{
		calls:       calls,
		users:       users,
		perms:       perms,
		notifier:    notifier,
		push:        push,
		ringTimeout: ringTimeout,
		ringTimers:  make(map[string]*time.Timer),
	}
}

// Initiate creates a ringing session and notifies the receiver.
// The receiver's preferences are checked first; a denied call creates no row.
// A receiver (or caller) with a call already in progress refuses the new one.
func (s *CallService) Initiate(ctx context.Context, callerID, receiverID string, callType models.CallType) (*models.CallSession, error) {
	if !callType.Valid() {
		return nil, fmt.Errorf("invalid call type %q", callType)
	}
	if callerID == receiverID {
		return nil, fmt.Errorf("cannot call yourself")
	}

	allowed, err := s.perms.CheckCallPermission(ctx, callerID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to check call permission: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("user %s does not accept calls from %s: %w", receiverID, callerID, errs.ErrCallNotAllowed)
	}

	for _, userID := range []string{receiverID, callerID} {
		busy, err := s.calls.HasActiveCall(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to check active call: %w", err)
		}
		if busy {
			return nil, fmt.Errorf("user %s has a call in progress: %w", userID, errs.ErrReceiverBusy)
		}
	}

	session := &models.CallSession{
		ID:         uuid.New().String(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   callType,
		Status:     models.CallStatusRinging,
		CreatedAt:  time.Now(),
	}

	if err := s.calls.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create call session: %w", err)
	}

	// The row exists from here on; any failed step marks it failed
	// instead of leaving it ringing forever.
	if err := s.notifyReceiver(ctx, session); err != nil {
		s.markFailed(ctx, session, "notify_failed")
		return nil, err
	}

	s.armRingTimer(session.ID)

	log.Info().
		Str("call_id", session.ID).
		Str("caller_id", callerID).
		Str("receiver_id", receiverID).
		Str("call_type", string(callType)).
		Msg("Call initiated")

	return session, nil
}

// notifyReceiver pushes the incoming-call event over the hub, falling back
// to APNs when the receiver has no live connection. A receiver that is
// unreachable on both paths still has the ring timeout as liveness bound.
func (s *CallService) notifyReceiver(ctx context.Context, session *models.CallSession) error {
	if s.notifier.IsOnline(session.ReceiverID) {
		err := s.notifier.NotifyIncoming(session.ReceiverID, session)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Str("call_id", session.ID).Msg("Realtime incoming-call notify failed, trying push")
	}

	if s.push == nil {
		return nil
	}

	enabled, err := s.perms.NotificationsEnabled(ctx, session.ReceiverID)
	if err != nil {
		return fmt.Errorf("failed to load receiver preferences: %w", err)
	}
	if !enabled {
		return nil
	}

	receiver, err := s.users.GetByID(ctx, session.ReceiverID)
	if err != nil {
		return fmt.Errorf("failed to load receiver: %w", err)
	}
	if receiver.PushToken == nil || *receiver.PushToken == "" {
		return nil
	}

	if err := s.push.SendIncomingCall(ctx, *receiver.PushToken, session); err != nil {
		log.Error().Err(err).Str("call_id", session.ID).Msg("Failed to push incoming-call alert")
	}
	return nil
}

// Answer moves a ringing session to connecting; only the receiver may answer
func (s *CallService) Answer(ctx context.Context, userID, callID string) (*models.CallSession, error) {
	session, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if session.ReceiverID != userID {
		return nil, fmt.Errorf("user %s cannot answer call %s: %w", userID, callID, errs.ErrNotParticipant)
	}

	if err := s.transition(ctx, session, models.CallStatusConnecting, repository.StatusUpdate{
		Status: models.CallStatusConnecting,
	}); err != nil {
		return nil, err
	}

	s.disarmRingTimer(callID)
	s.notifyStatus(session, session.CallerID)

	log.Info().Str("call_id", callID).Str("user_id", userID).Msg("Call answered")
	return session, nil
}

// MarkActive records the first successful media exchange, reported by a client
func (s *CallService) MarkActive(ctx context.Context, userID, callID string) (*models.CallSession, error) {
	session, err := s.getForParticipant(ctx, userID, callID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.transition(ctx, session, models.CallStatusActive, repository.StatusUpdate{
		Status:    models.CallStatusActive,
		StartedAt: &now,
	}); err != nil {
		return nil, err
	}
	if session.StartedAt == nil {
		session.StartedAt = &now
	}

	s.notifyStatus(session, session.PeerOf(userID))
	return session, nil
}

// Reject declines a ringing call; only the receiver may reject
func (s *CallService) Reject(ctx context.Context, userID, callID string) (*models.CallSession, error) {
	session, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if session.ReceiverID != userID {
		return nil, fmt.Errorf("user %s cannot reject call %s: %w", userID, callID, errs.ErrNotParticipant)
	}

	now := time.Now()
	if err := s.transition(ctx, session, models.CallStatusRejected, repository.StatusUpdate{
		Status:    models.CallStatusRejected,
		EndedAt:   &now,
		EndReason: "rejected",
	}); err != nil {
		return nil, err
	}
	session.EndedAt = &now
	session.EndReason = "rejected"

	s.disarmRingTimer(callID)
	s.notifyStatus(session, session.CallerID)

	log.Info().Str("call_id", callID).Str("user_id", userID).Msg("Call rejected")
	return session, nil
}

// Cancel withdraws an unanswered call; only the caller may cancel
func (s *CallService) Cancel(ctx context.Context, userID, callID string) (*models.CallSession, error) {
	session, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if session.CallerID != userID {
		return nil, fmt.Errorf("user %s cannot cancel call %s: %w", userID, callID, errs.ErrNotParticipant)
	}

	now := time.Now()
	if err := s.transition(ctx, session, models.CallStatusCancelled, repository.StatusUpdate{
		Status:    models.CallStatusCancelled,
		EndedAt:   &now,
		EndReason: "cancelled_by_caller",
	}); err != nil {
		return nil, err
	}
	session.EndedAt = &now
	session.EndReason = "cancelled_by_caller"

	s.disarmRingTimer(callID)
	s.notifyStatus(session, session.ReceiverID)

	log.Info().Str("call_id", callID).Str("user_id", userID).Msg("Call cancelled")
	return session, nil
}

// End hangs up a connecting or active call; either party may end
func (s *CallService) End(ctx context.Context, userID, callID string) (*models.CallSession, error) {
	session, err := s.getForParticipant(ctx, userID, callID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	duration := 0
	if session.StartedAt != nil {
		duration = int(now.Sub(*session.StartedAt).Seconds())
	}

	if err := s.transition(ctx, session, models.CallStatusEnded, repository.StatusUpdate{
		Status:          models.CallStatusEnded,
		EndedAt:         &now,
		DurationSeconds: duration,
		EndReason:       "hangup",
	}); err != nil {
		return nil, err
	}
	session.EndedAt = &now
	session.DurationSeconds = duration
	session.EndReason = "hangup"

	s.disarmRingTimer(callID)
	s.notifyStatus(session, session.PeerOf(userID))

	log.Info().
		Str("call_id", callID).
		Str("user_id", userID).
		Int("duration_seconds", duration).
		Msg("Call ended")
	return session, nil
}

// Fail marks a non-terminal call failed, reported by a client whose
// media or peer-connection setup threw after the row was created
func (s *CallService) Fail(ctx context.Context, userID, callID, reason string) (*models.CallSession, error) {
	session, err := s.getForParticipant(ctx, userID, callID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if reason == "" {
		reason = "client_failure"
	}
	if err := s.transition(ctx, session, models.CallStatusFailed, repository.StatusUpdate{
		Status:    models.CallStatusFailed,
		EndedAt:   &now,
		EndReason: reason,
	}); err != nil {
		return nil, err
	}
	session.EndedAt = &now
	session.EndReason = reason

	s.disarmRingTimer(callID)
	s.notifyStatus(session, session.PeerOf(userID))
	return session, nil
}

// Signal validates, persists and relays one signaling payload.
// Offers come from the caller, answers from the receiver, candidates from either.
func (s *CallService) Signal(ctx context.Context, userID, callID string, payload *models.SignalPayload) error {
	if payload == nil {
		return fmt.Errorf("signal payload required")
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	session, err := s.getForParticipant(ctx, userID, callID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return fmt.Errorf("call %s is %s: %w", callID, session.Status, errs.ErrCallTerminal)
	}

	switch payload.Kind {
	case models.SignalKindOffer:
		if session.CallerID != userID {
			return fmt.Errorf("only the caller may send an offer: %w", errs.ErrNotParticipant)
		}
		err = s.calls.SetOffer(ctx, callID, payload)
	case models.SignalKindAnswer:
		if session.ReceiverID != userID {
			return fmt.Errorf("only the receiver may send an answer: %w", errs.ErrNotParticipant)
		}
		err = s.calls.SetAnswer(ctx, callID, payload)
	case models.SignalKindICECandidate:
		err = s.calls.AppendICECandidate(ctx, callID, payload)
	}
	if err != nil {
		return err
	}

	peer := session.PeerOf(userID)
	if err := s.notifier.RelaySignal(peer, callID, userID, payload); err != nil {
		log.Debug().Err(err).Str("call_id", callID).Str("user_id", peer).Msg("Peer not reachable for signal relay")
	}
	return nil
}

// Get returns a session to one of its participants
func (s *CallService) Get(ctx context.Context, userID, callID string) (*models.CallSession, error) {
	return s.getForParticipant(ctx, userID, callID)
}

// History returns the user's call history with pagination
func (s *CallService) History(ctx context.Context, userID string, limit, offset int) ([]*models.CallSession, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.calls.History(ctx, userID, limit, offset)
}

// Close stops all ring timers, used on shutdown. Safe to call more than once.
func (s *CallService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, timer := range s.ringTimers {
		timer.Stop()
		delete(s.ringTimers, id)
	}
}

func (s *CallService) getForParticipant(ctx context.Context, userID, callID string) (*models.CallSession, error) {
	session, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !session.Participant(userID) {
		return nil, fmt.Errorf("user %s on call %s: %w", userID, callID, errs.ErrNotParticipant)
	}
	return session, nil
}

// transition enforces the state machine and applies the version-checked
// update, mutating the local copy on success
func (s *CallService) transition(ctx context.Context, session *models.CallSession, next models.CallStatus, upd repository.StatusUpdate) error {
	if session.Status.Terminal() {
		return fmt.Errorf("call %s is %s: %w", session.ID, session.Status, errs.ErrCallTerminal)
	}
	if !session.Status.CanTransition(next) {
		return fmt.Errorf("cannot move call %s from %s to %s: %w", session.ID, session.Status, next, errs.ErrInvalidTransition)
	}
	if err := s.calls.UpdateStatus(ctx, session.ID, session.Version, upd); err != nil {
		return err
	}
	session.Status = next
	session.Version++
	return nil
}

func (s *CallService) notifyStatus(session *models.CallSession, userID string) {
	if userID == "" {
		return
	}
	if err := s.notifier.NotifyStatus(userID, session); err != nil {
		log.Debug().Err(err).Str("call_id", session.ID).Str("user_id", userID).Msg("Peer not reachable for status notify")
	}
}

// markFailed is the compensating step of Initiate: the row was created but a
// later step failed, so the session must not stay ringing
func (s *CallService) markFailed(ctx context.Context, session *models.CallSession, reason string) {
	now := time.Now()
	err := s.calls.UpdateStatus(ctx, session.ID, session.Version, repository.StatusUpdate{
		Status:    models.CallStatusFailed,
		EndedAt:   &now,
		EndReason: reason,
	})
	if err != nil {
		log.Error().Err(err).Str("call_id", session.ID).Msg("Failed to mark call session failed")
	}
}

func (s *CallService) armRingTimer(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ringTimers[callID] = time.AfterFunc(s.ringTimeout, func() {
		s.expireRinging(callID)
	})
}

func (s *CallService) disarmRingTimer(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.ringTimers[callID]; ok {
		timer.Stop()
		delete(s.ringTimers, callID)
	}
}

// expireRinging forces an unanswered call to cancelled once the ring
// timeout elapses. The conditional update makes it a no-op when the
// session left ringing in the meantime.
func (s *CallService) expireRinging(callID string) {
	s.disarmRingTimer(callID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	expired, err := s.calls.ExpireRinging(ctx, callID, "timeout")
	if err != nil {
		log.Error().Err(err).Str("call_id", callID).Msg("Failed to expire ringing call")
		return
	}
	if !expired {
		return
	}

	log.Info().Str("call_id", callID).Msg("Unanswered call timed out")

	session, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		log.Error().Err(err).Str("call_id", callID).Msg("Failed to load expired call for notification")
		return
	}
	s.notifyStatus(session, session.CallerID)
	s.notifyStatus(session, session.ReceiverID)
}
