package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"amora-calls-backend/internal/errs"
	"amora-calls-backend/internal/models"
	"amora-calls-backend/internal/repository"
)

type fakeCallStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.CallSession
	createErr error
}

var _ CallStore = (*fakeCallStore)(nil)

func newFakeCallStore() *fakeCallStore {
	return &fakeCallStore{sessions: make(map[string]*models.CallSession)}
}

func (f *fakeCallStore) Create(_ context.Context, s *models.CallSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	s.Version = 1
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeCallStore) GetByID(_ context.Context, id string) (*models.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeCallStore) HasActiveCall(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if (s.CallerID == userID || s.ReceiverID == userID) && !s.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCallStore) History(_ context.Context, userID string, limit, offset int) ([]*models.CallSession, int, error) {
	return nil, 0, nil
}

func (f *fakeCallStore) UpdateStatus(_ context.Context, id string, expectedVersion int64, upd repository.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return errs.ErrNotFound
	}
	if s.Version != expectedVersion {
		return errs.ErrVersionConflict
	}
	s.Status = upd.Status
	s.Version++
	if upd.StartedAt != nil && s.StartedAt == nil {
		s.StartedAt = upd.StartedAt
	}
	if upd.EndedAt != nil {
		s.EndedAt = upd.EndedAt
	}
	if upd.DurationSeconds > s.DurationSeconds {
		s.DurationSeconds = upd.DurationSeconds
	}
	if upd.EndReason != "" {
		s.EndReason = upd.EndReason
	}
	return nil
}

func (f *fakeCallStore) SetOffer(_ context.Context, id string, p *models.SignalPayload) error {
	return f.setSignal(id, func(s *models.CallSession) { s.Offer = p })
}

func (f *fakeCallStore) SetAnswer(_ context.Context, id string, p *models.SignalPayload) error {
	return f.setSignal(id, func(s *models.CallSession) { s.Answer = p })
}

func (f *fakeCallStore) AppendICECandidate(_ context.Context, id string, p *models.SignalPayload) error {
	return f.setSignal(id, func(s *models.CallSession) { s.ICECandidates = append(s.ICECandidates, *p) })
}

func (f *fakeCallStore) setSignal(id string, apply func(*models.CallSession)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return errs.ErrNotFound
	}
	apply(s)
	s.Version++
	return nil
}

func (f *fakeCallStore) ExpireRinging(_ context.Context, id, endReason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != models.CallStatusRinging {
		return false, nil
	}
	now := time.Now()
	s.Status = models.CallStatusCancelled
	s.EndReason = endReason
	s.EndedAt = &now
	s.Version++
	return true, nil
}

func (f *fakeCallStore) get(t *testing.T, id string) models.CallSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	require.True(t, ok, "session %s not stored", id)
	return *s
}

func (f *fakeCallStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type statusEvent struct {
	UserID string
	Status models.CallStatus
}

type fakeNotifier struct {
	mu          sync.Mutex
	online      map[string]bool
	incoming    []string
	statuses    []statusEvent
	signals     []string
	incomingErr error
}

var _ CallNotifier = (*fakeNotifier)(nil)

func newFakeNotifier(onlineUsers ...string) *fakeNotifier {
	online := make(map[string]bool)
	for _, u := range onlineUsers {
		online[u] = true
	}
	return &fakeNotifier{online: online}
}

func (f *fakeNotifier) IsOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakeNotifier) NotifyIncoming(userID string, _ *models.CallSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incomingErr != nil {
		return f.incomingErr
	}
	f.incoming = append(f.incoming, userID)
	return nil
}

func (f *fakeNotifier) NotifyStatus(userID string, session *models.CallSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusEvent{UserID: userID, Status: session.Status})
	return nil
}

func (f *fakeNotifier) RelaySignal(userID, _, _ string, _ *models.SignalPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, userID)
	return nil
}

func (f *fakeNotifier) lastStatus() (statusEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return statusEvent{}, false
	}
	return f.statuses[len(f.statuses)-1], true
}

type fakePerms struct {
	allow    bool
	allowErr error
	notif    bool
	notifErr error
}

var _ PermissionChecker = (*fakePerms)(nil)

func (f *fakePerms) CheckCallPermission(context.Context, string, string) (bool, error) {
	return f.allow, f.allowErr
}

func (f *fakePerms) NotificationsEnabled(context.Context, string) (bool, error) {
	return f.notif, f.notifErr
}

type fakeUsers struct {
	users map[string]*models.User
}

var _ UserStore = (*fakeUsers)(nil)

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return u, nil
}

type fakePush struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

var _ PushSender = (*fakePush)(nil)

func (f *fakePush) SendIncomingCall(_ context.Context, deviceToken string, _ *models.CallSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tokens = append(f.tokens, deviceToken)
	return nil
}

type callServiceFixture struct {
	svc      *CallService
	store    *fakeCallStore
	notifier *fakeNotifier
	perms    *fakePerms
	push     *fakePush
}

func newCallServiceFixture(t *testing.T, onlineUsers ...string) *callServiceFixture {
	t.Helper()
	store := newFakeCallStore()
	notifier := newFakeNotifier(onlineUsers...)
	perms := &fakePerms{allow: true, notif: true}
	push := &fakePush{}
	token := "device-token"
	users := &fakeUsers{users: map[string]*models.User{
		"u1": {ID: "u1"},
		"u2": {ID: "u2", PushToken: &token},
	}}
	svc := NewCallService(store, users, perms, notifier, push, time.Minute)
	t.Cleanup(svc.Close)
	return &callServiceFixture{svc: svc, store: store, notifier: notifier, perms: perms, push: push}
}

func TestCallService_Initiate_PermissionDenied(t *testing.T) {
	f := newCallServiceFixture(t, "u2")
	f.perms.allow = false

	_, err := f.svc.Initiate(context.Background(), "u1", "u2", models.CallTypeVideo)
	require.ErrorIs(t, err, errs.ErrCallNotAllowed)
	require.Equal(t, 0, f.store.count(), "denied call must not create a session row")
	require.Empty(t, f.notifier.incoming)
}

func TestCallService_Initiate_HappyPath(t *testing.T) {
	f := newCallServiceFixture(t, "u2")

	session, err := f.svc.Initiate(context.Background(), "u1", "u2", models.CallTypeVideo)
	require.NoError(t, err)
	require.Equal(t, "u1", session.CallerID)
	require.Equal(t, "u2", session.ReceiverID)
	require.Equal(t, models.CallTypeVideo, session.CallType)
	require.Equal(t, models.CallStatusRinging, session.Status)

	stored := f.store.get(t, session.ID)
	require.Equal(t, models.CallStatusRinging, stored.Status)
	require.Equal(t, []string{"u2"}, f.notifier.incoming)
	require.Empty(t, f.push.tokens, "online receiver must not get a push")
}

func TestCallService_Initiate_ReceiverBusy(t *testing.T) {
	f := newCallServiceFixture(t, "u2")

	_, err := f.svc.Initiate(context.Background(), "u1", "u2", models.CallTypeAudio)
	require.NoError(t, err)

	_, err = f.svc.Initiate(context.Background(), "u3", "u2", models.CallTypeAudio)
	require.ErrorIs(t, err, errs.ErrReceiverBusy)
	require.Equal(t, 1, f.store.count())
}

func TestCallService_Initiate_InvalidInput(t *testing.T) {
	f := newCallServiceFixture(t)

	_, err := f.svc.Initiate(context.Background(), "u1", "u1", models.CallTypeAudio)
	require.Error(t, err)

	_, err = f.svc.Initiate(context.Background(), "u1", "u2", models.CallType("screen"))
	require.Error(t, err)
	require.Equal(t, 0, f.store.count())
}

func TestCallService_Initiate_PushWhenOffline(t *testing.T) {
	f := newCallServiceFixture(t) // receiver offline

	_, err := f.svc.Initiate(context.Background(), "u1", "u2", models.CallTypeAudio)
	require.NoError(t, err)
	require.Empty(t, f.notifier.incoming)
	require.Equal(t, []string{"device-token"}, f.push.tokens)
}

func TestCallService_Initiate_FailureAfterCreateMarksFailed(t *testing.T) {
	f := newCallServiceFixture(t) // receiver offline, push path taken
	f.perms.notifErr = errors.New("prefs store down")

	_, err := f.svc.Initiate(context.Background(), "u1", "u2", models.CallTypeAudio)
	require.Error(t, err)
	require.Equal(t, 1, f.store.count())
	for id := range f.store.sessions {
		stored := f.store.get(t, id)
		require.Equal(t, models.CallStatusFailed, stored.Status, "row must not stay ringing after a failed step")
		require.NotNil(t, stored.EndedAt)
	}
}

func TestCallService_AnswerFlow(t *testing.T) {
	f := newCallServiceFixture(t, "u1", "u2")
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, "u1", "u2", models.CallTypeVideo)
	require.NoError(t, err)

	answered, err := f.svc.Answer(ctx, "u2", session.ID)
	require.NoError(t, err)
	require.Equal(t, models.CallStatusConnecting, answered.Status)

	ev, ok := f.notifier.lastStatus()
	require.True(t, ok)
	require.Equal(t, "u1", ev.UserID, "caller must learn about the answer")
	require.Equal(t, models.CallStatusConnecting, ev.Status)

	active, err := f.svc.MarkActive(ctx, "u2", session.ID)
	require.NoError(t, err)
	require.Equal(t, models.CallStatusActive, active.Status)
	require.NotNil(t, active.StartedAt)

	stored := f.store.get(t, session.ID)
	require.Equal(t, models.CallStatusActive, stored.Status)
	require.NotNil(t, stored.StartedAt)
}

func TestCallService_Answer_OnlyReceiver(t *testing.T) {
	f := newCallServiceFixture(t, "u2")
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, "u1", "u2", models.CallTypeAudio)
	require.NoError(t, err)

	_, err = f.svc.Answer(ctx, "u1", session.ID)
	require.ErrorIs(t, err, errs.ErrNotParticipant)

	_, err = f.svc.Answer(ctx, "u3", session.ID)
	require.ErrorIs(t, err, errs.ErrNotParticipant)
}

func TestCallService_Reject(t *testing.T) {
	f := newCallServiceFixture(t, "u1", "u2")
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, "u1", "u2", models.CallTypeVideo)
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, "u2", session.ID)
	require.NoError(t, err)
	require.Equal(t, models.CallStatusRejected, rejected.Status)
	require.NotNil(t, rejected.EndedAt)

	ev, ok := f.notifier.lastStatus()
	require.True(t, ok)
	require.Equal(t, "u1", ev.UserID)
	require.Equal(t, models.CallStatusRejected, ev.Status)

	// Terminal states are sticky
	_, err = f.svc.Answer(ctx, "u2", session.ID)
	require.ErrorIs(t, err, errs.ErrCallTerminal)
	_, err = f.svc.End(ctx, "u1", session.ID)
	require.ErrorIs(t, err, errs.ErrCallTerminal)
}

func TestCallService_Cancel_OnlyCaller(t *testing.T) {
	f := newCallServiceFixture(t, "u2")
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, "u1", "u2", models.CallTypeAudio)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, "u2", session.ID)
	require.ErrorIs(t, err, errs.ErrNotParticipant)

	cancelled, err := f.svc.Cancel(ctx, "u1", session.ID)
	require.NoError(t, err)
	require.Equal(t, models.CallStatusCancelled, cancelled.Status)
	require.Equal(t, "cancelled_by_caller", cancelled.EndReason)
}

func TestCallService_End_SetsDuration(t *testing.T) {
	f := newCallServiceFixture(t, "u1", "u2")
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, "u1", "u2", models.CallTypeAudio)
	require.NoError(t, err)
	_, err = f.svc.Answer(ctx, "u2", session.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkActive(ctx, "u1", session.ID)
	require.NoError(t, err)

	ended, err := f.svc.End(ctx, "u2", session.ID)
	require.NoError(t, err)
	require.Equal(t, models.CallStatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	require.GreaterOrEqual(t, ended.DurationSeconds, 0)

	stored := f.store.get(t, session.ID)
	require.Equal(t, models.CallStatusEnded, stored.Status)
}

func TestCallService_Signal(t *testing.T) {
	f := newCallServiceFixture(t, "u1", "u2")
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, "u1", "u2", models.CallTypeVideo)
	require.NoError(t, err)

	offer := &models.SignalPayload{Kind: models.SignalKindOffer, SDP: "v=0 caller"}
	require.NoError(t, f.svc.Signal(ctx, "u1", session.ID, offer))

	// Offers only come from the caller
	err = f.svc.Signal(ctx, "u2", session.ID, offer)
	require.ErrorIs(t, err, errs.ErrNotParticipant)

	answer := &models.SignalPayload{Kind: models.SignalKindAnswer, SDP: "v=0 receiver"}
	require.NoError(t, f.svc.Signal(ctx, "u2", session.ID, answer))

	candidate := &models.SignalPayload{Kind: models.SignalKindICECandidate, Candidate: "candidate:1"}
	require.NoError(t, f.svc.Signal(ctx, "u1", session.ID, candidate))
	require.NoError(t, f.svc.Signal(ctx, "u2", session.ID, candidate))

	stored := f.store.get(t, session.ID)
	require.NotNil(t, stored.Offer)
	require.NotNil(t, stored.Answer)
	require.Len(t, stored.ICECandidates, 2)
	require.Equal(t, []string{"u2", "u1", "u2", "u1"}, f.notifier.signals)

	require.Error(t, f.svc.Signal(ctx, "u1", session.ID, &models.SignalPayload{Kind: models.SignalKindOffer}))

	_, err = f.svc.Reject(ctx, "u2", session.ID)
	require.NoError(t, err)
	err = f.svc.Signal(ctx, "u1", session.ID, candidate)
	require.ErrorIs(t, err, errs.ErrCallTerminal)
}

func TestCallService_RingTimeout(t *testing.T) {
	store := newFakeCallStore()
	notifier := newFakeNotifier("u1", "u2")
	svc := NewCallService(store, &fakeUsers{}, &fakePerms{allow: true, notif: true}, notifier, nil, 20*time.Millisecond)
	defer svc.Close()

	session, err := svc.Initiate(context.Background(), "u1", "u2", models.CallTypeAudio)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.get(t, session.ID).Status == models.CallStatusCancelled
	}, time.Second, 5*time.Millisecond, "unanswered call must time out to cancelled")

	stored := store.get(t, session.ID)
	require.Equal(t, "timeout", stored.EndReason)
	require.NotNil(t, stored.EndedAt)

	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.statuses) == 2
	}, time.Second, 5*time.Millisecond, "both parties must learn about the timeout")

	_, err = svc.Answer(context.Background(), "u2", session.ID)
	require.ErrorIs(t, err, errs.ErrCallTerminal)
}

func TestCallService_AnswerDisarmsRingTimer(t *testing.T) {
	store := newFakeCallStore()
	notifier := newFakeNotifier("u1", "u2")
	svc := NewCallService(store, &fakeUsers{}, &fakePerms{allow: true, notif: true}, notifier, nil, 30*time.Millisecond)
	defer svc.Close()

	session, err := svc.Initiate(context.Background(), "u1", "u2", models.CallTypeAudio)
	require.NoError(t, err)
	_, err = svc.Answer(context.Background(), "u2", session.ID)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, models.CallStatusConnecting, store.get(t, session.ID).Status)
}

func TestCallService_CloseStopsTimers(t *testing.T) {
	store := newFakeCallStore()
	notifier := newFakeNotifier("u2")
	svc := NewCallService(store, &fakeUsers{}, &fakePerms{allow: true, notif: true}, notifier, nil, 20*time.Millisecond)

	session, err := svc.Initiate(context.Background(), "u1", "u2", models.CallTypeAudio)
	require.NoError(t, err)

	svc.Close()
	svc.Close() // idempotent

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, models.CallStatusRinging, store.get(t, session.ID).Status)
}
