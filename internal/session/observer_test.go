package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/carelink/internal/model"
)

type fakeSessions struct {
	sessions map[string]*model.Session
	err      error
}

func (f *fakeSessions) GetCurrentSession(_ context.Context, id string) (*model.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions[id], nil
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
	err      error
}

func (f *fakeProfiles) FindByUserID(_ context.Context, userID string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.profiles[userID], nil
}

func (f *fakeProfiles) set(p *model.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.UserID] = p
}

type fakeIntents struct {
	latest map[string]*model.PendingIntent
}

func (f *fakeIntents) LatestPendingIntent(_ context.Context, clientID string) *model.PendingIntent {
	return f.latest[clientID]
}

type fakePolicy map[model.Role]string

func (p fakePolicy) DestinationFor(role model.Role) string { return p[role] }

type fixture struct {
	observer *Observer
	sessions *fakeSessions
	profiles *fakeProfiles
	intents  *fakeIntents
}

func newFixture() *fixture {
	f := &fixture{
		sessions: &fakeSessions{sessions: map[string]*model.Session{}},
		profiles: &fakeProfiles{profiles: map[string]*model.Profile{}},
		intents:  &fakeIntents{latest: map[string]*model.PendingIntent{}},
	}
	policy := fakePolicy{
		model.RoleFamily:       "/dashboard/family",
		model.RoleProfessional: "/dashboard/professional",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.observer = NewObserver(f.sessions, f.profiles, f.intents, policy, "/home", logger)
	return f
}

func familySession() *model.Session {
	return &model.Session{ID: "sess-1", UserID: "user-1", Role: model.RoleFamily}
}

func (f *fixture) record() *[]Transition {
	var mu sync.Mutex
	got := &[]Transition{}
	f.observer.Subscribe(func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		*got = append(*got, tr)
	})
	return got
}

func TestSnapshot_UnknownClientIsUninitialized(t *testing.T) {
	f := newFixture()
	assert.Equal(t, Uninitialized, f.observer.Snapshot("nobody").State)
}

func TestLoad_WithoutSessionBecomesAnonymous(t *testing.T) {
	f := newFixture()
	got := f.record()

	snap := f.observer.Load(context.Background(), "client-1", "")

	assert.Equal(t, Anonymous, snap.State)
	require.Len(t, *got, 2)
	assert.Equal(t, Uninitialized, (*got)[0].From)
	assert.Equal(t, Loading, (*got)[0].To)
	assert.Equal(t, Loading, (*got)[1].From)
	assert.Equal(t, Anonymous, (*got)[1].To)
}

func TestLoad_SessionLookupFailureBecomesAnonymous(t *testing.T) {
	f := newFixture()
	f.sessions.err = errors.New("db down")

	snap := f.observer.Load(context.Background(), "client-1", "sess-1")
	assert.Equal(t, Anonymous, snap.State)
}

func TestLoad_RestoresSessionWithoutSignInFlag(t *testing.T) {
	f := newFixture()
	f.sessions.sessions["sess-1"] = familySession()
	f.profiles.set(&model.Profile{UserID: "user-1", Role: model.RoleFamily, FullName: "Kim", CareRecipient: "Mother"})
	got := f.record()

	snap := f.observer.Load(context.Background(), "client-1", "sess-1")

	assert.Equal(t, Authenticated, snap.State)
	assert.Equal(t, model.RoleFamily, snap.Role)
	assert.True(t, snap.ProfileComplete)
	last := (*got)[len(*got)-1]
	assert.Equal(t, Authenticated, last.To)
	assert.False(t, last.SignedIn, "restoring a session is not a sign-in")
}

func TestNotifySignedIn_DestinationPrefersPendingIntent(t *testing.T) {
	f := newFixture()
	f.profiles.set(&model.Profile{UserID: "user-1", Role: model.RoleFamily})
	f.intents.latest["client-1"] = &model.PendingIntent{Kind: model.ActionVote, ReturnPath: "/features/dark-mode"}

	tr := f.observer.Notify(context.Background(), Event{Type: SignedIn, ClientID: "client-1", Session: familySession()})

	assert.True(t, tr.SignedIn)
	assert.Equal(t, Uninitialized, tr.From)
	assert.Equal(t, Authenticated, tr.To)
	assert.Equal(t, "/features/dark-mode", tr.Destination)
	assert.False(t, tr.ProfileComplete)
}

func TestNotifySignedIn_DestinationFromRole(t *testing.T) {
	f := newFixture()
	f.profiles.set(&model.Profile{UserID: "user-1", Role: model.RoleProfessional})
	ctx := context.Background()

	f.observer.Notify(ctx, Event{Type: SignedOut, ClientID: "client-1"})
	tr := f.observer.Notify(ctx, Event{Type: SignedIn, ClientID: "client-1", Session: familySession()})

	assert.True(t, tr.SignedIn)
	assert.Equal(t, Anonymous, tr.From)
	assert.Equal(t, model.RoleProfessional, tr.Role, "role comes from the profile store")
	assert.Equal(t, "/dashboard/professional", tr.Destination)
}

func TestNotifySignedIn_UnknownRoleUsesFallback(t *testing.T) {
	f := newFixture()
	f.profiles.err = errors.New("profiles unavailable")

	tr := f.observer.Notify(context.Background(), Event{Type: SignedIn, ClientID: "client-1", Session: familySession()})

	assert.Equal(t, Authenticated, tr.To, "profile fetch failure keeps the client authenticated")
	assert.Equal(t, model.Role(""), tr.Role)
	assert.Equal(t, "/home", tr.Destination)
	assert.Equal(t, model.Role(""), f.observer.Snapshot("client-1").Role)
}

func TestNotifySignedIn_NewSessionOverStaleAuthenticatedState(t *testing.T) {
	f := newFixture()
	f.profiles.set(&model.Profile{UserID: "user-1", Role: model.RoleFamily})
	f.profiles.set(&model.Profile{UserID: "user-2", Role: model.RoleProfessional})
	ctx := context.Background()

	first := f.observer.Notify(ctx, Event{Type: SignedIn, ClientID: "client-1", Session: familySession()})
	require.True(t, first.SignedIn)
	got := f.record()

	// 期限切れ後、SignedOutを経ずに別セッションでログインし直す
	next := &model.Session{ID: "sess-2", UserID: "user-2", Role: model.RoleProfessional}
	second := f.observer.Notify(ctx, Event{Type: SignedIn, ClientID: "client-1", Session: next})

	assert.Equal(t, Authenticated, second.From)
	assert.True(t, second.SignedIn)
	assert.False(t, second.ProfileBecameComplete)
	assert.Equal(t, "/dashboard/professional", second.Destination)
	require.Len(t, *got, 1)
	assert.True(t, (*got)[0].SignedIn)
	assert.Equal(t, "sess-2", (*got)[0].Session.ID)
	assert.Equal(t, "sess-2", f.observer.Snapshot("client-1").Session.ID)
}

func TestNotifySignedIn_SameSessionTwiceIsNotRepeated(t *testing.T) {
	f := newFixture()
	f.profiles.set(&model.Profile{UserID: "user-1", Role: model.RoleFamily})
	ctx := context.Background()

	f.observer.Notify(ctx, Event{Type: SignedIn, ClientID: "client-1", Session: familySession()})
	got := f.record()
	tr := f.observer.Notify(ctx, Event{Type: SignedIn, ClientID: "client-1", Session: familySession()})

	assert.False(t, tr.SignedIn)
	assert.Empty(t, tr.Destination)
	assert.Empty(t, *got)
}

func TestNotifySignedOut_ClearsRole(t *testing.T) {
	f := newFixture()
	f.profiles.set(&model.Profile{UserID: "user-1", Role: model.RoleCommunity, FullName: "Lee"})
	ctx := context.Background()

	f.observer.Notify(ctx, Event{Type: SignedIn, ClientID: "client-1", Session: familySession()})
	tr := f.observer.Notify(ctx, Event{Type: SignedOut, ClientID: "client-1"})

	assert.Equal(t, Authenticated, tr.From)
	assert.Equal(t, Anonymous, tr.To)
	snap := f.observer.Snapshot("client-1")
	assert.Equal(t, Anonymous, snap.State)
	assert.Nil(t, snap.Session)
	assert.Equal(t, model.Role(""), snap.Role)
	assert.False(t, snap.ProfileComplete)
}

func TestTokenRefreshed_IsNotASignIn(t *testing.T) {
	f := newFixture()
	f.profiles.set(&model.Profile{UserID: "user-1", Role: model.RoleFamily})
	ctx := context.Background()
	f.observer.Notify(ctx, Event{Type: SignedIn, ClientID: "client-1", Session: familySession()})
	got := f.record()

	tr := f.observer.Notify(ctx, Event{Type: TokenRefreshed, ClientID: "client-1"})

	assert.False(t, tr.SignedIn)
	assert.Equal(t, Authenticated, tr.From)
	assert.Empty(t, *got, "no subscriber notification without a state change")
}

func TestRefreshProfile_ReportsCompletionFlip(t *testing.T) {
	f := newFixture()
	f.profiles.set(&model.Profile{UserID: "user-1", Role: model.RoleFamily, FullName: "Kim"})
	ctx := context.Background()
	f.observer.Notify(ctx, Event{Type: SignedIn, ClientID: "client-1", Session: familySession()})
	got := f.record()

	f.profiles.set(&model.Profile{UserID: "user-1", Role: model.RoleFamily, FullName: "Kim", CareRecipient: "Father"})
	tr := f.observer.RefreshProfile(ctx, "client-1")

	assert.True(t, tr.ProfileBecameComplete)
	require.Len(t, *got, 1)
	assert.True(t, (*got)[0].ProfileBecameComplete)

	// 既に完了済みなら再通知しない
	tr = f.observer.RefreshProfile(ctx, "client-1")
	assert.False(t, tr.ProfileBecameComplete)
	assert.Len(t, *got, 1)
}

func TestRefreshUser_RefreshesEveryClientOfUser(t *testing.T) {
	f := newFixture()
	f.profiles.set(&model.Profile{UserID: "user-1", Role: model.RoleCommunity})
	ctx := context.Background()
	f.observer.Notify(ctx, Event{Type: SignedIn, ClientID: "tab-1", Session: familySession()})
	f.observer.Notify(ctx, Event{Type: SignedIn, ClientID: "tab-2", Session: familySession()})

	f.profiles.set(&model.Profile{UserID: "user-1", Role: model.RoleCommunity, FullName: "Lee"})
	f.observer.RefreshUser(ctx, "user-1")

	assert.True(t, f.observer.Snapshot("tab-1").ProfileComplete)
	assert.True(t, f.observer.Snapshot("tab-2").ProfileComplete)
}

func TestRefreshProfile_AnonymousIsNoOp(t *testing.T) {
	f := newFixture()
	tr := f.observer.RefreshProfile(context.Background(), "client-1")
	assert.Equal(t, Uninitialized, tr.To)
}

func TestSubscribe_UnsubscribeStopsDelivery(t *testing.T) {
	f := newFixture()
	count := 0
	unsubscribe := f.observer.Subscribe(func(Transition) { count++ })

	f.observer.Notify(context.Background(), Event{Type: SignedOut, ClientID: "client-1"})
	unsubscribe()
	unsubscribe()
	f.observer.Notify(context.Background(), Event{Type: SignedIn, ClientID: "client-1", Session: familySession()})

	assert.Equal(t, 1, count)
}

func TestSubscriber_CanCallObserverWithoutDeadlock(t *testing.T) {
	f := newFixture()
	var seen State
	f.observer.Subscribe(func(tr Transition) {
		seen = f.observer.Snapshot(tr.ClientID).State
	})

	done := make(chan struct{})
	go func() {
		f.observer.Notify(context.Background(), Event{Type: SignedOut, ClientID: "client-1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber callback deadlocked")
	}
	assert.Equal(t, Anonymous, seen)
}

func TestPrune_RemovesIdleClients(t *testing.T) {
	f := newFixture()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	f.observer.now = func() time.Time { return now }

	f.observer.Notify(context.Background(), Event{Type: SignedOut, ClientID: "old"})
	now = now.Add(2 * time.Hour)
	f.observer.Notify(context.Background(), Event{Type: SignedOut, ClientID: "fresh"})

	assert.Equal(t, 1, f.observer.Prune(time.Hour))
	assert.Equal(t, Uninitialized, f.observer.Snapshot("old").State)
	assert.Equal(t, Anonymous, f.observer.Snapshot("fresh").State)
}
