package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joeblew999/geo-coverage/internal/auth"
	"github.com/joeblew999/geo-coverage/internal/coverage"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubCatalog struct{ tokens *auth.TokenStore }

func (c stubCatalog) Tables(ctx context.Context, parent string) ([]string, error) {
	return []string{"hospitals"}, nil
}

func (c stubCatalog) Collection(ctx context.Context, table string) (*coverage.Collection, error) {
	return &coverage.Collection{Variables: []coverage.Variable{
		{Name: "lat", Type: coverage.TypeFloat},
		{Name: "lng", Type: coverage.TypeFloat},
	}}, nil
}

type stubMaps struct{}

func (stubMaps) Map(ctx context.Context, opts coverage.MapOptions) (*coverage.MapData, error) {
	return coverage.NewMapData(nil), nil
}

func newTestService(t *testing.T, max int) *SessionService {
	t.Helper()
	cfg := coverage.DefaultConfig()
	cfg.InputDelay = 10 * time.Millisecond
	cfg.MapDelay = 10 * time.Millisecond
	s := NewSessionService(cfg,
		func(tokens *auth.TokenStore) coverage.Catalog { return stubCatalog{tokens: tokens} },
		func(*auth.TokenStore) coverage.MapSource { return stubMaps{} },
		max,
	)
	t.Cleanup(s.Close)
	return s
}

func TestSessionService_CreateGetDelete(t *testing.T) {
	s := newTestService(t, 0)

	sess, err := s.Create()
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Len(t, s.List(), 1)

	require.NoError(t, s.Delete(sess.ID))
	_, err = s.Get(sess.ID)
	assert.True(t, eris.Is(err, ErrSessionNotFound))

	err = s.Delete(sess.ID)
	assert.True(t, eris.Is(err, ErrSessionNotFound))
	assert.Empty(t, s.List())
}

func TestSessionService_PublishesControllerChanges(t *testing.T) {
	s := newTestService(t, 0)
	ch := s.Bus().Subscribe()
	defer s.Bus().Unsubscribe(ch)

	sess, err := s.Create()
	require.NoError(t, err)

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[ActionUpdated] {
		select {
		case ev := <-ch:
			assert.Equal(t, sess.ID, ev.Session)
			seen[ev.Action] = true
		case <-deadline:
			t.Fatal("no update event")
		}
	}
	assert.True(t, seen[ActionCreated])

	require.Eventually(t, func() bool {
		st := sess.Controller.Snapshot()
		return st.Indicators.Latitude == "lat" && st.Indicators.Longitude == "lng"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionService_SessionsAreIsolated(t *testing.T) {
	s := newTestService(t, 0)
	a, err := s.Create()
	require.NoError(t, err)
	b, err := s.Create()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	require.NoError(t, a.Auth.Authorize(auth.Token{AccessToken: "x", ExpiresAt: time.Now().Add(time.Hour).Unix()}))
	assert.True(t, a.Info().Authorized)
	assert.False(t, b.Info().Authorized)

	a.Controller.SetTable("other")
	assert.Equal(t, "other", a.Controller.Snapshot().Source.Table)
	assert.Equal(t, coverage.DefaultSource().Table, b.Controller.Snapshot().Source.Table)
}

func TestSessionService_Limit(t *testing.T) {
	s := newTestService(t, 1)
	_, err := s.Create()
	require.NoError(t, err)
	_, err = s.Create()
	assert.True(t, eris.Is(err, ErrTooManySessions))
}

func TestSessionService_CloseAll(t *testing.T) {
	s := newTestService(t, 0)
	a, err := s.Create()
	require.NoError(t, err)
	require.NoError(t, a.Auth.Authorize(auth.Token{AccessToken: "x", ExpiresAt: time.Now().Add(time.Hour).Unix()}))

	s.Close()
	assert.Empty(t, s.List())
	assert.False(t, a.Auth.IsAuthorized())
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	bus.Publish(Event{Session: "a", Action: ActionCreated})
	assert.Equal(t, Event{Session: "a", Action: ActionCreated}, <-ch)

	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	// Publishing with no subscribers and to a full subscriber never blocks.
	bus.Publish(Event{Session: "b"})
	full := bus.Subscribe()
	for i := 0; i < 20; i++ {
		bus.Publish(Event{Session: "c"})
	}
	assert.Len(t, full, 16)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestSessionService_ReapIdle(t *testing.T) {
	s := newTestService(t, 2)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.Now

	idle, err := s.Create()
	require.NoError(t, err)
	used, err := s.Create()
	require.NoError(t, err)
	watched, err := s.Create()
	assert.True(t, eris.Is(err, ErrTooManySessions))
	assert.Nil(t, watched)

	clock.Advance(20 * time.Minute)
	_, err = s.Get(used.ID)
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)

	assert.Equal(t, 1, s.Reap(30*time.Minute))
	_, err = s.Get(idle.ID)
	assert.True(t, eris.Is(err, ErrSessionNotFound))
	_, err = s.Get(used.ID)
	assert.NoError(t, err)

	// The freed slot can be used again.
	watched, err = s.Create()
	require.NoError(t, err)
	detach := watched.Attach()
	clock.Advance(time.Hour)

	assert.Equal(t, 1, s.Reap(30*time.Minute))
	_, err = s.Get(watched.ID)
	require.NoError(t, err)

	detach()
	detach()
	clock.Advance(time.Hour)
	assert.Equal(t, 1, s.Reap(30*time.Minute))
	assert.Empty(t, s.List())
}

func TestSessionService_RunReaper(t *testing.T) {
	s := newTestService(t, 0)
	sess, err := s.Create()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunReaper(ctx, time.Millisecond, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(s.List()) == 0 }, 2*time.Second, 5*time.Millisecond)
	_, err = s.Get(sess.ID)
	assert.True(t, eris.Is(err, ErrSessionNotFound))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}

	// Disabled reaping returns immediately.
	s.RunReaper(context.Background(), 0, time.Millisecond)
}
