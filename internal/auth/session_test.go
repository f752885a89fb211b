package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/plansite/internal/testdb"
)

// TestSessionID_HighEntropy tests that session IDs never collide and have full length.
func TestSessionID_HighEntropy(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		id1, err := generateSessionID()
		if err != nil {
			t.Fatalf("first generateSessionID failed: %v", err)
		}
		id2, err := generateSessionID()
		if err != nil {
			t.Fatalf("second generateSessionID failed: %v", err)
		}
		if id1 == id2 {
			t.Fatalf("session IDs collided: %s", id1)
		}
		// base64 of 32 bytes with padding
		if len(id1) != 44 {
			t.Fatalf("session ID length %d, want 44", len(id1))
		}
	})
}

func newTestSessionService(t *testing.T) (*SessionService, *FakeClock, string) {
	t.Helper()
	database := testdb.New(t)

	users := NewUserService(database, FakeInsecureHasher{})
	user, err := users.Register(context.Background(), "s@example.com", "password123")
	require.NoError(t, err)

	clock := NewFakeClock(time.Unix(1_700_000_000, 0))
	svc := NewSessionService(database, time.Hour, false)
	svc.SetClock(clock)
	return svc, clock, user.ID
}

func TestSessionService_Lifecycle(t *testing.T) {
	svc, clock, userID := newTestSessionService(t)
	ctx := context.Background()

	sid, err := svc.Create(ctx, userID)
	require.NoError(t, err)

	got, err := svc.Validate(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, userID, got)

	clock.Advance(2 * time.Hour)
	_, err = svc.Validate(ctx, sid)
	require.ErrorIs(t, err, ErrSessionNotFound)

	n, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestSessionService_DeleteByUserID(t *testing.T) {
	svc, _, userID := newTestSessionService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, userID)
	require.NoError(t, err)
	b, err := svc.Create(ctx, userID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteByUserID(ctx, userID))
	for _, sid := range []string{a, b} {
		_, err := svc.Validate(ctx, sid)
		require.ErrorIs(t, err, ErrSessionNotFound)
	}
}

func TestSessionCookie_Attributes(t *testing.T) {
	svc := NewSessionService(nil, time.Hour, true)
	rec := httptest.NewRecorder()
	svc.SetCookie(rec, "abc")

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	require.Equal(t, SessionCookieName, c.Name)
	require.True(t, c.HttpOnly)
	require.True(t, c.Secure)
	require.Equal(t, http.SameSiteLaxMode, c.SameSite)
	require.Equal(t, 3600, c.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	sid, err := GetFromRequest(req)
	require.NoError(t, err)
	require.Equal(t, "abc", sid)

	_, err = GetFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	require.ErrorIs(t, err, ErrSessionNotFound)
}
