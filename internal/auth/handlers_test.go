package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/plansite/internal/testdb"
)

type authFixture struct {
	mux      *http.ServeMux
	users    *UserService
	sessions *SessionService
	hooked   []string
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	database := testdb.New(t)

	f := &authFixture{
		mux:      http.NewServeMux(),
		users:    NewUserService(database, FakeInsecureHasher{}),
		sessions: NewSessionService(database, time.Hour, false),
	}
	h := NewHandler(f.users, f.sessions)
	h.SetRegisterHook(func(_ context.Context, u *User) error {
		f.hooked = append(f.hooked, u.Email)
		return nil
	})
	h.RegisterRoutes(f.mux)

	mw := NewMiddleware(f.sessions)
	f.mux.Handle("GET /account", mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("user=" + GetUserID(r.Context())))
	})))
	return f
}

func postForm(mux http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleLogin_FormSuccessRedirectsToAccount(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.users.Register(context.Background(), "a@example.com", "password123")
	require.NoError(t, err)

	rec := postForm(f.mux, "/auth/login", url.Values{"email": {"a@example.com"}, "password": {"password123"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/account", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/account", nil)
	req.AddCookie(cookies[0])
	acct := httptest.NewRecorder()
	f.mux.ServeHTTP(acct, req)
	require.Equal(t, http.StatusOK, acct.Code)
	require.True(t, strings.HasPrefix(acct.Body.String(), "user="))
}

func TestHandleLogin_FormFailureRedirectsWithError(t *testing.T) {
	f := newAuthFixture(t)

	rec := postForm(f.mux, "/auth/login", url.Values{"email": {"a@example.com"}, "password": {"nope12345"}, "next": {"/pricing"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/login", loc.Path)
	require.Equal(t, "invalid email or password", loc.Query().Get("error"))
	require.Equal(t, "a@example.com", loc.Query().Get("email"))
	require.Equal(t, "/pricing", loc.Query().Get("next"))
	require.Empty(t, rec.Result().Cookies())
}

func TestHandleRegister_JSON(t *testing.T) {
	f := newAuthFixture(t)

	body := `{"email":"new@example.com","password":"password123"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "new@example.com", resp["email"])
	require.Equal(t, []string{"new@example.com"}, f.hooked)

	// Duplicate registration maps to 409 with a coded body.
	req = httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"failed_precondition"`)
}

func TestRequireAuth_RedirectsAnonymousBrowser(t *testing.T) {
	f := newAuthFixture(t)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/login?next=%2Faccount", rec.Header().Get("Location"))
}

func TestHandleLogout_ClearsSession(t *testing.T) {
	f := newAuthFixture(t)
	user, err := f.users.Register(context.Background(), "out@example.com", "password123")
	require.NoError(t, err)
	sid, err := f.sessions.Create(context.Background(), user.ID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sid})
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	_, err = f.sessions.Validate(context.Background(), sid)
	require.ErrorIs(t, err, ErrSessionNotFound)
}
